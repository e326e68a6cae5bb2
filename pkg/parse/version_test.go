package parse_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sanctionswatch/core/pkg/parse"
	"github.com/sanctionswatch/core/pkg/sanctions"
)

func TestCheckVersion_EmptyObservedIsAlwaysAccepted(t *testing.T) {
	assert.NoError(t, parse.CheckVersion(sanctions.SourceOFAC, ""))
}

func TestCheckVersion_UnregisteredSourceIsAlwaysAccepted(t *testing.T) {
	assert.NoError(t, parse.CheckVersion(sanctions.Source("UNKNOWN"), "5.0.0"))
}

func TestCheckVersion_WithinConstraintIsAccepted(t *testing.T) {
	assert.NoError(t, parse.CheckVersion(sanctions.SourceOFAC, "1.2.0"))
}

func TestCheckVersion_OutsideConstraintIsRejected(t *testing.T) {
	err := parse.CheckVersion(sanctions.SourceOFAC, "2.0.0")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "does not satisfy")
}

func TestCheckVersion_UnparsableVersionIsRejected(t *testing.T) {
	err := parse.CheckVersion(sanctions.SourceOFAC, "not-a-version")
	assert.Error(t, err)
}
