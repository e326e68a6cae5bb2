package auditchain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanctionswatch/core/pkg/sanctions"
)

// TestChain_Verify_DetectsBrokenLink whiteboxes a rewritten entry's PrevHash
// (the shape underlying-storage corruption or a restored stale backup would
// take) and confirms Verify flags it rather than silently accepting it.
func TestChain_Verify_DetectsBrokenLink(t *testing.T) {
	chain := NewChain(sanctions.SourceOFAC)
	_, err := chain.Append("run-1", []*sanctions.ChangeEvent{{EventID: "e1", RiskLevel: sanctions.RiskHigh}})
	require.NoError(t, err)
	_, err = chain.Append("run-2", []*sanctions.ChangeEvent{{EventID: "e2", RiskLevel: sanctions.RiskHigh}})
	require.NoError(t, err)

	chain.entries[1].PrevHash = "tampered"

	ok, msg := chain.Verify()
	assert.False(t, ok)
	assert.Contains(t, msg, "chain broken at entry 2")
}

// TestChain_Verify_DetectsContentTampering whiteboxes a rewrite of an
// entry's EventIDs (its PrevHash/Sequence/RunID left untouched, so the
// link-continuity check alone would miss it) and confirms Verify catches
// the recomputed-hash mismatch.
func TestChain_Verify_DetectsContentTampering(t *testing.T) {
	chain := NewChain(sanctions.SourceOFAC)
	_, err := chain.Append("run-1", []*sanctions.ChangeEvent{{EventID: "e1", RiskLevel: sanctions.RiskHigh}})
	require.NoError(t, err)

	chain.entries[0].EventIDs = []string{"forged-event"}

	ok, msg := chain.Verify()
	assert.False(t, ok)
	assert.Contains(t, msg, "hash mismatch at entry 1")
}
