package risk_test

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanctionswatch/core/pkg/diff"
	"github.com/sanctionswatch/core/pkg/risk"
	"github.com/sanctionswatch/core/pkg/sanctions"
)

func newClassifier(t *testing.T) *risk.Classifier {
	t.Helper()
	cl, err := risk.New()
	require.NoError(t, err)
	return cl
}

func TestClassify_Removed_AlwaysCritical(t *testing.T) {
	cl := newClassifier(t)
	c := diff.Change{EntityUID: "u1", ChangeType: sanctions.ChangeRemoved}
	assert.Equal(t, sanctions.RiskCritical, cl.Classify(c, nil))
}

func TestClassify_Added_HighRiskProgramIsCritical(t *testing.T) {
	cl := newClassifier(t)
	c := diff.Change{EntityUID: "u1", ChangeType: sanctions.ChangeAdded}
	entity := &sanctions.SanctionedEntity{
		EntityType: sanctions.EntityCompany,
		Programs:   []string{"SDGT"},
	}
	assert.Equal(t, sanctions.RiskCritical, cl.Classify(c, entity))
}

func TestClassify_Added_PersonWithoutHighRiskProgramIsHigh(t *testing.T) {
	cl := newClassifier(t)
	c := diff.Change{EntityUID: "u1", ChangeType: sanctions.ChangeAdded}
	entity := &sanctions.SanctionedEntity{
		EntityType: sanctions.EntityPerson,
		Programs:   []string{"SOMEOTHER"},
	}
	assert.Equal(t, sanctions.RiskHigh, cl.Classify(c, entity))
}

func TestClassify_Added_CompanyWithoutHighRiskProgramIsMedium(t *testing.T) {
	cl := newClassifier(t)
	c := diff.Change{EntityUID: "u1", ChangeType: sanctions.ChangeAdded}
	entity := &sanctions.SanctionedEntity{
		EntityType: sanctions.EntityCompany,
		Programs:   []string{"SOMEOTHER"},
	}
	assert.Equal(t, sanctions.RiskMedium, cl.Classify(c, entity))
}

func TestClassify_Modified_NameChangeIsCritical(t *testing.T) {
	cl := newClassifier(t)
	c := diff.Change{
		EntityUID:  "u1",
		ChangeType: sanctions.ChangeModified,
		FieldChanges: []sanctions.FieldChange{
			{FieldName: "name", Kind: sanctions.FieldModified},
		},
	}
	assert.Equal(t, sanctions.RiskCritical, cl.Classify(c, nil))
}

func TestClassify_Modified_ProgramsChangeIsCritical(t *testing.T) {
	cl := newClassifier(t)
	c := diff.Change{
		EntityUID:  "u1",
		ChangeType: sanctions.ChangeModified,
		FieldChanges: []sanctions.FieldChange{
			{FieldName: "programs", Kind: sanctions.FieldModified},
		},
	}
	assert.Equal(t, sanctions.RiskCritical, cl.Classify(c, nil))
}

func TestClassify_Modified_AddressChangeIsHigh(t *testing.T) {
	cl := newClassifier(t)
	c := diff.Change{
		EntityUID:  "u1",
		ChangeType: sanctions.ChangeModified,
		FieldChanges: []sanctions.FieldChange{
			{FieldName: "addresses", Kind: sanctions.FieldModified},
		},
	}
	assert.Equal(t, sanctions.RiskHigh, cl.Classify(c, nil))
}

func TestClassify_Modified_RemarksAloneIsMedium(t *testing.T) {
	cl := newClassifier(t)
	c := diff.Change{
		EntityUID:  "u1",
		ChangeType: sanctions.ChangeModified,
		FieldChanges: []sanctions.FieldChange{
			{FieldName: "remarks", Kind: sanctions.FieldModified},
		},
	}
	assert.Equal(t, sanctions.RiskMedium, cl.Classify(c, nil))
}

func TestClassify_Modified_ThreeOrMoreFieldsIsAtLeastMedium(t *testing.T) {
	cl := newClassifier(t)
	c := diff.Change{
		EntityUID:  "u1",
		ChangeType: sanctions.ChangeModified,
		FieldChanges: []sanctions.FieldChange{
			{FieldName: "aliases", Kind: sanctions.FieldModified},
			{FieldName: "nationalities", Kind: sanctions.FieldModified},
			{FieldName: "entity_type", Kind: sanctions.FieldModified},
		},
	}
	// entity_type is in the critical set, so three mixed fields that include
	// it still resolve to CRITICAL; this exercises the tier-ordering, not
	// just the medium floor.
	assert.Equal(t, sanctions.RiskCritical, cl.Classify(c, nil))
}

func TestClassify_Modified_OnlyEmptyFieldSetIsLow(t *testing.T) {
	cl := newClassifier(t)
	c := diff.Change{
		EntityUID:  "u1",
		ChangeType: sanctions.ChangeModified,
		FieldChanges: []sanctions.FieldChange{
			{FieldName: "remarks", Kind: sanctions.FieldModified},
		},
	}
	assert.NotEqual(t, sanctions.RiskLow, cl.Classify(c, nil))

	empty := diff.Change{EntityUID: "u1", ChangeType: sanctions.ChangeModified}
	assert.Equal(t, sanctions.RiskLow, cl.Classify(empty, nil))
}

// TestClassify_Monotonic checks spec §8's risk-monotonicity invariant: adding
// more changed fields to a MODIFIED change never lowers the assigned risk
// tier relative to a subset of those same fields.
func TestClassify_Monotonic(t *testing.T) {
	cl := newClassifier(t)
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	props := gopter.NewProperties(parameters)

	fieldGen := gen.OneConstOf(
		"name", "entity_type", "programs", "aliases", "addresses", "nationalities", "remarks",
	)

	props.Property("classify is monotonic under field-set superset", prop.ForAll(
		func(subset, extra []string) bool {
			full := append(append([]string{}, subset...), extra...)

			base := cl.Classify(changeWithFields(subset), nil)
			grown := cl.Classify(changeWithFields(full), nil)

			return rank(grown) >= rank(base)
		},
		gen.SliceOf(fieldGen),
		gen.SliceOf(fieldGen),
	))

	props.TestingRun(t)
}

func changeWithFields(fields []string) diff.Change {
	fcs := make([]sanctions.FieldChange, 0, len(fields))
	for _, f := range fields {
		fcs = append(fcs, sanctions.FieldChange{FieldName: f, Kind: sanctions.FieldModified})
	}
	return diff.Change{EntityUID: "u1", ChangeType: sanctions.ChangeModified, FieldChanges: fcs}
}

func rank(level sanctions.RiskLevel) int {
	switch level {
	case sanctions.RiskLow:
		return 0
	case sanctions.RiskMedium:
		return 1
	case sanctions.RiskHigh:
		return 2
	case sanctions.RiskCritical:
		return 3
	default:
		return -1
	}
}
