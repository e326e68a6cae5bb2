package diff_test

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanctionswatch/core/pkg/diff"
	"github.com/sanctionswatch/core/pkg/sanctions"
)

func entity(uid, name string, programs ...string) *sanctions.SanctionedEntity {
	e := &sanctions.SanctionedEntity{
		UID:        uid,
		Source:     sanctions.SourceOFAC,
		EntityType: sanctions.EntityPerson,
		Name:       name,
		Programs:   programs,
	}
	if err := e.Canonicalize(); err != nil {
		panic(err)
	}
	return e
}

func TestDiff_Added(t *testing.T) {
	changes := diff.Diff(nil, []*sanctions.SanctionedEntity{entity("u1", "Jane Doe", "SDGT")})
	require.Len(t, changes, 1)
	assert.Equal(t, sanctions.ChangeAdded, changes[0].ChangeType)
	assert.Equal(t, "u1", changes[0].EntityUID)
	assert.NotEmpty(t, changes[0].NewContentHash)
	assert.Empty(t, changes[0].OldContentHash)
}

func TestDiff_Removed(t *testing.T) {
	changes := diff.Diff([]*sanctions.SanctionedEntity{entity("u1", "Jane Doe")}, nil)
	require.Len(t, changes, 1)
	assert.Equal(t, sanctions.ChangeRemoved, changes[0].ChangeType)
	assert.NotEmpty(t, changes[0].OldContentHash)
}

func TestDiff_ModifiedNameChange(t *testing.T) {
	old := []*sanctions.SanctionedEntity{entity("u1", "Jane Doe")}
	updated := []*sanctions.SanctionedEntity{entity("u1", "Jane R. Doe")}

	changes := diff.Diff(old, updated)
	require.Len(t, changes, 1)
	assert.Equal(t, sanctions.ChangeModified, changes[0].ChangeType)
	require.Len(t, changes[0].FieldChanges, 1)
	assert.Equal(t, "name", changes[0].FieldChanges[0].FieldName)
}

func TestDiff_NoChangeProducesNothing(t *testing.T) {
	old := []*sanctions.SanctionedEntity{entity("u1", "Jane Doe")}
	same := []*sanctions.SanctionedEntity{entity("u1", "Jane Doe")}

	changes := diff.Diff(old, same)
	assert.Empty(t, changes)
}

func TestDiff_ProgramSetOrderInsensitive(t *testing.T) {
	old := []*sanctions.SanctionedEntity{entity("u1", "Jane Doe", "SDGT", "CYBER")}
	reordered := []*sanctions.SanctionedEntity{entity("u1", "Jane Doe", "CYBER", "SDGT")}

	changes := diff.Diff(old, reordered)
	assert.Empty(t, changes, "set-valued field reordering must not be reported as a change")
}

func TestDiff_StableOrdering(t *testing.T) {
	old := []*sanctions.SanctionedEntity{}
	updated := []*sanctions.SanctionedEntity{
		entity("z1", "Z Name"),
		entity("a1", "A Name"),
		entity("m1", "M Name"),
	}

	changes := diff.Diff(old, updated)
	require.Len(t, changes, 3)
	assert.Equal(t, "a1", changes[0].EntityUID)
	assert.Equal(t, "m1", changes[1].EntityUID)
	assert.Equal(t, "z1", changes[2].EntityUID)
}

// TestDiff_Properties exercises the completeness/soundness/purity invariants
// spec.md §8 names: every entity present in exactly one input is reported,
// no entity absent from both appears, and calling Diff twice over the same
// inputs yields the same result (purity).
func TestDiff_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	props := gopter.NewProperties(parameters)

	uidGen := gen.OneConstOf("u1", "u2", "u3", "u4", "u5")
	nameGen := gen.OneConstOf("Alpha", "Beta", "Gamma")

	props.Property("completeness: added/removed UIDs always appear", prop.ForAll(
		func(oldUIDs, newUIDs []string) bool {
			old := uniqueEntities(oldUIDs)
			updated := uniqueEntities(newUIDs)
			changes := diff.Diff(old, updated)

			reported := map[string]bool{}
			for _, c := range changes {
				reported[c.EntityUID] = true
			}

			oldSet := toSet(oldUIDs)
			newSet := toSet(newUIDs)
			for uid := range oldSet {
				if !newSet[uid] && !reported[uid] {
					return false
				}
			}
			for uid := range newSet {
				if !oldSet[uid] && !reported[uid] {
					return false
				}
			}
			return true
		},
		gen.SliceOf(uidGen),
		gen.SliceOf(uidGen),
	))

	props.Property("soundness: no change reported for an absent-from-both UID", prop.ForAll(
		func(oldUIDs, newUIDs []string) bool {
			old := uniqueEntities(oldUIDs)
			updated := uniqueEntities(newUIDs)
			changes := diff.Diff(old, updated)

			oldSet := toSet(oldUIDs)
			newSet := toSet(newUIDs)
			for _, c := range changes {
				if !oldSet[c.EntityUID] && !newSet[c.EntityUID] {
					return false
				}
			}
			return true
		},
		gen.SliceOf(uidGen),
		gen.SliceOf(uidGen),
	))

	props.Property("purity: repeated calls over identical input are identical", prop.ForAll(
		func(oldUIDs, newUIDs []string, name string) bool {
			old := uniqueEntities(oldUIDs)
			updated := uniqueEntitiesNamed(newUIDs, name)
			first := diff.Diff(old, updated)
			second := diff.Diff(old, updated)
			if len(first) != len(second) {
				return false
			}
			for i := range first {
				if first[i].EntityUID != second[i].EntityUID || first[i].ChangeType != second[i].ChangeType {
					return false
				}
			}
			return true
		},
		gen.SliceOf(uidGen),
		gen.SliceOf(uidGen),
		nameGen,
	))

	props.TestingRun(t)
}

func uniqueEntities(uids []string) []*sanctions.SanctionedEntity {
	seen := map[string]bool{}
	out := make([]*sanctions.SanctionedEntity, 0, len(uids))
	for _, uid := range uids {
		if seen[uid] {
			continue
		}
		seen[uid] = true
		out = append(out, entity(uid, "Entity "+uid))
	}
	return out
}

func uniqueEntitiesNamed(uids []string, name string) []*sanctions.SanctionedEntity {
	if name == "" {
		name = "Entity"
	}
	seen := map[string]bool{}
	out := make([]*sanctions.SanctionedEntity, 0, len(uids))
	for _, uid := range uids {
		if seen[uid] {
			continue
		}
		seen[uid] = true
		out = append(out, entity(uid, name))
	}
	return out
}

func toSet(uids []string) map[string]bool {
	m := make(map[string]bool, len(uids))
	for _, uid := range uids {
		m[uid] = true
	}
	return m
}
