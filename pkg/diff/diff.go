// Package diff implements component C: the set-diff + field-diff algorithm
// that compares a prior entity snapshot against a new one and emits
// per-entity change records, per spec §4.C.
package diff

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sanctionswatch/core/pkg/sanctions"
)

// trackedFields is the fixed set of fields field-level diffing considers,
// per spec §4.C step 3.
var trackedFields = []string{"name", "entity_type", "programs", "aliases", "addresses", "nationalities", "remarks"}

// Change is one per-entity diff result, prior to risk classification.
type Change struct {
	EntityUID      string
	EntityName     string
	ChangeType     sanctions.ChangeType
	FieldChanges   []sanctions.FieldChange
	OldContentHash string
	NewContentHash string
}

// Diff compares old against new, both uniquely keyed by UID, and returns one
// Change per entity whose canonical content differs. Linear in |old|+|new|
// via a single map join; no nested scans (spec §4.C performance target).
func Diff(old, new []*sanctions.SanctionedEntity) []Change {
	oldByUID := indexByUID(old)
	newByUID := indexByUID(new)

	changes := make([]Change, 0, len(oldByUID)+len(newByUID))

	for uid, e := range newByUID {
		if _, present := oldByUID[uid]; !present {
			changes = append(changes, Change{
				EntityUID:      uid,
				EntityName:     e.Name,
				ChangeType:     sanctions.ChangeAdded,
				NewContentHash: e.ContentHash,
			})
		}
	}

	for uid, e := range oldByUID {
		if _, present := newByUID[uid]; !present {
			changes = append(changes, Change{
				EntityUID:      uid,
				EntityName:     e.Name,
				ChangeType:     sanctions.ChangeRemoved,
				OldContentHash: e.ContentHash,
			})
		}
	}

	for uid, oldE := range oldByUID {
		newE, present := newByUID[uid]
		if !present {
			continue
		}
		if oldE.ContentHash == newE.ContentHash {
			continue
		}
		fieldChanges := fieldDiff(oldE, newE)
		if len(fieldChanges) == 0 {
			// Content hash differed but no tracked field did (e.g. a
			// non-tracked derived value changed); spec tracks only the
			// fixed field set, so this is not a reportable change.
			continue
		}
		changes = append(changes, Change{
			EntityUID:      uid,
			EntityName:     newE.Name,
			ChangeType:     sanctions.ChangeModified,
			FieldChanges:   fieldChanges,
			OldContentHash: oldE.ContentHash,
			NewContentHash: newE.ContentHash,
		})
	}

	// Ordering is unspecified but stable across equivalent inputs: sort by
	// UID so repeated runs over identical inputs produce identical output.
	sort.Slice(changes, func(i, j int) bool { return changes[i].EntityUID < changes[j].EntityUID })
	return changes
}

func indexByUID(entities []*sanctions.SanctionedEntity) map[string]*sanctions.SanctionedEntity {
	m := make(map[string]*sanctions.SanctionedEntity, len(entities))
	for _, e := range entities {
		m[e.UID] = e
	}
	return m
}

func fieldDiff(old, new *sanctions.SanctionedEntity) []sanctions.FieldChange {
	var changes []sanctions.FieldChange

	if diff := scalarDiff("name", old.Name, new.Name); diff != nil {
		changes = append(changes, *diff)
	}
	if diff := scalarDiff("entity_type", string(old.EntityType), string(new.EntityType)); diff != nil {
		changes = append(changes, *diff)
	}
	if diff := setDiff("programs", old.Programs, new.Programs); diff != nil {
		changes = append(changes, *diff)
	}
	if diff := setDiff("aliases", old.Aliases, new.Aliases); diff != nil {
		changes = append(changes, *diff)
	}
	if diff := setDiff("addresses", addressStrings(old.Addresses), addressStrings(new.Addresses)); diff != nil {
		changes = append(changes, *diff)
	}
	if diff := setDiff("nationalities", old.Nationalities, new.Nationalities); diff != nil {
		changes = append(changes, *diff)
	}
	if diff := scalarDiff("remarks", old.Remarks, new.Remarks); diff != nil {
		changes = append(changes, *diff)
	}

	return changes
}

func addressStrings(addrs []sanctions.Address) []string {
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, fmt.Sprintf("%s|%s|%s|%s|%s", a.Street, a.City, a.StateProvince, a.PostalCode, a.Country))
	}
	return out
}

// scalarDiff compares two strings after whitespace trimming.
func scalarDiff(field, oldV, newV string) *sanctions.FieldChange {
	oldT, newT := strings.TrimSpace(oldV), strings.TrimSpace(newV)
	if oldT == newT {
		return nil
	}
	return &sanctions.FieldChange{
		FieldName: field,
		OldValue:  []string{oldT},
		NewValue:  []string{newT},
		Kind:      sanctions.FieldModified,
	}
}

// setDiff compares two string slices as sets of normalized values, ignoring
// order and duplicates, per spec §4.C.
func setDiff(field string, oldV, newV []string) *sanctions.FieldChange {
	oldSet := normalizedSet(oldV)
	newSet := normalizedSet(newV)
	if setsEqual(oldSet, newSet) {
		return nil
	}
	return &sanctions.FieldChange{
		FieldName: field,
		OldValue:  sortedKeys(oldSet),
		NewValue:  sortedKeys(newSet),
		Kind:      sanctions.FieldModified,
	}
}

func normalizedSet(in []string) map[string]bool {
	m := make(map[string]bool, len(in))
	for _, s := range in {
		v := strings.TrimSpace(s)
		if v != "" {
			m[v] = true
		}
	}
	return m
}

func setsEqual(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
