// Package parse defines the per-source Parser contract (component B) and the
// startup-built registry that replaces the teacher-adjacent original's
// global mutable scraper registry (spec §9 redesign note), grounded on the
// teacher's regwatch.CreateDefaultAdapters map-building pattern.
package parse

import (
	"context"

	"github.com/sanctionswatch/core/pkg/sanctions"
)

// Stats carries the parse-time record counters the original TrustCheck OFAC
// scraper accumulated (self.stats) — supplemented into ParseResult per
// SPEC_FULL.md §4, not persisted as new schema.
type Stats struct {
	RecordsTotal   int
	RecordsFailed  int
	FailureSamples []string
	ByEntityType   map[sanctions.EntityType]int
	WithAliases    int
	WithAddresses  int
	WithBirthDates int
}

// Result is the ParseResult sum-type value: a finite sequence of canonical
// entities plus parse statistics. Per-record failures are not fatal and are
// reflected only in Stats; a document-level failure is returned as an error
// instead.
type Result struct {
	Entities []*sanctions.SanctionedEntity
	Stats    Stats
}

// Parser decodes one source's raw bytes into canonical entities.
type Parser interface {
	Source() sanctions.Source

	// Parse decodes content. minEntities is the source's sanity floor
	// (spec §4.B): if the parser produces fewer entities than minEntities,
	// it returns an *sanctions.InvalidSourceDataError instead of a partial
	// Result, so the orchestrator treats the run as FAILED without
	// overwriting prior data.
	Parse(ctx context.Context, content []byte, minEntities int) (Result, error)
}

// Registry is the map[source_id]Parser value built once at startup and
// passed to the orchestrator, replacing any global registry singleton.
type Registry map[sanctions.Source]Parser

// Get returns the parser registered for source, or false if none is.
func (r Registry) Get(source sanctions.Source) (Parser, bool) {
	p, ok := r[source]
	return p, ok
}
