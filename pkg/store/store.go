// Package store defines the Repository/Unit-of-Work contracts (component H)
// consumed by the orchestrator, per spec §4.E/§4.H. Concrete storage is
// pluggable: pkg/store/postgres, pkg/store/sqlite and pkg/store/memstore all
// implement UnitOfWork. Modeled as explicit interfaces, not an inheritance
// hierarchy, per spec §9's redesign note.
package store

import (
	"context"
	"time"

	"github.com/sanctionswatch/core/pkg/sanctions"
)

// ReplaceResult is the {added, updated, removed} count spec §4.E asks
// replace_source_data to return.
type ReplaceResult struct {
	Added   int
	Updated int
	Removed int
}

// Statistics is the supplemented per-repository aggregate (SPEC_FULL §4,
// grounded on entity_repository.py:get_statistics).
type Statistics struct {
	TotalEntities    int
	ActiveEntities   int
	InactiveEntities int
	BySource         map[sanctions.Source]int
	ByType           map[sanctions.EntityType]int
	RecentAdditions  int
	GeneratedAt      time.Time
}

// EntityRepository is the write+query surface over sanctioned_entities.
type EntityRepository interface {
	// ReplaceSourceData upserts all entities for source within the caller's
	// transaction, and marks previously-present, now-absent entities
	// inactive. Queries are scoped by source; no global table scans.
	ReplaceSourceData(ctx context.Context, source sanctions.Source, entities []*sanctions.SanctionedEntity) (ReplaceResult, error)

	// GetAllForChangeDetection returns all active entities for source.
	GetAllForChangeDetection(ctx context.Context, source sanctions.Source) ([]*sanctions.SanctionedEntity, error)

	// Statistics returns aggregate counts, optionally scoped to one source.
	Statistics(ctx context.Context, source sanctions.Source) (Statistics, error)

	// HealthCheck probes the repository's backing storage.
	HealthCheck(ctx context.Context) error
}

// ChangeEventRepository is the write+query surface over change_events.
type ChangeEventRepository interface {
	CreateMany(ctx context.Context, events []*sanctions.ChangeEvent) error

	// MarkNotified records notification_sent_at/channels for the given
	// event IDs in a separate write (spec §4.F), outside the commit UoW.
	MarkNotified(ctx context.Context, eventIDs []string, sentAt time.Time, channels []string) error

	FindRecent(ctx context.Context, since time.Duration, source sanctions.Source, riskLevel sanctions.RiskLevel) ([]*sanctions.ChangeEvent, error)
	CountByRiskLevel(ctx context.Context, since time.Time, source sanctions.Source) (map[sanctions.RiskLevel]int, error)
	CountByChangeType(ctx context.Context, since time.Time, source sanctions.Source) (map[sanctions.ChangeType]int, error)
	FindByRiskLevel(ctx context.Context, risk sanctions.RiskLevel, since time.Time) ([]*sanctions.ChangeEvent, error)

	HealthCheck(ctx context.Context) error
}

// ContentSnapshotRepository is the append-only surface over content_snapshots.
type ContentSnapshotRepository interface {
	Create(ctx context.Context, snap *sanctions.ContentSnapshot) error
	GetLastContentHash(ctx context.Context, source sanctions.Source) (string, error)

	HealthCheck(ctx context.Context) error
}

// ScraperRunRepository is the upsert surface over scraper_runs.
type ScraperRunRepository interface {
	Create(ctx context.Context, run *sanctions.ScraperRun) error
	Update(ctx context.Context, run *sanctions.ScraperRun) error
	GetLastSuccessfulRun(ctx context.Context, source sanctions.Source) (*sanctions.ScraperRun, error)
	FindRecent(ctx context.Context, since time.Duration, source sanctions.Source) ([]*sanctions.ScraperRun, error)

	// TryClaim atomically creates a RUNNING run for source iff no RUNNING
	// run already exists for it, returning (false, nil) on contention
	// instead of an error — the single-flight primitive spec §4.G/§8
	// requires when a single store instance backs multiple orchestrator
	// goroutines or replicas.
	TryClaim(ctx context.Context, run *sanctions.ScraperRun) (bool, error)

	HealthCheck(ctx context.Context) error
}

// UnitOfWork commits atomically across the four repository collections for
// one run. Begins implicitly on construction; Commit/Rollback are terminal —
// a second Commit or Rollback returns a TransactionError. Each Store.Begin
// opens a new, independent UoW.
type UnitOfWork interface {
	Entities() EntityRepository
	ChangeEvents() ChangeEventRepository
	ContentSnapshots() ContentSnapshotRepository
	ScraperRuns() ScraperRunRepository

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error

	// Health composes each repository's health probe into one aggregate
	// error, or nil if all are healthy.
	Health(ctx context.Context) error
}

// Store opens Units of Work. A concrete Store (postgres.Store,
// sqlite.Store, memstore.Store) is the one long-lived handle the
// orchestrator holds; it opens a fresh UnitOfWork per run.
type Store interface {
	Begin(ctx context.Context) (UnitOfWork, error)
	Close() error
}
