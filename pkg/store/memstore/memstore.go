// Package memstore is an in-memory Store implementation used by unit tests
// and local/dev runs, exercising the same store.UnitOfWork contract that
// pkg/store/postgres does — grounded on the teacher's in-memory
// store.AuditStore (a mutex-protected map-backed store used as the
// lightweight counterpart to a real database-backed implementation).
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sanctionswatch/core/pkg/sanctions"
	"github.com/sanctionswatch/core/pkg/store"
)

type entityKey struct {
	source sanctions.Source
	uid    string
}

// Store is the shared, long-lived in-memory backing state. One Store may
// serve many sequential Units of Work.
type Store struct {
	mu sync.Mutex

	entities map[entityKey]*sanctions.SanctionedEntity
	active   map[entityKey]bool
	events   map[string]*sanctions.ChangeEvent
	snaps    []*sanctions.ContentSnapshot
	runs     map[string]*sanctions.ScraperRun
	running  map[sanctions.Source]string // source -> run_id currently RUNNING
}

// New returns an empty in-memory Store.
func New() *Store {
	return &Store{
		entities: map[entityKey]*sanctions.SanctionedEntity{},
		active:   map[entityKey]bool{},
		events:   map[string]*sanctions.ChangeEvent{},
		runs:     map[string]*sanctions.ScraperRun{},
		running:  map[sanctions.Source]string{},
	}
}

// Close implements store.Store.
func (s *Store) Close() error { return nil }

// Begin implements store.Store; it returns a fresh staging UnitOfWork whose
// writes are applied to s on Commit, except TryClaim and MarkNotified, which
// write to s directly.
func (s *Store) Begin(ctx context.Context) (store.UnitOfWork, error) {
	return &unitOfWork{parent: s}, nil
}

type unitOfWork struct {
	parent *Store
	done   bool

	stagedEntities map[sanctions.Source][]*sanctions.SanctionedEntity
	stagedEvents   []*sanctions.ChangeEvent
	stagedSnaps    []*sanctions.ContentSnapshot
	stagedRuns     []*sanctions.ScraperRun
}

func (u *unitOfWork) Entities() store.EntityRepository         { return (*entityRepo)(u) }
func (u *unitOfWork) ChangeEvents() store.ChangeEventRepository { return (*changeEventRepo)(u) }
func (u *unitOfWork) ContentSnapshots() store.ContentSnapshotRepository {
	return (*snapshotRepo)(u)
}
func (u *unitOfWork) ScraperRuns() store.ScraperRunRepository { return (*runRepo)(u) }

func (u *unitOfWork) Commit(ctx context.Context) error {
	if u.done {
		return &sanctions.TransactionError{Op: "commit", Err: fmt.Errorf("unit of work already closed")}
	}
	u.done = true

	u.parent.mu.Lock()
	defer u.parent.mu.Unlock()

	for source, entities := range u.stagedEntities {
		seen := map[string]bool{}
		for _, e := range entities {
			key := entityKey{source, e.UID}
			u.parent.entities[key] = e
			u.parent.active[key] = true
			seen[e.UID] = true
		}
		for key := range u.parent.active {
			if key.source == source && !seen[key.uid] {
				u.parent.active[key] = false
			}
		}
	}
	for _, e := range u.stagedEvents {
		u.parent.events[e.EventID] = e
	}
	u.parent.snaps = append(u.parent.snaps, u.stagedSnaps...)
	for _, r := range u.stagedRuns {
		if r.Status == sanctions.RunRunning {
			u.parent.running[r.Source] = r.RunID
		} else if u.parent.running[r.Source] == r.RunID {
			delete(u.parent.running, r.Source)
		}
		u.parent.runs[r.RunID] = r
	}
	return nil
}

func (u *unitOfWork) Rollback(ctx context.Context) error {
	if u.done {
		return &sanctions.TransactionError{Op: "rollback", Err: fmt.Errorf("unit of work already closed")}
	}
	u.done = true
	u.stagedEntities, u.stagedEvents, u.stagedSnaps, u.stagedRuns = nil, nil, nil, nil
	return nil
}

func (u *unitOfWork) Health(ctx context.Context) error { return nil }

// entityRepo, changeEventRepo, snapshotRepo and runRepo are views over the
// same unitOfWork value; Go's method-set trick (distinct named types over
// the same struct) keeps each repository's methods scoped without an extra
// allocation per repository.

type entityRepo unitOfWork

func (r *entityRepo) uow() *unitOfWork { return (*unitOfWork)(r) }

func (r *entityRepo) ReplaceSourceData(ctx context.Context, source sanctions.Source, entities []*sanctions.SanctionedEntity) (store.ReplaceResult, error) {
	u := r.uow()
	u.parent.mu.Lock()
	defer u.parent.mu.Unlock()

	result := store.ReplaceResult{}
	newUIDs := map[string]bool{}
	for _, e := range entities {
		key := entityKey{source, e.UID}
		newUIDs[e.UID] = true
		if _, existed := u.parent.entities[key]; existed {
			if u.parent.active[key] {
				result.Updated++
			} else {
				result.Added++
			}
		} else {
			result.Added++
		}
	}
	for key, active := range u.parent.active {
		if key.source == source && active && !newUIDs[key.uid] {
			result.Removed++
		}
	}

	if u.stagedEntities == nil {
		u.stagedEntities = map[sanctions.Source][]*sanctions.SanctionedEntity{}
	}
	u.stagedEntities[source] = entities
	return result, nil
}

func (r *entityRepo) GetAllForChangeDetection(ctx context.Context, source sanctions.Source) ([]*sanctions.SanctionedEntity, error) {
	u := r.uow()
	u.parent.mu.Lock()
	defer u.parent.mu.Unlock()

	out := make([]*sanctions.SanctionedEntity, 0)
	for key, e := range u.parent.entities {
		if key.source == source && u.parent.active[key] {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out, nil
}

func (r *entityRepo) Statistics(ctx context.Context, source sanctions.Source) (store.Statistics, error) {
	u := r.uow()
	u.parent.mu.Lock()
	defer u.parent.mu.Unlock()

	stats := store.Statistics{
		BySource: map[sanctions.Source]int{},
		ByType:   map[sanctions.EntityType]int{},
	}
	for key, e := range u.parent.entities {
		if source != "" && key.source != source {
			continue
		}
		stats.TotalEntities++
		stats.BySource[key.source]++
		stats.ByType[e.EntityType]++
		if u.parent.active[key] {
			stats.ActiveEntities++
		} else {
			stats.InactiveEntities++
		}
	}
	return stats, nil
}

func (r *entityRepo) HealthCheck(ctx context.Context) error { return nil }

type changeEventRepo unitOfWork

func (r *changeEventRepo) uow() *unitOfWork { return (*unitOfWork)(r) }

func (r *changeEventRepo) CreateMany(ctx context.Context, events []*sanctions.ChangeEvent) error {
	u := r.uow()
	u.stagedEvents = append(u.stagedEvents, events...)
	return nil
}

func (r *changeEventRepo) MarkNotified(ctx context.Context, eventIDs []string, sentAt time.Time, channels []string) error {
	u := r.uow()
	u.parent.mu.Lock()
	defer u.parent.mu.Unlock()
	ids := map[string]bool{}
	for _, id := range eventIDs {
		ids[id] = true
	}
	for id := range ids {
		if e, ok := u.parent.events[id]; ok {
			t := sentAt
			e.NotificationSentAt = &t
			e.NotificationChannels = channels
		}
	}
	return nil
}

func (r *changeEventRepo) FindRecent(ctx context.Context, since time.Duration, source sanctions.Source, riskLevel sanctions.RiskLevel) ([]*sanctions.ChangeEvent, error) {
	u := r.uow()
	u.parent.mu.Lock()
	defer u.parent.mu.Unlock()
	cutoff := time.Now().Add(-since)
	var out []*sanctions.ChangeEvent
	for _, e := range u.parent.events {
		if e.DetectedAt.Before(cutoff) {
			continue
		}
		if source != "" && e.Source != source {
			continue
		}
		if riskLevel != "" && e.RiskLevel != riskLevel {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (r *changeEventRepo) CountByRiskLevel(ctx context.Context, since time.Time, source sanctions.Source) (map[sanctions.RiskLevel]int, error) {
	u := r.uow()
	u.parent.mu.Lock()
	defer u.parent.mu.Unlock()
	out := map[sanctions.RiskLevel]int{}
	for _, e := range u.parent.events {
		if e.DetectedAt.Before(since) {
			continue
		}
		if source != "" && e.Source != source {
			continue
		}
		out[e.RiskLevel]++
	}
	return out, nil
}

func (r *changeEventRepo) CountByChangeType(ctx context.Context, since time.Time, source sanctions.Source) (map[sanctions.ChangeType]int, error) {
	u := r.uow()
	u.parent.mu.Lock()
	defer u.parent.mu.Unlock()
	out := map[sanctions.ChangeType]int{}
	for _, e := range u.parent.events {
		if e.DetectedAt.Before(since) {
			continue
		}
		if source != "" && e.Source != source {
			continue
		}
		out[e.ChangeType]++
	}
	return out, nil
}

func (r *changeEventRepo) FindByRiskLevel(ctx context.Context, risk sanctions.RiskLevel, since time.Time) ([]*sanctions.ChangeEvent, error) {
	u := r.uow()
	u.parent.mu.Lock()
	defer u.parent.mu.Unlock()
	var out []*sanctions.ChangeEvent
	for _, e := range u.parent.events {
		if e.RiskLevel == risk && !e.DetectedAt.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *changeEventRepo) HealthCheck(ctx context.Context) error { return nil }

type snapshotRepo unitOfWork

func (r *snapshotRepo) uow() *unitOfWork { return (*unitOfWork)(r) }

func (r *snapshotRepo) Create(ctx context.Context, snap *sanctions.ContentSnapshot) error {
	if err := snap.Validate(); err != nil {
		return err
	}
	u := r.uow()
	u.stagedSnaps = append(u.stagedSnaps, snap)
	return nil
}

func (r *snapshotRepo) GetLastContentHash(ctx context.Context, source sanctions.Source) (string, error) {
	u := r.uow()
	u.parent.mu.Lock()
	defer u.parent.mu.Unlock()
	var latest *sanctions.ContentSnapshot
	for _, s := range u.parent.snaps {
		if s.Source != source {
			continue
		}
		if latest == nil || s.SnapshotTime.After(latest.SnapshotTime) {
			latest = s
		}
	}
	if latest == nil {
		return "", nil
	}
	return latest.ContentHash, nil
}

func (r *snapshotRepo) HealthCheck(ctx context.Context) error { return nil }

type runRepo unitOfWork

func (r *runRepo) uow() *unitOfWork { return (*unitOfWork)(r) }

func (r *runRepo) Create(ctx context.Context, run *sanctions.ScraperRun) error {
	if err := run.Validate(); err != nil {
		return err
	}
	u := r.uow()
	u.stagedRuns = append(u.stagedRuns, run)
	return nil
}

func (r *runRepo) Update(ctx context.Context, run *sanctions.ScraperRun) error {
	if err := run.Validate(); err != nil {
		return err
	}
	u := r.uow()
	u.stagedRuns = append(u.stagedRuns, run)
	return nil
}

func (r *runRepo) GetLastSuccessfulRun(ctx context.Context, source sanctions.Source) (*sanctions.ScraperRun, error) {
	u := r.uow()
	u.parent.mu.Lock()
	defer u.parent.mu.Unlock()
	var latest *sanctions.ScraperRun
	for _, run := range u.parent.runs {
		if run.Source != source || run.Status != sanctions.RunSuccess {
			continue
		}
		if latest == nil || run.StartedAt.After(latest.StartedAt) {
			latest = run
		}
	}
	return latest, nil
}

func (r *runRepo) FindRecent(ctx context.Context, since time.Duration, source sanctions.Source) ([]*sanctions.ScraperRun, error) {
	u := r.uow()
	u.parent.mu.Lock()
	defer u.parent.mu.Unlock()
	cutoff := time.Now().Add(-since)
	var out []*sanctions.ScraperRun
	for _, run := range u.parent.runs {
		if run.StartedAt.Before(cutoff) {
			continue
		}
		if source != "" && run.Source != source {
			continue
		}
		out = append(out, run)
	}
	return out, nil
}

// TryClaim implements the single-flight primitive directly against the
// shared map under lock: it stages nothing (the claim is visible
// immediately, not deferred to Commit) because single-flight must be
// visible to concurrent callers before this UoW commits.
func (r *runRepo) TryClaim(ctx context.Context, run *sanctions.ScraperRun) (bool, error) {
	u := r.uow()
	u.parent.mu.Lock()
	defer u.parent.mu.Unlock()

	if _, busy := u.parent.running[run.Source]; busy {
		return false, nil
	}
	u.parent.running[run.Source] = run.RunID
	u.parent.runs[run.RunID] = run
	return true, nil
}

func (r *runRepo) HealthCheck(ctx context.Context) error { return nil }
