// Package orchestrator implements component G: the scheduler that drives one
// run of the pipeline per source (G → A → skip-or-B → C → D → UoW{E} →
// notify(F)), enforces single-flight per source and a global concurrency
// ceiling, and retries transient failures with exponential backoff. Grounded
// on the teacher's kernel.Limiter for the concurrency-ceiling idiom
// (semaphore channel) and governance/pdp.go for the staged-pipeline,
// error-isolated-per-stage control flow.
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/sanctionswatch/core/pkg/diff"
	"github.com/sanctionswatch/core/pkg/fetch"
	"github.com/sanctionswatch/core/pkg/fetch/archive"
	"github.com/sanctionswatch/core/pkg/notify"
	"github.com/sanctionswatch/core/pkg/parse"
	"github.com/sanctionswatch/core/pkg/risk"
	"github.com/sanctionswatch/core/pkg/sanctions"
	"github.com/sanctionswatch/core/pkg/store"
	"github.com/sanctionswatch/core/pkg/store/auditchain"
	"github.com/sanctionswatch/core/pkg/telemetry"
)

// SourceConfig is the per-source cadence + fetch configuration spec §4.G
// enumerates (*_INTERVAL_HOURS, fetch tuning).
type SourceConfig struct {
	Source       sanctions.Source
	FetchConfig  fetch.Config
	Interval     time.Duration
	MinEntities  int
	MaxRetries   int
	BackoffFactor float64
}

// SingleFlightLock is satisfied by pkg/orchestrator/singleflight.Locker; kept
// as an interface here so a single-process deployment can run without Redis
// (store.ScraperRunRepository.TryClaim already enforces single-flight within
// one store instance; this is the additional cross-replica guard).
type SingleFlightLock interface {
	TryAcquire(ctx context.Context, source, runID string) (bool, error)
	Release(ctx context.Context, source, runID string) error
}

// Orchestrator drives runs across all configured sources.
type Orchestrator struct {
	store      store.Store
	parsers    parse.Registry
	fetcher    *fetch.Fetcher
	differ     func(old, new []*sanctions.SanctionedEntity) []diff.Change
	classifier *risk.Classifier
	notifier   *notify.Notifier
	chains     *auditchain.Registry
	lock       SingleFlightLock // nil disables the cross-replica guard
	sem        chan struct{}    // global concurrency ceiling (parallel_scrapers)
	limiters   map[sanctions.Source]*rate.Limiter
	telemetry  *telemetry.Provider // nil disables tracing/metrics
	archiver   *archive.Store      // nil disables raw-content archival
}

// New builds an Orchestrator. parallelScrapers bounds concurrent runs across
// all sources (spec §4.G, default 3). lock may be nil for a single-replica
// deployment.
func New(st store.Store, parsers parse.Registry, classifier *risk.Classifier, notifier *notify.Notifier, chains *auditchain.Registry, lock SingleFlightLock, parallelScrapers int) *Orchestrator {
	if parallelScrapers <= 0 {
		parallelScrapers = 3
	}
	return &Orchestrator{
		store:      st,
		parsers:    parsers,
		fetcher:    fetch.New(),
		differ:     diff.Diff,
		classifier: classifier,
		notifier:   notifier,
		chains:     chains,
		lock:       lock,
		sem:        make(chan struct{}, parallelScrapers),
		limiters:   map[sanctions.Source]*rate.Limiter{},
	}
}

// WithTelemetry attaches a telemetry.Provider, enabling tracing/metrics
// around each pipeline run. Returns the receiver for chaining.
func (o *Orchestrator) WithTelemetry(t *telemetry.Provider) *Orchestrator {
	o.telemetry = t
	return o
}

// WithArchiver attaches a raw-content archive.Store. When set, commit
// archives each run's fetched bytes before recording the ContentSnapshot, so
// snap.ArchivePath resolves back to the exact bytes that produced it.
func (o *Orchestrator) WithArchiver(a *archive.Store) *Orchestrator {
	o.archiver = a
	return o
}

// RunOnce executes exactly one pipeline run for cfg.Source, enforcing
// single-flight and retrying transient failures per spec §4.G. It blocks
// until the run reaches a terminal status (or returns ErrRunBusy
// immediately without creating a run).
func (o *Orchestrator) RunOnce(ctx context.Context, cfg SourceConfig) (*sanctions.ScraperRun, error) {
	select {
	case o.sem <- struct{}{}:
		defer func() { <-o.sem }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	runID := uuid.NewString()

	if o.lock != nil {
		acquired, err := o.lock.TryAcquire(ctx, string(cfg.Source), runID)
		if err != nil {
			return nil, err
		}
		if !acquired {
			return nil, sanctions.ErrRunBusy
		}
		defer func() { _ = o.lock.Release(ctx, string(cfg.Source), runID) }()
	}

	run := &sanctions.ScraperRun{
		RunID:     runID,
		Source:    cfg.Source,
		StartedAt: time.Now().UTC(),
		Status:    sanctions.RunRunning,
		SourceURL: cfg.FetchConfig.URL,
	}

	claimed, err := o.claim(ctx, run)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, sanctions.ErrRunBusy
	}

	result := o.execute(ctx, cfg, run)
	return result, nil
}

// claim persists the RUNNING run via the store's single-flight primitive,
// inside its own short-lived UnitOfWork (the main pipeline UoW is opened
// later, scoped to the commit stage only).
func (o *Orchestrator) claim(ctx context.Context, run *sanctions.ScraperRun) (bool, error) {
	uow, err := o.store.Begin(ctx)
	if err != nil {
		return false, err
	}
	claimed, err := uow.ScraperRuns().TryClaim(ctx, run)
	if err != nil {
		_ = uow.Rollback(ctx)
		return false, err
	}
	if !claimed {
		_ = uow.Rollback(ctx)
		return false, nil
	}
	if err := uow.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// execute runs the remaining pipeline stages for an already-claimed run,
// always returning a run in a terminal status.
func (o *Orchestrator) execute(ctx context.Context, cfg SourceConfig, run *sanctions.ScraperRun) *sanctions.ScraperRun {
	if o.telemetry != nil {
		o.telemetry.RecordRunStart(ctx, string(cfg.Source))
		runStart := time.Now()
		defer func() {
			o.telemetry.RecordRunEnd(ctx, string(cfg.Source), string(run.Status), time.Since(runStart))
		}()
	}

	fetchResult := o.fetchWithRetry(ctx, cfg)
	if fetchResult.Err != nil {
		return o.fail(ctx, run, fetchResult.Err)
	}
	run.ContentHash = fetchResult.ContentHash
	run.ContentSizeBytes = fetchResult.SizeBytes
	run.Timings.DownloadMs = fetchResult.DownloadTimeMs

	lastHash, err := o.lastSuccessHash(ctx, cfg.Source)
	if err != nil {
		return o.fail(ctx, run, err)
	}
	if fetch.ShouldSkip(fetchResult.ContentHash, lastHash) {
		run.ContentChanged = false
		return o.terminate(ctx, run, sanctions.RunSkipped, "")
	}
	run.ContentChanged = true

	parser, ok := o.parsers.Get(cfg.Source)
	if !ok {
		return o.fail(ctx, run, fmt.Errorf("no parser registered for source %s", cfg.Source))
	}

	if err := parse.CheckVersion(cfg.Source, fetchResult.ObservedVersion); err != nil {
		return o.fail(ctx, run, err)
	}

	parseStart := time.Now()
	parsed, err := parser.Parse(ctx, fetchResult.ContentBytes, cfg.MinEntities)
	run.Timings.ParsingMs = time.Since(parseStart).Milliseconds()
	if err != nil {
		return o.fail(ctx, run, err)
	}
	run.EntitiesProcessed = len(parsed.Entities)

	priorEntities, err := o.priorEntities(ctx, cfg.Source)
	if err != nil {
		return o.fail(ctx, run, err)
	}

	diffStart := time.Now()
	changes := o.differ(priorEntities, parsed.Entities)
	run.Timings.DiffMs = time.Since(diffStart).Milliseconds()

	newByUID := make(map[string]*sanctions.SanctionedEntity, len(parsed.Entities))
	for _, e := range parsed.Entities {
		newByUID[e.UID] = e
	}

	events := make([]*sanctions.ChangeEvent, 0, len(changes))
	now := time.Now().UTC()
	for _, c := range changes {
		level := o.classifier.Classify(c, newByUID[c.EntityUID])
		events = append(events, &sanctions.ChangeEvent{
			EventID:        uuid.NewString(),
			EntityUID:      c.EntityUID,
			EntityName:     c.EntityName,
			Source:         cfg.Source,
			ChangeType:     c.ChangeType,
			RiskLevel:      level,
			FieldChanges:   c.FieldChanges,
			ChangeSummary:  summarize(c, level),
			OldContentHash: c.OldContentHash,
			NewContentHash: c.NewContentHash,
			DetectedAt:     now,
			ScraperRunID:   run.RunID,
		})
		switch level {
		case sanctions.RiskCritical:
			run.CriticalRiskChanges++
		case sanctions.RiskHigh:
			run.HighRiskChanges++
		case sanctions.RiskMedium:
			run.MediumRiskChanges++
		default:
			run.LowRiskChanges++
		}
		switch c.ChangeType {
		case sanctions.ChangeAdded:
			run.EntitiesAdded++
		case sanctions.ChangeModified:
			run.EntitiesModified++
		case sanctions.ChangeRemoved:
			run.EntitiesRemoved++
		}
	}

	if o.telemetry != nil {
		byLevel := map[sanctions.RiskLevel]int{}
		for _, e := range events {
			byLevel[e.RiskLevel]++
		}
		for level, count := range byLevel {
			o.telemetry.RecordChangeEvents(ctx, string(cfg.Source), string(level), count)
		}
	}

	storageStart := time.Now()
	if err := o.commit(ctx, cfg.Source, run, parsed.Entities, events, fetchResult); err != nil {
		return o.fail(ctx, run, err)
	}
	run.Timings.StorageMs = time.Since(storageStart).Milliseconds()

	completed := now
	run.CompletedAt = &completed
	run.Status = sanctions.RunSuccess

	if o.chains != nil {
		if _, err := o.chains.For(cfg.Source).Append(run.RunID, events); err != nil {
			log.Printf("sanctionswatch: audit chain append failed for %s run %s: %v", cfg.Source, run.RunID, err)
		}
	}

	if o.notifier != nil && len(events) > 0 {
		dispatch := o.notifier.Dispatch(ctx, cfg.Source, events)
		o.markNotified(ctx, dispatch)
	}

	return run
}

func summarize(c diff.Change, level sanctions.RiskLevel) string {
	switch c.ChangeType {
	case sanctions.ChangeAdded:
		return fmt.Sprintf("%s: added entity %q (risk %s)", c.EntityUID, c.EntityName, level)
	case sanctions.ChangeRemoved:
		return fmt.Sprintf("%s: removed entity %q (risk %s)", c.EntityUID, c.EntityName, level)
	default:
		return fmt.Sprintf("%s: %d field(s) changed for %q (risk %s)", c.EntityUID, len(c.FieldChanges), c.EntityName, level)
	}
}

func (o *Orchestrator) lastSuccessHash(ctx context.Context, source sanctions.Source) (string, error) {
	uow, err := o.store.Begin(ctx)
	if err != nil {
		return "", err
	}
	defer func() { _ = uow.Rollback(ctx) }()
	hash, err := uow.ContentSnapshots().GetLastContentHash(ctx, source)
	if err != nil {
		return "", err
	}
	return hash, nil
}

func (o *Orchestrator) priorEntities(ctx context.Context, source sanctions.Source) ([]*sanctions.SanctionedEntity, error) {
	uow, err := o.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = uow.Rollback(ctx) }()
	return uow.Entities().GetAllForChangeDetection(ctx, source)
}

// commit opens the single UnitOfWork spanning the four repository writes for
// this run, per spec §4.G/§4.H — all four succeed or none do.
func (o *Orchestrator) commit(ctx context.Context, source sanctions.Source, run *sanctions.ScraperRun, entities []*sanctions.SanctionedEntity, events []*sanctions.ChangeEvent, fetchResult fetch.Result) error {
	uow, err := o.store.Begin(ctx)
	if err != nil {
		return err
	}

	snap := &sanctions.ContentSnapshot{
		SnapshotID:         uuid.NewString(),
		Source:             source,
		ContentHash:        fetchResult.ContentHash,
		ContentFingerprint: fetchResult.ContentFingerprint,
		ContentSizeBytes:   fetchResult.SizeBytes,
		SnapshotTime:       time.Now().UTC(),
		ScraperRunID:       run.RunID,
	}
	if o.archiver != nil {
		path, err := o.archiver.Put(ctx, string(source), fetchResult.ContentHash, fetchResult.ContentBytes)
		if err != nil {
			// Archival is best-effort: the run still commits on a failed
			// upload, it just loses the ability to replay these exact bytes.
			log.Printf("sanctionswatch: archive upload failed for %s run %s: %v", source, run.RunID, err)
		} else {
			snap.ArchivePath = path
		}
	}
	if err := uow.ContentSnapshots().Create(ctx, snap); err != nil {
		_ = uow.Rollback(ctx)
		return err
	}

	if len(events) > 0 {
		if err := uow.ChangeEvents().CreateMany(ctx, events); err != nil {
			_ = uow.Rollback(ctx)
			return err
		}
	}

	if _, err := uow.Entities().ReplaceSourceData(ctx, source, entities); err != nil {
		_ = uow.Rollback(ctx)
		return err
	}

	completed := time.Now().UTC()
	run.CompletedAt = &completed
	run.Status = sanctions.RunSuccess
	if err := uow.ScraperRuns().Update(ctx, run); err != nil {
		_ = uow.Rollback(ctx)
		return err
	}

	return uow.Commit(ctx)
}

// markNotified persists notification_sent_at/channels for every event
// Dispatch actually delivered. Events can land on different channel sets
// (e.g. a channel that was down for one message but recovered for the
// next), so sent events are grouped by their exact channel set and written
// in one MarkNotified call per group rather than a single call for all of
// them.
func (o *Orchestrator) markNotified(ctx context.Context, dispatch notify.DispatchResult) {
	if len(dispatch.Sent) == 0 {
		return
	}

	groups := map[string]*struct {
		channels []string
		eventIDs []string
	}{}
	for _, eventID := range dispatch.Sent {
		channels := dispatch.SentChannels[eventID]
		key := strings.Join(channels, ",")
		g, ok := groups[key]
		if !ok {
			g = &struct {
				channels []string
				eventIDs []string
			}{channels: channels}
			groups[key] = g
		}
		g.eventIDs = append(g.eventIDs, eventID)
	}

	uow, err := o.store.Begin(ctx)
	if err != nil {
		log.Printf("sanctionswatch: mark-notified begin failed: %v", err)
		return
	}
	now := time.Now().UTC()
	for _, g := range groups {
		if err := uow.ChangeEvents().MarkNotified(ctx, g.eventIDs, now, g.channels); err != nil {
			_ = uow.Rollback(ctx)
			log.Printf("sanctionswatch: mark-notified failed: %v", err)
			return
		}
	}
	if err := uow.Commit(ctx); err != nil {
		log.Printf("sanctionswatch: mark-notified commit failed: %v", err)
	}
}

// fail marks run FAILED (or PARTIAL, when entities were already partially
// processed — not modeled here, kept FAILED for simplicity since no stage
// partially commits) and records the terminal transition.
func (o *Orchestrator) fail(ctx context.Context, run *sanctions.ScraperRun, cause error) *sanctions.ScraperRun {
	run.ErrorMessage = cause.Error()
	return o.terminate(ctx, run, sanctions.RunFailed, cause.Error())
}

func (o *Orchestrator) terminate(ctx context.Context, run *sanctions.ScraperRun, status sanctions.RunStatus, errMsg string) *sanctions.ScraperRun {
	if !run.CanTransitionTo(status) {
		log.Printf("sanctionswatch: illegal run transition %s -> %s for run %s", run.Status, status, run.RunID)
	}
	completed := time.Now().UTC()
	run.CompletedAt = &completed
	run.Status = status
	run.ErrorMessage = errMsg

	uow, err := o.store.Begin(ctx)
	if err != nil {
		log.Printf("sanctionswatch: terminate begin failed: %v", err)
		return run
	}
	if err := uow.ScraperRuns().Update(ctx, run); err != nil {
		_ = uow.Rollback(ctx)
		log.Printf("sanctionswatch: terminate update failed: %v", err)
		return run
	}
	if err := uow.Commit(ctx); err != nil {
		log.Printf("sanctionswatch: terminate commit failed: %v", err)
	}
	return run
}

// fetchWithRetry retries NetworkError, TimeoutError and DownloadError results
// (the last covers any non-2xx status, an empty body and a failed size/format
// check) with exponential backoff (backoff_factor * 2^attempt seconds), per
// spec §4.G. Parsing and
// invalid-data errors are never retried — those surface from Parse, after
// fetch already succeeded, so they never reach this function.
func (o *Orchestrator) fetchWithRetry(ctx context.Context, cfg SourceConfig) fetch.Result {
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	backoff := cfg.BackoffFactor
	if backoff <= 0 {
		backoff = 0.3
	}

	var last fetch.Result
	for attempt := 0; attempt <= maxRetries; attempt++ {
		last = o.fetcher.Fetch(ctx, cfg.FetchConfig)
		if last.Err == nil || !isRetryable(last.Err) {
			return last
		}
		if attempt == maxRetries {
			break
		}
		wait := time.Duration(backoff * math.Pow(2, float64(attempt)) * float64(time.Second))
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return fetch.Result{Err: ctx.Err()}
		}
	}
	return last
}

func isRetryable(err error) bool {
	switch err.(type) {
	case *sanctions.NetworkError, *sanctions.TimeoutError:
		return true
	case *sanctions.DownloadError:
		return true
	default:
		return false
	}
}
