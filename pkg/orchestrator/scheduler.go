package orchestrator

import (
	"context"
	"log"
	"time"
)

// Scheduler issues a run per configured source whenever its interval has
// elapsed since the last run, per spec §4.G. It is the long-running loop
// cmd/sanctionswatch-server drives; cmd/sanctionswatch-run instead calls
// Orchestrator.RunOnce directly for a single request-triggered execution.
type Scheduler struct {
	orch    *Orchestrator
	sources []SourceConfig
	poll    time.Duration
}

// NewScheduler builds a Scheduler. poll is how often the loop checks whether
// any source's interval has elapsed; it should be small relative to the
// shortest configured interval (e.g. one minute against a 6-hour interval).
func NewScheduler(orch *Orchestrator, sources []SourceConfig, poll time.Duration) *Scheduler {
	if poll <= 0 {
		poll = time.Minute
	}
	return &Scheduler{orch: orch, sources: sources, poll: poll}
}

// Run blocks until ctx is cancelled, issuing runs as each source's interval
// elapses. A source's runs within its interval (of any status) are queried
// from the store on every tick rather than held in memory, so a restarted
// scheduler resumes the correct cadence.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, cfg := range s.sources {
				if s.due(ctx, cfg) {
					go s.runAndLog(ctx, cfg)
				}
			}
		}
	}
}

func (s *Scheduler) due(ctx context.Context, cfg SourceConfig) bool {
	uow, err := s.orch.store.Begin(ctx)
	if err != nil {
		log.Printf("sanctionswatch: scheduler begin failed for %s: %v", cfg.Source, err)
		return false
	}
	defer func() { _ = uow.Rollback(ctx) }()

	recent, err := uow.ScraperRuns().FindRecent(ctx, cfg.Interval, cfg.Source)
	if err != nil {
		log.Printf("sanctionswatch: scheduler last-run lookup failed for %s: %v", cfg.Source, err)
		return false
	}
	return len(recent) == 0
}

func (s *Scheduler) runAndLog(ctx context.Context, cfg SourceConfig) {
	run, err := s.orch.RunOnce(ctx, cfg)
	if err != nil {
		log.Printf("sanctionswatch: run for %s did not start: %v", cfg.Source, err)
		return
	}
	log.Printf("sanctionswatch: run %s for %s finished with status %s", run.RunID, cfg.Source, run.Status)
}
