// Command sanctionswatch-run triggers a single pipeline run for one source
// and exits, for cron-driven or manual invocation instead of the
// long-running scheduler. Exit codes follow spec §6: 0 for SUCCESS/SKIPPED,
// 1 for FAILED, 2 for invalid configuration/usage.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/lib/pq"

	"github.com/sanctionswatch/core/pkg/config"
	"github.com/sanctionswatch/core/pkg/fetch"
	"github.com/sanctionswatch/core/pkg/fetch/archive"
	"github.com/sanctionswatch/core/pkg/notify"
	"github.com/sanctionswatch/core/pkg/orchestrator"
	"github.com/sanctionswatch/core/pkg/parse"
	"github.com/sanctionswatch/core/pkg/parse/eu"
	"github.com/sanctionswatch/core/pkg/parse/ofac"
	"github.com/sanctionswatch/core/pkg/parse/ukhmt"
	"github.com/sanctionswatch/core/pkg/parse/un"
	"github.com/sanctionswatch/core/pkg/risk"
	"github.com/sanctionswatch/core/pkg/sanctions"
	"github.com/sanctionswatch/core/pkg/store"
	"github.com/sanctionswatch/core/pkg/store/auditchain"
	pgstore "github.com/sanctionswatch/core/pkg/store/postgres"
	"github.com/sanctionswatch/core/pkg/store/sqlite"
)

func main() {
	sourceFlag := flag.String("source", "", "source to run: OFAC | UN | EU | UK_HMT")
	flag.Parse()

	if *sourceFlag == "" {
		fmt.Fprintln(os.Stderr, "usage: sanctionswatch-run -source OFAC")
		os.Exit(2)
	}
	source := sanctions.Source(*sourceFlag)

	cfg := config.Load()
	settings, ok := cfg.Sources[source]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown source %q\n", source)
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), settings.Timeout()+30*time.Second)
	defer cancel()

	st, closeStore := openStore(ctx, cfg)
	defer closeStore()

	parsers := parse.Registry{
		sanctions.SourceOFAC:  ofac.New(),
		sanctions.SourceUN:    un.New(),
		sanctions.SourceEU:    eu.New(),
		sanctions.SourceUKHMT: ukhmt.New(),
	}

	classifier, err := risk.New()
	if err != nil {
		log.Fatalf("sanctionswatch-run: risk classifier init failed: %v", err)
	}

	notifier := notify.New(notify.NewMemoryDigestQueue(), notify.NewLogChannel())
	chains := auditchain.NewRegistry()

	orch := orchestrator.New(st, parsers, classifier, notifier, chains, nil, 1)

	if cfg.S3Bucket != "" {
		archiveStore, err := archive.New(ctx, archive.Config{Bucket: cfg.S3Bucket, Region: cfg.S3Region})
		if err != nil {
			log.Fatalf("sanctionswatch-run: s3 archive init failed: %v", err)
		}
		orch.WithArchiver(archiveStore)
	}

	runCfg := orchestrator.SourceConfig{
		Source: source,
		FetchConfig: fetch.Config{
			Source:         source,
			URL:            settings.URL,
			UserAgent:      cfg.UserAgent,
			Timeout:        settings.Timeout(),
			MinContentSize: settings.MinContentSize,
			MaxContentSize: settings.MaxContentSize,
			Format:         fetch.FormatXML,
		},
		Interval:      settings.Interval(),
		MinEntities:   settings.MinEntities,
		MaxRetries:    cfg.MaxRetries,
		BackoffFactor: cfg.BackoffFactor,
	}

	run, err := orch.RunOnce(ctx, runCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "run did not start: %v\n", err)
		os.Exit(2)
	}

	log.Printf("sanctionswatch-run: %s run %s finished: status=%s entities_added=%d entities_modified=%d entities_removed=%d critical=%d high=%d",
		source, run.RunID, run.Status, run.EntitiesAdded, run.EntitiesModified, run.EntitiesRemoved, run.CriticalRiskChanges, run.HighRiskChanges)

	switch run.Status {
	case sanctions.RunSuccess, sanctions.RunSkipped:
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "run failed: %s\n", run.ErrorMessage)
		os.Exit(1)
	}
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, func()) {
	switch cfg.StorageDriver {
	case "sqlite":
		st, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			log.Fatalf("sanctionswatch-run: sqlite open failed: %v", err)
		}
		if err := st.Init(ctx); err != nil {
			log.Fatalf("sanctionswatch-run: sqlite schema init failed: %v", err)
		}
		return st, func() { _ = st.Close() }
	default:
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("sanctionswatch-run: postgres open failed: %v", err)
		}
		st := pgstore.New(db)
		if err := st.Init(ctx); err != nil {
			log.Fatalf("sanctionswatch-run: postgres schema init failed: %v", err)
		}
		return st, func() { _ = st.Close() }
	}
}
