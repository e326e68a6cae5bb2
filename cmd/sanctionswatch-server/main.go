// Command sanctionswatch-server runs the long-lived scheduler: it polls
// every configured source on its own interval, drives runs through the
// orchestrator, and serves a JWT-authenticated HTTP endpoint for
// request-triggered runs. Grounded on the teacher's cmd/bootstrap/main.go
// sequential-Init startup idiom.
package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-jwt/jwt/v5"
	_ "github.com/lib/pq"

	"github.com/sanctionswatch/core/pkg/config"
	"github.com/sanctionswatch/core/pkg/fetch"
	"github.com/sanctionswatch/core/pkg/fetch/archive"
	"github.com/sanctionswatch/core/pkg/notify"
	"github.com/sanctionswatch/core/pkg/orchestrator"
	"github.com/sanctionswatch/core/pkg/orchestrator/httpapi"
	"github.com/sanctionswatch/core/pkg/orchestrator/singleflight"
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
	"github.com/sanctionswatch/core/pkg/telemetry"
)

func main() {
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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
		log.Fatalf("sanctionswatch: risk classifier init failed: %v", err)
	}

	channels := []notify.Channel{notify.NewLogChannel()}
	notifier := notify.New(notify.NewMemoryDigestQueue(), channels...)

	chains := auditchain.NewRegistry()

	var lock orchestrator.SingleFlightLock
	if cfg.RedisAddr != "" {
		locker := singleflight.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, 10*time.Minute)
		defer func() { _ = locker.Close() }()
		lock = locker
	}

	orch := orchestrator.New(st, parsers, classifier, notifier, chains, lock, cfg.ParallelScrapers)

	if cfg.S3Bucket != "" {
		archiveStore, err := archive.New(ctx, archive.Config{Bucket: cfg.S3Bucket, Region: cfg.S3Region})
		if err != nil {
			log.Fatalf("sanctionswatch: s3 archive init failed: %v", err)
		}
		orch.WithArchiver(archiveStore)
	}

	tp, err := telemetry.New(ctx, telemetry.DefaultConfig())
	if err != nil {
		log.Printf("sanctionswatch: telemetry init failed, continuing without it: %v", err)
	} else {
		orch.WithTelemetry(tp)
		defer func() { _ = tp.Shutdown(context.Background()) }()
	}

	sources := sourceConfigs(cfg)

	scheduler := orchestrator.NewScheduler(orch, sources, time.Minute)
	go scheduler.Run(ctx)

	sourceByID := make(map[sanctions.Source]orchestrator.SourceConfig, len(sources))
	for _, s := range sources {
		sourceByID[s.Source] = s
	}

	var verifier *httpapi.Verifier
	if cfg.JWTPublicKeyPEM != "" {
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(cfg.JWTPublicKeyPEM))
		if err != nil {
			log.Fatalf("sanctionswatch: invalid JWT public key: %v", err)
		}
		verifier = httpapi.NewVerifier(func(*jwt.Token) (interface{}, error) { return key, nil })
	} else {
		log.Println("sanctionswatch: JWT_PUBLIC_KEY_PEM not set, request-triggered runs are disabled")
	}

	handler := httpapi.NewHandler(orch, verifier, sourceByID)
	mux := http.NewServeMux()
	mux.Handle("/runs/", handler)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: mux}
	go func() {
		log.Printf("sanctionswatch: listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("sanctionswatch: http server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("sanctionswatch: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, func()) {
	switch cfg.StorageDriver {
	case "sqlite":
		st, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			log.Fatalf("sanctionswatch: sqlite open failed: %v", err)
		}
		if err := st.Init(ctx); err != nil {
			log.Fatalf("sanctionswatch: sqlite schema init failed: %v", err)
		}
		return st, func() { _ = st.Close() }
	default:
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("sanctionswatch: postgres open failed: %v", err)
		}
		st := pgstore.New(db)
		if err := st.Init(ctx); err != nil {
			log.Fatalf("sanctionswatch: postgres schema init failed: %v", err)
		}
		return st, func() { _ = st.Close() }
	}
}

func sourceConfigs(cfg *config.Config) []orchestrator.SourceConfig {
	configs := make([]orchestrator.SourceConfig, 0, len(cfg.Sources))
	for source, s := range cfg.Sources {
		configs = append(configs, orchestrator.SourceConfig{
			Source: source,
			FetchConfig: fetch.Config{
				Source:         source,
				URL:            s.URL,
				UserAgent:      cfg.UserAgent,
				Timeout:        s.Timeout(),
				MinContentSize: s.MinContentSize,
				MaxContentSize: s.MaxContentSize,
				Format:         fetch.FormatXML,
			},
			Interval:      s.Interval(),
			MinEntities:   s.MinEntities,
			MaxRetries:    cfg.MaxRetries,
			BackoffFactor: cfg.BackoffFactor,
		})
	}
	return configs
}
