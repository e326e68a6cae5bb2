// Package config loads sanctionswatch's runtime configuration: 12-factor
// env vars for the core knobs, following the teacher's config.Load, plus
// optional per-source YAML profile overrides (LoadSourceProfiles) validated
// against a JSON Schema before the orchestrator starts, following the
// teacher's config.LoadAllProfiles / firewall.PolicyFirewall pattern.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/sanctionswatch/core/pkg/sanctions"
)

// SourceSettings is the per-source cadence/fetch tuning spec §4.A/§4.G names.
type SourceSettings struct {
	URL            string
	IntervalHours  int
	TimeoutSeconds int
	MinContentSize int64
	MaxContentSize int64
	MinEntities    int
}

// Interval returns the configured polling interval for source.
func (s SourceSettings) Interval() time.Duration {
	return time.Duration(s.IntervalHours) * time.Hour
}

// Timeout returns the configured per-fetch timeout for source.
func (s SourceSettings) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// Config is the single immutable configuration value the orchestrator and
// cmd/ entrypoints are built from.
type Config struct {
	DatabaseURL   string
	SQLitePath    string // used instead of DatabaseURL when StorageDriver == "sqlite"
	StorageDriver string // "postgres" | "sqlite"

	UserAgent        string
	ParallelScrapers int
	MaxRetries       int
	BackoffFactor    float64

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	JWTPublicKeyPEM string
	HTTPAddr        string

	S3Bucket string
	S3Region string

	Sources map[sanctions.Source]SourceSettings
}

// Load reads Config from environment variables, applying the spec's
// documented defaults (spec §4.A/§4.G) where a variable is unset.
func Load() *Config {
	cfg := &Config{
		DatabaseURL:      getenv("DATABASE_URL", "postgres://sanctionswatch@localhost:5432/sanctionswatch?sslmode=disable"),
		SQLitePath:       getenv("SQLITE_PATH", "sanctionswatch.db"),
		StorageDriver:    getenv("STORAGE_DRIVER", "postgres"),
		UserAgent:        getenv("USER_AGENT", "sanctionswatch/1.0"),
		ParallelScrapers: getenvInt("PARALLEL_SCRAPERS", 3),
		MaxRetries:       getenvInt("MAX_RETRIES", 3),
		BackoffFactor:    getenvFloat("BACKOFF_FACTOR", 0.3),
		RedisAddr:        getenv("REDIS_ADDR", ""),
		RedisPassword:    getenv("REDIS_PASSWORD", ""),
		RedisDB:          getenvInt("REDIS_DB", 0),
		JWTPublicKeyPEM:  getenv("JWT_PUBLIC_KEY_PEM", ""),
		HTTPAddr:         getenv("HTTP_ADDR", ":8090"),
		S3Bucket:         getenv("S3_BUCKET", ""),
		S3Region:         getenv("S3_REGION", "us-east-1"),
	}

	cfg.Sources = map[sanctions.Source]SourceSettings{
		sanctions.SourceOFAC: {
			URL:            getenv("OFAC_URL", "https://www.treasury.gov/ofac/downloads/sdn.xml"),
			IntervalHours:  getenvInt("OFAC_INTERVAL_HOURS", 6),
			TimeoutSeconds: getenvInt("OFAC_TIMEOUT_SECONDS", 120),
			MinContentSize: getenvInt64("OFAC_MIN_CONTENT_SIZE", 1000),
			MaxContentSize: getenvInt64("OFAC_MAX_CONTENT_SIZE", 0),
			MinEntities:    getenvInt("OFAC_MIN_ENTITIES", 100),
		},
		sanctions.SourceUN: {
			URL:            getenv("UN_URL", "https://scsanctions.un.org/resources/xml/en/consolidated.xml"),
			IntervalHours:  getenvInt("UN_INTERVAL_HOURS", 24),
			TimeoutSeconds: getenvInt("UN_TIMEOUT_SECONDS", 120),
			MinContentSize: getenvInt64("UN_MIN_CONTENT_SIZE", 1000),
			MaxContentSize: getenvInt64("UN_MAX_CONTENT_SIZE", 0),
			MinEntities:    getenvInt("UN_MIN_ENTITIES", 100),
		},
		sanctions.SourceEU: {
			URL:            getenv("EU_URL", "https://webgate.ec.europa.eu/fsd/fsf/public/files/xmlFullSanctionsList/content"),
			IntervalHours:  getenvInt("EU_INTERVAL_HOURS", 24),
			TimeoutSeconds: getenvInt("EU_TIMEOUT_SECONDS", 120),
			MinContentSize: getenvInt64("EU_MIN_CONTENT_SIZE", 1000),
			MaxContentSize: getenvInt64("EU_MAX_CONTENT_SIZE", 0),
			MinEntities:    getenvInt("EU_MIN_ENTITIES", 100),
		},
		sanctions.SourceUKHMT: {
			URL:            getenv("UK_URL", "https://ofsistorage.blob.core.windows.net/publishlive/ConsolidatedList.xml"),
			IntervalHours:  getenvInt("UK_INTERVAL_HOURS", 24),
			TimeoutSeconds: getenvInt("UK_TIMEOUT_SECONDS", 120),
			MinContentSize: getenvInt64("UK_MIN_CONTENT_SIZE", 1000),
			MaxContentSize: getenvInt64("UK_MAX_CONTENT_SIZE", 0),
			MinEntities:    getenvInt("UK_MIN_ENTITIES", 100),
		},
	}

	return cfg
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getenvInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
