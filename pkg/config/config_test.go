package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sanctionswatch/core/pkg/config"
	"github.com/sanctionswatch/core/pkg/sanctions"
)

// TestLoad_Defaults verifies that Load() returns sensible defaults when no
// environment variables are set.
// Invariant: the system must boot with safe defaults in dev mode.
func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"DATABASE_URL", "PARALLEL_SCRAPERS", "MAX_RETRIES", "BACKOFF_FACTOR", "OFAC_INTERVAL_HOURS", "OFAC_MIN_ENTITIES"} {
		t.Setenv(k, "")
	}

	cfg := config.Load()

	assert.Contains(t, cfg.DatabaseURL, "sanctionswatch")
	assert.Equal(t, 3, cfg.ParallelScrapers)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.InDelta(t, 0.3, cfg.BackoffFactor, 0.0001)
	assert.Equal(t, 6, cfg.Sources[sanctions.SourceOFAC].IntervalHours)
	assert.Equal(t, 100, cfg.Sources[sanctions.SourceOFAC].MinEntities)
	assert.Equal(t, 24, cfg.Sources[sanctions.SourceUN].IntervalHours)
}

// TestLoad_Overrides verifies that environment variables correctly override
// default values.
// Invariant: ops can control config via standard 12-factor env vars.
func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PARALLEL_SCRAPERS", "9")
	t.Setenv("MAX_RETRIES", "5")
	t.Setenv("BACKOFF_FACTOR", "0.5")
	t.Setenv("OFAC_INTERVAL_HOURS", "12")
	t.Setenv("OFAC_URL", "https://example.test/sdn.xml")

	cfg := config.Load()

	assert.Equal(t, 9, cfg.ParallelScrapers)
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.InDelta(t, 0.5, cfg.BackoffFactor, 0.0001)
	assert.Equal(t, 12, cfg.Sources[sanctions.SourceOFAC].IntervalHours)
	assert.Equal(t, "https://example.test/sdn.xml", cfg.Sources[sanctions.SourceOFAC].URL)
}
