package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanctionswatch/core/pkg/config"
)

func writeProfile(t *testing.T, dir, name, yaml string) {
	t.Helper()
	err := os.WriteFile(filepath.Join(dir, "sources_"+name+".yaml"), []byte(yaml), 0o644)
	require.NoError(t, err)
}

func TestLoadSourceProfile_Valid(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "ofac", `
source: OFAC
url: https://example.test/sdn.xml
interval_hours: 3
min_entities: 50
`)

	p, err := config.LoadSourceProfile(dir, "ofac")
	require.NoError(t, err)
	assert.Equal(t, "OFAC", p.Source)
	assert.Equal(t, "https://example.test/sdn.xml", p.URL)
	assert.Equal(t, 3, p.IntervalHours)
	assert.Equal(t, 50, p.MinEntities)
}

func TestLoadSourceProfile_MissingRequiredField(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "un", `
source: UN
interval_hours: 24
`)

	_, err := config.LoadSourceProfile(dir, "un")
	assert.Error(t, err)
}

func TestLoadSourceProfile_InvalidSourceEnum(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "bogus", `
source: NOT_A_SOURCE
url: https://example.test/list.xml
`)

	_, err := config.LoadSourceProfile(dir, "bogus")
	assert.Error(t, err)
}

func TestLoadSourceProfile_NotFound(t *testing.T) {
	dir := t.TempDir()
	_, err := config.LoadSourceProfile(dir, "missing")
	assert.Error(t, err)
}

func TestLoadSourceProfiles_Multiple(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "ofac", "source: OFAC\nurl: https://example.test/sdn.xml\n")
	writeProfile(t, dir, "eu", "source: EU\nurl: https://example.test/eu.xml\n")

	profiles, err := config.LoadSourceProfiles(dir)
	require.NoError(t, err)
	assert.Len(t, profiles, 2)
	assert.Equal(t, "https://example.test/sdn.xml", profiles["OFAC"].URL)
	assert.Equal(t, "https://example.test/eu.xml", profiles["EU"].URL)
}

func TestSourceProfile_ApplyTo(t *testing.T) {
	base := config.SourceSettings{
		URL:           "https://default.test/list.xml",
		IntervalHours: 24,
		MinEntities:   100,
	}
	profile := &config.SourceProfile{
		IntervalHours: 12,
	}

	overridden := profile.ApplyTo(base)
	assert.Equal(t, "https://default.test/list.xml", overridden.URL)
	assert.Equal(t, 12, overridden.IntervalHours)
	assert.Equal(t, 100, overridden.MinEntities)
}
