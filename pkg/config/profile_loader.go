package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// SourceProfile is a YAML override for one source's SourceSettings, letting
// operators retune cadence/fetch limits per deployment without an env-var
// explosion, following the teacher's config.RegionalProfile /
// LoadAllProfiles pattern (one YAML file per named profile, globbed from a
// directory).
type SourceProfile struct {
	Source         string `yaml:"source" json:"source"`
	URL            string `yaml:"url" json:"url"`
	IntervalHours  int    `yaml:"interval_hours" json:"interval_hours,omitempty"`
	TimeoutSeconds int    `yaml:"timeout_seconds" json:"timeout_seconds,omitempty"`
	MinContentSize int64  `yaml:"min_content_size" json:"min_content_size,omitempty"`
	MaxContentSize int64  `yaml:"max_content_size" json:"max_content_size,omitempty"`
	MinEntities    int    `yaml:"min_entities" json:"min_entities,omitempty"`
}

// profileSchema is the JSON Schema every loaded profile is validated
// against before it is applied, following the teacher's
// firewall.PolicyFirewall.AllowTool schema-compile-then-validate pattern.
const profileSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["source", "url"],
	"properties": {
		"source": {"type": "string", "enum": ["OFAC", "UN", "EU", "UK_HMT"]},
		"url": {"type": "string", "minLength": 1},
		"interval_hours": {"type": "integer", "minimum": 1},
		"timeout_seconds": {"type": "integer", "minimum": 1},
		"min_content_size": {"type": "integer", "minimum": 0},
		"max_content_size": {"type": "integer", "minimum": 0},
		"min_entities": {"type": "integer", "minimum": 0}
	}
}`

func compileProfileSchema() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := "https://sanctionswatch.local/config/source_profile.schema.json"
	if err := c.AddResource(url, strings.NewReader(profileSchema)); err != nil {
		return nil, fmt.Errorf("profile schema load: %w", err)
	}
	return c.Compile(url)
}

// LoadSourceProfile loads and validates sources_<name>.yaml from profilesDir.
func LoadSourceProfile(profilesDir, name string) (*SourceProfile, error) {
	name = strings.ToLower(name)
	path := filepath.Join(profilesDir, fmt.Sprintf("sources_%s.yaml", name))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", name, err)
	}

	var profile SourceProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", name, err)
	}
	if err := validateProfile(profile); err != nil {
		return nil, fmt.Errorf("validate profile %q: %w", name, err)
	}
	return &profile, nil
}

// LoadSourceProfiles loads and validates every sources_*.yaml file in
// profilesDir, returning them keyed by their Source field.
func LoadSourceProfiles(profilesDir string) (map[string]*SourceProfile, error) {
	matches, err := filepath.Glob(filepath.Join(profilesDir, "sources_*.yaml"))
	if err != nil {
		return nil, err
	}

	profiles := make(map[string]*SourceProfile, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}

		var profile SourceProfile
		if err := yaml.Unmarshal(data, &profile); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		if err := validateProfile(profile); err != nil {
			return nil, fmt.Errorf("validate %s: %w", path, err)
		}
		profiles[profile.Source] = &profile
	}

	return profiles, nil
}

// validateProfile converts profile to JSON and checks it against
// profileSchema; a profile failing schema validation is rejected before it
// can reach the orchestrator.
func validateProfile(profile SourceProfile) error {
	schema, err := compileProfileSchema()
	if err != nil {
		return err
	}
	raw, err := json.Marshal(profile)
	if err != nil {
		return err
	}
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	return schema.Validate(doc)
}

// ApplyTo overlays a non-zero-valued profile onto the default
// SourceSettings for its source.
func (p *SourceProfile) ApplyTo(s SourceSettings) SourceSettings {
	if p.URL != "" {
		s.URL = p.URL
	}
	if p.IntervalHours > 0 {
		s.IntervalHours = p.IntervalHours
	}
	if p.TimeoutSeconds > 0 {
		s.TimeoutSeconds = p.TimeoutSeconds
	}
	if p.MinContentSize > 0 {
		s.MinContentSize = p.MinContentSize
	}
	if p.MaxContentSize > 0 {
		s.MaxContentSize = p.MaxContentSize
	}
	if p.MinEntities > 0 {
		s.MinEntities = p.MinEntities
	}
	return s
}
