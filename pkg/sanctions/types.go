// Package sanctions defines the canonical entity model shared by every
// source parser, the differ, the risk classifier, and the store: Source,
// SanctionedEntity, ChangeEvent, ContentSnapshot and ScraperRun.
package sanctions

import (
	"sort"
	"strings"
	"time"

	"github.com/sanctionswatch/core/pkg/sanctions/canon"
)

// Source identifies a single upstream sanctions authority.
type Source string

const (
	SourceOFAC   Source = "OFAC"
	SourceUN     Source = "UN"
	SourceEU     Source = "EU"
	SourceUKHMT  Source = "UK_HMT"
)

// Valid reports whether s is one of the four known sources.
func (s Source) Valid() bool {
	switch s {
	case SourceOFAC, SourceUN, SourceEU, SourceUKHMT:
		return true
	}
	return false
}

// EntityType classifies the kind of sanctioned party.
type EntityType string

const (
	EntityPerson  EntityType = "PERSON"
	EntityCompany EntityType = "COMPANY"
	EntityVessel  EntityType = "VESSEL"
	EntityAircraft EntityType = "AIRCRAFT"
	EntityOther   EntityType = "OTHER"
)

// HighRiskPrograms is the fixed set of programs that elevate risk on ADDED
// entities regardless of entity type (spec §4.D).
var HighRiskPrograms = map[string]bool{
	"SDGT":         true,
	"TERRORISM":    true,
	"PROLIFERATION": true,
	"CYBER":        true,
}

// Address is a value object; at least one of Street, City or Country must be
// non-empty.
type Address struct {
	Street        string `json:"street,omitempty"`
	City          string `json:"city,omitempty"`
	StateProvince string `json:"state_province,omitempty"`
	PostalCode    string `json:"postal_code,omitempty"`
	Country       string `json:"country,omitempty"`
}

// normalized returns a copy of a with every field trimmed.
func (a Address) normalized() Address {
	return Address{
		Street:        strings.TrimSpace(a.Street),
		City:          strings.TrimSpace(a.City),
		StateProvince: strings.TrimSpace(a.StateProvince),
		PostalCode:    strings.TrimSpace(a.PostalCode),
		Country:       strings.TrimSpace(a.Country),
	}
}

func (a Address) empty() bool {
	return a.Street == "" && a.City == "" && a.Country == ""
}

// canonicalString renders the address the way the Differ compares it: a
// single normalized string, so address equality is insensitive to field
// order changes between source revisions.
func (a Address) canonicalString() string {
	parts := make([]string, 0, 5)
	for _, p := range []string{a.Street, a.City, a.StateProvince, a.PostalCode, a.Country} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// PersonalInfo is only meaningful when EntityType == PERSON.
type PersonalInfo struct {
	FirstName     string `json:"first_name,omitempty"`
	LastName      string `json:"last_name,omitempty"`
	DateOfBirth   string `json:"date_of_birth,omitempty"` // YYYY-MM-DD or YYYY
	PlaceOfBirth  string `json:"place_of_birth,omitempty"`
	Nationality   string `json:"nationality,omitempty"`
}

func (p *PersonalInfo) normalized() *PersonalInfo {
	if p == nil {
		return nil
	}
	n := PersonalInfo{
		FirstName:    strings.TrimSpace(p.FirstName),
		LastName:     strings.TrimSpace(p.LastName),
		DateOfBirth:  strings.TrimSpace(p.DateOfBirth),
		PlaceOfBirth: strings.TrimSpace(p.PlaceOfBirth),
		Nationality:  strings.TrimSpace(p.Nationality),
	}
	return &n
}

// SanctionedEntity is a sanctioned individual or organization, normalized
// into the canonical model shared by all parsers.
type SanctionedEntity struct {
	UID          string       `json:"uid"`
	Source       Source       `json:"source"`
	EntityType   EntityType   `json:"entity_type"`
	Name         string       `json:"name"`
	Programs     []string     `json:"programs"`
	Aliases      []string     `json:"aliases"`
	Addresses    []Address    `json:"addresses"`
	PersonalInfo *PersonalInfo `json:"personal_info,omitempty"`
	Nationalities []string    `json:"nationalities"`
	Remarks      string       `json:"remarks,omitempty"`

	// ContentHash is derived: a deterministic fingerprint over the
	// canonical fields above, computed by Canonicalize.
	ContentHash string `json:"content_hash"`
}

// Canonicalize normalizes e in place per spec §3: trims strings, uppercases
// programs, dedups set-valued fields (preserving first-encounter order for
// sequence fields), validates invariants, and (re)computes ContentHash. It
// must be called by every parser before an entity is considered canonical.
func (e *SanctionedEntity) Canonicalize() error {
	e.UID = strings.TrimSpace(e.UID)
	e.Name = strings.TrimSpace(e.Name)
	e.Remarks = strings.TrimSpace(e.Remarks)
	e.Programs = dedupUpper(e.Programs)
	e.Aliases = dedupTrim(e.Aliases)
	e.Nationalities = dedupTrim(e.Nationalities)
	e.PersonalInfo = e.PersonalInfo.normalized()

	addrs := make([]Address, 0, len(e.Addresses))
	seen := map[string]bool{}
	for _, a := range e.Addresses {
		na := a.normalized()
		if na.empty() {
			continue
		}
		key := na.canonicalString()
		if seen[key] {
			continue
		}
		seen[key] = true
		addrs = append(addrs, na)
	}
	e.Addresses = addrs

	if e.UID == "" {
		return &ValidationError{Field: "uid", Reason: "must not be empty"}
	}
	if e.Name == "" || len(e.Name) > 500 {
		return &ValidationError{Field: "name", Reason: "must be 1..500 chars"}
	}
	if !e.Source.Valid() {
		return &ValidationError{Field: "source", Reason: "unknown source " + string(e.Source)}
	}
	if e.PersonalInfo != nil && e.EntityType != EntityPerson {
		return &ValidationError{Field: "personal_info", Reason: "only valid when entity_type == PERSON"}
	}

	hash, err := canon.Hash(canonicalFields(e))
	if err != nil {
		return err
	}
	e.ContentHash = hash
	return nil
}

// canonicalFields is the exact field subset the content hash and the
// Differ's field-level comparison are both computed over.
func canonicalFields(e *SanctionedEntity) map[string]interface{} {
	addrs := make([]string, 0, len(e.Addresses))
	for _, a := range e.Addresses {
		addrs = append(addrs, a.canonicalString())
	}
	sort.Strings(addrs)

	m := map[string]interface{}{
		"uid":           e.UID,
		"source":        string(e.Source),
		"entity_type":   string(e.EntityType),
		"name":          e.Name,
		"programs":      sortedCopy(e.Programs),
		"aliases":       sortedCopy(e.Aliases),
		"addresses":     addrs,
		"nationalities": sortedCopy(e.Nationalities),
		"remarks":       e.Remarks,
	}
	if e.PersonalInfo != nil {
		m["personal_info"] = map[string]interface{}{
			"first_name":     e.PersonalInfo.FirstName,
			"last_name":      e.PersonalInfo.LastName,
			"date_of_birth":  e.PersonalInfo.DateOfBirth,
			"place_of_birth": e.PersonalInfo.PlaceOfBirth,
			"nationality":    e.PersonalInfo.Nationality,
		}
	}
	return m
}

func dedupUpper(in []string) []string {
	out := make([]string, 0, len(in))
	seen := map[string]bool{}
	for _, s := range in {
		v := strings.ToUpper(strings.TrimSpace(s))
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

func dedupTrim(in []string) []string {
	out := make([]string, 0, len(in))
	seen := map[string]bool{}
	for _, s := range in {
		v := strings.TrimSpace(s)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

func sortedCopy(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}

// ChangeType enumerates the three kinds of per-entity change the Differ
// emits.
type ChangeType string

const (
	ChangeAdded    ChangeType = "ADDED"
	ChangeModified ChangeType = "MODIFIED"
	ChangeRemoved  ChangeType = "REMOVED"
)

// RiskLevel is an ordinal classification driving notification routing:
// LOW < MEDIUM < HIGH < CRITICAL.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

var riskOrder = map[RiskLevel]int{
	RiskLow:      0,
	RiskMedium:   1,
	RiskHigh:     2,
	RiskCritical: 3,
}

// Higher returns the higher of a and b ("risk never downgrades").
func Higher(a, b RiskLevel) RiskLevel {
	if riskOrder[b] > riskOrder[a] {
		return b
	}
	return a
}

// FieldKind classifies one field-level change.
type FieldKind string

const (
	FieldAdded    FieldKind = "added"
	FieldRemoved  FieldKind = "removed"
	FieldModified FieldKind = "modified"
)

// FieldChange is one field-level diff computed by the Differ.
type FieldChange struct {
	FieldName string    `json:"field_name"`
	OldValue  []string  `json:"old_value"`
	NewValue  []string  `json:"new_value"`
	Kind      FieldKind `json:"kind"`
}

// ChangeEvent is a detected change for one entity in one run.
type ChangeEvent struct {
	EventID              string        `json:"event_id"`
	EntityUID            string        `json:"entity_uid"`
	EntityName           string        `json:"entity_name"`
	Source               Source        `json:"source"`
	ChangeType           ChangeType    `json:"change_type"`
	RiskLevel            RiskLevel     `json:"risk_level"`
	FieldChanges         []FieldChange `json:"field_changes"`
	ChangeSummary        string        `json:"change_summary"`
	OldContentHash       string        `json:"old_content_hash"`
	NewContentHash       string        `json:"new_content_hash"`
	DetectedAt           time.Time     `json:"detected_at"`
	ScraperRunID         string        `json:"scraper_run_id"`
	ProcessingTimeMs     int64         `json:"processing_time_ms"`
	NotificationSentAt   *time.Time    `json:"notification_sent_at,omitempty"`
	NotificationChannels []string      `json:"notification_channels"`
}

// ContentSnapshot is the fingerprint of one raw fetch.
type ContentSnapshot struct {
	SnapshotID         string    `json:"snapshot_id"`
	Source             Source    `json:"source"`
	ContentHash        string    `json:"content_hash"`
	ContentFingerprint string    `json:"content_fingerprint,omitempty"`
	ContentSizeBytes   int64     `json:"content_size_bytes"`
	SnapshotTime       time.Time `json:"snapshot_time"`
	ScraperRunID       string    `json:"scraper_run_id"`
	ArchivePath        string    `json:"archive_path,omitempty"`
}

// Validate enforces ContentSnapshot's invariants.
func (c ContentSnapshot) Validate() error {
	if c.ContentHash == "" {
		return &ValidationError{Field: "content_hash", Reason: "must not be empty"}
	}
	if c.ContentSizeBytes <= 0 {
		return &ValidationError{Field: "content_size_bytes", Reason: "must be > 0"}
	}
	return nil
}

// RunStatus is the terminal (or running) state of a ScraperRun.
type RunStatus string

const (
	RunRunning RunStatus = "RUNNING"
	RunSuccess RunStatus = "SUCCESS"
	RunFailed  RunStatus = "FAILED"
	RunPartial RunStatus = "PARTIAL"
	RunSkipped RunStatus = "SKIPPED"
)

// Terminal reports whether s is one of the four terminal states.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunSuccess, RunFailed, RunPartial, RunSkipped:
		return true
	}
	return false
}

// StageTimings holds per-stage duration in milliseconds.
type StageTimings struct {
	DownloadMs int64 `json:"download_ms"`
	ParsingMs  int64 `json:"parsing_ms"`
	DiffMs     int64 `json:"diff_ms"`
	StorageMs  int64 `json:"storage_ms"`
}

// ScraperRun is one execution of the pipeline for one source.
type ScraperRun struct {
	RunID       string     `json:"run_id"`
	Source      Source     `json:"source"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Status      RunStatus  `json:"status"`

	SourceURL        string `json:"source_url"`
	ContentHash      string `json:"content_hash"`
	ContentSizeBytes int64  `json:"content_size_bytes"`
	ContentChanged   bool   `json:"content_changed"`

	EntitiesProcessed int `json:"entities_processed"`
	EntitiesAdded     int `json:"entities_added"`
	EntitiesModified  int `json:"entities_modified"`
	EntitiesRemoved   int `json:"entities_removed"`

	CriticalRiskChanges int `json:"critical_risk_changes"`
	HighRiskChanges     int `json:"high_risk_changes"`
	MediumRiskChanges   int `json:"medium_risk_changes"`
	LowRiskChanges      int `json:"low_risk_changes"`

	Timings StageTimings `json:"timings"`

	ErrorMessage string `json:"error_message,omitempty"`
	RetryCount   int    `json:"retry_count"`
}

// Validate enforces the SKIPPED/content_changed invariant resolved in
// SPEC_FULL.md §5 (an Open Question the distilled spec left unenforced).
func (r ScraperRun) Validate() error {
	if r.Status == RunSkipped && r.ContentChanged {
		return &ValidationError{Field: "content_changed", Reason: "must be false when status is SKIPPED"}
	}
	return nil
}

// CanTransitionTo enforces ScraperRun.status monotonicity: RUNNING -> exactly
// one terminal state; terminal -> terminal is never allowed.
func (r ScraperRun) CanTransitionTo(next RunStatus) bool {
	if r.Status.Terminal() {
		return false
	}
	return next.Terminal() || (r.Status == "" && next == RunRunning)
}
