// Package sqlite implements store.Store over an embedded SQLite database via
// modernc.org/sqlite (a pure-Go driver, so cmd/sanctionswatch-run can ship as
// a single static binary for single-node / CI use, per SPEC_FULL.md §2). The
// schema and repository logic mirror pkg/store/postgres; differences are
// confined to SQL dialect (positional "?" placeholders, TEXT in place of
// JSONB and timestamps, INTEGER booleans, and a quoted NOT IN list in place
// of postgres's != ALL array parameter); SQLite serializes writers at the
// connection level.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sanctionswatch/core/pkg/sanctions"
	"github.com/sanctionswatch/core/pkg/store"
)

const schema = `
PRAGMA journal_mode = WAL;

CREATE TABLE IF NOT EXISTS sanctioned_entities (
	source            TEXT NOT NULL,
	uid               TEXT NOT NULL,
	entity_type       TEXT NOT NULL,
	name              TEXT NOT NULL,
	programs          TEXT NOT NULL DEFAULT '[]',
	aliases           TEXT NOT NULL DEFAULT '[]',
	addresses         TEXT NOT NULL DEFAULT '[]',
	personal_info     TEXT,
	nationalities     TEXT NOT NULL DEFAULT '[]',
	remarks           TEXT NOT NULL DEFAULT '',
	content_hash      TEXT NOT NULL,
	is_active         INTEGER NOT NULL DEFAULT 1,
	created_at        TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
	updated_at        TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
	PRIMARY KEY (source, uid)
);
CREATE INDEX IF NOT EXISTS idx_entities_source_active ON sanctioned_entities (source, is_active);

CREATE TABLE IF NOT EXISTS change_events (
	event_id              TEXT PRIMARY KEY,
	entity_uid            TEXT NOT NULL,
	entity_name           TEXT NOT NULL,
	source                TEXT NOT NULL,
	change_type           TEXT NOT NULL,
	risk_level            TEXT NOT NULL,
	field_changes         TEXT NOT NULL DEFAULT '[]',
	change_summary        TEXT NOT NULL DEFAULT '',
	old_content_hash      TEXT NOT NULL DEFAULT '',
	new_content_hash      TEXT NOT NULL DEFAULT '',
	detected_at           TEXT NOT NULL,
	scraper_run_id        TEXT NOT NULL,
	processing_time_ms    INTEGER NOT NULL DEFAULT 0,
	notification_sent_at  TEXT,
	notification_channels TEXT NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS idx_events_source_detected ON change_events (source, detected_at);
CREATE INDEX IF NOT EXISTS idx_events_risk_detected ON change_events (risk_level, detected_at);
CREATE INDEX IF NOT EXISTS idx_events_entity ON change_events (entity_uid);

CREATE TABLE IF NOT EXISTS content_snapshots (
	snapshot_id         TEXT PRIMARY KEY,
	source              TEXT NOT NULL,
	content_hash        TEXT NOT NULL,
	content_fingerprint TEXT NOT NULL DEFAULT '',
	content_size_bytes  INTEGER NOT NULL,
	snapshot_time       TEXT NOT NULL,
	scraper_run_id      TEXT NOT NULL,
	archive_path        TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_snapshots_source_time ON content_snapshots (source, snapshot_time);

CREATE TABLE IF NOT EXISTS scraper_runs (
	run_id                TEXT PRIMARY KEY,
	source                TEXT NOT NULL,
	started_at            TEXT NOT NULL,
	completed_at          TEXT,
	status                TEXT NOT NULL,
	source_url            TEXT NOT NULL DEFAULT '',
	content_hash          TEXT NOT NULL DEFAULT '',
	content_size_bytes    INTEGER NOT NULL DEFAULT 0,
	content_changed       INTEGER NOT NULL DEFAULT 0,
	entities_processed    INTEGER NOT NULL DEFAULT 0,
	entities_added        INTEGER NOT NULL DEFAULT 0,
	entities_modified     INTEGER NOT NULL DEFAULT 0,
	entities_removed      INTEGER NOT NULL DEFAULT 0,
	critical_risk_changes INTEGER NOT NULL DEFAULT 0,
	high_risk_changes     INTEGER NOT NULL DEFAULT 0,
	medium_risk_changes   INTEGER NOT NULL DEFAULT 0,
	low_risk_changes      INTEGER NOT NULL DEFAULT 0,
	download_ms           INTEGER NOT NULL DEFAULT 0,
	parsing_ms            INTEGER NOT NULL DEFAULT 0,
	diff_ms               INTEGER NOT NULL DEFAULT 0,
	storage_ms            INTEGER NOT NULL DEFAULT 0,
	error_message         TEXT NOT NULL DEFAULT '',
	retry_count           INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_runs_source_started ON scraper_runs (source, started_at);
CREATE INDEX IF NOT EXISTS idx_runs_status_started ON scraper_runs (status, started_at);
`

// Store is a SQLite-backed store.Store.
type Store struct {
	db *sql.DB
}

// Open opens (and creates, if absent) a SQLite database file at path.
// "?_pragma=foreign_keys(1)" style DSN options are the caller's concern; path
// is passed to modernc.org/sqlite as-is.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &sanctions.DatabaseError{Op: "open sqlite", Err: err}
	}
	// SQLite allows only one writer at a time; cap the pool so
	// database/sql doesn't hand out concurrent write connections that
	// would otherwise serialize behind SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	return &Store{db: db}, nil
}

func (s *Store) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return &sanctions.DatabaseError{Op: "init schema", Err: err}
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Begin(ctx context.Context) (store.UnitOfWork, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &sanctions.TransactionError{Op: "begin", Err: err}
	}
	return &unitOfWork{tx: tx}, nil
}

type unitOfWork struct {
	tx   *sql.Tx
	done bool
}

func (u *unitOfWork) Entities() store.EntityRepository          { return entityRepo{u.tx} }
func (u *unitOfWork) ChangeEvents() store.ChangeEventRepository { return changeEventRepo{u.tx} }
func (u *unitOfWork) ContentSnapshots() store.ContentSnapshotRepository {
	return snapshotRepo{u.tx}
}
func (u *unitOfWork) ScraperRuns() store.ScraperRunRepository { return runRepo{u.tx} }

func (u *unitOfWork) Commit(ctx context.Context) error {
	if u.done {
		return &sanctions.TransactionError{Op: "commit", Err: fmt.Errorf("unit of work already closed")}
	}
	u.done = true
	if err := u.tx.Commit(); err != nil {
		_ = u.tx.Rollback()
		return &sanctions.TransactionError{Op: "commit", Err: err}
	}
	return nil
}

func (u *unitOfWork) Rollback(ctx context.Context) error {
	if u.done {
		return &sanctions.TransactionError{Op: "rollback", Err: fmt.Errorf("unit of work already closed")}
	}
	u.done = true
	if err := u.tx.Rollback(); err != nil && err != sql.ErrTxDone {
		return &sanctions.TransactionError{Op: "rollback", Err: err}
	}
	return nil
}

func (u *unitOfWork) Health(ctx context.Context) error {
	for _, h := range []func(context.Context) error{
		u.Entities().HealthCheck,
		u.ChangeEvents().HealthCheck,
		u.ContentSnapshots().HealthCheck,
		u.ScraperRuns().HealthCheck,
	} {
		if err := h(ctx); err != nil {
			return err
		}
	}
	return nil
}

const timeLayout = "2006-01-02T15:04:05.000Z"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

type entityRepo struct{ tx *sql.Tx }

func (r entityRepo) ReplaceSourceData(ctx context.Context, source sanctions.Source, entities []*sanctions.SanctionedEntity) (store.ReplaceResult, error) {
	result := store.ReplaceResult{}

	existingActive := map[string]bool{}
	rows, err := r.tx.QueryContext(ctx, `SELECT uid FROM sanctioned_entities WHERE source = ? AND is_active = 1`, string(source))
	if err != nil {
		return result, &sanctions.DatabaseError{Op: "select active uids", Err: err}
	}
	for rows.Next() {
		var uid string
		if err := rows.Scan(&uid); err != nil {
			_ = rows.Close()
			return result, &sanctions.DatabaseError{Op: "scan uid", Err: err}
		}
		existingActive[uid] = true
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return result, &sanctions.DatabaseError{Op: "iterate uids", Err: err}
	}

	newUIDs := make([]string, 0, len(entities))
	now := formatTime(time.Now())
	for _, e := range entities {
		programs, _ := json.Marshal(e.Programs)
		aliases, _ := json.Marshal(e.Aliases)
		addresses, _ := json.Marshal(e.Addresses)
		nationalities, _ := json.Marshal(e.Nationalities)
		var personalInfo []byte
		if e.PersonalInfo != nil {
			personalInfo, _ = json.Marshal(e.PersonalInfo)
		}

		_, err := r.tx.ExecContext(ctx, `
			INSERT INTO sanctioned_entities
				(source, uid, entity_type, name, programs, aliases, addresses, personal_info, nationalities, remarks, content_hash, is_active, updated_at)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,1,?)
			ON CONFLICT (source, uid) DO UPDATE SET
				entity_type = excluded.entity_type,
				name = excluded.name,
				programs = excluded.programs,
				aliases = excluded.aliases,
				addresses = excluded.addresses,
				personal_info = excluded.personal_info,
				nationalities = excluded.nationalities,
				remarks = excluded.remarks,
				content_hash = excluded.content_hash,
				is_active = 1,
				updated_at = excluded.updated_at
		`, string(source), e.UID, string(e.EntityType), e.Name, string(programs), string(aliases), string(addresses),
			nullableString(personalInfo), string(nationalities), e.Remarks, e.ContentHash, now)
		if err != nil {
			return result, &sanctions.DatabaseError{Op: "upsert entity", Err: err}
		}

		newUIDs = append(newUIDs, e.UID)
		if existingActive[e.UID] {
			result.Updated++
		} else {
			result.Added++
		}
	}

	for uid := range existingActive {
		found := false
		for _, n := range newUIDs {
			if n == uid {
				found = true
				break
			}
		}
		if !found {
			result.Removed++
		}
	}

	exclude := "''"
	if len(newUIDs) > 0 {
		quoted := make([]string, len(newUIDs))
		for i, u := range newUIDs {
			quoted[i] = "'" + strings.ReplaceAll(u, "'", "''") + "'"
		}
		exclude = strings.Join(quoted, ",")
	}
	_, err = r.tx.ExecContext(ctx, fmt.Sprintf(
		`UPDATE sanctioned_entities SET is_active = 0, updated_at = ? WHERE source = ? AND uid NOT IN (%s) AND is_active = 1`, exclude,
	), now, string(source))
	if err != nil {
		return result, &sanctions.DatabaseError{Op: "mark inactive", Err: err}
	}

	return result, nil
}

func nullableString(b []byte) interface{} {
	if b == nil {
		return nil
	}
	return string(b)
}

func (r entityRepo) GetAllForChangeDetection(ctx context.Context, source sanctions.Source) ([]*sanctions.SanctionedEntity, error) {
	rows, err := r.tx.QueryContext(ctx, `
		SELECT uid, entity_type, name, programs, aliases, addresses, personal_info, nationalities, remarks, content_hash
		FROM sanctioned_entities WHERE source = ? AND is_active = 1`, string(source))
	if err != nil {
		return nil, &sanctions.DatabaseError{Op: "select active entities", Err: err}
	}
	defer rows.Close()

	var out []*sanctions.SanctionedEntity
	for rows.Next() {
		var e sanctions.SanctionedEntity
		e.Source = source
		var entityType, programs, aliases, addresses, nationalities string
		var personalInfo sql.NullString
		if err := rows.Scan(&e.UID, &entityType, &e.Name, &programs, &aliases, &addresses, &personalInfo, &nationalities, &e.Remarks, &e.ContentHash); err != nil {
			return nil, &sanctions.DatabaseError{Op: "scan entity", Err: err}
		}
		e.EntityType = sanctions.EntityType(entityType)
		_ = json.Unmarshal([]byte(programs), &e.Programs)
		_ = json.Unmarshal([]byte(aliases), &e.Aliases)
		_ = json.Unmarshal([]byte(addresses), &e.Addresses)
		_ = json.Unmarshal([]byte(nationalities), &e.Nationalities)
		if personalInfo.Valid {
			var pi sanctions.PersonalInfo
			_ = json.Unmarshal([]byte(personalInfo.String), &pi)
			e.PersonalInfo = &pi
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (r entityRepo) Statistics(ctx context.Context, source sanctions.Source) (store.Statistics, error) {
	stats := store.Statistics{BySource: map[sanctions.Source]int{}, ByType: map[sanctions.EntityType]int{}, GeneratedAt: time.Now().UTC()}

	where, args := "", []interface{}{}
	if source != "" {
		where, args = "WHERE source = ?", []interface{}{string(source)}
	}

	row := r.tx.QueryRowContext(ctx, fmt.Sprintf(`SELECT count(*), sum(is_active) FROM sanctioned_entities %s`, where), args...)
	var active sql.NullInt64
	if err := row.Scan(&stats.TotalEntities, &active); err != nil {
		return stats, &sanctions.DatabaseError{Op: "statistics totals", Err: err}
	}
	stats.ActiveEntities = int(active.Int64)
	stats.InactiveEntities = stats.TotalEntities - stats.ActiveEntities

	rows, err := r.tx.QueryContext(ctx, fmt.Sprintf(`SELECT source, count(*) FROM sanctioned_entities %s GROUP BY source`, where), args...)
	if err != nil {
		return stats, &sanctions.DatabaseError{Op: "statistics by source", Err: err}
	}
	for rows.Next() {
		var src string
		var n int
		if err := rows.Scan(&src, &n); err != nil {
			_ = rows.Close()
			return stats, &sanctions.DatabaseError{Op: "scan by source", Err: err}
		}
		stats.BySource[sanctions.Source(src)] = n
	}
	_ = rows.Close()

	rows, err = r.tx.QueryContext(ctx, fmt.Sprintf(`SELECT entity_type, count(*) FROM sanctioned_entities %s GROUP BY entity_type`, where), args...)
	if err != nil {
		return stats, &sanctions.DatabaseError{Op: "statistics by type", Err: err}
	}
	for rows.Next() {
		var t string
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			_ = rows.Close()
			return stats, &sanctions.DatabaseError{Op: "scan by type", Err: err}
		}
		stats.ByType[sanctions.EntityType(t)] = n
	}
	_ = rows.Close()

	return stats, rows.Err()
}

func (r entityRepo) HealthCheck(ctx context.Context) error {
	_, err := r.tx.ExecContext(ctx, `SELECT 1`)
	if err != nil {
		return &sanctions.DatabaseError{Op: "health check entities", Err: err}
	}
	return nil
}

type changeEventRepo struct{ tx *sql.Tx }

func (r changeEventRepo) CreateMany(ctx context.Context, events []*sanctions.ChangeEvent) error {
	for _, e := range events {
		fieldChanges, _ := json.Marshal(e.FieldChanges)
		channels, _ := json.Marshal(e.NotificationChannels)
		var sentAt interface{}
		if e.NotificationSentAt != nil {
			sentAt = formatTime(*e.NotificationSentAt)
		}
		_, err := r.tx.ExecContext(ctx, `
			INSERT INTO change_events
				(event_id, entity_uid, entity_name, source, change_type, risk_level, field_changes, change_summary,
				 old_content_hash, new_content_hash, detected_at, scraper_run_id, processing_time_ms, notification_sent_at, notification_channels)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		`, e.EventID, e.EntityUID, e.EntityName, string(e.Source), string(e.ChangeType), string(e.RiskLevel), string(fieldChanges),
			e.ChangeSummary, e.OldContentHash, e.NewContentHash, formatTime(e.DetectedAt), e.ScraperRunID, e.ProcessingTimeMs, sentAt, string(channels))
		if err != nil {
			return &sanctions.DatabaseError{Op: "insert change event", Err: err}
		}
	}
	return nil
}

func (r changeEventRepo) MarkNotified(ctx context.Context, eventIDs []string, sentAt time.Time, channels []string) error {
	channelsJSON, _ := json.Marshal(channels)
	for _, id := range eventIDs {
		_, err := r.tx.ExecContext(ctx, `UPDATE change_events SET notification_sent_at = ?, notification_channels = ? WHERE event_id = ?`, formatTime(sentAt), string(channelsJSON), id)
		if err != nil {
			return &sanctions.DatabaseError{Op: "mark notified", Err: err}
		}
	}
	return nil
}

func (r changeEventRepo) FindRecent(ctx context.Context, since time.Duration, source sanctions.Source, riskLevel sanctions.RiskLevel) ([]*sanctions.ChangeEvent, error) {
	cutoff := formatTime(time.Now().Add(-since))
	query := `SELECT event_id, entity_uid, entity_name, source, change_type, risk_level, change_summary, detected_at, scraper_run_id FROM change_events WHERE detected_at >= ?`
	args := []interface{}{cutoff}
	if source != "" {
		query += " AND source = ?"
		args = append(args, string(source))
	}
	if riskLevel != "" {
		query += " AND risk_level = ?"
		args = append(args, string(riskLevel))
	}
	rows, err := r.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &sanctions.DatabaseError{Op: "find recent change events", Err: err}
	}
	defer rows.Close()

	var out []*sanctions.ChangeEvent
	for rows.Next() {
		var e sanctions.ChangeEvent
		var src, ct, rl, detectedAt string
		if err := rows.Scan(&e.EventID, &e.EntityUID, &e.EntityName, &src, &ct, &rl, &e.ChangeSummary, &detectedAt, &e.ScraperRunID); err != nil {
			return nil, &sanctions.DatabaseError{Op: "scan change event", Err: err}
		}
		e.Source, e.ChangeType, e.RiskLevel = sanctions.Source(src), sanctions.ChangeType(ct), sanctions.RiskLevel(rl)
		e.DetectedAt = parseTime(detectedAt)
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (r changeEventRepo) CountByRiskLevel(ctx context.Context, since time.Time, source sanctions.Source) (map[sanctions.RiskLevel]int, error) {
	query := `SELECT risk_level, count(*) FROM change_events WHERE detected_at >= ?`
	args := []interface{}{formatTime(since)}
	if source != "" {
		query += " AND source = ?"
		args = append(args, string(source))
	}
	query += " GROUP BY risk_level"
	rows, err := r.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &sanctions.DatabaseError{Op: "count by risk level", Err: err}
	}
	defer rows.Close()
	out := map[sanctions.RiskLevel]int{}
	for rows.Next() {
		var rl string
		var n int
		if err := rows.Scan(&rl, &n); err != nil {
			return nil, &sanctions.DatabaseError{Op: "scan risk count", Err: err}
		}
		out[sanctions.RiskLevel(rl)] = n
	}
	return out, rows.Err()
}

func (r changeEventRepo) CountByChangeType(ctx context.Context, since time.Time, source sanctions.Source) (map[sanctions.ChangeType]int, error) {
	query := `SELECT change_type, count(*) FROM change_events WHERE detected_at >= ?`
	args := []interface{}{formatTime(since)}
	if source != "" {
		query += " AND source = ?"
		args = append(args, string(source))
	}
	query += " GROUP BY change_type"
	rows, err := r.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &sanctions.DatabaseError{Op: "count by change type", Err: err}
	}
	defer rows.Close()
	out := map[sanctions.ChangeType]int{}
	for rows.Next() {
		var ct string
		var n int
		if err := rows.Scan(&ct, &n); err != nil {
			return nil, &sanctions.DatabaseError{Op: "scan change type count", Err: err}
		}
		out[sanctions.ChangeType(ct)] = n
	}
	return out, rows.Err()
}

func (r changeEventRepo) FindByRiskLevel(ctx context.Context, risk sanctions.RiskLevel, since time.Time) ([]*sanctions.ChangeEvent, error) {
	rows, err := r.tx.QueryContext(ctx, `
		SELECT event_id, entity_uid, entity_name, source, change_type, risk_level, change_summary, detected_at, scraper_run_id
		FROM change_events WHERE risk_level = ? AND detected_at >= ?`, string(risk), formatTime(since))
	if err != nil {
		return nil, &sanctions.DatabaseError{Op: "find by risk level", Err: err}
	}
	defer rows.Close()
	var out []*sanctions.ChangeEvent
	for rows.Next() {
		var e sanctions.ChangeEvent
		var src, ct, rl, detectedAt string
		if err := rows.Scan(&e.EventID, &e.EntityUID, &e.EntityName, &src, &ct, &rl, &e.ChangeSummary, &detectedAt, &e.ScraperRunID); err != nil {
			return nil, &sanctions.DatabaseError{Op: "scan change event", Err: err}
		}
		e.Source, e.ChangeType, e.RiskLevel = sanctions.Source(src), sanctions.ChangeType(ct), sanctions.RiskLevel(rl)
		e.DetectedAt = parseTime(detectedAt)
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (r changeEventRepo) HealthCheck(ctx context.Context) error {
	_, err := r.tx.ExecContext(ctx, `SELECT 1`)
	if err != nil {
		return &sanctions.DatabaseError{Op: "health check change_events", Err: err}
	}
	return nil
}

type snapshotRepo struct{ tx *sql.Tx }

func (r snapshotRepo) Create(ctx context.Context, snap *sanctions.ContentSnapshot) error {
	if err := snap.Validate(); err != nil {
		return err
	}
	_, err := r.tx.ExecContext(ctx, `
		INSERT INTO content_snapshots (snapshot_id, source, content_hash, content_fingerprint, content_size_bytes, snapshot_time, scraper_run_id, archive_path)
		VALUES (?,?,?,?,?,?,?,?)
	`, snap.SnapshotID, string(snap.Source), snap.ContentHash, snap.ContentFingerprint, snap.ContentSizeBytes, formatTime(snap.SnapshotTime), snap.ScraperRunID, snap.ArchivePath)
	if err != nil {
		return &sanctions.DatabaseError{Op: "insert content snapshot", Err: err}
	}
	return nil
}

func (r snapshotRepo) GetLastContentHash(ctx context.Context, source sanctions.Source) (string, error) {
	var hash string
	err := r.tx.QueryRowContext(ctx, `
		SELECT content_hash FROM content_snapshots WHERE source = ? ORDER BY snapshot_time DESC LIMIT 1
	`, string(source)).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", &sanctions.DatabaseError{Op: "get last content hash", Err: err}
	}
	return hash, nil
}

func (r snapshotRepo) HealthCheck(ctx context.Context) error {
	_, err := r.tx.ExecContext(ctx, `SELECT 1`)
	if err != nil {
		return &sanctions.DatabaseError{Op: "health check content_snapshots", Err: err}
	}
	return nil
}

type runRepo struct{ tx *sql.Tx }

func (r runRepo) Create(ctx context.Context, run *sanctions.ScraperRun) error {
	if err := run.Validate(); err != nil {
		return err
	}
	_, err := r.tx.ExecContext(ctx, `
		INSERT INTO scraper_runs
			(run_id, source, started_at, status, source_url, content_hash, content_size_bytes, content_changed,
			 entities_processed, entities_added, entities_modified, entities_removed,
			 critical_risk_changes, high_risk_changes, medium_risk_changes, low_risk_changes,
			 download_ms, parsing_ms, diff_ms, storage_ms, error_message, retry_count)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
	`, run.RunID, string(run.Source), formatTime(run.StartedAt), string(run.Status), run.SourceURL, run.ContentHash, run.ContentSizeBytes, boolToInt(run.ContentChanged),
		run.EntitiesProcessed, run.EntitiesAdded, run.EntitiesModified, run.EntitiesRemoved,
		run.CriticalRiskChanges, run.HighRiskChanges, run.MediumRiskChanges, run.LowRiskChanges,
		run.Timings.DownloadMs, run.Timings.ParsingMs, run.Timings.DiffMs, run.Timings.StorageMs, run.ErrorMessage, run.RetryCount)
	if err != nil {
		return &sanctions.DatabaseError{Op: "insert scraper run", Err: err}
	}
	return nil
}

func (r runRepo) Update(ctx context.Context, run *sanctions.ScraperRun) error {
	if err := run.Validate(); err != nil {
		return err
	}
	var completedAt interface{}
	if run.CompletedAt != nil {
		completedAt = formatTime(*run.CompletedAt)
	}
	_, err := r.tx.ExecContext(ctx, `
		UPDATE scraper_runs SET
			completed_at = ?, status = ?, content_hash = ?, content_size_bytes = ?, content_changed = ?,
			entities_processed = ?, entities_added = ?, entities_modified = ?, entities_removed = ?,
			critical_risk_changes = ?, high_risk_changes = ?, medium_risk_changes = ?, low_risk_changes = ?,
			download_ms = ?, parsing_ms = ?, diff_ms = ?, storage_ms = ?, error_message = ?, retry_count = ?
		WHERE run_id = ?
	`, completedAt, string(run.Status), run.ContentHash, run.ContentSizeBytes, boolToInt(run.ContentChanged),
		run.EntitiesProcessed, run.EntitiesAdded, run.EntitiesModified, run.EntitiesRemoved,
		run.CriticalRiskChanges, run.HighRiskChanges, run.MediumRiskChanges, run.LowRiskChanges,
		run.Timings.DownloadMs, run.Timings.ParsingMs, run.Timings.DiffMs, run.Timings.StorageMs, run.ErrorMessage, run.RetryCount, run.RunID)
	if err != nil {
		return &sanctions.DatabaseError{Op: "update scraper run", Err: err}
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (r runRepo) GetLastSuccessfulRun(ctx context.Context, source sanctions.Source) (*sanctions.ScraperRun, error) {
	row := r.tx.QueryRowContext(ctx, `
		SELECT run_id, source, started_at, completed_at, status, content_hash, content_size_bytes
		FROM scraper_runs WHERE source = ? AND status = 'SUCCESS' ORDER BY started_at DESC LIMIT 1
	`, string(source))
	var run sanctions.ScraperRun
	var src, status, startedAt string
	var completedAt sql.NullString
	if err := row.Scan(&run.RunID, &src, &startedAt, &completedAt, &status, &run.ContentHash, &run.ContentSizeBytes); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, &sanctions.DatabaseError{Op: "get last successful run", Err: err}
	}
	run.Source, run.Status = sanctions.Source(src), sanctions.RunStatus(status)
	run.StartedAt = parseTime(startedAt)
	if completedAt.Valid {
		t := parseTime(completedAt.String)
		run.CompletedAt = &t
	}
	return &run, nil
}

func (r runRepo) FindRecent(ctx context.Context, since time.Duration, source sanctions.Source) ([]*sanctions.ScraperRun, error) {
	cutoff := formatTime(time.Now().Add(-since))
	query := `SELECT run_id, source, started_at, status FROM scraper_runs WHERE started_at >= ?`
	args := []interface{}{cutoff}
	if source != "" {
		query += " AND source = ?"
		args = append(args, string(source))
	}
	rows, err := r.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &sanctions.DatabaseError{Op: "find recent runs", Err: err}
	}
	defer rows.Close()
	var out []*sanctions.ScraperRun
	for rows.Next() {
		var run sanctions.ScraperRun
		var src, status, startedAt string
		if err := rows.Scan(&run.RunID, &src, &startedAt, &status); err != nil {
			return nil, &sanctions.DatabaseError{Op: "scan run", Err: err}
		}
		run.Source, run.Status = sanctions.Source(src), sanctions.RunStatus(status)
		run.StartedAt = parseTime(startedAt)
		out = append(out, &run)
	}
	return out, rows.Err()
}

// TryClaim relies on SQLite's single-writer model plus the primary key's
// implicit uniqueness guard: the conditional INSERT...SELECT...WHERE NOT
// EXISTS only succeeds when no RUNNING row exists for source, same as
// pkg/store/postgres. No FOR UPDATE SKIP LOCKED equivalent is needed since
// SQLite serializes all writers within one connection.
func (r runRepo) TryClaim(ctx context.Context, run *sanctions.ScraperRun) (bool, error) {
	res, err := r.tx.ExecContext(ctx, `
		INSERT INTO scraper_runs (run_id, source, started_at, status)
		SELECT ?, ?, ?, 'RUNNING'
		WHERE NOT EXISTS (SELECT 1 FROM scraper_runs WHERE source = ? AND status = 'RUNNING')
	`, run.RunID, string(run.Source), formatTime(run.StartedAt), string(run.Source))
	if err != nil {
		return false, &sanctions.DatabaseError{Op: "try claim run", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, &sanctions.DatabaseError{Op: "try claim rows affected", Err: err}
	}
	return n == 1, nil
}

func (r runRepo) HealthCheck(ctx context.Context) error {
	_, err := r.tx.ExecContext(ctx, `SELECT 1`)
	if err != nil {
		return &sanctions.DatabaseError{Op: "health check scraper_runs", Err: err}
	}
	return nil
}
