// Package postgres implements store.Store over PostgreSQL via
// database/sql and github.com/lib/pq, following the teacher's
// store/ledger.PostgresLedger: explicit SQL, sql.NullString/sql.NullTime for
// optional columns, hand-written schema DDL run via Init(ctx), and careful
// WHERE-clause scoping so no repository method performs a global table
// scan (spec §4.E).
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/sanctionswatch/core/pkg/sanctions"
	"github.com/sanctionswatch/core/pkg/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS sanctioned_entities (
	source            TEXT NOT NULL,
	uid               TEXT NOT NULL,
	entity_type       TEXT NOT NULL,
	name              TEXT NOT NULL,
	programs          JSONB NOT NULL DEFAULT '[]',
	aliases           JSONB NOT NULL DEFAULT '[]',
	addresses         JSONB NOT NULL DEFAULT '[]',
	personal_info     JSONB,
	nationalities     JSONB NOT NULL DEFAULT '[]',
	remarks           TEXT NOT NULL DEFAULT '',
	content_hash      TEXT NOT NULL,
	is_active         BOOLEAN NOT NULL DEFAULT true,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
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
	field_changes         JSONB NOT NULL DEFAULT '[]',
	change_summary        TEXT NOT NULL DEFAULT '',
	old_content_hash      TEXT NOT NULL DEFAULT '',
	new_content_hash      TEXT NOT NULL DEFAULT '',
	detected_at           TIMESTAMPTZ NOT NULL,
	scraper_run_id        TEXT NOT NULL,
	processing_time_ms    BIGINT NOT NULL DEFAULT 0,
	notification_sent_at  TIMESTAMPTZ,
	notification_channels JSONB NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS idx_events_source_detected ON change_events (source, detected_at);
CREATE INDEX IF NOT EXISTS idx_events_risk_detected ON change_events (risk_level, detected_at);
CREATE INDEX IF NOT EXISTS idx_events_entity ON change_events (entity_uid);
CREATE INDEX IF NOT EXISTS idx_events_run ON change_events (scraper_run_id);

CREATE TABLE IF NOT EXISTS content_snapshots (
	snapshot_id         TEXT PRIMARY KEY,
	source              TEXT NOT NULL,
	content_hash        TEXT NOT NULL,
	content_fingerprint TEXT NOT NULL DEFAULT '',
	content_size_bytes  BIGINT NOT NULL,
	snapshot_time       TIMESTAMPTZ NOT NULL,
	scraper_run_id      TEXT NOT NULL,
	archive_path        TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_snapshots_source_time ON content_snapshots (source, snapshot_time);
CREATE INDEX IF NOT EXISTS idx_snapshots_hash ON content_snapshots (content_hash);

CREATE TABLE IF NOT EXISTS scraper_runs (
	run_id                TEXT PRIMARY KEY,
	source                TEXT NOT NULL,
	started_at            TIMESTAMPTZ NOT NULL,
	completed_at          TIMESTAMPTZ,
	status                TEXT NOT NULL,
	source_url            TEXT NOT NULL DEFAULT '',
	content_hash          TEXT NOT NULL DEFAULT '',
	content_size_bytes    BIGINT NOT NULL DEFAULT 0,
	content_changed       BOOLEAN NOT NULL DEFAULT false,
	entities_processed    INT NOT NULL DEFAULT 0,
	entities_added        INT NOT NULL DEFAULT 0,
	entities_modified     INT NOT NULL DEFAULT 0,
	entities_removed      INT NOT NULL DEFAULT 0,
	critical_risk_changes INT NOT NULL DEFAULT 0,
	high_risk_changes     INT NOT NULL DEFAULT 0,
	medium_risk_changes   INT NOT NULL DEFAULT 0,
	low_risk_changes      INT NOT NULL DEFAULT 0,
	download_ms           BIGINT NOT NULL DEFAULT 0,
	parsing_ms            BIGINT NOT NULL DEFAULT 0,
	diff_ms               BIGINT NOT NULL DEFAULT 0,
	storage_ms            BIGINT NOT NULL DEFAULT 0,
	error_message         TEXT NOT NULL DEFAULT '',
	retry_count           INT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_runs_source_started ON scraper_runs (source, started_at);
CREATE INDEX IF NOT EXISTS idx_runs_status_started ON scraper_runs (status, started_at);
`

// Store is a postgres-backed store.Store.
type Store struct {
	db *sql.DB
}

// New wraps an already-open *sql.DB. The caller owns the DSN/driver
// ("postgres" via lib/pq, as cmd/sanctionswatch-server wires it).
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Init creates the schema if it does not already exist.
func (s *Store) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return &sanctions.DatabaseError{Op: "init schema", Err: err}
	}
	return nil
}

// Close implements store.Store.
func (s *Store) Close() error { return s.db.Close() }

// Begin implements store.Store by opening a *sql.Tx-backed UnitOfWork.
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

type entityRepo struct{ tx *sql.Tx }

func (r entityRepo) ReplaceSourceData(ctx context.Context, source sanctions.Source, entities []*sanctions.SanctionedEntity) (store.ReplaceResult, error) {
	result := store.ReplaceResult{}

	existingActive := map[string]bool{}
	rows, err := r.tx.QueryContext(ctx, `SELECT uid FROM sanctioned_entities WHERE source = $1 AND is_active = true`, string(source))
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
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,true,now())
			ON CONFLICT (source, uid) DO UPDATE SET
				entity_type = EXCLUDED.entity_type,
				name = EXCLUDED.name,
				programs = EXCLUDED.programs,
				aliases = EXCLUDED.aliases,
				addresses = EXCLUDED.addresses,
				personal_info = EXCLUDED.personal_info,
				nationalities = EXCLUDED.nationalities,
				remarks = EXCLUDED.remarks,
				content_hash = EXCLUDED.content_hash,
				is_active = true,
				updated_at = now()
		`, string(source), e.UID, string(e.EntityType), e.Name, programs, aliases, addresses, nullableJSON(personalInfo), nationalities, e.Remarks, e.ContentHash)
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

	// Mark absent-but-previously-active entities inactive, scoped by
	// source, never a full table scan — grounded on
	// entity_repository.py:mark_inactive_entities.
	_, err = r.tx.ExecContext(ctx,
		`UPDATE sanctioned_entities SET is_active = false, updated_at = now() WHERE source = $1 AND uid != ALL($2) AND is_active = true`,
		string(source), pq.Array(newUIDs),
	)
	if err != nil {
		return result, &sanctions.DatabaseError{Op: "mark inactive", Err: err}
	}

	return result, nil
}

func nullableJSON(b []byte) interface{} {
	if b == nil {
		return nil
	}
	return b
}

func (r entityRepo) GetAllForChangeDetection(ctx context.Context, source sanctions.Source) ([]*sanctions.SanctionedEntity, error) {
	rows, err := r.tx.QueryContext(ctx, `
		SELECT uid, entity_type, name, programs, aliases, addresses, personal_info, nationalities, remarks, content_hash
		FROM sanctioned_entities WHERE source = $1 AND is_active = true`, string(source))
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
		where, args = "WHERE source = $1", []interface{}{string(source)}
	}

	row := r.tx.QueryRowContext(ctx, fmt.Sprintf(`SELECT count(*), count(*) FILTER (WHERE is_active) FROM sanctioned_entities %s`, where), args...)
	if err := row.Scan(&stats.TotalEntities, &stats.ActiveEntities); err != nil {
		return stats, &sanctions.DatabaseError{Op: "statistics totals", Err: err}
	}
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
		var sentAt sql.NullTime
		if e.NotificationSentAt != nil {
			sentAt = sql.NullTime{Time: *e.NotificationSentAt, Valid: true}
		}
		_, err := r.tx.ExecContext(ctx, `
			INSERT INTO change_events
				(event_id, entity_uid, entity_name, source, change_type, risk_level, field_changes, change_summary,
				 old_content_hash, new_content_hash, detected_at, scraper_run_id, processing_time_ms, notification_sent_at, notification_channels)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		`, e.EventID, e.EntityUID, e.EntityName, string(e.Source), string(e.ChangeType), string(e.RiskLevel), fieldChanges,
			e.ChangeSummary, e.OldContentHash, e.NewContentHash, e.DetectedAt, e.ScraperRunID, e.ProcessingTimeMs, sentAt, channels)
		if err != nil {
			return &sanctions.DatabaseError{Op: "insert change event", Err: err}
		}
	}
	return nil
}

func (r changeEventRepo) MarkNotified(ctx context.Context, eventIDs []string, sentAt time.Time, channels []string) error {
	channelsJSON, _ := json.Marshal(channels)
	for _, id := range eventIDs {
		_, err := r.tx.ExecContext(ctx, `UPDATE change_events SET notification_sent_at = $1, notification_channels = $2 WHERE event_id = $3`, sentAt, channelsJSON, id)
		if err != nil {
			return &sanctions.DatabaseError{Op: "mark notified", Err: err}
		}
	}
	return nil
}

func (r changeEventRepo) FindRecent(ctx context.Context, since time.Duration, source sanctions.Source, riskLevel sanctions.RiskLevel) ([]*sanctions.ChangeEvent, error) {
	cutoff := time.Now().Add(-since)
	query := `SELECT event_id, entity_uid, entity_name, source, change_type, risk_level, change_summary, detected_at, scraper_run_id FROM change_events WHERE detected_at >= $1`
	args := []interface{}{cutoff}
	if source != "" {
		query += fmt.Sprintf(" AND source = $%d", len(args)+1)
		args = append(args, string(source))
	}
	if riskLevel != "" {
		query += fmt.Sprintf(" AND risk_level = $%d", len(args)+1)
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
		var src, ct, rl string
		if err := rows.Scan(&e.EventID, &e.EntityUID, &e.EntityName, &src, &ct, &rl, &e.ChangeSummary, &e.DetectedAt, &e.ScraperRunID); err != nil {
			return nil, &sanctions.DatabaseError{Op: "scan change event", Err: err}
		}
		e.Source, e.ChangeType, e.RiskLevel = sanctions.Source(src), sanctions.ChangeType(ct), sanctions.RiskLevel(rl)
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (r changeEventRepo) CountByRiskLevel(ctx context.Context, since time.Time, source sanctions.Source) (map[sanctions.RiskLevel]int, error) {
	query := `SELECT risk_level, count(*) FROM change_events WHERE detected_at >= $1`
	args := []interface{}{since}
	if source != "" {
		query += " AND source = $2"
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
	query := `SELECT change_type, count(*) FROM change_events WHERE detected_at >= $1`
	args := []interface{}{since}
	if source != "" {
		query += " AND source = $2"
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
		FROM change_events WHERE risk_level = $1 AND detected_at >= $2`, string(risk), since)
	if err != nil {
		return nil, &sanctions.DatabaseError{Op: "find by risk level", Err: err}
	}
	defer rows.Close()
	var out []*sanctions.ChangeEvent
	for rows.Next() {
		var e sanctions.ChangeEvent
		var src, ct, rl string
		if err := rows.Scan(&e.EventID, &e.EntityUID, &e.EntityName, &src, &ct, &rl, &e.ChangeSummary, &e.DetectedAt, &e.ScraperRunID); err != nil {
			return nil, &sanctions.DatabaseError{Op: "scan change event", Err: err}
		}
		e.Source, e.ChangeType, e.RiskLevel = sanctions.Source(src), sanctions.ChangeType(ct), sanctions.RiskLevel(rl)
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
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, snap.SnapshotID, string(snap.Source), snap.ContentHash, snap.ContentFingerprint, snap.ContentSizeBytes, snap.SnapshotTime, snap.ScraperRunID, snap.ArchivePath)
	if err != nil {
		return &sanctions.DatabaseError{Op: "insert content snapshot", Err: err}
	}
	return nil
}

func (r snapshotRepo) GetLastContentHash(ctx context.Context, source sanctions.Source) (string, error) {
	var hash string
	err := r.tx.QueryRowContext(ctx, `
		SELECT content_hash FROM content_snapshots WHERE source = $1 ORDER BY snapshot_time DESC LIMIT 1
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
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)
	`, run.RunID, string(run.Source), run.StartedAt, string(run.Status), run.SourceURL, run.ContentHash, run.ContentSizeBytes, run.ContentChanged,
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
	var completedAt sql.NullTime
	if run.CompletedAt != nil {
		completedAt = sql.NullTime{Time: *run.CompletedAt, Valid: true}
	}
	_, err := r.tx.ExecContext(ctx, `
		UPDATE scraper_runs SET
			completed_at = $2, status = $3, content_hash = $4, content_size_bytes = $5, content_changed = $6,
			entities_processed = $7, entities_added = $8, entities_modified = $9, entities_removed = $10,
			critical_risk_changes = $11, high_risk_changes = $12, medium_risk_changes = $13, low_risk_changes = $14,
			download_ms = $15, parsing_ms = $16, diff_ms = $17, storage_ms = $18, error_message = $19, retry_count = $20
		WHERE run_id = $1
	`, run.RunID, completedAt, string(run.Status), run.ContentHash, run.ContentSizeBytes, run.ContentChanged,
		run.EntitiesProcessed, run.EntitiesAdded, run.EntitiesModified, run.EntitiesRemoved,
		run.CriticalRiskChanges, run.HighRiskChanges, run.MediumRiskChanges, run.LowRiskChanges,
		run.Timings.DownloadMs, run.Timings.ParsingMs, run.Timings.DiffMs, run.Timings.StorageMs, run.ErrorMessage, run.RetryCount)
	if err != nil {
		return &sanctions.DatabaseError{Op: "update scraper run", Err: err}
	}
	return nil
}

func (r runRepo) GetLastSuccessfulRun(ctx context.Context, source sanctions.Source) (*sanctions.ScraperRun, error) {
	row := r.tx.QueryRowContext(ctx, `
		SELECT run_id, source, started_at, completed_at, status, content_hash, content_size_bytes
		FROM scraper_runs WHERE source = $1 AND status = 'SUCCESS' ORDER BY started_at DESC LIMIT 1
	`, string(source))
	var run sanctions.ScraperRun
	var src, status string
	var completedAt sql.NullTime
	if err := row.Scan(&run.RunID, &src, &run.StartedAt, &completedAt, &status, &run.ContentHash, &run.ContentSizeBytes); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, &sanctions.DatabaseError{Op: "get last successful run", Err: err}
	}
	run.Source, run.Status = sanctions.Source(src), sanctions.RunStatus(status)
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	return &run, nil
}

func (r runRepo) FindRecent(ctx context.Context, since time.Duration, source sanctions.Source) ([]*sanctions.ScraperRun, error) {
	cutoff := time.Now().Add(-since)
	query := `SELECT run_id, source, started_at, status FROM scraper_runs WHERE started_at >= $1`
	args := []interface{}{cutoff}
	if source != "" {
		query += " AND source = $2"
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
		var src, status string
		if err := rows.Scan(&run.RunID, &src, &run.StartedAt, &status); err != nil {
			return nil, &sanctions.DatabaseError{Op: "scan run", Err: err}
		}
		run.Source, run.Status = sanctions.Source(src), sanctions.RunStatus(status)
		out = append(out, &run)
	}
	return out, rows.Err()
}

// TryClaim implements single-flight by attempting an insert that is only
// valid when no RUNNING row exists for the source, mirroring the
// conditional-UPDATE claiming idiom of the teacher's
// PostgresLedger.AcquireLease / AcquireNextPending.
func (r runRepo) TryClaim(ctx context.Context, run *sanctions.ScraperRun) (bool, error) {
	res, err := r.tx.ExecContext(ctx, `
		INSERT INTO scraper_runs (run_id, source, started_at, status)
		SELECT $1, $2, $3, 'RUNNING'
		WHERE NOT EXISTS (SELECT 1 FROM scraper_runs WHERE source = $2 AND status = 'RUNNING')
	`, run.RunID, string(run.Source), run.StartedAt)
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
