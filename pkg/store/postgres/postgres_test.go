package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanctionswatch/core/pkg/sanctions"
)

func TestInit_RunsSchema(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectExec("CREATE TABLE").WillReturnResult(sqlmock.NewResult(0, 0))

	s := New(db)
	require.NoError(t, s.Init(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBegin_CommitAndRollback(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectBegin()
	mock.ExpectCommit()

	s := New(db)
	uow, err := s.Begin(context.Background())
	require.NoError(t, err)
	require.NoError(t, uow.Commit(context.Background()))

	// committing twice is rejected without touching the driver again.
	err = uow.Commit(context.Background())
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTryClaim_SucceedsWhenNoRunningRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO scraper_runs").
		WithArgs("run-1", "OFAC", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	s := New(db)
	uow, err := s.Begin(context.Background())
	require.NoError(t, err)

	run := &sanctions.ScraperRun{RunID: "run-1", Source: sanctions.SourceOFAC, StartedAt: time.Now(), Status: sanctions.RunRunning}
	claimed, err := uow.ScraperRuns().TryClaim(context.Background(), run)
	require.NoError(t, err)
	assert.True(t, claimed)
	require.NoError(t, uow.Commit(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTryClaim_FailsWhenAlreadyRunning(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO scraper_runs").
		WithArgs("run-2", "OFAC", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	s := New(db)
	uow, err := s.Begin(context.Background())
	require.NoError(t, err)

	run := &sanctions.ScraperRun{RunID: "run-2", Source: sanctions.SourceOFAC, StartedAt: time.Now(), Status: sanctions.RunRunning}
	claimed, err := uow.ScraperRuns().TryClaim(context.Background(), run)
	require.NoError(t, err)
	assert.False(t, claimed)
	require.NoError(t, uow.Rollback(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSnapshotRepo_Create_RejectsInvalidSnapshot(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectBegin()

	s := New(db)
	uow, err := s.Begin(context.Background())
	require.NoError(t, err)

	// ContentHash empty fails Validate before any SQL is issued.
	err = uow.ContentSnapshots().Create(context.Background(), &sanctions.ContentSnapshot{ContentSizeBytes: 10})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSnapshotRepo_Create_InsertsFingerprint(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO content_snapshots").
		WithArgs("snap-1", "OFAC", "deadbeef", "fingerprint123", int64(1024), sqlmock.AnyArg(), "run-1", "").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	s := New(db)
	uow, err := s.Begin(context.Background())
	require.NoError(t, err)

	snap := &sanctions.ContentSnapshot{
		SnapshotID:         "snap-1",
		Source:             sanctions.SourceOFAC,
		ContentHash:        "deadbeef",
		ContentFingerprint: "fingerprint123",
		ContentSizeBytes:   1024,
		SnapshotTime:       time.Now(),
		ScraperRunID:       "run-1",
	}
	require.NoError(t, uow.ContentSnapshots().Create(context.Background(), snap))
	require.NoError(t, uow.Commit(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSnapshotRepo_GetLastContentHash_NoRowsReturnsEmpty(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT content_hash FROM content_snapshots").
		WithArgs("OFAC").
		WillReturnRows(sqlmock.NewRows([]string{"content_hash"}))
	mock.ExpectCommit()

	s := New(db)
	uow, err := s.Begin(context.Background())
	require.NoError(t, err)

	hash, err := uow.ContentSnapshots().GetLastContentHash(context.Background(), sanctions.SourceOFAC)
	require.NoError(t, err)
	assert.Empty(t, hash)
	require.NoError(t, uow.Commit(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChangeEventRepo_CreateMany(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO change_events").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	s := New(db)
	uow, err := s.Begin(context.Background())
	require.NoError(t, err)

	events := []*sanctions.ChangeEvent{
		{
			EventID:    "evt-1",
			EntityUID:  "u1",
			Source:     sanctions.SourceOFAC,
			ChangeType: sanctions.ChangeAdded,
			RiskLevel:  sanctions.RiskHigh,
			DetectedAt: time.Now(),
		},
	}
	require.NoError(t, uow.ChangeEvents().CreateMany(context.Background(), events))
	require.NoError(t, uow.Commit(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
