package memstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanctionswatch/core/pkg/sanctions"
	"github.com/sanctionswatch/core/pkg/store/memstore"
)

func entity(uid, name string) *sanctions.SanctionedEntity {
	e := &sanctions.SanctionedEntity{UID: uid, Source: sanctions.SourceOFAC, EntityType: sanctions.EntityPerson, Name: name}
	if err := e.Canonicalize(); err != nil {
		panic(err)
	}
	return e
}

func TestReplaceSourceData_UncommittedUoWIsInvisible(t *testing.T) {
	st := memstore.New()
	ctx := context.Background()

	uow, err := st.Begin(ctx)
	require.NoError(t, err)
	_, err = uow.Entities().ReplaceSourceData(ctx, sanctions.SourceOFAC, []*sanctions.SanctionedEntity{entity("u1", "Jane Doe")})
	require.NoError(t, err)

	// A fresh UoW over the same store must not see uncommitted writes.
	other, err := st.Begin(ctx)
	require.NoError(t, err)
	got, err := other.Entities().GetAllForChangeDetection(ctx, sanctions.SourceOFAC)
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, uow.Commit(ctx))
}

func TestReplaceSourceData_CommitMakesEntitiesVisible(t *testing.T) {
	st := memstore.New()
	ctx := context.Background()

	uow, err := st.Begin(ctx)
	require.NoError(t, err)
	result, err := uow.Entities().ReplaceSourceData(ctx, sanctions.SourceOFAC, []*sanctions.SanctionedEntity{entity("u1", "Jane Doe")})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Added)
	require.NoError(t, uow.Commit(ctx))

	uow2, err := st.Begin(ctx)
	require.NoError(t, err)
	got, err := uow2.Entities().GetAllForChangeDetection(ctx, sanctions.SourceOFAC)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "u1", got[0].UID)
}

func TestReplaceSourceData_AbsentEntityBecomesInactive(t *testing.T) {
	st := memstore.New()
	ctx := context.Background()

	uow, err := st.Begin(ctx)
	require.NoError(t, err)
	_, err = uow.Entities().ReplaceSourceData(ctx, sanctions.SourceOFAC, []*sanctions.SanctionedEntity{entity("u1", "Jane Doe"), entity("u2", "John Roe")})
	require.NoError(t, err)
	require.NoError(t, uow.Commit(ctx))

	uow2, err := st.Begin(ctx)
	require.NoError(t, err)
	result, err := uow2.Entities().ReplaceSourceData(ctx, sanctions.SourceOFAC, []*sanctions.SanctionedEntity{entity("u1", "Jane Doe")})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Removed)
	require.NoError(t, uow2.Commit(ctx))

	uow3, err := st.Begin(ctx)
	require.NoError(t, err)
	got, err := uow3.Entities().GetAllForChangeDetection(ctx, sanctions.SourceOFAC)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "u1", got[0].UID)
}

func TestRollback_DiscardsStagedWrites(t *testing.T) {
	st := memstore.New()
	ctx := context.Background()

	uow, err := st.Begin(ctx)
	require.NoError(t, err)
	_, err = uow.Entities().ReplaceSourceData(ctx, sanctions.SourceOFAC, []*sanctions.SanctionedEntity{entity("u1", "Jane Doe")})
	require.NoError(t, err)
	require.NoError(t, uow.Rollback(ctx))

	uow2, err := st.Begin(ctx)
	require.NoError(t, err)
	got, err := uow2.Entities().GetAllForChangeDetection(ctx, sanctions.SourceOFAC)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestCommit_TwiceIsRejected(t *testing.T) {
	st := memstore.New()
	ctx := context.Background()

	uow, err := st.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, uow.Commit(ctx))
	assert.Error(t, uow.Commit(ctx))
}

func TestTryClaim_SecondCallerIsRejectedUntilReleased(t *testing.T) {
	st := memstore.New()
	ctx := context.Background()

	uow1, err := st.Begin(ctx)
	require.NoError(t, err)
	run1 := &sanctions.ScraperRun{RunID: "run-1", Source: sanctions.SourceOFAC, StartedAt: time.Now(), Status: sanctions.RunRunning}
	claimed1, err := uow1.ScraperRuns().TryClaim(ctx, run1)
	require.NoError(t, err)
	assert.True(t, claimed1)

	uow2, err := st.Begin(ctx)
	require.NoError(t, err)
	run2 := &sanctions.ScraperRun{RunID: "run-2", Source: sanctions.SourceOFAC, StartedAt: time.Now(), Status: sanctions.RunRunning}
	claimed2, err := uow2.ScraperRuns().TryClaim(ctx, run2)
	require.NoError(t, err)
	assert.False(t, claimed2, "a second claim for the same source while one is RUNNING must fail")

	// Completing run-1 frees the source for a subsequent claim.
	completed := time.Now()
	run1.Status = sanctions.RunSuccess
	run1.CompletedAt = &completed
	require.NoError(t, uow1.ScraperRuns().Update(ctx, run1))
	require.NoError(t, uow1.Commit(ctx))

	uow3, err := st.Begin(ctx)
	require.NoError(t, err)
	run3 := &sanctions.ScraperRun{RunID: "run-3", Source: sanctions.SourceOFAC, StartedAt: time.Now(), Status: sanctions.RunRunning}
	claimed3, err := uow3.ScraperRuns().TryClaim(ctx, run3)
	require.NoError(t, err)
	assert.True(t, claimed3)
}

func TestGetLastContentHash_NoSnapshotsReturnsEmpty(t *testing.T) {
	st := memstore.New()
	ctx := context.Background()
	uow, err := st.Begin(ctx)
	require.NoError(t, err)
	hash, err := uow.ContentSnapshots().GetLastContentHash(ctx, sanctions.SourceOFAC)
	require.NoError(t, err)
	assert.Empty(t, hash)
}

func TestGetLastContentHash_ReturnsMostRecentBySnapshotTime(t *testing.T) {
	st := memstore.New()
	ctx := context.Background()
	now := time.Now()

	uow, err := st.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, uow.ContentSnapshots().Create(ctx, &sanctions.ContentSnapshot{
		SnapshotID: "s1", Source: sanctions.SourceOFAC, ContentHash: "old", ContentSizeBytes: 10, SnapshotTime: now.Add(-time.Hour),
	}))
	require.NoError(t, uow.ContentSnapshots().Create(ctx, &sanctions.ContentSnapshot{
		SnapshotID: "s2", Source: sanctions.SourceOFAC, ContentHash: "new", ContentSizeBytes: 10, SnapshotTime: now,
	}))
	require.NoError(t, uow.Commit(ctx))

	uow2, err := st.Begin(ctx)
	require.NoError(t, err)
	hash, err := uow2.ContentSnapshots().GetLastContentHash(ctx, sanctions.SourceOFAC)
	require.NoError(t, err)
	assert.Equal(t, "new", hash)
}
