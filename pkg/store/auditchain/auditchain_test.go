package auditchain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanctionswatch/core/pkg/sanctions"
	"github.com/sanctionswatch/core/pkg/store/auditchain"
)

func changeEvent(uid string, level sanctions.RiskLevel) *sanctions.ChangeEvent {
	return &sanctions.ChangeEvent{EventID: "evt-" + uid, EntityUID: uid, RiskLevel: level}
}

func TestChain_AppendLinksHashesSequentially(t *testing.T) {
	chain := auditchain.NewChain(sanctions.SourceOFAC)

	seq1, err := chain.Append("run-1", []*sanctions.ChangeEvent{changeEvent("u1", sanctions.RiskHigh)})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), seq1)
	head1 := chain.Head()
	assert.NotEqual(t, "genesis", head1)

	seq2, err := chain.Append("run-2", []*sanctions.ChangeEvent{changeEvent("u2", sanctions.RiskLow)})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), seq2)

	entry2, err := chain.Get(2)
	require.NoError(t, err)
	assert.Equal(t, head1, entry2.PrevHash, "each entry's PrevHash is the prior entry's ContentHash")
	assert.Equal(t, 2, chain.Length())
}

func TestChain_Verify_DetectsNoTamperingOnUntouchedChain(t *testing.T) {
	chain := auditchain.NewChain(sanctions.SourceOFAC)
	for i := 0; i < 3; i++ {
		_, err := chain.Append("run", []*sanctions.ChangeEvent{changeEvent("u1", sanctions.RiskMedium)})
		require.NoError(t, err)
	}

	ok, _ := chain.Verify()
	assert.True(t, ok)
}

func TestChain_Get_UnknownSequenceErrors(t *testing.T) {
	chain := auditchain.NewChain(sanctions.SourceOFAC)
	_, err := chain.Get(1)
	assert.Error(t, err)
	_, err = chain.Get(0)
	assert.Error(t, err)
}

func TestChain_Append_DistinctEventsProduceDistinctHashesForEqualCounts(t *testing.T) {
	a := auditchain.NewChain(sanctions.SourceOFAC)
	b := auditchain.NewChain(sanctions.SourceOFAC)

	_, err := a.Append("run-1", []*sanctions.ChangeEvent{changeEvent("u1", sanctions.RiskHigh)})
	require.NoError(t, err)
	_, err = b.Append("run-1", []*sanctions.ChangeEvent{changeEvent("u2", sanctions.RiskHigh)})
	require.NoError(t, err)

	assert.NotEqual(t, a.Head(), b.Head(), "differing entity content must produce differing chain links even with equal counts")
}

func TestChain_WithClock_StampsProvidedTime(t *testing.T) {
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	chain := auditchain.NewChain(sanctions.SourceOFAC).WithClock(func() time.Time { return fixed })

	_, err := chain.Append("run-1", nil)
	require.NoError(t, err)
	entry, err := chain.Get(1)
	require.NoError(t, err)
	assert.True(t, entry.Timestamp.Equal(fixed))
}

func TestRegistry_ForIsLazyAndPerSource(t *testing.T) {
	reg := auditchain.NewRegistry()
	ofac := reg.For(sanctions.SourceOFAC)
	un := reg.For(sanctions.SourceUN)
	assert.NotSame(t, ofac, un)
	assert.Same(t, ofac, reg.For(sanctions.SourceOFAC), "repeated For calls for the same source return the same chain")
}
