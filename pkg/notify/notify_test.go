package notify_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanctionswatch/core/pkg/notify"
	"github.com/sanctionswatch/core/pkg/sanctions"
)

type fakeChannel struct {
	name     string
	err      error
	messages []string
}

func (c *fakeChannel) Name() string { return c.name }

func (c *fakeChannel) Send(ctx context.Context, message string) error {
	if c.err != nil {
		return c.err
	}
	c.messages = append(c.messages, message)
	return nil
}

func event(uid string, level sanctions.RiskLevel) *sanctions.ChangeEvent {
	return &sanctions.ChangeEvent{
		EventID:    "evt-" + uid,
		EntityUID:  uid,
		EntityName: "Entity " + uid,
		Source:     sanctions.SourceOFAC,
		ChangeType: sanctions.ChangeAdded,
		RiskLevel:  level,
		DetectedAt: time.Now(),
	}
}

func TestDispatch_CriticalSentImmediatelyAndIndividually(t *testing.T) {
	ch := &fakeChannel{name: "LOG"}
	n := notify.New(notify.NewMemoryDigestQueue(), ch)

	events := []*sanctions.ChangeEvent{event("u1", sanctions.RiskCritical), event("u2", sanctions.RiskCritical)}
	result := n.Dispatch(context.Background(), sanctions.SourceOFAC, events)

	assert.ElementsMatch(t, []string{"evt-u1", "evt-u2"}, result.Sent)
	assert.Len(t, ch.messages, 2, "each CRITICAL event is sent as its own message")
	assert.Empty(t, result.Queued)
	assert.Equal(t, []string{"LOG"}, result.SentChannels["evt-u1"])
	assert.Equal(t, []string{"LOG"}, result.SentChannels["evt-u2"])
}

func TestDispatch_HighGroupedIntoOneBatchMessage(t *testing.T) {
	ch := &fakeChannel{name: "LOG"}
	n := notify.New(notify.NewMemoryDigestQueue(), ch)

	events := []*sanctions.ChangeEvent{event("u1", sanctions.RiskHigh), event("u2", sanctions.RiskHigh)}
	result := n.Dispatch(context.Background(), sanctions.SourceOFAC, events)

	assert.ElementsMatch(t, []string{"evt-u1", "evt-u2"}, result.Sent)
	assert.Len(t, ch.messages, 1, "HIGH events are batched into a single message per channel")
}

func TestDispatch_MediumAndLowAreQueuedNotSent(t *testing.T) {
	ch := &fakeChannel{name: "LOG"}
	queue := notify.NewMemoryDigestQueue()
	n := notify.New(queue, ch)

	events := []*sanctions.ChangeEvent{event("u1", sanctions.RiskMedium), event("u2", sanctions.RiskLow)}
	result := n.Dispatch(context.Background(), sanctions.SourceOFAC, events)

	assert.Empty(t, result.Sent)
	assert.ElementsMatch(t, []string{"evt-u1", "evt-u2"}, result.Queued)
	assert.Empty(t, ch.messages)
	assert.Equal(t, 2, queue.Pending(sanctions.SourceOFAC))

	drained := queue.Drain(sanctions.SourceOFAC)
	assert.Len(t, drained, 2)
	assert.Equal(t, 0, queue.Pending(sanctions.SourceOFAC))
}

func TestDispatch_OneChannelFailureDoesNotBlockAnother(t *testing.T) {
	failing := &fakeChannel{name: "WEBHOOK", err: errors.New("connection refused")}
	working := &fakeChannel{name: "LOG"}
	n := notify.New(notify.NewMemoryDigestQueue(), failing, working)

	events := []*sanctions.ChangeEvent{event("u1", sanctions.RiskCritical)}
	result := n.Dispatch(context.Background(), sanctions.SourceOFAC, events)

	require.Contains(t, result.ChannelErrors, "WEBHOOK")
	assert.Contains(t, result.Sent, "evt-u1", "the working channel's success still counts as sent")
	assert.Len(t, working.messages, 1)
	assert.Equal(t, []string{"LOG"}, result.SentChannels["evt-u1"], "only the channel that actually succeeded is recorded")
}

func TestDispatch_EmptyEventsIsANoOp(t *testing.T) {
	ch := &fakeChannel{name: "LOG"}
	n := notify.New(notify.NewMemoryDigestQueue(), ch)

	result := n.Dispatch(context.Background(), sanctions.SourceOFAC, nil)
	assert.Empty(t, result.Sent)
	assert.Empty(t, result.Queued)
	assert.Empty(t, ch.messages)
}
