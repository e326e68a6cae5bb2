// Package notify implements component F: routing detected changes to
// notification channels by risk level, per spec §4.F. Channel dispatch is
// isolated per channel (one channel's failure never aborts another's, nor
// rolls back the already-committed run), following the teacher's
// governance/pdp.go pattern of collecting per-effect errors into a result
// rather than failing the whole evaluation on first error.
package notify

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/sanctionswatch/core/pkg/sanctions"
)

// Channel delivers a rendered message somewhere. Name identifies the channel
// in ChangeEvent.NotificationChannels.
type Channel interface {
	Name() string
	Send(ctx context.Context, message string) error
}

// DispatchResult summarizes one run's notification dispatch.
type DispatchResult struct {
	Sent          []string            // event IDs successfully dispatched immediate/batch-high
	Queued        []string            // event IDs queued for the digest (MEDIUM/LOW)
	SentChannels  map[string][]string // event ID -> channel names it was actually delivered on
	ChannelErrors map[string]error
}

// DigestQueue accepts MEDIUM/LOW events for later batched delivery. It is
// intentionally minimal here: a durable queue implementation (e.g. backed by
// the same store) is the orchestrator's concern to wire in; this interface
// is what pkg/notify depends on.
type DigestQueue interface {
	Enqueue(ctx context.Context, events []*sanctions.ChangeEvent) error
}

// Notifier routes ChangeEvents to channels per spec §4.F's priority rules.
type Notifier struct {
	channels []Channel
	digest   DigestQueue
}

// New builds a Notifier that dispatches on exactly the given channels; no
// LOG channel is added when channels is empty or omits it. The LOG channel
// needs no configuration and is built with NewLogChannel(); callers typically
// pass it plus any configured EMAIL/WEBHOOK/SLACK channels.
func New(digest DigestQueue, channels ...Channel) *Notifier {
	return &Notifier{channels: channels, digest: digest}
}

// Dispatch routes events for one run: CRITICAL sent immediately and
// individually, HIGH grouped into one summary message per channel, MEDIUM/LOW
// enqueued to the digest queue. Returns the dispatch outcome; callers persist
// notification_sent_at/channels on Sent events via a separate write (spec
// §4.F), outside the commit UoW.
func (n *Notifier) Dispatch(ctx context.Context, source sanctions.Source, events []*sanctions.ChangeEvent) DispatchResult {
	result := DispatchResult{ChannelErrors: map[string]error{}, SentChannels: map[string][]string{}}

	var critical, high, queued []*sanctions.ChangeEvent
	for _, e := range events {
		switch e.RiskLevel {
		case sanctions.RiskCritical:
			critical = append(critical, e)
		case sanctions.RiskHigh:
			high = append(high, e)
		default:
			queued = append(queued, e)
		}
	}

	for _, e := range critical {
		msg := renderEvent(e)
		if succeeded := n.sendAll(ctx, msg, &result); len(succeeded) > 0 {
			result.Sent = append(result.Sent, e.EventID)
			result.SentChannels[e.EventID] = succeeded
		}
	}

	if len(high) > 0 {
		msg := renderBatch(source, high)
		if succeeded := n.sendAll(ctx, msg, &result); len(succeeded) > 0 {
			for _, e := range high {
				result.Sent = append(result.Sent, e.EventID)
				result.SentChannels[e.EventID] = succeeded
			}
		}
	}

	if len(queued) > 0 && n.digest != nil {
		if err := n.digest.Enqueue(ctx, queued); err != nil {
			result.ChannelErrors["digest"] = err
		} else {
			for _, e := range queued {
				result.Queued = append(result.Queued, e.EventID)
			}
		}
	}

	return result
}

// sendAll dispatches msg to every channel, isolating per-channel failures
// into result.ChannelErrors. Returns the names of the channels that
// succeeded, in channel-registration order.
func (n *Notifier) sendAll(ctx context.Context, msg string, result *DispatchResult) []string {
	var succeeded []string
	for _, ch := range n.channels {
		if err := ch.Send(ctx, msg); err != nil {
			result.ChannelErrors[ch.Name()] = &sanctions.NotificationError{Channel: ch.Name(), Err: err}
			continue
		}
		succeeded = append(succeeded, ch.Name())
	}
	return succeeded
}

func renderEvent(e *sanctions.ChangeEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s change for %q (%s) detected_at=%s\n", e.RiskLevel, e.ChangeType, e.EntityName, e.Source, e.DetectedAt.UTC().Format(time.RFC3339))
	if len(e.FieldChanges) > 0 {
		fc := make([]sanctions.FieldChange, len(e.FieldChanges))
		copy(fc, e.FieldChanges)
		sort.Slice(fc, func(i, j int) bool { return fc[i].FieldName < fc[j].FieldName })
		for _, f := range fc {
			fmt.Fprintf(&b, "  %s: %v -> %v\n", f.FieldName, f.OldValue, f.NewValue)
		}
	}
	return b.String()
}

func renderBatch(source sanctions.Source, events []*sanctions.ChangeEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[HIGH] %d changes detected for %s\n", len(events), source)
	sorted := make([]*sanctions.ChangeEvent, len(events))
	copy(sorted, events)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].EntityUID < sorted[j].EntityUID })
	for _, e := range sorted {
		fmt.Fprintf(&b, "  %s: %s (%s)\n", e.EntityUID, e.EntityName, e.ChangeType)
	}
	return b.String()
}

// LogChannel writes messages via the standard logger. Always available,
// requires no configuration, per spec §4.F.
type LogChannel struct{}

// NewLogChannel returns the always-available LOG channel.
func NewLogChannel() LogChannel { return LogChannel{} }

func (LogChannel) Name() string { return "LOG" }

func (LogChannel) Send(ctx context.Context, message string) error {
	log.Print(message)
	return nil
}
