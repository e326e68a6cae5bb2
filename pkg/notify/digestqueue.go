package notify

import (
	"context"
	"sync"

	"github.com/sanctionswatch/core/pkg/sanctions"
)

// MemoryDigestQueue buffers MEDIUM/LOW risk events per source for later
// batched delivery, following the teacher's escalation.Manager mutex-guarded
// map-of-slices lifecycle (accumulate under lock, drain returns and clears).
// A deployment that wants digest queuing to survive a restart can instead
// implement DigestQueue against the store (e.g. a notified_at IS NULL scan).
type MemoryDigestQueue struct {
	mu      sync.Mutex
	pending map[sanctions.Source][]*sanctions.ChangeEvent
}

// NewMemoryDigestQueue builds an empty digest queue.
func NewMemoryDigestQueue() *MemoryDigestQueue {
	return &MemoryDigestQueue{pending: make(map[sanctions.Source][]*sanctions.ChangeEvent)}
}

// Enqueue appends events to the per-source pending buffer.
func (q *MemoryDigestQueue) Enqueue(_ context.Context, events []*sanctions.ChangeEvent) error {
	if len(events) == 0 {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	source := events[0].Source
	q.pending[source] = append(q.pending[source], events...)
	return nil
}

// Drain returns and clears the pending events for source, for a scheduled
// digest job to render and send as one batch.
func (q *MemoryDigestQueue) Drain(source sanctions.Source) []*sanctions.ChangeEvent {
	q.mu.Lock()
	defer q.mu.Unlock()
	events := q.pending[source]
	delete(q.pending, source)
	return events
}

// Pending returns the current buffer size for source without draining it.
func (q *MemoryDigestQueue) Pending(source sanctions.Source) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending[source])
}
