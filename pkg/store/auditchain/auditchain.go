// Package auditchain is an immutable, hash-chained append-only log of
// committed change batches, independent of the transactional store. It exists
// so an operator can verify after the fact that no committed ChangeEvent
// batch was altered or reordered, even if the underlying SQL store is
// compromised or restored from a stale backup. Adapted from the teacher's
// ledger.Ledger (four hash-chained ledgers keyed by LedgerType); here there
// is one chain per source, each entry summarizing one scraper run's
// committed changes rather than a release/policy/run/evidence record.
package auditchain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sanctionswatch/core/pkg/sanctions"
)

// Entry is one immutable, hash-chained record of a committed run's outcome.
type Entry struct {
	EntryID     string                      `json:"entry_id"`
	Sequence    uint64                      `json:"sequence"`
	Source      sanctions.Source            `json:"source"`
	RunID       string                      `json:"run_id"`
	ContentHash string                      `json:"content_hash"`
	PrevHash    string                      `json:"prev_hash"`
	Timestamp   time.Time                   `json:"timestamp"`
	EventCount  int                         `json:"event_count"`
	EventIDs    []string                    `json:"event_ids"`
	RiskCounts  map[sanctions.RiskLevel]int `json:"risk_counts"`
}

// Chain is an append-only, hash-chained log scoped to a single source.
type Chain struct {
	mu       sync.RWMutex
	source   sanctions.Source
	entries  []Entry
	headHash string
	clock    func() time.Time
}

// NewChain creates an empty chain for source, rooted at a fixed genesis hash.
func NewChain(source sanctions.Source) *Chain {
	return &Chain{
		source:   source,
		entries:  make([]Entry, 0),
		headHash: "genesis",
		clock:    time.Now,
	}
}

// WithClock overrides the chain's clock, for deterministic tests.
func (c *Chain) WithClock(clock func() time.Time) *Chain {
	c.clock = clock
	return c
}

// Append records one committed run's outcome and returns its sequence
// number. events carries the committed ChangeEvents so their event IDs feed
// the hash, not just their count — two runs with equal counts but different
// event IDs produce distinct chain links. Other event fields, the risk
// counts and the timestamp are stored on the entry but not hashed.
func (c *Chain) Append(runID string, events []*sanctions.ChangeEvent) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	seq := uint64(len(c.entries)) + 1
	riskCounts := map[sanctions.RiskLevel]int{}
	eventIDs := make([]string, 0, len(events))
	for _, e := range events {
		riskCounts[e.RiskLevel]++
		eventIDs = append(eventIDs, e.EventID)
	}

	hashInput := struct {
		Seq      uint64   `json:"seq"`
		Source   string   `json:"source"`
		RunID    string   `json:"run_id"`
		EventIDs []string `json:"event_ids"`
		PrevHash string   `json:"prev"`
	}{seq, string(c.source), runID, eventIDs, c.headHash}

	raw, err := json.Marshal(hashInput)
	if err != nil {
		return 0, fmt.Errorf("auditchain: marshal entry: %w", err)
	}
	h := sha256.Sum256(raw)
	contentHash := "sha256:" + hex.EncodeToString(h[:])

	entry := Entry{
		EntryID:     uuid.NewString(),
		Sequence:    seq,
		Source:      c.source,
		RunID:       runID,
		ContentHash: contentHash,
		PrevHash:    c.headHash,
		Timestamp:   c.clock(),
		EventCount:  len(events),
		EventIDs:    eventIDs,
		RiskCounts:  riskCounts,
	}

	c.entries = append(c.entries, entry)
	c.headHash = contentHash
	return seq, nil
}

// Get retrieves an entry by sequence number (1-indexed).
func (c *Chain) Get(seq uint64) (*Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if seq == 0 || seq > uint64(len(c.entries)) {
		return nil, fmt.Errorf("auditchain: entry %d not found", seq)
	}
	entry := c.entries[seq-1]
	return &entry, nil
}

// Head returns the current chain head hash.
func (c *Chain) Head() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.headHash
}

// Length returns the number of entries appended so far.
func (c *Chain) Length() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Verify walks the full chain recomputing each link, returning false and a
// diagnostic message at the first broken link or content mismatch.
func (c *Chain) Verify() (bool, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	prevHash := "genesis"
	for i, entry := range c.entries {
		if entry.PrevHash != prevHash {
			return false, fmt.Sprintf("chain broken at entry %d: expected prev %s, got %s", i+1, prevHash, entry.PrevHash)
		}

		// Recompute content hash
		hashInput := struct {
			Seq      uint64   `json:"seq"`
			Source   string   `json:"source"`
			RunID    string   `json:"run_id"`
			EventIDs []string `json:"event_ids"`
			PrevHash string   `json:"prev"`
		}{entry.Sequence, string(entry.Source), entry.RunID, entry.EventIDs, entry.PrevHash}

		raw, err := json.Marshal(hashInput)
		if err != nil {
			return false, fmt.Sprintf("entry %d: marshal failed: %v", i+1, err)
		}
		h := sha256.Sum256(raw)
		computed := "sha256:" + hex.EncodeToString(h[:])

		if computed != entry.ContentHash {
			return false, fmt.Sprintf("hash mismatch at entry %d", i+1)
		}
		prevHash = entry.ContentHash
	}

	return true, "chain verified"
}

// Registry holds one Chain per source, keyed lazily on first use.
type Registry struct {
	mu     sync.Mutex
	chains map[sanctions.Source]*Chain
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{chains: make(map[sanctions.Source]*Chain)}
}

// For returns the Chain for source, creating it on first access.
func (r *Registry) For(source sanctions.Source) *Chain {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.chains[source]
	if !ok {
		c = NewChain(source)
		r.chains[source] = c
	}
	return c
}
