package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Mindburn-Labs/nondominium/pkg/canonicalize"
)

var (
	ErrEntryNotFound = errors.New("audit: entry not found")
	ErrChainBroken   = errors.New("audit: hash chain is broken")
)

// TrailEntry is one hash-chained event in a Trail.
type TrailEntry struct {
	Sequence     uint64 `json:"sequence"`
	Event        Event  `json:"event"`
	EventHash    string `json:"event_hash"`
	PreviousHash string `json:"previous_hash"`
	EntryHash    string `json:"entry_hash"`
}

// Trail is an append-only, hash-chained event log kept by one agent. It
// answers questions such as whether an access was valid at a given time.
type Trail struct {
	mu        sync.RWMutex
	entries   []*TrailEntry
	byEventID map[string]*TrailEntry
	chainHead string
	clock     func() time.Time
}

// NewTrail creates an empty trail.
func NewTrail() *Trail {
	return &Trail{
		byEventID: make(map[string]*TrailEntry),
		chainHead: "genesis",
		clock:     time.Now,
	}
}

// WithClock overrides clock for testing.
func (t *Trail) WithClock(clock func() time.Time) *Trail {
	t.clock = clock
	return t
}

// Append chains evt onto the trail.
func (t *Trail) Append(evt Event) (*TrailEntry, error) {
	eventHash, err := canonicalize.CanonicalHash(evt)
	if err != nil {
		return nil, fmt.Errorf("audit: hash event: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	entry := &TrailEntry{
		Sequence:     uint64(len(t.entries)) + 1,
		Event:        evt,
		EventHash:    "sha256:" + eventHash,
		PreviousHash: t.chainHead,
	}
	if entry.EntryHash, err = entryHash(entry); err != nil {
		return nil, err
	}
	t.entries = append(t.entries, entry)
	t.byEventID[evt.ID] = entry
	t.chainHead = entry.EntryHash
	return entry, nil
}

func entryHash(e *TrailEntry) (string, error) {
	h, err := canonicalize.CanonicalHash(struct {
		Sequence     uint64 `json:"sequence"`
		EventHash    string `json:"event_hash"`
		PreviousHash string `json:"previous_hash"`
	}{e.Sequence, e.EventHash, e.PreviousHash})
	if err != nil {
		return "", fmt.Errorf("audit: hash entry: %w", err)
	}
	return "sha256:" + h, nil
}

// Get retrieves an entry by event id.
func (t *Trail) Get(eventID string) (*TrailEntry, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.byEventID[eventID]
	if !ok {
		return nil, ErrEntryNotFound
	}
	return e, nil
}

// Head returns the current chain head hash.
func (t *Trail) Head() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.chainHead
}

// Size returns the number of entries.
func (t *Trail) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// TrailFilter defines filtering criteria for queries.
type TrailFilter struct {
	ActorID    string
	Action     string
	Resource   string
	StartTime  *time.Time
	EndTime    *time.Time
	MaxResults int
}

func (f TrailFilter) matches(e *TrailEntry) bool {
	if f.ActorID != "" && e.Event.ActorID != f.ActorID {
		return false
	}
	if f.Action != "" && e.Event.Action != f.Action {
		return false
	}
	if f.Resource != "" && e.Event.Resource != f.Resource {
		return false
	}
	if f.StartTime != nil && e.Event.Timestamp.Before(*f.StartTime) {
		return false
	}
	if f.EndTime != nil && e.Event.Timestamp.After(*f.EndTime) {
		return false
	}
	return true
}

// Query returns entries matching the filter in append order.
func (t *Trail) Query(filter TrailFilter) []*TrailEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	results := make([]*TrailEntry, 0)
	for _, e := range t.entries {
		if filter.matches(e) {
			results = append(results, e)
			if filter.MaxResults > 0 && len(results) >= filter.MaxResults {
				break
			}
		}
	}
	return results
}

// VerifyChain verifies the integrity of the hash chain.
func (t *Trail) VerifyChain() error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	expectedPrev := "genesis"
	for i, entry := range t.entries {
		if entry.PreviousHash != expectedPrev {
			return fmt.Errorf("%w: entry %d has previous_hash %s but expected %s",
				ErrChainBroken, i, entry.PreviousHash, expectedPrev)
		}
		eventHash, err := canonicalize.CanonicalHash(entry.Event)
		if err != nil || "sha256:"+eventHash != entry.EventHash {
			return fmt.Errorf("%w: entry %d event hash mismatch", ErrChainBroken, i)
		}
		computed, err := entryHash(entry)
		if err != nil {
			return fmt.Errorf("%w: entry %d: %w", ErrChainBroken, i, err)
		}
		if computed != entry.EntryHash {
			return fmt.Errorf("%w: entry %d hash mismatch (computed %s, stored %s)",
				ErrChainBroken, i, computed, entry.EntryHash)
		}
		expectedPrev = entry.EntryHash
	}
	return nil
}

// TrailLogger is a Logger that appends to a Trail.
type TrailLogger struct {
	trail *Trail
}

// NewTrailLogger creates a logger over trail.
func NewTrailLogger(trail *Trail) *TrailLogger {
	return &TrailLogger{trail: trail}
}

func (l *TrailLogger) Record(ctx context.Context, eventType EventType, action, resource string, metadata map[string]interface{}) error {
	if l.trail == nil {
		return fmt.Errorf("fail-closed: audit trail not configured")
	}
	// Round-trip metadata so stored events hash the same after export.
	if metadata != nil {
		raw, err := json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("audit: metadata: %w", err)
		}
		metadata = nil
		if err := json.Unmarshal(raw, &metadata); err != nil {
			return fmt.Errorf("audit: metadata: %w", err)
		}
	}
	_, err := l.trail.Append(newEvent(ctx, l.trail.clock(), eventType, action, resource, metadata))
	return err
}
