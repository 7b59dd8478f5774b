package ledger

import (
	"context"
	"fmt"
	"iter"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/nondominium/pkg/contracts"
	"github.com/Mindburn-Labs/nondominium/pkg/ppr"
)

type memEntry struct {
	Entry
	claim *ppr.ParticipationClaim
}

// MemoryLedger is an in-process hash-chained Ledger.
type MemoryLedger struct {
	mu       sync.RWMutex
	owner    contracts.AgentID
	entries  []memEntry
	byID     map[string]int
	bySlot   map[string]string // fulfills/side -> receipt id
	headHash string
	clock    func() time.Time
}

// NewMemoryLedger creates an empty ledger owned by owner.
func NewMemoryLedger(owner contracts.AgentID) *MemoryLedger {
	return &MemoryLedger{
		owner:    owner,
		byID:     make(map[string]int),
		bySlot:   make(map[string]string),
		headHash: GenesisHash,
		clock:    time.Now,
	}
}

// WithClock overrides clock for testing.
func (l *MemoryLedger) WithClock(clock func() time.Time) *MemoryLedger {
	l.clock = clock
	return l
}

func (l *MemoryLedger) Owner() contracts.AgentID { return l.owner }

func (l *MemoryLedger) Append(_ context.Context, c *ppr.ParticipationClaim) (string, error) {
	var cp *ppr.ParticipationClaim
	if c != nil {
		cp = cloneClaim(c)
	}
	if err := CheckAppend(l.owner, cp, uuid.NewString); err != nil {
		return "", err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, dup := l.byID[cp.ID]; dup {
		return "", contracts.Errorf(contracts.KindStateConflict, contracts.CodeDuplicate, "ledger.Append", "receipt %s already recorded", cp.ID)
	}
	slot := cp.Fulfills + "/" + string(cp.Side)
	if prior, dup := l.bySlot[slot]; dup {
		return "", contracts.Errorf(contracts.KindStateConflict, contracts.CodeAlreadyClaimed, "ledger.Append",
			"commitment %s already has a %s receipt (%s)", cp.Fulfills, cp.Side, prior)
	}

	receiptHash, err := ReceiptHash(cp)
	if err != nil {
		return "", err
	}
	seq := uint64(len(l.entries)) + 1
	contentHash, err := ChainHash(seq, receiptHash, l.headHash)
	if err != nil {
		return "", err
	}

	l.entries = append(l.entries, memEntry{
		Entry: Entry{
			Sequence:    seq,
			ReceiptID:   cp.ID,
			ReceiptHash: receiptHash,
			ContentHash: contentHash,
			PrevHash:    l.headHash,
			AppendedAt:  l.clock().UTC(),
		},
		claim: cp,
	})
	l.byID[cp.ID] = len(l.entries) - 1
	l.bySlot[slot] = cp.ID
	l.headHash = contentHash
	return cp.ID, nil
}

func (l *MemoryLedger) List(ctx context.Context, f Filter) iter.Seq2[*ppr.ParticipationClaim, error] {
	return func(yield func(*ppr.ParticipationClaim, error) bool) {
		l.mu.RLock()
		snapshot := make([]*ppr.ParticipationClaim, 0, len(l.entries))
		for _, e := range l.entries {
			if f.Match(e.claim) {
				snapshot = append(snapshot, e.claim)
			}
		}
		l.mu.RUnlock()

		sort.SliceStable(snapshot, func(i, j int) bool {
			return snapshot[i].ClaimedAt.Before(snapshot[j].ClaimedAt)
		})
		for _, c := range snapshot {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			if !yield(cloneClaim(c), nil) {
				return
			}
		}
	}
}

func (l *MemoryLedger) Get(_ context.Context, id string) (*ppr.ParticipationClaim, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	i, ok := l.byID[id]
	if !ok {
		return nil, contracts.Errorf(contracts.KindNotFound, contracts.CodeNotFound, "ledger.Get", "receipt %s not found", id)
	}
	return cloneClaim(l.entries[i].claim), nil
}

func (l *MemoryLedger) Len(context.Context) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries), nil
}

// Head returns the current head hash.
func (l *MemoryLedger) Head() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.headHash
}

// Verify checks the integrity of the entire chain and of every receipt's
// signed hash.
func (l *MemoryLedger) Verify() (bool, string) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	entries := make([]Entry, len(l.entries))
	claims := make([]*ppr.ParticipationClaim, len(l.entries))
	for i, e := range l.entries {
		entries[i], claims[i] = e.Entry, e.claim
	}
	return VerifyChain(entries, claims)
}

// VerifyChain checks hash links between entries and that each entry's
// receipt hash matches the stored receipt. claims[i] belongs to entries[i].
func VerifyChain(entries []Entry, claims []*ppr.ParticipationClaim) (bool, string) {
	if len(entries) != len(claims) {
		return false, fmt.Sprintf("have %d entries for %d receipts", len(entries), len(claims))
	}
	prevHash := GenesisHash
	for i, entry := range entries {
		if entry.PrevHash != prevHash {
			return false, fmt.Sprintf("chain broken at entry %d: expected prev %s, got %s", i+1, prevHash, entry.PrevHash)
		}
		receiptHash, err := ReceiptHash(claims[i])
		if err != nil || receiptHash != entry.ReceiptHash {
			return false, fmt.Sprintf("receipt hash mismatch at entry %d", i+1)
		}
		computed, err := ChainHash(entry.Sequence, entry.ReceiptHash, entry.PrevHash)
		if err != nil || computed != entry.ContentHash {
			return false, fmt.Sprintf("hash mismatch at entry %d", i+1)
		}
		if err := claims[i].CheckConsistency(); err != nil {
			return false, fmt.Sprintf("receipt %s at entry %d: %v", claims[i].ID, i+1, err)
		}
		prevHash = entry.ContentHash
	}
	return true, "chain verified"
}
