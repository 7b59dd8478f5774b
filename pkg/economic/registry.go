// Package economic records the public economic facts agents observe:
// commitments, the events that fulfil them and the claims linking the two.
package economic

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/nondominium/pkg/contracts"
)

// Registry is the shared view of commitments, events and claims.
type Registry interface {
	ProposeCommitment(ctx context.Context, c *contracts.Commitment) (*contracts.Commitment, error)
	RecordEvent(ctx context.Context, e *contracts.EconomicEvent) (*contracts.EconomicEvent, error)
	GetCommitment(ctx context.Context, id string) (*contracts.Commitment, error)
	GetEvent(ctx context.Context, id string) (*contracts.EconomicEvent, error)
	// ClaimFor returns the claim fulfilling commitmentID, or nil if unclaimed.
	ClaimFor(ctx context.Context, commitmentID string) (*contracts.Claim, error)
	// RecordClaim fails with ALREADY_CLAIMED when the commitment has a claim.
	RecordClaim(ctx context.Context, claim *contracts.Claim) (*contracts.Claim, error)
}

// MemoryRegistry is an in-process Registry.
type MemoryRegistry struct {
	mu          sync.RWMutex
	commitments map[string]*contracts.Commitment
	events      map[string]*contracts.EconomicEvent
	claims      map[string]*contracts.Claim // keyed by commitment id
	clock       func() time.Time
}

// NewMemoryRegistry creates an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		commitments: make(map[string]*contracts.Commitment),
		events:      make(map[string]*contracts.EconomicEvent),
		claims:      make(map[string]*contracts.Claim),
		clock:       time.Now,
	}
}

// WithClock overrides the clock used for CreatedAt and ClaimedAt defaults.
func (r *MemoryRegistry) WithClock(clock func() time.Time) *MemoryRegistry {
	r.clock = clock
	return r
}

func (r *MemoryRegistry) ProposeCommitment(_ context.Context, c *contracts.Commitment) (*contracts.Commitment, error) {
	const op = "economic.ProposeCommitment"
	if c == nil {
		return nil, contracts.Errorf(contracts.KindValidation, contracts.CodeInvalidInput, op, "commitment is nil")
	}
	if c.Provider == "" || c.Receiver == "" {
		return nil, contracts.Errorf(contracts.KindValidation, contracts.CodeInvalidInput, op, "provider and receiver are required")
	}
	if c.Provider == c.Receiver {
		return nil, contracts.Errorf(contracts.KindValidation, contracts.CodeInvalidInput, op, "provider and receiver must differ")
	}
	if !c.Action.Valid() {
		return nil, contracts.Errorf(contracts.KindValidation, contracts.CodeInvalidInput, op, "unknown action %q", c.Action)
	}

	cp := *c
	if cp.CreatedBy == "" {
		cp.CreatedBy = cp.Provider
	}
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = r.clock().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.commitments[cp.ID]; exists {
		return nil, contracts.Errorf(contracts.KindStateConflict, contracts.CodeDuplicate, op, "commitment %s already exists", cp.ID)
	}
	r.commitments[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (r *MemoryRegistry) RecordEvent(_ context.Context, e *contracts.EconomicEvent) (*contracts.EconomicEvent, error) {
	const op = "economic.RecordEvent"
	if e == nil {
		return nil, contracts.Errorf(contracts.KindValidation, contracts.CodeInvalidInput, op, "event is nil")
	}
	if e.Provider == "" || e.Receiver == "" {
		return nil, contracts.Errorf(contracts.KindValidation, contracts.CodeInvalidInput, op, "provider and receiver are required")
	}
	if !e.Action.Valid() {
		return nil, contracts.Errorf(contracts.KindValidation, contracts.CodeInvalidInput, op, "unknown action %q", e.Action)
	}
	if e.Quantity < 0 {
		return nil, contracts.Errorf(contracts.KindValidation, contracts.CodeInvalidInput, op, "quantity must not be negative")
	}

	cp := *e
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	if cp.EventTime.IsZero() {
		cp.EventTime = r.clock().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.events[cp.ID]; exists {
		return nil, contracts.Errorf(contracts.KindStateConflict, contracts.CodeDuplicate, op, "event %s already exists", cp.ID)
	}
	r.events[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (r *MemoryRegistry) GetCommitment(_ context.Context, id string) (*contracts.Commitment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.commitments[id]
	if !ok {
		return nil, contracts.Errorf(contracts.KindNotFound, contracts.CodeNotFound, "economic.GetCommitment", "commitment %s not found", id)
	}
	out := *c
	return &out, nil
}

func (r *MemoryRegistry) GetEvent(_ context.Context, id string) (*contracts.EconomicEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.events[id]
	if !ok {
		return nil, contracts.Errorf(contracts.KindNotFound, contracts.CodeNotFound, "economic.GetEvent", "event %s not found", id)
	}
	out := *e
	return &out, nil
}

func (r *MemoryRegistry) ClaimFor(_ context.Context, commitmentID string) (*contracts.Claim, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.claims[commitmentID]
	if !ok {
		return nil, nil
	}
	out := *c
	return &out, nil
}

func (r *MemoryRegistry) RecordClaim(_ context.Context, claim *contracts.Claim) (*contracts.Claim, error) {
	const op = "economic.RecordClaim"
	if claim == nil || claim.Fulfills == "" || claim.FulfilledBy == "" {
		return nil, contracts.Errorf(contracts.KindValidation, contracts.CodeInvalidInput, op, "claim must reference a commitment and an event")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.commitments[claim.Fulfills]; !ok {
		return nil, contracts.Errorf(contracts.KindNotFound, contracts.CodeNotFound, op, "commitment %s not found", claim.Fulfills)
	}
	if _, ok := r.events[claim.FulfilledBy]; !ok {
		return nil, contracts.Errorf(contracts.KindNotFound, contracts.CodeNotFound, op, "event %s not found", claim.FulfilledBy)
	}
	if prior, ok := r.claims[claim.Fulfills]; ok {
		return nil, contracts.Errorf(contracts.KindStateConflict, contracts.CodeAlreadyClaimed, op,
			"commitment %s already claimed by %s", claim.Fulfills, prior.ID)
	}

	cp := *claim
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	if cp.ClaimedAt.IsZero() {
		cp.ClaimedAt = r.clock().UTC()
	}
	r.claims[cp.Fulfills] = &cp
	out := cp
	return &out, nil
}
