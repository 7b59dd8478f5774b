package capabilities

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Mindburn-Labs/nondominium/pkg/contracts"
)

// Store persists an agent's grants. Implementations never delete a grant.
type Store interface {
	Put(ctx context.Context, g *Grant) error
	Get(ctx context.Context, id string) (*Grant, error)
	FindBySecretDigest(ctx context.Context, digest string) (*Grant, error)
	// MarkRevoked sets the tombstone. It fails with ALREADY_REVOKED when one is set.
	MarkRevoked(ctx context.Context, id string, at time.Time) error
	// ListByOwner returns grants ordered by CreatedAt, then ID.
	ListByOwner(ctx context.Context, owner contracts.AgentID) ([]*Grant, error)
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu       sync.RWMutex
	grants   map[string]*Grant
	bySecret map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		grants:   make(map[string]*Grant),
		bySecret: make(map[string]string),
	}
}

func (s *MemoryStore) Put(_ context.Context, g *Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.grants[g.ID]; exists {
		return contracts.Errorf(contracts.KindStateConflict, contracts.CodeDuplicate, "capabilities.Put", "grant %s already exists", g.ID)
	}
	if _, exists := s.bySecret[g.SecretDigest]; exists {
		return contracts.Errorf(contracts.KindStateConflict, contracts.CodeDuplicate, "capabilities.Put", "secret already bound to a grant")
	}
	s.grants[g.ID] = g.Clone()
	s.bySecret[g.SecretDigest] = g.ID
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.grants[id]
	if !ok {
		return nil, ErrGrantNotFound(id)
	}
	return g.Clone(), nil
}

func (s *MemoryStore) FindBySecretDigest(_ context.Context, digest string) (*Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.bySecret[digest]
	if !ok {
		return nil, contracts.Errorf(contracts.KindNotFound, contracts.CodeNotFound, "capabilities.FindBySecretDigest", "no grant for secret")
	}
	return s.grants[id].Clone(), nil
}

func (s *MemoryStore) MarkRevoked(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.grants[id]
	if !ok {
		return ErrGrantNotFound(id)
	}
	if g.RevokedAt != nil {
		return ErrAlreadyRevoked(id)
	}
	at = at.UTC()
	g.RevokedAt = &at
	return nil
}

func (s *MemoryStore) ListByOwner(_ context.Context, owner contracts.AgentID) ([]*Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Grant
	for _, g := range s.grants {
		if g.Owner == owner {
			out = append(out, g.Clone())
		}
	}
	SortGrants(out)
	return out, nil
}

// SortGrants orders grants by CreatedAt, then ID.
func SortGrants(gs []*Grant) {
	sort.Slice(gs, func(i, j int) bool {
		if !gs[i].CreatedAt.Equal(gs[j].CreatedAt) {
			return gs[i].CreatedAt.Before(gs[j].CreatedAt)
		}
		return gs[i].ID < gs[j].ID
	})
}

// ErrGrantNotFound is the NOT_FOUND error stores return for a missing grant.
func ErrGrantNotFound(id string) error {
	return contracts.Errorf(contracts.KindNotFound, contracts.CodeNotFound, "capabilities.Get", "grant %s not found", id)
}

// ErrAlreadyRevoked is the STATE_CONFLICT error for a second revocation.
func ErrAlreadyRevoked(id string) error {
	return contracts.Errorf(contracts.KindStateConflict, contracts.CodeAlreadyRevoked, "capabilities.Revoke", "grant %s already revoked", id)
}
