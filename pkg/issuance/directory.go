package issuance

import (
	"context"
	"crypto/ed25519"
	"sync"

	"github.com/Mindburn-Labs/nondominium/pkg/contracts"
	"github.com/Mindburn-Labs/nondominium/pkg/crypto"
	"github.com/Mindburn-Labs/nondominium/pkg/ppr"
)

// SignerDirectory returns the signer acting for an agent. In a deployment
// the counterparty's signer forwards the hash to that agent for co-signing.
type SignerDirectory interface {
	Signer(agent contracts.AgentID) (crypto.Signer, error)
}

// KeyDirectory resolves agents' public keys. *crypto.KeyRing implements it.
type KeyDirectory interface {
	PublicKey(agent contracts.AgentID) (ed25519.PublicKey, error)
}

// Recipient is an agent's node as seen by issuance. It verifies a receipt
// and writes it to its own ledger under its own authority.
type Recipient interface {
	AcceptReceipt(ctx context.Context, r *ppr.ParticipationClaim) (string, error)
}

// RecipientDirectory routes a receipt to the node of the agent that owns it.
type RecipientDirectory interface {
	Recipient(agent contracts.AgentID) (Recipient, error)
}

// Signers is a map-backed SignerDirectory.
type Signers struct {
	mu sync.RWMutex
	m  map[contracts.AgentID]crypto.Signer
}

func NewSigners() *Signers {
	return &Signers{m: make(map[contracts.AgentID]crypto.Signer)}
}

func (s *Signers) Add(agent contracts.AgentID, signer crypto.Signer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[agent] = signer
}

// Remove drops agent's signer.
func (s *Signers) Remove(agent contracts.AgentID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, agent)
}

func (s *Signers) Signer(agent contracts.AgentID) (crypto.Signer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	signer, ok := s.m[agent]
	if !ok {
		return nil, contracts.Errorf(contracts.KindNotFound, contracts.CodeNotFound, "issuance.Signer", "no signer for agent %s", agent)
	}
	return signer, nil
}

// Recipients is a map-backed RecipientDirectory.
type Recipients struct {
	mu sync.RWMutex
	m  map[contracts.AgentID]Recipient
}

func NewRecipients() *Recipients {
	return &Recipients{m: make(map[contracts.AgentID]Recipient)}
}

func (r *Recipients) Add(agent contracts.AgentID, rc Recipient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[agent] = rc
}

// Remove drops agent's route.
func (r *Recipients) Remove(agent contracts.AgentID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.m, agent)
}

func (r *Recipients) Recipient(agent contracts.AgentID) (Recipient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rc, ok := r.m[agent]
	if !ok {
		return nil, contracts.Errorf(contracts.KindNotFound, contracts.CodeNotFound, "issuance.Recipient", "no node for agent %s", agent)
	}
	return rc, nil
}
