package crypto

import (
	"crypto/ed25519"
	"fmt"
	"sort"
	"sync"

	"github.com/Mindburn-Labs/nondominium/pkg/contracts"
)

// KeyRing maps agents to their public signing keys. It stands in for the
// host identity directory and never holds private keys.
type KeyRing struct {
	mu   sync.RWMutex
	keys map[contracts.AgentID]ed25519.PublicKey
}

// NewKeyRing creates a new empty KeyRing.
func NewKeyRing() *KeyRing {
	return &KeyRing{
		keys: make(map[contracts.AgentID]ed25519.PublicKey),
	}
}

// Register records pub as agent's key, replacing any previous key.
func (k *KeyRing) Register(agent contracts.AgentID, pub ed25519.PublicKey) error {
	if agent == "" {
		return fmt.Errorf("agent id must not be empty")
	}
	if len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("invalid public key size: %d", len(pub))
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	cp := make(ed25519.PublicKey, len(pub))
	copy(cp, pub)
	k.keys[agent] = cp
	return nil
}

// RevokeKey removes an agent's key.
func (k *KeyRing) RevokeKey(agent contracts.AgentID) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.keys, agent)
}

// PublicKey returns the registered key for agent.
func (k *KeyRing) PublicKey(agent contracts.AgentID) (ed25519.PublicKey, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	pub, ok := k.keys[agent]
	if !ok {
		return nil, fmt.Errorf("unknown or revoked agent key: %s", agent)
	}
	return pub, nil
}

// Agents lists registered agents in sorted order.
func (k *KeyRing) Agents() []contracts.AgentID {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make([]contracts.AgentID, 0, len(k.keys))
	for a := range k.keys {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
