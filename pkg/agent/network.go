// Package agent binds the exposed operations to one agent's local state.
//
// A Network stands in for the shared substrate: public economic records, the
// key directory and the signing routes used for bilateral receipts. Every
// Agent keeps its ledger, grants and private data to itself.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Mindburn-Labs/nondominium/pkg/contracts"
	"github.com/Mindburn-Labs/nondominium/pkg/crypto"
	"github.com/Mindburn-Labs/nondominium/pkg/economic"
	"github.com/Mindburn-Labs/nondominium/pkg/identity"
	"github.com/Mindburn-Labs/nondominium/pkg/issuance"
	"github.com/Mindburn-Labs/nondominium/pkg/ppr"
)

// Network is the substrate shared by a set of agents.
type Network struct {
	registry economic.Registry
	keys     *crypto.KeyRing
	signers  *issuance.Signers
	nodes    *issuance.Recipients
	engine   *issuance.Engine

	mu     sync.RWMutex
	agents map[contracts.AgentID]*Agent
}

// NewNetwork creates a network over registry. A nil registry is replaced by
// an in-memory one.
func NewNetwork(registry economic.Registry, opts ...issuance.Option) *Network {
	if registry == nil {
		registry = economic.NewMemoryRegistry()
	}
	n := &Network{
		registry: registry,
		keys:     crypto.NewKeyRing(),
		signers:  issuance.NewSigners(),
		nodes:    issuance.NewRecipients(),
		agents:   make(map[contracts.AgentID]*Agent),
	}
	n.engine = issuance.NewEngine(registry, n.keys, n.signers, n.nodes, opts...)
	return n
}

// Registry returns the shared economic registry.
func (n *Network) Registry() economic.Registry { return n.registry }

// Keys returns the agent key directory.
func (n *Network) Keys() *crypto.KeyRing { return n.keys }

// Join registers host's agent and returns its node.
func (n *Network) Join(host *identity.LocalHost, opts ...Option) (*Agent, error) {
	id := host.CurrentAgent()
	a, err := newAgent(n, host, opts...)
	if err != nil {
		return nil, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.agents[id]; ok {
		return nil, contracts.Errorf(contracts.KindStateConflict, contracts.CodeDuplicate, "agent.Join", "agent %s already joined", id)
	}
	for _, peer := range n.agents {
		if err := a.trust(peer); err != nil {
			return nil, err
		}
	}
	if err := n.keys.Register(id, host.PublicKey()); err != nil {
		return nil, fmt.Errorf("agent: register key: %w", err)
	}
	for _, peer := range n.agents {
		if err := peer.trust(a); err != nil {
			n.keys.RevokeKey(id)
			return nil, err
		}
	}
	n.signers.Add(id, host.Signer())
	n.nodes.Add(id, a)
	n.agents[id] = a
	return a, nil
}

// Agent returns a joined agent.
func (n *Network) Agent(id contracts.AgentID) (*Agent, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	a, ok := n.agents[id]
	if !ok {
		return nil, contracts.Errorf(contracts.KindNotFound, contracts.CodeNotFound, "agent.Network", "unknown agent %s", id)
	}
	return a, nil
}

// Leave removes an agent. Its key is revoked, so no node accepts a receipt
// or identity token from it afterwards.
func (n *Network) Leave(id contracts.AgentID) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	a, ok := n.agents[id]
	if !ok {
		return contracts.Errorf(contracts.KindNotFound, contracts.CodeNotFound, "agent.Leave", "unknown agent %s", id)
	}
	delete(n.agents, id)
	for _, peer := range n.agents {
		peer.keyset.Distrust(a.keyset.CurrentKID())
	}
	n.nodes.Remove(id)
	n.signers.Remove(id)
	n.keys.RevokeKey(id)
	return nil
}

// Redeliver hands a receipt that an earlier issuance could not deliver to
// its owner's node, which verifies it like any other delivery.
func (n *Network) Redeliver(ctx context.Context, err error) (string, error) {
	var de *issuance.DeliveryError
	if !errors.As(err, &de) {
		return "", err
	}
	var r *ppr.ParticipationClaim
	if de.Issuance != nil {
		r = de.Issuance.Receipt(de.Side)
	}
	if r == nil {
		return "", contracts.Errorf(contracts.KindValidation, contracts.CodeInvalidInput, "agent.Redeliver", "no %s receipt to deliver", de.Side)
	}
	owner, err := n.Agent(r.Owner)
	if err != nil {
		return "", err
	}
	return owner.AcceptReceipt(ctx, r)
}
