package identity

import (
	"crypto/ed25519"
	"encoding/hex"
	"time"

	"github.com/Mindburn-Labs/nondominium/pkg/contracts"
	"github.com/Mindburn-Labs/nondominium/pkg/crypto"
)

// Host is what the core consumes from the surrounding runtime.
type Host interface {
	CurrentAgent() contracts.AgentID
	PublicKey() ed25519.PublicKey
	Signer() crypto.Signer
	Now() time.Time
}

// LocalHost serves a single agent from an in-process key.
type LocalHost struct {
	agent  contracts.AgentID
	signer *crypto.Ed25519Signer
	clock  func() time.Time
}

// NewLocalHost returns a host for agent. An empty agent id defaults to the
// hex public key; a nil clock defaults to time.Now.
func NewLocalHost(agent contracts.AgentID, signer *crypto.Ed25519Signer, clock func() time.Time) *LocalHost {
	if agent == "" {
		agent = AgentIDFromKey(signer.PublicKey())
	}
	if clock == nil {
		clock = time.Now
	}
	return &LocalHost{agent: agent, signer: signer, clock: clock}
}

func (h *LocalHost) CurrentAgent() contracts.AgentID { return h.agent }
func (h *LocalHost) PublicKey() ed25519.PublicKey    { return h.signer.PublicKey() }
func (h *LocalHost) Signer() crypto.Signer           { return h.signer }
func (h *LocalHost) Now() time.Time                  { return h.clock() }

// KeySigner returns the concrete signing key, used for JWT signing.
func (h *LocalHost) KeySigner() *crypto.Ed25519Signer { return h.signer }

// Identity describes the hosted agent.
func (h *LocalHost) Identity(scopes ...string) *AgentIdentity {
	return &AgentIdentity{AgentID: h.agent, PublicKeyHex: h.signer.PublicKeyHex(), Scopes: scopes}
}

// AgentIDFromKey is the conventional agent id for a public key.
func AgentIDFromKey(pub ed25519.PublicKey) contracts.AgentID {
	return contracts.AgentID(hex.EncodeToString(pub))
}
