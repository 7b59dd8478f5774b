// Package identity binds the core to the host identity system: the current
// agent, its key, the current time, and signed identity tokens agents hand
// to each other.
package identity

import (
	"github.com/Mindburn-Labs/nondominium/pkg/contracts"
)

type PrincipalType string

const (
	PrincipalAgent   PrincipalType = "AGENT"
	PrincipalService PrincipalType = "SERVICE"
)

// Principal represents any entity that can be authenticated.
type Principal interface {
	ID() string
	Type() PrincipalType
}

// AgentIdentity is an agent as seen by its counterparties.
type AgentIdentity struct {
	AgentID      contracts.AgentID
	PublicKeyHex string
	Scopes       []string
}

func (a *AgentIdentity) ID() string          { return string(a.AgentID) }
func (a *AgentIdentity) Type() PrincipalType { return PrincipalAgent }
