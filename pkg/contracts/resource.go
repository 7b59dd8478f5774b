package contracts

import (
	"time"
)

// AgentID identifies an agent. By convention it is the hex encoding of the
// agent's Ed25519 public key, but any stable opaque string works.
type AgentID string

// ResourceRef points at either a specific resource instance or a resource
// specification.
type ResourceRef struct {
	InstanceID      string `json:"instance_id,omitempty"`
	SpecificationID string `json:"specification_id,omitempty"`
}

// IsZero reports whether neither reference is set.
func (r ResourceRef) IsZero() bool {
	return r.InstanceID == "" && r.SpecificationID == ""
}

// Matches reports whether r and other reference the same resource. Instance
// ids take precedence; specification ids are compared only when neither side
// names an instance.
func (r ResourceRef) Matches(other ResourceRef) bool {
	if r.InstanceID != "" || other.InstanceID != "" {
		return r.InstanceID == other.InstanceID
	}
	return r.SpecificationID != "" && r.SpecificationID == other.SpecificationID
}

// Commitment is a promise by Provider to perform Action for Receiver.
type Commitment struct {
	ID        string      `json:"id"`
	Action    VfAction    `json:"action"`
	Provider  AgentID     `json:"provider"`
	Receiver  AgentID     `json:"receiver"`
	Resource  ResourceRef `json:"resource"`
	DueDate   time.Time   `json:"due_date"`
	Note      string      `json:"note,omitempty"`
	CreatedBy AgentID     `json:"created_by"`
	CreatedAt time.Time   `json:"created_at"`
}

// EconomicEvent is an observed economic fact.
type EconomicEvent struct {
	ID        string      `json:"id"`
	Action    VfAction    `json:"action"`
	Provider  AgentID     `json:"provider"`
	Receiver  AgentID     `json:"receiver"`
	Resource  ResourceRef `json:"resource"`
	Quantity  float64     `json:"quantity"`
	EventTime time.Time   `json:"event_time"`
	Note      string      `json:"note,omitempty"`
}

// Claim links one commitment to the one event fulfilling it.
type Claim struct {
	ID          string    `json:"id"`
	Fulfills    string    `json:"fulfills"`
	FulfilledBy string    `json:"fulfilled_by"`
	ClaimedAt   time.Time `json:"claimed_at"`
	Note        string    `json:"note,omitempty"`
}

// Parties reports whether agent is the provider or receiver of c.
func (c *Commitment) Parties(agent AgentID) bool {
	return c.Provider == agent || c.Receiver == agent
}

// Counterparty returns the other party of c from agent's viewpoint.
func (c *Commitment) Counterparty(agent AgentID) AgentID {
	if c.Provider == agent {
		return c.Receiver
	}
	return c.Provider
}
