// Package capabilities issues, revokes and validates time-boxed grants over
// an agent's private data fields.
package capabilities

import (
	"encoding/hex"
	"slices"
	"time"

	"github.com/Mindburn-Labs/nondominium/pkg/contracts"
	"github.com/Mindburn-Labs/nondominium/pkg/crypto"
	"github.com/Mindburn-Labs/nondominium/pkg/privacy"
)

const (
	// DefaultDuration applies when a grant request names no duration.
	DefaultDuration = 7 * 24 * time.Hour
	// MaxDuration is the hard upper bound on a grant's lifetime.
	MaxDuration = 30 * 24 * time.Hour
)

// Status is the state of a grant at a point in time.
type Status string

const (
	StatusValid   Status = "valid"
	StatusExpired Status = "expired"
	StatusRevoked Status = "revoked"
)

// Grant permits GrantedTo to read Fields of Owner's private data until
// ExpiresAt. Revocation leaves a tombstone in RevokedAt.
type Grant struct {
	ID           string            `json:"id"`
	Owner        contracts.AgentID `json:"owner"`
	GrantedTo    contracts.AgentID `json:"granted_to"`
	Fields       []privacy.Field   `json:"fields_allowed"`
	Context      string            `json:"context"`
	CreatedAt    time.Time         `json:"created_at"`
	ExpiresAt    time.Time         `json:"expires_at"`
	SecretDigest string            `json:"secret_digest"`
	RevokedAt    *time.Time        `json:"revoked_at,omitempty"`
}

// Allows reports whether f is among the granted fields. legal_name is
// never allowed, whatever the grant carries.
func (g *Grant) Allows(f privacy.Field) bool {
	return f.Shareable() && slices.Contains(g.Fields, f)
}

// Clone returns a deep copy of g.
func (g *Grant) Clone() *Grant {
	cp := *g
	cp.Fields = slices.Clone(g.Fields)
	if g.RevokedAt != nil {
		at := *g.RevokedAt
		cp.RevokedAt = &at
	}
	return &cp
}

// Validate reports the status of g at now. Revoked takes precedence over
// Expired, and a grant is expired only strictly after ExpiresAt.
func Validate(g *Grant, now time.Time) Status {
	if g.RevokedAt != nil {
		return StatusRevoked
	}
	if now.After(g.ExpiresAt) {
		return StatusExpired
	}
	return StatusValid
}

// DigestSecret returns the lookup key stored for a grant secret.
func DigestSecret(secret crypto.Secret) string {
	d := crypto.SecretDigest(secret)
	return hex.EncodeToString(d[:])
}

// SecretMatches reports in constant time whether secret belongs to g.
func (g *Grant) SecretMatches(secret crypto.Secret) bool {
	raw, err := hex.DecodeString(g.SecretDigest)
	if err != nil || len(raw) != crypto.HashSize {
		return false
	}
	var d [crypto.HashSize]byte
	copy(d[:], raw)
	return crypto.SecretMatches(secret, d)
}
