package identity

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Mindburn-Labs/nondominium/pkg/contracts"
)

const tokenIssuer = "nondominium/identity"

// IdentityClaims is what an agent asserts about itself to a counterparty.
type IdentityClaims struct {
	jwt.RegisteredClaims
	Type      PrincipalType `json:"type"`
	PublicKey string        `json:"public_key"`
	Scopes    []string      `json:"scopes,omitempty"`
}

// TokenManager handles token generation and validation.
type TokenManager struct {
	keySet KeySet
	clock  func() time.Time
}

// NewTokenManager creates a token manager. A nil clock defaults to time.Now.
func NewTokenManager(ks KeySet, clock func() time.Time) *TokenManager {
	if clock == nil {
		clock = time.Now
	}
	return &TokenManager{keySet: ks, clock: clock}
}

// GenerateToken creates a signed JWT for an agent identity.
func (tm *TokenManager) GenerateToken(ctx context.Context, a *AgentIdentity, duration time.Duration) (string, error) {
	now := tm.clock().UTC()
	claims := IdentityClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        fmt.Sprintf("%s-%d", a.ID(), now.UnixNano()),
			Subject:   a.ID(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(duration)),
			Issuer:    tokenIssuer,
		},
		Type:      a.Type(),
		PublicKey: a.PublicKeyHex,
		Scopes:    a.Scopes,
	}
	return tm.keySet.Sign(ctx, claims)
}

// ValidateToken parses and validates a JWT string and checks the embedded
// public key is well formed.
func (tm *TokenManager) ValidateToken(tokenString string) (*IdentityClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &IdentityClaims{}, tm.keySet.KeyFunc(),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(tm.clock),
	)
	if err != nil {
		return nil, contracts.NewError(contracts.KindAuthorization, contracts.CodeAccessDenied, "identity.ValidateToken", err)
	}

	claims, ok := token.Claims.(*IdentityClaims)
	if !ok || !token.Valid {
		return nil, contracts.NewError(contracts.KindAuthorization, contracts.CodeAccessDenied, "identity.ValidateToken", jwt.ErrTokenSignatureInvalid)
	}
	raw, err := hex.DecodeString(claims.PublicKey)
	if err != nil || len(raw) != ed25519.PublicKeySize {
		return nil, contracts.Errorf(contracts.KindValidation, contracts.CodeInvalidInput, "identity.ValidateToken", "malformed public key claim")
	}
	return claims, nil
}

// Agent returns the identity asserted by validated claims.
func (c *IdentityClaims) Agent() *AgentIdentity {
	return &AgentIdentity{AgentID: contracts.AgentID(c.Subject), PublicKeyHex: c.PublicKey, Scopes: c.Scopes}
}
