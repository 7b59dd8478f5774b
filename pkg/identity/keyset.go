package identity

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"fmt"
	"sync"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Mindburn-Labs/nondominium/pkg/crypto"
)

// KeySet manages the active signing key and the keys tokens are verified with.
type KeySet interface {
	// Sign creates a signed token with the current active key.
	Sign(ctx context.Context, claims jwt.Claims) (string, error)
	// KeyFunc returns the key for verification based on the token header.
	KeyFunc() jwt.Keyfunc
}

// InMemoryKeySet holds the agent's own signing key plus trusted
// verification keys of counterparties.
type InMemoryKeySet struct {
	mu         sync.RWMutex
	currentKID string
	signing    ed25519.PrivateKey
	verifying  map[string]ed25519.PublicKey
}

// NewInMemoryKeySet makes signer's key the active key.
func NewInMemoryKeySet(signer *crypto.Ed25519Signer) *InMemoryKeySet {
	kid := signer.KeyID()
	return &InMemoryKeySet{
		currentKID: kid,
		signing:    signer.PrivateKey(),
		verifying:  map[string]ed25519.PublicKey{kid: signer.PublicKey()},
	}
}

// Trust registers a counterparty's verification key under kid. A kid
// already bound to a different key is refused.
func (ks *InMemoryKeySet) Trust(kid string, pub ed25519.PublicKey) error {
	if len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("invalid public key size %d", len(pub))
	}
	ks.mu.Lock()
	defer ks.mu.Unlock()
	if have, ok := ks.verifying[kid]; ok && !bytes.Equal(have, pub) {
		return fmt.Errorf("kid %s already bound to another key", kid)
	}
	ks.verifying[kid] = append(ed25519.PublicKey(nil), pub...)
	return nil
}

// Distrust drops a counterparty key. The active key cannot be dropped.
func (ks *InMemoryKeySet) Distrust(kid string) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	if kid != ks.currentKID {
		delete(ks.verifying, kid)
	}
}

// CurrentKID returns the id of the active signing key.
func (ks *InMemoryKeySet) CurrentKID() string {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return ks.currentKID
}

func (ks *InMemoryKeySet) Sign(ctx context.Context, claims jwt.Claims) (string, error) {
	ks.mu.RLock()
	key := ks.signing
	kid := ks.currentKID
	ks.mu.RUnlock()

	if key == nil {
		return "", fmt.Errorf("no active key")
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	token.Header["kid"] = kid
	return token.SignedString(key)
}

func (ks *InMemoryKeySet) KeyFunc() jwt.Keyfunc {
	return func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}

		kid, ok := token.Header["kid"].(string)
		if !ok {
			return nil, fmt.Errorf("missing kid in header")
		}

		ks.mu.RLock()
		defer ks.mu.RUnlock()
		key, exists := ks.verifying[kid]
		if !exists {
			return nil, fmt.Errorf("key not found: %s", kid)
		}
		return key, nil
	}
}
