package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
)

const (
	secretSize   = 32
	secretDomain = "nondominium-capability-secret\x00"
)

// Secret is an opaque bearer value redeemed against a capability grant.
type Secret string

// NewSecret returns 32 bytes of randomness, base64url encoded.
func NewSecret() (Secret, error) {
	buf := make([]byte, secretSize)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("secret generation failed: %w", err)
	}
	return Secret(base64.RawURLEncoding.EncodeToString(buf)), nil
}

// SecretDigest is the value stored instead of the secret itself.
func SecretDigest(s Secret) [HashSize]byte {
	h := sha256.New()
	_, _ = h.Write([]byte(secretDomain))
	_, _ = h.Write([]byte(s))
	var out [HashSize]byte
	copy(out[:], h.Sum(nil))
	return out
}

// SecretMatches compares s against a stored digest in constant time.
func SecretMatches(s Secret, digest [HashSize]byte) bool {
	got := SecretDigest(s)
	return subtle.ConstantTimeCompare(got[:], digest[:]) == 1
}
