package crypto

import (
	"crypto/ed25519"
	"encoding/hex"
)

// Verify checks sig over hash with pub. Malformed keys or signatures yield
// false rather than an error.
func Verify(pub ed25519.PublicKey, hash [HashSize]byte, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, hash[:], sig)
}

// ParsePublicKeyHex decodes a hex Ed25519 public key.
func ParsePublicKeyHex(s string) (ed25519.PublicKey, bool) {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != ed25519.PublicKeySize {
		return nil, false
	}
	return ed25519.PublicKey(b), true
}
