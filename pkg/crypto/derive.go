package crypto

import (
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const agentKDFSalt = "nondominium-agent-kdf-v1"

// DeriveAgentKey derives a deterministic Ed25519 key for label from rootSeed
// using HKDF-SHA256.
func DeriveAgentKey(rootSeed []byte, label string) (ed25519.PrivateKey, error) {
	if len(rootSeed) < ed25519.SeedSize {
		return nil, fmt.Errorf("root seed must be at least %d bytes", ed25519.SeedSize)
	}
	if label == "" {
		return nil, fmt.Errorf("label must not be empty")
	}

	reader := hkdf.New(sha256.New, rootSeed, []byte(agentKDFSalt), []byte(label))
	seed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(reader, seed); err != nil {
		return nil, fmt.Errorf("HKDF derivation failed: %w", err)
	}
	return ed25519.NewKeyFromSeed(seed), nil
}
