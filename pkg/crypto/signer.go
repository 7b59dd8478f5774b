// Package crypto implements agent signing: detached Ed25519 signatures over
// 32-byte canonical hashes, an agent public-key directory, key derivation and
// capability secrets.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
)

// HashSize is the length of every message hash this package signs.
const HashSize = 32

// ErrNoPrivateKey is returned when a signer holds no key material.
var ErrNoPrivateKey = errors.New("crypto: signer has no private key")

// Signer produces detached signatures over message hashes.
type Signer interface {
	Sign(hash [HashSize]byte) ([]byte, error)
	PublicKey() ed25519.PublicKey
	KeyID() string
}

// Ed25519Signer implementation.
type Ed25519Signer struct {
	privKey ed25519.PrivateKey
	pubKey  ed25519.PublicKey
	keyID   string
}

// NewEd25519Signer generates a fresh key pair.
func NewEd25519Signer(keyID string) (*Ed25519Signer, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("key generation failed: %w", err)
	}
	return NewEd25519SignerFromKey(priv, keyID), nil
}

// NewEd25519SignerFromKey wraps existing key material.
func NewEd25519SignerFromKey(priv ed25519.PrivateKey, keyID string) *Ed25519Signer {
	return &Ed25519Signer{
		privKey: priv,
		pubKey:  priv.Public().(ed25519.PublicKey),
		keyID:   keyID,
	}
}

func (s *Ed25519Signer) Sign(hash [HashSize]byte) ([]byte, error) {
	if len(s.privKey) != ed25519.PrivateKeySize {
		return nil, ErrNoPrivateKey
	}
	return ed25519.Sign(s.privKey, hash[:]), nil
}

func (s *Ed25519Signer) PublicKey() ed25519.PublicKey {
	return s.pubKey
}

// PublicKeyHex returns the hex encoding of the public key.
func (s *Ed25519Signer) PublicKeyHex() string {
	return hex.EncodeToString(s.pubKey)
}

func (s *Ed25519Signer) KeyID() string {
	return s.keyID
}

// PrivateKey exposes the key for token issuers that sign with the same identity.
func (s *Ed25519Signer) PrivateKey() ed25519.PrivateKey {
	return s.privKey
}
