package ppr

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/nondominium/pkg/canonicalize"
	"github.com/Mindburn-Labs/nondominium/pkg/contracts"
	"github.com/Mindburn-Labs/nondominium/pkg/crypto"
)

// Digest is a SHA-256 hash encoded as hex in JSON.
type Digest [crypto.HashSize]byte

func (d Digest) String() string { return hex.EncodeToString(d[:]) }

func (d Digest) IsZero() bool { return d == Digest{} }

func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Digest) UnmarshalText(text []byte) error {
	b, err := hex.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("digest: %w", err)
	}
	if len(b) != len(d) {
		return fmt.Errorf("digest: got %d bytes, want %d", len(b), len(d))
	}
	copy(d[:], b)
	return nil
}

// SigningPayload holds the substantive fields both parties sign.
type SigningPayload struct {
	Fulfills          string             `json:"fulfills"`
	FulfilledBy       string             `json:"fulfilled_by"`
	ClaimedAt         time.Time          `json:"claimed_at"`
	ProviderClaimType ClaimType          `json:"provider_claim_type"`
	ReceiverClaimType ClaimType          `json:"receiver_claim_type"`
	ProviderMetrics   PerformanceMetrics `json:"provider_metrics"`
	ReceiverMetrics   PerformanceMetrics `json:"receiver_metrics"`
}

type canonicalMetrics struct {
	Provider PerformanceMetrics `json:"provider"`
	Receiver PerformanceMetrics `json:"receiver"`
}

type canonicalPayload struct {
	Fulfills          string           `json:"fulfills"`
	FulfilledBy       string           `json:"fulfilled_by"`
	ClaimedAt         string           `json:"claimed_at"`
	ProviderClaimType ClaimType        `json:"provider_claim_type"`
	ReceiverClaimType ClaimType        `json:"receiver_claim_type"`
	Metrics           canonicalMetrics `json:"metrics"`
}

// CanonicalBytes is the JCS encoding of the payload with claimed_at in UTC
// RFC 3339 form.
func (p SigningPayload) CanonicalBytes() ([]byte, error) {
	return canonicalize.JCS(canonicalPayload{
		Fulfills:          p.Fulfills,
		FulfilledBy:       p.FulfilledBy,
		ClaimedAt:         p.ClaimedAt.UTC().Format(time.RFC3339Nano),
		ProviderClaimType: p.ProviderClaimType,
		ReceiverClaimType: p.ReceiverClaimType,
		Metrics:           canonicalMetrics{Provider: p.ProviderMetrics, Receiver: p.ReceiverMetrics},
	})
}

// Hash is the digest both signatures cover.
func (p SigningPayload) Hash() (Digest, error) {
	b, err := p.CanonicalBytes()
	if err != nil {
		return Digest{}, fmt.Errorf("ppr: canonical payload: %w", err)
	}
	return Digest(crypto.Hash(b)), nil
}

// BilateralSignature is one signature per party over the same hash.
type BilateralSignature struct {
	ProviderSignature []byte    `json:"provider_signature"`
	ReceiverSignature []byte    `json:"receiver_signature"`
	SignedDataHash    Digest    `json:"signed_data_hash"`
	SignedAt          time.Time `json:"signed_at"`
}

// Verify recomputes the payload hash and checks both signatures against it.
func (s BilateralSignature) Verify(payload SigningPayload, providerPub, receiverPub ed25519.PublicKey) error {
	const op = "ppr.BilateralSignature.Verify"
	h, err := payload.Hash()
	if err != nil {
		return contracts.NewError(contracts.KindCrypto, contracts.CodeSignatureMismatch, op, err)
	}
	if h != s.SignedDataHash {
		return contracts.Errorf(contracts.KindCrypto, contracts.CodeSignatureMismatch, op,
			"payload hash %s differs from signed hash %s", h, s.SignedDataHash)
	}
	if !crypto.Verify(providerPub, [crypto.HashSize]byte(h), s.ProviderSignature) {
		return contracts.Errorf(contracts.KindCrypto, contracts.CodeSignatureMismatch, op, "provider signature does not verify")
	}
	if !crypto.Verify(receiverPub, [crypto.HashSize]byte(h), s.ReceiverSignature) {
		return contracts.Errorf(contracts.KindCrypto, contracts.CodeSignatureMismatch, op, "receiver signature does not verify")
	}
	return nil
}

// SignBilateral has both parties sign the payload hash.
func SignBilateral(payload SigningPayload, provider, receiver crypto.Signer, at time.Time) (BilateralSignature, error) {
	const op = "ppr.SignBilateral"
	h, err := payload.Hash()
	if err != nil {
		return BilateralSignature{}, contracts.NewError(contracts.KindCrypto, contracts.CodeSignatureMismatch, op, err)
	}
	ps, err := provider.Sign(h)
	if err != nil {
		return BilateralSignature{}, contracts.NewError(contracts.KindCrypto, contracts.CodeSignatureMismatch, op, fmt.Errorf("provider: %w", err))
	}
	rs, err := receiver.Sign(h)
	if err != nil {
		return BilateralSignature{}, contracts.NewError(contracts.KindCrypto, contracts.CodeSignatureMismatch, op, fmt.Errorf("receiver: %w", err))
	}
	return BilateralSignature{
		ProviderSignature: ps,
		ReceiverSignature: rs,
		SignedDataHash:    h,
		SignedAt:          at.UTC(),
	}, nil
}
