// Package pprtest builds signed receipts for tests.
package pprtest

import (
	"time"

	"github.com/Mindburn-Labs/nondominium/pkg/contracts"
	"github.com/Mindburn-Labs/nondominium/pkg/crypto"
	"github.com/Mindburn-Labs/nondominium/pkg/ppr"
)

// Party is a test agent with its own key.
type Party struct {
	ID     contracts.AgentID
	Signer *crypto.Ed25519Signer
}

// NewParty creates a party with a fresh key.
func NewParty(id string) Party {
	s, err := crypto.NewEd25519Signer(id)
	if err != nil {
		panic(err)
	}
	return Party{ID: contracts.AgentID(id), Signer: s}
}

// Terms describes one receipt pair.
type Terms struct {
	Fulfills    string
	FulfilledBy string
	ClaimedAt   time.Time
	Types       ppr.ClaimTypePair
	Provider    ppr.PerformanceMetrics
	Receiver    ppr.PerformanceMetrics
	Meta        ppr.ReceiptMeta
}

// Metrics returns metrics with every score set to v.
func Metrics(v float64) ppr.PerformanceMetrics {
	return ppr.PerformanceMetrics{Timeliness: v, Quality: v, Reliability: v, Communication: v, CompletionRate: v}
}

// Pair signs s and returns the provider's and the receiver's copies.
func Pair(provider, receiver Party, s Terms) (*ppr.ParticipationClaim, *ppr.ParticipationClaim) {
	if s.FulfilledBy == "" {
		s.FulfilledBy = s.Fulfills + "-event"
	}
	if s.Types == (ppr.ClaimTypePair{}) {
		s.Types = ppr.DefaultClaimTypes
	}
	payload := ppr.SigningPayload{
		Fulfills:          s.Fulfills,
		FulfilledBy:       s.FulfilledBy,
		ClaimedAt:         s.ClaimedAt.UTC(),
		ProviderClaimType: s.Types.Provider,
		ReceiverClaimType: s.Types.Receiver,
		ProviderMetrics:   s.Provider,
		ReceiverMetrics:   s.Receiver,
	}
	sig, err := ppr.SignBilateral(payload, provider.Signer, receiver.Signer, s.ClaimedAt)
	if err != nil {
		panic(err)
	}
	return ppr.NewReceipt(ppr.SideProvider, provider.ID, receiver.ID, payload, sig, s.Meta),
		ppr.NewReceipt(ppr.SideReceiver, receiver.ID, provider.ID, payload, sig, s.Meta)
}
