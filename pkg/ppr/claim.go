package ppr

import (
	"crypto/ed25519"
	"time"

	"github.com/Mindburn-Labs/nondominium/pkg/contracts"
)

// Side identifies which party of a commitment holds a receipt.
type Side string

const (
	SideProvider Side = "provider"
	SideReceiver Side = "receiver"
)

// ParticipationClaim is one party's private copy of a receipt.
type ParticipationClaim struct {
	ID                 string                 `json:"id"`
	FormatVersion      string                 `json:"format_version"`
	Owner              contracts.AgentID      `json:"owner"`
	Side               Side                   `json:"side"`
	Fulfills           string                 `json:"fulfills"`
	FulfilledBy        string                 `json:"fulfilled_by"`
	ClaimedAt          time.Time              `json:"claimed_at"`
	ClaimType          ClaimType              `json:"claim_type"`
	Counterparty       contracts.AgentID      `json:"counterparty"`
	PerformanceMetrics PerformanceMetrics     `json:"performance_metrics"`
	BilateralSignature BilateralSignature     `json:"bilateral_signature"`
	InteractionContext string                 `json:"interaction_context"`
	RoleContext        string                 `json:"role_context,omitempty"`
	ResourceReference  *contracts.ResourceRef `json:"resource_reference,omitempty"`
	SignedPayload      SigningPayload         `json:"signed_payload"`
}

// ReceiptMeta carries the descriptive fields of a receipt that are not
// covered by the signature.
type ReceiptMeta struct {
	InteractionContext string
	RoleContext        string
	Resource           *contracts.ResourceRef
}

// NewReceipt builds side's copy of a signed receipt.
func NewReceipt(side Side, owner, counterparty contracts.AgentID, payload SigningPayload, sig BilateralSignature, meta ReceiptMeta) *ParticipationClaim {
	c := &ParticipationClaim{
		FormatVersion:      FormatVersion,
		Owner:              owner,
		Side:               side,
		Fulfills:           payload.Fulfills,
		FulfilledBy:        payload.FulfilledBy,
		ClaimedAt:          payload.ClaimedAt,
		Counterparty:       counterparty,
		BilateralSignature: sig,
		InteractionContext: meta.InteractionContext,
		RoleContext:        meta.RoleContext,
		SignedPayload:      payload,
	}
	if meta.Resource != nil && !meta.Resource.IsZero() {
		ref := *meta.Resource
		c.ResourceReference = &ref
	}
	if side == SideReceiver {
		c.ClaimType, c.PerformanceMetrics = payload.ReceiverClaimType, payload.ReceiverMetrics
	} else {
		c.ClaimType, c.PerformanceMetrics = payload.ProviderClaimType, payload.ProviderMetrics
	}
	return c
}

// Category is the category of the receipt's claim type.
func (c *ParticipationClaim) Category() Category {
	return c.ClaimType.Category()
}

// CheckConsistency confirms the receipt's visible fields agree with the
// payload that was signed and that the signed hash matches it. It needs no
// keys.
func (c *ParticipationClaim) CheckConsistency() error {
	const op = "ppr.ParticipationClaim.CheckConsistency"
	p := c.SignedPayload
	if c.Fulfills != p.Fulfills || c.FulfilledBy != p.FulfilledBy || !c.ClaimedAt.Equal(p.ClaimedAt) {
		return contracts.Errorf(contracts.KindCrypto, contracts.CodeSignatureMismatch, op, "receipt references differ from signed payload")
	}

	wantType, wantMetrics := p.ProviderClaimType, p.ProviderMetrics
	switch c.Side {
	case SideProvider:
	case SideReceiver:
		wantType, wantMetrics = p.ReceiverClaimType, p.ReceiverMetrics
	default:
		return contracts.Errorf(contracts.KindValidation, contracts.CodeInvalidInput, op, "unknown side %q", c.Side)
	}
	if c.ClaimType != wantType || !metricsEqual(c.PerformanceMetrics, wantMetrics) {
		return contracts.Errorf(contracts.KindCrypto, contracts.CodeSignatureMismatch, op, "claim type or metrics differ from signed payload")
	}

	h, err := p.Hash()
	if err != nil {
		return contracts.NewError(contracts.KindCrypto, contracts.CodeSignatureMismatch, op, err)
	}
	if h != c.BilateralSignature.SignedDataHash {
		return contracts.Errorf(contracts.KindCrypto, contracts.CodeSignatureMismatch, op, "signed hash does not match payload")
	}
	return nil
}

// Verify checks consistency and both signatures. ownerPub is the key of the
// receipt owner, counterpartyPub the other party's.
func (c *ParticipationClaim) Verify(ownerPub, counterpartyPub ed25519.PublicKey) error {
	if err := c.CheckConsistency(); err != nil {
		return err
	}
	providerPub, receiverPub := ownerPub, counterpartyPub
	if c.Side == SideReceiver {
		providerPub, receiverPub = counterpartyPub, ownerPub
	}
	return c.BilateralSignature.Verify(c.SignedPayload, providerPub, receiverPub)
}

func metricsEqual(a, b PerformanceMetrics) bool {
	if a.Timeliness != b.Timeliness || a.Quality != b.Quality || a.Reliability != b.Reliability ||
		a.Communication != b.Communication || a.CompletionRate != b.CompletionRate {
		return false
	}
	switch {
	case a.ResourceCondition == nil && b.ResourceCondition == nil:
		return true
	case a.ResourceCondition == nil || b.ResourceCondition == nil:
		return false
	}
	return *a.ResourceCondition == *b.ResourceCondition
}
