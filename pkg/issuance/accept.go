package issuance

import (
	"context"

	"github.com/Mindburn-Labs/nondominium/pkg/contracts"
	"github.com/Mindburn-Labs/nondominium/pkg/economic"
	"github.com/Mindburn-Labs/nondominium/pkg/ledger"
	"github.com/Mindburn-Labs/nondominium/pkg/ppr"
)

// Acceptor is the only write path into an agent's ledger for receipts that
// arrive from issuance. It admits a receipt only when both signatures verify
// against the key directory and the public record holds the claim it cites.
type Acceptor struct {
	registry economic.Registry
	keys     KeyDirectory
	ledger   ledger.Ledger
}

// NewAcceptor guards l, which must be the accepting agent's own ledger.
func NewAcceptor(registry economic.Registry, keys KeyDirectory, l ledger.Ledger) *Acceptor {
	return &Acceptor{registry: registry, keys: keys, ledger: l}
}

// Owner is the agent whose ledger the acceptor writes.
func (a *Acceptor) Owner() contracts.AgentID { return a.ledger.Owner() }

// AcceptReceipt verifies r and appends it to the guarded ledger.
func (a *Acceptor) AcceptReceipt(ctx context.Context, r *ppr.ParticipationClaim) (string, error) {
	if r != nil && r.Owner != a.ledger.Owner() {
		return "", contracts.Errorf(contracts.KindAuthorization, contracts.CodeNotLedgerOwner, "issuance.AcceptReceipt",
			"receipt owned by %s offered to %s", r.Owner, a.ledger.Owner())
	}
	if err := VerifyReceipt(ctx, a.registry, a.keys, r); err != nil {
		return "", err
	}
	return a.ledger.Append(ctx, r)
}

// VerifyReceipt checks a receipt against the agents' registered keys and the
// recorded claim for its commitment.
func VerifyReceipt(ctx context.Context, registry economic.Registry, keys KeyDirectory, r *ppr.ParticipationClaim) error {
	const op = "issuance.VerifyReceipt"
	if r == nil {
		return contracts.Errorf(contracts.KindValidation, contracts.CodeInvalidInput, op, "receipt is nil")
	}

	commitment, err := registry.GetCommitment(ctx, r.Fulfills)
	if err != nil {
		return err
	}
	provider, receiver := r.Owner, r.Counterparty
	if r.Side == ppr.SideReceiver {
		provider, receiver = r.Counterparty, r.Owner
	}
	if commitment.Provider != provider || commitment.Receiver != receiver {
		return contracts.Errorf(contracts.KindAuthorization, contracts.CodeNotCommitmentParty, op,
			"receipt parties %s->%s differ from commitment %s", provider, receiver, commitment.ID)
	}

	ownerPub, err := keys.PublicKey(r.Owner)
	if err != nil {
		return contracts.NewError(contracts.KindCrypto, contracts.CodeSignatureMismatch, op, err)
	}
	counterpartyPub, err := keys.PublicKey(r.Counterparty)
	if err != nil {
		return contracts.NewError(contracts.KindCrypto, contracts.CodeSignatureMismatch, op, err)
	}
	if err := r.Verify(ownerPub, counterpartyPub); err != nil {
		return err
	}

	claim, err := registry.ClaimFor(ctx, commitment.ID)
	if err != nil {
		return err
	}
	if claim == nil {
		return contracts.Errorf(contracts.KindStateConflict, contracts.CodeNotClaimed, op,
			"commitment %s has no recorded claim", commitment.ID)
	}
	if claim.FulfilledBy != r.FulfilledBy || !claim.ClaimedAt.Equal(r.ClaimedAt) {
		return contracts.Errorf(contracts.KindValidation, contracts.CodeFulfillmentMismatch, op,
			"receipt does not match claim %s", claim.ID)
	}
	return nil
}
