// Package issuance turns a fulfilled commitment into a pair of bilaterally
// signed participation receipts, one for each party's own ledger.
package issuance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/nondominium/pkg/audit"
	"github.com/Mindburn-Labs/nondominium/pkg/contracts"
	"github.com/Mindburn-Labs/nondominium/pkg/economic"
	"github.com/Mindburn-Labs/nondominium/pkg/governance"
	"github.com/Mindburn-Labs/nondominium/pkg/observability"
	"github.com/Mindburn-Labs/nondominium/pkg/ppr"
)

// IssueInput describes one fulfilment.
type IssueInput struct {
	// Caller is the agent invoking issuance; it must be a party to the commitment.
	Caller             contracts.AgentID
	CommitmentID       string
	EventID            string
	ProcessType        ppr.ProcessType
	InteractionContext string
	RoleContext        string
	ProviderMetrics    ppr.PerformanceMetrics
	// ReceiverMetrics defaults to ProviderMetrics.
	ReceiverMetrics *ppr.PerformanceMetrics
	// ClaimedAt defaults to the engine clock.
	ClaimedAt time.Time
	Note      string
}

// Issuance is a fully signed, verified but not yet recorded receipt pair.
type Issuance struct {
	Claim      contracts.Claim
	Commitment contracts.Commitment
	Event      contracts.EconomicEvent
	ClaimTypes ppr.ClaimTypePair
	Hash       ppr.Digest
	Provider   *ppr.ParticipationClaim
	Receiver   *ppr.ParticipationClaim
}

// Receipt returns the copy held by side.
func (i *Issuance) Receipt(side ppr.Side) *ppr.ParticipationClaim {
	if side == ppr.SideReceiver {
		return i.Receiver
	}
	return i.Provider
}

// DeliveryError reports a receipt that could not be written after the claim
// was recorded. The Issuance can be delivered again with Engine.Deliver.
type DeliveryError struct {
	Side     ppr.Side
	Issuance *Issuance
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("issuance: deliver %s receipt for %s: %v", e.Side, e.Issuance.Claim.Fulfills, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Engine issues participation receipts.
type Engine struct {
	registry economic.Registry
	keys     KeyDirectory
	signers  SignerDirectory
	nodes    RecipientDirectory
	rules    *governance.RuleSet
	audit    audit.Logger
	obs      *observability.Provider
	logger   *slog.Logger
	clock    func() time.Time
}

// Option customizes an Engine.
type Option func(*Engine)

// WithRules enforces a governance rule set before signing.
func WithRules(rs *governance.RuleSet) Option { return func(e *Engine) { e.rules = rs } }

func WithAuditLogger(l audit.Logger) Option { return func(e *Engine) { e.audit = l } }

func WithObservability(p *observability.Provider) Option {
	return func(e *Engine) { e.obs = p }
}

func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

func WithClock(clock func() time.Time) Option { return func(e *Engine) { e.clock = clock } }

// NewEngine creates an issuance engine.
func NewEngine(registry economic.Registry, keys KeyDirectory, signers SignerDirectory, nodes RecipientDirectory, opts ...Option) *Engine {
	e := &Engine{
		registry: registry,
		keys:     keys,
		signers:  signers,
		nodes:    nodes,
		audit:    audit.Nop(),
		logger:   slog.Default(),
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Prepare validates the fulfilment, resolves claim types, collects both
// signatures and verifies them. It writes nothing.
func (e *Engine) Prepare(ctx context.Context, in IssueInput) (*Issuance, error) {
	const op = "issuance.Prepare"

	if in.CommitmentID == "" || in.EventID == "" {
		return nil, contracts.Errorf(contracts.KindValidation, contracts.CodeInvalidInput, op, "commitment and event ids are required")
	}
	if !in.ProcessType.Valid() {
		return nil, contracts.Errorf(contracts.KindValidation, contracts.CodeInvalidInput, op, "unknown process type %q", in.ProcessType)
	}
	providerMetrics := in.ProviderMetrics
	receiverMetrics := providerMetrics
	if in.ReceiverMetrics != nil {
		receiverMetrics = *in.ReceiverMetrics
	}
	if err := providerMetrics.Validate(); err != nil {
		return nil, err
	}
	if err := receiverMetrics.Validate(); err != nil {
		return nil, err
	}

	commitment, err := e.registry.GetCommitment(ctx, in.CommitmentID)
	if err != nil {
		return nil, err
	}
	if !commitment.Parties(in.Caller) {
		return nil, contracts.Errorf(contracts.KindAuthorization, contracts.CodeNotCommitmentParty, op,
			"agent %q is not a party to commitment %s", in.Caller, commitment.ID)
	}
	prior, err := e.registry.ClaimFor(ctx, commitment.ID)
	if err != nil {
		return nil, err
	}
	if prior != nil {
		return nil, contracts.Errorf(contracts.KindStateConflict, contracts.CodeAlreadyClaimed, op,
			"commitment %s already claimed by %s", commitment.ID, prior.ID)
	}
	event, err := e.registry.GetEvent(ctx, in.EventID)
	if err != nil {
		return nil, err
	}
	if err := checkFulfilment(commitment, event); err != nil {
		return nil, err
	}

	types := ppr.ResolveClaimTypes(ppr.ResolutionKey{
		Action:             commitment.Action,
		ProcessType:        in.ProcessType,
		AgentRole:          in.RoleContext,
		InteractionContext: in.InteractionContext,
	})

	if err := e.rules.Check(ctx, governance.Facts{
		Action:             commitment.Action,
		ProcessType:        in.ProcessType,
		RoleContext:        in.RoleContext,
		InteractionContext: in.InteractionContext,
		ClaimTypes:         types,
		ProviderMetrics:    providerMetrics,
		ReceiverMetrics:    receiverMetrics,
	}); err != nil {
		_ = e.audit.Record(ctx, audit.EventPolicy, audit.ActionRuleViolated, "commitment/"+commitment.ID,
			map[string]interface{}{"reason": err.Error()})
		return nil, err
	}

	claimedAt := in.ClaimedAt
	if claimedAt.IsZero() {
		claimedAt = e.clock()
	}
	claimedAt = claimedAt.UTC()

	payload := ppr.SigningPayload{
		Fulfills:          commitment.ID,
		FulfilledBy:       event.ID,
		ClaimedAt:         claimedAt,
		ProviderClaimType: types.Provider,
		ReceiverClaimType: types.Receiver,
		ProviderMetrics:   providerMetrics,
		ReceiverMetrics:   receiverMetrics,
	}

	providerSigner, err := e.signers.Signer(commitment.Provider)
	if err != nil {
		return nil, err
	}
	receiverSigner, err := e.signers.Signer(commitment.Receiver)
	if err != nil {
		return nil, err
	}
	sig, err := ppr.SignBilateral(payload, providerSigner, receiverSigner, e.clock())
	if err != nil {
		return nil, err
	}

	providerPub, err := e.keys.PublicKey(commitment.Provider)
	if err != nil {
		return nil, contracts.NewError(contracts.KindCrypto, contracts.CodeSignatureMismatch, op, err)
	}
	receiverPub, err := e.keys.PublicKey(commitment.Receiver)
	if err != nil {
		return nil, contracts.NewError(contracts.KindCrypto, contracts.CodeSignatureMismatch, op, err)
	}
	if err := sig.Verify(payload, providerPub, receiverPub); err != nil {
		return nil, err
	}

	meta := ppr.ReceiptMeta{
		InteractionContext: in.InteractionContext,
		RoleContext:        in.RoleContext,
	}
	if !commitment.Resource.IsZero() {
		res := commitment.Resource
		meta.Resource = &res
	}
	iss := &Issuance{
		Claim: contracts.Claim{
			ID:          uuid.NewString(),
			Fulfills:    commitment.ID,
			FulfilledBy: event.ID,
			ClaimedAt:   claimedAt,
			Note:        in.Note,
		},
		Commitment: *commitment,
		Event:      *event,
		ClaimTypes: types,
		Hash:       sig.SignedDataHash,
		Provider:   ppr.NewReceipt(ppr.SideProvider, commitment.Provider, commitment.Receiver, payload, sig, meta),
		Receiver:   ppr.NewReceipt(ppr.SideReceiver, commitment.Receiver, commitment.Provider, payload, sig, meta),
	}
	iss.Provider.ID = uuid.NewString()
	iss.Receiver.ID = uuid.NewString()
	return iss, nil
}

// Issue prepares the receipts, records the claim, then hands each copy to
// its owner's node. A delivery failure after the claim is recorded is returned as a
// *DeliveryError.
func (e *Engine) Issue(ctx context.Context, in IssueInput) (providerRef, receiverRef string, err error) {
	ctx, done := e.obs.TrackOperation(ctx, "ppr.issue", observability.AttrAgentID.String(string(in.Caller)))
	defer func() { done(err) }()

	iss, err := e.Prepare(ctx, in)
	if err != nil {
		e.logger.WarnContext(ctx, "participation receipt issuance rejected",
			"commitment_id", in.CommitmentID, "error", err)
		return "", "", err
	}

	if _, err := e.registry.RecordClaim(ctx, &iss.Claim); err != nil {
		return "", "", err
	}

	providerRef, err = e.Deliver(ctx, iss, ppr.SideProvider)
	if err != nil {
		return "", "", &DeliveryError{Side: ppr.SideProvider, Issuance: iss, Err: err}
	}
	receiverRef, err = e.Deliver(ctx, iss, ppr.SideReceiver)
	if err != nil {
		return providerRef, "", &DeliveryError{Side: ppr.SideReceiver, Issuance: iss, Err: err}
	}

	_ = e.audit.Record(ctx, audit.EventMutation, audit.ActionIssue, "commitment/"+iss.Claim.Fulfills, map[string]interface{}{
		"claim_id":            iss.Claim.ID,
		"provider_claim_type": string(iss.ClaimTypes.Provider),
		"receiver_claim_type": string(iss.ClaimTypes.Receiver),
		"signed_data_hash":    iss.Hash.String(),
	})
	observability.AddSpanEvent(ctx, "receipts.issued",
		observability.IssuanceOperation(string(in.Caller), string(iss.ClaimTypes.Provider), string(iss.ClaimTypes.Receiver))...)
	e.logger.InfoContext(ctx, "participation receipts issued",
		"commitment_id", iss.Claim.Fulfills,
		"claim_id", iss.Claim.ID,
		"provider_claim_type", iss.ClaimTypes.Provider,
		"receiver_claim_type", iss.ClaimTypes.Receiver,
	)
	return providerRef, receiverRef, nil
}

// Deliver hands side's copy to the node of the agent that owns it, which
// verifies it before writing its own ledger.
func (e *Engine) Deliver(ctx context.Context, iss *Issuance, side ppr.Side) (string, error) {
	var r *ppr.ParticipationClaim
	if iss != nil {
		r = iss.Receipt(side)
	}
	if r == nil {
		return "", contracts.Errorf(contracts.KindValidation, contracts.CodeInvalidInput, "issuance.Deliver", "no %s receipt", side)
	}
	node, err := e.nodes.Recipient(r.Owner)
	if err != nil {
		return "", err
	}
	id, err := node.AcceptReceipt(ctx, r)
	if err != nil {
		return "", err
	}
	_ = e.audit.Record(ctx, audit.EventMutation, audit.ActionDeliver, "ppr/"+id, map[string]interface{}{
		"side":  string(side),
		"owner": string(r.Owner),
	})
	return id, nil
}

func checkFulfilment(c *contracts.Commitment, ev *contracts.EconomicEvent) error {
	const op = "issuance.checkFulfilment"
	var problems []error
	if ev.Provider != c.Provider || ev.Receiver != c.Receiver {
		problems = append(problems, fmt.Errorf("event parties %s->%s differ from commitment %s->%s",
			ev.Provider, ev.Receiver, c.Provider, c.Receiver))
	}
	if !(c.Resource.IsZero() && ev.Resource.IsZero()) && !c.Resource.Matches(ev.Resource) {
		problems = append(problems, fmt.Errorf("event resource %+v does not match commitment resource %+v", ev.Resource, c.Resource))
	}
	if !contracts.CompatibleActions(c.Action, ev.Action) {
		problems = append(problems, fmt.Errorf("event action %s is not compatible with %s", ev.Action, c.Action))
	}
	if len(problems) > 0 {
		return contracts.NewError(contracts.KindValidation, contracts.CodeFulfillmentMismatch, op, errors.Join(problems...))
	}
	return nil
}
