package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/nondominium/pkg/audit"
	"github.com/Mindburn-Labs/nondominium/pkg/capabilities"
	"github.com/Mindburn-Labs/nondominium/pkg/contracts"
	"github.com/Mindburn-Labs/nondominium/pkg/crypto"
	"github.com/Mindburn-Labs/nondominium/pkg/identity"
	"github.com/Mindburn-Labs/nondominium/pkg/issuance"
	"github.com/Mindburn-Labs/nondominium/pkg/ledger"
	"github.com/Mindburn-Labs/nondominium/pkg/ppr"
	"github.com/Mindburn-Labs/nondominium/pkg/privacy"
	"github.com/Mindburn-Labs/nondominium/pkg/privatedata"
	"github.com/Mindburn-Labs/nondominium/pkg/reputation"
	"github.com/Mindburn-Labs/nondominium/pkg/store"
)

var t0 = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

type world struct {
	now     time.Time
	network *Network
	alice   *Agent
	bob     *Agent
}

func (w *world) clock() time.Time { return w.now }

func host(t *testing.T, id string, clock func() time.Time) *identity.LocalHost {
	t.Helper()
	s, err := crypto.NewEd25519Signer(id)
	require.NoError(t, err)
	return identity.NewLocalHost(contracts.AgentID(id), s, clock)
}

func newWorld(t *testing.T, aliceOpts ...Option) *world {
	t.Helper()
	w := &world{now: t0}
	w.network = NewNetwork(nil, issuance.WithClock(w.clock))
	var err error
	w.alice, err = w.network.Join(host(t, "alice", w.clock), aliceOpts...)
	require.NoError(t, err)
	w.bob, err = w.network.Join(host(t, "bob", w.clock))
	require.NoError(t, err)
	return w
}

func (w *world) transport(t *testing.T) (*contracts.Commitment, *contracts.EconomicEvent) {
	t.Helper()
	ctx := context.Background()
	res := contracts.ResourceRef{InstanceID: "cargo-bike-3"}
	c, err := w.alice.ProposeCommitment(ctx, contracts.Commitment{
		Action: contracts.ActionWork, Provider: w.alice.ID(), Receiver: w.bob.ID(), Resource: res, DueDate: t0.Add(48 * time.Hour),
	})
	require.NoError(t, err)
	ev, err := w.alice.RecordEvent(ctx, contracts.EconomicEvent{
		Action: contracts.ActionWork, Provider: w.alice.ID(), Receiver: w.bob.ID(), Resource: res, Quantity: 1,
	})
	require.NoError(t, err)
	return c, ev
}

var transportMetrics = ppr.PerformanceMetrics{Timeliness: 0.9, Quality: 1, Reliability: 1, Communication: 0.8, CompletionRate: 1}

func TestTransportScenario(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	c, ev := w.transport(t)
	assert.Equal(t, w.alice.ID(), c.CreatedBy)

	provRef, recvRef, err := w.alice.IssueParticipationReceipts(ctx, IssueRequest{
		CommitmentID:       c.ID,
		EventID:            ev.ID,
		Counterparty:       w.bob.ID(),
		RoleContext:        "Transport",
		InteractionContext: "cargo_delivery",
		ProviderMetrics:    transportMetrics,
	})
	require.NoError(t, err)

	mine, err := w.alice.GetMyParticipationClaims(ctx, ledger.Filter{})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, provRef, mine[0].ID)
	assert.Equal(t, ppr.TransportFulfillment, mine[0].ClaimType)

	theirs, err := w.bob.GetMyParticipationClaims(ctx, ledger.Filter{})
	require.NoError(t, err)
	require.Len(t, theirs, 1)
	assert.Equal(t, recvRef, theirs[0].ID)
	assert.Equal(t, ppr.ServiceCommitmentAccepted, theirs[0].ClaimType)
	assert.Equal(t, mine[0].BilateralSignature.SignedDataHash, theirs[0].BilateralSignature.SignedDataHash)

	alicePub, err := w.network.Keys().PublicKey(w.alice.ID())
	require.NoError(t, err)
	bobPub, err := w.network.Keys().PublicKey(w.bob.ID())
	require.NoError(t, err)
	assert.NoError(t, mine[0].Verify(alicePub, bobPub))
	assert.NoError(t, theirs[0].Verify(bobPub, alicePub))

	_, _, err = w.bob.IssueParticipationReceipts(ctx, IssueRequest{
		CommitmentID: c.ID, EventID: ev.ID, Counterparty: w.alice.ID(), ProviderMetrics: transportMetrics,
	})
	assert.True(t, contracts.IsKind(err, contracts.KindStateConflict))
	n, _ := w.bob.Ledger().Len(ctx)
	assert.Equal(t, 1, n)
}

func TestIssueRejectsWrongCounterparty(t *testing.T) {
	w := newWorld(t)
	c, ev := w.transport(t)
	_, _, err := w.alice.IssueParticipationReceipts(context.Background(), IssueRequest{
		CommitmentID: c.ID, EventID: ev.ID, Counterparty: "mallory", ProviderMetrics: transportMetrics,
	})
	assert.True(t, contracts.IsKind(err, contracts.KindValidation))
}

func TestReputationAndAttestation(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	c, ev := w.transport(t)
	_, _, err := w.alice.IssueParticipationReceipts(ctx, IssueRequest{
		CommitmentID: c.ID, EventID: ev.ID, RoleContext: "Transport", ProviderMetrics: transportMetrics,
	})
	require.NoError(t, err)

	basic, err := w.alice.DeriveReputationSummary(ctx, reputation.Options{Scope: reputation.ScopeBasic})
	require.NoError(t, err)
	assert.Equal(t, 1, basic.TotalClaims)
	assert.InDelta(t, 1.0, basic.CompletionRate, 1e-9)

	again, err := w.alice.DeriveReputationSummary(ctx, reputation.Options{Scope: reputation.ScopeBasic})
	require.NoError(t, err)
	assert.Equal(t, basic.Digest, again.Digest)

	token, err := w.alice.AttestReputation(basic, time.Hour)
	require.NoError(t, err)
	pub, err := w.network.Keys().PublicKey(w.alice.ID())
	require.NoError(t, err)
	got, err := reputation.VerifyAttestation(token, pub, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, basic.Digest, got.Digest)

	_, err = w.bob.AttestReputation(basic, time.Hour)
	assert.True(t, contracts.IsKind(err, contracts.KindAuthorization))
}

func TestCustodianTransferSharing(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	require.NoError(t, w.alice.SetPrivateData(ctx, privatedata.PrivateData{
		LegalName: "Alice Martin", Email: "alice@example.org", Phone: "+33 6 00 00 00 01", Location: "Nantes",
	}))

	receipt, err := w.alice.GrantPrivateDataAccess(ctx, w.bob.ID(),
		[]privacy.Field{privacy.FieldEmail, privacy.FieldPhone}, "custodian_transfer", 0)
	require.NoError(t, err)
	assert.Equal(t, t0.Add(7*24*time.Hour), receipt.ExpiresAt)

	w.now = t0.Add(3 * 24 * time.Hour)
	data, err := w.alice.RedeemCapabilityClaim(ctx, w.bob.ID(), receipt.Secret,
		[]privacy.Field{privacy.FieldEmail, privacy.FieldPhone, privacy.FieldLocation})
	require.NoError(t, err)
	require.NotNil(t, data.Email)
	require.NotNil(t, data.Phone)
	assert.Nil(t, data.Location)
	assert.Nil(t, data.LegalName)

	status, err := w.alice.ValidateCapabilityGrant(ctx, receipt.GrantID)
	require.NoError(t, err)
	assert.Equal(t, capabilities.StatusValid, status)

	w.now = t0.Add(8 * 24 * time.Hour)
	_, err = w.alice.RedeemCapabilityClaim(ctx, w.bob.ID(), receipt.Secret, []privacy.Field{privacy.FieldEmail})
	assert.True(t, errors.Is(err, privatedata.ErrAccessExpired))

	status, err = w.alice.ValidateCapabilityGrant(ctx, receipt.GrantID)
	require.NoError(t, err)
	assert.Equal(t, capabilities.StatusExpired, status)

	_, err = w.bob.ValidateCapabilityGrant(ctx, receipt.GrantID)
	assert.True(t, contracts.IsKind(err, contracts.KindNotFound))
}

func TestRevokeStopsRedemption(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	require.NoError(t, w.alice.SetPrivateData(ctx, privatedata.PrivateData{Email: "alice@example.org"}))
	receipt, err := w.alice.GrantPrivateDataAccess(ctx, w.bob.ID(), []privacy.Field{privacy.FieldEmail}, "pickup", 24*time.Hour)
	require.NoError(t, err)

	require.NoError(t, w.alice.RevokePrivateDataAccess(ctx, receipt.GrantID))
	_, err = w.alice.RedeemCapabilityClaim(ctx, w.bob.ID(), receipt.Secret, []privacy.Field{privacy.FieldEmail})
	assert.True(t, errors.Is(err, privatedata.ErrAccessRevoked))

	grants, err := w.alice.ListGrants(ctx)
	require.NoError(t, err)
	require.Len(t, grants, 1)
	assert.NotNil(t, grants[0].RevokedAt)

	_, err = w.alice.GrantPrivateDataAccess(ctx, w.bob.ID(), []privacy.Field{privacy.FieldLegalName}, "pickup", 0)
	assert.Equal(t, contracts.CodeFieldNotAllowed, contracts.CodeOf(err))
}

func TestIdentityToken(t *testing.T) {
	w := newWorld(t)
	token, err := w.alice.IdentityToken(context.Background(), time.Hour, "ppr:issue")
	require.NoError(t, err)

	id, err := w.alice.VerifyIdentityToken(token)
	require.NoError(t, err)
	assert.Equal(t, w.alice.ID(), id.AgentID)
	assert.Equal(t, []string{"ppr:issue"}, id.Scopes)

	id, err = w.bob.VerifyIdentityToken(token)
	require.NoError(t, err)
	assert.Equal(t, w.alice.ID(), id.AgentID)

	require.NoError(t, w.network.Leave(w.alice.ID()))
	_, err = w.bob.VerifyIdentityToken(token)
	assert.Error(t, err)
}

func TestJoin(t *testing.T) {
	w := newWorld(t)
	_, err := w.network.Join(host(t, "alice", w.clock))
	assert.Equal(t, contracts.CodeDuplicate, contracts.CodeOf(err))

	// A newcomer whose key id collides with a member's is refused.
	s, err := crypto.NewEd25519Signer("bob")
	require.NoError(t, err)
	_, err = w.network.Join(identity.NewLocalHost("mallory", s, w.clock))
	assert.Equal(t, contracts.CodeDuplicate, contracts.CodeOf(err))
	_, err = w.network.Keys().PublicKey("mallory")
	assert.Error(t, err)

	_, err = w.network.Join(host(t, "carol", w.clock), WithLedger(ledger.NewMemoryLedger("dave")))
	assert.Equal(t, contracts.CodeNotLedgerOwner, contracts.CodeOf(err))

	got, err := w.network.Agent("bob")
	require.NoError(t, err)
	assert.Same(t, w.bob, got)
	_, err = w.network.Agent("zoe")
	assert.True(t, contracts.IsKind(err, contracts.KindNotFound))
}

func TestDurableBackends(t *testing.T) {
	ctx := context.Background()
	db, dialect, err := store.Open(ctx, "sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	l, err := store.NewSQLLedger(ctx, db, dialect, "alice")
	require.NoError(t, err)
	grants, err := store.NewSQLGrantStore(ctx, db, dialect)
	require.NoError(t, err)

	w := newWorld(t, WithLedger(l), WithGrantStore(grants))
	c, ev := w.transport(t)
	_, _, err = w.alice.IssueParticipationReceipts(ctx, IssueRequest{
		CommitmentID: c.ID, EventID: ev.ID, RoleContext: "Transport", ProviderMetrics: transportMetrics,
	})
	require.NoError(t, err)

	ok, msg, err := l.Verify(ctx)
	require.NoError(t, err)
	assert.True(t, ok, msg)

	receipt, err := w.alice.GrantPrivateDataAccess(ctx, w.bob.ID(), []privacy.Field{privacy.FieldEmail}, "pickup", 0)
	require.NoError(t, err)
	status, err := w.alice.ValidateCapabilityGrant(ctx, receipt.GrantID)
	require.NoError(t, err)
	assert.Equal(t, capabilities.StatusValid, status)
}

func TestAuditRecordsNameTheActor(t *testing.T) {
	ctx := context.Background()
	trail := audit.NewTrail()
	w := newWorld(t, WithAuditLogger(audit.NewTrailLogger(trail)))
	require.NoError(t, w.alice.SetPrivateData(ctx, privatedata.PrivateData{Email: "alice@example.org"}))

	receipt, err := w.alice.GrantPrivateDataAccess(ctx, w.bob.ID(), []privacy.Field{privacy.FieldEmail}, "pickup", 0)
	require.NoError(t, err)
	_, err = w.alice.RedeemCapabilityClaim(ctx, w.bob.ID(), receipt.Secret, []privacy.Field{privacy.FieldEmail})
	require.NoError(t, err)

	assert.Len(t, trail.Query(audit.TrailFilter{ActorID: "alice"}), 1)
	assert.Len(t, trail.Query(audit.TrailFilter{ActorID: "bob"}), 1)
}

func TestForgedReceiptsAreRejected(t *testing.T) {
	ctx := context.Background()
	trail := audit.NewTrail()
	w := &world{now: t0}
	w.network = NewNetwork(nil, issuance.WithClock(w.clock))
	var err error
	w.alice, err = w.network.Join(host(t, "alice", w.clock))
	require.NoError(t, err)
	w.bob, err = w.network.Join(host(t, "bob", w.clock), WithAuditLogger(audit.NewTrailLogger(trail)))
	require.NoError(t, err)

	payload := ppr.SigningPayload{
		Fulfills:          "never-existed",
		FulfilledBy:       "never-happened",
		ClaimedAt:         t0,
		ProviderClaimType: ppr.TransportFulfillment,
		ReceiverClaimType: ppr.ServiceCommitmentAccepted,
		ProviderMetrics:   transportMetrics,
		ReceiverMetrics:   transportMetrics,
	}
	h, err := payload.Hash()
	require.NoError(t, err)
	forged := ppr.NewReceipt(ppr.SideReceiver, w.bob.ID(), w.alice.ID(), payload,
		ppr.BilateralSignature{SignedDataHash: h}, ppr.ReceiptMeta{})

	_, err = w.network.Redeliver(ctx, &issuance.DeliveryError{
		Side:     ppr.SideReceiver,
		Issuance: &issuance.Issuance{Receiver: forged},
	})
	require.Error(t, err)

	c, ev := w.transport(t)
	iss, err := w.network.engine.Prepare(ctx, issuance.IssueInput{
		Caller: w.alice.ID(), CommitmentID: c.ID, EventID: ev.ID, RoleContext: "Transport", ProviderMetrics: transportMetrics,
	})
	require.NoError(t, err)

	_, err = w.bob.AcceptReceipt(ctx, iss.Receiver)
	assert.Equal(t, contracts.CodeNotClaimed, contracts.CodeOf(err), "a signed receipt needs a recorded claim")

	_, err = w.network.Registry().RecordClaim(ctx, &iss.Claim)
	require.NoError(t, err)
	unsigned := *iss.Receiver
	unsigned.BilateralSignature.ProviderSignature = nil
	_, err = w.bob.AcceptReceipt(ctx, &unsigned)
	assert.True(t, contracts.IsKind(err, contracts.KindCrypto), "got %v", err)

	_, err = w.bob.AcceptReceipt(ctx, iss.Provider)
	assert.Equal(t, contracts.CodeNotLedgerOwner, contracts.CodeOf(err))

	n, err := w.bob.Ledger().Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	summary, err := w.bob.DeriveReputationSummary(ctx, reputation.Options{Scope: reputation.ScopeBasic})
	require.NoError(t, err)
	assert.Zero(t, summary.TotalClaims)
	assert.Len(t, trail.Query(audit.TrailFilter{Action: audit.ActionReject, ActorID: "bob"}), 4)

	id, err := w.network.Redeliver(ctx, &issuance.DeliveryError{Side: ppr.SideReceiver, Issuance: iss})
	require.NoError(t, err)
	got, err := w.bob.Ledger().Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, iss.Hash, got.BilateralSignature.SignedDataHash)
}

func TestLeaveRevokesKey(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	c, ev := w.transport(t)
	iss, err := w.network.engine.Prepare(ctx, issuance.IssueInput{
		Caller: w.alice.ID(), CommitmentID: c.ID, EventID: ev.ID, ProviderMetrics: transportMetrics,
	})
	require.NoError(t, err)
	_, err = w.network.Registry().RecordClaim(ctx, &iss.Claim)
	require.NoError(t, err)

	require.NoError(t, w.network.Leave(w.alice.ID()))
	_, err = w.network.Keys().PublicKey(w.alice.ID())
	require.Error(t, err)
	_, err = w.network.Agent(w.alice.ID())
	assert.True(t, contracts.IsKind(err, contracts.KindNotFound))

	_, err = w.bob.AcceptReceipt(ctx, iss.Receiver)
	assert.True(t, contracts.IsKind(err, contracts.KindCrypto), "got %v", err)
	assert.True(t, contracts.IsKind(w.network.Leave(w.alice.ID()), contracts.KindNotFound))
}
