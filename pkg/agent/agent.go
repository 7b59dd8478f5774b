package agent

import (
	"context"
	"log/slog"
	"time"

	"github.com/Mindburn-Labs/nondominium/pkg/audit"
	"github.com/Mindburn-Labs/nondominium/pkg/capabilities"
	"github.com/Mindburn-Labs/nondominium/pkg/contracts"
	"github.com/Mindburn-Labs/nondominium/pkg/crypto"
	"github.com/Mindburn-Labs/nondominium/pkg/identity"
	"github.com/Mindburn-Labs/nondominium/pkg/issuance"
	"github.com/Mindburn-Labs/nondominium/pkg/ledger"
	"github.com/Mindburn-Labs/nondominium/pkg/observability"
	"github.com/Mindburn-Labs/nondominium/pkg/ppr"
	"github.com/Mindburn-Labs/nondominium/pkg/privacy"
	"github.com/Mindburn-Labs/nondominium/pkg/privatedata"
	"github.com/Mindburn-Labs/nondominium/pkg/reputation"
)

// Agent is one agent's node.
type Agent struct {
	network *Network
	host    *identity.LocalHost
	ledger  ledger.Ledger
	accept  *issuance.Acceptor
	grants  capabilities.Store
	vault   privatedata.Vault
	caps    *capabilities.Service
	gateway *privatedata.Gateway
	deriver *reputation.Deriver
	keyset  *identity.InMemoryKeySet
	tokens  *identity.TokenManager
	audit   audit.Logger
	logger  *slog.Logger
}

type settings struct {
	ledger      ledger.Ledger
	grants      capabilities.Store
	vault       privatedata.Vault
	audit       audit.Logger
	obs         *observability.Provider
	logger      *slog.Logger
	capOpts     []capabilities.Option
	gatewayOpts []privatedata.GatewayOption
	deriverOpts []reputation.DeriverOption
}

// Option customizes an Agent.
type Option func(*settings)

// WithLedger replaces the in-memory ledger. Its owner must be the agent.
func WithLedger(l ledger.Ledger) Option { return func(s *settings) { s.ledger = l } }

// WithGrantStore replaces the in-memory grant store.
func WithGrantStore(st capabilities.Store) Option { return func(s *settings) { s.grants = st } }

// WithVault replaces the in-memory private data vault.
func WithVault(v privatedata.Vault) Option { return func(s *settings) { s.vault = v } }

func WithAuditLogger(l audit.Logger) Option { return func(s *settings) { s.audit = l } }

func WithObservability(p *observability.Provider) Option { return func(s *settings) { s.obs = p } }

func WithLogger(l *slog.Logger) Option { return func(s *settings) { s.logger = l } }

// WithCapabilityOptions passes options to the grant service.
func WithCapabilityOptions(opts ...capabilities.Option) Option {
	return func(s *settings) { s.capOpts = append(s.capOpts, opts...) }
}

// WithGatewayOptions passes options to the access gateway.
func WithGatewayOptions(opts ...privatedata.GatewayOption) Option {
	return func(s *settings) { s.gatewayOpts = append(s.gatewayOpts, opts...) }
}

// WithDeriverOptions passes options to the reputation deriver.
func WithDeriverOptions(opts ...reputation.DeriverOption) Option {
	return func(s *settings) { s.deriverOpts = append(s.deriverOpts, opts...) }
}

func newAgent(n *Network, host *identity.LocalHost, opts ...Option) (*Agent, error) {
	id := host.CurrentAgent()
	s := settings{audit: audit.Nop(), logger: slog.Default()}
	for _, opt := range opts {
		opt(&s)
	}
	if s.ledger == nil {
		s.ledger = ledger.NewMemoryLedger(id).WithClock(host.Now)
	}
	if s.ledger.Owner() != id {
		return nil, contracts.Errorf(contracts.KindAuthorization, contracts.CodeNotLedgerOwner, "agent.Join",
			"ledger of %s cannot serve %s", s.ledger.Owner(), id)
	}
	if s.grants == nil {
		s.grants = capabilities.NewMemoryStore()
	}
	if s.vault == nil {
		s.vault = privatedata.NewMemoryVault()
	}
	logger := s.logger.With("agent", string(id))

	capOpts := append([]capabilities.Option{
		capabilities.WithClock(host.Now),
		capabilities.WithAuditLogger(s.audit),
		capabilities.WithObservability(s.obs),
		capabilities.WithLogger(logger),
	}, s.capOpts...)
	caps := capabilities.NewService(s.grants, capOpts...)

	gatewayOpts := append([]privatedata.GatewayOption{
		privatedata.WithAuditLogger(s.audit),
		privatedata.WithObservability(s.obs),
		privatedata.WithLogger(logger),
	}, s.gatewayOpts...)

	deriverOpts := append([]reputation.DeriverOption{
		reputation.WithObservability(s.obs),
		reputation.WithLogger(logger),
	}, s.deriverOpts...)

	keyset := identity.NewInMemoryKeySet(host.KeySigner())
	return &Agent{
		network: n,
		host:    host,
		ledger:  s.ledger,
		accept:  issuance.NewAcceptor(n.registry, n.keys, s.ledger),
		grants:  s.grants,
		vault:   s.vault,
		caps:    caps,
		gateway: privatedata.NewGateway(caps, s.vault, gatewayOpts...),
		deriver: reputation.NewDeriver(s.ledger, deriverOpts...),
		keyset:  keyset,
		tokens:  identity.NewTokenManager(keyset, host.Now),
		audit:   s.audit,
		logger:  logger,
	}, nil
}

func (a *Agent) ID() contracts.AgentID { return a.host.CurrentAgent() }

// actor tags ctx so audit records name this agent.
func (a *Agent) actor(ctx context.Context) context.Context {
	return audit.WithActor(ctx, string(a.ID()))
}

// Ledger returns a read view of the agent's own receipt ledger. Receipts
// enter it only through AcceptReceipt.
func (a *Agent) Ledger() ledger.Reader { return a.ledger }

// AcceptReceipt verifies a receipt delivered to this agent against both
// parties' registered keys and the recorded claim, then appends it to the
// agent's own ledger.
func (a *Agent) AcceptReceipt(ctx context.Context, r *ppr.ParticipationClaim) (string, error) {
	ctx = a.actor(ctx)
	id, err := a.accept.AcceptReceipt(ctx, r)
	if err != nil {
		meta := map[string]interface{}{"code": contracts.CodeOf(err)}
		resource := "ppr"
		if r != nil {
			resource = "commitment/" + r.Fulfills
		}
		_ = a.audit.Record(ctx, audit.EventPolicy, audit.ActionReject, resource, meta)
		a.logger.WarnContext(ctx, "receipt rejected", "resource", resource, "error", err)
		return "", err
	}
	return id, nil
}

// ProposeCommitment records a commitment. CreatedBy defaults to the agent.
func (a *Agent) ProposeCommitment(ctx context.Context, c contracts.Commitment) (*contracts.Commitment, error) {
	if c.CreatedBy == "" {
		c.CreatedBy = a.ID()
	}
	return a.network.registry.ProposeCommitment(ctx, &c)
}

// RecordEvent records an observed economic event.
func (a *Agent) RecordEvent(ctx context.Context, e contracts.EconomicEvent) (*contracts.EconomicEvent, error) {
	return a.network.registry.RecordEvent(ctx, &e)
}

// IssueRequest names a fulfilment from the calling agent's point of view.
type IssueRequest struct {
	CommitmentID       string
	EventID            string
	Counterparty       contracts.AgentID
	ProcessType        ppr.ProcessType
	InteractionContext string
	RoleContext        string
	ProviderMetrics    ppr.PerformanceMetrics
	ReceiverMetrics    *ppr.PerformanceMetrics
	Note               string
}

// IssueParticipationReceipts claims the commitment and hands one signed
// receipt to each party's node, which accepts it into its own ledger.
func (a *Agent) IssueParticipationReceipts(ctx context.Context, req IssueRequest) (providerRef, receiverRef string, err error) {
	const op = "agent.IssueParticipationReceipts"
	ctx = a.actor(ctx)
	c, err := a.network.registry.GetCommitment(ctx, req.CommitmentID)
	if err != nil {
		return "", "", err
	}
	if c.Parties(a.ID()) && req.Counterparty != "" && c.Counterparty(a.ID()) != req.Counterparty {
		return "", "", contracts.Errorf(contracts.KindValidation, contracts.CodeInvalidInput, op,
			"counterparty of commitment %s is %s, not %s", c.ID, c.Counterparty(a.ID()), req.Counterparty)
	}
	return a.network.engine.Issue(ctx, issuance.IssueInput{
		Caller:             a.ID(),
		CommitmentID:       req.CommitmentID,
		EventID:            req.EventID,
		ProcessType:        req.ProcessType,
		InteractionContext: req.InteractionContext,
		RoleContext:        req.RoleContext,
		ProviderMetrics:    req.ProviderMetrics,
		ReceiverMetrics:    req.ReceiverMetrics,
		Note:               req.Note,
	})
}

// GetMyParticipationClaims returns the agent's own receipts.
func (a *Agent) GetMyParticipationClaims(ctx context.Context, f ledger.Filter) ([]*ppr.ParticipationClaim, error) {
	return ledger.Collect(a.ledger.List(ctx, f))
}

// DeriveReputationSummary aggregates the agent's own ledger.
func (a *Agent) DeriveReputationSummary(ctx context.Context, opts reputation.Options) (*reputation.Summary, error) {
	return a.deriver.Derive(ctx, opts)
}

// AttestReputation signs summary with the agent's key for disclosure.
func (a *Agent) AttestReputation(summary *reputation.Summary, ttl time.Duration) (string, error) {
	if summary.Agent != a.ID() {
		return "", contracts.Errorf(contracts.KindAuthorization, contracts.CodeInvalidInput, "agent.AttestReputation",
			"summary of %s cannot be attested by %s", summary.Agent, a.ID())
	}
	return reputation.Attest(summary, a.host.KeySigner(), a.host.Now(), ttl)
}

// GrantReceipt is what the owner hands to the grantee out of band.
type GrantReceipt struct {
	GrantID   string        `json:"grant_id"`
	Secret    crypto.Secret `json:"secret"`
	ExpiresAt time.Time     `json:"expires_at"`
}

// GrantPrivateDataAccess shares fields with grantee for duration. A zero
// duration uses the default.
func (a *Agent) GrantPrivateDataAccess(ctx context.Context, grantee contracts.AgentID, fields []privacy.Field, purpose string, duration time.Duration) (*GrantReceipt, error) {
	g, secret, err := a.caps.Grant(a.actor(ctx), a.ID(), capabilities.GrantInput{
		GrantedTo: grantee,
		Fields:    fields,
		Context:   purpose,
		Duration:  duration,
	})
	if err != nil {
		return nil, err
	}
	return &GrantReceipt{GrantID: g.ID, Secret: secret, ExpiresAt: g.ExpiresAt}, nil
}

func (a *Agent) RevokePrivateDataAccess(ctx context.Context, grantID string) error {
	return a.caps.Revoke(a.actor(ctx), a.ID(), grantID)
}

// RedeemCapabilityClaim serves a claimant presenting a secret for fields of
// this agent's private data.
func (a *Agent) RedeemCapabilityClaim(ctx context.Context, claimant contracts.AgentID, secret crypto.Secret, fields []privacy.Field) (*privatedata.FilteredPrivateData, error) {
	return a.gateway.Access(audit.WithActor(ctx, string(claimant)), claimant, secret, fields)
}

// ValidateCapabilityGrant reports the current status of one of the agent's
// grants.
func (a *Agent) ValidateCapabilityGrant(ctx context.Context, grantID string) (capabilities.Status, error) {
	g, err := a.grants.Get(ctx, grantID)
	if err != nil {
		return "", err
	}
	if g.Owner != a.ID() {
		return "", contracts.Errorf(contracts.KindAuthorization, contracts.CodeNotGrantOwner, "agent.ValidateCapabilityGrant",
			"grant %s is not owned by %s", grantID, a.ID())
	}
	return capabilities.Validate(g, a.host.Now()), nil
}

// SetPrivateData replaces the agent's private record.
func (a *Agent) SetPrivateData(ctx context.Context, data privatedata.PrivateData) error {
	return a.vault.Put(ctx, a.ID(), data)
}

// ListGrants returns the agent's grants, revoked ones included.
func (a *Agent) ListGrants(ctx context.Context) ([]*capabilities.Grant, error) {
	return a.caps.List(ctx, a.ID())
}

// IdentityToken issues a bearer token describing the agent.
func (a *Agent) IdentityToken(ctx context.Context, ttl time.Duration, scopes ...string) (string, error) {
	return a.tokens.GenerateToken(ctx, a.host.Identity(scopes...), ttl)
}

// VerifyIdentityToken checks a token issued by this agent or by any agent
// that joined the same network.
func (a *Agent) VerifyIdentityToken(token string) (*identity.AgentIdentity, error) {
	claims, err := a.tokens.ValidateToken(token)
	if err != nil {
		return nil, err
	}
	return claims.Agent(), nil
}

// trust lets a verify identity tokens signed by peer.
func (a *Agent) trust(peer *Agent) error {
	kid := peer.keyset.CurrentKID()
	if err := a.keyset.Trust(kid, peer.host.PublicKey()); err != nil {
		return contracts.NewError(contracts.KindStateConflict, contracts.CodeDuplicate, "agent.Join", err)
	}
	return nil
}
