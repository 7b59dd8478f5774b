package capabilities

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/nondominium/pkg/audit"
	"github.com/Mindburn-Labs/nondominium/pkg/contracts"
	"github.com/Mindburn-Labs/nondominium/pkg/crypto"
	"github.com/Mindburn-Labs/nondominium/pkg/observability"
	"github.com/Mindburn-Labs/nondominium/pkg/privacy"
)

// GrantInput requests a new grant. A zero Duration means DefaultDuration.
type GrantInput struct {
	GrantedTo contracts.AgentID
	Fields    []privacy.Field
	Context   string
	Duration  time.Duration
}

// Service manages one agent's grants.
type Service struct {
	store           Store
	defaultDuration time.Duration
	maxDuration     time.Duration
	clock           func() time.Time
	audit           audit.Logger
	obs             *observability.Provider
	logger          *slog.Logger
}

// Option customizes a Service.
type Option func(*Service)

func WithClock(clock func() time.Time) Option { return func(s *Service) { s.clock = clock } }

// WithDefaultDuration changes the duration used when a request names none.
func WithDefaultDuration(d time.Duration) Option {
	return func(s *Service) { s.defaultDuration = d }
}

// WithMaxDuration lowers the maximum grant duration. Values above
// MaxDuration are ignored.
func WithMaxDuration(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 && d <= MaxDuration {
			s.maxDuration = d
		}
	}
}

func WithAuditLogger(l audit.Logger) Option { return func(s *Service) { s.audit = l } }

func WithObservability(p *observability.Provider) Option { return func(s *Service) { s.obs = p } }

func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:           store,
		defaultDuration: DefaultDuration,
		maxDuration:     MaxDuration,
		clock:           time.Now,
		audit:           audit.Nop(),
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Grant records a new grant under owner and returns it with its secret.
// The secret is returned once; only its digest is stored.
func (s *Service) Grant(ctx context.Context, owner contracts.AgentID, in GrantInput) (g *Grant, secret crypto.Secret, err error) {
	const op = "capabilities.Grant"
	ctx, done := s.obs.TrackOperation(ctx, "capability.grant", observability.AttrAgentID.String(string(owner)))
	defer func() { done(err) }()

	if owner == "" || in.GrantedTo == "" {
		return nil, "", contracts.Errorf(contracts.KindValidation, contracts.CodeInvalidInput, op, "owner and grantee are required")
	}
	if len(in.Fields) == 0 {
		return nil, "", contracts.Errorf(contracts.KindValidation, contracts.CodeInvalidInput, op, "at least one field is required")
	}
	fields, err := privacy.NormalizeShareable(in.Fields)
	if err != nil {
		return nil, "", err
	}
	duration := in.Duration
	if duration == 0 {
		duration = s.defaultDuration
	}
	if duration < 0 {
		return nil, "", contracts.Errorf(contracts.KindValidation, contracts.CodeInvalidInput, op, "duration %s is not positive", duration)
	}
	if duration > s.maxDuration {
		return nil, "", contracts.Errorf(contracts.KindValidation, contracts.CodeDurationTooLong, op,
			"duration %s exceeds maximum %s", duration, s.maxDuration)
	}

	secret, err = crypto.NewSecret()
	if err != nil {
		return nil, "", err
	}
	now := s.clock().UTC()
	g = &Grant{
		ID:           uuid.NewString(),
		Owner:        owner,
		GrantedTo:    in.GrantedTo,
		Fields:       fields,
		Context:      in.Context,
		CreatedAt:    now,
		ExpiresAt:    now.Add(duration),
		SecretDigest: DigestSecret(secret),
	}
	if err := s.store.Put(ctx, g); err != nil {
		return nil, "", err
	}

	fieldNames := make([]string, len(fields))
	for i, f := range fields {
		fieldNames[i] = string(f)
	}
	_ = s.audit.Record(ctx, audit.EventMutation, audit.ActionGrant, "grant/"+g.ID, map[string]interface{}{
		"granted_to": string(g.GrantedTo),
		"fields":     fieldNames,
		"expires_at": g.ExpiresAt.Format(time.RFC3339Nano),
	})
	s.logger.InfoContext(ctx, "capability granted",
		"grant_id", g.ID, "granted_to", g.GrantedTo, "field_count", len(fields), "expires_at", g.ExpiresAt)
	return g.Clone(), secret, nil
}

// Revoke tombstones a grant. Only its owner may revoke it.
func (s *Service) Revoke(ctx context.Context, caller contracts.AgentID, grantID string) (err error) {
	ctx, done := s.obs.TrackOperation(ctx, "capability.revoke", observability.AttrGrantID.String(grantID))
	defer func() { done(err) }()

	g, err := s.store.Get(ctx, grantID)
	if err != nil {
		return err
	}
	if g.Owner != caller {
		return contracts.Errorf(contracts.KindAuthorization, contracts.CodeNotGrantOwner, "capabilities.Revoke",
			"agent %s does not own grant %s", caller, grantID)
	}
	if g.RevokedAt != nil {
		return ErrAlreadyRevoked(grantID)
	}
	if err := s.store.MarkRevoked(ctx, grantID, s.clock()); err != nil {
		return err
	}
	_ = s.audit.Record(ctx, audit.EventMutation, audit.ActionRevoke, "grant/"+grantID, nil)
	s.logger.InfoContext(ctx, "capability revoked", "grant_id", grantID)
	return nil
}

// ValidateByID reports the current status of a stored grant.
func (s *Service) ValidateByID(ctx context.Context, grantID string) (Status, error) {
	g, err := s.store.Get(ctx, grantID)
	if err != nil {
		return "", err
	}
	return Validate(g, s.clock()), nil
}

// Resolve finds the grant bound to secret, whatever its status.
func (s *Service) Resolve(ctx context.Context, secret crypto.Secret) (*Grant, error) {
	if secret == "" {
		return nil, contracts.Errorf(contracts.KindNotFound, contracts.CodeNotFound, "capabilities.Resolve", "empty secret")
	}
	g, err := s.store.FindBySecretDigest(ctx, DigestSecret(secret))
	if err != nil {
		return nil, err
	}
	if !g.SecretMatches(secret) {
		return nil, contracts.Errorf(contracts.KindNotFound, contracts.CodeNotFound, "capabilities.Resolve", "no grant for secret")
	}
	return g, nil
}

// List returns owner's grants, revoked and expired ones included.
func (s *Service) List(ctx context.Context, owner contracts.AgentID) ([]*Grant, error) {
	return s.store.ListByOwner(ctx, owner)
}

// Now is the service clock.
func (s *Service) Now() time.Time { return s.clock() }
