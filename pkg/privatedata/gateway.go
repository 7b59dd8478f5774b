package privatedata

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/Mindburn-Labs/nondominium/pkg/audit"
	"github.com/Mindburn-Labs/nondominium/pkg/capabilities"
	"github.com/Mindburn-Labs/nondominium/pkg/contracts"
	"github.com/Mindburn-Labs/nondominium/pkg/crypto"
	"github.com/Mindburn-Labs/nondominium/pkg/observability"
	"github.com/Mindburn-Labs/nondominium/pkg/privacy"
)

var (
	// ErrAccessDenied means no grant matches the secret for this claimant.
	ErrAccessDenied = errors.New("access denied")
	// ErrAccessExpired means the grant existed but its lifetime has passed.
	ErrAccessExpired = errors.New("access expired")
	// ErrAccessRevoked means the owner revoked the grant.
	ErrAccessRevoked = errors.New("access revoked")
	// ErrFieldNotGranted means none of the requested fields were shared.
	ErrFieldNotGranted = errors.New("field not granted")
	// ErrRateLimited means the claimant failed too many redemptions recently.
	ErrRateLimited = errors.New("too many failed redemptions")
)

const (
	DefaultRatePerMinute = 30
	DefaultBurst         = 5
	// DefaultMaxClaimants caps how many claimants get their own limiter.
	DefaultMaxClaimants = 4096
)

const (
	outcomeGranted = "granted"
	outcomeDenied  = "denied"
)

// Gateway answers capability claims against the owner's vault.
type Gateway struct {
	caps   *capabilities.Service
	vault  Vault
	audit  audit.Logger
	obs    *observability.Provider
	logger *slog.Logger

	limit        rate.Limit
	burst        int
	maxClaimants int

	mu       sync.Mutex
	limiters map[contracts.AgentID]*rate.Limiter
	overflow *rate.Limiter
}

// GatewayOption customizes a Gateway.
type GatewayOption func(*Gateway)

// WithFailureRate bounds failed redemptions per claimant to perMinute with
// the given burst.
func WithFailureRate(perMinute float64, burst int) GatewayOption {
	return func(g *Gateway) {
		g.limit = rate.Limit(perMinute / 60)
		g.burst = burst
	}
}

// WithMaxClaimants caps the per-claimant limiter table. Once full, claimants
// without an entry share a single limiter.
func WithMaxClaimants(n int) GatewayOption {
	return func(g *Gateway) { g.maxClaimants = n }
}

func WithAuditLogger(l audit.Logger) GatewayOption { return func(g *Gateway) { g.audit = l } }

func WithObservability(p *observability.Provider) GatewayOption {
	return func(g *Gateway) { g.obs = p }
}

func WithLogger(l *slog.Logger) GatewayOption { return func(g *Gateway) { g.logger = l } }

func NewGateway(caps *capabilities.Service, vault Vault, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		caps:     caps,
		vault:    vault,
		audit:    audit.Nop(),
		logger:   slog.Default(),
		limit:        rate.Limit(float64(DefaultRatePerMinute) / 60),
		burst:        DefaultBurst,
		maxClaimants: DefaultMaxClaimants,
		limiters:     make(map[contracts.AgentID]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.overflow = rate.NewLimiter(g.limit, g.burst)
	return g
}

// Access redeems secret on behalf of claimant and returns the requested
// fields that the grant allows. Fields outside that intersection and
// legal_name are nil.
func (g *Gateway) Access(ctx context.Context, claimant contracts.AgentID, secret crypto.Secret, requested []privacy.Field) (data *FilteredPrivateData, err error) {
	const op = "privatedata.Access"
	ctx, done := g.obs.TrackOperation(ctx, "privatedata.access", observability.AttrAgentID.String(string(claimant)))
	defer func() { done(err) }()

	now := g.caps.Now()
	lim := g.limiter(claimant, now)
	if lim.TokensAt(now) < 1 {
		g.record(ctx, claimant, "", outcomeDenied, contracts.CodeRateLimited, 0)
		return nil, contracts.NewError(contracts.KindStateConflict, contracts.CodeRateLimited, op, ErrRateLimited)
	}
	fail := func(grantID string, kind contracts.ErrorKind, code string, sentinel error) (*FilteredPrivateData, error) {
		lim.AllowN(now, 1)
		g.record(ctx, claimant, grantID, outcomeDenied, code, 0)
		return nil, contracts.NewError(kind, code, op, sentinel)
	}

	grant, err := g.caps.Resolve(ctx, secret)
	if err != nil {
		if contracts.IsKind(err, contracts.KindNotFound) {
			return fail("", contracts.KindAuthorization, contracts.CodeAccessDenied, ErrAccessDenied)
		}
		return nil, err
	}
	if grant.GrantedTo != claimant {
		return fail(grant.ID, contracts.KindAuthorization, contracts.CodeAccessDenied, ErrAccessDenied)
	}
	switch capabilities.Validate(grant, now) {
	case capabilities.StatusRevoked:
		return fail(grant.ID, contracts.KindStateConflict, contracts.CodeAccessRevoked, ErrAccessRevoked)
	case capabilities.StatusExpired:
		return fail(grant.ID, contracts.KindStateConflict, contracts.CodeAccessExpired, ErrAccessExpired)
	}

	var fields []privacy.Field
	for _, f := range requested {
		if grant.Allows(f) {
			fields = append(fields, f)
		}
	}
	if len(fields) == 0 {
		return fail(grant.ID, contracts.KindAuthorization, contracts.CodeFieldNotGranted, ErrFieldNotGranted)
	}

	record, err := g.vault.Get(ctx, grant.Owner)
	if err != nil {
		return nil, err
	}
	data = Filter(record, fields)

	g.record(ctx, claimant, grant.ID, outcomeGranted, "", len(fields))
	observability.AddSpanEvent(ctx, "privatedata.disclosed",
		observability.AccessOperation(string(claimant), grant.ID, outcomeGranted, len(fields))...)
	return data, nil
}

func (g *Gateway) limiter(claimant contracts.AgentID, now time.Time) *rate.Limiter {
	g.mu.Lock()
	defer g.mu.Unlock()
	if lim, ok := g.limiters[claimant]; ok {
		return lim
	}
	if len(g.limiters) >= g.maxClaimants {
		g.evictIdle(now)
	}
	if len(g.limiters) >= g.maxClaimants {
		return g.overflow
	}
	lim := rate.NewLimiter(g.limit, g.burst)
	g.limiters[claimant] = lim
	return lim
}

// evictIdle drops limiters whose bucket has refilled. A fresh limiter
// behaves identically, so no failure history is lost.
func (g *Gateway) evictIdle(now time.Time) {
	for id, lim := range g.limiters {
		if lim.TokensAt(now) >= float64(g.burst) {
			delete(g.limiters, id)
		}
	}
}

func (g *Gateway) record(ctx context.Context, claimant contracts.AgentID, grantID, outcome, code string, fields int) {
	meta := map[string]interface{}{
		"claimant":    string(claimant),
		"outcome":     outcome,
		"field_count": fields,
	}
	if code != "" {
		meta["code"] = code
	}
	resource := "grant/unknown"
	if grantID != "" {
		resource = "grant/" + grantID
	}
	if err := g.audit.Record(ctx, audit.EventAccess, audit.ActionRedeem, resource, meta); err != nil {
		g.logger.ErrorContext(ctx, "audit record failed", "error", err)
	}
	g.logger.InfoContext(ctx, "private data access decided",
		"claimant", claimant, "grant_id", grantID, "outcome", outcome, "code", code)
}
