package reputation

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/Mindburn-Labs/nondominium/pkg/contracts"
	"github.com/Mindburn-Labs/nondominium/pkg/ledger"
	"github.com/Mindburn-Labs/nondominium/pkg/observability"
	"github.com/Mindburn-Labs/nondominium/pkg/ppr"
)

// DefaultCompletionThreshold counts only fully completed receipts.
const DefaultCompletionThreshold = 1.0

// Options select receipts and the disclosure scope.
type Options struct {
	From       time.Time
	To         time.Time
	Categories []ppr.Category
	ClaimTypes []ppr.ClaimType
	Scope      Scope
	// Role is required for ScopeRoleSpecific and matched against RoleContext.
	Role string
	// Weight defaults to 1 per receipt. It must return a finite value >= 0.
	Weight func(*ppr.ParticipationClaim) float64
	// CompletionThreshold defaults to the deriver's threshold.
	CompletionThreshold *float64
}

// Deriver computes summaries over one agent's ledger.
type Deriver struct {
	ledger    ledger.Reader
	threshold float64
	obs       *observability.Provider
	logger    *slog.Logger
}

// DeriverOption customizes a Deriver.
type DeriverOption func(*Deriver)

// WithCompletionThreshold sets the default completion threshold.
func WithCompletionThreshold(t float64) DeriverOption {
	return func(d *Deriver) { d.threshold = t }
}

func WithObservability(p *observability.Provider) DeriverOption {
	return func(d *Deriver) { d.obs = p }
}

func WithLogger(l *slog.Logger) DeriverOption {
	return func(d *Deriver) { d.logger = l }
}

// NewDeriver binds a deriver to the calling agent's own ledger.
func NewDeriver(l ledger.Reader, opts ...DeriverOption) *Deriver {
	d := &Deriver{ledger: l, threshold: DefaultCompletionThreshold, logger: slog.Default()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Derive aggregates the ledger's receipts into a summary projected to
// opts.Scope. The result depends only on the ledger contents and opts.
func (d *Deriver) Derive(ctx context.Context, opts Options) (summary *Summary, err error) {
	const op = "reputation.Derive"
	ctx, done := d.obs.TrackOperation(ctx, "reputation.derive", observability.AttrDisclosure.String(string(opts.Scope)))
	defer func() { done(err) }()

	if opts.Scope == "" {
		opts.Scope = ScopeBasic
	}
	if !opts.Scope.Valid() {
		return nil, contracts.Errorf(contracts.KindValidation, contracts.CodeInvalidInput, op, "unknown scope %q", opts.Scope)
	}
	if opts.Scope == ScopeRoleSpecific && opts.Role == "" {
		return nil, contracts.Errorf(contracts.KindValidation, contracts.CodeInvalidInput, op, "role_specific scope requires a role")
	}
	if !opts.From.IsZero() && !opts.To.IsZero() && opts.To.Before(opts.From) {
		return nil, contracts.Errorf(contracts.KindValidation, contracts.CodeInvalidInput, op, "time range ends before it starts")
	}
	threshold := d.threshold
	if opts.CompletionThreshold != nil {
		threshold = *opts.CompletionThreshold
	}
	if math.IsNaN(threshold) || threshold < 0 || threshold > 1 {
		return nil, contracts.Errorf(contracts.KindValidation, contracts.CodeInvalidInput, op, "completion threshold %v outside [0,1]", threshold)
	}

	filter := ledger.Filter{From: opts.From, To: opts.To, ClaimTypes: opts.ClaimTypes, Categories: opts.Categories}

	var (
		overall    accumulator
		completed  int
		byCategory = make(map[ppr.Category]*accumulator)
		byType     = make(map[ppr.ClaimType]int)
	)
	for c, err := range d.ledger.List(ctx, filter) {
		if err != nil {
			return nil, err
		}
		if opts.Scope == ScopeRoleSpecific && c.RoleContext != opts.Role {
			continue
		}
		w := 1.0
		if opts.Weight != nil {
			w = opts.Weight(c)
		}
		if math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
			return nil, contracts.Errorf(contracts.KindValidation, contracts.CodeInvalidInput, op, "weight %v for receipt %s is not a finite non-negative number", w, c.ID)
		}
		m := c.PerformanceMetrics
		overall.add(m, w)
		if m.CompletionRate >= threshold {
			completed++
		}
		acc, ok := byCategory[c.Category()]
		if !ok {
			acc = &accumulator{}
			byCategory[c.Category()] = acc
		}
		acc.add(m, w)
		byType[c.ClaimType]++
	}

	summary = &Summary{
		Agent:               d.ledger.Owner(),
		Scope:               opts.Scope,
		CompletionThreshold: threshold,
		TotalClaims:         overall.count,
		Overall:             overall.averages(),
	}
	if overall.count > 0 {
		summary.CompletionRate = float64(completed) / float64(overall.count)
	}
	if !opts.From.IsZero() {
		from := opts.From.UTC()
		summary.From = &from
	}
	if !opts.To.IsZero() {
		to := opts.To.UTC()
		summary.To = &to
	}
	if opts.Scope == ScopeRoleSpecific {
		summary.Role = opts.Role
	}
	if opts.Scope == ScopeComprehensive {
		for _, cat := range ppr.AllCategories() {
			acc, ok := byCategory[cat]
			if !ok {
				continue
			}
			summary.Categories = append(summary.Categories, CategoryBreakdown{Category: cat, Count: acc.count, Averages: acc.averages()})
		}
		for _, t := range ppr.AllClaimTypes() {
			if n := byType[t]; n > 0 {
				summary.ClaimTypeCounts = append(summary.ClaimTypeCounts, ClaimTypeCount{ClaimType: t, Count: n})
			}
		}
	}

	digest, err := summary.ComputeDigest()
	if err != nil {
		return nil, err
	}
	summary.Digest = digest

	d.logger.DebugContext(ctx, "reputation summary derived",
		"agent", summary.Agent, "scope", summary.Scope, "total_claims", summary.TotalClaims)
	return summary, nil
}
