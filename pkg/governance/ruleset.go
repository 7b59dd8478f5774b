package governance

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/decls"
	"github.com/google/cel-go/common/types"

	"github.com/Mindburn-Labs/nondominium/pkg/contracts"
	"github.com/Mindburn-Labs/nondominium/pkg/ppr"
)

// Facts are the issuance inputs rules are evaluated against.
type Facts struct {
	Action             contracts.VfAction
	ProcessType        ppr.ProcessType
	RoleContext        string
	InteractionContext string
	ClaimTypes         ppr.ClaimTypePair
	ProviderMetrics    ppr.PerformanceMetrics
	ReceiverMetrics    ppr.PerformanceMetrics
}

func (f Facts) activation() map[string]interface{} {
	return map[string]interface{}{
		"action":              string(f.Action),
		"process_type":        string(f.ProcessType),
		"role":                f.RoleContext,
		"context":             f.InteractionContext,
		"provider_claim_type": string(f.ClaimTypes.Provider),
		"receiver_claim_type": string(f.ClaimTypes.Receiver),
		"provider_metrics":    metricsMap(f.ProviderMetrics),
		"receiver_metrics":    metricsMap(f.ReceiverMetrics),
	}
}

// Violation names a rule that did not hold.
type Violation struct {
	RuleID string   `json:"rule_id"`
	Kind   RuleKind `json:"kind"`
	Reason string   `json:"reason"`
}

// RuleSet is a compiled set of rules. With Strict set, extension rules this
// build cannot interpret are reported as violations instead of skipped.
type RuleSet struct {
	rules    []Rule
	programs map[string]cel.Program
	strict   bool
	logger   *slog.Logger
}

// Option customizes a RuleSet.
type Option func(*RuleSet)

// Strict makes uninterpreted extension rules fail closed.
func Strict() Option { return func(rs *RuleSet) { rs.strict = true } }

// WithLogger sets the logger for skipped extension rules.
func WithLogger(l *slog.Logger) Option { return func(rs *RuleSet) { rs.logger = l } }

func newEnv() (*cel.Env, error) {
	metrics := types.NewMapType(types.StringType, types.DoubleType)
	env, err := cel.NewEnv(
		cel.VariableDecls(
			decls.NewVariable("action", types.StringType),
			decls.NewVariable("process_type", types.StringType),
			decls.NewVariable("role", types.StringType),
			decls.NewVariable("context", types.StringType),
			decls.NewVariable("provider_claim_type", types.StringType),
			decls.NewVariable("receiver_claim_type", types.StringType),
			decls.NewVariable("provider_metrics", metrics),
			decls.NewVariable("receiver_metrics", metrics),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}
	return env, nil
}

// NewRuleSet validates rules and compiles expression rules.
func NewRuleSet(rules []Rule, opts ...Option) (*RuleSet, error) {
	rs := &RuleSet{
		rules:    slices.Clone(rules),
		programs: make(map[string]cel.Program),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(rs)
	}

	var env *cel.Env
	seen := make(map[string]bool, len(rules))
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return nil, err
		}
		if seen[r.ID] {
			return nil, contracts.Errorf(contracts.KindValidation, contracts.CodeInvalidInput, "governance.NewRuleSet", "duplicate rule id %q", r.ID)
		}
		seen[r.ID] = true
		if r.Kind != KindExpression {
			continue
		}
		if env == nil {
			var err error
			if env, err = newEnv(); err != nil {
				return nil, err
			}
		}
		ast, issues := env.Compile(r.Expression.Source)
		if issues != nil && issues.Err() != nil {
			return nil, contracts.NewError(contracts.KindValidation, contracts.CodeInvalidInput, "governance.NewRuleSet",
				fmt.Errorf("rule %q compilation failed: %w", r.ID, issues.Err()))
		}
		if !ast.OutputType().IsExactType(types.BoolType) {
			return nil, contracts.Errorf(contracts.KindValidation, contracts.CodeInvalidInput, "governance.NewRuleSet",
				"rule %q must evaluate to bool, got %s", r.ID, ast.OutputType())
		}
		prg, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("rule %q program construction failed: %w", r.ID, err)
		}
		rs.programs[r.ID] = prg
	}
	return rs, nil
}

// Rules returns the rules in evaluation order.
func (rs *RuleSet) Rules() []Rule {
	if rs == nil {
		return nil
	}
	return slices.Clone(rs.rules)
}

// Evaluate returns every violated rule. A nil RuleSet has no rules.
func (rs *RuleSet) Evaluate(ctx context.Context, f Facts) ([]Violation, error) {
	if rs == nil {
		return nil, nil
	}
	var out []Violation
	for _, r := range rs.rules {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		reason, ok, err := rs.evalRule(ctx, r, f)
		if err != nil {
			return nil, err
		}
		if !ok {
			out = append(out, Violation{RuleID: r.ID, Kind: r.Kind, Reason: reason})
		}
	}
	return out, nil
}

// Check is Evaluate reported as a single RULE_VIOLATION error.
func (rs *RuleSet) Check(ctx context.Context, f Facts) error {
	violations, err := rs.Evaluate(ctx, f)
	if err != nil {
		return err
	}
	if len(violations) == 0 {
		return nil
	}
	reasons := make([]string, len(violations))
	for i, v := range violations {
		reasons[i] = v.RuleID + ": " + v.Reason
	}
	return contracts.Errorf(contracts.KindValidation, contracts.CodeRuleViolation, "governance.Check", "%s", strings.Join(reasons, "; "))
}

func (rs *RuleSet) evalRule(ctx context.Context, r Rule, f Facts) (string, bool, error) {
	switch r.Kind {
	case KindMetricFloor:
		mf := r.MetricFloor
		sides := []ppr.Side{ppr.SideProvider, ppr.SideReceiver}
		if mf.Side != "" {
			sides = []ppr.Side{mf.Side}
		}
		for _, side := range sides {
			m := f.ProviderMetrics
			if side == ppr.SideReceiver {
				m = f.ReceiverMetrics
			}
			v, _ := metricValue(m, mf.Metric)
			if v < mf.Min {
				return fmt.Sprintf("%s %s %.3f below %.3f", side, mf.Metric, v, mf.Min), false, nil
			}
		}
		return "", true, nil

	case KindRoleRequired:
		for _, role := range r.RoleRequired.Roles {
			if strings.EqualFold(strings.TrimSpace(role), strings.TrimSpace(f.RoleContext)) {
				return "", true, nil
			}
		}
		return fmt.Sprintf("role %q not in %v", f.RoleContext, r.RoleRequired.Roles), false, nil

	case KindExpression:
		out, _, err := rs.programs[r.ID].ContextEval(ctx, f.activation())
		if err != nil {
			// Fail closed.
			return fmt.Sprintf("evaluation error: %v", err), false, nil
		}
		if allowed, ok := out.Value().(bool); ok && allowed {
			return "", true, nil
		}
		return fmt.Sprintf("expression %q is false", r.Expression.Source), false, nil

	case KindExtension:
		if rs.strict {
			return fmt.Sprintf("extension %q not supported", r.Extension.Name), false, nil
		}
		rs.logger.DebugContext(ctx, "skipping extension rule",
			"rule_id", r.ID, "extension", r.Extension.Name, "params", sortedKeys(r.Extension.Params))
		return "", true, nil
	}
	return fmt.Sprintf("unknown kind %q", r.Kind), false, nil
}
