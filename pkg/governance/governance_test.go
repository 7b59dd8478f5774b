package governance

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/nondominium/pkg/contracts"
	"github.com/Mindburn-Labs/nondominium/pkg/ppr"
)

func transportFacts() Facts {
	return Facts{
		Action:             contracts.ActionWork,
		RoleContext:        "Transport",
		InteractionContext: "transport_service",
		ClaimTypes:         ppr.ClaimTypePair{Provider: ppr.TransportFulfillment, Receiver: ppr.ServiceCommitmentAccepted},
		ProviderMetrics:    ppr.PerformanceMetrics{Timeliness: 0.9, Quality: 1, Reliability: 1, Communication: 0.8, CompletionRate: 1},
		ReceiverMetrics:    ppr.PerformanceMetrics{Timeliness: 0.5, Quality: 0.5, Reliability: 0.5, Communication: 0.5, CompletionRate: 1},
	}
}

func TestRuleSet_Evaluate(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name string
		rule Rule
		ok   bool
	}{
		{"floor holds on provider", Rule{ID: "r", Kind: KindMetricFloor, MetricFloor: &MetricFloor{Metric: "quality", Min: 0.9, Side: ppr.SideProvider}}, true},
		{"floor fails on receiver", Rule{ID: "r", Kind: KindMetricFloor, MetricFloor: &MetricFloor{Metric: "quality", Min: 0.9}}, false},
		{"average floor", Rule{ID: "r", Kind: KindMetricFloor, MetricFloor: &MetricFloor{Metric: "average", Min: 0.9, Side: ppr.SideProvider}}, true},
		{"role matches case-insensitively", Rule{ID: "r", Kind: KindRoleRequired, RoleRequired: &RoleRequired{Roles: []string{"transport", "storage"}}}, true},
		{"role missing", Rule{ID: "r", Kind: KindRoleRequired, RoleRequired: &RoleRequired{Roles: []string{"repair"}}}, false},
		{"expression true", Rule{ID: "r", Kind: KindExpression, Expression: &Expression{
			Source: `provider_claim_type == "TransportFulfillment" && provider_metrics["timeliness"] >= 0.8`}}, true},
		{"expression false", Rule{ID: "r", Kind: KindExpression, Expression: &Expression{Source: `role == "Storage"`}}, false},
		{"expression runtime error fails closed", Rule{ID: "r", Kind: KindExpression, Expression: &Expression{Source: `provider_metrics["missing"] > 0.0`}}, false},
		{"extension skipped", Rule{ID: "r", Kind: KindExtension, Extension: &Extension{Name: "quorum", Params: map[string]Value{"n": Number(3)}}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rs, err := NewRuleSet([]Rule{tt.rule})
			require.NoError(t, err)
			v, err := rs.Evaluate(ctx, transportFacts())
			require.NoError(t, err)
			assert.Equal(t, tt.ok, len(v) == 0, "%+v", v)

			err = rs.Check(ctx, transportFacts())
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Equal(t, contracts.CodeRuleViolation, contracts.CodeOf(err))
			}
		})
	}
}

func TestRuleSet_StrictExtension(t *testing.T) {
	rs, err := NewRuleSet([]Rule{{ID: "ext", Kind: KindExtension, Extension: &Extension{Name: "quorum"}}}, Strict())
	require.NoError(t, err)
	v, err := rs.Evaluate(context.Background(), transportFacts())
	require.NoError(t, err)
	require.Len(t, v, 1)
	assert.Equal(t, KindExtension, v[0].Kind)
}

func TestNilRuleSet(t *testing.T) {
	var rs *RuleSet
	v, err := rs.Evaluate(context.Background(), Facts{})
	assert.NoError(t, err)
	assert.Empty(t, v)
	assert.NoError(t, rs.Check(context.Background(), Facts{}))
	assert.Nil(t, rs.Rules())
}

func TestNewRuleSet_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		rules []Rule
	}{
		{"no variant", []Rule{{ID: "a", Kind: KindMetricFloor}}},
		{"two variants", []Rule{{ID: "a", Kind: KindRoleRequired, RoleRequired: &RoleRequired{Roles: []string{"x"}}, Expression: &Expression{Source: "true"}}}},
		{"kind mismatch", []Rule{{ID: "a", Kind: KindExpression, RoleRequired: &RoleRequired{Roles: []string{"x"}}}}},
		{"unknown metric", []Rule{{ID: "a", Kind: KindMetricFloor, MetricFloor: &MetricFloor{Metric: "charm", Min: 0.5}}}},
		{"min out of range", []Rule{{ID: "a", Kind: KindMetricFloor, MetricFloor: &MetricFloor{Metric: "quality", Min: 2}}}},
		{"bad side", []Rule{{ID: "a", Kind: KindMetricFloor, MetricFloor: &MetricFloor{Metric: "quality", Min: 0.5, Side: "both"}}}},
		{"empty roles", []Rule{{ID: "a", Kind: KindRoleRequired, RoleRequired: &RoleRequired{}}}},
		{"empty expression", []Rule{{ID: "a", Kind: KindExpression, Expression: &Expression{Source: " "}}}},
		{"syntax error", []Rule{{ID: "a", Kind: KindExpression, Expression: &Expression{Source: "role =="}}}},
		{"non-bool expression", []Rule{{ID: "a", Kind: KindExpression, Expression: &Expression{Source: "role"}}}},
		{"undeclared variable", []Rule{{ID: "a", Kind: KindExpression, Expression: &Expression{Source: "secret == 1"}}}},
		{"nameless extension", []Rule{{ID: "a", Kind: KindExtension, Extension: &Extension{}}}},
		{"unknown kind", []Rule{{ID: "a", Kind: "vibes", Extension: &Extension{Name: "x"}}}},
		{"duplicate id", []Rule{
			{ID: "a", Kind: KindRoleRequired, RoleRequired: &RoleRequired{Roles: []string{"x"}}},
			{ID: "a", Kind: KindRoleRequired, RoleRequired: &RoleRequired{Roles: []string{"y"}}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRuleSet(tt.rules)
			require.Error(t, err)
			assert.True(t, contracts.IsKind(err, contracts.KindValidation), err)
		})
	}
}

func TestParseRules(t *testing.T) {
	rules, err := ParseRules([]byte(`[
		{"id": "floor", "kind": "metric_floor", "metric_floor": {"metric": "reliability", "min": 0.5}},
		{"id": "ext", "kind": "extension", "extension": {"name": "quorum", "params": {"n": 3, "label": "council", "binding": true}}}
	]`))
	require.NoError(t, err)
	require.Len(t, rules, 2)
	p := rules[1].Extension.Params
	assert.Equal(t, Number(3), p["n"])
	assert.Equal(t, String("council"), p["label"])
	assert.Equal(t, Bool(true), p["binding"])

	_, err = ParseRules([]byte(`[{"id": "x", "kind": "extension", "extension": {"name": "q", "params": {"n": [1]}}}]`))
	assert.Error(t, err)
	_, err = ParseRules([]byte(`[{"id": "x", "kind": "extension", "bogus": 1}]`))
	assert.Error(t, err)
}

func TestValueMarshal(t *testing.T) {
	b, err := Number(0.5).MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, "0.5", string(b))
	_, err = Value{}.MarshalJSON()
	assert.Error(t, err)
}
