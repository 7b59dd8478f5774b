// Package governance evaluates issuance pre-conditions expressed as a small
// set of known rule kinds plus an opaque extension kind.
package governance

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/Mindburn-Labs/nondominium/pkg/contracts"
	"github.com/Mindburn-Labs/nondominium/pkg/ppr"
)

// RuleKind discriminates Rule.
type RuleKind string

const (
	KindMetricFloor  RuleKind = "metric_floor"
	KindRoleRequired RuleKind = "role_required"
	KindExpression   RuleKind = "expression"
	KindExtension    RuleKind = "extension"
)

// Rule is a tagged union: exactly the field matching Kind is set.
type Rule struct {
	ID           string        `json:"id"`
	Kind         RuleKind      `json:"kind"`
	MetricFloor  *MetricFloor  `json:"metric_floor,omitempty"`
	RoleRequired *RoleRequired `json:"role_required,omitempty"`
	Expression   *Expression   `json:"expression,omitempty"`
	Extension    *Extension    `json:"extension,omitempty"`
}

// MetricFloor requires a metric to be at least Min on the given side.
type MetricFloor struct {
	Metric string   `json:"metric"` // timeliness, quality, reliability, communication, completion_rate, average
	Min    float64  `json:"min"`
	Side   ppr.Side `json:"side,omitempty"` // empty means both sides
}

// RoleRequired restricts the role context to one of Roles.
type RoleRequired struct {
	Roles []string `json:"roles"`
}

// Expression is a CEL boolean expression over Facts.
type Expression struct {
	Source string `json:"source"`
}

// Extension carries a rule this build does not interpret.
type Extension struct {
	Name   string           `json:"name"`
	Params map[string]Value `json:"params,omitempty"`
}

// ValueKind discriminates Value.
type ValueKind string

const (
	ValueString ValueKind = "string"
	ValueNumber ValueKind = "number"
	ValueBool   ValueKind = "bool"
)

// Value is a typed extension parameter.
type Value struct {
	Kind ValueKind
	Str  string
	Num  float64
	Bool bool
}

func String(s string) Value  { return Value{Kind: ValueString, Str: s} }
func Number(n float64) Value { return Value{Kind: ValueNumber, Num: n} }
func Bool(b bool) Value      { return Value{Kind: ValueBool, Bool: b} }

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case ValueString:
		return json.Marshal(v.Str)
	case ValueNumber:
		return json.Marshal(v.Num)
	case ValueBool:
		return json.Marshal(v.Bool)
	}
	return nil, fmt.Errorf("governance: value has no kind")
}

func (v *Value) UnmarshalJSON(b []byte) error {
	var raw interface{}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	switch t := raw.(type) {
	case string:
		*v = String(t)
	case float64:
		*v = Number(t)
	case bool:
		*v = Bool(t)
	default:
		return fmt.Errorf("governance: extension params must be string, number or bool, got %s", string(b))
	}
	return nil
}

// Validate checks that the rule is well formed.
func (r Rule) Validate() error {
	const op = "governance.Rule.Validate"
	set := 0
	for _, p := range []bool{r.MetricFloor != nil, r.RoleRequired != nil, r.Expression != nil, r.Extension != nil} {
		if p {
			set++
		}
	}
	if set != 1 {
		return contracts.Errorf(contracts.KindValidation, contracts.CodeInvalidInput, op, "rule %q must set exactly one variant, has %d", r.ID, set)
	}

	switch r.Kind {
	case KindMetricFloor:
		if r.MetricFloor == nil {
			break
		}
		if _, ok := metricValue(ppr.PerformanceMetrics{}, r.MetricFloor.Metric); !ok {
			return contracts.Errorf(contracts.KindValidation, contracts.CodeInvalidInput, op, "rule %q: unknown metric %q", r.ID, r.MetricFloor.Metric)
		}
		if math.IsNaN(r.MetricFloor.Min) || r.MetricFloor.Min < 0 || r.MetricFloor.Min > 1 {
			return contracts.Errorf(contracts.KindValidation, contracts.CodeInvalidInput, op, "rule %q: min must be in [0, 1]", r.ID)
		}
		switch r.MetricFloor.Side {
		case "", ppr.SideProvider, ppr.SideReceiver:
		default:
			return contracts.Errorf(contracts.KindValidation, contracts.CodeInvalidInput, op, "rule %q: unknown side %q", r.ID, r.MetricFloor.Side)
		}
		return nil
	case KindRoleRequired:
		if r.RoleRequired == nil {
			break
		}
		if len(r.RoleRequired.Roles) == 0 {
			return contracts.Errorf(contracts.KindValidation, contracts.CodeInvalidInput, op, "rule %q: no roles", r.ID)
		}
		return nil
	case KindExpression:
		if r.Expression == nil {
			break
		}
		if strings.TrimSpace(r.Expression.Source) == "" {
			return contracts.Errorf(contracts.KindValidation, contracts.CodeInvalidInput, op, "rule %q: empty expression", r.ID)
		}
		return nil
	case KindExtension:
		if r.Extension == nil {
			break
		}
		if r.Extension.Name == "" {
			return contracts.Errorf(contracts.KindValidation, contracts.CodeInvalidInput, op, "rule %q: extension name required", r.ID)
		}
		return nil
	default:
		return contracts.Errorf(contracts.KindValidation, contracts.CodeInvalidInput, op, "rule %q: unknown kind %q", r.ID, r.Kind)
	}
	return contracts.Errorf(contracts.KindValidation, contracts.CodeInvalidInput, op, "rule %q: kind %s does not match the variant set", r.ID, r.Kind)
}

// ParseRules decodes a JSON array of rules and validates each.
func ParseRules(data []byte) ([]Rule, error) {
	var rules []Rule
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&rules); err != nil {
		return nil, contracts.NewError(contracts.KindValidation, contracts.CodeInvalidInput, "governance.ParseRules", err)
	}
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return nil, err
		}
	}
	return rules, nil
}

func metricValue(m ppr.PerformanceMetrics, name string) (float64, bool) {
	switch name {
	case "timeliness":
		return m.Timeliness, true
	case "quality":
		return m.Quality, true
	case "reliability":
		return m.Reliability, true
	case "communication":
		return m.Communication, true
	case "completion_rate":
		return m.CompletionRate, true
	case "average":
		return m.Average(), true
	}
	return 0, false
}

func metricsMap(m ppr.PerformanceMetrics) map[string]float64 {
	return map[string]float64{
		"timeliness":      m.Timeliness,
		"quality":         m.Quality,
		"reliability":     m.Reliability,
		"communication":   m.Communication,
		"completion_rate": m.CompletionRate,
		"average":         m.Average(),
	}
}

func sortedKeys(m map[string]Value) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
