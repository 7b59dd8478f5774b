// Package reputation derives disclosure-scoped reputation summaries from an
// agent's own participation receipts.
package reputation

import (
	"fmt"
	"time"

	"github.com/Mindburn-Labs/nondominium/pkg/canonicalize"
	"github.com/Mindburn-Labs/nondominium/pkg/contracts"
	"github.com/Mindburn-Labs/nondominium/pkg/ppr"
)

// Scope is how much detail a summary discloses.
type Scope string

const (
	// ScopeBasic discloses overall scores and completion rate.
	ScopeBasic Scope = "basic"
	// ScopeRoleSpecific discloses the basic figures over one role's receipts.
	ScopeRoleSpecific Scope = "role_specific"
	// ScopeComprehensive adds per-category and per-claim-type breakdowns.
	ScopeComprehensive Scope = "comprehensive"
)

func (s Scope) Valid() bool {
	switch s {
	case ScopeBasic, ScopeRoleSpecific, ScopeComprehensive:
		return true
	}
	return false
}

// MetricAverages are weighted averages of the receipt scores.
type MetricAverages struct {
	Timeliness     float64 `json:"timeliness"`
	Quality        float64 `json:"quality"`
	Reliability    float64 `json:"reliability"`
	Communication  float64 `json:"communication"`
	CompletionRate float64 `json:"completion_rate"`
}

// CategoryBreakdown aggregates the receipts of one category.
type CategoryBreakdown struct {
	Category ppr.Category   `json:"category"`
	Count    int            `json:"count"`
	Averages MetricAverages `json:"averages"`
}

// ClaimTypeCount counts receipts of one claim type.
type ClaimTypeCount struct {
	ClaimType ppr.ClaimType `json:"claim_type"`
	Count     int           `json:"count"`
}

// Summary is a derived, reproducible view over a set of receipts.
type Summary struct {
	Agent               contracts.AgentID   `json:"agent"`
	Scope               Scope               `json:"scope"`
	Role                string              `json:"role,omitempty"`
	From                *time.Time          `json:"from,omitempty"`
	To                  *time.Time          `json:"to,omitempty"`
	CompletionThreshold float64             `json:"completion_threshold"`
	TotalClaims         int                 `json:"total_claims"`
	CompletionRate      float64             `json:"completion_rate"`
	Overall             MetricAverages      `json:"overall"`
	Categories          []CategoryBreakdown `json:"categories,omitempty"`
	ClaimTypeCounts     []ClaimTypeCount    `json:"claim_type_counts,omitempty"`
	Digest              string              `json:"digest,omitempty"`
}

// ComputeDigest returns the canonical hash of s with Digest cleared.
func (s Summary) ComputeDigest() (string, error) {
	s.Digest = ""
	h, err := canonicalize.CanonicalHash(s)
	if err != nil {
		return "", fmt.Errorf("reputation: summary digest: %w", err)
	}
	return "sha256:" + h, nil
}

// VerifyDigest reports whether the stored digest matches the content.
func (s Summary) VerifyDigest() error {
	d, err := s.ComputeDigest()
	if err != nil {
		return err
	}
	if d != s.Digest {
		return contracts.Errorf(contracts.KindCrypto, contracts.CodeSignatureMismatch, "reputation.VerifyDigest",
			"summary digest %s does not match content %s", s.Digest, d)
	}
	return nil
}

type accumulator struct {
	count         int
	weight        float64
	timeliness    float64
	quality       float64
	reliability   float64
	communication float64
	completion    float64
}

func (a *accumulator) add(m ppr.PerformanceMetrics, w float64) {
	a.count++
	a.weight += w
	a.timeliness += w * m.Timeliness
	a.quality += w * m.Quality
	a.reliability += w * m.Reliability
	a.communication += w * m.Communication
	a.completion += w * m.CompletionRate
}

func (a *accumulator) averages() MetricAverages {
	if a.weight == 0 {
		return MetricAverages{}
	}
	return MetricAverages{
		Timeliness:     a.timeliness / a.weight,
		Quality:        a.quality / a.weight,
		Reliability:    a.reliability / a.weight,
		Communication:  a.communication / a.weight,
		CompletionRate: a.completion / a.weight,
	}
}
