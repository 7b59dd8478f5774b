package ppr

import (
	"fmt"
	"math"

	"github.com/Mindburn-Labs/nondominium/pkg/contracts"
)

// PerformanceMetrics are bounded scores in [0, 1] attached to a receipt.
type PerformanceMetrics struct {
	Timeliness        float64 `json:"timeliness"`
	Quality           float64 `json:"quality"`
	Reliability       float64 `json:"reliability"`
	Communication     float64 `json:"communication"`
	CompletionRate    float64 `json:"completion_rate"`
	ResourceCondition *bool   `json:"resource_condition,omitempty"`
}

// NewPerformanceMetrics constructs validated metrics.
func NewPerformanceMetrics(timeliness, quality, reliability, communication, completionRate float64) (PerformanceMetrics, error) {
	m := PerformanceMetrics{
		Timeliness:     timeliness,
		Quality:        quality,
		Reliability:    reliability,
		Communication:  communication,
		CompletionRate: completionRate,
	}
	if err := m.Validate(); err != nil {
		return PerformanceMetrics{}, err
	}
	return m, nil
}

// Validate rejects NaN and any score outside [0, 1].
func (m PerformanceMetrics) Validate() error {
	for _, s := range []struct {
		name string
		v    float64
	}{
		{"timeliness", m.Timeliness},
		{"quality", m.Quality},
		{"reliability", m.Reliability},
		{"communication", m.Communication},
		{"completion_rate", m.CompletionRate},
	} {
		if math.IsNaN(s.v) || s.v < 0 || s.v > 1 {
			return contracts.Errorf(contracts.KindValidation, contracts.CodeMetricOutOfRange, "ppr.PerformanceMetrics",
				"%s = %v, want value in [0, 1]", s.name, s.v)
		}
	}
	return nil
}

// Average is the mean of the four behavioural scores.
func (m PerformanceMetrics) Average() float64 {
	return (m.Timeliness + m.Quality + m.Reliability + m.Communication) / 4
}

// String is used in audit output.
func (m PerformanceMetrics) String() string {
	return fmt.Sprintf("t=%.2f q=%.2f r=%.2f c=%.2f cr=%.2f", m.Timeliness, m.Quality, m.Reliability, m.Communication, m.CompletionRate)
}
