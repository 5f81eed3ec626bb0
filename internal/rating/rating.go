// Package rating computes supplier reputation scores and profile completion
// percentages. Everything here is pure arithmetic over caller-supplied values.
package rating

import (
	"math"

	"github.com/keithlinneman/linnemanlabs-gate/internal/xerrors"
)

const (
	MinScore = 0
	MaxScore = 100
)

// Factor is one weighted input to a score. Weight is a fraction of the total
// score (0.4 means 40 points at most), Value is normalized against Max.
type Factor struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
	Value  float64 `json:"value"`
	Max    float64 `json:"max"`
}

// Penalty subtracts Points from the weighted sum.
type Penalty struct {
	Reason string  `json:"reason"`
	Points float64 `json:"points"`
}

// Normalize maps value onto 0..100 relative to max. A non-positive max
// normalizes to 0.
func Normalize(value, max float64) float64 {
	if max <= 0 || math.IsNaN(value) || math.IsNaN(max) {
		return 0
	}
	return clamp(value/max, 0, 1) * 100
}

// Score returns sum(weight * normalize(value, max)) - sum(penalties), clamped to [0, 100].
func Score(factors []Factor, penalties []Penalty) float64 {
	var total float64
	for _, f := range factors {
		if math.IsNaN(f.Weight) || f.Weight <= 0 {
			continue
		}
		total += f.Weight * Normalize(f.Value, f.Max)
	}
	for _, p := range penalties {
		if !math.IsNaN(p.Points) && p.Points > 0 {
			total -= p.Points
		}
	}
	return round2(clamp(total, MinScore, MaxScore))
}

// SupplierStats are the inputs of the default supplier score.
type SupplierStats struct {
	AverageRating     float64 `json:"average_rating"`     // 0..5 stars
	OnTimeRate        float64 `json:"on_time_rate"`       // 0..1
	ResponseRate      float64 `json:"response_rate"`      // 0..1
	CompletedProjects int     `json:"completed_projects"` // capped at CompletedProjectsCap
	ProfileCompletion int     `json:"profile_completion"` // 0..100
	CancelledProjects int     `json:"cancelled_projects"`
	LostDisputes      int     `json:"lost_disputes"`
}

// Weights of the default supplier score, they sum to 1.
const (
	WeightAverageRating     = 0.40
	WeightOnTime            = 0.25
	WeightResponseRate      = 0.15
	WeightCompletedProjects = 0.10
	WeightProfileCompletion = 0.10

	MaxStars             = 5
	CompletedProjectsCap = 50

	PenaltyPerCancellation = 5
	PenaltyPerLostDispute  = 10
)

var ErrInvalidStats = xerrors.New("invalid supplier stats")

// Validate rejects negative counts and rates outside their ranges.
func (s SupplierStats) Validate() error {
	switch {
	case math.IsNaN(s.AverageRating) || s.AverageRating < 0 || s.AverageRating > MaxStars:
		return xerrors.Wrapf(ErrInvalidStats, "average_rating %v not in [0,%d]", s.AverageRating, MaxStars)
	case math.IsNaN(s.OnTimeRate) || s.OnTimeRate < 0 || s.OnTimeRate > 1:
		return xerrors.Wrapf(ErrInvalidStats, "on_time_rate %v not in [0,1]", s.OnTimeRate)
	case math.IsNaN(s.ResponseRate) || s.ResponseRate < 0 || s.ResponseRate > 1:
		return xerrors.Wrapf(ErrInvalidStats, "response_rate %v not in [0,1]", s.ResponseRate)
	case s.ProfileCompletion < 0 || s.ProfileCompletion > 100:
		return xerrors.Wrapf(ErrInvalidStats, "profile_completion %d not in [0,100]", s.ProfileCompletion)
	case s.CompletedProjects < 0 || s.CancelledProjects < 0 || s.LostDisputes < 0:
		return xerrors.Wrap(ErrInvalidStats, "project and dispute counts must not be negative")
	}
	return nil
}

// Factors expands stats into the default weighted factors.
func (s SupplierStats) Factors() []Factor {
	return []Factor{
		{Name: "average_rating", Weight: WeightAverageRating, Value: s.AverageRating, Max: MaxStars},
		{Name: "on_time_delivery", Weight: WeightOnTime, Value: s.OnTimeRate, Max: 1},
		{Name: "response_rate", Weight: WeightResponseRate, Value: s.ResponseRate, Max: 1},
		{Name: "completed_projects", Weight: WeightCompletedProjects, Value: float64(s.CompletedProjects), Max: CompletedProjectsCap},
		{Name: "profile_completion", Weight: WeightProfileCompletion, Value: float64(s.ProfileCompletion), Max: 100},
	}
}

// Penalties expands stats into the default penalties. Zero counts are omitted.
// Points are float64 products and never wrap for huge counts.
func (s SupplierStats) Penalties() []Penalty {
	var out []Penalty
	if s.CancelledProjects > 0 {
		out = append(out, Penalty{Reason: "cancelled_projects", Points: float64(s.CancelledProjects) * PenaltyPerCancellation})
	}
	if s.LostDisputes > 0 {
		out = append(out, Penalty{Reason: "lost_disputes", Points: float64(s.LostDisputes) * PenaltyPerLostDispute})
	}
	return out
}

// SupplierScore applies the default weights and penalties.
func SupplierScore(s SupplierStats) float64 {
	return Score(s.Factors(), s.Penalties())
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
