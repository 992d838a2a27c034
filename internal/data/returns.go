package data

import (
	"math"

	"github.com/atlas-desktop/btc-montecarlo/pkg/types"
)

// HistoricalReturns holds periodic BTC and benchmark returns per period unit
type HistoricalReturns struct {
	BTCWeekly        []float64 `json:"btcWeekly"`
	BTCMonthly       []float64 `json:"btcMonthly"`
	BenchmarkWeekly  []float64 `json:"benchmarkWeekly"`
	BenchmarkMonthly []float64 `json:"benchmarkMonthly"`
}

// Returns selects the series matching unit. Unknown units read as weekly.
func (h *HistoricalReturns) Returns(unit types.PeriodUnit) (btc, benchmark []float64) {
	if h == nil {
		return nil, nil
	}
	if unit == types.PeriodMonths {
		return h.BTCMonthly, h.BenchmarkMonthly
	}
	return h.BTCWeekly, h.BenchmarkWeekly
}

// Stress levels are bounded to this range
const (
	MinStress = 0.0
	MaxStress = 100.0
)

// StressSeries is a step-indexed market stress signal. Steps before the first
// entry read the first level, steps past the end read the last one.
type StressSeries struct {
	levels []float64
}

// NewStressSeries copies levels, clamping each into [0,100] and mapping
// non-finite values to 0
func NewStressSeries(levels []float64) *StressSeries {
	out := make([]float64, len(levels))
	for i, v := range levels {
		out[i] = clampStress(v)
	}
	return &StressSeries{levels: out}
}

// Level returns the stress level at step
func (s *StressSeries) Level(step int) float64 {
	if s == nil || len(s.levels) == 0 {
		return 0
	}
	if step < 0 {
		step = 0
	}
	if step >= len(s.levels) {
		step = len(s.levels) - 1
	}
	return s.levels[step]
}

// Len returns the number of stored levels
func (s *StressSeries) Len() int {
	if s == nil {
		return 0
	}
	return len(s.levels)
}

func clampStress(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return math.Max(MinStress, math.Min(MaxStress, v))
}
