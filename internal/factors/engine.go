// Package factors applies the bullish and bearish economic factor overlay to a
// step's return. Factors are evaluated in table order; event factors consume
// one uniform draw each, so the order is part of the reproducibility contract.
package factors

import (
	"math"

	"github.com/atlas-desktop/btc-montecarlo/internal/rng"
	"github.com/atlas-desktop/btc-montecarlo/internal/sampler"
	"github.com/atlas-desktop/btc-montecarlo/pkg/types"
)

// StressSignal supplies a congestion/stress level in [0,100] per step index
type StressSignal interface {
	Level(step int) float64
}

// ConstantStress reports the same level for every step
type ConstantStress float64

// Level implements StressSignal
func (c ConstantStress) Level(int) float64 { return float64(c) }

// Config holds the event tuning constants
type Config struct {
	StressThreshold float64 // events get their StressMultiplier above this level
	DampenScale     float64
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		StressThreshold: 80,
		DampenScale:     sampler.DefaultScale,
	}
}

// Contribution is one factor's effect on a step
type Contribution struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	Fired bool    `json:"fired,omitempty"`
}

// Engine evaluates a fixed factor table
type Engine struct {
	table  []types.FactorDefinition
	stress StressSignal
	config Config
}

// NewEngine copies table; it is read-only for the life of the engine.
// A nil stress signal reads as zero stress.
func NewEngine(table []types.FactorDefinition, stress StressSignal, config Config) *Engine {
	if stress == nil {
		stress = ConstantStress(0)
	}
	t := make([]types.FactorDefinition, len(table))
	copy(t, table)
	return &Engine{table: t, stress: stress, config: config}
}

// Apply returns the summed factor return for step. periodsCovered is 1 for
// an incremental step and periods-per-year for a lumpsum year boundary. It
// scales additive magnitudes and widens event probabilities to the chance of
// at least one trigger across the covered periods.
func (e *Engine) Apply(src *rng.Source, step int, periodsCovered float64) float64 {
	total := 0.0
	for i := range e.table {
		v, _ := e.evaluate(&e.table[i], src, step, periodsCovered)
		total += v
	}
	return total
}

// ApplyDetailed is Apply with a per-factor breakdown. Draw order is identical.
func (e *Engine) ApplyDetailed(src *rng.Source, step int, periodsCovered float64) (float64, []Contribution) {
	total := 0.0
	out := make([]Contribution, 0, len(e.table))
	for i := range e.table {
		f := &e.table[i]
		if !f.Enabled {
			continue
		}
		v, fired := e.evaluate(f, src, step, periodsCovered)
		total += v
		out = append(out, Contribution{Name: f.Name, Value: v, Fired: fired})
	}
	return total, out
}

// TriggerProbability returns the event probability at a stress level
func (e *Engine) TriggerProbability(f types.FactorDefinition, stress float64) float64 {
	p := f.Probability
	if stress > e.config.StressThreshold {
		m := f.StressMultiplier
		if m == 0 {
			m = 1
		}
		p *= m
	}
	return math.Min(math.Max(p, 0), 1)
}

// WindowProbability is TriggerProbability compounded over periodsCovered
// independent periods: 1-(1-p)^n.
func (e *Engine) WindowProbability(f types.FactorDefinition, stress, periodsCovered float64) float64 {
	p := e.TriggerProbability(f, stress)
	if periodsCovered > 1 {
		p = 1 - math.Pow(1-p, periodsCovered)
	}
	return p
}

// Table returns a copy of the factor table
func (e *Engine) Table() []types.FactorDefinition {
	t := make([]types.FactorDefinition, len(e.table))
	copy(t, e.table)
	return t
}

func (e *Engine) evaluate(f *types.FactorDefinition, src *rng.Source, step int, periodsCovered float64) (float64, bool) {
	if !f.Enabled {
		return 0, false
	}

	switch f.Kind {
	case types.FactorAdditive:
		return f.Magnitude * periodsCovered, false

	case types.FactorEvent:
		p := e.WindowProbability(*f, e.stress.Level(step), periodsCovered)
		if src.Uniform() >= p {
			return 0, false
		}
		mult := f.Multiplier
		if mult == 0 {
			mult = 1
		}
		impact := (f.Magnitude + f.HistoricalBump) * mult
		return sampler.Dampen(impact, e.config.DampenScale), true
	}
	return 0, false
}
