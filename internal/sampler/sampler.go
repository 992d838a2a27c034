// Package sampler draws single-period historical returns with replacement.
package sampler

import (
	"math"

	"github.com/atlas-desktop/btc-montecarlo/internal/rng"
)

// DefaultScale is the dampening scale used when none is configured
const DefaultScale = 0.5

// Dampen compresses large magnitudes with s*atan(x/s). Small values pass
// almost unchanged and the output is bounded by s*pi/2. A non-positive scale
// disables dampening.
func Dampen(x, scale float64) float64 {
	if scale <= 0 {
		return x
	}
	return scale * math.Atan(x/scale)
}

// Sampler holds the read-only return pools for one orchestration
type Sampler struct {
	btc      []float64
	extended []float64
	scale    float64
}

// New copies the series so callers cannot mutate them mid-run. The extended
// pool is the BTC series followed by the benchmark series.
func New(btc, benchmark []float64, scale float64) *Sampler {
	s := &Sampler{
		btc:      finiteOnly(btc),
		extended: make([]float64, 0, len(btc)+len(benchmark)),
		scale:    scale,
	}
	s.extended = append(s.extended, s.btc...)
	s.extended = append(s.extended, finiteOnly(benchmark)...)
	return s
}

// Sample draws one dampened return. Returns 0 without drawing when the pool
// is empty.
func (s *Sampler) Sample(src *rng.Source, extended bool) float64 {
	pool := s.btc
	if extended {
		pool = s.extended
	}
	if len(pool) == 0 {
		return 0
	}
	return Dampen(pool[src.Index(len(pool))], s.scale)
}

// Len returns the size of the pool Sample would draw from
func (s *Sampler) Len(extended bool) int {
	if extended {
		return len(s.extended)
	}
	return len(s.btc)
}

func finiteOnly(in []float64) []float64 {
	out := make([]float64, 0, len(in))
	for _, v := range in {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		out = append(out, v)
	}
	return out
}
