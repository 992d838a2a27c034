// Package rng provides the seedable random stream shared by every draw in a
// Monte Carlo orchestration. Callers must keep the draw order fixed: any
// reordering changes every later output for the same seed.
package rng

import (
	"math"
	"math/rand/v2"
	"time"
)

// minUniform keeps the Box-Muller log away from zero
const minUniform = 1e-12

// Source is a seedable uniform generator. It is not safe for concurrent use.
type Source struct {
	seed uint64
	r    *rand.Rand
}

// New creates a Source. A nil seed yields a time-based, non-reproducible stream.
func New(seed *uint64) *Source {
	var s uint64
	if seed != nil {
		s = *seed
	} else {
		s = uint64(time.Now().UnixNano())
	}
	return &Source{
		seed: s,
		r:    rand.New(rand.NewPCG(s, s^0x9e3779b97f4a7c15)),
	}
}

// NewSeeded is shorthand for New(&seed)
func NewSeeded(seed uint64) *Source {
	return New(&seed)
}

// Seed returns the seed the stream was built from
func (s *Source) Seed() uint64 {
	return s.seed
}

// Uniform returns a value in [0,1)
func (s *Source) Uniform() float64 {
	return s.r.Float64()
}

// Index returns a value in [0,n). Returns 0 without drawing when n <= 0.
func (s *Source) Index(n int) int {
	if n <= 0 {
		return 0
	}
	return s.r.IntN(n)
}

// Normal draws from N(mean, sd) with Box-Muller. Always consumes exactly two
// uniform draws, even when sd is zero.
func (s *Source) Normal(mean, sd float64) float64 {
	u1 := s.Uniform()
	u2 := s.Uniform()
	if u1 < minUniform {
		u1 = minUniform
	}
	z := math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
	return mean + sd*z
}
