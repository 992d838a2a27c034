// Package regime provides the macro regime overlay: a small Markov chain
// whose active state scales growth and volatility for each step.
// States: Bull, Bear, Hype, Neutral
package regime

import (
	"fmt"
	"math"

	"github.com/atlas-desktop/btc-montecarlo/internal/rng"
)

// RegimeType represents a macro market mood
type RegimeType string

const (
	RegimeBull    RegimeType = "bull"
	RegimeBear    RegimeType = "bear"
	RegimeHype    RegimeType = "hype"
	RegimeNeutral RegimeType = "neutral"
)

// Regimes is the fixed state order used by transition matrices
var Regimes = []RegimeType{RegimeBull, RegimeBear, RegimeHype, RegimeNeutral}

// Multipliers scale the deterministic growth rate and the volatility of a step
type Multipliers struct {
	CAGR float64 `json:"cagr"`
	Vol  float64 `json:"vol"`
}

// DefaultMultipliers per regime
var DefaultMultipliers = map[RegimeType]Multipliers{
	RegimeBull:    {CAGR: 1.3, Vol: 0.9},
	RegimeBear:    {CAGR: 0.4, Vol: 1.3},
	RegimeHype:    {CAGR: 1.8, Vol: 1.6},
	RegimeNeutral: {CAGR: 1.0, Vol: 1.0},
}

// RegimeConfig configures the chain
type RegimeConfig struct {
	Persistence float64     // Probability of staying in the current regime
	Initial     RegimeType  // Starting regime of every run
	Matrix      [][]float64 // Optional explicit transition matrix in Regimes order
}

// DefaultRegimeConfig returns sensible defaults
func DefaultRegimeConfig() *RegimeConfig {
	return &RegimeConfig{
		Persistence: 0.9,
		Initial:     RegimeNeutral,
	}
}

// Model is the per-run chain state. Build a fresh one for every iteration.
type Model struct {
	current          int
	transitionMatrix [][]float64
	multipliers      []Multipliers
}

// NewModel creates a chain from config. An invalid explicit matrix falls back
// to the persistence-based one.
func NewModel(config *RegimeConfig) *Model {
	if config == nil {
		config = DefaultRegimeConfig()
	}

	m := &Model{
		current:     indexOf(config.Initial),
		multipliers: make([]Multipliers, len(Regimes)),
	}
	for i, r := range Regimes {
		m.multipliers[i] = DefaultMultipliers[r]
	}

	if err := validateMatrix(config.Matrix); err == nil {
		m.transitionMatrix = config.Matrix
	} else {
		m.transitionMatrix = PersistenceMatrix(config.Persistence)
	}
	return m
}

// PersistenceMatrix keeps p on the diagonal and splits the remainder evenly
func PersistenceMatrix(p float64) [][]float64 {
	p = math.Min(math.Max(p, 0), 1)
	n := len(Regimes)
	matrix := make([][]float64, n)
	for i := 0; i < n; i++ {
		matrix[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			if i == j {
				matrix[i][j] = p
			} else {
				matrix[i][j] = (1 - p) / float64(n-1)
			}
		}
	}
	return matrix
}

// Update moves the chain one step. Consumes exactly one uniform draw.
func (m *Model) Update(src *rng.Source) {
	u := src.Uniform()
	row := m.transitionMatrix[m.current]

	cum := 0.0
	for j, p := range row {
		cum += p
		if u < cum {
			m.current = j
			return
		}
	}
	// rounding left u above the cumulative sum: take the last reachable state
	for j := len(row) - 1; j >= 0; j-- {
		if row[j] > 0 {
			m.current = j
			return
		}
	}
}

// Current returns the active regime
func (m *Model) Current() RegimeType {
	return Regimes[m.current]
}

// CAGRMultiplier of the active regime
func (m *Model) CAGRMultiplier() float64 {
	return m.multipliers[m.current].CAGR
}

// VolMultiplier of the active regime
func (m *Model) VolMultiplier() float64 {
	return m.multipliers[m.current].Vol
}

// StationaryDistribution returns the long-run share of each regime by power
// iteration over the transition matrix
func (m *Model) StationaryDistribution() map[RegimeType]float64 {
	return Stationary(m.transitionMatrix)
}

// Stationary computes the stationary distribution of matrix (Regimes order)
func Stationary(matrix [][]float64) map[RegimeType]float64 {
	n := len(Regimes)
	pi := make([]float64, n)
	for i := range pi {
		pi[i] = 1 / float64(n)
	}

	for iter := 0; iter < 10000; iter++ {
		next := make([]float64, n)
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				next[j] += pi[i] * matrix[i][j]
			}
		}
		delta := 0.0
		for i := range next {
			delta += math.Abs(next[i] - pi[i])
		}
		pi = next
		if delta < 1e-13 {
			break
		}
	}

	out := make(map[RegimeType]float64, n)
	for i, r := range Regimes {
		out[r] = pi[i]
	}
	return out
}

func indexOf(r RegimeType) int {
	for i, candidate := range Regimes {
		if candidate == r {
			return i
		}
	}
	return len(Regimes) - 1 // neutral
}

func validateMatrix(matrix [][]float64) error {
	n := len(Regimes)
	if len(matrix) != n {
		return fmt.Errorf("expected %d rows, got %d", n, len(matrix))
	}
	for i, row := range matrix {
		if len(row) != n {
			return fmt.Errorf("row %d: expected %d columns, got %d", i, n, len(row))
		}
		sum := 0.0
		for _, p := range row {
			if p < 0 || math.IsNaN(p) {
				return fmt.Errorf("row %d: invalid probability %v", i, p)
			}
			sum += p
		}
		if math.Abs(sum-1) > 1e-9 {
			return fmt.Errorf("row %d sums to %v", i, sum)
		}
	}
	return nil
}
