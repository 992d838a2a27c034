// Package volatility provides the GARCH(1,1) variance model used for
// per-step volatility shocks.
package volatility

import (
	"math"

	"github.com/atlas-desktop/btc-montecarlo/pkg/types"
)

// Default GARCH coefficients for weekly steps
const (
	DefaultOmega = 1e-5
	DefaultAlpha = 0.1
	DefaultBeta  = 0.85
)

// GARCH is the per-run variance state. A fresh value is built for every
// iteration; it is never shared.
type GARCH struct {
	Omega    float64
	Alpha    float64
	Beta     float64
	Variance float64
}

// NewGARCH starts the model at baseStdDev squared
func NewGARCH(p types.GARCHParams, baseStdDev float64) *GARCH {
	g := &GARCH{
		Omega:    p.Omega,
		Alpha:    math.Max(p.Alpha, 0),
		Beta:     math.Max(p.Beta, 0),
		Variance: baseStdDev * baseStdDev,
	}
	if g.Omega <= 0 {
		g.Omega = DefaultOmega
	}
	if !(g.Variance > 0) || math.IsInf(g.Variance, 0) {
		g.Variance = g.Omega
	}
	return g
}

// StdDev returns the current per-step volatility
func (g *GARCH) StdDev() float64 {
	return math.Sqrt(g.Variance)
}

// Update folds the last realised return into the variance estimate.
// Non-finite returns are ignored.
func (g *GARCH) Update(lastReturn float64) {
	if math.IsNaN(lastReturn) || math.IsInf(lastReturn, 0) {
		return
	}
	v := g.Omega + g.Alpha*lastReturn*lastReturn + g.Beta*g.Variance
	if !(v > 0) || math.IsInf(v, 0) {
		v = g.Omega
	}
	g.Variance = v
}

// PerStepVolatility converts an annualised volatility to one step of unit
func PerStepVolatility(annual float64, unit types.PeriodUnit) float64 {
	return annual / math.Sqrt(float64(unit.PeriodsPerYear()))
}
