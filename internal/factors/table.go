package factors

import "github.com/atlas-desktop/btc-montecarlo/pkg/types"

// Event factor names
const (
	Halving    = "Scarcity Halving"
	BlackSwan  = "Black Swan"
	halvingGap = 4.0 // years between halvings
	swanGap    = 8.0 // expected years between black swans
)

type annualFactor struct {
	name      string
	group     types.FactorGroup
	magnitude float64 // annual log-return
}

var bullish = []annualFactor{
	{"Institutional Demand", types.FactorBullish, 0.040},
	{"Country Adoption", types.FactorBullish, 0.030},
	{"Regulatory Clarity", types.FactorBullish, 0.020},
	{"ETF Approval", types.FactorBullish, 0.030},
	{"Tech Breakthroughs", types.FactorBullish, 0.020},
	{Halving, types.FactorBullish, 0},
	{"Macro Hedge", types.FactorBullish, 0.020},
	{"Stablecoin Shift", types.FactorBullish, 0.010},
	{"Demographic Adoption", types.FactorBullish, 0.020},
	{"Altcoin Flight", types.FactorBullish, 0.010},
	{"Adoption Factor", types.FactorBullish, 0.030},
}

var bearish = []annualFactor{
	{"Regulatory Clampdown", types.FactorBearish, -0.030},
	{"Competitor Coin", types.FactorBearish, -0.020},
	{"Security Breach", types.FactorBearish, -0.020},
	{"Bubble Pop", types.FactorBearish, -0.030},
	{"Stablecoin Meltdown", types.FactorBearish, -0.020},
	{BlackSwan, types.FactorBearish, 0},
	{"Bear Market Conditions", types.FactorBearish, -0.020},
	{"Maturing Market", types.FactorBearish, -0.020},
	{"Recession", types.FactorBearish, -0.020},
	{"Energy Policy", types.FactorBearish, -0.010},
}

// DefaultTable returns the 21-factor table for unit, bullish first, all enabled.
// Additive magnitudes are per step; event probabilities are per step.
func DefaultTable(unit types.PeriodUnit) []types.FactorDefinition {
	ppy := float64(unit.PeriodsPerYear())
	table := make([]types.FactorDefinition, 0, len(bullish)+len(bearish))

	for _, group := range [][]annualFactor{bullish, bearish} {
		for _, f := range group {
			def := types.FactorDefinition{
				Name:      f.name,
				Group:     f.group,
				Kind:      types.FactorAdditive,
				Enabled:   true,
				Magnitude: f.magnitude / ppy,
			}
			switch f.name {
			case Halving:
				def.Kind = types.FactorEvent
				def.Magnitude = 0.25
				def.HistoricalBump = 0.20
				def.Probability = 1 / (halvingGap * ppy)
				def.Multiplier = 1
				def.StressMultiplier = 1.5
			case BlackSwan:
				def.Kind = types.FactorEvent
				def.Magnitude = -0.40
				def.Probability = 1 / (swanGap * ppy)
				def.Multiplier = 1
				def.StressMultiplier = 2.0
			}
			table = append(table, def)
		}
	}
	return table
}

// Disabled returns a copy of table with every factor switched off
func Disabled(table []types.FactorDefinition) []types.FactorDefinition {
	out := make([]types.FactorDefinition, len(table))
	for i, f := range table {
		f.Enabled = false
		out[i] = f
	}
	return out
}
