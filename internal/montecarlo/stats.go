package montecarlo

import (
	"fmt"
	"math"
	"sort"

	"github.com/atlas-desktop/btc-montecarlo/pkg/types"
)

// summaryLevels are the percentiles reported in a Distribution
var summaryLevels = []float64{0.05, 0.10, 0.25, 0.50, 0.75, 0.90, 0.95}

// calculateDistribution calculates distribution statistics
func calculateDistribution(values []float64) *types.Distribution {
	if len(values) == 0 {
		return &types.Distribution{Percentiles: map[string]float64{}}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	n := float64(len(sorted))
	sum := 0.0
	for _, v := range sorted {
		sum += v
	}
	mean := sum / n

	variance := 0.0
	for _, v := range sorted {
		diff := v - mean
		variance += diff * diff
	}
	variance /= n

	dist := &types.Distribution{
		Mean:        mean,
		Median:      median(append([]float64(nil), sorted...)),
		StdDev:      math.Sqrt(variance),
		Min:         sorted[0],
		Max:         sorted[len(sorted)-1],
		Percentiles: make(map[string]float64, len(summaryLevels)),
	}

	for _, p := range summaryLevels {
		idx := int(p * float64(len(sorted)-1))
		dist.Percentiles[fmt.Sprintf("p%d", int(math.Round(p*100)))] = sorted[idx]
	}

	return dist
}

// summarize builds the final-step distributions. A run counts as a loss when
// its final value plus withdrawals is below everything put in.
func summarize(runs []types.Run, settings types.Settings) *types.Summary {
	prices := make([]float64, len(runs))
	values := make([]float64, len(runs))

	initial := math.Max(0, settings.StartingHoldingsBTC) * settings.StartingPriceUSD
	losses := 0
	for i, run := range runs {
		final := run.Final()
		prices[i] = final.PriceUSD
		values[i] = final.PortfolioValueUSD

		invested, withdrawn := initial, 0.0
		for _, s := range run.Steps {
			invested += s.ContributionUSD
			withdrawn += s.WithdrawalUSD
		}
		if final.PortfolioValueUSD+withdrawn < invested {
			losses++
		}
	}

	summary := &types.Summary{
		FinalPriceUSD:          calculateDistribution(prices),
		FinalPortfolioValueUSD: calculateDistribution(values),
	}
	if len(runs) > 0 {
		summary.ProbabilityOfLoss = float64(losses) / float64(len(runs))
	}
	return summary
}
