package montecarlo

import (
	"math"
	"sort"

	"github.com/atlas-desktop/btc-montecarlo/pkg/types"
)

// SortByFinalPrice returns a copy of runs ordered by final-step USD price,
// ascending. Ties keep iteration order.
func SortByFinalPrice(runs []types.Run) []types.Run {
	sorted := make([]types.Run, len(runs))
	copy(sorted, runs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Final().PriceUSD < sorted[j].Final().PriceUSD
	})
	return sorted
}

// PercentileIndices returns the positions of the 10th percentile, median and
// 90th percentile runs in a list of n sorted runs. No interpolation.
func PercentileIndices(n int) (p10, median, p90 int) {
	if n <= 0 {
		return -1, -1, -1
	}
	last := float64(n - 1)
	return int(math.Floor(0.10 * last)), n / 2, int(math.Floor(0.90 * last))
}

// SelectPercentiles picks the representative runs by final price
func SelectPercentiles(runs []types.Run) (p10, median, p90 *types.Run) {
	if len(runs) == 0 {
		return nil, nil, nil
	}
	sorted := SortByFinalPrice(runs)
	i10, i50, i90 := PercentileIndices(len(sorted))
	return &sorted[i10], &sorted[i50], &sorted[i90]
}

// recordFields lists the numeric fields the median series is built from
var recordFields = []struct {
	get func(*types.StepRecord) float64
	set func(*types.StepRecord, float64)
}{
	{func(r *types.StepRecord) float64 { return r.StartingBTC }, func(r *types.StepRecord, v float64) { r.StartingBTC = v }},
	{func(r *types.StepRecord) float64 { return r.NetBTCHoldings }, func(r *types.StepRecord, v float64) { r.NetBTCHoldings = v }},
	{func(r *types.StepRecord) float64 { return r.PriceUSD }, func(r *types.StepRecord, v float64) { r.PriceUSD = v }},
	{func(r *types.StepRecord) float64 { return r.PriceEUR }, func(r *types.StepRecord, v float64) { r.PriceEUR = v }},
	{func(r *types.StepRecord) float64 { return r.PortfolioValueUSD }, func(r *types.StepRecord, v float64) { r.PortfolioValueUSD = v }},
	{func(r *types.StepRecord) float64 { return r.PortfolioValueEUR }, func(r *types.StepRecord, v float64) { r.PortfolioValueEUR = v }},
	{func(r *types.StepRecord) float64 { return r.ContributionUSD }, func(r *types.StepRecord, v float64) { r.ContributionUSD = v }},
	{func(r *types.StepRecord) float64 { return r.TransactionFeeUSD }, func(r *types.StepRecord, v float64) { r.TransactionFeeUSD = v }},
	{func(r *types.StepRecord) float64 { return r.NetContributionBTC }, func(r *types.StepRecord, v float64) { r.NetContributionBTC = v }},
	{func(r *types.StepRecord) float64 { return r.WithdrawalUSD }, func(r *types.StepRecord, v float64) { r.WithdrawalUSD = v }},
}

// MedianSeries returns, for every step index, the cross-run median of each
// record field. Even run counts average the two middle values.
func MedianSeries(runs []types.Run) []types.StepRecord {
	if len(runs) == 0 {
		return []types.StepRecord{}
	}

	steps := len(runs[0].Steps)
	for _, r := range runs[1:] {
		if len(r.Steps) < steps {
			steps = len(r.Steps)
		}
	}

	series := make([]types.StepRecord, steps)
	column := make([]float64, len(runs))
	for i := 0; i < steps; i++ {
		rec := types.StepRecord{Period: runs[0].Steps[i].Period}
		for _, f := range recordFields {
			for j := range runs {
				column[j] = f.get(&runs[j].Steps[i])
			}
			f.set(&rec, median(column))
		}
		rec.Sanitize()
		series[i] = rec
	}
	return series
}

// median sorts values in place
func median(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	sort.Float64s(values)
	if n%2 == 1 {
		return values[n/2]
	}
	return (values[n/2-1] + values[n/2]) / 2
}
