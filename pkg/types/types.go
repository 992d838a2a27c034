// Package types provides shared type definitions for the simulation engine.
package types

import (
	"math"

	"github.com/shopspring/decimal"
)

// StepRecord is the state of one simulated period
type StepRecord struct {
	Period             int     `json:"period"`
	StartingBTC        float64 `json:"startingBtc"`
	NetBTCHoldings     float64 `json:"netBtcHoldings"`
	PriceUSD           float64 `json:"priceUsd"`
	PriceEUR           float64 `json:"priceEur"`
	PortfolioValueUSD  float64 `json:"portfolioValueUsd"`
	PortfolioValueEUR  float64 `json:"portfolioValueEur"`
	ContributionUSD    float64 `json:"contributionUsd"`
	TransactionFeeUSD  float64 `json:"transactionFeeUsd"`
	NetContributionBTC float64 `json:"netContributionBtc"`
	WithdrawalUSD      float64 `json:"withdrawalUsd"`
}

// Finite returns v, or 0 when v is NaN or infinite
func Finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// Sanitize replaces every non-finite field with 0
func (r *StepRecord) Sanitize() {
	r.StartingBTC = Finite(r.StartingBTC)
	r.NetBTCHoldings = Finite(r.NetBTCHoldings)
	r.PriceUSD = Finite(r.PriceUSD)
	r.PriceEUR = Finite(r.PriceEUR)
	r.PortfolioValueUSD = Finite(r.PortfolioValueUSD)
	r.PortfolioValueEUR = Finite(r.PortfolioValueEUR)
	r.ContributionUSD = Finite(r.ContributionUSD)
	r.TransactionFeeUSD = Finite(r.TransactionFeeUSD)
	r.NetContributionBTC = Finite(r.NetContributionBTC)
	r.WithdrawalUSD = Finite(r.WithdrawalUSD)
}

// Run is one simulated trajectory
type Run struct {
	Iteration int          `json:"iteration"`
	Steps     []StepRecord `json:"steps"`
}

// Final returns the last step, or a zero record for an empty run
func (r Run) Final() StepRecord {
	if len(r.Steps) == 0 {
		return StepRecord{}
	}
	return r.Steps[len(r.Steps)-1]
}

// Distribution summarises a set of outcomes
type Distribution struct {
	Mean        float64            `json:"mean"`
	Median      float64            `json:"median"`
	StdDev      float64            `json:"stdDev"`
	Min         float64            `json:"min"`
	Max         float64            `json:"max"`
	Percentiles map[string]float64 `json:"percentiles"`
}

// Summary holds the final-step distributions of a Monte Carlo result
type Summary struct {
	FinalPriceUSD          *Distribution `json:"finalPriceUsd"`
	FinalPortfolioValueUSD *Distribution `json:"finalPortfolioValueUsd"`
	ProbabilityOfLoss      float64       `json:"probabilityOfLoss"` // final value below total contributed
}

// MonteCarloResult is the outcome of one orchestration call.
// Percentile runs are selected by final price.
type MonteCarloResult struct {
	Seed         uint64       `json:"seed"`
	Iterations   int          `json:"iterations"`
	Period       PeriodUnit   `json:"period"`
	Runs         []Run        `json:"runs"`
	P10          *Run         `json:"p10,omitempty"`
	Median       *Run         `json:"median,omitempty"`
	P90          *Run         `json:"p90,omitempty"`
	MedianSeries []StepRecord `json:"medianSeries"`
	Summary      *Summary     `json:"summary,omitempty"`
}

// Empty reports whether no runs were produced
func (r *MonteCarloResult) Empty() bool {
	return r == nil || len(r.Runs) == 0
}

// MoneyRow is a StepRecord rounded for display
type MoneyRow struct {
	Period             int             `json:"period"`
	StartingBTC        decimal.Decimal `json:"startingBtc"`
	NetContributionBTC decimal.Decimal `json:"netContributionBtc"`
	BTCHoldings        decimal.Decimal `json:"btcHoldings"`
	PriceUSD           decimal.Decimal `json:"priceUsd"`
	PriceEUR           decimal.Decimal `json:"priceEur"`
	PortfolioValueUSD  decimal.Decimal `json:"portfolioValueUsd"`
	PortfolioValueEUR  decimal.Decimal `json:"portfolioValueEur"`
	ContributionUSD    decimal.Decimal `json:"contributionUsd"`
	TransactionFeeUSD  decimal.Decimal `json:"transactionFeeUsd"`
	WithdrawalUSD      decimal.Decimal `json:"withdrawalUsd"`
}

// NewMoneyRow rounds fiat amounts to cents and BTC amounts to satoshis
func NewMoneyRow(r StepRecord) MoneyRow {
	fiat := func(v float64) decimal.Decimal { return decimal.NewFromFloat(Finite(v)).Round(2) }
	btc := func(v float64) decimal.Decimal { return decimal.NewFromFloat(Finite(v)).Round(8) }
	return MoneyRow{
		Period:             r.Period,
		StartingBTC:        btc(r.StartingBTC),
		NetContributionBTC: btc(r.NetContributionBTC),
		BTCHoldings:        btc(r.NetBTCHoldings),
		PriceUSD:           fiat(r.PriceUSD),
		PriceEUR:           fiat(r.PriceEUR),
		PortfolioValueUSD:  fiat(r.PortfolioValueUSD),
		PortfolioValueEUR:  fiat(r.PortfolioValueEUR),
		ContributionUSD:    fiat(r.ContributionUSD),
		TransactionFeeUSD:  fiat(r.TransactionFeeUSD),
		WithdrawalUSD:      fiat(r.WithdrawalUSD),
	}
}

// MoneyRows converts a whole series
func MoneyRows(steps []StepRecord) []MoneyRow {
	rows := make([]MoneyRow, len(steps))
	for i, s := range steps {
		rows[i] = NewMoneyRow(s)
	}
	return rows
}
