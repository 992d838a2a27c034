// Package types provides configuration types for the simulation engine.
package types

import (
	"fmt"
	"time"
)

// PeriodUnit is the length of one simulation step
type PeriodUnit string

const (
	PeriodWeeks  PeriodUnit = "weeks"
	PeriodMonths PeriodUnit = "months"
)

// PeriodsPerYear returns the number of steps in one year-equivalent
func (u PeriodUnit) PeriodsPerYear() int {
	if u == PeriodMonths {
		return 12
	}
	return 52
}

// Valid reports whether u is a known unit
func (u PeriodUnit) Valid() bool {
	return u == PeriodWeeks || u == PeriodMonths
}

// Currency is the currency contribution and withdrawal amounts are entered in
type Currency string

const (
	CurrencyUSD Currency = "USD"
	CurrencyEUR Currency = "EUR"
)

// FactorGroup splits factors into bullish and bearish
type FactorGroup string

const (
	FactorBullish FactorGroup = "bullish"
	FactorBearish FactorGroup = "bearish"
)

// FactorKind tags how a factor contributes to a step's return
type FactorKind string

const (
	FactorAdditive FactorKind = "additive" // magnitude added every step
	FactorEvent    FactorKind = "event"    // fires with a probability per step
)

// FactorDefinition is one entry of the factor table. Event fields are ignored
// for additive factors.
type FactorDefinition struct {
	Name      string      `json:"name" mapstructure:"name"`
	Group     FactorGroup `json:"group" mapstructure:"group"`
	Kind      FactorKind  `json:"kind" mapstructure:"kind"`
	Enabled   bool        `json:"enabled" mapstructure:"enabled"`
	Magnitude float64     `json:"magnitude" mapstructure:"magnitude"`

	Probability      float64 `json:"probability,omitempty" mapstructure:"probability"`
	HistoricalBump   float64 `json:"historicalBump,omitempty" mapstructure:"historical_bump"`
	Multiplier       float64 `json:"multiplier,omitempty" mapstructure:"multiplier"`
	StressMultiplier float64 `json:"stressMultiplier,omitempty" mapstructure:"stress_multiplier"`
}

// Toggles switches the individual return-model components on or off
type Toggles struct {
	HistoricalSampling bool `json:"historicalSampling" mapstructure:"historical_sampling"`
	ExtendedHistorical bool `json:"extendedHistorical" mapstructure:"extended_historical"`
	LognormalGrowth    bool `json:"lognormalGrowth" mapstructure:"lognormal_growth"`
	VolatilityShocks   bool `json:"volatilityShocks" mapstructure:"volatility_shocks"`
	GARCH              bool `json:"garch" mapstructure:"garch"`
	Autocorrelation    bool `json:"autocorrelation" mapstructure:"autocorrelation"`
	MeanReversion      bool `json:"meanReversion" mapstructure:"mean_reversion"`
	RegimeSwitching    bool `json:"regimeSwitching" mapstructure:"regime_switching"`
	LockedSeed         bool `json:"lockedSeed" mapstructure:"locked_seed"`
}

// GARCHParams holds the GARCH(1,1) coefficients
type GARCHParams struct {
	Omega float64 `json:"omega" mapstructure:"omega"`
	Alpha float64 `json:"alpha" mapstructure:"alpha"`
	Beta  float64 `json:"beta" mapstructure:"beta"`
}

// Settings is the immutable input of one orchestration call
type Settings struct {
	Iterations int        `json:"iterations" mapstructure:"iterations"`
	Horizon    int        `json:"horizon" mapstructure:"horizon"` // number of periods
	Period     PeriodUnit `json:"period" mapstructure:"period"`
	Currency   Currency   `json:"currency" mapstructure:"currency"`
	EURPerUSD  float64    `json:"eurPerUsd" mapstructure:"eur_per_usd"`

	StartingPriceUSD    float64 `json:"startingPriceUsd" mapstructure:"starting_price_usd"`
	StartingHoldingsBTC float64 `json:"startingHoldingsBtc" mapstructure:"starting_holdings_btc"`

	// Contribution schedule, in Currency
	StartingBalance        float64 `json:"startingBalance" mapstructure:"starting_balance"`
	FirstYearContribution  float64 `json:"firstYearContribution" mapstructure:"first_year_contribution"`
	SubsequentContribution float64 `json:"subsequentContribution" mapstructure:"subsequent_contribution"`
	FeePercent             float64 `json:"feePercent" mapstructure:"fee_percent"`

	// Withdrawal rule, in Currency
	LowWithdrawalThreshold  float64 `json:"lowWithdrawalThreshold" mapstructure:"low_withdrawal_threshold"`
	LowWithdrawalAmount     float64 `json:"lowWithdrawalAmount" mapstructure:"low_withdrawal_amount"`
	HighWithdrawalThreshold float64 `json:"highWithdrawalThreshold" mapstructure:"high_withdrawal_threshold"`
	HighWithdrawalAmount    float64 `json:"highWithdrawalAmount" mapstructure:"high_withdrawal_amount"`

	CAGRPercent             float64     `json:"cagrPercent" mapstructure:"cagr_percent"`
	AnnualVolatilityPercent float64     `json:"annualVolatilityPercent" mapstructure:"annual_volatility_percent"`
	AutocorrelationStrength float64     `json:"autocorrelationStrength" mapstructure:"autocorrelation_strength"`
	MeanReversionTarget     float64     `json:"meanReversionTarget" mapstructure:"mean_reversion_target"`
	GARCH                   GARCHParams `json:"garch" mapstructure:"garch"`
	RegimePersistence       float64     `json:"regimePersistence" mapstructure:"regime_persistence"`

	DampenScale float64 `json:"dampenScale" mapstructure:"dampen_scale"`
	PriceFloor  float64 `json:"priceFloor" mapstructure:"price_floor"`

	Toggles Toggles            `json:"toggles" mapstructure:"toggles"`
	Factors []FactorDefinition `json:"factors" mapstructure:"factors"`

	// Seed is only used when Toggles.LockedSeed is set
	Seed uint64 `json:"seed" mapstructure:"seed"`
}

// MinPriceFloor is used when Settings.PriceFloor is not positive
const MinPriceFloor = 1e-4

// Clone returns a deep copy so later edits by the caller cannot leak into a run
func (s Settings) Clone() Settings {
	c := s
	if s.Factors != nil {
		c.Factors = make([]FactorDefinition, len(s.Factors))
		copy(c.Factors, s.Factors)
	}
	return c
}

// PeriodsPerYear is shorthand for s.Period.PeriodsPerYear()
func (s Settings) PeriodsPerYear() int {
	return s.Period.PeriodsPerYear()
}

// Floor returns the effective price floor
func (s Settings) Floor() float64 {
	if s.PriceFloor > 0 {
		return s.PriceFloor
	}
	return MinPriceFloor
}

// ToUSD converts an amount entered in s.Currency to USD
func (s Settings) ToUSD(amount float64) float64 {
	if s.Currency == CurrencyEUR && s.EURPerUSD > 0 {
		return amount / s.EURPerUSD
	}
	return amount
}

// Lumpsum reports whether growth accrues only on year boundaries
func (s Settings) Lumpsum() bool {
	return !s.Toggles.HistoricalSampling && !s.Toggles.LognormalGrowth
}

// Validate checks the fields a run cannot degrade around. Iteration count and
// horizon are not checked here: the engine answers those with an empty result.
func (s Settings) Validate() error {
	if !s.Period.Valid() {
		return fmt.Errorf("period must be %q or %q, got %q", PeriodWeeks, PeriodMonths, s.Period)
	}
	if s.Currency != "" && s.Currency != CurrencyUSD && s.Currency != CurrencyEUR {
		return fmt.Errorf("currency must be USD or EUR, got %q", s.Currency)
	}
	if s.Toggles.GARCH && s.GARCH.Omega <= 0 {
		return fmt.Errorf("garch omega must be positive, got %v", s.GARCH.Omega)
	}
	if s.GARCH.Alpha < 0 || s.GARCH.Beta < 0 {
		return fmt.Errorf("garch alpha and beta must be non-negative")
	}
	if s.RegimePersistence < 0 || s.RegimePersistence > 1 {
		return fmt.Errorf("regime persistence must be within [0,1], got %v", s.RegimePersistence)
	}
	for i, f := range s.Factors {
		if f.Kind != FactorAdditive && f.Kind != FactorEvent {
			return fmt.Errorf("factor %d (%s): unknown kind %q", i, f.Name, f.Kind)
		}
		if f.Kind == FactorEvent && (f.Probability < 0 || f.Probability > 1) {
			return fmt.Errorf("factor %d (%s): probability must be within [0,1]", i, f.Name)
		}
	}
	return nil
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host           string        `json:"host" mapstructure:"host"`
	Port           int           `json:"port" mapstructure:"port"`
	WebSocketPath  string        `json:"websocketPath" mapstructure:"websocket_path"`
	ReadTimeout    time.Duration `json:"readTimeout" mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `json:"writeTimeout" mapstructure:"write_timeout"`
	MaxConnections int           `json:"maxConnections" mapstructure:"max_connections"`
	EnableMetrics  bool          `json:"enableMetrics" mapstructure:"enable_metrics"`
}
