package api

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/atlas-desktop/btc-montecarlo/internal/factors"
	"github.com/atlas-desktop/btc-montecarlo/pkg/types"
)

// SimulationRequest overrides the server's default settings. Omitted fields
// keep their defaults.
type SimulationRequest struct {
	Iterations *int    `json:"iterations" validate:"omitempty,gte=0"`
	Horizon    *int    `json:"horizon" validate:"omitempty,gte=0"`
	Period     *string `json:"period" validate:"omitempty,oneof=weeks months"`
	Currency   *string `json:"currency" validate:"omitempty,oneof=USD EUR"`

	EURPerUSD           *float64 `json:"eurPerUsd" validate:"omitempty,gt=0"`
	StartingPriceUSD    *float64 `json:"startingPriceUsd" validate:"omitempty,gt=0"`
	StartingHoldingsBTC *float64 `json:"startingHoldingsBtc" validate:"omitempty,gte=0"`

	StartingBalance        *float64 `json:"startingBalance" validate:"omitempty,gte=0"`
	FirstYearContribution  *float64 `json:"firstYearContribution" validate:"omitempty,gte=0"`
	SubsequentContribution *float64 `json:"subsequentContribution" validate:"omitempty,gte=0"`
	FeePercent             *float64 `json:"feePercent" validate:"omitempty,gte=0,lt=100"`

	LowWithdrawalThreshold  *float64 `json:"lowWithdrawalThreshold" validate:"omitempty,gte=0"`
	LowWithdrawalAmount     *float64 `json:"lowWithdrawalAmount" validate:"omitempty,gte=0"`
	HighWithdrawalThreshold *float64 `json:"highWithdrawalThreshold" validate:"omitempty,gte=0"`
	HighWithdrawalAmount    *float64 `json:"highWithdrawalAmount" validate:"omitempty,gte=0"`

	CAGRPercent             *float64      `json:"cagrPercent" validate:"omitempty,gt=-100"`
	AnnualVolatilityPercent *float64      `json:"annualVolatilityPercent" validate:"omitempty,gte=0,lte=1000"`
	AutocorrelationStrength *float64      `json:"autocorrelationStrength" validate:"omitempty,gte=-1,lte=1"`
	MeanReversionTarget     *float64      `json:"meanReversionTarget"`
	GARCH                   *GARCHRequest `json:"garch"`
	RegimePersistence       *float64      `json:"regimePersistence" validate:"omitempty,gte=0,lte=1"`
	DampenScale             *float64      `json:"dampenScale" validate:"omitempty,gte=0"`
	PriceFloor              *float64      `json:"priceFloor" validate:"omitempty,gt=0"`

	Toggles *TogglesRequest  `json:"toggles"`
	Factors []FactorOverride `json:"factors" validate:"omitempty,dive"`
	Seed    *uint64          `json:"seed"`
}

// GARCHRequest overrides GARCH coefficients
type GARCHRequest struct {
	Omega *float64 `json:"omega" validate:"omitempty,gt=0"`
	Alpha *float64 `json:"alpha" validate:"omitempty,gte=0,lt=1"`
	Beta  *float64 `json:"beta" validate:"omitempty,gte=0,lt=1"`
}

// TogglesRequest overrides individual model toggles
type TogglesRequest struct {
	HistoricalSampling *bool `json:"historicalSampling"`
	ExtendedHistorical *bool `json:"extendedHistorical"`
	LognormalGrowth    *bool `json:"lognormalGrowth"`
	VolatilityShocks   *bool `json:"volatilityShocks"`
	GARCH              *bool `json:"garch"`
	Autocorrelation    *bool `json:"autocorrelation"`
	MeanReversion      *bool `json:"meanReversion"`
	RegimeSwitching    *bool `json:"regimeSwitching"`
	LockedSeed         *bool `json:"lockedSeed"`
}

// FactorOverride changes one entry of the factor table, matched by name
type FactorOverride struct {
	Name             string   `json:"name" validate:"required"`
	Enabled          *bool    `json:"enabled"`
	Magnitude        *float64 `json:"magnitude"`
	Probability      *float64 `json:"probability" validate:"omitempty,gte=0,lte=1"`
	Multiplier       *float64 `json:"multiplier" validate:"omitempty,gte=0"`
	StressMultiplier *float64 `json:"stressMultiplier" validate:"omitempty,gte=0"`
}

// Apply overlays the request on base. A period change swaps in the default
// factor table for the new period before factor overrides are applied.
func (req *SimulationRequest) Apply(base types.Settings) (types.Settings, error) {
	s := base.Clone()

	setInt(&s.Iterations, req.Iterations)
	setInt(&s.Horizon, req.Horizon)
	if req.Period != nil && types.PeriodUnit(*req.Period) != s.Period {
		s.Period = types.PeriodUnit(*req.Period)
		s.Factors = factors.DefaultTable(s.Period)
	}
	if req.Currency != nil {
		s.Currency = types.Currency(*req.Currency)
	}

	setFloat(&s.EURPerUSD, req.EURPerUSD)
	setFloat(&s.StartingPriceUSD, req.StartingPriceUSD)
	setFloat(&s.StartingHoldingsBTC, req.StartingHoldingsBTC)
	setFloat(&s.StartingBalance, req.StartingBalance)
	setFloat(&s.FirstYearContribution, req.FirstYearContribution)
	setFloat(&s.SubsequentContribution, req.SubsequentContribution)
	setFloat(&s.FeePercent, req.FeePercent)
	setFloat(&s.LowWithdrawalThreshold, req.LowWithdrawalThreshold)
	setFloat(&s.LowWithdrawalAmount, req.LowWithdrawalAmount)
	setFloat(&s.HighWithdrawalThreshold, req.HighWithdrawalThreshold)
	setFloat(&s.HighWithdrawalAmount, req.HighWithdrawalAmount)
	setFloat(&s.CAGRPercent, req.CAGRPercent)
	setFloat(&s.AnnualVolatilityPercent, req.AnnualVolatilityPercent)
	setFloat(&s.AutocorrelationStrength, req.AutocorrelationStrength)
	setFloat(&s.MeanReversionTarget, req.MeanReversionTarget)
	setFloat(&s.RegimePersistence, req.RegimePersistence)
	setFloat(&s.DampenScale, req.DampenScale)
	setFloat(&s.PriceFloor, req.PriceFloor)

	if g := req.GARCH; g != nil {
		setFloat(&s.GARCH.Omega, g.Omega)
		setFloat(&s.GARCH.Alpha, g.Alpha)
		setFloat(&s.GARCH.Beta, g.Beta)
	}

	if t := req.Toggles; t != nil {
		setBool(&s.Toggles.HistoricalSampling, t.HistoricalSampling)
		setBool(&s.Toggles.ExtendedHistorical, t.ExtendedHistorical)
		setBool(&s.Toggles.LognormalGrowth, t.LognormalGrowth)
		setBool(&s.Toggles.VolatilityShocks, t.VolatilityShocks)
		setBool(&s.Toggles.GARCH, t.GARCH)
		setBool(&s.Toggles.Autocorrelation, t.Autocorrelation)
		setBool(&s.Toggles.MeanReversion, t.MeanReversion)
		setBool(&s.Toggles.RegimeSwitching, t.RegimeSwitching)
		setBool(&s.Toggles.LockedSeed, t.LockedSeed)
	}

	if req.Seed != nil {
		s.Seed = *req.Seed
		// An explicit seed is only meaningful when locked
		if req.Toggles == nil || req.Toggles.LockedSeed == nil {
			s.Toggles.LockedSeed = true
		}
	}

	for _, o := range req.Factors {
		idx := -1
		for i := range s.Factors {
			if s.Factors[i].Name == o.Name {
				idx = i
				break
			}
		}
		if idx < 0 {
			return types.Settings{}, fmt.Errorf("unknown factor %q", o.Name)
		}
		f := &s.Factors[idx]
		setBool(&f.Enabled, o.Enabled)
		setFloat(&f.Magnitude, o.Magnitude)
		setFloat(&f.Probability, o.Probability)
		setFloat(&f.Multiplier, o.Multiplier)
		setFloat(&f.StressMultiplier, o.StressMultiplier)
	}

	if err := s.Validate(); err != nil {
		return types.Settings{}, err
	}
	return s, nil
}

// RunsQuery pages through the steps of a run or series
type RunsQuery struct {
	Offset *int `json:"offset" default:"0" validate:"gte=0"`
	Limit  *int `json:"limit" default:"1000" validate:"gte=1,lte=10000"`
}

// FactorsQuery selects the period unit of the default factor table
type FactorsQuery struct {
	Period string `json:"period" default:"weeks" validate:"oneof=weeks months"`
}

// FactorTraceQuery evaluates the default factor table for one step
type FactorTraceQuery struct {
	Period  string   `json:"period" default:"weeks" validate:"oneof=weeks months"`
	Step    *int     `json:"step" default:"1" validate:"gte=1"`
	Covered *int     `json:"covered" default:"1" validate:"gte=1,lte=52"`
	Stress  *float64 `json:"stress" default:"0" validate:"gte=0,lte=100"`
	Seed    *int     `json:"seed" default:"1" validate:"gte=0"`
}

// StationaryQuery selects the regime persistence
type StationaryQuery struct {
	Persistence *float64 `json:"persistence" default:"0.9" validate:"gte=0,lte=1"`
}

// bindIntQuery parses an optional integer query parameter; absent leaves dst nil
func bindIntQuery(q url.Values, name string, dst **int) *ValidationError {
	raw := q.Get(name)
	if raw == "" {
		return nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return &ValidationError{Code: "ERR_BIND", Field: name, Message: fmt.Sprintf("%s must be an integer", name)}
	}
	*dst = &v
	return nil
}

func bindFloatQuery(q url.Values, name string, dst **float64) *ValidationError {
	raw := q.Get(name)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return &ValidationError{Code: "ERR_BIND", Field: name, Message: fmt.Sprintf("%s must be a number", name)}
	}
	*dst = &v
	return nil
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setFloat(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}
