package montecarlo

import (
	"math"

	"github.com/atlas-desktop/btc-montecarlo/internal/factors"
	"github.com/atlas-desktop/btc-montecarlo/internal/regime"
	"github.com/atlas-desktop/btc-montecarlo/internal/rng"
	"github.com/atlas-desktop/btc-montecarlo/internal/sampler"
	"github.com/atlas-desktop/btc-montecarlo/internal/volatility"
	"github.com/atlas-desktop/btc-montecarlo/pkg/types"
)

// stepper holds everything a step reads but never writes. One stepper serves
// every iteration of an orchestration.
type stepper struct {
	settings types.Settings
	ppy      int
	lumpsum  bool

	sampler *sampler.Sampler
	factors *factors.Engine
	regime  *regime.RegimeConfig

	cagr      float64 // annual, as a fraction
	logGrowth float64 // ln(1+cagr) per step
	baseVol   float64 // static per-step volatility
}

// pathState is the running state of one iteration
type pathState struct {
	price      float64
	holdings   float64
	lastReturn float64
	garch      *volatility.GARCH
	regime     *regime.Model
}

func newStepper(settings types.Settings, smp *sampler.Sampler, eng *factors.Engine) *stepper {
	ppy := settings.PeriodsPerYear()
	cagr := settings.CAGRPercent / 100

	logGrowth := 0.0
	if cagr > -1 {
		logGrowth = math.Log1p(cagr) / float64(ppy)
	}

	rc := regime.DefaultRegimeConfig()
	if settings.RegimePersistence > 0 {
		rc.Persistence = settings.RegimePersistence
	}

	return &stepper{
		settings:  settings,
		ppy:       ppy,
		lumpsum:   settings.Lumpsum(),
		sampler:   smp,
		factors:   eng,
		regime:    rc,
		cagr:      cagr,
		logGrowth: logGrowth,
		baseVol:   volatility.PerStepVolatility(settings.AnnualVolatilityPercent/100, settings.Period),
	}
}

// step advances st by one period and returns its record.
//
// Draw order per step:
//  1. regime transition (1 draw)
//  2. historical sample (1 draw, none for an empty pool)
//  3. volatility shock (2 draws)
//  4. factor events, in table order (1 draw per enabled event)
//
// Lumpsum mode only draws 3 and 4 on year boundaries.
func (s *stepper) step(src *rng.Source, st *pathState, period int) types.StepRecord {
	toggles := s.settings.Toggles

	cagrMult, volMult := 1.0, 1.0
	if st.regime != nil {
		st.regime.Update(src)
		cagrMult = st.regime.CAGRMultiplier()
		volMult = st.regime.VolMultiplier()
	}

	vol := s.baseVol
	if st.garch != nil {
		vol = st.garch.StdDev()
	}
	vol *= volMult

	if s.lumpsum {
		if period%s.ppy == 0 {
			growth := s.cagr * cagrMult
			if toggles.VolatilityShocks {
				growth += src.Normal(0, vol*math.Sqrt(float64(s.ppy)))
			}
			if toggles.Autocorrelation || toggles.MeanReversion {
				growth = s.blend(growth, st.lastReturn)
			}
			growth += s.factors.Apply(src, period, float64(s.ppy))
			st.price *= 1 + growth
			st.lastReturn = types.Finite(growth)
		}
	} else {
		total := 0.0
		if toggles.HistoricalSampling {
			total += s.sampler.Sample(src, toggles.ExtendedHistorical)
		}
		if toggles.LognormalGrowth {
			total += s.logGrowth * cagrMult
		}
		if toggles.VolatilityShocks {
			total += src.Normal(0, vol)
		}
		if toggles.Autocorrelation || toggles.MeanReversion {
			total = s.blend(total, st.lastReturn)
		}
		total += s.factors.Apply(src, period, 1)

		st.price *= math.Exp(total)
		st.lastReturn = types.Finite(total)
		if st.garch != nil {
			st.garch.Update(total)
		}
	}

	st.price = s.floorPrice(st.price)
	return s.account(st, period)
}

// blend pulls raw toward the previous return, or toward the mean-reversion
// target when mean reversion is on. Either toggle enables it; both use
// AutocorrelationStrength as the pull.
func (s *stepper) blend(raw, previous float64) float64 {
	phi := s.settings.AutocorrelationStrength
	anchor := previous
	if s.settings.Toggles.MeanReversion {
		anchor = s.settings.MeanReversionTarget
	}
	return (1-phi)*raw + phi*anchor
}

func (s *stepper) floorPrice(p float64) float64 {
	floor := s.settings.Floor()
	if math.IsNaN(p) || math.IsInf(p, 0) || p < floor {
		return floor
	}
	return p
}

// contribution returns the scheduled amount for period, in USD
func (s *stepper) contribution(period int) float64 {
	var amount float64
	switch {
	case period == 1:
		amount = s.settings.StartingBalance
	case period <= s.ppy:
		amount = s.settings.FirstYearContribution
	default:
		amount = s.settings.SubsequentContribution
	}
	return s.settings.ToUSD(amount)
}

// withdrawal applies the two-tier threshold rule to the post-contribution value
func (s *stepper) withdrawal(value float64) float64 {
	cfg := s.settings
	var amount float64
	switch {
	case value > cfg.ToUSD(cfg.HighWithdrawalThreshold):
		amount = cfg.ToUSD(cfg.HighWithdrawalAmount)
	case value > cfg.ToUSD(cfg.LowWithdrawalThreshold):
		amount = cfg.ToUSD(cfg.LowWithdrawalAmount)
	}
	return math.Max(0, math.Min(amount, value))
}

func (s *stepper) account(st *pathState, period int) types.StepRecord {
	price := st.price
	before := st.holdings

	contribution := s.contribution(period)
	fee := contribution * s.settings.FeePercent / 100
	units := types.Finite((contribution - fee) / price)
	afterContribution := math.Max(0, before+units)

	withdrawal := s.withdrawal(afterContribution * price)
	withdrawnUnits := types.Finite(withdrawal / price)
	st.holdings = math.Max(0, afterContribution-withdrawnUnits)

	eur := s.settings.EURPerUSD
	value := st.holdings * price
	rec := types.StepRecord{
		Period:             period,
		StartingBTC:        before,
		NetBTCHoldings:     st.holdings,
		PriceUSD:           price,
		PriceEUR:           price * eur,
		PortfolioValueUSD:  value,
		PortfolioValueEUR:  value * eur,
		ContributionUSD:    contribution,
		TransactionFeeUSD:  fee,
		NetContributionBTC: units,
		WithdrawalUSD:      withdrawal,
	}
	rec.Sanitize()
	return rec
}
