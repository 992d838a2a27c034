package montecarlo

import (
	"math"

	"github.com/atlas-desktop/btc-montecarlo/internal/regime"
	"github.com/atlas-desktop/btc-montecarlo/internal/rng"
	"github.com/atlas-desktop/btc-montecarlo/internal/volatility"
	"github.com/atlas-desktop/btc-montecarlo/pkg/types"
)

// runPath simulates one iteration over the configured horizon. Weekly and
// monthly runs share this code and differ only through s.ppy.
func (s *stepper) runPath(src *rng.Source, iteration int) types.Run {
	horizon := s.settings.Horizon

	st := &pathState{
		price:    s.floorPrice(s.settings.StartingPriceUSD),
		holdings: math.Max(0, types.Finite(s.settings.StartingHoldingsBTC)),
	}
	if s.settings.Toggles.GARCH {
		st.garch = volatility.NewGARCH(s.settings.GARCH, s.baseVol)
	}
	if s.settings.Toggles.RegimeSwitching {
		st.regime = regime.NewModel(s.regime)
	}

	steps := make([]types.StepRecord, 0, horizon)
	for period := 1; period <= horizon; period++ {
		steps = append(steps, s.step(src, st, period))
	}

	return types.Run{Iteration: iteration, Steps: steps}
}
