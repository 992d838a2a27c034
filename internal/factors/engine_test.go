package factors_test

import (
	"math"
	"testing"

	"github.com/atlas-desktop/btc-montecarlo/internal/factors"
	"github.com/atlas-desktop/btc-montecarlo/internal/rng"
	"github.com/atlas-desktop/btc-montecarlo/internal/sampler"
	"github.com/atlas-desktop/btc-montecarlo/pkg/types"
)

type recordingStress struct {
	level   float64
	queried []int
}

func (r *recordingStress) Level(step int) float64 {
	r.queried = append(r.queried, step)
	return r.level
}

func event(name string, p, magnitude float64) types.FactorDefinition {
	return types.FactorDefinition{
		Name:        name,
		Kind:        types.FactorEvent,
		Enabled:     true,
		Magnitude:   magnitude,
		Probability: p,
		Multiplier:  1,
	}
}

func additive(name string, magnitude float64) types.FactorDefinition {
	return types.FactorDefinition{Name: name, Kind: types.FactorAdditive, Enabled: true, Magnitude: magnitude}
}

func TestDefaultTableShape(t *testing.T) {
	for _, unit := range []types.PeriodUnit{types.PeriodWeeks, types.PeriodMonths} {
		table := factors.DefaultTable(unit)
		if len(table) != 21 {
			t.Fatalf("%s: expected 21 factors, got %d", unit, len(table))
		}

		seenBearish := false
		events := map[string]bool{}
		for _, f := range table {
			if f.Group == types.FactorBearish {
				seenBearish = true
			} else if seenBearish {
				t.Errorf("%s: bullish factor %q listed after bearish ones", unit, f.Name)
			}
			if f.Kind == types.FactorEvent {
				events[f.Name] = true
			}
		}
		if !events[factors.Halving] || !events[factors.BlackSwan] {
			t.Errorf("%s: missing event factors, got %v", unit, events)
		}
	}
}

func TestAdditiveFactorsScaleWithPeriodsCovered(t *testing.T) {
	e := factors.NewEngine([]types.FactorDefinition{
		additive("a", 0.01),
		additive("b", -0.004),
	}, nil, factors.DefaultConfig())
	src := rng.NewSeeded(1)

	if got := e.Apply(src, 1, 1); math.Abs(got-0.006) > 1e-15 {
		t.Errorf("single period: got %v, expected 0.006", got)
	}
	if got := e.Apply(src, 52, 52); math.Abs(got-0.006*52) > 1e-12 {
		t.Errorf("year boundary: got %v, expected %v", got, 0.006*52)
	}
}

func TestDisabledFactorsConsumeNoDraws(t *testing.T) {
	stress := &recordingStress{level: 99}
	table := factors.Disabled([]types.FactorDefinition{
		event("swan", 1, -0.4),
		additive("drift", 0.5),
	})
	e := factors.NewEngine(table, stress, factors.DefaultConfig())

	a := rng.NewSeeded(4)
	b := rng.NewSeeded(4)
	if got := e.Apply(a, 3, 1); got != 0 {
		t.Errorf("disabled factors contributed %v", got)
	}
	if a.Uniform() != b.Uniform() {
		t.Error("disabled factors consumed a draw")
	}
	if len(stress.queried) != 0 {
		t.Errorf("disabled factors queried stress for steps %v", stress.queried)
	}
}

func TestEventDrawOrderContract(t *testing.T) {
	cfg := factors.DefaultConfig()
	table := []types.FactorDefinition{
		event("first", 0.5, 0.1),
		additive("drift", 0.001),
		event("second", 0.5, -0.2),
	}
	e := factors.NewEngine(table, factors.ConstantStress(0), cfg)

	for seed := uint64(0); seed < 50; seed++ {
		got := e.Apply(rng.NewSeeded(seed), 1, 1)

		ref := rng.NewSeeded(seed)
		expected := 0.001
		if ref.Uniform() < 0.5 {
			expected += sampler.Dampen(0.1, cfg.DampenScale)
		}
		if ref.Uniform() < 0.5 {
			expected += sampler.Dampen(-0.2, cfg.DampenScale)
		}
		if math.Abs(got-expected) > 1e-15 {
			t.Fatalf("seed %d: got %v, expected %v", seed, got, expected)
		}
	}
}

func TestEventCombinesHistoricalBumpAndMultiplier(t *testing.T) {
	f := event("halving", 1, 0.25)
	f.HistoricalBump = 0.2
	f.Multiplier = 2
	cfg := factors.Config{StressThreshold: 80, DampenScale: 0.5}
	e := factors.NewEngine([]types.FactorDefinition{f}, nil, cfg)

	got := e.Apply(rng.NewSeeded(1), 1, 1)
	expected := sampler.Dampen((0.25+0.2)*2, 0.5)
	if math.Abs(got-expected) > 1e-15 {
		t.Errorf("got %v, expected %v", got, expected)
	}
}

func TestStressRaisesTriggerProbability(t *testing.T) {
	f := event("swan", 0.1, -0.4)
	f.StressMultiplier = 2
	e := factors.NewEngine(nil, nil, factors.DefaultConfig())

	if p := e.TriggerProbability(f, 50); p != 0.1 {
		t.Errorf("calm: p = %v, expected 0.1", p)
	}
	if p := e.TriggerProbability(f, 80); p != 0.1 {
		t.Errorf("at threshold: p = %v, expected 0.1", p)
	}
	if p := e.TriggerProbability(f, 81); math.Abs(p-0.2) > 1e-15 {
		t.Errorf("stressed: p = %v, expected 0.2", p)
	}

	f.Probability = 0.8
	if p := e.TriggerProbability(f, 100); p != 1 {
		t.Errorf("probability not clamped: %v", p)
	}
}

func TestStressReadForEventStepOnly(t *testing.T) {
	stress := &recordingStress{}
	e := factors.NewEngine([]types.FactorDefinition{
		additive("drift", 0.01),
		event("swan", 0, -0.4),
	}, stress, factors.DefaultConfig())

	e.Apply(rng.NewSeeded(1), 7, 1)
	if len(stress.queried) != 1 || stress.queried[0] != 7 {
		t.Errorf("stress queried for %v, expected [7]", stress.queried)
	}
}

func TestApplyDetailedMatchesApply(t *testing.T) {
	table := factors.DefaultTable(types.PeriodWeeks)
	for i := range table {
		if table[i].Kind == types.FactorEvent {
			table[i].Probability = 0.5
		}
	}
	e := factors.NewEngine(table, factors.ConstantStress(90), factors.DefaultConfig())

	total := e.Apply(rng.NewSeeded(8), 2, 1)
	detailed, parts := e.ApplyDetailed(rng.NewSeeded(8), 2, 1)
	if total != detailed {
		t.Errorf("Apply %v != ApplyDetailed %v", total, detailed)
	}
	if len(parts) != 21 {
		t.Errorf("expected 21 contributions, got %d", len(parts))
	}
}

func TestEngineCopiesTable(t *testing.T) {
	table := []types.FactorDefinition{additive("drift", 0.01)}
	e := factors.NewEngine(table, nil, factors.DefaultConfig())
	table[0].Magnitude = 1

	if got := e.Apply(rng.NewSeeded(1), 1, 1); got != 0.01 {
		t.Errorf("engine observed caller mutation: %v", got)
	}
}

func TestWindowProbabilityCompoundsOverCoveredPeriods(t *testing.T) {
	f := event("halving", 1.0/208, 0.25)
	e := factors.NewEngine(nil, nil, factors.DefaultConfig())

	if p := e.WindowProbability(f, 0, 1); p != 1.0/208 {
		t.Errorf("single period: p = %v, expected %v", p, 1.0/208)
	}
	expected := 1 - math.Pow(1-1.0/208, 52)
	if p := e.WindowProbability(f, 0, 52); math.Abs(p-expected) > 1e-15 {
		t.Errorf("year window: p = %v, expected %v", p, expected)
	}

	f.Probability = 1
	if p := e.WindowProbability(f, 0, 52); p != 1 {
		t.Errorf("certain event: p = %v, expected 1", p)
	}
}

func TestYearBoundaryFireRateMatchesIncrementalSteps(t *testing.T) {
	const (
		trials = 20000
		ppy    = 52
		p      = 1.0 / 208
	)
	e := factors.NewEngine([]types.FactorDefinition{event("halving", p, 0.25)}, factors.ConstantStress(0), factors.DefaultConfig())

	src := rng.NewSeeded(7)
	yearly := 0
	for i := 0; i < trials; i++ {
		if _, parts := e.ApplyDetailed(src, ppy, ppy); parts[0].Fired {
			yearly++
		}
	}

	src = rng.NewSeeded(7)
	stepwise := 0
	for i := 0; i < trials; i++ {
		fired := false
		for k := 1; k <= ppy; k++ {
			if _, parts := e.ApplyDetailed(src, k, 1); parts[0].Fired {
				fired = true
			}
		}
		if fired {
			stepwise++
		}
	}

	expected := 1 - math.Pow(1-p, ppy)
	yearlyRate := float64(yearly) / trials
	stepRate := float64(stepwise) / trials
	if math.Abs(yearlyRate-expected) > 0.02 {
		t.Errorf("year boundary fire rate %v, expected about %v", yearlyRate, expected)
	}
	if math.Abs(stepRate-expected) > 0.02 {
		t.Errorf("per-step fire rate %v, expected about %v", stepRate, expected)
	}
	if math.Abs(yearlyRate-stepRate) > 0.03 {
		t.Errorf("year boundary rate %v diverges from per-step rate %v", yearlyRate, stepRate)
	}
}
