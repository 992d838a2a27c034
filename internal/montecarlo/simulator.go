// Package montecarlo projects BTC price and portfolio trajectories by
// repeating a stochastic path simulation over one shared random stream.
// Iterations run sequentially: the stream must be consumed in a fixed order
// for a seed to reproduce a result.
package montecarlo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/atlas-desktop/btc-montecarlo/internal/factors"
	"github.com/atlas-desktop/btc-montecarlo/internal/rng"
	"github.com/atlas-desktop/btc-montecarlo/internal/sampler"
	"github.com/atlas-desktop/btc-montecarlo/pkg/types"
	"go.uber.org/zap"
)

// ErrCancelled is returned when the context is cancelled between iterations
var ErrCancelled = errors.New("simulation cancelled")

// ReturnsProvider supplies historical periodic returns per period unit
type ReturnsProvider interface {
	Returns(unit types.PeriodUnit) (btc, benchmark []float64)
}

// ProgressFunc is called once per completed iteration
type ProgressFunc func(completed, total int)

// Observer receives run telemetry
type Observer interface {
	IterationCompleted()
	SimulationFinished(status string, elapsed time.Duration, result *types.MonteCarloResult)
}

// Simulator orchestrates Monte Carlo runs
type Simulator struct {
	logger   *zap.Logger
	config   *SimulatorConfig
	returns  ReturnsProvider
	stress   factors.StressSignal
	observer Observer
}

// SimulatorConfig configures the simulator
type SimulatorConfig struct {
	StressThreshold float64 // Stress level above which event probabilities are boosted
}

// DefaultSimulatorConfig returns sensible defaults
func DefaultSimulatorConfig() *SimulatorConfig {
	return &SimulatorConfig{
		StressThreshold: factors.DefaultConfig().StressThreshold,
	}
}

// Option customises a Simulator
type Option func(*Simulator)

// WithConfig overrides the default config
func WithConfig(config *SimulatorConfig) Option {
	return func(s *Simulator) {
		if config != nil {
			s.config = config
		}
	}
}

// WithObserver attaches telemetry
func WithObserver(o Observer) Option {
	return func(s *Simulator) { s.observer = o }
}

// NewSimulator creates a new Monte Carlo simulator. Either provider may be nil:
// missing returns make the sampler yield 0, missing stress reads as 0.
func NewSimulator(logger *zap.Logger, returns ReturnsProvider, stress factors.StressSignal, opts ...Option) *Simulator {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Simulator{
		logger:  logger,
		config:  DefaultSimulatorConfig(),
		returns: returns,
		stress:  stress,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run executes settings.Iterations paths. Non-positive iterations or horizon
// yield an empty result and no error. Cancellation is checked after each
// completed iteration; a cancelled run returns ErrCancelled and no result.
func (s *Simulator) Run(ctx context.Context, settings types.Settings, progress ProgressFunc) (*types.MonteCarloResult, error) {
	cfg := settings.Clone()
	if !cfg.Period.Valid() {
		cfg.Period = types.PeriodWeeks
	}
	started := time.Now()

	if cfg.Iterations <= 0 || cfg.Horizon <= 0 {
		s.logger.Warn("nothing to simulate",
			zap.Int("iterations", cfg.Iterations),
			zap.Int("horizon", cfg.Horizon),
		)
		result := emptyResult(cfg)
		s.finished("empty", started, result)
		return result, nil
	}

	var seed *uint64
	if cfg.Toggles.LockedSeed {
		seed = &cfg.Seed
	}
	src := rng.New(seed)

	var btc, benchmark []float64
	if s.returns != nil {
		btc, benchmark = s.returns.Returns(cfg.Period)
	}
	engine := factors.NewEngine(cfg.Factors, s.stress, factors.Config{
		StressThreshold: s.config.StressThreshold,
		DampenScale:     cfg.DampenScale,
	})
	st := newStepper(cfg, sampler.New(btc, benchmark, cfg.DampenScale), engine)

	s.logger.Info("starting Monte Carlo simulation",
		zap.Int("iterations", cfg.Iterations),
		zap.Int("horizon", cfg.Horizon),
		zap.String("period", string(cfg.Period)),
		zap.Uint64("seed", src.Seed()),
		zap.Bool("locked_seed", cfg.Toggles.LockedSeed),
		zap.Bool("lumpsum", st.lumpsum),
	)

	runs := make([]types.Run, 0, cfg.Iterations)
	for i := 0; i < cfg.Iterations; i++ {
		runs = append(runs, st.runPath(src, i))

		if s.observer != nil {
			s.observer.IterationCompleted()
		}
		if progress != nil {
			progress(i+1, cfg.Iterations)
		}
		s.logger.Debug("iteration complete", zap.Int("iteration", i+1))

		if err := ctx.Err(); err != nil && i+1 < cfg.Iterations {
			s.logger.Info("Monte Carlo simulation cancelled",
				zap.Int("completed", i+1),
				zap.Int("iterations", cfg.Iterations),
			)
			s.finished("cancelled", started, nil)
			return nil, fmt.Errorf("%w after %d of %d iterations: %w", ErrCancelled, i+1, cfg.Iterations, err)
		}
	}

	result := &types.MonteCarloResult{
		Seed:         src.Seed(),
		Iterations:   cfg.Iterations,
		Period:       cfg.Period,
		Runs:         runs,
		MedianSeries: MedianSeries(runs),
		Summary:      summarize(runs, cfg),
	}
	result.P10, result.Median, result.P90 = SelectPercentiles(runs)

	s.logger.Info("Monte Carlo simulation complete",
		zap.Int("iterations", cfg.Iterations),
		zap.Float64("median_final_price", result.Median.Final().PriceUSD),
		zap.Float64("probability_of_loss", result.Summary.ProbabilityOfLoss),
		zap.Duration("elapsed", time.Since(started)),
	)
	s.finished("completed", started, result)

	return result, nil
}

func (s *Simulator) finished(status string, started time.Time, result *types.MonteCarloResult) {
	if s.observer != nil {
		s.observer.SimulationFinished(status, time.Since(started), result)
	}
}

func emptyResult(cfg types.Settings) *types.MonteCarloResult {
	return &types.MonteCarloResult{
		Iterations:   0,
		Period:       cfg.Period,
		Runs:         []types.Run{},
		MedianSeries: []types.StepRecord{},
	}
}
