// Package config loads service and simulation configuration with viper.
// Values come from, in increasing precedence: Go defaults, a YAML file and
// BTCMC_-prefixed environment variables (BTCMC_SERVER_PORT, BTCMC_SIMULATION_ITERATIONS, ...).
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/atlas-desktop/btc-montecarlo/internal/factors"
	"github.com/atlas-desktop/btc-montecarlo/internal/volatility"
	"github.com/atlas-desktop/btc-montecarlo/pkg/types"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override
const EnvPrefix = "BTCMC"

// Config is the root configuration
type Config struct {
	Server     types.ServerConfig `mapstructure:"server"`
	Logging    LoggingConfig      `mapstructure:"logging"`
	Data       DataConfig         `mapstructure:"data"`
	Jobs       JobsConfig         `mapstructure:"jobs"`
	Simulation types.Settings     `mapstructure:"simulation"`
}

// LoggingConfig selects the log level
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// DataConfig locates historical series on disk
type DataConfig struct {
	Dir string `mapstructure:"dir"`
}

// JobsConfig sizes the simulation job pool
type JobsConfig struct {
	Workers       int           `mapstructure:"workers"`
	QueueSize     int           `mapstructure:"queue_size"`
	JobTimeout    time.Duration `mapstructure:"job_timeout"`
	Retention     time.Duration `mapstructure:"retention"`
	MaxIterations int           `mapstructure:"max_iterations"`
	MaxHorizon    int           `mapstructure:"max_horizon"`
}

// DefaultServerConfig returns the default listener settings
func DefaultServerConfig() types.ServerConfig {
	return types.ServerConfig{
		Host:           "0.0.0.0",
		Port:           8080,
		WebSocketPath:  "/ws",
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   60 * time.Second,
		MaxConnections: 100,
		EnableMetrics:  true,
	}
}

// DefaultJobsConfig returns the default job pool sizing
func DefaultJobsConfig() JobsConfig {
	return JobsConfig{
		Workers:       2,
		QueueSize:     32,
		JobTimeout:    10 * time.Minute,
		Retention:     time.Hour,
		MaxIterations: 10000,
		MaxHorizon:    5200,
	}
}

// DefaultSettings returns a ten-year weekly projection with every stochastic
// component enabled and the default factor table
func DefaultSettings() types.Settings {
	return types.Settings{
		Iterations: 1000,
		Horizon:    520,
		Period:     types.PeriodWeeks,
		Currency:   types.CurrencyUSD,
		EURPerUSD:  0.92,

		StartingPriceUSD:    60000,
		StartingHoldingsBTC: 0,

		StartingBalance:        1000,
		FirstYearContribution:  100,
		SubsequentContribution: 50,
		FeePercent:             0.5,

		LowWithdrawalThreshold:  1000000,
		LowWithdrawalAmount:     2000,
		HighWithdrawalThreshold: 5000000,
		HighWithdrawalAmount:    10000,

		CAGRPercent:             40,
		AnnualVolatilityPercent: 60,
		AutocorrelationStrength: 0.1,
		MeanReversionTarget:     0,
		GARCH:                   types.GARCHParams{Omega: volatility.DefaultOmega, Alpha: volatility.DefaultAlpha, Beta: volatility.DefaultBeta},
		RegimePersistence:       0.9,

		DampenScale: 0.5,
		PriceFloor:  0.01,

		Toggles: types.Toggles{
			HistoricalSampling: true,
			LognormalGrowth:    true,
			VolatilityShocks:   true,
			GARCH:              true,
			Autocorrelation:    true,
			RegimeSwitching:    true,
		},
		Factors: factors.DefaultTable(types.PeriodWeeks),
	}
}

// Default returns the full default configuration
func Default() *Config {
	return &Config{
		Server:     DefaultServerConfig(),
		Logging:    LoggingConfig{Level: "info"},
		Data:       DataConfig{Dir: "./data"},
		Jobs:       DefaultJobsConfig(),
		Simulation: DefaultSettings(),
	}
}

// Load reads configuration. An empty path searches config.yaml in the working
// directory and ./config; a missing file there is not an error. An explicit
// path must exist.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// The default table is weekly; rescale it when only the period changed
	if !v.IsSet("simulation.factors") && cfg.Simulation.Period == types.PeriodMonths {
		cfg.Simulation.Factors = factors.DefaultTable(types.PeriodMonths)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the loaded configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Data.Dir == "" {
		return fmt.Errorf("data dir must be set")
	}
	if c.Jobs.Workers <= 0 {
		return fmt.Errorf("jobs workers must be positive, got %d", c.Jobs.Workers)
	}
	if c.Jobs.QueueSize <= 0 {
		return fmt.Errorf("jobs queue size must be positive, got %d", c.Jobs.QueueSize)
	}
	if err := c.Simulation.Validate(); err != nil {
		return fmt.Errorf("invalid simulation defaults: %w", err)
	}
	return nil
}

// setDefaults registers every scalar key so environment overrides reach Unmarshal
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.websocket_path", d.Server.WebSocketPath)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.max_connections", d.Server.MaxConnections)
	v.SetDefault("server.enable_metrics", d.Server.EnableMetrics)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("data.dir", d.Data.Dir)

	v.SetDefault("jobs.workers", d.Jobs.Workers)
	v.SetDefault("jobs.queue_size", d.Jobs.QueueSize)
	v.SetDefault("jobs.job_timeout", d.Jobs.JobTimeout)
	v.SetDefault("jobs.retention", d.Jobs.Retention)
	v.SetDefault("jobs.max_iterations", d.Jobs.MaxIterations)
	v.SetDefault("jobs.max_horizon", d.Jobs.MaxHorizon)

	s := d.Simulation
	v.SetDefault("simulation.iterations", s.Iterations)
	v.SetDefault("simulation.horizon", s.Horizon)
	v.SetDefault("simulation.period", string(s.Period))
	v.SetDefault("simulation.currency", string(s.Currency))
	v.SetDefault("simulation.eur_per_usd", s.EURPerUSD)
	v.SetDefault("simulation.starting_price_usd", s.StartingPriceUSD)
	v.SetDefault("simulation.starting_holdings_btc", s.StartingHoldingsBTC)
	v.SetDefault("simulation.starting_balance", s.StartingBalance)
	v.SetDefault("simulation.first_year_contribution", s.FirstYearContribution)
	v.SetDefault("simulation.subsequent_contribution", s.SubsequentContribution)
	v.SetDefault("simulation.fee_percent", s.FeePercent)
	v.SetDefault("simulation.low_withdrawal_threshold", s.LowWithdrawalThreshold)
	v.SetDefault("simulation.low_withdrawal_amount", s.LowWithdrawalAmount)
	v.SetDefault("simulation.high_withdrawal_threshold", s.HighWithdrawalThreshold)
	v.SetDefault("simulation.high_withdrawal_amount", s.HighWithdrawalAmount)
	v.SetDefault("simulation.cagr_percent", s.CAGRPercent)
	v.SetDefault("simulation.annual_volatility_percent", s.AnnualVolatilityPercent)
	v.SetDefault("simulation.autocorrelation_strength", s.AutocorrelationStrength)
	v.SetDefault("simulation.mean_reversion_target", s.MeanReversionTarget)
	v.SetDefault("simulation.garch.omega", s.GARCH.Omega)
	v.SetDefault("simulation.garch.alpha", s.GARCH.Alpha)
	v.SetDefault("simulation.garch.beta", s.GARCH.Beta)
	v.SetDefault("simulation.regime_persistence", s.RegimePersistence)
	v.SetDefault("simulation.dampen_scale", s.DampenScale)
	v.SetDefault("simulation.price_floor", s.PriceFloor)
	v.SetDefault("simulation.seed", s.Seed)

	t := s.Toggles
	v.SetDefault("simulation.toggles.historical_sampling", t.HistoricalSampling)
	v.SetDefault("simulation.toggles.extended_historical", t.ExtendedHistorical)
	v.SetDefault("simulation.toggles.lognormal_growth", t.LognormalGrowth)
	v.SetDefault("simulation.toggles.volatility_shocks", t.VolatilityShocks)
	v.SetDefault("simulation.toggles.garch", t.GARCH)
	v.SetDefault("simulation.toggles.autocorrelation", t.Autocorrelation)
	v.SetDefault("simulation.toggles.mean_reversion", t.MeanReversion)
	v.SetDefault("simulation.toggles.regime_switching", t.RegimeSwitching)
	v.SetDefault("simulation.toggles.locked_seed", t.LockedSeed)
}
