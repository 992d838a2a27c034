// Package config_test provides tests for configuration loading.
package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/atlas-desktop/btc-montecarlo/internal/config"
	"github.com/atlas-desktop/btc-montecarlo/internal/factors"
	"github.com/atlas-desktop/btc-montecarlo/internal/volatility"
	"github.com/atlas-desktop/btc-montecarlo/pkg/types"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestDefaultsAreValid(t *testing.T) {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default config invalid: %v", err)
	}

	s := cfg.Simulation
	if s.Period != types.PeriodWeeks || s.Iterations <= 0 || s.Horizon <= 0 {
		t.Errorf("Unexpected simulation defaults: period=%s iterations=%d horizon=%d", s.Period, s.Iterations, s.Horizon)
	}
	if len(s.Factors) != len(factors.DefaultTable(types.PeriodWeeks)) {
		t.Errorf("Default settings should carry the default factor table")
	}
}

func TestDefaultGARCHCoefficients(t *testing.T) {
	g := config.DefaultSettings().GARCH
	if g.Omega != 1e-5 || g.Alpha != 0.1 || g.Beta != 0.85 {
		t.Errorf("Unexpected GARCH defaults: %+v", g)
	}
	if g.Omega != volatility.DefaultOmega {
		t.Errorf("Settings omega %v disagrees with the model fallback %v", g.Omega, volatility.DefaultOmega)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
  read_timeout: 5s
data:
  dir: /var/lib/btcmc
jobs:
  workers: 4
simulation:
  iterations: 250
  cagr_percent: 25
  garch:
    alpha: 0.05
  toggles:
    garch: false
    locked_seed: true
  seed: 42
`)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 5*time.Second {
		t.Errorf("Expected read timeout 5s, got %v", cfg.Server.ReadTimeout)
	}
	if cfg.Server.WebSocketPath != "/ws" {
		t.Errorf("Unset keys should keep defaults, got websocket path %q", cfg.Server.WebSocketPath)
	}
	if cfg.Data.Dir != "/var/lib/btcmc" || cfg.Jobs.Workers != 4 {
		t.Errorf("Unexpected data/jobs: %+v %+v", cfg.Data, cfg.Jobs)
	}

	s := cfg.Simulation
	if s.Iterations != 250 || s.CAGRPercent != 25 {
		t.Errorf("Unexpected simulation values: iterations=%d cagr=%v", s.Iterations, s.CAGRPercent)
	}
	if s.GARCH.Alpha != 0.05 || s.GARCH.Beta != 0.85 {
		t.Errorf("Unexpected garch params: %+v", s.GARCH)
	}
	if s.Toggles.GARCH || !s.Toggles.LockedSeed || !s.Toggles.HistoricalSampling {
		t.Errorf("Unexpected toggles: %+v", s.Toggles)
	}
	if s.Seed != 42 {
		t.Errorf("Expected seed 42, got %d", s.Seed)
	}
	if len(s.Factors) == 0 {
		t.Error("Factor table should default when not configured")
	}
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9090\n")
	t.Setenv("BTCMC_SERVER_PORT", "7070")
	t.Setenv("BTCMC_SIMULATION_HORIZON", "120")
	t.Setenv("BTCMC_SIMULATION_TOGGLES_REGIME_SWITCHING", "false")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("Env should override file, got port %d", cfg.Server.Port)
	}
	if cfg.Simulation.Horizon != 120 {
		t.Errorf("Expected horizon 120, got %d", cfg.Simulation.Horizon)
	}
	if cfg.Simulation.Toggles.RegimeSwitching {
		t.Error("Expected regime switching disabled by env")
	}
}

func TestLoadMonthlyRescalesFactorTable(t *testing.T) {
	path := writeConfig(t, "simulation:\n  period: months\n  horizon: 120\n")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	monthly := factors.DefaultTable(types.PeriodMonths)
	if len(cfg.Simulation.Factors) != len(monthly) {
		t.Fatalf("Expected %d factors, got %d", len(monthly), len(cfg.Simulation.Factors))
	}
	for i := range monthly {
		if cfg.Simulation.Factors[i] != monthly[i] {
			t.Errorf("Factor %d not rescaled to months: %+v", i, cfg.Simulation.Factors[i])
		}
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for missing explicit config file")
	}

	if _, err := config.Load(writeConfig(t, "server:\n  port: 0\n")); err == nil {
		t.Error("Expected validation error for port 0")
	}

	if _, err := config.Load(writeConfig(t, "simulation:\n  period: days\n")); err == nil {
		t.Error("Expected validation error for unknown period")
	}

	if _, err := config.Load(writeConfig(t, "jobs:\n  workers: -1\n")); err == nil {
		t.Error("Expected validation error for negative workers")
	}
}
