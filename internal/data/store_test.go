// Package data_test provides tests for the data store.
package data_test

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/atlas-desktop/btc-montecarlo/internal/data"
	"github.com/atlas-desktop/btc-montecarlo/internal/factors"
	"github.com/atlas-desktop/btc-montecarlo/pkg/types"
	"go.uber.org/zap"
)

var _ factors.StressSignal = (*data.StressSeries)(nil)

func TestStoreCreation(t *testing.T) {
	logger := zap.NewNop()
	dir := filepath.Join(t.TempDir(), "nested", "data")

	store, err := data.NewStore(logger, dir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	if store == nil {
		t.Fatal("Store is nil")
	}
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("Data directory not created: %v", err)
	}
}

func TestLoadSeriesParsesNumbersAndStrings(t *testing.T) {
	dir := t.TempDir()
	body := `[0.01, "-0.02", 0.035, "0.1"]`
	if err := os.WriteFile(filepath.Join(dir, "btc_weekly.json"), []byte(body), 0644); err != nil {
		t.Fatalf("Failed to write fixture: %v", err)
	}

	store, err := data.NewStore(zap.NewNop(), dir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	series, err := store.LoadSeries(data.SeriesBTCWeekly)
	if err != nil {
		t.Fatalf("LoadSeries failed: %v", err)
	}

	expected := []float64{0.01, -0.02, 0.035, 0.1}
	if len(series) != len(expected) {
		t.Fatalf("Expected %d values, got %d", len(expected), len(series))
	}
	for i := range expected {
		if math.Abs(series[i]-expected[i]) > 1e-12 {
			t.Errorf("Value %d: expected %v, got %v", i, expected[i], series[i])
		}
	}
}

func TestLoadSeriesDropsUnusableReturns(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "btc_monthly.json"), []byte(`[0.2, -1, -1.5, 0.05]`), 0644); err != nil {
		t.Fatalf("Failed to write fixture: %v", err)
	}

	store, err := data.NewStore(zap.NewNop(), dir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	series, err := store.LoadSeries(data.SeriesBTCMonthly)
	if err != nil {
		t.Fatalf("LoadSeries failed: %v", err)
	}
	if len(series) != 2 || series[0] != 0.2 || series[1] != 0.05 {
		t.Errorf("Expected [0.2 0.05], got %v", series)
	}
}

func TestLoadSeriesMissingFile(t *testing.T) {
	store, err := data.NewStore(zap.NewNop(), t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	series, err := store.LoadSeries(data.SeriesBenchmarkWeekly)
	if err != nil {
		t.Fatalf("Missing series should not error: %v", err)
	}
	if len(series) != 0 {
		t.Errorf("Expected empty series, got %d values", len(series))
	}
}

func TestLoadSeriesMalformed(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "stress.json"), []byte(`{"not": "a list"}`), 0644); err != nil {
		t.Fatalf("Failed to write fixture: %v", err)
	}

	store, err := data.NewStore(zap.NewNop(), dir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	if _, err := store.LoadSeries(data.SeriesStress); err == nil {
		t.Error("Expected parse error for malformed series")
	}
}

func TestLoadSeriesRejectsPaths(t *testing.T) {
	store, err := data.NewStore(zap.NewNop(), t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	for _, name := range []string{"", "metadata", "../etc/passwd", "a/b"} {
		if _, err := store.LoadSeries(name); !errors.Is(err, data.ErrInvalidSeriesName) {
			t.Errorf("LoadSeries(%q): expected ErrInvalidSeriesName, got %v", name, err)
		}
	}
}

func TestSaveAndReloadSeries(t *testing.T) {
	dir := t.TempDir()
	store, err := data.NewStore(zap.NewNop(), dir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	values := []float64{0.012, -0.034, 0.5}
	if err := store.SaveSeries(data.SeriesBTCWeekly, values); err != nil {
		t.Fatalf("SaveSeries failed: %v", err)
	}

	meta, ok := store.Metadata(data.SeriesBTCWeekly)
	if !ok || meta.Count != 3 {
		t.Errorf("Unexpected metadata: %+v (found=%v)", meta, ok)
	}

	// A fresh store must read the file and the metadata back
	reopened, err := data.NewStore(zap.NewNop(), dir)
	if err != nil {
		t.Fatalf("Failed to reopen store: %v", err)
	}
	names := reopened.AvailableSeries()
	if len(names) != 1 || names[0] != data.SeriesBTCWeekly {
		t.Errorf("Expected [%s], got %v", data.SeriesBTCWeekly, names)
	}

	series, err := reopened.LoadSeries(data.SeriesBTCWeekly)
	if err != nil {
		t.Fatalf("LoadSeries failed: %v", err)
	}
	for i := range values {
		if math.Abs(series[i]-values[i]) > 1e-12 {
			t.Errorf("Value %d: expected %v, got %v", i, values[i], series[i])
		}
	}
}

func TestCacheReturnsCopies(t *testing.T) {
	store, err := data.NewStore(zap.NewNop(), t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	if err := store.SaveSeries(data.SeriesBTCWeekly, []float64{0.1, 0.2}); err != nil {
		t.Fatalf("SaveSeries failed: %v", err)
	}

	first, _ := store.LoadSeries(data.SeriesBTCWeekly)
	first[0] = 99

	second, _ := store.LoadSeries(data.SeriesBTCWeekly)
	if second[0] != 0.1 {
		t.Errorf("Cached series mutated through returned slice: %v", second)
	}

	if store.CacheSize() != 1 {
		t.Errorf("Expected cache size 1, got %d", store.CacheSize())
	}
	store.ClearCache()
	if store.CacheSize() != 0 {
		t.Errorf("Expected empty cache, got %d", store.CacheSize())
	}
}

func TestHistoricalReturnsByUnit(t *testing.T) {
	store, err := data.NewStore(zap.NewNop(), t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	fixtures := map[string][]float64{
		data.SeriesBTCWeekly:        {0.01},
		data.SeriesBTCMonthly:       {0.02, 0.03},
		data.SeriesBenchmarkWeekly:  {0.004},
		data.SeriesBenchmarkMonthly: {0.006, 0.007, 0.008},
	}
	for name, values := range fixtures {
		if err := store.SaveSeries(name, values); err != nil {
			t.Fatalf("SaveSeries(%s) failed: %v", name, err)
		}
	}

	h, err := store.HistoricalReturns()
	if err != nil {
		t.Fatalf("HistoricalReturns failed: %v", err)
	}

	btc, bench := h.Returns(types.PeriodWeeks)
	if len(btc) != 1 || len(bench) != 1 {
		t.Errorf("Weekly: expected 1/1 values, got %d/%d", len(btc), len(bench))
	}
	btc, bench = h.Returns(types.PeriodMonths)
	if len(btc) != 2 || len(bench) != 3 {
		t.Errorf("Monthly: expected 2/3 values, got %d/%d", len(btc), len(bench))
	}

	var missing *data.HistoricalReturns
	if btc, bench := missing.Returns(types.PeriodWeeks); btc != nil || bench != nil {
		t.Error("Nil provider should return nil series")
	}
}

func TestStressSeriesClamping(t *testing.T) {
	s := data.NewStressSeries([]float64{-5, 50, 250, math.NaN()})

	tests := []struct {
		step     int
		expected float64
	}{
		{-3, 0},
		{0, 0},
		{1, 50},
		{2, 100},
		{3, 0},
		{4, 0},
		{1000, 0},
	}
	for _, tt := range tests {
		if got := s.Level(tt.step); got != tt.expected {
			t.Errorf("Level(%d): expected %v, got %v", tt.step, tt.expected, got)
		}
	}

	tail := data.NewStressSeries([]float64{10, 90})
	if got := tail.Level(50); got != 90 {
		t.Errorf("Past-the-end step should read last level, got %v", got)
	}

	empty := data.NewStressSeries(nil)
	if empty.Level(0) != 0 || empty.Len() != 0 {
		t.Error("Empty stress series should read 0")
	}
}

func TestStoreStressSeries(t *testing.T) {
	store, err := data.NewStore(zap.NewNop(), t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	if err := store.SaveSeries(data.SeriesStress, []float64{20, 85}); err != nil {
		t.Fatalf("SaveSeries failed: %v", err)
	}

	stress, err := store.StressSeries()
	if err != nil {
		t.Fatalf("StressSeries failed: %v", err)
	}
	if stress.Len() != 2 || stress.Level(1) != 85 {
		t.Errorf("Unexpected stress series: len=%d level(1)=%v", stress.Len(), stress.Level(1))
	}
}
