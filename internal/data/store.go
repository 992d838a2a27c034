// Package data provides historical return and stress series storage and loading.
package data

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Series names, one JSON file each in the data directory
const (
	SeriesBTCWeekly        = "btc_weekly"
	SeriesBTCMonthly       = "btc_monthly"
	SeriesBenchmarkWeekly  = "benchmark_weekly"
	SeriesBenchmarkMonthly = "benchmark_monthly"
	SeriesStress           = "stress"
)

// ErrInvalidSeriesName is returned for names that would escape the data directory
var ErrInvalidSeriesName = errors.New("invalid series name")

// Store provides access to historical series on disk
type Store struct {
	mu        sync.RWMutex
	logger    *zap.Logger
	dataDir   string
	validator *QualityValidator
	cache     map[string][]float64
	metadata  map[string]*SeriesMetadata
}

// SeriesMetadata describes a stored series
type SeriesMetadata struct {
	Name      string    `json:"name"`
	Count     int       `json:"count"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewStore creates a new data store
func NewStore(logger *zap.Logger, dataDir string) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	store := &Store{
		logger:    logger,
		dataDir:   dataDir,
		validator: NewQualityValidator(logger),
		cache:     make(map[string][]float64),
		metadata:  make(map[string]*SeriesMetadata),
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	if err := store.loadMetadata(); err != nil {
		logger.Warn("Failed to load metadata", zap.Error(err))
	}

	return store, nil
}

// LoadSeries loads a series by name. Values may be JSON numbers or decimal
// strings. A missing file yields an empty series and no error; entries the
// quality validator rejects are dropped.
func (s *Store) LoadSeries(name string) ([]float64, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if cached, ok := s.cache[name]; ok {
		return copySeries(cached), nil
	}

	raw, err := os.ReadFile(s.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Info("Series not found, using empty series", zap.String("series", name))
			s.cache[name] = []float64{}
			return []float64{}, nil
		}
		return nil, fmt.Errorf("failed to read series %s: %w", name, err)
	}

	var values []decimal.Decimal
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("failed to parse series %s: %w", name, err)
	}

	series := make([]float64, len(values))
	for i, v := range values {
		series[i] = v.InexactFloat64()
	}

	kind := KindReturns
	if name == SeriesStress {
		kind = KindStress
	}
	report := s.validator.Validate(series, name, kind)
	if len(report.Issues) > 0 {
		s.logger.Warn("Series has quality issues",
			zap.String("series", name),
			zap.Int("issues", len(report.Issues)),
			zap.Int("quality_score", report.QualityScore),
		)
	}
	series = s.validator.Clean(series, kind)

	s.cache[name] = series
	s.logger.Debug("Loaded series", zap.String("series", name), zap.Int("count", len(series)))

	return copySeries(series), nil
}

// SaveSeries writes a series to disk and refreshes the cache
func (s *Store) SaveSeries(name string, values []float64) error {
	if err := checkName(name); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]decimal.Decimal, len(values))
	for i, v := range values {
		out[i] = decimal.NewFromFloat(v)
	}
	raw, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal series: %w", err)
	}
	if err := os.WriteFile(s.path(name), raw, 0644); err != nil {
		return fmt.Errorf("failed to write series file: %w", err)
	}

	s.cache[name] = copySeries(values)
	s.metadata[name] = &SeriesMetadata{
		Name:      name,
		Count:     len(values),
		UpdatedAt: time.Now().UTC(),
	}

	if err := s.saveMetadata(); err != nil {
		s.logger.Warn("Failed to save metadata", zap.Error(err))
	}
	return nil
}

// HistoricalReturns loads all four return series
func (s *Store) HistoricalReturns() (*HistoricalReturns, error) {
	h := &HistoricalReturns{}
	targets := []struct {
		name string
		dst  *[]float64
	}{
		{SeriesBTCWeekly, &h.BTCWeekly},
		{SeriesBTCMonthly, &h.BTCMonthly},
		{SeriesBenchmarkWeekly, &h.BenchmarkWeekly},
		{SeriesBenchmarkMonthly, &h.BenchmarkMonthly},
	}
	for _, t := range targets {
		series, err := s.LoadSeries(t.name)
		if err != nil {
			return nil, err
		}
		*t.dst = series
	}
	return h, nil
}

// StressSeries loads the stress series
func (s *Store) StressSeries() (*StressSeries, error) {
	levels, err := s.LoadSeries(SeriesStress)
	if err != nil {
		return nil, err
	}
	return NewStressSeries(levels), nil
}

// AvailableSeries returns the names of series saved through this store
func (s *Store) AvailableSeries() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.metadata))
	for name := range s.metadata {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Metadata returns the metadata of a saved series
func (s *Store) Metadata(name string) (SeriesMetadata, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	meta, ok := s.metadata[name]
	if !ok {
		return SeriesMetadata{}, false
	}
	return *meta, true
}

// ClearCache clears the in-memory cache
func (s *Store) ClearCache() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache = make(map[string][]float64)
}

// CacheSize returns the number of cached series
func (s *Store) CacheSize() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.cache)
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dataDir, name+".json")
}

// loadMetadata loads series metadata from disk
func (s *Store) loadMetadata() error {
	raw, err := os.ReadFile(filepath.Join(s.dataDir, "metadata.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var metadata map[string]*SeriesMetadata
	if err := json.Unmarshal(raw, &metadata); err != nil {
		return err
	}
	if metadata != nil {
		s.metadata = metadata
	}
	return nil
}

// saveMetadata saves series metadata to disk
func (s *Store) saveMetadata() error {
	raw, err := json.MarshalIndent(s.metadata, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.dataDir, "metadata.json"), raw, 0644)
}

func checkName(name string) error {
	if name == "" || name == "metadata" || filepath.Base(name) != name {
		return fmt.Errorf("%w: %q", ErrInvalidSeriesName, name)
	}
	return nil
}

func copySeries(src []float64) []float64 {
	out := make([]float64, len(src))
	copy(out, src)
	return out
}
