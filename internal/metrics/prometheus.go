// Package metrics exposes simulation and job telemetry to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/atlas-desktop/btc-montecarlo/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder implements montecarlo.Observer using Prometheus
type Recorder struct {
	registry *prometheus.Registry

	simulations      *prometheus.CounterVec
	iterations       prometheus.Counter
	duration         prometheus.Histogram
	jobsQueued       prometheus.Gauge
	jobs             *prometheus.CounterVec
	finalPriceMedian prometheus.Gauge
}

// New creates a recorder registered on reg. A nil reg gets a fresh registry.
func New(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		simulations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "btcmc_simulations_total",
				Help: "Total number of Monte Carlo simulations by outcome",
			},
			[]string{"status"},
		),
		iterations: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "btcmc_iterations_total",
				Help: "Total number of simulated paths",
			},
		),
		duration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "btcmc_simulation_duration_seconds",
				Help:    "Wall time of one Monte Carlo simulation",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
			},
		),
		jobsQueued: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "btcmc_jobs_queued",
				Help: "Simulation jobs waiting for a worker",
			},
		),
		jobs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "btcmc_jobs_total",
				Help: "Simulation jobs by final state",
			},
			[]string{"state"},
		),
		finalPriceMedian: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "btcmc_final_price_median",
				Help: "Final USD price of the median run of the last completed simulation",
			},
		),
	}
}

// IterationCompleted counts one simulated path
func (r *Recorder) IterationCompleted() {
	r.iterations.Inc()
}

// SimulationFinished records the outcome of one orchestration call
func (r *Recorder) SimulationFinished(status string, elapsed time.Duration, result *types.MonteCarloResult) {
	r.simulations.WithLabelValues(status).Inc()
	r.duration.Observe(elapsed.Seconds())
	if !result.Empty() && result.Median != nil {
		r.finalPriceMedian.Set(result.Median.Final().PriceUSD)
	}
}

// JobQueued marks a job as waiting
func (r *Recorder) JobQueued() {
	r.jobsQueued.Inc()
}

// JobStarted marks a waiting job as picked up by a worker
func (r *Recorder) JobStarted() {
	r.jobsQueued.Dec()
}

// JobFinished counts a job by its final state
func (r *Recorder) JobFinished(state string) {
	r.jobs.WithLabelValues(state).Inc()
}

// Registry returns the registry the recorder writes to
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
