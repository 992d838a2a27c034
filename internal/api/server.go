// Package api provides the HTTP and WebSocket server.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/atlas-desktop/btc-montecarlo/internal/factors"
	"github.com/atlas-desktop/btc-montecarlo/internal/regime"
	"github.com/atlas-desktop/btc-montecarlo/internal/rng"
	"github.com/atlas-desktop/btc-montecarlo/internal/workers"
	"github.com/atlas-desktop/btc-montecarlo/pkg/types"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

// Limits caps the size of a single submitted simulation
type Limits struct {
	MaxIterations int
	MaxHorizon    int
}

// Server is the HTTP/WebSocket API server
type Server struct {
	mu         sync.RWMutex
	logger     *zap.Logger
	config     *types.ServerConfig
	router     *mux.Router
	handler    http.Handler
	httpServer *http.Server
	upgrader   websocket.Upgrader
	hub        *Hub
	stopHub    context.CancelFunc
	jobs       *workers.JobManager
	defaults   types.Settings
	limits     Limits
	metrics    http.Handler
}

// Option customises a Server
type Option func(*Server)

// WithMetricsHandler serves h at /metrics when metrics are enabled
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithLimits caps iterations and horizon per request. Zero means unlimited.
func WithLimits(l Limits) Option {
	return func(s *Server) { s.limits = l }
}

// NewServer creates a new API server. defaults are the settings a request
// starts from.
func NewServer(logger *zap.Logger, config *types.ServerConfig, jobs *workers.JobManager, defaults types.Settings, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	server := &Server{
		logger:   logger,
		config:   config,
		router:   mux.NewRouter(),
		hub:      NewHub(logger),
		jobs:     jobs,
		defaults: defaults.Clone(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // CORS is enforced on the HTTP routes
			},
		},
	}
	for _, opt := range opts {
		opt(server)
	}

	ctx, cancel := context.WithCancel(context.Background())
	server.stopHub = cancel
	go server.hub.Run(ctx)

	server.hub.SetCommandHandler(server.handleCommand)
	jobs.OnStatus(server.publishStatus)

	server.setupRoutes()
	server.handler = cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(server.router)

	return server
}

// setupRoutes configures HTTP routes
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/api/v1/health", s.handleHealth).Methods("GET")

	// Reference data
	s.router.HandleFunc("/api/v1/defaults", s.handleGetDefaults).Methods("GET")
	s.router.HandleFunc("/api/v1/factors", s.handleGetFactors).Methods("GET")
	s.router.HandleFunc("/api/v1/factors/trace", s.handleTraceFactors).Methods("GET")
	s.router.HandleFunc("/api/v1/regimes/stationary", s.handleGetStationary).Methods("GET")

	// Simulation jobs
	s.router.HandleFunc("/api/v1/simulations", s.handleListSimulations).Methods("GET")
	s.router.HandleFunc("/api/v1/simulations", s.handleRunSimulation).Methods("POST")
	s.router.HandleFunc("/api/v1/simulations/{id}", s.handleGetSimulation).Methods("GET")
	s.router.HandleFunc("/api/v1/simulations/{id}/cancel", s.handleCancelSimulation).Methods("POST")
	s.router.HandleFunc("/api/v1/simulations/{id}/median", s.handleGetMedianSeries).Methods("GET")
	s.router.HandleFunc("/api/v1/simulations/{id}/runs/{which}", s.handleGetRun).Methods("GET")

	if s.metrics != nil && s.config.EnableMetrics {
		s.router.Handle("/metrics", s.metrics).Methods("GET")
	}

	s.router.HandleFunc(s.config.WebSocketPath, s.handleWebSocket)
}

// Router returns the CORS-wrapped handler
func (s *Server) Router() http.Handler {
	return s.handler
}

// Hub returns the WebSocket hub
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.mu.Lock()
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	srv := s.httpServer
	s.mu.Unlock()

	s.logger.Info("Starting API server", zap.String("addr", addr))

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the server and disconnects WebSocket clients
func (s *Server) Stop(ctx context.Context) error {
	s.stopHub()

	s.mu.RLock()
	srv := s.httpServer
	s.mu.RUnlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"time":    time.Now().Unix(),
		"clients": s.hub.ClientCount(),
	})
}

// handleGetDefaults returns the settings a request starts from
func (s *Server) handleGetDefaults(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"settings": s.defaults,
	})
}

// handleGetFactors returns the default factor table for a period unit
func (s *Server) handleGetFactors(w http.ResponseWriter, r *http.Request) {
	query := FactorsQuery{Period: r.URL.Query().Get("period")}
	if errs := defaultAndValidate(r, &query); errs != nil {
		writeValidationErrors(w, errs)
		return
	}

	unit := types.PeriodUnit(query.Period)
	table := factors.DefaultTable(unit)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"period":         unit,
		"periodsPerYear": unit.PeriodsPerYear(),
		"factors":        table,
		"count":          len(table),
	})
}

// handleTraceFactors evaluates the default table once and returns each
// enabled factor's contribution with its trigger probability
func (s *Server) handleTraceFactors(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := FactorTraceQuery{Period: q.Get("period")}
	for _, bind := range []*ValidationError{
		bindIntQuery(q, "step", &query.Step),
		bindIntQuery(q, "covered", &query.Covered),
		bindFloatQuery(q, "stress", &query.Stress),
		bindIntQuery(q, "seed", &query.Seed),
	} {
		if bind != nil {
			writeValidationErrors(w, []ValidationError{*bind})
			return
		}
	}
	if errs := defaultAndValidate(r, &query); errs != nil {
		writeValidationErrors(w, errs)
		return
	}

	unit := types.PeriodUnit(query.Period)
	engine := factors.NewEngine(factors.DefaultTable(unit), factors.ConstantStress(*query.Stress), factors.DefaultConfig())
	covered := float64(*query.Covered)
	total, contributions := engine.ApplyDetailed(rng.NewSeeded(uint64(*query.Seed)), *query.Step, covered)

	probabilities := make(map[string]float64)
	for _, f := range engine.Table() {
		if f.Enabled && f.Kind == types.FactorEvent {
			probabilities[f.Name] = engine.WindowProbability(f, *query.Stress, covered)
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"period":        unit,
		"step":          *query.Step,
		"covered":       *query.Covered,
		"stress":        *query.Stress,
		"seed":          *query.Seed,
		"total":         total,
		"contributions": contributions,
		"probabilities": probabilities,
	})
}

// handleGetStationary returns the long-run regime distribution for a persistence
func (s *Server) handleGetStationary(w http.ResponseWriter, r *http.Request) {
	var query StationaryQuery
	if err := bindFloatQuery(r.URL.Query(), "persistence", &query.Persistence); err != nil {
		writeValidationErrors(w, []ValidationError{*err})
		return
	}
	if errs := defaultAndValidate(r, &query); errs != nil {
		writeValidationErrors(w, errs)
		return
	}

	matrix := regime.PersistenceMatrix(*query.Persistence)
	multipliers := make(map[regime.RegimeType]regime.Multipliers, len(regime.Regimes))
	for _, rt := range regime.Regimes {
		multipliers[rt] = regime.DefaultMultipliers[rt]
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"persistence": *query.Persistence,
		"matrix":      matrix,
		"stationary":  regime.Stationary(matrix),
		"multipliers": multipliers,
	})
}

// handleListSimulations lists tracked jobs, newest first
func (s *Server) handleListSimulations(w http.ResponseWriter, r *http.Request) {
	jobs := s.jobs.List()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"simulations": jobs,
		"count":       len(jobs),
	})
}

// handleRunSimulation queues a new simulation
func (s *Server) handleRunSimulation(w http.ResponseWriter, r *http.Request) {
	var req SimulationRequest
	if errs := readAndValidateRequest(r, &req); errs != nil {
		writeValidationErrors(w, errs)
		return
	}

	settings, err := req.Apply(s.defaults)
	if err != nil {
		writeValidationErrors(w, []ValidationError{{Code: "ERR_SETTINGS", Message: err.Error()}})
		return
	}
	if errs := s.checkLimits(settings); errs != nil {
		writeValidationErrors(w, errs)
		return
	}

	status, err := s.jobs.Submit(settings)
	if err != nil {
		s.logger.Warn("Failed to queue simulation", zap.Error(err))
		if errors.Is(err, workers.ErrQueueFull) {
			http.Error(w, "Simulation queue is full", http.StatusServiceUnavailable)
			return
		}
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"id":       status.ID,
		"status":   status.State,
		"created":  status.CreatedAt.Unix(),
		"channel":  SimulationChannel(status.ID),
		"settings": settings,
	})
}

func (s *Server) checkLimits(settings types.Settings) []ValidationError {
	var errs []ValidationError
	if s.limits.MaxIterations > 0 && settings.Iterations > s.limits.MaxIterations {
		errs = append(errs, ValidationError{
			Code:    "ERR_MAX",
			Field:   "iterations",
			Message: fmt.Sprintf("iterations must be at most %d", s.limits.MaxIterations),
			Params:  map[string]interface{}{"max": strconv.Itoa(s.limits.MaxIterations)},
		})
	}
	if s.limits.MaxHorizon > 0 && settings.Horizon > s.limits.MaxHorizon {
		errs = append(errs, ValidationError{
			Code:    "ERR_MAX",
			Field:   "horizon",
			Message: fmt.Sprintf("horizon must be at most %d", s.limits.MaxHorizon),
			Params:  map[string]interface{}{"max": strconv.Itoa(s.limits.MaxHorizon)},
		})
	}
	return errs
}

// handleGetSimulation returns job status and, once completed, the outcome summary
func (s *Server) handleGetSimulation(w http.ResponseWriter, r *http.Request) {
	status, result, ok := s.lookup(w, r)
	if !ok {
		return
	}

	response := map[string]interface{}{
		"id":       status.ID,
		"status":   status.State,
		"progress": status.Progress(),
		"job":      status,
	}

	if result != nil {
		response["seed"] = result.Seed
		response["iterations"] = result.Iterations
		response["period"] = result.Period
		response["summary"] = result.Summary
		finals := map[string]types.MoneyRow{}
		for name, run := range map[string]*types.Run{"p10": result.P10, "median": result.Median, "p90": result.P90} {
			if run != nil {
				finals[name] = types.NewMoneyRow(run.Final())
			}
		}
		response["final"] = finals
	}

	writeJSON(w, http.StatusOK, response)
}

// handleCancelSimulation cancels a queued or running simulation
func (s *Server) handleCancelSimulation(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	status, err := s.jobs.Cancel(id)
	switch {
	case errors.Is(err, workers.ErrJobNotFound):
		http.Error(w, "Simulation not found", http.StatusNotFound)
		return
	case errors.Is(err, workers.ErrJobFinished):
		http.Error(w, "Simulation not running", http.StatusConflict)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":     id,
		"status": status.State,
	})
}

// handleGetMedianSeries returns the step-wise cross-run median series
func (s *Server) handleGetMedianSeries(w http.ResponseWriter, r *http.Request) {
	_, result, ok := s.completed(w, r)
	if !ok {
		return
	}
	s.writeSteps(w, r, "median_series", result.MedianSeries)
}

// handleGetRun returns one run by percentile name or iteration index
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	_, result, ok := s.completed(w, r)
	if !ok {
		return
	}

	which := mux.Vars(r)["which"]
	var run *types.Run
	switch which {
	case "p10":
		run = result.P10
	case "median":
		run = result.Median
	case "p90":
		run = result.P90
	default:
		idx, err := strconv.Atoi(which)
		if err != nil || idx < 0 || idx >= len(result.Runs) {
			http.Error(w, "Run not found", http.StatusNotFound)
			return
		}
		run = &result.Runs[idx]
	}
	if run == nil {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}

	s.writeSteps(w, r, which, run.Steps)
}

func (s *Server) writeSteps(w http.ResponseWriter, r *http.Request, name string, steps []types.StepRecord) {
	var query RunsQuery
	q := r.URL.Query()
	if err := bindIntQuery(q, "offset", &query.Offset); err != nil {
		writeValidationErrors(w, []ValidationError{*err})
		return
	}
	if err := bindIntQuery(q, "limit", &query.Limit); err != nil {
		writeValidationErrors(w, []ValidationError{*err})
		return
	}
	if errs := defaultAndValidate(r, &query); errs != nil {
		writeValidationErrors(w, errs)
		return
	}

	from := *query.Offset
	if from > len(steps) {
		from = len(steps)
	}
	to := from + *query.Limit
	if to > len(steps) {
		to = len(steps)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":     mux.Vars(r)["id"],
		"run":    name,
		"total":  len(steps),
		"offset": from,
		"steps":  types.MoneyRows(steps[from:to]),
	})
}

// lookup resolves the {id} path variable, writing 404 when unknown
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (workers.JobStatus, *types.MonteCarloResult, bool) {
	status, result, err := s.jobs.Get(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "Simulation not found", http.StatusNotFound)
		return workers.JobStatus{}, nil, false
	}
	return status, result, true
}

// completed is lookup restricted to finished simulations
func (s *Server) completed(w http.ResponseWriter, r *http.Request) (workers.JobStatus, *types.MonteCarloResult, bool) {
	status, result, ok := s.lookup(w, r)
	if !ok {
		return status, nil, false
	}
	if status.State != workers.JobCompleted || result == nil {
		http.Error(w, "Simulation not complete", http.StatusConflict)
		return status, nil, false
	}
	return status, result, true
}

// handleWebSocket handles WebSocket connections
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.config.MaxConnections > 0 && s.hub.ClientCount() >= s.config.MaxConnections {
		http.Error(w, "Too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return
	}

	client := NewClient(uuid.New().String(), s.hub, conn)
	if !s.hub.Register(client) {
		conn.Close()
		return
	}
	s.logger.Info("WebSocket client connected", zap.String("id", client.id))

	go client.WritePump()
	go client.ReadPump()
}

// commandRequest is the payload of a WebSocket command
type commandRequest struct {
	Action string `json:"action"`
	ID     string `json:"id"`
}

// handleCommand answers WebSocket commands: status and cancel
func (s *Server) handleCommand(data json.RawMessage) (interface{}, error) {
	var cmd commandRequest
	if err := json.Unmarshal(data, &cmd); err != nil {
		return nil, fmt.Errorf("invalid command: %w", err)
	}

	switch cmd.Action {
	case "status":
		status, _, err := s.jobs.Get(cmd.ID)
		if err != nil {
			return nil, err
		}
		return status, nil
	case "cancel":
		return s.jobs.Cancel(cmd.ID)
	default:
		return nil, fmt.Errorf("unknown action %q", cmd.Action)
	}
}

// publishStatus streams job updates to subscribers
func (s *Server) publishStatus(status workers.JobStatus) {
	payload := map[string]interface{}{
		"job":      status,
		"progress": status.Progress(),
	}
	s.hub.PublishToChannel(ChannelSimulations, MsgTypeSimulationStatus, payload)
	s.hub.PublishToChannel(SimulationChannel(status.ID), MsgTypeSimulationStatus, payload)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeValidationErrors(w http.ResponseWriter, errs []ValidationError) {
	writeJSON(w, http.StatusBadRequest, map[string]interface{}{
		"errors": errs,
	})
}
