// Package main provides the entry point for the BTC Monte Carlo projection service.
// It serves simulation jobs over HTTP, streams their progress over WebSocket
// and exposes Prometheus metrics.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/atlas-desktop/btc-montecarlo/internal/api"
	"github.com/atlas-desktop/btc-montecarlo/internal/config"
	"github.com/atlas-desktop/btc-montecarlo/internal/data"
	"github.com/atlas-desktop/btc-montecarlo/internal/metrics"
	"github.com/atlas-desktop/btc-montecarlo/internal/montecarlo"
	"github.com/atlas-desktop/btc-montecarlo/internal/workers"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	// Parse command line flags; set flags override the config file and environment
	configPath := flag.String("config", "", "Path to config.yaml")
	host := flag.String("host", "", "Server host")
	port := flag.Int("port", 0, "Server port")
	dataDir := flag.String("data", "", "Data directory")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dataDir != "" {
		cfg.Data.Dir = *dataDir
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	logger := setupLogger(cfg.Logging.Level)
	defer logger.Sync()

	logger.Info("Starting BTC Monte Carlo service",
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.String("dataDir", cfg.Data.Dir),
		zap.Int("workers", cfg.Jobs.Workers),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Historical inputs
	dataStore, err := data.NewStore(logger, cfg.Data.Dir)
	if err != nil {
		logger.Fatal("Failed to initialize data store", zap.Error(err))
	}
	returns, err := dataStore.HistoricalReturns()
	if err != nil {
		logger.Fatal("Failed to load historical returns", zap.Error(err))
	}
	stress, err := dataStore.StressSeries()
	if err != nil {
		logger.Fatal("Failed to load stress series", zap.Error(err))
	}
	logger.Info("Historical data loaded",
		zap.Strings("series", dataStore.AvailableSeries()),
		zap.Int("btcWeekly", len(returns.BTCWeekly)),
		zap.Int("btcMonthly", len(returns.BTCMonthly)),
		zap.Int("stressPoints", stress.Len()),
	)

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.New(registry)

	simulator := montecarlo.NewSimulator(logger, returns, stress, montecarlo.WithObserver(recorder))

	pool := workers.NewPool(logger, &workers.PoolConfig{
		Name:            "simulations",
		NumWorkers:      cfg.Jobs.Workers,
		QueueSize:       cfg.Jobs.QueueSize,
		TaskTimeout:     cfg.Jobs.JobTimeout,
		ShutdownTimeout: 30 * time.Second,
		PanicRecovery:   true,
	})
	pool.Start()

	jobs := workers.NewJobManager(logger, pool, simulator, cfg.Jobs.Retention)
	jobs.SetObserver(recorder)
	go jobs.RunJanitor(ctx, time.Minute)

	server := api.NewServer(logger, &cfg.Server, jobs, cfg.Simulation,
		api.WithMetricsHandler(recorder.Handler()),
		api.WithLimits(api.Limits{
			MaxIterations: cfg.Jobs.MaxIterations,
			MaxHorizon:    cfg.Jobs.MaxHorizon,
		}),
	)

	// Setup signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Start server
	go func() {
		if err := server.Start(); err != nil {
			logger.Error("Server error", zap.Error(err))
			sigChan <- syscall.SIGTERM
		}
	}()

	logger.Info("Server started successfully",
		zap.String("ws", fmt.Sprintf("ws://%s:%d%s", cfg.Server.Host, cfg.Server.Port, cfg.Server.WebSocketPath)),
		zap.String("http", fmt.Sprintf("http://%s:%d/api/v1", cfg.Server.Host, cfg.Server.Port)),
		zap.Bool("metrics", cfg.Server.EnableMetrics),
	)

	// Wait for shutdown signal
	<-sigChan
	logger.Info("Shutdown signal received")

	cancel()
	jobs.CancelAll()

	// Graceful server shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("Error during server shutdown", zap.Error(err))
	}
	if err := pool.Stop(); err != nil {
		logger.Error("Error stopping worker pool", zap.Error(err))
	}

	logger.Info("Server stopped")
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := config.Build()
	if err != nil {
		panic(err)
	}

	return logger
}
