// Package workers runs simulation jobs on a bounded goroutine pool.
// Each job is one sequential orchestration; the pool only runs independent
// jobs side by side.
package workers

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Task represents a unit of work to be processed. ctx is cancelled when the
// task times out or the pool stops.
type Task interface {
	Execute(ctx context.Context) error
}

// TaskFunc is a function that can be used as a Task
type TaskFunc func(ctx context.Context) error

func (f TaskFunc) Execute(ctx context.Context) error { return f(ctx) }

// Pool manages a pool of worker goroutines
type Pool struct {
	logger *zap.Logger
	config *PoolConfig

	// Worker management
	taskQueue chan Task
	wg        sync.WaitGroup

	// State
	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc

	metrics *PoolMetrics
}

// PoolConfig configures the worker pool
type PoolConfig struct {
	Name            string        // Pool name for logging
	NumWorkers      int           // Number of worker goroutines
	QueueSize       int           // Size of the task queue
	TaskTimeout     time.Duration // Timeout for individual tasks, 0 disables
	ShutdownTimeout time.Duration // Timeout for graceful shutdown
	PanicRecovery   bool          // Enable panic recovery in workers
}

// DefaultPoolConfig returns sensible defaults. Simulations are CPU bound, so
// one worker per CPU.
func DefaultPoolConfig(name string) *PoolConfig {
	return &PoolConfig{
		Name:            name,
		NumWorkers:      runtime.NumCPU(),
		QueueSize:       64,
		TaskTimeout:     10 * time.Minute,
		ShutdownTimeout: 10 * time.Second,
		PanicRecovery:   true,
	}
}

// PoolMetrics tracks pool performance
type PoolMetrics struct {
	mu sync.Mutex

	TasksSubmitted atomic.Int64
	TasksCompleted atomic.Int64
	TasksFailed    atomic.Int64
	TasksTimeout   atomic.Int64
	PanicRecovered atomic.Int64

	// Latency ring buffer
	latencies []time.Duration
	next      int
	filled    bool

	startTime time.Time
}

const latencyWindow = 1024

// NewPoolMetrics creates a new metrics tracker
func NewPoolMetrics() *PoolMetrics {
	return &PoolMetrics{
		latencies: make([]time.Duration, latencyWindow),
		startTime: time.Now(),
	}
}

// RecordLatency records task execution latency
func (m *PoolMetrics) RecordLatency(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.latencies[m.next] = d
	m.next = (m.next + 1) % len(m.latencies)
	if m.next == 0 {
		m.filled = true
	}
}

// P99Latency returns the 99th percentile latency over the recent window
func (m *PoolMetrics) P99Latency() time.Duration {
	m.mu.Lock()
	n := m.next
	if m.filled {
		n = len(m.latencies)
	}
	sorted := make([]time.Duration, n)
	copy(sorted, m.latencies[:n])
	m.mu.Unlock()

	if n == 0 {
		return 0
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := int(float64(n) * 0.99)
	if idx >= n {
		idx = n - 1
	}
	return sorted[idx]
}

// Stats returns current metrics
func (m *PoolMetrics) Stats() PoolStats {
	return PoolStats{
		TasksSubmitted: m.TasksSubmitted.Load(),
		TasksCompleted: m.TasksCompleted.Load(),
		TasksFailed:    m.TasksFailed.Load(),
		TasksTimeout:   m.TasksTimeout.Load(),
		PanicRecovered: m.PanicRecovered.Load(),
		P99Latency:     m.P99Latency(),
		Uptime:         time.Since(m.startTime),
	}
}

// PoolStats contains pool statistics
type PoolStats struct {
	TasksSubmitted int64         `json:"tasksSubmitted"`
	TasksCompleted int64         `json:"tasksCompleted"`
	TasksFailed    int64         `json:"tasksFailed"`
	TasksTimeout   int64         `json:"tasksTimeout"`
	PanicRecovered int64         `json:"panicRecovered"`
	P99Latency     time.Duration `json:"p99Latency"`
	Uptime         time.Duration `json:"uptime"`
}

// NewPool creates a new worker pool
func NewPool(logger *zap.Logger, config *PoolConfig) *Pool {
	if config == nil {
		config = DefaultPoolConfig("default")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.NumWorkers <= 0 {
		config.NumWorkers = 1
	}
	if config.QueueSize < 0 {
		config.QueueSize = 0
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		logger:    logger,
		config:    config,
		taskQueue: make(chan Task, config.QueueSize),
		ctx:       ctx,
		cancel:    cancel,
		metrics:   NewPoolMetrics(),
	}
}

// Start initializes and starts all workers
func (p *Pool) Start() {
	if p.running.Swap(true) {
		return // Already running
	}

	p.logger.Info("starting worker pool",
		zap.String("name", p.config.Name),
		zap.Int("workers", p.config.NumWorkers),
		zap.Int("queue_size", p.config.QueueSize),
	)

	for i := 0; i < p.config.NumWorkers; i++ {
		p.wg.Add(1)
		go p.run(p.logger.With(zap.Int("worker_id", i)))
	}
}

// run is the worker's main loop
func (p *Pool) run(logger *zap.Logger) {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case task := <-p.taskQueue:
			p.execute(logger, task)
		}
	}
}

// execute runs a single task with timeout and panic recovery
func (p *Pool) execute(logger *zap.Logger, task Task) {
	started := time.Now()

	ctx, cancel := p.ctx, context.CancelFunc(func() {})
	if p.config.TaskTimeout > 0 {
		ctx, cancel = context.WithTimeout(p.ctx, p.config.TaskTimeout)
	}
	defer cancel()

	err := p.invoke(ctx, logger, task)
	p.metrics.RecordLatency(time.Since(started))

	switch {
	case ctx.Err() == context.DeadlineExceeded:
		p.metrics.TasksTimeout.Add(1)
		logger.Warn("task timed out", zap.Duration("timeout", p.config.TaskTimeout))
	case err != nil:
		p.metrics.TasksFailed.Add(1)
		logger.Debug("task failed", zap.Error(err))
	default:
		p.metrics.TasksCompleted.Add(1)
	}
}

func (p *Pool) invoke(ctx context.Context, logger *zap.Logger, task Task) (err error) {
	if p.config.PanicRecovery {
		defer func() {
			if r := recover(); r != nil {
				p.metrics.PanicRecovered.Add(1)
				logger.Error("worker recovered from panic", zap.Any("panic", r))
				err = &PanicError{Recovered: r}
			}
		}()
	}
	return task.Execute(ctx)
}

// Submit adds a task to the queue without blocking
func (p *Pool) Submit(task Task) error {
	if !p.running.Load() {
		return ErrPoolStopped
	}

	select {
	case p.taskQueue <- task:
		p.metrics.TasksSubmitted.Add(1)
		return nil
	default:
		return ErrQueueFull
	}
}

// SubmitWait submits a task and waits for its completion
func (p *Pool) SubmitWait(task Task) error {
	done := make(chan error, 1)
	wrapper := TaskFunc(func(ctx context.Context) (err error) {
		defer func() {
			if r := recover(); r != nil {
				done <- &PanicError{Recovered: r}
				panic(r)
			}
			done <- err
		}()
		return task.Execute(ctx)
	})

	if err := p.Submit(wrapper); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-p.ctx.Done():
		return ErrPoolStopped
	}
}

// Stop cancels running tasks and waits for the workers to exit. Queued tasks
// that were never picked up are dropped.
func (p *Pool) Stop() error {
	if !p.running.Swap(false) {
		return nil // Already stopped
	}

	p.logger.Info("stopping worker pool", zap.String("name", p.config.Name))
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully", zap.String("name", p.config.Name))
		return nil
	case <-time.After(p.config.ShutdownTimeout):
		p.logger.Warn("worker pool shutdown timed out",
			zap.String("name", p.config.Name),
			zap.Duration("timeout", p.config.ShutdownTimeout),
		)
		return ErrShutdownTimeout
	}
}

// QueueLength returns the current number of queued tasks
func (p *Pool) QueueLength() int {
	return len(p.taskQueue)
}

// IsRunning returns whether the pool is running
func (p *Pool) IsRunning() bool {
	return p.running.Load()
}

// Stats returns current pool statistics
func (p *Pool) Stats() PoolStats {
	return p.metrics.Stats()
}

// Errors
var (
	ErrPoolStopped     = &PoolError{Message: "pool is stopped"}
	ErrQueueFull       = &PoolError{Message: "task queue is full"}
	ErrShutdownTimeout = &PoolError{Message: "shutdown timed out"}
)

// PoolError represents a pool error
type PoolError struct {
	Message string
}

func (e *PoolError) Error() string { return e.Message }

// PanicError represents a recovered panic
type PanicError struct {
	Recovered interface{}
}

func (e *PanicError) Error() string {
	return "panic recovered"
}
