package workers

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/atlas-desktop/btc-montecarlo/internal/montecarlo"
	"github.com/atlas-desktop/btc-montecarlo/pkg/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// JobState is the lifecycle state of a simulation job
type JobState string

const (
	JobQueued    JobState = "queued"
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
	JobCancelled JobState = "cancelled"
)

// Terminal reports whether no further transition is possible
func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// Job errors
var (
	ErrJobNotFound = errors.New("job not found")
	ErrJobFinished = errors.New("job already finished")
)

// Runner executes one Monte Carlo orchestration
type Runner interface {
	Run(ctx context.Context, settings types.Settings, progress montecarlo.ProgressFunc) (*types.MonteCarloResult, error)
}

// JobObserver receives job lifecycle telemetry
type JobObserver interface {
	JobQueued()
	JobStarted()
	JobFinished(state string)
}

// JobStatus is a point-in-time view of a job
type JobStatus struct {
	ID         string     `json:"id"`
	State      JobState   `json:"state"`
	Completed  int        `json:"completed"`
	Total      int        `json:"total"`
	Seed       uint64     `json:"seed,omitempty"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// Progress returns the completed fraction in [0,1]
func (s JobStatus) Progress() float64 {
	if s.Total <= 0 {
		if s.State == JobCompleted {
			return 1
		}
		return 0
	}
	return float64(s.Completed) / float64(s.Total)
}

// StatusListener is told about state changes and progress. Progress is
// reported at most once per whole percent.
type StatusListener func(status JobStatus)

type job struct {
	status   JobStatus
	settings types.Settings
	result   *types.MonteCarloResult
	cancel   context.CancelFunc
	ctx      context.Context
	ready    chan struct{} // closed once the queued status is published
	percent  int
}

// JobManager tracks simulation jobs and runs them on a Pool
type JobManager struct {
	mu     sync.RWMutex
	logger *zap.Logger
	pool   *Pool
	runner Runner

	jobs      map[string]*job
	retention time.Duration

	observer  JobObserver
	listeners []StatusListener
}

// NewJobManager creates a job manager. The pool must be started by the caller.
func NewJobManager(logger *zap.Logger, pool *Pool, runner Runner, retention time.Duration) *JobManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JobManager{
		logger:    logger,
		pool:      pool,
		runner:    runner,
		jobs:      make(map[string]*job),
		retention: retention,
	}
}

// SetObserver attaches job telemetry
func (m *JobManager) SetObserver(o JobObserver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observer = o
}

// OnStatus registers a listener for status changes
func (m *JobManager) OnStatus(fn StatusListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Submit queues a simulation and returns its initial status
func (m *JobManager) Submit(settings types.Settings) (JobStatus, error) {
	ctx, cancel := context.WithCancel(context.Background())
	j := &job{
		status: JobStatus{
			ID:        uuid.New().String(),
			State:     JobQueued,
			Total:     settings.Iterations,
			CreatedAt: time.Now().UTC(),
		},
		settings: settings.Clone(),
		ctx:      ctx,
		cancel:   cancel,
		ready:    make(chan struct{}),
	}
	defer close(j.ready)

	m.mu.Lock()
	m.jobs[j.status.ID] = j
	observer := m.observer
	m.mu.Unlock()

	if err := m.pool.Submit(TaskFunc(func(poolCtx context.Context) error {
		return m.execute(poolCtx, j)
	})); err != nil {
		cancel()
		m.mu.Lock()
		delete(m.jobs, j.status.ID)
		m.mu.Unlock()
		return JobStatus{}, fmt.Errorf("failed to queue simulation: %w", err)
	}

	if observer != nil {
		observer.JobQueued()
	}
	m.logger.Info("simulation queued",
		zap.String("job_id", j.status.ID),
		zap.Int("iterations", settings.Iterations),
		zap.Int("horizon", settings.Horizon),
	)

	status := m.snapshot(j)
	m.notify(status)
	return status, nil
}

// execute runs on a pool worker
func (m *JobManager) execute(poolCtx context.Context, j *job) error {
	<-j.ready

	// Stop on pool shutdown or timeout as well as explicit cancel
	ctx, stop := context.WithCancel(j.ctx)
	defer stop()
	go func() {
		select {
		case <-poolCtx.Done():
			stop()
		case <-ctx.Done():
		}
	}()

	m.mu.Lock()
	observer := m.observer
	if j.status.State != JobQueued {
		// Cancelled while waiting in the queue
		m.mu.Unlock()
		if observer != nil {
			observer.JobStarted()
		}
		return nil
	}
	now := time.Now().UTC()
	j.status.State = JobRunning
	j.status.StartedAt = &now
	m.mu.Unlock()

	if observer != nil {
		observer.JobStarted()
	}
	m.notify(m.snapshot(j))

	result, err := m.runner.Run(ctx, j.settings, func(completed, total int) {
		m.progress(j, completed, total)
	})

	m.mu.Lock()
	finished := time.Now().UTC()
	j.status.FinishedAt = &finished
	switch {
	case err == nil:
		j.status.State = JobCompleted
		j.result = result
		if result != nil {
			j.status.Seed = result.Seed
			j.status.Completed = result.Iterations
		}
	case errors.Is(err, context.DeadlineExceeded) || (errors.Is(err, montecarlo.ErrCancelled) && j.ctx.Err() == nil):
		j.status.State = JobFailed
		j.status.Error = err.Error()
	case errors.Is(err, montecarlo.ErrCancelled):
		j.status.State = JobCancelled
	default:
		j.status.State = JobFailed
		j.status.Error = err.Error()
	}
	state := j.status.State
	m.mu.Unlock()

	if observer != nil {
		observer.JobFinished(string(state))
	}
	m.logger.Info("simulation finished",
		zap.String("job_id", j.status.ID),
		zap.String("state", string(state)),
		zap.Error(err),
	)
	m.notify(m.snapshot(j))
	return err
}

func (m *JobManager) progress(j *job, completed, total int) {
	m.mu.Lock()
	j.status.Completed = completed
	j.status.Total = total
	percent := 100
	if total > 0 {
		percent = completed * 100 / total
	}
	changed := percent != j.percent
	j.percent = percent
	m.mu.Unlock()

	if changed {
		m.notify(m.snapshot(j))
	}
}

// Get returns a job's status and, once completed, its result
func (m *JobManager) Get(id string) (JobStatus, *types.MonteCarloResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[id]
	if !ok {
		return JobStatus{}, nil, ErrJobNotFound
	}
	return j.status, j.result, nil
}

// List returns all tracked jobs, newest first
func (m *JobManager) List() []JobStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]JobStatus, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, j.status)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })
	return out
}

// Cancel stops a queued or running job. A running simulation stops after its
// in-flight iteration.
func (m *JobManager) Cancel(id string) (JobStatus, error) {
	m.mu.Lock()
	j, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		return JobStatus{}, ErrJobNotFound
	}
	if j.status.State.Terminal() {
		status := j.status
		m.mu.Unlock()
		return status, ErrJobFinished
	}

	observer := m.observer
	queued := j.status.State == JobQueued
	if queued {
		now := time.Now().UTC()
		j.status.State = JobCancelled
		j.status.FinishedAt = &now
	}
	j.cancel()
	status := j.status
	m.mu.Unlock()

	m.logger.Info("simulation cancel requested", zap.String("job_id", id), zap.Bool("queued", queued))
	if queued {
		if observer != nil {
			observer.JobFinished(string(JobCancelled))
		}
		m.notify(status)
	}
	return status, nil
}

// Prune forgets terminal jobs older than the retention period and returns how
// many were removed. A non-positive retention keeps everything.
func (m *JobManager) Prune(now time.Time) int {
	if m.retention <= 0 {
		return 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, j := range m.jobs {
		if j.status.FinishedAt != nil && now.Sub(*j.status.FinishedAt) > m.retention {
			delete(m.jobs, id)
			removed++
		}
	}
	return removed
}

// RunJanitor prunes on every tick until ctx is done
func (m *JobManager) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := m.Prune(now); n > 0 {
				m.logger.Debug("pruned finished jobs", zap.Int("count", n))
			}
		}
	}
}

// CancelAll cancels every unfinished job
func (m *JobManager) CancelAll() {
	m.mu.RLock()
	ids := make([]string, 0, len(m.jobs))
	for id, j := range m.jobs {
		if !j.status.State.Terminal() {
			ids = append(ids, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range ids {
		m.Cancel(id)
	}
}

func (m *JobManager) snapshot(j *job) JobStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return j.status
}

func (m *JobManager) notify(status JobStatus) {
	m.mu.RLock()
	listeners := make([]StatusListener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.RUnlock()

	for _, fn := range listeners {
		fn(status)
	}
}
