package workers_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/atlas-desktop/btc-montecarlo/internal/montecarlo"
	"github.com/atlas-desktop/btc-montecarlo/internal/workers"
	"github.com/atlas-desktop/btc-montecarlo/pkg/types"
	"go.uber.org/zap"
)

// gatedRunner reports one iteration, then blocks until released or cancelled
type gatedRunner struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedRunner() *gatedRunner {
	return &gatedRunner{started: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedRunner) Run(ctx context.Context, settings types.Settings, progress montecarlo.ProgressFunc) (*types.MonteCarloResult, error) {
	progress(1, settings.Iterations)
	g.once.Do(func() { close(g.started) })

	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w after 1 of %d iterations: %w", montecarlo.ErrCancelled, settings.Iterations, ctx.Err())
	}

	progress(settings.Iterations, settings.Iterations)
	run := types.Run{Steps: []types.StepRecord{{Period: 1, PriceUSD: 100}}}
	return &types.MonteCarloResult{Seed: 7, Iterations: settings.Iterations, Runs: []types.Run{run}, Median: &run}, nil
}

type countingJobObserver struct {
	mu       sync.Mutex
	queued   int
	started  int
	finished map[string]int
}

func (o *countingJobObserver) JobQueued() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.queued++
}

func (o *countingJobObserver) JobStarted() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started++
}

func (o *countingJobObserver) JobFinished(state string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.finished == nil {
		o.finished = make(map[string]int)
	}
	o.finished[state]++
}

func (o *countingJobObserver) count(state string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.finished[state]
}

func newManager(t *testing.T, runner workers.Runner, numWorkers int) *workers.JobManager {
	t.Helper()
	pool := newPool(t, &workers.PoolConfig{
		Name:            "jobs",
		NumWorkers:      numWorkers,
		QueueSize:       8,
		ShutdownTimeout: time.Second,
		PanicRecovery:   true,
	})
	return workers.NewJobManager(zap.NewNop(), pool, runner, time.Minute)
}

func waitState(t *testing.T, m *workers.JobManager, id string, state workers.JobState) workers.JobStatus {
	t.Helper()
	var status workers.JobStatus
	ok := eventually(t, func() bool {
		s, _, err := m.Get(id)
		status = s
		return err == nil && s.State == state
	})
	if !ok {
		t.Fatalf("Job %s did not reach %s, last status %+v", id, state, status)
	}
	return status
}

func TestJobCompletes(t *testing.T) {
	runner := newGatedRunner()
	m := newManager(t, runner, 1)
	observer := &countingJobObserver{}
	m.SetObserver(observer)

	var mu sync.Mutex
	var states []workers.JobState
	m.OnStatus(func(s workers.JobStatus) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, s.State)
	})

	status, err := m.Submit(types.Settings{Iterations: 4, Horizon: 1, Period: types.PeriodWeeks})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if status.ID == "" || status.State != workers.JobQueued || status.Total != 4 {
		t.Errorf("Unexpected initial status: %+v", status)
	}

	<-runner.started
	running := waitState(t, m, status.ID, workers.JobRunning)
	if running.Completed != 1 || running.StartedAt == nil {
		t.Errorf("Expected progress 1/4 while running, got %+v", running)
	}

	close(runner.release)
	done := waitState(t, m, status.ID, workers.JobCompleted)
	if done.Seed != 7 || done.Completed != 4 || done.FinishedAt == nil || done.Progress() != 1 {
		t.Errorf("Unexpected final status: %+v", done)
	}

	_, result, _ := m.Get(status.ID)
	if result == nil || result.Median == nil {
		t.Fatal("Completed job should expose its result")
	}

	if !eventually(t, func() bool { return observer.count("completed") == 1 }) {
		t.Error("Observer not told about completion")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(states) < 3 || states[0] != workers.JobQueued || states[len(states)-1] != workers.JobCompleted {
		t.Errorf("Unexpected status sequence: %v", states)
	}
}

func TestJobCancelRunning(t *testing.T) {
	runner := newGatedRunner()
	m := newManager(t, runner, 1)

	status, err := m.Submit(types.Settings{Iterations: 10, Horizon: 1, Period: types.PeriodWeeks})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	<-runner.started

	if _, err := m.Cancel(status.ID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	cancelled := waitState(t, m, status.ID, workers.JobCancelled)
	if cancelled.Error != "" {
		t.Errorf("Cancelled job should carry no error, got %q", cancelled.Error)
	}

	if _, err := m.Cancel(status.ID); !errors.Is(err, workers.ErrJobFinished) {
		t.Errorf("Expected ErrJobFinished on second cancel, got %v", err)
	}
}

func TestJobCancelQueued(t *testing.T) {
	runner := newGatedRunner()
	m := newManager(t, runner, 1)
	observer := &countingJobObserver{}
	m.SetObserver(observer)

	first, err := m.Submit(types.Settings{Iterations: 2, Horizon: 1, Period: types.PeriodWeeks})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	<-runner.started

	second, err := m.Submit(types.Settings{Iterations: 2, Horizon: 1, Period: types.PeriodWeeks})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	status, err := m.Cancel(second.ID)
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if status.State != workers.JobCancelled {
		t.Errorf("Queued job should cancel immediately, got %s", status.State)
	}

	close(runner.release)
	waitState(t, m, first.ID, workers.JobCompleted)

	// The worker drains the cancelled job without running it
	if !eventually(t, func() bool {
		observer.mu.Lock()
		defer observer.mu.Unlock()
		return observer.started == 2
	}) {
		t.Error("Cancelled queued job was never dequeued")
	}
	if s, _, _ := m.Get(second.ID); s.StartedAt != nil {
		t.Errorf("Cancelled queued job should never start: %+v", s)
	}
}

func TestJobNotFound(t *testing.T) {
	m := newManager(t, newGatedRunner(), 1)

	if _, _, err := m.Get("missing"); !errors.Is(err, workers.ErrJobNotFound) {
		t.Errorf("Expected ErrJobNotFound, got %v", err)
	}
	if _, err := m.Cancel("missing"); !errors.Is(err, workers.ErrJobNotFound) {
		t.Errorf("Expected ErrJobNotFound, got %v", err)
	}
}

func TestJobPrune(t *testing.T) {
	runner := newGatedRunner()
	close(runner.release)
	m := newManager(t, runner, 1)

	status, err := m.Submit(types.Settings{Iterations: 1, Horizon: 1, Period: types.PeriodWeeks})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	waitState(t, m, status.ID, workers.JobCompleted)

	if n := m.Prune(time.Now()); n != 0 {
		t.Errorf("Fresh job should be retained, pruned %d", n)
	}
	if n := m.Prune(time.Now().Add(2 * time.Minute)); n != 1 {
		t.Errorf("Expected 1 pruned job, got %d", n)
	}
	if len(m.List()) != 0 {
		t.Errorf("Expected no jobs after prune, got %d", len(m.List()))
	}
}

func TestJobWithSimulator(t *testing.T) {
	sim := montecarlo.NewSimulator(zap.NewNop(), nil, nil)
	m := newManager(t, sim, 2)

	settings := types.Settings{
		Iterations:       5,
		Horizon:          52,
		Period:           types.PeriodWeeks,
		StartingPriceUSD: 30000,
		StartingBalance:  1000,
		CAGRPercent:      40,
		PriceFloor:       0.01,
		Toggles:          types.Toggles{LockedSeed: true},
		Seed:             11,
	}

	a, err := m.Submit(settings)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	b, err := m.Submit(settings)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	waitState(t, m, a.ID, workers.JobCompleted)
	waitState(t, m, b.ID, workers.JobCompleted)

	_, ra, _ := m.Get(a.ID)
	_, rb, _ := m.Get(b.ID)
	if ra.Seed != 11 || rb.Seed != 11 {
		t.Errorf("Expected locked seed 11, got %d and %d", ra.Seed, rb.Seed)
	}
	// Concurrent jobs each own their random stream
	if ra.Median.Final() != rb.Median.Final() {
		t.Errorf("Same seed on concurrent workers diverged: %+v vs %+v", ra.Median.Final(), rb.Median.Final())
	}
}
