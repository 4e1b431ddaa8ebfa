package application_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"matrixfund/application"
	"matrixfund/domain/entities"
	"matrixfund/domain/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedEngine replays canned distribution results
type scriptedEngine struct {
	mu       sync.Mutex
	upkeep   *services.UpkeepStatus
	results  []*services.DistributionResult
	stepErr  error
	steps    int
	cleanups int
}

func (e *scriptedEngine) CheckUpkeep(ctx context.Context) (*services.UpkeepStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.upkeep, nil
}

func (e *scriptedEngine) PerformDistribution(ctx context.Context) (*services.DistributionResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.steps++
	if e.stepErr != nil {
		return nil, e.stepErr
	}
	if len(e.results) == 0 {
		return &services.DistributionResult{Status: services.DistributionNotDue}, nil
	}
	next := e.results[0]
	e.results = e.results[1:]
	return next, nil
}

func (e *scriptedEngine) CleanupExpiredProposals(ctx context.Context) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cleanups++
	return 0, nil
}

func (e *scriptedEngine) counts() (int, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.steps, e.cleanups
}

func TestDistributionWorker_TickDrainsRun(t *testing.T) {
	engine := &scriptedEngine{
		upkeep: &services.UpkeepStatus{Due: true, Job: entities.PoolTypeGlobalHelp},
		results: []*services.DistributionResult{
			{Status: services.DistributionInProgress},
			{Status: services.DistributionInProgress},
			{Status: services.DistributionCompleted},
			{Status: services.DistributionInProgress},
		},
	}
	worker := application.NewDistributionWorker(engine, time.Minute)

	worker.Tick(context.Background())

	steps, cleanups := engine.counts()
	assert.Equal(t, 3, steps)
	assert.Equal(t, 1, cleanups)
}

func TestDistributionWorker_TickSkipsWhenIdle(t *testing.T) {
	engine := &scriptedEngine{upkeep: &services.UpkeepStatus{}}
	worker := application.NewDistributionWorker(engine, time.Minute)

	worker.Tick(context.Background())

	steps, cleanups := engine.counts()
	assert.Zero(t, steps)
	assert.Equal(t, 1, cleanups)
}

func TestDistributionWorker_TickStepsForOpenBreaker(t *testing.T) {
	engine := &scriptedEngine{upkeep: &services.UpkeepStatus{
		CircuitOpen: []entities.PoolType{entities.PoolTypeClub},
	}}
	worker := application.NewDistributionWorker(engine, time.Minute)

	worker.Tick(context.Background())

	steps, _ := engine.counts()
	assert.Equal(t, 1, steps)
}

func TestDistributionWorker_TickStopsOnError(t *testing.T) {
	for _, stepErr := range []error{services.ErrPaused, errors.New("boom")} {
		engine := &scriptedEngine{
			upkeep:  &services.UpkeepStatus{Due: true},
			stepErr: stepErr,
		}
		worker := application.NewDistributionWorker(engine, time.Minute)

		worker.Tick(context.Background())

		steps, cleanups := engine.counts()
		assert.Equal(t, 1, steps)
		assert.Equal(t, 1, cleanups)
	}
}

func TestDistributionWorker_StartStop(t *testing.T) {
	engine := &scriptedEngine{upkeep: &services.UpkeepStatus{}}
	worker := application.NewDistributionWorker(engine, 10*time.Millisecond)

	worker.Start(context.Background())
	require.Eventually(t, func() bool {
		_, cleanups := engine.counts()
		return cleanups >= 2
	}, time.Second, 5*time.Millisecond)

	worker.Stop()
	_, after := engine.counts()
	time.Sleep(30 * time.Millisecond)
	_, later := engine.counts()
	assert.Equal(t, after, later)

	// stopping twice is harmless
	worker.Stop()
}

func TestDistributionWorker_StopsOnContextCancel(t *testing.T) {
	engine := &scriptedEngine{upkeep: &services.UpkeepStatus{}}
	worker := application.NewDistributionWorker(engine, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	worker.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		worker.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after context cancel")
	}
}

func TestDistributionWorker_AgainstEngine(t *testing.T) {
	h := newHarness(t)
	h.seedThree()
	h.clock.Set(testEpoch.Add(7*24*time.Hour + 2*time.Hour))

	worker := application.NewDistributionWorker(h.engine, time.Minute)
	worker.Tick(h.ctx)

	runs := h.store.AllRuns()
	require.Len(t, runs, 1)
	assert.True(t, runs[0].IsCompleted())
}
