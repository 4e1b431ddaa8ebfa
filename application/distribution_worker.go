package application

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"matrixfund/domain/services"

	log "github.com/sirupsen/logrus"
)

// maxStepsPerTick bounds how many batches one tick may pay
const maxStepsPerTick = 100

// DistributionWorker polls the scheduler and drives due distributions
type DistributionWorker struct {
	engine       DistributionEngine
	pollInterval time.Duration
	stopChan     chan struct{}
	done         chan struct{}
	stopOnce     sync.Once
	started      atomic.Bool
}

// NewDistributionWorker creates a new distribution worker
func NewDistributionWorker(engine DistributionEngine, pollInterval time.Duration) *DistributionWorker {
	if pollInterval <= 0 {
		pollInterval = time.Minute
	}
	return &DistributionWorker{
		engine:       engine,
		pollInterval: pollInterval,
		stopChan:     make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Start runs the poll loop in the background until ctx is cancelled or Stop is called
func (w *DistributionWorker) Start(ctx context.Context) {
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer close(w.done)
		log.WithField("interval", w.pollInterval).Info("Distribution worker started")

		ticker := time.NewTicker(w.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				log.Info("Distribution worker shutting down (context cancelled)...")
				return
			case <-w.stopChan:
				log.Info("Distribution worker shutting down (stop requested)...")
				return
			case <-ticker.C:
				w.Tick(ctx)
			}
		}
	}()
}

// Stop ends the poll loop and waits for the current tick to finish
func (w *DistributionWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopChan)
	})
	if w.started.Load() {
		<-w.done
	}
}

// Tick runs distribution steps until nothing is due, then sweeps expired proposals
func (w *DistributionWorker) Tick(ctx context.Context) {
	w.distribute(ctx)

	cleaned, err := w.engine.CleanupExpiredProposals(ctx)
	if err != nil {
		log.WithError(err).Warn("Failed to clean up expired proposals")
	} else if cleaned > 0 {
		log.WithField("count", cleaned).Info("Cancelled expired proposals")
	}
}

func (w *DistributionWorker) distribute(ctx context.Context) {
	upkeep, err := w.engine.CheckUpkeep(ctx)
	if err != nil {
		log.WithError(err).Error("Failed to check distribution upkeep")
		return
	}
	// an open breaker still needs a step so its cooldown can close it
	if !upkeep.Due && len(upkeep.CircuitOpen) == 0 {
		return
	}

	for i := 0; i < maxStepsPerTick; i++ {
		if ctx.Err() != nil {
			return
		}

		result, err := w.engine.PerformDistribution(ctx)
		if err != nil {
			if errors.Is(err, services.ErrPaused) {
				log.Debug("Distribution skipped while the system is paused")
				return
			}
			log.WithError(err).Warn("Distribution step failed")
			return
		}

		log.WithFields(log.Fields{
			"job":       result.Job,
			"runId":     result.RunID,
			"status":    result.Status,
			"paid":      result.Paid,
			"remaining": result.RemainingRecipients,
		}).Debug("Distribution step finished")

		if result.Status != services.DistributionInProgress {
			return
		}
	}
}
