package application

import (
	"context"
	"fmt"

	"matrixfund/domain/entities"
	"matrixfund/domain/services"

	log "github.com/sirupsen/logrus"
)

// CheckUpkeep reports whether a distribution step has work to do right now
func (e *Engine) CheckUpkeep(ctx context.Context) (*services.UpkeepStatus, error) {
	now := e.clock.Now()
	var status *services.UpkeepStatus
	err := e.readOnly(ctx, func(uow UnitOfWork, svc *ledgerServices) error {
		var err error
		status, err = svc.distribution.CheckUpkeep(ctx, now)
		return err
	})
	return status, err
}

// PerformDistribution closes breakers whose cooldown elapsed, then runs one
// bounded distribution step. Nothing changes while distribution is paused. A failed step is rolled back and counted against
// its job in a separate unit of work.
func (e *Engine) PerformDistribution(ctx context.Context) (*services.DistributionResult, error) {
	now := e.clock.Now()

	if err := e.refreshBreakers(ctx); err != nil {
		return nil, err
	}

	var result *services.DistributionResult
	stepErr := e.inTransaction(ctx, func(uow UnitOfWork, svc *ledgerServices) error {
		if err := svc.governance.CheckOperation(ctx, services.OperationDistribute, ""); err != nil {
			return err
		}
		stepped, err := svc.distribution.PerformDistribution(ctx, now)
		if err != nil {
			return err
		}
		result = stepped
		return nil
	})
	if stepErr == nil {
		return result, nil
	}

	job, ok := services.JobOf(stepErr)
	if !ok {
		return nil, stepErr
	}
	return e.recordFailure(ctx, job, stepErr)
}

// recordFailure commits the failure bookkeeping even when the caller is told to retry
func (e *Engine) recordFailure(ctx context.Context, job entities.PoolType, cause error) (*services.DistributionResult, error) {
	now := e.clock.Now()
	var (
		result    *services.DistributionResult
		budgetErr error
	)
	err := e.inTransaction(ctx, func(uow UnitOfWork, svc *ledgerServices) error {
		recorded, err := svc.distribution.RecordFailure(ctx, job, cause, now)
		if recorded == nil {
			return err
		}
		result = recorded
		budgetErr = err
		return nil
	})
	if err != nil {
		log.WithFields(log.Fields{
			"job":   job,
			"cause": cause,
			"error": err,
		}).Error("Failed to record distribution failure")
		return nil, fmt.Errorf("failed to record distribution failure: %w (step error: %v)", err, cause)
	}
	return result, budgetErr
}

func (e *Engine) refreshBreakers(ctx context.Context) error {
	now := e.clock.Now()
	return e.inTransaction(ctx, func(uow UnitOfWork, svc *ledgerServices) error {
		if err := svc.governance.CheckOperation(ctx, services.OperationDistribute, ""); err != nil {
			return err
		}
		_, err := svc.distribution.RefreshBreakers(ctx, now)
		return err
	})
}

// ResetCircuitBreaker closes an open breaker by hand; admin only
func (e *Engine) ResetCircuitBreaker(ctx context.Context, actor entities.UserID, job entities.PoolType) error {
	return e.inTransaction(ctx, func(uow UnitOfWork, svc *ledgerServices) error {
		if err := svc.governance.Authorize(ctx, actor, services.CapabilityResetBreaker); err != nil {
			return err
		}
		return svc.distribution.ResetCircuitBreaker(ctx, job, actor)
	})
}

// GetAutomationStates returns the scheduling and breaker state of every job
func (e *Engine) GetAutomationStates(ctx context.Context) ([]*entities.AutomationState, error) {
	var states []*entities.AutomationState
	err := e.readOnly(ctx, func(uow UnitOfWork, svc *ledgerServices) error {
		var err error
		states, err = uow.AutomationRepository().GetAll(ctx)
		if err != nil {
			return fmt.Errorf("failed to get automation states: %w", err)
		}
		return nil
	})
	return states, err
}
