package infrastructure

import (
	"context"
	"time"

	"matrixfund/application"
	"matrixfund/domain/interfaces"
	"matrixfund/infrastructure/observability"
)

// unitOfWork wraps the repository UnitOfWork and adds event publishing on commit
type unitOfWork struct {
	inner                  application.UnitOfWork
	transactionalPublisher *NATSTransactionalPublisher
	metrics                *observability.MetricsProvider
	mode                   string
	ctx                    context.Context
	startedAt              time.Time
}

// Begin starts a new transaction
func (u *unitOfWork) Begin(ctx context.Context) error {
	u.ctx = ctx
	u.startedAt = time.Now()
	return u.inner.Begin(ctx)
}

// Commit commits the transaction and flushes events on success
func (u *unitOfWork) Commit() error {
	if err := u.inner.Commit(); err != nil {
		u.transactionalPublisher.Discard()
		u.record(observability.OutcomeRollback)
		return err
	}
	u.record(observability.OutcomeCommit)

	// events are best-effort once the transaction is durable
	_ = u.transactionalPublisher.Flush(u.ctx)
	return nil
}

// Rollback discards pending events and rolls back the transaction
func (u *unitOfWork) Rollback() error {
	u.transactionalPublisher.Discard()
	if u.startedAt.IsZero() {
		return u.inner.Rollback()
	}
	u.record(observability.OutcomeRollback)
	return u.inner.Rollback()
}

func (u *unitOfWork) record(outcome string) {
	if u.startedAt.IsZero() {
		return
	}
	u.metrics.RecordTransaction(u.mode, outcome, time.Since(u.startedAt))
	u.startedAt = time.Time{}
}

// Repository getters - delegate to inner UnitOfWork
func (u *unitOfWork) UserRepository() interfaces.UserRepository {
	return u.inner.UserRepository()
}

func (u *unitOfWork) MatrixRepository() interfaces.MatrixRepository {
	return u.inner.MatrixRepository()
}

func (u *unitOfWork) PoolRepository() interfaces.PoolRepository {
	return u.inner.PoolRepository()
}

func (u *unitOfWork) CreditRepository() interfaces.CreditRepository {
	return u.inner.CreditRepository()
}

func (u *unitOfWork) PurchaseRepository() interfaces.PurchaseRepository {
	return u.inner.PurchaseRepository()
}

func (u *unitOfWork) WithdrawalRepository() interfaces.WithdrawalRepository {
	return u.inner.WithdrawalRepository()
}

func (u *unitOfWork) AutomationRepository() interfaces.AutomationRepository {
	return u.inner.AutomationRepository()
}

func (u *unitOfWork) DistributionRunRepository() interfaces.DistributionRunRepository {
	return u.inner.DistributionRunRepository()
}

func (u *unitOfWork) ProposalRepository() interfaces.ProposalRepository {
	return u.inner.ProposalRepository()
}

func (u *unitOfWork) GovernanceRepository() interfaces.GovernanceRepository {
	return u.inner.GovernanceRepository()
}

func (u *unitOfWork) TokenVault() interfaces.TokenVault {
	return u.inner.TokenVault()
}

// EventBus returns the transactional event publisher
func (u *unitOfWork) EventBus() interfaces.EventPublisher {
	return u.transactionalPublisher
}
