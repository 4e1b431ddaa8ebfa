package repository

import (
	"context"
	"errors"
	"fmt"

	"matrixfund/application"
	"matrixfund/database"
	"matrixfund/domain/interfaces"

	"github.com/jackc/pgx/v5"
)

const notStarted = "unit of work not started - call Begin() first"

// unitOfWork implements the UnitOfWork interface
type unitOfWork struct {
	db                     *database.DB
	tx                     pgx.Tx
	ctx                    context.Context
	readOnly               bool
	transactionalPublisher interfaces.TransactionalEventPublisher
	userRepo               interfaces.UserRepository
	matrixRepo             interfaces.MatrixRepository
	poolRepo               interfaces.PoolRepository
	creditRepo             interfaces.CreditRepository
	purchaseRepo           interfaces.PurchaseRepository
	withdrawalRepo         interfaces.WithdrawalRepository
	automationRepo         interfaces.AutomationRepository
	runRepo                interfaces.DistributionRunRepository
	proposalRepo           interfaces.ProposalRepository
	governanceRepo         interfaces.GovernanceRepository
	vault                  interfaces.TokenVault
}

// NewUnitOfWorkFactory creates a new UnitOfWork factory
func NewUnitOfWorkFactory(db *database.DB) *unitOfWorkFactory {
	return &unitOfWorkFactory{
		db: db,
	}
}

type unitOfWorkFactory struct {
	db *database.DB
}

// CreateWithPublisher creates a new UnitOfWork with a specific transactional publisher.
// A writable unit of work serializes on the ledger lock; a read-only one runs
// in a READ ONLY transaction without it.
func (f *unitOfWorkFactory) CreateWithPublisher(transactionalPublisher interfaces.TransactionalEventPublisher, readOnly bool) application.UnitOfWork {
	return &unitOfWork{
		db:                     f.db,
		readOnly:               readOnly,
		transactionalPublisher: transactionalPublisher,
	}
}

// Begin starts a new transaction
func (u *unitOfWork) Begin(ctx context.Context) error {
	if u.tx != nil {
		return fmt.Errorf("transaction already started")
	}

	opts := pgx.TxOptions{}
	if u.readOnly {
		opts.AccessMode = pgx.ReadOnly
	}

	tx, err := u.db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if !u.readOnly {
		if err := database.AcquireLedgerLock(ctx, tx); err != nil {
			_ = tx.Rollback(ctx)
			return err
		}
	}

	u.tx = tx
	u.ctx = ctx

	u.userRepo = NewUserRepositoryScoped(tx)
	u.matrixRepo = NewMatrixRepositoryScoped(tx)
	u.poolRepo = NewPoolRepositoryScoped(tx)
	u.creditRepo = NewCreditRepositoryScoped(tx)
	u.purchaseRepo = NewPurchaseRepositoryScoped(tx)
	u.withdrawalRepo = NewWithdrawalRepositoryScoped(tx)
	u.automationRepo = NewAutomationRepositoryScoped(tx)
	u.runRepo = NewDistributionRunRepositoryScoped(tx)
	u.proposalRepo = NewProposalRepositoryScoped(tx)
	u.governanceRepo = NewGovernanceRepositoryScoped(tx)
	u.vault = NewTokenVaultRepositoryScoped(tx)

	return nil
}

// Commit commits the transaction
func (u *unitOfWork) Commit() error {
	if u.tx == nil {
		return fmt.Errorf("no transaction to commit")
	}

	err := u.tx.Commit(u.ctx)
	if err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	u.tx = nil
	return nil
}

// Rollback rolls back the transaction
func (u *unitOfWork) Rollback() error {
	if u.tx == nil {
		return nil // Nothing to rollback
	}

	err := u.tx.Rollback(u.ctx)
	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}

	u.tx = nil
	return nil
}

func (u *unitOfWork) UserRepository() interfaces.UserRepository {
	if u.userRepo == nil {
		panic(notStarted)
	}
	return u.userRepo
}

func (u *unitOfWork) MatrixRepository() interfaces.MatrixRepository {
	if u.matrixRepo == nil {
		panic(notStarted)
	}
	return u.matrixRepo
}

func (u *unitOfWork) PoolRepository() interfaces.PoolRepository {
	if u.poolRepo == nil {
		panic(notStarted)
	}
	return u.poolRepo
}

func (u *unitOfWork) CreditRepository() interfaces.CreditRepository {
	if u.creditRepo == nil {
		panic(notStarted)
	}
	return u.creditRepo
}

func (u *unitOfWork) PurchaseRepository() interfaces.PurchaseRepository {
	if u.purchaseRepo == nil {
		panic(notStarted)
	}
	return u.purchaseRepo
}

func (u *unitOfWork) WithdrawalRepository() interfaces.WithdrawalRepository {
	if u.withdrawalRepo == nil {
		panic(notStarted)
	}
	return u.withdrawalRepo
}

func (u *unitOfWork) AutomationRepository() interfaces.AutomationRepository {
	if u.automationRepo == nil {
		panic(notStarted)
	}
	return u.automationRepo
}

func (u *unitOfWork) DistributionRunRepository() interfaces.DistributionRunRepository {
	if u.runRepo == nil {
		panic(notStarted)
	}
	return u.runRepo
}

func (u *unitOfWork) ProposalRepository() interfaces.ProposalRepository {
	if u.proposalRepo == nil {
		panic(notStarted)
	}
	return u.proposalRepo
}

func (u *unitOfWork) GovernanceRepository() interfaces.GovernanceRepository {
	if u.governanceRepo == nil {
		panic(notStarted)
	}
	return u.governanceRepo
}

// TokenVault returns the value-transfer ledger bound to this transaction
func (u *unitOfWork) TokenVault() interfaces.TokenVault {
	if u.vault == nil {
		panic(notStarted)
	}
	return u.vault
}

// EventBus returns the transactional event publisher for this unit of work
func (u *unitOfWork) EventBus() interfaces.EventPublisher {
	if u.transactionalPublisher == nil {
		panic(notStarted)
	}
	return u.transactionalPublisher
}
