package application

import (
	"context"

	"matrixfund/domain/interfaces"
)

// UnitOfWork defines the interface for transactional repository operations
type UnitOfWork interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) error

	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error

	// Repository getters
	UserRepository() interfaces.UserRepository
	MatrixRepository() interfaces.MatrixRepository
	PoolRepository() interfaces.PoolRepository
	CreditRepository() interfaces.CreditRepository
	PurchaseRepository() interfaces.PurchaseRepository
	WithdrawalRepository() interfaces.WithdrawalRepository
	AutomationRepository() interfaces.AutomationRepository
	DistributionRunRepository() interfaces.DistributionRunRepository
	ProposalRepository() interfaces.ProposalRepository
	GovernanceRepository() interfaces.GovernanceRepository
	TokenVault() interfaces.TokenVault
	EventBus() interfaces.EventPublisher
}

// UnitOfWorkFactory defines the interface for creating UnitOfWork instances
type UnitOfWorkFactory interface {
	// Create creates a unit of work that holds the ledger lock for its lifetime
	Create() UnitOfWork

	// CreateReadOnly creates a unit of work for queries; it never blocks writers
	CreateReadOnly() UnitOfWork
}
