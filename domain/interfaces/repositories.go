package interfaces

import (
	"context"
	"time"

	"matrixfund/domain/entities"
)

// UserRepository defines the interface for user data access
type UserRepository interface {
	// GetByID retrieves a user, returning nil when not registered
	GetByID(ctx context.Context, id entities.UserID) (*entities.User, error)

	// GetByIDs retrieves the registered users among ids, in no particular order
	GetByIDs(ctx context.Context, ids []entities.UserID) ([]*entities.User, error)

	// Create inserts a new user and assigns its registration sequence
	Create(ctx context.Context, user *entities.User) error

	// Update persists every mutable field of a user
	Update(ctx context.Context, user *entities.User) error

	// IncrementTeamSize adds one to the team size of each listed user
	IncrementTeamSize(ctx context.Context, ids []entities.UserID) error

	// GetSponsorChain walks sponsor links upward, nearest first, at most maxDepth users
	GetSponsorChain(ctx context.Context, id entities.UserID, maxDepth int) ([]*entities.User, error)

	// Count returns the number of registered users
	Count(ctx context.Context) (int64, error)
}

// MatrixRepository defines the interface for the binary placement tree
type MatrixRepository interface {
	// GetNode retrieves a node, returning nil when absent
	GetNode(ctx context.Context, id entities.UserID) (*entities.MatrixNode, error)

	// GetNodes retrieves several nodes at once
	GetNodes(ctx context.Context, ids []entities.UserID) ([]*entities.MatrixNode, error)

	// Create inserts a new node
	Create(ctx context.Context, node *entities.MatrixNode) error

	// AttachChild fills an empty slot of parent; a taken slot is an error
	AttachChild(ctx context.Context, parent entities.UserID, side entities.MatrixSide, child entities.UserID) error

	// GetAncestors returns matrix ancestors nearest first; maxDepth <= 0 walks to the root
	GetAncestors(ctx context.Context, id entities.UserID, maxDepth int) ([]entities.UserID, error)
}

// PoolRepository defines the interface for pool balances
type PoolRepository interface {
	// Get retrieves one pool
	Get(ctx context.Context, poolType entities.PoolType) (*entities.Pool, error)

	// GetAll retrieves every pool
	GetAll(ctx context.Context) ([]*entities.Pool, error)

	// Deposit adds fresh funds to a pool
	Deposit(ctx context.Context, poolType entities.PoolType, amount int64) error

	// Withdraw removes funds from a pool, failing if the balance is short
	Withdraw(ctx context.Context, poolType entities.PoolType, amount int64) error

	// Refund returns previously withdrawn funds without counting them as received
	Refund(ctx context.Context, poolType entities.PoolType, amount int64) error

	// AddDistributed records an amount paid out of a pool
	AddDistributed(ctx context.Context, poolType entities.PoolType, amount int64) error
}

// CreditRepository defines the interface for the commission ledger
type CreditRepository interface {
	// Record appends a credit
	Record(ctx context.Context, credit *entities.Credit) error

	// GetByRecipient returns the newest credits of a user
	GetByRecipient(ctx context.Context, recipient entities.UserID, limit int) ([]*entities.Credit, error)

	// SumByReference returns the credited total for one purchase, withdrawal or run
	SumByReference(ctx context.Context, refType entities.ReferenceType, refID string) (int64, error)
}

// PurchaseRepository defines the interface for package purchases
type PurchaseRepository interface {
	// Create appends a purchase and assigns its id
	Create(ctx context.Context, purchase *entities.Purchase) error

	// GetByBuyer returns a user's purchases, oldest first
	GetByBuyer(ctx context.Context, buyer entities.UserID) ([]*entities.Purchase, error)
}

// WithdrawalRepository defines the interface for withdrawal records
type WithdrawalRepository interface {
	// Create appends a withdrawal and assigns its id
	Create(ctx context.Context, withdrawal *entities.Withdrawal) error

	// GetByUser returns the newest withdrawals of a user
	GetByUser(ctx context.Context, id entities.UserID, limit int) ([]*entities.Withdrawal, error)
}

// AutomationRepository defines the interface for distribution job state
type AutomationRepository interface {
	// Get retrieves a job's state, returning nil when not initialized
	Get(ctx context.Context, job entities.PoolType) (*entities.AutomationState, error)

	// GetAll retrieves every job's state
	GetAll(ctx context.Context) ([]*entities.AutomationState, error)

	// Save inserts or updates a job's state
	Save(ctx context.Context, state *entities.AutomationState) error
}

// DistributionRunRepository defines the interface for chunked distribution runs
type DistributionRunRepository interface {
	// Create inserts a new run
	Create(ctx context.Context, run *entities.DistributionRun) error

	// Update persists the run's progress fields
	Update(ctx context.Context, run *entities.DistributionRun) error

	// GetInProgress returns the unfinished run, if any
	GetInProgress(ctx context.Context) (*entities.DistributionRun, error)

	// GetLatest returns the most recent run for a job
	GetLatest(ctx context.Context, job entities.PoolType) (*entities.DistributionRun, error)

	// SnapshotRecipients freezes the matching users as the run's payees and
	// returns the weight and head count per group
	SnapshotRecipients(ctx context.Context, runID string, criteria entities.RecipientCriteria) (map[string]entities.RunAllotment, error)

	// NextUnpaid returns up to limit unpaid payees in registration order
	NextUnpaid(ctx context.Context, runID string, limit int) ([]*entities.RunRecipient, error)

	// MarkPaid flags a payee as paid with the amount credited
	MarkPaid(ctx context.Context, runID string, userID entities.UserID, amount int64) error
}

// ProposalRepository defines the interface for treasury proposals
type ProposalRepository interface {
	// Create inserts a proposal and assigns its id
	Create(ctx context.Context, proposal *entities.TreasuryProposal) error

	// GetByID retrieves a proposal with its approvals, nil when absent
	GetByID(ctx context.Context, id int64) (*entities.TreasuryProposal, error)

	// Update persists the executed/cancelled flags
	Update(ctx context.Context, proposal *entities.TreasuryProposal) error

	// AddApproval records a signer's approval
	AddApproval(ctx context.Context, id int64, signer entities.UserID, at time.Time) error

	// ListOpen returns proposals that are neither executed, cancelled nor expired
	ListOpen(ctx context.Context, now time.Time) ([]*entities.TreasuryProposal, error)

	// ListExpired returns proposals past expiry that were never executed or cancelled
	ListExpired(ctx context.Context, now time.Time) ([]*entities.TreasuryProposal, error)
}

// GovernanceRepository defines the interface for the switchboard and role table
type GovernanceRepository interface {
	// GetState retrieves the governance singleton
	GetState(ctx context.Context) (*entities.GovernanceState, error)

	// SaveState persists the governance singleton
	SaveState(ctx context.Context, state *entities.GovernanceState) error

	// HasRole reports whether an address holds a role
	HasRole(ctx context.Context, id entities.UserID, role entities.Role) (bool, error)

	// GrantRole assigns a role; granting an existing role is a no-op
	GrantRole(ctx context.Context, assignment *entities.RoleAssignment) error

	// RevokeRole removes a role
	RevokeRole(ctx context.Context, id entities.UserID, role entities.Role) error

	// ListByRole returns the holders of a role
	ListByRole(ctx context.Context, role entities.Role) ([]entities.UserID, error)
}
