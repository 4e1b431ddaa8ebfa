package testhelpers

import (
	"context"
	"time"

	"matrixfund/domain/entities"
	"matrixfund/domain/events"

	"github.com/stretchr/testify/mock"
)

// MockUserRepository is a mock implementation of UserRepository
type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) GetByID(ctx context.Context, id entities.UserID) (*entities.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.User), args.Error(1)
}

func (m *MockUserRepository) GetByIDs(ctx context.Context, ids []entities.UserID) ([]*entities.User, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entities.User), args.Error(1)
}

func (m *MockUserRepository) Create(ctx context.Context, user *entities.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *MockUserRepository) Update(ctx context.Context, user *entities.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *MockUserRepository) IncrementTeamSize(ctx context.Context, ids []entities.UserID) error {
	args := m.Called(ctx, ids)
	return args.Error(0)
}

func (m *MockUserRepository) GetSponsorChain(ctx context.Context, id entities.UserID, maxDepth int) ([]*entities.User, error) {
	args := m.Called(ctx, id, maxDepth)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entities.User), args.Error(1)
}

func (m *MockUserRepository) Count(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

// MockMatrixRepository is a mock implementation of MatrixRepository
type MockMatrixRepository struct {
	mock.Mock
}

func (m *MockMatrixRepository) GetNode(ctx context.Context, id entities.UserID) (*entities.MatrixNode, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.MatrixNode), args.Error(1)
}

func (m *MockMatrixRepository) GetNodes(ctx context.Context, ids []entities.UserID) ([]*entities.MatrixNode, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entities.MatrixNode), args.Error(1)
}

func (m *MockMatrixRepository) Create(ctx context.Context, node *entities.MatrixNode) error {
	args := m.Called(ctx, node)
	return args.Error(0)
}

func (m *MockMatrixRepository) AttachChild(ctx context.Context, parent entities.UserID, side entities.MatrixSide, child entities.UserID) error {
	args := m.Called(ctx, parent, side, child)
	return args.Error(0)
}

func (m *MockMatrixRepository) GetAncestors(ctx context.Context, id entities.UserID, maxDepth int) ([]entities.UserID, error) {
	args := m.Called(ctx, id, maxDepth)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]entities.UserID), args.Error(1)
}

// MockPoolRepository is a mock implementation of PoolRepository
type MockPoolRepository struct {
	mock.Mock
}

func (m *MockPoolRepository) Get(ctx context.Context, poolType entities.PoolType) (*entities.Pool, error) {
	args := m.Called(ctx, poolType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.Pool), args.Error(1)
}

func (m *MockPoolRepository) GetAll(ctx context.Context) ([]*entities.Pool, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entities.Pool), args.Error(1)
}

func (m *MockPoolRepository) Deposit(ctx context.Context, poolType entities.PoolType, amount int64) error {
	args := m.Called(ctx, poolType, amount)
	return args.Error(0)
}

func (m *MockPoolRepository) Withdraw(ctx context.Context, poolType entities.PoolType, amount int64) error {
	args := m.Called(ctx, poolType, amount)
	return args.Error(0)
}

func (m *MockPoolRepository) Refund(ctx context.Context, poolType entities.PoolType, amount int64) error {
	args := m.Called(ctx, poolType, amount)
	return args.Error(0)
}

func (m *MockPoolRepository) AddDistributed(ctx context.Context, poolType entities.PoolType, amount int64) error {
	args := m.Called(ctx, poolType, amount)
	return args.Error(0)
}

// MockCreditRepository is a mock implementation of CreditRepository
type MockCreditRepository struct {
	mock.Mock
}

func (m *MockCreditRepository) Record(ctx context.Context, credit *entities.Credit) error {
	args := m.Called(ctx, credit)
	return args.Error(0)
}

func (m *MockCreditRepository) GetByRecipient(ctx context.Context, recipient entities.UserID, limit int) ([]*entities.Credit, error) {
	args := m.Called(ctx, recipient, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entities.Credit), args.Error(1)
}

func (m *MockCreditRepository) SumByReference(ctx context.Context, refType entities.ReferenceType, refID string) (int64, error) {
	args := m.Called(ctx, refType, refID)
	return args.Get(0).(int64), args.Error(1)
}

// MockGovernanceRepository is a mock implementation of GovernanceRepository
type MockGovernanceRepository struct {
	mock.Mock
}

func (m *MockGovernanceRepository) GetState(ctx context.Context) (*entities.GovernanceState, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.GovernanceState), args.Error(1)
}

func (m *MockGovernanceRepository) SaveState(ctx context.Context, state *entities.GovernanceState) error {
	args := m.Called(ctx, state)
	return args.Error(0)
}

func (m *MockGovernanceRepository) HasRole(ctx context.Context, id entities.UserID, role entities.Role) (bool, error) {
	args := m.Called(ctx, id, role)
	return args.Bool(0), args.Error(1)
}

func (m *MockGovernanceRepository) GrantRole(ctx context.Context, assignment *entities.RoleAssignment) error {
	args := m.Called(ctx, assignment)
	return args.Error(0)
}

func (m *MockGovernanceRepository) RevokeRole(ctx context.Context, id entities.UserID, role entities.Role) error {
	args := m.Called(ctx, id, role)
	return args.Error(0)
}

func (m *MockGovernanceRepository) ListByRole(ctx context.Context, role entities.Role) ([]entities.UserID, error) {
	args := m.Called(ctx, role)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]entities.UserID), args.Error(1)
}

// MockProposalRepository is a mock implementation of ProposalRepository
type MockProposalRepository struct {
	mock.Mock
}

func (m *MockProposalRepository) Create(ctx context.Context, proposal *entities.TreasuryProposal) error {
	args := m.Called(ctx, proposal)
	return args.Error(0)
}

func (m *MockProposalRepository) GetByID(ctx context.Context, id int64) (*entities.TreasuryProposal, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.TreasuryProposal), args.Error(1)
}

func (m *MockProposalRepository) Update(ctx context.Context, proposal *entities.TreasuryProposal) error {
	args := m.Called(ctx, proposal)
	return args.Error(0)
}

func (m *MockProposalRepository) AddApproval(ctx context.Context, id int64, signer entities.UserID, at time.Time) error {
	args := m.Called(ctx, id, signer, at)
	return args.Error(0)
}

func (m *MockProposalRepository) ListOpen(ctx context.Context, now time.Time) ([]*entities.TreasuryProposal, error) {
	args := m.Called(ctx, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entities.TreasuryProposal), args.Error(1)
}

func (m *MockProposalRepository) ListExpired(ctx context.Context, now time.Time) ([]*entities.TreasuryProposal, error) {
	args := m.Called(ctx, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entities.TreasuryProposal), args.Error(1)
}

// MockEventPublisher is a mock implementation of EventPublisher
type MockEventPublisher struct {
	mock.Mock
}

func (m *MockEventPublisher) Publish(event events.Event) error {
	args := m.Called(event)
	return args.Error(0)
}

// MockValueTransfer is a mock implementation of ValueTransfer
type MockValueTransfer struct {
	mock.Mock
}

func (m *MockValueTransfer) TransferIn(ctx context.Context, from entities.UserID, amount int64) error {
	args := m.Called(ctx, from, amount)
	return args.Error(0)
}

func (m *MockValueTransfer) TransferOut(ctx context.Context, to entities.UserID, amount int64) error {
	args := m.Called(ctx, to, amount)
	return args.Error(0)
}
