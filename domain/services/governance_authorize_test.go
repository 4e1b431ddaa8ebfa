package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"matrixfund/domain/entities"
	"matrixfund/domain/testhelpers"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)

func TestGovernanceService_AuthorizeCapabilityTable(t *testing.T) {
	for capability, role := range capabilityRoles {
		t.Run(string(capability), func(t *testing.T) {
			mockGovernance := new(testhelpers.MockGovernanceRepository)
			service := NewGovernanceService(mockGovernance, nil, nil, nil, nil, nil, GovernanceConfig{})

			mockGovernance.On("HasRole", mock.Anything, entities.UserID("0xholder"), role).Return(true, nil)
			mockGovernance.On("HasRole", mock.Anything, entities.UserID("0xother"), role).Return(false, nil)

			assert.NoError(t, service.Authorize(context.Background(), "0xholder", capability))

			err := service.Authorize(context.Background(), "0xother", capability)
			require.Error(t, err)
			if role == entities.RoleSigner {
				assert.ErrorIs(t, err, ErrNotSigner)
			} else {
				assert.ErrorIs(t, err, ErrUnauthorized)
			}
			mockGovernance.AssertExpectations(t)
		})
	}
}

func TestGovernanceService_AuthorizeRepositoryError(t *testing.T) {
	mockGovernance := new(testhelpers.MockGovernanceRepository)
	service := NewGovernanceService(mockGovernance, nil, nil, nil, nil, nil, GovernanceConfig{})
	dbErr := errors.New("connection reset")

	mockGovernance.On("HasRole", mock.Anything, entities.UserID("0xa"), entities.RoleEmergency).Return(false, dbErr)

	err := service.Authorize(context.Background(), "0xa", CapabilityPause)
	assert.ErrorIs(t, err, dbErr)
	assert.False(t, IsGovernanceError(err))
	mockGovernance.AssertExpectations(t)
}

func TestGovernanceService_CheckOperationSkipsLookupForSystemActor(t *testing.T) {
	mockGovernance := new(testhelpers.MockGovernanceRepository)
	mockUsers := new(testhelpers.MockUserRepository)
	service := NewGovernanceService(mockGovernance, nil, mockUsers, nil, nil, nil, GovernanceConfig{})

	mockGovernance.On("GetState", mock.Anything).Return(&entities.GovernanceState{
		RegistrationsEnabled: true,
		WithdrawalsEnabled:   true,
	}, nil)

	assert.NoError(t, service.CheckOperation(context.Background(), OperationDistribute, ""))
	mockUsers.AssertNotCalled(t, "GetByID", mock.Anything, mock.Anything)
	mockGovernance.AssertExpectations(t)
}

func TestGovernanceService_ProposeExecutesWithSingleSignature(t *testing.T) {
	mockGovernance := new(testhelpers.MockGovernanceRepository)
	mockProposals := new(testhelpers.MockProposalRepository)
	mockPublisher := new(testhelpers.MockEventPublisher)
	service := NewGovernanceService(mockGovernance, mockProposals, nil, nil, nil, mockPublisher, GovernanceConfig{RequiredSignatures: 1})
	signer := entities.UserID("0xsigner")

	mockGovernance.On("HasRole", mock.Anything, signer, entities.RoleSigner).Return(true, nil)
	mockProposals.On("Create", mock.Anything, mock.AnythingOfType("*entities.TreasuryProposal")).
		Run(func(args mock.Arguments) {
			args.Get(1).(*entities.TreasuryProposal).ID = 7
		}).Return(nil)
	mockProposals.On("AddApproval", mock.Anything, int64(7), signer, mock.Anything).Return(nil)
	mockGovernance.On("GetState", mock.Anything).Return(&entities.GovernanceState{WithdrawalsEnabled: true}, nil)
	mockGovernance.On("SaveState", mock.Anything, mock.MatchedBy(func(state *entities.GovernanceState) bool {
		return !state.WithdrawalsEnabled
	})).Return(nil)
	mockProposals.On("Update", mock.Anything, mock.MatchedBy(func(p *entities.TreasuryProposal) bool {
		return p.ID == 7 && p.Executed
	})).Return(nil)
	mockPublisher.On("Publish", mock.Anything).Return(nil)

	proposal, err := service.Propose(context.Background(), ProposeParams{
		Proposer: signer,
		Action:   entities.ProposalActionSetWithdrawals,
		Amount:   0,
	}, testNow)
	require.NoError(t, err)
	assert.True(t, proposal.Executed)

	mockGovernance.AssertExpectations(t)
	mockProposals.AssertExpectations(t)
	mockPublisher.AssertNumberOfCalls(t, "Publish", 2)
}
