package utils

import (
	"context"
	"errors"
	"testing"

	"matrixfund/domain/entities"
	"matrixfund/domain/events"
	"matrixfund/domain/testhelpers"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newCreditUser(invested, earned int64) *entities.User {
	return &entities.User{
		ID:                 "0xa",
		TotalInvested:      invested,
		TotalEarnings:      earned,
		WithdrawableAmount: earned,
		IsActive:           true,
	}
}

// TestRecordCredit tests that a credit is applied, persisted and published
func TestRecordCredit(t *testing.T) {
	ctx := context.Background()

	mockUserRepo := new(testhelpers.MockUserRepository)
	mockCreditRepo := new(testhelpers.MockCreditRepository)
	mockEventPublisher := new(testhelpers.MockEventPublisher)

	user := newCreditUser(1000, 0)
	credit := &entities.Credit{
		Channel:        entities.CreditChannelDirect,
		ProposedAmount: 400,
		ReferenceType:  entities.ReferenceTypePurchase,
		ReferenceID:    "7",
	}

	mockUserRepo.On("Update", ctx, user).Return(nil)
	mockCreditRepo.On("Record", ctx, credit).Return(nil)
	mockEventPublisher.On("Publish", mock.MatchedBy(func(event interface{}) bool {
		e, ok := event.(events.CommissionCreditedEvent)
		return ok && e.CreditedAmount == 400 && e.RecipientID == "0xa" && !e.Capped
	})).Return(nil)

	credited, err := RecordCredit(ctx, mockUserRepo, mockCreditRepo, mockEventPublisher, user, credit, 4)
	require.NoError(t, err)

	assert.Equal(t, int64(400), credited)
	assert.Equal(t, int64(400), credit.CreditedAmount)
	assert.Equal(t, int64(400), credit.BalanceAfter)
	assert.Equal(t, entities.UserID("0xa"), credit.RecipientID)

	mockUserRepo.AssertExpectations(t)
	mockCreditRepo.AssertExpectations(t)
	mockEventPublisher.AssertExpectations(t)
}

// TestRecordCreditAtCap tests that a capped user still gets a zero ledger line
func TestRecordCreditAtCap(t *testing.T) {
	ctx := context.Background()

	mockUserRepo := new(testhelpers.MockUserRepository)
	mockCreditRepo := new(testhelpers.MockCreditRepository)
	mockEventPublisher := new(testhelpers.MockEventPublisher)

	user := newCreditUser(1000, 3900)
	credit := &entities.Credit{Channel: entities.CreditChannelLevel, Level: 2, ProposedAmount: 250}

	mockUserRepo.On("Update", ctx, user).Return(nil).Once()
	mockCreditRepo.On("Record", ctx, mock.Anything).Return(nil)
	mockEventPublisher.On("Publish", mock.Anything).Return(nil)

	credited, err := RecordCredit(ctx, mockUserRepo, mockCreditRepo, mockEventPublisher, user, credit, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(100), credited)
	assert.True(t, user.IsCapped)
	assert.Equal(t, int64(150), credit.ForfeitedAmount())

	second := &entities.Credit{Channel: entities.CreditChannelLevel, Level: 2, ProposedAmount: 250}
	credited, err = RecordCredit(ctx, mockUserRepo, mockCreditRepo, mockEventPublisher, user, second, 4)
	require.NoError(t, err)
	assert.Zero(t, credited)
	assert.Equal(t, int64(4000), user.TotalEarnings)

	// the capped user is not written again
	mockUserRepo.AssertNumberOfCalls(t, "Update", 1)
	mockCreditRepo.AssertNumberOfCalls(t, "Record", 2)
}

// TestRecordCreditSkipsEmptyProposal tests that nothing is written for a zero proposal
func TestRecordCreditSkipsEmptyProposal(t *testing.T) {
	mockUserRepo := new(testhelpers.MockUserRepository)
	mockCreditRepo := new(testhelpers.MockCreditRepository)
	mockEventPublisher := new(testhelpers.MockEventPublisher)

	credited, err := RecordCredit(context.Background(), mockUserRepo, mockCreditRepo, mockEventPublisher,
		newCreditUser(1000, 0), &entities.Credit{Channel: entities.CreditChannelUpline}, 4)
	require.NoError(t, err)
	assert.Zero(t, credited)

	mockUserRepo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
	mockCreditRepo.AssertNotCalled(t, "Record", mock.Anything, mock.Anything)
	mockEventPublisher.AssertNotCalled(t, "Publish", mock.Anything)
}

// TestRecordCreditErrors tests repository failures and that publish failures are swallowed
func TestRecordCreditErrors(t *testing.T) {
	ctx := context.Background()
	dbErr := errors.New("database error")

	t.Run("user update fails", func(t *testing.T) {
		mockUserRepo := new(testhelpers.MockUserRepository)
		mockCreditRepo := new(testhelpers.MockCreditRepository)
		mockEventPublisher := new(testhelpers.MockEventPublisher)

		mockUserRepo.On("Update", ctx, mock.Anything).Return(dbErr)

		_, err := RecordCredit(ctx, mockUserRepo, mockCreditRepo, mockEventPublisher,
			newCreditUser(1000, 0), &entities.Credit{ProposedAmount: 10}, 4)
		assert.ErrorIs(t, err, dbErr)
		mockCreditRepo.AssertNotCalled(t, "Record", mock.Anything, mock.Anything)
	})

	t.Run("ledger line fails", func(t *testing.T) {
		mockUserRepo := new(testhelpers.MockUserRepository)
		mockCreditRepo := new(testhelpers.MockCreditRepository)
		mockEventPublisher := new(testhelpers.MockEventPublisher)

		mockUserRepo.On("Update", ctx, mock.Anything).Return(nil)
		mockCreditRepo.On("Record", ctx, mock.Anything).Return(dbErr)

		_, err := RecordCredit(ctx, mockUserRepo, mockCreditRepo, mockEventPublisher,
			newCreditUser(1000, 0), &entities.Credit{ProposedAmount: 10}, 4)
		assert.ErrorIs(t, err, dbErr)
		mockEventPublisher.AssertNotCalled(t, "Publish", mock.Anything)
	})

	t.Run("publish fails", func(t *testing.T) {
		mockUserRepo := new(testhelpers.MockUserRepository)
		mockCreditRepo := new(testhelpers.MockCreditRepository)
		mockEventPublisher := new(testhelpers.MockEventPublisher)

		mockUserRepo.On("Update", ctx, mock.Anything).Return(nil)
		mockCreditRepo.On("Record", ctx, mock.Anything).Return(nil)
		mockEventPublisher.On("Publish", mock.Anything).Return(errors.New("nats down"))

		credited, err := RecordCredit(ctx, mockUserRepo, mockCreditRepo, mockEventPublisher,
			newCreditUser(1000, 0), &entities.Credit{ProposedAmount: 10}, 4)
		require.NoError(t, err)
		assert.Equal(t, int64(10), credited)
	})
}
