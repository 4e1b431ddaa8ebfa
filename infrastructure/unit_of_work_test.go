package infrastructure

import (
	"context"
	"testing"

	"matrixfund/domain/entities"
	"matrixfund/domain/events"
	"matrixfund/domain/testhelpers"
	"matrixfund/infrastructure/observability"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWrappedUnitOfWork(store *testhelpers.MemoryStore, recorder *testhelpers.EventRecorder) *unitOfWork {
	return &unitOfWork{
		inner:                  store.NewUnitOfWork(nil),
		transactionalPublisher: NewNATSTransactionalPublisher(recorder),
		mode:                   observability.ModeReadWrite,
	}
}

func TestUnitOfWork_CommitFlushesEvents(t *testing.T) {
	ctx := context.Background()
	store := testhelpers.NewMemoryStore()
	recorder := testhelpers.NewEventRecorder()
	uow := newWrappedUnitOfWork(store, recorder)

	require.NoError(t, uow.Begin(ctx))
	require.NoError(t, uow.UserRepository().Create(ctx, &entities.User{ID: "0xa", IsActive: true}))
	require.NoError(t, uow.EventBus().Publish(events.UserRegisteredEvent{UserID: "0xa"}))
	assert.Empty(t, recorder.Events())

	require.NoError(t, uow.Commit())

	assert.NotNil(t, store.User("0xa"))
	require.Len(t, recorder.Events(), 1)
	assert.Equal(t, events.EventTypeUserRegistered, recorder.Events()[0].Type())
}

func TestUnitOfWork_RollbackDiscardsEvents(t *testing.T) {
	ctx := context.Background()
	store := testhelpers.NewMemoryStore()
	recorder := testhelpers.NewEventRecorder()
	uow := newWrappedUnitOfWork(store, recorder)

	require.NoError(t, uow.Begin(ctx))
	require.NoError(t, uow.UserRepository().Create(ctx, &entities.User{ID: "0xa", IsActive: true}))
	require.NoError(t, uow.EventBus().Publish(events.UserRegisteredEvent{UserID: "0xa"}))

	require.NoError(t, uow.Rollback())

	assert.Nil(t, store.User("0xa"))
	assert.Empty(t, recorder.Events())

	// rolling back twice is harmless
	assert.NoError(t, uow.Rollback())
}

func TestUnitOfWork_FailedCommitDiscardsEvents(t *testing.T) {
	recorder := testhelpers.NewEventRecorder()
	uow := newWrappedUnitOfWork(testhelpers.NewMemoryStore(), recorder)

	// commit without begin fails in the inner unit of work
	require.NoError(t, uow.EventBus().Publish(events.UserRegisteredEvent{UserID: "0xa"}))
	require.Error(t, uow.Commit())

	assert.Empty(t, recorder.Events())
	assert.Zero(t, uow.transactionalPublisher.Pending())
}
