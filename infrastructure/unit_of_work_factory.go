package infrastructure

import (
	"matrixfund/application"
	"matrixfund/database"
	"matrixfund/domain/interfaces"
	"matrixfund/infrastructure/observability"
	"matrixfund/repository"
)

// repositoryFactory builds repository units of work bound to a publisher
type repositoryFactory interface {
	CreateWithPublisher(publisher interfaces.TransactionalEventPublisher, readOnly bool) application.UnitOfWork
}

// UnitOfWorkFactory implements the application.UnitOfWorkFactory interface.
// It creates units of work that handle both database transactions and event publishing.
type UnitOfWorkFactory struct {
	repoFactory    repositoryFactory
	eventPublisher interfaces.EventPublisher
	metrics        *observability.MetricsProvider
}

// NewUnitOfWorkFactory creates a new UnitOfWorkFactory. Committed events pass
// through the metrics recorder before reaching eventPublisher.
func NewUnitOfWorkFactory(db *database.DB, eventPublisher interfaces.EventPublisher, metrics *observability.MetricsProvider) *UnitOfWorkFactory {
	return &UnitOfWorkFactory{
		repoFactory:    repository.NewUnitOfWorkFactory(db),
		eventPublisher: NewMetricsEventPublisher(eventPublisher, metrics),
		metrics:        metrics,
	}
}

// Create creates a writable unit of work with a transactional event publisher
func (f *UnitOfWorkFactory) Create() application.UnitOfWork {
	return f.create(false)
}

// CreateReadOnly creates a read-only unit of work
func (f *UnitOfWorkFactory) CreateReadOnly() application.UnitOfWork {
	return f.create(true)
}

func (f *UnitOfWorkFactory) create(readOnly bool) application.UnitOfWork {
	transactionalPublisher := NewNATSTransactionalPublisher(f.eventPublisher)

	mode := observability.ModeReadWrite
	if readOnly {
		mode = observability.ModeReadOnly
	}

	return &unitOfWork{
		inner:                  f.repoFactory.CreateWithPublisher(transactionalPublisher, readOnly),
		transactionalPublisher: transactionalPublisher,
		metrics:                f.metrics,
		mode:                   mode,
	}
}
