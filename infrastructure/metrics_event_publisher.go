package infrastructure

import (
	"matrixfund/domain/events"
	"matrixfund/domain/interfaces"
	"matrixfund/infrastructure/observability"
)

// MetricsEventPublisher records ledger metrics from committed events before
// handing them to the next publisher
type MetricsEventPublisher struct {
	next    interfaces.EventPublisher
	metrics *observability.MetricsProvider
}

// NewMetricsEventPublisher wraps next; a nil metrics provider records nothing
func NewMetricsEventPublisher(next interfaces.EventPublisher, metrics *observability.MetricsProvider) *MetricsEventPublisher {
	return &MetricsEventPublisher{next: next, metrics: metrics}
}

// Publish records the event and forwards it
func (p *MetricsEventPublisher) Publish(event events.Event) error {
	p.record(event)
	if p.next == nil {
		return nil
	}
	return p.next.Publish(event)
}

func (p *MetricsEventPublisher) record(event events.Event) {
	switch e := event.(type) {
	case events.UserRegisteredEvent:
		p.metrics.RecordRegistration(observability.RegistrationTypeNew)
	case events.PackageUpgradedEvent:
		p.metrics.RecordRegistration(observability.RegistrationTypeUpgrade)
	case events.CommissionCreditedEvent:
		p.metrics.RecordCredit(string(e.Channel), e.CreditedAmount, e.ProposedAmount-e.CreditedAmount)
	case events.WithdrawalCompletedEvent:
		p.metrics.RecordWithdrawal()
	case events.DistributionStartedEvent:
		p.metrics.RecordDistributionRun(string(e.Job), observability.RunStatusStarted)
	case events.DistributionCompletedEvent:
		p.metrics.RecordDistributionRun(string(e.Job), observability.RunStatusCompleted)
	case events.DistributionFailedEvent:
		p.metrics.RecordDistributionRun(string(e.Job), observability.RunStatusFailed)
	case events.CircuitBreakerOpenedEvent:
		p.metrics.RecordBreakerTransition(string(e.Job), observability.BreakerOpened)
	case events.CircuitBreakerClosedEvent:
		p.metrics.RecordBreakerTransition(string(e.Job), observability.BreakerClosed)
	}
}
