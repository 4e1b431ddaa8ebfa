package infrastructure

import (
	"fmt"
	"strings"

	"matrixfund/domain/events"
)

const subjectPrefix = "ledger."

// publishedEventTypes lists every event the ledger emits, in subject order
var publishedEventTypes = []events.EventType{
	events.EventTypeUserRegistered,
	events.EventTypeMatrixPlaced,
	events.EventTypePackageUpgraded,
	events.EventTypeCommissionCredited,
	events.EventTypeWithdrawalCompleted,
	events.EventTypeDistributionStarted,
	events.EventTypeDistributionCompleted,
	events.EventTypeDistributionFailed,
	events.EventTypeCircuitBreakerOpened,
	events.EventTypeCircuitBreakerClosed,
	events.EventTypeProposalCreated,
	events.EventTypeProposalApproved,
	events.EventTypeProposalExecuted,
	events.EventTypeProposalCancelled,
	events.EventTypeSystemPaused,
	events.EventTypeUserBlacklisted,
}

// EventSubjectMapper handles mapping between domain events and NATS subjects
type EventSubjectMapper struct {
	known map[events.EventType]bool
}

// NewEventSubjectMapper creates a new event subject mapper
func NewEventSubjectMapper() *EventSubjectMapper {
	known := make(map[events.EventType]bool, len(publishedEventTypes))
	for _, eventType := range publishedEventTypes {
		known[eventType] = true
	}
	return &EventSubjectMapper{known: known}
}

// MapEventToSubject converts a domain event to its NATS subject
func (m *EventSubjectMapper) MapEventToSubject(event events.Event) string {
	if !m.known[event.Type()] {
		return fmt.Sprintf("unknown.%s", event.Type())
	}
	return subjectPrefix + string(event.Type())
}

// MapSubjectToEventType converts a NATS subject back to an event type
func (m *EventSubjectMapper) MapSubjectToEventType(subject string) events.EventType {
	return events.EventType(strings.TrimPrefix(subject, subjectPrefix))
}

// GetAllSubjects returns all subjects that this service publishes to
func (m *EventSubjectMapper) GetAllSubjects() []string {
	subjects := make([]string, 0, len(publishedEventTypes))
	for _, eventType := range publishedEventTypes {
		subjects = append(subjects, subjectPrefix+string(eventType))
	}
	return subjects
}
