package events

import (
	"time"

	"matrixfund/domain/entities"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventTypeUserRegistered        EventType = "user_registered"
	EventTypeMatrixPlaced          EventType = "matrix_placed"
	EventTypePackageUpgraded       EventType = "package_upgraded"
	EventTypeCommissionCredited    EventType = "commission_credited"
	EventTypeWithdrawalCompleted   EventType = "withdrawal_completed"
	EventTypeDistributionStarted   EventType = "distribution_started"
	EventTypeDistributionCompleted EventType = "distribution_completed"
	EventTypeDistributionFailed    EventType = "distribution_failed"
	EventTypeCircuitBreakerOpened  EventType = "circuit_breaker_opened"
	EventTypeCircuitBreakerClosed  EventType = "circuit_breaker_closed"
	EventTypeProposalCreated       EventType = "proposal_created"
	EventTypeProposalApproved      EventType = "proposal_approved"
	EventTypeProposalExecuted      EventType = "proposal_executed"
	EventTypeProposalCancelled     EventType = "proposal_cancelled"
	EventTypeSystemPaused          EventType = "system_paused"
	EventTypeUserBlacklisted       EventType = "user_blacklisted"
)

// Event is the base interface for all events
type Event interface {
	Type() EventType
}

// UserRegisteredEvent is emitted once a new user is placed and paid for
type UserRegisteredEvent struct {
	UserID    entities.UserID      `json:"userId"`
	SponsorID entities.UserID      `json:"sponsorId"`
	Tier      entities.PackageTier `json:"tier"`
	Amount    int64                `json:"amount"`
	Timestamp time.Time            `json:"timestamp"`
}

func (e UserRegisteredEvent) Type() EventType {
	return EventTypeUserRegistered
}

// MatrixPlacedEvent reports where a user landed in the matrix
type MatrixPlacedEvent struct {
	Position entities.MatrixPosition `json:"position"`
	Sponsor  entities.UserID         `json:"sponsor"`
}

func (e MatrixPlacedEvent) Type() EventType {
	return EventTypeMatrixPlaced
}

// PackageUpgradedEvent is emitted on a tier upgrade
type PackageUpgradedEvent struct {
	UserID   entities.UserID      `json:"userId"`
	FromTier entities.PackageTier `json:"fromTier"`
	ToTier   entities.PackageTier `json:"toTier"`
	Amount   int64                `json:"amount"`
}

func (e PackageUpgradedEvent) Type() EventType {
	return EventTypePackageUpgraded
}

// CommissionCreditedEvent is emitted for every individual credit
type CommissionCreditedEvent struct {
	RecipientID    entities.UserID        `json:"recipientId"`
	Channel        entities.CreditChannel `json:"channel"`
	Level          int                    `json:"level,omitempty"`
	ProposedAmount int64                  `json:"proposedAmount"`
	CreditedAmount int64                  `json:"creditedAmount"`
	Capped         bool                   `json:"capped"`
	ReferenceType  entities.ReferenceType `json:"referenceType"`
	ReferenceID    string                 `json:"referenceId"`
}

func (e CommissionCreditedEvent) Type() EventType {
	return EventTypeCommissionCredited
}

// WithdrawalCompletedEvent is emitted after a withdrawal and its reinvestment
type WithdrawalCompletedEvent struct {
	UserID           entities.UserID `json:"userId"`
	WithdrawnAmount  int64           `json:"withdrawnAmount"`
	FeeAmount        int64           `json:"feeAmount"`
	NetAmount        int64           `json:"netAmount"`
	ReinvestedAmount int64           `json:"reinvestedAmount"`
}

func (e WithdrawalCompletedEvent) Type() EventType {
	return EventTypeWithdrawalCompleted
}

// DistributionStartedEvent is emitted when a run snapshots its recipients
type DistributionStartedEvent struct {
	RunID      string            `json:"runId"`
	Job        entities.PoolType `json:"job"`
	Amount     int64             `json:"amount"`
	Recipients int               `json:"recipients"`
}

func (e DistributionStartedEvent) Type() EventType {
	return EventTypeDistributionStarted
}

// DistributionCompletedEvent is emitted when a run has paid everyone
type DistributionCompletedEvent struct {
	RunID       string            `json:"runId"`
	Job         entities.PoolType `json:"job"`
	Distributed int64             `json:"distributed"`
	Returned    int64             `json:"returned"`
	Reserved    int64             `json:"reserved"`
}

func (e DistributionCompletedEvent) Type() EventType {
	return EventTypeDistributionCompleted
}

// DistributionFailedEvent is emitted for every failed distribution step
type DistributionFailedEvent struct {
	Job                 entities.PoolType `json:"job"`
	Reason              string            `json:"reason"`
	ConsecutiveFailures int               `json:"consecutiveFailures"`
}

func (e DistributionFailedEvent) Type() EventType {
	return EventTypeDistributionFailed
}

// CircuitBreakerOpenedEvent is emitted when repeated failures halt a job
type CircuitBreakerOpenedEvent struct {
	Job      entities.PoolType `json:"job"`
	Failures int               `json:"failures"`
	OpenedAt time.Time         `json:"openedAt"`
}

func (e CircuitBreakerOpenedEvent) Type() EventType {
	return EventTypeCircuitBreakerOpened
}

// CircuitBreakerClosedEvent is emitted on cooldown expiry or admin reset
type CircuitBreakerClosedEvent struct {
	Job    entities.PoolType `json:"job"`
	Manual bool              `json:"manual"`
	By     *entities.UserID  `json:"by,omitempty"`
}

func (e CircuitBreakerClosedEvent) Type() EventType {
	return EventTypeCircuitBreakerClosed
}

// ProposalCreatedEvent is emitted for a new treasury proposal
type ProposalCreatedEvent struct {
	ProposalID int64                   `json:"proposalId"`
	Action     entities.ProposalAction `json:"action"`
	Proposer   entities.UserID         `json:"proposer"`
	Amount     int64                   `json:"amount"`
	Reason     string                  `json:"reason"`
}

func (e ProposalCreatedEvent) Type() EventType {
	return EventTypeProposalCreated
}

// ProposalApprovedEvent is emitted for each accepted approval
type ProposalApprovedEvent struct {
	ProposalID int64           `json:"proposalId"`
	Signer     entities.UserID `json:"signer"`
	Approvals  int             `json:"approvals"`
}

func (e ProposalApprovedEvent) Type() EventType {
	return EventTypeProposalApproved
}

// ProposalExecutedEvent is emitted when the threshold approval runs the action
type ProposalExecutedEvent struct {
	ProposalID int64                   `json:"proposalId"`
	Action     entities.ProposalAction `json:"action"`
}

func (e ProposalExecutedEvent) Type() EventType {
	return EventTypeProposalExecuted
}

// ProposalCancelledEvent is emitted on explicit cancel or expiry cleanup
type ProposalCancelledEvent struct {
	ProposalID int64 `json:"proposalId"`
	Expired    bool  `json:"expired"`
}

func (e ProposalCancelledEvent) Type() EventType {
	return EventTypeProposalCancelled
}

// SystemPausedEvent is emitted when the pause flag flips
type SystemPausedEvent struct {
	Paused bool            `json:"paused"`
	By     entities.UserID `json:"by"`
	Reason string          `json:"reason,omitempty"`
}

func (e SystemPausedEvent) Type() EventType {
	return EventTypeSystemPaused
}

// UserBlacklistedEvent is emitted when an address is blacklisted or cleared
type UserBlacklistedEvent struct {
	UserID      entities.UserID `json:"userId"`
	Blacklisted bool            `json:"blacklisted"`
	By          entities.UserID `json:"by"`
}

func (e UserBlacklistedEvent) Type() EventType {
	return EventTypeUserBlacklisted
}
