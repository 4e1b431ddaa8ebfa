package observability

// Metric name prefixes
const (
	MetricPrefix = "matrixfund"
)

// Metric names
const (
	// Ledger metrics
	RegistrationsTotal   = MetricPrefix + ".ledger.registrations_total"
	CreditedAmountTotal  = MetricPrefix + ".ledger.credited_amount_total"
	ForfeitedAmountTotal = MetricPrefix + ".ledger.forfeited_amount_total"
	WithdrawalsTotal     = MetricPrefix + ".ledger.withdrawals_total"

	// Distribution metrics
	DistributionRunsTotal   = MetricPrefix + ".distribution.runs_total"
	BreakerTransitionsTotal = MetricPrefix + ".distribution.breaker_transitions_total"

	// NATS metrics
	NATSMessagesPublishedTotal = MetricPrefix + ".nats.messages_published_total"

	// Database metrics
	DatabaseTransactionsTotal   = MetricPrefix + ".database.transactions_total"
	DatabaseTransactionDuration = MetricPrefix + ".database.transaction_duration"
)

// Label keys
const (
	// Common labels
	LabelType      = "type"
	LabelEventType = "event_type"
	LabelChannel   = "channel"
	LabelJob       = "job"
	LabelStatus    = "status"

	// Database labels
	LabelMode    = "mode"
	LabelOutcome = "outcome"
)

// Registration types
const (
	RegistrationTypeNew     = "registration"
	RegistrationTypeUpgrade = "upgrade"
)

// Distribution run statuses
const (
	RunStatusStarted   = "started"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// Breaker transitions
const (
	BreakerOpened = "opened"
	BreakerClosed = "closed"
)

// Transaction modes and outcomes
const (
	ModeReadWrite = "read_write"
	ModeReadOnly  = "read_only"

	OutcomeCommit   = "commit"
	OutcomeRollback = "rollback"
)
