package entities

import "time"

// AutomationState tracks scheduling and failure history for one distribution job.
// Jobs are named after the pool they drain.
type AutomationState struct {
	Job                    PoolType   `db:"job"`
	LastDistributionTime   time.Time  `db:"last_distribution_time"`
	ConsecutiveFailures    int        `db:"consecutive_failures"`
	CircuitBreakerOpen     bool       `db:"circuit_breaker_open"`
	CircuitBreakerOpenedAt *time.Time `db:"circuit_breaker_opened_at"`
	LastFailureReason      string     `db:"last_failure_reason"`
	TotalRuns              int64      `db:"total_runs"`
	UpdatedAt              time.Time  `db:"updated_at"`
}

// RecordSuccess clears the failure streak after a successful step
func (s *AutomationState) RecordSuccess() {
	s.ConsecutiveFailures = 0
	s.LastFailureReason = ""
}

// RecordFailure bumps the failure streak and opens the breaker once it reaches
// the threshold. Returns true when this call opened the breaker.
func (s *AutomationState) RecordFailure(now time.Time, reason string, threshold int) bool {
	s.ConsecutiveFailures++
	s.LastFailureReason = reason
	if s.CircuitBreakerOpen || s.ConsecutiveFailures < threshold {
		return false
	}
	s.CircuitBreakerOpen = true
	openedAt := now
	s.CircuitBreakerOpenedAt = &openedAt
	return true
}

// CooldownElapsed returns true when an open breaker may close
func (s *AutomationState) CooldownElapsed(now time.Time, cooldown time.Duration) bool {
	if !s.CircuitBreakerOpen || s.CircuitBreakerOpenedAt == nil {
		return false
	}
	return !now.Before(s.CircuitBreakerOpenedAt.Add(cooldown))
}

// CloseBreaker closes the breaker and clears the failure streak
func (s *AutomationState) CloseBreaker() {
	s.CircuitBreakerOpen = false
	s.CircuitBreakerOpenedAt = nil
	s.ConsecutiveFailures = 0
	s.LastFailureReason = ""
}

// MarkDistributed consumes the current scheduling window
func (s *AutomationState) MarkDistributed(now time.Time) {
	s.LastDistributionTime = now
	s.TotalRuns++
}
