package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"matrixfund/domain/entities"
	"matrixfund/domain/events"
	"matrixfund/domain/interfaces"
	"matrixfund/domain/utils"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// DistributionStatus is the outcome of one distribution step
type DistributionStatus string

const (
	DistributionNotDue     DistributionStatus = "not_due"
	DistributionInProgress DistributionStatus = "in_progress"
	DistributionCompleted  DistributionStatus = "completed"
	DistributionFailed     DistributionStatus = "failed"
)

// DistributionConfig holds the scheduler's operating limits
type DistributionConfig struct {
	BatchSize        int
	FailureThreshold int
	RetryBudget      int
	Cooldown         time.Duration
	AdminReserve     entities.UserID
}

// UpkeepStatus reports whether a distribution step has work to do
type UpkeepStatus struct {
	Due         bool                `json:"due"`
	Job         entities.PoolType   `json:"job,omitempty"`
	RunID       string              `json:"runId,omitempty"`
	Continuing  bool                `json:"continuing"`
	CircuitOpen []entities.PoolType `json:"circuitOpen,omitempty"`
}

// DistributionResult summarizes one call to PerformDistribution
type DistributionResult struct {
	Status              DistributionStatus `json:"status"`
	Job                 entities.PoolType  `json:"job,omitempty"`
	RunID               string             `json:"runId,omitempty"`
	Paid                int                `json:"paid"`
	Distributed         int64              `json:"distributed"`
	Returned            int64              `json:"returned"`
	Reserved            int64              `json:"reserved"`
	RemainingRecipients int                `json:"remainingRecipients"`
	ConsecutiveFailures int                `json:"consecutiveFailures,omitempty"`
	BreakerOpened       bool               `json:"breakerOpened,omitempty"`
}

// StepError attributes a failed distribution step to its job
type StepError struct {
	Job entities.PoolType
	Err error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s distribution failed: %v", e.Job, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// JobOf returns the job a step error belongs to
func JobOf(err error) (entities.PoolType, bool) {
	var stepErr *StepError
	if errors.As(err, &stepErr) {
		return stepErr.Job, true
	}
	return "", false
}

// DistributionService drains the reward pools in bounded, resumable steps
type DistributionService struct {
	userRepo       interfaces.UserRepository
	poolRepo       interfaces.PoolRepository
	creditRepo     interfaces.CreditRepository
	automationRepo interfaces.AutomationRepository
	runRepo        interfaces.DistributionRunRepository
	transfer       interfaces.ValueTransfer
	eventPublisher interfaces.EventPublisher
	plan           entities.CompensationPlan
	schedule       *Schedule
	config         DistributionConfig
}

// NewDistributionService creates a new distribution service
func NewDistributionService(
	userRepo interfaces.UserRepository,
	poolRepo interfaces.PoolRepository,
	creditRepo interfaces.CreditRepository,
	automationRepo interfaces.AutomationRepository,
	runRepo interfaces.DistributionRunRepository,
	transfer interfaces.ValueTransfer,
	eventPublisher interfaces.EventPublisher,
	plan entities.CompensationPlan,
	schedule *Schedule,
	config DistributionConfig,
) *DistributionService {
	if config.BatchSize <= 0 {
		config.BatchSize = 50
	}
	return &DistributionService{
		userRepo:       userRepo,
		poolRepo:       poolRepo,
		creditRepo:     creditRepo,
		automationRepo: automationRepo,
		runRepo:        runRepo,
		transfer:       transfer,
		eventPublisher: eventPublisher,
		plan:           plan,
		schedule:       schedule,
		config:         config,
	}
}

// pending is the work selected for the next step
type pending struct {
	run   *entities.DistributionRun
	job   entities.PoolType
	state *entities.AutomationState
}

// CheckUpkeep reports whether PerformDistribution would do anything at now
func (s *DistributionService) CheckUpkeep(ctx context.Context, now time.Time) (*UpkeepStatus, error) {
	next, open, err := s.selectWork(ctx, now)
	if err != nil {
		return nil, err
	}
	status := &UpkeepStatus{CircuitOpen: open}
	if next == nil {
		return status, nil
	}
	status.Due = true
	status.Job = next.job
	if next.run != nil {
		status.RunID = next.run.ID
		status.Continuing = true
	}
	return status, nil
}

// PerformDistribution continues the in-progress run or opens a run for the first
// due job, then pays at most one batch of recipients.
func (s *DistributionService) PerformDistribution(ctx context.Context, now time.Time) (*DistributionResult, error) {
	next, _, err := s.selectWork(ctx, now)
	if err != nil {
		return nil, err
	}
	if next == nil {
		return &DistributionResult{Status: DistributionNotDue}, nil
	}

	result, err := s.step(ctx, next, now)
	if err != nil {
		return nil, &StepError{Job: next.job, Err: err}
	}
	return result, nil
}

func (s *DistributionService) step(ctx context.Context, next *pending, now time.Time) (*DistributionResult, error) {
	reopened := next.state.CircuitBreakerOpen
	if reopened {
		next.state.CloseBreaker()
	}

	run := next.run
	if run == nil {
		opened, err := s.openRun(ctx, next.job, next.state, now)
		if err != nil {
			return nil, err
		}
		run = opened
	}

	result := &DistributionResult{Job: run.Job, RunID: run.ID}
	if !run.IsCompleted() {
		if err := s.payBatch(ctx, run, result, now); err != nil {
			return nil, err
		}
	}

	next.state.RecordSuccess()
	if err := s.automationRepo.Save(ctx, next.state); err != nil {
		return nil, fmt.Errorf("failed to save automation state: %w", err)
	}
	if reopened {
		s.publish(events.CircuitBreakerClosedEvent{Job: next.job})
		log.WithField("job", next.job).Info("Circuit breaker closed after cooldown")
	}

	result.Returned = run.ReturnedAmount
	result.Reserved = run.ReservedAmount
	result.RemainingRecipients = run.RecipientCount - run.PaidCount
	if run.IsCompleted() {
		result.Status = DistributionCompleted
	} else {
		result.Status = DistributionInProgress
	}
	return result, nil
}

// selectWork returns the in-progress run or the first due job, plus every job
// whose breaker is still flagged open. A breaker past its cooldown no longer
// holds its job back; the step that picks the job closes it. Only one run is in
// progress at a time, so a held in-progress run also holds every other job.
func (s *DistributionService) selectWork(ctx context.Context, now time.Time) (*pending, []entities.PoolType, error) {
	states, err := s.loadStates(ctx)
	if err != nil {
		return nil, nil, err
	}

	var open []entities.PoolType
	for _, job := range entities.AllPoolTypes() {
		if state, ok := states[job]; ok && state.CircuitBreakerOpen {
			open = append(open, job)
		}
	}

	run, err := s.runRepo.GetInProgress(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get in-progress run: %w", err)
	}
	if run != nil {
		state, ok := states[run.Job]
		if !ok {
			return nil, nil, fmt.Errorf("no automation state for %s", run.Job)
		}
		if s.held(state, now) {
			return nil, open, nil
		}
		return &pending{run: run, job: run.Job, state: state}, open, nil
	}

	for _, job := range s.schedule.Jobs() {
		state, ok := states[job]
		if !ok {
			log.WithField("job", job).Warn("Distribution job has no automation state")
			continue
		}
		if s.held(state, now) {
			continue
		}
		if s.schedule.IsDue(job, state.LastDistributionTime, now) {
			return &pending{job: job, state: state}, open, nil
		}
	}
	return nil, open, nil
}

// held reports whether an open breaker still blocks the job at now
func (s *DistributionService) held(state *entities.AutomationState, now time.Time) bool {
	return state.CircuitBreakerOpen && !state.CooldownElapsed(now, s.config.Cooldown)
}

func (s *DistributionService) loadStates(ctx context.Context) (map[entities.PoolType]*entities.AutomationState, error) {
	all, err := s.automationRepo.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get automation states: %w", err)
	}
	states := make(map[entities.PoolType]*entities.AutomationState, len(all))
	for _, state := range all {
		states[state.Job] = state
	}
	return states, nil
}

// openRun moves the pool balance into a new run and snapshots its recipients
func (s *DistributionService) openRun(ctx context.Context, job entities.PoolType, state *entities.AutomationState, now time.Time) (*entities.DistributionRun, error) {
	pool, err := s.poolRepo.Get(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s pool: %w", job, err)
	}

	run := &entities.DistributionRun{
		ID:          uuid.New().String(),
		Job:         job,
		Status:      entities.RunStatusInProgress,
		TotalAmount: pool.Balance,
		Allotments:  map[string]entities.RunAllotment{},
		StartedAt:   now,
	}
	if err := s.runRepo.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to create distribution run: %w", err)
	}

	groups, err := s.runRepo.SnapshotRecipients(ctx, run.ID, s.criteriaFor(job, now))
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot recipients: %w", err)
	}
	run.Allotments = s.allot(job, run.TotalAmount, groups)
	for _, allotment := range run.Allotments {
		run.RecipientCount += allotment.Recipients
	}

	if run.TotalAmount > 0 {
		if err := s.poolRepo.Withdraw(ctx, job, run.TotalAmount); err != nil {
			return nil, fmt.Errorf("failed to move %s pool into run: %w", job, err)
		}
	}
	state.MarkDistributed(now)

	if run.RecipientCount == 0 {
		if err := s.finishEmpty(ctx, run, now); err != nil {
			return nil, err
		}
	}

	if err := s.runRepo.Update(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to update distribution run: %w", err)
	}

	s.publish(events.DistributionStartedEvent{
		RunID:      run.ID,
		Job:        job,
		Amount:     run.TotalAmount,
		Recipients: run.RecipientCount,
	})
	if run.IsCompleted() {
		s.publishCompleted(run)
	}

	log.WithFields(log.Fields{
		"runID":      run.ID,
		"job":        job,
		"amount":     run.TotalAmount,
		"recipients": run.RecipientCount,
	}).Info("Distribution run opened")

	return run, nil
}

// finishEmpty closes a run nobody is eligible for. An unclaimed global help pool
// goes to the admin reserve; other pools keep their balance for the next window.
func (s *DistributionService) finishEmpty(ctx context.Context, run *entities.DistributionRun, now time.Time) error {
	if run.TotalAmount > 0 {
		if run.Job == entities.PoolTypeGlobalHelp {
			if err := s.transfer.TransferOut(ctx, s.config.AdminReserve, run.TotalAmount); err != nil {
				return fmt.Errorf("failed to send unclaimed global help pool to reserve: %w", err)
			}
			if err := s.poolRepo.AddDistributed(ctx, run.Job, run.TotalAmount); err != nil {
				return fmt.Errorf("failed to record reserved amount: %w", err)
			}
			run.ReservedAmount = run.TotalAmount
			log.WithFields(log.Fields{
				"runID":   run.ID,
				"amount":  run.TotalAmount,
				"reserve": s.config.AdminReserve,
			}).Warn("No eligible global help recipients, pool sent to admin reserve")
		} else {
			if err := s.poolRepo.Refund(ctx, run.Job, run.TotalAmount); err != nil {
				return fmt.Errorf("failed to return run balance to %s pool: %w", run.Job, err)
			}
			run.ReturnedAmount = run.TotalAmount
		}
	}
	run.Complete(now)
	return nil
}

// criteriaFor returns who a job pays and how they are weighted
func (s *DistributionService) criteriaFor(job entities.PoolType, now time.Time) entities.RecipientCriteria {
	switch job {
	case entities.PoolTypeLeaderBonus:
		return entities.RecipientCriteria{
			ExcludeCapped: true,
			Ranks:         []entities.LeaderRank{entities.LeaderRankShiningStar, entities.LeaderRankSilverStar},
			Weighting:     entities.WeightEqual,
			GroupByRank:   true,
		}
	case entities.PoolTypeClub:
		return entities.RecipientCriteria{
			ExcludeCapped: true,
			MinTier:       entities.PackageTierGold,
			Weighting:     entities.WeightEqual,
		}
	default:
		activeSince := now.Add(-s.plan.ActivityWindow)
		return entities.RecipientCriteria{
			ActiveSince:   &activeSince,
			ExcludeCapped: true,
			Weighting:     entities.WeightByInvestment,
		}
	}
}

// allot assigns the run amount to the recipient groups. The leader pool is split
// between the two ranks; a rank nobody holds leaves its share in the run.
func (s *DistributionService) allot(job entities.PoolType, amount int64, groups map[string]entities.RunAllotment) map[string]entities.RunAllotment {
	allotments := make(map[string]entities.RunAllotment, len(groups))
	if job != entities.PoolTypeLeaderBonus {
		if group, ok := groups[entities.RecipientGroupAll]; ok && group.Recipients > 0 {
			group.Amount = amount
			allotments[entities.RecipientGroupAll] = group
		}
		return allotments
	}

	shining := entities.PercentOf(amount, s.plan.LeaderShiningShareBps)
	shares := map[string]int64{
		entities.LeaderRankShiningStar.String(): shining,
		entities.LeaderRankSilverStar.String():  amount - shining,
	}
	for name, share := range shares {
		if group, ok := groups[name]; ok && group.Recipients > 0 {
			group.Amount = share
			allotments[name] = group
		}
	}
	return allotments
}

// payBatch credits the next unpaid recipients and completes the run once all are paid
func (s *DistributionService) payBatch(ctx context.Context, run *entities.DistributionRun, result *DistributionResult, now time.Time) error {
	recipients, err := s.runRepo.NextUnpaid(ctx, run.ID, s.config.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to get unpaid recipients: %w", err)
	}

	ids := make([]entities.UserID, 0, len(recipients))
	for _, recipient := range recipients {
		ids = append(ids, recipient.UserID)
	}
	users, err := s.userRepo.GetByIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("failed to load recipients: %w", err)
	}
	byID := make(map[entities.UserID]*entities.User, len(users))
	for _, user := range users {
		byID[user.ID] = user
	}

	var distributed int64
	for _, recipient := range recipients {
		var credited int64
		if user, ok := byID[recipient.UserID]; ok {
			credit := &entities.Credit{
				Channel:        entities.ChannelForPool(run.Job),
				ProposedAmount: run.ShareFor(recipient.Group, recipient.Weight),
				ReferenceType:  entities.ReferenceTypeDistributionRun,
				ReferenceID:    run.ID,
			}
			credited, err = utils.RecordCredit(ctx, s.userRepo, s.creditRepo, s.eventPublisher, user, credit, s.plan.EarningsCapMultiplier)
			if err != nil {
				return err
			}
		}
		if err := s.runRepo.MarkPaid(ctx, run.ID, recipient.UserID, credited); err != nil {
			return fmt.Errorf("failed to mark %s paid: %w", recipient.UserID, err)
		}
		distributed += credited
		run.PaidCount++
	}

	if distributed > 0 {
		if err := s.poolRepo.AddDistributed(ctx, run.Job, distributed); err != nil {
			return fmt.Errorf("failed to record distributed amount: %w", err)
		}
	}
	run.DistributedAmount += distributed
	result.Paid = len(recipients)
	result.Distributed = distributed

	if run.PaidCount >= run.RecipientCount || len(recipients) == 0 {
		returned := run.Remaining()
		if returned > 0 {
			if err := s.poolRepo.Refund(ctx, run.Job, returned); err != nil {
				return fmt.Errorf("failed to return remainder to %s pool: %w", run.Job, err)
			}
			run.ReturnedAmount += returned
		}
		run.Complete(now)
	}

	if err := s.runRepo.Update(ctx, run); err != nil {
		return fmt.Errorf("failed to update distribution run: %w", err)
	}

	if run.IsCompleted() {
		s.publishCompleted(run)
		log.WithFields(log.Fields{
			"runID":       run.ID,
			"job":         run.Job,
			"distributed": run.DistributedAmount,
			"returned":    run.ReturnedAmount,
			"recipients":  run.RecipientCount,
		}).Info("Distribution run completed")
	}
	return nil
}

// RecordFailure counts a failed step against the job and opens its breaker at
// the threshold. Within the retry budget the failure is returned as an error,
// afterwards it is only reported in the result.
func (s *DistributionService) RecordFailure(ctx context.Context, job entities.PoolType, cause error, now time.Time) (*DistributionResult, error) {
	state, err := s.automationRepo.Get(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("failed to get automation state: %w", err)
	}
	if state == nil {
		return nil, fmt.Errorf("no automation state for %s", job)
	}

	if state.CooldownElapsed(now, s.config.Cooldown) {
		state.CloseBreaker()
		s.publish(events.CircuitBreakerClosedEvent{Job: job})
	}

	reason := failureReason(cause)
	opened := state.RecordFailure(now, reason, s.config.FailureThreshold)
	if err := s.automationRepo.Save(ctx, state); err != nil {
		return nil, fmt.Errorf("failed to save automation state: %w", err)
	}

	s.publish(events.DistributionFailedEvent{
		Job:                 job,
		Reason:              reason,
		ConsecutiveFailures: state.ConsecutiveFailures,
	})
	if opened {
		s.publish(events.CircuitBreakerOpenedEvent{
			Job:      job,
			Failures: state.ConsecutiveFailures,
			OpenedAt: now,
		})
		log.WithFields(log.Fields{
			"job":      job,
			"failures": state.ConsecutiveFailures,
		}).Error("Circuit breaker opened")
	} else {
		log.WithFields(log.Fields{
			"job":      job,
			"failures": state.ConsecutiveFailures,
			"error":    cause,
		}).Warn("Distribution step failed")
	}

	result := &DistributionResult{
		Status:              DistributionFailed,
		Job:                 job,
		ConsecutiveFailures: state.ConsecutiveFailures,
		BreakerOpened:       opened,
	}
	if state.ConsecutiveFailures <= s.config.RetryBudget {
		return result, fmt.Errorf("%w: %v", ErrAutomationFailure, cause)
	}
	return result, nil
}

// failureReason drops the job attribution, which the automation state already carries
func failureReason(cause error) string {
	var stepErr *StepError
	if errors.As(cause, &stepErr) && stepErr.Err != nil {
		return stepErr.Err.Error()
	}
	return cause.Error()
}

// RefreshBreakers closes every breaker whose cooldown has elapsed
func (s *DistributionService) RefreshBreakers(ctx context.Context, now time.Time) ([]entities.PoolType, error) {
	states, err := s.automationRepo.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get automation states: %w", err)
	}

	var closed []entities.PoolType
	for _, state := range states {
		if !state.CooldownElapsed(now, s.config.Cooldown) {
			continue
		}
		state.CloseBreaker()
		if err := s.automationRepo.Save(ctx, state); err != nil {
			return nil, fmt.Errorf("failed to close %s breaker: %w", state.Job, err)
		}
		s.publish(events.CircuitBreakerClosedEvent{Job: state.Job})
		log.WithField("job", state.Job).Info("Circuit breaker closed after cooldown")
		closed = append(closed, state.Job)
	}
	return closed, nil
}

// ResetCircuitBreaker closes an open breaker by hand. The caller authorizes the actor.
func (s *DistributionService) ResetCircuitBreaker(ctx context.Context, job entities.PoolType, actor entities.UserID) error {
	if !job.IsValid() {
		return fmt.Errorf("%w: %q", ErrUnknownJob, job)
	}
	state, err := s.automationRepo.Get(ctx, job)
	if err != nil {
		return fmt.Errorf("failed to get automation state: %w", err)
	}
	if state == nil || !state.CircuitBreakerOpen {
		return ErrNothingToReset
	}

	state.CloseBreaker()
	if err := s.automationRepo.Save(ctx, state); err != nil {
		return fmt.Errorf("failed to save automation state: %w", err)
	}

	by := actor
	s.publish(events.CircuitBreakerClosedEvent{Job: job, Manual: true, By: &by})
	log.WithFields(log.Fields{
		"job": job,
		"by":  actor,
	}).Info("Circuit breaker reset")
	return nil
}

func (s *DistributionService) publishCompleted(run *entities.DistributionRun) {
	s.publish(events.DistributionCompletedEvent{
		RunID:       run.ID,
		Job:         run.Job,
		Distributed: run.DistributedAmount,
		Returned:    run.ReturnedAmount,
		Reserved:    run.ReservedAmount,
	})
}

func (s *DistributionService) publish(event events.Event) {
	if err := s.eventPublisher.Publish(event); err != nil {
		log.WithFields(log.Fields{
			"eventType": event.Type(),
			"error":     err,
		}).Error("Failed to publish event")
	}
}
