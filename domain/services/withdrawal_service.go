package services

import (
	"context"
	"fmt"
	"time"

	"matrixfund/domain/entities"
	"matrixfund/domain/events"
	"matrixfund/domain/interfaces"

	log "github.com/sirupsen/logrus"
)

// WithdrawalQuote previews how a user's withdrawable balance would be split
type WithdrawalQuote struct {
	UserID       entities.UserID                 `json:"userId"`
	Withdrawable int64                           `json:"withdrawable"`
	WithdrawBps  int64                           `json:"withdrawBps"`
	Withdrawn    int64                           `json:"withdrawn"`
	FeeBps       int64                           `json:"feeBps"`
	Fee          int64                           `json:"fee"`
	Net          int64                           `json:"net"`
	Reinvested   int64                           `json:"reinvested"`
	Reinvestment entities.ReinvestmentAllocation `json:"reinvestment"`
}

// WithdrawalResult is a completed withdrawal and the fate of its reinvested part
type WithdrawalResult struct {
	Withdrawal   *entities.Withdrawal `json:"withdrawal"`
	Reinvestment *ReinvestmentResult  `json:"reinvestment"`
}

// WithdrawalService pays out withdrawable balances
type WithdrawalService struct {
	userRepo       interfaces.UserRepository
	withdrawalRepo interfaces.WithdrawalRepository
	governanceRepo interfaces.GovernanceRepository
	transfer       interfaces.ValueTransfer
	commission     *CommissionService
	eventPublisher interfaces.EventPublisher
	plan           entities.CompensationPlan
	adminReserve   entities.UserID
}

// NewWithdrawalService creates a new withdrawal service
func NewWithdrawalService(
	userRepo interfaces.UserRepository,
	withdrawalRepo interfaces.WithdrawalRepository,
	governanceRepo interfaces.GovernanceRepository,
	transfer interfaces.ValueTransfer,
	commission *CommissionService,
	eventPublisher interfaces.EventPublisher,
	plan entities.CompensationPlan,
	adminReserve entities.UserID,
) *WithdrawalService {
	return &WithdrawalService{
		userRepo:       userRepo,
		withdrawalRepo: withdrawalRepo,
		governanceRepo: governanceRepo,
		transfer:       transfer,
		commission:     commission,
		eventPublisher: eventPublisher,
		plan:           plan,
		adminReserve:   adminReserve,
	}
}

// Quote computes the withdrawal split without changing anything
func (s *WithdrawalService) Quote(ctx context.Context, userID entities.UserID) (*WithdrawalQuote, error) {
	user, err := s.getUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.quote(ctx, user)
}

func (s *WithdrawalService) quote(ctx context.Context, user *entities.User) (*WithdrawalQuote, error) {
	state, err := s.governanceRepo.GetState(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get governance state: %w", err)
	}

	q := &WithdrawalQuote{
		UserID:       user.ID,
		Withdrawable: user.WithdrawableAmount,
		WithdrawBps:  s.plan.WithdrawBpsFor(user.DirectReferralsCount),
		FeeBps:       state.EffectiveAdminFeeBps(s.plan.AdminFeeBps),
	}
	q.Withdrawn = entities.PercentOf(q.Withdrawable, q.WithdrawBps)
	q.Fee = entities.PercentOf(q.Withdrawn, q.FeeBps)
	q.Net = q.Withdrawn - q.Fee
	q.Reinvested = q.Withdrawable - q.Withdrawn
	q.Reinvestment = s.plan.SplitReinvestment(q.Reinvested)
	return q, nil
}

// Withdraw drains the user's withdrawable balance: the withdrawn part is paid out
// less the admin fee and the rest is reinvested into the network.
func (s *WithdrawalService) Withdraw(ctx context.Context, userID entities.UserID, now time.Time) (*WithdrawalResult, error) {
	user, err := s.getUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.IsBlacklisted {
		return nil, fmt.Errorf("%w: %s", ErrBlacklisted, userID)
	}
	if user.WithdrawableAmount <= 0 {
		return nil, ErrNothingToWithdraw
	}

	q, err := s.quote(ctx, user)
	if err != nil {
		return nil, err
	}

	user.DrainWithdrawable()
	user.TotalWithdrawn += q.Withdrawn
	user.Touch(now)
	if err := s.userRepo.Update(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to update user balance: %w", err)
	}

	withdrawal := &entities.Withdrawal{
		UserID:           user.ID,
		GrossAmount:      q.Withdrawable,
		WithdrawnAmount:  q.Withdrawn,
		FeeAmount:        q.Fee,
		NetAmount:        q.Net,
		ReinvestedAmount: q.Reinvested,
		WithdrawBps:      q.WithdrawBps,
		FeeBps:           q.FeeBps,
		CreatedAt:        now,
	}
	if err := s.withdrawalRepo.Create(ctx, withdrawal); err != nil {
		return nil, fmt.Errorf("failed to record withdrawal: %w", err)
	}

	reinvestment, err := s.commission.DistributeReinvestment(ctx, user, q.Reinvested, withdrawal.ID)
	if err != nil {
		return nil, err
	}

	if q.Net > 0 {
		if err := s.transfer.TransferOut(ctx, user.ID, q.Net); err != nil {
			return nil, fmt.Errorf("failed to pay out withdrawal to %s: %w", user.ID, err)
		}
	}
	if q.Fee > 0 {
		if err := s.transfer.TransferOut(ctx, s.adminReserve, q.Fee); err != nil {
			return nil, fmt.Errorf("failed to pay admin fee: %w", err)
		}
	}

	event := events.WithdrawalCompletedEvent{
		UserID:           user.ID,
		WithdrawnAmount:  q.Withdrawn,
		FeeAmount:        q.Fee,
		NetAmount:        q.Net,
		ReinvestedAmount: q.Reinvested,
	}
	if err := s.eventPublisher.Publish(event); err != nil {
		log.WithError(err).Error("Failed to publish withdrawal completed event")
	}

	log.WithFields(log.Fields{
		"user":       user.ID,
		"gross":      q.Withdrawable,
		"withdrawn":  q.Withdrawn,
		"fee":        q.Fee,
		"net":        q.Net,
		"reinvested": q.Reinvested,
	}).Info("Withdrawal completed")

	return &WithdrawalResult{
		Withdrawal:   withdrawal,
		Reinvestment: reinvestment,
	}, nil
}

func (s *WithdrawalService) getUser(ctx context.Context, userID entities.UserID) (*entities.User, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user %s: %w", userID, err)
	}
	if user == nil {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	return user, nil
}
