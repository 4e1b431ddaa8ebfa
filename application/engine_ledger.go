package application

import (
	"context"
	"fmt"

	"matrixfund/domain/entities"
	"matrixfund/domain/services"
)

// DefaultHistoryLimit caps history queries that do not ask for a limit
const DefaultHistoryLimit = 50

// MaxHistoryLimit is the largest page a history query returns
const MaxHistoryLimit = 500

// Register buys a package for a new user under sponsor
func (e *Engine) Register(ctx context.Context, sponsor, user entities.UserID, tier entities.PackageTier) (*services.RegistrationResult, error) {
	now := e.clock.Now()
	var result *services.RegistrationResult
	err := e.inTransaction(ctx, func(uow UnitOfWork, svc *ledgerServices) error {
		if err := svc.governance.CheckOperation(ctx, services.OperationRegister, user); err != nil {
			return err
		}
		registered, err := svc.registration.Register(ctx, services.RegisterParams{
			UserID:    user,
			SponsorID: sponsor,
			Tier:      tier,
		}, now)
		if err != nil {
			return err
		}
		result = registered
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// UpgradePackage sells a higher tier to a registered user
func (e *Engine) UpgradePackage(ctx context.Context, user entities.UserID, tier entities.PackageTier) (*services.RegistrationResult, error) {
	now := e.clock.Now()
	var result *services.RegistrationResult
	err := e.inTransaction(ctx, func(uow UnitOfWork, svc *ledgerServices) error {
		if err := svc.governance.CheckOperation(ctx, services.OperationUpgrade, user); err != nil {
			return err
		}
		upgraded, err := svc.registration.UpgradePackage(ctx, user, tier, now)
		if err != nil {
			return err
		}
		result = upgraded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Withdraw pays out the user's withdrawable balance and reinvests the rest
func (e *Engine) Withdraw(ctx context.Context, user entities.UserID) (*services.WithdrawalResult, error) {
	now := e.clock.Now()
	var result *services.WithdrawalResult
	err := e.inTransaction(ctx, func(uow UnitOfWork, svc *ledgerServices) error {
		if err := svc.governance.CheckOperation(ctx, services.OperationWithdraw, user); err != nil {
			return err
		}
		withdrawn, err := svc.withdrawal.Withdraw(ctx, user, now)
		if err != nil {
			return err
		}
		result = withdrawn
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetWithdrawalQuote previews the split of the user's next withdrawal
func (e *Engine) GetWithdrawalQuote(ctx context.Context, user entities.UserID) (*services.WithdrawalQuote, error) {
	var quote *services.WithdrawalQuote
	err := e.readOnly(ctx, func(uow UnitOfWork, svc *ledgerServices) error {
		q, err := svc.withdrawal.Quote(ctx, user)
		if err != nil {
			return err
		}
		quote = q
		return nil
	})
	return quote, err
}

// UserSummary is a user with their wallet balance
type UserSummary struct {
	User          *entities.User `json:"user"`
	WalletBalance int64          `json:"walletBalance"`
	EarningsCap   int64          `json:"earningsCap"`
}

// GetUser returns a registered user
func (e *Engine) GetUser(ctx context.Context, id entities.UserID) (*UserSummary, error) {
	var summary *UserSummary
	err := e.readOnly(ctx, func(uow UnitOfWork, svc *ledgerServices) error {
		user, err := uow.UserRepository().GetByID(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to get user %s: %w", id, err)
		}
		if user == nil {
			return fmt.Errorf("%w: %s", services.ErrUserNotFound, id)
		}
		balance, err := uow.TokenVault().BalanceOf(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to get wallet balance of %s: %w", id, err)
		}
		summary = &UserSummary{
			User:          user,
			WalletBalance: balance,
			EarningsCap:   user.EarningsCeiling(e.config.Plan.EarningsCapMultiplier),
		}
		return nil
	})
	return summary, err
}

// GetCredits returns the newest commission credits of a user
func (e *Engine) GetCredits(ctx context.Context, id entities.UserID, limit int) ([]*entities.Credit, error) {
	var credits []*entities.Credit
	err := e.readOnly(ctx, func(uow UnitOfWork, svc *ledgerServices) error {
		var err error
		credits, err = uow.CreditRepository().GetByRecipient(ctx, id, clampLimit(limit))
		if err != nil {
			return fmt.Errorf("failed to get credits of %s: %w", id, err)
		}
		return nil
	})
	return credits, err
}

// GetWithdrawals returns the newest withdrawals of a user
func (e *Engine) GetWithdrawals(ctx context.Context, id entities.UserID, limit int) ([]*entities.Withdrawal, error) {
	var withdrawals []*entities.Withdrawal
	err := e.readOnly(ctx, func(uow UnitOfWork, svc *ledgerServices) error {
		var err error
		withdrawals, err = uow.WithdrawalRepository().GetByUser(ctx, id, clampLimit(limit))
		if err != nil {
			return fmt.Errorf("failed to get withdrawals of %s: %w", id, err)
		}
		return nil
	})
	return withdrawals, err
}

// GetPools returns every reward pool
func (e *Engine) GetPools(ctx context.Context) ([]*entities.Pool, error) {
	var pools []*entities.Pool
	err := e.readOnly(ctx, func(uow UnitOfWork, svc *ledgerServices) error {
		var err error
		pools, err = uow.PoolRepository().GetAll(ctx)
		if err != nil {
			return fmt.Errorf("failed to get pools: %w", err)
		}
		return nil
	})
	return pools, err
}

// GetMatrixNode returns a user's matrix position with both child slots
func (e *Engine) GetMatrixNode(ctx context.Context, id entities.UserID) (*entities.MatrixNode, error) {
	var node *entities.MatrixNode
	err := e.readOnly(ctx, func(uow UnitOfWork, svc *ledgerServices) error {
		var err error
		node, err = uow.MatrixRepository().GetNode(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to get matrix node %s: %w", id, err)
		}
		if node == nil {
			return fmt.Errorf("%w: %s", services.ErrUserNotFound, id)
		}
		return nil
	})
	return node, err
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		return MaxHistoryLimit
	}
	return limit
}
