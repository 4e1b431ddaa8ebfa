package repository

import (
	"context"
	"fmt"

	"matrixfund/domain/entities"
)

// WithdrawalRepository implements the WithdrawalRepository interface
type WithdrawalRepository struct {
	q Queryable
}

// NewWithdrawalRepositoryScoped creates a new withdrawal repository bound to a transaction
func NewWithdrawalRepositoryScoped(tx Queryable) *WithdrawalRepository {
	return &WithdrawalRepository{q: tx}
}

// Create appends a withdrawal and assigns its id
func (r *WithdrawalRepository) Create(ctx context.Context, withdrawal *entities.Withdrawal) error {
	query := `
		INSERT INTO withdrawals (
			user_id, gross_amount, withdrawn_amount, fee_amount, net_amount,
			reinvested_amount, withdraw_bps, fee_bps, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`

	err := r.q.QueryRow(ctx, query,
		withdrawal.UserID,
		withdrawal.GrossAmount,
		withdrawal.WithdrawnAmount,
		withdrawal.FeeAmount,
		withdrawal.NetAmount,
		withdrawal.ReinvestedAmount,
		withdrawal.WithdrawBps,
		withdrawal.FeeBps,
		withdrawal.CreatedAt,
	).Scan(&withdrawal.ID)
	if err != nil {
		return fmt.Errorf("failed to create withdrawal for %s: %w", withdrawal.UserID, err)
	}
	return nil
}

// GetByUser returns the newest withdrawals of a user; limit <= 0 returns all
func (r *WithdrawalRepository) GetByUser(ctx context.Context, id entities.UserID, limit int) ([]*entities.Withdrawal, error) {
	query := `
		SELECT id, user_id, gross_amount, withdrawn_amount, fee_amount, net_amount,
		       reinvested_amount, withdraw_bps, fee_bps, created_at
		FROM withdrawals
		WHERE user_id = $1
		ORDER BY id DESC
		LIMIT NULLIF($2, 0)
	`

	rows, err := r.q.Query(ctx, query, id, max(limit, 0))
	if err != nil {
		return nil, fmt.Errorf("failed to get withdrawals for %s: %w", id, err)
	}
	defer rows.Close()

	var withdrawals []*entities.Withdrawal
	for rows.Next() {
		var w entities.Withdrawal
		err := rows.Scan(
			&w.ID,
			&w.UserID,
			&w.GrossAmount,
			&w.WithdrawnAmount,
			&w.FeeAmount,
			&w.NetAmount,
			&w.ReinvestedAmount,
			&w.WithdrawBps,
			&w.FeeBps,
			&w.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan withdrawal: %w", err)
		}
		withdrawals = append(withdrawals, &w)
	}
	return withdrawals, rows.Err()
}
