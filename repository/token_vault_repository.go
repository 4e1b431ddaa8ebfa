package repository

import (
	"context"
	"errors"
	"fmt"

	"matrixfund/database"
	"matrixfund/domain/entities"
	"matrixfund/domain/interfaces"

	"github.com/jackc/pgx/v5"
)

// TokenVaultRepository is the value-transfer ledger. It lives in the same
// database as the compensation ledger, so transfers commit or roll back with it.
type TokenVaultRepository struct {
	q Queryable
}

// NewTokenVaultRepository creates a new token vault on the pool
func NewTokenVaultRepository(db *database.DB) *TokenVaultRepository {
	return &TokenVaultRepository{q: db.Pool}
}

// NewTokenVaultRepositoryScoped creates a new token vault bound to a transaction
func NewTokenVaultRepositoryScoped(tx Queryable) *TokenVaultRepository {
	return &TokenVaultRepository{q: tx}
}

// TransferIn moves amount from a holder into the vault
func (r *TokenVaultRepository) TransferIn(ctx context.Context, from entities.UserID, amount int64) error {
	return r.move(ctx, from, entities.VaultHolder, amount)
}

// TransferOut moves amount from the vault to a holder
func (r *TokenVaultRepository) TransferOut(ctx context.Context, to entities.UserID, amount int64) error {
	return r.move(ctx, entities.VaultHolder, to, amount)
}

// Fund credits a holder from outside the system
func (r *TokenVaultRepository) Fund(ctx context.Context, holder entities.UserID, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: non-positive amount %d", interfaces.ErrTransferFailed, amount)
	}
	if err := r.credit(ctx, holder, amount); err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrTransferFailed, err)
	}
	return nil
}

// BalanceOf returns a holder's balance, zero for unknown holders
func (r *TokenVaultRepository) BalanceOf(ctx context.Context, holder entities.UserID) (int64, error) {
	var balance int64
	err := r.q.QueryRow(ctx, `SELECT balance FROM token_accounts WHERE holder = $1`, holder).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get token balance of %s: %w", holder, err)
	}
	return balance, nil
}

func (r *TokenVaultRepository) move(ctx context.Context, from, to entities.UserID, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: non-positive amount %d", interfaces.ErrTransferFailed, amount)
	}

	debit := `
		UPDATE token_accounts
		SET balance = balance - $2, updated_at = NOW()
		WHERE holder = $1 AND balance >= $2
	`
	tag, err := r.q.Exec(ctx, debit, from, amount)
	if err != nil {
		return fmt.Errorf("%w: debit %s: %v", interfaces.ErrTransferFailed, from, err)
	}
	if tag.RowsAffected() == 0 {
		balance, err := r.BalanceOf(ctx, from)
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: %s holds %d, need %d", interfaces.ErrInsufficientFunds, from, balance, amount)
	}

	if err := r.credit(ctx, to, amount); err != nil {
		return fmt.Errorf("%w: credit %s: %v", interfaces.ErrTransferFailed, to, err)
	}
	return nil
}

func (r *TokenVaultRepository) credit(ctx context.Context, holder entities.UserID, amount int64) error {
	query := `
		INSERT INTO token_accounts (holder, balance, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (holder) DO UPDATE SET
			balance = token_accounts.balance + EXCLUDED.balance,
			updated_at = NOW()
	`
	_, err := r.q.Exec(ctx, query, holder, amount)
	return err
}
