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

// PoolRepository implements the PoolRepository interface
type PoolRepository struct {
	q Queryable
}

// NewPoolRepository creates a new pool repository on the pool
func NewPoolRepository(db *database.DB) *PoolRepository {
	return &PoolRepository{q: db.Pool}
}

// NewPoolRepositoryScoped creates a new pool repository bound to a transaction
func NewPoolRepositoryScoped(tx Queryable) *PoolRepository {
	return &PoolRepository{q: tx}
}

func scanPool(row pgx.Row) (*entities.Pool, error) {
	var pool entities.Pool
	if err := row.Scan(&pool.Type, &pool.Balance, &pool.TotalReceived, &pool.TotalDistributed, &pool.UpdatedAt); err != nil {
		return nil, err
	}
	return &pool, nil
}

// Get retrieves one pool
func (r *PoolRepository) Get(ctx context.Context, poolType entities.PoolType) (*entities.Pool, error) {
	query := `
		SELECT pool_type, balance, total_received, total_distributed, updated_at
		FROM pools
		WHERE pool_type = $1
	`

	pool, err := scanPool(r.q.QueryRow(ctx, query, poolType))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("pool %s not found", poolType)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pool %s: %w", poolType, err)
	}
	return pool, nil
}

// GetAll retrieves every pool in distribution priority order
func (r *PoolRepository) GetAll(ctx context.Context) ([]*entities.Pool, error) {
	query := `
		SELECT pool_type, balance, total_received, total_distributed, updated_at
		FROM pools
		ORDER BY array_position(ARRAY['global_help', 'leader_bonus', 'club'], pool_type)
	`

	rows, err := r.q.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get pools: %w", err)
	}
	defer rows.Close()

	var pools []*entities.Pool
	for rows.Next() {
		pool, err := scanPool(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pool: %w", err)
		}
		pools = append(pools, pool)
	}
	return pools, rows.Err()
}

func (r *PoolRepository) apply(ctx context.Context, op string, poolType entities.PoolType, amount int64, query string) error {
	if amount < 0 {
		return fmt.Errorf("negative %s amount %d for pool %s", op, amount, poolType)
	}
	tag, err := r.q.Exec(ctx, query, poolType, amount)
	if err != nil {
		return fmt.Errorf("failed to %s %d on pool %s: %w", op, amount, poolType, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("pool %s not found", poolType)
	}
	return nil
}

// Deposit adds fresh funds to a pool
func (r *PoolRepository) Deposit(ctx context.Context, poolType entities.PoolType, amount int64) error {
	return r.apply(ctx, "deposit", poolType, amount, `
		UPDATE pools
		SET balance = balance + $2, total_received = total_received + $2, updated_at = NOW()
		WHERE pool_type = $1
	`)
}

// Withdraw removes funds from a pool, failing if the balance is short
func (r *PoolRepository) Withdraw(ctx context.Context, poolType entities.PoolType, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("negative withdraw amount %d for pool %s", amount, poolType)
	}
	query := `
		UPDATE pools
		SET balance = balance - $2, updated_at = NOW()
		WHERE pool_type = $1 AND balance >= $2
	`
	tag, err := r.q.Exec(ctx, query, poolType, amount)
	if err != nil {
		return fmt.Errorf("failed to withdraw %d from pool %s: %w", amount, poolType, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	pool, err := r.Get(ctx, poolType)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s pool holds %d, need %d", interfaces.ErrInsufficientFunds, poolType, pool.Balance, amount)
}

// Refund returns previously withdrawn funds without counting them as received
func (r *PoolRepository) Refund(ctx context.Context, poolType entities.PoolType, amount int64) error {
	return r.apply(ctx, "refund", poolType, amount, `
		UPDATE pools SET balance = balance + $2, updated_at = NOW() WHERE pool_type = $1
	`)
}

// AddDistributed records an amount paid out of a pool
func (r *PoolRepository) AddDistributed(ctx context.Context, poolType entities.PoolType, amount int64) error {
	return r.apply(ctx, "record distribution", poolType, amount, `
		UPDATE pools SET total_distributed = total_distributed + $2, updated_at = NOW() WHERE pool_type = $1
	`)
}
