package repository

import (
	"context"
	"fmt"
	"time"

	"matrixfund/database"
	"matrixfund/domain/entities"
)

// CreditRepository implements the CreditRepository interface
type CreditRepository struct {
	q Queryable
}

// NewCreditRepository creates a new credit repository on the pool
func NewCreditRepository(db *database.DB) *CreditRepository {
	return &CreditRepository{q: db.Pool}
}

// NewCreditRepositoryScoped creates a new credit repository bound to a transaction
func NewCreditRepositoryScoped(tx Queryable) *CreditRepository {
	return &CreditRepository{q: tx}
}

// Record appends a credit to the ledger
func (r *CreditRepository) Record(ctx context.Context, credit *entities.Credit) error {
	if credit.CreatedAt.IsZero() {
		credit.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO credits (
			recipient_id, source_id, channel, level, proposed_amount, credited_amount,
			balance_after, reference_type, reference_id, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`

	err := r.q.QueryRow(ctx, query,
		credit.RecipientID,
		credit.SourceID,
		credit.Channel,
		credit.Level,
		credit.ProposedAmount,
		credit.CreditedAmount,
		credit.BalanceAfter,
		credit.ReferenceType,
		credit.ReferenceID,
		credit.CreatedAt,
	).Scan(&credit.ID)
	if err != nil {
		return fmt.Errorf("failed to record %s credit for %s: %w", credit.Channel, credit.RecipientID, err)
	}
	return nil
}

// GetByRecipient returns the newest credits of a user; limit <= 0 returns all
func (r *CreditRepository) GetByRecipient(ctx context.Context, recipient entities.UserID, limit int) ([]*entities.Credit, error) {
	query := `
		SELECT id, recipient_id, source_id, channel, level, proposed_amount, credited_amount,
		       balance_after, reference_type, reference_id, created_at
		FROM credits
		WHERE recipient_id = $1
		ORDER BY id DESC
		LIMIT NULLIF($2, 0)
	`

	rows, err := r.q.Query(ctx, query, recipient, max(limit, 0))
	if err != nil {
		return nil, fmt.Errorf("failed to get credits for %s: %w", recipient, err)
	}
	defer rows.Close()

	var credits []*entities.Credit
	for rows.Next() {
		var credit entities.Credit
		err := rows.Scan(
			&credit.ID,
			&credit.RecipientID,
			&credit.SourceID,
			&credit.Channel,
			&credit.Level,
			&credit.ProposedAmount,
			&credit.CreditedAmount,
			&credit.BalanceAfter,
			&credit.ReferenceType,
			&credit.ReferenceID,
			&credit.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan credit: %w", err)
		}
		credits = append(credits, &credit)
	}
	return credits, rows.Err()
}

// SumByReference returns the credited total for one purchase, withdrawal or run
func (r *CreditRepository) SumByReference(ctx context.Context, refType entities.ReferenceType, refID string) (int64, error) {
	query := `
		SELECT COALESCE(SUM(credited_amount), 0)::bigint
		FROM credits
		WHERE reference_type = $1 AND reference_id = $2
	`

	var total int64
	if err := r.q.QueryRow(ctx, query, refType, refID).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to sum credits for %s %s: %w", refType, refID, err)
	}
	return total, nil
}
