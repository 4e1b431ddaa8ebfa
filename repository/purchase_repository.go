package repository

import (
	"context"
	"fmt"

	"matrixfund/domain/entities"
)

// PurchaseRepository implements the PurchaseRepository interface
type PurchaseRepository struct {
	q Queryable
}

// NewPurchaseRepositoryScoped creates a new purchase repository bound to a transaction
func NewPurchaseRepositoryScoped(tx Queryable) *PurchaseRepository {
	return &PurchaseRepository{q: tx}
}

// Create appends a purchase and assigns its id
func (r *PurchaseRepository) Create(ctx context.Context, purchase *entities.Purchase) error {
	query := `
		INSERT INTO purchases (buyer_id, tier, amount, kind, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`

	err := r.q.QueryRow(ctx, query,
		purchase.BuyerID,
		int16(purchase.Tier),
		purchase.Amount,
		purchase.Kind,
		purchase.CreatedAt,
	).Scan(&purchase.ID)
	if err != nil {
		return fmt.Errorf("failed to create %s purchase for %s: %w", purchase.Kind, purchase.BuyerID, err)
	}
	return nil
}

// GetByBuyer returns a user's purchases, oldest first
func (r *PurchaseRepository) GetByBuyer(ctx context.Context, buyer entities.UserID) ([]*entities.Purchase, error) {
	query := `
		SELECT id, buyer_id, tier, amount, kind, created_at
		FROM purchases
		WHERE buyer_id = $1
		ORDER BY id
	`

	rows, err := r.q.Query(ctx, query, buyer)
	if err != nil {
		return nil, fmt.Errorf("failed to get purchases for %s: %w", buyer, err)
	}
	defer rows.Close()

	var purchases []*entities.Purchase
	for rows.Next() {
		var purchase entities.Purchase
		var tier int16
		if err := rows.Scan(&purchase.ID, &purchase.BuyerID, &tier, &purchase.Amount, &purchase.Kind, &purchase.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan purchase: %w", err)
		}
		purchase.Tier = entities.PackageTier(tier)
		purchases = append(purchases, &purchase)
	}
	return purchases, rows.Err()
}
