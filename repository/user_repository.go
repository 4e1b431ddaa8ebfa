package repository

import (
	"context"
	"errors"
	"fmt"

	"matrixfund/database"
	"matrixfund/domain/entities"

	"github.com/jackc/pgx/v5"
)

const userColumns = `
	u.seq, u.id, u.sponsor_id, u.package_tier, u.total_invested, u.total_earnings,
	u.withdrawable_amount, u.total_withdrawn, u.is_capped, u.direct_referrals_count,
	u.team_size, u.leader_rank, u.registered_at, u.last_activity_at, u.is_active,
	u.is_blacklisted, u.updated_at`

// UserRepository implements the UserRepository interface
type UserRepository struct {
	q Queryable
}

// NewUserRepository creates a new user repository on the pool
func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{q: db.Pool}
}

// NewUserRepositoryScoped creates a new user repository bound to a transaction
func NewUserRepositoryScoped(tx Queryable) *UserRepository {
	return &UserRepository{q: tx}
}

func scanUser(row pgx.Row) (*entities.User, error) {
	var user entities.User
	var tier, rank int16
	err := row.Scan(
		&user.Seq,
		&user.ID,
		&user.SponsorID,
		&tier,
		&user.TotalInvested,
		&user.TotalEarnings,
		&user.WithdrawableAmount,
		&user.TotalWithdrawn,
		&user.IsCapped,
		&user.DirectReferralsCount,
		&user.TeamSize,
		&rank,
		&user.RegisteredAt,
		&user.LastActivityAt,
		&user.IsActive,
		&user.IsBlacklisted,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	user.PackageTier = entities.PackageTier(tier)
	user.LeaderRank = entities.LeaderRank(rank)
	return &user, nil
}

func collectUsers(rows pgx.Rows) ([]*entities.User, error) {
	defer rows.Close()
	var users []*entities.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// GetByID retrieves a user by address
func (r *UserRepository) GetByID(ctx context.Context, id entities.UserID) (*entities.User, error) {
	query := `SELECT ` + userColumns + ` FROM users u WHERE u.id = $1`

	user, err := scanUser(r.q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user %s: %w", id, err)
	}
	return user, nil
}

// GetByIDs retrieves every registered user among ids
func (r *UserRepository) GetByIDs(ctx context.Context, ids []entities.UserID) ([]*entities.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + userColumns + ` FROM users u WHERE u.id = ANY($1)`

	rows, err := r.q.Query(ctx, query, userIDStrings(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to get %d users: %w", len(ids), err)
	}
	return collectUsers(rows)
}

// Create inserts a new user and assigns its registration sequence
func (r *UserRepository) Create(ctx context.Context, user *entities.User) error {
	query := `
		INSERT INTO users (
			id, sponsor_id, package_tier, total_invested, total_earnings,
			withdrawable_amount, total_withdrawn, is_capped, direct_referrals_count,
			team_size, leader_rank, registered_at, last_activity_at, is_active, is_blacklisted
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING seq, updated_at
	`

	err := r.q.QueryRow(ctx, query,
		user.ID,
		user.SponsorID,
		int16(user.PackageTier),
		user.TotalInvested,
		user.TotalEarnings,
		user.WithdrawableAmount,
		user.TotalWithdrawn,
		user.IsCapped,
		user.DirectReferralsCount,
		user.TeamSize,
		int16(user.LeaderRank),
		user.RegisteredAt,
		user.LastActivityAt,
		user.IsActive,
		user.IsBlacklisted,
	).Scan(&user.Seq, &user.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create user %s: %w", user.ID, err)
	}
	return nil
}

// Update persists the mutable fields of a user. Sponsor, sequence and
// registration time never change; team size is owned by IncrementTeamSize.
func (r *UserRepository) Update(ctx context.Context, user *entities.User) error {
	query := `
		UPDATE users SET
			package_tier = $2,
			total_invested = $3,
			total_earnings = $4,
			withdrawable_amount = $5,
			total_withdrawn = $6,
			is_capped = $7,
			direct_referrals_count = $8,
			leader_rank = $9,
			last_activity_at = $10,
			is_active = $11,
			is_blacklisted = $12,
			updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	err := r.q.QueryRow(ctx, query,
		user.ID,
		int16(user.PackageTier),
		user.TotalInvested,
		user.TotalEarnings,
		user.WithdrawableAmount,
		user.TotalWithdrawn,
		user.IsCapped,
		user.DirectReferralsCount,
		int16(user.LeaderRank),
		user.LastActivityAt,
		user.IsActive,
		user.IsBlacklisted,
	).Scan(&user.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("user %s not found", user.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to update user %s: %w", user.ID, err)
	}
	return nil
}

// IncrementTeamSize adds one to the team size of every listed user
func (r *UserRepository) IncrementTeamSize(ctx context.Context, ids []entities.UserID) error {
	if len(ids) == 0 {
		return nil
	}
	query := `UPDATE users SET team_size = team_size + 1, updated_at = NOW() WHERE id = ANY($1)`

	if _, err := r.q.Exec(ctx, query, userIDStrings(ids)); err != nil {
		return fmt.Errorf("failed to increment team size of %d users: %w", len(ids), err)
	}
	return nil
}

// GetSponsorChain walks sponsor links upward, nearest first, at most maxDepth users
func (r *UserRepository) GetSponsorChain(ctx context.Context, id entities.UserID, maxDepth int) ([]*entities.User, error) {
	if maxDepth <= 0 {
		return nil, nil
	}
	query := `
		WITH RECURSIVE chain AS (
			SELECT sponsor_id AS id, 1 AS depth
			FROM users
			WHERE id = $1 AND sponsor_id IS NOT NULL
			UNION ALL
			SELECT u.sponsor_id, c.depth + 1
			FROM chain c
			JOIN users u ON u.id = c.id
			WHERE u.sponsor_id IS NOT NULL AND c.depth < $2
		)
		SELECT ` + userColumns + `
		FROM chain c
		JOIN users u ON u.id = c.id
		ORDER BY c.depth
	`

	rows, err := r.q.Query(ctx, query, id, maxDepth)
	if err != nil {
		return nil, fmt.Errorf("failed to get sponsor chain of %s: %w", id, err)
	}
	return collectUsers(rows)
}

// Count returns the number of registered users
func (r *UserRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.q.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return count, nil
}
