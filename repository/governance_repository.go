package repository

import (
	"context"
	"fmt"

	"matrixfund/database"
	"matrixfund/domain/entities"
)

// GovernanceRepository implements the GovernanceRepository interface
type GovernanceRepository struct {
	q Queryable
}

// NewGovernanceRepository creates a new governance repository on the pool
func NewGovernanceRepository(db *database.DB) *GovernanceRepository {
	return &GovernanceRepository{q: db.Pool}
}

// NewGovernanceRepositoryScoped creates a new governance repository bound to a transaction
func NewGovernanceRepositoryScoped(tx Queryable) *GovernanceRepository {
	return &GovernanceRepository{q: tx}
}

// GetState retrieves the governance singleton seeded by the initial migration
func (r *GovernanceRepository) GetState(ctx context.Context) (*entities.GovernanceState, error) {
	query := `
		SELECT paused, paused_at, paused_by, pause_reason, registrations_enabled,
		       withdrawals_enabled, admin_fee_bps, updated_at
		FROM governance_state
		WHERE id = 1
	`

	var state entities.GovernanceState
	err := r.q.QueryRow(ctx, query).Scan(
		&state.Paused,
		&state.PausedAt,
		&state.PausedBy,
		&state.PauseReason,
		&state.RegistrationsEnabled,
		&state.WithdrawalsEnabled,
		&state.AdminFeeBps,
		&state.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get governance state: %w", err)
	}
	return &state, nil
}

// SaveState persists the governance singleton
func (r *GovernanceRepository) SaveState(ctx context.Context, state *entities.GovernanceState) error {
	query := `
		UPDATE governance_state SET
			paused = $1,
			paused_at = $2,
			paused_by = $3,
			pause_reason = $4,
			registrations_enabled = $5,
			withdrawals_enabled = $6,
			admin_fee_bps = $7,
			updated_at = NOW()
		WHERE id = 1
		RETURNING updated_at
	`

	err := r.q.QueryRow(ctx, query,
		state.Paused,
		state.PausedAt,
		state.PausedBy,
		state.PauseReason,
		state.RegistrationsEnabled,
		state.WithdrawalsEnabled,
		state.AdminFeeBps,
	).Scan(&state.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save governance state: %w", err)
	}
	return nil
}

// HasRole reports whether an address holds a role
func (r *GovernanceRepository) HasRole(ctx context.Context, id entities.UserID, role entities.Role) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM role_assignments WHERE user_id = $1 AND role = $2)`

	var has bool
	if err := r.q.QueryRow(ctx, query, id, role).Scan(&has); err != nil {
		return false, fmt.Errorf("failed to check %s role of %s: %w", role, id, err)
	}
	return has, nil
}

// GrantRole assigns a role; granting an existing role keeps the original grant
func (r *GovernanceRepository) GrantRole(ctx context.Context, assignment *entities.RoleAssignment) error {
	query := `
		INSERT INTO role_assignments (user_id, role, granted_by, granted_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, role) DO NOTHING
	`

	_, err := r.q.Exec(ctx, query, assignment.UserID, assignment.Role, assignment.GrantedBy, assignment.GrantedAt)
	if err != nil {
		return fmt.Errorf("failed to grant %s to %s: %w", assignment.Role, assignment.UserID, err)
	}
	return nil
}

// RevokeRole removes a role
func (r *GovernanceRepository) RevokeRole(ctx context.Context, id entities.UserID, role entities.Role) error {
	if _, err := r.q.Exec(ctx, `DELETE FROM role_assignments WHERE user_id = $1 AND role = $2`, id, role); err != nil {
		return fmt.Errorf("failed to revoke %s from %s: %w", role, id, err)
	}
	return nil
}

// ListByRole returns the holders of a role
func (r *GovernanceRepository) ListByRole(ctx context.Context, role entities.Role) ([]entities.UserID, error) {
	rows, err := r.q.Query(ctx, `SELECT user_id FROM role_assignments WHERE role = $1 ORDER BY user_id`, role)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s holders: %w", role, err)
	}
	defer rows.Close()

	var holders []entities.UserID
	for rows.Next() {
		var holder entities.UserID
		if err := rows.Scan(&holder); err != nil {
			return nil, fmt.Errorf("failed to scan role holder: %w", err)
		}
		holders = append(holders, holder)
	}
	return holders, rows.Err()
}
