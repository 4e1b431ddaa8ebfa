package repository

import (
	"context"
	"errors"
	"fmt"

	"matrixfund/database"
	"matrixfund/domain/entities"

	"github.com/jackc/pgx/v5"
)

const automationColumns = `
	job, last_distribution_time, consecutive_failures, circuit_breaker_open,
	circuit_breaker_opened_at, last_failure_reason, total_runs, updated_at`

// AutomationRepository implements the AutomationRepository interface
type AutomationRepository struct {
	q Queryable
}

// NewAutomationRepository creates a new automation repository on the pool
func NewAutomationRepository(db *database.DB) *AutomationRepository {
	return &AutomationRepository{q: db.Pool}
}

// NewAutomationRepositoryScoped creates a new automation repository bound to a transaction
func NewAutomationRepositoryScoped(tx Queryable) *AutomationRepository {
	return &AutomationRepository{q: tx}
}

func scanAutomationState(row pgx.Row) (*entities.AutomationState, error) {
	var state entities.AutomationState
	err := row.Scan(
		&state.Job,
		&state.LastDistributionTime,
		&state.ConsecutiveFailures,
		&state.CircuitBreakerOpen,
		&state.CircuitBreakerOpenedAt,
		&state.LastFailureReason,
		&state.TotalRuns,
		&state.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// Get retrieves a job's state, nil when the job was never initialized
func (r *AutomationRepository) Get(ctx context.Context, job entities.PoolType) (*entities.AutomationState, error) {
	query := `SELECT ` + automationColumns + ` FROM automation_state WHERE job = $1`

	state, err := scanAutomationState(r.q.QueryRow(ctx, query, job))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get automation state for %s: %w", job, err)
	}
	return state, nil
}

// GetAll retrieves every job's state in priority order
func (r *AutomationRepository) GetAll(ctx context.Context) ([]*entities.AutomationState, error) {
	query := `
		SELECT ` + automationColumns + `
		FROM automation_state
		ORDER BY array_position(ARRAY['global_help', 'leader_bonus', 'club'], job)
	`

	rows, err := r.q.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get automation states: %w", err)
	}
	defer rows.Close()

	var states []*entities.AutomationState
	for rows.Next() {
		state, err := scanAutomationState(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan automation state: %w", err)
		}
		states = append(states, state)
	}
	return states, rows.Err()
}

// Save inserts or updates a job's state
func (r *AutomationRepository) Save(ctx context.Context, state *entities.AutomationState) error {
	query := `
		INSERT INTO automation_state (
			job, last_distribution_time, consecutive_failures, circuit_breaker_open,
			circuit_breaker_opened_at, last_failure_reason, total_runs, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (job) DO UPDATE SET
			last_distribution_time = EXCLUDED.last_distribution_time,
			consecutive_failures = EXCLUDED.consecutive_failures,
			circuit_breaker_open = EXCLUDED.circuit_breaker_open,
			circuit_breaker_opened_at = EXCLUDED.circuit_breaker_opened_at,
			last_failure_reason = EXCLUDED.last_failure_reason,
			total_runs = EXCLUDED.total_runs,
			updated_at = NOW()
		RETURNING updated_at
	`

	err := r.q.QueryRow(ctx, query,
		state.Job,
		state.LastDistributionTime,
		state.ConsecutiveFailures,
		state.CircuitBreakerOpen,
		state.CircuitBreakerOpenedAt,
		state.LastFailureReason,
		state.TotalRuns,
	).Scan(&state.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save automation state for %s: %w", state.Job, err)
	}
	return nil
}
