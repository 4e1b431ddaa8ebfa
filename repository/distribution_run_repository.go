package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"matrixfund/database"
	"matrixfund/domain/entities"

	"github.com/jackc/pgx/v5"
)

const runColumns = `
	id, job, status, total_amount, distributed_amount, returned_amount, reserved_amount,
	allotments, recipient_count, paid_count, started_at, completed_at`

// DistributionRunRepository implements the DistributionRunRepository interface
type DistributionRunRepository struct {
	q Queryable
}

// NewDistributionRunRepository creates a new run repository on the pool
func NewDistributionRunRepository(db *database.DB) *DistributionRunRepository {
	return &DistributionRunRepository{q: db.Pool}
}

// NewDistributionRunRepositoryScoped creates a new run repository bound to a transaction
func NewDistributionRunRepositoryScoped(tx Queryable) *DistributionRunRepository {
	return &DistributionRunRepository{q: tx}
}

func scanRun(row pgx.Row) (*entities.DistributionRun, error) {
	var run entities.DistributionRun
	var allotmentsJSON []byte
	err := row.Scan(
		&run.ID,
		&run.Job,
		&run.Status,
		&run.TotalAmount,
		&run.DistributedAmount,
		&run.ReturnedAmount,
		&run.ReservedAmount,
		&allotmentsJSON,
		&run.RecipientCount,
		&run.PaidCount,
		&run.StartedAt,
		&run.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(allotmentsJSON) > 0 {
		if err := json.Unmarshal(allotmentsJSON, &run.Allotments); err != nil {
			return nil, fmt.Errorf("failed to unmarshal allotments of run %s: %w", run.ID, err)
		}
	}
	return &run, nil
}

func marshalAllotments(run *entities.DistributionRun) ([]byte, error) {
	allotments := run.Allotments
	if allotments == nil {
		allotments = map[string]entities.RunAllotment{}
	}
	data, err := json.Marshal(allotments)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal allotments of run %s: %w", run.ID, err)
	}
	return data, nil
}

// Create inserts a new run
func (r *DistributionRunRepository) Create(ctx context.Context, run *entities.DistributionRun) error {
	allotments, err := marshalAllotments(run)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO distribution_runs (` + runColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err = r.q.Exec(ctx, query,
		run.ID,
		run.Job,
		run.Status,
		run.TotalAmount,
		run.DistributedAmount,
		run.ReturnedAmount,
		run.ReservedAmount,
		allotments,
		run.RecipientCount,
		run.PaidCount,
		run.StartedAt,
		run.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create distribution run %s: %w", run.ID, err)
	}
	return nil
}

// Update persists the run's progress fields
func (r *DistributionRunRepository) Update(ctx context.Context, run *entities.DistributionRun) error {
	allotments, err := marshalAllotments(run)
	if err != nil {
		return err
	}
	query := `
		UPDATE distribution_runs SET
			status = $2,
			total_amount = $3,
			distributed_amount = $4,
			returned_amount = $5,
			reserved_amount = $6,
			allotments = $7,
			recipient_count = $8,
			paid_count = $9,
			completed_at = $10
		WHERE id = $1
	`

	tag, err := r.q.Exec(ctx, query,
		run.ID,
		run.Status,
		run.TotalAmount,
		run.DistributedAmount,
		run.ReturnedAmount,
		run.ReservedAmount,
		allotments,
		run.RecipientCount,
		run.PaidCount,
		run.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update distribution run %s: %w", run.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("distribution run %s not found", run.ID)
	}
	return nil
}

func (r *DistributionRunRepository) getOne(ctx context.Context, query string, args ...any) (*entities.DistributionRun, error) {
	run, err := scanRun(r.q.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return run, err
}

// GetInProgress returns the unfinished run, if any
func (r *DistributionRunRepository) GetInProgress(ctx context.Context) (*entities.DistributionRun, error) {
	query := `SELECT ` + runColumns + ` FROM distribution_runs WHERE status = $1 LIMIT 1`

	run, err := r.getOne(ctx, query, entities.RunStatusInProgress)
	if err != nil {
		return nil, fmt.Errorf("failed to get in-progress distribution run: %w", err)
	}
	return run, nil
}

// GetLatest returns the most recent run for a job
func (r *DistributionRunRepository) GetLatest(ctx context.Context, job entities.PoolType) (*entities.DistributionRun, error) {
	query := `
		SELECT ` + runColumns + `
		FROM distribution_runs
		WHERE job = $1
		ORDER BY started_at DESC
		LIMIT 1
	`

	run, err := r.getOne(ctx, query, job)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest %s distribution run: %w", job, err)
	}
	return run, nil
}

// SnapshotRecipients freezes the users matching criteria as the run's payees
// and returns the weight and head count per group
func (r *DistributionRunRepository) SnapshotRecipients(ctx context.Context, runID string, criteria entities.RecipientCriteria) (map[string]entities.RunAllotment, error) {
	weight := "1"
	if criteria.Weighting == entities.WeightByInvestment {
		weight = "u.total_invested"
	}

	ranks := make([]int16, len(criteria.Ranks))
	for i, rank := range criteria.Ranks {
		ranks[i] = int16(rank)
	}
	args := []any{runID, criteria.ExcludeCapped, criteria.ActiveSince, int16(criteria.MinTier), ranks}

	group := "$6::text"
	if criteria.GroupByRank {
		// rank names indexed by rank value; postgres arrays are 1-based
		group = "($6::text[])[u.leader_rank + 1]"
		args = append(args, []string{
			entities.LeaderRankNone.String(),
			entities.LeaderRankShiningStar.String(),
			entities.LeaderRankSilverStar.String(),
		})
	} else {
		args = append(args, entities.RecipientGroupAll)
	}

	insert := `
		INSERT INTO distribution_run_recipients (run_id, user_id, seq, group_name, weight)
		SELECT $1, u.id, u.seq, ` + group + `, ` + weight + `
		FROM users u
		WHERE u.is_active
		  AND NOT u.is_blacklisted
		  AND (NOT $2::boolean OR NOT u.is_capped)
		  AND ($3::timestamptz IS NULL OR u.last_activity_at >= $3)
		  AND u.package_tier >= $4
		  AND (cardinality($5::smallint[]) = 0 OR u.leader_rank = ANY($5))
		  AND ` + weight + ` > 0
	`
	if _, err := r.q.Exec(ctx, insert, args...); err != nil {
		return nil, fmt.Errorf("failed to snapshot recipients for run %s: %w", runID, err)
	}

	summary := `
		SELECT group_name, SUM(weight)::bigint, COUNT(*)
		FROM distribution_run_recipients
		WHERE run_id = $1
		GROUP BY group_name
	`
	rows, err := r.q.Query(ctx, summary, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize recipients of run %s: %w", runID, err)
	}
	defer rows.Close()

	groups := make(map[string]entities.RunAllotment)
	for rows.Next() {
		var name string
		var allotment entities.RunAllotment
		if err := rows.Scan(&name, &allotment.TotalWeight, &allotment.Recipients); err != nil {
			return nil, fmt.Errorf("failed to scan recipient group: %w", err)
		}
		groups[name] = allotment
	}
	return groups, rows.Err()
}

// NextUnpaid returns up to limit unpaid payees in registration order
func (r *DistributionRunRepository) NextUnpaid(ctx context.Context, runID string, limit int) ([]*entities.RunRecipient, error) {
	query := `
		SELECT run_id, user_id, seq, group_name, weight, paid, amount
		FROM distribution_run_recipients
		WHERE run_id = $1 AND NOT paid
		ORDER BY seq
		LIMIT $2
	`

	rows, err := r.q.Query(ctx, query, runID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get unpaid recipients of run %s: %w", runID, err)
	}
	defer rows.Close()

	var recipients []*entities.RunRecipient
	for rows.Next() {
		var recipient entities.RunRecipient
		err := rows.Scan(
			&recipient.RunID,
			&recipient.UserID,
			&recipient.Seq,
			&recipient.Group,
			&recipient.Weight,
			&recipient.Paid,
			&recipient.Amount,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run recipient: %w", err)
		}
		recipients = append(recipients, &recipient)
	}
	return recipients, rows.Err()
}

// MarkPaid flags a payee as paid with the amount credited
func (r *DistributionRunRepository) MarkPaid(ctx context.Context, runID string, userID entities.UserID, amount int64) error {
	query := `
		UPDATE distribution_run_recipients
		SET paid = TRUE, amount = $3
		WHERE run_id = $1 AND user_id = $2 AND NOT paid
	`

	tag, err := r.q.Exec(ctx, query, runID, userID, amount)
	if err != nil {
		return fmt.Errorf("failed to mark %s paid in run %s: %w", userID, runID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("recipient %s of run %s is not an unpaid payee", userID, runID)
	}
	return nil
}
