package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"matrixfund/database"
	"matrixfund/domain/entities"

	"github.com/jackc/pgx/v5"
)

const proposalColumns = `
	id, action, proposer_id, token, recipient, amount, reason,
	executed, cancelled, created_at, expires_at, executed_at`

// ProposalRepository implements the ProposalRepository interface
type ProposalRepository struct {
	q Queryable
}

// NewProposalRepository creates a new proposal repository on the pool
func NewProposalRepository(db *database.DB) *ProposalRepository {
	return &ProposalRepository{q: db.Pool}
}

// NewProposalRepositoryScoped creates a new proposal repository bound to a transaction
func NewProposalRepositoryScoped(tx Queryable) *ProposalRepository {
	return &ProposalRepository{q: tx}
}

func scanProposal(row pgx.Row) (*entities.TreasuryProposal, error) {
	var p entities.TreasuryProposal
	err := row.Scan(
		&p.ID,
		&p.Action,
		&p.ProposerID,
		&p.Token,
		&p.Recipient,
		&p.Amount,
		&p.Reason,
		&p.Executed,
		&p.Cancelled,
		&p.CreatedAt,
		&p.ExpiresAt,
		&p.ExecutedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Create inserts a proposal and assigns its id
func (r *ProposalRepository) Create(ctx context.Context, proposal *entities.TreasuryProposal) error {
	query := `
		INSERT INTO treasury_proposals (action, proposer_id, token, recipient, amount, reason, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`

	err := r.q.QueryRow(ctx, query,
		proposal.Action,
		proposal.ProposerID,
		proposal.Token,
		proposal.Recipient,
		proposal.Amount,
		proposal.Reason,
		proposal.CreatedAt,
		proposal.ExpiresAt,
	).Scan(&proposal.ID)
	if err != nil {
		return fmt.Errorf("failed to create %s proposal: %w", proposal.Action, err)
	}
	return nil
}

// GetByID retrieves a proposal with its approvals
func (r *ProposalRepository) GetByID(ctx context.Context, id int64) (*entities.TreasuryProposal, error) {
	query := `SELECT ` + proposalColumns + ` FROM treasury_proposals WHERE id = $1`

	proposal, err := scanProposal(r.q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get proposal %d: %w", id, err)
	}

	if err := r.loadApprovals(ctx, []*entities.TreasuryProposal{proposal}); err != nil {
		return nil, err
	}
	return proposal, nil
}

// Update persists the executed and cancelled flags
func (r *ProposalRepository) Update(ctx context.Context, proposal *entities.TreasuryProposal) error {
	query := `
		UPDATE treasury_proposals
		SET executed = $2, cancelled = $3, executed_at = $4
		WHERE id = $1
	`

	tag, err := r.q.Exec(ctx, query, proposal.ID, proposal.Executed, proposal.Cancelled, proposal.ExecutedAt)
	if err != nil {
		return fmt.Errorf("failed to update proposal %d: %w", proposal.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("proposal %d not found", proposal.ID)
	}
	return nil
}

// AddApproval records a signer's approval; a repeated approval violates the primary key
func (r *ProposalRepository) AddApproval(ctx context.Context, id int64, signer entities.UserID, at time.Time) error {
	query := `
		INSERT INTO proposal_approvals (proposal_id, signer, approved_at)
		VALUES ($1, $2, $3)
	`

	if _, err := r.q.Exec(ctx, query, id, signer, at); err != nil {
		return fmt.Errorf("failed to record approval by %s on proposal %d: %w", signer, id, err)
	}
	return nil
}

// ListOpen returns proposals that are neither executed, cancelled nor expired
func (r *ProposalRepository) ListOpen(ctx context.Context, now time.Time) ([]*entities.TreasuryProposal, error) {
	return r.list(ctx, "open", `
		SELECT `+proposalColumns+`
		FROM treasury_proposals
		WHERE NOT executed AND NOT cancelled AND expires_at > $1
		ORDER BY id
	`, now)
}

// ListExpired returns proposals past expiry that were never executed or cancelled
func (r *ProposalRepository) ListExpired(ctx context.Context, now time.Time) ([]*entities.TreasuryProposal, error) {
	return r.list(ctx, "expired", `
		SELECT `+proposalColumns+`
		FROM treasury_proposals
		WHERE NOT executed AND NOT cancelled AND expires_at <= $1
		ORDER BY id
	`, now)
}

func (r *ProposalRepository) list(ctx context.Context, kind, query string, now time.Time) ([]*entities.TreasuryProposal, error) {
	rows, err := r.q.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s proposals: %w", kind, err)
	}
	defer rows.Close()

	var proposals []*entities.TreasuryProposal
	for rows.Next() {
		proposal, err := scanProposal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan proposal: %w", err)
		}
		proposals = append(proposals, proposal)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	if err := r.loadApprovals(ctx, proposals); err != nil {
		return nil, err
	}
	return proposals, nil
}

// loadApprovals fills in the approvals of every proposal with one query
func (r *ProposalRepository) loadApprovals(ctx context.Context, proposals []*entities.TreasuryProposal) error {
	if len(proposals) == 0 {
		return nil
	}
	byID := make(map[int64]*entities.TreasuryProposal, len(proposals))
	ids := make([]int64, 0, len(proposals))
	for _, p := range proposals {
		byID[p.ID] = p
		ids = append(ids, p.ID)
	}

	query := `
		SELECT proposal_id, signer
		FROM proposal_approvals
		WHERE proposal_id = ANY($1)
		ORDER BY approved_at, signer
	`
	rows, err := r.q.Query(ctx, query, ids)
	if err != nil {
		return fmt.Errorf("failed to get proposal approvals: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var signer entities.UserID
		if err := rows.Scan(&id, &signer); err != nil {
			return fmt.Errorf("failed to scan proposal approval: %w", err)
		}
		if p, ok := byID[id]; ok {
			p.Approvals = append(p.Approvals, signer)
		}
	}
	return rows.Err()
}
