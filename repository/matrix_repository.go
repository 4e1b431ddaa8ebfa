package repository

import (
	"context"
	"errors"
	"fmt"

	"matrixfund/database"
	"matrixfund/domain/entities"

	"github.com/jackc/pgx/v5"
)

const matrixNodeColumns = `user_id, parent_id, left_child, right_child, depth, created_at`

// MatrixRepository implements the MatrixRepository interface
type MatrixRepository struct {
	q Queryable
}

// NewMatrixRepository creates a new matrix repository on the pool
func NewMatrixRepository(db *database.DB) *MatrixRepository {
	return &MatrixRepository{q: db.Pool}
}

// NewMatrixRepositoryScoped creates a new matrix repository bound to a transaction
func NewMatrixRepositoryScoped(tx Queryable) *MatrixRepository {
	return &MatrixRepository{q: tx}
}

func scanMatrixNode(row pgx.Row) (*entities.MatrixNode, error) {
	var node entities.MatrixNode
	err := row.Scan(
		&node.UserID,
		&node.ParentID,
		&node.LeftChild,
		&node.RightChild,
		&node.Depth,
		&node.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &node, nil
}

// GetNode retrieves the node of a user
func (r *MatrixRepository) GetNode(ctx context.Context, id entities.UserID) (*entities.MatrixNode, error) {
	query := `SELECT ` + matrixNodeColumns + ` FROM matrix_nodes WHERE user_id = $1`

	node, err := scanMatrixNode(r.q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get matrix node %s: %w", id, err)
	}
	return node, nil
}

// GetNodes retrieves one BFS level of nodes in a single query
func (r *MatrixRepository) GetNodes(ctx context.Context, ids []entities.UserID) ([]*entities.MatrixNode, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + matrixNodeColumns + ` FROM matrix_nodes WHERE user_id = ANY($1)`

	rows, err := r.q.Query(ctx, query, userIDStrings(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to get %d matrix nodes: %w", len(ids), err)
	}
	defer rows.Close()

	nodes := make([]*entities.MatrixNode, 0, len(ids))
	for rows.Next() {
		node, err := scanMatrixNode(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan matrix node: %w", err)
		}
		nodes = append(nodes, node)
	}
	return nodes, rows.Err()
}

// Create inserts a new node
func (r *MatrixRepository) Create(ctx context.Context, node *entities.MatrixNode) error {
	query := `
		INSERT INTO matrix_nodes (user_id, parent_id, depth, created_at)
		VALUES ($1, $2, $3, $4)
	`

	if _, err := r.q.Exec(ctx, query, node.UserID, node.ParentID, node.Depth, node.CreatedAt); err != nil {
		return fmt.Errorf("failed to create matrix node %s: %w", node.UserID, err)
	}
	return nil
}

// AttachChild fills an empty slot of parent. A child slot is set exactly once.
func (r *MatrixRepository) AttachChild(ctx context.Context, parent entities.UserID, side entities.MatrixSide, child entities.UserID) error {
	var query string
	switch side {
	case entities.MatrixSideLeft:
		query = `UPDATE matrix_nodes SET left_child = $2 WHERE user_id = $1 AND left_child IS NULL`
	case entities.MatrixSideRight:
		query = `UPDATE matrix_nodes SET right_child = $2 WHERE user_id = $1 AND right_child IS NULL`
	default:
		return fmt.Errorf("invalid matrix side %q", side)
	}

	tag, err := r.q.Exec(ctx, query, parent, child)
	if err != nil {
		return fmt.Errorf("failed to attach %s under %s: %w", child, parent, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s slot of %s is taken or the node does not exist", side, parent)
	}
	return nil
}

// GetAncestors returns matrix ancestors nearest first; maxDepth <= 0 walks to the root
func (r *MatrixRepository) GetAncestors(ctx context.Context, id entities.UserID, maxDepth int) ([]entities.UserID, error) {
	query := `
		WITH RECURSIVE ancestors AS (
			SELECT parent_id AS id, 1 AS distance
			FROM matrix_nodes
			WHERE user_id = $1 AND parent_id IS NOT NULL
			UNION ALL
			SELECT n.parent_id, a.distance + 1
			FROM ancestors a
			JOIN matrix_nodes n ON n.user_id = a.id
			WHERE n.parent_id IS NOT NULL AND ($2 <= 0 OR a.distance < $2)
		)
		SELECT id FROM ancestors ORDER BY distance
	`

	rows, err := r.q.Query(ctx, query, id, maxDepth)
	if err != nil {
		return nil, fmt.Errorf("failed to get matrix ancestors of %s: %w", id, err)
	}
	defer rows.Close()

	var ancestors []entities.UserID
	for rows.Next() {
		var ancestor entities.UserID
		if err := rows.Scan(&ancestor); err != nil {
			return nil, fmt.Errorf("failed to scan ancestor: %w", err)
		}
		ancestors = append(ancestors, ancestor)
	}
	return ancestors, rows.Err()
}
