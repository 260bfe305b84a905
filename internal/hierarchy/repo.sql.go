package hierarchy

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// SQLRepository provides PostgreSQL backed tree traversal using recursive
// CTEs over the parent-pointer teams table.
type SQLRepository struct {
	pool *pgxpool.Pool
}

// NewSQLRepository constructs a repository.
func NewSQLRepository(pool *pgxpool.Pool) *SQLRepository {
	return &SQLRepository{pool: pool}
}

// Descendants returns the subtree below teamID, excluding the root itself,
// bounded by maxDepth. A non-existent team yields an empty result.
func (r *SQLRepository) Descendants(ctx context.Context, teamID int64, maxDepth int, search string) ([]Node, error) {
	rows, err := r.pool.Query(ctx, `
		WITH RECURSIVE subtree AS (
			SELECT id, name, parent_team_id, created_at, 0 AS depth
			FROM teams
			WHERE id = $1 AND deleted_at IS NULL
			UNION ALL
			SELECT t.id, t.name, t.parent_team_id, t.created_at, s.depth + 1
			FROM teams t
			JOIN subtree s ON t.parent_team_id = s.id
			WHERE t.deleted_at IS NULL AND s.depth < $2
		)
		SELECT id, name, parent_team_id, created_at, depth
		FROM subtree
		WHERE depth > 0 AND ($3 = '' OR lower(name) LIKE '%' || $3 || '%')
		ORDER BY depth, id`, teamID, maxDepth, search)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanNodes(rows)
}

// Ancestors returns the chain from teamID's parent up to the root, nearest
// first, bounded by maxDepth.
func (r *SQLRepository) Ancestors(ctx context.Context, teamID int64, maxDepth int) ([]Node, error) {
	rows, err := r.pool.Query(ctx, `
		WITH RECURSIVE chain AS (
			SELECT id, name, parent_team_id, created_at, 0 AS depth
			FROM teams
			WHERE id = $1 AND deleted_at IS NULL
			UNION ALL
			SELECT t.id, t.name, t.parent_team_id, t.created_at, c.depth + 1
			FROM teams t
			JOIN chain c ON t.id = c.parent_team_id
			WHERE t.deleted_at IS NULL AND c.depth < $2
		)
		SELECT id, name, parent_team_id, created_at, depth
		FROM chain
		WHERE depth > 0
		ORDER BY depth`, teamID, maxDepth)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanNodes(rows)
}

// Siblings returns the other teams sharing teamID's parent. Root teams are
// siblings of the other roots.
func (r *SQLRepository) Siblings(ctx context.Context, teamID int64, search string) ([]Node, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT t.id, t.name, t.parent_team_id, t.created_at, 0 AS depth
		FROM teams t
		JOIN teams self ON self.id = $1 AND self.deleted_at IS NULL
		WHERE t.id <> $1
		  AND t.deleted_at IS NULL
		  AND t.parent_team_id IS NOT DISTINCT FROM self.parent_team_id
		  AND ($2 = '' OR lower(t.name) LIKE '%' || $2 || '%')
		ORDER BY t.id`, teamID, search)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanNodes(rows)
}

// DescendantsWithRole joins the subtree against team_roles so one traversal
// reports which descendant teams the role id already applies to.
func (r *SQLRepository) DescendantsWithRole(ctx context.Context, teamID int64, roleID string, maxDepth int) ([]RoleNode, error) {
	rows, err := r.pool.Query(ctx, `
		WITH RECURSIVE subtree AS (
			SELECT id, name, parent_team_id, created_at, 0 AS depth
			FROM teams
			WHERE id = $1 AND deleted_at IS NULL
			UNION ALL
			SELECT t.id, t.name, t.parent_team_id, t.created_at, s.depth + 1
			FROM teams t
			JOIN subtree s ON t.parent_team_id = s.id
			WHERE t.deleted_at IS NULL AND s.depth < $3
		)
		SELECT s.id, s.name, s.parent_team_id, s.created_at, s.depth,
		       EXISTS (
		           SELECT 1 FROM team_roles tr
		           WHERE tr.team_id = s.id
		             AND tr.role_id = $2
		             AND tr.suspended_at IS NULL
		             AND tr.terminated_at IS NULL
		             AND tr.deleted_at IS NULL
		       ) AS has_role
		FROM subtree s
		WHERE s.depth > 0
		ORDER BY s.depth, s.id`, teamID, roleID, maxDepth)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var nodes []RoleNode
	for rows.Next() {
		var node RoleNode
		if err := rows.Scan(&node.ID, &node.Name, &node.ParentTeamID, &node.CreatedAt, &node.Depth, &node.HasRole); err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	return nodes, rows.Err()
}

type nodeRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanNodes(rows nodeRows) ([]Node, error) {
	var nodes []Node
	for rows.Next() {
		var node Node
		if err := rows.Scan(&node.ID, &node.Name, &node.ParentTeamID, &node.CreatedAt, &node.Depth); err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	return nodes, rows.Err()
}
