package authz

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/gatekeeper/internal/shared"
)

const pgUniqueViolation = "23505"

// SQLRepository provides PostgreSQL backed persistence for the resolver.
type SQLRepository struct {
	pool *pgxpool.Pool
}

// NewSQLRepository constructs a repository.
func NewSQLRepository(pool *pgxpool.Pool) *SQLRepository {
	return &SQLRepository{pool: pool}
}

// ActiveAssignments returns the user's active team-role assignments with
// their direct overrides attached.
func (r *SQLRepository) ActiveAssignments(ctx context.Context, userID int64) ([]TeamRole, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, team_id, role_id, hierarchy_mode, parent_team_role_id, created_at
		FROM team_roles
		WHERE user_id = $1
		  AND suspended_at IS NULL
		  AND terminated_at IS NULL
		  AND deleted_at IS NULL
		ORDER BY id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assignments []TeamRole
	ids := make([]int64, 0, 8)
	for rows.Next() {
		var tr TeamRole
		var mode string
		if err := rows.Scan(&tr.ID, &tr.UserID, &tr.TeamID, &tr.RoleID, &mode, &tr.ParentTeamRoleID, &tr.CreatedAt); err != nil {
			return nil, err
		}
		tr.Mode = HierarchyMode(mode)
		assignments = append(assignments, tr)
		ids = append(ids, tr.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(assignments) == 0 {
		return nil, nil
	}

	overrides, err := r.overridesFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range assignments {
		assignments[i].Overrides = overrides[assignments[i].ID]
	}
	return assignments, nil
}

func (r *SQLRepository) overridesFor(ctx context.Context, teamRoleIDs []int64) (map[int64][]RolePermission, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT team_role_id, permission_key, permission_type
		FROM team_role_overrides
		WHERE team_role_id = ANY($1)
		ORDER BY team_role_id, permission_key`, teamRoleIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64][]RolePermission)
	for rows.Next() {
		var teamRoleID int64
		var key string
		var rawType int
		if err := rows.Scan(&teamRoleID, &key, &rawType); err != nil {
			return nil, err
		}
		permType, err := ParseType(rawType)
		if err != nil {
			return nil, err
		}
		out[teamRoleID] = append(out[teamRoleID], RolePermission{Key: key, Type: permType})
	}
	return out, rows.Err()
}

// RolePermissions returns role-level entries keyed by role id.
func (r *SQLRepository) RolePermissions(ctx context.Context, roleIDs []string) (map[string][]RolePermission, error) {
	if len(roleIDs) == 0 {
		return map[string][]RolePermission{}, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT role_id, permission_key, permission_type
		FROM role_permissions
		WHERE role_id = ANY($1)
		ORDER BY role_id, permission_key`, roleIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]RolePermission, len(roleIDs))
	for rows.Next() {
		var roleID, key string
		var rawType int
		if err := rows.Scan(&roleID, &key, &rawType); err != nil {
			return nil, err
		}
		permType, err := ParseType(rawType)
		if err != nil {
			return nil, err
		}
		out[roleID] = append(out[roleID], RolePermission{Key: key, Type: permType})
	}
	return out, rows.Err()
}

// IsSuperAdmin reports whether the user carries the administrative override.
func (r *SQLRepository) IsSuperAdmin(ctx context.Context, userID int64) (bool, error) {
	var super bool
	err := r.pool.QueryRow(ctx, `SELECT is_super_admin FROM users WHERE id = $1`, userID).Scan(&super)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	return super, err
}

// PermissionDefined reports whether a permission key is registered.
func (r *SQLRepository) PermissionDefined(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM permissions WHERE key = $1)`, key).Scan(&exists)
	return exists, err
}

// DirectTeamGrants groups the user's active entries for one permission key by
// the team their assignment is attached to. Direct overrides shadow role
// entries per assignment, mirroring the merge precedence.
func (r *SQLRepository) DirectTeamGrants(ctx context.Context, userID int64, key string) (map[int64][]RolePermission, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT tr.team_id,
		       COALESCE(o.permission_key, rp.permission_key),
		       COALESCE(o.permission_type, rp.permission_type)
		FROM team_roles tr
		LEFT JOIN team_role_overrides o
		       ON o.team_role_id = tr.id AND o.permission_key = $2
		LEFT JOIN role_permissions rp
		       ON rp.role_id = tr.role_id AND rp.permission_key = $2 AND o.team_role_id IS NULL
		WHERE tr.user_id = $1
		  AND tr.suspended_at IS NULL
		  AND tr.terminated_at IS NULL
		  AND tr.deleted_at IS NULL
		  AND COALESCE(o.permission_key, rp.permission_key) IS NOT NULL
		GROUP BY 1, 2, 3
		ORDER BY 1`, userID, key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64][]RolePermission)
	for rows.Next() {
		var teamID int64
		var permKey string
		var rawType int
		if err := rows.Scan(&teamID, &permKey, &rawType); err != nil {
			return nil, err
		}
		permType, err := ParseType(rawType)
		if err != nil {
			return nil, err
		}
		out[teamID] = append(out[teamID], RolePermission{Key: permKey, Type: permType})
	}
	return out, rows.Err()
}

// EnsurePermission upserts a system-seeded permission definition. Seeding the
// same key twice is tolerated.
func (r *SQLRepository) EnsurePermission(ctx context.Context, p Permission) (Permission, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO permissions (key, section, name, description, from_system, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (key) DO UPDATE SET section = EXCLUDED.section, name = EXCLUDED.name, description = EXCLUDED.description
		RETURNING key, section, name, description, from_system, created_at`,
		p.Key, p.Section, p.Name, p.Description, p.FromSystem)
	var out Permission
	if err := row.Scan(&out.Key, &out.Section, &out.Name, &out.Description, &out.FromSystem, &out.CreatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return p, nil
		}
		return Permission{}, err
	}
	return out, nil
}

// GetRole fetches a role by id.
func (r *SQLRepository) GetRole(ctx context.Context, roleID string) (Role, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, description, from_system, max_per_team, created_at, updated_at
		FROM roles WHERE id = $1`, roleID)
	var role Role
	var updated *time.Time
	if err := row.Scan(&role.ID, &role.Name, &role.Description, &role.FromSystem, &role.MaxPerTeam, &role.CreatedAt, &updated); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, shared.ErrNotFound
		}
		return Role{}, err
	}
	if updated != nil {
		role.UpdatedAt = *updated
	}
	return role, nil
}
