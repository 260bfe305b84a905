package teams

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/gatekeeper/internal/authz"
	"github.com/odyssey-erp/gatekeeper/internal/shared"
)

// SQLRepository provides PostgreSQL backed persistence.
type SQLRepository struct {
	pool *pgxpool.Pool
}

// NewSQLRepository constructs a repository.
func NewSQLRepository(pool *pgxpool.Pool) *SQLRepository {
	return &SQLRepository{pool: pool}
}

// CreateTeam inserts a new team under the given parent.
func (r *SQLRepository) CreateTeam(ctx context.Context, name string, parentTeamID *int64) (Team, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO teams (name, parent_team_id, created_at)
		VALUES ($1, $2, now())
		RETURNING id, name, parent_team_id, deleted_at, created_at`, name, parentTeamID)
	return scanTeam(row)
}

// GetTeam fetches a live team by id.
func (r *SQLRepository) GetTeam(ctx context.Context, teamID int64) (Team, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, parent_team_id, deleted_at, created_at
		FROM teams WHERE id = $1 AND deleted_at IS NULL`, teamID)
	team, err := scanTeam(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Team{}, shared.ErrNotFound
	}
	return team, err
}

// ReparentTeam moves a team under a new parent.
func (r *SQLRepository) ReparentTeam(ctx context.Context, teamID int64, parentTeamID *int64) (Team, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE teams SET parent_team_id = $2
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING id, name, parent_team_id, deleted_at, created_at`, teamID, parentTeamID)
	team, err := scanTeam(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Team{}, shared.ErrNotFound
	}
	return team, err
}

// SoftDeleteTeam excludes a team from traversal without removing rows.
func (r *SQLRepository) SoftDeleteTeam(ctx context.Context, teamID int64) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE teams SET deleted_at = now()
		WHERE id = $1 AND deleted_at IS NULL`, teamID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// GetRole fetches a role by id.
func (r *SQLRepository) GetRole(ctx context.Context, roleID string) (authz.Role, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, description, from_system, max_per_team, created_at, updated_at
		FROM roles WHERE id = $1`, roleID)
	var role authz.Role
	if err := row.Scan(&role.ID, &role.Name, &role.Description, &role.FromSystem, &role.MaxPerTeam, &role.CreatedAt, &role.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return authz.Role{}, shared.ErrNotFound
		}
		return authz.Role{}, err
	}
	return role, nil
}

// InsertAssignment creates a team-role assignment with its overrides.
func (r *SQLRepository) InsertAssignment(ctx context.Context, assignment authz.TeamRole) (authz.TeamRole, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return authz.TeamRole{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
		INSERT INTO team_roles (user_id, team_id, role_id, hierarchy_mode, parent_team_role_id, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
		RETURNING id, created_at`,
		assignment.UserID, assignment.TeamID, assignment.RoleID, string(assignment.Mode), assignment.ParentTeamRoleID)
	if err := row.Scan(&assignment.ID, &assignment.CreatedAt); err != nil {
		return authz.TeamRole{}, err
	}
	for _, override := range assignment.Overrides {
		if _, err := tx.Exec(ctx, `
			INSERT INTO team_role_overrides (team_role_id, permission_key, permission_type)
			VALUES ($1, $2, $3)`, assignment.ID, override.Key, int(override.Type)); err != nil {
			return authz.TeamRole{}, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return authz.TeamRole{}, err
	}
	return assignment, nil
}

// GetAssignment fetches an assignment by id, overrides included.
func (r *SQLRepository) GetAssignment(ctx context.Context, teamRoleID int64) (authz.TeamRole, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, user_id, team_id, role_id, hierarchy_mode, parent_team_role_id,
		       suspended_at, terminated_at, deleted_at, created_at
		FROM team_roles WHERE id = $1`, teamRoleID)
	assignment, err := scanAssignment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return authz.TeamRole{}, shared.ErrNotFound
	}
	if err != nil {
		return authz.TeamRole{}, err
	}
	overrides, err := r.assignmentOverrides(ctx, teamRoleID)
	if err != nil {
		return authz.TeamRole{}, err
	}
	assignment.Overrides = overrides
	return assignment, nil
}

// ListAssignments returns all assignments attached to a team.
func (r *SQLRepository) ListAssignments(ctx context.Context, teamID int64) ([]authz.TeamRole, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, team_id, role_id, hierarchy_mode, parent_team_role_id,
		       suspended_at, terminated_at, deleted_at, created_at
		FROM team_roles WHERE team_id = $1 AND deleted_at IS NULL
		ORDER BY id`, teamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assignments []authz.TeamRole
	for rows.Next() {
		assignment, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		assignments = append(assignments, assignment)
	}
	return assignments, rows.Err()
}

// CountActiveAssignments counts active holders of a role in one team,
// enforcing the role's per-team limit.
func (r *SQLRepository) CountActiveAssignments(ctx context.Context, teamID int64, roleID string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM team_roles
		WHERE team_id = $1 AND role_id = $2
		  AND suspended_at IS NULL AND terminated_at IS NULL AND deleted_at IS NULL`,
		teamID, roleID).Scan(&count)
	return count, err
}

// CountDerivedAssignments counts assignments derived from the given one.
func (r *SQLRepository) CountDerivedAssignments(ctx context.Context, teamRoleID int64) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM team_roles
		WHERE parent_team_role_id = $1 AND deleted_at IS NULL`, teamRoleID).Scan(&count)
	return count, err
}

// SuspendAssignment marks an assignment suspended.
func (r *SQLRepository) SuspendAssignment(ctx context.Context, teamRoleID int64) error {
	return r.touchAssignment(ctx, teamRoleID, `UPDATE team_roles SET suspended_at = now() WHERE id = $1 AND suspended_at IS NULL AND deleted_at IS NULL`)
}

// TerminateAssignment marks an assignment terminated and soft-deletes it.
func (r *SQLRepository) TerminateAssignment(ctx context.Context, teamRoleID int64) error {
	return r.touchAssignment(ctx, teamRoleID, `UPDATE team_roles SET terminated_at = now(), deleted_at = now() WHERE id = $1 AND terminated_at IS NULL`)
}

// DeleteAssignment permanently removes an assignment and its overrides.
func (r *SQLRepository) DeleteAssignment(ctx context.Context, teamRoleID int64) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM team_role_overrides WHERE team_role_id = $1`, teamRoleID); err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `DELETE FROM team_roles WHERE id = $1`, teamRoleID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return tx.Commit(ctx)
}

func (r *SQLRepository) touchAssignment(ctx context.Context, teamRoleID int64, query string) error {
	tag, err := r.pool.Exec(ctx, query, teamRoleID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *SQLRepository) assignmentOverrides(ctx context.Context, teamRoleID int64) ([]authz.RolePermission, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT permission_key, permission_type
		FROM team_role_overrides
		WHERE team_role_id = $1
		ORDER BY permission_key`, teamRoleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var overrides []authz.RolePermission
	for rows.Next() {
		var key string
		var rawType int
		if err := rows.Scan(&key, &rawType); err != nil {
			return nil, err
		}
		permType, err := authz.ParseType(rawType)
		if err != nil {
			return nil, err
		}
		overrides = append(overrides, authz.RolePermission{Key: key, Type: permType})
	}
	return overrides, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTeam(row scanner) (Team, error) {
	var team Team
	if err := row.Scan(&team.ID, &team.Name, &team.ParentTeamID, &team.DeletedAt, &team.CreatedAt); err != nil {
		return Team{}, err
	}
	return team, nil
}

func scanAssignment(row scanner) (authz.TeamRole, error) {
	var assignment authz.TeamRole
	var mode string
	if err := row.Scan(&assignment.ID, &assignment.UserID, &assignment.TeamID, &assignment.RoleID, &mode,
		&assignment.ParentTeamRoleID, &assignment.SuspendedAt, &assignment.TerminatedAt, &assignment.DeletedAt, &assignment.CreatedAt); err != nil {
		return authz.TeamRole{}, err
	}
	assignment.Mode = authz.HierarchyMode(mode)
	return assignment, nil
}
