package authz

import "context"

// Repository is the store surface the resolver needs: equality/IN-list reads
// over assignments and permission tables plus the group-by used for the
// teams-with-permission computation.
type Repository interface {
	// ActiveAssignments returns the user's team-role assignments that are
	// neither suspended, terminated nor soft-deleted, overrides included.
	ActiveAssignments(ctx context.Context, userID int64) ([]TeamRole, error)
	// RolePermissions returns role-level permission entries keyed by role id.
	RolePermissions(ctx context.Context, roleIDs []string) (map[string][]RolePermission, error)
	// IsSuperAdmin reports whether the user carries the administrative override.
	IsSuperAdmin(ctx context.Context, userID int64) (bool, error)
	// PermissionDefined reports whether a permission key is registered.
	PermissionDefined(ctx context.Context, key string) (bool, error)
	// DirectTeamGrants groups the user's active entries for one permission key
	// by the team their assignment is attached to.
	DirectTeamGrants(ctx context.Context, userID int64, key string) (map[int64][]RolePermission, error)
}
