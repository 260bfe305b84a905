package invalidation

import "github.com/google/uuid"

// Event types carried in task payloads.
const (
	TypeRoleAssignmentChanged      = "authz:role-assignment-changed"
	TypeRolePermissionsChanged     = "authz:role-permissions-changed"
	TypeTeamHierarchyChanged       = "authz:team-hierarchy-changed"
	TypeTeamCreated                = "authz:team-created"
	TypePermissionDefinitionChange = "authz:permission-definition-changed"
)

// Event is a domain mutation notification consumed by the Manager.
type Event interface {
	EventType() string
}

// RoleAssignmentChanged fires when a user gains, loses or changes a team-role
// assignment (including suspension and termination).
type RoleAssignmentChanged struct {
	ID      uuid.UUID `json:"id"`
	UserIDs []int64   `json:"user_ids"`
}

func (RoleAssignmentChanged) EventType() string { return TypeRoleAssignmentChanged }

// RolePermissionsChanged fires when a role's permission entries change.
type RolePermissionsChanged struct {
	ID      uuid.UUID `json:"id"`
	RoleIDs []string  `json:"role_ids"`
}

func (RolePermissionsChanged) EventType() string { return TypeRolePermissionsChanged }

// TeamHierarchyChanged fires when a team's parent link changes or a team is
// soft-deleted.
type TeamHierarchyChanged struct {
	ID      uuid.UUID `json:"id"`
	TeamIDs []int64   `json:"team_ids"`
}

func (TeamHierarchyChanged) EventType() string { return TypeTeamHierarchyChanged }

// TeamCreated fires when new teams appear in the tree.
type TeamCreated struct {
	ID      uuid.UUID `json:"id"`
	TeamIDs []int64   `json:"team_ids"`
}

func (TeamCreated) EventType() string { return TypeTeamCreated }

// PermissionDefinitionChanged fires when permission definitions are created,
// renamed or removed.
type PermissionDefinitionChanged struct {
	ID             uuid.UUID `json:"id"`
	PermissionKeys []string  `json:"permission_keys"`
}

func (PermissionDefinitionChanged) EventType() string { return TypePermissionDefinitionChange }

// NewRoleAssignmentChanged builds the event with a fresh id.
func NewRoleAssignmentChanged(userIDs ...int64) RoleAssignmentChanged {
	return RoleAssignmentChanged{ID: uuid.New(), UserIDs: userIDs}
}

// NewRolePermissionsChanged builds the event with a fresh id.
func NewRolePermissionsChanged(roleIDs ...string) RolePermissionsChanged {
	return RolePermissionsChanged{ID: uuid.New(), RoleIDs: roleIDs}
}

// NewTeamHierarchyChanged builds the event with a fresh id.
func NewTeamHierarchyChanged(teamIDs ...int64) TeamHierarchyChanged {
	return TeamHierarchyChanged{ID: uuid.New(), TeamIDs: teamIDs}
}

// NewTeamCreated builds the event with a fresh id.
func NewTeamCreated(teamIDs ...int64) TeamCreated {
	return TeamCreated{ID: uuid.New(), TeamIDs: teamIDs}
}

// NewPermissionDefinitionChanged builds the event with a fresh id.
func NewPermissionDefinitionChanged(keys ...string) PermissionDefinitionChanged {
	return PermissionDefinitionChanged{ID: uuid.New(), PermissionKeys: keys}
}
