package teams

import (
	"context"

	"github.com/odyssey-erp/gatekeeper/internal/authz"
)

// Repository provides persistence for teams and team-role assignments.
type Repository interface {
	CreateTeam(ctx context.Context, name string, parentTeamID *int64) (Team, error)
	GetTeam(ctx context.Context, teamID int64) (Team, error)
	ReparentTeam(ctx context.Context, teamID int64, parentTeamID *int64) (Team, error)
	SoftDeleteTeam(ctx context.Context, teamID int64) error

	GetRole(ctx context.Context, roleID string) (authz.Role, error)

	InsertAssignment(ctx context.Context, assignment authz.TeamRole) (authz.TeamRole, error)
	GetAssignment(ctx context.Context, teamRoleID int64) (authz.TeamRole, error)
	ListAssignments(ctx context.Context, teamID int64) ([]authz.TeamRole, error)
	CountActiveAssignments(ctx context.Context, teamID int64, roleID string) (int, error)
	CountDerivedAssignments(ctx context.Context, teamRoleID int64) (int, error)
	SuspendAssignment(ctx context.Context, teamRoleID int64) error
	TerminateAssignment(ctx context.Context, teamRoleID int64) error
	DeleteAssignment(ctx context.Context, teamRoleID int64) error
}
