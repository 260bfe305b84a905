package teams

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/odyssey-erp/gatekeeper/internal/authz"
	"github.com/odyssey-erp/gatekeeper/internal/hierarchy"
	"github.com/odyssey-erp/gatekeeper/internal/invalidation"
	"github.com/odyssey-erp/gatekeeper/internal/shared"
)

// Emitter delivers invalidation events raised by team mutations.
type Emitter interface {
	Emit(ctx context.Context, event invalidation.Event) error
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(ctx context.Context, event invalidation.Event) error

// Emit implements Emitter.
func (f EmitterFunc) Emit(ctx context.Context, event invalidation.Event) error {
	return f(ctx, event)
}

// Fanout delivers each event to every emitter, collecting the first error.
func Fanout(emitters ...Emitter) Emitter {
	return EmitterFunc(func(ctx context.Context, event invalidation.Event) error {
		var firstErr error
		for _, emitter := range emitters {
			if err := emitter.Emit(ctx, event); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	})
}

// Checker guards mutating operations.
type Checker interface {
	UserHasPermission(ctx context.Context, userID int64, key string, required authz.Type, teamScope *int64) (bool, error)
}

// Service manages the team tree and team-role assignment lifecycle. Every
// mutation emits the matching invalidation event so cached resolutions and
// traversals reflect the new state.
type Service struct {
	logger  *slog.Logger
	repo    Repository
	hier    *hierarchy.Service
	checker Checker
	emitter Emitter
}

// NewService constructs a Service.
func NewService(logger *slog.Logger, repo Repository, hier *hierarchy.Service, checker Checker, emitter Emitter) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{logger: logger, repo: repo, hier: hier, checker: checker, emitter: emitter}
}

// CreateTeam creates a team under the optional parent.
func (s *Service) CreateTeam(ctx context.Context, name string, parentTeamID *int64) (Team, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Team{}, errors.New("teams: team name required")
	}
	if err := s.authorize(ctx, authz.TypeWrite, parentTeamID); err != nil {
		return Team{}, err
	}
	if parentTeamID != nil {
		if _, err := s.repo.GetTeam(ctx, *parentTeamID); err != nil {
			return Team{}, fmt.Errorf("teams: parent team: %w", err)
		}
	}
	team, err := s.repo.CreateTeam(ctx, name, parentTeamID)
	if err != nil {
		return Team{}, err
	}
	s.emit(ctx, invalidation.NewTeamCreated(team.ID))
	if parentTeamID != nil {
		s.emit(ctx, invalidation.NewTeamHierarchyChanged(*parentTeamID))
	}
	return team, nil
}

// ReparentTeam moves a team under a new parent. Moving a team under its own
// subtree would create a cycle and is rejected.
func (s *Service) ReparentTeam(ctx context.Context, teamID int64, parentTeamID *int64) (Team, error) {
	if err := s.authorize(ctx, authz.TypeWrite, &teamID); err != nil {
		return Team{}, err
	}
	current, err := s.repo.GetTeam(ctx, teamID)
	if err != nil {
		return Team{}, err
	}
	if parentTeamID != nil {
		inSubtree, err := s.hier.IsDescendant(ctx, teamID, *parentTeamID)
		if err != nil {
			return Team{}, err
		}
		if inSubtree {
			return Team{}, errors.New("teams: cannot move a team under its own subtree")
		}
	}
	team, err := s.repo.ReparentTeam(ctx, teamID, parentTeamID)
	if err != nil {
		return Team{}, err
	}
	affected := []int64{teamID}
	if current.ParentTeamID != nil {
		affected = append(affected, *current.ParentTeamID)
	}
	if parentTeamID != nil {
		affected = append(affected, *parentTeamID)
	}
	s.emit(ctx, invalidation.NewTeamHierarchyChanged(affected...))
	return team, nil
}

// DeleteTeam soft-deletes a team, excluding it from traversal.
func (s *Service) DeleteTeam(ctx context.Context, teamID int64) error {
	if err := s.authorize(ctx, authz.TypeAll, &teamID); err != nil {
		return err
	}
	if err := s.repo.SoftDeleteTeam(ctx, teamID); err != nil {
		return err
	}
	s.emit(ctx, invalidation.NewTeamHierarchyChanged(teamID))
	return nil
}

// AssignRole links a user to a role within a team, enforcing the role's
// per-team assignment limit.
func (s *Service) AssignRole(ctx context.Context, userID, teamID int64, roleID string, mode authz.HierarchyMode, overrides []authz.RolePermission) (authz.TeamRole, error) {
	if !mode.Valid() {
		return authz.TeamRole{}, fmt.Errorf("teams: invalid hierarchy mode %q", mode)
	}
	for _, override := range overrides {
		if !override.Type.Valid() {
			return authz.TeamRole{}, fmt.Errorf("%w: %d", shared.ErrInvalidPermissionType, int(override.Type))
		}
	}
	if err := s.authorize(ctx, authz.TypeWrite, &teamID); err != nil {
		return authz.TeamRole{}, err
	}
	role, err := s.repo.GetRole(ctx, roleID)
	if err != nil {
		return authz.TeamRole{}, err
	}
	if _, err := s.repo.GetTeam(ctx, teamID); err != nil {
		return authz.TeamRole{}, err
	}
	if role.MaxPerTeam != nil {
		count, err := s.repo.CountActiveAssignments(ctx, teamID, roleID)
		if err != nil {
			return authz.TeamRole{}, err
		}
		if count >= *role.MaxPerTeam {
			return authz.TeamRole{}, shared.ErrAssignmentLimit
		}
	}
	assignment, err := s.repo.InsertAssignment(ctx, authz.TeamRole{
		UserID:    userID,
		TeamID:    teamID,
		RoleID:    roleID,
		Mode:      mode,
		Overrides: overrides,
	})
	if err != nil {
		return authz.TeamRole{}, err
	}
	s.emit(ctx, invalidation.NewRoleAssignmentChanged(userID))
	return assignment, nil
}

// DeriveChildAssignments lazily materializes child assignments under a
// propagating ancestor assignment: same user and role, self-only mode, parent
// link set. Descendants that already hold the role are skipped.
func (s *Service) DeriveChildAssignments(ctx context.Context, teamRoleID int64) ([]authz.TeamRole, error) {
	parent, err := s.repo.GetAssignment(ctx, teamRoleID)
	if err != nil {
		return nil, err
	}
	if !parent.Active() || !parent.Mode.GrantsBelow() {
		return nil, nil
	}
	nodes, err := s.hier.DescendantsWithRole(ctx, parent.TeamID, parent.RoleID)
	if err != nil {
		return nil, err
	}
	var derived []authz.TeamRole
	for _, node := range nodes {
		if node.HasRole {
			continue
		}
		parentID := parent.ID
		child, err := s.repo.InsertAssignment(ctx, authz.TeamRole{
			UserID:           parent.UserID,
			TeamID:           node.ID,
			RoleID:           parent.RoleID,
			Mode:             authz.ModeSelf,
			ParentTeamRoleID: &parentID,
		})
		if err != nil {
			return derived, err
		}
		derived = append(derived, child)
	}
	if len(derived) > 0 {
		s.emit(ctx, invalidation.NewRoleAssignmentChanged(parent.UserID))
	}
	return derived, nil
}

// SuspendAssignment excludes an assignment from resolution until reinstated.
func (s *Service) SuspendAssignment(ctx context.Context, teamRoleID int64) error {
	return s.endAssignment(ctx, teamRoleID, s.repo.SuspendAssignment)
}

// TerminateAssignment ends an assignment permanently (timestamp plus
// soft-delete).
func (s *Service) TerminateAssignment(ctx context.Context, teamRoleID int64) error {
	return s.endAssignment(ctx, teamRoleID, s.repo.TerminateAssignment)
}

// RemoveAssignment permanently deletes an assignment. Refused for system
// roles and for assignments that still have derived children.
func (s *Service) RemoveAssignment(ctx context.Context, teamRoleID int64) error {
	assignment, err := s.repo.GetAssignment(ctx, teamRoleID)
	if err != nil {
		return err
	}
	if err := s.authorize(ctx, authz.TypeAll, &assignment.TeamID); err != nil {
		return err
	}
	role, err := s.repo.GetRole(ctx, assignment.RoleID)
	if err != nil {
		return err
	}
	if role.FromSystem {
		return shared.ErrSystemRole
	}
	derived, err := s.repo.CountDerivedAssignments(ctx, teamRoleID)
	if err != nil {
		return err
	}
	if derived > 0 {
		return shared.ErrAssignmentInUse
	}
	if err := s.repo.DeleteAssignment(ctx, teamRoleID); err != nil {
		return err
	}
	s.emit(ctx, invalidation.NewRoleAssignmentChanged(assignment.UserID))
	return nil
}

// ListAssignments returns a team's assignments.
func (s *Service) ListAssignments(ctx context.Context, teamID int64) ([]authz.TeamRole, error) {
	return s.repo.ListAssignments(ctx, teamID)
}

// GetTeam returns a live team.
func (s *Service) GetTeam(ctx context.Context, teamID int64) (Team, error) {
	return s.repo.GetTeam(ctx, teamID)
}

func (s *Service) endAssignment(ctx context.Context, teamRoleID int64, apply func(context.Context, int64) error) error {
	assignment, err := s.repo.GetAssignment(ctx, teamRoleID)
	if err != nil {
		return err
	}
	if err := s.authorize(ctx, authz.TypeWrite, &assignment.TeamID); err != nil {
		return err
	}
	if err := apply(ctx, teamRoleID); err != nil {
		return err
	}
	s.emit(ctx, invalidation.NewRoleAssignmentChanged(assignment.UserID))
	return nil
}

// authorize guards a mutation with the team permission. Denial surfaces as a
// PermissionError because silent failure on writes would be misleading.
func (s *Service) authorize(ctx context.Context, required authz.Type, teamScope *int64) error {
	actor := shared.ActorFromContext(ctx)
	if actor == nil {
		return &shared.PermissionError{Key: shared.PermTeam, Required: required.String(), TeamIDs: scopeIDs(teamScope)}
	}
	granted, err := s.checker.UserHasPermission(ctx, actor.UserID, shared.PermTeam, required, teamScope)
	if err != nil {
		return err
	}
	if !granted {
		return &shared.PermissionError{Key: shared.PermTeam, Required: required.String(), TeamIDs: scopeIDs(teamScope)}
	}
	return nil
}

func (s *Service) emit(ctx context.Context, event invalidation.Event) {
	if s.emitter == nil {
		return
	}
	if err := s.emitter.Emit(ctx, event); err != nil {
		s.logger.Error("invalidation event emit failed",
			slog.String("event", event.EventType()),
			slog.Any("error", err))
	}
}

func scopeIDs(teamScope *int64) []int64 {
	if teamScope == nil {
		return nil
	}
	return []int64{*teamScope}
}
