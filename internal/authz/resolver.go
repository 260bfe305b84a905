package authz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/odyssey-erp/gatekeeper/internal/bypass"
	"github.com/odyssey-erp/gatekeeper/internal/observability"
	"github.com/odyssey-erp/gatekeeper/internal/platform/cache"
	"github.com/odyssey-erp/gatekeeper/internal/shared"
)

// HierarchyLookup is the slice of the team hierarchy service the resolver
// needs to expand an assignment's reach through the tree.
type HierarchyLookup interface {
	DescendantIDs(ctx context.Context, teamID int64) ([]int64, error)
	SiblingIDs(ctx context.Context, teamID int64) ([]int64, error)
}

// Config carries the externally-owned toggles the resolver reads at decision
// time.
type Config struct {
	// BypassAll short-circuits every check to allow. Operational escape hatch.
	BypassAll bool
	// UndefinedDenied treats permission keys that are not registered as denied.
	UndefinedDenied bool
	// ResolutionTTL bounds how long a resolution result stays cached.
	ResolutionTTL time.Duration
}

// Resolver computes effective permission grants. Resolution is a pure
// function of store state; the only side effect is cache population, and
// every cached step has a direct-computation fallback.
type Resolver struct {
	logger  *slog.Logger
	repo    Repository
	hier    HierarchyLookup
	cache   *cache.Tagged
	metrics *observability.Metrics
	cfg     Config
}

// NewResolver constructs a Resolver.
func NewResolver(logger *slog.Logger, repo Repository, hier HierarchyLookup, tagged *cache.Tagged, metrics *observability.Metrics, cfg Config) *Resolver {
	if cfg.ResolutionTTL <= 0 {
		cfg.ResolutionTTL = 15 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{logger: logger, repo: repo, hier: hier, cache: tagged, metrics: metrics, cfg: cfg}
}

// UserHasPermission reports whether the user holds the required type for the
// permission key, optionally narrowed to a team scope. A user with zero
// active assignments yields false, not an error; an invalid required type is
// a programming error and fails fast.
func (r *Resolver) UserHasPermission(ctx context.Context, userID int64, key string, required Type, teamScope *int64) (bool, error) {
	if !required.Valid() {
		return false, fmt.Errorf("%w: %d", shared.ErrInvalidPermissionType, int(required))
	}
	if r.cfg.BypassAll || bypass.Active(ctx) || bypass.InSystemContext(ctx) {
		return true, nil
	}
	if super, err := r.superAdmin(ctx, userID); err != nil {
		r.logger.Warn("super admin lookup failed", slog.Int64("user_id", userID), slog.Any("error", err))
	} else if super {
		return true, nil
	}
	if r.cfg.UndefinedDenied {
		defined, err := r.permissionDefined(ctx, key)
		if err != nil {
			return false, err
		}
		if !defined {
			return false, nil
		}
	}

	ckey := resolutionKey(userID, key, teamScope, required)
	memo := cache.MemoFromContext(ctx)
	if cached, ok := memo.Get(ckey); ok {
		r.metrics.CacheHit("memo")
		return cached.(bool), nil
	}

	var granted bool
	err := r.cache.Get(ctx, ckey, &granted)
	if err == nil {
		r.metrics.CacheHit("tagged")
		memo.Set(ckey, granted)
		return granted, nil
	}
	if !errors.Is(err, cache.ErrMiss) {
		// Advisory cache: fall through to direct computation.
		r.logger.Warn("resolution cache read failed", slog.Any("error", err))
	}
	r.metrics.CacheMiss("tagged")

	granted, tags, err := r.resolve(ctx, userID, key, required, teamScope)
	if err != nil {
		return false, err
	}
	if putErr := r.cache.Put(ctx, ckey, granted, r.cfg.ResolutionTTL, tags...); putErr != nil {
		r.logger.Warn("resolution cache write failed", slog.Any("error", putErr))
	}
	memo.Set(ckey, granted)
	r.metrics.Resolution(granted)
	return granted, nil
}

func (r *Resolver) resolve(ctx context.Context, userID int64, key string, required Type, teamScope *int64) (bool, []string, error) {
	tags := []string{TagResolution, TagUser(userID)}
	assignments, err := r.repo.ActiveAssignments(ctx, userID)
	if err != nil {
		return false, nil, err
	}
	if len(assignments) == 0 {
		return false, tags, nil
	}

	roleIDs := make([]string, 0, len(assignments))
	seenRoles := make(map[string]struct{}, len(assignments))
	for _, assignment := range assignments {
		if _, ok := seenRoles[assignment.RoleID]; ok {
			continue
		}
		seenRoles[assignment.RoleID] = struct{}{}
		roleIDs = append(roleIDs, assignment.RoleID)
		tags = append(tags, TagRole(assignment.RoleID))
	}

	rolePerms, err := r.repo.RolePermissions(ctx, roleIDs)
	if err != nil {
		return false, nil, err
	}

	grants := make([]AssignmentGrant, 0, len(assignments))
	for _, assignment := range assignments {
		if teamScope != nil {
			covered, err := r.assignmentCovers(ctx, assignment, *teamScope)
			if err != nil {
				return false, nil, err
			}
			if !covered {
				continue
			}
		}
		grants = append(grants, AssignmentGrant{Assignment: assignment, RolePermissions: rolePerms[assignment.RoleID]})
	}

	decision := Merge(grants, key, required)
	return decision.Granted(), tags, nil
}

// assignmentCovers reports whether the assignment's reach includes teamID.
// Propagation is evaluated relative to the team the assignment is attached
// to, never the requested team.
func (r *Resolver) assignmentCovers(ctx context.Context, assignment TeamRole, teamID int64) (bool, error) {
	if assignment.TeamID == teamID {
		return true, nil
	}
	teams, err := r.accessibleTeams(ctx, assignment)
	if err != nil {
		return false, err
	}
	for _, id := range teams {
		if id == teamID {
			return true, nil
		}
	}
	return false, nil
}

// accessibleTeams expands one assignment into the teams it grants access to:
// its own team, plus descendants and/or siblings per the hierarchy mode.
func (r *Resolver) accessibleTeams(ctx context.Context, assignment TeamRole) ([]int64, error) {
	ckey := accessibleTeamsKey(assignment.ID)
	memo := cache.MemoFromContext(ctx)
	if cached, ok := memo.Get(ckey); ok {
		return cached.([]int64), nil
	}

	var teams []int64
	tags := []string{TagResolution, TagUser(assignment.UserID)}
	err := r.cache.Fetch(ctx, ckey, r.cfg.ResolutionTTL, tags, &teams, func(ctx context.Context) (any, error) {
		expanded := []int64{assignment.TeamID}
		if assignment.Mode.GrantsBelow() {
			below, err := r.hier.DescendantIDs(ctx, assignment.TeamID)
			if err != nil {
				return nil, err
			}
			expanded = append(expanded, below...)
		}
		if assignment.Mode.GrantsNeighbours() {
			neighbours, err := r.hier.SiblingIDs(ctx, assignment.TeamID)
			if err != nil {
				return nil, err
			}
			expanded = append(expanded, neighbours...)
		}
		return expanded, nil
	})
	if err != nil {
		return nil, err
	}
	memo.Set(ckey, teams)
	return teams, nil
}

// PreAuthorizedTeams returns the teams the user is already granted directly
// for key, computed in one group-by pass. When any DENY entry exists for the
// key, the shortcut is disabled entirely so hierarchy-propagated denials are
// never skipped; callers fall back to full per-team resolution.
func (r *Resolver) PreAuthorizedTeams(ctx context.Context, userID int64, key string, required Type) (map[int64]bool, error) {
	if !required.Valid() {
		return nil, fmt.Errorf("%w: %d", shared.ErrInvalidPermissionType, int(required))
	}
	grantsByTeam, err := r.repo.DirectTeamGrants(ctx, userID, key)
	if err != nil {
		return nil, err
	}
	for _, entries := range grantsByTeam {
		for _, entry := range entries {
			if entry.Type == TypeDeny {
				return map[int64]bool{}, nil
			}
		}
	}
	authorized := make(map[int64]bool)
	for teamID, entries := range grantsByTeam {
		for _, entry := range entries {
			if entry.Type.Satisfies(required) {
				authorized[teamID] = true
				break
			}
		}
	}
	return authorized, nil
}

// WarmDecision seeds the memo with an externally computed decision so later
// single-record checks in the same unit of work stay round-trip free.
func (r *Resolver) WarmDecision(ctx context.Context, userID int64, key string, required Type, teamScope *int64, granted bool) {
	cache.MemoFromContext(ctx).Set(resolutionKey(userID, key, teamScope, required), granted)
}

// ClearUserCache evicts every cached decision derived from the user's
// assignments.
func (r *Resolver) ClearUserCache(ctx context.Context, userID int64) error {
	return r.cache.InvalidateTag(ctx, TagUser(userID))
}

// ClearAllCache evicts the whole resolution family.
func (r *Resolver) ClearAllCache(ctx context.Context) error {
	return r.cache.InvalidateTag(ctx, TagResolution)
}

func (r *Resolver) superAdmin(ctx context.Context, userID int64) (bool, error) {
	ckey := superAdminKey(userID)
	memo := cache.MemoFromContext(ctx)
	if cached, ok := memo.Get(ckey); ok {
		return cached.(bool), nil
	}
	var super bool
	tags := []string{TagResolution, TagUser(userID)}
	err := r.cache.Fetch(ctx, ckey, r.cfg.ResolutionTTL, tags, &super, func(ctx context.Context) (any, error) {
		return r.repo.IsSuperAdmin(ctx, userID)
	})
	if err != nil {
		return false, err
	}
	memo.Set(ckey, super)
	return super, nil
}

func (r *Resolver) permissionDefined(ctx context.Context, key string) (bool, error) {
	ckey := definedKey(key)
	memo := cache.MemoFromContext(ctx)
	if cached, ok := memo.Get(ckey); ok {
		return cached.(bool), nil
	}
	var defined bool
	tags := []string{TagResolution}
	err := r.cache.Fetch(ctx, ckey, r.cfg.ResolutionTTL, tags, &defined, func(ctx context.Context) (any, error) {
		return r.repo.PermissionDefined(ctx, key)
	})
	if err != nil {
		return false, err
	}
	memo.Set(ckey, defined)
	return defined, nil
}
