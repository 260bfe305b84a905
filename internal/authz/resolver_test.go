package authz

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/gatekeeper/internal/bypass"
	"github.com/odyssey-erp/gatekeeper/internal/platform/cache"
)

type mockRepo struct {
	assignments  map[int64][]TeamRole
	rolePerms    map[string][]RolePermission
	superAdmins  map[int64]bool
	defined      map[string]bool
	directGrants map[int64]map[int64][]RolePermission
	err          error
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		assignments:  make(map[int64][]TeamRole),
		rolePerms:    make(map[string][]RolePermission),
		superAdmins:  make(map[int64]bool),
		defined:      make(map[string]bool),
		directGrants: make(map[int64]map[int64][]RolePermission),
	}
}

func (m *mockRepo) ActiveAssignments(ctx context.Context, userID int64) ([]TeamRole, error) {
	if m.err != nil {
		return nil, m.err
	}
	var active []TeamRole
	for _, assignment := range m.assignments[userID] {
		if assignment.Active() {
			active = append(active, assignment)
		}
	}
	return active, nil
}

func (m *mockRepo) RolePermissions(ctx context.Context, roleIDs []string) (map[string][]RolePermission, error) {
	if m.err != nil {
		return nil, m.err
	}
	out := make(map[string][]RolePermission)
	for _, roleID := range roleIDs {
		out[roleID] = m.rolePerms[roleID]
	}
	return out, nil
}

func (m *mockRepo) IsSuperAdmin(ctx context.Context, userID int64) (bool, error) {
	return m.superAdmins[userID], nil
}

func (m *mockRepo) PermissionDefined(ctx context.Context, key string) (bool, error) {
	return m.defined[key], nil
}

func (m *mockRepo) DirectTeamGrants(ctx context.Context, userID int64, key string) (map[int64][]RolePermission, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.directGrants[userID], nil
}

type mockHierarchy struct {
	descendants map[int64][]int64
	siblings    map[int64][]int64
}

func (m *mockHierarchy) DescendantIDs(ctx context.Context, teamID int64) ([]int64, error) {
	return m.descendants[teamID], nil
}

func (m *mockHierarchy) SiblingIDs(ctx context.Context, teamID int64) ([]int64, error) {
	return m.siblings[teamID], nil
}

func newTestResolver(t *testing.T, repo *mockRepo, hier *mockHierarchy, cfg Config) *Resolver {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	tagged := cache.NewTagged(client, "test")
	if hier == nil {
		hier = &mockHierarchy{}
	}
	return NewResolver(nil, repo, hier, tagged, nil, cfg)
}

func testCtx() context.Context {
	return bypass.WithGuard(cache.WithMemo(context.Background()))
}

func teamScope(id int64) *int64 { return &id }

func TestUserHasPermissionInvalidType(t *testing.T) {
	resolver := newTestResolver(t, newMockRepo(), nil, Config{})
	_, err := resolver.UserHasPermission(testCtx(), 1, "Invoice", Type(2), nil)
	require.Error(t, err)
}

func TestUserHasPermissionBypassAll(t *testing.T) {
	resolver := newTestResolver(t, newMockRepo(), nil, Config{BypassAll: true})
	granted, err := resolver.UserHasPermission(testCtx(), 1, "Invoice", TypeAll, nil)
	require.NoError(t, err)
	assert.True(t, granted)
}

func TestUserHasPermissionBypassWindow(t *testing.T) {
	resolver := newTestResolver(t, newMockRepo(), nil, Config{})
	ctx := testCtx()

	granted, err := resolver.UserHasPermission(ctx, 1, "Invoice", TypeAll, nil)
	require.NoError(t, err)
	assert.False(t, granted)

	release := bypass.Enter(ctx)
	granted, err = resolver.UserHasPermission(ctx, 1, "Invoice", TypeAll, nil)
	require.NoError(t, err)
	assert.True(t, granted)
	release()

	// A fresh context is unaffected by the closed window.
	granted, err = resolver.UserHasPermission(testCtx(), 1, "Invoice", TypeAll, nil)
	require.NoError(t, err)
	assert.False(t, granted)
}

func TestUserHasPermissionSystemContext(t *testing.T) {
	resolver := newTestResolver(t, newMockRepo(), nil, Config{})
	ctx := bypass.WithSystemContext(testCtx())
	granted, err := resolver.UserHasPermission(ctx, 1, "Invoice", TypeAll, nil)
	require.NoError(t, err)
	assert.True(t, granted)
}

func TestUserHasPermissionSuperAdmin(t *testing.T) {
	repo := newMockRepo()
	repo.superAdmins[9] = true
	resolver := newTestResolver(t, repo, nil, Config{})
	granted, err := resolver.UserHasPermission(testCtx(), 9, "Anything", TypeAll, nil)
	require.NoError(t, err)
	assert.True(t, granted)
}

func TestUserHasPermissionUndefinedDenied(t *testing.T) {
	repo := newMockRepo()
	repo.assignments[1] = []TeamRole{{ID: 10, UserID: 1, TeamID: 5, RoleID: "editor", Mode: ModeSelf}}
	repo.rolePerms["editor"] = []RolePermission{{Key: "Invoice", Type: TypeAll}}
	resolver := newTestResolver(t, repo, nil, Config{UndefinedDenied: true})

	granted, err := resolver.UserHasPermission(testCtx(), 1, "Invoice", TypeRead, nil)
	require.NoError(t, err)
	assert.False(t, granted, "unregistered key must deny")

	repo.defined["Invoice"] = true
	require.NoError(t, resolver.ClearAllCache(context.Background()))
	granted, err = resolver.UserHasPermission(testCtx(), 1, "Invoice", TypeRead, nil)
	require.NoError(t, err)
	assert.True(t, granted)
}

func TestUserHasPermissionNoAssignments(t *testing.T) {
	resolver := newTestResolver(t, newMockRepo(), nil, Config{})
	granted, err := resolver.UserHasPermission(testCtx(), 42, "Invoice", TypeRead, nil)
	require.NoError(t, err)
	assert.False(t, granted)
}

func TestUserHasPermissionRoleGrant(t *testing.T) {
	repo := newMockRepo()
	repo.assignments[1] = []TeamRole{{ID: 10, UserID: 1, TeamID: 5, RoleID: "editor", Mode: ModeSelf}}
	repo.rolePerms["editor"] = []RolePermission{{Key: "Invoice", Type: TypeWrite}}
	resolver := newTestResolver(t, repo, nil, Config{})

	granted, err := resolver.UserHasPermission(testCtx(), 1, "Invoice", TypeRead, nil)
	require.NoError(t, err)
	assert.True(t, granted)

	granted, err = resolver.UserHasPermission(testCtx(), 1, "Invoice", TypeAll, nil)
	require.NoError(t, err)
	assert.False(t, granted)
}

func TestUserHasPermissionDenyAnywhereBlocksGlobal(t *testing.T) {
	// ALL in team 5, DENY in team 6. The global (unscoped) check considers
	// every assignment, so the single DENY blocks it.
	repo := newMockRepo()
	repo.assignments[1] = []TeamRole{
		{ID: 10, UserID: 1, TeamID: 5, RoleID: "editor", Mode: ModeSelf},
		{ID: 11, UserID: 1, TeamID: 6, RoleID: "blocked", Mode: ModeSelf},
	}
	repo.rolePerms["editor"] = []RolePermission{{Key: "Invoice", Type: TypeAll}}
	repo.rolePerms["blocked"] = []RolePermission{{Key: "Invoice", Type: TypeDeny}}
	resolver := newTestResolver(t, repo, nil, Config{})

	granted, err := resolver.UserHasPermission(testCtx(), 1, "Invoice", TypeRead, nil)
	require.NoError(t, err)
	assert.False(t, granted)

	// Scoped to team 5 the denying assignment is filtered out.
	granted, err = resolver.UserHasPermission(testCtx(), 1, "Invoice", TypeRead, teamScope(5))
	require.NoError(t, err)
	assert.True(t, granted)

	granted, err = resolver.UserHasPermission(testCtx(), 1, "Invoice", TypeRead, teamScope(6))
	require.NoError(t, err)
	assert.False(t, granted)
}

func TestUserHasPermissionOverrideDeny(t *testing.T) {
	repo := newMockRepo()
	repo.assignments[1] = []TeamRole{{
		ID: 10, UserID: 1, TeamID: 5, RoleID: "editor", Mode: ModeSelf,
		Overrides: []RolePermission{{Key: "Invoice", Type: TypeDeny}},
	}}
	repo.rolePerms["editor"] = []RolePermission{{Key: "Invoice", Type: TypeAll}}
	resolver := newTestResolver(t, repo, nil, Config{})

	granted, err := resolver.UserHasPermission(testCtx(), 1, "Invoice", TypeRead, nil)
	require.NoError(t, err)
	assert.False(t, granted)
}

func TestUserHasPermissionHierarchyPropagation(t *testing.T) {
	repo := newMockRepo()
	repo.assignments[1] = []TeamRole{{ID: 10, UserID: 1, TeamID: 1, RoleID: "editor", Mode: ModeBelow}}
	repo.rolePerms["editor"] = []RolePermission{{Key: "Invoice", Type: TypeAll}}
	hier := &mockHierarchy{
		descendants: map[int64][]int64{1: {2, 3}},
		siblings:    map[int64][]int64{1: {7}},
	}
	resolver := newTestResolver(t, repo, hier, Config{})

	for _, scope := range []int64{1, 2, 3} {
		granted, err := resolver.UserHasPermission(testCtx(), 1, "Invoice", TypeRead, teamScope(scope))
		require.NoError(t, err)
		assert.True(t, granted, "team %d", scope)
	}

	// Mode below does not reach siblings.
	granted, err := resolver.UserHasPermission(testCtx(), 1, "Invoice", TypeRead, teamScope(7))
	require.NoError(t, err)
	assert.False(t, granted)
}

func TestUserHasPermissionNeighboursMode(t *testing.T) {
	repo := newMockRepo()
	repo.assignments[1] = []TeamRole{{ID: 10, UserID: 1, TeamID: 2, RoleID: "editor", Mode: ModeNeighbours}}
	repo.rolePerms["editor"] = []RolePermission{{Key: "Invoice", Type: TypeAll}}
	hier := &mockHierarchy{
		descendants: map[int64][]int64{2: {4}},
		siblings:    map[int64][]int64{2: {3}},
	}
	resolver := newTestResolver(t, repo, hier, Config{})

	granted, err := resolver.UserHasPermission(testCtx(), 1, "Invoice", TypeRead, teamScope(3))
	require.NoError(t, err)
	assert.True(t, granted)

	granted, err = resolver.UserHasPermission(testCtx(), 1, "Invoice", TypeRead, teamScope(4))
	require.NoError(t, err)
	assert.False(t, granted)
}

func TestUserHasPermissionDisabledModeGrantsOwnTeamOnly(t *testing.T) {
	repo := newMockRepo()
	repo.assignments[1] = []TeamRole{{ID: 10, UserID: 1, TeamID: 2, RoleID: "editor", Mode: ModeDisabled}}
	repo.rolePerms["editor"] = []RolePermission{{Key: "Invoice", Type: TypeAll}}
	hier := &mockHierarchy{descendants: map[int64][]int64{2: {4}}}
	resolver := newTestResolver(t, repo, hier, Config{})

	granted, err := resolver.UserHasPermission(testCtx(), 1, "Invoice", TypeRead, teamScope(2))
	require.NoError(t, err)
	assert.True(t, granted)

	granted, err = resolver.UserHasPermission(testCtx(), 1, "Invoice", TypeRead, teamScope(4))
	require.NoError(t, err)
	assert.False(t, granted)
}

func TestUserHasPermissionCachedDecisionSurvivesStoreChange(t *testing.T) {
	repo := newMockRepo()
	repo.assignments[1] = []TeamRole{{ID: 10, UserID: 1, TeamID: 5, RoleID: "editor", Mode: ModeSelf}}
	repo.rolePerms["editor"] = []RolePermission{{Key: "Invoice", Type: TypeAll}}
	resolver := newTestResolver(t, repo, nil, Config{})

	granted, err := resolver.UserHasPermission(testCtx(), 1, "Invoice", TypeRead, nil)
	require.NoError(t, err)
	assert.True(t, granted)

	// Store changes but the cached decision is returned until eviction.
	repo.rolePerms["editor"] = []RolePermission{{Key: "Invoice", Type: TypeDeny}}
	granted, err = resolver.UserHasPermission(testCtx(), 1, "Invoice", TypeRead, nil)
	require.NoError(t, err)
	assert.True(t, granted)

	require.NoError(t, resolver.ClearUserCache(context.Background(), 1))
	granted, err = resolver.UserHasPermission(testCtx(), 1, "Invoice", TypeRead, nil)
	require.NoError(t, err)
	assert.False(t, granted)
}

func TestUserHasPermissionMemoWithinUnitOfWork(t *testing.T) {
	repo := newMockRepo()
	repo.assignments[1] = []TeamRole{{ID: 10, UserID: 1, TeamID: 5, RoleID: "editor", Mode: ModeSelf}}
	repo.rolePerms["editor"] = []RolePermission{{Key: "Invoice", Type: TypeAll}}
	resolver := newTestResolver(t, repo, nil, Config{})

	ctx := testCtx()
	granted, err := resolver.UserHasPermission(ctx, 1, "Invoice", TypeRead, nil)
	require.NoError(t, err)
	assert.True(t, granted)

	// Even a full cache flush does not affect the open unit of work.
	require.NoError(t, resolver.ClearAllCache(context.Background()))
	repo.err = assert.AnError
	granted, err = resolver.UserHasPermission(ctx, 1, "Invoice", TypeRead, nil)
	require.NoError(t, err)
	assert.True(t, granted)
}

func TestWarmDecisionSeedsMemo(t *testing.T) {
	repo := newMockRepo()
	resolver := newTestResolver(t, repo, nil, Config{})

	ctx := testCtx()
	resolver.WarmDecision(ctx, 1, "Invoice", TypeRead, teamScope(5), true)
	granted, err := resolver.UserHasPermission(ctx, 1, "Invoice", TypeRead, teamScope(5))
	require.NoError(t, err)
	assert.True(t, granted)
}

func TestPreAuthorizedTeams(t *testing.T) {
	repo := newMockRepo()
	repo.directGrants[1] = map[int64][]RolePermission{
		5: {{Key: "Invoice", Type: TypeAll}},
		6: {{Key: "Invoice", Type: TypeRead}},
		7: {{Key: "Invoice", Type: TypeRead}},
	}
	resolver := newTestResolver(t, repo, nil, Config{})

	authorized, err := resolver.PreAuthorizedTeams(testCtx(), 1, "Invoice", TypeRead)
	require.NoError(t, err)
	assert.Equal(t, map[int64]bool{5: true, 6: true, 7: true}, authorized)

	authorized, err = resolver.PreAuthorizedTeams(testCtx(), 1, "Invoice", TypeAll)
	require.NoError(t, err)
	assert.Equal(t, map[int64]bool{5: true}, authorized)
}

func TestPreAuthorizedTeamsDenyDisablesShortcut(t *testing.T) {
	repo := newMockRepo()
	repo.directGrants[1] = map[int64][]RolePermission{
		5: {{Key: "Invoice", Type: TypeAll}},
		6: {{Key: "Invoice", Type: TypeDeny}},
	}
	resolver := newTestResolver(t, repo, nil, Config{})

	authorized, err := resolver.PreAuthorizedTeams(testCtx(), 1, "Invoice", TypeRead)
	require.NoError(t, err)
	assert.Empty(t, authorized)
}

func TestUserHasPermissionWithoutMemo(t *testing.T) {
	// No memo or guard installed; resolution still works.
	repo := newMockRepo()
	repo.assignments[1] = []TeamRole{{ID: 10, UserID: 1, TeamID: 5, RoleID: "editor", Mode: ModeSelf}}
	repo.rolePerms["editor"] = []RolePermission{{Key: "Invoice", Type: TypeAll}}
	resolver := newTestResolver(t, repo, nil, Config{})

	granted, err := resolver.UserHasPermission(context.Background(), 1, "Invoice", TypeRead, nil)
	require.NoError(t, err)
	assert.True(t, granted)
}

func TestResolutionTTLDefault(t *testing.T) {
	resolver := NewResolver(nil, newMockRepo(), &mockHierarchy{}, cache.NewTagged(nil, "test"), nil, Config{})
	assert.Equal(t, 15*time.Minute, resolver.cfg.ResolutionTTL)
}
