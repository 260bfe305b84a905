package teams

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/gatekeeper/internal/authz"
	"github.com/odyssey-erp/gatekeeper/internal/protect"
)

type stubPreAuthorizer struct {
	grantedTeams map[int64]bool
}

func (c *stubPreAuthorizer) UserHasPermission(ctx context.Context, userID int64, key string, required authz.Type, teamScope *int64) (bool, error) {
	if teamScope == nil {
		return false, nil
	}
	return c.grantedTeams[*teamScope], nil
}

func (c *stubPreAuthorizer) PreAuthorizedTeams(ctx context.Context, userID int64, key string, required authz.Type) (map[int64]bool, error) {
	return nil, nil
}

func (c *stubPreAuthorizer) WarmDecision(ctx context.Context, userID int64, key string, required authz.Type, teamScope *int64, granted bool) {
}

func newProtector(grantedTeams map[int64]bool) *protect.Batch {
	checker := &stubPreAuthorizer{grantedTeams: grantedTeams}
	return protect.NewBatch(nil, protect.NewService(nil, checker, protect.Config{}), checker)
}

func overriddenAssignment(id, teamID int64) authz.TeamRole {
	return authz.TeamRole{
		ID:     id,
		UserID: 7,
		TeamID: teamID,
		RoleID: "editor",
		Mode:   authz.ModeSelf,
		Overrides: []authz.RolePermission{
			{Key: "Invoice", Type: authz.TypeDeny},
		},
	}
}

func TestRedactOverridesWithoutProtector(t *testing.T) {
	assignments := []authz.TeamRole{overriddenAssignment(1, 5)}
	out, err := redactOverrides(actorCtx(1), nil, assignments)
	require.NoError(t, err)
	assert.NotEmpty(t, out[0].Overrides)
}

func TestRedactOverridesPerTeam(t *testing.T) {
	protector := newProtector(map[int64]bool{5: true})
	assignments := []authz.TeamRole{
		overriddenAssignment(1, 5),
		overriddenAssignment(2, 6),
	}

	out, err := redactOverrides(actorCtx(1), protector, assignments)
	require.NoError(t, err)
	assert.NotEmpty(t, out[0].Overrides, "granted team keeps override details")
	assert.Empty(t, out[1].Overrides, "denied team loses override details")

	// The input slice is left untouched.
	assert.NotEmpty(t, assignments[1].Overrides)
}

func TestRedactOverridesAnonymousViewer(t *testing.T) {
	protector := newProtector(map[int64]bool{5: true})
	assignments := []authz.TeamRole{overriddenAssignment(1, 5)}

	out, err := redactOverrides(context.Background(), protector, assignments)
	require.NoError(t, err)
	assert.Empty(t, out[0].Overrides)
}
