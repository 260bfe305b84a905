package authz

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/gatekeeper/internal/shared"
)

func TestTypeSatisfies(t *testing.T) {
	cases := []struct {
		name     string
		held     Type
		required Type
		want     bool
	}{
		{"read satisfies read", TypeRead, TypeRead, true},
		{"read does not satisfy write", TypeRead, TypeWrite, false},
		{"read does not satisfy all", TypeRead, TypeAll, false},
		{"write satisfies read", TypeWrite, TypeRead, true},
		{"write satisfies write", TypeWrite, TypeWrite, true},
		{"write does not satisfy all", TypeWrite, TypeAll, false},
		{"all satisfies read", TypeAll, TypeRead, true},
		{"all satisfies write", TypeAll, TypeWrite, true},
		{"all satisfies all", TypeAll, TypeAll, true},
		{"deny satisfies nothing", TypeDeny, TypeRead, false},
		{"deny does not satisfy all", TypeDeny, TypeAll, false},
		{"deny satisfies deny", TypeDeny, TypeDeny, true},
		{"all does not satisfy deny", TypeAll, TypeDeny, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.held.Satisfies(tc.required))
		})
	}
}

func TestParseType(t *testing.T) {
	for _, value := range []int{1, 3, 7, 100} {
		parsed, err := ParseType(value)
		require.NoError(t, err)
		assert.Equal(t, Type(value), parsed)
	}

	_, err := ParseType(2)
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrInvalidPermissionType))

	_, err = ParseType(0)
	require.Error(t, err)
}

func TestAuthorableTypes(t *testing.T) {
	assert.Equal(t, []Type{TypeRead, TypeAll, TypeDeny}, AuthorableTypes())
}

func TestSensitiveKey(t *testing.T) {
	assert.Equal(t, "Invoice.sensibleColumns", SensitiveKey("Invoice"))
}

func TestHierarchyMode(t *testing.T) {
	assert.True(t, ModeBelow.GrantsBelow())
	assert.True(t, ModeFull.GrantsBelow())
	assert.False(t, ModeSelf.GrantsBelow())
	assert.False(t, ModeDisabled.GrantsBelow())
	assert.False(t, ModeNeighbours.GrantsBelow())

	assert.True(t, ModeNeighbours.GrantsNeighbours())
	assert.True(t, ModeFull.GrantsNeighbours())
	assert.False(t, ModeBelow.GrantsNeighbours())

	assert.True(t, ModeDisabled.Valid())
	assert.False(t, HierarchyMode("upwards").Valid())
}

func nowPtr() *time.Time {
	now := time.Now()
	return &now
}

func TestTeamRoleActive(t *testing.T) {
	now := nowPtr()
	assert.True(t, TeamRole{}.Active())
	assert.False(t, TeamRole{SuspendedAt: now}.Active())
	assert.False(t, TeamRole{TerminatedAt: now}.Active())
	assert.False(t, TeamRole{DeletedAt: now}.Active())
}

func TestOverrideFor(t *testing.T) {
	assignment := TeamRole{Overrides: []RolePermission{
		{Key: "Invoice", Type: TypeDeny},
		{Key: "Team", Type: TypeAll},
	}}

	entry, ok := assignment.OverrideFor("Invoice")
	require.True(t, ok)
	assert.Equal(t, TypeDeny, entry.Type)

	_, ok = assignment.OverrideFor("User")
	assert.False(t, ok)
}
