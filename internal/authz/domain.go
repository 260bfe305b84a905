package authz

import (
	"fmt"
	"time"

	"github.com/odyssey-erp/gatekeeper/internal/shared"
)

// Type is a permission type. READ, WRITE and ALL form a bitmask lattice
// (each higher value carries the bits of the lower ones); DENY is a sentinel
// outside the lattice that overrides any grant for the same key.
type Type int

const (
	TypeRead  Type = 1
	TypeWrite Type = 3
	TypeAll   Type = 7
	TypeDeny  Type = 100
)

// Valid reports whether t is one of the known permission types.
func (t Type) Valid() bool {
	switch t {
	case TypeRead, TypeWrite, TypeAll, TypeDeny:
		return true
	}
	return false
}

// Satisfies reports whether a held type satisfies the required one.
// DENY is only satisfied by DENY itself; a held DENY satisfies nothing else.
func (t Type) Satisfies(required Type) bool {
	if required == TypeDeny {
		return t == TypeDeny
	}
	if t == TypeDeny {
		return false
	}
	return t&required == required
}

func (t Type) String() string {
	switch t {
	case TypeRead:
		return "read"
	case TypeWrite:
		return "write"
	case TypeAll:
		return "all"
	case TypeDeny:
		return "deny"
	}
	return fmt.Sprintf("type(%d)", int(t))
}

// ParseType maps a stored integer to a Type, failing fast on unknown values.
func ParseType(value int) (Type, error) {
	t := Type(value)
	if !t.Valid() {
		return 0, fmt.Errorf("%w: %d", shared.ErrInvalidPermissionType, value)
	}
	return t, nil
}

// AuthorableTypes lists the types a user may select when editing a role.
// WRITE is reachable only as an implied value and is never authorable.
func AuthorableTypes() []Type {
	return []Type{TypeRead, TypeAll, TypeDeny}
}

// SensitiveKey derives the sub-facet key guarding a type's sensitive columns.
func SensitiveKey(base string) string {
	return base + ".sensibleColumns"
}

// HierarchyMode controls how a team-role assignment radiates through the
// team tree, always relative to the team the assignment is attached to.
type HierarchyMode string

const (
	ModeDisabled   HierarchyMode = "disabled"
	ModeSelf       HierarchyMode = "self"
	ModeBelow      HierarchyMode = "below"
	ModeNeighbours HierarchyMode = "neighbours"
	ModeFull       HierarchyMode = "full"
)

// Valid reports whether m is a known hierarchy mode.
func (m HierarchyMode) Valid() bool {
	switch m {
	case ModeDisabled, ModeSelf, ModeBelow, ModeNeighbours, ModeFull:
		return true
	}
	return false
}

// GrantsBelow reports whether the mode radiates to descendant teams.
func (m HierarchyMode) GrantsBelow() bool {
	return m == ModeBelow || m == ModeFull
}

// GrantsNeighbours reports whether the mode radiates to sibling teams.
func (m HierarchyMode) GrantsNeighbours() bool {
	return m == ModeNeighbours || m == ModeFull
}

// Permission names a protectable resource/action family.
type Permission struct {
	Key         string
	Section     string
	Name        string
	Description string
	FromSystem  bool
	CreatedAt   time.Time
}

// RolePermission pairs a permission key with the granted type. It is used
// both for role-level permissions and for per-assignment direct overrides.
type RolePermission struct {
	Key  string `json:"key"`
	Type Type   `json:"type"`
}

// Role groups permissions under a string identifier.
type Role struct {
	ID          string
	Name        string
	Description string
	FromSystem  bool
	MaxPerTeam  *int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TeamRole links a user to a role within one team. Derived assignments
// (auto-created under a propagating ancestor assignment) carry the parent
// assignment's id and a self-only mode.
type TeamRole struct {
	ID               int64
	UserID           int64
	TeamID           int64
	RoleID           string
	Mode             HierarchyMode
	ParentTeamRoleID *int64
	Overrides        []RolePermission
	SuspendedAt      *time.Time
	TerminatedAt     *time.Time
	DeletedAt        *time.Time
	CreatedAt        time.Time
}

// Active reports whether the assignment participates in resolution.
func (tr TeamRole) Active() bool {
	return tr.SuspendedAt == nil && tr.TerminatedAt == nil && tr.DeletedAt == nil
}

// OverrideFor returns the direct override for key, if any.
func (tr TeamRole) OverrideFor(key string) (RolePermission, bool) {
	for _, o := range tr.Overrides {
		if o.Key == key {
			return o, true
		}
	}
	return RolePermission{}, false
}
