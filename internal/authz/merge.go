package authz

// Opinion is the tri-state outcome one source contributes for a permission
// key. Precedence across sources is a single ordered merge rather than
// emergent call-order behavior.
type Opinion int

const (
	NoOpinion Opinion = iota
	OpinionAllow
	OpinionDeny
)

// Source names where an opinion came from.
type Source string

const (
	SourceOverride Source = "override"
	SourceRole     Source = "role"
	SourceNone     Source = ""
)

// Decision is an opinion tagged with its source and contributing assignment.
type Decision struct {
	Opinion    Opinion
	Source     Source
	TeamRoleID int64
}

// Granted reports whether the decision allows access.
func (d Decision) Granted() bool { return d.Opinion == OpinionAllow }

// AssignmentGrant couples an active assignment with its role's permissions
// for merging.
type AssignmentGrant struct {
	Assignment      TeamRole
	RolePermissions []RolePermission
}

// entryFor returns the effective entry this assignment contributes for key.
// A direct override shadows the role permission for the same key entirely.
func (g AssignmentGrant) entryFor(key string) (RolePermission, Source, bool) {
	if entry, ok := g.Assignment.OverrideFor(key); ok {
		return entry, SourceOverride, true
	}
	for _, entry := range g.RolePermissions {
		if entry.Key == key {
			return entry, SourceRole, true
		}
	}
	return RolePermission{}, SourceNone, false
}

func opinionOf(entry RolePermission, required Type) Opinion {
	if entry.Type == TypeDeny {
		return OpinionDeny
	}
	if entry.Type.Satisfies(required) {
		return OpinionAllow
	}
	return NoOpinion
}

// Merge combines the applicable grants for key into one decision.
// DENY from any source wins over any ALLOW found elsewhere; an entry that
// neither denies nor satisfies the required type contributes no opinion.
func Merge(grants []AssignmentGrant, key string, required Type) Decision {
	merged := Decision{Opinion: NoOpinion, Source: SourceNone}
	for _, grant := range grants {
		entry, source, ok := grant.entryFor(key)
		if !ok {
			continue
		}
		switch opinionOf(entry, required) {
		case OpinionDeny:
			return Decision{Opinion: OpinionDeny, Source: source, TeamRoleID: grant.Assignment.ID}
		case OpinionAllow:
			if merged.Opinion == NoOpinion {
				merged = Decision{Opinion: OpinionAllow, Source: source, TeamRoleID: grant.Assignment.ID}
			}
		}
	}
	return merged
}
