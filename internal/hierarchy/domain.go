package hierarchy

import "time"

// Team is a node in the strict team tree: at most one parent, soft-deletable.
// Deleted teams are excluded from every traversal.
type Team struct {
	ID           int64
	Name         string
	ParentTeamID *int64
	CreatedAt    time.Time
}

// Node is a team annotated with its distance from the traversal root.
type Node struct {
	Team
	Depth int
}

// RoleNode is a descendant annotated with whether a given role id applies to
// it, so one traversal answers "which descendant teams would this role cover".
type RoleNode struct {
	Node
	HasRole bool
}

// QueryOptions narrow a traversal.
type QueryOptions struct {
	// MaxDepth overrides the service depth cap when lower; zero means no
	// extra restriction.
	MaxDepth int
	// Search filters nodes by a case-folded substring match on the name.
	Search string
}
