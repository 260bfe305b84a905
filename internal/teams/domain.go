package teams

import "time"

// Team is a node in the organization tree.
type Team struct {
	ID           int64
	Name         string
	ParentTeamID *int64
	DeletedAt    *time.Time
	CreatedAt    time.Time
}
