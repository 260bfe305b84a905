package shared

// Core platform permission keys.
const (
	PermTeam = "Team"
	PermRole = "Role"
	PermUser = "User"
)

// CoreKeys lists the permissions seeded on startup.
func CoreKeys() []string {
	return []string{
		PermTeam,
		PermRole,
		PermUser,
	}
}
