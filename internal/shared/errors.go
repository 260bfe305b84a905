package shared

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidPermissionType indicates a permission type outside the known set.
	ErrInvalidPermissionType = errors.New("invalid permission type")
	// ErrAssignmentLimit indicates the role's per-team assignment limit was reached.
	ErrAssignmentLimit = errors.New("role assignment limit reached for team")
	// ErrSystemRole indicates an attempt to modify or delete a system role.
	ErrSystemRole = errors.New("system role is immutable")
	// ErrAssignmentInUse indicates an assignment still has derived child assignments.
	ErrAssignmentInUse = errors.New("assignment has derived child assignments")
)

// PermissionError reports an authorization denial on a mutating operation.
// Read-path denials are reported as false/empty results, never as errors.
type PermissionError struct {
	Key      string
	Required string
	TeamIDs  []int64
}

func (e *PermissionError) Error() string {
	if len(e.TeamIDs) == 0 {
		return fmt.Sprintf("permission denied: %s (%s)", e.Key, e.Required)
	}
	ids := make([]string, len(e.TeamIDs))
	for i, id := range e.TeamIDs {
		ids[i] = strconv.FormatInt(id, 10)
	}
	return fmt.Sprintf("permission denied: %s (%s) for teams %s", e.Key, e.Required, strings.Join(ids, ","))
}

// IsPermissionDenied reports whether err is a PermissionError.
func IsPermissionDenied(err error) bool {
	var pe *PermissionError
	return errors.As(err, &pe)
}

// UserSafeMessage maps internal errors to a message safe to show end users.
// Misconfiguration details stay in logs.
func UserSafeMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case IsPermissionDenied(err):
		return "You do not have permission to perform this action."
	case errors.Is(err, ErrNotFound):
		return "The requested item was not found."
	case errors.Is(err, ErrAssignmentLimit):
		return "No more members can be assigned this role in the team."
	case errors.Is(err, ErrSystemRole):
		return "System roles cannot be changed."
	case errors.Is(err, ErrAssignmentInUse):
		return "The assignment is still in use."
	default:
		return "An unexpected error occurred."
	}
}
