package teams

import (
	"time"

	"github.com/odyssey-erp/gatekeeper/internal/authz"
)

type createTeamRequest struct {
	Name         string `json:"name" validate:"required,min=1,max=200"`
	ParentTeamID *int64 `json:"parent_team_id" validate:"omitempty,gt=0"`
}

type reparentTeamRequest struct {
	ParentTeamID *int64 `json:"parent_team_id" validate:"omitempty,gt=0"`
}

type overrideRequest struct {
	Key  string `json:"key" validate:"required"`
	Type int    `json:"type" validate:"required"`
}

type assignRoleRequest struct {
	UserID    int64             `json:"user_id" validate:"required,gt=0"`
	RoleID    string            `json:"role_id" validate:"required"`
	Mode      string            `json:"mode" validate:"required"`
	Overrides []overrideRequest `json:"overrides" validate:"omitempty,dive"`
}

type teamResponse struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	ParentTeamID *int64    `json:"parent_team_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

type overrideResponse struct {
	Key  string `json:"key"`
	Type int    `json:"type"`
}

type assignmentResponse struct {
	ID               int64              `json:"id"`
	UserID           int64              `json:"user_id"`
	TeamID           int64              `json:"team_id"`
	RoleID           string             `json:"role_id"`
	Mode             string             `json:"mode"`
	ParentTeamRoleID *int64             `json:"parent_team_role_id,omitempty"`
	Overrides        []overrideResponse `json:"overrides,omitempty"`
	SuspendedAt      *time.Time         `json:"suspended_at,omitempty"`
	TerminatedAt     *time.Time         `json:"terminated_at,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
}

func toTeamResponse(team Team) teamResponse {
	return teamResponse{
		ID:           team.ID,
		Name:         team.Name,
		ParentTeamID: team.ParentTeamID,
		CreatedAt:    team.CreatedAt,
	}
}

func toAssignmentResponse(assignment authz.TeamRole) assignmentResponse {
	resp := assignmentResponse{
		ID:               assignment.ID,
		UserID:           assignment.UserID,
		TeamID:           assignment.TeamID,
		RoleID:           assignment.RoleID,
		Mode:             string(assignment.Mode),
		ParentTeamRoleID: assignment.ParentTeamRoleID,
		SuspendedAt:      assignment.SuspendedAt,
		TerminatedAt:     assignment.TerminatedAt,
		CreatedAt:        assignment.CreatedAt,
	}
	for _, override := range assignment.Overrides {
		resp.Overrides = append(resp.Overrides, overrideResponse{Key: override.Key, Type: int(override.Type)})
	}
	return resp
}

func toAssignmentResponses(assignments []authz.TeamRole) []assignmentResponse {
	responses := make([]assignmentResponse, 0, len(assignments))
	for _, assignment := range assignments {
		responses = append(responses, toAssignmentResponse(assignment))
	}
	return responses
}
