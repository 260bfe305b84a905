package teams

import (
	"context"

	"github.com/odyssey-erp/gatekeeper/internal/authz"
	"github.com/odyssey-erp/gatekeeper/internal/protect"
	"github.com/odyssey-erp/gatekeeper/internal/shared"
)

// assignmentRecord adapts a team-role assignment to the field protection
// capability surface. The override entries reveal the effective permission
// matrix and are the sensitive column; the assignment's team owns the record.
type assignmentRecord struct {
	row *protect.Row
}

func newAssignmentRecord(assignment authz.TeamRole) *assignmentRecord {
	return &assignmentRecord{row: protect.NewRow(map[string]any{
		"overrides": assignment.Overrides,
		"team_id":   assignment.TeamID,
	})}
}

func (r *assignmentRecord) Row() *protect.Row { return r.row }

func (r *assignmentRecord) SensitiveColumns() []string { return []string{"overrides"} }

func (r *assignmentRecord) TeamIDColumn() string { return "team_id" }

// redactOverrides blanks override details on assignments the viewer lacks the
// sensitive-columns grant for. The assignments themselves stay listed.
func redactOverrides(ctx context.Context, protector *protect.Batch, assignments []authz.TeamRole) ([]authz.TeamRole, error) {
	if protector == nil || len(assignments) == 0 {
		return assignments, nil
	}
	records := make([]protect.Record, len(assignments))
	for i, assignment := range assignments {
		records[i] = newAssignmentRecord(assignment)
	}
	if err := protector.Protect(ctx, records, shared.PermRole); err != nil {
		return nil, err
	}
	out := make([]authz.TeamRole, len(assignments))
	copy(out, assignments)
	for i, rec := range records {
		if rec.Row().Get(ctx, "overrides") == nil {
			out[i].Overrides = nil
		}
	}
	return out, nil
}
