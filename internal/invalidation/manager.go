package invalidation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/odyssey-erp/gatekeeper/internal/authz"
	"github.com/odyssey-erp/gatekeeper/internal/hierarchy"
	"github.com/odyssey-erp/gatekeeper/internal/observability"
	"github.com/odyssey-erp/gatekeeper/internal/platform/cache"
)

// Manager maps domain mutation events to tag and pattern evictions on the
// persistent cache. Evictions are idempotent, so replayed events are harmless.
type Manager struct {
	logger  *slog.Logger
	cache   *cache.Tagged
	metrics *observability.Metrics
}

// NewManager constructs a Manager.
func NewManager(logger *slog.Logger, tagged *cache.Tagged, metrics *observability.Metrics) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{logger: logger, cache: tagged, metrics: metrics}
}

// Handle applies the evictions for one event.
func (m *Manager) Handle(ctx context.Context, event Event) error {
	m.metrics.Invalidation(event.EventType())
	switch evt := event.(type) {
	case RoleAssignmentChanged:
		for _, userID := range evt.UserIDs {
			if err := m.cache.InvalidateTag(ctx, authz.TagUser(userID)); err != nil {
				return err
			}
		}
	case RolePermissionsChanged:
		if len(evt.RoleIDs) == 0 {
			return m.cache.InvalidateTag(ctx, authz.TagResolution)
		}
		for _, roleID := range evt.RoleIDs {
			if err := m.cache.InvalidateTag(ctx, authz.TagRole(roleID)); err != nil {
				return err
			}
		}
	case TeamHierarchyChanged:
		return m.sweepHierarchy(ctx, evt.TeamIDs)
	case TeamCreated:
		return m.sweepHierarchy(ctx, evt.TeamIDs)
	case PermissionDefinitionChanged:
		for _, key := range evt.PermissionKeys {
			if err := m.cache.InvalidatePattern(ctx, authz.TagResolution, authz.ResolutionPattern(key)); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("invalidation: unknown event %q", event.EventType())
	}
	return nil
}

// sweepHierarchy evicts affected traversals plus the whole resolution family:
// accessible-team sets derived from the tree cannot be enumerated per team.
func (m *Manager) sweepHierarchy(ctx context.Context, teamIDs []int64) error {
	for _, teamID := range teamIDs {
		if err := m.cache.InvalidateTag(ctx, hierarchy.TagTeam(teamID)); err != nil {
			return err
		}
	}
	if err := m.cache.InvalidateTag(ctx, hierarchy.TagAll); err != nil {
		return err
	}
	return m.cache.InvalidateTag(ctx, authz.TagResolution)
}

// HandlePayload decodes a serialized event by type and applies it; used by
// the asynq worker.
func (m *Manager) HandlePayload(ctx context.Context, eventType string, payload []byte) error {
	event, err := decode(eventType, payload)
	if err != nil {
		return err
	}
	return m.Handle(ctx, event)
}

func decode(eventType string, payload []byte) (Event, error) {
	var (
		event Event
		err   error
	)
	switch eventType {
	case TypeRoleAssignmentChanged:
		var evt RoleAssignmentChanged
		err = json.Unmarshal(payload, &evt)
		event = evt
	case TypeRolePermissionsChanged:
		var evt RolePermissionsChanged
		err = json.Unmarshal(payload, &evt)
		event = evt
	case TypeTeamHierarchyChanged:
		var evt TeamHierarchyChanged
		err = json.Unmarshal(payload, &evt)
		event = evt
	case TypeTeamCreated:
		var evt TeamCreated
		err = json.Unmarshal(payload, &evt)
		event = evt
	case TypePermissionDefinitionChange:
		var evt PermissionDefinitionChanged
		err = json.Unmarshal(payload, &evt)
		event = evt
	default:
		return nil, fmt.Errorf("invalidation: unknown event type %q", eventType)
	}
	if err != nil {
		return nil, err
	}
	return event, nil
}
