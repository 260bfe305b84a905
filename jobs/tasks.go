package jobs

import (
	"context"
	"encoding/json"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/gatekeeper/internal/invalidation"
	jobmetrics "github.com/odyssey-erp/gatekeeper/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeInvalidation is the task type carrying cache invalidation events.
	TaskTypeInvalidation = "authz:invalidation"
)

// InvalidationPayload wraps a serialized invalidation event with its type so
// the worker can decode it without guessing.
type InvalidationPayload struct {
	EventType string          `json:"event_type"`
	Event     json.RawMessage `json:"event"`
}

// NewInvalidationTask packs an event into an Asynq task.
func NewInvalidationTask(event invalidation.Event) (*asynq.Task, error) {
	raw, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(InvalidationPayload{EventType: event.EventType(), Event: raw})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeInvalidation, data), nil
}

// InvalidationHandler builds the Asynq handler applying events through the
// Manager. Malformed payloads are dropped rather than retried.
func InvalidationHandler(manager *invalidation.Manager) asynq.HandlerFunc {
	metrics := jobmetrics.NewMetrics(nil)
	return func(ctx context.Context, t *asynq.Task) error {
		tracker := metrics.Track(TaskTypeInvalidation)
		var payload InvalidationPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return tracker.End(asynq.SkipRetry)
		}
		return tracker.End(manager.HandlePayload(ctx, payload.EventType, payload.Event))
	}
}
