package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/gatekeeper/internal/authz"
	"github.com/odyssey-erp/gatekeeper/internal/invalidation"
	"github.com/odyssey-erp/gatekeeper/internal/platform/cache"
)

func newHandlerFixture(t *testing.T) (asynq.HandlerFunc, *cache.Tagged) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	tagged := cache.NewTagged(client, "test")
	manager := invalidation.NewManager(nil, tagged, nil)
	return InvalidationHandler(manager), tagged
}

func TestInvalidationTaskRoundTrip(t *testing.T) {
	handler, tagged := newHandlerFixture(t)
	ctx := context.Background()
	require.NoError(t, tagged.Put(ctx, "res:7:a", "v", time.Minute, authz.TagUser(7)))

	task, err := NewInvalidationTask(invalidation.NewRoleAssignmentChanged(7))
	require.NoError(t, err)
	assert.Equal(t, TaskTypeInvalidation, task.Type())

	require.NoError(t, handler(ctx, task))

	var v string
	assert.ErrorIs(t, tagged.Get(ctx, "res:7:a", &v), cache.ErrMiss)
}

func TestInvalidationHandlerDropsMalformedPayload(t *testing.T) {
	handler, _ := newHandlerFixture(t)
	task := asynq.NewTask(TaskTypeInvalidation, []byte(`{`))

	err := handler(context.Background(), task)
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestInvalidationHandlerUnknownEventFails(t *testing.T) {
	handler, _ := newHandlerFixture(t)
	task := asynq.NewTask(TaskTypeInvalidation, []byte(`{"event_type":"authz:bogus","event":{}}`))

	err := handler(context.Background(), task)
	require.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry)
}
