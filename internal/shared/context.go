package shared

import "context"

// Actor describes the identified principal a unit of work runs on behalf of.
// A nil actor means an anonymous viewer.
type Actor struct {
	UserID     int64
	SuperAdmin bool
}

type actorContextKey struct{}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor *Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context, nil when anonymous.
func ActorFromContext(ctx context.Context) *Actor {
	actor, _ := ctx.Value(actorContextKey{}).(*Actor)
	return actor
}
