// Package bypass implements the reentrancy guard for privileged internal
// checks. A single logical authorization call can recurse into the resolution
// pipeline on the same call stack (an allow-list method querying protected
// records, for instance); while a bypass window is open, security scopes and
// field protection treat every check as trivially satisfied instead of
// re-entering themselves.
//
// The guard is carried on the context of the unit of work, never in package
// globals, so windows cannot leak across requests.
package bypass

import (
	"context"
	"fmt"
	"runtime"
	"sync"
)

// Guard tracks the bypass window depth for one unit of work.
type Guard struct {
	mu     sync.Mutex
	depth  int
	traces []string
	onExit []func()
}

type guardContextKey struct{}

type systemContextKey struct{}

// WithGuard installs a fresh guard on the context. Call once at the boundary
// of each unit of work.
func WithGuard(ctx context.Context) context.Context {
	return context.WithValue(ctx, guardContextKey{}, &Guard{})
}

// FromContext extracts the guard, nil when none was installed.
func FromContext(ctx context.Context) *Guard {
	guard, _ := ctx.Value(guardContextKey{}).(*Guard)
	return guard
}

// WithSystemContext marks the context as non-interactive (batch, console,
// migration) execution. Resolution short-circuits to allow in that mode.
func WithSystemContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, systemContextKey{}, true)
}

// InSystemContext reports whether the context is non-interactive execution.
func InSystemContext(ctx context.Context) bool {
	flagged, _ := ctx.Value(systemContextKey{}).(bool)
	return flagged
}

// Enter opens a bypass window and returns a release func that restores the
// prior state. Nested windows are counted; only releasing the outermost one
// closes the window and runs the registered reinitializers.
func Enter(ctx context.Context) func() {
	guard := FromContext(ctx)
	if guard == nil {
		return func() {}
	}
	guard.mu.Lock()
	guard.depth++
	guard.traces = append(guard.traces, callerTrace(2))
	guard.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { guard.exit() })
	}
}

// Active reports whether a bypass window is currently open.
func Active(ctx context.Context) bool {
	guard := FromContext(ctx)
	if guard == nil {
		return false
	}
	guard.mu.Lock()
	defer guard.mu.Unlock()
	return guard.depth > 0
}

// OnExit registers fn to run when the outermost bypass window closes. Types
// that initialize lazily inside a window register their reinitializer here so
// half-set shared state is not visible to subsequent non-bypassed calls.
// Outside a window fn runs immediately.
func OnExit(ctx context.Context, fn func()) {
	if fn == nil {
		return
	}
	guard := FromContext(ctx)
	if guard == nil {
		fn()
		return
	}
	guard.mu.Lock()
	if guard.depth == 0 {
		guard.mu.Unlock()
		fn()
		return
	}
	guard.onExit = append(guard.onExit, fn)
	guard.mu.Unlock()
}

// Trace returns the call sites that opened windows during this unit of work.
func Trace(ctx context.Context) []string {
	guard := FromContext(ctx)
	if guard == nil {
		return nil
	}
	guard.mu.Lock()
	defer guard.mu.Unlock()
	out := make([]string, len(guard.traces))
	copy(out, guard.traces)
	return out
}

func (g *Guard) exit() {
	g.mu.Lock()
	if g.depth > 0 {
		g.depth--
	}
	if g.depth > 0 {
		g.mu.Unlock()
		return
	}
	pending := g.onExit
	g.onExit = nil
	g.mu.Unlock()
	for _, fn := range pending {
		fn()
	}
}

func callerTrace(skip int) string {
	pc, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "unknown"
	}
	fn := runtime.FuncForPC(pc)
	name := "unknown"
	if fn != nil {
		name = fn.Name()
	}
	return fmt.Sprintf("%s (%s:%d)", name, file, line)
}
