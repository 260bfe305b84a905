package cache

import (
	"context"
	"sync"
)

// Memo is a per-unit-of-work memoization table. It is installed at the
// boundary of each request (or batch run) and never shared across units of
// work, so entries cannot leak between callers.
type Memo struct {
	mu     sync.Mutex
	values map[string]any
}

type memoContextKey struct{}

// WithMemo installs a fresh memo on the context.
func WithMemo(ctx context.Context) context.Context {
	return context.WithValue(ctx, memoContextKey{}, &Memo{values: make(map[string]any)})
}

// MemoFromContext extracts the memo, nil when none was installed.
func MemoFromContext(ctx context.Context) *Memo {
	memo, _ := ctx.Value(memoContextKey{}).(*Memo)
	return memo
}

// Get returns the memoized value for key.
func (m *Memo) Get(key string) (any, bool) {
	if m == nil {
		return nil, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.values[key]
	return value, ok
}

// Set memoizes value under key.
func (m *Memo) Set(key string, value any) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
}

// Delete drops a single memoized entry.
func (m *Memo) Delete(key string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
}

// Reset clears the memo in place.
func (m *Memo) Reset() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values = make(map[string]any)
}
