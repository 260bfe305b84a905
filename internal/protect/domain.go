// Package protect hides individual sensitive fields on retrieved records when
// the viewer lacks the finer-grained sensitive-columns permission for the
// record's owning team.
//
// Record types opt into protection through explicit capability interfaces
// instead of reflective property probing; the services operate purely against
// those interfaces.
package protect

import (
	"context"
	"sync"
)

// Row is a record's materialized attribute set. Eagerly stripped columns are
// gone for good: re-requesting the field returns nothing and serialization
// omits it. In lazy mode an access guard intercepts reads instead.
type Row struct {
	mu    sync.Mutex
	attrs map[string]any
	guard func(ctx context.Context, column string) bool
}

// NewRow builds a Row from the given attributes.
func NewRow(attrs map[string]any) *Row {
	copied := make(map[string]any, len(attrs))
	for k, v := range attrs {
		copied[k] = v
	}
	return &Row{attrs: copied}
}

// Get returns the value of a column, nil when absent or redacted.
func (r *Row) Get(ctx context.Context, name string) any {
	r.mu.Lock()
	guard := r.guard
	value, ok := r.attrs[name]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	if guard != nil && !guard(ctx, name) {
		return nil
	}
	return value
}

// Set stores a column value.
func (r *Row) Set(name string, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attrs[name] = value
}

// Has reports whether the column is present (it may still be redacted).
func (r *Row) Has(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.attrs[name]
	return ok
}

// Columns lists the present column names.
func (r *Row) Columns() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.attrs))
	for name := range r.attrs {
		out = append(out, name)
	}
	return out
}

// Strip removes columns permanently.
func (r *Row) Strip(names ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, name := range names {
		delete(r.attrs, name)
	}
}

// StripAll removes every column.
func (r *Row) StripAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attrs = make(map[string]any)
}

// Snapshot returns the visible attributes with the access guard applied,
// suitable for serialization.
func (r *Row) Snapshot(ctx context.Context) map[string]any {
	r.mu.Lock()
	guard := r.guard
	attrs := make(map[string]any, len(r.attrs))
	for k, v := range r.attrs {
		attrs[k] = v
	}
	r.mu.Unlock()

	out := make(map[string]any, len(attrs))
	for name, value := range attrs {
		if guard != nil && !guard(ctx, name) {
			continue
		}
		out[name] = value
	}
	return out
}

func (r *Row) setGuard(fn func(ctx context.Context, column string) bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.guard = fn
}

// raw reads a column without the access guard; internal use only.
func (r *Row) raw(name string) any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attrs[name]
}

// Record is any protectable record.
type Record interface {
	Row() *Row
}

// Sensitive declares the record type's sensitive column set.
type Sensitive interface {
	SensitiveColumns() []string
}

// LazyProtected selects the lazy strategy for a record type, overriding the
// configured default.
type LazyProtected interface {
	LazyProtection() bool
}

// EscapeHatch is the per-record escape flag set by the caller.
type EscapeHatch interface {
	SkipProtection() bool
}

// Owned exposes the record's owning user for the owner-match bypass.
type Owned interface {
	OwnerID() (int64, bool)
}

// ValidatesOwned disables the owner-match bypass for a record type.
type ValidatesOwned interface {
	ValidateOwnedRecords() bool
}

// CustomBypass is a record-declared bypass predicate.
type CustomBypass interface {
	BypassProtection(ctx context.Context, userID int64) (bool, error)
}

// AllowList exposes a record-declared list of users allowed to manage the
// record. Evaluated inside a bypass window because the method may query
// related, also-protected, records.
type AllowList interface {
	AllowedUsers(ctx context.Context) ([]int64, error)
}

// TeamResolver is the explicit custom team-resolution method, first in the
// team strategy chain.
type TeamResolver interface {
	ResolveTeam(ctx context.Context) (*int64, error)
}

// TeamEntity marks a record that is itself a team.
type TeamEntity interface {
	TeamEntityID() int64
}

// TeamColumn declares which attribute column carries the owning team id.
type TeamColumn interface {
	TeamIDColumn() string
}

// TeamRelated resolves the owning team through a relationship lookup.
type TeamRelated interface {
	RelatedTeam(ctx context.Context) (*int64, error)
}
