package protect

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/odyssey-erp/gatekeeper/internal/authz"
	"github.com/odyssey-erp/gatekeeper/internal/bypass"
	"github.com/odyssey-erp/gatekeeper/internal/platform/cache"
	"github.com/odyssey-erp/gatekeeper/internal/shared"
)

// Checker is the slice of the permission resolver field protection needs.
type Checker interface {
	UserHasPermission(ctx context.Context, userID int64, key string, required authz.Type, teamScope *int64) (bool, error)
}

// Config carries the externally-owned protection toggles.
type Config struct {
	// BypassAll disables protection entirely.
	BypassAll bool
	// LazyDefault selects lazy redaction for types that do not choose a
	// strategy themselves.
	LazyDefault bool
	// ValidateOwnedDefault disables the owner-match bypass by default.
	ValidateOwnedDefault bool
	// GlobalOnly skips owning-team resolution; every record checks against
	// the global scope.
	GlobalOnly bool
}

// Service decides, per record, whether to redact the record's sensitive
// columns. Failures while computing sensitivity, bypass predicates or the
// owning team resolve to the safe choice and are logged, never propagated.
type Service struct {
	logger  *slog.Logger
	checker Checker
	cfg     Config
}

// NewService constructs a Service.
func NewService(logger *slog.Logger, checker Checker, cfg Config) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{logger: logger, checker: checker, cfg: cfg}
}

// Protect applies the record type's protection strategy for the base
// permission key. Eager stripping happens immediately; lazy protection only
// installs the access guard and defers the permission check until a
// sensitive column is actually read.
func (s *Service) Protect(ctx context.Context, rec Record, permissionKey string) error {
	if rec == nil {
		return nil
	}
	cols := s.sensitiveColumns(rec)
	if len(cols) == 0 {
		return nil
	}
	if bypass.Active(ctx) {
		return nil
	}

	// Resolving the owning team or permission may load related records of the
	// same protected type; the per-instance marker stops self-reentry.
	memo := cache.MemoFromContext(ctx)
	marker := fmt.Sprintf("protect:inflight:%p", rec)
	if memo != nil {
		if _, busy := memo.Get(marker); busy {
			return nil
		}
		memo.Set(marker, true)
		defer memo.Delete(marker)
	}

	actor := shared.ActorFromContext(ctx)
	if actor == nil {
		rec.Row().Strip(cols...)
		return nil
	}

	if s.lazyMode(rec) {
		s.installGuard(rec, permissionKey, actor, cols)
		return nil
	}

	if !s.allowed(ctx, rec, permissionKey, actor) {
		rec.Row().Strip(cols...)
	}
	return nil
}

// installGuard arms lazy redaction: the decision is computed and cached on
// the first access to a sensitive column, never at retrieval. Live bypass
// state is re-read on every access and stays out of the cached decision, so
// an open window during the first read cannot leak the value to later reads
// and a cached denial cannot redact inside a later window.
func (s *Service) installGuard(rec Record, permissionKey string, actor *shared.Actor, cols []string) {
	sensitive := make(map[string]struct{}, len(cols))
	for _, col := range cols {
		sensitive[col] = struct{}{}
	}
	var once sync.Once
	var granted bool
	rec.Row().setGuard(func(ctx context.Context, column string) bool {
		if _, ok := sensitive[column]; !ok {
			return true
		}
		if s.cfg.BypassAll || bypass.InSystemContext(ctx) || bypass.Active(ctx) {
			return true
		}
		once.Do(func() {
			granted = s.decide(ctx, rec, permissionKey, actor)
		})
		return granted
	})
}

// allowed short-circuits on live bypass state, then falls through to the
// stable per-record decision.
func (s *Service) allowed(ctx context.Context, rec Record, permissionKey string, actor *shared.Actor) bool {
	if s.cfg.BypassAll || bypass.InSystemContext(ctx) || bypass.Active(ctx) {
		return true
	}
	return s.decide(ctx, rec, permissionKey, actor)
}

// decide runs the record-level bypass chain and, when none applies, the
// sensitive-columns permission check. The result depends only on the record
// and the viewer, so lazy guards may cache it. Any failure yields false: hide.
func (s *Service) decide(ctx context.Context, rec Record, permissionKey string, actor *shared.Actor) (result bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("field protection evaluation panicked",
				slog.String("permission_key", permissionKey),
				slog.Any("panic", r))
			result = false
		}
	}()

	// (a) per-record escape flag.
	if hatch, ok := rec.(EscapeHatch); ok && hatch.SkipProtection() {
		return true
	}
	// (b) owner match, unless the type validates owned records as well.
	validateOwned := s.cfg.ValidateOwnedDefault
	if vo, ok := rec.(ValidatesOwned); ok {
		validateOwned = vo.ValidateOwnedRecords()
	}
	if !validateOwned {
		if owned, ok := rec.(Owned); ok {
			if ownerID, known := owned.OwnerID(); known && ownerID == actor.UserID {
				return true
			}
		}
	}
	// (c) model-declared bypass predicate. Failure denies the bypass only.
	if custom, ok := rec.(CustomBypass); ok {
		passed, err := custom.BypassProtection(ctx, actor.UserID)
		if err != nil {
			s.logger.Error("custom bypass predicate failed",
				slog.String("permission_key", permissionKey),
				slog.Any("error", err))
		} else if passed {
			return true
		}
	}
	// (d) allow-list method, evaluated inside a bypass window so it cannot be
	// blocked by the protection it is short-circuiting. The window stays as
	// narrow as possible.
	if allowList, ok := rec.(AllowList); ok {
		release := bypass.Enter(ctx)
		users, err := allowList.AllowedUsers(ctx)
		release()
		if err != nil {
			s.logger.Error("allow-list evaluation failed",
				slog.String("permission_key", permissionKey),
				slog.Any("error", err))
		} else {
			for _, userID := range users {
				if userID == actor.UserID {
					return true
				}
			}
		}
	}

	team := s.resolveTeam(ctx, rec)
	granted, err := s.checker.UserHasPermission(ctx, actor.UserID, authz.SensitiveKey(permissionKey), authz.TypeRead, team)
	if err != nil {
		s.logger.Error("sensitive column check failed",
			slog.String("permission_key", permissionKey),
			slog.Int64("user_id", actor.UserID),
			slog.Any("error", err))
		return false
	}
	return granted
}

// resolveTeam walks the ordered strategy chain: custom method, the record
// being a team itself, a declared team-id column, the team relationship.
// A record that cannot be tied to any team checks against the global key.
func (s *Service) resolveTeam(ctx context.Context, rec Record) (team *int64) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("team resolution panicked", slog.Any("panic", r))
			team = nil
		}
	}()

	if s.cfg.GlobalOnly {
		return nil
	}
	if resolver, ok := rec.(TeamResolver); ok {
		resolved, err := resolver.ResolveTeam(ctx)
		if err == nil {
			return resolved
		}
		s.logger.Error("custom team resolution failed", slog.Any("error", err))
	}
	if entity, ok := rec.(TeamEntity); ok {
		id := entity.TeamEntityID()
		return &id
	}
	if column, ok := rec.(TeamColumn); ok {
		if id, ok := teamIDValue(rec.Row().raw(column.TeamIDColumn())); ok {
			return &id
		}
	}
	if related, ok := rec.(TeamRelated); ok {
		// The relationship lookup may itself load protected records.
		release := bypass.Enter(ctx)
		resolved, err := related.RelatedTeam(ctx)
		release()
		if err == nil {
			return resolved
		}
		s.logger.Error("team relationship lookup failed", slog.Any("error", err))
	}
	return nil
}

// sensitiveColumns reads the record's declared sensitive set; a panic while
// computing it hides everything rather than showing anything.
func (s *Service) sensitiveColumns(rec Record) (cols []string) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("sensitive column computation panicked", slog.Any("panic", r))
			cols = rec.Row().Columns()
		}
	}()
	sensitive, ok := rec.(Sensitive)
	if !ok {
		return nil
	}
	return sensitive.SensitiveColumns()
}

func (s *Service) lazyMode(rec Record) bool {
	if lazy, ok := rec.(LazyProtected); ok {
		return lazy.LazyProtection()
	}
	return s.cfg.LazyDefault
}

func teamIDValue(value any) (int64, bool) {
	switch v := value.(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case string:
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, false
		}
		return id, true
	}
	return 0, false
}
