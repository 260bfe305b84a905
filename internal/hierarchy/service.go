package hierarchy

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/text/cases"

	"github.com/odyssey-erp/gatekeeper/internal/platform/cache"
)

// Cache tags shared with the invalidation manager.
const (
	TagAll = "hier"
)

// TagTeam addresses the cached traversals rooted at one team.
func TagTeam(teamID int64) string {
	return "hier:team:" + strconv.FormatInt(teamID, 10)
}

// DefaultDepthCap bounds recursive traversal.
const DefaultDepthCap = 50

// Repository is the store surface for tree traversal.
type Repository interface {
	Descendants(ctx context.Context, teamID int64, maxDepth int, search string) ([]Node, error)
	Ancestors(ctx context.Context, teamID int64, maxDepth int) ([]Node, error)
	Siblings(ctx context.Context, teamID int64, search string) ([]Node, error)
	DescendantsWithRole(ctx context.Context, teamID int64, roleID string, maxDepth int) ([]RoleNode, error)
}

// Service computes ancestors, descendants and siblings for teams over the
// live tree, caching results per (team, operation, filter).
type Service struct {
	logger   *slog.Logger
	repo     Repository
	cache    *cache.Tagged
	depthCap int
	ttl      time.Duration
}

// NewService constructs a Service. A depthCap of zero falls back to
// DefaultDepthCap; a ttl of zero falls back to one hour.
func NewService(logger *slog.Logger, repo Repository, tagged *cache.Tagged, depthCap int, ttl time.Duration) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if depthCap <= 0 {
		depthCap = DefaultDepthCap
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Service{logger: logger, repo: repo, cache: tagged, depthCap: depthCap, ttl: ttl}
}

// Descendants returns the teams below teamID. A non-existent team yields an
// empty result, not an error.
func (s *Service) Descendants(ctx context.Context, teamID int64, opts QueryOptions) ([]Node, error) {
	depth := s.boundedDepth(opts.MaxDepth)
	search := foldSearch(opts.Search)
	key := traversalKey("desc", teamID, strconv.Itoa(depth), search)

	var nodes []Node
	err := s.cached(ctx, key, teamID, &nodes, func(ctx context.Context) (any, error) {
		return s.repo.Descendants(ctx, teamID, depth, search)
	})
	return nodes, err
}

// Ancestors returns the chain from teamID's parent to the root, nearest first.
func (s *Service) Ancestors(ctx context.Context, teamID int64) ([]Node, error) {
	key := traversalKey("anc", teamID, strconv.Itoa(s.depthCap), "")

	var nodes []Node
	err := s.cached(ctx, key, teamID, &nodes, func(ctx context.Context) (any, error) {
		return s.repo.Ancestors(ctx, teamID, s.depthCap)
	})
	return nodes, err
}

// Siblings returns the other teams sharing teamID's parent.
func (s *Service) Siblings(ctx context.Context, teamID int64, search string) ([]Node, error) {
	folded := foldSearch(search)
	key := traversalKey("sib", teamID, "", folded)

	var nodes []Node
	err := s.cached(ctx, key, teamID, &nodes, func(ctx context.Context) (any, error) {
		return s.repo.Siblings(ctx, teamID, folded)
	})
	return nodes, err
}

// DescendantsWithRole annotates each descendant with whether roleID applies
// to it.
func (s *Service) DescendantsWithRole(ctx context.Context, teamID int64, roleID string) ([]RoleNode, error) {
	key := traversalKey("descrole", teamID, roleID, "")

	var nodes []RoleNode
	err := s.cached(ctx, key, teamID, &nodes, func(ctx context.Context) (any, error) {
		return s.repo.DescendantsWithRole(ctx, teamID, roleID, s.depthCap)
	})
	return nodes, err
}

// IsDescendant reports whether candidateID sits in ancestorID's subtree.
// Reflexive: every team is its own descendant.
func (s *Service) IsDescendant(ctx context.Context, ancestorID, candidateID int64) (bool, error) {
	if ancestorID == candidateID {
		return true, nil
	}
	ancestors, err := s.Ancestors(ctx, candidateID)
	if err != nil {
		return false, err
	}
	for _, node := range ancestors {
		if node.ID == ancestorID {
			return true, nil
		}
	}
	return false, nil
}

// DescendantIDs returns the ids below teamID.
func (s *Service) DescendantIDs(ctx context.Context, teamID int64) ([]int64, error) {
	nodes, err := s.Descendants(ctx, teamID, QueryOptions{})
	if err != nil {
		return nil, err
	}
	return nodeIDs(nodes), nil
}

// SiblingIDs returns the ids of teamID's siblings.
func (s *Service) SiblingIDs(ctx context.Context, teamID int64) ([]int64, error) {
	nodes, err := s.Siblings(ctx, teamID, "")
	if err != nil {
		return nil, err
	}
	return nodeIDs(nodes), nil
}

// InvalidateTeam evicts the cached traversals rooted at one team.
func (s *Service) InvalidateTeam(ctx context.Context, teamID int64) error {
	return s.cache.InvalidateTag(ctx, TagTeam(teamID))
}

// InvalidateAll evicts every cached traversal.
func (s *Service) InvalidateAll(ctx context.Context) error {
	return s.cache.InvalidateTag(ctx, TagAll)
}

func (s *Service) cached(ctx context.Context, key string, teamID int64, dest any, loader func(context.Context) (any, error)) error {
	tags := []string{TagAll, TagTeam(teamID)}
	return s.cache.Fetch(ctx, key, s.ttl, tags, dest, loader)
}

func (s *Service) boundedDepth(requested int) int {
	if requested <= 0 || requested > s.depthCap {
		return s.depthCap
	}
	return requested
}

func traversalKey(op string, teamID int64, variant, search string) string {
	key := "hier:" + op + ":" + strconv.FormatInt(teamID, 10)
	if variant != "" {
		key += ":" + variant
	}
	if search != "" {
		key += ":q=" + search
	}
	return key
}

func foldSearch(search string) string {
	if search == "" {
		return ""
	}
	return cases.Fold().String(search)
}

func nodeIDs(nodes []Node) []int64 {
	ids := make([]int64, len(nodes))
	for i, node := range nodes {
		ids[i] = node.ID
	}
	return ids
}
