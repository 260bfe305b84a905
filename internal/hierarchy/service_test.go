package hierarchy

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/gatekeeper/internal/platform/cache"
)

// treeRepo serves traversals from an in-memory parent map.
type treeRepo struct {
	parents map[int64]*int64 // child -> parent
	names   map[int64]string
	roles   map[int64][]string // team -> role ids held there
	calls   int
	maxSeen int
}

func newTreeRepo() *treeRepo {
	return &treeRepo{
		parents: make(map[int64]*int64),
		names:   make(map[int64]string),
		roles:   make(map[int64][]string),
	}
}

func (r *treeRepo) addTeam(id int64, name string, parent *int64) {
	r.parents[id] = parent
	r.names[id] = name
}

func (r *treeRepo) node(id int64, depth int) Node {
	return Node{Team: Team{ID: id, Name: r.names[id], ParentTeamID: r.parents[id]}, Depth: depth}
}

func (r *treeRepo) matches(id int64, search string) bool {
	if search == "" {
		return true
	}
	return strings.Contains(strings.ToLower(r.names[id]), search)
}

func (r *treeRepo) Descendants(ctx context.Context, teamID int64, maxDepth int, search string) ([]Node, error) {
	r.calls++
	r.maxSeen = maxDepth
	var out []Node
	frontier := []int64{teamID}
	for depth := 1; depth <= maxDepth && len(frontier) > 0; depth++ {
		var next []int64
		for id, parent := range r.parents {
			for _, f := range frontier {
				if parent != nil && *parent == f {
					next = append(next, id)
					if r.matches(id, search) {
						out = append(out, r.node(id, depth))
					}
				}
			}
		}
		frontier = next
	}
	return out, nil
}

func (r *treeRepo) Ancestors(ctx context.Context, teamID int64, maxDepth int) ([]Node, error) {
	r.calls++
	var out []Node
	current := r.parents[teamID]
	for depth := 1; current != nil && depth <= maxDepth; depth++ {
		out = append(out, r.node(*current, depth))
		current = r.parents[*current]
	}
	return out, nil
}

func (r *treeRepo) Siblings(ctx context.Context, teamID int64, search string) ([]Node, error) {
	r.calls++
	self := r.parents[teamID]
	var out []Node
	for id, parent := range r.parents {
		if id == teamID {
			continue
		}
		sameParent := (parent == nil && self == nil) ||
			(parent != nil && self != nil && *parent == *self)
		if sameParent && r.matches(id, search) {
			out = append(out, r.node(id, 0))
		}
	}
	return out, nil
}

func (r *treeRepo) DescendantsWithRole(ctx context.Context, teamID int64, roleID string, maxDepth int) ([]RoleNode, error) {
	nodes, err := r.Descendants(ctx, teamID, maxDepth, "")
	if err != nil {
		return nil, err
	}
	out := make([]RoleNode, 0, len(nodes))
	for _, node := range nodes {
		hasRole := false
		for _, held := range r.roles[node.ID] {
			if held == roleID {
				hasRole = true
				break
			}
		}
		out = append(out, RoleNode{Node: node, HasRole: hasRole})
	}
	return out, nil
}

// fixture: 1 -> (2, 3), 2 -> (4, 5)
func fixtureRepo() *treeRepo {
	repo := newTreeRepo()
	id := func(v int64) *int64 { return &v }
	repo.addTeam(1, "Root", nil)
	repo.addTeam(2, "Sales", id(1))
	repo.addTeam(3, "Engineering", id(1))
	repo.addTeam(4, "Sales North", id(2))
	repo.addTeam(5, "Sales South", id(2))
	return repo
}

func newTestService(t *testing.T, repo Repository, depthCap int) *Service {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewService(nil, repo, cache.NewTagged(client, "test"), depthCap, time.Minute)
}

func nodeIDSet(nodes []Node) map[int64]bool {
	out := make(map[int64]bool, len(nodes))
	for _, node := range nodes {
		out[node.ID] = true
	}
	return out
}

func TestDescendants(t *testing.T) {
	service := newTestService(t, fixtureRepo(), 0)

	nodes, err := service.Descendants(context.Background(), 1, QueryOptions{})
	require.NoError(t, err)
	assert.Equal(t, map[int64]bool{2: true, 3: true, 4: true, 5: true}, nodeIDSet(nodes))

	nodes, err = service.Descendants(context.Background(), 2, QueryOptions{})
	require.NoError(t, err)
	assert.Equal(t, map[int64]bool{4: true, 5: true}, nodeIDSet(nodes))
}

func TestDescendantsUnknownTeamIsEmpty(t *testing.T) {
	service := newTestService(t, fixtureRepo(), 0)
	nodes, err := service.Descendants(context.Background(), 99, QueryOptions{})
	require.NoError(t, err)
	assert.Empty(t, nodes)
}

func TestDescendantsMaxDepth(t *testing.T) {
	service := newTestService(t, fixtureRepo(), 0)
	nodes, err := service.Descendants(context.Background(), 1, QueryOptions{MaxDepth: 1})
	require.NoError(t, err)
	assert.Equal(t, map[int64]bool{2: true, 3: true}, nodeIDSet(nodes))
}

func TestDescendantsSearch(t *testing.T) {
	service := newTestService(t, fixtureRepo(), 0)
	nodes, err := service.Descendants(context.Background(), 1, QueryOptions{Search: "SALES"})
	require.NoError(t, err)
	assert.Equal(t, map[int64]bool{2: true, 4: true, 5: true}, nodeIDSet(nodes))
}

func TestDepthCapBoundsRequestedDepth(t *testing.T) {
	repo := fixtureRepo()
	service := newTestService(t, repo, 3)

	_, err := service.Descendants(context.Background(), 1, QueryOptions{MaxDepth: 100})
	require.NoError(t, err)
	assert.Equal(t, 3, repo.maxSeen)

	_, err = service.Descendants(context.Background(), 1, QueryOptions{MaxDepth: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, repo.maxSeen)
}

func TestDefaultDepthCap(t *testing.T) {
	repo := fixtureRepo()
	service := newTestService(t, repo, 0)
	_, err := service.Descendants(context.Background(), 1, QueryOptions{})
	require.NoError(t, err)
	assert.Equal(t, DefaultDepthCap, repo.maxSeen)
}

func TestAncestorsNearestFirst(t *testing.T) {
	service := newTestService(t, fixtureRepo(), 0)
	nodes, err := service.Ancestors(context.Background(), 4)
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, int64(2), nodes[0].ID)
	assert.Equal(t, int64(1), nodes[1].ID)
}

func TestAncestorsOfRootIsEmpty(t *testing.T) {
	service := newTestService(t, fixtureRepo(), 0)
	nodes, err := service.Ancestors(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, nodes)
}

func TestSiblings(t *testing.T) {
	service := newTestService(t, fixtureRepo(), 0)
	nodes, err := service.Siblings(context.Background(), 4, "")
	require.NoError(t, err)
	assert.Equal(t, map[int64]bool{5: true}, nodeIDSet(nodes))
}

func TestIsDescendant(t *testing.T) {
	service := newTestService(t, fixtureRepo(), 0)
	ctx := context.Background()

	reflexive, err := service.IsDescendant(ctx, 3, 3)
	require.NoError(t, err)
	assert.True(t, reflexive)

	direct, err := service.IsDescendant(ctx, 1, 2)
	require.NoError(t, err)
	assert.True(t, direct)

	transitive, err := service.IsDescendant(ctx, 1, 4)
	require.NoError(t, err)
	assert.True(t, transitive)

	inverted, err := service.IsDescendant(ctx, 4, 1)
	require.NoError(t, err)
	assert.False(t, inverted)

	unrelated, err := service.IsDescendant(ctx, 3, 4)
	require.NoError(t, err)
	assert.False(t, unrelated)
}

func TestDescendantsWithRole(t *testing.T) {
	repo := fixtureRepo()
	repo.roles[4] = []string{"editor"}
	service := newTestService(t, repo, 0)

	nodes, err := service.DescendantsWithRole(context.Background(), 2, "editor")
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	byID := make(map[int64]bool, len(nodes))
	for _, node := range nodes {
		byID[node.ID] = node.HasRole
	}
	assert.True(t, byID[4])
	assert.False(t, byID[5])
}

func TestTraversalsAreCached(t *testing.T) {
	repo := fixtureRepo()
	service := newTestService(t, repo, 0)
	ctx := context.Background()

	_, err := service.Descendants(ctx, 1, QueryOptions{})
	require.NoError(t, err)
	_, err = service.Descendants(ctx, 1, QueryOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, repo.calls)

	// A different filter is a different cache entry.
	_, err = service.Descendants(ctx, 1, QueryOptions{Search: "sales"})
	require.NoError(t, err)
	assert.Equal(t, 2, repo.calls)
}

func TestInvalidateTeamEvictsItsTraversals(t *testing.T) {
	repo := fixtureRepo()
	service := newTestService(t, repo, 0)
	ctx := context.Background()

	_, err := service.Descendants(ctx, 1, QueryOptions{})
	require.NoError(t, err)
	_, err = service.Descendants(ctx, 2, QueryOptions{})
	require.NoError(t, err)
	require.Equal(t, 2, repo.calls)

	require.NoError(t, service.InvalidateTeam(ctx, 1))

	_, err = service.Descendants(ctx, 1, QueryOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, repo.calls, "team 1 traversal recomputed")

	_, err = service.Descendants(ctx, 2, QueryOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, repo.calls, "team 2 traversal still cached")
}

func TestInvalidateAllEvictsEverything(t *testing.T) {
	repo := fixtureRepo()
	service := newTestService(t, repo, 0)
	ctx := context.Background()

	_, err := service.Descendants(ctx, 1, QueryOptions{})
	require.NoError(t, err)
	_, err = service.Siblings(ctx, 4, "")
	require.NoError(t, err)
	require.Equal(t, 2, repo.calls)

	require.NoError(t, service.InvalidateAll(ctx))

	_, err = service.Descendants(ctx, 1, QueryOptions{})
	require.NoError(t, err)
	_, err = service.Siblings(ctx, 4, "")
	require.NoError(t, err)
	assert.Equal(t, 4, repo.calls)
}

func TestLookupIDs(t *testing.T) {
	service := newTestService(t, fixtureRepo(), 0)
	ctx := context.Background()

	ids, err := service.DescendantIDs(ctx, 2)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{4, 5}, ids)

	ids, err = service.SiblingIDs(ctx, 2)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{3}, ids)
}
