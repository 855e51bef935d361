package transitive

import (
	"atlas/internal/atlas/graph"
	"atlas/internal/atlas/id"
	"atlas/internal/atlas/tree"
)

// Cache memoizes per-root TransitiveGraph computations under both modes,
// with a reverse-dependency index bounding invalidation to affected roots.
// Entries are value-owned and share no structure with graph state.
type Cache struct {
	full         *lruCache[*Graph]
	explicitOnly *lruCache[*Graph]
	reverseDeps  map[id.NodeId]map[id.NodeId]struct{} // dependency -> set of roots whose cache depends on it
	state        *graph.State
	hasher       tree.Hasher
}

// NewCache builds a cache over state. entryCap <= 0 means unbounded, per the
// cache_entry_cap configuration option; otherwise each of the two mode maps
// is independently bounded by entryCap with LRU eviction.
func NewCache(state *graph.State, hasher tree.Hasher, entryCap int) *Cache {
	return &Cache{
		full:         newLRUCache[*Graph](entryCap),
		explicitOnly: newLRUCache[*Graph](entryCap),
		reverseDeps:  make(map[id.NodeId]map[id.NodeId]struct{}),
		state:        state,
		hasher:       hasher,
	}
}

func (c *Cache) mapFor(mode Mode) *lruCache[*Graph] {
	if mode == Full {
		return c.full
	}
	return c.explicitOnly
}

// Get returns the TransitiveGraph for root under mode, computing and
// memoizing it on a miss. Every cache hit returns a result identical to one
// freshly computed from current state, because invalidation always runs
// before any event that could change it is applied.
func (c *Cache) Get(root id.NodeId, mode Mode) *Graph {
	m := c.mapFor(mode)
	if g, ok := m.get(root); ok {
		return g
	}

	g := Compute(c.state, root, mode, c.hasher)
	m.put(root, g)
	c.recordDeps(root, g)
	return g
}

// recordDeps adds root to reverse_deps[n] for every n reachable from root
// (including root itself), so that a future change to n's local topology
// invalidates root's cached graphs.
func (c *Cache) recordDeps(root id.NodeId, g *Graph) {
	for n := range g.Flat {
		if c.reverseDeps[n] == nil {
			c.reverseDeps[n] = make(map[id.NodeId]struct{})
		}
		c.reverseDeps[n][root] = struct{}{}
	}
	if c.reverseDeps[root] == nil {
		c.reverseDeps[root] = make(map[id.NodeId]struct{})
	}
	c.reverseDeps[root][root] = struct{}{}
}

// Invalidate drops the cached entries (both variants) for every root that
// depends on any of the given keys, plus the keys themselves, and purges
// those roots from every reverse_deps entry. It must be called with the
// pre-event state, before the triggering event is applied, because
// invalidation needs the reverse dependencies that are about to become
// stale.
func (c *Cache) Invalidate(keys ...id.NodeId) {
	affected := make(map[id.NodeId]struct{})
	for _, k := range keys {
		affected[k] = struct{}{}
		for root := range c.reverseDeps[k] {
			affected[root] = struct{}{}
		}
	}

	for root := range affected {
		c.full.remove(root)
		c.explicitOnly.remove(root)
		delete(c.reverseDeps, root)
	}
	for dep, roots := range c.reverseDeps {
		for root := range affected {
			delete(roots, root)
		}
		if len(roots) == 0 {
			delete(c.reverseDeps, dep)
		}
	}
}

// InvalidateForEvent computes the invalidation key set for e per the event
// table in the design notes, then invalidates. It must be called against the
// pre-event state, i.e. before graph.State.Apply(e).
func (c *Cache) InvalidateForEvent(e graph.Event) {
	switch e.Kind {
	case graph.ExplicitEdgeAdded, graph.ExplicitEdgeRemoved:
		c.Invalidate(e.Source, e.Target)
	case graph.TopicEdgeAdded, graph.TopicEdgeRemoved:
		c.Invalidate(e.Source)
	case graph.NodeCreated:
		if !e.Topic.IsNil() {
			c.Invalidate(c.state.TopicEdgeSources(e.Topic)...)
		}
	case graph.TopicMembershipAdded, graph.TopicMembershipRemoved:
		c.Invalidate(c.state.TopicEdgeSources(e.Topic)...)
	}
}

// Len reports the number of entries currently cached per variant, for
// observability.
func (c *Cache) Len() (full, explicitOnly int) {
	return c.full.len(), c.explicitOnly.len()
}

// Hasher returns the tree hasher this cache was constructed with, so
// collaborators that derive further trees from cached subtrees (such as the
// canonical processor) hash with the same seed.
func (c *Cache) Hasher() tree.Hasher { return c.hasher }
