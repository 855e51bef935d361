// Package canonical derives the trusted subgraph from a designated root: an
// explicit-only transitive set, with topic edges attaching filtered
// full-transitive subtrees as additional children between already-canonical
// nodes.
package canonical

import (
	"atlas/internal/atlas/graph"
	"atlas/internal/atlas/id"
	"atlas/internal/atlas/transitive"
	"atlas/internal/atlas/tree"
)

// Graph is the emitted artifact: the canonical subgraph as of the most
// recent change.
type Graph struct {
	Root id.NodeId
	Tree *tree.Node
	Flat map[id.NodeId]struct{}
}

// Processor maintains a designated root and the hash last emitted for it,
// deciding after every event whether the canonical graph changed.
type Processor struct {
	root     id.NodeId
	state    *graph.State
	cache    *transitive.Cache
	lastHash uint64
	hasSeen  bool
}

// New builds a Processor for root, backed by state and cache. last_hash
// starts unset, so the first Recompute always produces a result.
func New(root id.NodeId, state *graph.State, cache *transitive.Cache) *Processor {
	return &Processor{root: root, state: state, cache: cache}
}

// Root returns the processor's designated, immutable-for-lifetime root.
func (p *Processor) Root() id.NodeId { return p.root }

// LastHash returns the most recently emitted tree hash, and whether one has
// been emitted yet.
func (p *Processor) LastHash() (uint64, bool) { return p.lastHash, p.hasSeen }

// Seed restores last_hash from a loaded snapshot, so resuming from a
// snapshot does not spuriously re-emit a canonical graph identical to the
// one already persisted.
func (p *Processor) Seed(hash uint64) {
	p.lastHash = hash
	p.hasSeen = true
}

// Recompute runs Phase 1 and Phase 2 and returns (graph, true) if the
// resulting tree hash differs from the last emitted value, or (nil, false)
// if unchanged — callers must not emit in the latter case.
func (p *Processor) Recompute() (*Graph, bool) {
	canonicalTree, canonicalSet, hash := p.deriveCanonical()

	if p.hasSeen && hash == p.lastHash {
		return nil, false
	}
	p.lastHash = hash
	p.hasSeen = true

	return &Graph{Root: p.root, Tree: canonicalTree, Flat: canonicalSet}, true
}

// deriveCanonical performs Phase 1 (explicit-only transitive set) and Phase
// 2 (topic-edge attachment), then hashes the resulting tree.
func (p *Processor) deriveCanonical() (*tree.Node, map[id.NodeId]struct{}, uint64) {
	explicitResult := p.cache.Get(p.root, transitive.ExplicitOnly)

	canonicalSet := make(map[id.NodeId]struct{}, len(explicitResult.Flat))
	for n := range explicitResult.Flat {
		canonicalSet[n] = struct{}{}
	}
	canonicalTree := explicitResult.Tree.Clone()

	p.attachTopicEdges(canonicalTree, canonicalSet)

	hasher := p.cache.Hasher()
	return canonicalTree, canonicalSet, hasher.Hash(canonicalTree)
}

// attachTopicEdges walks canonicalTree in document order (the order fixed
// by Phase 1's BFS), and for every node with outgoing topic edges, attaches
// filtered full-transitive subtrees for canonical members as additional
// children. Topic attachments are additive and may duplicate an explicit
// edge to the same target; they are appended without deduplication.
func (p *Processor) attachTopicEdges(node *tree.Node, canonicalSet map[id.NodeId]struct{}) {
	// Snapshot the children fixed by Phase 1 (or by an ancestor's Phase 2
	// pass) before appending this node's own topic attachments below, so
	// recursion only ever descends into explicit-edge subtrees — newly
	// attached filtered subtrees are already complete copies.
	explicitChildren := append([]*tree.Node(nil), node.Children...)

	for _, topic := range p.state.TopicEdges(node.NodeID) {
		for _, member := range p.state.TopicMembers(topic) {
			if _, ok := canonicalSet[member]; !ok {
				continue // non-canonical topic members are filtered out
			}

			full := p.cache.Get(member, transitive.Full)
			filtered := full.Tree.Filter(func(n id.NodeId) bool {
				_, ok := canonicalSet[n]
				return ok
			})
			filtered.Kind = tree.TopicEdge(topic)
			node.AddChild(filtered)
		}
	}

	for _, child := range explicitChildren {
		p.attachTopicEdges(child, canonicalSet)
	}
}
