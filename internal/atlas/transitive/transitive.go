// Package transitive computes single-root reachability graphs over graph
// state via breadth-first search, with deterministic child ordering so
// identical state always produces an identical tree and hash.
package transitive

import (
	"sort"

	"atlas/internal/atlas/graph"
	"atlas/internal/atlas/id"
	"atlas/internal/atlas/tree"
)

// Mode selects which edges a BFS traversal follows.
type Mode uint8

const (
	// ExplicitOnly follows only explicit Verified/Related edges.
	ExplicitOnly Mode = iota
	// Full additionally resolves topic edges to their current members.
	Full
)

// Graph is a cached computation result: the root, its spanning tree, the
// flat reachable set, and the tree's deterministic hash.
type Graph struct {
	Root id.NodeId
	Tree *tree.Node
	Flat map[id.NodeId]struct{}
	Hash uint64
}

// frontierEntry is one candidate outgoing edge considered while expanding a
// BFS frontier, prior to sort/dedup.
type frontierEntry struct {
	target   id.NodeId
	kind     tree.EdgeKind
	sortKind uint8 // 0 = explicit (Verified/Related), 1 = topic; tie-break ascending
}

// Compute runs BFS from root over state under mode, producing a Graph. Root
// absence from state yields a Graph whose Flat is {root} and whose Tree is a
// single leaf with Root edge kind — the traversal still succeeds because
// graph state materializes any referenced node.
func Compute(state *graph.State, root id.NodeId, mode Mode, hasher tree.Hasher) *Graph {
	visited := map[id.NodeId]*tree.Node{}
	rootNode := tree.NewRoot(root)
	visited[root] = rootNode

	queue := []id.NodeId{root}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		currentNode := visited[current]

		frontier := buildFrontier(state, current, mode)
		sortFrontier(frontier)

		seenTargets := make(map[id.NodeId]struct{}, len(frontier))
		for _, entry := range frontier {
			if _, dup := seenTargets[entry.target]; dup {
				continue // first entry after sort wins; later duplicates collapsed
			}
			seenTargets[entry.target] = struct{}{}

			if _, already := visited[entry.target]; already {
				continue // first-visit-wins breaks cycles
			}
			child := tree.New(entry.target, entry.kind)
			visited[entry.target] = child
			currentNode.AddChild(child)
			queue = append(queue, entry.target)
		}
	}

	sortTreeChildren(rootNode)

	flat := make(map[id.NodeId]struct{}, len(visited))
	for n := range visited {
		flat[n] = struct{}{}
	}

	g := &Graph{Root: root, Tree: rootNode, Flat: flat}
	g.Hash = hasher.Hash(rootNode)
	return g
}

func buildFrontier(state *graph.State, current id.NodeId, mode Mode) []frontierEntry {
	var frontier []frontierEntry

	for _, e := range state.ExplicitEdges(current) {
		kind := tree.VerifiedEdge()
		if e.Kind == graph.Related {
			kind = tree.RelatedEdge()
		}
		frontier = append(frontier, frontierEntry{target: e.Target, kind: kind, sortKind: 0})
	}

	if mode == Full {
		for _, t := range state.TopicEdges(current) {
			for _, m := range state.TopicMembers(t) {
				frontier = append(frontier, frontierEntry{
					target:   m,
					kind:     tree.TopicEdge(t),
					sortKind: 1,
				})
			}
		}
	}

	return frontier
}

// sortFrontier orders by ascending target NodeId, then by the deterministic
// tie-break (explicit before topic, then ascending topic id) so that a
// duplicate target after sort always collapses to the same surviving entry.
func sortFrontier(frontier []frontierEntry) {
	sort.SliceStable(frontier, func(i, j int) bool {
		a, b := frontier[i], frontier[j]
		if !a.target.Less(b.target) && !b.target.Less(a.target) {
			if a.sortKind != b.sortKind {
				return a.sortKind < b.sortKind
			}
			if a.kind.Tag == tree.EdgeTopic && b.kind.Tag == tree.EdgeTopic {
				return a.kind.ViaTopic.Less(b.kind.ViaTopic)
			}
			return false
		}
		return a.target.Less(b.target)
	})
}

func sortTreeChildren(n *tree.Node) {
	n.SortChildren()
	for _, c := range n.Children {
		sortTreeChildren(c)
	}
}
