// Package tree defines the ordered spanning tree produced by transitive and
// canonical computations, and the deterministic hash used to detect change.
package tree

import (
	"sort"

	"atlas/internal/atlas/id"
)

// EdgeKindTag discriminates the kind of edge that attached a child to its
// parent in a produced tree.
type EdgeKindTag uint8

const (
	// EdgeRoot is reserved for the synthetic parent edge of a traversal root.
	EdgeRoot EdgeKindTag = iota
	EdgeVerified
	EdgeRelated
	// EdgeTopic records that a child was attached via resolution through a
	// topic group; ViaTopic on the EdgeKind carries which one.
	EdgeTopic
)

// EdgeKind is a tagged variant: Root, Verified, Related, or Topic(TopicId).
type EdgeKind struct {
	Tag      EdgeKindTag
	ViaTopic id.TopicId // populated only when Tag == EdgeTopic
}

func RootEdge() EdgeKind     { return EdgeKind{Tag: EdgeRoot} }
func VerifiedEdge() EdgeKind { return EdgeKind{Tag: EdgeVerified} }
func RelatedEdge() EdgeKind  { return EdgeKind{Tag: EdgeRelated} }
func TopicEdge(t id.TopicId) EdgeKind {
	return EdgeKind{Tag: EdgeTopic, ViaTopic: t}
}

// Equal compares two EdgeKind values by tag and, for Topic, by topic id.
func (k EdgeKind) Equal(other EdgeKind) bool {
	if k.Tag != other.Tag {
		return false
	}
	if k.Tag == EdgeTopic {
		return k.ViaTopic == other.ViaTopic
	}
	return true
}

// Node is an immutable node in a produced BFS spanning tree. Children are
// ordered by ascending NodeId, as fixed at construction time.
type Node struct {
	NodeID   id.NodeId
	Kind     EdgeKind
	Children []*Node
}

// NewRoot builds a leaf node representing the synthetic root of a traversal.
func NewRoot(n id.NodeId) *Node {
	return &Node{NodeID: n, Kind: RootEdge()}
}

// New builds a leaf node for the given node and attaching edge kind.
func New(n id.NodeId, kind EdgeKind) *Node {
	return &Node{NodeID: n, Kind: kind}
}

// AddChild appends a child, preserving whatever order the caller provides.
// Callers that require ascending-NodeId order should call SortChildren
// afterward, or build children pre-sorted.
func (n *Node) AddChild(child *Node) {
	n.Children = append(n.Children, child)
}

// SortChildren orders this node's direct children by ascending NodeId. It
// does not recurse; callers sort bottom-up or top-down as their algorithm
// requires.
func (n *Node) SortChildren() {
	sort.SliceStable(n.Children, func(i, j int) bool {
		return n.Children[i].NodeID.Less(n.Children[j].NodeID)
	})
}

// NodeCount returns the number of nodes in the subtree rooted at n,
// including n itself.
func (n *Node) NodeCount() int {
	count := 1
	for _, c := range n.Children {
		count += c.NodeCount()
	}
	return count
}

// Clone performs a deep, value-owned copy of the subtree rooted at n. Cache
// entries and emitted graphs never share node pointers with graph state or
// with each other.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	clone := &Node{NodeID: n.NodeID, Kind: n.Kind}
	if len(n.Children) > 0 {
		clone.Children = make([]*Node, len(n.Children))
		for i, c := range n.Children {
			clone.Children[i] = c.Clone()
		}
	}
	return clone
}

// Filter recursively retains only descendants whose NodeID satisfies keep.
// The node it is called on (n) is always kept, whatever keep says of it, and
// only its descendants are filtered, which is what the canonical processor's
// Phase 2 relies on; Filter returns nil only when n is nil.
func (n *Node) Filter(keep func(id.NodeId) bool) *Node {
	if n == nil {
		return nil
	}
	filtered := &Node{NodeID: n.NodeID, Kind: n.Kind}
	for _, c := range n.Children {
		if !keep(c.NodeID) {
			continue
		}
		if fc := c.Filter(keep); fc != nil {
			filtered.Children = append(filtered.Children, fc)
		}
	}
	return filtered
}
