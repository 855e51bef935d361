package tree

import (
	"testing"

	"atlas/internal/atlas/id"
)

func node(b byte) id.NodeId {
	raw := make([]byte, 16)
	raw[0] = b
	n, _ := id.NodeFromBytes(raw)
	return n
}

func TestHash_DeterministicAcrossRuns(t *testing.T) {
	build := func() *Node {
		root := NewRoot(node(1))
		root.AddChild(New(node(2), VerifiedEdge()))
		root.AddChild(New(node(3), RelatedEdge()))
		root.SortChildren()
		return root
	}

	h := NewDefaultHasher(0)
	a := h.Hash(build())
	b := h.Hash(build())
	if a != b {
		t.Fatalf("expected identical trees to hash identically, got %d and %d", a, b)
	}
}

func TestHash_DiffersWhenShapeChanges(t *testing.T) {
	h := NewDefaultHasher(0)

	root1 := NewRoot(node(1))
	root1.AddChild(New(node(2), VerifiedEdge()))

	root2 := NewRoot(node(1))
	root2.AddChild(New(node(2), VerifiedEdge()))
	root2.AddChild(New(node(3), VerifiedEdge()))

	if h.Hash(root1) == h.Hash(root2) {
		t.Fatal("expected trees of different shape to hash differently")
	}
}

func TestHash_DiffersByEdgeKind(t *testing.T) {
	h := NewDefaultHasher(0)

	verified := NewRoot(node(1))
	verified.AddChild(New(node(2), VerifiedEdge()))

	related := NewRoot(node(1))
	related.AddChild(New(node(2), RelatedEdge()))

	if h.Hash(verified) == h.Hash(related) {
		t.Fatal("expected differing edge kinds to produce differing hashes")
	}
}

func TestHash_DiffersByViaTopic(t *testing.T) {
	h := NewDefaultHasher(0)
	topicA := id.TopicId{1}
	topicB := id.TopicId{2}

	a := NewRoot(node(1))
	a.AddChild(New(node(2), TopicEdge(topicA)))

	b := NewRoot(node(1))
	b.AddChild(New(node(2), TopicEdge(topicB)))

	if h.Hash(a) == h.Hash(b) {
		t.Fatal("expected differing via-topic to produce differing hashes")
	}
}

func TestNewDefaultHasher_ZeroSeedUsesDefaultSeed(t *testing.T) {
	h := NewDefaultHasher(0)
	if h.Seed != DefaultSeed {
		t.Fatalf("expected zero seed to fall back to DefaultSeed, got %d", h.Seed)
	}
}

func TestClone_IsDeepAndIndependent(t *testing.T) {
	root := NewRoot(node(1))
	root.AddChild(New(node(2), VerifiedEdge()))

	clone := root.Clone()
	clone.Children[0].NodeID = node(99)

	if root.Children[0].NodeID == node(99) {
		t.Fatal("expected mutating the clone to not affect the original")
	}
}

func TestFilter_RetainsOnlyKeptDescendants(t *testing.T) {
	root := NewRoot(node(1))
	child2 := New(node(2), VerifiedEdge())
	child3 := New(node(3), VerifiedEdge())
	root.AddChild(child2)
	root.AddChild(child3)
	child2.AddChild(New(node(4), VerifiedEdge()))

	keep := map[id.NodeId]bool{node(1): true, node(2): true, node(4): true}
	filtered := root.Filter(func(n id.NodeId) bool { return keep[n] })

	if filtered.NodeID != node(1) {
		t.Fatal("expected root to always be retained")
	}
	if len(filtered.Children) != 1 || filtered.Children[0].NodeID != node(2) {
		t.Fatalf("expected only node 2 to survive filtering, got %+v", filtered.Children)
	}
	if len(filtered.Children[0].Children) != 1 || filtered.Children[0].Children[0].NodeID != node(4) {
		t.Fatal("expected node 4 to survive as a grandchild of node 2")
	}
}

func TestNodeCount_CountsSelfAndDescendants(t *testing.T) {
	root := NewRoot(node(1))
	root.AddChild(New(node(2), VerifiedEdge()))
	c := New(node(3), VerifiedEdge())
	c.AddChild(New(node(4), VerifiedEdge()))
	root.AddChild(c)

	if root.NodeCount() != 4 {
		t.Fatalf("expected 4 nodes total, got %d", root.NodeCount())
	}
}

func TestSortChildren_OrdersByAscendingNodeId(t *testing.T) {
	root := NewRoot(node(1))
	root.AddChild(New(node(3), VerifiedEdge()))
	root.AddChild(New(node(2), VerifiedEdge()))
	root.SortChildren()

	if root.Children[0].NodeID != node(2) || root.Children[1].NodeID != node(3) {
		t.Fatalf("expected children sorted ascending, got %v then %v", root.Children[0].NodeID, root.Children[1].NodeID)
	}
}
