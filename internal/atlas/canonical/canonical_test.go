package canonical

import (
	"testing"

	"atlas/internal/atlas/graph"
	"atlas/internal/atlas/id"
	"atlas/internal/atlas/transitive"
	"atlas/internal/atlas/tree"
)

func node(b byte) id.NodeId {
	raw := make([]byte, 16)
	raw[0] = b
	n, _ := id.NodeFromBytes(raw)
	return n
}

func topic(b byte) id.TopicId {
	raw := make([]byte, 16)
	raw[0] = b
	t, _ := id.TopicFromBytes(raw)
	return t
}

func newProcessor(root id.NodeId, s *graph.State) *Processor {
	cache := transitive.NewCache(s, tree.NewDefaultHasher(0), 0)
	return New(root, s, cache)
}

// TestRecompute_S1_EmptyGraphEmitsOnceWithRootOnly covers scenario S1.
func TestRecompute_S1_EmptyGraphEmitsOnceWithRootOnly(t *testing.T) {
	s := graph.New()
	n1 := node(1)
	p := newProcessor(n1, s)

	g, changed := p.Recompute()
	if !changed {
		t.Fatal("expected the first recompute to always emit")
	}
	if len(g.Flat) != 1 {
		t.Fatalf("expected flat = {root}, got %v", g.Flat)
	}
	if g.Tree.Kind.Tag != tree.EdgeRoot || len(g.Tree.Children) != 0 {
		t.Fatal("expected a bare root leaf")
	}

	_, changedAgain := p.Recompute()
	if changedAgain {
		t.Fatal("expected no emit on a second recompute against unchanged state")
	}
}

// TestRecompute_S3_TopicCannotExpandCanonicalSet covers scenario S3.
func TestRecompute_S3_TopicCannotExpandCanonicalSet(t *testing.T) {
	s := graph.New()
	n1, n2, n3 := node(1), node(2), node(3)
	t1 := topic(1)
	s.Apply(graph.NewNodeCreated(n1, id.NilTopic))
	s.Apply(graph.NewNodeCreated(n2, t1))
	s.Apply(graph.NewNodeCreated(n3, t1))
	s.Apply(graph.NewTopicEdgeAdded(n1, t1))

	p := newProcessor(n1, s)
	g, _ := p.Recompute()

	if len(g.Flat) != 1 {
		t.Fatalf("expected topic alone to not expand canonical set, got %v", g.Flat)
	}
	if len(g.Tree.Children) != 0 {
		t.Fatal("expected root to remain a leaf; topic members are never canonical on their own")
	}
}

// TestRecompute_S4_TopicAttachesFilteredSubtree covers scenario S4.
func TestRecompute_S4_TopicAttachesFilteredSubtree(t *testing.T) {
	s := buildS4(t)
	n1, n2, n3 := node(1), node(2), node(3)
	t1 := topic(1)

	p := newProcessor(n1, s)
	g, changed := p.Recompute()
	if !changed {
		t.Fatal("expected the first recompute to emit")
	}

	for _, n := range []id.NodeId{n1, node(2), node(3), node(4), node(5)} {
		if _, ok := g.Flat[n]; !ok {
			t.Fatalf("expected %v in canonical_set, got %v", n, g.Flat)
		}
	}

	// n2 should carry a Topic child attaching n3's filtered full subtree,
	// in addition to n3 already appearing as n1's explicit child.
	var n2Node *nodeRef
	findNode(g.Tree, n2, &n2Node)
	if n2Node == nil {
		t.Fatal("expected to find n2 in the canonical tree")
	}
	found := false
	for _, c := range n2Node.node.Children {
		if c.NodeID == n3 && c.Kind.Tag == tree.EdgeTopic && c.Kind.ViaTopic == t1 {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected n2 to have a Topic(t1) child for n3, got children %+v", n2Node.node.Children)
	}

	var n1Node *nodeRef
	findNode(g.Tree, n1, &n1Node)
	explicitN3 := false
	for _, c := range n1Node.node.Children {
		if c.NodeID == n3 && c.Kind.Tag == tree.EdgeVerified {
			explicitN3 = true
		}
	}
	if !explicitN3 {
		t.Fatal("expected n3 to also appear as n1's explicit child (duplication across branches is expected)")
	}
}

// TestRecompute_S5_NonCanonicalTopicMemberFiltered covers scenario S5.
func TestRecompute_S5_NonCanonicalTopicMemberFiltered(t *testing.T) {
	s := graph.New()
	n1, n2, n3, n4 := node(1), node(2), node(3), node(4)
	t1 := topic(1)
	s.Apply(graph.NewNodeCreated(n3, t1))
	s.Apply(graph.NewNodeCreated(n4, t1))
	s.Apply(graph.NewExplicitEdgeAdded(n1, n2, graph.Verified))
	s.Apply(graph.NewExplicitEdgeAdded(n1, n3, graph.Verified))
	s.Apply(graph.NewTopicEdgeAdded(n2, t1))

	p := newProcessor(n1, s)
	g, _ := p.Recompute()

	if len(g.Flat) != 3 {
		t.Fatalf("expected canonical_set = {n1,n2,n3}, got %v", g.Flat)
	}
	if _, ok := g.Flat[n4]; ok {
		t.Fatal("expected n4 (never reached by explicit edges) to be excluded")
	}

	var n2Node *nodeRef
	findNode(g.Tree, n2, &n2Node)
	for _, c := range n2Node.node.Children {
		if c.NodeID == n4 {
			t.Fatal("expected non-canonical topic member n4 to be filtered out of the attachment")
		}
	}
}

// TestRecompute_S6_CycleBroken covers scenario S6.
func TestRecompute_S6_CycleBroken(t *testing.T) {
	s := graph.New()
	n1, n2, n3 := node(1), node(2), node(3)
	s.Apply(graph.NewExplicitEdgeAdded(n1, n2, graph.Verified))
	s.Apply(graph.NewExplicitEdgeAdded(n2, n3, graph.Verified))
	s.Apply(graph.NewExplicitEdgeAdded(n3, n1, graph.Verified))

	p := newProcessor(n1, s)
	g, _ := p.Recompute()

	if len(g.Flat) != 3 {
		t.Fatalf("expected flat = {n1,n2,n3}, got %v", g.Flat)
	}
	var n3Node *nodeRef
	findNode(g.Tree, n3, &n3Node)
	if n3Node == nil {
		t.Fatal("expected to find n3 in the tree")
	}
	if len(n3Node.node.Children) != 0 {
		t.Fatal("expected the n3->n1 back-edge to be silently dropped")
	}
}

// TestRecompute_S7_InvalidationCascadeProducesNewEmit covers scenario S7.
func TestRecompute_S7_InvalidationCascadeProducesNewEmit(t *testing.T) {
	s := buildS4(t)
	n1 := node(1)
	n4, n5 := node(4), node(5)

	cache := transitive.NewCache(s, tree.NewDefaultHasher(0), 0)
	p := New(n1, s, cache)
	_, changed := p.Recompute()
	if !changed {
		t.Fatal("expected the first recompute to emit")
	}

	cache.InvalidateForEvent(graph.NewExplicitEdgeRemoved(n4, n5))
	s.Apply(graph.NewExplicitEdgeRemoved(n4, n5))

	g, changed := p.Recompute()
	if !changed {
		t.Fatal("expected the edge removal to produce a new emit")
	}
	if _, ok := g.Flat[n5]; ok {
		t.Fatal("expected n5 to be gone from flat after the edge removal")
	}
}

// TestContainment_Phase2NeverGrowsFlat covers property 3.
func TestContainment_Phase2NeverGrowsFlat(t *testing.T) {
	s := buildS4(t)
	n1 := node(1)
	cache := transitive.NewCache(s, tree.NewDefaultHasher(0), 0)
	explicitResult := cache.Get(n1, transitive.ExplicitOnly)

	p := New(n1, s, cache)
	g, _ := p.Recompute()

	for n := range g.Flat {
		if _, ok := explicitResult.Flat[n]; !ok {
			t.Fatalf("expected canonical_set to be a subset of the explicit-only transitive flat set; %v is not", n)
		}
	}
}

// TestIdempotence_NoOpEventProducesNoEmit covers property 5.
func TestIdempotence_NoOpEventProducesNoEmit(t *testing.T) {
	s := graph.New()
	n1, n2 := node(1), node(2)
	s.Apply(graph.NewExplicitEdgeAdded(n1, n2, graph.Verified))

	cache := transitive.NewCache(s, tree.NewDefaultHasher(0), 0)
	p := New(n1, s, cache)
	_, changed := p.Recompute()
	if !changed {
		t.Fatal("expected the first recompute to emit")
	}

	// Re-adding the exact same edge is a no-op per graph.State.Apply.
	cache.InvalidateForEvent(graph.NewExplicitEdgeAdded(n1, n2, graph.Verified))
	s.Apply(graph.NewExplicitEdgeAdded(n1, n2, graph.Verified))

	_, changed = p.Recompute()
	if changed {
		t.Fatal("expected a duplicate edge add to produce no emit")
	}
}

// buildS4 constructs the topology from spec scenario S4: N1 (root), N2, N3
// (announces T1), N4, N5, with N1->N2, N1->N3, N3->N4, N4->N5 Verified and
// N2 subscribing to T1.
func buildS4(t *testing.T) *graph.State {
	t.Helper()
	s := graph.New()
	n1, n2, n3, n4, n5 := node(1), node(2), node(3), node(4), node(5)
	t1 := topic(1)

	s.Apply(graph.NewNodeCreated(n1, id.NilTopic))
	s.Apply(graph.NewNodeCreated(n2, id.NilTopic))
	s.Apply(graph.NewNodeCreated(n3, t1))
	s.Apply(graph.NewNodeCreated(n4, id.NilTopic))
	s.Apply(graph.NewNodeCreated(n5, id.NilTopic))
	s.Apply(graph.NewExplicitEdgeAdded(n1, n2, graph.Verified))
	s.Apply(graph.NewExplicitEdgeAdded(n1, n3, graph.Verified))
	s.Apply(graph.NewExplicitEdgeAdded(n3, n4, graph.Verified))
	s.Apply(graph.NewExplicitEdgeAdded(n4, n5, graph.Verified))
	s.Apply(graph.NewTopicEdgeAdded(n2, t1))
	return s
}

type nodeRef struct{ node *tree.Node }

// findNode performs a depth-first search for a node with the given id,
// storing a pointer to it in *out on first match.
func findNode(n *tree.Node, target id.NodeId, out **nodeRef) {
	if n == nil || *out != nil {
		return
	}
	if n.NodeID == target {
		*out = &nodeRef{node: n}
		return
	}
	for _, c := range n.Children {
		findNode(c, target, out)
	}
}
