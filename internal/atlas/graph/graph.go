// Package graph holds the single authoritative topology state: nodes,
// explicit edges, and topic memberships, forward and reverse indexed.
package graph

import (
	"sort"

	atlaserrors "atlas/internal/core/errors"
	"atlas/internal/atlas/id"
)

// explicitTarget is one entry in a node's ordered explicit edge list.
type explicitTarget struct {
	Target id.NodeId
	Kind   ExplicitKind
}

// State is the single authoritative graph store. It is exclusively owned by
// the dispatcher; traversals borrow it read-only. There is no internal
// locking: the core is single-threaded cooperative and there is no shared
// mutable state across goroutines (see package dispatcher).
type State struct {
	nodes            map[id.NodeId]struct{}
	explicitEdges    map[id.NodeId][]explicitTarget
	topicEdges       map[id.NodeId]map[id.TopicId]struct{}
	topicMembers     map[id.TopicId]map[id.NodeId]struct{}
	topicEdgeSources map[id.TopicId]map[id.NodeId]struct{}
}

// New builds an empty graph state.
func New() *State {
	return &State{
		nodes:            make(map[id.NodeId]struct{}),
		explicitEdges:    make(map[id.NodeId][]explicitTarget),
		topicEdges:       make(map[id.NodeId]map[id.TopicId]struct{}),
		topicMembers:     make(map[id.TopicId]map[id.NodeId]struct{}),
		topicEdgeSources: make(map[id.TopicId]map[id.NodeId]struct{}),
	}
}

func (s *State) ensureNode(n id.NodeId) {
	s.nodes[n] = struct{}{}
}

// Apply mutates state for the given event. All operations here are total:
// no operation fails structurally, and unknown references are materialized
// rather than rejected. Structurally malformed events (wrong-length ids)
// must be rejected before reaching this layer; see package errors.
func (s *State) Apply(e Event) {
	switch e.Kind {
	case NodeCreated:
		s.ensureNode(e.Node)
		if !e.Topic.IsNil() {
			s.addTopicMembership(e.Node, e.Topic)
		}
	case ExplicitEdgeAdded:
		s.ensureNode(e.Source)
		s.ensureNode(e.Target)
		s.addExplicitEdge(e.Source, e.Target, e.ExplicitKind)
	case ExplicitEdgeRemoved:
		s.removeExplicitEdge(e.Source, e.Target)
	case TopicEdgeAdded:
		s.ensureNode(e.Source)
		s.addTopicEdge(e.Source, e.Topic)
	case TopicEdgeRemoved:
		s.removeTopicEdge(e.Source, e.Topic)
	case TopicMembershipAdded:
		s.ensureNode(e.Node)
		s.addTopicMembership(e.Node, e.Topic)
	case TopicMembershipRemoved:
		s.removeTopicMembership(e.Node, e.Topic)
	}
}

func (s *State) addExplicitEdge(source, target id.NodeId, kind ExplicitKind) {
	for _, existing := range s.explicitEdges[source] {
		if existing.Target == target && existing.Kind == kind {
			return // duplicate (same source, target, kind) is a no-op
		}
	}
	s.explicitEdges[source] = append(s.explicitEdges[source], explicitTarget{Target: target, Kind: kind})
}

func (s *State) removeExplicitEdge(source, target id.NodeId) {
	edges, ok := s.explicitEdges[source]
	if !ok {
		return
	}
	out := edges[:0]
	for _, e := range edges {
		if e.Target == target {
			continue
		}
		out = append(out, e)
	}
	if len(out) == 0 {
		delete(s.explicitEdges, source)
		return
	}
	s.explicitEdges[source] = out
}

func (s *State) addTopicEdge(source id.NodeId, topic id.TopicId) {
	if s.topicEdges[source] == nil {
		s.topicEdges[source] = make(map[id.TopicId]struct{})
	}
	s.topicEdges[source][topic] = struct{}{}

	if s.topicEdgeSources[topic] == nil {
		s.topicEdgeSources[topic] = make(map[id.NodeId]struct{})
	}
	s.topicEdgeSources[topic][source] = struct{}{}
}

func (s *State) removeTopicEdge(source id.NodeId, topic id.TopicId) {
	if set, ok := s.topicEdges[source]; ok {
		delete(set, topic)
		if len(set) == 0 {
			delete(s.topicEdges, source)
		}
	}
	if set, ok := s.topicEdgeSources[topic]; ok {
		delete(set, source)
		if len(set) == 0 {
			delete(s.topicEdgeSources, topic)
		}
	}
}

func (s *State) addTopicMembership(n id.NodeId, topic id.TopicId) {
	if s.topicMembers[topic] == nil {
		s.topicMembers[topic] = make(map[id.NodeId]struct{})
	}
	s.topicMembers[topic][n] = struct{}{}
}

func (s *State) removeTopicMembership(n id.NodeId, topic id.TopicId) {
	if set, ok := s.topicMembers[topic]; ok {
		delete(set, n)
		if len(set) == 0 {
			delete(s.topicMembers, topic)
		}
	}
}

// HasNode reports whether n is a known node.
func (s *State) HasNode(n id.NodeId) bool {
	_, ok := s.nodes[n]
	return ok
}

// NodeCount returns the number of known nodes.
func (s *State) NodeCount() int { return len(s.nodes) }

// ExplicitEdge is one (target, kind) entry in a node's outgoing explicit
// edge list, as returned by ExplicitEdges.
type ExplicitEdge struct {
	Target id.NodeId
	Kind   ExplicitKind
}

// ExplicitEdges returns the ordered (target, kind) list for source, in
// insertion order. The returned slice must not be mutated by the caller.
func (s *State) ExplicitEdges(source id.NodeId) []ExplicitEdge {
	edges := s.explicitEdges[source]
	out := make([]ExplicitEdge, len(edges))
	for i, e := range edges {
		out[i] = ExplicitEdge{Target: e.Target, Kind: e.Kind}
	}
	return out
}

// TopicEdges returns the topics that source has an outgoing edge toward, in
// ascending TopicId order.
func (s *State) TopicEdges(source id.NodeId) []id.TopicId {
	set := s.topicEdges[source]
	return sortedTopics(set)
}

// TopicMembers returns the members of topic, in ascending NodeId order.
func (s *State) TopicMembers(topic id.TopicId) []id.NodeId {
	set := s.topicMembers[topic]
	return sortedNodes(set)
}

// TopicEdgeSources returns every node with an outgoing edge toward topic.
func (s *State) TopicEdgeSources(topic id.TopicId) []id.NodeId {
	set := s.topicEdgeSources[topic]
	return sortedNodes(set)
}

func sortedNodes(set map[id.NodeId]struct{}) []id.NodeId {
	out := make([]id.NodeId, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

func sortedTopics(set map[id.TopicId]struct{}) []id.TopicId {
	out := make([]id.TopicId, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// CheckInvariants verifies the invariants that property tests pin down (see
// Testable Properties): the topic-edge reverse index mirrors topic_edges
// exactly, every node referenced anywhere is present in nodes, and no
// source's explicit edge list names the same target twice. It returns an
// InvariantViolation error on the first mismatch found; callers treat that
// as fatal.
func (s *State) CheckInvariants() error {
	for source, topics := range s.topicEdges {
		if !s.HasNode(source) {
			return atlaserrors.NewInvariantViolation("topic edge source not in nodes", "source", source.String())
		}
		for topic := range topics {
			if _, ok := s.topicEdgeSources[topic][source]; !ok {
				return atlaserrors.NewInvariantViolation("topic_edge_sources missing mirror entry", "source", source.String(), "topic", topic.String())
			}
		}
	}
	for topic, sources := range s.topicEdgeSources {
		for source := range sources {
			if _, ok := s.topicEdges[source][topic]; !ok {
				return atlaserrors.NewInvariantViolation("topic_edges missing mirror entry", "source", source.String(), "topic", topic.String())
			}
		}
	}
	for source, edges := range s.explicitEdges {
		if !s.HasNode(source) {
			return atlaserrors.NewInvariantViolation("explicit edge source not in nodes", "source", source.String())
		}
		seen := make(map[id.NodeId]struct{}, len(edges))
		for _, e := range edges {
			if !s.HasNode(e.Target) {
				return atlaserrors.NewInvariantViolation("explicit edge target not in nodes", "target", e.Target.String())
			}
			if _, dup := seen[e.Target]; dup {
				return atlaserrors.NewInvariantViolation("duplicate explicit edge target", "source", source.String(), "target", e.Target.String())
			}
			seen[e.Target] = struct{}{}
		}
	}
	for topic, members := range s.topicMembers {
		for member := range members {
			if !s.HasNode(member) {
				return atlaserrors.NewInvariantViolation("topic member not in nodes", "topic", topic.String(), "member", member.String())
			}
		}
	}
	return nil
}
