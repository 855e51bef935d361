package graph

import "atlas/internal/atlas/id"

// ExplicitEdgeRecord is one wire-friendly (source, target, kind) triple.
type ExplicitEdgeRecord struct {
	Source id.NodeId
	Target id.NodeId
	Kind   ExplicitKind
}

// TopicEdgeRecord is one wire-friendly (source, topic) pair.
type TopicEdgeRecord struct {
	Source id.NodeId
	Topic  id.TopicId
}

// TopicMemberRecord is one wire-friendly (topic, member) pair.
type TopicMemberRecord struct {
	Topic  id.TopicId
	Member id.NodeId
}

// Snapshot is a flattened, msgpack-friendly representation of State, used by
// the persistence collaborator to save and restore graph state across
// process restarts. It carries no maps keyed by struct types, since msgpack
// encodes those as sequences of alternating key/value rather than a stable
// object shape.
type Snapshot struct {
	Nodes         []id.NodeId
	ExplicitEdges []ExplicitEdgeRecord
	TopicEdges    []TopicEdgeRecord
	TopicMembers  []TopicMemberRecord
}

// Export flattens State into a Snapshot suitable for serialization. Nodes,
// edge sources, topics and members are listed in ascending id order, and each
// source's explicit edges keep their insertion order, so identical state
// always exports identically.
func (s *State) Export() Snapshot {
	var out Snapshot

	out.Nodes = sortedNodes(s.nodes)

	for _, source := range out.Nodes {
		for _, e := range s.explicitEdges[source] {
			out.ExplicitEdges = append(out.ExplicitEdges, ExplicitEdgeRecord{
				Source: source, Target: e.Target, Kind: e.Kind,
			})
		}
	}

	for _, source := range out.Nodes {
		for _, topic := range s.TopicEdges(source) {
			out.TopicEdges = append(out.TopicEdges, TopicEdgeRecord{Source: source, Topic: topic})
		}
	}

	topics := make(map[id.TopicId]struct{}, len(s.topicMembers))
	for topic := range s.topicMembers {
		topics[topic] = struct{}{}
	}
	for _, topic := range sortedTopics(topics) {
		for _, member := range s.TopicMembers(topic) {
			out.TopicMembers = append(out.TopicMembers, TopicMemberRecord{Topic: topic, Member: member})
		}
	}

	return out
}

// Restore rebuilds a State from a Snapshot produced by Export. Explicit
// edges are replayed in slice order, so each source's edges come back in the
// insertion order Export recorded them in.
func Restore(snap Snapshot) *State {
	s := New()
	for _, n := range snap.Nodes {
		s.ensureNode(n)
	}
	for _, e := range snap.ExplicitEdges {
		s.addExplicitEdge(e.Source, e.Target, e.Kind)
	}
	for _, e := range snap.TopicEdges {
		s.addTopicEdge(e.Source, e.Topic)
	}
	for _, m := range snap.TopicMembers {
		s.addTopicMembership(m.Member, m.Topic)
	}
	return s
}
