package graph

import "atlas/internal/atlas/id"

// ExplicitKind discriminates the two direct node-to-node edge kinds that
// graph state tracks explicitly.
type ExplicitKind uint8

const (
	Verified ExplicitKind = iota
	Related
)

// Event is a tagged sum of every mutation the dispatcher can apply to graph
// state. Modeling events as an explicit tagged union (rather than
// polymorphic handlers) keeps all state-mutation logic in one switch and
// avoids per-event allocation beyond the event value itself.
type Event struct {
	Kind EventKind

	// NodeCreated
	Node  id.NodeId
	Topic id.TopicId // optional topic announcement; NilTopic means none

	// ExplicitEdgeAdded / ExplicitEdgeRemoved
	Source       id.NodeId
	Target       id.NodeId
	ExplicitKind ExplicitKind

	// TopicEdgeAdded / TopicEdgeRemoved use Source + Topic above.

	// TopicMembershipAdded / TopicMembershipRemoved use Node + Topic above.
}

type EventKind uint8

const (
	NodeCreated EventKind = iota
	ExplicitEdgeAdded
	ExplicitEdgeRemoved
	TopicEdgeAdded
	TopicEdgeRemoved
	TopicMembershipAdded
	TopicMembershipRemoved
)

func NewNodeCreated(n id.NodeId, topic id.TopicId) Event {
	return Event{Kind: NodeCreated, Node: n, Topic: topic}
}

func NewExplicitEdgeAdded(source, target id.NodeId, kind ExplicitKind) Event {
	return Event{Kind: ExplicitEdgeAdded, Source: source, Target: target, ExplicitKind: kind}
}

func NewExplicitEdgeRemoved(source, target id.NodeId) Event {
	return Event{Kind: ExplicitEdgeRemoved, Source: source, Target: target}
}

func NewTopicEdgeAdded(source id.NodeId, topic id.TopicId) Event {
	return Event{Kind: TopicEdgeAdded, Source: source, Topic: topic}
}

func NewTopicEdgeRemoved(source id.NodeId, topic id.TopicId) Event {
	return Event{Kind: TopicEdgeRemoved, Source: source, Topic: topic}
}

func NewTopicMembershipAdded(n id.NodeId, topic id.TopicId) Event {
	return Event{Kind: TopicMembershipAdded, Node: n, Topic: topic}
}

func NewTopicMembershipRemoved(n id.NodeId, topic id.TopicId) Event {
	return Event{Kind: TopicMembershipRemoved, Node: n, Topic: topic}
}
