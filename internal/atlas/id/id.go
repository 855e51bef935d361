// Package id defines the opaque 16-byte identifiers used throughout the
// topology graph: NodeId for spaces and TopicId for topic groups.
package id

import (
	"fmt"

	"github.com/google/uuid"
)

// NodeId is an opaque 16-byte identifier for a topology node (a "space").
// Equality and hashing are by exact byte content; there is no ordering
// semantics beyond the unsigned lexicographic tie-break used by traversals.
type NodeId [16]byte

// TopicId is an opaque 16-byte identifier for a topic group.
type TopicId [16]byte

// NilNode and NilTopic are the zero-valued ids, used as sentinels where "no
// node" or "no topic" is meant.
var (
	NilNode  NodeId
	NilTopic TopicId
)

// NewNodeId generates a random v4-UUID-backed NodeId.
func NewNodeId() NodeId {
	return NodeId(uuid.New())
}

// NewTopicId generates a random v4-UUID-backed TopicId.
func NewTopicId() TopicId {
	return TopicId(uuid.New())
}

// NodeFromUUID adapts an existing uuid.UUID into a NodeId.
func NodeFromUUID(u uuid.UUID) NodeId {
	return NodeId(u)
}

// TopicFromUUID adapts an existing uuid.UUID into a TopicId.
func TopicFromUUID(u uuid.UUID) TopicId {
	return TopicId(u)
}

// NodeFromBytes builds a NodeId from a slice, rejecting anything but exactly
// 16 bytes. A wrong-length identifier is how malformed events are detected
// at the ingestion boundary.
func NodeFromBytes(b []byte) (NodeId, error) {
	var n NodeId
	if len(b) != len(n) {
		return n, fmt.Errorf("node id must be 16 bytes, got %d", len(b))
	}
	copy(n[:], b)
	return n, nil
}

// TopicFromBytes builds a TopicId from a slice, rejecting anything but
// exactly 16 bytes.
func TopicFromBytes(b []byte) (TopicId, error) {
	var t TopicId
	if len(b) != len(t) {
		return t, fmt.Errorf("topic id must be 16 bytes, got %d", len(b))
	}
	copy(t[:], b)
	return t, nil
}

func (n NodeId) String() string {
	return uuid.UUID(n).String()
}

func (t TopicId) String() string {
	return uuid.UUID(t).String()
}

// Less implements the ascending unsigned lexicographic tie-break used for
// deterministic child ordering in BFS trees.
func (n NodeId) Less(other NodeId) bool {
	for i := range n {
		if n[i] != other[i] {
			return n[i] < other[i]
		}
	}
	return false
}

func (t TopicId) Less(other TopicId) bool {
	for i := range t {
		if t[i] != other[i] {
			return t[i] < other[i]
		}
	}
	return false
}

// IsNil reports whether the id is the all-zero sentinel.
func (n NodeId) IsNil() bool { return n == NilNode }
func (t TopicId) IsNil() bool { return t == NilTopic }
