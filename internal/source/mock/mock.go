// Package mock provides a deterministic ports.Source that synthesizes a
// fixed topology of space-topology events, standing in for a real
// blockchain substream client during local development and tests.
package mock

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/time/rate"

	"atlas/internal/atlas/graph"
	"atlas/internal/atlas/id"
	"atlas/internal/core/ports"
)

// Config controls the shape of the synthesized topology.
type Config struct {
	// NumNodes is the number of distinct nodes created before any edges.
	NumNodes int
	// Deterministic selects the fixed scripted topology (ignoring NumNodes)
	// matching spec scenario S4/S7: N1 root, a topic attachment through T1,
	// and one explicit-edge removal. It has no cycle back-edge.
	Deterministic bool
	// EventsPerSecond, if positive, paces Next to simulate a real
	// substream's delivery rate instead of replaying the script instantly.
	EventsPerSecond float64
}

// DefaultConfig mirrors the original mock substream's defaults: a
// deterministic, reproducible topology replayed with no artificial pacing.
func DefaultConfig() Config {
	return Config{Deterministic: true}
}

// Source replays a fixed, in-memory event script. Next returns events in
// order; Ack is a no-op since there is nothing external to confirm against,
// and Resume moves the read position within the script.
type Source struct {
	script  []graph.Event
	pos     int
	limiter *rate.Limiter
}

// New builds a Source from cfg.
func New(cfg Config) *Source {
	s := &Source{}
	if cfg.Deterministic {
		s.script = deterministicScript()
	} else {
		s.script = generatedScript(cfg.NumNodes)
	}
	if cfg.EventsPerSecond > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.EventsPerSecond), 1)
	}
	return s
}

// RootNodeID returns the root node of the deterministic script, for wiring
// into ports.Config without hardcoding the id elsewhere.
func RootNodeID() id.NodeId { return NodeID(1) }

// NodeID returns the well-known node id for test/demo byte i, matching the
// convention byte 0 = i, all other bytes zero.
func NodeID(i byte) id.NodeId {
	var raw [16]byte
	raw[0] = i
	n, err := id.NodeFromBytes(raw[:])
	if err != nil {
		panic(err) // raw is always 16 bytes; cannot fail
	}
	return n
}

// TopicID returns the well-known topic id for test/demo byte i.
func TopicID(i byte) id.TopicId {
	var raw [16]byte
	raw[0] = i
	t, err := id.TopicFromBytes(raw[:])
	if err != nil {
		panic(err)
	}
	return t
}

// deterministicScript reproduces spec scenario S4 followed by S7's
// invalidation-cascade edit: a topic attachment through T1, then removal of
// the N4->N5 edge inside the attached subtree.
func deterministicScript() []graph.Event {
	n1, n2, n3, n4, n5 := NodeID(1), NodeID(2), NodeID(3), NodeID(4), NodeID(5)
	t1 := TopicID(1)

	return []graph.Event{
		graph.NewNodeCreated(n1, id.NilTopic),
		graph.NewNodeCreated(n2, id.NilTopic),
		graph.NewNodeCreated(n3, t1),
		graph.NewNodeCreated(n4, id.NilTopic),
		graph.NewNodeCreated(n5, id.NilTopic),
		graph.NewExplicitEdgeAdded(n1, n2, graph.Verified),
		graph.NewExplicitEdgeAdded(n1, n3, graph.Verified),
		graph.NewExplicitEdgeAdded(n3, n4, graph.Verified),
		graph.NewExplicitEdgeAdded(n4, n5, graph.Verified),
		graph.NewTopicEdgeAdded(n2, t1),
		// S7: remove an edge inside the attached subtree to exercise
		// invalidation cascade through reverse deps.
		graph.NewExplicitEdgeRemoved(n4, n5),
	}
}

// generatedScript produces a chain of n nodes with sequential Verified
// edges N1->N2->...->Nn, looping back to N1 to exercise cycle-breaking.
func generatedScript(n int) []graph.Event {
	if n <= 0 {
		n = 1
	}
	events := make([]graph.Event, 0, n*2)
	nodes := make([]id.NodeId, n)
	for i := 0; i < n; i++ {
		nodes[i] = NodeID(byte(i + 1))
		events = append(events, graph.NewNodeCreated(nodes[i], id.NilTopic))
	}
	for i := 0; i+1 < n; i++ {
		events = append(events, graph.NewExplicitEdgeAdded(nodes[i], nodes[i+1], graph.Verified))
	}
	if n > 1 {
		events = append(events, graph.NewExplicitEdgeAdded(nodes[n-1], nodes[0], graph.Verified))
	}
	return events
}

// Next returns the next scripted event, or io.EOF once the script is
// exhausted.
func (s *Source) Next(ctx context.Context) (ports.Delivery, error) {
	if s.pos >= len(s.script) {
		return ports.Delivery{}, io.EOF
	}
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return ports.Delivery{}, err
		}
	}
	cursor := encodeCursor(s.pos)
	event := s.script[s.pos]
	s.pos++
	return ports.Delivery{Cursor: cursor, Event: event}, nil
}

// Ack is a no-op: the in-memory script has no external offset to confirm.
func (s *Source) Ack(ctx context.Context, cursor ports.Cursor) error { return nil }

// Resume seeks the script past the delivery that cursor identifies, so the
// next call to Next returns the event after it.
func (s *Source) Resume(ctx context.Context, cursor ports.Cursor) error {
	pos, err := decodeCursor(cursor)
	if err != nil {
		return err
	}
	s.pos = pos + 1
	return nil
}

func encodeCursor(pos int) ports.Cursor {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(pos))
	return ports.Cursor(buf)
}

func decodeCursor(c ports.Cursor) (int, error) {
	if len(c) != 8 {
		return 0, fmt.Errorf("mock source: cursor must be 8 bytes, got %d", len(c))
	}
	return int(binary.BigEndian.Uint64(c)), nil
}
