// Package log provides a Sink that serializes each emitted canonical graph
// to msgpack and writes it to an io.Writer, one framed record per emit —
// the simplest possible downstream collaborator, useful for local
// development and as the inner sink cmd/atlas wraps in a DurableSink.
package log

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"atlas/internal/atlas/canonical"
	"atlas/internal/atlas/id"
	"atlas/internal/atlas/tree"
)

// wireNode mirrors the flattened tree shape used by the durable spool, kept
// local to this package so the sink's wire format evolves independently of
// the outbox's.
type wireNode struct {
	NodeID   id.NodeId
	KindTag  uint8
	ViaTopic id.TopicId
	Children []wireNode
}

type wireGraph struct {
	Version int
	Root    id.NodeId
	Flat    []id.NodeId
	Tree    wireNode
}

// Sink writes length-prefixed msgpack records to w and logs a structured
// summary of each emit via slog.
type Sink struct {
	w  io.Writer
	mu sync.Mutex
}

// New builds a Sink writing framed records to w.
func New(w io.Writer) *Sink {
	return &Sink{w: w}
}

// Emit serializes g and appends it to the underlying writer, preceded by a
// 4-byte big-endian length prefix so a reader can frame records without a
// delimiter that could collide with payload bytes.
func (s *Sink) Emit(ctx context.Context, g *canonical.Graph) error {
	raw, err := msgpack.Marshal(toWireGraph(g))
	if err != nil {
		return fmt.Errorf("marshal canonical graph: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(raw)))
	if _, err := s.w.Write(lenPrefix[:]); err != nil {
		return fmt.Errorf("write length prefix: %w", err)
	}
	if _, err := s.w.Write(raw); err != nil {
		return fmt.Errorf("write canonical graph payload: %w", err)
	}

	slog.Info("canonical graph emitted",
		"root", g.Root.String(),
		"node_count", len(g.Flat),
		"bytes", len(raw),
	)
	return nil
}

func toWireGraph(g *canonical.Graph) wireGraph {
	flat := make([]id.NodeId, 0, len(g.Flat))
	for n := range g.Flat {
		flat = append(flat, n)
	}
	return wireGraph{Version: 1, Root: g.Root, Flat: flat, Tree: toWireNode(g.Tree)}
}

func toWireNode(n *tree.Node) wireNode {
	w := wireNode{NodeID: n.NodeID, KindTag: uint8(n.Kind.Tag), ViaTopic: n.Kind.ViaTopic}
	if len(n.Children) > 0 {
		w.Children = make([]wireNode, len(n.Children))
		for i, c := range n.Children {
			w.Children[i] = toWireNode(c)
		}
	}
	return w
}
