package log

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"

	"github.com/vmihailenco/msgpack/v5"

	"atlas/internal/atlas/canonical"
	"atlas/internal/atlas/id"
	"atlas/internal/atlas/tree"
)

func TestSink_EmitWritesFramedMsgpackRecord(t *testing.T) {
	var buf bytes.Buffer
	sink := New(&buf)

	root := id.NewNodeId()
	g := &canonical.Graph{
		Root: root,
		Tree: tree.New(root, tree.RootEdge()),
		Flat: map[id.NodeId]struct{}{root: {}},
	}

	if err := sink.Emit(context.Background(), g); err != nil {
		t.Fatalf("emit: %v", err)
	}

	if buf.Len() < 4 {
		t.Fatalf("expected at least a length prefix, got %d bytes", buf.Len())
	}
	n := binary.BigEndian.Uint32(buf.Bytes()[:4])
	payload := buf.Bytes()[4 : 4+n]

	var decoded wireGraph
	if err := msgpack.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Root != root {
		t.Fatalf("expected root to round-trip, got %v", decoded.Root)
	}
	if decoded.Tree.NodeID != root {
		t.Fatalf("expected tree root to round-trip, got %v", decoded.Tree.NodeID)
	}
}

func TestSink_EmitWritesMultipleRecordsSequentially(t *testing.T) {
	var buf bytes.Buffer
	sink := New(&buf)

	for i := 0; i < 3; i++ {
		root := id.NewNodeId()
		g := &canonical.Graph{
			Root: root,
			Tree: tree.New(root, tree.RootEdge()),
			Flat: map[id.NodeId]struct{}{root: {}},
		}
		if err := sink.Emit(context.Background(), g); err != nil {
			t.Fatalf("emit %d: %v", i, err)
		}
	}

	data := buf.Bytes()
	var offset, records int
	for offset < len(data) {
		n := binary.BigEndian.Uint32(data[offset : offset+4])
		offset += 4 + int(n)
		records++
	}
	if records != 3 {
		t.Fatalf("expected 3 framed records, got %d", records)
	}
}
