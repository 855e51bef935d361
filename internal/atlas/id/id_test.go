package id

import "testing"

func TestNodeFromBytes(t *testing.T) {
	t.Run("accepts exactly 16 bytes", func(t *testing.T) {
		raw := make([]byte, 16)
		raw[0] = 7
		n, err := NodeFromBytes(raw)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if n[0] != 7 {
			t.Fatalf("expected byte 0 = 7, got %d", n[0])
		}
	})

	t.Run("rejects wrong length", func(t *testing.T) {
		if _, err := NodeFromBytes([]byte{1, 2, 3}); err == nil {
			t.Fatal("expected an error for a 3-byte input")
		}
	})
}

func TestTopicFromBytes(t *testing.T) {
	if _, err := TopicFromBytes(make([]byte, 15)); err == nil {
		t.Fatal("expected an error for a 15-byte input")
	}
	raw := make([]byte, 16)
	raw[0] = 9
	topic, err := TopicFromBytes(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if topic[0] != 9 {
		t.Fatalf("expected byte 0 = 9, got %d", topic[0])
	}
}

func TestNodeId_Less(t *testing.T) {
	a, _ := NodeFromBytes(append([]byte{1}, make([]byte, 15)...))
	b, _ := NodeFromBytes(append([]byte{2}, make([]byte, 15)...))
	if !a.Less(b) {
		t.Fatal("expected a < b")
	}
	if b.Less(a) {
		t.Fatal("expected b to not be less than a")
	}
	if a.Less(a) {
		t.Fatal("expected a to not be less than itself")
	}
}

func TestIsNil(t *testing.T) {
	if !NilNode.IsNil() {
		t.Fatal("expected NilNode.IsNil() to be true")
	}
	if !NilTopic.IsNil() {
		t.Fatal("expected NilTopic.IsNil() to be true")
	}
	n := NewNodeId()
	if n.IsNil() {
		t.Fatal("expected a freshly generated NodeId to not be nil")
	}
}

func TestEqualityByByteContent(t *testing.T) {
	raw := make([]byte, 16)
	raw[0], raw[5] = 3, 9
	a, _ := NodeFromBytes(raw)
	b, _ := NodeFromBytes(raw)
	if a != b {
		t.Fatal("expected ids built from identical bytes to compare equal")
	}
}
