// Package ports defines the contracts the dispatcher consumes from and
// exposes to its external collaborators: the upstream event source, the
// downstream sink, and snapshot persistence.
package ports

import (
	"context"

	"atlas/internal/atlas/canonical"
	"atlas/internal/atlas/graph"
	"atlas/internal/atlas/id"
)

// Cursor opaquely identifies a position in the source's event stream. The
// core treats it as an opaque token to be acknowledged and persisted, never
// interpreted.
type Cursor []byte

// Reorg signals that the source's event stream has diverged from what was
// previously delivered and that recovery must resume at ResumeCursor. The
// dispatcher pauses event processing until an external recovery
// collaborator resolves this, out of scope for the core itself.
type Reorg struct {
	ResumeCursor Cursor
}

// Delivery pairs one inbound event with the cursor that acknowledges it.
type Delivery struct {
	Cursor Cursor
	Event  graph.Event
	Reorg  *Reorg // non-nil when this delivery is a reorg signal instead of an event
}

// Source is an ordered stream yielding (cursor, event) pairs. Next blocks
// until a delivery is available or ctx is canceled.
type Source interface {
	Next(ctx context.Context) (Delivery, error)
	// Ack confirms that cursor's delivery (and everything before it) has
	// been durably processed and may be dropped from replay.
	Ack(ctx context.Context, cursor Cursor) error
	// Resume tells the source to continue delivery from cursor after a
	// reorg has been resolved by an external recovery collaborator.
	Resume(ctx context.Context, cursor Cursor) error
}

// Sink accepts emitted canonical graphs and durably acknowledges them.
// Structurally equal graphs are emitted only once consecutively; the sink
// itself owns serialization format.
type Sink interface {
	Emit(ctx context.Context, g *canonical.Graph) error
}

// Snapshot is the full persisted state needed to resume processing: graph
// state, the canonical processor's last emitted hash, and the source
// cursor as of that state.
type Snapshot struct {
	State    *graph.State
	LastHash uint64
	HasHash  bool
	Cursor   Cursor
}

// Persistence loads the most recent snapshot at startup and saves new ones
// on a schedule owned by an external caller, not the dispatcher itself.
type Persistence interface {
	LoadSnapshot(ctx context.Context) (*Snapshot, error)
	SaveSnapshot(ctx context.Context, snap Snapshot) error
}

// Config captures the recognized configuration options: the immutable
// canonical-graph root, an optional hash seed, and an optional cache entry
// cap.
type Config struct {
	RootNodeID    id.NodeId
	HashSeed      uint64 // 0 means use the fixed default seed
	CacheEntryCap int    // <= 0 means unbounded
}
