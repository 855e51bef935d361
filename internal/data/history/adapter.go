package history

import (
	"context"

	"atlas/internal/core/ports"
	"atlas/internal/shared/observability"
)

// Adapter bridges Store to the dispatcher's ports.Persistence contract.
type Adapter struct {
	store      *Store
	pruneAfter int // keep at most this many rows after each save; 0 disables pruning
}

// NewAdapter builds an Adapter over store. If pruneAfter > 0, Save trims the
// log to the most recent pruneAfter rows.
func NewAdapter(store *Store, pruneAfter int) *Adapter {
	return &Adapter{store: store, pruneAfter: pruneAfter}
}

// LoadSnapshot implements ports.Persistence.
func (a *Adapter) LoadSnapshot(ctx context.Context) (*ports.Snapshot, error) {
	row, err := a.store.Latest()
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, nil
	}
	return &ports.Snapshot{
		State:    row.State,
		LastHash: row.LastHash,
		HasHash:  row.HasHash,
		Cursor:   ports.Cursor(row.Cursor),
	}, nil
}

// SaveSnapshot implements ports.Persistence.
func (a *Adapter) SaveSnapshot(ctx context.Context, snap ports.Snapshot) error {
	if err := a.store.Save(snap.State, snap.LastHash, snap.HasHash, snap.Cursor); err != nil {
		return err
	}
	observability.SnapshotSaveTotal.Inc()
	if a.pruneAfter > 0 {
		return a.store.Prune(a.pruneAfter)
	}
	return nil
}
