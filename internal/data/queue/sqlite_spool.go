// Package queue provides the buffers behind a DurableSink: a bounded
// in-memory queue of canonical graph emits, and a durable SQLite spool that
// takes the emits the memory queue cannot hold or the inner sink failed to
// accept. The DurableSink's own background worker drains both.
package queue

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	_ "modernc.org/sqlite"

	"atlas/internal/atlas/canonical"
	"atlas/internal/atlas/id"
	"atlas/internal/atlas/tree"
)

const sqliteDriverName = "sqlite"

// SpoolRow is one pending, durably persisted emit awaiting redelivery.
type SpoolRow struct {
	ID       int64
	Graph    *canonical.Graph
	Attempts int
}

// emitPayload is the msgpack wire shape stored per spool row: a flattened
// tree plus the flat reachable set, reassembled into a *tree.Node graph on
// dequeue.
type emitPayload struct {
	Version int
	Root    id.NodeId
	Flat    []id.NodeId
	Tree    wireNode
}

type wireNode struct {
	NodeID   id.NodeId
	KindTag  uint8
	ViaTopic id.TopicId
	Children []wireNode
}

// SQLiteSpool persists pending emits to disk so they survive process
// restarts, independent of the in-memory queue a DurableSink keeps for the
// common case.
type SQLiteSpool struct {
	db *sql.DB
}

// OpenSQLiteSpool opens (creating if necessary) a spool database at path.
func OpenSQLiteSpool(path string) (*SQLiteSpool, error) {
	cleanPath := strings.TrimSpace(path)
	if cleanPath == "" {
		return nil, fmt.Errorf("spool path must not be empty")
	}
	if info, err := os.Stat(cleanPath); err == nil && info.IsDir() {
		return nil, fmt.Errorf("spool path %q is a directory", cleanPath)
	}

	dir := filepath.Dir(cleanPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create spool directory %q: %w", dir, err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", cleanPath)
	db, err := sql.Open(sqliteDriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open spool sqlite %q: %w", cleanPath, err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping spool sqlite %q: %w", cleanPath, err)
	}
	if err := migrateSpoolSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLiteSpool{db: db}, nil
}

// Enqueue persists g for later redelivery.
func (s *SQLiteSpool) Enqueue(g *canonical.Graph) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("spool not initialized")
	}
	raw, err := msgpack.Marshal(toPayload(g))
	if err != nil {
		return fmt.Errorf("marshal emit payload: %w", err)
	}
	now := time.Now().UTC().UnixMilli()
	_, err = s.db.Exec(`
INSERT INTO emit_spool (root, payload, attempts, next_attempt_at, created_at, last_error)
VALUES (?, ?, 0, ?, ?, '')
`, g.Root[:], raw, now, now)
	if err != nil {
		return fmt.Errorf("enqueue spool emit: %w", err)
	}
	return nil
}

// DequeueBatch returns up to maxItems rows whose next retry is due.
func (s *SQLiteSpool) DequeueBatch(ctx context.Context, maxItems int) ([]SpoolRow, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("spool not initialized")
	}
	if maxItems <= 0 {
		maxItems = 1
	}
	now := time.Now().UTC().UnixMilli()
	rows, err := s.db.QueryContext(ctx, `
SELECT id, payload, attempts FROM emit_spool
WHERE next_attempt_at <= ?
ORDER BY id ASC
LIMIT ?
`, now, maxItems)
	if err != nil {
		return nil, fmt.Errorf("dequeue spool batch: %w", err)
	}
	defer rows.Close()

	out := make([]SpoolRow, 0, maxItems)
	for rows.Next() {
		var (
			rowID    int64
			raw      []byte
			attempts int
		)
		if err := rows.Scan(&rowID, &raw, &attempts); err != nil {
			return nil, fmt.Errorf("scan spool row: %w", err)
		}
		var payload emitPayload
		if err := msgpack.Unmarshal(raw, &payload); err != nil {
			return nil, fmt.Errorf("decode spool payload id=%d: %w", rowID, err)
		}
		out = append(out, SpoolRow{ID: rowID, Graph: fromPayload(payload), Attempts: attempts})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate spool rows: %w", err)
	}
	return out, nil
}

// Ack removes successfully redelivered rows.
func (s *SQLiteSpool) Ack(ids []int64) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("spool not initialized")
	}
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin spool ack tx: %w", err)
	}
	stmt, err := tx.Prepare(`DELETE FROM emit_spool WHERE id = ?`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare spool ack: %w", err)
	}
	defer stmt.Close()
	for _, rowID := range ids {
		if _, err := stmt.Exec(rowID); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("ack spool row %d: %w", rowID, err)
		}
	}
	return tx.Commit()
}

// Nack schedules rows for retry at nextAttemptAt, recording lastErr.
func (s *SQLiteSpool) Nack(rows []SpoolRow, nextAttemptAt time.Time, lastErr string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("spool not initialized")
	}
	if len(rows) == 0 {
		return nil
	}
	nextMS := nextAttemptAt.UTC().UnixMilli()
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin spool nack tx: %w", err)
	}
	stmt, err := tx.Prepare(`UPDATE emit_spool SET attempts = ?, next_attempt_at = ?, last_error = ? WHERE id = ?`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare spool nack: %w", err)
	}
	defer stmt.Close()
	for _, row := range rows {
		if _, err := stmt.Exec(row.Attempts+1, nextMS, lastErr, row.ID); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("nack spool row %d: %w", row.ID, err)
		}
	}
	return tx.Commit()
}

// PendingCount reports how many emits are currently spooled.
func (s *SQLiteSpool) PendingCount(ctx context.Context) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("spool not initialized")
	}
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM emit_spool`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count spool rows: %w", err)
	}
	return count, nil
}

func (s *SQLiteSpool) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func toPayload(g *canonical.Graph) emitPayload {
	flat := make([]id.NodeId, 0, len(g.Flat))
	for n := range g.Flat {
		flat = append(flat, n)
	}
	return emitPayload{Version: 1, Root: g.Root, Flat: flat, Tree: toWireNode(g.Tree)}
}

// toWireNode flattens n for storage. A nil tree is stored as a zero-valued
// node, so it comes back from the spool as a childless node with the zero id.
func toWireNode(n *tree.Node) wireNode {
	if n == nil {
		return wireNode{}
	}
	w := wireNode{NodeID: n.NodeID, KindTag: uint8(n.Kind.Tag), ViaTopic: n.Kind.ViaTopic}
	if len(n.Children) > 0 {
		w.Children = make([]wireNode, len(n.Children))
		for i, c := range n.Children {
			w.Children[i] = toWireNode(c)
		}
	}
	return w
}

func fromWireNode(w wireNode) *tree.Node {
	kind := tree.EdgeKind{Tag: tree.EdgeKindTag(w.KindTag), ViaTopic: w.ViaTopic}
	n := &tree.Node{NodeID: w.NodeID, Kind: kind}
	if len(w.Children) > 0 {
		n.Children = make([]*tree.Node, len(w.Children))
		for i, c := range w.Children {
			n.Children[i] = fromWireNode(c)
		}
	}
	return n
}

func fromPayload(p emitPayload) *canonical.Graph {
	flat := make(map[id.NodeId]struct{}, len(p.Flat))
	for _, n := range p.Flat {
		flat[n] = struct{}{}
	}
	return &canonical.Graph{Root: p.Root, Tree: fromWireNode(p.Tree), Flat: flat}
}
