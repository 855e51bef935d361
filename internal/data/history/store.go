package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	_ "modernc.org/sqlite"

	"atlas/internal/atlas/graph"
)

const (
	driverName  = "sqlite"
	maxAttempts = 5
)

// Row is one persisted snapshot as stored on disk.
type Row struct {
	ID       int64
	SavedAt  time.Time
	Cursor   []byte
	LastHash uint64
	HasHash  bool
	State    *graph.State
}

// Store is the SQLite-backed append-only snapshot log.
type Store struct {
	path string
	db   *sql.DB
	mu   sync.Mutex
}

// Open opens (creating if necessary) a snapshot store at path.
func Open(path string) (*Store, error) {
	cleanPath := strings.TrimSpace(path)
	if cleanPath == "" {
		return nil, fmt.Errorf("history path must not be empty")
	}
	if info, err := os.Stat(cleanPath); err == nil && info.IsDir() {
		return nil, fmt.Errorf("history path %q is a directory, expected file", cleanPath)
	}

	dir := filepath.Dir(cleanPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history directory %q: %w", dir, err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(2000)&_pragma=journal_mode(WAL)", cleanPath)
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite history %q: %w", cleanPath, err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite history %q: %w", cleanPath, err)
	}
	if err := ensureSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize sqlite schema %q: %w", cleanPath, err)
	}

	return &Store{path: cleanPath, db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// Save appends a new snapshot row.
func (s *Store) Save(state *graph.State, lastHash uint64, hasHash bool, cursor []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := msgpack.Marshal(state.Export())
	if err != nil {
		return fmt.Errorf("marshal graph snapshot: %w", err)
	}

	return s.withRetry("save snapshot", func() error {
		_, err := s.db.Exec(`
INSERT INTO snapshots (saved_at_utc, cursor, last_hash, has_hash, state)
VALUES (?, COALESCE(?, x''), ?, ?, ?)
`, time.Now().UTC().Format(time.RFC3339Nano), cursor, int64(lastHash), boolToInt(hasHash), raw)
		return err
	})
}

// Latest returns the most recently saved row, or (nil, nil) if none exists.
func (s *Store) Latest() (*Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		row        Row
		savedAtRaw string
		lastHash   int64
		hasHash    int64
		raw        []byte
	)
	err := s.withRetry("load latest snapshot", func() error {
		return s.db.QueryRow(`
SELECT id, saved_at_utc, cursor, last_hash, has_hash, state
FROM snapshots
ORDER BY id DESC
LIMIT 1
`).Scan(&row.ID, &savedAtRaw, &row.Cursor, &lastHash, &hasHash, &raw)
	})
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	ts, err := time.Parse(time.RFC3339Nano, savedAtRaw)
	if err != nil {
		return nil, fmt.Errorf("parse saved_at %q: %w", savedAtRaw, err)
	}
	row.SavedAt = ts.UTC()
	row.LastHash = uint64(lastHash)
	row.HasHash = hasHash != 0

	var snap graph.Snapshot
	if err := msgpack.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("decode graph snapshot id=%d: %w", row.ID, err)
	}
	row.State = graph.Restore(snap)

	return &row, nil
}

// Prune deletes all but the most recent keep rows, bounding disk usage for
// long-running deployments that save on a frequent interval.
func (s *Store) Prune(keep int) error {
	if keep <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withRetry("prune snapshots", func() error {
		_, err := s.db.Exec(`
DELETE FROM snapshots
WHERE id NOT IN (SELECT id FROM snapshots ORDER BY id DESC LIMIT ?)
`, keep)
		return err
	})
}

func (s *Store) withRetry(op string, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := fn()
		if err == nil || err == sql.ErrNoRows {
			return err
		}
		lastErr = err
		if !isLockError(err) || attempt == maxAttempts {
			break
		}
		time.Sleep(time.Duration(attempt*25) * time.Millisecond)
	}
	return fmt.Errorf("%s: %w", op, lastErr)
}

func isLockError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "busy")
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// IsCorruptError reports whether err indicates a corrupted SQLite file.
func IsCorruptError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "malformed") || strings.Contains(msg, "not a database")
}
