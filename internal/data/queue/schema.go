package queue

import (
	"database/sql"
	"fmt"
)

func migrateSpoolSchema(db *sql.DB) error {
	if db == nil {
		return fmt.Errorf("spool db is nil")
	}
	_, err := db.Exec(`
CREATE TABLE IF NOT EXISTS emit_spool (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  root BLOB NOT NULL,
  payload BLOB NOT NULL,
  attempts INTEGER NOT NULL DEFAULT 0,
  next_attempt_at INTEGER NOT NULL,
  created_at INTEGER NOT NULL,
  last_error TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_emit_spool_next ON emit_spool(next_attempt_at, id);
`)
	if err != nil {
		return fmt.Errorf("migrate emit spool schema: %w", err)
	}
	return nil
}
