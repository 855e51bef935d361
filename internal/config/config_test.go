// # internal/config/config_test.go
package config

import (
	"os"
	"testing"

	"github.com/google/uuid"
)

func TestLoad(t *testing.T) {
	root := uuid.New().String()
	content := `
root_node_id = "` + root + `"
hash_seed = 42

[cache]
entry_cap = 10000

[snapshot]
path = "state.db"
interval = "30s"

[sink]
retry_base_delay = "100ms"
retry_max_delay = "10s"
`
	tmpfile, err := os.CreateTemp("", "config*.toml")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tmpfile.Name())

	if _, err := tmpfile.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := tmpfile.Close(); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(tmpfile.Name())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.RootNodeID != root {
		t.Errorf("expected RootNodeID %s, got %s", root, cfg.RootNodeID)
	}
	if cfg.HashSeed != 42 {
		t.Errorf("expected HashSeed 42, got %d", cfg.HashSeed)
	}
	if cfg.Cache.EntryCap != 10000 {
		t.Errorf("expected EntryCap 10000, got %d", cfg.Cache.EntryCap)
	}
	if cfg.Snapshot.Path != "state.db" {
		t.Errorf("expected snapshot path state.db, got %s", cfg.Snapshot.Path)
	}

	nodeID, err := cfg.RootID()
	if err != nil {
		t.Fatalf("RootID failed: %v", err)
	}
	if nodeID.String() != uuid.MustParse(root).String() {
		t.Errorf("RootID round-trip mismatch")
	}
}

func TestLoadDefaults(t *testing.T) {
	content := `root_node_id = "` + uuid.New().String() + `"`
	tmpfile, err := os.CreateTemp("", "config*.toml")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tmpfile.Name())

	tmpfile.Write([]byte(content))
	tmpfile.Close()

	cfg, err := Load(tmpfile.Name())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Snapshot.Path != "atlas.db" {
		t.Errorf("expected default snapshot path atlas.db, got %s", cfg.Snapshot.Path)
	}
	if cfg.Sink.RetryBaseDelay != "500ms" {
		t.Errorf("expected default retry_base_delay 500ms, got %s", cfg.Sink.RetryBaseDelay)
	}
}

func TestLoadError(t *testing.T) {
	_, err := Load("nonexistent.toml")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}

	tmpfile, _ := os.CreateTemp("", "badconfig*.toml")
	defer os.Remove(tmpfile.Name())
	tmpfile.Write([]byte("bad = toml = format"))
	tmpfile.Close()

	_, err = Load(tmpfile.Name())
	if err == nil {
		t.Error("expected error for malformed TOML")
	}
}

func TestRootIDRequiresValue(t *testing.T) {
	cfg := &Config{}
	if _, err := cfg.RootID(); err == nil {
		t.Error("expected error for empty root_node_id")
	}
}
