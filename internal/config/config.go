// # internal/config/config.go
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"

	"atlas/internal/atlas/id"
)

// Config is the recognized process configuration: the designated canonical
// root, an optional hash seed, an optional cache entry cap, plus the
// ambient connection settings for the sink and snapshot collaborators.
type Config struct {
	RootNodeID string   `toml:"root_node_id"`
	HashSeed   uint64   `toml:"hash_seed"`
	Cache      Cache    `toml:"cache"`
	Snapshot   Snapshot `toml:"snapshot"`
	Sink       Sink     `toml:"sink"`
}

type Cache struct {
	EntryCap int `toml:"entry_cap"` // <= 0 means unbounded
}

type Snapshot struct {
	Path     string `toml:"path"`
	Interval string `toml:"interval"` // decoded but not read; cmd/atlas takes the interval from -snapshot-interval
}

type Sink struct {
	RetryBaseDelay string `toml:"retry_base_delay"`
	RetryMaxDelay  string `toml:"retry_max_delay"`
}

// Load reads and decodes a TOML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return nil, err
	}

	if cfg.Snapshot.Path == "" {
		cfg.Snapshot.Path = "atlas.db"
	}
	if cfg.Sink.RetryBaseDelay == "" {
		cfg.Sink.RetryBaseDelay = "500ms"
	}
	if cfg.Sink.RetryMaxDelay == "" {
		cfg.Sink.RetryMaxDelay = "30s"
	}

	return &cfg, nil
}

// RootID parses RootNodeID as a UUID and adapts it into an id.NodeId. The
// root is immutable for a process lifetime, so this is resolved once at
// startup.
func (c *Config) RootID() (id.NodeId, error) {
	if c.RootNodeID == "" {
		return id.NilNode, fmt.Errorf("root_node_id is required")
	}
	u, err := uuid.Parse(c.RootNodeID)
	if err != nil {
		return id.NilNode, fmt.Errorf("parse root_node_id: %w", err)
	}
	return id.NodeFromUUID(u), nil
}
