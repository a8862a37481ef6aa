// Package config loads the engine's ambient configuration: data file
// location, buffer pool sizing, WAL buffering, lock timeouts and the
// optional checkpoint schedule. Decoded with gopkg.in/yaml.v3, the same
// library the teacher repo uses for its own tool configs
// (cmd/formigo, cmd/migrate).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level engine configuration document.
type Config struct {
	// DataFile is the path to the primary data file; the WAL lives at
	// DataFile + ".wal" (spec §6).
	DataFile string `yaml:"data_file"`

	// BufferPoolFrames is the number of page frames held in memory.
	BufferPoolFrames int `yaml:"buffer_pool_frames"`

	// WALBufferSize bounds each of the WAL's active/flushing buffers, in
	// bytes, before a swap is forced.
	WALBufferSize int `yaml:"wal_buffer_size"`

	// LockTimeout is the deadlock-timeout policy's deadline (spec §4.6).
	LockTimeout time.Duration `yaml:"lock_timeout"`

	// CheckpointCron is an optional robfig/cron/v3 schedule expression for
	// a background BufferPool.FlushAll(Force); empty disables it.
	CheckpointCron string `yaml:"checkpoint_cron"`
}

// Default returns reasonable defaults for tests and small deployments.
func Default() Config {
	return Config{
		DataFile:         "chronos.db",
		BufferPoolFrames: 256,
		WALBufferSize:    64 * 1024,
		LockTimeout:      5 * time.Second,
		CheckpointCron:   "",
	}
}

// Load reads and decodes a YAML config file over Default(): fields absent
// from the file keep their default values.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// WALPath derives the WAL file path from DataFile, per spec §6 ("a sibling
// .wal file").
func (c Config) WALPath() string {
	return c.DataFile + ".wal"
}
