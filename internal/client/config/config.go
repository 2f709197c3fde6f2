// Package config loads and validates the desktop client's TOML
// configuration, following the teacher's default-layer + file-override
// pattern (see internal/config/defaults.go and load.go upstream).
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the top-level client configuration structure.
type Config struct {
	Server ServerConfig `toml:"server"`
	Sync   SyncConfig   `toml:"sync"`
}

// ServerConfig points the client at its sync server.
type ServerConfig struct {
	URL string `toml:"url"`
}

// SyncConfig controls the sync engine's timing and chunking behavior
// (external-interfaces.md §6.5).
type SyncConfig struct {
	Path                string `toml:"path"`
	IntervalSeconds     int    `toml:"interval_seconds"`
	ChunkThreshold      int64  `toml:"chunk_threshold"`
	ChunkSize           int64  `toml:"chunk_size"`
	MinChunkSize        int64  `toml:"min_chunk_size"`
	MaxConcurrentChunks int    `toml:"max_concurrent_chunks"`
	MaxRetryAttempts    int    `toml:"max_retry_attempts"`
	RetryDelayMS        int    `toml:"retry_delay_ms"`
}

// Default values (layer 0), mirroring the teacher's defaults.go constants.
//
// ChunkThreshold is chosen as 5 MiB, the lower end of the range the source
// implementations disagree on (one uses 50 MiB, another 5 MiB) per
// component-design.md §9 open question 1 — a smaller default exercises the
// chunked path more often, which is preferable for a reference
// implementation meant to demonstrate it.
const (
	defaultIntervalSeconds     = 30
	defaultChunkThreshold      = 5 << 20 // 5 MiB
	defaultChunkSize           = 1 << 20 // 1 MiB
	defaultMinChunkSize        = 256 << 10
	defaultMaxConcurrentChunks = 3
	defaultMaxRetryAttempts    = 3
	defaultRetryDelayMS        = 1000
)

// Default returns a Config populated with safe defaults. Server.URL and
// Sync.Path are left empty; callers must supply them (see Validate).
func Default() *Config {
	return &Config{
		Sync: SyncConfig{
			IntervalSeconds:     defaultIntervalSeconds,
			ChunkThreshold:      defaultChunkThreshold,
			ChunkSize:           defaultChunkSize,
			MinChunkSize:        defaultMinChunkSize,
			MaxConcurrentChunks: defaultMaxConcurrentChunks,
			MaxRetryAttempts:    defaultMaxRetryAttempts,
			RetryDelayMS:        defaultRetryDelayMS,
		},
	}
}

// Load reads a TOML config file at path, overlaying it onto Default(). An
// empty path is not an error — the defaults are returned unchanged, but
// Validate will then fail since Server.URL/Sync.Path are required.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("client config: decoding %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks invariants the TOML decode cannot enforce on its own.
func (c *Config) Validate() error {
	if c.Server.URL == "" {
		return fmt.Errorf("client config: server.url must be set")
	}

	if c.Sync.Path == "" {
		return fmt.Errorf("client config: sync.path must be set")
	}

	if c.Sync.IntervalSeconds <= 0 {
		return fmt.Errorf("client config: sync.interval_seconds must be positive")
	}

	if c.Sync.ChunkSize <= 0 {
		return fmt.Errorf("client config: sync.chunk_size must be positive")
	}

	if c.Sync.MaxConcurrentChunks <= 0 {
		return fmt.Errorf("client config: sync.max_concurrent_chunks must be positive")
	}

	return nil
}

// Interval returns the configured reconciliation period as a Duration.
func (s SyncConfig) Interval() time.Duration {
	return time.Duration(s.IntervalSeconds) * time.Second
}

// RetryDelay returns the configured base chunk-retry delay as a Duration.
func (s SyncConfig) RetryDelay() time.Duration {
	return time.Duration(s.RetryDelayMS) * time.Millisecond
}
