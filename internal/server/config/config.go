// Package config loads and validates the server's TOML configuration
// (external-interfaces.md §6.5), following the teacher's default-layer +
// file-override pattern.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the top-level server configuration structure.
type Config struct {
	Storage  StorageConfig  `toml:"storage"`
	Chunking ChunkingConfig `toml:"chunking"`
	Security SecurityConfig `toml:"security"`
	Server   ServerConfig   `toml:"server"`
}

// StorageConfig controls the content store and per-file size limits.
type StorageConfig struct {
	BasePath    string `toml:"base_path"`
	MaxFileSize int64  `toml:"max_file_size"`
	ChunkSize   int64  `toml:"chunk_size"`
}

// ChunkingConfig controls the chunk upload session manager (C5).
type ChunkingConfig struct {
	MaxConcurrentSessions int `toml:"max_concurrent_sessions"`
	SessionTimeoutHours   int `toml:"session_timeout_hours"`
}

// SecurityConfig controls the bearer-credential contract (§6's opaque
// credential, made concrete by internal/server/auth's default implementation).
type SecurityConfig struct {
	JWTSecret         string `toml:"jwt_secret"`
	JWTExpirationMins int    `toml:"jwt_expiration_minutes"`
}

// ServerConfig controls the HTTP/WebSocket listener.
type ServerConfig struct {
	ListenAddr string `toml:"listen_addr"`
}

// Default values (layer 0 of the override chain), mirroring the teacher's
// defaults.go constants-then-constructor split.
const (
	defaultMaxFileSize           = 5 << 30 // 5 GiB
	defaultChunkSize             = 5 << 20 // 5 MiB
	defaultMaxConcurrentSessions = 10
	defaultSessionTimeoutHours   = 24
	defaultJWTExpirationMinutes  = 60
	defaultListenAddr            = ":8080"
)

// SessionTimeout returns the configured chunk session expiry as a Duration.
func (c ChunkingConfig) SessionTimeout() time.Duration {
	return time.Duration(c.SessionTimeoutHours) * time.Hour
}

// JWTExpiration returns the configured access-token lifetime as a Duration.
func (c SecurityConfig) JWTExpiration() time.Duration {
	return time.Duration(c.JWTExpirationMins) * time.Minute
}

// Default returns a Config populated with safe defaults. The JWT secret is
// left empty; callers must supply one (see Load's validation).
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			BasePath:    "./data/content",
			MaxFileSize: defaultMaxFileSize,
			ChunkSize:   defaultChunkSize,
		},
		Chunking: ChunkingConfig{
			MaxConcurrentSessions: defaultMaxConcurrentSessions,
			SessionTimeoutHours:   defaultSessionTimeoutHours,
		},
		Security: SecurityConfig{
			JWTExpirationMins: defaultJWTExpirationMinutes,
		},
		Server: ServerConfig{
			ListenAddr: defaultListenAddr,
		},
	}
}

// Load reads a TOML config file at path, overlaying it onto Default().
// An empty path is not an error — the defaults are returned unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: decoding %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks invariants that Load's TOML decode cannot enforce on its own.
func (c *Config) Validate() error {
	if c.Security.JWTSecret == "" {
		return fmt.Errorf("config: security.jwt_secret must be set")
	}

	if c.Chunking.MaxConcurrentSessions <= 0 {
		return fmt.Errorf("config: chunking.max_concurrent_sessions must be positive")
	}

	if c.Storage.ChunkSize <= 0 {
		return fmt.Errorf("config: storage.chunk_size must be positive")
	}

	return nil
}
