// Komunikator - Real-time Direct Messaging Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/komunikator

package config

import (
	"fmt"
	"time"
)

// Config is the complete server configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Storage   StorageConfig   `koanf:"storage"`
	Identity  IdentityConfig  `koanf:"identity"`
	Messaging MessagingConfig `koanf:"messaging"`
	Security  SecurityConfig  `koanf:"security"`
	NATS      NATSConfig      `koanf:"nats"`
	Outbox    OutboxConfig    `koanf:"outbox"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	IdleTimeout     time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	// Environment is "development" or "production". Production enables the
	// stricter secret and CORS checks in Validate.
	Environment string `koanf:"environment"`
}

// Addr returns host:port for http.Server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Storage backends.
const (
	StorageMemory = "memory"
	StorageDuckDB = "duckdb"
)

// StorageConfig selects and tunes the message store.
type StorageConfig struct {
	// Backend is "memory" or "duckdb".
	Backend string `koanf:"backend"`

	// Path of the DuckDB database file. Empty means an in-memory database.
	Path string `koanf:"path"`

	// MaxMemory and Threads are passed to DuckDB as connection settings.
	MaxMemory string `koanf:"max_memory"`
	Threads   int    `koanf:"threads"`

	// CounterCacheSize bounds the number of conversation sequence counters
	// kept in memory by the coordinator.
	CounterCacheSize int `koanf:"counter_cache_size"`

	// CounterCacheTTL expires idle counters so they are re-read from storage.
	CounterCacheTTL time.Duration `koanf:"counter_cache_ttl"`
}

// IdentityConfig controls the account directory.
type IdentityConfig struct {
	// Path of the Badger directory holding accounts.
	Path string `koanf:"path"`

	// InMemory keeps accounts in memory only (tests, demos).
	InMemory bool `koanf:"in_memory"`

	Password PasswordPolicy `koanf:"password"`
}

// MessagingConfig tunes the delivery pipeline and the connection gateway.
type MessagingConfig struct {
	// AckTimeout bounds how long a pushed message waits for the recipient's
	// ack before it is left Pending for the next sync.
	AckTimeout time.Duration `koanf:"ack_timeout"`

	// AuthTimeout bounds the Authenticating state of a connection that did
	// not present credentials during the upgrade.
	AuthTimeout time.Duration `koanf:"auth_timeout"`

	MaxContentLength int   `koanf:"max_content_length"`
	MaxFrameBytes    int64 `koanf:"max_frame_bytes"`

	// SendQueueSize is the per-connection outbound buffer, in frames.
	SendQueueSize int `koanf:"send_queue_size"`

	// InboundRate and InboundBurst limit frames per second per connection.
	InboundRate  float64 `koanf:"inbound_rate"`
	InboundBurst int     `koanf:"inbound_burst"`

	// SyncPageLimit caps the messages returned by a single sync request.
	SyncPageLimit int `koanf:"sync_page_limit"`

	WriteWait time.Duration `koanf:"write_wait"`
	PongWait  time.Duration `koanf:"pong_wait"`
}

// SecurityConfig holds token, rate limit and lockout settings.
type SecurityConfig struct {
	JWTSecret string        `koanf:"jwt_secret"`
	TokenTTL  time.Duration `koanf:"token_ttl"`

	RateLimitReqs     int           `koanf:"rate_limit_reqs"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`

	CORSOrigins []string `koanf:"cors_origins"`

	// WSOrigins restricts the Origin header accepted on /ws. Empty allows
	// any origin.
	WSOrigins []string `koanf:"ws_origins"`

	// AdminUsers are usernames granted the admin role.
	AdminUsers []string `koanf:"admin_users"`
	// AuthzPolicyPath overrides the built-in Casbin policy.
	AuthzPolicyPath string `koanf:"authz_policy_path"`

	Lockout LockoutConfig `koanf:"lockout"`
}

// LockoutConfig controls failed-login lockout.
type LockoutConfig struct {
	Enabled         bool          `koanf:"enabled"`
	MaxAttempts     int           `koanf:"max_attempts"`
	Duration        time.Duration `koanf:"duration"`
	MaxDuration     time.Duration `koanf:"max_duration"`
	Exponential     bool          `koanf:"exponential"`
	CleanupInterval time.Duration `koanf:"cleanup_interval"`
}

// NATSConfig controls the event bus. When disabled, events travel over an
// in-process channel.
type NATSConfig struct {
	Enabled        bool   `koanf:"enabled"`
	URL            string `koanf:"url"`
	EmbeddedServer bool   `koanf:"embedded_server"`
	Host           string `koanf:"host"`
	Port           int    `koanf:"port"`
	StoreDir       string `koanf:"store_dir"`
	MaxMemory      int64  `koanf:"max_memory"`
	MaxStore       int64  `koanf:"max_store"`

	StreamName      string        `koanf:"stream_name"`
	SubjectPrefix   string        `koanf:"subject_prefix"`
	MaxAge          time.Duration `koanf:"max_age"`
	DuplicateWindow time.Duration `koanf:"duplicate_window"`

	BreakerThreshold uint32        `koanf:"breaker_threshold"`
	BreakerTimeout   time.Duration `koanf:"breaker_timeout"`
}

// OutboxConfig controls the write-ahead log that holds lifecycle events
// until the bus accepts them.
type OutboxConfig struct {
	Enabled       bool          `koanf:"enabled"`
	Path          string        `koanf:"path"`
	InMemory      bool          `koanf:"in_memory"`
	SyncWrites    bool          `koanf:"sync_writes"`
	RetryInterval time.Duration `koanf:"retry_interval"`
	MaxRetries    int           `koanf:"max_retries"`
	EntryTTL      time.Duration `koanf:"entry_ttl"`
	RetryBackoff  time.Duration `koanf:"retry_backoff"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// IsProduction reports whether the production checks apply.
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}
