// Komunikator - Real-time Direct Messaging Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/komunikator

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths are searched in order when CONFIG_PATH is unset.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/komunikator/config.yaml",
	"/etc/komunikator/config.yml",
}

// ConfigPathEnvVar overrides the config file location.
const ConfigPathEnvVar = "CONFIG_PATH"

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			Environment:     "development",
		},
		Storage: StorageConfig{
			Backend:          StorageDuckDB,
			Path:             "/data/komunikator.duckdb",
			MaxMemory:        "512MB",
			Threads:          0,
			CounterCacheSize: 50000,
			CounterCacheTTL:  30 * time.Minute,
		},
		Identity: IdentityConfig{
			Path:     "/data/accounts",
			InMemory: false,
			Password: DefaultPasswordPolicy(),
		},
		Messaging: MessagingConfig{
			AckTimeout:       15 * time.Second,
			AuthTimeout:      10 * time.Second,
			MaxContentLength: 4096,
			MaxFrameBytes:    64 * 1024,
			SendQueueSize:    256,
			InboundRate:      20,
			InboundBurst:     40,
			SyncPageLimit:    500,
			WriteWait:        10 * time.Second,
			PongWait:         60 * time.Second,
		},
		Security: SecurityConfig{
			JWTSecret:       "",
			TokenTTL:        24 * time.Hour,
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
			CORSOrigins:     []string{"*"},
			WSOrigins:       []string{},
			Lockout: LockoutConfig{
				Enabled:         true,
				MaxAttempts:     5,
				Duration:        15 * time.Minute,
				MaxDuration:     24 * time.Hour,
				Exponential:     true,
				CleanupInterval: 5 * time.Minute,
			},
		},
		NATS: NATSConfig{
			Enabled:          false,
			URL:              "nats://127.0.0.1:4222",
			EmbeddedServer:   true,
			Host:             "127.0.0.1",
			Port:             4222,
			StoreDir:         "/data/nats",
			MaxMemory:        256 << 20,
			MaxStore:         4 << 30,
			StreamName:       "MESSAGES",
			SubjectPrefix:    "komunikator",
			MaxAge:           7 * 24 * time.Hour,
			DuplicateWindow:  2 * time.Minute,
			BreakerThreshold: 5,
			BreakerTimeout:   30 * time.Second,
		},
		Outbox: OutboxConfig{
			Enabled:       false,
			Path:          "/data/outbox",
			SyncWrites:    true,
			RetryInterval: 30 * time.Second,
			MaxRetries:    100,
			EntryTTL:      7 * 24 * time.Hour,
			RetryBackoff:  5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Default returns the built-in configuration without reading any file or
// environment variable.
func Default() *Config {
	return defaultConfig()
}

// Load builds the configuration from defaults, an optional YAML file and
// mapped environment variables, then validates it.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	if err := splitSliceFields(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

var sliceConfigPaths = []string{
	"security.cors_origins",
	"security.ws_origins",
	"security.admin_users",
}

// splitSliceFields turns comma separated env values into string slices.
func splitSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		raw, ok := k.Get(path).(string)
		if !ok {
			continue
		}
		parts := make([]string, 0)
		for _, p := range strings.Split(raw, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		if err := k.Set(path, parts); err != nil {
			return fmt.Errorf("set %s: %w", path, err)
		}
	}
	return nil
}

var envMappings = map[string]string{
	"http_host":             "server.host",
	"http_port":             "server.port",
	"http_read_timeout":     "server.read_timeout",
	"http_write_timeout":    "server.write_timeout",
	"http_idle_timeout":     "server.idle_timeout",
	"shutdown_timeout":      "server.shutdown_timeout",
	"environment":           "server.environment",
	"storage_backend":       "storage.backend",
	"duckdb_path":           "storage.path",
	"duckdb_max_memory":     "storage.max_memory",
	"duckdb_threads":        "storage.threads",
	"counter_cache_size":    "storage.counter_cache_size",
	"counter_cache_ttl":     "storage.counter_cache_ttl",
	"accounts_path":         "identity.path",
	"accounts_in_memory":    "identity.in_memory",
	"password_min_length":   "identity.password.min_length",
	"ack_timeout":           "messaging.ack_timeout",
	"auth_timeout":          "messaging.auth_timeout",
	"max_content_length":    "messaging.max_content_length",
	"max_frame_bytes":       "messaging.max_frame_bytes",
	"send_queue_size":       "messaging.send_queue_size",
	"inbound_rate":          "messaging.inbound_rate",
	"inbound_burst":         "messaging.inbound_burst",
	"sync_page_limit":       "messaging.sync_page_limit",
	"jwt_secret":            "security.jwt_secret",
	"token_ttl":             "security.token_ttl",
	"rate_limit_requests":   "security.rate_limit_reqs",
	"rate_limit_window":     "security.rate_limit_window",
	"disable_rate_limit":    "security.rate_limit_disabled",
	"cors_origins":          "security.cors_origins",
	"ws_origins":            "security.ws_origins",
	"admin_users":           "security.admin_users",
	"authz_policy_path":     "security.authz_policy_path",
	"lockout_enabled":       "security.lockout.enabled",
	"lockout_max_attempts":  "security.lockout.max_attempts",
	"lockout_duration":      "security.lockout.duration",
	"nats_enabled":          "nats.enabled",
	"nats_url":              "nats.url",
	"nats_embedded":         "nats.embedded_server",
	"nats_port":             "nats.port",
	"nats_store_dir":        "nats.store_dir",
	"nats_stream":           "nats.stream_name",
	"nats_subject_prefix":   "nats.subject_prefix",
	"nats_breaker_failures": "nats.breaker_threshold",
	"outbox_enabled":        "outbox.enabled",
	"outbox_path":           "outbox.path",
	"outbox_retry_interval": "outbox.retry_interval",
	"outbox_max_retries":    "outbox.max_retries",
	"outbox_retry_backoff":  "outbox.retry_backoff",
	"log_level":             "logging.level",
	"log_format":            "logging.format",
	"log_caller":            "logging.caller",
}

// envTransformFunc maps an environment variable to its koanf path. Unknown
// variables map to "" and are dropped.
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}
