// Komunikator - Real-time Direct Messaging Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/komunikator

package config

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// MinJWTSecretLength is the shortest HS256 secret accepted.
const MinJWTSecretLength = 32

var placeholderSecrets = []string{"changeme", "replace_me", "your-secret", "secret"}

// Validate checks the configuration for values the server cannot run with.
func (c *Config) Validate() error {
	checks := []func() error{
		c.validateServer,
		c.validateStorage,
		c.validateIdentity,
		c.validateMessaging,
		c.validateSecurity,
		c.validateNATS,
		c.validateOutbox,
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return invalid("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	switch c.Server.Environment {
	case "development", "production":
	default:
		return invalid("server.environment must be development or production, got %q", c.Server.Environment)
	}
	return nil
}

func (c *Config) validateStorage() error {
	switch c.Storage.Backend {
	case StorageMemory, StorageDuckDB:
	default:
		return invalid("storage.backend must be %q or %q, got %q", StorageMemory, StorageDuckDB, c.Storage.Backend)
	}
	if c.Storage.Threads < 0 {
		return invalid("storage.threads must not be negative")
	}
	if c.Storage.CounterCacheSize <= 0 {
		return invalid("storage.counter_cache_size must be positive")
	}
	return nil
}

func (c *Config) validateIdentity() error {
	if !c.Identity.InMemory && c.Identity.Path == "" {
		return invalid("identity.path is required unless identity.in_memory is set")
	}
	if c.Identity.Password.MinLength < 1 {
		return invalid("identity.password.min_length must be at least 1")
	}
	return nil
}

func (c *Config) validateMessaging() error {
	m := c.Messaging
	if m.AckTimeout <= 0 {
		return invalid("messaging.ack_timeout must be positive")
	}
	if m.AuthTimeout <= 0 {
		return invalid("messaging.auth_timeout must be positive")
	}
	if m.MaxContentLength <= 0 {
		return invalid("messaging.max_content_length must be positive")
	}
	if m.MaxFrameBytes < int64(m.MaxContentLength) {
		return invalid("messaging.max_frame_bytes (%d) must be at least max_content_length (%d)", m.MaxFrameBytes, m.MaxContentLength)
	}
	if m.SendQueueSize <= 0 {
		return invalid("messaging.send_queue_size must be positive")
	}
	if m.InboundRate <= 0 || m.InboundBurst <= 0 {
		return invalid("messaging.inbound_rate and inbound_burst must be positive")
	}
	if m.SyncPageLimit <= 0 {
		return invalid("messaging.sync_page_limit must be positive")
	}
	if m.PongWait <= m.WriteWait {
		return invalid("messaging.pong_wait must exceed write_wait")
	}
	return nil
}

func (c *Config) validateSecurity() error {
	s := c.Security
	if len(s.JWTSecret) < MinJWTSecretLength {
		return invalid("security.jwt_secret must be at least %d characters (set JWT_SECRET)", MinJWTSecretLength)
	}
	lower := strings.ToLower(s.JWTSecret)
	for _, p := range placeholderSecrets {
		if strings.Contains(lower, p) && c.IsProduction() {
			return invalid("security.jwt_secret looks like a placeholder")
		}
	}
	if s.TokenTTL <= 0 {
		return invalid("security.token_ttl must be positive")
	}
	if !s.RateLimitDisabled && (s.RateLimitReqs <= 0 || s.RateLimitWindow <= 0) {
		return invalid("security.rate_limit_reqs and rate_limit_window must be positive")
	}
	if c.IsProduction() && c.hasWildcardCORS() {
		return invalid("security.cors_origins must not contain * in production")
	}
	if s.Lockout.Enabled {
		if s.Lockout.MaxAttempts <= 0 || s.Lockout.Duration <= 0 {
			return invalid("security.lockout.max_attempts and duration must be positive")
		}
		if s.Lockout.MaxDuration < s.Lockout.Duration {
			return invalid("security.lockout.max_duration must be at least duration")
		}
	}
	return nil
}

func (c *Config) hasWildcardCORS() bool {
	for _, o := range c.Security.CORSOrigins {
		if o == "*" {
			return true
		}
	}
	return false
}

func (c *Config) validateNATS() error {
	n := c.NATS
	if !n.Enabled {
		return nil
	}
	if !n.EmbeddedServer && n.URL == "" {
		return invalid("nats.url is required when the embedded server is disabled")
	}
	if n.EmbeddedServer && n.StoreDir == "" {
		return invalid("nats.store_dir is required for the embedded server")
	}
	if n.StreamName == "" || n.SubjectPrefix == "" {
		return invalid("nats.stream_name and nats.subject_prefix are required")
	}
	if strings.ContainsAny(n.SubjectPrefix, " *>") {
		return invalid("nats.subject_prefix must not contain spaces or wildcards")
	}
	if n.BreakerThreshold == 0 {
		return invalid("nats.breaker_threshold must be positive")
	}
	return nil
}

func (c *Config) validateOutbox() error {
	o := c.Outbox
	if !o.Enabled {
		return nil
	}
	if !o.InMemory && o.Path == "" {
		return invalid("outbox.path is required unless outbox.in_memory is set")
	}
	if o.RetryInterval <= 0 {
		return invalid("outbox.retry_interval must be positive")
	}
	if o.MaxRetries < 1 {
		return invalid("outbox.max_retries must be at least 1")
	}
	if o.RetryBackoff < 0 {
		return invalid("outbox.retry_backoff must not be negative")
	}
	return nil
}
