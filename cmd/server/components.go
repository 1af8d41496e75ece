// Komunikator - Real-time Direct Messaging Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/komunikator

package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/komunikator/internal/api"
	"github.com/tomtom215/komunikator/internal/config"
	"github.com/tomtom215/komunikator/internal/delivery"
	"github.com/tomtom215/komunikator/internal/eventbus"
	"github.com/tomtom215/komunikator/internal/gateway"
	"github.com/tomtom215/komunikator/internal/identity"
	"github.com/tomtom215/komunikator/internal/logging"
	"github.com/tomtom215/komunikator/internal/sequence"
	"github.com/tomtom215/komunikator/internal/session"
	"github.com/tomtom215/komunikator/internal/store"
	"github.com/tomtom215/komunikator/internal/wal"
)

// openStore opens the configured message store.
func openStore(ctx context.Context, cfg *config.StorageConfig) (store.Store, error) {
	switch cfg.Backend {
	case config.StorageMemory:
		logging.Warn().Msg("Using the in-memory message store, messages are lost on restart")
		return store.NewMemoryStore(), nil
	case config.StorageDuckDB:
		st, err := store.NewDuckDBStore(ctx, store.DuckDBConfig{
			Path:      cfg.Path,
			MaxMemory: cfg.MaxMemory,
			Threads:   cfg.Threads,
		})
		if err != nil {
			return nil, fmt.Errorf("open duckdb store: %w", err)
		}
		logging.Info().Str("path", cfg.Path).Msg("DuckDB message store opened")
		return st, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// initIdentity opens the account directory and builds the identity service.
func initIdentity(cfg *config.Config) (*identity.Service, *identity.BadgerDirectory, error) {
	dir, err := identity.OpenDirectory(identity.DirectoryConfig{
		Path:     cfg.Identity.Path,
		InMemory: cfg.Identity.InMemory,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("open account directory: %w", err)
	}

	tokens, err := identity.NewTokenManager(cfg.Security.JWTSecret, cfg.Security.TokenTTL)
	if err != nil {
		_ = dir.Close()
		return nil, nil, err
	}

	l := cfg.Security.Lockout
	lockout := identity.NewLockoutManager(identity.LockoutConfig{
		Enabled:     l.Enabled,
		MaxAttempts: l.MaxAttempts,
		Duration:    l.Duration,
		MaxDuration: l.MaxDuration,
		Exponential: l.Exponential,
	})

	svc, err := identity.NewService(identity.ServiceConfig{Policy: cfg.Identity.Password}, dir, tokens, lockout)
	if err != nil {
		_ = dir.Close()
		return nil, nil, err
	}
	return svc, dir, nil
}

// eventComponents is the event bus, the optional outbox in front of it and,
// for NATS with an embedded server, the server it talks to.
type eventComponents struct {
	bus    *eventbus.Bus
	server *eventbus.EmbeddedServer
	outbox *wal.BadgerWAL
}

// publisher is what the delivery pipeline publishes lifecycle events to.
func (e *eventComponents) publisher() delivery.Publisher {
	if e.outbox == nil {
		return e.bus
	}
	return wal.NewDurablePublisher(e.outbox, e.bus)
}

// recoverOutbox republishes outbox entries left over from a previous run.
func (e *eventComponents) recoverOutbox(ctx context.Context) {
	if e.outbox == nil || e.outbox.Len() == 0 {
		return
	}
	res, err := e.outbox.RetryPending(ctx, e.bus)
	if err != nil {
		logging.Warn().Err(err).Msg("Outbox recovery interrupted")
		return
	}
	logging.Info().
		Int("published", res.Published).
		Int("failed", res.Failed).
		Int("dropped", res.Dropped).
		Msg("Outbox recovery complete")
}

func (e *eventComponents) close(ctx context.Context) {
	if err := e.bus.Close(); err != nil {
		logging.Warn().Err(err).Msg("Event bus close failed")
	}
	if e.outbox != nil {
		if err := e.outbox.Close(); err != nil {
			logging.Warn().Err(err).Msg("Outbox close failed")
		}
	}
	if e.server != nil && e.server.IsRunning() {
		if err := e.server.Shutdown(ctx); err != nil {
			logging.Warn().Err(err).Msg("Embedded NATS shutdown failed")
		}
	}
}

// initEventBus builds the lifecycle event bus: JetStream when NATS is
// enabled, an in-process channel otherwise.
func initEventBus(ctx context.Context, cfg *config.NATSConfig) (*eventComponents, error) {
	busCfg := eventbus.Config{
		SubjectPrefix: cfg.SubjectPrefix,
		Breaker: eventbus.BreakerConfig{
			FailureThreshold: cfg.BreakerThreshold,
			Timeout:          cfg.BreakerTimeout,
		},
	}

	if !cfg.Enabled {
		logging.Info().Msg("NATS disabled, lifecycle events use an in-process channel")
		return &eventComponents{bus: eventbus.NewGoChannelBus(busCfg)}, nil
	}

	ec := &eventComponents{}
	url := cfg.URL
	if cfg.EmbeddedServer {
		srv, err := eventbus.NewEmbeddedServer(eventbus.ServerConfig{
			Host:     cfg.Host,
			Port:     cfg.Port,
			StoreDir: cfg.StoreDir,
			MaxMem:   cfg.MaxMemory,
			MaxStore: cfg.MaxStore,
		})
		if err != nil {
			return nil, err
		}
		ec.server = srv
		url = srv.ClientURL()
	}

	provisionCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	err := eventbus.ProvisionStream(provisionCtx, url, eventbus.StreamConfig{
		Name:            cfg.StreamName,
		SubjectPrefix:   cfg.SubjectPrefix,
		MaxAge:          cfg.MaxAge,
		DuplicateWindow: cfg.DuplicateWindow,
	})
	if err == nil {
		ec.bus, err = eventbus.NewNATSBus(busCfg, eventbus.NATSConfig{URL: url, StreamName: cfg.StreamName})
	}
	if err != nil {
		if ec.server != nil {
			_ = ec.server.Shutdown(context.Background())
		}
		return nil, err
	}

	logging.Info().Str("url", url).Str("stream", cfg.StreamName).Msg("NATS event bus connected")
	return ec, nil
}

// initOutbox opens the event outbox, or returns nil when it is disabled.
func initOutbox(cfg *config.OutboxConfig) (*wal.BadgerWAL, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	w, err := wal.Open(wal.Config{
		Path:         cfg.Path,
		InMemory:     cfg.InMemory,
		SyncWrites:   cfg.SyncWrites,
		MaxRetries:   cfg.MaxRetries,
		EntryTTL:     cfg.EntryTTL,
		RetryBackoff: cfg.RetryBackoff,
	})
	if err != nil {
		return nil, fmt.Errorf("open outbox: %w", err)
	}
	logging.Info().
		Str("path", cfg.Path).
		Bool("in_memory", cfg.InMemory).
		Int64("pending", w.Len()).
		Msg("Event outbox opened")
	return w, nil
}

// runtimeStats reads the live counters shown by /health.
func runtimeStats(reg *session.Registry, pipeline *delivery.Pipeline, coord *sequence.Coordinator) func() api.RuntimeStats {
	return func() api.RuntimeStats {
		return api.RuntimeStats{
			ActiveSessions:      reg.Count(),
			PendingAcks:         pipeline.PendingAcks(),
			LockedConversations: coord.ActiveKeys(),
			CounterCache:        coord.CacheStats(),
		}
	}
}

func gatewayConfig(cfg *config.Config) gateway.Config {
	m := cfg.Messaging
	return gateway.Config{
		AuthTimeout:     m.AuthTimeout,
		WriteWait:       m.WriteWait,
		PongWait:        m.PongWait,
		MaxFrameBytes:   m.MaxFrameBytes,
		SendQueueSize:   m.SendQueueSize,
		InboundRate:     m.InboundRate,
		InboundBurst:    m.InboundBurst,
		AllowedOrigins:  cfg.Security.WSOrigins,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}
}

func middlewareConfig(cfg *config.SecurityConfig) *api.ChiMiddlewareConfig {
	mw := api.DefaultChiMiddlewareConfig()
	mw.CORSAllowedOrigins = cfg.CORSOrigins
	mw.RateLimitRequests = cfg.RateLimitReqs
	mw.RateLimitWindow = cfg.RateLimitWindow
	mw.RateLimitDisabled = cfg.RateLimitDisabled
	return mw
}

// healthChecks are the readiness dependencies.
func healthChecks(st store.Store, accounts *identity.Service, bus *eventbus.Bus) []api.HealthCheck {
	return []api.HealthCheck{
		{Name: "message_store", Check: st.Ping},
		{Name: "account_directory", Check: func(context.Context) error { return accounts.Ping() }},
		{Name: "event_bus", Check: func(context.Context) error {
			if bus.BreakerState() == "open" {
				return errors.New("publisher circuit breaker open")
			}
			return nil
		}},
	}
}
