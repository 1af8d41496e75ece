// Komunikator - Real-time Direct Messaging Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/komunikator

// Package main is the entry point for the Komunikator server.
//
// Komunikator is a 1:1 direct messaging server. Clients register and log in
// over REST, then hold a WebSocket to /ws for real-time delivery. Messages
// are sequenced per conversation, persisted before they are acknowledged to
// the sender, pushed to an online recipient and kept Pending for the next
// sync otherwise.
//
// # Startup
//
//  1. Configuration (Koanf v2: defaults, config.yaml, environment)
//  2. Message store (memory or DuckDB) and account directory (Badger)
//  3. Event bus (in-process channel, or NATS JetStream with an optional
//     embedded server), the Badger event outbox and the receipt router
//  4. Session registry, sequence coordinator, delivery pipeline
//  5. WebSocket gateway, Casbin authorization for the admin routes and
//     the chi router
//  6. Suture supervisor tree running everything long-lived
//
// # Signal Handling
//
// SIGINT and SIGTERM cancel the tree: the HTTP server drains, every live
// connection is closed with a going-away frame, and then the pipeline,
// stores and bus are closed in that order.
//
// # Example
//
//	export JWT_SECRET=$(openssl rand -base64 48)
//	export STORAGE_BACKEND=duckdb
//	export DUCKDB_PATH=/data/messages.duckdb
//	export ACCOUNTS_PATH=/data/accounts
//	./komunikator
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/komunikator/internal/api"
	"github.com/tomtom215/komunikator/internal/authz"
	"github.com/tomtom215/komunikator/internal/config"
	"github.com/tomtom215/komunikator/internal/delivery"
	"github.com/tomtom215/komunikator/internal/eventbus"
	"github.com/tomtom215/komunikator/internal/gateway"
	"github.com/tomtom215/komunikator/internal/logging"
	"github.com/tomtom215/komunikator/internal/sequence"
	"github.com/tomtom215/komunikator/internal/session"
	"github.com/tomtom215/komunikator/internal/supervisor"
	"github.com/tomtom215/komunikator/internal/supervisor/services"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

//nolint:gocyclo // sequential wiring
func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().
		Str("version", version).
		Str("environment", cfg.Server.Environment).
		Str("storage", cfg.Storage.Backend).
		Bool("nats", cfg.NATS.Enabled).
		Msg("Starting Komunikator")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := openStore(ctx, &cfg.Storage)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open message store")
	}

	accounts, dir, err := initIdentity(cfg)
	if err != nil {
		_ = st.Close()
		logging.Fatal().Err(err).Msg("Failed to initialize identity")
	}

	events, err := initEventBus(ctx, &cfg.NATS)
	if err != nil {
		_ = dir.Close()
		_ = st.Close()
		logging.Fatal().Err(err).Msg("Failed to initialize event bus")
	}
	if events.outbox, err = initOutbox(&cfg.Outbox); err != nil {
		events.close(ctx)
		_ = dir.Close()
		_ = st.Close()
		logging.Fatal().Err(err).Msg("Failed to open event outbox")
	}
	events.recoverOutbox(ctx)

	registry := session.NewRegistry()
	coord := sequence.NewCoordinator(st, sequence.Config{
		CacheSize: cfg.Storage.CounterCacheSize,
		CacheTTL:  cfg.Storage.CounterCacheTTL,
	})
	pipeline := delivery.New(delivery.Config{
		AckTimeout:       cfg.Messaging.AckTimeout,
		MaxContentLength: cfg.Messaging.MaxContentLength,
		SyncPageLimit:    cfg.Messaging.SyncPageLimit,
	}, st, coord, registry, accounts, events.publisher())

	eventRouter, err := eventbus.NewRouter(events.bus, eventbus.DefaultRouterConfig())
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create event router")
	}
	eventbus.NewReceiptNotifier(registry).Register(eventRouter)

	gw := gateway.New(gatewayConfig(cfg), accounts, pipeline, registry)

	enforcer, err := authz.NewEnforcer(authz.EnforcerConfig{PolicyPath: cfg.Security.AuthzPolicyPath})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load authorization policy")
	}
	az := authz.NewService(authz.Config{AdminUsers: cfg.Security.AdminUsers}, enforcer, accounts)

	handler := api.NewHandler(api.HandlerConfig{
		Version:      version,
		HealthChecks: healthChecks(st, accounts, events.bus),
		Sessions:     registry,
		Runtime:      runtimeStats(registry, pipeline, coord),
	}, accounts, pipeline)
	router := api.NewRouter(handler, accounts, gw, api.NewChiMiddleware(middlewareConfig(&cfg.Security))).
		WithAuthorizer(az)

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router.Setup(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}

	if events.server != nil {
		tree.MustAdd(supervisor.LayerStorage, services.NewEmbeddedNATSService(events.server, cfg.Server.ShutdownTimeout))
	}
	if cfg.Security.Lockout.Enabled {
		lockout := accounts.Lockout()
		tree.MustAdd(supervisor.LayerStorage, services.NewPeriodicService("lockout-sweeper", cfg.Security.Lockout.CleanupInterval,
			func(ctx context.Context) {
				if n := lockout.Cleanup(ctx); n > 0 {
					logging.Debug().Int("removed", n).Msg("Expired lockout entries removed")
				}
			}))
	}
	if events.outbox != nil {
		outbox := events.outbox
		tree.MustAdd(supervisor.LayerMessaging, services.NewPeriodicService("outbox-retry", cfg.Outbox.RetryInterval,
			func(ctx context.Context) {
				if _, err := outbox.RetryPending(ctx, events.bus); err != nil && ctx.Err() == nil {
					logging.Warn().Err(err).Msg("Outbox retry pass failed")
				}
				if err := outbox.Compact(ctx); err != nil && ctx.Err() == nil {
					logging.Warn().Err(err).Msg("Outbox compaction failed")
				}
			}))
	}
	tree.MustAdd(supervisor.LayerMessaging, services.NewEventRouterService(eventRouter))
	tree.MustAdd(supervisor.LayerMessaging, services.NewGatewayService(gw))
	tree.MustAdd(supervisor.LayerAPI, services.NewHTTPServerService(server, server.Addr, cfg.Server.ShutdownTimeout))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Str("addr", server.Addr).Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
		cancel()
	}
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	shutdown(cfg.Server.ShutdownTimeout, pipeline, coord, events, st, dir)
	logging.Info().Msg("Komunikator stopped")
}

type closer interface{ Close() error }

type ctxCloser interface {
	Close(ctx context.Context) error
}

// shutdown releases what the tree does not own. The pipeline goes first so
// no message is accepted after its counter or store is gone.
func shutdown(timeout time.Duration, pipeline, coord ctxCloser, events *eventComponents, st, dir closer) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := pipeline.Close(ctx); err != nil {
		logging.Warn().Err(err).Msg("Delivery pipeline did not drain")
	}
	if err := coord.Close(ctx); err != nil {
		logging.Warn().Err(err).Msg("Sequence coordinator close failed")
	}
	events.close(ctx)
	if err := st.Close(); err != nil {
		logging.Error().Err(err).Msg("Error closing message store")
	}
	if err := dir.Close(); err != nil {
		logging.Error().Err(err).Msg("Error closing account directory")
	}
}
