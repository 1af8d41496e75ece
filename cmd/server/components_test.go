// Komunikator - Real-time Direct Messaging Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/komunikator

package main

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/tomtom215/komunikator/internal/config"
	"github.com/tomtom215/komunikator/internal/logging"
	"github.com/tomtom215/komunikator/internal/store"
	"github.com/tomtom215/komunikator/internal/wal"
)

func init() {
	logging.SetOutput(io.Discard)
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()

	st, err := openStore(ctx, &config.StorageConfig{Backend: config.StorageMemory})
	if err != nil {
		t.Fatalf("memory: %v", err)
	}
	if _, ok := st.(*store.MemoryStore); !ok {
		t.Errorf("memory backend returned %T", st)
	}
	_ = st.Close()

	st, err = openStore(ctx, &config.StorageConfig{Backend: config.StorageDuckDB})
	if err != nil {
		t.Fatalf("duckdb in-memory: %v", err)
	}
	if err := st.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}
	_ = st.Close()

	if _, err := openStore(ctx, &config.StorageConfig{Backend: "sqlite"}); err == nil {
		t.Error("unknown backend accepted")
	}
}

func TestInitIdentity(t *testing.T) {
	cfg := config.Default()
	cfg.Identity.InMemory = true

	if _, _, err := initIdentity(cfg); err == nil {
		t.Fatal("empty JWT secret accepted")
	}

	cfg.Security.JWTSecret = "component-test-secret-with-enough-length"
	svc, dir, err := initIdentity(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer dir.Close()
	if err := svc.Ping(); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestInitEventBus_InProcess(t *testing.T) {
	ec, err := initEventBus(context.Background(), &config.NATSConfig{SubjectPrefix: "test"})
	if err != nil {
		t.Fatal(err)
	}
	if ec.server != nil {
		t.Error("embedded server started with NATS disabled")
	}
	if got := ec.bus.Transport(); got != "gochannel" {
		t.Errorf("Transport() = %q", got)
	}

	st := store.NewMemoryStore()
	for _, c := range healthChecks(st, nil, ec.bus)[0:1] {
		if err := c.Check(context.Background()); err != nil {
			t.Errorf("%s: %v", c.Name, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ec.close(ctx)
}

func TestInitOutbox(t *testing.T) {
	cfg := config.Default().Outbox

	ob, err := initOutbox(&cfg)
	if err != nil || ob != nil {
		t.Fatalf("disabled outbox: %v, %v", ob, err)
	}

	cfg.Enabled = true
	cfg.InMemory = true
	ob, err = initOutbox(&cfg)
	if err != nil {
		t.Fatalf("initOutbox: %v", err)
	}

	ec, err := initEventBus(context.Background(), &config.NATSConfig{SubjectPrefix: "test"})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := ec.publisher().(*wal.DurablePublisher); ok {
		t.Error("publisher without an outbox should be the bus")
	}
	ec.outbox = ob
	if _, ok := ec.publisher().(*wal.DurablePublisher); !ok {
		t.Error("publisher with an outbox should be durable")
	}
	ec.recoverOutbox(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ec.close(ctx)
}

func TestGatewayConfigMapping(t *testing.T) {
	cfg := config.Default()
	cfg.Security.WSOrigins = []string{"https://chat.example.com"}

	gc := gatewayConfig(cfg)
	if gc.SendQueueSize != cfg.Messaging.SendQueueSize || gc.MaxFrameBytes != cfg.Messaging.MaxFrameBytes {
		t.Errorf("messaging settings not mapped: %+v", gc)
	}
	if len(gc.AllowedOrigins) != 1 {
		t.Errorf("AllowedOrigins = %v", gc.AllowedOrigins)
	}

	mw := middlewareConfig(&cfg.Security)
	if mw.RateLimitRequests != cfg.Security.RateLimitReqs {
		t.Errorf("RateLimitRequests = %d", mw.RateLimitRequests)
	}
}
