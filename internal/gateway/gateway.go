// Komunikator - Real-time Direct Messaging Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/komunikator

package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tomtom215/komunikator/internal/delivery"
	"github.com/tomtom215/komunikator/internal/identity"
	"github.com/tomtom215/komunikator/internal/logging"
	"github.com/tomtom215/komunikator/internal/metrics"
	"github.com/tomtom215/komunikator/internal/models"
	"github.com/tomtom215/komunikator/internal/session"
)

// Authenticator resolves credentials to a user.
type Authenticator interface {
	Authenticate(ctx context.Context, creds identity.Credentials) (models.UserID, error)
}

// Messaging is the part of the delivery pipeline the gateway drives.
type Messaging interface {
	Send(ctx context.Context, req delivery.SendRequest) (*models.Message, bool, error)
	Ack(ctx context.Context, userID models.UserID, key models.ConversationKey, messageID string) (*models.Message, error)
	MarkRead(ctx context.Context, userID models.UserID, key models.ConversationKey, messageID string) (*models.Message, error)
	Sync(ctx context.Context, userID models.UserID, key models.ConversationKey, afterSequence uint64, limit int) (*delivery.SyncPage, error)
}

// Config tunes connections.
type Config struct {
	AuthTimeout   time.Duration
	WriteWait     time.Duration
	PongWait      time.Duration
	MaxFrameBytes int64
	SendQueueSize int

	InboundRate  float64
	InboundBurst int

	// AllowedOrigins restricts browser origins. Empty allows any.
	AllowedOrigins []string

	// ShutdownTimeout bounds RunWithContext's drain once ctx is cancelled.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns the standard pump timings.
func DefaultConfig() Config {
	return Config{
		AuthTimeout:     10 * time.Second,
		WriteWait:       10 * time.Second,
		PongWait:        60 * time.Second,
		MaxFrameBytes:   64 * 1024,
		SendQueueSize:   256,
		InboundRate:     20,
		InboundBurst:    40,
		ShutdownTimeout: 10 * time.Second,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.AuthTimeout <= 0 {
		c.AuthTimeout = d.AuthTimeout
	}
	if c.WriteWait <= 0 {
		c.WriteWait = d.WriteWait
	}
	if c.PongWait <= 0 {
		c.PongWait = d.PongWait
	}
	if c.MaxFrameBytes <= 0 {
		c.MaxFrameBytes = d.MaxFrameBytes
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = d.SendQueueSize
	}
	if c.InboundRate <= 0 {
		c.InboundRate = d.InboundRate
	}
	if c.InboundBurst <= 0 {
		c.InboundBurst = d.InboundBurst
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = d.ShutdownTimeout
	}
}

// Gateway upgrades HTTP requests to connections and tracks them until they
// close. It is an http.Handler.
type Gateway struct {
	cfg      Config
	auth     Authenticator
	msgs     Messaging
	registry *session.Registry
	upgrader websocket.Upgrader

	mu     sync.Mutex
	conns  map[*Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

// New creates a gateway.
func New(cfg Config, auth Authenticator, msgs Messaging, registry *session.Registry) *Gateway {
	cfg.applyDefaults()
	g := &Gateway{
		cfg:      cfg,
		auth:     auth,
		msgs:     msgs,
		registry: registry,
		conns:    make(map[*Conn]struct{}),
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		HandshakeTimeout: 10 * time.Second,
		CheckOrigin:      g.checkOrigin,
	}
	return g
}

func (g *Gateway) pingPeriod() time.Duration {
	return (g.cfg.PongWait * 9) / 10
}

// checkOrigin accepts requests without an Origin header, which browsers
// always send, so only non-browser clients skip the allow list.
func (g *Gateway) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(g.cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range g.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	logging.Warn().Str("origin", origin).Msg("WebSocket connection rejected from unauthorized origin")
	return false
}

// tokenFromRequest reads a bearer token from the Authorization header or
// the token query parameter.
func tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		const prefix = "bearer "
		if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
			return strings.TrimSpace(h[len(prefix):])
		}
	}
	return r.URL.Query().Get("token")
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	closed := g.closed
	g.mu.Unlock()
	if closed {
		metrics.GatewayConnections.WithLabelValues("rejected").Inc()
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}

	token := tokenFromRequest(r)
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		metrics.GatewayConnections.WithLabelValues("upgrade_failed").Inc()
		logging.Debug().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	c := newConn(g, ws)
	if !g.track(c) {
		metrics.GatewayConnections.WithLabelValues("rejected").Inc()
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, string(session.CloseShutdown))
		_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(g.cfg.WriteWait))
		_ = ws.Close()
		return
	}

	go c.writePump()
	c.run(token)
}

func (g *Gateway) track(c *Conn) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return false
	}
	g.conns[c] = struct{}{}
	g.wg.Add(1)
	return true
}

func (g *Gateway) untrack(c *Conn) {
	g.mu.Lock()
	_, ok := g.conns[c]
	delete(g.conns, c)
	g.mu.Unlock()
	if ok {
		g.wg.Done()
	}
}

// Connections returns the number of open connections, authenticated or not.
func (g *Gateway) Connections() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.conns)
}

// Shutdown refuses new connections, closes every open one and waits for
// them to reach Closed or for ctx to expire.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	g.closed = true
	conns := make([]*Conn, 0, len(g.conns))
	for c := range g.conns {
		conns = append(conns, c)
	}
	g.mu.Unlock()

	for _, c := range conns {
		c.Close(session.CloseShutdown)
	}
	logging.Info().Int("connections", len(conns)).Msg("Gateway closing connections")

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("gateway shutdown: %w", ctx.Err())
	}
}

// RunWithContext blocks until ctx is cancelled, then shuts the gateway down.
// It fits suture's Serve signature.
func (g *Gateway) RunWithContext(ctx context.Context) error {
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), g.cfg.ShutdownTimeout)
	defer cancel()
	if err := g.Shutdown(shutdownCtx); err != nil {
		logging.Warn().Err(err).Msg("Gateway shutdown incomplete")
	}
	return ctx.Err()
}
