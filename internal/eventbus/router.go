// Komunikator - Real-time Direct Messaging Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/komunikator

package eventbus

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
)

// RouterConfig tunes the Watermill router.
type RouterConfig struct {
	CloseTimeout         time.Duration
	RetryMaxRetries      int
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
}

// DefaultRouterConfig returns the production router settings.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		CloseTimeout:         10 * time.Second,
		RetryMaxRetries:      3,
		RetryInitialInterval: 100 * time.Millisecond,
		RetryMaxInterval:     2 * time.Second,
	}
}

// Router dispatches bus events to consumer handlers with panic recovery
// and retry.
type Router struct {
	router *message.Router
	bus    *Bus
}

// NewRouter creates a router reading from bus.
func NewRouter(bus *Bus, cfg RouterConfig) (*Router, error) {
	wmRouter, err := message.NewRouter(message.RouterConfig{CloseTimeout: cfg.CloseTimeout}, bus.Logger())
	if err != nil {
		return nil, fmt.Errorf("create watermill router: %w", err)
	}

	wmRouter.AddMiddleware(
		middleware.Recoverer,
		middleware.Retry{
			MaxRetries:      cfg.RetryMaxRetries,
			InitialInterval: cfg.RetryInitialInterval,
			MaxInterval:     cfg.RetryMaxInterval,
			Multiplier:      2,
			Logger:          bus.Logger(),
		}.Middleware,
	)

	return &Router{router: wmRouter, bus: bus}, nil
}

// Handle registers fn for events of type t.
func (r *Router) Handle(name string, t EventType, fn func(ctx context.Context, ev *Event) error) {
	r.router.AddConsumerHandler(name, r.bus.Topic(t), r.bus.Subscriber(), func(msg *message.Message) error {
		ev, err := DeserializeEvent(msg.Payload)
		if err != nil {
			// malformed payloads are dropped, retrying cannot fix them
			r.bus.Logger().Error("Dropping malformed event", err, nil)
			return nil
		}
		return fn(msg.Context(), ev)
	})
}

// Run blocks until ctx is cancelled or Close is called.
func (r *Router) Run(ctx context.Context) error {
	return r.router.Run(ctx)
}

// Running is closed once all handlers are subscribed.
func (r *Router) Running() <-chan struct{} {
	return r.router.Running()
}

// Close stops the router, waiting up to CloseTimeout for handlers.
func (r *Router) Close() error {
	return r.router.Close()
}
