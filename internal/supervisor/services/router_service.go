// Komunikator - Real-time Direct Messaging Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/komunikator

package services

import (
	"context"
	"fmt"

	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/komunikator/internal/logging"
)

// EventRouter is satisfied by *eventbus.Router.
type EventRouter interface {
	Run(ctx context.Context) error
	Close() error
}

// EventRouterService runs the event router. A Watermill router cannot be
// started twice, so an unexpected exit is reported with
// suture.ErrDoNotRestart instead of looping on restarts.
type EventRouterService struct {
	router EventRouter
	name   string
}

// NewEventRouterService wraps r.
func NewEventRouterService(r EventRouter) *EventRouterService {
	return &EventRouterService{router: r, name: "event-router"}
}

// Serve implements suture.Service.
func (s *EventRouterService) Serve(ctx context.Context) error {
	err := s.router.Run(ctx)
	if ctx.Err() != nil {
		if cerr := s.router.Close(); cerr != nil {
			logging.Warn().Err(cerr).Msg("Event router close failed")
		}
		return ctx.Err()
	}

	logging.Error().Err(err).Msg("Event router stopped unexpectedly, receipts are no longer forwarded")
	if err == nil {
		return suture.ErrDoNotRestart
	}
	return fmt.Errorf("event router: %v: %w", err, suture.ErrDoNotRestart)
}

func (s *EventRouterService) String() string { return s.name }
