// Komunikator - Real-time Direct Messaging Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/komunikator

package services

import (
	"context"
	"errors"
)

// GatewayRunner is satisfied by *gateway.Gateway.
type GatewayRunner interface {
	RunWithContext(ctx context.Context) error
}

// GatewayService ties the gateway's lifetime to the supervisor. When the
// context ends every live connection is closed with a shutdown reason.
type GatewayService struct {
	gateway GatewayRunner
	name    string
}

// NewGatewayService wraps gw.
func NewGatewayService(gw GatewayRunner) *GatewayService {
	return &GatewayService{gateway: gw, name: "websocket-gateway"}
}

// Serve implements suture.Service.
func (s *GatewayService) Serve(ctx context.Context) error {
	err := s.gateway.RunWithContext(ctx)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ctx.Err()
	}
	return err
}

func (s *GatewayService) String() string { return s.name }
