// Komunikator - Real-time Direct Messaging Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/komunikator

package services

import (
	"context"
	"time"
)

// PeriodicService calls fn every interval until its context ends. fn
// should return promptly when ctx is cancelled.
type PeriodicService struct {
	name     string
	interval time.Duration
	fn       func(ctx context.Context)
}

// NewPeriodicService creates a ticker-driven service. An interval <= 0
// defaults to one minute.
func NewPeriodicService(name string, interval time.Duration, fn func(ctx context.Context)) *PeriodicService {
	if interval <= 0 {
		interval = time.Minute
	}
	return &PeriodicService{name: name, interval: interval, fn: fn}
}

// Serve implements suture.Service.
func (p *PeriodicService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.fn(ctx)
		}
	}
}

func (p *PeriodicService) String() string { return p.name }
