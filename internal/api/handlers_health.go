// Komunikator - Real-time Direct Messaging Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/komunikator

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/tomtom215/komunikator/internal/cache"
)

const healthCheckTimeout = 2 * time.Second

// HealthStatus is the body of /health and /health/ready.
type HealthStatus struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Uptime  float64           `json:"uptime_seconds"`
	Checks  map[string]string `json:"checks"`
	Runtime *RuntimeStats     `json:"runtime,omitempty"`
}

// RuntimeStats is a snapshot of the messaging core shown by /health.
type RuntimeStats struct {
	ActiveSessions      int         `json:"active_sessions"`
	PendingAcks         int         `json:"pending_acks"`
	LockedConversations int         `json:"locked_conversations"`
	CounterCache        cache.Stats `json:"counter_cache"`
}

// runChecks pings every dependency and reports whether all passed.
func (h *Handler) runChecks(ctx context.Context) (map[string]string, bool) {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	results := make(map[string]string, len(h.checks))
	ok := true
	for _, c := range h.checks {
		if err := c.Check(ctx); err != nil {
			results[c.Name] = err.Error()
			ok = false
			continue
		}
		results[c.Name] = "ok"
	}
	return results, ok
}

// Health reports dependency status. It always answers 200.
//
// @Summary System health
// @Tags Core
// @Produce json
// @Success 200 {object} APIResponse{data=HealthStatus}
// @Router /health [get]
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	checks, ok := h.runChecks(r.Context())
	status := "healthy"
	if !ok {
		status = "degraded"
	}
	body := HealthStatus{
		Status:  status,
		Version: h.version,
		Uptime:  time.Since(h.startTime).Seconds(),
		Checks:  checks,
	}
	if h.runtime != nil {
		rs := h.runtime()
		body.Runtime = &rs
	}
	NewResponseWriter(w, r).Success(body)
}

// HealthLive answers 200 while the process is running.
//
// @Summary Liveness probe
// @Tags Core
// @Produce json
// @Success 200 {object} APIResponse
// @Router /health/live [get]
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(map[string]interface{}{
		"alive":          true,
		"uptime_seconds": time.Since(h.startTime).Seconds(),
	})
}

// HealthReady answers 503 until every dependency check passes.
//
// @Summary Readiness probe
// @Tags Core
// @Produce json
// @Success 200 {object} APIResponse{data=HealthStatus} "Ready"
// @Failure 503 {object} APIResponse "Not ready"
// @Router /health/ready [get]
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	checks, ok := h.runChecks(r.Context())
	if !ok {
		rw.ErrorWithDetails(http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "Service is not ready", checks)
		return
	}
	rw.Success(HealthStatus{
		Status:  "ready",
		Version: h.version,
		Uptime:  time.Since(h.startTime).Seconds(),
		Checks:  checks,
	})
}
