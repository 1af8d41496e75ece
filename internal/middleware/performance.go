// Komunikator - Real-time Direct Messaging Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/komunikator

package middleware

import (
	"net/http"
	"time"

	"github.com/tomtom215/komunikator/internal/logging"
)

// DefaultSlowRequestThreshold is used when SlowRequests gets a zero
// threshold.
const DefaultSlowRequestThreshold = time.Second

// SlowRequests logs a warning for requests that take longer than threshold.
func SlowRequests(threshold time.Duration) func(http.HandlerFunc) http.HandlerFunc {
	if threshold <= 0 {
		threshold = DefaultSlowRequestThreshold
	}
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next(w, r)

			if d := time.Since(start); d > threshold {
				logging.Ctx(r.Context()).Warn().
					Str("method", r.Method).
					Str("path", routePattern(r)).
					Int64("duration_ms", d.Milliseconds()).
					Int64("threshold_ms", threshold.Milliseconds()).
					Msg("Slow request detected")
			}
		}
	}
}
