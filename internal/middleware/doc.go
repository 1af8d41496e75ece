// Komunikator - Real-time Direct Messaging Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/komunikator

/*
Package middleware provides HTTP middleware shared by the REST API.

Key Components:

  - RequestID: X-Request-ID propagation plus request and correlation ids in
    the logging context
  - PrometheusMetrics: request counters, latency and in-flight gauge,
    labelled by chi route pattern so path parameters do not explode
    cardinality
  - SlowRequests: warns about requests slower than a threshold

All three use the http.HandlerFunc wrapping form; the api package adapts
them to chi with a one-line shim:

	r.Use(chiMiddleware(middleware.RequestID))
	r.Use(chiMiddleware(middleware.PrometheusMetrics))

The WebSocket endpoint is mounted outside PrometheusMetrics because the
wrapped ResponseWriter does not implement http.Hijacker.
*/
package middleware
