// Komunikator - Real-time Direct Messaging Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/komunikator

// Package metrics registers the server's Prometheus collectors on the
// default registry and offers small Record helpers so call sites stay one
// line long. The collectors are exported for tests and dashboards; the
// HTTP handler lives in the api package (promhttp).
package metrics
