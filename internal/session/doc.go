// Komunikator - Real-time Direct Messaging Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/komunikator

// Package session tracks which users hold a live connection.
//
// A user has at most one session. Registering a second connection for the
// same user replaces the first and hands the old Handle back to the caller,
// which must close it. Unregister only removes the mapping if it still
// points at the handle being unregistered, so a slow disconnect of an
// evicted connection can never remove its replacement.
//
// Every operation holds the registry lock for a single map access. Only a
// Handle's immutable accessors are called under the lock.
package session
