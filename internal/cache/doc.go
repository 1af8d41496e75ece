// Komunikator - Real-time Direct Messaging Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/komunikator

// Package cache provides a generic, thread-safe LRU cache with TTL.
//
// The sequence coordinator keeps one counter per active conversation here so
// that a busy conversation does not read its counter from storage on every
// send, while idle conversations age out and the map stays bounded.
//
// All operations are O(1): a map indexes nodes of a doubly-linked list kept
// in recency order, with sentinel head and tail nodes. Expiry is lazy; Get
// drops expired entries and CleanupExpired sweeps the whole list.
package cache
