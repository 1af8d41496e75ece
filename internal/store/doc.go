// Komunikator - Real-time Direct Messaging Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/komunikator

// Package store is the durable, per-conversation ordered message log.
//
// Each conversation has a counter (the next sequence number) and an
// append-only list of messages keyed by (conversation key, sequence
// number). Message ids are unique within a conversation: appending an id
// that already exists returns the stored message and reports a duplicate
// instead of failing, which makes client retries safe.
//
// Append does not pick sequence numbers. The caller (the sequence
// coordinator) proposes one and the store only accepts it when it equals the
// conversation's counter, advancing the counter in the same transaction as
// the insert. A proposal that does not match fails with
// ErrSequenceConflict, so the log never has gaps or duplicates even if a
// cached counter goes stale.
//
// Two backends implement Store:
//
//   - MemoryStore keeps everything in maps; used in tests and demos.
//   - DuckDBStore persists to a DuckDB database through database/sql, with
//     a conversations table holding the counter and a messages table with a
//     unique (conversation_key, message_id) constraint.
//
// Backend failures wrap models.ErrStorageUnavailable.
package store
