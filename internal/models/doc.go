// Komunikator - Real-time Direct Messaging Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/komunikator

// Package models defines the data shared by every messaging component:
// conversation keys, messages and their delivery states, and the error
// taxonomy surfaced to clients.
//
// A conversation between two users is identified by a ConversationKey built
// from the unordered pair of user ids, so alice->bob and bob->alice map to
// the same ordered log. Within a conversation every accepted message gets a
// SequenceNumber, starting at 1 and increasing by exactly one per message.
//
// Delivery state only moves forward:
//
//	Pending -> Delivered -> Read
//
// Read is final.
package models
