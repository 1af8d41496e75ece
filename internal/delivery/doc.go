// Komunikator - Real-time Direct Messaging Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/komunikator

/*
Package delivery routes accepted messages to their recipients.

Send validates the request, checks the recipient exists, and appends the
message under the conversation's next sequence number. The sender gets the
stored message back as soon as the append is durable; delivery to the
recipient happens afterwards and never fails the send:

  - recipient online: the message is pushed on their connection and an ack
    waiter runs in its own goroutine, bounded by the ack timeout
  - recipient offline, push failed, ack timed out, or connection closed:
    the message stays Pending and is returned by the recipient's next sync

Sends are idempotent on (conversation, message id). A retried send returns
the stored message with duplicate=true and is not pushed again.

Acks and read marks are accepted only from the recipient and only move the
delivery state forward. Each change is published on the event bus so the
sender can be told through a receipt.
*/
package delivery
