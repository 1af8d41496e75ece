// Komunikator - Real-time Direct Messaging Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/komunikator

/*
Package eventbus carries message lifecycle events between the delivery
pipeline and its side consumers.

Three events are published: message.accepted, message.delivered and
message.read. The bus runs on Watermill with one of two transports:

  - gochannel (default): in-process, nothing to operate
  - NATS JetStream via watermill-nats: durable, optionally backed by an
    embedded nats-server started by the process itself

Publishing is best effort. A gobreaker circuit breaker stops hammering a
broker that is down, and publish failures are logged and counted but never
fail the operation that produced the event.

The ReceiptNotifier subscribes to delivered and read events and pushes a
receipt frame to the original sender when they are online.
*/
package eventbus
