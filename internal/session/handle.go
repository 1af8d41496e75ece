// Komunikator - Real-time Direct Messaging Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/komunikator

package session

import (
	"errors"
	"time"

	"github.com/tomtom215/komunikator/internal/models"
)

var (
	// ErrConnectionClosed is returned by Push on a handle that is closing.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrSlowConsumer is returned when the outbound buffer is full. The
	// connection is closed as a side effect.
	ErrSlowConsumer = errors.New("slow consumer")
)

// CloseReason explains why a connection was closed.
type CloseReason string

const (
	CloseClientGone    CloseReason = "client_disconnect"
	CloseEvicted       CloseReason = "evicted"
	CloseAuthFailed    CloseReason = "auth_failed"
	CloseProtocolError CloseReason = "protocol_error"
	CloseSlowConsumer  CloseReason = "slow_consumer"
	CloseShutdown      CloseReason = "server_shutdown"
	CloseRevoked       CloseReason = "revoked"
)

// Handle is a live connection as seen by the messaging core.
type Handle interface {
	// ID is unique per connection, never reused.
	ID() string
	UserID() models.UserID
	ConnectedAt() time.Time

	// PushMessage queues a push frame without blocking.
	PushMessage(msg *models.Message) error

	// PushReceipt queues a receipt frame without blocking.
	PushReceipt(r models.Receipt) error

	// Close starts the Closing state. Safe to call more than once.
	Close(reason CloseReason)

	// Done is closed once the connection reached Closed.
	Done() <-chan struct{}
}

// Session is a snapshot of one registry entry.
type Session struct {
	UserID      models.UserID `json:"user_id"`
	HandleID    string        `json:"connection_id"`
	ConnectedAt time.Time     `json:"connected_at"`
}
