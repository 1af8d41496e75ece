// Komunikator - Real-time Direct Messaging Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/komunikator

package eventbus

import (
	"context"

	"github.com/tomtom215/komunikator/internal/logging"
	"github.com/tomtom215/komunikator/internal/metrics"
	"github.com/tomtom215/komunikator/internal/models"
	"github.com/tomtom215/komunikator/internal/session"
)

// SessionLookup finds a user's live connection.
type SessionLookup interface {
	Lookup(userID models.UserID) (session.Handle, bool)
}

// ReceiptNotifier tells senders when their messages are delivered or read.
type ReceiptNotifier struct {
	sessions SessionLookup
}

// NewReceiptNotifier creates a notifier pushing through sessions.
func NewReceiptNotifier(sessions SessionLookup) *ReceiptNotifier {
	return &ReceiptNotifier{sessions: sessions}
}

// Register subscribes the notifier on r.
func (n *ReceiptNotifier) Register(r *Router) {
	r.Handle("receipt-notifier-delivered", EventMessageDelivered, n.Handle)
	r.Handle("receipt-notifier-read", EventMessageRead, n.Handle)
}

// Handle pushes a receipt for ev. An offline sender is not an error; they
// see the new state on their next sync.
func (n *ReceiptNotifier) Handle(_ context.Context, ev *Event) error {
	metrics.EventsConsumed.WithLabelValues(string(ev.Type)).Inc()

	h, ok := n.sessions.Lookup(ev.SenderID)
	if !ok {
		return nil
	}
	if err := h.PushReceipt(ev.Receipt()); err != nil {
		logging.Debug().
			Err(err).
			Str("user_id", string(ev.SenderID)).
			Str("message_id", ev.MessageID).
			Msg("Receipt not pushed")
	}
	return nil
}
