// Komunikator - Real-time Direct Messaging Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/komunikator

// Package sessiontest provides an in-memory session.Handle for tests.
package sessiontest

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/komunikator/internal/models"
	"github.com/tomtom215/komunikator/internal/session"
)

// Handle records pushes instead of writing to a socket.
type Handle struct {
	id     string
	userID models.UserID
	at     time.Time

	mu       sync.Mutex
	messages []*models.Message
	receipts []models.Receipt
	reason   session.CloseReason

	// PushErr, when set, is returned by every push.
	PushErr error

	pushes   atomic.Int32
	closes   atomic.Int32
	done     chan struct{}
	closeOne sync.Once

	// Pushed receives a copy of every pushed message when non-nil.
	Pushed chan *models.Message
}

// NewHandle creates a live fake connection for userID.
func NewHandle(userID models.UserID) *Handle {
	return &Handle{
		id:     uuid.NewString(),
		userID: userID,
		at:     time.Now().UTC(),
		done:   make(chan struct{}),
	}
}

func (h *Handle) ID() string { return h.id }
func (h *Handle) UserID() models.UserID { return h.userID }
func (h *Handle) ConnectedAt() time.Time { return h.at }
func (h *Handle) Done() <-chan struct{} { return h.done }
func (h *Handle) PushCount() int { return int(h.pushes.Load()) }
func (h *Handle) CloseCount() int { return int(h.closes.Load()) }

func (h *Handle) PushMessage(msg *models.Message) error {
	h.pushes.Add(1)
	if h.PushErr != nil {
		return h.PushErr
	}
	select {
	case <-h.done:
		return session.ErrConnectionClosed
	default:
	}
	h.mu.Lock()
	h.messages = append(h.messages, msg.Clone())
	h.mu.Unlock()
	if h.Pushed != nil {
		h.Pushed <- msg.Clone()
	}
	return nil
}

func (h *Handle) PushReceipt(r models.Receipt) error {
	select {
	case <-h.done:
		return session.ErrConnectionClosed
	default:
	}
	h.mu.Lock()
	h.receipts = append(h.receipts, r)
	h.mu.Unlock()
	return nil
}

func (h *Handle) Close(reason session.CloseReason) {
	h.closes.Add(1)
	h.closeOne.Do(func() {
		h.mu.Lock()
		h.reason = reason
		h.mu.Unlock()
		close(h.done)
	})
}

// Messages returns the pushed messages in push order.
func (h *Handle) Messages() []*models.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*models.Message(nil), h.messages...)
}

// Receipts returns the pushed receipts in push order.
func (h *Handle) Receipts() []models.Receipt {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]models.Receipt(nil), h.receipts...)
}

// Reason returns the first close reason, or "".
func (h *Handle) Reason() session.CloseReason {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reason
}

var _ session.Handle = (*Handle)(nil)
