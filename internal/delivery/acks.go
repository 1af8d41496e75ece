// Komunikator - Real-time Direct Messaging Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/komunikator

package delivery

import (
	"sync"
	"time"

	"github.com/tomtom215/komunikator/internal/models"
)

type ackKey struct {
	key       models.ConversationKey
	messageID string
}

// waiter is one pushed message awaiting its ack.
type waiter struct {
	ackKey
	receiver models.UserID
	pushedAt time.Time
	acked    chan struct{}
	once     sync.Once
}

func (w *waiter) resolve() {
	w.once.Do(func() { close(w.acked) })
}

// ackTracker indexes outstanding pushes by receiver.
type ackTracker struct {
	mu      sync.Mutex
	pending map[models.UserID]map[ackKey]*waiter
}

func newAckTracker() *ackTracker {
	return &ackTracker{pending: make(map[models.UserID]map[ackKey]*waiter)}
}

// add registers a waiter, replacing any older one for the same message.
func (t *ackTracker) add(receiver models.UserID, key models.ConversationKey, messageID string, now time.Time) *waiter {
	w := &waiter{
		ackKey:   ackKey{key: key, messageID: messageID},
		receiver: receiver,
		pushedAt: now,
		acked:    make(chan struct{}),
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	byKey := t.pending[receiver]
	if byKey == nil {
		byKey = make(map[ackKey]*waiter)
		t.pending[receiver] = byKey
	}
	if old := byKey[w.ackKey]; old != nil {
		old.resolve()
	}
	byKey[w.ackKey] = w
	return w
}

// remove drops w if it is still the registered waiter.
func (t *ackTracker) remove(w *waiter) {
	t.mu.Lock()
	defer t.mu.Unlock()
	byKey := t.pending[w.receiver]
	if byKey[w.ackKey] != w {
		return
	}
	delete(byKey, w.ackKey)
	if len(byKey) == 0 {
		delete(t.pending, w.receiver)
	}
}

// ack resolves and removes the waiter for (receiver, key, messageID).
func (t *ackTracker) ack(receiver models.UserID, key models.ConversationKey, messageID string) bool {
	t.mu.Lock()
	w := t.pending[receiver][ackKey{key: key, messageID: messageID}]
	t.mu.Unlock()
	if w == nil {
		return false
	}
	w.resolve()
	t.remove(w)
	return true
}

// lookup finds the conversation of an outstanding push when the client
// acked by message id alone. ok is false when there is no such push or
// when the id is outstanding in more than one conversation.
func (t *ackTracker) lookup(receiver models.UserID, messageID string) (models.ConversationKey, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var (
		found models.ConversationKey
		n     int
	)
	for k := range t.pending[receiver] {
		if k.messageID == messageID {
			found = k.key
			n++
		}
	}
	return found, n == 1
}

// count returns the number of outstanding pushes.
func (t *ackTracker) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, byKey := range t.pending {
		n += len(byKey)
	}
	return n
}
