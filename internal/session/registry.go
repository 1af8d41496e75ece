// Komunikator - Real-time Direct Messaging Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/komunikator

package session

import (
	"sort"
	"sync"

	"github.com/tomtom215/komunikator/internal/logging"
	"github.com/tomtom215/komunikator/internal/metrics"
	"github.com/tomtom215/komunikator/internal/models"
)

// Registry maps users to their live connection.
type Registry struct {
	mu       sync.RWMutex
	sessions map[models.UserID]Handle
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[models.UserID]Handle)}
}

// Register maps userID to h and returns the handle it replaced, if any.
// The caller owns closing the returned handle.
func (r *Registry) Register(userID models.UserID, h Handle) Handle {
	r.mu.Lock()
	prev, had := r.sessions[userID]
	r.sessions[userID] = h
	// under the lock so concurrent updates land in order
	metrics.ActiveSessions.Set(float64(len(r.sessions)))
	r.mu.Unlock()

	if !had || prev.ID() == h.ID() {
		return nil
	}
	metrics.SessionsEvicted.Inc()
	logging.Info().
		Str("user_id", string(userID)).
		Str("evicted_conn", prev.ID()).
		Str("conn_id", h.ID()).
		Msg("Session replaced by newer connection")
	return prev
}

// Unregister removes the mapping only if it still points at h. It reports
// whether anything was removed.
func (r *Registry) Unregister(userID models.UserID, h Handle) bool {
	r.mu.Lock()
	cur, ok := r.sessions[userID]
	if !ok || cur.ID() != h.ID() {
		r.mu.Unlock()
		return false
	}
	delete(r.sessions, userID)
	metrics.ActiveSessions.Set(float64(len(r.sessions)))
	r.mu.Unlock()
	return true
}

// Lookup returns the live handle for userID.
func (r *Registry) Lookup(userID models.UserID) (Handle, bool) {
	r.mu.RLock()
	h, ok := r.sessions[userID]
	r.mu.RUnlock()
	return h, ok
}

// IsOnline reports whether userID has a registered session.
func (r *Registry) IsOnline(userID models.UserID) bool {
	_, ok := r.Lookup(userID)
	return ok
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sessions returns a snapshot ordered by user id.
func (r *Registry) Sessions() []Session {
	r.mu.RLock()
	out := make([]Session, 0, len(r.sessions))
	for uid, h := range r.sessions {
		out = append(out, Session{UserID: uid, HandleID: h.ID(), ConnectedAt: h.ConnectedAt()})
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Disconnect closes the live connection of userID, if any. The handle
// unregisters itself once Closed.
func (r *Registry) Disconnect(userID models.UserID, reason CloseReason) bool {
	h, ok := r.Lookup(userID)
	if !ok {
		return false
	}
	h.Close(reason)
	return true
}

// CloseAll closes every registered handle. Handles unregister themselves
// as they reach Closed.
func (r *Registry) CloseAll(reason CloseReason) int {
	r.mu.RLock()
	handles := make([]Handle, 0, len(r.sessions))
	for _, h := range r.sessions {
		handles = append(handles, h)
	}
	r.mu.RUnlock()

	for _, h := range handles {
		h.Close(reason)
	}
	return len(handles)
}
