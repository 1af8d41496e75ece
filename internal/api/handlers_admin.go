// Komunikator - Real-time Direct Messaging Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/komunikator

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/komunikator/internal/logging"
	"github.com/tomtom215/komunikator/internal/models"
	"github.com/tomtom215/komunikator/internal/session"
)

// DisconnectResponse is returned after an operator closes a session.
type DisconnectResponse struct {
	UserID       models.UserID `json:"user_id"`
	Disconnected bool          `json:"disconnected"`
}

// ListSessions godoc
//
// @Summary Live sessions
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} APIResponse{data=[]session.Session}
// @Failure 403 {object} APIResponse
// @Router /admin/sessions [get]
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(h.sessions.Sessions())
}

// DisconnectSession godoc
//
// @Summary Close a user's live connection
// @Description The client receives a policy-violation close frame and may reconnect.
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param userID path string true "User ID"
// @Success 200 {object} APIResponse{data=DisconnectResponse}
// @Failure 404 {object} APIResponse
// @Router /admin/sessions/{userID} [delete]
func (h *Handler) DisconnectSession(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	target := models.UserID(chi.URLParam(r, "userID"))

	if !h.sessions.Disconnect(target, session.CloseRevoked) {
		rw.Fail(http.StatusNotFound, "User has no live session")
		return
	}

	logging.Ctx(r.Context()).Info().
		Str("target_user_id", string(target)).
		Msg("Session disconnected by operator")
	rw.Success(DisconnectResponse{UserID: target, Disconnected: true})
}
