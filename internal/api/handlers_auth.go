// Komunikator - Real-time Direct Messaging Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/komunikator

package api

import (
	"net/http"

	"github.com/tomtom215/komunikator/internal/identity"
)

// Register creates an account.
//
// @Summary Register
// @Tags Auth
// @Accept json
// @Produce json
// @Param body body identity.RegisterRequest true "Account"
// @Success 201 {object} APIResponse{data=identity.User}
// @Failure 400 {object} APIResponse "Validation failed"
// @Failure 409 {object} APIResponse "Username or email taken"
// @Router /auth/register [post]
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var req identity.RegisterRequest
	if err := decodeJSON(w, r, h.maxBodyBytes, &req); err != nil {
		rw.writeServiceError(err)
		return
	}

	user, err := h.accounts.Register(r.Context(), req)
	if err != nil {
		rw.writeServiceError(err)
		return
	}
	rw.Created(user)
}

// Login issues a bearer token.
//
// @Summary Login
// @Tags Auth
// @Accept json
// @Produce json
// @Param body body identity.LoginRequest true "Credentials"
// @Success 200 {object} APIResponse{data=identity.LoginResult}
// @Failure 401 {object} APIResponse "Invalid credentials"
// @Failure 403 {object} APIResponse "Account locked"
// @Router /auth/login [post]
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var req identity.LoginRequest
	if err := decodeJSON(w, r, h.maxBodyBytes, &req); err != nil {
		rw.writeServiceError(err)
		return
	}

	res, err := h.accounts.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		rw.writeServiceError(err)
		return
	}
	rw.Success(res)
}

// Me returns the authenticated account.
//
// @Summary Current user
// @Tags Users
// @Produce json
// @Security BearerAuth
// @Success 200 {object} APIResponse{data=identity.User}
// @Router /users/me [get]
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		rw.Fail(http.StatusUnauthorized, "Authentication required")
		return
	}

	user, err := h.accounts.GetUser(r.Context(), userID)
	if err != nil {
		rw.writeServiceError(err)
		return
	}
	rw.Success(user)
}

// Contacts lists every other account.
//
// @Summary Contacts
// @Tags Users
// @Produce json
// @Security BearerAuth
// @Success 200 {object} APIResponse{data=[]identity.Contact}
// @Router /contacts [get]
func (h *Handler) Contacts(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		rw.Fail(http.StatusUnauthorized, "Authentication required")
		return
	}

	contacts, err := h.accounts.Contacts(r.Context(), userID)
	if err != nil {
		rw.writeServiceError(err)
		return
	}
	if contacts == nil {
		contacts = []identity.Contact{}
	}
	rw.Success(contacts)
}
