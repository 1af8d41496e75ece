// Komunikator - Real-time Direct Messaging Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/komunikator

package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/tomtom215/komunikator/internal/identity"
	"github.com/tomtom215/komunikator/internal/logging"
	"github.com/tomtom215/komunikator/internal/models"
)

type contextKey string

const userIDKey contextKey = "api_user_id"

// Authenticator resolves a bearer token to a user.
type Authenticator interface {
	Authenticate(ctx context.Context, creds identity.Credentials) (models.UserID, error)
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(h[len(prefix):])
}

// RequireAuth rejects requests without a valid bearer token and stores the
// authenticated user id in the request context.
func RequireAuth(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				w.Header().Set("WWW-Authenticate", `Bearer realm="komunikator"`)
				NewResponseWriter(w, r).Fail(http.StatusUnauthorized, "Authorization header with bearer token required")
				return
			}

			userID, err := auth.Authenticate(r.Context(), identity.Credentials{Token: token})
			if err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer realm="komunikator", error="invalid_token"`)
				NewResponseWriter(w, r).writeServiceError(err)
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, userID)
			ctx = logging.ContextWithUserID(ctx, string(userID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserIDFromContext returns the user set by RequireAuth.
func UserIDFromContext(ctx context.Context) (models.UserID, bool) {
	id, ok := ctx.Value(userIDKey).(models.UserID)
	return id, ok && id != ""
}

// Authorizer decides whether a user may act on an operator resource.
type Authorizer interface {
	Authorize(ctx context.Context, id models.UserID, object, action string) (bool, error)
}

// RequirePermission rejects requests whose user is not allowed action on
// object. It must run after RequireAuth.
func RequirePermission(az Authorizer, object, action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rw := NewResponseWriter(w, r)
			userID, ok := UserIDFromContext(r.Context())
			if !ok {
				rw.Fail(http.StatusUnauthorized, "Authentication required")
				return
			}

			allowed, err := az.Authorize(r.Context(), userID, object, action)
			if err != nil {
				logging.Ctx(r.Context()).Error().Err(err).Msg("Authorization error")
				rw.Fail(http.StatusInternalServerError, "Authorization failed")
				return
			}
			if !allowed {
				rw.Error(http.StatusForbidden, ErrCodeForbidden, "Insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
