// Komunikator - Real-time Direct Messaging Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/komunikator

package api

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/tomtom215/komunikator/internal/config"
	"github.com/tomtom215/komunikator/internal/identity"
	"github.com/tomtom215/komunikator/internal/logging"
	"github.com/tomtom215/komunikator/internal/models"
	"github.com/tomtom215/komunikator/internal/validation"
)

// ErrBodyTooLarge is returned by decodeJSON for oversized bodies.
var ErrBodyTooLarge = errors.New("request body too large")

// writeServiceError maps an error from the service layer to the envelope.
func (rw *ResponseWriter) writeServiceError(err error) {
	var (
		verr   *validation.RequestValidationError
		perr   *config.PasswordPolicyError
		locked *identity.LockedError
	)

	switch {
	case errors.As(err, &verr):
		apiErr := verr.ToAPIError()
		rw.ErrorWithDetails(http.StatusBadRequest, ErrCodeValidationFailed, apiErr.Message, apiErr.Details)
	case errors.As(err, &perr):
		rw.ErrorWithDetails(http.StatusBadRequest, ErrCodeValidationFailed, "password does not meet policy",
			map[string]interface{}{"violations": perr.Violations})
	case errors.Is(err, models.ErrValidation):
		rw.Error(http.StatusBadRequest, ErrCodeValidationFailed, err.Error())

	case errors.As(err, &locked):
		rw.w.Header().Set("Retry-After", retryAfterSeconds(locked))
		rw.ErrorWithDetails(http.StatusForbidden, ErrCodeAccountLocked, locked.Error(),
			map[string]interface{}{"retry_after_seconds": math.Ceil(locked.RetryAfter.Seconds())})
	case errors.Is(err, models.ErrAuth):
		rw.Fail(http.StatusUnauthorized, "Invalid or missing credentials")

	case errors.Is(err, models.ErrNotParticipant):
		rw.Error(http.StatusForbidden, ErrCodeForbidden, err.Error())
	case errors.Is(err, models.ErrRecipientUnknown),
		errors.Is(err, models.ErrMessageNotFound),
		errors.Is(err, identity.ErrUserNotFound):
		rw.Fail(http.StatusNotFound, err.Error())
	case errors.Is(err, identity.ErrUserExists),
		errors.Is(err, identity.ErrEmailTaken):
		rw.Error(http.StatusConflict, ErrCodeConflict, err.Error())

	case errors.Is(err, models.ErrStorageUnavailable),
		errors.Is(err, models.ErrShuttingDown):
		logging.Ctx(rw.r.Context()).Warn().Err(err).Msg("Service unavailable")
		rw.Fail(http.StatusServiceUnavailable, "Service temporarily unavailable, retry later")

	default:
		logging.Ctx(rw.r.Context()).Error().Err(err).Msg("Unhandled service error")
		rw.Fail(http.StatusInternalServerError, "An internal error occurred")
	}
}

func retryAfterSeconds(l *identity.LockedError) string {
	s := int64(math.Ceil(l.RetryAfter.Seconds()))
	if s < 1 {
		s = 1
	}
	return strconv.FormatInt(s, 10)
}
