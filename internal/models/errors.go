// Komunikator - Real-time Direct Messaging Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/komunikator

package models

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the store, pipeline, gateway and API. Callers
// match with errors.Is.
var (
	// ErrValidation marks bad client input. Never retried by the server.
	ErrValidation = errors.New("validation failed")

	// ErrAuth marks missing, invalid or expired credentials.
	ErrAuth = errors.New("authentication failed")

	// ErrRecipientUnknown is returned when the receiver does not exist.
	ErrRecipientUnknown = errors.New("recipient unknown")

	// ErrStorageUnavailable means durable storage could not be reached. The
	// failed operation is safe to retry.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrNotParticipant is returned when a user touches a conversation or
	// message that is not theirs to touch.
	ErrNotParticipant = errors.New("not a participant")

	// ErrMessageNotFound is returned by mark operations on unknown ids.
	ErrMessageNotFound = errors.New("message not found")

	// ErrShuttingDown is returned for work submitted after shutdown began.
	ErrShuttingDown = errors.New("shutting down")
)

// ValidationError names the offending field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewValidationError is shorthand for &ValidationError{...}.
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// Unavailable wraps a backend error so it matches ErrStorageUnavailable
// while keeping the cause.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}
