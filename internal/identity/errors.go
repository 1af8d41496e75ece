// Komunikator - Real-time Direct Messaging Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/komunikator

package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/komunikator/internal/models"
)

var (
	// ErrUserExists is returned when the username is taken.
	ErrUserExists = errors.New("username already registered")

	// ErrEmailTaken is returned when the email is taken.
	ErrEmailTaken = errors.New("email already registered")

	// ErrUserNotFound is returned by lookups of unknown accounts.
	ErrUserNotFound = errors.New("user not found")

	// ErrInvalidCredentials covers unknown usernames and wrong passwords
	// alike. It matches models.ErrAuth.
	ErrInvalidCredentials = fmt.Errorf("invalid username or password: %w", models.ErrAuth)

	// ErrAccountLocked is returned while a username is locked out.
	ErrAccountLocked = errors.New("account temporarily locked due to too many failed attempts")
)

// LockedError carries how long the lockout lasts.
type LockedError struct {
	RetryAfter time.Duration
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("%s, retry in %s", ErrAccountLocked, e.RetryAfter.Round(time.Second))
}

func (e *LockedError) Unwrap() error { return ErrAccountLocked }
