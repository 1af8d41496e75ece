// Komunikator - Real-time Direct Messaging Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/komunikator

package identity

import (
	"time"

	"github.com/tomtom215/komunikator/internal/models"
)

// User is the public view of an account.
type User struct {
	ID           models.UserID `json:"id"`
	Username     string        `json:"username"`
	Email        string        `json:"email"`
	DisplayName  string        `json:"display_name,omitempty"`
	RegisteredAt time.Time     `json:"registered_at"`
}

// Contact is an entry of the contact list.
type Contact = User

// account is the stored record.
type account struct {
	User
	PasswordHash []byte `json:"password_hash"`
}

// RegisterRequest is the registration form.
type RegisterRequest struct {
	Username    string `json:"username" validate:"required,username"`
	Email       string `json:"email" validate:"required,email,max=254"`
	Password    string `json:"password" validate:"required"`
	DisplayName string `json:"display_name" validate:"max=64"`
}

// LoginRequest is the login form.
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// LoginResult is returned by a successful login.
type LoginResult struct {
	UserID    models.UserID `json:"user_id"`
	Username  string        `json:"username"`
	Token     string        `json:"token"`
	ExpiresAt time.Time     `json:"expires_at"`
}

// Credentials is what a client presents to authenticate a connection.
type Credentials struct {
	Token string
}
