// Komunikator - Real-time Direct Messaging Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/komunikator

package api

import (
	"context"
	"time"

	"github.com/tomtom215/komunikator/internal/delivery"
	"github.com/tomtom215/komunikator/internal/identity"
	"github.com/tomtom215/komunikator/internal/models"
	"github.com/tomtom215/komunikator/internal/session"
)

// Accounts is the identity service as used by the handlers.
type Accounts interface {
	Authenticator
	Register(ctx context.Context, req identity.RegisterRequest) (*identity.User, error)
	Login(ctx context.Context, username, password string) (*identity.LoginResult, error)
	GetUser(ctx context.Context, id models.UserID) (*identity.User, error)
	Contacts(ctx context.Context, exclude models.UserID) ([]identity.Contact, error)
}

// Messaging is the delivery pipeline as used by the handlers.
type Messaging interface {
	Send(ctx context.Context, req delivery.SendRequest) (*models.Message, bool, error)
	Ack(ctx context.Context, userID models.UserID, key models.ConversationKey, messageID string) (*models.Message, error)
	MarkRead(ctx context.Context, userID models.UserID, key models.ConversationKey, messageID string) (*models.Message, error)
	Sync(ctx context.Context, userID models.UserID, key models.ConversationKey, afterSequence uint64, limit int) (*delivery.SyncPage, error)
	Conversations(ctx context.Context, userID models.UserID) ([]models.Conversation, error)
}

// SessionAdmin is the session registry as used by the operator routes.
type SessionAdmin interface {
	Sessions() []session.Session
	Disconnect(userID models.UserID, reason session.CloseReason) bool
}

// HealthCheck is one readiness dependency.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Handler holds the HTTP handlers and their dependencies.
type Handler struct {
	accounts  Accounts
	messaging Messaging
	sessions  SessionAdmin
	checks    []HealthCheck
	runtime   func() RuntimeStats

	version      string
	maxBodyBytes int64
	startTime    time.Time
}

// HandlerConfig configures NewHandler.
type HandlerConfig struct {
	Version      string
	MaxBodyBytes int64
	HealthChecks []HealthCheck

	// Sessions backs the admin routes; nil disables them.
	Sessions SessionAdmin

	// Runtime, when set, adds a core snapshot to /health.
	Runtime func() RuntimeStats
}

// NewHandler creates the handler set.
func NewHandler(cfg HandlerConfig, accounts Accounts, messaging Messaging) *Handler {
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	return &Handler{
		accounts:     accounts,
		messaging:    messaging,
		sessions:     cfg.Sessions,
		runtime:      cfg.Runtime,
		checks:       cfg.HealthChecks,
		version:      cfg.Version,
		maxBodyBytes: cfg.MaxBodyBytes,
		startTime:    time.Now(),
	}
}
