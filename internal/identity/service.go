// Komunikator - Real-time Direct Messaging Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/komunikator

package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/tomtom215/komunikator/internal/config"
	"github.com/tomtom215/komunikator/internal/logging"
	"github.com/tomtom215/komunikator/internal/metrics"
	"github.com/tomtom215/komunikator/internal/models"
	"github.com/tomtom215/komunikator/internal/validation"
)

// ServiceConfig wires the identity service.
type ServiceConfig struct {
	Policy config.PasswordPolicy

	// BcryptCost defaults to bcrypt.DefaultCost. Tests use bcrypt.MinCost.
	BcryptCost int
}

// Service registers accounts, logs users in and authenticates tokens.
type Service struct {
	dir     *BadgerDirectory
	tokens  *TokenManager
	lockout *LockoutManager

	policy config.PasswordPolicy
	cost   int

	// dummyHash is compared against when the username is unknown so both
	// branches cost one bcrypt comparison.
	dummyHash []byte
}

// NewService creates the service.
func NewService(cfg ServiceConfig, dir *BadgerDirectory, tokens *TokenManager, lockout *LockoutManager) (*Service, error) {
	cost := cfg.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte(uuid.NewString()), cost)
	if err != nil {
		return nil, fmt.Errorf("prepare password hasher: %w", err)
	}
	return &Service{
		dir:       dir,
		tokens:    tokens,
		lockout:   lockout,
		policy:    cfg.Policy,
		cost:      cost,
		dummyHash: dummy,
	}, nil
}

// Lockout exposes the lockout manager for the supervised sweeper.
func (s *Service) Lockout() *LockoutManager { return s.lockout }

// Register creates an account.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*User, error) {
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	req.DisplayName = strings.TrimSpace(req.DisplayName)

	if err := validation.Validate(&req); err != nil {
		return nil, err
	}
	if err := s.policy.Check(req.Password); err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrValidation, err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	acc := &account{
		User: User{
			ID:           models.UserID(uuid.NewString()),
			Username:     req.Username,
			Email:        req.Email,
			DisplayName:  req.DisplayName,
			RegisteredAt: time.Now().UTC(),
		},
		PasswordHash: hash,
	}
	if err := s.dir.create(ctx, acc); err != nil {
		return nil, err
	}

	logging.Ctx(ctx).Info().
		Str("user_id", string(acc.ID)).
		Str("username", acc.Username).
		Msg("Account registered")
	u := acc.User
	return &u, nil
}

// Login checks the password and issues a token. Unknown usernames and wrong
// passwords both return ErrInvalidCredentials; a locked username returns a
// *LockedError.
func (s *Service) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	subject := normalize(username)
	if subject == "" || password == "" {
		metrics.LoginAttempts.WithLabelValues("invalid").Inc()
		return nil, ErrInvalidCredentials
	}

	if locked, retry := s.lockout.CheckLocked(subject); locked {
		metrics.LoginAttempts.WithLabelValues("locked").Inc()
		return nil, &LockedError{RetryAfter: retry}
	}

	acc, err := s.dir.byUsername(ctx, subject)
	if err != nil && !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	hash := s.dummyHash
	if acc != nil {
		hash = acc.PasswordHash
	}
	if bcrypt.CompareHashAndPassword(hash, []byte(password)) != nil || acc == nil {
		if locked, retry := s.lockout.RecordFailure(subject); locked {
			metrics.LoginAttempts.WithLabelValues("locked").Inc()
			return nil, &LockedError{RetryAfter: retry}
		}
		metrics.LoginAttempts.WithLabelValues("invalid").Inc()
		logging.Ctx(ctx).Debug().Str("username", subject).Msg("Login failed")
		return nil, ErrInvalidCredentials
	}

	s.lockout.RecordSuccess(subject)

	token, expires, err := s.tokens.Issue(acc.User)
	if err != nil {
		return nil, err
	}
	metrics.LoginAttempts.WithLabelValues("success").Inc()
	logging.Ctx(ctx).Info().Str("user_id", string(acc.ID)).Msg("Login succeeded")

	return &LoginResult{
		UserID:    acc.ID,
		Username:  acc.Username,
		Token:     token,
		ExpiresAt: expires,
	}, nil
}

// Authenticate validates a bearer token and confirms its subject still has
// an account. Failures match models.ErrAuth; directory outages match
// models.ErrStorageUnavailable.
func (s *Service) Authenticate(ctx context.Context, creds Credentials) (models.UserID, error) {
	claims, err := s.tokens.Validate(creds.Token)
	if err != nil {
		return "", err
	}
	id := models.UserID(claims.Subject)
	ok, err := s.dir.exists(ctx, id)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("account %s no longer exists: %w", id, models.ErrAuth)
	}
	return id, nil
}

// UserExists reports whether id has an account.
func (s *Service) UserExists(ctx context.Context, id models.UserID) (bool, error) {
	if !models.ValidUserID(id) {
		return false, nil
	}
	return s.dir.exists(ctx, id)
}

// GetUser returns the account for id or ErrUserNotFound.
func (s *Service) GetUser(ctx context.Context, id models.UserID) (*User, error) {
	acc, err := s.dir.byID(ctx, id)
	if err != nil {
		return nil, err
	}
	u := acc.User
	return &u, nil
}

// Contacts lists every other user, ordered by username.
func (s *Service) Contacts(ctx context.Context, exclude models.UserID) ([]Contact, error) {
	users, err := s.dir.list(ctx)
	if err != nil {
		return nil, err
	}
	contacts := make([]Contact, 0, len(users))
	for _, u := range users {
		if u.ID == exclude {
			continue
		}
		contacts = append(contacts, u)
	}
	return contacts, nil
}

// Ping reports directory health.
func (s *Service) Ping() error { return s.dir.Ping() }
