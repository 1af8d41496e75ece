// Komunikator - Real-time Direct Messaging Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/komunikator

package authz

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tomtom215/komunikator/internal/cache"
	"github.com/tomtom215/komunikator/internal/identity"
	"github.com/tomtom215/komunikator/internal/logging"
	"github.com/tomtom215/komunikator/internal/metrics"
	"github.com/tomtom215/komunikator/internal/models"
)

// UserLookup resolves a user id to the account.
type UserLookup interface {
	GetUser(ctx context.Context, id models.UserID) (*identity.User, error)
}

// Config configures a Service.
type Config struct {
	// AdminUsers are usernames, compared case-insensitively.
	AdminUsers []string
	// RoleCacheSize and RoleCacheTTL bound the per-user role cache.
	RoleCacheSize int
	RoleCacheTTL  time.Duration
}

// Service answers "may this user do that" using the enforcer and roles
// derived from the account.
type Service struct {
	enforcer *Enforcer
	users    UserLookup
	admins   map[string]struct{}
	roles    *cache.LRU[models.UserID, []string]
}

// NewService builds a Service.
func NewService(cfg Config, enforcer *Enforcer, users UserLookup) *Service {
	if cfg.RoleCacheTTL <= 0 {
		cfg.RoleCacheTTL = time.Minute
	}
	admins := make(map[string]struct{}, len(cfg.AdminUsers))
	for _, u := range cfg.AdminUsers {
		if u = strings.ToLower(strings.TrimSpace(u)); u != "" {
			admins[u] = struct{}{}
		}
	}
	return &Service{
		enforcer: enforcer,
		users:    users,
		admins:   admins,
		roles:    cache.NewLRU[models.UserID, []string](cfg.RoleCacheSize, cfg.RoleCacheTTL),
	}
}

// Roles returns the roles held by id. Every account is a user.
func (s *Service) Roles(ctx context.Context, id models.UserID) ([]string, error) {
	if roles, ok := s.roles.Get(id); ok {
		return roles, nil
	}

	u, err := s.users.GetUser(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("resolve roles: %w", err)
	}
	roles := []string{RoleUser}
	if _, ok := s.admins[strings.ToLower(u.Username)]; ok {
		roles = append(roles, RoleAdmin)
	}
	s.roles.Put(id, roles)
	return roles, nil
}

// Authorize reports whether id may perform action on object.
func (s *Service) Authorize(ctx context.Context, id models.UserID, object, action string) (bool, error) {
	start := time.Now()
	roles, err := s.Roles(ctx, id)
	if err != nil {
		return false, err
	}

	allowed, err := s.enforcer.EnforceWithRoles(string(id), roles, object, action)
	if err != nil {
		return false, err
	}
	metrics.RecordAuthzDecision(object, action, allowed, time.Since(start))
	if !allowed {
		logging.Ctx(ctx).Debug().
			Str("object", object).
			Str("action", action).
			Strs("roles", roles).
			Msg("Authorization denied")
	}
	return allowed, nil
}
