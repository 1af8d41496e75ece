// Komunikator - Real-time Direct Messaging Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/komunikator

package authz

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/tomtom215/komunikator/internal/identity"
	"github.com/tomtom215/komunikator/internal/logging"
	"github.com/tomtom215/komunikator/internal/models"
)

func init() {
	logging.SetOutput(io.Discard)
}

type fakeUsers struct {
	names   map[models.UserID]string
	lookups atomic.Int32
}

func (f *fakeUsers) GetUser(_ context.Context, id models.UserID) (*identity.User, error) {
	f.lookups.Add(1)
	name, ok := f.names[id]
	if !ok {
		return nil, identity.ErrUserNotFound
	}
	return &identity.User{ID: id, Username: name}, nil
}

func newTestService(t *testing.T) (*Service, *fakeUsers) {
	t.Helper()
	e, err := NewEnforcer(EnforcerConfig{})
	if err != nil {
		t.Fatalf("NewEnforcer: %v", err)
	}
	users := &fakeUsers{names: map[models.UserID]string{
		"u-1": "Alice",
		"u-2": "bob",
	}}
	return NewService(Config{AdminUsers: []string{" alice "}}, e, users), users
}

func TestEnforcer_BuiltInPolicy(t *testing.T) {
	e, err := NewEnforcer(EnforcerConfig{})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		roles  []string
		object string
		action string
		want   bool
	}{
		{[]string{RoleUser}, "sessions", "read", false},
		{[]string{RoleUser, RoleAdmin}, "sessions", "read", true},
		{[]string{RoleAdmin}, "sessions/u-2", "delete", true},
		{[]string{RoleAdmin}, "accounts", "read", false},
		{nil, "sessions", "read", false},
	}
	for _, tt := range tests {
		t.Run(tt.object+"_"+tt.action, func(t *testing.T) {
			got, err := e.EnforceWithRoles("someone", tt.roles, tt.object, tt.action)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("roles %v: got %v, want %v", tt.roles, got, tt.want)
			}
		})
	}

	policy, err := e.Policy()
	if err != nil || len(policy) != 2 {
		t.Errorf("Policy() = %v, %v", policy, err)
	}
}

func TestEnforcer_PolicyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.csv")
	if err := os.WriteFile(path, []byte("p, user, sessions, read\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	e, err := NewEnforcer(EnforcerConfig{PolicyPath: path})
	if err != nil {
		t.Fatalf("NewEnforcer: %v", err)
	}
	if ok, _ := e.Enforce(RoleUser, "sessions", "read"); !ok {
		t.Error("file policy should allow user to read sessions")
	}
	if ok, _ := e.Enforce(RoleAdmin, "sessions", "read"); ok {
		t.Error("file policy replaces the built-in one")
	}

	if _, err := NewEnforcer(EnforcerConfig{PolicyPath: filepath.Join(t.TempDir(), "missing.csv")}); err == nil {
		t.Error("missing policy file should fail")
	}
}

func TestService_Roles(t *testing.T) {
	svc, users := newTestService(t)
	ctx := context.Background()

	roles, err := svc.Roles(ctx, "u-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(roles) != 2 || roles[1] != RoleAdmin {
		t.Errorf("admin roles = %v", roles)
	}

	roles, err = svc.Roles(ctx, "u-2")
	if err != nil {
		t.Fatal(err)
	}
	if len(roles) != 1 || roles[0] != RoleUser {
		t.Errorf("user roles = %v", roles)
	}

	if _, err := svc.Roles(ctx, "u-1"); err != nil {
		t.Fatal(err)
	}
	if n := users.lookups.Load(); n != 2 {
		t.Errorf("lookups = %d, want 2 (second u-1 call cached)", n)
	}

	if _, err := svc.Roles(ctx, "ghost"); err == nil {
		t.Error("unknown user should fail")
	}
}

func TestService_Authorize(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		user   models.UserID
		object string
		action string
		want   bool
	}{
		{"admin lists sessions", "u-1", "sessions", "read", true},
		{"admin disconnects", "u-1", "sessions/u-2", "delete", true},
		{"user lists sessions", "u-2", "sessions", "read", false},
		{"user disconnects", "u-2", "sessions/u-1", "delete", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.Authorize(ctx, tt.user, tt.object, tt.action)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}
