// Komunikator - Real-time Direct Messaging Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/komunikator

package authz

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	fileadapter "github.com/casbin/casbin/v2/persist/file-adapter"
)

//go:embed model.conf
var embeddedModel string

//go:embed policy.csv
var embeddedPolicy string

// Role names.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// EnforcerConfig selects the policy source.
type EnforcerConfig struct {
	// PolicyPath is a Casbin CSV policy file. Empty uses the built-in
	// policy.
	PolicyPath string
}

// Enforcer wraps a synced Casbin enforcer.
type Enforcer struct {
	enforcer *casbin.SyncedEnforcer
}

// NewEnforcer loads the built-in model and either the built-in policy or
// the file at cfg.PolicyPath.
func NewEnforcer(cfg EnforcerConfig) (*Enforcer, error) {
	m, err := model.NewModelFromString(embeddedModel)
	if err != nil {
		return nil, fmt.Errorf("load casbin model: %w", err)
	}

	var e *casbin.SyncedEnforcer
	if cfg.PolicyPath != "" {
		if _, statErr := os.Stat(cfg.PolicyPath); statErr != nil {
			return nil, fmt.Errorf("authz policy: %w", statErr)
		}
		e, err = casbin.NewSyncedEnforcer(m, fileadapter.NewAdapter(cfg.PolicyPath))
	} else {
		e, err = casbin.NewSyncedEnforcer(m)
		if err == nil {
			err = loadPolicy(e, embeddedPolicy)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("create casbin enforcer: %w", err)
	}
	return &Enforcer{enforcer: e}, nil
}

// loadPolicy adds the p and g lines of a CSV policy.
func loadPolicy(e *casbin.SyncedEnforcer, policy string) error {
	for _, line := range strings.Split(policy, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Split(line, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}

		switch rule := parts[1:]; parts[0] {
		case "p":
			if len(rule) < 3 {
				return fmt.Errorf("malformed policy line %q", line)
			}
			if _, err := e.AddPolicy(rule[0], rule[1], rule[2]); err != nil {
				return fmt.Errorf("add policy %v: %w", rule, err)
			}
		case "g":
			if len(rule) < 2 {
				return fmt.Errorf("malformed grouping line %q", line)
			}
			if _, err := e.AddGroupingPolicy(rule[0], rule[1]); err != nil {
				return fmt.Errorf("add grouping policy %v: %w", rule, err)
			}
		}
	}
	return nil
}

// Enforce checks one subject.
func (e *Enforcer) Enforce(subject, object, action string) (bool, error) {
	ok, err := e.enforcer.Enforce(subject, object, action)
	if err != nil {
		return false, fmt.Errorf("enforce %s %s %s: %w", subject, object, action, err)
	}
	return ok, nil
}

// EnforceWithRoles allows the request if the subject or any of its roles
// is allowed.
func (e *Enforcer) EnforceWithRoles(subject string, roles []string, object, action string) (bool, error) {
	if ok, err := e.Enforce(subject, object, action); err != nil || ok {
		return ok, err
	}
	for _, role := range roles {
		if ok, err := e.Enforce(role, object, action); err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}

// Policy returns the loaded p rules.
func (e *Enforcer) Policy() ([][]string, error) {
	return e.enforcer.GetPolicy()
}
