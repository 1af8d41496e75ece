// Komunikator - Real-time Direct Messaging Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/komunikator

package config

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// PasswordPolicy describes the strength rules applied at registration.
type PasswordPolicy struct {
	MinLength        int  `koanf:"min_length"`
	RequireUppercase bool `koanf:"require_uppercase"`
	RequireLowercase bool `koanf:"require_lowercase"`
	RequireDigit     bool `koanf:"require_digit"`
	RequireSpecial   bool `koanf:"require_special"`

	// MaxLength guards bcrypt, which ignores input past 72 bytes.
	MaxLength int `koanf:"max_length"`
}

// DefaultPasswordPolicy: eight characters with a digit, an upper case and a
// lower case letter. Symbols are optional.
func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{
		MinLength:        8,
		RequireUppercase: true,
		RequireLowercase: true,
		RequireDigit:     true,
		RequireSpecial:   false,
		MaxLength:        72,
	}
}

// PasswordPolicyError lists every rule a password broke.
type PasswordPolicyError struct {
	Violations []string
}

func (e *PasswordPolicyError) Error() string {
	return "password does not meet policy: " + strings.Join(e.Violations, "; ")
}

type charClasses struct {
	upper, lower, digit, special bool
}

func classify(password string) charClasses {
	var cc charClasses
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			cc.upper = true
		case unicode.IsLower(r):
			cc.lower = true
		case unicode.IsDigit(r):
			cc.digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r) || unicode.IsSpace(r):
			cc.special = true
		}
	}
	return cc
}

// Check returns nil or a *PasswordPolicyError.
func (p PasswordPolicy) Check(password string) error {
	var violations []string

	n := utf8.RuneCountInString(password)
	if n < p.MinLength {
		violations = append(violations, fmt.Sprintf("must be at least %d characters", p.MinLength))
	}
	if p.MaxLength > 0 && len(password) > p.MaxLength {
		violations = append(violations, fmt.Sprintf("must be at most %d bytes", p.MaxLength))
	}

	cc := classify(password)
	if p.RequireUppercase && !cc.upper {
		violations = append(violations, "must contain an uppercase letter")
	}
	if p.RequireLowercase && !cc.lower {
		violations = append(violations, "must contain a lowercase letter")
	}
	if p.RequireDigit && !cc.digit {
		violations = append(violations, "must contain a digit")
	}
	if p.RequireSpecial && !cc.special {
		violations = append(violations, "must contain a symbol")
	}

	if len(violations) > 0 {
		return &PasswordPolicyError{Violations: violations}
	}
	return nil
}
