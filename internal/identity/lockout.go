// Komunikator - Real-time Direct Messaging Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/komunikator

package identity

import (
	"context"
	"sync"
	"time"

	"github.com/tomtom215/komunikator/internal/logging"
	"github.com/tomtom215/komunikator/internal/metrics"
)

// LockoutConfig controls failed-login lockout.
type LockoutConfig struct {
	Enabled     bool
	MaxAttempts int

	// Duration is the first lockout; with Exponential each further lockout
	// doubles it, capped at MaxDuration.
	Duration    time.Duration
	MaxDuration time.Duration
	Exponential bool

	// Retention keeps unlocked entries around so the lockout count survives
	// a short pause between attack bursts.
	Retention time.Duration
}

// DefaultLockoutConfig: five attempts, fifteen minutes, doubling up to a day.
func DefaultLockoutConfig() LockoutConfig {
	return LockoutConfig{
		Enabled:     true,
		MaxAttempts: 5,
		Duration:    15 * time.Minute,
		MaxDuration: 24 * time.Hour,
		Exponential: true,
		Retention:   24 * time.Hour,
	}
}

type lockoutEntry struct {
	failedAttempts int
	lockoutCount   int
	lastAttempt    time.Time
	lockedUntil    time.Time
}

// LockoutManager tracks failed logins per username in memory.
type LockoutManager struct {
	cfg LockoutConfig
	now func() time.Time

	mu      sync.Mutex
	entries map[string]*lockoutEntry
}

// NewLockoutManager creates a manager.
func NewLockoutManager(cfg LockoutConfig) *LockoutManager {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.Duration <= 0 {
		cfg.Duration = 15 * time.Minute
	}
	if cfg.MaxDuration < cfg.Duration {
		cfg.MaxDuration = cfg.Duration
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 24 * time.Hour
	}
	return &LockoutManager{
		cfg:     cfg,
		now:     time.Now,
		entries: make(map[string]*lockoutEntry),
	}
}

// CheckLocked reports whether subject is locked and for how long.
func (m *LockoutManager) CheckLocked(subject string) (bool, time.Duration) {
	if !m.cfg.Enabled {
		return false, 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entries[subject]
	if e == nil {
		return false, 0
	}
	now := m.now()
	if !now.Before(e.lockedUntil) {
		return false, 0
	}
	return true, e.lockedUntil.Sub(now)
}

func (m *LockoutManager) lockoutDuration(lockoutCount int) time.Duration {
	d := m.cfg.Duration
	if !m.cfg.Exponential || lockoutCount == 0 {
		return d
	}
	for i := 0; i < lockoutCount; i++ {
		d *= 2
		if d >= m.cfg.MaxDuration {
			return m.cfg.MaxDuration
		}
	}
	return d
}

// RecordFailure counts a failed attempt and reports whether subject is now
// locked.
func (m *LockoutManager) RecordFailure(subject string) (bool, time.Duration) {
	if !m.cfg.Enabled {
		return false, 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	e := m.entries[subject]
	if e == nil {
		e = &lockoutEntry{}
		m.entries[subject] = e
	}
	if now.Before(e.lockedUntil) {
		return true, e.lockedUntil.Sub(now)
	}

	e.failedAttempts++
	e.lastAttempt = now
	if e.failedAttempts < m.cfg.MaxAttempts {
		return false, 0
	}

	d := m.lockoutDuration(e.lockoutCount)
	e.lockedUntil = now.Add(d)
	e.lockoutCount++
	e.failedAttempts = 0

	metrics.AccountLockouts.Inc()
	logging.Warn().
		Str("subject", subject).
		Dur("duration", d).
		Int("lockout_count", e.lockoutCount).
		Msg("Account locked")
	return true, d
}

// RecordSuccess forgets subject's failures.
func (m *LockoutManager) RecordSuccess(subject string) {
	m.mu.Lock()
	delete(m.entries, subject)
	m.mu.Unlock()
}

// Cleanup drops entries that are unlocked and idle for longer than the
// retention period. It returns how many were removed.
func (m *LockoutManager) Cleanup(_ context.Context) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	threshold := now.Add(-m.cfg.Retention)
	n := 0
	for subject, e := range m.entries {
		if !now.Before(e.lockedUntil) && e.lastAttempt.Before(threshold) {
			delete(m.entries, subject)
			n++
		}
	}
	return n
}

// Len returns the number of tracked subjects.
func (m *LockoutManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
