// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CourtCheck Contributors

package auth

import (
	"time"
)

// Lockout defaults.
const (
	// DefaultMaxLoginAttempts is the number of consecutive failures that locks an account.
	DefaultMaxLoginAttempts = 5

	// DefaultLockoutDuration is how long a locked account stays locked.
	DefaultLockoutDuration = 15 * time.Minute

	// DefaultAttemptWindow bounds how far apart failures may be and still count as consecutive.
	DefaultAttemptWindow = 30 * time.Minute
)

// LockoutPolicy drives the per-account OPEN -> LOCKED(until) -> OPEN state machine.
type LockoutPolicy struct {
	// MaxAttempts is the failure count that triggers a lock.
	MaxAttempts int

	// Duration is how long the lock holds.
	Duration time.Duration

	// Window restarts the failure count when the previous failure is older than it.
	// Zero disables the window.
	Window time.Duration
}

// DefaultLockoutPolicy returns the stock lockout policy.
func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{
		MaxAttempts: DefaultMaxLoginAttempts,
		Duration:    DefaultLockoutDuration,
		Window:      DefaultAttemptWindow,
	}
}

// WithDefaults fills zero fields.
func (p LockoutPolicy) WithDefaults() LockoutPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxLoginAttempts
	}
	if p.Duration <= 0 {
		p.Duration = DefaultLockoutDuration
	}
	return p
}

// LockState is the lockout state of an account at a point in time.
type LockState int

// Lock states.
const (
	LockOpen LockState = iota
	LockLocked
)

func (s LockState) String() string {
	if s == LockLocked {
		return "locked"
	}
	return "open"
}

// IsLockedOutAt returns true if lockedUntil is after now.
func IsLockedOutAt(lockedUntil *time.Time, now time.Time) bool {
	return lockedUntil != nil && lockedUntil.After(now)
}

// nextFailureCount returns the failure count after one more failure at now.
func (p LockoutPolicy) nextFailureCount(current int, lastFailed *time.Time, now time.Time) int {
	if p.Window > 0 && lastFailed != nil && now.Sub(*lastFailed) > p.Window {
		return 1
	}
	return current + 1
}

// WindowStart returns the oldest failure time that still counts towards a
// lock at now, or nil when the window is disabled.
func (p LockoutPolicy) WindowStart(now time.Time) *time.Time {
	if p.Window <= 0 {
		return nil
	}
	start := now.Add(-p.Window)
	return &start
}

// lockoutFor returns the lock deadline for failures, or nil below the threshold.
func (p LockoutPolicy) lockoutFor(failures int, now time.Time) *time.Time {
	if failures < p.MaxAttempts {
		return nil
	}
	until := now.Add(p.Duration)
	return &until
}
