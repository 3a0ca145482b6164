// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CourtCheck Contributors

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/samber/oops"
)

// ErrNotFound is returned by stores when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// Error kinds surfaced to the transport boundary. Every typed error from
// Coordinator wraps exactly one of these, so callers branch with errors.Is.
var (
	ErrAuthentication = errors.New("invalid email or password")
	ErrAccountLocked  = errors.New("account is temporarily locked")
	ErrInvalidToken   = errors.New("invalid or expired token")
	ErrValidation     = errors.New("validation failed")
	ErrRateLimited    = errors.New("too many login attempts")
	ErrSessionLimit   = errors.New("concurrent session limit reached")
)

// Error codes attached to oops errors produced by this package.
const (
	CodeInvalidCredentials = "AUTH_INVALID_CREDENTIALS"
	CodeAccountLocked      = "AUTH_ACCOUNT_LOCKED"
	CodeInvalidToken       = "AUTH_INVALID_TOKEN"
	CodeValidation         = "AUTH_VALIDATION_FAILED"
	CodeRateLimited        = "AUTH_RATE_LIMITED"
	CodeSessionLimit       = "AUTH_SESSION_LIMIT"
	CodeLoginFailed        = "AUTH_LOGIN_FAILED"
	CodeRefreshFailed      = "AUTH_REFRESH_FAILED"
	CodePasswordFailed     = "AUTH_PASSWORD_CHANGE_FAILED"
	CodeResetFailed        = "AUTH_RESET_FAILED"
)

// AccountLockedError carries the time left on a lockout.
type AccountLockedError struct {
	Until            time.Time
	MinutesRemaining int
}

func (e *AccountLockedError) Error() string {
	return fmt.Sprintf("%s; retry in %d minute(s)", ErrAccountLocked, e.MinutesRemaining)
}

func (e *AccountLockedError) Unwrap() error { return ErrAccountLocked }

// SessionLimitError names the concurrent session limit that was hit.
type SessionLimitError struct {
	Limit int
}

func (e *SessionLimitError) Error() string {
	return fmt.Sprintf("%s: at most %d active session(s) allowed", ErrSessionLimit, e.Limit)
}

func (e *SessionLimitError) Unwrap() error { return ErrSessionLimit }

// LockedMinutes extracts the remaining lockout minutes from err.
func LockedMinutes(err error) (int, bool) {
	var locked *AccountLockedError
	if errors.As(err, &locked) {
		return locked.MinutesRemaining, true
	}
	return 0, false
}

// The constructors below keep the user-facing message uniform per kind. The
// oops context holds the detail for logs; it never reaches a response body.

func authenticationError(reason string) error {
	return oops.Code(CodeInvalidCredentials).
		With("reason", reason).
		Wrap(ErrAuthentication)
}

func accountLockedError(until, now time.Time) error {
	return oops.Code(CodeAccountLocked).
		With("locked_until", until).
		Wrap(&AccountLockedError{Until: until, MinutesRemaining: minutesUntil(until, now)})
}

func invalidTokenError(reason string) error {
	return oops.Code(CodeInvalidToken).
		With("reason", reason).
		Wrap(ErrInvalidToken)
}

func validationError(format string, args ...any) error {
	return oops.Code(CodeValidation).
		Wrap(fmt.Errorf("%w: "+format, append([]any{ErrValidation}, args...)...))
}

func rateLimitError(ip string, limit int) error {
	return oops.Code(CodeRateLimited).
		With("ip", ip).
		With("limit", limit).
		Wrap(ErrRateLimited)
}

func sessionLimitError(limit int) error {
	return oops.Code(CodeSessionLimit).
		With("limit", limit).
		Wrap(&SessionLimitError{Limit: limit})
}

// minutesUntil rounds up so a lock with seconds left still reports 1.
func minutesUntil(until, now time.Time) int {
	remaining := until.Sub(now)
	if remaining <= 0 {
		return 0
	}
	minutes := int(remaining / time.Minute)
	if remaining%time.Minute != 0 {
		minutes++
	}
	return minutes
}
