// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CourtCheck Contributors

package auth

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
)

// Failure reasons recorded on login attempts. These never reach the caller.
const (
	ReasonUnknownUser  = "unknown_user"
	ReasonBadPassword  = "bad_password"
	ReasonBadMFA       = "bad_mfa"
	ReasonLocked       = "locked"
	ReasonDisabled     = "disabled"
	ReasonRateLimited  = "rate_limited"
	ReasonSessionLimit = "session_limit"
	// ReasonPasswordChanged marks a login whose verified password was
	// replaced before the login committed.
	ReasonPasswordChanged = "password_changed"
)

// LoginAttempt is an immutable record of one login attempt.
type LoginAttempt struct {
	ID            ulid.ULID
	Email         string
	IP            string
	UserAgent     string
	Success       bool
	FailureReason string
	At            time.Time
}

// NewLoginAttempt builds an attempt record. An empty reason marks success.
func NewLoginAttempt(email, ip, userAgent, reason string, at time.Time) *LoginAttempt {
	return &LoginAttempt{
		ID:            ulid.Make(),
		Email:         email,
		IP:            ip,
		UserAgent:     userAgent,
		Success:       reason == "",
		FailureReason: reason,
		At:            at,
	}
}

// LoginAttemptLedger is the append-only log of login attempts.
type LoginAttemptLedger interface {
	// Append records an attempt.
	Append(ctx context.Context, attempt *LoginAttempt) error

	// CountByIPSince counts attempts from ip at or after since.
	CountByIPSince(ctx context.Context, ip string, since time.Time) (int, error)

	// DeleteBefore prunes attempts older than before and returns how many went.
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}
