// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CourtCheck Contributors

package auth

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
)

// Session is one authenticated client context. Its expiry is fixed at
// creation: LastActivity never extends ExpiresAt.
type Session struct {
	ID              string
	UserID          ulid.ULID
	Email           string
	AccessToken     string
	AccessExpiresAt time.Time
	IP              string
	UserAgent       string
	LoginTime       time.Time
	LastActivity    time.Time
	ExpiresAt       time.Time
}

// NewSession creates a session that expires timeout after now.
func NewSession(userID ulid.ULID, email, ip, userAgent string, now time.Time, timeout time.Duration) *Session {
	return &Session{
		ID:           ulid.Make().String(),
		UserID:       userID,
		Email:        email,
		IP:           ip,
		UserAgent:    userAgent,
		LoginTime:    now,
		LastActivity: now,
		ExpiresAt:    now.Add(timeout),
	}
}

// IsExpiredAt returns true if the session has expired at now.
func (s *Session) IsExpiredAt(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Clone returns a copy safe to hand out of a registry.
func (s *Session) Clone() *Session {
	c := *s
	return &c
}

// SessionRegistry tracks active sessions and enforces the per-user limit.
// Implementations must be safe for concurrent use.
type SessionRegistry interface {
	// Register inserts session. When the user already holds max live sessions
	// it fails with ErrSessionLimit, or with force evicts the sessions with
	// the earliest LoginTime until there is room. Evicted sessions are returned.
	// A max of zero or less disables the limit.
	Register(ctx context.Context, session *Session, max int, force bool) ([]*Session, error)

	// Get returns a live session. Returns ErrNotFound if absent or expired.
	Get(ctx context.Context, id string) (*Session, error)

	// UpdateToken replaces the session's access token and activity time.
	UpdateToken(ctx context.Context, id, accessToken string, accessExpiresAt, lastActivity time.Time) error

	// Remove deletes a session and returns it, or nil if it was absent.
	Remove(ctx context.Context, id string) (*Session, error)

	// RemoveAllForUser deletes every session of a user and returns them.
	RemoveAllForUser(ctx context.Context, userID ulid.ULID) ([]*Session, error)

	// ListByUser returns a user's live sessions ordered by LoginTime.
	ListByUser(ctx context.Context, userID ulid.ULID) ([]*Session, error)

	// Count returns a user's live session count.
	Count(ctx context.Context, userID ulid.ULID) (int, error)
}

// NewSessionLimitError is returned by registries rejecting a session at limit.
func NewSessionLimitError(limit int) error {
	return sessionLimitError(limit)
}
