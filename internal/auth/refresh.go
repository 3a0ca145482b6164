// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CourtCheck Contributors

package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// refreshTokenBytes is the entropy of an opaque refresh token.
const refreshTokenBytes = 32

// Revocation reasons stored on refresh tokens.
const (
	RevokedRotated        = "rotated"
	RevokedLogout         = "logout"
	RevokedPasswordChange = "password_change"
	RevokedPasswordReset  = "password_reset"
	RevokedSessionEvicted = "session_evicted"
	RevokedSessionExpired = "session_expired"
)

// RefreshToken is a persisted opaque refresh token. Only the SHA-256 of the
// plaintext is stored.
type RefreshToken struct {
	ID            ulid.ULID
	TokenHash     string
	UserID        ulid.ULID
	Email         string
	SessionID     string
	ExpiresAt     time.Time
	CreatedAt     time.Time
	IP            string
	UserAgent     string
	Revoked       bool
	RevokedAt     *time.Time
	RevokedReason string

	// SessionExpiresAt is the fixed end of the bound session. Zero on
	// tokens issued before it was recorded.
	SessionExpiresAt time.Time
}

// IsExpiredAt returns true if the token has expired at now.
func (t *RefreshToken) IsExpiredAt(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// Age returns how long ago the token was created.
func (t *RefreshToken) Age(now time.Time) time.Duration {
	return now.Sub(t.CreatedAt)
}

// RefreshTokenStore persists refresh tokens.
type RefreshTokenStore interface {
	// Create stores a new refresh token.
	Create(ctx context.Context, token *RefreshToken) error

	// GetByHash retrieves a token by hash. Returns ErrNotFound if absent.
	GetByHash(ctx context.Context, tokenHash string) (*RefreshToken, error)

	// Revoke flips the revoked flag if it is not already set. Returns true only
	// for the caller that flipped it.
	Revoke(ctx context.Context, tokenHash, reason string, at time.Time) (bool, error)

	// RevokeAllForUser revokes every live token of a user.
	RevokeAllForUser(ctx context.Context, userID ulid.ULID, reason string, at time.Time) (int64, error)

	// RevokeBySession revokes every live token bound to a session.
	RevokeBySession(ctx context.Context, sessionID, reason string, at time.Time) (int64, error)

	// DeleteExpired removes tokens that expired before the given time.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// GenerateOpaqueToken returns a random hex token and its hash.
func GenerateOpaqueToken() (token, tokenHash string, err error) {
	raw := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", "", oops.Code("AUTH_TOKEN_GENERATION_FAILED").Wrap(err)
	}
	token = hex.EncodeToString(raw)
	return token, HashToken(token), nil
}

// HashToken returns the hex SHA-256 of an opaque token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
