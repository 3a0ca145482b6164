// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CourtCheck Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/courtcheck/courtcheck/internal/auth"
)

// RefreshTokenRepository implements auth.RefreshTokenStore using PostgreSQL.
// Revoke is a conditional UPDATE, so concurrent rotations of one token have
// exactly one winner.
type RefreshTokenRepository struct {
	pool pool
}

// NewRefreshTokenRepository creates a new RefreshTokenRepository.
func NewRefreshTokenRepository(p pool) *RefreshTokenRepository {
	return &RefreshTokenRepository{pool: p}
}

// Create stores a new refresh token.
func (r *RefreshTokenRepository) Create(ctx context.Context, token *auth.RefreshToken) error {
	var sessionExpiresAt *time.Time
	if !token.SessionExpiresAt.IsZero() {
		sessionExpiresAt = &token.SessionExpiresAt
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO refresh_tokens (
			id, token_hash, user_id, email, session_id,
			ip_address, user_agent, expires_at, created_at, session_expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		token.ID.String(),
		token.TokenHash,
		token.UserID.String(),
		token.Email,
		token.SessionID,
		token.IP,
		token.UserAgent,
		token.ExpiresAt,
		token.CreatedAt,
		sessionExpiresAt,
	)
	if err != nil {
		return oops.Code("REFRESH_TOKEN_CREATE_FAILED").
			With("operation", "insert refresh token").
			With("user_id", token.UserID.String()).
			Wrap(err)
	}
	return nil
}

// GetByHash retrieves a token by hash.
func (r *RefreshTokenRepository) GetByHash(ctx context.Context, tokenHash string) (*auth.RefreshToken, error) {
	var (
		token            auth.RefreshToken
		idStr            string
		userIDStr        string
		sessionExpiresAt *time.Time
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id, token_hash, user_id, email, session_id, ip_address, user_agent,
		       expires_at, created_at, revoked, revoked_at, revoked_reason,
		       session_expires_at
		FROM refresh_tokens
		WHERE token_hash = $1
	`, tokenHash).Scan(
		&idStr,
		&token.TokenHash,
		&userIDStr,
		&token.Email,
		&token.SessionID,
		&token.IP,
		&token.UserAgent,
		&token.ExpiresAt,
		&token.CreatedAt,
		&token.Revoked,
		&token.RevokedAt,
		&token.RevokedReason,
		&sessionExpiresAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("REFRESH_TOKEN_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("REFRESH_TOKEN_GET_FAILED").
			With("operation", "get refresh token by hash").
			Wrap(err)
	}

	if token.ID, err = ulid.Parse(idStr); err != nil {
		return nil, oops.Code("REFRESH_TOKEN_INVALID_ID").With("id", idStr).Wrap(err)
	}
	if token.UserID, err = ulid.Parse(userIDStr); err != nil {
		return nil, oops.Code("REFRESH_TOKEN_INVALID_USER_ID").With("user_id", userIDStr).Wrap(err)
	}
	token.ExpiresAt = token.ExpiresAt.UTC()
	token.CreatedAt = token.CreatedAt.UTC()
	if sessionExpiresAt != nil {
		token.SessionExpiresAt = sessionExpiresAt.UTC()
	}
	return &token, nil
}

// Revoke flips the revoked flag only if it is still clear.
func (r *RefreshTokenRepository) Revoke(ctx context.Context, tokenHash, reason string, at time.Time) (bool, error) {
	result, err := r.pool.Exec(ctx, `
		UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2, revoked_reason = $3
		WHERE token_hash = $1 AND NOT revoked
	`, tokenHash, at, reason)
	if err != nil {
		return false, oops.Code("REFRESH_TOKEN_REVOKE_FAILED").
			With("operation", "revoke refresh token").
			With("reason", reason).
			Wrap(err)
	}
	return result.RowsAffected() == 1, nil
}

// RevokeAllForUser revokes every live token of a user.
func (r *RefreshTokenRepository) RevokeAllForUser(ctx context.Context, userID ulid.ULID, reason string, at time.Time) (int64, error) {
	result, err := r.pool.Exec(ctx, `
		UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2, revoked_reason = $3
		WHERE user_id = $1 AND NOT revoked
	`, userID.String(), at, reason)
	if err != nil {
		return 0, oops.Code("REFRESH_TOKEN_REVOKE_FAILED").
			With("operation", "revoke refresh tokens for user").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

// RevokeBySession revokes every live token bound to a session.
func (r *RefreshTokenRepository) RevokeBySession(ctx context.Context, sessionID, reason string, at time.Time) (int64, error) {
	result, err := r.pool.Exec(ctx, `
		UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2, revoked_reason = $3
		WHERE session_id = $1 AND NOT revoked
	`, sessionID, at, reason)
	if err != nil {
		return 0, oops.Code("REFRESH_TOKEN_REVOKE_FAILED").
			With("operation", "revoke refresh tokens for session").
			With("session_id", sessionID).
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

// DeleteExpired removes tokens that expired before the given time.
func (r *RefreshTokenRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.pool.Exec(ctx, `
		DELETE FROM refresh_tokens WHERE expires_at < $1
	`, before)
	if err != nil {
		return 0, oops.Code("REFRESH_TOKEN_PRUNE_FAILED").
			With("operation", "delete expired refresh tokens").
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

var _ auth.RefreshTokenStore = (*RefreshTokenRepository)(nil)
