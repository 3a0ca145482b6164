// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CourtCheck Contributors

package auth

import (
	"context"
	"errors"
	"time"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel/attribute"

	"github.com/courtcheck/courtcheck/pkg/errutil"
)

// RefreshResult carries a new access token and the refresh token to use
// next time, which equals the presented one unless Rotated.
type RefreshResult struct {
	AccessToken     string
	TokenType       string
	ExpiresIn       time.Duration
	AccessExpiresAt time.Time
	RefreshToken    string
	Rotated         bool
	SessionID       string
}

// Refresh exchanges a refresh token for a new access token.
//
// A token older than RefreshRotateAfter is consumed: exactly one concurrent
// caller wins the revocation and receives a replacement, every other caller
// gets ErrInvalidToken. The token is only consumed once its replacement
// exists, so a refresh that fails for any other reason leaves it usable.
//
// If the token's session no longer exists (for example after a restart of an
// in-memory registry) it is recreated under the same ID with its original
// expiry. A token whose session has expired is revoked instead.
func (c *Coordinator) Refresh(ctx context.Context, refreshToken, ip, userAgent string) (result *RefreshResult, err error) {
	ctx, span := tracer.Start(ctx, "auth.refresh")
	defer func() {
		outcome := OutcomeSuccess
		if err != nil {
			outcome = OutcomeInvalidToken
			if !errors.Is(err, ErrInvalidToken) {
				outcome = OutcomeFailure
			}
		}
		RefreshTotal.WithLabelValues(outcome).Inc()
		endSpan(span, err)
	}()

	now := c.now()
	rt, err := c.validateRefreshToken(ctx, refreshToken, now)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("user.id", rt.UserID.String()))

	cred, err := c.findByID(ctx, rt.UserID)
	if errors.Is(err, ErrNotFound) {
		return nil, invalidTokenError("owner not found")
	}
	if err != nil {
		return nil, oops.Code(CodeRefreshFailed).With("operation", "find credential").Wrap(err)
	}
	if !cred.Active {
		return nil, authenticationError(ReasonDisabled)
	}
	if cred.IsLockedAt(now) {
		return nil, accountLockedError(*cred.LockoutUntil, now)
	}
	if cred.PasswordChangedAt != nil && rt.CreatedAt.Before(*cred.PasswordChangedAt) {
		return nil, invalidTokenError("issued before password change")
	}

	session, err := c.sessionFor(ctx, rt, cred, ip, userAgent, now)
	if err != nil {
		return nil, err
	}

	accessToken, accessExpiresAt, err := c.issuer.Issue(cred.ID.String(), cred.Email, cred.Roles, session.ID, c.cfg.AccessTokenTTL)
	if err != nil {
		return nil, oops.Code(CodeRefreshFailed).With("operation", "issue access token").Wrap(err)
	}

	next := refreshToken
	rotate := rt.Age(now) >= c.cfg.RefreshRotateAfter
	if rotate {
		next, err = c.issueRefreshToken(ctx, cred.ID, cred.Email, session, ip, userAgent, now)
		if err != nil {
			return nil, oops.Code(CodeRefreshFailed).With("operation", "issue refresh token").Wrap(err)
		}
		if err := c.consume(ctx, rt, now); err != nil {
			c.withdraw(ctx, next, now)
			return nil, err
		}
	}

	if err := c.updateSessionToken(ctx, session.ID, accessToken, accessExpiresAt, now); err != nil {
		errutil.LogWarnContext(ctx, c.logger, "refresh: update session token failed", err)
	}

	c.audit.Record(ctx, EventRefresh, cred.Email, ip, OutcomeSuccess)
	return &RefreshResult{
		AccessToken:     accessToken,
		TokenType:       TokenType,
		ExpiresIn:       c.cfg.AccessTokenTTL,
		AccessExpiresAt: accessExpiresAt,
		RefreshToken:    next,
		Rotated:         rotate,
		SessionID:       session.ID,
	}, nil
}

// validateRefreshToken loads a refresh token and rejects it if unknown,
// revoked or expired.
func (c *Coordinator) validateRefreshToken(ctx context.Context, refreshToken string, now time.Time) (*RefreshToken, error) {
	if refreshToken == "" {
		return nil, invalidTokenError("empty refresh token")
	}
	rt, err := c.getRefreshToken(ctx, HashToken(refreshToken))
	if errors.Is(err, ErrNotFound) {
		return nil, invalidTokenError("unknown refresh token")
	}
	if err != nil {
		return nil, oops.Code(CodeRefreshFailed).With("operation", "get refresh token").Wrap(err)
	}
	if rt.Revoked {
		return nil, invalidTokenError("refresh token revoked")
	}
	if rt.IsExpiredAt(now) {
		return nil, invalidTokenError("refresh token expired")
	}
	return rt, nil
}

// consume revokes rt for rotation. Losing the compare-and-swap means another
// caller already rotated it.
func (c *Coordinator) consume(ctx context.Context, rt *RefreshToken, now time.Time) error {
	won, err := c.revokeRefreshToken(ctx, rt.TokenHash, RevokedRotated, now)
	if err != nil {
		return oops.Code(CodeRefreshFailed).With("operation", "revoke refresh token").Wrap(err)
	}
	if !won {
		return invalidTokenError("refresh token already consumed")
	}
	recordRevoked(RevokedRotated, 1)
	return nil
}

// withdraw revokes a replacement token whose predecessor could not be
// consumed.
func (c *Coordinator) withdraw(ctx context.Context, plaintext string, now time.Time) {
	if _, err := c.revokeRefreshToken(ctx, HashToken(plaintext), RevokedRotated, now); err != nil {
		errutil.LogErrorContext(ctx, c.logger, "refresh: withdraw replacement token failed", err)
	}
}

// sessionFor returns the live session a refresh token is bound to,
// recreating it when the registry no longer has it.
func (c *Coordinator) sessionFor(ctx context.Context, rt *RefreshToken, cred *Credential, ip, userAgent string, now time.Time) (*Session, error) {
	if rt.SessionID != "" {
		session, err := c.getSession(ctx, rt.SessionID)
		if err == nil {
			return session, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, oops.Code(CodeRefreshFailed).With("operation", "get session").Wrap(err)
		}
	}

	ends := rt.SessionExpiresAt
	if !ends.IsZero() && !now.Before(ends) {
		won, err := c.revokeRefreshToken(ctx, rt.TokenHash, RevokedSessionExpired, now)
		if err != nil {
			errutil.LogErrorContext(ctx, c.logger, "refresh: revoke token of expired session failed", err)
		} else if won {
			recordRevoked(RevokedSessionExpired, 1)
		}
		return nil, invalidTokenError("session expired")
	}

	session := NewSession(cred.ID, cred.Email, ip, userAgent, now, c.cfg.SessionTimeout)
	if rt.SessionID != "" {
		session.ID = rt.SessionID
	}
	if !ends.IsZero() {
		session.ExpiresAt = ends
		session.LoginTime = ends.Add(-c.cfg.SessionTimeout)
	}
	evicted, err := c.registerSession(ctx, session, false)
	if err != nil {
		if errors.Is(err, ErrSessionLimit) {
			return nil, err
		}
		return nil, oops.Code(CodeRefreshFailed).With("operation", "recreate session").Wrap(err)
	}
	c.evict(ctx, evicted, now)
	c.logger.InfoContext(ctx, "recreated session for refresh token",
		"session_id", session.ID, "user_id", cred.ID.String())
	return session, nil
}
