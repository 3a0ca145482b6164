// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CourtCheck Contributors

package auth

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/courtcheck/courtcheck/pkg/errutil"
)

// Every store call below runs under StoreTimeout so a stalled backend fails
// the request instead of holding it.

func (c *Coordinator) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.cfg.StoreTimeout)
}

func (c *Coordinator) findByEmail(ctx context.Context, email string) (*Credential, error) {
	ctx, cancel := c.bounded(ctx)
	defer cancel()
	return c.credentials.FindByEmail(ctx, email)
}

func (c *Coordinator) findByID(ctx context.Context, id ulid.ULID) (*Credential, error) {
	ctx, cancel := c.bounded(ctx)
	defer cancel()
	return c.credentials.FindByID(ctx, id)
}

func (c *Coordinator) findByResetToken(ctx context.Context, tokenHash string) (*Credential, error) {
	ctx, cancel := c.bounded(ctx)
	defer cancel()
	return c.credentials.FindByResetTokenHash(ctx, tokenHash)
}

func (c *Coordinator) recordFailure(ctx context.Context, id ulid.ULID, now time.Time) (*FailureOutcome, error) {
	ctx, cancel := c.bounded(ctx)
	defer cancel()
	return c.credentials.RecordFailure(ctx, id, c.cfg.Lockout, now)
}

func (c *Coordinator) recordSuccess(ctx context.Context, id ulid.ULID, passwordHash string, now time.Time) (bool, error) {
	ctx, cancel := c.bounded(ctx)
	defer cancel()
	return c.credentials.RecordSuccess(ctx, id, passwordHash, now)
}

func (c *Coordinator) upgradePasswordHash(ctx context.Context, id ulid.ULID, oldHash, newHash string, now time.Time) (bool, error) {
	ctx, cancel := c.bounded(ctx)
	defer cancel()
	return c.credentials.UpgradePasswordHash(ctx, id, oldHash, newHash, now)
}

func (c *Coordinator) setResetToken(ctx context.Context, id ulid.ULID, tokenHash string, expiresAt, now time.Time) error {
	ctx, cancel := c.bounded(ctx)
	defer cancel()
	return c.credentials.SetResetToken(ctx, id, tokenHash, expiresAt, now)
}

func (c *Coordinator) updatePassword(ctx context.Context, id ulid.ULID, upd PasswordUpdate) (bool, error) {
	ctx, cancel := c.bounded(ctx)
	defer cancel()
	return c.credentials.UpdatePassword(ctx, id, upd)
}

// appendAttempt records an attempt. Ledger failures are logged, not returned.
func (c *Coordinator) appendAttempt(ctx context.Context, email string, req LoginRequest, reason string, now time.Time) {
	ctx, cancel := c.bounded(ctx)
	defer cancel()
	if err := c.attempts.Append(ctx, NewLoginAttempt(email, req.IP, req.UserAgent, reason, now)); err != nil {
		errutil.LogWarnContext(ctx, c.logger, "append login attempt failed", err)
	}
}

func (c *Coordinator) reserveAttempt(ctx context.Context, ip string, now time.Time) (func(context.Context) error, error) {
	ctx, cancel := c.bounded(ctx)
	defer cancel()
	return c.limiter.reserve(ctx, ip, now)
}

// releaseAttempt still runs after the caller's context is done.
func (c *Coordinator) releaseAttempt(ctx context.Context, release func(context.Context) error) {
	ctx, cancel := c.bounded(context.WithoutCancel(ctx))
	defer cancel()
	if err := release(ctx); err != nil {
		errutil.LogWarnContext(ctx, c.logger, "release in-flight attempt failed", err)
	}
}

func (c *Coordinator) createRefreshToken(ctx context.Context, rt *RefreshToken) error {
	ctx, cancel := c.bounded(ctx)
	defer cancel()
	return c.refresh.Create(ctx, rt)
}

func (c *Coordinator) getRefreshToken(ctx context.Context, tokenHash string) (*RefreshToken, error) {
	ctx, cancel := c.bounded(ctx)
	defer cancel()
	return c.refresh.GetByHash(ctx, tokenHash)
}

func (c *Coordinator) revokeRefreshToken(ctx context.Context, tokenHash, reason string, now time.Time) (bool, error) {
	ctx, cancel := c.bounded(ctx)
	defer cancel()
	return c.refresh.Revoke(ctx, tokenHash, reason, now)
}

func (c *Coordinator) revokeAllForUser(ctx context.Context, userID ulid.ULID, reason string, now time.Time) (int64, error) {
	ctx, cancel := c.bounded(ctx)
	defer cancel()
	return c.refresh.RevokeAllForUser(ctx, userID, reason, now)
}

func (c *Coordinator) revokeBySession(ctx context.Context, sessionID, reason string, now time.Time) (int64, error) {
	if sessionID == "" {
		return 0, nil
	}
	ctx, cancel := c.bounded(ctx)
	defer cancel()
	return c.refresh.RevokeBySession(ctx, sessionID, reason, now)
}

func (c *Coordinator) revokeAccessToken(ctx context.Context, accessToken string, expiresAt time.Time) error {
	if accessToken == "" {
		return nil
	}
	ctx, cancel := c.bounded(ctx)
	defer cancel()
	return c.blacklist.Revoke(ctx, accessToken, expiresAt)
}

func (c *Coordinator) registerSession(ctx context.Context, s *Session, force bool) ([]*Session, error) {
	ctx, cancel := c.bounded(ctx)
	defer cancel()
	return c.sessions.Register(ctx, s, c.cfg.MaxConcurrentSessions, force)
}

func (c *Coordinator) getSession(ctx context.Context, id string) (*Session, error) {
	ctx, cancel := c.bounded(ctx)
	defer cancel()
	return c.sessions.Get(ctx, id)
}

func (c *Coordinator) updateSessionToken(ctx context.Context, id, accessToken string, expiresAt, now time.Time) error {
	ctx, cancel := c.bounded(ctx)
	defer cancel()
	return c.sessions.UpdateToken(ctx, id, accessToken, expiresAt, now)
}

func (c *Coordinator) removeSession(ctx context.Context, id string) (*Session, error) {
	ctx, cancel := c.bounded(ctx)
	defer cancel()
	return c.sessions.Remove(ctx, id)
}

func (c *Coordinator) removeAllSessions(ctx context.Context, userID ulid.ULID) ([]*Session, error) {
	ctx, cancel := c.bounded(ctx)
	defer cancel()
	return c.sessions.RemoveAllForUser(ctx, userID)
}
