// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CourtCheck Contributors

package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/courtcheck/courtcheck/pkg/errutil"
)

// ChangePassword replaces the password of an authenticated user after
// checking the current one, then signs the user out everywhere.
func (c *Coordinator) ChangePassword(ctx context.Context, email, currentPassword, newPassword string) (err error) {
	ctx, span := tracer.Start(ctx, "auth.change_password")
	defer func() { endSpan(span, err) }()

	now := c.now()
	email = strings.ToLower(strings.TrimSpace(email))

	cred, err := c.findByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		_, _ = c.hasher.Verify(currentPassword, c.dummyHash) //nolint:errcheck // timing parity only
		return authenticationError(ReasonUnknownUser)
	}
	if err != nil {
		return oops.Code(CodePasswordFailed).With("operation", "find credential").Wrap(err)
	}
	if !cred.Active {
		return authenticationError(ReasonDisabled)
	}

	valid, err := c.hasher.Verify(currentPassword, cred.PasswordHash)
	if err != nil {
		return oops.Code(CodePasswordFailed).With("operation", "verify password").Wrap(err)
	}
	if !valid {
		c.audit.Record(ctx, EventPasswordChange, cred.Email, "", OutcomeFailure)
		return authenticationError(ReasonBadPassword)
	}

	applied, err := c.setPassword(ctx, cred, newPassword, now, PasswordUpdate{ExpectHash: cred.PasswordHash})
	if err != nil {
		return err
	}
	if !applied {
		c.audit.Record(ctx, EventPasswordChange, cred.Email, "", OutcomeFailure)
		return authenticationError(ReasonPasswordChanged)
	}

	c.invalidateAll(ctx, cred, RevokedPasswordChange, now)
	c.audit.Record(ctx, EventPasswordChange, cred.Email, "", OutcomeSuccess)
	c.notifier.Send(ctx, cred.Email, "Your CourtCheck password was changed",
		"Your password was changed and every active session was signed out. "+
			"If you did not make this change, reset your password immediately.")
	return nil
}

// RequestPasswordReset stores a reset token for email and sends it through
// the notification sink. Unknown and inactive accounts succeed silently so
// callers cannot learn which emails exist.
func (c *Coordinator) RequestPasswordReset(ctx context.Context, email string) (err error) {
	ctx, span := tracer.Start(ctx, "auth.request_password_reset")
	defer func() { endSpan(span, err) }()

	now := c.now()
	email = strings.ToLower(strings.TrimSpace(email))

	cred, err := c.findByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		c.audit.Record(ctx, EventPasswordResetRequest, email, "", OutcomeFailure)
		return nil
	}
	if err != nil {
		return oops.Code(CodeResetFailed).With("operation", "find credential").Wrap(err)
	}
	if !cred.Active {
		c.audit.Record(ctx, EventPasswordResetRequest, email, "", OutcomeFailure)
		return nil
	}

	plaintext, tokenHash, err := GenerateOpaqueToken()
	if err != nil {
		return oops.Code(CodeResetFailed).With("operation", "generate reset token").Wrap(err)
	}
	expiresAt := now.Add(c.cfg.ResetTokenValidity)
	if err := c.setResetToken(ctx, cred.ID, tokenHash, expiresAt, now); err != nil {
		return oops.Code(CodeResetFailed).With("operation", "save reset token").Wrap(err)
	}

	c.audit.Record(ctx, EventPasswordResetRequest, cred.Email, "", OutcomeSuccess)
	c.notifier.Send(ctx, cred.Email, "CourtCheck password reset",
		fmt.Sprintf("Use this code to reset your password: %s\nIt expires at %s.",
			plaintext, expiresAt.UTC().Format(time.RFC1123)))
	return nil
}

// ResetPassword sets a new password using a reset token, clears any lockout
// and signs the user out everywhere.
func (c *Coordinator) ResetPassword(ctx context.Context, resetToken, newPassword string) (err error) {
	ctx, span := tracer.Start(ctx, "auth.reset_password")
	defer func() { endSpan(span, err) }()

	now := c.now()
	if resetToken == "" {
		return invalidTokenError("empty reset token")
	}

	tokenHash := HashToken(resetToken)
	cred, err := c.findByResetToken(ctx, tokenHash)
	if errors.Is(err, ErrNotFound) {
		return invalidTokenError("unknown reset token")
	}
	if err != nil {
		return oops.Code(CodeResetFailed).With("operation", "find credential by reset token").Wrap(err)
	}
	if cred.ResetTokenExpiresAt == nil || !now.Before(*cred.ResetTokenExpiresAt) {
		return invalidTokenError("reset token expired")
	}

	applied, err := c.setPassword(ctx, cred, newPassword, now, PasswordUpdate{
		ExpectResetTokenHash: tokenHash,
		ClearLockout:         true,
	})
	if err != nil {
		return err
	}
	if !applied {
		return invalidTokenError("reset token already used")
	}

	c.invalidateAll(ctx, cred, RevokedPasswordReset, now)
	c.audit.Record(ctx, EventPasswordReset, cred.Email, "", OutcomeSuccess)
	c.notifier.Send(ctx, cred.Email, "Your CourtCheck password was reset",
		"Your password was reset and every active session was signed out.")
	return nil
}

// setPassword enforces the policy, hashes the new password and applies it
// under the expectations in upd. Returns false if the stored credential no
// longer matches them.
func (c *Coordinator) setPassword(ctx context.Context, cred *Credential, newPassword string, now time.Time, upd PasswordUpdate) (bool, error) {
	if err := c.cfg.Password.Check(newPassword); err != nil {
		return false, err
	}
	same, err := c.hasher.Verify(newPassword, cred.PasswordHash)
	if err != nil {
		errutil.LogWarnContext(ctx, c.logger, "compare with current hash failed", err)
	}
	if same {
		return false, validationError("new password must differ from the current password")
	}

	hash, err := c.hasher.Hash(newPassword)
	if err != nil {
		return false, oops.Code(CodePasswordFailed).With("operation", "hash password").Wrap(err)
	}
	next := NewPasswordUpdate(hash, now, c.cfg.PasswordMaxAge)
	next.ExpectHash = upd.ExpectHash
	next.ExpectResetTokenHash = upd.ExpectResetTokenHash
	next.ClearLockout = upd.ClearLockout

	applied, err := c.updatePassword(ctx, cred.ID, next)
	if err != nil {
		return false, oops.Code(CodePasswordFailed).With("operation", "update password").Wrap(err)
	}
	if applied {
		next.Apply(cred)
	}
	return applied, nil
}
