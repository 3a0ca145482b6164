// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CourtCheck Contributors

package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/courtcheck/courtcheck/pkg/errutil"
)

// LoginRequest carries credentials plus the client details the transport saw.
type LoginRequest struct {
	Email      string
	Password   string
	MFACode    string
	ForceLogin bool
	IP         string
	UserAgent  string
}

// LoginStatus tags a successful Login outcome.
type LoginStatus int

// Login outcomes that are not errors.
const (
	// LoginAuthenticated means tokens were issued.
	LoginAuthenticated LoginStatus = iota
	// LoginMFARequired means the password was right and a second factor is needed.
	LoginMFARequired
)

func (s LoginStatus) String() string {
	if s == LoginMFARequired {
		return "mfa_required"
	}
	return "authenticated"
}

// LoginResult is returned by Login. Token fields are empty unless Status is
// LoginAuthenticated.
type LoginResult struct {
	Status          LoginStatus
	AccessToken     string
	RefreshToken    string
	TokenType       string
	ExpiresIn       time.Duration
	AccessExpiresAt time.Time
	SessionID       string
	Roles           []string
	User            UserSummary
}

// Login authenticates a user and opens a session.
//
// Failures are typed: ErrRateLimited, ErrAuthentication (uniform for unknown
// user, wrong password, wrong MFA code or disabled account), ErrAccountLocked
// and ErrSessionLimit.
func (c *Coordinator) Login(ctx context.Context, req LoginRequest) (result *LoginResult, err error) {
	ctx, span := tracer.Start(ctx, "auth.login",
		trace.WithAttributes(attribute.String("client.ip", req.IP)),
	)
	defer func() { endSpan(span, err) }()

	now := c.now()
	email := strings.ToLower(strings.TrimSpace(req.Email))

	release, err := c.reserveAttempt(ctx, req.IP, now)
	defer c.releaseAttempt(ctx, release)
	if err != nil {
		if errors.Is(err, ErrRateLimited) {
			c.appendAttempt(ctx, email, req, ReasonRateLimited, now)
			c.recordLogin(ctx, email, req.IP, OutcomeRateLimited)
		}
		return nil, err
	}

	cred, err := c.findByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		_, _ = c.hasher.Verify(req.Password, c.dummyHash) //nolint:errcheck // timing parity only
		c.appendAttempt(ctx, email, req, ReasonUnknownUser, now)
		c.recordLogin(ctx, email, req.IP, OutcomeFailure)
		return nil, authenticationError(ReasonUnknownUser)
	}
	if err != nil {
		return nil, oops.Code(CodeLoginFailed).With("operation", "find credential").Wrap(err)
	}
	span.SetAttributes(attribute.String("user.id", cred.ID.String()))

	if cred.IsLockedAt(now) {
		c.appendAttempt(ctx, email, req, ReasonLocked, now)
		c.recordLogin(ctx, email, req.IP, OutcomeLocked)
		return nil, accountLockedError(*cred.LockoutUntil, now)
	}

	if !cred.Active {
		c.appendAttempt(ctx, email, req, ReasonDisabled, now)
		c.recordLogin(ctx, email, req.IP, OutcomeFailure)
		return nil, authenticationError(ReasonDisabled)
	}

	valid, err := c.hasher.Verify(req.Password, cred.PasswordHash)
	if err != nil {
		return nil, oops.Code(CodeLoginFailed).
			With("operation", "verify password").
			With("user_id", cred.ID.String()).
			Wrap(err)
	}
	if !valid {
		return nil, c.failLogin(ctx, cred, req, ReasonBadPassword, now)
	}

	if cred.MFAEnabled {
		if req.MFACode == "" {
			c.recordLogin(ctx, email, req.IP, OutcomeMFARequired)
			return &LoginResult{Status: LoginMFARequired}, nil
		}
		if !c.mfa.Verify(cred.MFASecret, req.MFACode, now) {
			return nil, c.failLogin(ctx, cred, req, ReasonBadMFA, now)
		}
	}

	session := NewSession(cred.ID, cred.Email, req.IP, req.UserAgent, now, c.cfg.SessionTimeout)
	accessToken, accessExpiresAt, err := c.issuer.Issue(cred.ID.String(), cred.Email, cred.Roles, session.ID, c.cfg.AccessTokenTTL)
	if err != nil {
		return nil, oops.Code(CodeLoginFailed).With("operation", "issue access token").Wrap(err)
	}
	session.AccessToken = accessToken
	session.AccessExpiresAt = accessExpiresAt

	evicted, err := c.registerSession(ctx, session, req.ForceLogin)
	if errors.Is(err, ErrSessionLimit) {
		c.appendAttempt(ctx, email, req, ReasonSessionLimit, now)
		c.recordLogin(ctx, email, req.IP, OutcomeSessionLimit)
		return nil, err
	}
	if err != nil {
		return nil, oops.Code(CodeLoginFailed).With("operation", "register session").Wrap(err)
	}
	c.evict(ctx, evicted, now)

	refreshToken, err := c.issueRefreshToken(ctx, cred.ID, cred.Email, session, req.IP, req.UserAgent, now)
	if err != nil {
		if _, rmErr := c.removeSession(ctx, session.ID); rmErr != nil {
			errutil.LogWarnContext(ctx, c.logger, "login: roll back session failed", rmErr)
		}
		return nil, oops.Code(CodeLoginFailed).With("operation", "issue refresh token").Wrap(err)
	}

	current, err := c.recordSuccess(ctx, cred.ID, cred.PasswordHash, now)
	if err != nil {
		errutil.LogErrorContext(ctx, c.logger, "login: record success failed", err)
	} else if !current {
		c.discardSession(ctx, session, now)
		c.appendAttempt(ctx, email, req, ReasonPasswordChanged, now)
		c.recordLogin(ctx, email, req.IP, OutcomeFailure)
		return nil, authenticationError(ReasonPasswordChanged)
	}
	if c.hasher.NeedsUpgrade(cred.PasswordHash) {
		c.upgradeHash(ctx, cred, req.Password, now)
	}
	c.appendAttempt(ctx, email, req, "", now)
	c.recordLogin(ctx, email, req.IP, OutcomeSuccess)

	return &LoginResult{
		Status:          LoginAuthenticated,
		AccessToken:     accessToken,
		RefreshToken:    refreshToken,
		TokenType:       TokenType,
		ExpiresIn:       c.cfg.AccessTokenTTL,
		AccessExpiresAt: accessExpiresAt,
		SessionID:       session.ID,
		Roles:           slices.Clone(cred.Roles),
		User:            cred.Summary(now),
	}, nil
}

// failLogin counts a credential failure, possibly locking the account.
func (c *Coordinator) failLogin(ctx context.Context, cred *Credential, req LoginRequest, reason string, now time.Time) error {
	outcome, err := c.recordFailure(ctx, cred.ID, now)
	if err != nil {
		errutil.LogErrorContext(ctx, c.logger, "login: record failure failed", err)
	}
	c.appendAttempt(ctx, cred.Email, req, reason, now)
	c.recordLogin(ctx, cred.Email, req.IP, OutcomeFailure)

	if outcome != nil && outcome.JustLocked && outcome.LockoutUntil != nil {
		c.audit.Record(ctx, EventAccountLocked, cred.Email, req.IP, OutcomeLocked)
		c.notifier.Send(ctx, cred.Email, "Your CourtCheck account has been locked",
			fmt.Sprintf("After %d failed sign-in attempts your account is locked until %s.",
				outcome.FailedAttempts, outcome.LockoutUntil.UTC().Format(time.RFC1123)))
	}
	return authenticationError(reason)
}

// upgradeHash rehashes a verified password with the current parameters. A
// password changed in the meantime wins.
func (c *Coordinator) upgradeHash(ctx context.Context, cred *Credential, password string, now time.Time) {
	upgraded, err := c.hasher.Hash(password)
	if err != nil {
		errutil.LogWarnContext(ctx, c.logger, "login: password hash upgrade failed", err)
		return
	}
	if _, err := c.upgradePasswordHash(ctx, cred.ID, cred.PasswordHash, upgraded, now); err != nil {
		errutil.LogWarnContext(ctx, c.logger, "login: save upgraded hash failed", err)
	}
}

// discardSession undoes a login that lost a race with a password change.
func (c *Coordinator) discardSession(ctx context.Context, s *Session, now time.Time) {
	if _, err := c.removeSession(ctx, s.ID); err != nil {
		errutil.LogWarnContext(ctx, c.logger, "login: roll back session failed", err)
	}
	n, err := c.revokeBySession(ctx, s.ID, RevokedPasswordChange, now)
	if err != nil {
		errutil.LogErrorContext(ctx, c.logger, "login: revoke refresh token failed", err)
	}
	recordRevoked(RevokedPasswordChange, n)
	if err := c.revokeAccessToken(ctx, s.AccessToken, s.AccessExpiresAt); err != nil {
		errutil.LogErrorContext(ctx, c.logger, "login: blacklist access token failed", err)
	}
}

func (c *Coordinator) recordLogin(ctx context.Context, email, ip, outcome string) {
	LoginsTotal.WithLabelValues(outcome).Inc()
	c.audit.Record(ctx, EventLogin, email, ip, outcome)
}

// issueRefreshToken persists a new refresh token bound to s and returns its
// plaintext. The token remembers when s ends so that it cannot outlive it.
func (c *Coordinator) issueRefreshToken(ctx context.Context, userID ulid.ULID, email string, s *Session, ip, userAgent string, now time.Time) (string, error) {
	plaintext, tokenHash, err := GenerateOpaqueToken()
	if err != nil {
		return "", err
	}
	rt := &RefreshToken{
		ID:               ulid.Make(),
		TokenHash:        tokenHash,
		UserID:           userID,
		Email:            email,
		SessionID:        s.ID,
		SessionExpiresAt: s.ExpiresAt,
		ExpiresAt:        now.Add(c.cfg.RefreshTokenValidity),
		CreatedAt:        now,
		IP:               ip,
		UserAgent:        userAgent,
	}
	if err := c.createRefreshToken(ctx, rt); err != nil {
		return "", err
	}
	return plaintext, nil
}
