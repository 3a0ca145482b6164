// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CourtCheck Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/courtcheck/courtcheck/internal/auth/token"
	"github.com/courtcheck/courtcheck/pkg/errutil"
)

var tracer = otel.Tracer("courtcheck/auth")

// TokenType is the scheme clients present access tokens with.
const TokenType = "Bearer"

// dummyPassword is hashed once at construction. Unknown users are verified
// against it so their response time matches a real check.
const dummyPassword = "courtcheck-timing-parity-only"

// Deps are the collaborators a Coordinator needs. Hasher, MFA, Audit,
// Notifier, InFlight, Logger and Now are optional. Without InFlight the
// per-IP limit only sees this process's unfinished attempts.
type Deps struct {
	Credentials   CredentialStore
	Attempts      LoginAttemptLedger
	RefreshTokens RefreshTokenStore
	Sessions      SessionRegistry
	Issuer        *token.Issuer
	Blacklist     token.Blacklist

	Hasher   PasswordHasher
	MFA      MFAVerifier
	Audit    AuditSink
	Notifier NotificationSink
	InFlight InFlightCounter
	Logger   *slog.Logger
	Now      func() time.Time
}

// Coordinator implements login, logout, refresh, token validation and the
// password lifecycle on top of the stores.
type Coordinator struct {
	cfg         Config
	credentials CredentialStore
	attempts    LoginAttemptLedger
	refresh     RefreshTokenStore
	sessions    SessionRegistry
	issuer      *token.Issuer
	blacklist   token.Blacklist
	hasher      PasswordHasher
	mfa         MFAVerifier
	audit       AuditSink
	notifier    NotificationSink
	limiter     *ipRateLimiter
	logger      *slog.Logger
	now         func() time.Time
	dummyHash   string
}

// NewCoordinator validates deps and builds a Coordinator.
func NewCoordinator(cfg Config, deps Deps) (*Coordinator, error) {
	switch {
	case deps.Credentials == nil:
		return nil, oops.Code("AUTH_INVALID_DEPS").Errorf("credential store is required")
	case deps.Attempts == nil:
		return nil, oops.Code("AUTH_INVALID_DEPS").Errorf("attempt ledger is required")
	case deps.RefreshTokens == nil:
		return nil, oops.Code("AUTH_INVALID_DEPS").Errorf("refresh token store is required")
	case deps.Sessions == nil:
		return nil, oops.Code("AUTH_INVALID_DEPS").Errorf("session registry is required")
	case deps.Issuer == nil:
		return nil, oops.Code("AUTH_INVALID_DEPS").Errorf("token issuer is required")
	case deps.Blacklist == nil:
		return nil, oops.Code("AUTH_INVALID_DEPS").Errorf("token blacklist is required")
	}

	cfg = cfg.withDefaults()
	if deps.Hasher == nil {
		deps.Hasher = NewArgon2idHasher()
	}
	if deps.MFA == nil {
		deps.MFA = TOTPVerifier{Skew: 1}
	}
	if deps.Audit == nil {
		deps.Audit = nopAudit{}
	}
	if deps.Notifier == nil {
		deps.Notifier = nopNotifier{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	limiter, err := newIPRateLimiter(cfg.RateLimit, deps.Attempts, deps.InFlight)
	if err != nil {
		return nil, err
	}

	dummyHash, err := deps.Hasher.Hash(dummyPassword)
	if err != nil {
		return nil, oops.Code("AUTH_INVALID_DEPS").With("operation", "hash timing dummy").Wrap(err)
	}

	return &Coordinator{
		cfg:         cfg,
		credentials: deps.Credentials,
		attempts:    deps.Attempts,
		refresh:     deps.RefreshTokens,
		sessions:    deps.Sessions,
		issuer:      deps.Issuer,
		blacklist:   deps.Blacklist,
		hasher:      deps.Hasher,
		mfa:         deps.MFA,
		audit:       deps.Audit,
		notifier:    deps.Notifier,
		limiter:     limiter,
		logger:      deps.Logger,
		now:         deps.Now,
		dummyHash:   dummyHash,
	}, nil
}

// Config returns the effective configuration.
func (c *Coordinator) Config() Config {
	return c.cfg
}

// LogoutResult is always successful.
type LogoutResult struct {
	Success bool
}

// Logout blacklists the access token, revokes refresh tokens according to
// the logout scope and removes the session. Internal failures are logged and
// never reported: the caller is always told the logout succeeded.
func (c *Coordinator) Logout(ctx context.Context, accessToken string) LogoutResult {
	ctx, span := tracer.Start(ctx, "auth.logout")
	defer span.End()

	claims, ok := c.logoutClaims(accessToken)
	if !ok {
		c.logger.DebugContext(ctx, "logout with undecodable token")
		return LogoutResult{Success: true}
	}
	now := c.now()

	if err := c.revokeAccessToken(ctx, accessToken, claims.ExpiresAtTime()); err != nil {
		errutil.LogWarnContext(ctx, c.logger, "logout: blacklist access token failed", err)
	}

	if userID, err := ulid.Parse(claims.UserID); err == nil {
		var n int64
		var revokeErr error
		if c.cfg.LogoutScope == LogoutScopeSession {
			n, revokeErr = c.revokeBySession(ctx, claims.SessionID, RevokedLogout, now)
		} else {
			n, revokeErr = c.revokeAllForUser(ctx, userID, RevokedLogout, now)
		}
		if revokeErr != nil {
			errutil.LogWarnContext(ctx, c.logger, "logout: revoke refresh tokens failed", revokeErr)
		}
		recordRevoked(RevokedLogout, n)
	}

	if claims.SessionID != "" {
		if _, err := c.removeSession(ctx, claims.SessionID); err != nil {
			errutil.LogWarnContext(ctx, c.logger, "logout: remove session failed", err)
		}
	}

	span.SetAttributes(attribute.String("session.id", claims.SessionID))
	c.audit.Record(ctx, EventLogout, claims.Email(), "", OutcomeSuccess)
	return LogoutResult{Success: true}
}

// logoutClaims trusts a token whose signature verifies, expired or not.
func (c *Coordinator) logoutClaims(accessToken string) (*token.Claims, bool) {
	claims, err := c.issuer.Decode(accessToken)
	if err == nil {
		return claims, true
	}
	// Signatures are checked before expiry, so an expired token is authentic.
	if errors.Is(err, token.ErrExpired) {
		claims, err = c.issuer.DecodeUnverified(accessToken)
		return claims, err == nil
	}
	return nil, false
}

// ValidationResult describes an access token. Reason is set only when the
// token is invalid.
type ValidationResult struct {
	Valid     bool
	Email     string
	UserID    string
	SessionID string
	ExpiresAt time.Time
	Roles     []string
	Reason    string
}

// Reasons reported by ValidateToken.
const (
	InvalidReasonToken   = "invalid or expired token"
	InvalidReasonAccount = "account is not active"
	InvalidReasonLookup  = "token could not be verified"
)

// ValidateToken checks signature, expiry and revocation, then that the
// owning user is still active and has not changed password since issue.
func (c *Coordinator) ValidateToken(ctx context.Context, accessToken string) ValidationResult {
	ctx, span := tracer.Start(ctx, "auth.validate")
	defer span.End()

	if !c.issuer.Validate(ctx, accessToken) {
		return ValidationResult{Reason: InvalidReasonToken}
	}
	claims, err := c.issuer.Decode(accessToken)
	if err != nil {
		return ValidationResult{Reason: InvalidReasonToken}
	}

	userID, err := ulid.Parse(claims.UserID)
	if err != nil {
		return ValidationResult{Reason: InvalidReasonToken}
	}
	cred, err := c.findByID(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return ValidationResult{Reason: InvalidReasonAccount}
	}
	if err != nil {
		errutil.LogWarnContext(ctx, c.logger, "validate: credential lookup failed", err)
		return ValidationResult{Reason: InvalidReasonLookup}
	}
	if !cred.Active {
		return ValidationResult{Reason: InvalidReasonAccount}
	}
	if issuedBeforePasswordChange(claims.IssuedAtTime(), cred.PasswordChangedAt) {
		return ValidationResult{Reason: InvalidReasonToken}
	}

	return ValidationResult{
		Valid:     true,
		Email:     claims.Email(),
		UserID:    claims.UserID,
		SessionID: claims.SessionID,
		ExpiresAt: claims.ExpiresAtTime(),
		Roles:     claims.Roles,
	}
}

// issuedBeforePasswordChange compares at second resolution, the resolution
// of the iat claim.
func issuedBeforePasswordChange(issuedAt time.Time, changedAt *time.Time) bool {
	return changedAt != nil && issuedAt.Before(changedAt.Truncate(time.Second))
}

// invalidateAll revokes every refresh token and session of a user and
// blacklists the sessions' access tokens. Failures are logged; tokens issued
// before the password change are rejected by ValidateToken and Refresh anyway.
func (c *Coordinator) invalidateAll(ctx context.Context, cred *Credential, reason string, now time.Time) {
	n, err := c.revokeAllForUser(ctx, cred.ID, reason, now)
	if err != nil {
		errutil.LogErrorContext(ctx, c.logger, "revoke refresh tokens failed", err)
	}
	recordRevoked(reason, n)

	sessions, err := c.removeAllSessions(ctx, cred.ID)
	if err != nil {
		errutil.LogErrorContext(ctx, c.logger, "remove sessions failed", err)
	}
	for _, s := range sessions {
		if err := c.revokeAccessToken(ctx, s.AccessToken, s.AccessExpiresAt); err != nil {
			errutil.LogErrorContext(ctx, c.logger, "blacklist session token failed", err)
		}
	}
}

// evict cleans up sessions pushed out by a forced login.
func (c *Coordinator) evict(ctx context.Context, evicted []*Session, now time.Time) {
	for _, s := range evicted {
		if err := c.revokeAccessToken(ctx, s.AccessToken, s.AccessExpiresAt); err != nil {
			errutil.LogWarnContext(ctx, c.logger, "evict: blacklist access token failed", err)
		}
		n, err := c.revokeBySession(ctx, s.ID, RevokedSessionEvicted, now)
		if err != nil {
			errutil.LogWarnContext(ctx, c.logger, "evict: revoke refresh tokens failed", err)
		}
		recordRevoked(RevokedSessionEvicted, n)
		SessionsEvictedTotal.Inc()
		c.audit.Record(ctx, EventSessionEvicted, s.Email, s.IP, OutcomeSuccess)
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
