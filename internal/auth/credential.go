// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CourtCheck Contributors

package auth

import (
	"context"
	"net/mail"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Credential is the authentication record of one user.
type Credential struct {
	ID                  ulid.ULID
	Email               string
	PasswordHash        string
	Roles               []string
	Active              bool
	FailedAttempts      int
	LastFailedAt        *time.Time
	LockoutUntil        *time.Time
	ResetTokenHash      string
	ResetTokenExpiresAt *time.Time
	PasswordExpiresAt   *time.Time
	MustChangePassword  bool
	PasswordChangedAt   *time.Time
	LastLoginAt         *time.Time
	MFAEnabled          bool
	MFASecret           string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// NewCredential creates an active Credential for email with a pre-hashed password.
func NewCredential(email, passwordHash string, roles []string) (*Credential, error) {
	normalized, err := NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if passwordHash == "" {
		return nil, oops.Code("CREDENTIAL_INVALID_HASH").Errorf("password hash cannot be empty")
	}

	now := time.Now()
	return &Credential{
		ID:           ulid.Make(),
		Email:        normalized,
		PasswordHash: passwordHash,
		Roles:        slices.Clone(roles),
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// NormalizeEmail lowercases and validates an email address.
func NormalizeEmail(email string) (string, error) {
	trimmed := strings.ToLower(strings.TrimSpace(email))
	if trimmed == "" {
		return "", oops.Code("CREDENTIAL_INVALID_EMAIL").Errorf("email cannot be empty")
	}
	addr, err := mail.ParseAddress(trimmed)
	if err != nil || addr.Address != trimmed {
		return "", oops.Code("CREDENTIAL_INVALID_EMAIL").Errorf("email %q is not a valid address", email)
	}
	return trimmed, nil
}

// LockState returns the account lock state at now.
func (c *Credential) LockState(now time.Time) LockState {
	if IsLockedOutAt(c.LockoutUntil, now) {
		return LockLocked
	}
	return LockOpen
}

// IsLockedAt returns true if the account is locked at now.
func (c *Credential) IsLockedAt(now time.Time) bool {
	return c.LockState(now) == LockLocked
}

// ClearElapsedLock moves an account whose lock has run out back to OPEN with
// a fresh failure count. Returns true if anything changed.
func (c *Credential) ClearElapsedLock(now time.Time) bool {
	if c.LockoutUntil == nil || c.LockoutUntil.After(now) {
		return false
	}
	c.LockoutUntil = nil
	c.FailedAttempts = 0
	c.LastFailedAt = nil
	c.UpdatedAt = now
	return true
}

// RecordFailure counts one failed attempt at now and locks the account when
// the policy threshold is reached. An elapsed lock restarts the count and an
// active lock is never extended. Returns true if this failure locked it.
func (c *Credential) RecordFailure(policy LockoutPolicy, now time.Time) bool {
	policy = policy.WithDefaults()
	c.ClearElapsedLock(now)
	c.FailedAttempts = policy.nextFailureCount(c.FailedAttempts, c.LastFailedAt, now)
	failedAt := now
	c.LastFailedAt = &failedAt
	c.UpdatedAt = now

	if IsLockedOutAt(c.LockoutUntil, now) {
		return false
	}
	if until := policy.lockoutFor(c.FailedAttempts, now); until != nil {
		c.LockoutUntil = until
		return true
	}
	return false
}

// FailureOutcome is the account state after one recorded failure.
type FailureOutcome struct {
	FailedAttempts int
	LockoutUntil   *time.Time
	// JustLocked is true only for the failure that crossed the threshold.
	JustLocked bool
}

// RecordSuccess resets the failure counter and lockout and stamps the login.
func (c *Credential) RecordSuccess(now time.Time) {
	c.FailedAttempts = 0
	c.LastFailedAt = nil
	c.LockoutUntil = nil
	loginAt := now
	c.LastLoginAt = &loginAt
	c.UpdatedAt = now
}

// ClearLockout resets the failure counter and any lock without stamping a login.
func (c *Credential) ClearLockout(now time.Time) {
	c.FailedAttempts = 0
	c.LastFailedAt = nil
	c.LockoutUntil = nil
	c.UpdatedAt = now
}

// PasswordExpiredAt returns true if the password has passed its expiry.
func (c *Credential) PasswordExpiredAt(now time.Time) bool {
	return c.PasswordExpiresAt != nil && !c.PasswordExpiresAt.After(now)
}

// SetPassword replaces the hash and clears any outstanding reset token.
func (c *Credential) SetPassword(hash string, now time.Time, maxAge time.Duration) {
	NewPasswordUpdate(hash, now, maxAge).Apply(c)
}

// PasswordUpdate is a password change applied only while the stored
// credential still matches its expectations.
type PasswordUpdate struct {
	Hash      string
	ChangedAt time.Time
	ExpiresAt *time.Time

	// ExpectHash, when set, must equal the stored password hash.
	ExpectHash string
	// ExpectResetTokenHash, when set, must equal the stored reset token hash.
	ExpectResetTokenHash string
	// ClearLockout also resets the failure count and any lock.
	ClearLockout bool
}

// NewPasswordUpdate builds an unconditional update to hash at now.
func NewPasswordUpdate(hash string, now time.Time, maxAge time.Duration) PasswordUpdate {
	upd := PasswordUpdate{Hash: hash, ChangedAt: now}
	if maxAge > 0 {
		expires := now.Add(maxAge)
		upd.ExpiresAt = &expires
	}
	return upd
}

// Matches reports whether c still satisfies the update's expectations.
func (u PasswordUpdate) Matches(c *Credential) bool {
	if u.ExpectHash != "" && c.PasswordHash != u.ExpectHash {
		return false
	}
	if u.ExpectResetTokenHash != "" && c.ResetTokenHash != u.ExpectResetTokenHash {
		return false
	}
	return true
}

// Apply writes the update into c without checking expectations.
func (u PasswordUpdate) Apply(c *Credential) {
	c.PasswordHash = u.Hash
	c.ResetTokenHash = ""
	c.ResetTokenExpiresAt = nil
	c.MustChangePassword = false
	changedAt := u.ChangedAt
	c.PasswordChangedAt = &changedAt
	if u.ExpiresAt != nil {
		expires := *u.ExpiresAt
		c.PasswordExpiresAt = &expires
	} else {
		c.PasswordExpiresAt = nil
	}
	if u.ClearLockout {
		c.ClearLockout(u.ChangedAt)
	}
	c.UpdatedAt = u.ChangedAt
}

// HasRole returns true if the credential carries role.
func (c *Credential) HasRole(role string) bool {
	return slices.Contains(c.Roles, role)
}

// UserSummary is the non-secret view of a credential returned on login.
type UserSummary struct {
	ID                 string   `json:"id"`
	Email              string   `json:"email"`
	Roles              []string `json:"roles"`
	MustChangePassword bool     `json:"mustChangePassword"`
}

// Summary returns the non-secret view of the credential.
func (c *Credential) Summary(now time.Time) UserSummary {
	return UserSummary{
		ID:                 c.ID.String(),
		Email:              c.Email,
		Roles:              slices.Clone(c.Roles),
		MustChangePassword: c.MustChangePassword || c.PasswordExpiredAt(now),
	}
}

// CredentialStore loads and saves credentials.
//
// Save writes the whole row and is meant for administration. The login and
// password flows only use the narrow conditional updates so that concurrent
// requests cannot overwrite each other's columns.
type CredentialStore interface {
	// FindByEmail retrieves a credential by normalized email.
	// Returns ErrNotFound if no credential has the given email.
	FindByEmail(ctx context.Context, email string) (*Credential, error)

	// FindByID retrieves a credential by ID.
	FindByID(ctx context.Context, id ulid.ULID) (*Credential, error)

	// FindByResetTokenHash retrieves the credential holding a reset token.
	FindByResetTokenHash(ctx context.Context, tokenHash string) (*Credential, error)

	// Save inserts or updates a credential.
	Save(ctx context.Context, cred *Credential) error

	// RecordFailure counts one failed login in a single atomic step with the
	// same rules as Credential.RecordFailure.
	RecordFailure(ctx context.Context, id ulid.ULID, policy LockoutPolicy, now time.Time) (*FailureOutcome, error)

	// RecordSuccess clears failures and any lock and stamps the login, but
	// only while the stored hash equals passwordHash. Returns false if the
	// password changed after it was verified or the credential is gone.
	RecordSuccess(ctx context.Context, id ulid.ULID, passwordHash string, now time.Time) (bool, error)

	// UpgradePasswordHash swaps oldHash for newHash. Returns false if the
	// stored hash is no longer oldHash.
	UpgradePasswordHash(ctx context.Context, id ulid.ULID, oldHash, newHash string, now time.Time) (bool, error)

	// SetResetToken stores the hash and expiry of a password reset token.
	SetResetToken(ctx context.Context, id ulid.ULID, tokenHash string, expiresAt, now time.Time) error

	// UpdatePassword applies upd if the stored credential still matches it.
	// Returns false otherwise, including when the credential is gone.
	UpdatePassword(ctx context.Context, id ulid.ULID, upd PasswordUpdate) (bool, error)
}
