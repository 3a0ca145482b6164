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

const credentialColumns = `id, email, password_hash, roles, active,
		       failed_attempts, last_failed_at, lockout_until,
		       reset_token_hash, reset_token_expires_at,
		       password_expires_at, must_change_password, password_changed_at,
		       last_login_at, mfa_enabled, mfa_secret, created_at, updated_at`

// CredentialRepository implements auth.CredentialStore using PostgreSQL.
type CredentialRepository struct {
	pool pool
}

// NewCredentialRepository creates a new CredentialRepository.
func NewCredentialRepository(p pool) *CredentialRepository {
	return &CredentialRepository{pool: p}
}

// FindByEmail retrieves a credential by normalized email.
func (r *CredentialRepository) FindByEmail(ctx context.Context, email string) (*auth.Credential, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+credentialColumns+`
		FROM credentials
		WHERE email = $1
	`, email)

	cred, err := scanCredential(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("CREDENTIAL_NOT_FOUND").
			With("email", email).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("CREDENTIAL_GET_BY_EMAIL_FAILED").
			With("operation", "get credential by email").
			With("email", email).
			Wrap(err)
	}
	return cred, nil
}

// FindByID retrieves a credential by ID.
func (r *CredentialRepository) FindByID(ctx context.Context, id ulid.ULID) (*auth.Credential, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+credentialColumns+`
		FROM credentials
		WHERE id = $1
	`, id.String())

	cred, err := scanCredential(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("CREDENTIAL_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("CREDENTIAL_GET_BY_ID_FAILED").
			With("operation", "get credential by id").
			With("id", id.String()).
			Wrap(err)
	}
	return cred, nil
}

// FindByResetTokenHash retrieves the credential holding a reset token.
func (r *CredentialRepository) FindByResetTokenHash(ctx context.Context, tokenHash string) (*auth.Credential, error) {
	if tokenHash == "" {
		return nil, oops.Code("CREDENTIAL_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	row := r.pool.QueryRow(ctx, `
		SELECT `+credentialColumns+`
		FROM credentials
		WHERE reset_token_hash = $1
	`, tokenHash)

	cred, err := scanCredential(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("CREDENTIAL_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("CREDENTIAL_GET_BY_RESET_TOKEN_FAILED").
			With("operation", "get credential by reset token").
			Wrap(err)
	}
	return cred, nil
}

// Save inserts the credential or updates it in place.
func (r *CredentialRepository) Save(ctx context.Context, cred *auth.Credential) error {
	var resetHash *string
	if cred.ResetTokenHash != "" {
		resetHash = &cred.ResetTokenHash
	}
	roles := cred.Roles
	if roles == nil {
		roles = []string{}
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO credentials (
			id, email, password_hash, roles, active,
			failed_attempts, last_failed_at, lockout_until,
			reset_token_hash, reset_token_expires_at,
			password_expires_at, must_change_password, password_changed_at,
			last_login_at, mfa_enabled, mfa_secret, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			password_hash = EXCLUDED.password_hash,
			roles = EXCLUDED.roles,
			active = EXCLUDED.active,
			failed_attempts = EXCLUDED.failed_attempts,
			last_failed_at = EXCLUDED.last_failed_at,
			lockout_until = EXCLUDED.lockout_until,
			reset_token_hash = EXCLUDED.reset_token_hash,
			reset_token_expires_at = EXCLUDED.reset_token_expires_at,
			password_expires_at = EXCLUDED.password_expires_at,
			must_change_password = EXCLUDED.must_change_password,
			password_changed_at = EXCLUDED.password_changed_at,
			last_login_at = EXCLUDED.last_login_at,
			mfa_enabled = EXCLUDED.mfa_enabled,
			mfa_secret = EXCLUDED.mfa_secret,
			updated_at = EXCLUDED.updated_at
	`,
		cred.ID.String(),
		cred.Email,
		cred.PasswordHash,
		roles,
		cred.Active,
		cred.FailedAttempts,
		cred.LastFailedAt,
		cred.LockoutUntil,
		resetHash,
		cred.ResetTokenExpiresAt,
		cred.PasswordExpiresAt,
		cred.MustChangePassword,
		cred.PasswordChangedAt,
		cred.LastLoginAt,
		cred.MFAEnabled,
		cred.MFASecret,
		cred.CreatedAt,
		cred.UpdatedAt,
	)
	if isUniqueViolation(err, "idx_credentials_email") {
		return oops.Code("CREDENTIAL_EMAIL_TAKEN").
			With("email", cred.Email).
			Errorf("email already registered")
	}
	if err != nil {
		return oops.Code("CREDENTIAL_SAVE_FAILED").
			With("operation", "upsert credential").
			With("id", cred.ID.String()).
			Wrap(err)
	}
	return nil
}

// failureBase is the failure count before the new failure: zero after an
// elapsed lock or when the previous failure fell out of the window.
const failureBase = `CASE
			WHEN c.lockout_until IS NOT NULL AND c.lockout_until <= $2 THEN 0
			WHEN $3::timestamptz IS NOT NULL AND c.last_failed_at < $3::timestamptz THEN 0
			ELSE c.failed_attempts
		END`

// RecordFailure counts one failed login in a single statement. The row lock
// taken by prev serializes concurrent failures so none is lost.
func (r *CredentialRepository) RecordFailure(ctx context.Context, id ulid.ULID, policy auth.LockoutPolicy, now time.Time) (*auth.FailureOutcome, error) {
	policy = policy.WithDefaults()
	var (
		out   auth.FailureOutcome
		until *time.Time
	)
	err := r.pool.QueryRow(ctx, `
		WITH prev AS (
			SELECT id, lockout_until FROM credentials WHERE id = $1 FOR UPDATE
		)
		UPDATE credentials c SET
			failed_attempts = `+failureBase+` + 1,
			last_failed_at = $2,
			lockout_until = CASE
				WHEN c.lockout_until > $2 THEN c.lockout_until
				WHEN `+failureBase+` + 1 >= $4 THEN $5::timestamptz
				ELSE NULL
			END,
			updated_at = $2
		FROM prev
		WHERE c.id = prev.id
		RETURNING c.failed_attempts, c.lockout_until,
			(prev.lockout_until IS NULL OR prev.lockout_until <= $2) AND c.lockout_until IS NOT NULL
	`, id.String(), now, policy.WindowStart(now), policy.MaxAttempts, now.Add(policy.Duration)).
		Scan(&out.FailedAttempts, &until, &out.JustLocked)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("CREDENTIAL_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("CREDENTIAL_RECORD_FAILURE_FAILED").
			With("operation", "record login failure").
			With("id", id.String()).
			Wrap(err)
	}
	if until != nil {
		utc := until.UTC()
		out.LockoutUntil = &utc
	}
	return &out, nil
}

// RecordSuccess clears the lockout columns and stamps the login while the
// stored hash is still passwordHash.
func (r *CredentialRepository) RecordSuccess(ctx context.Context, id ulid.ULID, passwordHash string, now time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE credentials
		SET failed_attempts = 0, last_failed_at = NULL, lockout_until = NULL,
		    last_login_at = $3, updated_at = $3
		WHERE id = $1 AND password_hash = $2
	`, id.String(), passwordHash, now)
	if err != nil {
		return false, oops.Code("CREDENTIAL_RECORD_SUCCESS_FAILED").
			With("operation", "record login success").
			With("id", id.String()).
			Wrap(err)
	}
	return tag.RowsAffected() == 1, nil
}

// UpgradePasswordHash swaps oldHash for newHash.
func (r *CredentialRepository) UpgradePasswordHash(ctx context.Context, id ulid.ULID, oldHash, newHash string, now time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE credentials
		SET password_hash = $3, updated_at = $4
		WHERE id = $1 AND password_hash = $2
	`, id.String(), oldHash, newHash, now)
	if err != nil {
		return false, oops.Code("CREDENTIAL_UPGRADE_HASH_FAILED").
			With("operation", "upgrade password hash").
			With("id", id.String()).
			Wrap(err)
	}
	return tag.RowsAffected() == 1, nil
}

// SetResetToken stores a reset token hash and its expiry.
func (r *CredentialRepository) SetResetToken(ctx context.Context, id ulid.ULID, tokenHash string, expiresAt, now time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE credentials
		SET reset_token_hash = $2, reset_token_expires_at = $3, updated_at = $4
		WHERE id = $1
	`, id.String(), tokenHash, expiresAt, now)
	if err != nil {
		return oops.Code("CREDENTIAL_SET_RESET_TOKEN_FAILED").
			With("operation", "set reset token").
			With("id", id.String()).
			Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("CREDENTIAL_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// UpdatePassword applies upd when the row still carries the expected hash
// and reset token.
func (r *CredentialRepository) UpdatePassword(ctx context.Context, id ulid.ULID, upd auth.PasswordUpdate) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE credentials SET
			password_hash = $2,
			password_changed_at = $3,
			password_expires_at = $4,
			reset_token_hash = NULL,
			reset_token_expires_at = NULL,
			must_change_password = FALSE,
			failed_attempts = CASE WHEN $5::boolean THEN 0 ELSE failed_attempts END,
			last_failed_at = CASE WHEN $5::boolean THEN NULL ELSE last_failed_at END,
			lockout_until = CASE WHEN $5::boolean THEN NULL ELSE lockout_until END,
			updated_at = $3
		WHERE id = $1
		  AND ($6::text = '' OR password_hash = $6::text)
		  AND ($7::text = '' OR reset_token_hash = $7::text)
	`, id.String(), upd.Hash, upd.ChangedAt, upd.ExpiresAt, upd.ClearLockout, upd.ExpectHash, upd.ExpectResetTokenHash)
	if err != nil {
		return false, oops.Code("CREDENTIAL_UPDATE_PASSWORD_FAILED").
			With("operation", "update password").
			With("id", id.String()).
			Wrap(err)
	}
	return tag.RowsAffected() == 1, nil
}

// scanCredential leaves pgx.ErrNoRows unwrapped for callers.
func scanCredential(row pgx.Row) (*auth.Credential, error) {
	var (
		idStr     string
		resetHash *string
		cred      auth.Credential
	)
	err := row.Scan(
		&idStr,
		&cred.Email,
		&cred.PasswordHash,
		&cred.Roles,
		&cred.Active,
		&cred.FailedAttempts,
		&cred.LastFailedAt,
		&cred.LockoutUntil,
		&resetHash,
		&cred.ResetTokenExpiresAt,
		&cred.PasswordExpiresAt,
		&cred.MustChangePassword,
		&cred.PasswordChangedAt,
		&cred.LastLoginAt,
		&cred.MFAEnabled,
		&cred.MFASecret,
		&cred.CreatedAt,
		&cred.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // callers wrap with lookup context
		}
		return nil, oops.Code("CREDENTIAL_SCAN_FAILED").
			With("operation", "scan credential").
			Wrap(err)
	}

	cred.ID, err = ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("CREDENTIAL_INVALID_ID").
			With("id", idStr).
			Wrap(err)
	}
	if resetHash != nil {
		cred.ResetTokenHash = *resetHash
	}
	normalizeTimes(&cred)
	return &cred, nil
}

// normalizeTimes converts scanned timestamps to UTC.
func normalizeTimes(c *auth.Credential) {
	for _, t := range []**time.Time{
		&c.LastFailedAt, &c.LockoutUntil, &c.ResetTokenExpiresAt,
		&c.PasswordExpiresAt, &c.PasswordChangedAt, &c.LastLoginAt,
	} {
		if *t != nil {
			utc := (*t).UTC()
			*t = &utc
		}
	}
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
}

// Compile-time interface check.
var _ auth.CredentialStore = (*CredentialRepository)(nil)
