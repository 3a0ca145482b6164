// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CourtCheck Contributors

package postgres

import (
	"context"
	"time"

	"github.com/samber/oops"

	"github.com/courtcheck/courtcheck/internal/auth"
)

// AttemptLedger implements auth.LoginAttemptLedger using PostgreSQL.
type AttemptLedger struct {
	pool pool
}

// NewAttemptLedger creates a new AttemptLedger.
func NewAttemptLedger(p pool) *AttemptLedger {
	return &AttemptLedger{pool: p}
}

// Append records an attempt.
func (l *AttemptLedger) Append(ctx context.Context, attempt *auth.LoginAttempt) error {
	_, err := l.pool.Exec(ctx, `
		INSERT INTO login_attempts (id, email, ip_address, user_agent, success, failure_reason, attempted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		attempt.ID.String(),
		attempt.Email,
		attempt.IP,
		attempt.UserAgent,
		attempt.Success,
		attempt.FailureReason,
		attempt.At,
	)
	if err != nil {
		return oops.Code("LOGIN_ATTEMPT_APPEND_FAILED").
			With("operation", "insert login attempt").
			With("ip", attempt.IP).
			Wrap(err)
	}
	return nil
}

// CountByIPSince counts attempts from ip at or after since.
func (l *AttemptLedger) CountByIPSince(ctx context.Context, ip string, since time.Time) (int, error) {
	var count int
	err := l.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM login_attempts
		WHERE ip_address = $1 AND attempted_at >= $2
	`, ip, since).Scan(&count)
	if err != nil {
		return 0, oops.Code("LOGIN_ATTEMPT_COUNT_FAILED").
			With("operation", "count attempts by ip").
			With("ip", ip).
			Wrap(err)
	}
	return count, nil
}

// DeleteBefore prunes attempts older than before.
func (l *AttemptLedger) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := l.pool.Exec(ctx, `
		DELETE FROM login_attempts WHERE attempted_at < $1
	`, before)
	if err != nil {
		return 0, oops.Code("LOGIN_ATTEMPT_PRUNE_FAILED").
			With("operation", "delete old attempts").
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

var _ auth.LoginAttemptLedger = (*AttemptLedger)(nil)
