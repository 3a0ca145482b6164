// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CourtCheck Contributors

package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/courtcheck/courtcheck/pkg/errutil"
)

func TestMinutesUntil(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	tests := []struct {
		name  string
		until time.Time
		want  int
	}{
		{name: "past", until: now.Add(-time.Minute), want: 0},
		{name: "now", until: now, want: 0},
		{name: "seconds left", until: now.Add(10 * time.Second), want: 1},
		{name: "whole minutes", until: now.Add(15 * time.Minute), want: 15},
		{name: "partial minute rounds up", until: now.Add(4*time.Minute + time.Second), want: 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, minutesUntil(tt.until, now))
		})
	}
}

func TestAccountLockedError(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	err := accountLockedError(now.Add(14*time.Minute+30*time.Second), now)

	require.ErrorIs(t, err, ErrAccountLocked)
	errutil.AssertErrorCode(t, err, CodeAccountLocked)

	minutes, ok := LockedMinutes(err)
	require.True(t, ok)
	assert.Equal(t, 15, minutes)
	assert.Contains(t, err.Error(), "retry in 15 minute(s)")

	_, ok = LockedMinutes(errors.New("other"))
	assert.False(t, ok)
}

func TestTypedErrorKinds(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind error
		code string
	}{
		{name: "authentication", err: authenticationError(ReasonBadPassword), kind: ErrAuthentication, code: CodeInvalidCredentials},
		{name: "invalid token", err: invalidTokenError("revoked"), kind: ErrInvalidToken, code: CodeInvalidToken},
		{name: "validation", err: validationError("field %s", "x"), kind: ErrValidation, code: CodeValidation},
		{name: "rate limited", err: rateLimitError("203.0.113.7", 20), kind: ErrRateLimited, code: CodeRateLimited},
		{name: "session limit", err: sessionLimitError(3), kind: ErrSessionLimit, code: CodeSessionLimit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.err, tt.kind)
			errutil.AssertErrorCode(t, tt.err, tt.code)
		})
	}
}

func TestAuthenticationErrorMessageIsUniform(t *testing.T) {
	unknown := authenticationError(ReasonUnknownUser)
	bad := authenticationError(ReasonBadPassword)
	assert.Equal(t, unknown.Error(), bad.Error())
	assert.NotContains(t, unknown.Error(), ReasonUnknownUser)
}

func TestSessionLimitErrorMessage(t *testing.T) {
	var limitErr *SessionLimitError
	require.ErrorAs(t, sessionLimitError(3), &limitErr)
	assert.Equal(t, 3, limitErr.Limit)
	assert.Contains(t, limitErr.Error(), "at most 3")
}
