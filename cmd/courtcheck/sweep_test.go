// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CourtCheck Contributors

package main

import (
	"context"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/courtcheck/courtcheck/internal/auth"
	"github.com/courtcheck/courtcheck/pkg/errutil"
)

func TestSweep(t *testing.T) {
	isolate(t)
	t.Setenv("COURTCHECK_DATABASE_URL", "postgres://db.internal/courtcheck")

	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	stores, db, deps := memoryStores()
	deps.Now = func() time.Time { return now }

	ctx := context.Background()
	userID := ulid.Make()
	for hash, expires := range map[string]time.Time{
		"expired": now.Add(-time.Minute),
		"live":    now.Add(time.Hour),
	} {
		require.NoError(t, stores.RefreshTokens.Create(ctx, &auth.RefreshToken{
			ID:        ulid.Make(),
			TokenHash: hash,
			UserID:    userID,
			Email:     "clerk@court.example",
			SessionID: "s-" + hash,
			ExpiresAt: expires,
			CreatedAt: now.Add(-24 * time.Hour),
		}))
	}
	require.NoError(t, stores.Attempts.Append(ctx,
		auth.NewLoginAttempt("clerk@court.example", "203.0.113.9", "curl", "bad_password", now.Add(-8*24*time.Hour))))
	require.NoError(t, stores.Attempts.Append(ctx,
		auth.NewLoginAttempt("clerk@court.example", "203.0.113.9", "curl", "", now.Add(-time.Hour))))

	out, err := execute(t, deps, "", "sweep", "--attempt-retention", "168h")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted 1 expired refresh token(s)")
	assert.Contains(t, out, "Deleted 1 login attempt(s) older than 168h0m0s")
	assert.True(t, db.closed.Load())

	_, err = stores.RefreshTokens.GetByHash(ctx, "live")
	assert.NoError(t, err)
	_, err = stores.RefreshTokens.GetByHash(ctx, "expired")
	assert.ErrorIs(t, err, auth.ErrNotFound)
	recent, err := stores.Attempts.CountByIPSince(ctx, "203.0.113.9", now.Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, recent)
}

func TestSweep_Validation(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		args     []string
		wantCode string
	}{
		{name: "zero retention", url: "postgres://db.internal/courtcheck", args: []string{"--attempt-retention", "0s"}, wantCode: "CONFIG_INVALID"},
		{name: "negative retention", url: "postgres://db.internal/courtcheck", args: []string{"--attempt-retention", "-1h"}, wantCode: "CONFIG_INVALID"},
		{name: "missing database url", wantCode: "CONFIG_INVALID"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			t.Setenv("COURTCHECK_DATABASE_URL", tt.url)
			_, db, deps := memoryStores()

			_, err := execute(t, deps, "", append([]string{"sweep"}, tt.args...)...)
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, tt.wantCode)
			assert.False(t, db.closed.Load(), "database never opened")
		})
	}
}
