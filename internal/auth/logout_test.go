// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CourtCheck Contributors

package auth_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/courtcheck/courtcheck/internal/auth"
	"github.com/courtcheck/courtcheck/internal/auth/memory"
)

func TestLogout_RevokesEverythingForUser(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	first := h.mustLogin()
	second := h.mustLogin()

	res := h.coord.Logout(ctx, first.AccessToken)
	assert.True(t, res.Success)

	assert.False(t, h.coord.ValidateToken(ctx, first.AccessToken).Valid)
	_, err := h.sessions.Get(ctx, first.SessionID)
	assert.ErrorIs(t, err, auth.ErrNotFound)

	_, err = h.coord.Refresh(ctx, first.RefreshToken, testIP, testUA)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
	_, err = h.coord.Refresh(ctx, second.RefreshToken, testIP, testUA)
	assert.ErrorIs(t, err, auth.ErrInvalidToken, "user scope revokes every refresh token")

	assert.True(t, h.coord.ValidateToken(ctx, second.AccessToken).Valid, "other access tokens live until expiry")
	assert.Equal(t, 1, h.audit.count(auth.EventLogout, auth.OutcomeSuccess))
}

func TestLogout_SessionScope(t *testing.T) {
	h := newHarness(t, withConfig(func(c *auth.Config) { c.LogoutScope = auth.LogoutScopeSession }))
	ctx := context.Background()
	first := h.mustLogin()
	second := h.mustLogin()

	h.coord.Logout(ctx, first.AccessToken)

	_, err := h.coord.Refresh(ctx, first.RefreshToken, testIP, testUA)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
	_, err = h.coord.Refresh(ctx, second.RefreshToken, testIP, testUA)
	assert.NoError(t, err)
}

func TestLogout_ExpiredTokenStillCleansUp(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	login := h.mustLogin()

	h.clock.Advance(2 * time.Hour)
	assert.True(t, h.coord.Logout(ctx, login.AccessToken).Success)

	_, err := h.coord.Refresh(ctx, login.RefreshToken, testIP, testUA)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestLogout_GarbageTokenSucceeds(t *testing.T) {
	h := newHarness(t)
	assert.True(t, h.coord.Logout(context.Background(), "not-a-jwt").Success)
	assert.True(t, h.coord.Logout(context.Background(), "").Success)
}

func TestLogout_ForgedTokenTouchesNothing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	login := h.mustLogin()

	forger := mustIssuerWithKey(t, h, []byte("another-signing-key-0123456789abc"))
	forged, _, err := forger.Issue(h.user.ID.String(), testEmail, nil, login.SessionID, time.Hour)
	require.NoError(t, err)

	assert.True(t, h.coord.Logout(ctx, forged).Success)
	_, err = h.coord.Refresh(ctx, login.RefreshToken, testIP, testUA)
	assert.NoError(t, err)
}

type failingBlacklist struct{ *memory.Blacklist }

func (failingBlacklist) Revoke(context.Context, string, time.Time) error {
	return errors.New("blacklist unavailable")
}

type failingRefreshStore struct{ *memory.RefreshTokenStore }

func (failingRefreshStore) RevokeAllForUser(context.Context, ulid.ULID, string, time.Time) (int64, error) {
	return 0, errors.New("database unavailable")
}

type failingSessions struct{ *memory.SessionRegistry }

func (failingSessions) Remove(context.Context, string) (*auth.Session, error) {
	return nil, errors.New("registry unavailable")
}

func TestLogout_AlwaysSucceedsWhenStepsFail(t *testing.T) {
	h := newHarness(t, withDeps(func(d *auth.Deps) {
		d.Blacklist = failingBlacklist{d.Blacklist.(*memory.Blacklist)}
		d.RefreshTokens = failingRefreshStore{d.RefreshTokens.(*memory.RefreshTokenStore)}
		d.Sessions = failingSessions{d.Sessions.(*memory.SessionRegistry)}
	}))
	login := h.mustLogin()

	res := h.coord.Logout(context.Background(), login.AccessToken)
	assert.True(t, res.Success)
}
