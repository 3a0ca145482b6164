// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CourtCheck Contributors

package memory_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/courtcheck/courtcheck/internal/auth"
	"github.com/courtcheck/courtcheck/internal/auth/memory"
)

func newSession(clock *fakeClock, userID ulid.ULID) *auth.Session {
	return auth.NewSession(userID, "a@x.com", "10.0.0.1", "test", clock.Now(), time.Hour)
}

func TestSessionRegistry_RegisterAndGet(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	reg := memory.NewSessionRegistry(memory.WithClock(clock.Now))
	userID := ulid.Make()

	s := newSession(clock, userID)
	s.AccessToken = "tok"
	evicted, err := reg.Register(ctx, s, 3, false)
	require.NoError(t, err)
	assert.Empty(t, evicted)

	got, err := reg.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, s, got)

	got.AccessToken = "mutated"
	again, err := reg.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "tok", again.AccessToken, "registry must hand out copies")
}

func TestSessionRegistry_LimitWithoutForce(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	reg := memory.NewSessionRegistry(memory.WithClock(clock.Now))
	userID := ulid.Make()

	for range 3 {
		_, err := reg.Register(ctx, newSession(clock, userID), 3, false)
		require.NoError(t, err)
		clock.Advance(time.Second)
	}

	_, err := reg.Register(ctx, newSession(clock, userID), 3, false)
	require.ErrorIs(t, err, auth.ErrSessionLimit)
	var limitErr *auth.SessionLimitError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, 3, limitErr.Limit)

	count, err := reg.Count(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestSessionRegistry_ForceEvictsOldest(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	reg := memory.NewSessionRegistry(memory.WithClock(clock.Now))
	userID := ulid.Make()

	var ids []string
	for range 3 {
		s := newSession(clock, userID)
		_, err := reg.Register(ctx, s, 3, false)
		require.NoError(t, err)
		ids = append(ids, s.ID)
		clock.Advance(time.Second)
	}

	evicted, err := reg.Register(ctx, newSession(clock, userID), 3, true)
	require.NoError(t, err)
	require.Len(t, evicted, 1)
	assert.Equal(t, ids[0], evicted[0].ID)

	_, err = reg.Get(ctx, ids[0])
	assert.ErrorIs(t, err, auth.ErrNotFound)

	list, err := reg.ListByUser(ctx, userID)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, ids[1], list[0].ID)
	assert.Equal(t, ids[2], list[1].ID)
}

func TestSessionRegistry_UsersAreIndependent(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	reg := memory.NewSessionRegistry(memory.WithClock(clock.Now))

	_, err := reg.Register(ctx, newSession(clock, ulid.Make()), 1, false)
	require.NoError(t, err)
	_, err = reg.Register(ctx, newSession(clock, ulid.Make()), 1, false)
	require.NoError(t, err)
}

func TestSessionRegistry_ExpiryIsFixed(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	reg := memory.NewSessionRegistry(memory.WithClock(clock.Now))
	userID := ulid.Make()

	s := newSession(clock, userID)
	_, err := reg.Register(ctx, s, 1, false)
	require.NoError(t, err)

	clock.Advance(50 * time.Minute)
	require.NoError(t, reg.UpdateToken(ctx, s.ID, "new", clock.Now().Add(time.Hour), clock.Now()))

	got, err := reg.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "new", got.AccessToken)
	assert.Equal(t, clock.Now(), got.LastActivity)
	assert.Equal(t, s.ExpiresAt, got.ExpiresAt, "activity must not extend expiry")

	clock.Advance(10 * time.Minute)
	_, err = reg.Get(ctx, s.ID)
	assert.ErrorIs(t, err, auth.ErrNotFound)

	count, err := reg.Count(ctx, userID)
	require.NoError(t, err)
	assert.Zero(t, count)

	_, err = reg.Register(ctx, newSession(clock, userID), 1, false)
	assert.NoError(t, err, "expired sessions do not count toward the limit")
}

func TestSessionRegistry_ReRegisterSameID(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	reg := memory.NewSessionRegistry(memory.WithClock(clock.Now))
	userID := ulid.Make()

	s := newSession(clock, userID)
	_, err := reg.Register(ctx, s, 1, false)
	require.NoError(t, err)
	_, err = reg.Register(ctx, s, 1, false)
	require.NoError(t, err)

	count, err := reg.Count(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSessionRegistry_Remove(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	reg := memory.NewSessionRegistry(memory.WithClock(clock.Now))
	userID := ulid.Make()

	a := newSession(clock, userID)
	b := newSession(clock, userID)
	_, err := reg.Register(ctx, a, 0, false)
	require.NoError(t, err)
	_, err = reg.Register(ctx, b, 0, false)
	require.NoError(t, err)

	removed, err := reg.Remove(ctx, a.ID)
	require.NoError(t, err)
	require.NotNil(t, removed)
	assert.Equal(t, a.ID, removed.ID)

	removed, err = reg.Remove(ctx, a.ID)
	require.NoError(t, err)
	assert.Nil(t, removed)

	all, err := reg.RemoveAllForUser(ctx, userID)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, b.ID, all[0].ID)

	assert.ErrorIs(t, reg.UpdateToken(ctx, b.ID, "x", clock.Now(), clock.Now()), auth.ErrNotFound)
}

func TestSessionRegistry_ConcurrentRegisterNeverExceedsLimit(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	reg := memory.NewSessionRegistry(memory.WithClock(clock.Now))
	userID := ulid.Make()

	const workers = 32
	const limit = 3
	var ok atomic.Int32
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := reg.Register(ctx, newSession(clock, userID), limit, false); err == nil {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(limit), ok.Load())
	count, err := reg.Count(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, limit, count)
}

func TestSessionRegistry_ConcurrentForceKeepsLimit(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	reg := memory.NewSessionRegistry(memory.WithClock(clock.Now))
	userID := ulid.Make()

	var wg sync.WaitGroup
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := reg.Register(ctx, newSession(clock, userID), 2, true)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	count, err := reg.Count(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
