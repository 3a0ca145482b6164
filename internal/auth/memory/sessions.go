// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CourtCheck Contributors

package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/courtcheck/courtcheck/internal/auth"
)

// SessionRegistry implements auth.SessionRegistry in memory.
//
// Sessions live in a sync.Map keyed by ID, so Get never takes a lock. Each
// user has a bucket with its own mutex; Register, UpdateToken and removals
// serialize per user only. Stored sessions are never mutated: updates store
// a fresh copy.
type SessionRegistry struct {
	sessions sync.Map // session ID -> *auth.Session
	buckets  sync.Map // user ID -> *userBucket
	now      func() time.Time
}

type userBucket struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

// NewSessionRegistry creates an empty registry.
func NewSessionRegistry(opts ...Option) *SessionRegistry {
	o := applyOptions(opts)
	return &SessionRegistry{now: o.now}
}

func (r *SessionRegistry) bucket(userID ulid.ULID) *userBucket {
	if b, ok := r.buckets.Load(userID); ok {
		return b.(*userBucket) //nolint:forcetypeassert // only *userBucket is stored
	}
	b, _ := r.buckets.LoadOrStore(userID, &userBucket{ids: make(map[string]struct{})})
	return b.(*userBucket) //nolint:forcetypeassert // only *userBucket is stored
}

// liveLocked prunes expired and vanished sessions from b and returns the
// rest ordered by LoginTime. Caller holds b.mu.
func (r *SessionRegistry) liveLocked(b *userBucket, now time.Time) []*auth.Session {
	live := make([]*auth.Session, 0, len(b.ids))
	for id := range b.ids {
		v, ok := r.sessions.Load(id)
		if !ok {
			delete(b.ids, id)
			continue
		}
		s := v.(*auth.Session) //nolint:forcetypeassert // only *auth.Session is stored
		if s.IsExpiredAt(now) {
			r.sessions.CompareAndDelete(id, v)
			delete(b.ids, id)
			continue
		}
		live = append(live, s)
	}
	slices.SortFunc(live, func(a, b *auth.Session) int {
		return a.LoginTime.Compare(b.LoginTime)
	})
	return live
}

// Register implements auth.SessionRegistry.
func (r *SessionRegistry) Register(ctx context.Context, session *auth.Session, max int, force bool) ([]*auth.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b := r.bucket(session.UserID)
	b.mu.Lock()
	defer b.mu.Unlock()

	live := slices.DeleteFunc(r.liveLocked(b, r.now()), func(s *auth.Session) bool {
		return s.ID == session.ID
	})

	var evicted []*auth.Session
	if max > 0 && len(live) >= max {
		if !force {
			return nil, auth.NewSessionLimitError(max)
		}
		for len(live) >= max {
			oldest := live[0]
			live = live[1:]
			r.sessions.Delete(oldest.ID)
			delete(b.ids, oldest.ID)
			evicted = append(evicted, oldest.Clone())
		}
	}

	r.sessions.Store(session.ID, session.Clone())
	b.ids[session.ID] = struct{}{}
	return evicted, nil
}

// Get implements auth.SessionRegistry.
func (r *SessionRegistry) Get(ctx context.Context, id string) (*auth.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, ok := r.sessions.Load(id)
	if !ok {
		return nil, oops.Code("SESSION_NOT_FOUND").With("id", id).Wrap(auth.ErrNotFound)
	}
	s := v.(*auth.Session) //nolint:forcetypeassert // only *auth.Session is stored
	if s.IsExpiredAt(r.now()) {
		r.sessions.CompareAndDelete(id, v)
		return nil, oops.Code("SESSION_NOT_FOUND").With("id", id).With("expired", true).Wrap(auth.ErrNotFound)
	}
	return s.Clone(), nil
}

// UpdateToken implements auth.SessionRegistry.
func (r *SessionRegistry) UpdateToken(ctx context.Context, id, accessToken string, accessExpiresAt, lastActivity time.Time) error {
	current, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	b := r.bucket(current.UserID)
	b.mu.Lock()
	defer b.mu.Unlock()

	v, ok := r.sessions.Load(id)
	if !ok {
		return oops.Code("SESSION_NOT_FOUND").With("id", id).Wrap(auth.ErrNotFound)
	}
	updated := v.(*auth.Session).Clone() //nolint:forcetypeassert // only *auth.Session is stored
	updated.AccessToken = accessToken
	updated.AccessExpiresAt = accessExpiresAt
	updated.LastActivity = lastActivity
	r.sessions.Store(id, updated)
	return nil
}

// Remove implements auth.SessionRegistry.
func (r *SessionRegistry) Remove(ctx context.Context, id string) (*auth.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, ok := r.sessions.LoadAndDelete(id)
	if !ok {
		return nil, nil
	}
	s := v.(*auth.Session) //nolint:forcetypeassert // only *auth.Session is stored
	b := r.bucket(s.UserID)
	b.mu.Lock()
	delete(b.ids, id)
	b.mu.Unlock()
	return s.Clone(), nil
}

// RemoveAllForUser implements auth.SessionRegistry.
func (r *SessionRegistry) RemoveAllForUser(ctx context.Context, userID ulid.ULID) ([]*auth.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b := r.bucket(userID)
	b.mu.Lock()
	defer b.mu.Unlock()

	var removed []*auth.Session
	for id := range b.ids {
		if v, ok := r.sessions.LoadAndDelete(id); ok {
			removed = append(removed, v.(*auth.Session).Clone()) //nolint:forcetypeassert // only *auth.Session is stored
		}
		delete(b.ids, id)
	}
	return removed, nil
}

// ListByUser implements auth.SessionRegistry.
func (r *SessionRegistry) ListByUser(ctx context.Context, userID ulid.ULID) ([]*auth.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b := r.bucket(userID)
	b.mu.Lock()
	defer b.mu.Unlock()

	live := r.liveLocked(b, r.now())
	out := make([]*auth.Session, len(live))
	for i, s := range live {
		out[i] = s.Clone()
	}
	return out, nil
}

// Count implements auth.SessionRegistry.
func (r *SessionRegistry) Count(ctx context.Context, userID ulid.ULID) (int, error) {
	sessions, err := r.ListByUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	return len(sessions), nil
}
