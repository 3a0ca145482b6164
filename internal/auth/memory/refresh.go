// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CourtCheck Contributors

package memory

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/courtcheck/courtcheck/internal/auth"
)

// RefreshTokenStore implements auth.RefreshTokenStore in memory. Revoke is
// a compare-and-swap under the store mutex.
type RefreshTokenStore struct {
	mu     sync.Mutex
	tokens map[string]*auth.RefreshToken
}

// NewRefreshTokenStore creates an empty store.
func NewRefreshTokenStore() *RefreshTokenStore {
	return &RefreshTokenStore{tokens: make(map[string]*auth.RefreshToken)}
}

// Create implements auth.RefreshTokenStore.
func (s *RefreshTokenStore) Create(ctx context.Context, token *auth.RefreshToken) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tokens[token.TokenHash]; exists {
		return oops.Code("REFRESH_TOKEN_DUPLICATE").Errorf("refresh token already exists")
	}
	stored := *token
	s.tokens[token.TokenHash] = &stored
	return nil
}

// GetByHash implements auth.RefreshTokenStore.
func (s *RefreshTokenStore) GetByHash(ctx context.Context, tokenHash string) (*auth.RefreshToken, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.tokens[tokenHash]
	if !ok {
		return nil, oops.Code("REFRESH_TOKEN_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	out := *token
	return &out, nil
}

// Revoke implements auth.RefreshTokenStore.
func (s *RefreshTokenStore) Revoke(ctx context.Context, tokenHash, reason string, at time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.tokens[tokenHash]
	if !ok || token.Revoked {
		return false, nil
	}
	revoke(token, reason, at)
	return true, nil
}

// RevokeAllForUser implements auth.RefreshTokenStore.
func (s *RefreshTokenStore) RevokeAllForUser(ctx context.Context, userID ulid.ULID, reason string, at time.Time) (int64, error) {
	return s.revokeWhere(ctx, reason, at, func(t *auth.RefreshToken) bool { return t.UserID == userID })
}

// RevokeBySession implements auth.RefreshTokenStore.
func (s *RefreshTokenStore) RevokeBySession(ctx context.Context, sessionID, reason string, at time.Time) (int64, error) {
	return s.revokeWhere(ctx, reason, at, func(t *auth.RefreshToken) bool { return t.SessionID == sessionID })
}

// DeleteExpired implements auth.RefreshTokenStore.
func (s *RefreshTokenStore) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for hash, token := range s.tokens {
		if token.ExpiresAt.Before(before) {
			delete(s.tokens, hash)
			n++
		}
	}
	return n, nil
}

func (s *RefreshTokenStore) revokeWhere(ctx context.Context, reason string, at time.Time, match func(*auth.RefreshToken) bool) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, token := range s.tokens {
		if !token.Revoked && match(token) {
			revoke(token, reason, at)
			n++
		}
	}
	return n, nil
}

func revoke(token *auth.RefreshToken, reason string, at time.Time) {
	revokedAt := at
	token.Revoked = true
	token.RevokedAt = &revokedAt
	token.RevokedReason = reason
}
