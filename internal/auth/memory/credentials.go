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

// CredentialStore implements auth.CredentialStore in memory.
type CredentialStore struct {
	mu      sync.RWMutex
	byID    map[ulid.ULID]*auth.Credential
	byEmail map[string]ulid.ULID
}

// NewCredentialStore creates an empty CredentialStore.
func NewCredentialStore() *CredentialStore {
	return &CredentialStore{
		byID:    make(map[ulid.ULID]*auth.Credential),
		byEmail: make(map[string]ulid.ULID),
	}
}

// FindByEmail implements auth.CredentialStore.
func (s *CredentialStore) FindByEmail(ctx context.Context, email string) (*auth.Credential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[email]
	if !ok {
		return nil, oops.Code("CREDENTIAL_NOT_FOUND").With("email", email).Wrap(auth.ErrNotFound)
	}
	return cloneCredential(s.byID[id]), nil
}

// FindByID implements auth.CredentialStore.
func (s *CredentialStore) FindByID(ctx context.Context, id ulid.ULID) (*auth.Credential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	cred, ok := s.byID[id]
	if !ok {
		return nil, oops.Code("CREDENTIAL_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	return cloneCredential(cred), nil
}

// FindByResetTokenHash implements auth.CredentialStore.
func (s *CredentialStore) FindByResetTokenHash(ctx context.Context, tokenHash string) (*auth.Credential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if tokenHash == "" {
		return nil, oops.Code("CREDENTIAL_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, cred := range s.byID {
		if cred.ResetTokenHash == tokenHash {
			return cloneCredential(cred), nil
		}
	}
	return nil, oops.Code("CREDENTIAL_NOT_FOUND").Wrap(auth.ErrNotFound)
}

// Save implements auth.CredentialStore.
func (s *CredentialStore) Save(ctx context.Context, cred *auth.Credential) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if owner, ok := s.byEmail[cred.Email]; ok && owner != cred.ID {
		return oops.Code("CREDENTIAL_EMAIL_TAKEN").With("email", cred.Email).Errorf("email already registered")
	}
	if prev, ok := s.byID[cred.ID]; ok && prev.Email != cred.Email {
		delete(s.byEmail, prev.Email)
	}
	s.byID[cred.ID] = cloneCredential(cred)
	s.byEmail[cred.Email] = cred.ID
	return nil
}

// RecordFailure implements auth.CredentialStore.
func (s *CredentialStore) RecordFailure(ctx context.Context, id ulid.ULID, policy auth.LockoutPolicy, now time.Time) (*auth.FailureOutcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cred, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	locked := cred.RecordFailure(policy, now)
	return &auth.FailureOutcome{
		FailedAttempts: cred.FailedAttempts,
		LockoutUntil:   cloneTime(cred.LockoutUntil),
		JustLocked:     locked,
	}, nil
}

// RecordSuccess implements auth.CredentialStore.
func (s *CredentialStore) RecordSuccess(ctx context.Context, id ulid.ULID, passwordHash string, now time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cred, ok := s.byID[id]
	if !ok {
		return false, nil
	}
	if cred.PasswordHash != passwordHash {
		return false, nil
	}
	cred.RecordSuccess(now)
	return true, nil
}

// UpgradePasswordHash implements auth.CredentialStore.
func (s *CredentialStore) UpgradePasswordHash(ctx context.Context, id ulid.ULID, oldHash, newHash string, now time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cred, ok := s.byID[id]
	if !ok {
		return false, nil
	}
	if cred.PasswordHash != oldHash {
		return false, nil
	}
	cred.PasswordHash = newHash
	cred.UpdatedAt = now
	return true, nil
}

// SetResetToken implements auth.CredentialStore.
func (s *CredentialStore) SetResetToken(ctx context.Context, id ulid.ULID, tokenHash string, expiresAt, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cred, err := s.lookup(id)
	if err != nil {
		return err
	}
	cred.ResetTokenHash = tokenHash
	cred.ResetTokenExpiresAt = cloneTime(&expiresAt)
	cred.UpdatedAt = now
	return nil
}

// UpdatePassword implements auth.CredentialStore.
func (s *CredentialStore) UpdatePassword(ctx context.Context, id ulid.ULID, upd auth.PasswordUpdate) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cred, ok := s.byID[id]
	if !ok {
		return false, nil
	}
	if !upd.Matches(cred) {
		return false, nil
	}
	upd.Apply(cred)
	return true, nil
}

// lookup returns the stored credential itself. Callers hold s.mu.
func (s *CredentialStore) lookup(id ulid.ULID) (*auth.Credential, error) {
	cred, ok := s.byID[id]
	if !ok {
		return nil, oops.Code("CREDENTIAL_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	return cred, nil
}

func cloneCredential(c *auth.Credential) *auth.Credential {
	out := *c
	out.Roles = slices.Clone(c.Roles)
	out.LastFailedAt = cloneTime(c.LastFailedAt)
	out.LockoutUntil = cloneTime(c.LockoutUntil)
	out.ResetTokenExpiresAt = cloneTime(c.ResetTokenExpiresAt)
	out.PasswordExpiresAt = cloneTime(c.PasswordExpiresAt)
	out.PasswordChangedAt = cloneTime(c.PasswordChangedAt)
	out.LastLoginAt = cloneTime(c.LastLoginAt)
	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
