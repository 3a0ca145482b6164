// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CourtCheck Contributors

package memory

import (
	"context"
	"sync"
	"time"

	"github.com/courtcheck/courtcheck/internal/auth/token"
)

// DefaultSweepInterval is how often Run purges expired revocations.
const DefaultSweepInterval = time.Minute

// Blacklist implements token.Blacklist in memory. Entries are keyed by
// token fingerprint and dropped once the token would have expired anyway.
type Blacklist struct {
	mu      sync.RWMutex
	entries map[string]time.Time
	now     func() time.Time
}

// NewBlacklist creates an empty blacklist.
func NewBlacklist(opts ...Option) *Blacklist {
	o := applyOptions(opts)
	return &Blacklist{entries: make(map[string]time.Time), now: o.now}
}

// Revoke implements token.Blacklist. An already expired token is not stored.
func (b *Blacklist) Revoke(ctx context.Context, tok string, expiresAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if token.RemainingTTL(expiresAt, b.now()) == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[token.Fingerprint(tok)] = expiresAt
	return nil
}

// IsRevoked implements token.Blacklist.
func (b *Blacklist) IsRevoked(ctx context.Context, tok string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	b.mu.RLock()
	expiresAt, ok := b.entries[token.Fingerprint(tok)]
	b.mu.RUnlock()
	return ok && b.now().Before(expiresAt), nil
}

// Len returns the number of stored entries, expired or not.
func (b *Blacklist) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

// Sweep removes expired entries and returns how many were removed.
func (b *Blacklist) Sweep() int {
	now := b.now()
	b.mu.Lock()
	defer b.mu.Unlock()
	removed := 0
	for key, expiresAt := range b.entries {
		if !now.Before(expiresAt) {
			delete(b.entries, key)
			removed++
		}
	}
	return removed
}

// Run sweeps every interval until ctx is done.
func (b *Blacklist) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.Sweep()
		}
	}
}
