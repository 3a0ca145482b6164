// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CourtCheck Contributors

package memory

import (
	"context"
	"sync"
	"time"

	"github.com/courtcheck/courtcheck/internal/auth"
)

// AttemptLedger implements auth.LoginAttemptLedger in memory.
type AttemptLedger struct {
	mu       sync.RWMutex
	attempts []auth.LoginAttempt
}

// NewAttemptLedger creates an empty ledger.
func NewAttemptLedger() *AttemptLedger {
	return &AttemptLedger{}
}

// Append implements auth.LoginAttemptLedger.
func (l *AttemptLedger) Append(ctx context.Context, attempt *auth.LoginAttempt) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attempts = append(l.attempts, *attempt)
	return nil
}

// CountByIPSince implements auth.LoginAttemptLedger.
func (l *AttemptLedger) CountByIPSince(ctx context.Context, ip string, since time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	count := 0
	for i := range l.attempts {
		if l.attempts[i].IP == ip && !l.attempts[i].At.Before(since) {
			count++
		}
	}
	return count, nil
}

// DeleteBefore implements auth.LoginAttemptLedger.
func (l *AttemptLedger) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	kept := l.attempts[:0]
	for _, a := range l.attempts {
		if !a.At.Before(before) {
			kept = append(kept, a)
		}
	}
	removed := int64(len(l.attempts) - len(kept))
	l.attempts = kept
	return removed, nil
}

// All returns a copy of every recorded attempt, oldest first.
func (l *AttemptLedger) All() []auth.LoginAttempt {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]auth.LoginAttempt, len(l.attempts))
	copy(out, l.attempts)
	return out
}
