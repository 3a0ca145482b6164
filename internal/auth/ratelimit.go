// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CourtCheck Contributors

package auth

import (
	"context"
	"sync"
	"time"

	"github.com/gobwas/glob"
	"github.com/samber/oops"
)

// Rate limit defaults.
const (
	// DefaultMaxAttemptsPerIP is the number of login attempts one IP may make per window.
	DefaultMaxAttemptsPerIP = 20

	// DefaultRateWindow is the sliding window for per-IP counting.
	DefaultRateWindow = time.Minute
)

// RateLimitPolicy configures the per-IP sliding window on logins.
type RateLimitPolicy struct {
	// MaxPerIP is the number of attempts allowed within Window. Zero or less disables the limit.
	MaxPerIP int

	// Window is the sliding window length.
	Window time.Duration

	// ExemptIPs are glob patterns (e.g. "10.0.*") of addresses that skip the limit.
	ExemptIPs []string
}

// DefaultRateLimitPolicy returns the stock per-IP policy.
func DefaultRateLimitPolicy() RateLimitPolicy {
	return RateLimitPolicy{MaxPerIP: DefaultMaxAttemptsPerIP, Window: DefaultRateWindow}
}

// InFlightCounter counts login attempts that have started but are not in
// the attempt ledger yet. Acquire returns the number in flight for key,
// including the new one. ttl bounds a reservation whose Release never comes.
type InFlightCounter interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (int, error)
	Release(ctx context.Context, key string) error
}

// localInFlight is the InFlightCounter used when none is configured. It only
// sees attempts made through this process.
type localInFlight struct {
	mu     sync.Mutex
	counts map[string]int
}

func newLocalInFlight() *localInFlight {
	return &localInFlight{counts: make(map[string]int)}
}

func (f *localInFlight) Acquire(_ context.Context, key string, _ time.Duration) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts[key]++
	return f.counts[key], nil
}

func (f *localInFlight) Release(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.counts[key] <= 1 {
		delete(f.counts, key)
		return nil
	}
	f.counts[key]--
	return nil
}

// ipRateLimiter answers from the attempt ledger, so the window is shared by
// every instance writing to the same ledger. Attempts still being verified
// are not in the ledger yet and are counted through inflight instead.
type ipRateLimiter struct {
	policy   RateLimitPolicy
	exempt   []glob.Glob
	ledger   LoginAttemptLedger
	inflight InFlightCounter
}

func newIPRateLimiter(policy RateLimitPolicy, ledger LoginAttemptLedger, inflight InFlightCounter) (*ipRateLimiter, error) {
	if policy.Window <= 0 {
		policy.Window = DefaultRateWindow
	}
	if inflight == nil {
		inflight = newLocalInFlight()
	}
	l := &ipRateLimiter{policy: policy, ledger: ledger, inflight: inflight}
	for _, pattern := range policy.ExemptIPs {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, oops.Code("AUTH_INVALID_EXEMPT_PATTERN").
				With("pattern", pattern).
				Wrap(err)
		}
		l.exempt = append(l.exempt, g)
	}
	return l, nil
}

func (l *ipRateLimiter) isExempt(ip string) bool {
	for _, g := range l.exempt {
		if g.Match(ip) {
			return true
		}
	}
	return false
}

func noRelease(context.Context) error { return nil }

// reserve takes a slot for one attempt from ip before it is verified. The
// returned release is never nil and must be called once the attempt is in
// the ledger, whatever the outcome.
func (l *ipRateLimiter) reserve(ctx context.Context, ip string, now time.Time) (func(context.Context) error, error) {
	if l.policy.MaxPerIP <= 0 || ip == "" || l.isExempt(ip) {
		return noRelease, nil
	}
	inFlight, err := l.inflight.Acquire(ctx, ip, l.policy.Window)
	if err != nil {
		return noRelease, oops.Code(CodeLoginFailed).
			With("operation", "reserve attempt").
			Wrap(err)
	}
	release := func(ctx context.Context) error {
		return l.inflight.Release(ctx, ip)
	}

	count, err := l.ledger.CountByIPSince(ctx, ip, now.Add(-l.policy.Window))
	if err != nil {
		return release, oops.Code(CodeLoginFailed).
			With("operation", "count attempts by ip").
			Wrap(err)
	}
	if count+inFlight > l.policy.MaxPerIP {
		return release, rateLimitError(ip, l.policy.MaxPerIP)
	}
	return release, nil
}
