// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CourtCheck Contributors

package redisstore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/courtcheck/courtcheck/internal/auth"
)

// KEYS[1] counter. ARGV[1] ttl ms.
const acquireScriptSrc = `
local n = redis.call("INCR", KEYS[1])
redis.call("PEXPIRE", KEYS[1], ARGV[1])
return n
`

// KEYS[1] counter.
const releaseScriptSrc = `
local n = redis.call("DECR", KEYS[1])
if n <= 0 then
	redis.call("DEL", KEYS[1])
end
return n
`

var (
	acquireScript = redis.NewScript(acquireScriptSrc)
	releaseScript = redis.NewScript(releaseScriptSrc)
)

// InFlightCounter implements auth.InFlightCounter on Redis so that every
// instance sees the login attempts the others are still verifying.
type InFlightCounter struct {
	client redis.UniversalClient
	prefix string
}

// NewInFlightCounter creates an InFlightCounter over client.
func NewInFlightCounter(client redis.UniversalClient, opts ...Option) *InFlightCounter {
	o := applyOptions(opts)
	return &InFlightCounter{client: client, prefix: o.prefix + "inflight:"}
}

// Acquire implements auth.InFlightCounter.
func (c *InFlightCounter) Acquire(ctx context.Context, key string, ttl time.Duration) (int, error) {
	if ttl < time.Millisecond {
		ttl = time.Millisecond
	}
	n, err := acquireScript.Run(ctx, c.client, []string{c.prefix + key}, ttl.Milliseconds()).Int()
	if err != nil {
		return 0, oops.Code("INFLIGHT_ACQUIRE_FAILED").
			With("operation", "acquire in-flight slot").
			Wrap(err)
	}
	return n, nil
}

// Release implements auth.InFlightCounter.
func (c *InFlightCounter) Release(ctx context.Context, key string) error {
	if err := releaseScript.Run(ctx, c.client, []string{c.prefix + key}).Err(); err != nil {
		return oops.Code("INFLIGHT_RELEASE_FAILED").
			With("operation", "release in-flight slot").
			Wrap(err)
	}
	return nil
}

var _ auth.InFlightCounter = (*InFlightCounter)(nil)
