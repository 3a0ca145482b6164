// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CourtCheck Contributors

// Package redisstore implements the token blacklist, session registry and
// in-flight login counter on Redis so that limits and revocations hold
// across instances.
//
// Keys:
//
//	<prefix>revoked:<fingerprint>   blacklisted access token, PX = remaining lifetime
//	<prefix>session:<id>            JSON session record, PX = fixed session expiry
//	<prefix>user_sessions:<userID>  ZSET of session IDs scored by login time (ms)
//	<prefix>inflight:<ip>           count of logins from ip still being verified
package redisstore

import "time"

// DefaultKeyPrefix namespaces every key written by this package.
const DefaultKeyPrefix = "courtcheck:"

// Option configures a Redis store.
type Option func(*options)

type options struct {
	now    func() time.Time
	prefix string
}

// WithClock overrides the time source used to compute TTLs and expiry.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithKeyPrefix overrides DefaultKeyPrefix.
func WithKeyPrefix(prefix string) Option {
	return func(o *options) {
		o.prefix = prefix
	}
}

func applyOptions(opts []Option) options {
	o := options{now: time.Now, prefix: DefaultKeyPrefix}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
