// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CourtCheck Contributors

// Package memory provides in-process implementations of the auth stores.
//
// They are correct for a single instance only: session limits, logout
// everywhere and token revocation do not reach other processes. Use the
// postgres and redisstore packages for multi-instance deployments.
package memory

import "time"

// Option configures a memory store.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func applyOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
