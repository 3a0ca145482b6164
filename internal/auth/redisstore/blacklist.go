// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CourtCheck Contributors

package redisstore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/courtcheck/courtcheck/internal/auth/token"
)

// Blacklist implements token.Blacklist on Redis. Each entry expires with the
// token it revokes, so no sweeper is needed.
type Blacklist struct {
	client redis.UniversalClient
	now    func() time.Time
	prefix string
}

// NewBlacklist creates a Blacklist over client.
func NewBlacklist(client redis.UniversalClient, opts ...Option) *Blacklist {
	o := applyOptions(opts)
	return &Blacklist{client: client, now: o.now, prefix: o.prefix + "revoked:"}
}

func (b *Blacklist) key(tok string) string {
	return b.prefix + token.Fingerprint(tok)
}

// Revoke implements token.Blacklist.
func (b *Blacklist) Revoke(ctx context.Context, tok string, expiresAt time.Time) error {
	ttl := token.RemainingTTL(expiresAt, b.now())
	if ttl == 0 {
		return nil
	}
	if err := b.client.Set(ctx, b.key(tok), 1, ttl).Err(); err != nil {
		return oops.Code("BLACKLIST_REVOKE_FAILED").
			With("operation", "set revocation").
			Wrap(err)
	}
	return nil
}

// IsRevoked implements token.Blacklist.
func (b *Blacklist) IsRevoked(ctx context.Context, tok string) (bool, error) {
	n, err := b.client.Exists(ctx, b.key(tok)).Result()
	if err != nil {
		return false, oops.Code("BLACKLIST_LOOKUP_FAILED").
			With("operation", "check revocation").
			Wrap(err)
	}
	return n > 0, nil
}

var _ token.Blacklist = (*Blacklist)(nil)
