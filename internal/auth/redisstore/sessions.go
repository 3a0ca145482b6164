// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CourtCheck Contributors

package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/courtcheck/courtcheck/internal/auth"
)

const (
	registerStatusLimit    int64 = 0
	registerStatusAccepted int64 = 1
)

// registerScript prunes vanished members, applies the limit and inserts the
// session in one step, so concurrent logins of one user cannot overshoot.
//
// KEYS[1] user zset, KEYS[2] session key.
// ARGV: session key prefix, session id, payload, ttl ms, score, max, force.
// Returns {status, evicted payload...}.
const registerScriptSrc = `
local user_key = KEYS[1]
local session_key = KEYS[2]
local prefix = ARGV[1]
local session_id = ARGV[2]
local payload = ARGV[3]
local ttl_ms = tonumber(ARGV[4])
local max = tonumber(ARGV[6])
local force = ARGV[7] == "1"

local live = {}
for _, id in ipairs(redis.call("ZRANGE", user_key, 0, -1)) do
  if id ~= session_id and redis.call("EXISTS", prefix .. id) == 1 then
    table.insert(live, id)
  elseif id ~= session_id then
    redis.call("ZREM", user_key, id)
  end
end

local result = {1}
if max > 0 and #live >= max then
  if not force then
    return {0}
  end
  for i = 1, #live - max + 1 do
    local key = prefix .. live[i]
    local data = redis.call("GET", key)
    redis.call("DEL", key)
    redis.call("ZREM", user_key, live[i])
    if data then
      table.insert(result, data)
    end
  end
end

redis.call("SET", session_key, payload, "PX", ARGV[4])
redis.call("ZADD", user_key, ARGV[5], session_id)
if redis.call("PTTL", user_key) < ttl_ms then
  redis.call("PEXPIRE", user_key, ARGV[4])
end
return result
`

// removeAllScript deletes every session indexed for a user and the index.
// KEYS[1] user zset. ARGV[1] session key prefix.
const removeAllScriptSrc = `
local out = {}
for _, id in ipairs(redis.call("ZRANGE", KEYS[1], 0, -1)) do
  local key = ARGV[1] .. id
  local data = redis.call("GET", key)
  if data then
    redis.call("DEL", key)
    table.insert(out, data)
  end
end
redis.call("DEL", KEYS[1])
return out
`

var (
	registerScript  = redis.NewScript(registerScriptSrc)
	removeAllScript = redis.NewScript(removeAllScriptSrc)
)

// SessionRegistry implements auth.SessionRegistry on Redis.
type SessionRegistry struct {
	client        redis.UniversalClient
	now           func() time.Time
	sessionPrefix string
	userPrefix    string
}

// NewSessionRegistry creates a SessionRegistry over client.
func NewSessionRegistry(client redis.UniversalClient, opts ...Option) *SessionRegistry {
	o := applyOptions(opts)
	return &SessionRegistry{
		client:        client,
		now:           o.now,
		sessionPrefix: o.prefix + "session:",
		userPrefix:    o.prefix + "user_sessions:",
	}
}

func (r *SessionRegistry) sessionKey(id string) string { return r.sessionPrefix + id }

func (r *SessionRegistry) userKey(userID ulid.ULID) string { return r.userPrefix + userID.String() }

// Register implements auth.SessionRegistry.
func (r *SessionRegistry) Register(ctx context.Context, session *auth.Session, max int, force bool) ([]*auth.Session, error) {
	ttl := session.ExpiresAt.Sub(r.now())
	if ttl <= 0 {
		return nil, oops.Code("SESSION_EXPIRED").
			With("session_id", session.ID).
			Errorf("session expired before it was registered")
	}
	payload, err := encodeSession(session)
	if err != nil {
		return nil, err
	}
	forceArg := "0"
	if force {
		forceArg = "1"
	}

	res, err := registerScript.Run(ctx, r.client,
		[]string{r.userKey(session.UserID), r.sessionKey(session.ID)},
		r.sessionPrefix, session.ID, payload, max64(ttl.Milliseconds(), 1),
		session.LoginTime.UnixMilli(), max, forceArg,
	).Slice()
	if err != nil {
		return nil, oops.Code("SESSION_REGISTER_FAILED").
			With("operation", "run register script").
			With("user_id", session.UserID.String()).
			Wrap(err)
	}
	if len(res) == 0 {
		return nil, oops.Code("SESSION_REGISTER_FAILED").Errorf("empty script reply")
	}

	status, _ := res[0].(int64)
	switch status {
	case registerStatusLimit:
		return nil, auth.NewSessionLimitError(max)
	case registerStatusAccepted:
		return decodeAll(res[1:])
	default:
		return nil, oops.Code("SESSION_REGISTER_FAILED").With("status", res[0]).Errorf("unexpected script status")
	}
}

// Get implements auth.SessionRegistry.
func (r *SessionRegistry) Get(ctx context.Context, id string) (*auth.Session, error) {
	data, err := r.client.Get(ctx, r.sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, oops.Code("SESSION_NOT_FOUND").With("id", id).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("SESSION_GET_FAILED").
			With("operation", "get session").
			With("id", id).
			Wrap(err)
	}
	session, err := decodeSession(data)
	if err != nil {
		return nil, err
	}
	if session.IsExpiredAt(r.now()) {
		return nil, oops.Code("SESSION_NOT_FOUND").With("id", id).Wrap(auth.ErrNotFound)
	}
	return session, nil
}

// UpdateToken implements auth.SessionRegistry. The write only lands if the
// session still exists, so a concurrent Remove is never undone.
func (r *SessionRegistry) UpdateToken(ctx context.Context, id, accessToken string, accessExpiresAt, lastActivity time.Time) error {
	session, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	ttl := session.ExpiresAt.Sub(r.now())
	if ttl <= 0 {
		return oops.Code("SESSION_NOT_FOUND").With("id", id).Wrap(auth.ErrNotFound)
	}

	session.AccessToken = accessToken
	session.AccessExpiresAt = accessExpiresAt
	session.LastActivity = lastActivity
	payload, err := encodeSession(session)
	if err != nil {
		return err
	}

	err = r.client.SetArgs(ctx, r.sessionKey(id), payload, redis.SetArgs{Mode: "XX", TTL: ttl}).Err()
	if errors.Is(err, redis.Nil) {
		return oops.Code("SESSION_NOT_FOUND").With("id", id).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return oops.Code("SESSION_UPDATE_FAILED").
			With("operation", "update session token").
			With("id", id).
			Wrap(err)
	}
	return nil
}

// Remove implements auth.SessionRegistry.
func (r *SessionRegistry) Remove(ctx context.Context, id string) (*auth.Session, error) {
	data, err := r.client.GetDel(ctx, r.sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, oops.Code("SESSION_REMOVE_FAILED").
			With("operation", "delete session").
			With("id", id).
			Wrap(err)
	}
	session, err := decodeSession(data)
	if err != nil {
		return nil, err
	}
	if err := r.client.ZRem(ctx, r.userKey(session.UserID), id).Err(); err != nil {
		return nil, oops.Code("SESSION_REMOVE_FAILED").
			With("operation", "unindex session").
			With("id", id).
			Wrap(err)
	}
	return session, nil
}

// RemoveAllForUser implements auth.SessionRegistry.
func (r *SessionRegistry) RemoveAllForUser(ctx context.Context, userID ulid.ULID) ([]*auth.Session, error) {
	res, err := removeAllScript.Run(ctx, r.client, []string{r.userKey(userID)}, r.sessionPrefix).Slice()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, oops.Code("SESSION_REMOVE_FAILED").
			With("operation", "remove all sessions").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return decodeAll(res)
}

// ListByUser implements auth.SessionRegistry. Index entries whose session has
// expired are pruned on the way.
func (r *SessionRegistry) ListByUser(ctx context.Context, userID ulid.ULID) ([]*auth.Session, error) {
	userKey := r.userKey(userID)
	ids, err := r.client.ZRange(ctx, userKey, 0, -1).Result()
	if err != nil {
		return nil, oops.Code("SESSION_LIST_FAILED").
			With("operation", "list session ids").
			With("user_id", userID.String()).
			Wrap(err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.sessionKey(id)
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, oops.Code("SESSION_LIST_FAILED").
			With("operation", "load sessions").
			With("user_id", userID.String()).
			Wrap(err)
	}

	now := r.now()
	var stale []any
	sessions := make([]*auth.Session, 0, len(ids))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		session, err := decodeSession([]byte(raw))
		if err != nil {
			return nil, err
		}
		if !session.IsExpiredAt(now) {
			sessions = append(sessions, session)
		}
	}
	if len(stale) > 0 {
		// Best effort: Register prunes too.
		_ = r.client.ZRem(ctx, userKey, stale...).Err() //nolint:errcheck // see above
	}
	return sessions, nil
}

// Count implements auth.SessionRegistry.
func (r *SessionRegistry) Count(ctx context.Context, userID ulid.ULID) (int, error) {
	sessions, err := r.ListByUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	return len(sessions), nil
}

// sessionRecord is the stored form of auth.Session.
type sessionRecord struct {
	ID              string    `json:"id"`
	UserID          string    `json:"userId"`
	Email           string    `json:"email"`
	AccessToken     string    `json:"accessToken"`
	AccessExpiresAt time.Time `json:"accessExpiresAt"`
	IP              string    `json:"ip"`
	UserAgent       string    `json:"userAgent"`
	LoginTime       time.Time `json:"loginTime"`
	LastActivity    time.Time `json:"lastActivity"`
	ExpiresAt       time.Time `json:"expiresAt"`
}

func encodeSession(s *auth.Session) ([]byte, error) {
	data, err := json.Marshal(sessionRecord{
		ID:              s.ID,
		UserID:          s.UserID.String(),
		Email:           s.Email,
		AccessToken:     s.AccessToken,
		AccessExpiresAt: s.AccessExpiresAt,
		IP:              s.IP,
		UserAgent:       s.UserAgent,
		LoginTime:       s.LoginTime,
		LastActivity:    s.LastActivity,
		ExpiresAt:       s.ExpiresAt,
	})
	if err != nil {
		return nil, oops.Code("SESSION_ENCODE_FAILED").With("session_id", s.ID).Wrap(err)
	}
	return data, nil
}

func decodeSession(data []byte) (*auth.Session, error) {
	var rec sessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, oops.Code("SESSION_DECODE_FAILED").Wrap(err)
	}
	userID, err := ulid.Parse(rec.UserID)
	if err != nil {
		return nil, oops.Code("SESSION_DECODE_FAILED").With("user_id", rec.UserID).Wrap(err)
	}
	return &auth.Session{
		ID:              rec.ID,
		UserID:          userID,
		Email:           rec.Email,
		AccessToken:     rec.AccessToken,
		AccessExpiresAt: rec.AccessExpiresAt,
		IP:              rec.IP,
		UserAgent:       rec.UserAgent,
		LoginTime:       rec.LoginTime,
		LastActivity:    rec.LastActivity,
		ExpiresAt:       rec.ExpiresAt,
	}, nil
}

func decodeAll(payloads []any) ([]*auth.Session, error) {
	if len(payloads) == 0 {
		return nil, nil
	}
	out := make([]*auth.Session, 0, len(payloads))
	for _, p := range payloads {
		raw, ok := p.(string)
		if !ok {
			return nil, oops.Code("SESSION_DECODE_FAILED").With("type", p).Errorf("unexpected script reply element")
		}
		s, err := decodeSession([]byte(raw))
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

var _ auth.SessionRegistry = (*SessionRegistry)(nil)
