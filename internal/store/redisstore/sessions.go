// Package redisstore keeps administrator sessions in Redis. Every mutation is
// a Lua script so it executes atomically on the server.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"harborvisa.org/internal/auth"
)

// SessionStore implements auth.SessionStore.
//
// Layout: {<prefix>sessions}:session:<key> is a hash with the session fields
// (times in unix milliseconds); {<prefix>sessions}:admin:<id> is a sorted set
// of session keys scored by expiry. The shared hash tag keeps every key in
// one cluster slot, so scripts that walk an index stay on one node.
type SessionStore struct {
	client redis.UniversalClient
	prefix string
}

var _ auth.SessionStore = (*SessionStore)(nil)

// Insert refuses to overwrite and sets a TTL matching the session expiry.
// Index members that expired before the new session was issued are pruned,
// and the index lives at least as long as its longest-lived session.
var insertScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
redis.call("HSET", KEYS[1], "admin_id", ARGV[1], "issued_at", ARGV[2], "expires_at", ARGV[3], "remember_me", ARGV[4], "origin", ARGV[5])
redis.call("PEXPIRE", KEYS[1], ARGV[6])
redis.call("ZREMRANGEBYSCORE", KEYS[2], "-inf", ARGV[2])
redis.call("ZADD", KEYS[2], ARGV[3], ARGV[7])
if redis.call("PTTL", KEYS[2]) < tonumber(ARGV[6]) then
  redis.call("PEXPIRE", KEYS[2], ARGV[6])
end
return 1
`)

var revokeScript = redis.NewScript(`
local exp = redis.call("HGET", KEYS[1], "expires_at")
if not exp then
  return false
end
if redis.call("HEXISTS", KEYS[1], "revoked_at") == 1 then
  return false
end
if tonumber(exp) <= tonumber(ARGV[1]) then
  return false
end
redis.call("HSET", KEYS[1], "revoked_at", ARGV[1])
return redis.call("HGETALL", KEYS[1])
`)

// The admin index keeps the member until the next insert or revoke-all prunes it.
var deleteExpiredScript = redis.NewScript(`
local exp = redis.call("HGET", KEYS[1], "expires_at")
if not exp then
  return 0
end
if tonumber(exp) > tonumber(ARGV[1]) then
  return 0
end
redis.call("DEL", KEYS[1])
return 1
`)

var revokeAllScript = redis.NewScript(`
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
local members = redis.call("ZRANGE", KEYS[1], 0, -1)
local n = 0
for _, key in ipairs(members) do
  local skey = ARGV[3] .. key
  local exp = redis.call("HGET", skey, "expires_at")
  if not exp then
    redis.call("ZREM", KEYS[1], key)
  elseif key ~= ARGV[2] and redis.call("HEXISTS", skey, "revoked_at") == 0 and tonumber(exp) > tonumber(ARGV[1]) then
    redis.call("HSET", skey, "revoked_at", ARGV[1])
    n = n + 1
  end
end
return n
`)

// Options configures the Redis connection.
type Options struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// New connects a client from opts.
func New(opts Options) (*SessionStore, error) {
	if opts.Addr == "" {
		return nil, errors.New("redis addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return NewWithClient(client, opts.KeyPrefix), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client redis.UniversalClient, prefix string) *SessionStore {
	return &SessionStore{client: client, prefix: prefix}
}

// Ping checks connectivity for readiness probes.
func (s *SessionStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *SessionStore) Close() error { return s.client.Close() }

func (s *SessionStore) tag() string { return "{" + s.prefix + "sessions}:" }

func (s *SessionStore) sessionPrefix() string { return s.tag() + "session:" }

func (s *SessionStore) adminPrefix() string { return s.tag() + "admin:" }

func (s *SessionStore) sessionKey(key string) string { return s.sessionPrefix() + key }

func (s *SessionStore) adminKey(id int64) string { return s.adminPrefix() + strconv.FormatInt(id, 10) }

func (s *SessionStore) Insert(ctx context.Context, sess auth.Session) error {
	ttl := time.Until(sess.ExpiresAt)
	if ttl <= 0 {
		// Keep already-expired sessions briefly so eviction-on-read still sees them.
		ttl = time.Minute
	}
	remember := "0"
	if sess.RememberMe {
		remember = "1"
	}
	res, err := insertScript.Run(ctx, s.client,
		[]string{s.sessionKey(sess.Key), s.adminKey(sess.AdminID)},
		sess.AdminID,
		sess.IssuedAt.UnixMilli(),
		sess.ExpiresAt.UnixMilli(),
		remember,
		sess.Origin,
		ttl.Milliseconds(),
		sess.Key,
	).Int64()
	if err != nil {
		return err
	}
	if res == 0 {
		return auth.ErrConflict
	}
	return nil
}

func (s *SessionStore) Lookup(ctx context.Context, key string) (auth.Session, error) {
	fields, err := s.client.HGetAll(ctx, s.sessionKey(key)).Result()
	if err != nil {
		return auth.Session{}, err
	}
	if len(fields) == 0 {
		return auth.Session{}, auth.ErrNotFound
	}
	return decodeSession(key, fields)
}

func (s *SessionStore) RevokeIfLive(ctx context.Context, key string, at time.Time) (auth.Session, bool, error) {
	res, err := revokeScript.Run(ctx, s.client, []string{s.sessionKey(key)}, at.UnixMilli()).Slice()
	if errors.Is(err, redis.Nil) {
		return auth.Session{}, false, nil
	}
	if err != nil {
		return auth.Session{}, false, err
	}
	fields := make(map[string]string, len(res)/2)
	for i := 0; i+1 < len(res); i += 2 {
		k, _ := res[i].(string)
		v, _ := res[i+1].(string)
		fields[k] = v
	}
	sess, err := decodeSession(key, fields)
	if err != nil {
		return auth.Session{}, false, err
	}
	return sess, true, nil
}

func (s *SessionStore) DeleteIfExpired(ctx context.Context, key string, now time.Time) (bool, error) {
	n, err := deleteExpiredScript.Run(ctx, s.client, []string{s.sessionKey(key)}, now.UnixMilli()).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *SessionStore) RevokeAllForAdmin(ctx context.Context, adminID int64, exceptKey string, at time.Time) (int, error) {
	n, err := revokeAllScript.Run(ctx, s.client, []string{s.adminKey(adminID)},
		at.UnixMilli(), exceptKey, s.sessionPrefix()).Int64()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Sweep is a no-op: session hashes and admin indexes carry TTLs, so Redis
// removes expired and revoked entries on its own.
func (s *SessionStore) Sweep(context.Context, time.Time, time.Time) (int, error) {
	return 0, nil
}

func decodeSession(key string, fields map[string]string) (auth.Session, error) {
	adminID, err := strconv.ParseInt(fields["admin_id"], 10, 64)
	if err != nil {
		return auth.Session{}, fmt.Errorf("decode session admin_id: %w", err)
	}
	issued, err := parseMillis(fields["issued_at"])
	if err != nil {
		return auth.Session{}, fmt.Errorf("decode session issued_at: %w", err)
	}
	expires, err := parseMillis(fields["expires_at"])
	if err != nil {
		return auth.Session{}, fmt.Errorf("decode session expires_at: %w", err)
	}
	sess := auth.Session{
		Key:        key,
		AdminID:    adminID,
		IssuedAt:   issued,
		ExpiresAt:  expires,
		RememberMe: fields["remember_me"] == "1",
		Origin:     fields["origin"],
	}
	if raw, ok := fields["revoked_at"]; ok {
		revoked, err := parseMillis(raw)
		if err != nil {
			return auth.Session{}, fmt.Errorf("decode session revoked_at: %w", err)
		}
		sess.RevokedAt = &revoked
	}
	return sess, nil
}

func parseMillis(raw string) (time.Time, error) {
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}
