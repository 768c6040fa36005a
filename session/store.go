package session

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/MrEthical07/rentauth/token"
	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps every Redis failure returned by Store.
var ErrRedisUnavailable = errors.New("redis unavailable")

// ErrRowCorrupt is returned when a stored row is missing fields.
var ErrRowCorrupt = errors.New("refresh row corrupt")

const (
	statusNotFound int64 = 0
	statusDead     int64 = 1
	statusExpired  int64 = 2
	statusOK       int64 = 3
)

// Every script returns {status, id, user, state, exp, created, updated, by}
// where it has a row to report. Times are unix milliseconds.
const rowFields = `"id", "user", "state", "exp", "created", "updated", "by"`

const insertScript = `
local row_key = KEYS[1]
local user_key = KEYS[2]
local row_prefix = ARGV[1]
local member = ARGV[2]
local now = tonumber(ARGV[6])
local max_active = tonumber(ARGV[9])

if max_active > 0 then
  local live = {}
  for _, m in ipairs(redis.call("ZRANGE", user_key, 0, -1)) do
    local r = redis.call("HMGET", row_prefix .. m, "state", "exp")
    if r[1] == "active" and tonumber(r[2]) > now then
      table.insert(live, m)
    end
  end
  for i = 1, #live - max_active + 1 do
    redis.call("HSET", row_prefix .. live[i], "state", "revoked", "updated", ARGV[6])
  end
end

redis.call("HSET", row_key,
  "id", ARGV[3], "user", ARGV[4], "state", "active", "exp", ARGV[5],
  "created", ARGV[6], "updated", ARGV[6], "by", "")
redis.call("PEXPIREAT", row_key, ARGV[7])
redis.call("ZADD", user_key, ARGV[6], member)
redis.call("PEXPIREAT", user_key, ARGV[8])
return 1
`

const rotateScript = `
local old_key = KEYS[1]
local next_key = KEYS[2]
local now = tonumber(ARGV[1])

local row = redis.call("HMGET", old_key, ` + rowFields + `)
if not row[1] then
  return {0}
end

local status = 3
if row[3] ~= "active" then
  status = 1
elseif tonumber(row[4]) <= now then
  redis.call("HSET", old_key, "state", "expired", "updated", ARGV[1])
  status = 2
else
  redis.call("HSET", old_key, "state", "rotated", "updated", ARGV[1], "by", ARGV[2])
  redis.call("HSET", next_key,
    "id", ARGV[2], "user", row[2], "state", "active", "exp", ARGV[4],
    "created", ARGV[1], "updated", ARGV[1], "by", "")
  redis.call("PEXPIREAT", next_key, ARGV[5])
  local user_key = ARGV[6] .. row[2]
  redis.call("ZADD", user_key, ARGV[1], ARGV[3])
  redis.call("PEXPIREAT", user_key, ARGV[5])
end

row = redis.call("HMGET", old_key, ` + rowFields + `)
return {status, row[1], row[2], row[3], row[4], row[5], row[6], row[7]}
`

const revokeScript = `
local row_key = KEYS[1]
local row = redis.call("HMGET", row_key, "state")
if not row[1] then
  return {0}
end
if row[1] == "active" then
  redis.call("HSET", row_key, "state", "revoked", "updated", ARGV[1])
end
row = redis.call("HMGET", row_key, ` + rowFields + `)
return {3, row[1], row[2], row[3], row[4], row[5], row[6], row[7]}
`

const revokeAllScript = `
local user_key = KEYS[1]
local row_prefix = ARGV[1]
local n = 0
for _, m in ipairs(redis.call("ZRANGE", user_key, 0, -1)) do
  local k = row_prefix .. m
  local state = redis.call("HGET", k, "state")
  if not state then
    redis.call("ZREM", user_key, m)
  elseif state == "active" then
    redis.call("HSET", k, "state", "revoked", "updated", ARGV[2])
    n = n + 1
  end
end
return n
`

const activeCountScript = `
local n = 0
for _, m in ipairs(redis.call("ZRANGE", KEYS[1], 0, -1)) do
  local r = redis.call("HMGET", ARGV[1] .. m, "state", "exp")
  if r[1] == "active" and tonumber(r[2]) > tonumber(ARGV[2]) then
    n = n + 1
  end
end
return n
`

const purgeScript = `
local user_key = KEYS[1]
local row_prefix = ARGV[1]
local cutoff = tonumber(ARGV[2])
local n = 0
for _, m in ipairs(redis.call("ZRANGE", user_key, 0, -1)) do
  local k = row_prefix .. m
  local r = redis.call("HMGET", k, "state", "exp", "updated")
  if not r[1] then
    redis.call("ZREM", user_key, m)
  elseif (r[1] ~= "active" or tonumber(r[2]) <= cutoff) and tonumber(r[3]) < cutoff then
    redis.call("DEL", k)
    redis.call("ZREM", user_key, m)
    n = n + 1
  end
end
if redis.call("ZCARD", user_key) == 0 then
  redis.call("DEL", user_key)
end
return n
`

var (
	insertLua      = redis.NewScript(insertScript)
	rotateLua      = redis.NewScript(rotateScript)
	revokeLua      = redis.NewScript(revokeScript)
	revokeAllLua   = redis.NewScript(revokeAllScript)
	activeCountLua = redis.NewScript(activeCountScript)
	purgeLua       = redis.NewScript(purgeScript)
)

// DefaultRetention keeps dead rows long enough for reuse detection to outlive
// any refresh token that could still be replayed.
const DefaultRetention = 7 * 24 * time.Hour

// Config tunes key layout and how long dead rows linger.
type Config struct {
	Prefix    string        `env:"PREFIX" envDefault:"ra"`
	Retention time.Duration `env:"RETENTION" envDefault:"168h"`
}

// Store is a Redis-backed token.Store. Each refresh token is one hash keyed
// by the hex SHA-256 of the token, indexed per user in a sorted set ordered
// by creation time. Every mutation runs as a single Lua script, so the
// compare-and-set on the row state cannot interleave with another caller.
type Store struct {
	redis     redis.UniversalClient
	prefix    string
	retention time.Duration
}

var _ token.Store = (*Store)(nil)

// NewStore creates a Store on rdb.
func NewStore(rdb redis.UniversalClient, cfg Config) *Store {
	if cfg.Prefix == "" {
		cfg.Prefix = "ra"
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	return &Store{redis: rdb, prefix: cfg.Prefix, retention: cfg.Retention}
}

func (s *Store) rowPrefix() string { return s.prefix + ":rt:" }

func (s *Store) userPrefix() string { return s.prefix + ":rtu:" }

func (s *Store) rowKey(hash []byte) string { return s.rowPrefix() + hex.EncodeToString(hash) }

func (s *Store) userKey(userID string) string { return s.userPrefix() + userID }

func (s *Store) keepUntil(expires time.Time) int64 {
	return expires.Add(s.retention).UnixMilli()
}

// Insert implements token.Store.
func (s *Store) Insert(ctx context.Context, rec token.Record, maxActive int) error {
	keep := s.keepUntil(rec.ExpiresAt)
	err := insertLua.Run(ctx, s.redis,
		[]string{s.rowKey(rec.TokenHash), s.userKey(rec.UserID)},
		s.rowPrefix(),
		hex.EncodeToString(rec.TokenHash),
		rec.ID,
		rec.UserID,
		rec.ExpiresAt.UnixMilli(),
		rec.CreatedAt.UnixMilli(),
		keep,
		keep,
		maxActive,
	).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Lookup implements token.Store with a plain HMGET; nothing is written.
func (s *Store) Lookup(ctx context.Context, hash []byte) (token.Record, error) {
	vals, err := s.redis.HMGet(ctx, s.rowKey(hash), "id", "user", "state", "exp", "created", "updated", "by").Result()
	if err != nil {
		return token.Record{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	empty := true
	for _, v := range vals {
		if v != nil {
			empty = false
			break
		}
	}
	if empty {
		return token.Record{}, token.ErrNotFound
	}
	_, rec, err := parseRow(append([]interface{}{statusOK}, vals...), hash)
	return rec, err
}

// Rotate implements token.Store.
func (s *Store) Rotate(ctx context.Context, oldHash []byte, next token.Record, now time.Time) (token.Record, error) {
	res, err := rotateLua.Run(ctx, s.redis,
		[]string{s.rowKey(oldHash), s.rowKey(next.TokenHash)},
		now.UnixMilli(),
		next.ID,
		hex.EncodeToString(next.TokenHash),
		next.ExpiresAt.UnixMilli(),
		s.keepUntil(next.ExpiresAt),
		s.userPrefix(),
	).Result()
	if err != nil {
		return token.Record{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	status, rec, err := parseRow(res, oldHash)
	if err != nil {
		return token.Record{}, err
	}
	switch status {
	case statusNotFound:
		return token.Record{}, token.ErrNotFound
	case statusDead:
		return rec, token.ErrNotActive
	case statusExpired:
		return rec, token.ErrRowExpired
	default:
		return rec, nil
	}
}

// RevokeByHash implements token.Store.
func (s *Store) RevokeByHash(ctx context.Context, hash []byte, now time.Time) (token.Record, error) {
	res, err := revokeLua.Run(ctx, s.redis, []string{s.rowKey(hash)}, now.UnixMilli()).Result()
	if err != nil {
		return token.Record{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	status, rec, err := parseRow(res, hash)
	if err != nil {
		return token.Record{}, err
	}
	if status == statusNotFound {
		return token.Record{}, token.ErrNotFound
	}
	return rec, nil
}

// RevokeAllForUser implements token.Store.
func (s *Store) RevokeAllForUser(ctx context.Context, userID string, now time.Time) (int, error) {
	n, err := revokeAllLua.Run(ctx, s.redis, []string{s.userKey(userID)}, s.rowPrefix(), now.UnixMilli()).Int()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return n, nil
}

// ActiveCount implements token.Store.
func (s *Store) ActiveCount(ctx context.Context, userID string, now time.Time) (int, error) {
	n, err := activeCountLua.Run(ctx, s.redis, []string{s.userKey(userID)}, s.rowPrefix(), now.UnixMilli()).Int()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return n, nil
}

// PurgeDead implements token.Store. It walks every user index with SCAN, so
// it belongs in a background job, never a request path. Rows also vanish on
// their own once the key TTL (expiry plus retention) passes.
func (s *Store) PurgeDead(ctx context.Context, cutoff time.Time) (int, error) {
	var (
		cursor uint64
		total  int
	)
	pattern := s.userPrefix() + "*"
	for {
		keys, next, err := s.redis.Scan(ctx, cursor, pattern, 1000).Result()
		if err != nil {
			return total, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		for _, key := range keys {
			n, err := purgeLua.Run(ctx, s.redis, []string{key}, s.rowPrefix(), cutoff.UnixMilli()).Int()
			if err != nil {
				return total, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
			}
			total += n
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return total, nil
}

// Ping returns a point-in-time Redis availability check and latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return time.Since(start), nil
}

func parseRow(res interface{}, hash []byte) (int64, token.Record, error) {
	parts, ok := res.([]interface{})
	if !ok || len(parts) == 0 {
		return 0, token.Record{}, fmt.Errorf("%w: invalid script response", ErrRedisUnavailable)
	}
	status, ok := parts[0].(int64)
	if !ok {
		return 0, token.Record{}, fmt.Errorf("%w: invalid script status", ErrRedisUnavailable)
	}
	if status == statusNotFound {
		return status, token.Record{}, nil
	}
	if len(parts) != 8 {
		return 0, token.Record{}, ErrRowCorrupt
	}

	field := func(i int) string {
		v, _ := parts[i].(string)
		return v
	}
	ms := func(i int) (time.Time, error) {
		n, err := strconv.ParseInt(field(i), 10, 64)
		if err != nil {
			return time.Time{}, ErrRowCorrupt
		}
		return time.UnixMilli(n), nil
	}

	rec := token.Record{
		ID:         field(1),
		UserID:     field(2),
		TokenHash:  append([]byte(nil), hash...),
		State:      token.State(field(3)),
		ReplacedBy: field(7),
	}
	if rec.ID == "" || rec.UserID == "" || !rec.State.Valid() {
		return 0, token.Record{}, ErrRowCorrupt
	}
	var err error
	if rec.ExpiresAt, err = ms(4); err != nil {
		return 0, token.Record{}, err
	}
	if rec.CreatedAt, err = ms(5); err != nil {
		return 0, token.Record{}, err
	}
	if rec.UpdatedAt, err = ms(6); err != nil {
		return 0, token.Record{}, err
	}
	return status, rec, nil
}
