package ratelimit

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/keithlinneman/linnemanlabs-gate/internal/xerrors"
)

// KEYS[1] counter, KEYS[2] first-denial marker
// ARGV[1] limit, ARGV[2] window in ms
// returns {allowed, count, pttl, first_denial}
var redisTakeScript = redis.NewScript(`
local limit = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local count = tonumber(redis.call("GET", KEYS[1]) or "0")
if count >= limit then
  local ttl = redis.call("PTTL", KEYS[1])
  if ttl < 0 then
    redis.call("PEXPIRE", KEYS[1], window)
    ttl = window
  end
  local first = 0
  if redis.call("SET", KEYS[2], "1", "NX", "PX", ttl) then
    first = 1
  end
  return {0, count, ttl, first}
end
count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], window)
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], window)
  ttl = window
end
return {1, count, ttl, 0}
`)

// RedisStore shares fixed windows between instances. Keys expire through
// Redis TTLs so it does not implement Sweeper.
type RedisStore struct {
	client redis.Scripter
	prefix string
}

// NewRedisStore wraps a client. prefix namespaces keys, "ratelimit" when empty.
func NewRedisStore(client redis.Scripter, prefix string) *RedisStore {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) counterKey(key string) string { return s.prefix + ":" + key }
func (s *RedisStore) deniedKey(key string) string  { return s.prefix + ":" + key + ":denied" }

// Take implements Store
func (s *RedisStore) Take(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Outcome, error) {
	if s == nil || s.client == nil {
		return Outcome{}, xerrors.New("redis store has no client")
	}
	res, err := redisTakeScript.Run(ctx, s.client,
		[]string{s.counterKey(key), s.deniedKey(key)},
		limit, window.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Outcome{}, xerrors.Wrapf(err, "redis take %s", key)
	}
	if len(res) != 4 {
		return Outcome{}, xerrors.Newf("redis take %s: unexpected reply length %d", key, len(res))
	}

	count := int(res[1])
	return Outcome{
		Allowed: res[0] == 1,
		Record: Record{
			Count:     count,
			WindowEnd: now.Add(time.Duration(res[2]) * time.Millisecond),
		},
		Fresh:       res[0] == 1 && count == 1,
		FirstDenial: res[3] == 1,
	}, nil
}

// Ping checks connectivity, used for readiness
func (s *RedisStore) Ping(ctx context.Context) error {
	p, ok := s.client.(interface {
		Ping(context.Context) *redis.StatusCmd
	})
	if !ok {
		return nil
	}
	return xerrors.Wrap(p.Ping(ctx).Err(), "redis ping")
}
