// Package ratelimit throttles requests per identity with a sliding window.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ariefcatur/go-fresh-orders/internal/redisx"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// slidingWindow prunes, counts and (when under the limit) records the
// request in one script, so the read-then-write is atomic per key.
// KEYS[1]=zset ARGV: now_ms, window_ms, limit, member
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count < limit then
  redis.call('ZADD', key, now, ARGV[4])
  redis.call('PEXPIRE', key, window)
  return {1, limit - count - 1, 0}
end
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local retry = window
if oldest[2] then
  retry = tonumber(oldest[2]) + window - now
end
return {0, 0, retry}
`)

type Redis struct {
	Client *redis.Client
	Limit  int
	Window time.Duration
	Now    func() time.Time
}

func NewRedis(client *redis.Client, limit int, window time.Duration) *Redis {
	return &Redis{Client: client, Limit: limit, Window: window, Now: time.Now}
}

func (l *Redis) Allow(ctx context.Context, key string) (Decision, error) {
	now := l.Now().UnixMilli()
	res, err := slidingWindow.Run(ctx, l.Client,
		[]string{fmt.Sprintf(redisx.KeyRateLimit, key)},
		now, l.Window.Milliseconds(), l.Limit, fmt.Sprintf("%d-%s", now, uuid.NewString()),
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit %s: %w", key, err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("rate limit %s: unexpected reply %v", key, res)
	}
	return Decision{
		Allowed:    res[0] == 1,
		Remaining:  int(res[1]),
		RetryAfter: time.Duration(res[2]) * time.Millisecond,
	}, nil
}

// Memory is a single-process limiter for tests and local runs.
type Memory struct {
	Limit  int
	Window time.Duration
	Now    func() time.Time

	mu   sync.Mutex
	hits map[string][]time.Time
}

func NewMemory(limit int, window time.Duration) *Memory {
	return &Memory{Limit: limit, Window: window, Now: time.Now, hits: map[string][]time.Time{}}
}

func (l *Memory) Allow(_ context.Context, key string) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.Now()
	cutoff := now.Add(-l.Window)
	kept := l.hits[key][:0]
	for _, t := range l.hits[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= l.Limit {
		l.hits[key] = kept
		return Decision{Allowed: false, RetryAfter: kept[0].Add(l.Window).Sub(now)}, nil
	}
	l.hits[key] = append(kept, now)
	return Decision{Allowed: true, Remaining: l.Limit - len(kept) - 1}, nil
}
