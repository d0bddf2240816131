package redisx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func New(addr, password string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

func Exists(ctx context.Context, rdb *redis.Client, key string) (bool, error) {
	n, err := rdb.Exists(ctx, key).Result()
	return n > 0, err
}

// ErrNotAcquired means another holder owns the lock.
var ErrNotAcquired = errors.New("redisx: lock not acquired")

// unlock deletes the key only if we still own it.
var unlock = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// Locker hands out expiring mutual-exclusion locks across processes.
type Locker struct {
	Client *redis.Client
}

// Acquire returns a release func, or ErrNotAcquired.
func (l Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	ok, err := l.Client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", key, err)
	}
	if !ok {
		return nil, ErrNotAcquired
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = unlock.Run(ctx, l.Client, []string{key}, token).Err()
	}, nil
}

// Dedup remembers processed ids for TTLDedup.
type Dedup struct {
	Client  *redis.Client
	Service string
}

// Seen reports whether id was already marked.
func (d Dedup) Seen(ctx context.Context, id string) (bool, error) {
	return Exists(ctx, d.Client, fmt.Sprintf(KeyDedup, d.Service, id))
}

func (d Dedup) Mark(ctx context.Context, id string) error {
	return d.Client.Set(ctx, fmt.Sprintf(KeyDedup, d.Service, id), "1", TTLDedup).Err()
}
