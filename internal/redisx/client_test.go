package redisx

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestLocker(t *testing.T) {
	mr, rdb := newClient(t)
	ctx := context.Background()
	l := Locker{Client: rdb}
	key := fmt.Sprintf(KeyJobLock, "settle-payouts")

	release, err := l.Acquire(ctx, key, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := l.Acquire(ctx, key, time.Minute); !errors.Is(err, ErrNotAcquired) {
		t.Fatalf("second acquire err=%v", err)
	}
	if ttl := mr.TTL(key); ttl != time.Minute {
		t.Fatalf("ttl=%v", ttl)
	}
	release()
	if mr.Exists(key) {
		t.Fatal("release left the key behind")
	}

	release, err = l.Acquire(ctx, key, time.Minute)
	if err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	// the lock expired and someone else took it
	mr.Set(key, "other-holder")
	release()
	if v, _ := mr.Get(key); v != "other-holder" {
		t.Fatalf("release deleted a lock it no longer owned: %q", v)
	}
}

func TestDedup(t *testing.T) {
	mr, rdb := newClient(t)
	ctx := context.Background()
	d := Dedup{Client: rdb, Service: "credits"}

	seen, err := d.Seen(ctx, "evt-1")
	if err != nil || seen {
		t.Fatalf("seen=%v err=%v before mark", seen, err)
	}
	if err := d.Mark(ctx, "evt-1"); err != nil {
		t.Fatal(err)
	}
	if seen, _ := d.Seen(ctx, "evt-1"); !seen {
		t.Fatal("marked id not seen")
	}
	if seen, _ := (Dedup{Client: rdb, Service: "notify"}).Seen(ctx, "evt-1"); seen {
		t.Fatal("dedup keys leak across services")
	}
	mr.FastForward(TTLDedup + time.Second)
	if seen, _ := d.Seen(ctx, "evt-1"); seen {
		t.Fatal("dedup entry outlived its ttl")
	}
}
