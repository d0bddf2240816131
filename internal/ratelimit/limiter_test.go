package ratelimit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func limiters(t *testing.T, c *clock) map[string]Limiter {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	r := NewRedis(rdb, 3, time.Minute)
	r.Now = c.now
	m := NewMemory(3, time.Minute)
	m.Now = c.now
	return map[string]Limiter{"redis": r, "memory": m}
}

func TestSlidingWindow(t *testing.T) {
	for _, name := range []string{"redis", "memory"} {
		t.Run(name, func(t *testing.T) {
			c := &clock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
			l := limiters(t, c)[name]
			ctx := context.Background()

			for i, want := range []int{2, 1, 0} {
				d, err := l.Allow(ctx, "buyer-1")
				if err != nil {
					t.Fatal(err)
				}
				if !d.Allowed || d.Remaining != want {
					t.Fatalf("call %d: %+v", i, d)
				}
				c.t = c.t.Add(10 * time.Second)
			}
			d, err := l.Allow(ctx, "buyer-1")
			if err != nil {
				t.Fatal(err)
			}
			if d.Allowed || d.RetryAfter != 30*time.Second {
				t.Fatalf("over limit: %+v", d)
			}
			if d, _ := l.Allow(ctx, "buyer-2"); !d.Allowed {
				t.Fatal("keys are not independent")
			}

			// the first hit slides out of the window
			c.t = c.t.Add(31 * time.Second)
			if d, _ := l.Allow(ctx, "buyer-1"); !d.Allowed {
				t.Fatalf("after window: %+v", d)
			}
		})
	}
}

type stubLimiter struct {
	d   Decision
	err error
}

func (s stubLimiter) Allow(context.Context, string) (Decision, error) { return s.d, s.err }

func TestMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	identity := func(r *http.Request) string { return r.Header.Get("X-User") }
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name       string
		limiter    Limiter
		method     string
		user       string
		wantStatus int
		wantRetry  string
	}{
		{"allowed", stubLimiter{d: Decision{Allowed: true}}, http.MethodPost, "b1", http.StatusNoContent, ""},
		{"refused", stubLimiter{d: Decision{RetryAfter: 1500 * time.Millisecond}}, http.MethodPost, "b1", http.StatusTooManyRequests, "2"},
		{"sub-second retry rounds up", stubLimiter{d: Decision{RetryAfter: time.Millisecond}}, http.MethodPost, "b1", http.StatusTooManyRequests, "1"},
		{"reads are not limited", stubLimiter{}, http.MethodGet, "b1", http.StatusNoContent, ""},
		{"anonymous is not limited", stubLimiter{}, http.MethodPost, "", http.StatusNoContent, ""},
		{"limiter down fails open", stubLimiter{err: errors.New("redis down")}, http.MethodPost, "b1", http.StatusNoContent, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := Middleware(tt.limiter, identity, logger)(ok)
			req := httptest.NewRequest(tt.method, "/v1/checkout", nil)
			req.Header.Set("X-User", tt.user)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status=%d want %d", rec.Code, tt.wantStatus)
			}
			if got := rec.Header().Get("Retry-After"); got != tt.wantRetry {
				t.Fatalf("Retry-After=%q want %q", got, tt.wantRetry)
			}
		})
	}
}
