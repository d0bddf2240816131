package ratelimit

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
)

// KeyFunc derives the identity part of the key; "" skips limiting.
type KeyFunc func(r *http.Request) string

// Middleware limits mutating requests per identity and route pattern.
// Limiter errors fail open: throttling is protection, not correctness.
func Middleware(l Limiter, key KeyFunc, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			id := key(r)
			if id == "" {
				next.ServeHTTP(w, r)
				return
			}
			d, err := l.Allow(r.Context(), id+":"+r.Method+":"+r.URL.Path)
			if err != nil {
				logger.Warn("rate limiter unavailable", "err", err)
				next.ServeHTTP(w, r)
				return
			}
			if !d.Allowed {
				secs := int(math.Ceil(d.RetryAfter.Seconds()))
				if secs < 1 {
					secs = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":{"code":"TOO_MANY_REQUESTS","message":"too many requests"}}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
