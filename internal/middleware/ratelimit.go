package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// RateLimitConfig holds configuration for a specific rate limit
type RateLimitConfig struct {
	Name   string
	Limit  int
	Window time.Duration
	KeyFn  func(*http.Request) string
}

// DefaultRateLimit builds a per-IP limit from security.rate_limiting.
func (m *Middleware) DefaultRateLimit(name string) RateLimitConfig {
	rl := m.cfg.Security.RateLimiting
	window, err := time.ParseDuration(rl.DefaultWindow)
	if err != nil || window <= 0 {
		window = time.Minute
	}
	limit := rl.DefaultLimit
	if limit <= 0 {
		limit = 60
	}
	return RateLimitConfig{Name: name, Limit: limit, Window: window, KeyFn: IPKey}
}

// RateLimit creates a fixed-window rate limiting middleware backed by Redis.
// Requests pass through when limiting is disabled, Redis is not configured,
// or the counter cannot be reached.
func (m *Middleware) RateLimit(cfg RateLimitConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !m.cfg.Security.RateLimiting.Enabled || m.rdb == nil {
				next.ServeHTTP(w, r)
				return
			}

			key := fmt.Sprintf("secureqr:ratelimit:%s:%s", cfg.Name, cfg.KeyFn(r))
			count, ttl, err := m.rdb.Hit(r.Context(), key, cfg.Window)
			if err != nil {
				m.log.Error().Err(err).Msg("failed to increment rate limit counter")
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(max(0, cfg.Limit-int(count))))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(ttl).Unix(), 10))

			if int(count) > cfg.Limit {
				w.Header().Set("Retry-After", strconv.FormatInt(int64(ttl.Round(time.Second)/time.Second), 10))
				writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests. Please try again later.")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// IPKey returns the client IP address as the rate limit key
func IPKey(r *http.Request) string {
	return ClientIP(r)
}
