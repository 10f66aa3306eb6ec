package middleware

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/platinummonkey/tenancy/pkg/auth"
	"github.com/platinummonkey/tenancy/pkg/observability"
)

// RateLimitConfig defines rate limiting configuration
type RateLimitConfig struct {
	// RequestsPerWindow is the max requests allowed in the time window
	RequestsPerWindow int
	// WindowDuration is the time window for rate limiting
	WindowDuration time.Duration
}

// DefaultRateLimitConfig returns the limits for anonymous callers
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerWindow: 100,
		WindowDuration:    time.Minute,
	}
}

// PerUserRateLimitConfig returns per-user rate limit settings
func PerUserRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerWindow: 1000,
		WindowDuration:    time.Minute,
	}
}

// RateLimiter is a fixed-window counter kept in process memory. It backs the
// middleware when no Redis is configured.
type RateLimiter struct {
	config  *RateLimitConfig
	now     func() time.Time
	mu      sync.Mutex
	windows map[string]*window
}

type window struct {
	count   int
	resetAt time.Time
}

// NewRateLimiter creates a new in-memory rate limiter
func NewRateLimiter(config *RateLimitConfig) *RateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	return &RateLimiter{
		config:  config,
		now:     time.Now,
		windows: make(map[string]*window),
	}
}

// Allow records a request for key and reports whether it fits the window,
// along with the remaining budget and the window reset time
func (rl *RateLimiter) Allow(key string) (bool, int, time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	w, ok := rl.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(rl.config.WindowDuration)}
		rl.windows[key] = w
	}
	w.count++

	remaining := rl.config.RequestsPerWindow - w.count
	if remaining < 0 {
		remaining = 0
	}
	return w.count <= rl.config.RequestsPerWindow, remaining, w.resetAt
}

// Cleanup drops windows that have already reset
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for key, w := range rl.windows {
		if !now.Before(w.resetAt) {
			delete(rl.windows, key)
		}
	}
}

// RateLimitMiddleware provides HTTP rate limiting backed by RateLimiter
type RateLimitMiddleware struct {
	userLimiter      *RateLimiter
	anonymousLimiter *RateLimiter
	metrics          *observability.Metrics
}

// NewRateLimitMiddleware creates a new in-memory rate limit middleware
func NewRateLimitMiddleware(metrics *observability.Metrics) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		userLimiter:      NewRateLimiter(PerUserRateLimitConfig()),
		anonymousLimiter: NewRateLimiter(DefaultRateLimitConfig()),
		metrics:          metrics,
	}
}

// Handler wraps an HTTP handler with rate limiting
func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, authenticated := rateLimitKey(r)
		limiter := m.anonymousLimiter
		if authenticated {
			limiter = m.userLimiter
		}

		allowed, remaining, resetAt := limiter.Allow(key)
		if !allowed {
			m.metrics.RecordRateLimited()
			writeRateLimited(w, limiter.config, time.Until(resetAt))
			return
		}

		setRateLimitHeaders(w, limiter.config, remaining, resetAt)
		next.ServeHTTP(w, r)
	})
}

// rateLimitKey keys authenticated callers by user and everyone else by client IP
func rateLimitKey(r *http.Request) (string, bool) {
	if identity, ok := auth.FromContext(r.Context()); ok {
		return fmt.Sprintf("user:%d", identity.ID), true
	}
	return "ip:" + getClientIP(r), false
}

func setRateLimitHeaders(w http.ResponseWriter, config *RateLimitConfig, remaining int, resetAt time.Time) {
	w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", config.RequestsPerWindow))
	w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
	if !resetAt.IsZero() {
		w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", resetAt.Unix()))
	}
}

func writeRateLimited(w http.ResponseWriter, config *RateLimitConfig, retryAfter time.Duration) {
	if retryAfter <= 0 {
		retryAfter = config.WindowDuration
	}
	seconds := fmt.Sprintf("%.0f", retryAfter.Seconds())
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", seconds)
	w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", config.RequestsPerWindow))
	w.Header().Set("X-RateLimit-Remaining", "0")
	w.WriteHeader(http.StatusTooManyRequests)
	w.Write([]byte(`{"error":"rate limit exceeded","retry_after":` + seconds + `}`))
}

func getClientIP(r *http.Request) string {
	// First hop of X-Forwarded-For when behind a proxy
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return strings.TrimSpace(strings.Split(forwarded, ",")[0])
	}

	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}

	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
