package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/tenancy/pkg/httputil"
	"github.com/platinummonkey/tenancy/pkg/observability"
)

// DistributedRateLimiter implements rate limiting using Redis
// This allows rate limits to be shared across multiple instances
type DistributedRateLimiter struct {
	redis  *redis.Client
	config *RateLimitConfig
	prefix string
}

// NewDistributedRateLimiter creates a new Redis-backed rate limiter
func NewDistributedRateLimiter(redisClient *redis.Client, config *RateLimitConfig, prefix string) *DistributedRateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	if prefix == "" {
		prefix = "ratelimit"
	}

	return &DistributedRateLimiter{
		redis:  redisClient,
		config: config,
		prefix: prefix,
	}
}

func (rl *DistributedRateLimiter) key(key string) string {
	return fmt.Sprintf("%s:%s", rl.prefix, key)
}

// Allow increments the window counter for key and reports whether it is still
// within the limit together with the remaining budget and time until reset
func (rl *DistributedRateLimiter) Allow(ctx context.Context, key string) (bool, int, time.Duration, error) {
	redisKey := rl.key(key)

	pipe := rl.redis.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	ttlCmd := pipe.TTL(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return true, rl.config.RequestsPerWindow, 0, fmt.Errorf("redis error: %w", err)
	}

	// A fresh key has no expiry yet; the window starts now
	ttl := ttlCmd.Val()
	if ttl < 0 {
		if err := rl.redis.Expire(ctx, redisKey, rl.config.WindowDuration).Err(); err != nil {
			return true, rl.config.RequestsPerWindow, 0, fmt.Errorf("redis error: %w", err)
		}
		ttl = rl.config.WindowDuration
	}

	count := incr.Val()
	remaining := rl.config.RequestsPerWindow - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return count <= int64(rl.config.RequestsPerWindow), remaining, ttl, nil
}

// Reset clears the rate limit for a key
func (rl *DistributedRateLimiter) Reset(ctx context.Context, key string) error {
	return rl.redis.Del(ctx, rl.key(key)).Err()
}

// DistributedRateLimitMiddleware provides HTTP rate limiting with Redis
type DistributedRateLimitMiddleware struct {
	redis            *redis.Client
	userLimiter      *DistributedRateLimiter
	anonymousLimiter *DistributedRateLimiter
	logger           *observability.Logger
	metrics          *observability.Metrics
	fallbackEnabled  bool
}

// NewDistributedRateLimitMiddleware creates a new Redis-backed rate limit middleware
func NewDistributedRateLimitMiddleware(redisClient *redis.Client, logger *observability.Logger, metrics *observability.Metrics) *DistributedRateLimitMiddleware {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &DistributedRateLimitMiddleware{
		redis:            redisClient,
		userLimiter:      NewDistributedRateLimiter(redisClient, PerUserRateLimitConfig(), "ratelimit:user"),
		anonymousLimiter: NewDistributedRateLimiter(redisClient, DefaultRateLimitConfig(), "ratelimit:anon"),
		logger:           logger,
		metrics:          metrics,
		fallbackEnabled:  true,
	}
}

// Handler wraps an HTTP handler with distributed rate limiting
func (m *DistributedRateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, authenticated := rateLimitKey(r)
		limiter := m.anonymousLimiter
		if authenticated {
			limiter = m.userLimiter
		}

		allowed, remaining, ttl, err := limiter.Allow(r.Context(), key)
		if err != nil {
			m.logger.WithError(err).WithField("key", key).Warn("rate limiter unavailable")
			if m.fallbackEnabled {
				next.ServeHTTP(w, r)
				return
			}
			httputil.WriteErrorMessage(w, http.StatusServiceUnavailable, "service temporarily unavailable")
			return
		}

		if !allowed {
			m.metrics.RecordRateLimited()
			writeRateLimited(w, limiter.config, ttl)
			return
		}

		var resetAt time.Time
		if ttl > 0 {
			resetAt = time.Now().Add(ttl)
		}
		setRateLimitHeaders(w, limiter.config, remaining, resetAt)
		next.ServeHTTP(w, r)
	})
}

// SetFallbackEnabled controls whether to fail open (true) or closed (false) on Redis errors
func (m *DistributedRateLimitMiddleware) SetFallbackEnabled(enabled bool) {
	m.fallbackEnabled = enabled
}
