package plans

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/tenancy/pkg/observability"
)

// CacheConfig configures the plan cache
type CacheConfig struct {
	// L1 is the in-process LRU
	L1Size int
	L1TTL  time.Duration

	// L2 is redis, shared between instances; TTL 0 disables it
	L2TTL  time.Duration
	Prefix string
}

// DefaultCacheConfig returns sensible defaults for a small catalog
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		L1Size: 256,
		L1TTL:  30 * time.Second,
		L2TTL:  5 * time.Minute,
		Prefix: "tenancy:plan",
	}
}

// Cache is a two-level read-through cache of plans keyed by ID.
// L1 entries expire quickly because invalidations only reach the local instance.
type Cache struct {
	local   *expirable.LRU[int64, *Plan]
	redis   *redis.Client
	config  CacheConfig
	metrics *observability.Metrics
	logger  *observability.Logger
}

// NewCache creates a plan cache. redisClient may be nil to run L1 only.
func NewCache(config CacheConfig, redisClient *redis.Client, metrics *observability.Metrics, logger *observability.Logger) *Cache {
	if config.L1Size <= 0 {
		config.L1Size = DefaultCacheConfig().L1Size
	}
	if config.Prefix == "" {
		config.Prefix = DefaultCacheConfig().Prefix
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Cache{
		local:   expirable.NewLRU[int64, *Plan](config.L1Size, nil, config.L1TTL),
		redis:   redisClient,
		config:  config,
		metrics: metrics,
		logger:  logger,
	}
}

func (c *Cache) key(id int64) string {
	return fmt.Sprintf("%s:%d", c.config.Prefix, id)
}

// Get returns a cached plan or nil on a miss. Redis errors are logged and treated as misses.
func (c *Cache) Get(ctx context.Context, id int64) *Plan {
	if plan, ok := c.local.Get(id); ok {
		c.metrics.RecordCache("plan_l1", true)
		return plan
	}
	c.metrics.RecordCache("plan_l1", false)

	if c.redis == nil || c.config.L2TTL <= 0 {
		return nil
	}

	data, err := c.redis.Get(ctx, c.key(id)).Bytes()
	if err == redis.Nil {
		c.metrics.RecordCache("plan_l2", false)
		return nil
	}
	if err != nil {
		c.logger.WithError(err).Warn("plan cache read failed")
		return nil
	}

	var plan Plan
	if err := json.Unmarshal(data, &plan); err != nil {
		c.redis.Del(ctx, c.key(id))
		c.logger.WithError(err).Warn("dropped corrupt plan cache entry")
		return nil
	}
	c.metrics.RecordCache("plan_l2", true)
	c.local.Add(id, &plan)
	return &plan
}

// Set stores a plan in both levels
func (c *Cache) Set(ctx context.Context, plan *Plan) {
	c.local.Add(plan.ID, plan)

	if c.redis == nil || c.config.L2TTL <= 0 {
		return
	}
	data, err := json.Marshal(plan)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, c.key(plan.ID), data, c.config.L2TTL).Err(); err != nil {
		c.logger.WithError(err).Warn("plan cache write failed")
	}
}

// Invalidate removes plans from both levels
func (c *Cache) Invalidate(ctx context.Context, ids ...int64) {
	if len(ids) == 0 {
		return
	}
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		c.local.Remove(id)
		keys = append(keys, c.key(id))
	}

	if c.redis == nil {
		return
	}
	if err := c.redis.Del(ctx, keys...).Err(); err != nil {
		c.logger.WithError(err).Warn("plan cache invalidation failed")
	}
}

// Purge empties the local level
func (c *Cache) Purge() {
	c.local.Purge()
}
