// Package cache memoizes computed trends in a bounded in-process LRU with an optional Redis
// tier shared between server instances.
package cache

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"

	"github.com/progress-analytics-server/internal/domain"
)

// Stats represents cache performance statistics
type Stats struct {
	MemoryHits   int64 `json:"memory_hits"`
	MemoryMisses int64 `json:"memory_misses"`
	RedisHits    int64 `json:"redis_hits"`
	RedisMisses  int64 `json:"redis_misses"`
	RedisErrors  int64 `json:"redis_errors"`
	MemoryItems  int   `json:"memory_items"`
}

// TrendCache is a two-tier TrendCache. Redis failures are logged and never surface to callers.
type TrendCache struct {
	memory *expirable.LRU[string, domain.Trend]
	redis  *RedisTier
	log    *logrus.Logger

	memoryHits   atomic.Int64
	memoryMisses atomic.Int64
	redisHits    atomic.Int64
	redisMisses  atomic.Int64
	redisErrors  atomic.Int64
}

// Option configures a TrendCache.
type Option func(*TrendCache)

// WithRedis adds the shared Redis tier.
func WithRedis(tier *RedisTier) Option {
	return func(c *TrendCache) { c.redis = tier }
}

// NewTrendCache creates the memory tier with room for size trends, each kept for ttl.
func NewTrendCache(size int, ttl time.Duration, logger *logrus.Logger, opts ...Option) *TrendCache {
	if size <= 0 {
		size = 1024
	}
	c := &TrendCache{
		memory: expirable.NewLRU[string, domain.Trend](size, nil, ttl),
		log:    logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get looks in memory first, then Redis. A Redis hit is promoted into memory.
func (c *TrendCache) Get(ctx context.Context, key string) (*domain.Trend, bool) {
	if trend, ok := c.memory.Get(key); ok {
		c.memoryHits.Add(1)
		return &trend, true
	}
	c.memoryMisses.Add(1)

	if c.redis == nil {
		return nil, false
	}

	trend, ok, err := c.redis.Get(ctx, key)
	if err != nil {
		c.redisErrors.Add(1)
		c.log.WithFields(logrus.Fields{
			"cache_key": key,
			"error":     err,
		}).Debug("Redis trend lookup failed, continuing without cache")
		return nil, false
	}
	if !ok {
		c.redisMisses.Add(1)
		return nil, false
	}

	c.redisHits.Add(1)
	c.memory.Add(key, *trend)
	return trend, true
}

// Set writes through both tiers.
func (c *TrendCache) Set(ctx context.Context, key string, trend domain.Trend) {
	c.memory.Add(key, trend)

	if c.redis == nil {
		return
	}
	if err := c.redis.Set(ctx, key, trend); err != nil {
		c.redisErrors.Add(1)
		c.log.WithFields(logrus.Fields{
			"cache_key": key,
			"error":     err,
		}).Debug("Redis trend write failed")
	}
}

// Stats returns a snapshot of the hit counters.
func (c *TrendCache) Stats() Stats {
	return Stats{
		MemoryHits:   c.memoryHits.Load(),
		MemoryMisses: c.memoryMisses.Load(),
		RedisHits:    c.redisHits.Load(),
		RedisMisses:  c.redisMisses.Load(),
		RedisErrors:  c.redisErrors.Load(),
		MemoryItems:  c.memory.Len(),
	}
}

// Purge empties the memory tier.
func (c *TrendCache) Purge() {
	c.memory.Purge()
}
