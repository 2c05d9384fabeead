package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/progress-analytics-server/internal/domain"
)

// KeyPrefix namespaces every trend key written to Redis.
const KeyPrefix = "progress:"

// cachedTrend is the JSON envelope stored in Redis.
type cachedTrend struct {
	Data      domain.Trend `json:"data"`
	CachedAt  time.Time    `json:"cached_at"`
	ExpiresAt time.Time    `json:"expires_at"`
}

// RedisTier is the shared trend cache tier. Calls run behind a circuit breaker so an
// unavailable Redis is skipped quickly instead of slowing every request.
type RedisTier struct {
	client  redis.Cmdable
	breaker *gobreaker.CircuitBreaker
	ttl     time.Duration
	log     *logrus.Logger
}

// NewRedisClient parses the cache URL and applies the pool settings.
func NewRedisClient(config domain.CacheConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	if config.PoolSize > 0 {
		opts.PoolSize = config.PoolSize
	}
	if config.PoolTimeout > 0 {
		opts.PoolTimeout = config.PoolTimeout
	}
	opts.MaxRetries = config.MaxRetries

	return redis.NewClient(opts), nil
}

// NewRedisTier wraps a Redis client with a breaker configured from the cache section.
func NewRedisTier(client redis.Cmdable, config domain.CacheConfig, logger *logrus.Logger) *RedisTier {
	threshold := config.BreakerThreshold
	if threshold == 0 {
		threshold = 5
	}
	timeout := config.BreakerTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ttl := config.DefaultTTL
	if ttl <= 0 {
		ttl = time.Hour
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "trend-cache-redis",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker changed state")
		},
	})

	return &RedisTier{
		client:  client,
		breaker: breaker,
		ttl:     ttl,
		log:     logger,
	}
}

// Get returns the cached trend. A miss is (nil, false, nil).
func (r *RedisTier) Get(ctx context.Context, key string) (*domain.Trend, bool, error) {
	result, err := r.breaker.Execute(func() (interface{}, error) {
		val, err := r.client.Get(ctx, KeyPrefix+key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return val, err
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to get cached trend: %w", err)
	}
	if result == nil {
		return nil, false, nil
	}

	var cached cachedTrend
	if err := json.Unmarshal(result.([]byte), &cached); err != nil {
		// Remove corrupted cache entry
		r.client.Del(ctx, KeyPrefix+key)
		return nil, false, nil
	}
	return &cached.Data, true, nil
}

// Set stores a trend with the tier TTL.
func (r *RedisTier) Set(ctx context.Context, key string, trend domain.Trend) error {
	now := time.Now()
	data, err := json.Marshal(cachedTrend{Data: trend, CachedAt: now, ExpiresAt: now.Add(r.ttl)})
	if err != nil {
		return fmt.Errorf("failed to marshal trend: %w", err)
	}

	_, err = r.breaker.Execute(func() (interface{}, error) {
		return nil, r.client.Set(ctx, KeyPrefix+key, data, r.ttl).Err()
	})
	if err != nil {
		return fmt.Errorf("failed to cache trend: %w", err)
	}
	return nil
}

// State reports the breaker state for health output.
func (r *RedisTier) State() gobreaker.State {
	return r.breaker.State()
}
