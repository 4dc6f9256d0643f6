package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/therapy-match-server/internal/domain"
)

// RedisCache stores ranked batches in Redis as JSON.
type RedisCache struct {
	redis      *redis.Client
	defaultTTL time.Duration
}

// NewRedisCache connects to Redis using the cache configuration.
func NewRedisCache(config domain.CacheConfig) (*RedisCache, error) {
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
	if config.MaxRetries > 0 {
		opts.MaxRetries = config.MaxRetries
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisCacheFromClient(client, config.DefaultTTL), nil
}

// NewRedisCacheFromClient wraps an existing client.
func NewRedisCacheFromClient(client *redis.Client, defaultTTL time.Duration) *RedisCache {
	if defaultTTL <= 0 {
		defaultTTL = 15 * time.Minute
	}
	return &RedisCache{
		redis:      client,
		defaultTTL: defaultTTL,
	}
}

// GetRanking returns the cached batch for key. Corrupt or expired entries are
// deleted and reported as a miss.
func (c *RedisCache) GetRanking(ctx context.Context, key string) ([]domain.TherapistScore, bool, error) {
	val, err := c.redis.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get ranking cache: %w", err)
	}

	var cached cachedRanking
	if err := json.Unmarshal([]byte(val), &cached); err != nil {
		c.redis.Del(ctx, key)
		return nil, false, nil
	}

	if time.Now().After(cached.ExpiresAt) {
		c.redis.Del(ctx, key)
		return nil, false, nil
	}

	return cached.Scores, true, nil
}

// SetRanking caches a batch. A zero ttl uses the default.
func (c *RedisCache) SetRanking(ctx context.Context, key string, scores []domain.TherapistScore, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	now := time.Now()
	data, err := json.Marshal(cachedRanking{
		Scores:    scores,
		CachedAt:  now,
		ExpiresAt: now.Add(ttl),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal ranking cache data: %w", err)
	}

	return c.redis.Set(ctx, key, data, ttl).Err()
}

// Invalidate removes the batch for key.
func (c *RedisCache) Invalidate(ctx context.Context, key string) error {
	return c.redis.Del(ctx, key).Err()
}

// InvalidateClient removes every cached batch for a client.
func (c *RedisCache) InvalidateClient(ctx context.Context, clientID string) error {
	var keys []string
	iter := c.redis.Scan(ctx, 0, "match:"+clientID+":*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan keys for client %s: %w", clientID, err)
	}

	if len(keys) == 0 {
		return nil
	}
	return c.redis.Del(ctx, keys...).Err()
}

// Ping checks if Redis connection is alive
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.redis.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *RedisCache) Close() error {
	return c.redis.Close()
}
