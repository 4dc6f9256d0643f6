// Package cache stores ranked match batches so repeated requests for the
// same client and candidate set skip rescoring.
package cache

import (
	"context"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/therapy-match-server/internal/domain"
)

// cachedRanking is a ranked batch with its expiry metadata.
type cachedRanking struct {
	Scores    []domain.TherapistScore `json:"scores"`
	CachedAt  time.Time               `json:"cached_at"`
	ExpiresAt time.Time               `json:"expires_at"`
}

// MemoryCache is an in-process LRU cache of ranked batches.
type MemoryCache struct {
	lru        *expirable.LRU[string, cachedRanking]
	defaultTTL time.Duration
	now        func() time.Time
}

// NewMemoryCache creates a memory cache holding at most maxItems batches.
// Entries older than defaultTTL are evicted even if a longer TTL was asked for.
func NewMemoryCache(maxItems int, defaultTTL time.Duration) *MemoryCache {
	if maxItems <= 0 {
		maxItems = 1000
	}
	if defaultTTL <= 0 {
		defaultTTL = 15 * time.Minute
	}

	return &MemoryCache{
		lru:        expirable.NewLRU[string, cachedRanking](maxItems, nil, defaultTTL),
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
}

// GetRanking returns the cached batch for key.
func (c *MemoryCache) GetRanking(ctx context.Context, key string) ([]domain.TherapistScore, bool, error) {
	cached, ok := c.lru.Get(key)
	if !ok {
		return nil, false, nil
	}

	if c.now().After(cached.ExpiresAt) {
		c.lru.Remove(key)
		return nil, false, nil
	}

	return cloneScores(cached.Scores), true, nil
}

// SetRanking stores a batch. A zero ttl uses the default.
func (c *MemoryCache) SetRanking(ctx context.Context, key string, scores []domain.TherapistScore, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	now := c.now()
	c.lru.Add(key, cachedRanking{
		Scores:    cloneScores(scores),
		CachedAt:  now,
		ExpiresAt: now.Add(ttl),
	})
	return nil
}

// Invalidate removes the batch for key.
func (c *MemoryCache) Invalidate(ctx context.Context, key string) error {
	c.lru.Remove(key)
	return nil
}

// InvalidateClient removes every cached batch for a client.
func (c *MemoryCache) InvalidateClient(ctx context.Context, clientID string) error {
	prefix := "match:" + clientID + ":"
	for _, key := range c.lru.Keys() {
		if strings.HasPrefix(key, prefix) {
			c.lru.Remove(key)
		}
	}
	return nil
}

// Len returns the number of cached batches.
func (c *MemoryCache) Len() int {
	return c.lru.Len()
}

// Ping always succeeds.
func (c *MemoryCache) Ping(ctx context.Context) error {
	return nil
}

// Close purges the cache.
func (c *MemoryCache) Close() error {
	c.lru.Purge()
	return nil
}

// cloneScores copies the slice so callers cannot mutate cached entries.
// Nested explanation slices are shared; scores are never mutated after
// scoring.
func cloneScores(scores []domain.TherapistScore) []domain.TherapistScore {
	if scores == nil {
		return nil
	}
	out := make([]domain.TherapistScore, len(scores))
	copy(out, scores)
	return out
}
