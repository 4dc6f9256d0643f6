package cache

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/therapy-match-server/internal/domain"
)

// RankingStore is one cache tier. Keys follow match:<client>:<version>:<digest>.
type RankingStore interface {
	GetRanking(ctx context.Context, key string) ([]domain.TherapistScore, bool, error)
	SetRanking(ctx context.Context, key string, scores []domain.TherapistScore, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error
	InvalidateClient(ctx context.Context, clientID string) error
	Ping(ctx context.Context) error
	Close() error
}

// Stats represents cache performance statistics
type Stats struct {
	MemoryHits   int64     `json:"memory_hits"`
	MemoryMisses int64     `json:"memory_misses"`
	RemoteHits   int64     `json:"remote_hits"`
	RemoteMisses int64     `json:"remote_misses"`
	Errors       int64     `json:"errors"`
	LastReset    time.Time `json:"last_reset"`
}

// TieredCache checks an in-memory tier before a shared remote tier and
// backfills memory on remote hits. remote may be nil.
type TieredCache struct {
	memory *MemoryCache
	remote RankingStore
	logger *logrus.Logger

	memoryHits   atomic.Int64
	memoryMisses atomic.Int64
	remoteHits   atomic.Int64
	remoteMisses atomic.Int64
	errors       atomic.Int64
	lastReset    atomic.Int64
}

// NewTieredCache creates a two-tier cache.
func NewTieredCache(memory *MemoryCache, remote RankingStore, logger *logrus.Logger) *TieredCache {
	c := &TieredCache{
		memory: memory,
		remote: remote,
		logger: logger,
	}
	c.lastReset.Store(time.Now().UnixNano())
	return c
}

// GetRanking looks in memory, then in the remote tier.
func (c *TieredCache) GetRanking(ctx context.Context, key string) ([]domain.TherapistScore, bool, error) {
	if scores, ok, _ := c.memory.GetRanking(ctx, key); ok {
		c.memoryHits.Add(1)
		c.logger.WithFields(logrus.Fields{
			"cache_key":  key,
			"cache_tier": "memory",
		}).Debug("Cache hit in memory")
		return scores, true, nil
	}
	c.memoryMisses.Add(1)

	if c.remote == nil {
		return nil, false, nil
	}

	scores, ok, err := c.remote.GetRanking(ctx, key)
	if err != nil {
		c.errors.Add(1)
		return nil, false, err
	}
	if !ok {
		c.remoteMisses.Add(1)
		return nil, false, nil
	}

	c.remoteHits.Add(1)
	c.logger.WithFields(logrus.Fields{
		"cache_key":  key,
		"cache_tier": "remote",
	}).Debug("Cache hit in remote tier")

	c.memory.SetRanking(ctx, key, scores, 0)
	return scores, true, nil
}

// SetRanking writes both tiers. A remote failure is returned after memory
// has been updated.
func (c *TieredCache) SetRanking(ctx context.Context, key string, scores []domain.TherapistScore, ttl time.Duration) error {
	c.memory.SetRanking(ctx, key, scores, ttl)
	if c.remote == nil {
		return nil
	}
	if err := c.remote.SetRanking(ctx, key, scores, ttl); err != nil {
		c.errors.Add(1)
		return err
	}
	return nil
}

// Invalidate removes key from both tiers.
func (c *TieredCache) Invalidate(ctx context.Context, key string) error {
	c.memory.Invalidate(ctx, key)
	if c.remote == nil {
		return nil
	}
	return c.remote.Invalidate(ctx, key)
}

// InvalidateClient removes every batch for a client from both tiers.
func (c *TieredCache) InvalidateClient(ctx context.Context, clientID string) error {
	c.memory.InvalidateClient(ctx, clientID)
	if c.remote == nil {
		return nil
	}
	return c.remote.InvalidateClient(ctx, clientID)
}

// Ping checks the remote tier.
func (c *TieredCache) Ping(ctx context.Context) error {
	if c.remote == nil {
		return nil
	}
	return c.remote.Ping(ctx)
}

// Close closes both tiers.
func (c *TieredCache) Close() error {
	c.memory.Close()
	if c.remote == nil {
		return nil
	}
	return c.remote.Close()
}

// Stats returns a snapshot of the hit counters.
func (c *TieredCache) Stats() Stats {
	return Stats{
		MemoryHits:   c.memoryHits.Load(),
		MemoryMisses: c.memoryMisses.Load(),
		RemoteHits:   c.remoteHits.Load(),
		RemoteMisses: c.remoteMisses.Load(),
		Errors:       c.errors.Load(),
		LastReset:    time.Unix(0, c.lastReset.Load()),
	}
}

// ResetStats zeroes the hit counters.
func (c *TieredCache) ResetStats() {
	c.memoryHits.Store(0)
	c.memoryMisses.Store(0)
	c.remoteHits.Store(0)
	c.remoteMisses.Store(0)
	c.errors.Store(0)
	c.lastReset.Store(time.Now().UnixNano())
}
