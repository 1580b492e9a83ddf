// Package dedup implements the webhook deduplication guard: a shared,
// explicitly-owned cache that admits at most one delivery of a given key per
// cooldown window, and forgets keys once they outlive the cache TTL.
//
// Two backends are provided:
//   - MemoryCache: process-local map behind a mutex, swept by a background
//     goroutine (see RunSweeper).
//   - RedisCache: SET NX PX on a shared Redis, for multi-instance deployments;
//     expiry is delegated to Redis so Sweep is a no-op.
package dedup

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Cache is the capability the webhook pipeline depends on.
type Cache interface {
	// CheckAndMark reports whether key may proceed. It returns true and records
	// the current time when key is unseen or was last admitted at least one
	// cooldown ago; it returns false for a duplicate inside the cooldown.
	// The check and the write happen atomically.
	CheckAndMark(ctx context.Context, key string) (bool, error)

	// Sweep evicts entries older than ttl and returns how many were removed.
	Sweep(ctx context.Context, ttl time.Duration) (int, error)
}

// MemoryCache is an in-memory Cache safe for concurrent use.
type MemoryCache struct {
	cooldown time.Duration
	now      func() time.Time

	mu      sync.Mutex
	entries map[string]time.Time
}

// NewMemoryCache returns an empty MemoryCache with the given cooldown.
// A non-positive cooldown defaults to 2s.
func NewMemoryCache(cooldown time.Duration) *MemoryCache {
	if cooldown <= 0 {
		cooldown = 2 * time.Second
	}
	return &MemoryCache{
		cooldown: cooldown,
		now:      time.Now,
		entries:  make(map[string]time.Time),
	}
}

// CheckAndMark implements Cache.
func (c *MemoryCache) CheckAndMark(_ context.Context, key string) (bool, error) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if seen, ok := c.entries[key]; ok && now.Sub(seen) < c.cooldown {
		return false, nil
	}
	c.entries[key] = now
	return true, nil
}

// Sweep implements Cache.
func (c *MemoryCache) Sweep(_ context.Context, ttl time.Duration) (int, error) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for k, seen := range c.entries {
		if now.Sub(seen) >= ttl {
			delete(c.entries, k)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of tracked keys.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// RunSweeper calls cache.Sweep(ttl) every interval until ctx is done. It is
// independent of request handling and is meant to run in its own goroutine.
// onSweep, when non-nil, is called after each successful sweep.
func RunSweeper(ctx context.Context, cache Cache, interval, ttl time.Duration, lg zerolog.Logger, onSweep func(removed int)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lg = lg.With().Str("component", "dedup.sweeper").Logger()
	lg.Debug().Dur("interval", interval).Dur("ttl", ttl).Msg("sweeper started")

	for {
		select {
		case <-ctx.Done():
			lg.Debug().Msg("sweeper stopped")
			return
		case <-ticker.C:
			removed, err := cache.Sweep(ctx, ttl)
			if err != nil {
				lg.Warn().Err(err).Msg("dedup sweep failed")
				continue
			}
			if removed > 0 {
				lg.Debug().Int("removed", removed).Msg("dedup entries evicted")
			}
			if onSweep != nil {
				onSweep(removed)
			}
		}
	}
}
