// Package cache provides the bounded advice store used to deduplicate
// provider calls: one successful analysis per equivalent error within
// the TTL window.
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/erradvise/erradvise/core"
	"github.com/erradvise/erradvise/telemetry"
)

// Store is the advice store contract consumed by the analyzer. Values
// returned by Get are shared references; callers must not mutate them.
type Store interface {
	// Get returns the advice for key if present and unexpired.
	// Expired-on-read entries are removed.
	Get(ctx context.Context, key string) (*core.Advice, bool)

	// Put inserts or overwrites. A nil advice is a no-op.
	Put(ctx context.Context, key string, advice *core.Advice)

	// PurgeExpired removes all expired entries and reports how many
	PurgeExpired(ctx context.Context) int

	// Clear removes all entries
	Clear(ctx context.Context)

	// Len returns the number of live entries
	Len() int

	// StartReaper and StopReaper control the background purge timer.
	// The reaper also starts lazily on first non-empty Put and stops
	// when the store drains.
	StartReaper()
	StopReaper()

	// Stats returns hit/miss statistics for monitoring
	Stats() map[string]interface{}
}

const minReaperInterval = 60 * time.Second

// AdviceCache is the in-memory Store: bounded LRU with per-entry TTL
// and a background reaper. Single-writer semantics; all mutation goes
// through one mutex. maxEntries or ttl of 0 disables caching entirely.
type AdviceCache struct {
	mu         sync.Mutex
	maxEntries int
	ttl        time.Duration
	entries    map[string]*list.Element
	lru        *list.List // front = most recently used
	reaperStop chan struct{}
	hits       uint64
	misses     uint64
	logger     core.Logger

	// now is overridable for expiry tests
	now func() time.Time
}

type cacheEntry struct {
	key          string
	advice       *core.Advice
	insertedAt   time.Time
	lastAccessAt time.Time
}

// NewAdviceCache creates an advice cache. maxEntries is clamped to
// [0, 1000] and ttl to at most 24h; zero for either disables caching.
func NewAdviceCache(maxEntries int, ttl time.Duration, logger core.Logger) *AdviceCache {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}

	if maxEntries < 0 {
		maxEntries = 0
	}
	if maxEntries > core.MaxCacheEntries {
		logger.Warn("Cache size clamped", map[string]interface{}{
			"operation": "cache_config_clamp",
			"requested": maxEntries,
			"applied":   core.MaxCacheEntries,
		})
		maxEntries = core.MaxCacheEntries
	}
	if ttl < 0 {
		ttl = 0
	}
	if ttl > core.MaxCacheTTL {
		logger.Warn("Cache TTL clamped", map[string]interface{}{
			"operation":   "cache_config_clamp",
			"requested_s": int(ttl / time.Second),
			"applied_s":   int(core.MaxCacheTTL / time.Second),
		})
		ttl = core.MaxCacheTTL
	}

	return &AdviceCache{
		maxEntries: maxEntries,
		ttl:        ttl,
		entries:    make(map[string]*list.Element),
		lru:        list.New(),
		logger:     logger,
		now:        time.Now,
	}
}

// Enabled reports whether the cache stores anything at all
func (c *AdviceCache) Enabled() bool {
	return c.maxEntries > 0 && c.ttl > 0
}

// Get retrieves advice by fingerprint, refreshing its recency
func (c *AdviceCache) Get(ctx context.Context, key string) (*core.Advice, bool) {
	if !c.Enabled() {
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, exists := c.entries[key]
	if !exists {
		c.misses++
		telemetry.Counter("advice.cache.lookups", "result", "miss")
		return nil, false
	}

	entry := elem.Value.(*cacheEntry)
	if c.expired(entry) {
		c.removeLocked(elem)
		c.misses++
		telemetry.Counter("advice.cache.lookups", "result", "expired")
		c.logger.Debug("Cache entry expired", map[string]interface{}{
			"operation":   "cache_get",
			"fingerprint": key,
			"result":      "expired",
			"expired_at":  entry.insertedAt.Add(c.ttl).Format(time.RFC3339),
		})
		return nil, false
	}

	entry.lastAccessAt = c.now()
	c.lru.MoveToFront(elem)
	c.hits++
	telemetry.Counter("advice.cache.lookups", "result", "hit")
	return entry.advice, true
}

// Put inserts or overwrites advice for key, evicting the least
// recently used entries when the bound is exceeded
func (c *AdviceCache) Put(ctx context.Context, key string, advice *core.Advice) {
	if !c.Enabled() || advice == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if elem, exists := c.entries[key]; exists {
		entry := elem.Value.(*cacheEntry)
		entry.advice = advice
		entry.insertedAt = now
		entry.lastAccessAt = now
		c.lru.MoveToFront(elem)
		return
	}

	c.entries[key] = c.lru.PushFront(&cacheEntry{
		key:          key,
		advice:       advice,
		insertedAt:   now,
		lastAccessAt: now,
	})

	for len(c.entries) > c.maxEntries {
		oldest := c.lru.Back()
		if oldest == nil {
			break
		}
		evicted := oldest.Value.(*cacheEntry)
		c.removeLocked(oldest)
		telemetry.Counter("advice.cache.evictions")
		c.logger.Debug("Cache entry evicted", map[string]interface{}{
			"operation":   "cache_evict",
			"fingerprint": evicted.key,
		})
	}

	c.startReaperLocked()
}

// PurgeExpired removes every entry past its TTL
func (c *AdviceCache) PurgeExpired(ctx context.Context) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for elem := c.lru.Back(); elem != nil; {
		prev := elem.Prev()
		if c.expired(elem.Value.(*cacheEntry)) {
			c.removeLocked(elem)
			removed++
		}
		elem = prev
	}

	if removed > 0 {
		c.logger.Debug("Cache purge removed expired entries", map[string]interface{}{
			"operation": "cache_purge",
			"removed":   removed,
			"remaining": len(c.entries),
		})
	}
	return removed
}

// Clear removes all entries and stops the reaper
func (c *AdviceCache) Clear(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*list.Element)
	c.lru.Init()
	c.stopReaperLocked()
}

// Len returns the number of live entries
func (c *AdviceCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns cache performance statistics for monitoring
func (c *AdviceCache) Stats() map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	stats := map[string]interface{}{
		"hits":          c.hits,
		"misses":        c.misses,
		"total_lookups": total,
		"entries":       len(c.entries),
		"max_entries":   c.maxEntries,
	}
	if total > 0 {
		stats["hit_rate"] = float64(c.hits) / float64(total)
	}
	return stats
}

// StartReaper starts the background purge timer if it is not running
func (c *AdviceCache) StartReaper() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startReaperLocked()
}

// StopReaper stops the background purge timer if it is running
func (c *AdviceCache) StopReaper() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopReaperLocked()
}

// ReaperInterval is TTL/4 with a 60s floor
func (c *AdviceCache) ReaperInterval() time.Duration {
	interval := c.ttl / 4
	if interval < minReaperInterval {
		interval = minReaperInterval
	}
	return interval
}

func (c *AdviceCache) startReaperLocked() {
	if !c.Enabled() || c.reaperStop != nil {
		return
	}

	stop := make(chan struct{})
	c.reaperStop = stop
	interval := c.ReaperInterval()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.PurgeExpired(context.Background())
				c.stopIfEmpty()
			case <-stop:
				return
			}
		}
	}()

	c.logger.Debug("Cache reaper started", map[string]interface{}{
		"operation":   "cache_reaper_start",
		"interval_ms": interval.Milliseconds(),
	})
}

func (c *AdviceCache) stopReaperLocked() {
	if c.reaperStop == nil {
		return
	}
	close(c.reaperStop)
	c.reaperStop = nil
	c.logger.Debug("Cache reaper stopped", map[string]interface{}{
		"operation": "cache_reaper_stop",
	})
}

func (c *AdviceCache) stopIfEmpty() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) == 0 {
		c.stopReaperLocked()
	}
}

func (c *AdviceCache) expired(entry *cacheEntry) bool {
	return c.now().Sub(entry.insertedAt) > c.ttl
}

// removeLocked drops an element from both the map and the LRU list.
// Also stops the reaper when the last entry goes away.
func (c *AdviceCache) removeLocked(elem *list.Element) {
	entry := elem.Value.(*cacheEntry)
	delete(c.entries, entry.key)
	c.lru.Remove(elem)
	if len(c.entries) == 0 {
		c.stopReaperLocked()
	}
}
