package cache

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/erradvise/erradvise/core"
	"github.com/erradvise/erradvise/telemetry"
)

// DefaultRedisPrefix namespaces advice keys in shared Redis deployments
const DefaultRedisPrefix = "erradvise:advice:"

// RedisStore is a Redis-backed Store. Expiry is enforced server-side
// through key TTLs, so the reaper controls are no-ops. Redis failures
// degrade to cache misses; they never fail an analysis.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
	logger core.Logger

	hits   int64
	misses int64
}

// RedisStoreOption customizes the Redis store
type RedisStoreOption func(*RedisStore)

// WithRedisPrefix overrides the key prefix
func WithRedisPrefix(prefix string) RedisStoreOption {
	return func(s *RedisStore) { s.prefix = prefix }
}

// NewRedisStore creates a Redis-backed advice store. The TTL is
// clamped to at most 24h; a zero TTL disables storage entirely.
func NewRedisStore(redisURL string, ttl time.Duration, logger core.Logger, opts ...RedisStoreOption) (*RedisStore, error) {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if ttl > core.MaxCacheTTL {
		logger.Warn("Cache TTL clamped", map[string]interface{}{
			"operation":   "cache_config_clamp",
			"requested_s": int(ttl / time.Second),
			"applied_s":   int(core.MaxCacheTTL / time.Second),
		})
		ttl = core.MaxCacheTTL
	}

	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	store := &RedisStore{
		client: redis.NewClient(options),
		ttl:    ttl,
		prefix: DefaultRedisPrefix,
		logger: logger,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store, nil
}

// Get retrieves advice by fingerprint
func (s *RedisStore) Get(ctx context.Context, key string) (*core.Advice, bool) {
	if s.ttl <= 0 {
		return nil, false
	}

	val, err := s.client.Get(ctx, s.prefix+key).Result()
	if err == redis.Nil {
		atomic.AddInt64(&s.misses, 1)
		telemetry.Counter("advice.cache.lookups", "result", "miss")
		return nil, false
	}
	if err != nil {
		// Redis unavailable - degrade gracefully
		atomic.AddInt64(&s.misses, 1)
		telemetry.Counter("advice.cache.lookups", "result", "error")
		s.logger.Warn("Redis cache lookup failed", map[string]interface{}{
			"operation":   "cache_get",
			"fingerprint": key,
			"error":       err.Error(),
		})
		return nil, false
	}

	var advice core.Advice
	if err := json.Unmarshal([]byte(val), &advice); err != nil {
		// Corrupt data - treat as miss
		atomic.AddInt64(&s.misses, 1)
		return nil, false
	}

	atomic.AddInt64(&s.hits, 1)
	telemetry.Counter("advice.cache.lookups", "result", "hit")
	return &advice, true
}

// Put stores advice under the fingerprint with the store TTL
func (s *RedisStore) Put(ctx context.Context, key string, advice *core.Advice) {
	if s.ttl <= 0 || advice == nil {
		return
	}

	data, err := json.Marshal(advice)
	if err != nil {
		return
	}

	if err := s.client.Set(ctx, s.prefix+key, data, s.ttl).Err(); err != nil {
		s.logger.Warn("Redis cache store failed", map[string]interface{}{
			"operation":   "cache_set",
			"fingerprint": key,
			"error":       err.Error(),
		})
	}
}

// PurgeExpired is a no-op; Redis expires keys server-side
func (s *RedisStore) PurgeExpired(ctx context.Context) int {
	return 0
}

// Clear removes all advice keys under the store prefix
func (s *RedisStore) Clear(ctx context.Context) {
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		s.client.Del(ctx, iter.Val())
	}
	if err := iter.Err(); err != nil {
		s.logger.Warn("Redis cache clear failed", map[string]interface{}{
			"operation": "cache_clear",
			"error":     err.Error(),
		})
	}
}

// Len counts advice keys under the store prefix
func (s *RedisStore) Len() int {
	ctx := context.Background()
	count := 0
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		count++
	}
	return count
}

// StartReaper is a no-op; Redis expires keys server-side
func (s *RedisStore) StartReaper() {}

// StopReaper is a no-op; Redis expires keys server-side
func (s *RedisStore) StopReaper() {}

// Stats returns cache performance statistics for monitoring
func (s *RedisStore) Stats() map[string]interface{} {
	hits := atomic.LoadInt64(&s.hits)
	misses := atomic.LoadInt64(&s.misses)
	total := hits + misses

	stats := map[string]interface{}{
		"hits":          hits,
		"misses":        misses,
		"total_lookups": total,
		"backend":       "redis",
	}
	if total > 0 {
		stats["hit_rate"] = float64(hits) / float64(total)
	}
	return stats
}

// Close releases the underlying Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}
