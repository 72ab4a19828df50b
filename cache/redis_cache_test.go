package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T, ttl time.Duration) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	store, err := NewRedisStore("redis://"+mr.Addr(), ttl, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func TestRedisStorePutGet(t *testing.T) {
	store, _ := newTestRedisStore(t, time.Hour)
	ctx := context.Background()

	store.Put(ctx, "abc123", advice("check the connection pool"))

	got, ok := store.Get(ctx, "abc123")
	require.True(t, ok)
	assert.Equal(t, "check the connection pool", got.Text)

	_, ok = store.Get(ctx, "missing")
	assert.False(t, ok)
}

func TestRedisStoreKeyPrefix(t *testing.T) {
	store, mr := newTestRedisStore(t, time.Hour)
	ctx := context.Background()

	store.Put(ctx, "abc123", advice("x"))

	assert.True(t, mr.Exists(DefaultRedisPrefix+"abc123"))
}

func TestRedisStoreServerSideTTL(t *testing.T) {
	store, mr := newTestRedisStore(t, time.Minute)
	ctx := context.Background()

	store.Put(ctx, "k", advice("short-lived"))
	require.True(t, mr.Exists(DefaultRedisPrefix+"k"))

	mr.FastForward(2 * time.Minute)

	_, ok := store.Get(ctx, "k")
	assert.False(t, ok)
}

func TestRedisStoreZeroTTLDisables(t *testing.T) {
	store, _ := newTestRedisStore(t, 0)
	ctx := context.Background()

	store.Put(ctx, "k", advice("never stored"))
	_, ok := store.Get(ctx, "k")
	assert.False(t, ok)
	assert.Equal(t, 0, store.Len())
}

func TestRedisStoreDegradesOnFailure(t *testing.T) {
	store, mr := newTestRedisStore(t, time.Hour)
	ctx := context.Background()

	store.Put(ctx, "k", advice("x"))
	mr.Close()

	// Lost Redis is a miss, not a failure
	got, ok := store.Get(ctx, "k")
	assert.False(t, ok)
	assert.Nil(t, got)

	// Put against a dead server must not panic
	store.Put(ctx, "k2", advice("y"))
}

func TestRedisStoreCorruptEntryIsMiss(t *testing.T) {
	store, mr := newTestRedisStore(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, mr.Set(DefaultRedisPrefix+"bad", "{not json"))

	_, ok := store.Get(ctx, "bad")
	assert.False(t, ok)
}

func TestRedisStoreClearAndLen(t *testing.T) {
	store, mr := newTestRedisStore(t, time.Hour)
	ctx := context.Background()

	store.Put(ctx, "a", advice("a"))
	store.Put(ctx, "b", advice("b"))
	require.NoError(t, mr.Set("unrelated:key", "kept"))

	assert.Equal(t, 2, store.Len())
	store.Clear(ctx)
	assert.Equal(t, 0, store.Len())

	// Keys outside the prefix survive
	assert.True(t, mr.Exists("unrelated:key"))
}

func TestRedisStoreStats(t *testing.T) {
	store, _ := newTestRedisStore(t, time.Hour)
	ctx := context.Background()

	store.Put(ctx, "k", advice("x"))
	store.Get(ctx, "k")
	store.Get(ctx, "missing")

	stats := store.Stats()
	assert.Equal(t, int64(1), stats["hits"])
	assert.Equal(t, int64(1), stats["misses"])
	assert.Equal(t, "redis", stats["backend"])
}

func TestNewRedisStoreInvalidURL(t *testing.T) {
	_, err := NewRedisStore("not-a-url", time.Hour, nil)
	assert.Error(t, err)
}
