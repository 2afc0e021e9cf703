package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalCache_SetGet(t *testing.T) {
	cache := NewLocalCache(16, 1*time.Minute)
	defer cache.Stop()

	// Default TTL
	cache.Set("leaderboard:2026-03-01", []string{"chatgpt", "gemini"}, 0)
	v, ok := cache.Get("leaderboard:2026-03-01")
	require.True(t, ok)
	assert.Equal(t, []string{"chatgpt", "gemini"}, v)

	// Missing key
	_, ok = cache.Get("missing")
	assert.False(t, ok)
}

func TestLocalCache_Expiry(t *testing.T) {
	cache := NewLocalCache(16, 1*time.Minute)
	defer cache.Stop()

	// Already expired entry is dropped on read
	cache.Set("stale", "v", -1*time.Millisecond)
	_, ok := cache.Get("stale")
	assert.False(t, ok)
	assert.Zero(t, cache.Len())

	// Very short TTL
	cache.Set("short", "v", 20*time.Millisecond)
	_, ok = cache.Get("short")
	require.True(t, ok)

	time.Sleep(30 * time.Millisecond)
	_, ok = cache.Get("short")
	assert.False(t, ok)
}

func TestLocalCache_DeleteClear(t *testing.T) {
	cache := NewLocalCache(16, 1*time.Minute)
	defer cache.Stop()

	cache.Set("a", 1, 0)
	cache.Set("b", 2, 0)
	require.Equal(t, 2, cache.Len())

	cache.Delete("a")
	_, ok := cache.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 1, cache.Len())

	cache.Clear()
	assert.Zero(t, cache.Len())
	_, ok = cache.Get("b")
	assert.False(t, ok)
}

func TestLocalCache_EvictsEarliestExpiring(t *testing.T) {
	cache := NewLocalCache(2, 1*time.Minute)
	defer cache.Stop()

	cache.Set("a", 1, 1*time.Hour)
	cache.Set("b", 2, 2*time.Hour)

	// Overwriting an existing key does not evict
	cache.Set("a", 10, 1*time.Hour)
	assert.Equal(t, 2, cache.Len())

	// A new key at capacity evicts the entry expiring first
	cache.Set("c", 3, 3*time.Hour)
	assert.Equal(t, 2, cache.Len())

	_, ok := cache.Get("a")
	assert.False(t, ok)
	v, ok := cache.Get("b")
	require.True(t, ok)
	assert.Equal(t, 2, v)
	v, ok = cache.Get("c")
	require.True(t, ok)
	assert.Equal(t, 3, v)
}

func TestLocalCache_StopIdempotent(t *testing.T) {
	cache := NewLocalCache(16, 1*time.Minute)

	cache.Stop()
	cache.Stop()

	// Reads and writes still work after the janitor stops
	cache.Set("a", 1, 0)
	_, ok := cache.Get("a")
	assert.True(t, ok)
}
