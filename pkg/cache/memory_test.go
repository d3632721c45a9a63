package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type point struct {
	Date  string  `json:"date"`
	Price float64 `json:"price"`
}

func TestMemoryCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache()
	defer mc.Close()

	require.NoError(t, mc.Set(ctx, "forecast:MNL-CEB:3", []point{{"2026-03-01", 1800}}, time.Minute))

	var got []point
	require.NoError(t, mc.Get(ctx, "forecast:MNL-CEB:3", &got))
	assert.Equal(t, []point{{"2026-03-01", 1800}}, got)

	var s string
	assert.ErrorIs(t, mc.Get(ctx, "missing", &s), ErrCacheMiss)
}

func TestMemoryCacheExpiryAndPattern(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	mc := NewMemoryCache(WithMemoryClock(func() time.Time { return now }))
	defer mc.Close()

	require.NoError(t, mc.Set(ctx, "forecast:MNL-CEB:1:a", "x", time.Minute))
	require.NoError(t, mc.Set(ctx, "forecast:MNL-CEB:2:b", "y", time.Hour))
	require.NoError(t, mc.Set(ctx, "forecast:MNL-DVO:1:a", "z", time.Hour))

	now = now.Add(2 * time.Minute)
	ok, _ := mc.Exists(ctx, "forecast:MNL-CEB:1:a")
	assert.False(t, ok)

	require.NoError(t, mc.DeleteByPattern(ctx, BuildPattern("forecast:MNL-CEB:")))
	ok, _ = mc.Exists(ctx, "forecast:MNL-CEB:2:b")
	assert.False(t, ok)
	ok, _ = mc.Exists(ctx, "forecast:MNL-DVO:1:a")
	assert.True(t, ok)
}

func TestMemoryCacheLock(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache()
	defer mc.Close()

	ok, err := mc.TryLock(ctx, "retrain:MNL-CEB", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = mc.TryLock(ctx, "retrain:MNL-CEB", time.Minute)
	assert.False(t, ok)

	require.NoError(t, mc.Unlock(ctx, "retrain:MNL-CEB"))
	ok, _ = mc.TryLock(ctx, "retrain:MNL-CEB", time.Minute)
	assert.True(t, ok)
}

func TestMemoryCacheEvictsLRU(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	mc := NewMemoryCache(WithMemoryMaxSize(2), WithMemoryClock(func() time.Time { return now }))
	defer mc.Close()

	require.NoError(t, mc.Set(ctx, "a", "1", 0))
	now = now.Add(time.Second)
	require.NoError(t, mc.Set(ctx, "b", "2", 0))
	now = now.Add(time.Second)
	var s string
	require.NoError(t, mc.Get(ctx, "a", &s))
	now = now.Add(time.Second)
	require.NoError(t, mc.Set(ctx, "c", "3", 0))

	assert.ErrorIs(t, mc.Get(ctx, "b", &s), ErrCacheMiss)
	require.NoError(t, mc.Get(ctx, "a", &s))
	assert.Equal(t, "1", s)
}

func TestGenerateKey(t *testing.T) {
	assert.Equal(t, "forecast:MNL-CEB:3", GenerateKeyWithParams("forecast", "MNL-CEB", int64(3)))
	assert.Len(t, HashKey("2026-03-01,2026-03-02"), 32)
}
