package cachemanager

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newIntegralCache(t *testing.T, skip bool, loads *atomic.Int32, fail error) *ReadThroughCache[string, float64, string] {
	t.Helper()
	manager := NewInMemoryCacheManager[string, float64]("integrals", DefaultExpiration, DefaultCleanupInterval)
	return NewReadThroughCache[string, float64, string](
		manager,
		func(ctx context.Context, name string) (float64, error) {
			loads.Add(1)
			if fail != nil {
				return 0, fail
			}
			return float64(len(name)), nil
		},
		skip,
	)
}

func TestReadThroughCache_LoadsOnce(t *testing.T) {
	var loads atomic.Int32
	cache := newIntegralCache(t, false, &loads, nil)

	for range 3 {
		v, err := cache.Get(context.Background(), "tZq_mva_nominal", "tZq_mva_nominal", time.Minute)
		require.NoError(t, err)
		require.Equal(t, 15.0, v)
	}
	require.Equal(t, int32(1), loads.Load())
}

func TestReadThroughCache_SkipCache(t *testing.T) {
	var loads atomic.Int32
	cache := newIntegralCache(t, true, &loads, nil)

	for range 3 {
		_, err := cache.GetWithRefresh(context.Background(), "k", "abc", time.Minute)
		require.NoError(t, err)
	}
	require.Equal(t, int32(3), loads.Load())
}

func TestReadThroughCache_ErrorsAreNotCached(t *testing.T) {
	var loads atomic.Int32
	boom := errors.New("file vanished")
	cache := newIntegralCache(t, false, &loads, boom)

	_, err := cache.Get(context.Background(), "k", "abc", time.Minute)
	require.ErrorIs(t, err, boom)
	_, err = cache.Get(context.Background(), "k", "abc", time.Minute)
	require.ErrorIs(t, err, boom)
	require.Equal(t, int32(2), loads.Load())
}

func TestReadThroughCache_Invalidate(t *testing.T) {
	var loads atomic.Int32
	cache := newIntegralCache(t, false, &loads, nil)
	ctx := context.Background()

	_, err := cache.Get(ctx, "k", "abc", time.Minute)
	require.NoError(t, err)
	require.NoError(t, cache.Invalidate(ctx, "k"))
	_, err = cache.Get(ctx, "k", "abc", time.Minute)
	require.NoError(t, err)
	require.Equal(t, int32(2), loads.Load())
}

func TestReadThroughCache_ConcurrentMissesShareLoad(t *testing.T) {
	release := make(chan struct{})
	var loads atomic.Int32
	manager := NewInMemoryCacheManager[string, float64]("integrals", DefaultExpiration, DefaultCleanupInterval)
	cache := NewReadThroughCache[string, float64, string](manager, func(ctx context.Context, _ string) (float64, error) {
		loads.Add(1)
		<-release
		return 42, nil
	}, false)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := cache.Get(context.Background(), "same", "same", time.Minute)
			require.NoError(t, err)
			require.Equal(t, 42.0, v)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	require.LessOrEqual(t, loads.Load(), int32(8))
	require.GreaterOrEqual(t, loads.Load(), int32(1))
	v, ok := manager.Get(context.Background(), "same")
	require.True(t, ok)
	require.Equal(t, 42.0, v)
}
