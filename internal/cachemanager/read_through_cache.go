package cachemanager

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"
)

// ReadThroughCache loads missing values with fn and stores them. Concurrent
// misses on the same key share a single load.
type ReadThroughCache[K comparable, V any, I any] struct {
	cache           CacheManager[K, V]
	fn              func(ctx context.Context, input I) (V, error)
	shouldSkipCache bool
	group           singleflight.Group
}

func NewReadThroughCache[K comparable, V any, I any](
	cache CacheManager[K, V],
	fn func(ctx context.Context, input I) (V, error),
	shouldSkipCache bool,
) *ReadThroughCache[K, V, I] {
	return &ReadThroughCache[K, V, I]{
		cache:           cache,
		fn:              fn,
		shouldSkipCache: shouldSkipCache,
	}
}

func (r *ReadThroughCache[K, V, I]) Get(ctx context.Context, key K, input I, ttl time.Duration) (V, error) {
	if r.shouldSkipCache {
		return r.fn(ctx, input)
	}
	if value, ok := r.cache.Get(ctx, key); ok {
		return value, nil
	}
	return r.load(ctx, key, input, ttl)
}

func (r *ReadThroughCache[K, V, I]) GetWithRefresh(ctx context.Context, key K, input I, ttl time.Duration) (V, error) {
	if r.shouldSkipCache {
		return r.fn(ctx, input)
	}
	if value, ok := r.cache.GetWithRefresh(ctx, key, ttl); ok {
		return value, nil
	}
	return r.load(ctx, key, input, ttl)
}

// Invalidate drops cached values, typically after the backing file changed.
func (r *ReadThroughCache[K, V, I]) Invalidate(ctx context.Context, keys ...K) error {
	return r.cache.Delete(ctx, keys...)
}

func (r *ReadThroughCache[K, V, I]) load(ctx context.Context, key K, input I, ttl time.Duration) (V, error) {
	res, err, _ := r.group.Do(fmt.Sprint(key), func() (any, error) {
		value, err := r.fn(ctx, input)
		if err != nil {
			return value, err
		}
		r.cache.Set(ctx, key, value, ttl)
		return value, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return res.(V), nil
}
