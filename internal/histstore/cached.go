package histstore

import (
	"context"
	"sync"
	"time"

	"github.com/tzq-analysis/cardgen/internal/cachemanager"
	"github.com/tzq-analysis/cardgen/internal/log"
)

type integralInput struct {
	path string
	name string
}

type integralResult struct {
	Value float64
	OK    bool
}

// Cached wraps a Store with read-through caches for listings and integrals.
type Cached struct {
	ttl       time.Duration
	listings  *cachemanager.ReadThroughCache[string, []string, string]
	integrals *cachemanager.ReadThroughCache[string, integralResult, integralInput]

	mu    sync.Mutex
	known map[string]map[string]struct{} // path -> integral cache keys
}

var _ Store = (*Cached)(nil)

// NewCached wraps inner. A non-positive ttl disables caching.
func NewCached(inner Store, ttl time.Duration) *Cached {
	skip := ttl <= 0
	listingCache := cachemanager.NewInMemoryCacheManager[string, []string]("histogram-listings", ttl, cachemanager.DefaultCleanupInterval)
	integralCache := cachemanager.NewInMemoryCacheManager[string, integralResult]("histogram-integrals", ttl, cachemanager.DefaultCleanupInterval)

	return &Cached{
		ttl: ttl,
		listings: cachemanager.NewReadThroughCache[string, []string, string](listingCache,
			func(ctx context.Context, path string) ([]string, error) {
				return inner.ListHistogramNames(ctx, path)
			}, skip),
		integrals: cachemanager.NewReadThroughCache[string, integralResult, integralInput](integralCache,
			func(ctx context.Context, in integralInput) (integralResult, error) {
				v, ok, err := inner.Integral(ctx, in.path, in.name)
				return integralResult{Value: v, OK: ok}, err
			}, skip),
		known: make(map[string]map[string]struct{}),
	}
}

// ListHistogramNames returns the cached listing of path, loading it on a miss.
func (c *Cached) ListHistogramNames(ctx context.Context, path string) ([]string, error) {
	names, err := c.listings.Get(ctx, path, path, c.ttl)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), names...), nil
}

// Integral returns the cached integral of name in path, loading it on a miss.
func (c *Cached) Integral(ctx context.Context, path, name string) (float64, bool, error) {
	key := path + "\x00" + name
	c.mu.Lock()
	if c.known[path] == nil {
		c.known[path] = make(map[string]struct{})
	}
	c.known[path][key] = struct{}{}
	c.mu.Unlock()

	res, err := c.integrals.Get(ctx, key, integralInput{path: path, name: name}, c.ttl)
	if err != nil {
		return 0, false, err
	}
	return res.Value, res.OK, nil
}

// Invalidate forgets everything cached for path.
func (c *Cached) Invalidate(ctx context.Context, path string) {
	c.mu.Lock()
	keys := make([]string, 0, len(c.known[path]))
	for k := range c.known[path] {
		keys = append(keys, k)
	}
	delete(c.known, path)
	c.mu.Unlock()

	_ = c.listings.Invalidate(ctx, path)
	_ = c.integrals.Invalidate(ctx, keys...)
	log.Debug(log.CatCache, "invalidated histogram file", "file", path, "integrals", len(keys))
}
