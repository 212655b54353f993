// Package dedupe coalesces concurrent requests for the same key into a single
// fetch and optionally retains successful results.
package dedupe

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/singleflight"

	"github.com/okian/tripwire/pkg/logger"
	"github.com/okian/tripwire/pkg/metrics"
)

// Fetcher produces the value for a key. It runs at most once per key at a
// time, under a context that is not cancelled when callers give up.
type Fetcher[T any] func(ctx context.Context) (T, error)

// Cache guarantees at most one outstanding fetch per key. Every caller waiting
// on the same fetch gets the identical value or the identical error. Only
// successes fetched with allowCache are retained; failures are never kept, so
// the next call fetches again.
type Cache[T any] struct {
	group    singleflight.Group
	retained *ttlcache.Cache[string, T]
	log      logger.Logger

	fetches atomic.Int64
	started atomic.Bool
}

// New creates a cache. By default retained entries never expire.
func New[T any](opts ...Option) *Cache[T] {
	o := options{log: logger.Nop()}
	for _, opt := range opts {
		opt(&o)
	}

	cacheOpts := []ttlcache.Option[string, T]{
		ttlcache.WithDisableTouchOnHit[string, T](),
	}
	if o.ttl > 0 {
		cacheOpts = append(cacheOpts, ttlcache.WithTTL[string, T](o.ttl))
	}
	if o.capacity > 0 {
		cacheOpts = append(cacheOpts, ttlcache.WithCapacity[string, T](o.capacity))
	}
	return &Cache[T]{
		retained: ttlcache.New(cacheOpts...),
		log:      o.log,
	}
}

// Get returns the value for key. With allowCache a retained success is
// returned without fetching. Otherwise the caller joins the in-flight fetch
// for key or starts one. If ctx ends first the caller gets ctx.Err() while
// the fetch carries on for everyone else.
func (c *Cache[T]) Get(ctx context.Context, key string, allowCache bool, fetch Fetcher[T]) (T, error) {
	if allowCache {
		if item := c.retained.Get(key); item != nil {
			metrics.RecordCacheRequest("hit")
			return item.Value(), nil
		}
	}

	ch := c.group.DoChan(key, func() (any, error) {
		if allowCache {
			// a flight for key may have finished since the check above
			if item := c.retained.Get(key); item != nil {
				return item.Value(), nil
			}
		}
		return c.run(context.WithoutCancel(ctx), key, allowCache, fetch)
	})

	select {
	case res := <-ch:
		if res.Shared {
			metrics.RecordCacheRequest("shared")
		} else {
			metrics.RecordCacheRequest("miss")
		}
		if res.Err != nil {
			var zero T
			return zero, res.Err
		}
		return res.Val.(T), nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func (c *Cache[T]) run(ctx context.Context, key string, allowCache bool, fetch Fetcher[T]) (any, error) {
	c.fetches.Add(1)
	start := time.Now()
	val, err := fetch(ctx)
	if err != nil {
		metrics.RecordFetch("error", time.Since(start))
		c.retained.Delete(key)
		c.log.Warn(ctx, "fetch failed", logger.String("key", key), logger.Error(err))
		return nil, err
	}
	metrics.RecordFetch("ok", time.Since(start))
	if allowCache {
		c.retained.Set(key, val, ttlcache.DefaultTTL)
		metrics.UpdateCacheEntries(c.retained.Len())
	}
	return val, nil
}

// Peek returns a retained value without fetching.
func (c *Cache[T]) Peek(key string) (T, bool) {
	if item := c.retained.Get(key); item != nil {
		return item.Value(), true
	}
	var zero T
	return zero, false
}

// Purge drops every retained value.
func (c *Cache[T]) Purge() {
	c.retained.DeleteAll()
	metrics.UpdateCacheEntries(0)
}

// Len returns the number of retained values.
func (c *Cache[T]) Len() int {
	return c.retained.Len()
}

// Fetches returns how many underlying fetches have run.
func (c *Cache[T]) Fetches() int64 {
	return c.fetches.Load()
}

// Start runs expiry of retained values until Stop. Only needed with a TTL.
func (c *Cache[T]) Start() {
	if c.started.CompareAndSwap(false, true) {
		go c.retained.Start()
	}
}

// Stop ends the expiry loop started by Start.
func (c *Cache[T]) Stop() {
	if c.started.CompareAndSwap(true, false) {
		c.retained.Stop()
	}
}
