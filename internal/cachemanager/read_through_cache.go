package cachemanager

import (
	"context"
	"time"
)

// ReadThroughCache serves values from cache and falls back to fn on a miss,
// caching what fn returns. Errors are only cached when a miss cache is set
// and the error is one it recognizes.
type ReadThroughCache[K comparable, V any, I any] struct {
	cache   CacheManager[K, V]
	fn      func(ctx context.Context, input I) (V, error)
	sliding bool

	misses CacheManager[K, error]
	isMiss func(error) bool
}

// NewReadThroughCache wraps cache around fn. When sliding is set a hit
// extends the entry's ttl.
func NewReadThroughCache[K comparable, V any, I any](
	cache CacheManager[K, V],
	fn func(ctx context.Context, input I) (V, error),
	sliding bool,
) *ReadThroughCache[K, V, I] {
	return &ReadThroughCache[K, V, I]{
		cache:   cache,
		fn:      fn,
		sliding: sliding,
	}
}

// WithMissCache remembers errors for which isMiss returns true, so a key
// known to be absent is not loaded again until it expires or is invalidated.
func (r *ReadThroughCache[K, V, I]) WithMissCache(misses CacheManager[K, error], isMiss func(error) bool) *ReadThroughCache[K, V, I] {
	r.misses = misses
	r.isMiss = isMiss
	return r
}

// Get returns the cached value for key, loading it with input on a miss.
func (r *ReadThroughCache[K, V, I]) Get(ctx context.Context, key K, input I, ttl time.Duration) (V, error) {
	var (
		value V
		ok    bool
	)
	if r.sliding {
		value, ok = r.cache.GetWithRefresh(ctx, key, ttl)
	} else {
		value, ok = r.cache.Get(ctx, key)
	}
	if ok {
		return value, nil
	}
	if r.misses != nil {
		if err, known := r.misses.Get(ctx, key); known {
			return value, err
		}
	}

	value, err := r.fn(ctx, input)
	if err != nil {
		if r.misses != nil && r.isMiss(err) {
			r.misses.Set(ctx, key, err, ttl)
		}
		return value, err
	}

	r.cache.Set(ctx, key, value, ttl)
	return value, nil
}

// Invalidate drops keys so the next Get reloads them.
func (r *ReadThroughCache[K, V, I]) Invalidate(ctx context.Context, keys ...K) error {
	if r.misses != nil {
		if err := r.misses.Delete(ctx, keys...); err != nil {
			return err
		}
	}
	return r.cache.Delete(ctx, keys...)
}
