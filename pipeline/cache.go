package pipeline

import (
	"context"
)

// Builder constructs a pipeline for a key. ONNXBuilder is the production
// implementation; tests substitute fakes.
type Builder interface {
	Build(ctx context.Context, key Key, opts Options, onProgress ProgressFunc) (Pipeline, error)
}

// Cache holds at most one live pipeline, keyed by (model, precision,
// backend). Repeated runs with an identical key reuse the handle without
// re-fetching weights or re-initializing the engine; a run with a different
// key disposes the old handle before the replacement is constructed.
//
// The cache is owned by the worker's run loop and relies on its serial
// execution model; it is not safe for concurrent use.
type Cache struct {
	builder Builder

	cached    Pipeline
	cachedKey Key
	disposed  bool
}

// NewCache creates an empty cache building pipelines through builder.
func NewCache(builder Builder) *Cache {
	return &Cache{builder: builder}
}

// Ensure returns the pipeline for key, constructing it if necessary.
//
// A cache hit returns immediately and emits no progress events. On a miss,
// any differently-keyed handle is closed first, then construction streams
// load progress through onProgress. On construction failure the cache is
// left empty, so a retry gets a clean build.
func (c *Cache) Ensure(ctx context.Context, key Key, opts Options, onProgress ProgressFunc) (Pipeline, error) {
	if c.disposed {
		return nil, ErrCacheDisposed
	}
	if err := key.Validate(); err != nil {
		return nil, err
	}

	if c.cached != nil && c.cachedKey == key {
		return c.cached, nil
	}

	if c.cached != nil {
		// Explicit teardown before the replacement: at most one handle
		// is ever live. A close failure is not fatal to the new run.
		c.cached.Close()
		c.cached = nil
		c.cachedKey = Key{}
	}

	p, err := c.builder.Build(ctx, key, opts, onProgress)
	if err != nil {
		return nil, err
	}

	c.cached = p
	c.cachedKey = key
	return p, nil
}

// CachedKey returns the key of the live pipeline and whether one exists.
func (c *Cache) CachedKey() (Key, bool) {
	if c.cached == nil {
		return Key{}, false
	}
	return c.cachedKey, true
}

// Dispose closes the live pipeline, if any, and marks the cache unusable.
// Called during worker teardown. Safe to call more than once.
func (c *Cache) Dispose() error {
	c.disposed = true
	if c.cached == nil {
		return nil
	}
	err := c.cached.Close()
	c.cached = nil
	c.cachedKey = Key{}
	return err
}
