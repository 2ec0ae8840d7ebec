package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/platinummonkey/ptbhub/pkg/observability"
)

// Cache layers view-aware TTLs, JSON encoding and fail-open error handling
// over a Store. No method returns a backend error to the caller.
type Cache struct {
	store   Store
	ttls    map[string]time.Duration
	logger  *observability.Logger
	metrics *observability.Metrics
}

// Option configures a Cache
type Option func(*Cache)

// WithLogger sets the logger used for swallowed backend errors
func WithLogger(logger *observability.Logger) Option {
	return func(c *Cache) { c.logger = logger }
}

// WithMetrics records hits, misses and errors
func WithMetrics(metrics *observability.Metrics) Option {
	return func(c *Cache) { c.metrics = metrics }
}

// WithTTL overrides the expiry for one view
func WithTTL(view string, ttl time.Duration) Option {
	return func(c *Cache) { c.ttls[view] = ttl }
}

// New creates a cache over store with the default TTL table
func New(store Store, opts ...Option) *Cache {
	c := &Cache{
		store:  store,
		ttls:   make(map[string]time.Duration, len(DefaultTTLs)),
		logger: observability.NopLogger(),
	}
	for view, ttl := range DefaultTTLs {
		c.ttls[view] = ttl
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTL returns the expiry configured for view
func (c *Cache) TTL(view string) time.Duration {
	if ttl, ok := c.ttls[view]; ok {
		return ttl
	}
	return DefaultTTL
}

// Get returns the raw cached bytes; any backend error counts as a miss
func (c *Cache) Get(ctx context.Context, view, key string) ([]byte, bool) {
	data, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.fail("get", key, err)
		return nil, false
	}
	if c.metrics != nil {
		if ok {
			c.metrics.CacheHitsTotal.WithLabelValues(view).Inc()
		} else {
			c.metrics.CacheMissesTotal.WithLabelValues(view).Inc()
		}
	}
	return data, ok
}

// Set stores raw bytes under the view's TTL
func (c *Cache) Set(ctx context.Context, view, key string, data []byte) {
	if err := c.store.Set(ctx, key, data, c.TTL(view)); err != nil {
		c.fail("set", key, err)
	}
}

// GetJSON decodes a cached value into dst and reports whether it was found
func (c *Cache) GetJSON(ctx context.Context, view, key string, dst interface{}) bool {
	data, ok := c.Get(ctx, view, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		c.fail("decode", key, err)
		_ = c.store.Delete(ctx, key)
		return false
	}
	return true
}

// SetJSON encodes v and stores it under the view's TTL
func (c *Cache) SetJSON(ctx context.Context, view, key string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		c.fail("encode", key, err)
		return
	}
	c.Set(ctx, view, key, data)
}

// InvalidateView drops every key belonging to view. Stores that support
// wildcard delete remove user-scoped and parameterized keys too; others only
// lose the base key of each prefix.
func (c *Cache) InvalidateView(ctx context.Context, view string) {
	if pd, ok := c.store.(PatternDeleter); ok {
		for _, prefix := range AllPrefixes {
			if err := pd.DeletePattern(ctx, ViewPattern(prefix, view)); err != nil {
				c.fail("invalidate", view, err)
			}
		}
		return
	}

	keys := make([]string, 0, len(AllPrefixes))
	for _, prefix := range AllPrefixes {
		keys = append(keys, Key(prefix, view, 0, nil))
	}
	if err := c.store.Delete(ctx, keys...); err != nil {
		c.fail("invalidate", view, err)
	}
}

// InvalidateViews calls InvalidateView for each view
func (c *Cache) InvalidateViews(ctx context.Context, views ...string) {
	for _, v := range views {
		c.InvalidateView(ctx, v)
	}
}

func (c *Cache) fail(op, key string, err error) {
	if c.metrics != nil {
		c.metrics.CacheErrorsTotal.WithLabelValues(op).Inc()
	}
	c.logger.WithError(err).WithField("operation", op).WithField("key", key).Warn("cache operation failed")
}
