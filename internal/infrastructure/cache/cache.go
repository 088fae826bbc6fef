// Package cache provides the namespaced TTL result cache shared by the
// heatmap, analysis and image paths, with an optional durable tier.
package cache

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/turtacn/GeoValue-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/GeoValue-Intelligence/internal/intelligence/common"
	"github.com/turtacn/GeoValue-Intelligence/pkg/errors"
)

// Namespace partitions cached results so they can be invalidated
// independently.
type Namespace string

const (
	NamespaceGrid     Namespace = "grid"
	NamespaceAnalysis Namespace = "analysis"
	NamespaceImage    Namespace = "image"
)

// Entry is a cached value and the time it was stored.
type Entry[T any] struct {
	Data      T         `json:"data"`
	CreatedAt time.Time `json:"created_at"`
}

// Expired reports whether the entry is older than ttl at now.
func (e Entry[T]) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(e.CreatedAt) > ttl
}

// Durable is a shared second tier that survives restarts. Keys arrive fully
// qualified as "<namespace>:<key>".
type Durable interface {
	Get(ctx context.Context, key string) (data []byte, found bool, err error)
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error
	DeleteByPrefix(ctx context.Context, prefix string) (int64, error)
}

type item struct {
	data      any
	createdAt time.Time
}

// Cache is safe for concurrent use.
type Cache struct {
	mu     sync.RWMutex
	spaces map[Namespace]map[string]item
	flight singleflight.Group
	// gens and epoch advance on Invalidate and Clear. A compute started
	// under an older generation does not store its result.
	gens  map[Namespace]uint64
	epoch uint64

	clock   func() time.Time
	durable Durable
	metrics common.IntelligenceMetrics
	logger  logging.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.clock = now
		}
	}
}

// WithDurable enables the second tier.
func WithDurable(d Durable) Option { return func(c *Cache) { c.durable = d } }

func WithMetrics(m common.IntelligenceMetrics) Option {
	return func(c *Cache) {
		if m != nil {
			c.metrics = m
		}
	}
}

func WithLogger(l logging.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates an empty cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		spaces:  map[Namespace]map[string]item{},
		gens:    map[Namespace]uint64{},
		clock:   time.Now,
		metrics: common.NewNoopIntelligenceMetrics(),
		logger:  logging.NewNopLogger(),
	}
	for _, o := range opts {
		o(c)
	}
	c.logger = c.logger.Named("cache")
	return c
}

// Key derives a deterministic key from request parameters. Struct fields
// keep declaration order and map keys are sorted, so structurally equal
// requests produce equal keys.
func Key(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeSerialization, "derive cache key")
	}
	return string(b), nil
}

func durableKey(ns Namespace, key string) string { return string(ns) + ":" + key }

func (c *Cache) generation(ns Namespace) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.epoch + c.gens[ns]
}

func (c *Cache) lookup(ns Namespace, key string, ttl time.Duration) (any, bool) {
	c.mu.RLock()
	it, ok := c.spaces[ns][key]
	c.mu.RUnlock()
	if !ok || c.clock().Sub(it.createdAt) > ttl {
		return nil, false
	}
	return it.data, true
}

// store writes v unless ns was invalidated after gen was observed.
func (c *Cache) store(ns Namespace, key string, v any, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch+c.gens[ns] != gen {
		return false
	}
	space := c.spaces[ns]
	if space == nil {
		space = map[string]item{}
		c.spaces[ns] = space
	}
	space[key] = item{data: v, createdAt: c.clock()}
	return true
}

// GetOrCompute returns the cached value for key in ns when it is younger
// than ttl, and otherwise calls fn, stores its result and returns it.
// Concurrent misses for one key share a single fn call. hit reports whether
// fn was skipped. A result computed across an Invalidate of ns is returned
// to its callers but not stored, and callers arriving after the
// invalidation start a fresh computation.
func GetOrCompute[T any](ctx context.Context, c *Cache, ns Namespace, key string, ttl time.Duration, fn func(context.Context) (T, error)) (value T, hit bool, err error) {
	if v, ok := c.lookup(ns, key, ttl); ok {
		if t, ok := v.(T); ok {
			c.metrics.RecordCacheAccess(ctx, true, string(ns))
			return t, true, nil
		}
	}

	gen := c.generation(ns)
	computed := false
	res, err, _ := c.flight.Do(strconv.FormatUint(gen, 10)+"/"+durableKey(ns, key), func() (any, error) {
		if v, ok := c.lookup(ns, key, ttl); ok {
			if t, ok := v.(T); ok {
				return t, nil
			}
		}
		if t, ok := loadDurable[T](ctx, c, ns, key); ok {
			c.store(ns, key, t, gen)
			return t, nil
		}
		computed = true
		t, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		if c.store(ns, key, t, gen) {
			storeDurable(ctx, c, ns, key, ttl, t)
		} else {
			c.logger.Debug("discarding result computed before invalidation", logging.String("namespace", string(ns)))
		}
		return t, nil
	})
	c.metrics.RecordCacheAccess(ctx, !computed && err == nil, string(ns))
	if err != nil {
		var zero T
		return zero, false, err
	}
	return res.(T), !computed, nil
}

func loadDurable[T any](ctx context.Context, c *Cache, ns Namespace, key string) (T, bool) {
	var zero T
	if c.durable == nil {
		return zero, false
	}
	data, found, err := c.durable.Get(ctx, durableKey(ns, key))
	if err != nil {
		c.logger.Warn("durable cache read failed", logging.String("namespace", string(ns)), logging.Err(err))
		return zero, false
	}
	if !found {
		return zero, false
	}
	var t T
	if err := json.Unmarshal(data, &t); err != nil {
		c.logger.Warn("durable cache entry undecodable", logging.String("namespace", string(ns)), logging.Err(err))
		return zero, false
	}
	return t, true
}

func storeDurable(ctx context.Context, c *Cache, ns Namespace, key string, ttl time.Duration, v any) {
	if c.durable == nil {
		return
	}
	data, err := json.Marshal(v)
	if err == nil {
		err = c.durable.Set(ctx, durableKey(ns, key), data, ttl)
	}
	if err != nil {
		c.logger.Warn("durable cache write failed", logging.String("namespace", string(ns)), logging.Err(err))
	}
}

// Peek returns the in-memory entry for key without checking its age.
func Peek[T any](c *Cache, ns Namespace, key string) (Entry[T], bool) {
	c.mu.RLock()
	it, ok := c.spaces[ns][key]
	c.mu.RUnlock()
	if !ok {
		return Entry[T]{}, false
	}
	t, ok := it.data.(T)
	if !ok {
		return Entry[T]{}, false
	}
	return Entry[T]{Data: t, CreatedAt: it.createdAt}, true
}

// Invalidate drops every entry of ns, including the durable copies, and
// returns how many in-memory entries were removed. Other namespaces are
// untouched.
func (c *Cache) Invalidate(ctx context.Context, ns Namespace) int {
	c.mu.Lock()
	n := len(c.spaces[ns])
	delete(c.spaces, ns)
	c.gens[ns]++
	c.mu.Unlock()

	if c.durable != nil {
		if _, err := c.durable.DeleteByPrefix(ctx, durableKey(ns, "")); err != nil {
			c.logger.Warn("durable cache invalidation failed", logging.String("namespace", string(ns)), logging.Err(err))
		}
	}
	c.logger.Debug("namespace invalidated", logging.String("namespace", string(ns)), logging.Int("entries", n))
	return n
}

// Clear empties the in-memory tier and returns the number of entries
// removed. The durable tier keeps its entries until they expire.
func (c *Cache) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, space := range c.spaces {
		n += len(space)
	}
	c.spaces = map[Namespace]map[string]item{}
	c.epoch++
	return n
}

// Len returns the number of in-memory entries in ns.
func (c *Cache) Len(ns Namespace) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.spaces[ns])
}
