package policy

import (
	"container/list"
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/sergeybar/ratesentry/internal/telemetry"
)

// cacheEntry pairs a cached value with its absolute expiry.
type cacheEntry[V any] struct {
	value     V
	expiresAt time.Time
	elem      *list.Element
}

// cache is a bounded, TTL'd, singleflight-coalesced memoization layer, per
// spec.md §4.4's caching requirements: "bounded in-process cache (size and
// TTL configurable) ... Negative results (not found) MUST NOT be cached."
// Eviction on overflow is FIFO by insertion, not strict LRU — simpler than
// the teacher's sync.Map cache in middleware/auth.go, but the same idea: a
// small in-process memo in front of a slower lookup.
type cache[V any] struct {
	mu         sync.Mutex
	ttl        time.Duration
	maxEntries int
	items      map[string]*cacheEntry[V]
	order      *list.List // list of keys, oldest at Front

	group singleflight.Group
}

func newCache[V any](ttl time.Duration, maxEntries int) *cache[V] {
	if maxEntries <= 0 {
		maxEntries = 100
	}
	return &cache[V]{
		ttl:        ttl,
		maxEntries: maxEntries,
		items:      make(map[string]*cacheEntry[V]),
		order:      list.New(),
	}
}

// get returns the cached value for key if present and unexpired.
func (c *cache[V]) get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.items[key]
	if !ok {
		return zero, false
	}
	if time.Now().After(e.expiresAt) {
		c.removeLocked(key)
		return zero, false
	}
	return e.value, true
}

// set stores value for key, evicting the oldest entry if over capacity.
func (c *cache[V]) set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.items[key]; ok {
		existing.value = value
		existing.expiresAt = time.Now().Add(c.ttl)
		c.order.MoveToBack(existing.elem)
		return
	}

	elem := c.order.PushBack(key)
	c.items[key] = &cacheEntry[V]{value: value, expiresAt: time.Now().Add(c.ttl), elem: elem}

	for len(c.items) > c.maxEntries {
		oldest := c.order.Front()
		if oldest == nil {
			break
		}
		c.removeLocked(oldest.Value.(string))
	}
}

// invalidate evicts key, used on admin writes per spec.md §4.4.
func (c *cache[V]) invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(key)
}

// invalidateAll drops every cached entry — used when a write could affect an
// unbounded set of cache keys (e.g. a tenant default policy change).
func (c *cache[V]) invalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*cacheEntry[V])
	c.order.Init()
}

func (c *cache[V]) removeLocked(key string) {
	e, ok := c.items[key]
	if !ok {
		return
	}
	c.order.Remove(e.elem)
	delete(c.items, key)
}

// getOrLoad returns the cached value for key, or calls load under
// singleflight coalescing on a miss. When cacheable is false the loaded
// value is returned but never stored — how negative results stay uncached.
func (c *cache[V]) getOrLoad(ctx context.Context, key string, load func(context.Context) (value V, cacheable bool, err error)) (V, error) {
	if v, ok := c.get(key); ok {
		telemetry.PolicyCacheHitsTotal.WithLabelValues("hit").Inc()
		return v, nil
	}
	telemetry.PolicyCacheHitsTotal.WithLabelValues("miss").Inc()

	result, err, _ := c.group.Do(key, func() (interface{}, error) {
		value, cacheable, loadErr := load(ctx)
		if loadErr != nil {
			return value, loadErr
		}
		if cacheable {
			c.set(key, value)
		}
		return value, nil
	})

	var zero V
	if err != nil {
		return zero, err
	}
	return result.(V), nil
}
