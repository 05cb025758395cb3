// Package cache is an in-process TTL cache with request coalescing and LRU
// eviction.
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

type Options struct {
	TTL         time.Duration
	NegativeTTL time.Duration // 0 disables caching of loader errors
	MaxEntries  int           // 0 means unbounded
}

type MetricsHooks struct {
	OnHit   func()
	OnMiss  func()
	OnStore func()
	OnEvict func()
}

// Loader produces the value for key. ok=false with err stores a negative entry
// when NegativeTTL is set.
type Loader[V any] func(ctx context.Context, key string) (V, bool, error)

type entry[V any] struct {
	key       string
	value     V
	err       error
	negative  bool
	expiresAt time.Time
}

type Cache[V any] struct {
	mu    sync.Mutex
	items map[string]*list.Element
	lru   *list.List
	opts  Options
	hooks MetricsHooks
	sf    singleflight.Group
	now   func() time.Time
}

func New[V any](opts Options, hooks MetricsHooks) *Cache[V] {
	return &Cache[V]{
		items: make(map[string]*list.Element),
		lru:   list.New(),
		opts:  opts,
		hooks: hooks,
		now:   time.Now,
	}
}

type loadResult[V any] struct {
	val V
	ok  bool
	err error
}

// Get returns the cached value for key, calling loader on a miss. Concurrent
// misses for the same key share one loader call.
func (c *Cache[V]) Get(ctx context.Context, key string, loader Loader[V]) (V, bool, error) {
	if e, found := c.lookup(key); found {
		fire(c.hooks.OnHit)
		if e.negative {
			var zero V
			return zero, false, e.err
		}
		return e.value, true, nil
	}

	fire(c.hooks.OnMiss)
	result, _, _ := c.sf.Do(key, func() (any, error) {
		val, ok, err := loader(ctx, key)
		c.store(key, val, ok, err)
		return loadResult[V]{val: val, ok: ok, err: err}, nil
	})
	res := result.(loadResult[V])
	return res.val, res.ok, res.err
}

// Peek returns a live cached value without loading.
func (c *Cache[V]) Peek(key string) (V, bool) {
	e, found := c.lookup(key)
	if !found || e.negative {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set stores val under key for ttl, overriding Options.TTL.
func (c *Cache[V]) Set(key string, val V, ttl time.Duration) {
	c.put(&entry[V]{key: key, value: val, expiresAt: c.now().Add(ttl)})
}

func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.lru.Remove(el)
		delete(c.items, key)
	}
}

func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

func (c *Cache[V]) lookup(key string) (entry[V], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return entry[V]{}, false
	}
	e := el.Value.(*entry[V])
	if !c.now().Before(e.expiresAt) {
		c.lru.Remove(el)
		delete(c.items, key)
		return entry[V]{}, false
	}
	c.lru.MoveToFront(el)
	return *e, true
}

func (c *Cache[V]) store(key string, val V, ok bool, err error) {
	if ok {
		c.put(&entry[V]{key: key, value: val, expiresAt: c.now().Add(c.opts.TTL)})
		return
	}
	if c.opts.NegativeTTL <= 0 {
		return
	}
	c.put(&entry[V]{key: key, err: err, negative: true, expiresAt: c.now().Add(c.opts.NegativeTTL)})
}

func (c *Cache[V]) put(e *entry[V]) {
	c.mu.Lock()
	if el, exists := c.items[e.key]; exists {
		el.Value = e
		c.lru.MoveToFront(el)
	} else {
		c.items[e.key] = c.lru.PushFront(e)
	}
	evicted := 0
	for c.opts.MaxEntries > 0 && c.lru.Len() > c.opts.MaxEntries {
		oldest := c.lru.Back()
		c.lru.Remove(oldest)
		delete(c.items, oldest.Value.(*entry[V]).key)
		evicted++
	}
	c.mu.Unlock()

	fire(c.hooks.OnStore)
	for range evicted {
		fire(c.hooks.OnEvict)
	}
}

func fire(hook func()) {
	if hook != nil {
		hook()
	}
}
