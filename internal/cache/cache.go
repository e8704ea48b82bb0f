// Package cache implements QuoteCache: a process-wide, keyed cache with
// TTL expiry, single-flight load coalescing and size-bounded LRU eviction.
// Grounded on the teacher's internal/realtime/cache.PriceCache (RWMutex +
// staleness-on-read) generalized with an LRU ring and a singleflight group
// so concurrent misses for the same key share one upstream call.
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/wonny/aegis/v13/backend/pkg/logger"
)

type entry struct {
	key       string
	value     interface{}
	insertedAt time.Time
	elem      *list.Element
}

// Cache is a TTL + LRU + single-flight keyed cache.
// ⭐ SSOT: upstream result caching lives only in this package.
type Cache struct {
	mu       sync.Mutex
	items    map[string]*entry
	order    *list.List // front = most recently used
	maxItems int

	flight singleflight.Group
	logger *logger.Logger

	hits   int64
	misses int64
}

// New creates a Cache bounded to maxItems entries.
func New(maxItems int, log *logger.Logger) *Cache {
	if maxItems <= 0 {
		maxItems = 10_000
	}
	return &Cache{
		items:    make(map[string]*entry),
		order:    list.New(),
		maxItems: maxItems,
		logger:   log,
	}
}

// Loader produces the value for a cache miss.
type Loader func(ctx context.Context) (interface{}, error)

// Get returns a fresh cached value for key, or runs loader — coalescing
// concurrent misses for the same key into a single loader invocation. A
// loader failure is never cached; the next caller retries.
func (c *Cache) Get(ctx context.Context, key string, ttl time.Duration, loader Loader) (interface{}, error) {
	if v, ok := c.lookup(key, ttl); ok {
		return v, nil
	}

	v, err, _ := c.flight.Do(key, func() (interface{}, error) {
		// Re-check: another goroutine may have populated the entry while we
		// were waiting to enter Do (e.g. a prior flight for the same key
		// just finished and this call raced to register a new one).
		if v, ok := c.lookup(key, ttl); ok {
			return v, nil
		}
		val, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		c.put(key, val)
		return val, nil
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (c *Cache) lookup(key string, ttl time.Duration) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, false
	}
	if time.Since(e.insertedAt) > ttl {
		c.misses++
		return nil, false
	}
	c.order.MoveToFront(e.elem)
	c.hits++
	return e.value, true
}

func (c *Cache) put(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.items[key]; ok {
		existing.value = value
		existing.insertedAt = time.Now()
		c.order.MoveToFront(existing.elem)
		return
	}

	e := &entry{key: key, value: value, insertedAt: time.Now()}
	e.elem = c.order.PushFront(e)
	c.items[key] = e

	for len(c.items) > c.maxItems {
		back := c.order.Back()
		if back == nil {
			break
		}
		victim := back.Value.(*entry)
		c.order.Remove(back)
		delete(c.items, victim.key)
	}
}

// Stats reports cumulative hit/miss counters, for observability.
type Stats struct {
	Hits    int64
	Misses  int64
	Entries int
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Hits: c.hits, Misses: c.misses, Entries: len(c.items)}
}

// Purge drops every entry. Used by tests and the periodic cache-sweep job.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*entry)
	c.order.Init()
}
