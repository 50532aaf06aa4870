// Package cachelayer implements the two LRU-with-TTL tables spec §4.6
// describes: ExtractionResults (catalog_ref+server -> ExtractionResult) and
// SubtitleBlobs (content hash -> WebVTT bytes). Both are the only shared
// mutable state in the core besides the StealthProfile pool.
//
// The TTL engine is github.com/patrickmn/go-cache, the same library the
// teacher uses for its in-memory caches. go-cache has no notion of a
// capacity bound, so capacity-based LRU eviction is layered on top with a
// stdlib container/list index — no LRU-capacity library turned up anywhere
// in the retrieved example pack (see DESIGN.md).
package cachelayer

import (
	"container/list"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// lruEntry is the payload stored in the container/list; it carries its own
// key so eviction can remove the matching go-cache entry too.
type lruEntry struct {
	key   string
	value interface{}
}

// LRU is a capacity-bounded, TTL-expiring cache. Every operation, reads
// included, takes a single exclusive mutex (Get reorders the LRU list), so
// concurrent readers block each other as well as writers — the same
// single-mutex approach the teacher's own InMemoryCache (pkg/debrid/cache.go)
// uses for its TTL map.
type LRU struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	store    *gocache.Cache
	order    *list.List
	elements map[string]*list.Element
	hits     int64
	misses   int64
}

// NewLRU builds an LRU-with-TTL cache of the given capacity and TTL. Lazy
// expiry runs on access (go-cache's native behavior); eager expiry runs on
// a 30s sweep via go-cache's own janitor, matching spec §4.6's eviction
// cadence.
func NewLRU(capacity int, ttl time.Duration) *LRU {
	return &LRU{
		capacity: capacity,
		ttl:      ttl,
		store:    gocache.New(ttl, 30*time.Second),
		order:    list.New(),
		elements: make(map[string]*list.Element),
	}
}

// Get returns the cached value for key, if present and unexpired.
func (c *LRU) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	val, found := c.store.Get(key)
	if !found {
		c.misses++
		// The element may still be in the LRU index if it expired lazily
		// in go-cache without us noticing; drop it so order/elements stay
		// consistent with store contents.
		if el, ok := c.elements[key]; ok {
			c.order.Remove(el)
			delete(c.elements, key)
		}
		return nil, false
	}
	c.hits++
	if el, ok := c.elements[key]; ok {
		c.order.MoveToFront(el)
	}
	return val, true
}

// Put inserts or refreshes key, evicting the least-recently-used entry if
// the cache is at capacity.
func (c *LRU) Put(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.store.Set(key, value, gocache.DefaultExpiration)

	if el, ok := c.elements[key]; ok {
		el.Value = lruEntry{key: key, value: value}
		c.order.MoveToFront(el)
		return
	}

	el := c.order.PushFront(lruEntry{key: key, value: value})
	c.elements[key] = el

	if c.order.Len() > c.capacity {
		c.evictOldest()
	}
}

// evictOldest removes the least-recently-used entry. Caller must hold mu.
func (c *LRU) evictOldest() {
	oldest := c.order.Back()
	if oldest == nil {
		return
	}
	entry := oldest.Value.(lruEntry)
	c.order.Remove(oldest)
	delete(c.elements, entry.key)
	c.store.Delete(entry.key)
}

// Invalidate removes key unconditionally.
func (c *LRU) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.store.Delete(key)
	if el, ok := c.elements[key]; ok {
		c.order.Remove(el)
		delete(c.elements, key)
	}
}

// Len returns the number of entries in the LRU index. Entries that expired
// but have not been looked up since are still counted.
func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats returns cumulative hit/miss counters, for the Logging/Diagnostics
// surface (spec §2 #8).
func (c *LRU) Stats() (hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}
