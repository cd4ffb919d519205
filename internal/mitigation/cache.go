package mitigation

import (
	"container/list"
	"time"
)

// CacheEntry is the per-source snapshot held by the RecencyCache.
type CacheEntry struct {
	SourceID      string
	LastScore     float64
	LastSeen      time.Time
	RequestRate   float64
	TotalRequests int
}

// RecencyCache is a bounded LRU over recently active sources. Get and Put
// are O(1); inserting past capacity evicts the least-recently-touched entry.
// Not safe for concurrent use; the engine's lock guards it.
type RecencyCache struct {
	capacity int
	order    *list.List // front = most recently used
	items    map[string]*list.Element
}

// NewRecencyCache creates a cache with the given capacity.
func NewRecencyCache(capacity int) *RecencyCache {
	if capacity <= 0 {
		capacity = 1000
	}
	return &RecencyCache{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[string]*list.Element, capacity),
	}
}

// Get returns the entry for the source and marks it most recently used.
func (c *RecencyCache) Get(sourceID string) (CacheEntry, bool) {
	el, ok := c.items[sourceID]
	if !ok {
		return CacheEntry{}, false
	}
	c.order.MoveToFront(el)
	return el.Value.(CacheEntry), true
}

// Put upserts the entry, marks it most recently used, and evicts the LRU
// entry if capacity is exceeded.
func (c *RecencyCache) Put(entry CacheEntry) {
	if el, ok := c.items[entry.SourceID]; ok {
		el.Value = entry
		c.order.MoveToFront(el)
		return
	}
	c.items[entry.SourceID] = c.order.PushFront(entry)
	if c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.items, oldest.Value.(CacheEntry).SourceID)
		}
	}
}

// Remove drops the entry for the source if present.
func (c *RecencyCache) Remove(sourceID string) bool {
	el, ok := c.items[sourceID]
	if !ok {
		return false
	}
	c.order.Remove(el)
	delete(c.items, sourceID)
	return true
}

// Len returns the number of cached entries.
func (c *RecencyCache) Len() int { return c.order.Len() }

// Capacity returns the configured capacity.
func (c *RecencyCache) Capacity() int { return c.capacity }

// Utilization returns Len/Capacity in [0,1].
func (c *RecencyCache) Utilization() float64 {
	return float64(c.order.Len()) / float64(c.capacity)
}

// Keys returns source ids ordered most- to least-recently used.
func (c *RecencyCache) Keys() []string {
	keys := make([]string, 0, c.order.Len())
	for el := c.order.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(CacheEntry).SourceID)
	}
	return keys
}
