package adapters

import (
	"context"
	"sync"
	"time"

	ports "github.com/ZanzyTHEbar/loreweave/loom/weave/ports"
)

// LRUCache is a bounded least-recently-used cache with per-entry expiry.
type LRUCache struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*cacheItem
	head     *cacheItem
	tail     *cacheItem
	now      func() time.Time
}

type cacheItem struct {
	key     string
	value   []byte
	expires time.Time // zero never expires
	prev    *cacheItem
	next    *cacheItem
}

// NewLRUCache creates a cache holding at most capacity entries.
func NewLRUCache(capacity int) *LRUCache {
	if capacity < 1 {
		capacity = 1
	}
	return &LRUCache{
		capacity: capacity,
		items:    make(map[string]*cacheItem),
		now:      time.Now,
	}
}

// Get returns the value for key and marks it most recently used.
func (c *LRUCache) Get(ctx context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.items[key]
	if !ok {
		return nil, false
	}
	if !item.expires.IsZero() && c.now().After(item.expires) {
		c.unlink(item)
		delete(c.items, key)
		return nil, false
	}

	c.moveToFront(item)
	return item.value, true
}

// Set stores value; ttlSeconds <= 0 keeps it until evicted.
func (c *LRUCache) Set(ctx context.Context, key string, value []byte, ttlSeconds int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expires time.Time
	if ttlSeconds > 0 {
		expires = c.now().Add(time.Duration(ttlSeconds) * time.Second)
	}

	if item, ok := c.items[key]; ok {
		item.value = value
		item.expires = expires
		c.moveToFront(item)
		return nil
	}

	item := &cacheItem{key: key, value: value, expires: expires}
	c.pushFront(item)
	c.items[key] = item

	if len(c.items) > c.capacity {
		c.evictLRU()
	}
	return nil
}

func (c *LRUCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if item, ok := c.items[key]; ok {
		c.unlink(item)
		delete(c.items, key)
	}
	return nil
}

// Len reports the number of live and not yet purged entries.
func (c *LRUCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *LRUCache) moveToFront(item *cacheItem) {
	if item == c.head {
		return
	}
	c.unlink(item)
	c.pushFront(item)
}

func (c *LRUCache) pushFront(item *cacheItem) {
	item.next = c.head
	item.prev = nil
	if c.head != nil {
		c.head.prev = item
	}
	c.head = item
	if c.tail == nil {
		c.tail = item
	}
}

func (c *LRUCache) unlink(item *cacheItem) {
	if item.prev != nil {
		item.prev.next = item.next
	} else {
		c.head = item.next
	}
	if item.next != nil {
		item.next.prev = item.prev
	} else {
		c.tail = item.prev
	}
	item.prev = nil
	item.next = nil
}

func (c *LRUCache) evictLRU() {
	if c.tail == nil {
		return
	}
	item := c.tail
	c.unlink(item)
	delete(c.items, item.key)
}

var _ ports.Cache = (*LRUCache)(nil)
