package cache

import (
	"container/list"
	"sync"
	"time"
)

const defaultCapacity = 512

type lruItem struct {
	key       string
	entry     Entry
	expiresAt time.Time
}

// LRU is a bounded in-memory cache with per-entry expiry.
type LRU struct {
	mu       sync.Mutex
	capacity int
	ll       *list.List
	items    map[string]*list.Element
	now      func() time.Time
}

func NewLRU(capacity int) *LRU {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &LRU{
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[string]*list.Element),
		now:      time.Now,
	}
}

// SetClock overrides the time source used for expiry.
func (c *LRU) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

func (c *LRU) clock() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now()
}

// Get returns a copy of the entry, dropping it if it expired.
func (c *LRU) Get(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return Entry{}, false
	}
	it := el.Value.(*lruItem)
	if !it.expiresAt.IsZero() && !c.now().Before(it.expiresAt) {
		c.removeElement(el)
		return Entry{}, false
	}
	c.ll.MoveToFront(el)
	return it.entry.clone(), true
}

// Set stores a copy of e. A ttl <= 0 means the entry never expires.
func (c *LRU) Set(key string, e Entry, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = c.now().Add(ttl)
	}
	if el, ok := c.items[key]; ok {
		it := el.Value.(*lruItem)
		it.entry = e.clone()
		it.expiresAt = expiresAt
		c.ll.MoveToFront(el)
		return
	}

	el := c.ll.PushFront(&lruItem{key: key, entry: e.clone(), expiresAt: expiresAt})
	c.items[key] = el
	for c.ll.Len() > c.capacity {
		c.removeElement(c.ll.Back())
	}
}

func (c *LRU) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.removeElement(el)
	}
}

func (c *LRU) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ll.Init()
	c.items = make(map[string]*list.Element)
}

func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

func (c *LRU) removeElement(el *list.Element) {
	c.ll.Remove(el)
	delete(c.items, el.Value.(*lruItem).key)
}
