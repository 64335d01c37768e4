package metadata

import (
	"container/list"
	"sync"
	"time"
)

// CacheStats holds cache statistics.
type CacheStats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Size      int
	MaxSize   int
	HitRate   float64
}

type cacheEntry struct {
	key       string
	value     interface{}
	expiresAt time.Time
	element   *list.Element
}

// TTLCache is a thread-safe TTL cache with LRU eviction, sized for
// catalogue lookups.
type TTLCache struct {
	mu        sync.Mutex
	entries   map[string]*cacheEntry
	lru       *list.List
	maxSize   int
	ttl       time.Duration
	hits      int64
	misses    int64
	evictions int64
	stop      chan struct{}
	stopOnce  sync.Once
}

// NewTTLCache creates a cache holding at most maxSize entries, each
// expiring ttl after its last Set.
func NewTTLCache(maxSize int, ttl time.Duration) *TTLCache {
	return &TTLCache{
		entries: make(map[string]*cacheEntry),
		lru:     list.New(),
		maxSize: maxSize,
		ttl:     ttl,
		stop:    make(chan struct{}),
	}
}

// Get retrieves a value, or nil if absent or expired.
func (c *TTLCache) Get(key string) interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil
	}
	if time.Now().After(entry.expiresAt) {
		c.removeLocked(entry)
		c.misses++
		return nil
	}
	c.lru.MoveToFront(entry.element)
	c.hits++
	return entry.value
}

// Set stores a value, evicting the least recently used entry when full.
func (c *TTLCache) Set(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := time.Now().Add(c.ttl)
	if entry, ok := c.entries[key]; ok {
		entry.value = value
		entry.expiresAt = expiresAt
		c.lru.MoveToFront(entry.element)
		return
	}

	if len(c.entries) >= c.maxSize {
		if back := c.lru.Back(); back != nil {
			c.removeLocked(back.Value.(*cacheEntry))
			c.evictions++
		}
	}

	entry := &cacheEntry{key: key, value: value, expiresAt: expiresAt}
	entry.element = c.lru.PushFront(entry)
	c.entries[key] = entry
}

// Clear removes all entries.
func (c *TTLCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*cacheEntry)
	c.lru = list.New()
}

// Size returns the current number of entries.
func (c *TTLCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns cache statistics.
func (c *TTLCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	hitRate := 0.0
	if total > 0 {
		hitRate = float64(c.hits) / float64(total)
	}
	return CacheStats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Size:      len(c.entries),
		MaxSize:   c.maxSize,
		HitRate:   hitRate,
	}
}

// StartCleanup launches a background sweep of expired entries at the
// given interval.
func (c *TTLCache) StartCleanup(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.sweep()
			case <-c.stop:
				return
			}
		}
	}()
}

// StopCleanup stops the background sweep. Safe to call more than once.
func (c *TTLCache) StopCleanup() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *TTLCache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for e := c.lru.Front(); e != nil; {
		next := e.Next()
		entry := e.Value.(*cacheEntry)
		if now.After(entry.expiresAt) {
			c.removeLocked(entry)
		}
		e = next
	}
}

func (c *TTLCache) removeLocked(entry *cacheEntry) {
	delete(c.entries, entry.key)
	if entry.element != nil {
		c.lru.Remove(entry.element)
	}
}
