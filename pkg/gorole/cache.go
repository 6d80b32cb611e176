package gorole

import (
	"sync"
	"time"
)

// Cache holds recently read role assignments in front of Storage.
type Cache interface {
	// GetRole returns a copy of the cached assignment and true if present and fresh.
	GetRole(userID string) (*RoleAssignment, bool)

	SetRole(userID string, a *RoleAssignment, ttl time.Duration)

	InvalidateRole(userID string)

	// Clear removes all entries from the cache
	Clear()

	Stats() CacheStats
}

// CacheStats holds cache performance statistics
type CacheStats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Size      int
}

type cacheEntry struct {
	value      *RoleAssignment
	expiration time.Time
	accessTime time.Time
	sequence   int64 // tiebreak for equal access times
}

func (e *cacheEntry) isExpired(now time.Time) bool {
	return now.After(e.expiration)
}

// NoopCache is used when caching is disabled.
type NoopCache struct{}

// NewNoopCache creates a new no-op cache
func NewNoopCache() *NoopCache {
	return &NoopCache{}
}

func (c *NoopCache) GetRole(_ string) (*RoleAssignment, bool)             { return nil, false }
func (c *NoopCache) SetRole(_ string, _ *RoleAssignment, _ time.Duration) {}
func (c *NoopCache) InvalidateRole(_ string)                              {}
func (c *NoopCache) Clear()                                               {}
func (c *NoopCache) Stats() CacheStats                                    { return CacheStats{} }

// LRUCache implements Cache with TTL expiry and least-recently-used eviction.
type LRUCache struct {
	mu         sync.Mutex
	entries    map[string]*cacheEntry
	maxEntries int
	hits       int64
	misses     int64
	evictions  int64
	sequence   int64
	now        func() time.Time
}

// NewLRUCache creates a new LRU cache holding at most maxEntries assignments.
func NewLRUCache(maxEntries int) *LRUCache {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	return &LRUCache{
		entries:    make(map[string]*cacheEntry, maxEntries),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

func (c *LRUCache) GetRole(userID string) (*RoleAssignment, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	entry, ok := c.entries[userID]
	if !ok || entry.isExpired(now) {
		c.misses++
		return nil, false
	}

	entry.accessTime = now
	c.hits++
	return entry.value.Clone(), true
}

func (c *LRUCache) SetRole(userID string, a *RoleAssignment, ttl time.Duration) {
	if a == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if _, exists := c.entries[userID]; !exists && len(c.entries) >= c.maxEntries {
		c.evictOldest()
	}

	c.sequence++
	c.entries[userID] = &cacheEntry{
		value:      a.Clone(),
		expiration: now.Add(ttl),
		accessTime: now,
		sequence:   c.sequence,
	}
}

// evictOldest drops the least recently used entry. Caller holds mu.
func (c *LRUCache) evictOldest() {
	var (
		oldestKey string
		oldest    *cacheEntry
	)
	for key, entry := range c.entries {
		if oldest == nil || entry.accessTime.Before(oldest.accessTime) ||
			(entry.accessTime.Equal(oldest.accessTime) && entry.sequence < oldest.sequence) {
			oldestKey, oldest = key, entry
		}
	}
	if oldest != nil {
		delete(c.entries, oldestKey)
		c.evictions++
	}
}

func (c *LRUCache) InvalidateRole(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, userID)
}

func (c *LRUCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*cacheEntry, c.maxEntries)
}

func (c *LRUCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Size:      len(c.entries),
	}
}
