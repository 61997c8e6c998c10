package cache

import (
	"strings"
	"sync"
	"time"

	"license-server/internal/verification"
)

type memoryEntry struct {
	result    verification.Result
	expiresAt time.Time
}

// MemoryResultCache is an in-process TTL cache for verification results,
// used when Redis is disabled or as the fallback backend. Expired entries
// are never served; they are dropped on read and by Sweep.
type MemoryResultCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryResultCache creates an in-memory result cache
func NewMemoryResultCache(ttl time.Duration) *MemoryResultCache {
	if ttl <= 0 {
		ttl = DefaultVerifyTTL
	}
	return &MemoryResultCache{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (c *MemoryResultCache) key(licenseKey, domain string) string {
	return licenseKey + ":" + domain
}

// Get returns the cached result for (key, domain) if present and unexpired
func (c *MemoryResultCache) Get(licenseKey, domain string) (*verification.Result, bool) {
	k := c.key(licenseKey, domain)

	c.mu.RLock()
	entry, ok := c.entries[k]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}
	if c.now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, k)
		c.mu.Unlock()
		return nil, false
	}
	result := entry.result
	return &result, true
}

// Set stores a result with the cache TTL
func (c *MemoryResultCache) Set(licenseKey, domain string, result *verification.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[c.key(licenseKey, domain)] = memoryEntry{
		result:    *result,
		expiresAt: c.now().Add(c.ttl),
	}
}

// DeleteAll removes every entry for a license key
func (c *MemoryResultCache) DeleteAll(licenseKey string) {
	prefix := licenseKey + ":"

	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
		}
	}
}

// Sweep drops expired entries
func (c *MemoryResultCache) Sweep() {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	for k, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, k)
		}
	}
}

// Len returns the number of entries, expired included
func (c *MemoryResultCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
