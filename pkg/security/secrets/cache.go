package secrets

import (
	"sync"
	"time"
)

// CacheConfig configures the resolver cache.
type CacheConfig struct {
	// TTL is how long a resolved value is served from memory. Zero disables
	// caching.
	TTL time.Duration

	// MaxSize bounds the number of cached values.
	// Default: 100
	MaxSize int

	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

type cacheEntry struct {
	value     string
	expiresAt time.Time
}

// cache is a TTL map that evicts the entry closest to expiry when full.
type cache struct {
	ttl     time.Duration
	maxSize int
	now     func() time.Time

	mu      sync.Mutex
	entries map[string]cacheEntry
}

func newCache(cfg CacheConfig) *cache {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 100
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &cache{
		ttl:     cfg.TTL,
		maxSize: cfg.MaxSize,
		now:     cfg.Clock,
		entries: make(map[string]cacheEntry),
	}
}

func (c *cache) get(name string) (string, bool) {
	if c.ttl <= 0 {
		return "", false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[name]
	if !ok {
		return "", false
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.entries, name)
		return "", false
	}
	return e.value, true
}

func (c *cache) set(name, value string) {
	if c.ttl <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[name]; !ok && len(c.entries) >= c.maxSize {
		var victim string
		var soonest time.Time
		for k, e := range c.entries {
			if victim == "" || e.expiresAt.Before(soonest) {
				victim, soonest = k, e.expiresAt
			}
		}
		delete(c.entries, victim)
	}

	c.entries[name] = cacheEntry{value: value, expiresAt: c.now().Add(c.ttl)}
}

func (c *cache) clear() {
	c.mu.Lock()
	c.entries = make(map[string]cacheEntry)
	c.mu.Unlock()
}

func (c *cache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
