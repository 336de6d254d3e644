package tokencache

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/cuemby/cargohold/pkg/metrics"
)

// Principal is the resolved identity a cached token maps to.
type Principal struct {
	UserID     string
	Login      string
	IsAdmin    bool
	IsReadOnly bool
}

// Cache maps plaintext token to Principal.
type Cache interface {
	Get(token string) (Principal, bool)
	Insert(token string, p Principal)
	Invalidate(token string)
	InvalidateAll()
}

// lruCache is the live implementation, bounded by entry count with a
// fixed per-entry TTL.
type lruCache struct {
	cache *lru.LRU[string, Principal]
}

// New creates a Cache holding up to maxEntries tokens, each expiring
// ttl after insertion regardless of access.
func New(maxEntries int, ttl time.Duration) Cache {
	return &lruCache{cache: lru.NewLRU[string, Principal](maxEntries, nil, ttl)}
}

func (c *lruCache) Get(token string) (Principal, bool) {
	p, ok := c.cache.Get(token)
	if ok {
		metrics.TokenCacheHitsTotal.Inc()
	} else {
		metrics.TokenCacheMissesTotal.Inc()
	}
	return p, ok
}

func (c *lruCache) Insert(token string, p Principal) {
	c.cache.Add(token, p)
}

func (c *lruCache) Invalidate(token string) {
	c.cache.Remove(token)
}

func (c *lruCache) InvalidateAll() {
	c.cache.Purge()
}

// NullCache is the disabled-mode token cache: every Get misses, every
// Insert is a no-op. Used when the token cache is turned off in
// configuration.
type NullCache struct{}

func (NullCache) Get(token string) (Principal, bool) {
	metrics.TokenCacheMissesTotal.Inc()
	return Principal{}, false
}

func (NullCache) Insert(token string, p Principal) {}
func (NullCache) Invalidate(token string)           {}
func (NullCache) InvalidateAll()                    {}
