package happyeyeballs

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/PayRpc/happyeyeballs/internal/metrics"
)

// now is the package time source; tests override it for deterministic expiry.
var now = time.Now

// AddressCache maps a destination host+port to the address that last won a
// race, so the next call to the same destination tries it first. It is not
// thread-safe by design — see NewSynchronizedCache. Implementations
// honoring this three-operation contract may be substituted wholesale,
// including a nil AddressCache, which disables caching entirely.
type AddressCache interface {
	// Get returns the cached endpoint for host:port if present and
	// unexpired. The boolean reports whether an entry was found.
	Get(host string, port int) (Endpoint, bool)
	// Put records endpoint as the winning candidate for host:port, valid
	// for the cache's configured TTL.
	Put(host string, port int, endpoint Endpoint)
	// Clear drops every entry.
	Clear()
}

// DefaultValidityDuration is the RFC 6555 §4.2-recommended cache TTL.
const DefaultValidityDuration = 60 * time.Second

// DefaultCacheCapacity bounds the number of distinct destinations the
// default cache remembers, so a process dialing many hosts over its
// lifetime doesn't grow the cache without bound.
const DefaultCacheCapacity = 4096

type cacheKey struct {
	host string
	port int
}

type cacheValue struct {
	endpoint  Endpoint
	expiresAt time.Time
}

// LRUCache is the default AddressCache: a capacity-bounded LRU store
// (github.com/hashicorp/golang-lru) with an additional TTL check on Get, so
// an entry is dropped either for being the least recently used past
// capacity or for being older than ValidityDuration, whichever comes first.
//
// LRUCache performs no internal locking; wrap it with NewSynchronizedCache
// if concurrent callers need synchronized access.
type LRUCache struct {
	ValidityDuration time.Duration
	Metrics          *metrics.Collectors

	store *lru.Cache
}

// NewLRUCache builds a cache with the given TTL and capacity. capacity <= 0
// means DefaultCacheCapacity.
func NewLRUCache(validity time.Duration, capacity int) *LRUCache {
	if validity <= 0 {
		validity = DefaultValidityDuration
	}
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	store, err := lru.New(capacity)
	if err != nil {
		// Only returned by golang-lru when capacity <= 0, which we've
		// already normalized away.
		panic(err)
	}
	return &LRUCache{ValidityDuration: validity, store: store}
}

func (c *LRUCache) lazyStore() *lru.Cache {
	if c.store == nil {
		c.store, _ = lru.New(DefaultCacheCapacity)
	}
	return c.store
}

// Get implements AddressCache.
func (c *LRUCache) Get(host string, port int) (Endpoint, bool) {
	store := c.lazyStore()
	key := cacheKey{host, port}
	v, ok := store.Get(key)
	if !ok {
		c.miss()
		return Endpoint{}, false
	}
	val := v.(cacheValue)
	if now().After(val.expiresAt) {
		store.Remove(key)
		c.evicted()
		c.miss()
		return Endpoint{}, false
	}
	c.hit()
	return val.endpoint, true
}

// Put implements AddressCache.
func (c *LRUCache) Put(host string, port int, endpoint Endpoint) {
	store := c.lazyStore()
	validity := c.ValidityDuration
	if validity <= 0 {
		validity = DefaultValidityDuration
	}
	key := cacheKey{host, port}
	evicted := store.Add(key, cacheValue{endpoint: endpoint, expiresAt: now().Add(validity)})
	if evicted {
		c.evicted()
	}
}

// Clear implements AddressCache.
func (c *LRUCache) Clear() {
	c.lazyStore().Purge()
}

func (c *LRUCache) hit() {
	if c.Metrics != nil {
		c.Metrics.CacheHitsTotal.Inc()
	}
}

func (c *LRUCache) miss() {
	if c.Metrics != nil {
		c.Metrics.CacheMissesTotal.Inc()
	}
}

func (c *LRUCache) evicted() {
	if c.Metrics != nil {
		c.Metrics.CacheEvictedTotal.Inc()
	}
}

// lockedCache wraps an AddressCache with a mutex, for callers who want
// thread-safe caching without writing their own. AddressCache does not
// synchronize by default; construct one of these via NewSynchronizedCache
// to opt in.
type lockedCache struct {
	mu    sync.Mutex
	inner AddressCache
}

// NewSynchronizedCache wraps inner so every operation is mutex-guarded.
// Use this when CreateConnection may be called concurrently from multiple
// goroutines against a shared Cache.
func NewSynchronizedCache(inner AddressCache) AddressCache {
	return &lockedCache{inner: inner}
}

func (c *lockedCache) Get(host string, port int) (Endpoint, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inner.Get(host, port)
}

func (c *lockedCache) Put(host string, port int, endpoint Endpoint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inner.Put(host, port, endpoint)
}

func (c *lockedCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inner.Clear()
}
