package provider

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/smartenergy/smartenergy/pkg/metrics"
	"github.com/smartenergy/smartenergy/pkg/types"
	"golang.org/x/sync/singleflight"
)

// DefaultCacheTTL is how long a connected adapter is reused.
const DefaultCacheTTL = 10 * time.Minute

type cacheEntry struct {
	adapter Adapter
	expires time.Time
}

// Cache keeps connected adapters keyed by vendor and a hash of their
// arguments so repeated lookups skip the vendor login. Concurrent lookups of
// the same key share one connect call.
type Cache struct {
	ttl   time.Duration
	now   func() time.Time
	group singleflight.Group

	mu      sync.Mutex
	entries map[string]cacheEntry
}

// NewCache returns an empty Cache whose entries live for ttl.
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{
		ttl:     ttl,
		now:     time.Now,
		entries: map[string]cacheEntry{},
	}
}

func cacheKey(vendor types.Vendor, args ...map[string]any) (string, error) {
	h := sha256.New()
	for _, a := range args {
		// map keys are sorted by encoding/json
		b, err := json.Marshal(a)
		if err != nil {
			return "", fmt.Errorf("failed to hash adapter arguments: %w", err)
		}
		h.Write(b)
		h.Write([]byte{0})
	}
	return string(vendor) + ":" + hex.EncodeToString(h.Sum(nil)), nil
}

// Get returns the cached adapter for vendor and args or calls connect to make
// one. Failed connects are not cached.
func (c *Cache) Get(ctx context.Context, vendor types.Vendor, connect func(ctx context.Context) (Adapter, error), args ...map[string]any) (Adapter, error) {
	key, err := cacheKey(vendor, args...)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.purgeLocked(c.now())
	e, ok := c.entries[key]
	c.mu.Unlock()
	if ok {
		metrics.ProviderAdapterCacheTotal.WithLabelValues(string(vendor), "hit").Inc()
		return e.adapter, nil
	}
	metrics.ProviderAdapterCacheTotal.WithLabelValues(string(vendor), "miss").Inc()

	v, err, _ := c.group.Do(key, func() (any, error) {
		a, err := connect(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[key] = cacheEntry{adapter: a, expires: c.now().Add(c.ttl)}
		c.mu.Unlock()
		return a, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Adapter), nil
}

// purgeLocked drops every entry expired at now. c.mu must be held.
func (c *Cache) purgeLocked(now time.Time) {
	for key, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, key)
		}
	}
}

// Forget evicts the adapter for vendor and args.
func (c *Cache) Forget(vendor types.Vendor, args ...map[string]any) {
	key, err := cacheKey(vendor, args...)
	if err != nil {
		return
	}
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Len returns the number of cached adapters, including expired ones not yet
// purged.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
