// Package lookup wraps the external data sources (cards, prices, meta, sets,
// legality) behind a two-tier cache: an in-memory LRU for hot keys and the
// persistent clientdata store for everything else. Lookups degrade
// gracefully: on source failure the freshest cached copy wins, stale or not.
package lookup

import (
	"encoding/json"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

const memoryCacheSize = 4096

// memoryEntry carries its own deadline so one LRU can hold keys with
// different TTLs.
type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

// MemoryCache is the in-process hot cache. It satisfies domain.Cache.
type MemoryCache struct {
	lru *lru.LRU[string, memoryEntry]
}

// NewMemoryCache creates a new in-memory cache.
func NewMemoryCache() *MemoryCache {
	// The LRU-level TTL is an upper bound; per-entry deadlines do the real work
	return &MemoryCache{
		lru: lru.NewLRU[string, memoryEntry](memoryCacheSize, nil, 24*time.Hour),
	}
}

// Get unmarshals a fresh cached value into out. Returns false on miss,
// expiry, or decode failure.
func (c *MemoryCache) Get(key string, out interface{}) bool {
	entry, ok := c.lru.Get(key)
	if !ok {
		return false
	}
	if time.Now().After(entry.expiresAt) {
		c.lru.Remove(key)
		return false
	}
	return json.Unmarshal(entry.data, out) == nil
}

// Set stores a value with a TTL.
func (c *MemoryCache) Set(key string, value interface{}, ttl time.Duration) {
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	c.lru.Add(key, memoryEntry{data: data, expiresAt: time.Now().Add(ttl)})
}

// Delete removes a key.
func (c *MemoryCache) Delete(key string) {
	c.lru.Remove(key)
}
