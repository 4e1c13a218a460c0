package headcache

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/adammck/depot/pkg/api"
)

// Cache is a thread-safe LRU cache of head results, keyed by storage ID. A nil
// *Cache is valid and caches nothing, so adapters needn't check.
type Cache struct {
	lru *lru.Cache[string, api.StorageMetadata]
}

// New creates a new cache with the specified capacity. Returns nil (a disabled
// cache) if capacity is not positive.
func New(capacity int) *Cache {
	if capacity <= 0 {
		return nil
	}

	c, err := lru.New[string, api.StorageMetadata](capacity)
	if err != nil {
		// only possible with a non-positive size
		panic(err)
	}

	return &Cache{lru: c}
}

// Get returns a copy of the cached metadata, so callers may set its
// ArtifactURI without affecting the cache.
func (c *Cache) Get(storageID string) (*api.StorageMetadata, bool) {
	if c == nil {
		return nil, false
	}

	m, ok := c.lru.Get(storageID)
	if !ok {
		return nil, false
	}

	return &m, true
}

func (c *Cache) Put(m *api.StorageMetadata) {
	if c == nil || m == nil {
		return
	}

	c.lru.Add(m.Location.StorageID, *m)
}

func (c *Cache) Remove(storageID string) {
	if c == nil {
		return
	}

	c.lru.Remove(storageID)
}

// Len returns the current number of items in the cache
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}
