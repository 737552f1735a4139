// Package cache provides the API's in-memory response cache with ETag
// support. Entries expire on their own TTL and are flushed wholesale when
// ingest signals a refresh.
package cache

import (
	"crypto/md5"
	"fmt"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// TTLs per kind of response.
const (
	TTLReference = 1 * time.Hour    // types, locations, sources
	TTLAggregate = 10 * time.Minute // stats, trends, map, distributions
	TTLListing   = 5 * time.Minute  // incident pages, search
)

const cleanupInterval = 5 * time.Minute

type entry struct {
	data []byte
	etag string
}

// Cache is a thread-safe TTL cache of rendered JSON bodies.
type Cache struct {
	store   *gocache.Cache
	enabled bool
}

// New creates a cache. Pass enabled=false to create a no-op cache.
func New(enabled bool) *Cache {
	c := &Cache{enabled: enabled}
	if enabled {
		c.store = gocache.New(TTLListing, cleanupInterval)
	}
	return c
}

// Get retrieves a cached body. Returns data, etag, and whether the entry was found.
func (c *Cache) Get(key string) (data []byte, etag string, ok bool) {
	if !c.enabled {
		return nil, "", false
	}
	v, found := c.store.Get(key)
	if !found {
		return nil, "", false
	}
	e := v.(entry)
	return e.data, e.etag, true
}

// Set stores a body with a TTL and returns its ETag.
func (c *Cache) Set(key string, data []byte, ttl time.Duration) string {
	etag := ComputeETag(data)
	if c.enabled {
		c.store.Set(key, entry{data: data, etag: etag}, ttl)
	}
	return etag
}

// Flush drops every entry.
func (c *Cache) Flush() {
	if c.enabled {
		c.store.Flush()
	}
}

// Stats returns cache statistics.
func (c *Cache) Stats() map[string]any {
	if !c.enabled {
		return map[string]any{"enabled": false}
	}
	total := c.store.ItemCount() // includes expired entries not yet evicted
	active := len(c.store.Items())
	return map[string]any{
		"enabled":      true,
		"total_keys":   total,
		"active_keys":  active,
		"expired_keys": total - active,
	}
}

// ComputeETag generates a weak ETag from response data using MD5.
func ComputeETag(data []byte) string {
	hash := md5.Sum(data)
	return fmt.Sprintf(`W/"%x"`, hash[:8])
}

// CheckETagMatch reports whether an If-None-Match header matches etag. The
// header may list several tags.
func CheckETagMatch(ifNoneMatch, etag string) bool {
	if ifNoneMatch == "" {
		return false
	}
	for tag := range strings.SplitSeq(ifNoneMatch, ",") {
		tag = strings.TrimSpace(tag)
		if tag == "*" || tag == etag {
			return true
		}
	}
	return false
}
