// Package httpcache fetches link-in-bio pages over HTTP with host allow-listing,
// bounded reads, retries, per-host pacing and an optional response cache.
package httpcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/codeGROOVE-dev/sfcache"
	"github.com/codeGROOVE-dev/sfcache/pkg/store/localfs"
)

// Cacher is the cache contract the Fetcher needs.
type Cacher interface {
	GetSet(ctx context.Context, key string, fetch func(context.Context) ([]byte, error), ttl ...time.Duration) ([]byte, error)
	TTL() time.Duration
}

// Cache wraps sfcache for response bodies. Only successful fetches are stored.
type Cache struct {
	*sfcache.TieredCache[string, []byte]

	ttl time.Duration
}

// DefaultCacheTTL applies when NewCache is given a non-positive TTL.
const DefaultCacheTTL = 24 * time.Hour

// NewCache creates a Cache persisted under dir. Entries always expire.
func NewCache(ttl time.Duration, dir string) (*Cache, error) {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	persist, err := localfs.New[string, []byte]("biolink", dir)
	if err != nil {
		return nil, fmt.Errorf("create persistence layer: %w", err)
	}

	tc, err := sfcache.NewTiered[string, []byte](persist, sfcache.TTL(ttl))
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}
	return &Cache{TieredCache: tc, ttl: ttl}, nil
}

// TTL returns the default TTL for cache entries.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// URLToKey converts a URL to a cache key.
func URLToKey(rawURL string) string {
	hash := sha256.Sum256([]byte(rawURL))
	return hex.EncodeToString(hash[:])
}
