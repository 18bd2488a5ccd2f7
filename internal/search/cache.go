package search

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"deepresearch/internal/logging"
	"deepresearch/internal/types"

	"github.com/bluele/gcache"
)

// NewResultCache builds the LRU cache shared by every Cached provider.
func NewResultCache(size int, ttl time.Duration) gcache.Cache {
	if size <= 0 {
		size = 512
	}
	b := gcache.New(size).LRU()
	if ttl > 0 {
		b = b.Expiration(ttl)
	}
	return b.Build()
}

// CachedProvider serves repeated searches from an in-memory cache. Only
// successful searches are cached.
type CachedProvider struct {
	next  types.SearchProvider
	cache gcache.Cache
}

// NewCached decorates next with cache.
func NewCached(next types.SearchProvider, cache gcache.Cache) *CachedProvider {
	return &CachedProvider{next: next, cache: cache}
}

func (c *CachedProvider) Name() string { return c.next.Name() }

func (c *CachedProvider) Search(ctx context.Context, query string, maxResults int, scope string) ([]types.SearchResult, error) {
	key := cacheKey(c.next.Name(), query, maxResults, scope)
	if v, err := c.cache.Get(key); err == nil {
		if cached, ok := v.([]types.SearchResult); ok {
			logging.SearchDebug("[%s] cache hit for %q", c.next.Name(), query)
			return copyResults(cached), nil
		}
	}

	results, err := c.next.Search(ctx, query, maxResults, scope)
	if err != nil {
		return nil, err
	}
	_ = c.cache.Set(key, copyResults(results))
	return results, nil
}

func cacheKey(provider, query string, maxResults int, scope string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s\x00%s\x00%d\x00%s", provider, query, maxResults, scope)))
	return hex.EncodeToString(sum[:])
}

func copyResults(in []types.SearchResult) []types.SearchResult {
	out := make([]types.SearchResult, len(in))
	for i, r := range in {
		r.Images = append([]types.ImageResult(nil), r.Images...)
		out[i] = r
	}
	return out
}
