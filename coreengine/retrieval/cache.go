package retrieval

import (
	"context"
	"fmt"
	"slices"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/jeeves-cluster-organization/groundedrag/coreengine/envelope"
)

// CachedStore memoizes search results keyed by normalized query and k.
// Retries ask for a larger k, so they always reach the backend.
type CachedStore struct {
	next  VectorStore
	cache *lru.Cache[string, []envelope.Passage]
}

// NewCachedStore wraps next with an LRU of the given size.
func NewCachedStore(next VectorStore, size int) (*CachedStore, error) {
	cache, err := lru.New[string, []envelope.Passage](size)
	if err != nil {
		return nil, fmt.Errorf("create query cache: %w", err)
	}
	return &CachedStore{next: next, cache: cache}, nil
}

// Backend implements VectorStore.
func (c *CachedStore) Backend() string { return c.next.Backend() }

// Search implements VectorStore. Empty results are not cached.
func (c *CachedStore) Search(ctx context.Context, query string, k int) ([]envelope.Passage, error) {
	key := fmt.Sprintf("%d|%s", k, strings.ToLower(strings.Join(strings.Fields(query), " ")))
	if hit, ok := c.cache.Get(key); ok {
		return slices.Clone(hit), nil
	}
	passages, err := c.next.Search(ctx, query, k)
	if err != nil {
		return nil, err
	}
	if len(passages) > 0 {
		c.cache.Add(key, slices.Clone(passages))
	}
	return passages, nil
}

// Purge drops every cached result.
func (c *CachedStore) Purge() {
	c.cache.Purge()
}
