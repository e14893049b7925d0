package retrieval

import (
	"fmt"

	"github.com/jeeves-cluster-organization/groundedrag/coreengine/config"
)

// NewVectorStore builds the configured backend, wrapped in a query cache
// when one is configured. embedder is only used by chromem.
func NewVectorStore(cfg config.VectorStoreSettings, embedder Embedder) (VectorStore, error) {
	var store VectorStore
	switch cfg.Backend {
	case "chromem", "":
		s, err := NewChromemStore(cfg.Path, cfg.Collection, EmbeddingFunc(embedder))
		if err != nil {
			return nil, err
		}
		store = s
	case "weaviate":
		s, err := NewWeaviateStore(cfg.WeaviateHost, cfg.WeaviateScheme, cfg.Collection)
		if err != nil {
			return nil, err
		}
		store = s
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, cfg.Backend)
	}

	if cfg.QueryCacheSize > 0 {
		return NewCachedStore(store, cfg.QueryCacheSize)
	}
	return store, nil
}
