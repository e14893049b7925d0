package retrieval

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/jeeves-cluster-organization/groundedrag/coreengine/envelope"
)

// ChromemFile is the persisted database file inside the index directory.
const ChromemFile = "chromem.gob"

// ChromemStore is a local vector index backed by chromem-go.
type ChromemStore struct {
	mu         sync.RWMutex
	db         *chromem.DB
	collection *chromem.Collection
	name       string
	embed      chromem.EmbeddingFunc
}

// NewChromemStore opens (or creates) the index under dir. An empty dir
// keeps the index in memory.
func NewChromemStore(dir, collection string, embed chromem.EmbeddingFunc) (*ChromemStore, error) {
	var db *chromem.DB
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create index dir: %w", err)
		}
		var err error
		db, err = chromem.NewPersistentDB(filepath.Join(dir, ChromemFile), false)
		if err != nil {
			return nil, fmt.Errorf("open persistent index: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}

	c, err := db.GetOrCreateCollection(collection, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("open collection %s: %w", collection, err)
	}
	return &ChromemStore{db: db, collection: c, name: collection, embed: embed}, nil
}

// IndexPresent reports whether a persisted index exists under dir.
func IndexPresent(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, ChromemFile))
	if err == nil && info.Size() > 0 {
		return true
	}
	entries, err := os.ReadDir(dir)
	return err == nil && len(entries) > 0
}

// Backend implements VectorStore.
func (s *ChromemStore) Backend() string { return "chromem" }

// Search implements VectorStore.
func (s *ChromemStore) Search(ctx context.Context, query string, k int) ([]envelope.Passage, error) {
	if err := validateK(k); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	// chromem rejects k larger than the collection.
	if n := s.collection.Count(); n == 0 {
		return []envelope.Passage{}, nil
	} else if k > n {
		k = n
	}

	results, err := s.collection.Query(ctx, query, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query collection: %w", err)
	}

	passages := make([]envelope.Passage, 0, len(results))
	for _, r := range results {
		score := float64(r.Similarity)
		passages = append(passages, passageFromMetadata(r.Content, r.Metadata, &score))
	}
	return passages, nil
}

// Add implements Index.
func (s *ChromemStore) Add(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	docs := make([]chromem.Document, 0, len(chunks))
	for _, c := range chunks {
		docs = append(docs, chromem.Document{ID: c.ID, Content: c.Content, Metadata: c.Metadata})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.collection.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("add documents: %w", err)
	}
	return nil
}

// Count implements Index.
func (s *ChromemStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collection.Count()
}

// Reset drops and recreates the collection.
func (s *ChromemStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.DeleteCollection(s.name); err != nil {
		return fmt.Errorf("delete collection: %w", err)
	}
	c, err := s.db.GetOrCreateCollection(s.name, nil, s.embed)
	if err != nil {
		return fmt.Errorf("recreate collection: %w", err)
	}
	s.collection = c
	return nil
}
