// Package retrieval provides the vector similarity collaborators: store
// backends, embedders, the Retriever used by the workflow, and corpus ingestion.
package retrieval

import (
	"context"
	"errors"
	"fmt"

	"github.com/jeeves-cluster-organization/groundedrag/coreengine/envelope"
)

// ErrUnknownBackend is returned for an unsupported vector store backend.
var ErrUnknownBackend = errors.New("unknown vector store backend")

// Metadata keys stored with every chunk.
const (
	MetaSource  = "source"
	MetaDocID   = "doc_id"
	MetaChunkID = "chunk_id"
	MetaPage    = "page"
	MetaPagina  = "pagina"
	MetaTitle   = "title"
)

// VectorStore answers similarity queries. Results are ordered by relevance
// and may hold fewer than k passages.
type VectorStore interface {
	Search(ctx context.Context, query string, k int) ([]envelope.Passage, error)
	Backend() string
}

// Chunk is one unit written to an index.
type Chunk struct {
	ID       string
	Content  string
	Metadata map[string]string
}

// Index is a VectorStore that can be written to.
type Index interface {
	VectorStore
	Add(ctx context.Context, chunks []Chunk) error
	Count() int
	Reset(ctx context.Context) error
}

// passageFromMetadata maps stored metadata onto a Passage.
func passageFromMetadata(content string, meta map[string]string, score *float64) envelope.Passage {
	page := meta[MetaPage]
	if page == "" {
		page = meta[MetaPagina]
	}
	return envelope.Passage{
		Content: content,
		Metadata: envelope.PassageMetadata{
			Source:  meta[MetaSource],
			DocID:   meta[MetaDocID],
			ChunkID: meta[MetaChunkID],
			Page:    page,
			Title:   meta[MetaTitle],
		},
		Score: score,
	}
}

func validateK(k int) error {
	if k <= 0 {
		return fmt.Errorf("k must be positive, got %d", k)
	}
	return nil
}
