package retrieval

import (
	"context"
	"strings"

	"github.com/jeeves-cluster-organization/groundedrag/coreengine/agents"
	"github.com/jeeves-cluster-organization/groundedrag/coreengine/envelope"
	"github.com/jeeves-cluster-organization/groundedrag/coreengine/observability"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SnippetLimit caps trace snippets, in runes.
const SnippetLimit = 260

// Retriever is the search collaborator used by the retrieve stage.
// A failing store is logged and reported as an empty result.
type Retriever struct {
	store  VectorStore
	logger agents.Logger
}

// NewRetriever creates a Retriever over store.
func NewRetriever(store VectorStore, logger agents.Logger) *Retriever {
	return &Retriever{store: store, logger: logger}
}

// Retrieve returns at most k passages for query, ordered by relevance.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) []envelope.Passage {
	ctx, span := observability.Tracer().Start(ctx, "retrieval.search",
		trace.WithAttributes(
			attribute.String("groundedrag.backend", r.store.Backend()),
			attribute.Int("groundedrag.k", k),
		),
	)
	defer span.End()

	passages, err := r.store.Search(ctx, query, k)
	if err != nil {
		observability.RecordRetrieval(r.store.Backend(), "error", k)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.Warn("retrieval_failed", "backend", r.store.Backend(), "k", k, "error", err.Error())
		return []envelope.Passage{}
	}
	if len(passages) > k {
		passages = passages[:k]
	}

	status := "success"
	if len(passages) == 0 {
		status = "empty"
	}
	observability.RecordRetrieval(r.store.Backend(), status, k)
	span.SetAttributes(attribute.Int("groundedrag.passages", len(passages)))
	return passages
}

// BuildTrace projects passages into ranked audit records.
func BuildTrace(passages []envelope.Passage) []envelope.TraceRecord {
	out := make([]envelope.TraceRecord, 0, len(passages))
	for i, p := range passages {
		out = append(out, envelope.TraceRecord{
			Rank:    i + 1,
			Score:   p.Score,
			Source:  p.SourceName(),
			DocID:   p.DocIDOrSource(),
			ChunkID: p.ChunkIDOrDefault(),
			Page:    p.Metadata.Page,
			Snippet: Snippet(p.Content, SnippetLimit),
		})
	}
	return out
}

// Snippet collapses whitespace and truncates to limit runes, appending "..."
// when text was cut.
func Snippet(text string, limit int) string {
	clean := strings.Join(strings.Fields(text), " ")
	runes := []rune(clean)
	if len(runes) <= limit {
		return clean
	}
	return strings.TrimSpace(string(runes[:limit])) + "..."
}
