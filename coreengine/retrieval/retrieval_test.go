package retrieval

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeeves-cluster-organization/groundedrag/coreengine/config"
	"github.com/jeeves-cluster-organization/groundedrag/coreengine/envelope"
	"github.com/jeeves-cluster-organization/groundedrag/coreengine/logging"
)

// =============================================================================
// HELPERS
// =============================================================================

var vocabulary = []string{"promedio", "creditos", "matricula", "beca", "calendario"}

// keywordEmbedder maps text onto one dimension per vocabulary word plus a bias.
func keywordEmbedder() EmbedderFunc {
	return func(_ context.Context, text string) ([]float32, error) {
		lower := strings.ToLower(text)
		v := make([]float32, len(vocabulary)+1)
		for i, w := range vocabulary {
			v[i] = float32(strings.Count(lower, w))
		}
		v[len(vocabulary)] = 0.1
		return v, nil
	}
}

func newTestStore(t *testing.T) *ChromemStore {
	t.Helper()
	store, err := NewChromemStore("", "normativa", EmbeddingFunc(keywordEmbedder()))
	require.NoError(t, err)

	err = store.Add(context.Background(), []Chunk{
		{ID: "a-1", Content: "El promedio ponderado se calcula con los creditos.", Metadata: map[string]string{MetaSource: "acuerdo.pdf", MetaDocID: "a", MetaChunkID: "a-1", MetaPagina: "3"}},
		{ID: "b-1", Content: "La matricula se paga antes del calendario.", Metadata: map[string]string{MetaSource: "calendario.html", MetaDocID: "b", MetaChunkID: "b-1"}},
		{ID: "c-1", Content: "La beca cubre la matricula.", Metadata: map[string]string{MetaSource: "becas.txt"}},
	})
	require.NoError(t, err)
	return store
}

type failingStore struct{}

func (failingStore) Search(context.Context, string, int) ([]envelope.Passage, error) {
	return nil, errors.New("index unavailable")
}

func (failingStore) Backend() string { return "failing" }

type countingStore struct {
	calls    atomic.Int32
	passages []envelope.Passage
}

func (s *countingStore) Search(_ context.Context, _ string, k int) ([]envelope.Passage, error) {
	s.calls.Add(1)
	if k < len(s.passages) {
		return s.passages[:k], nil
	}
	return s.passages, nil
}

func (s *countingStore) Backend() string { return "counting" }

// =============================================================================
// CHROMEM STORE TESTS
// =============================================================================

func TestChromemStore_SearchOrdersByRelevance(t *testing.T) {
	store := newTestStore(t)

	passages, err := store.Search(context.Background(), "como se calcula el promedio", 2)
	require.NoError(t, err)
	require.Len(t, passages, 2)

	top := passages[0]
	assert.Equal(t, "acuerdo.pdf", top.Metadata.Source)
	assert.Equal(t, "a-1", top.Metadata.ChunkID)
	assert.Equal(t, "3", top.Metadata.Page)
	require.NotNil(t, top.Score)
	assert.GreaterOrEqual(t, *top.Score, *passages[1].Score)
}

func TestChromemStore_KLargerThanCollection(t *testing.T) {
	store := newTestStore(t)

	passages, err := store.Search(context.Background(), "matricula", 8)
	require.NoError(t, err)
	assert.Len(t, passages, 3)
}

func TestChromemStore_EmptyCollection(t *testing.T) {
	store, err := NewChromemStore("", "vacia", EmbeddingFunc(keywordEmbedder()))
	require.NoError(t, err)

	passages, err := store.Search(context.Background(), "promedio", 4)
	require.NoError(t, err)
	assert.Empty(t, passages)
}

func TestChromemStore_InvalidK(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Search(context.Background(), "promedio", 0)
	assert.Error(t, err)
}

func TestChromemStore_Reset(t *testing.T) {
	store := newTestStore(t)
	require.Equal(t, 3, store.Count())

	require.NoError(t, store.Reset(context.Background()))
	assert.Equal(t, 0, store.Count())
}

func TestChromemStore_Persistent(t *testing.T) {
	dir := t.TempDir()
	store, err := NewChromemStore(dir, "normativa", EmbeddingFunc(keywordEmbedder()))
	require.NoError(t, err)
	require.NoError(t, store.Add(context.Background(), []Chunk{
		{ID: "x", Content: "promedio", Metadata: map[string]string{MetaSource: "x.txt"}},
	}))

	assert.True(t, IndexPresent(dir))
	assert.False(t, IndexPresent(filepath.Join(dir, "missing")))
}

// =============================================================================
// WEAVIATE STORE TESTS
// =============================================================================

func TestWeaviateStore_Search(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "/v1/graphql", r.URL.Path)
		assert.Contains(t, string(body), "Normativa")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"Get":{"Normativa":[
			{"content":"El promedio ponderado...","source":"acuerdo.pdf","docId":"a","chunkId":"a-1","_additional":{"certainty":0.91,"distance":0.18}},
			{"content":"Otro fragmento","source":"b.txt","_additional":{"certainty":0.5}}
		]}}}`))
	}))
	defer srv.Close()

	store, err := NewWeaviateStore(strings.TrimPrefix(srv.URL, "http://"), "http", "normativa")
	require.NoError(t, err)

	passages, err := store.Search(context.Background(), "promedio", 4)
	require.NoError(t, err)
	require.Len(t, passages, 2)
	assert.Equal(t, "acuerdo.pdf", passages[0].Metadata.Source)
	assert.Equal(t, "a-1", passages[0].Metadata.ChunkID)
	require.NotNil(t, passages[0].Score)
	assert.InDelta(t, 0.91, *passages[0].Score, 1e-9)
	assert.Equal(t, "unknown_chunk", passages[1].ChunkIDOrDefault())
}

func TestWeaviateStore_GraphQLError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"errors":[{"message":"class not found"}]}`))
	}))
	defer srv.Close()

	store, err := NewWeaviateStore(strings.TrimPrefix(srv.URL, "http://"), "http", "normativa")
	require.NoError(t, err)

	_, err = store.Search(context.Background(), "promedio", 4)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "class not found")
}

func TestClassName(t *testing.T) {
	assert.Equal(t, "Normativa", ClassName("normativa"))
	assert.Equal(t, "", ClassName(""))
}

// =============================================================================
// CACHE TESTS
// =============================================================================

func TestCachedEmbedder(t *testing.T) {
	var calls atomic.Int32
	base := EmbedderFunc(func(ctx context.Context, text string) ([]float32, error) {
		calls.Add(1)
		return keywordEmbedder()(ctx, text)
	})
	cached, err := NewCachedEmbedder(base, 10)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := cached.Embed(context.Background(), "promedio")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 1, cached.Len())
}

func TestCachedStore_KeyedByK(t *testing.T) {
	base := &countingStore{passages: []envelope.Passage{
		{Content: "uno"}, {Content: "dos"}, {Content: "tres"},
	}}
	cached, err := NewCachedStore(base, 8)
	require.NoError(t, err)

	ctx := context.Background()
	_, _ = cached.Search(ctx, "Promedio  ponderado", 2)
	_, _ = cached.Search(ctx, "promedio ponderado", 2)
	assert.Equal(t, int32(1), base.calls.Load())

	got, err := cached.Search(ctx, "promedio ponderado", 3)
	require.NoError(t, err)
	assert.Len(t, got, 3)
	assert.Equal(t, int32(2), base.calls.Load())
	assert.Equal(t, "counting", cached.Backend())
}

func TestNewEmbedder_UnknownProvider(t *testing.T) {
	_, err := NewEmbedder(context.Background(), "cohere", "key", "m", 0)
	assert.ErrorIs(t, err, ErrUnknownEmbeddingProvider)
}

func TestNewVectorStore(t *testing.T) {
	store, err := NewVectorStore(config.VectorStoreSettings{
		Backend:        "chromem",
		Collection:     "normativa",
		QueryCacheSize: 4,
	}, keywordEmbedder())
	require.NoError(t, err)
	_, ok := store.(*CachedStore)
	assert.True(t, ok)

	_, err = NewVectorStore(config.VectorStoreSettings{Backend: "pinecone", Collection: "x"}, keywordEmbedder())
	assert.ErrorIs(t, err, ErrUnknownBackend)
}

// =============================================================================
// RETRIEVER TESTS
// =============================================================================

func TestRetriever_SwallowsStoreErrors(t *testing.T) {
	r := NewRetriever(failingStore{}, logging.Nop())
	passages := r.Retrieve(context.Background(), "promedio", 4)
	assert.NotNil(t, passages)
	assert.Empty(t, passages)
}

func TestRetriever_CapsAtK(t *testing.T) {
	r := NewRetriever(newTestStore(t), logging.Nop())
	passages := r.Retrieve(context.Background(), "matricula", 2)
	assert.Len(t, passages, 2)
}

func TestBuildTrace(t *testing.T) {
	score := 0.8
	long := strings.Repeat("palabra ", 60)
	trace := BuildTrace([]envelope.Passage{
		{Content: "  texto\n\ncorto  ", Metadata: envelope.PassageMetadata{Source: "a.pdf", DocID: "a", ChunkID: "a-1", Page: "2"}, Score: &score},
		{Content: long},
	})

	require.Len(t, trace, 2)
	assert.Equal(t, 1, trace[0].Rank)
	assert.Equal(t, "texto corto", trace[0].Snippet)
	assert.Equal(t, "2", trace[0].Page)
	assert.Equal(t, &score, trace[0].Score)

	assert.Equal(t, 2, trace[1].Rank)
	assert.Equal(t, "unknown_source", trace[1].Source)
	assert.Equal(t, "unknown_source", trace[1].DocID)
	assert.Equal(t, "unknown_chunk", trace[1].ChunkID)
	assert.Nil(t, trace[1].Score)
	assert.True(t, strings.HasSuffix(trace[1].Snippet, "..."))
	assert.LessOrEqual(t, len([]rune(trace[1].Snippet)), SnippetLimit+3)
}

func TestSnippet(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		limit int
		want  string
	}{
		{"short", "hola mundo", 20, "hola mundo"},
		{"collapses whitespace", "hola \n\t mundo", 20, "hola mundo"},
		{"truncates", "abcdefghij", 4, "abcd..."},
		{"multibyte", "áéíóú", 3, "áéí..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Snippet(tt.text, tt.limit))
		})
	}
}

// =============================================================================
// CHUNKER AND INGEST TESTS
// =============================================================================

func TestChunker_Split(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		overlap int
		text    string
		want    []string
	}{
		{"fits", 50, 0, "texto corto", []string{"texto corto"}},
		{"words", 9, 0, "aaaa bbbb cccc", []string{"aaaa bbbb", "cccc"}},
		{"paragraphs", 20, 0, "primer parrafo\n\nsegundo parrafo", []string{"primer parrafo", "segundo parrafo"}},
		{"overlap", 9, 4, "aaaa bbbb cccc", []string{"aaaa bbbb", "bbbb cccc"}},
		{"long word", 3, 0, "abcdefg", []string{"abc", "def", "g"}},
		{"empty", 10, 0, "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewChunker(tt.size, tt.overlap).Split(tt.text)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewChunker_Clamps(t *testing.T) {
	c := NewChunker(0, -5)
	assert.Equal(t, DefaultChunkSize, c.ChunkSize)
	assert.Equal(t, 0, c.ChunkOverlap)

	c = NewChunker(10, 50)
	assert.Equal(t, 9, c.ChunkOverlap)
}

func writeCorpus(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"acuerdo.txt":    "El promedio ponderado se calcula con los creditos aprobados.",
		"guia.md":        "# Guia\n\nLa matricula se paga cada semestre.",
		"calendario.html": `<html><head><title>Calendario</title><style>p{}</style></head>
<body><nav>menu</nav><p>Fechas de   matricula</p><script>var x=1;</script></body></html>`,
		"escaneado.pdf": "%PDF-1.4",
		"notas.csv":     "a,b",
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return dir
}

func TestLoadDocuments(t *testing.T) {
	dir := writeCorpus(t)

	docs, skipped, err := LoadDocuments(dir, config.SupportedExtensions)
	require.NoError(t, err)
	assert.Len(t, docs, 3)
	require.Len(t, skipped, 1)
	assert.True(t, strings.HasSuffix(skipped[0], "escaneado.pdf"))

	var html Document
	for _, d := range docs {
		if strings.HasSuffix(d.Source, ".html") {
			html = d
		}
	}
	assert.Equal(t, "Calendario", html.Title)
	assert.Equal(t, "Fechas de matricula", html.Content)
	assert.NotContains(t, html.Content, "menu")
}

func TestIngestor_Run(t *testing.T) {
	dir := writeCorpus(t)
	index, err := NewChromemStore("", "normativa", EmbeddingFunc(keywordEmbedder()))
	require.NoError(t, err)

	ing := NewIngestor(index, NewChunker(512, 0), config.SupportedExtensions, "", logging.Nop())
	report, err := ing.Run(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Documents)
	assert.Equal(t, 3, report.Chunks)
	assert.Len(t, report.Skipped, 1)
	assert.Equal(t, 3, index.Count())

	passages, err := index.Search(context.Background(), "promedio", 1)
	require.NoError(t, err)
	require.Len(t, passages, 1)
	assert.Equal(t, "acuerdo.txt", passages[0].Metadata.Source)
	assert.Len(t, passages[0].Metadata.DocID, 40)
	assert.True(t, strings.HasPrefix(passages[0].Metadata.ChunkID, passages[0].Metadata.DocID+"-"))
}

func TestIngestor_Errors(t *testing.T) {
	index, err := NewChromemStore("", "normativa", EmbeddingFunc(keywordEmbedder()))
	require.NoError(t, err)
	ing := NewIngestor(index, NewChunker(512, 0), config.SupportedExtensions, "v2", logging.Nop())

	_, err = ing.Run(context.Background(), filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)

	_, err = ing.Run(context.Background(), t.TempDir())
	assert.ErrorIs(t, err, ErrNoDocuments)
}

func TestIngestor_ChunkMetadata(t *testing.T) {
	ing := NewIngestor(nil, NewChunker(20, 0), nil, "v2", logging.Nop())
	chunks := ing.Chunk([]Document{
		{Source: "/docs/a.txt", Title: "A", Content: "primer parrafo\n\nsegundo parrafo"},
		{Source: "/docs/b.txt", Content: "tercero"},
	})

	require.Len(t, chunks, 3)
	assert.True(t, strings.HasSuffix(chunks[0].ID, "-1"))
	assert.True(t, strings.HasSuffix(chunks[2].ID, "-3"))
	assert.Equal(t, "a.txt", chunks[0].Metadata[MetaSource])
	assert.Equal(t, "A", chunks[0].Metadata[MetaTitle])
	assert.Equal(t, "v2", chunks[0].Metadata["version"])
	assert.Equal(t, chunks[0].Metadata[MetaDocID], chunks[1].Metadata[MetaDocID])
	assert.NotEqual(t, chunks[0].Metadata[MetaDocID], chunks[2].Metadata[MetaDocID])
}
