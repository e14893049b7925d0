package retrieval

import (
	"context"
	"fmt"
	"strings"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"

	"github.com/jeeves-cluster-organization/groundedrag/coreengine/envelope"
	"github.com/jeeves-cluster-organization/groundedrag/coreengine/typeutil"
)

// WeaviateStore queries a remote Weaviate class with nearText.
// The class must have a text vectorizer configured.
type WeaviateStore struct {
	client    *weaviate.Client
	className string
}

// NewWeaviateStore creates a store for className on host.
func NewWeaviateStore(host, scheme, className string) (*WeaviateStore, error) {
	client, err := weaviate.NewClient(weaviate.Config{Host: host, Scheme: scheme})
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}
	return &WeaviateStore{client: client, className: ClassName(className)}, nil
}

// ClassName converts a collection name to a Weaviate class name, which must
// start with an upper-case letter.
func ClassName(collection string) string {
	if collection == "" {
		return collection
	}
	return strings.ToUpper(collection[:1]) + collection[1:]
}

// Backend implements VectorStore.
func (s *WeaviateStore) Backend() string { return "weaviate" }

// Search implements VectorStore.
func (s *WeaviateStore) Search(ctx context.Context, query string, k int) ([]envelope.Passage, error) {
	if err := validateK(k); err != nil {
		return nil, err
	}

	nearText := s.client.GraphQL().NearTextArgBuilder().WithConcepts([]string{query})
	fields := []graphql.Field{
		{Name: "content"},
		{Name: MetaSource},
		{Name: "docId"},
		{Name: "chunkId"},
		{Name: MetaPage},
		{Name: MetaTitle},
		{Name: "_additional { certainty distance }"},
	}

	result, err := s.client.GraphQL().Get().
		WithClassName(s.className).
		WithFields(fields...).
		WithNearText(nearText).
		WithLimit(k).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate nearText: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("weaviate query error: %s", result.Errors[0].Message)
	}

	get, ok := typeutil.SafeMapStringAny(result.Data["Get"])
	if !ok {
		return []envelope.Passage{}, nil
	}
	objects, ok := get[s.className].([]any)
	if !ok {
		return []envelope.Passage{}, nil
	}

	passages := make([]envelope.Passage, 0, len(objects))
	for _, obj := range objects {
		props, ok := typeutil.SafeMapStringAny(obj)
		if !ok {
			continue
		}
		meta := map[string]string{
			MetaSource:  typeutil.SafeStringDefault(props[MetaSource], ""),
			MetaDocID:   typeutil.SafeStringDefault(props["docId"], ""),
			MetaChunkID: typeutil.SafeStringDefault(props["chunkId"], ""),
			MetaPage:    typeutil.SafeStringDefault(props[MetaPage], ""),
			MetaTitle:   typeutil.SafeStringDefault(props[MetaTitle], ""),
		}
		var score *float64
		if additional, ok := typeutil.SafeMapStringAny(props["_additional"]); ok {
			if certainty, ok := typeutil.SafeFloat64(additional["certainty"]); ok {
				score = &certainty
			}
		}
		passages = append(passages, passageFromMetadata(typeutil.SafeStringDefault(props["content"], ""), meta, score))
	}
	return passages, nil
}
