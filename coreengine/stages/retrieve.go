package stages

import (
	"context"

	"github.com/jeeves-cluster-organization/groundedrag/coreengine/envelope"
	"github.com/jeeves-cluster-organization/groundedrag/coreengine/retrieval"
)

// Retrieve fetches the top K passages for the question.
// Store failures surface as an empty passage list.
type Retrieve struct {
	retriever *retrieval.Retriever
}

// NewRetrieve creates the stage.
func NewRetrieve(retriever *retrieval.Retriever) *Retrieve {
	return &Retrieve{retriever: retriever}
}

// Process implements agents.Processor.
func (s *Retrieve) Process(ctx context.Context, state *envelope.ConversationState) (*envelope.ConversationState, error) {
	out := state.Clone()
	out.K = envelope.ClampK(out.K)
	out.Passages = s.retriever.Retrieve(ctx, out.Question, out.K)
	out.RetrievalTrace = retrieval.BuildTrace(out.Passages)
	return out, nil
}
