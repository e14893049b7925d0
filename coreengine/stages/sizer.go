package stages

import (
	"context"

	"github.com/jeeves-cluster-organization/groundedrag/coreengine/agents"
	"github.com/jeeves-cluster-organization/groundedrag/coreengine/envelope"
	"github.com/jeeves-cluster-organization/groundedrag/coreengine/llm"
	"github.com/jeeves-cluster-organization/groundedrag/coreengine/prompts"
	"github.com/jeeves-cluster-organization/groundedrag/coreengine/typeutil"
)

// KSource values recorded on the state.
const (
	KSourceModel         = "model"
	KSourceIntentDefault = "intent_default"
)

type sizeOutput struct {
	KValue any `json:"k_value"`
}

// AdaptiveSize picks the initial retrieval size for the turn.
type AdaptiveSize struct {
	modelStage
}

// NewAdaptiveSize creates the stage.
func NewAdaptiveSize(provider llm.Provider, registry *prompts.Registry, logger agents.Logger) *AdaptiveSize {
	return &AdaptiveSize{modelStage{provider: provider, prompts: registry, logger: logger}}
}

// Process implements agents.Processor.
func (s *AdaptiveSize) Process(ctx context.Context, state *envelope.ConversationState) (*envelope.ConversationState, error) {
	out := state.Clone()
	defaultK := envelope.DefaultKForIntent(out.Intent)
	out.K = defaultK
	out.KSource = KSourceIntentDefault
	if out.Question == "" {
		return out, nil
	}

	prompt, err := s.prompts.Get(prompts.KeyKSelector, map[string]any{
		"question":  out.Question,
		"intent":    string(out.Intent),
		"default_k": defaultK,
		"k_min":     envelope.KMin,
		"k_max":     envelope.KMax,
	})
	if err != nil {
		return nil, err
	}

	result, err := llm.GenerateJSON[sizeOutput](ctx, s.provider, prompt)
	if err != nil {
		s.logger.Warn("k_selection_failed", "default_k", defaultK, "error", err.Error())
		return out, nil
	}
	k, ok := typeutil.SafeInt(result.KValue)
	if !ok {
		s.logger.Warn("k_selection_invalid", "default_k", defaultK, "value", result.KValue)
		return out, nil
	}

	out.K = envelope.ClampK(k)
	out.KSource = KSourceModel
	return out, nil
}
