package stages

import (
	"context"
	"strings"

	"github.com/jeeves-cluster-organization/groundedrag/coreengine/agents"
	"github.com/jeeves-cluster-organization/groundedrag/coreengine/envelope"
	"github.com/jeeves-cluster-organization/groundedrag/coreengine/llm"
	"github.com/jeeves-cluster-organization/groundedrag/coreengine/prompts"
)

// DirectAnswer replies without retrieval: greetings, general questions and
// memory confirmations.
type DirectAnswer struct {
	modelStage
}

// NewDirectAnswer creates the stage.
func NewDirectAnswer(provider llm.Provider, registry *prompts.Registry, logger agents.Logger) *DirectAnswer {
	return &DirectAnswer{modelStage{provider: provider, prompts: registry, logger: logger}}
}

// Process implements agents.Processor.
func (s *DirectAnswer) Process(ctx context.Context, state *envelope.ConversationState) (*envelope.ConversationState, error) {
	out := state.Clone()
	out.CitedSources = []string{}

	switch {
	case out.Question == "":
		out.Answer = envelope.MsgNoQuestion
		return out, nil
	case out.MemoryUpdated:
		out.Answer = envelope.MsgMemoryUpdated
		return out, nil
	}

	prompt, err := s.prompts.Get(prompts.KeyDirect, map[string]any{
		"question": out.Question,
		"glossary": glossaryBlock(out.Profile),
		"profile":  profileBlock(out.Profile),
	})
	if err != nil {
		return nil, err
	}
	out.FinalPrompt = prompt

	text, err := s.provider.Generate(ctx, llm.Request{Prompt: prompt})
	if err != nil {
		s.logger.Warn("direct_answer_provider_failure", "error", err.Error())
		recordProviderFailure(out, envelope.NodeDirectAnswer, err)
		return out, nil
	}
	out.Answer = strings.TrimSpace(text)
	if out.Answer == "" {
		out.Answer = envelope.MsgModelUnavailable
	}
	return out, nil
}
