// Package stages implements the nodes of the grounded answering workflow.
//
// Every stage is an agents.Processor: it clones the state it receives,
// fills in its own fields and returns the copy. Collaborator failures are
// resolved into state (provider failure flag, empty passages, fallback
// answers); an error return means the stage itself could not run.
package stages

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jeeves-cluster-organization/groundedrag/coreengine/agents"
	"github.com/jeeves-cluster-organization/groundedrag/coreengine/envelope"
	"github.com/jeeves-cluster-organization/groundedrag/coreengine/llm"
	"github.com/jeeves-cluster-organization/groundedrag/coreengine/observability"
	"github.com/jeeves-cluster-organization/groundedrag/coreengine/prompts"
)

// Context caps, in characters after whitespace normalization.
const (
	GeneratorContextLimit = 1800
	EvaluatorContextLimit = 1200
	QuoteLimit            = 220
)

// modelStage is embedded by stages that call a model.
type modelStage struct {
	provider llm.Provider
	prompts  *prompts.Registry
	logger   agents.Logger
}

// recordProviderFailure classifies err and flags the turn as failed.
func recordProviderFailure(state *envelope.ConversationState, stage envelope.NodeID, err error) {
	pe := llm.Classify(string(stage), err)
	state.RecordProviderFailure(pe.Kind, string(stage))
	observability.RecordProviderFailure(string(pe.Kind), string(stage))
}

// isMalformed reports whether err is a decode failure rather than a failed call.
func isMalformed(err error) bool {
	return errors.Is(err, llm.ErrMalformedJSON)
}

// glossaryBlock renders the user glossary for prompts.
func glossaryBlock(p envelope.Profile) string {
	terms := p.GlossaryTerms()
	if len(terms) == 0 {
		return ""
	}
	glossary := p.Glossary()
	lines := []string{"Glosario del usuario:"}
	for _, term := range terms {
		lines = append(lines, fmt.Sprintf("- %s: %s", term, glossary[term]))
	}
	return strings.Join(lines, "\n")
}

// profileBlock renders the scalar profile facts for prompts.
func profileBlock(p envelope.Profile) string {
	keys := make([]string, 0, len(p))
	for k := range p {
		if k == envelope.ProfileKeyGlossary {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("- %s: %v", k, p[k]))
	}
	return strings.Join(lines, "\n")
}

// LLMSummarizer implements tools.Summarizer with the summary prompt.
type LLMSummarizer struct {
	modelStage
}

// NewLLMSummarizer creates a summarizer.
func NewLLMSummarizer(provider llm.Provider, registry *prompts.Registry) *LLMSummarizer {
	return &LLMSummarizer{modelStage{provider: provider, prompts: registry}}
}

// Summarize implements tools.Summarizer.
func (s *LLMSummarizer) Summarize(ctx context.Context, question, passages string) (string, error) {
	prompt, err := s.prompts.Get(prompts.KeySummaryTool, map[string]any{
		"question": question,
		"context":  passages,
	})
	if err != nil {
		return "", err
	}
	text, err := s.provider.Generate(ctx, llm.Request{Prompt: prompt})
	if err != nil {
		return "", llm.Classify("summary", err)
	}
	return strings.TrimSpace(text), nil
}
