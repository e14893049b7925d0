package stages

import (
	"context"
	"strings"

	"github.com/jeeves-cluster-organization/groundedrag/coreengine/agents"
	"github.com/jeeves-cluster-organization/groundedrag/coreengine/envelope"
	"github.com/jeeves-cluster-organization/groundedrag/coreengine/llm"
	"github.com/jeeves-cluster-organization/groundedrag/coreengine/profile"
	"github.com/jeeves-cluster-organization/groundedrag/coreengine/prompts"
	"github.com/jeeves-cluster-organization/groundedrag/coreengine/tools"
)

// intentCues are checked in order when the model answers "general".
var intentCues = []struct {
	intent envelope.Intent
	cues   []string
}{
	{envelope.IntentComparison, []string{"compar", "diferencia", "versus", " vs ", "contrast", "distingue"}},
	{envelope.IntentSummary, []string{"resum", "sintetiza", "sintesis", "en pocas palabras", "de que trata"}},
	{envelope.IntentLookup, []string{
		"requisito", "articulo", "acuerdo", "reglamento", "norma", "plazo",
		"cuantos", "cuanto", "cuando", "donde", "como ", "cual", "que dice", "puedo", "debo",
	}},
}

var greetingCues = []string{"hola", "gracias", "buenos dias", "buenas tardes", "buenas noches", "quien eres"}

type intentOutput struct {
	Intent string `json:"intent"`
}

// IntentClassify labels the question as lookup, summary, comparison or general.
type IntentClassify struct {
	modelStage
}

// NewIntentClassify creates the stage.
func NewIntentClassify(provider llm.Provider, registry *prompts.Registry, logger agents.Logger) *IntentClassify {
	return &IntentClassify{modelStage{provider: provider, prompts: registry, logger: logger}}
}

// Process implements agents.Processor.
func (s *IntentClassify) Process(ctx context.Context, state *envelope.ConversationState) (*envelope.ConversationState, error) {
	out := state.Clone()

	if out.Question == "" || out.MemoryUpdated || profile.HasMemoryIntent(out.Question) {
		out.Intent = envelope.IntentGeneral
		return out, nil
	}

	prompt, err := s.prompts.Get(prompts.KeyIntent, map[string]any{"question": out.Question})
	if err != nil {
		return nil, err
	}

	intent := envelope.IntentGeneral
	result, err := llm.GenerateJSON[intentOutput](ctx, s.provider, prompt)
	if err != nil {
		s.logger.Warn("intent_classification_failed", "error", err.Error())
	} else {
		intent = envelope.ParseIntent(result.Intent)
	}

	if intent == envelope.IntentGeneral {
		intent = HeuristicIntent(out.Question)
	}
	out.Intent = intent
	return out, nil
}

// HeuristicIntent labels a question from keyword cues alone.
func HeuristicIntent(question string) envelope.Intent {
	text := " " + tools.Fold(question) + " "
	for _, rule := range intentCues {
		for _, cue := range rule.cues {
			if strings.Contains(text, cue) {
				return rule.intent
			}
		}
	}
	for _, cue := range greetingCues {
		if strings.Contains(text, cue) {
			return envelope.IntentGeneral
		}
	}
	if strings.Contains(text, "?") {
		return envelope.IntentLookup
	}
	return envelope.IntentGeneral
}
