package runtime

import (
	"context"
	"fmt"

	"github.com/jeeves-cluster-organization/groundedrag/coreengine/agents"
	"github.com/jeeves-cluster-organization/groundedrag/coreengine/config"
	"github.com/jeeves-cluster-organization/groundedrag/coreengine/envelope"
	"github.com/jeeves-cluster-organization/groundedrag/coreengine/llm"
	"github.com/jeeves-cluster-organization/groundedrag/coreengine/profile"
	"github.com/jeeves-cluster-organization/groundedrag/coreengine/prompts"
	"github.com/jeeves-cluster-organization/groundedrag/coreengine/retrieval"
	"github.com/jeeves-cluster-organization/groundedrag/coreengine/stages"
	"github.com/jeeves-cluster-organization/groundedrag/coreengine/tools"
)

// Models holds one provider per model role.
type Models struct {
	Router    llm.Provider
	KSelector llm.Provider
	Direct    llm.Provider
	Generator llm.Provider
	Evaluator llm.Provider
}

// SingleModel uses p for every role.
func SingleModel(p llm.Provider) Models {
	return Models{Router: p, KSelector: p, Direct: p, Generator: p, Evaluator: p}
}

// ModelsFromFactory resolves every role through f.
func ModelsFromFactory(ctx context.Context, f *llm.Factory) (Models, error) {
	var m Models
	roles := []struct {
		name string
		dst  *llm.Provider
	}{
		{config.RoleRouter, &m.Router},
		{config.RoleKSelector, &m.KSelector},
		{config.RoleDirect, &m.Direct},
		{config.RoleRAGGeneration, &m.Generator},
		{config.RoleGroundingEvaluator, &m.Evaluator},
	}
	for _, r := range roles {
		p, err := f.ForRole(ctx, r.name)
		if err != nil {
			return Models{}, err
		}
		*r.dst = p
	}
	return m, nil
}

// Dependencies are the collaborators the stages are built from.
type Dependencies struct {
	Models    Models
	Prompts   *prompts.Registry
	Retriever *retrieval.Retriever
	Profiles  profile.Store
	Logger    agents.Logger

	// Tools overrides the built-in tool set when non-nil.
	Tools tools.ToolRegistry
	// SummaryTool registers the model-backed summary tool with the
	// built-in set.
	SummaryTool bool
}

// NewTools builds the built-in tool set, with the summary tool backed by
// the generator model when d.SummaryTool is set.
func NewTools(d Dependencies) (*tools.ToolExecutor, error) {
	var opts tools.Options
	if d.SummaryTool {
		if d.Prompts == nil {
			return nil, fmt.Errorf("summary tool needs prompts")
		}
		opts.Summarizer = stages.NewLLMSummarizer(d.Models.Generator, d.Prompts)
	}
	return tools.NewDefaultExecutor(opts)
}

// NewStages builds the Processor for every node.
func NewStages(d Dependencies) (Stages, error) {
	if d.Prompts == nil || d.Retriever == nil || d.Profiles == nil || d.Logger == nil {
		return nil, fmt.Errorf("stages need prompts, retriever, profile store and logger")
	}

	registry := d.Tools
	if registry == nil {
		executor, err := NewTools(d)
		if err != nil {
			return nil, err
		}
		registry = executor
	}

	return Stages{
		envelope.NodeProfileLoad:    stages.NewProfileLoad(d.Profiles, d.Logger),
		envelope.NodeProfileUpdate:  stages.NewProfileUpdate(d.Profiles, d.Logger),
		envelope.NodeToolsPre:       stages.NewToolsPre(registry, d.Logger),
		envelope.NodeIntentClassify: stages.NewIntentClassify(d.Models.Router, d.Prompts, d.Logger),
		envelope.NodeAdaptiveSize:   stages.NewAdaptiveSize(d.Models.KSelector, d.Prompts, d.Logger),
		envelope.NodeRetrieve:       stages.NewRetrieve(d.Retriever),
		envelope.NodeToolsPost:      stages.NewToolsPost(registry, d.Logger),
		envelope.NodeGenerate:       stages.NewGenerate(d.Models.Generator, d.Prompts, d.Logger),
		envelope.NodeEvaluate:       stages.NewEvaluate(d.Models.Evaluator, d.Prompts, d.Logger),
		envelope.NodeDirectAnswer:   stages.NewDirectAnswer(d.Models.Direct, d.Prompts, d.Logger),
	}, nil
}
