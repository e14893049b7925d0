package stages

import (
	"context"

	"github.com/jeeves-cluster-organization/groundedrag/coreengine/agents"
	"github.com/jeeves-cluster-organization/groundedrag/coreengine/envelope"
	"github.com/jeeves-cluster-organization/groundedrag/coreengine/llm"
	"github.com/jeeves-cluster-organization/groundedrag/coreengine/observability"
	"github.com/jeeves-cluster-organization/groundedrag/coreengine/tools"
)

// ToolRouter runs the first matching deterministic tool of one phase.
type ToolRouter struct {
	registry tools.ToolRegistry
	phase    tools.Phase
	node     envelope.NodeID
	logger   agents.Logger
}

// NewToolsPre creates the router that runs before intent classification.
func NewToolsPre(registry tools.ToolRegistry, logger agents.Logger) *ToolRouter {
	return &ToolRouter{registry: registry, phase: tools.PhasePre, node: envelope.NodeToolsPre, logger: logger}
}

// NewToolsPost creates the router that runs over retrieved passages.
func NewToolsPost(registry tools.ToolRegistry, logger agents.Logger) *ToolRouter {
	return &ToolRouter{registry: registry, phase: tools.PhasePost, node: envelope.NodeToolsPost, logger: logger}
}

// Process implements agents.Processor.
func (s *ToolRouter) Process(ctx context.Context, state *envelope.ConversationState) (*envelope.ConversationState, error) {
	out := state.Clone()
	out.ToolHandled = false
	if out.Question == "" {
		return out, nil
	}

	name, outcome, ok, err := s.registry.Route(ctx, s.phase, tools.NewInvocation(out, s.phase))
	if !ok {
		return out, nil
	}
	if err != nil {
		if _, isProvider := llm.AsProviderError(err); !isProvider {
			return nil, err
		}
		s.logger.Warn("tool_provider_failure", "tool", name, "error", err.Error())
		recordProviderFailure(out, s.node, err)
		out.ToolHandled = true
		out.ToolName = name
		return out, nil
	}

	out.ToolHandled = true
	out.ToolName = name
	out.ToolResult = outcome.Result
	out.Answer = outcome.Answer
	out.CitedSources = []string{}
	out.FinalPrompt = "tool: " + name
	observability.RecordToolShortCircuit(name)
	s.logger.Info("tool_handled", "tool", name, "phase", string(s.phase))
	return out, nil
}
