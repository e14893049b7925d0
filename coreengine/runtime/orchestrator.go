// Package runtime drives one conversational turn through the workflow graph.
package runtime

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jeeves-cluster-organization/groundedrag/commbus"
	"github.com/jeeves-cluster-organization/groundedrag/coreengine/agents"
	"github.com/jeeves-cluster-organization/groundedrag/coreengine/config"
	"github.com/jeeves-cluster-organization/groundedrag/coreengine/envelope"
	"github.com/jeeves-cluster-organization/groundedrag/coreengine/observability"
)

// ReasonLoopLimit explains an answer withheld because a graph bound was hit.
const ReasonLoopLimit = "Se alcanzo el limite de pasos del flujo de consulta."

// Stages maps every executable node to its Processor.
type Stages map[envelope.NodeID]agents.Processor

// RunOptions configures how a turn runs.
type RunOptions struct {
	// Stream: return a channel holding a snapshot of the state after every
	// stage. Use RunWithStream to receive them while the turn runs.
	Stream bool
}

// StageOutput is one streamed stage result. The final output of a turn
// carries Stage == envelope.NodeEnd.
type StageOutput struct {
	Stage envelope.NodeID
	State *envelope.ConversationState
	Error error
}

// TurnRequest is the input of Run. A nil MaxIterations uses the
// orchestrator default.
type TurnRequest struct {
	Question      string
	MaxIterations *int
}

// TurnResult is what a caller of Run gets back.
type TurnResult struct {
	TurnID          string
	Answer          string
	Sources         []string
	Trace           []envelope.TraceRecord
	Intent          envelope.Intent
	TerminalReason  envelope.TerminalReason
	ProviderFailure envelope.ProviderFailure
	History         []envelope.IterationRecord
	State           *envelope.ConversationState
}

// Orchestrator executes the workflow graph. It holds no per-turn state
// and is safe for concurrent turns.
type Orchestrator struct {
	Name                 string
	DefaultMaxIterations int
	Logger               agents.Logger

	bus    commbus.CommBus
	agents map[envelope.NodeID]*agents.Agent
}

// NewOrchestrator wraps every stage in an agents.Agent. bus may be nil, in
// which case no turn or stage events are published.
func NewOrchestrator(name string, stages Stages, bus commbus.CommBus, logger agents.Logger) (*Orchestrator, error) {
	if logger == nil {
		return nil, fmt.Errorf("orchestrator '%s' has no logger", name)
	}
	o := &Orchestrator{
		Name:                 name,
		DefaultMaxIterations: envelope.DefaultMaxIterations,
		Logger:               logger.Bind("graph", name),
		bus:                  bus,
		agents:               make(map[envelope.NodeID]*agents.Agent, len(stages)),
	}

	var events agents.EventContext
	if bus != nil {
		events = commbus.NewEventContext(context.Background(), bus)
	}
	for _, node := range envelope.AllNodes() {
		handler, ok := stages[node]
		if !ok {
			return nil, fmt.Errorf("graph '%s' has no stage for node '%s'", name, node)
		}
		agent, err := agents.NewAgent(node, handler, o.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create agent '%s': %w", node, err)
		}
		if events != nil {
			agent.SetEventContext(events)
		}
		o.agents[node] = agent
	}

	o.Logger.Info("runtime_agents_built", "agent_count", len(o.agents))
	return o, nil
}

// NewState creates the initial state for req.
func (o *Orchestrator) NewState(req TurnRequest) *envelope.ConversationState {
	maxIterations := o.DefaultMaxIterations
	if req.MaxIterations != nil {
		maxIterations = *req.MaxIterations
	}
	return envelope.NewConversationState(req.Question, maxIterations)
}

// Run answers one question.
func (o *Orchestrator) Run(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	state, _, err := o.Execute(ctx, o.NewState(req), RunOptions{})
	if err != nil {
		return nil, err
	}
	return &TurnResult{
		TurnID:          state.TurnID,
		Answer:          state.Answer,
		Sources:         state.CitedSources,
		Trace:           state.RetrievalTrace,
		Intent:          state.Intent,
		TerminalReason:  state.TerminalReason,
		ProviderFailure: state.ProviderFailure,
		History:         state.History,
		State:           state,
	}, nil
}

// Execute runs the graph from profile_load to the end node. The only error
// it returns is context cancellation; stage failures end the turn with
// TerminalReasonStageFailed. With opts.Stream the returned channel holds
// every stage output of the finished turn.
func (o *Orchestrator) Execute(ctx context.Context, state *envelope.ConversationState, opts RunOptions) (*envelope.ConversationState, <-chan StageOutput, error) {
	var outputChan chan StageOutput
	if opts.Stream {
		outputChan = make(chan StageOutput, config.NewGraphConfig(o.Name, state.MaxIterations).MaxHops+1)
	}
	result, err := o.execute(ctx, state, outputChan)
	if outputChan != nil {
		close(outputChan)
	}
	return result, outputChan, err
}

// RunWithStream runs the turn in its own goroutine and delivers each stage
// output as soon as the stage finishes. The last output has
// Stage == envelope.NodeEnd and carries the final state and any turn error;
// the channel is closed after it. Callers must drain the channel; cancel ctx
// to stop the turn early.
func (o *Orchestrator) RunWithStream(ctx context.Context, state *envelope.ConversationState) <-chan StageOutput {
	outputChan := make(chan StageOutput, 1)
	go func() {
		defer close(outputChan)
		_, _ = o.execute(ctx, state, outputChan)
	}()
	return outputChan
}

func (o *Orchestrator) execute(ctx context.Context, state *envelope.ConversationState, outputChan chan StageOutput) (*envelope.ConversationState, error) {
	if state.MaxIterations != envelope.ClampIterations(state.MaxIterations) {
		state = state.Clone()
		state.MaxIterations = envelope.ClampIterations(state.MaxIterations)
	}
	graph := config.NewGraphConfig(o.Name, state.MaxIterations)
	if err := graph.Validate(); err != nil {
		emit(outputChan, envelope.NodeEnd, state, err)
		return state, err
	}

	ctx, span := observability.Tracer().Start(ctx, "turn.run",
		trace.WithAttributes(
			attribute.String("groundedrag.turn.id", state.TurnID),
			attribute.Int("groundedrag.max_iterations", state.MaxIterations),
		),
	)
	defer span.End()

	startTime := time.Now()
	logger := o.Logger.Bind("turn_id", state.TurnID)
	logger.Info("turn_started",
		"max_iterations", state.MaxIterations,
		"max_hops", graph.MaxHops,
		"stream", outputChan != nil,
	)
	o.publish(ctx, logger, &commbus.TurnStarted{
		TurnID:        state.TurnID,
		Question:      state.Question,
		MaxIterations: state.MaxIterations,
	})

	result, err := o.runGraph(ctx, state, graph, logger, outputChan)
	emit(outputChan, envelope.NodeEnd, result, err)

	durationMS := int(time.Since(startTime).Milliseconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return result, err
	}

	span.SetAttributes(attribute.String("groundedrag.terminal_reason", string(result.TerminalReason)))
	observability.RecordTurn(string(result.TerminalReason), string(result.Intent), durationMS)
	o.publish(ctx, logger, &commbus.TurnCompleted{
		TurnID:          result.TurnID,
		TerminalReason:  result.TerminalReason,
		Intent:          result.Intent,
		Iterations:      result.IterationCount,
		CitedSources:    result.CitedSources,
		ProviderFailure: result.ProviderFailure.Occurred,
		DurationMS:      durationMS,
	})
	logger.Info("turn_completed",
		"terminal_reason", string(result.TerminalReason),
		"intent", string(result.Intent),
		"iterations", result.IterationCount,
		"k", result.K,
		"cited_sources", len(result.CitedSources),
		"duration_ms", durationMS,
	)
	return result, nil
}

// runGraph runs nodes one at a time following NextNode.
func (o *Orchestrator) runGraph(ctx context.Context, state *envelope.ConversationState, graph *config.GraphConfig, logger agents.Logger, outputChan chan StageOutput) (*envelope.ConversationState, error) {
	edgeTraversals := make(map[string]int)
	current := envelope.NodeProfileLoad
	hops := 0

	for current != envelope.NodeEnd {
		select {
		case <-ctx.Done():
			logger.Info("turn_cancelled", "stage", string(current), "reason", ctx.Err().Error())
			return state, ctx.Err()
		default:
		}

		if hops >= graph.MaxHops {
			logger.Warn("hop_limit_exceeded", "stage", string(current), "limit", graph.MaxHops)
			stopAtLimit(state)
			return state, nil
		}

		agent, ok := o.agents[current]
		if !ok {
			logger.Error("turn_unknown_stage", "stage", string(current))
			failStage(state)
			return state, nil
		}

		next, err := agent.Process(ctx, state)
		hops++
		state = next
		if err != nil {
			if ctx.Err() != nil {
				return state, ctx.Err()
			}
			logger.Error("turn_stage_failed", "stage", string(current), "error", err.Error())
			failStage(state)
			emit(outputChan, current, state, err)
			return state, nil
		}
		emit(outputChan, current, state, nil)
		o.announce(ctx, logger, current, state)

		to := NextNode(current, state)
		if to != envelope.NodeEnd {
			edgeKey := string(current) + "->" + string(to)
			edgeTraversals[edgeKey]++
			if limit, ok := graph.GetEdgeLimit(string(current), string(to)); ok && edgeTraversals[edgeKey] > limit {
				logger.Warn("edge_limit_exceeded",
					"edge", edgeKey,
					"limit", limit,
					"traversals", edgeTraversals[edgeKey],
				)
				stopAtLimit(state)
				return state, nil
			}
		}
		current = to
	}

	state.TerminalReason = terminalReason(state)
	return state, nil
}

// announce publishes the graph-level events a stage result implies.
func (o *Orchestrator) announce(ctx context.Context, logger agents.Logger, node envelope.NodeID, state *envelope.ConversationState) {
	switch node {
	case envelope.NodeToolsPre, envelope.NodeToolsPost:
		if state.ToolHandled {
			o.publish(ctx, logger, &commbus.ToolShortCircuited{TurnID: state.TurnID, Tool: state.ToolName, Stage: node})
		}
	case envelope.NodeEvaluate:
		if state.Decision == envelope.DecisionRetry {
			o.publish(ctx, logger, &commbus.RetryScheduled{
				TurnID:    state.TurnID,
				Iteration: state.IterationCount,
				K:         state.K,
				Reason:    state.Verdict.Reason,
			})
		}
	}
}

func (o *Orchestrator) publish(ctx context.Context, logger agents.Logger, event commbus.Message) {
	if o.bus == nil {
		return
	}
	if err := o.bus.Publish(ctx, event); err != nil {
		logger.Debug("event_publish_failed", "event", commbus.GetMessageType(event), "error", err.Error())
	}
}

func emit(outputChan chan StageOutput, node envelope.NodeID, state *envelope.ConversationState, err error) {
	if outputChan != nil {
		outputChan <- StageOutput{Stage: node, State: state.Clone(), Error: err}
	}
}

func failStage(state *envelope.ConversationState) {
	state.TerminalReason = envelope.TerminalReasonStageFailed
	state.Answer = envelope.MsgStageFailed
	state.CitedSources = []string{}
}

func stopAtLimit(state *envelope.ConversationState) {
	question := state.Question
	if question == "" {
		question = "-"
	}
	state.TerminalReason = envelope.TerminalReasonMaxLoopExceeded
	state.Answer = envelope.InsufficientEvidenceWithReason(question, ReasonLoopLimit)
	state.CitedSources = []string{}
}
