package agents

import (
	"context"
	"fmt"
	"time"

	"github.com/jeeves-cluster-organization/groundedrag/coreengine/envelope"
	"github.com/jeeves-cluster-organization/groundedrag/coreengine/observability"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Agent runs one Processor as a named, instrumented graph node.
type Agent struct {
	Name     envelope.NodeID
	Logger   Logger
	EventCtx EventContext
	Handler  Processor
}

// NewAgent creates a new Agent.
func NewAgent(name envelope.NodeID, handler Processor, logger Logger) (*Agent, error) {
	if name == "" {
		return nil, fmt.Errorf("agent name is required")
	}
	if handler == nil {
		return nil, fmt.Errorf("agent '%s' has no handler", name)
	}
	if logger == nil {
		return nil, fmt.Errorf("agent '%s' has no logger", name)
	}
	return &Agent{
		Name:    name,
		Logger:  logger.Bind("stage", string(name)),
		Handler: handler,
	}, nil
}

// SetEventContext sets the event context for this agent.
func (a *Agent) SetEventContext(ctx EventContext) {
	a.EventCtx = ctx
}

// Process runs the handler on state. The returned state always carries a
// StageRecord for this run. On error the input state (cloned) is returned
// alongside the error.
func (a *Agent) Process(ctx context.Context, state *envelope.ConversationState) (out *envelope.ConversationState, err error) {
	ctx, span := observability.Tracer().Start(ctx, "stage.process",
		trace.WithAttributes(
			attribute.String("groundedrag.stage", string(a.Name)),
			attribute.String("groundedrag.turn.id", state.TurnID),
			attribute.Int("groundedrag.iteration", state.IterationCount),
		),
	)
	defer span.End()

	startTime := time.Now()
	a.emitStarted(state.TurnID)
	a.Logger.Debug(fmt.Sprintf("%s_started", a.Name), "turn_id", state.TurnID)

	defer func() {
		durationMS := int(time.Since(startTime).Milliseconds())
		span.SetAttributes(attribute.Int("duration_ms", durationMS))

		record := envelope.StageRecord{Stage: a.Name, DurationMS: durationMS}
		if err != nil {
			observability.RecordStageExecution(string(a.Name), StageStatusError, durationMS)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			a.Logger.Error(fmt.Sprintf("%s_error", a.Name),
				"turn_id", state.TurnID,
				"error", err.Error(),
				"duration_ms", durationMS,
			)
			record.Status = StageStatusError
			record.Error = err.Error()
			a.emitCompleted(state.TurnID, StageStatusError, durationMS, err)
		} else {
			observability.RecordStageExecution(string(a.Name), StageStatusSuccess, durationMS)
			span.SetStatus(codes.Ok, StageStatusSuccess)
			a.Logger.Info(fmt.Sprintf("%s_completed", a.Name),
				"turn_id", state.TurnID,
				"duration_ms", durationMS,
			)
			record.Status = StageStatusSuccess
			a.emitCompleted(state.TurnID, StageStatusSuccess, durationMS, nil)
		}
		out.Stages = append(out.Stages, record)
	}()

	out, err = a.Handler.Process(ctx, state)
	if err != nil || out == nil {
		if err == nil {
			err = fmt.Errorf("stage '%s' returned no state", a.Name)
		}
		out = state.Clone()
		return out, err
	}
	return out, nil
}

func (a *Agent) emitStarted(turnID string) {
	if a.EventCtx != nil {
		_ = a.EventCtx.EmitStageStarted(turnID, a.Name)
	}
}

func (a *Agent) emitCompleted(turnID, status string, durationMS int, err error) {
	if a.EventCtx != nil {
		_ = a.EventCtx.EmitStageCompleted(turnID, a.Name, status, durationMS, err)
	}
}
