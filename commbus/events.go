package commbus

import (
	"context"

	"github.com/jeeves-cluster-organization/groundedrag/coreengine/agents"
	"github.com/jeeves-cluster-organization/groundedrag/coreengine/envelope"
)

// EventContext publishes stage events on a bus. It implements agents.EventContext.
type EventContext struct {
	bus CommBus
	ctx context.Context
}

// NewEventContext returns an EventContext publishing on bus with ctx.
func NewEventContext(ctx context.Context, bus CommBus) *EventContext {
	return &EventContext{bus: bus, ctx: ctx}
}

// EmitStageStarted implements agents.EventContext.
func (e *EventContext) EmitStageStarted(turnID string, stage envelope.NodeID) error {
	return e.bus.Publish(e.ctx, &StageStarted{TurnID: turnID, Stage: stage})
}

// EmitStageCompleted implements agents.EventContext.
func (e *EventContext) EmitStageCompleted(turnID string, stage envelope.NodeID, status string, durationMS int, err error) error {
	event := &StageCompleted{TurnID: turnID, Stage: stage, Status: status, DurationMS: durationMS}
	if err != nil {
		msg := err.Error()
		event.Error = &msg
	}
	return e.bus.Publish(e.ctx, event)
}

var _ agents.EventContext = (*EventContext)(nil)
