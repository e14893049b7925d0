// Package agents provides the stage contracts shared by every workflow node.
//
// A node is a Processor: it receives the current ConversationState and
// returns an updated copy. Agent wraps a Processor with tracing, metrics,
// structured logs and bus events so individual stages stay free of
// instrumentation.
package agents

import (
	"context"

	"github.com/jeeves-cluster-organization/groundedrag/coreengine/envelope"
)

// =============================================================================
// CONTRACTS
// =============================================================================

// Processor is one node of the workflow graph.
// Implementations must not mutate the state they receive.
type Processor interface {
	Process(ctx context.Context, state *envelope.ConversationState) (*envelope.ConversationState, error)
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, state *envelope.ConversationState) (*envelope.ConversationState, error)

// Process calls f.
func (f ProcessorFunc) Process(ctx context.Context, state *envelope.ConversationState) (*envelope.ConversationState, error) {
	return f(ctx, state)
}

// Logger is the interface for logging.
type Logger interface {
	Info(msg string, fields ...any)
	Debug(msg string, fields ...any)
	Warn(msg string, fields ...any)
	Error(msg string, fields ...any)
	Bind(fields ...any) Logger
}

// EventContext is the interface for event emission.
type EventContext interface {
	EmitStageStarted(turnID string, stage envelope.NodeID) error
	EmitStageCompleted(turnID string, stage envelope.NodeID, status string, durationMS int, err error) error
}

// Stage status values recorded in StageRecord.Status.
const (
	StageStatusSuccess = "success"
	StageStatusError   = "error"
)
