package commbus

import "github.com/jeeves-cluster-organization/groundedrag/coreengine/envelope"

// MessageCategory represents message routing categories.
type MessageCategory string

const (
	// MessageCategoryEvent represents fire-and-forget, fan-out to all subscribers.
	MessageCategoryEvent MessageCategory = "event"
	// MessageCategoryQuery represents request-response, single handler.
	MessageCategoryQuery MessageCategory = "query"
)

// HealthStatus represents canonical health status values.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// =============================================================================
// TURN LIFECYCLE EVENTS
// =============================================================================

// TurnStarted is emitted when the orchestrator accepts a question.
type TurnStarted struct {
	TurnID        string `json:"turn_id"`
	Question      string `json:"question"`
	MaxIterations int    `json:"max_iterations"`
}

// Category implements the Message interface.
func (m *TurnStarted) Category() string { return string(MessageCategoryEvent) }

// TurnCompleted is emitted once per turn, after the graph stops.
type TurnCompleted struct {
	TurnID          string                  `json:"turn_id"`
	TerminalReason  envelope.TerminalReason `json:"terminal_reason"`
	Intent          envelope.Intent         `json:"intent"`
	Iterations      int                     `json:"iterations"`
	CitedSources    []string                `json:"cited_sources"`
	ProviderFailure bool                    `json:"provider_failure"`
	DurationMS      int                     `json:"duration_ms"`
}

// Category implements the Message interface.
func (m *TurnCompleted) Category() string { return string(MessageCategoryEvent) }

// =============================================================================
// STAGE EVENTS
// =============================================================================

// StageStarted is emitted when a graph node begins.
type StageStarted struct {
	TurnID string          `json:"turn_id"`
	Stage  envelope.NodeID `json:"stage"`
}

// Category implements the Message interface.
func (m *StageStarted) Category() string { return string(MessageCategoryEvent) }

// StageCompleted is emitted when a graph node finishes.
type StageCompleted struct {
	TurnID     string          `json:"turn_id"`
	Stage      envelope.NodeID `json:"stage"`
	Status     string          `json:"status"` // "success", "error"
	DurationMS int             `json:"duration_ms"`
	Error      *string         `json:"error,omitempty"`
}

// Category implements the Message interface.
func (m *StageCompleted) Category() string { return string(MessageCategoryEvent) }

// RetryScheduled is emitted when the evaluator sends the turn back to retrieval.
type RetryScheduled struct {
	TurnID    string `json:"turn_id"`
	Iteration int    `json:"iteration"`
	K         int    `json:"k"`
	Reason    string `json:"reason"`
}

// Category implements the Message interface.
func (m *RetryScheduled) Category() string { return string(MessageCategoryEvent) }

// ToolShortCircuited is emitted when a deterministic tool answers the turn.
type ToolShortCircuited struct {
	TurnID string          `json:"turn_id"`
	Tool   string          `json:"tool"`
	Stage  envelope.NodeID `json:"stage"`
}

// Category implements the Message interface.
func (m *ToolShortCircuited) Category() string { return string(MessageCategoryEvent) }

// =============================================================================
// QUERIES
// =============================================================================

// HealthCheckRequest requests health from a component.
type HealthCheckRequest struct {
	Component string `json:"component"`
}

// Category implements the Message interface.
func (m *HealthCheckRequest) Category() string { return string(MessageCategoryQuery) }

// IsQuery implements the Query interface.
func (m *HealthCheckRequest) IsQuery() {}

// HealthCheckResponse is the response for HealthCheckRequest.
type HealthCheckResponse struct {
	Component string            `json:"component"`
	Status    HealthStatus      `json:"status"`
	Details   map[string]string `json:"details,omitempty"`
}

// GetMessageType returns the type name of a message for routing.
func GetMessageType(msg Message) string {
	if typed, ok := msg.(TypedMessage); ok {
		return typed.MessageType()
	}

	switch msg.(type) {
	case *TurnStarted:
		return "TurnStarted"
	case *TurnCompleted:
		return "TurnCompleted"
	case *StageStarted:
		return "StageStarted"
	case *StageCompleted:
		return "StageCompleted"
	case *RetryScheduled:
		return "RetryScheduled"
	case *ToolShortCircuited:
		return "ToolShortCircuited"
	case *HealthCheckRequest:
		return "HealthCheckRequest"
	default:
		return "Unknown"
	}
}
