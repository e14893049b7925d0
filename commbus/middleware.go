package commbus

import (
	"context"
	"sync"
	"time"

	"github.com/jeeves-cluster-organization/groundedrag/coreengine/agents"
)

// =============================================================================
// LOGGING MIDDLEWARE
// =============================================================================

// LoggingMiddleware logs all message traffic at debug level.
type LoggingMiddleware struct {
	logger agents.Logger
}

// NewLoggingMiddleware creates a new LoggingMiddleware.
func NewLoggingMiddleware(logger agents.Logger) *LoggingMiddleware {
	return &LoggingMiddleware{logger: logger}
}

// Before logs message receipt.
func (m *LoggingMiddleware) Before(ctx context.Context, message Message) (Message, error) {
	m.logger.Debug("bus_message", "category", message.Category(), "type", GetMessageType(message))
	return message, nil
}

// After logs message completion.
func (m *LoggingMiddleware) After(ctx context.Context, message Message, result any, err error) (any, error) {
	if err != nil {
		m.logger.Warn("bus_message_failed", "type", GetMessageType(message), "error", err.Error())
	}
	return result, nil
}

// =============================================================================
// CIRCUIT BREAKER MIDDLEWARE
// =============================================================================

// Circuit states.
const (
	CircuitClosed   = "closed"
	CircuitOpen     = "open"
	CircuitHalfOpen = "half-open"
)

// CircuitBreakerState represents the state for circuit breaker.
type CircuitBreakerState struct {
	Failures    int
	LastFailure time.Time
	State       string
}

// CircuitBreakerMiddleware stops delivering a guarded message type after
// repeated handler failures, and lets one message through after resetTimeout
// to test for recovery. Queries to an open circuit fail with
// *CircuitOpenError; events are dropped. A threshold of 0 never opens.
type CircuitBreakerMiddleware struct {
	failureThreshold int
	resetTimeout     time.Duration
	guardedTypes     map[string]struct{}
	states           map[string]*CircuitBreakerState
	logger           agents.Logger
	mu               sync.Mutex
}

// NewCircuitBreakerMiddleware creates a new CircuitBreakerMiddleware that
// guards the given message types, or every type when guardedTypes is empty.
func NewCircuitBreakerMiddleware(failureThreshold int, resetTimeout time.Duration, guardedTypes []string, logger agents.Logger) *CircuitBreakerMiddleware {
	guarded := make(map[string]struct{}, len(guardedTypes))
	for _, t := range guardedTypes {
		guarded[t] = struct{}{}
	}
	return &CircuitBreakerMiddleware{
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		guardedTypes:     guarded,
		states:           make(map[string]*CircuitBreakerState),
		logger:           logger,
	}
}

func (m *CircuitBreakerMiddleware) guards(msgType string) bool {
	if len(m.guardedTypes) == 0 {
		return true
	}
	_, ok := m.guardedTypes[msgType]
	return ok
}

func (m *CircuitBreakerMiddleware) getState(msgType string) *CircuitBreakerState {
	if _, exists := m.states[msgType]; !exists {
		m.states[msgType] = &CircuitBreakerState{State: CircuitClosed}
	}
	return m.states[msgType]
}

// Before rejects the message while its circuit is open.
func (m *CircuitBreakerMiddleware) Before(ctx context.Context, message Message) (Message, error) {
	msgType := GetMessageType(message)
	if !m.guards(msgType) {
		return message, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	state := m.getState(msgType)
	if state.State == CircuitOpen {
		if wait := m.resetTimeout - time.Since(state.LastFailure); wait > 0 {
			if _, isQuery := message.(Query); isQuery {
				return nil, &CircuitOpenError{MessageType: msgType, RetryAfter: wait}
			}
			return nil, nil
		}
		state.State = CircuitHalfOpen
		m.logger.Info("circuit_half_open", "type", msgType)
	}
	return message, nil
}

// After updates circuit breaker state based on result.
func (m *CircuitBreakerMiddleware) After(ctx context.Context, message Message, result any, err error) (any, error) {
	msgType := GetMessageType(message)
	if !m.guards(msgType) {
		return result, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	state := m.getState(msgType)
	if err != nil {
		state.Failures++
		state.LastFailure = time.Now()
		switch {
		case state.State == CircuitHalfOpen:
			state.State = CircuitOpen
			m.logger.Warn("circuit_reopened", "type", msgType)
		case m.failureThreshold > 0 && state.Failures >= m.failureThreshold:
			state.State = CircuitOpen
			m.logger.Warn("circuit_opened", "type", msgType, "failures", state.Failures)
		}
		return result, nil
	}

	if state.State == CircuitHalfOpen {
		state.State = CircuitClosed
		state.Failures = 0
		m.logger.Info("circuit_closed", "type", msgType)
	}
	return result, nil
}

// GetStates returns current circuit states.
func (m *CircuitBreakerMiddleware) GetStates() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make(map[string]string, len(m.states))
	for k, v := range m.states {
		result[k] = v.State
	}
	return result
}

var (
	_ Middleware = (*LoggingMiddleware)(nil)
	_ Middleware = (*CircuitBreakerMiddleware)(nil)
)
