package agents

import (
	"context"
	"errors"
	"testing"

	"github.com/jeeves-cluster-organization/groundedrag/coreengine/envelope"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// MockLogger implements Logger for testing.
type MockLogger struct {
	infoCalls  []string
	debugCalls []string
	warnCalls  []string
	errorCalls []string
}

func (m *MockLogger) Info(msg string, fields ...any)  { m.infoCalls = append(m.infoCalls, msg) }
func (m *MockLogger) Debug(msg string, fields ...any) { m.debugCalls = append(m.debugCalls, msg) }
func (m *MockLogger) Warn(msg string, fields ...any)  { m.warnCalls = append(m.warnCalls, msg) }
func (m *MockLogger) Error(msg string, fields ...any) { m.errorCalls = append(m.errorCalls, msg) }
func (m *MockLogger) Bind(fields ...any) Logger       { return m }

// MockEventContext implements EventContext for testing.
type MockEventContext struct {
	started   []envelope.NodeID
	completed []string
}

func (m *MockEventContext) EmitStageStarted(turnID string, stage envelope.NodeID) error {
	m.started = append(m.started, stage)
	return nil
}

func (m *MockEventContext) EmitStageCompleted(turnID string, stage envelope.NodeID, status string, durationMS int, err error) error {
	m.completed = append(m.completed, string(stage)+":"+status)
	return nil
}

// =============================================================================
// CONSTRUCTOR TESTS
// =============================================================================

func TestNewAgent(t *testing.T) {
	handler := ProcessorFunc(func(ctx context.Context, s *envelope.ConversationState) (*envelope.ConversationState, error) {
		return s.Clone(), nil
	})

	t.Run("valid", func(t *testing.T) {
		a, err := NewAgent(envelope.NodeRetrieve, handler, &MockLogger{})
		require.NoError(t, err)
		assert.Equal(t, envelope.NodeRetrieve, a.Name)
	})

	t.Run("missing name", func(t *testing.T) {
		_, err := NewAgent("", handler, &MockLogger{})
		assert.Error(t, err)
	})

	t.Run("missing handler", func(t *testing.T) {
		_, err := NewAgent(envelope.NodeRetrieve, nil, &MockLogger{})
		assert.Error(t, err)
	})

	t.Run("missing logger", func(t *testing.T) {
		_, err := NewAgent(envelope.NodeRetrieve, handler, nil)
		assert.Error(t, err)
	})
}

// =============================================================================
// PROCESS TESTS
// =============================================================================

// Test a successful stage run records a stage entry and emits events.
func TestAgentProcessSuccess(t *testing.T) {
	logger := &MockLogger{}
	events := &MockEventContext{}

	a, err := NewAgent(envelope.NodeAdaptiveSize, ProcessorFunc(
		func(ctx context.Context, s *envelope.ConversationState) (*envelope.ConversationState, error) {
			out := s.Clone()
			out.K = 6
			return out, nil
		}), logger)
	require.NoError(t, err)
	a.SetEventContext(events)

	in := envelope.NewConversationState("q", 2)
	out, err := a.Process(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, 6, out.K)
	assert.Equal(t, envelope.DefaultK, in.K, "input must not be mutated")
	require.Len(t, out.Stages, 1)
	assert.Equal(t, envelope.NodeAdaptiveSize, out.Stages[0].Stage)
	assert.Equal(t, StageStatusSuccess, out.Stages[0].Status)
	assert.Empty(t, in.Stages)

	assert.Equal(t, []envelope.NodeID{envelope.NodeAdaptiveSize}, events.started)
	assert.Equal(t, []string{"adaptive_size:success"}, events.completed)
	assert.Contains(t, logger.infoCalls, "adaptive_size_completed")
}

// Test a failing stage returns a cloned state with an error record.
func TestAgentProcessError(t *testing.T) {
	logger := &MockLogger{}
	events := &MockEventContext{}

	a, err := NewAgent(envelope.NodeGenerate, ProcessorFunc(
		func(ctx context.Context, s *envelope.ConversationState) (*envelope.ConversationState, error) {
			return nil, errors.New("boom")
		}), logger)
	require.NoError(t, err)
	a.SetEventContext(events)

	in := envelope.NewConversationState("q", 2)
	out, err := a.Process(context.Background(), in)
	require.Error(t, err)
	require.NotNil(t, out)

	require.Len(t, out.Stages, 1)
	assert.Equal(t, StageStatusError, out.Stages[0].Status)
	assert.Equal(t, "boom", out.Stages[0].Error)
	assert.Equal(t, []string{"generate:error"}, events.completed)
	assert.Contains(t, logger.errorCalls, "generate_error")
}

// Test a handler returning nil without error is treated as a failure.
func TestAgentProcessNilState(t *testing.T) {
	a, err := NewAgent(envelope.NodeEvaluate, ProcessorFunc(
		func(ctx context.Context, s *envelope.ConversationState) (*envelope.ConversationState, error) {
			return nil, nil
		}), &MockLogger{})
	require.NoError(t, err)

	out, err := a.Process(context.Background(), envelope.NewConversationState("q", 1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "returned no state")
	assert.NotNil(t, out)
}
