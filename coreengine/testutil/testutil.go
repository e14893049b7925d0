// Package testutil provides shared test utilities and mocks for integration tests.
//
// All mocks in this package are designed for testing the coreengine components
// in isolation without requiring model providers, vector stores or disk.
package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jeeves-cluster-organization/groundedrag/coreengine/agents"
	"github.com/jeeves-cluster-organization/groundedrag/coreengine/envelope"
	"github.com/jeeves-cluster-organization/groundedrag/coreengine/llm"
)

// Prompt prefixes of the built-in templates, for scripting MockLLMProvider.
const (
	PromptIntent    = "Clasifica la intencion"
	PromptKSelector = "Decide cuantos fragmentos"
	PromptDirect    = "Eres un asistente academico"
	PromptAnswer    = "Responde la pregunta usando SOLO"
	PromptSummary   = "Resume el contenido normativo"
	PromptCompare   = "Compara las normas"
	PromptGrounding = "Eres un verificador de grounding"
	PromptSummarize = "Resume en espanol"
)

// =============================================================================
// MOCK LLM PROVIDER
// =============================================================================

type scripted struct {
	prefix    string
	responses []string
	err       error
	calls     int
}

// MockLLMProvider implements llm.Provider for testing.
// Responses are scripted per prompt prefix; the first registered matching
// prefix wins. A sequence yields one response per call and then repeats its
// last element.
type MockLLMProvider struct {
	// DefaultResponse is returned when no prefix matches.
	DefaultResponse string

	// Delay simulates model latency.
	Delay time.Duration

	// Error causes every Generate call to fail.
	Error error

	// GenerateFunc replaces scripted responses when set.
	GenerateFunc func(context.Context, llm.Request) (string, error)

	rules []*scripted
	calls []llm.Request
	mu    sync.Mutex
}

// NewMockLLMProvider creates a MockLLMProvider with sensible defaults.
func NewMockLLMProvider() *MockLLMProvider {
	return &MockLLMProvider{DefaultResponse: `{}`}
}

// ProviderName implements llm.Describer.
func (m *MockLLMProvider) ProviderName() string { return "mock" }

// ModelName implements llm.Describer.
func (m *MockLLMProvider) ModelName() string { return "mock-model" }

// Generate implements llm.Provider.
func (m *MockLLMProvider) Generate(ctx context.Context, req llm.Request) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	customFunc := m.GenerateFunc
	m.mu.Unlock()

	if customFunc != nil {
		return customFunc(ctx, req)
	}

	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Error != nil {
		return "", m.Error
	}
	for _, rule := range m.rules {
		if !strings.HasPrefix(req.Prompt, rule.prefix) {
			continue
		}
		if rule.err != nil {
			return "", rule.err
		}
		idx := rule.calls
		if idx >= len(rule.responses) {
			idx = len(rule.responses) - 1
		}
		rule.calls++
		return rule.responses[idx], nil
	}
	return m.DefaultResponse, nil
}

// WithResponse scripts a fixed response for prompts starting with prefix.
func (m *MockLLMProvider) WithResponse(prefix, response string) *MockLLMProvider {
	return m.WithSequence(prefix, response)
}

// WithSequence scripts successive responses for prompts starting with prefix.
func (m *MockLLMProvider) WithSequence(prefix string, responses ...string) *MockLLMProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, &scripted{prefix: prefix, responses: responses})
	return m
}

// WithErrorFor makes prompts starting with prefix fail with err.
func (m *MockLLMProvider) WithErrorFor(prefix string, err error) *MockLLMProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, &scripted{prefix: prefix, err: err})
	return m
}

// WithError configures every call to fail.
func (m *MockLLMProvider) WithError(err error) *MockLLMProvider {
	m.Error = err
	return m
}

// WithDelay adds latency simulation.
func (m *MockLLMProvider) WithDelay(d time.Duration) *MockLLMProvider {
	m.Delay = d
	return m
}

// GetCallCount returns the number of calls (thread-safe).
func (m *MockLLMProvider) GetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// CallsWithPrefix counts calls whose prompt starts with prefix.
func (m *MockLLMProvider) CallsWithPrefix(prefix string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if strings.HasPrefix(c.Prompt, prefix) {
			n++
		}
	}
	return n
}

// LastPrompt returns the most recent prompt starting with prefix.
func (m *MockLLMProvider) LastPrompt(prefix string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.calls) - 1; i >= 0; i-- {
		if strings.HasPrefix(m.calls[i].Prompt, prefix) {
			return m.calls[i].Prompt
		}
	}
	return ""
}

// Reset clears call history and sequence positions.
func (m *MockLLMProvider) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	for _, rule := range m.rules {
		rule.calls = 0
	}
}

// =============================================================================
// MOCK VECTOR STORE
// =============================================================================

// StaticVectorStore implements retrieval.VectorStore over scripted results.
// Call n returns Results[n] (the last entry once exhausted), truncated to k.
type StaticVectorStore struct {
	Results [][]envelope.Passage
	Error   error

	ks []int
	mu sync.Mutex
}

// NewStaticVectorStore returns a store answering every query with passages.
func NewStaticVectorStore(passages ...envelope.Passage) *StaticVectorStore {
	return &StaticVectorStore{Results: [][]envelope.Passage{passages}}
}

// Then appends the result returned by the next query.
func (s *StaticVectorStore) Then(passages ...envelope.Passage) *StaticVectorStore {
	s.Results = append(s.Results, passages)
	return s
}

// Backend implements retrieval.VectorStore.
func (s *StaticVectorStore) Backend() string { return "static" }

// Search implements retrieval.VectorStore.
func (s *StaticVectorStore) Search(ctx context.Context, query string, k int) ([]envelope.Passage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	call := len(s.ks)
	s.ks = append(s.ks, k)
	if s.Error != nil {
		return nil, s.Error
	}
	if len(s.Results) == 0 {
		return []envelope.Passage{}, nil
	}
	if call >= len(s.Results) {
		call = len(s.Results) - 1
	}
	result := s.Results[call]
	if len(result) > k {
		result = result[:k]
	}
	return append([]envelope.Passage(nil), result...), nil
}

// RequestedK returns the k of every query so far.
func (s *StaticVectorStore) RequestedK() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.ks...)
}

// NewPassage builds a passage with source, doc id and chunk id derived from source.
func NewPassage(source, content string) envelope.Passage {
	return envelope.Passage{
		Content: content,
		Metadata: envelope.PassageMetadata{
			Source:  source,
			DocID:   "doc-" + source,
			ChunkID: "doc-" + source + "-0",
		},
	}
}

// =============================================================================
// MOCK PROFILE STORE
// =============================================================================

// MemoryProfileStore implements profile.Store in memory.
type MemoryProfileStore struct {
	Profile   envelope.Profile
	LoadError error
	SaveError error
	SaveCount int

	mu sync.Mutex
}

// NewMemoryProfileStore creates a store holding p.
func NewMemoryProfileStore(p envelope.Profile) *MemoryProfileStore {
	return &MemoryProfileStore{Profile: p}
}

// Load implements profile.Store.
func (s *MemoryProfileStore) Load(ctx context.Context) (envelope.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.LoadError != nil {
		return envelope.Profile{}, s.LoadError
	}
	return s.Profile.Clone(), nil
}

// Save implements profile.Store.
func (s *MemoryProfileStore) Save(ctx context.Context, p envelope.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SaveCount++
	if s.SaveError != nil {
		return s.SaveError
	}
	s.Profile = p.Clone()
	return nil
}

// Reset implements profile.Store.
func (s *MemoryProfileStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Profile = envelope.Profile{}
	return nil
}

// Snapshot returns a copy of the stored profile.
func (s *MemoryProfileStore) Snapshot() envelope.Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Profile.Clone()
}

// =============================================================================
// MOCK EVENT CONTEXT
// =============================================================================

// MockEventContext captures stage events for assertion.
type MockEventContext struct {
	// Events captures all emitted events.
	Events []StageEvent

	// Error causes emit methods to return this error.
	Error error

	mu sync.Mutex
}

// StageEvent represents a captured event.
type StageEvent struct {
	Type       string
	TurnID     string
	Stage      envelope.NodeID
	Status     string
	DurationMS int
	Error      error
	Timestamp  time.Time
}

// NewMockEventContext creates a MockEventContext.
func NewMockEventContext() *MockEventContext {
	return &MockEventContext{Events: make([]StageEvent, 0)}
}

// EmitStageStarted records a stage started event.
func (m *MockEventContext) EmitStageStarted(turnID string, stage envelope.NodeID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Error != nil {
		return m.Error
	}
	m.Events = append(m.Events, StageEvent{Type: "started", TurnID: turnID, Stage: stage, Timestamp: time.Now()})
	return nil
}

// EmitStageCompleted records a stage completed event.
func (m *MockEventContext) EmitStageCompleted(turnID string, stage envelope.NodeID, status string, durationMS int, err error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Error != nil {
		return m.Error
	}
	m.Events = append(m.Events, StageEvent{
		Type:       "completed",
		TurnID:     turnID,
		Stage:      stage,
		Status:     status,
		DurationMS: durationMS,
		Error:      err,
		Timestamp:  time.Now(),
	})
	return nil
}

// GetStartedStages returns the stages that were started, in order.
func (m *MockEventContext) GetStartedStages() []envelope.NodeID {
	m.mu.Lock()
	defer m.mu.Unlock()

	var names []envelope.NodeID
	for _, e := range m.Events {
		if e.Type == "started" {
			names = append(names, e.Stage)
		}
	}
	return names
}

// =============================================================================
// MOCK LOGGER
// =============================================================================

// MockLogger implements agents.Logger for testing.
type MockLogger struct {
	// Logs captures all log entries.
	Logs []LogEntry

	mu sync.Mutex
}

// LogEntry represents a captured log entry.
type LogEntry struct {
	Level   string
	Message string
	Fields  map[string]any
}

// NewMockLogger creates a MockLogger.
func NewMockLogger() *MockLogger {
	return &MockLogger{Logs: make([]LogEntry, 0)}
}

func (m *MockLogger) Debug(msg string, keysAndValues ...any) { m.log("debug", msg, keysAndValues...) }
func (m *MockLogger) Info(msg string, keysAndValues ...any)  { m.log("info", msg, keysAndValues...) }
func (m *MockLogger) Warn(msg string, keysAndValues ...any)  { m.log("warn", msg, keysAndValues...) }
func (m *MockLogger) Error(msg string, keysAndValues ...any) { m.log("error", msg, keysAndValues...) }

func (m *MockLogger) Bind(fields ...any) agents.Logger {
	return m
}

func (m *MockLogger) log(level, msg string, keysAndValues ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fields := make(map[string]any)
	for i := 0; i < len(keysAndValues)-1; i += 2 {
		if key, ok := keysAndValues[i].(string); ok {
			fields[key] = keysAndValues[i+1]
		}
	}
	m.Logs = append(m.Logs, LogEntry{Level: level, Message: msg, Fields: fields})
}

// HasLog checks if a log message exists at the given level.
func (m *MockLogger) HasLog(level, message string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, log := range m.Logs {
		if log.Level == level && log.Message == message {
			return true
		}
	}
	return false
}

// =============================================================================
// ASSERTION HELPERS
// =============================================================================

// AssertCitationsSound checks that every cited source belongs to a retrieved passage.
func AssertCitationsSound(state *envelope.ConversationState) error {
	known := make(map[string]bool, len(state.Passages))
	for _, p := range state.Passages {
		known[p.SourceName()] = true
	}
	for _, src := range state.CitedSources {
		if !known[src] {
			return fmt.Errorf("cited source %q is not among the retrieved passages", src)
		}
	}
	return nil
}

// AssertKMonotonic checks that k never decreases across the iteration history.
func AssertKMonotonic(state *envelope.ConversationState) error {
	for i := 1; i < len(state.History); i++ {
		if state.History[i].K < state.History[i-1].K {
			return fmt.Errorf("k decreased from %d to %d at history entry %d",
				state.History[i-1].K, state.History[i].K, i)
		}
	}
	return nil
}
