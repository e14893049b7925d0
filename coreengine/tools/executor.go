// Package tools provides the deterministic tools that can answer a turn
// without retrieval or generation.
package tools

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jeeves-cluster-organization/groundedrag/coreengine/envelope"
)

// Phase selects when a tool is considered.
type Phase string

const (
	// PhasePre tools run before intent classification.
	PhasePre Phase = "pre"
	// PhasePost tools run after retrieval and see the passages.
	PhasePost Phase = "post"
)

// Invocation is the input every tool receives.
type Invocation struct {
	Question string
	Lower    string
	Intent   envelope.Intent
	Profile  envelope.Profile
	Passages []envelope.Passage
	// Context is the numbered passage block, empty in the pre phase.
	Context string
}

// NewInvocation builds an Invocation from the turn state.
func NewInvocation(state *envelope.ConversationState, phase Phase) Invocation {
	inv := Invocation{
		Question: state.Question,
		Lower:    strings.ToLower(state.Question),
		Intent:   state.Intent,
		Profile:  state.Profile,
	}
	if phase == PhasePost {
		inv.Passages = state.Passages
		inv.Context = NumberedContext(state.Passages)
	}
	return inv
}

// Outcome is a tool's terminal answer. Clarification requests are outcomes
// too, with an "error" entry in Result.
type Outcome struct {
	Answer string
	Result map[string]any
}

// ToolHandler computes an outcome. Errors are reserved for collaborator
// failures; missing operands produce a clarification Outcome.
type ToolHandler func(ctx context.Context, inv Invocation) (Outcome, error)

// ToolDefinition defines a tool's metadata, trigger and handler.
type ToolDefinition struct {
	Name        string
	Description string
	Phase       Phase
	Match       func(inv Invocation) bool
	Handler     ToolHandler
}

// ToolExecutor holds tools in registration order, which is also match order.
type ToolExecutor struct {
	tools map[string]*ToolDefinition
	order []string
	mu    sync.RWMutex
}

// NewToolExecutor creates a new ToolExecutor.
func NewToolExecutor() *ToolExecutor {
	return &ToolExecutor{
		tools: make(map[string]*ToolDefinition),
	}
}

// Register registers a tool. Re-registering a name replaces it in place.
func (e *ToolExecutor) Register(def *ToolDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool handler is required for '%s'", def.Name)
	}
	if def.Match == nil {
		return fmt.Errorf("tool matcher is required for '%s'", def.Name)
	}
	if def.Phase != PhasePre && def.Phase != PhasePost {
		return fmt.Errorf("tool '%s' has invalid phase %q", def.Name, def.Phase)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.tools[def.Name]; !exists {
		e.order = append(e.order, def.Name)
	}
	e.tools[def.Name] = def
	return nil
}

// Route runs the first tool of phase whose matcher accepts inv.
// ok is false when no tool matched.
func (e *ToolExecutor) Route(ctx context.Context, phase Phase, inv Invocation) (name string, out Outcome, ok bool, err error) {
	for _, def := range e.phaseTools(phase) {
		if !def.Match(inv) {
			continue
		}
		out, err = def.Handler(ctx, inv)
		return def.Name, out, true, err
	}
	return "", Outcome{}, false, nil
}

func (e *ToolExecutor) phaseTools(phase Phase) []*ToolDefinition {
	e.mu.RLock()
	defer e.mu.RUnlock()

	defs := make([]*ToolDefinition, 0, len(e.order))
	for _, name := range e.order {
		if def := e.tools[name]; def.Phase == phase {
			defs = append(defs, def)
		}
	}
	return defs
}

// List returns all registered tool names in match order.
func (e *ToolExecutor) List() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	names := make([]string, len(e.order))
	copy(names, e.order)
	return names
}

// ToolRegistry is what the tool stages need from a tool set.
type ToolRegistry interface {
	Route(ctx context.Context, phase Phase, inv Invocation) (string, Outcome, bool, error)
	List() []string
}

var _ ToolRegistry = (*ToolExecutor)(nil)

// NumberedContext renders passages as "[DOC i]" blocks for post tools.
func NumberedContext(passages []envelope.Passage) string {
	blocks := make([]string, 0, len(passages))
	for i, p := range passages {
		blocks = append(blocks, fmt.Sprintf("[DOC %d]\n%s", i+1, p.Content))
	}
	return strings.Join(blocks, "\n\n")
}
