// Package llm provides the model-call collaborator used by the workflow stages.
//
// Every backend implements Provider. Failures are returned as *ProviderError
// so callers can distinguish rate limiting from other unavailability without
// inspecting vendor error types.
package llm

import (
	"context"
)

// Request is one model invocation.
type Request struct {
	Prompt string
	// JSON asks the backend for a JSON object response.
	JSON bool
	// Temperature overrides the provider default when non-nil.
	Temperature *float64
}

// Provider generates text for a prompt.
type Provider interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Describer is implemented by providers that can report what they call.
type Describer interface {
	ProviderName() string
	ModelName() string
}

// describe returns provider and model labels for metrics and spans.
func describe(p Provider) (string, string) {
	if d, ok := p.(Describer); ok {
		return d.ProviderName(), d.ModelName()
	}
	return "unknown", "unknown"
}
