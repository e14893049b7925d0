package llm

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jeeves-cluster-organization/groundedrag/coreengine/observability"
)

// Instrumented records a span and call metrics around a provider.
type Instrumented struct {
	next Provider
}

// NewInstrumented wraps next.
func NewInstrumented(next Provider) *Instrumented {
	return &Instrumented{next: next}
}

func (i *Instrumented) ProviderName() string {
	name, _ := describe(i.next)
	return name
}

func (i *Instrumented) ModelName() string {
	_, model := describe(i.next)
	return model
}

// Generate implements Provider.
func (i *Instrumented) Generate(ctx context.Context, req Request) (string, error) {
	provider, model := describe(i.next)
	ctx, span := observability.Tracer().Start(ctx, "llm.generate",
		trace.WithAttributes(
			attribute.String("llm.provider", provider),
			attribute.String("llm.model", model),
			attribute.Bool("llm.json", req.JSON),
			attribute.Int("llm.prompt_chars", len(req.Prompt)),
		),
	)
	defer span.End()

	start := time.Now()
	text, err := i.next.Generate(ctx, req)
	durationMS := int(time.Since(start).Milliseconds())

	status := "success"
	if err != nil {
		status = "error"
		if pe, ok := AsProviderError(err); ok && pe.RateLimited() {
			status = "rate_limited"
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetAttributes(attribute.Int("llm.response_chars", len(text)))
		span.SetStatus(codes.Ok, status)
	}
	observability.RecordLLMCall(provider, model, status, durationMS)
	return text, err
}
