package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jeeves-cluster-organization/groundedrag/commbus"
	"github.com/jeeves-cluster-organization/groundedrag/coreengine/config"
	"github.com/jeeves-cluster-organization/groundedrag/coreengine/envelope"
	"github.com/jeeves-cluster-organization/groundedrag/coreengine/llm"
	"github.com/jeeves-cluster-organization/groundedrag/coreengine/logging"
	"github.com/jeeves-cluster-organization/groundedrag/coreengine/profile"
	"github.com/jeeves-cluster-organization/groundedrag/coreengine/prompts"
	"github.com/jeeves-cluster-organization/groundedrag/coreengine/retrieval"
	"github.com/jeeves-cluster-organization/groundedrag/coreengine/runtime"
	"github.com/jeeves-cluster-organization/groundedrag/coreengine/tools"
)

// app is a fully wired orchestrator and the collaborators behind it.
type app struct {
	orch     *runtime.Orchestrator
	store    retrieval.VectorStore
	profiles profile.Store
	tools    *tools.ToolExecutor
	closers  []func() error
}

// buildApp wires models, retrieval and the profile store from settings.
func buildApp(ctx context.Context, settings *config.Settings, bus commbus.CommBus, logger *logging.ZapLogger) (*app, error) {
	embedder, err := retrieval.NewEmbedder(ctx,
		settings.Embedding.Provider,
		settings.APIKey(settings.Embedding.Provider),
		settings.Embedding.Model,
		settings.Embedding.CacheSize,
	)
	if err != nil {
		return nil, fmt.Errorf("build embedder: %w", err)
	}
	store, err := retrieval.NewVectorStore(settings.VectorStore, embedder)
	if err != nil {
		return nil, fmt.Errorf("open vector store: %w", err)
	}

	profiles, closeProfiles, err := profile.NewStore(settings.Profile, logger)
	if err != nil {
		return nil, fmt.Errorf("open profile store: %w", err)
	}
	a := &app{store: store, profiles: profiles, closers: []func() error{closeProfiles}}

	models, err := runtime.ModelsFromFactory(ctx, llm.NewFactory(settings))
	if err != nil {
		a.close()
		return nil, err
	}
	registry, err := prompts.NewRegistry()
	if err != nil {
		a.close()
		return nil, err
	}

	deps := runtime.Dependencies{
		Models:      models,
		Prompts:     registry,
		Retriever:   retrieval.NewRetriever(store, logger),
		Profiles:    profiles,
		Logger:      logger,
		SummaryTool: settings.Tools.SummaryTool,
	}
	if a.tools, err = runtime.NewTools(deps); err != nil {
		a.close()
		return nil, err
	}
	deps.Tools = a.tools

	stages, err := runtime.NewStages(deps)
	if err != nil {
		a.close()
		return nil, err
	}

	a.orch, err = runtime.NewOrchestrator("groundedrag", stages, bus, logger)
	if err != nil {
		a.close()
		return nil, err
	}
	a.orch.DefaultMaxIterations = settings.MaxIterations
	return a, nil
}

// newServeBus builds the bus behind serve. Failing vector store checks open
// the HealthCheckRequest circuit, so Health answers Unavailable without
// searching again until the reset timeout passes.
func newServeBus(logger *logging.ZapLogger) *commbus.InMemoryCommBus {
	bus := commbus.NewInMemoryCommBus(5*time.Second, logger)
	bus.AddMiddleware(commbus.NewLoggingMiddleware(logger))
	bus.AddMiddleware(commbus.NewCircuitBreakerMiddleware(3, 30*time.Second, []string{"HealthCheckRequest"}, logger))
	return bus
}

// registerHealth answers HealthCheckRequest queries for the vector store
// and the profile store. A failing vector store search is an error.
func (a *app) registerHealth(bus commbus.CommBus) error {
	return bus.RegisterHandler("HealthCheckRequest", func(ctx context.Context, msg commbus.Message) (any, error) {
		req, ok := msg.(*commbus.HealthCheckRequest)
		if !ok {
			return nil, fmt.Errorf("unexpected message %T", msg)
		}
		resp := &commbus.HealthCheckResponse{Component: req.Component, Status: commbus.HealthStatusHealthy}

		switch req.Component {
		case "vector_store":
			resp.Details = map[string]string{"backend": a.store.Backend()}
			if _, err := a.store.Search(ctx, "reglamento", 1); err != nil {
				return nil, fmt.Errorf("vector store %s: %w", a.store.Backend(), err)
			}
		case "profile":
			p, err := a.profiles.Load(ctx)
			if err != nil {
				resp.Status = commbus.HealthStatusDegraded
				resp.Details = map[string]string{"error": err.Error()}
			} else {
				resp.Details = map[string]string{"glossary_terms": strconv.Itoa(len(p.Glossary()))}
			}
		default:
			return nil, fmt.Errorf("unknown component %q", req.Component)
		}
		return resp, nil
	})
}

// resetProfile clears the stored profile document.
func (a *app) resetProfile(ctx context.Context) error {
	return a.profiles.Reset(ctx)
}

func (a *app) close() {
	for _, c := range a.closers {
		_ = c()
	}
}

// traceDocument is the audit view printed by ask --trace.
type traceDocument struct {
	Intent           envelope.Intent            `json:"intent"`
	K                int                        `json:"k"`
	KSource          string                     `json:"k_source,omitempty"`
	RetrievedChunks  []envelope.TraceRecord     `json:"retrieved_chunks"`
	FinalPrompt      string                     `json:"final_prompt,omitempty"`
	GroundingVerdict envelope.GroundingVerdict  `json:"grounding_verdict"`
	RetryCount       int                        `json:"retry_count"`
	IterationHistory []envelope.IterationRecord `json:"iteration_history"`
	TerminalReason   envelope.TerminalReason    `json:"terminal_reason"`
	ProviderFailure  *envelope.ProviderFailure  `json:"provider_failure,omitempty"`
}

func newTraceDocument(state *envelope.ConversationState) traceDocument {
	doc := traceDocument{
		Intent:           state.Intent,
		K:                state.K,
		KSource:          state.KSource,
		RetrievedChunks:  state.RetrievalTrace,
		FinalPrompt:      state.FinalPrompt,
		GroundingVerdict: state.Verdict,
		RetryCount:       state.IterationCount,
		IterationHistory: state.History,
		TerminalReason:   state.TerminalReason,
	}
	if state.ProviderFailure.Occurred {
		failure := state.ProviderFailure
		doc.ProviderFailure = &failure
	}
	return doc
}
