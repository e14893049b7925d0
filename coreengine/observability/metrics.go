// Package observability provides Prometheus metrics instrumentation for the coreengine.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// TURN METRICS
// =============================================================================

var (
	turnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "groundedrag_turns_total",
			Help: "Total number of conversation turns",
		},
		[]string{"terminal_reason"}, // completed, tool_handled, provider_failure, ...
	)

	turnDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "groundedrag_turn_duration_seconds",
			Help:    "Turn duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"intent"},
	)
)

// =============================================================================
// STAGE METRICS
// =============================================================================

var (
	stageExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "groundedrag_stage_executions_total",
			Help: "Total number of stage executions",
		},
		[]string{"stage", "status"}, // status: success, error
	)

	stageDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "groundedrag_stage_duration_seconds",
			Help:    "Stage execution duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"stage"},
	)
)

// =============================================================================
// LLM METRICS
// =============================================================================

var (
	llmCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "groundedrag_llm_calls_total",
			Help: "Total number of model API calls",
		},
		[]string{"provider", "model", "status"}, // status: success, error, rate_limited
	)

	llmDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "groundedrag_llm_duration_seconds",
			Help:    "Model call duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"provider", "model"},
	)

	providerFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "groundedrag_provider_failures_total",
			Help: "Turns ended by a model provider failure",
		},
		[]string{"reason", "stage"},
	)
)

// =============================================================================
// RETRIEVAL AND GROUNDING METRICS
// =============================================================================

var (
	retrievalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "groundedrag_retrievals_total",
			Help: "Total number of vector store queries",
		},
		[]string{"backend", "status"}, // status: success, error, empty
	)

	retrievalK = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "groundedrag_retrieval_k",
			Help:    "Number of passages requested per retrieval",
			Buckets: []float64{2, 3, 4, 5, 6, 7, 8},
		},
	)

	groundingVerdictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "groundedrag_grounding_verdicts_total",
			Help: "Grounding evaluator decisions",
		},
		[]string{"decision", "grounded"},
	)

	toolShortCircuitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "groundedrag_tool_short_circuits_total",
			Help: "Turns answered by a deterministic tool",
		},
		[]string{"tool"},
	)
)

// =============================================================================
// GRPC METRICS
// =============================================================================

var (
	grpcRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "groundedrag_grpc_requests_total",
			Help: "Total gRPC requests",
		},
		[]string{"method", "status"}, // status: OK, InvalidArgument, Internal, etc.
	)

	grpcRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "groundedrag_grpc_request_duration_seconds",
			Help:    "gRPC request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"method"},
	)
)

// =============================================================================
// PUBLIC API
// =============================================================================

// RecordTurn records a finished turn.
func RecordTurn(terminalReason string, intent string, durationMS int) {
	turnsTotal.WithLabelValues(terminalReason).Inc()
	turnDurationSeconds.WithLabelValues(intent).Observe(float64(durationMS) / 1000.0)
}

// RecordStageExecution records stage execution metrics.
// This should be called after a stage completes.
func RecordStageExecution(stage string, status string, durationMS int) {
	stageExecutionsTotal.WithLabelValues(stage, status).Inc()
	stageDurationSeconds.WithLabelValues(stage).Observe(float64(durationMS) / 1000.0)
}

// RecordLLMCall records model call metrics.
func RecordLLMCall(provider string, model string, status string, durationMS int) {
	llmCallsTotal.WithLabelValues(provider, model, status).Inc()
	llmDurationSeconds.WithLabelValues(provider, model).Observe(float64(durationMS) / 1000.0)
}

// RecordProviderFailure records a turn ended by an unavailable provider.
func RecordProviderFailure(reason string, stage string) {
	providerFailuresTotal.WithLabelValues(reason, stage).Inc()
}

// RecordRetrieval records one vector store query.
func RecordRetrieval(backend string, status string, k int) {
	retrievalsTotal.WithLabelValues(backend, status).Inc()
	retrievalK.Observe(float64(k))
}

// RecordGroundingVerdict records an evaluator decision.
func RecordGroundingVerdict(decision string, grounded bool) {
	label := "false"
	if grounded {
		label = "true"
	}
	groundingVerdictsTotal.WithLabelValues(decision, label).Inc()
}

// RecordToolShortCircuit records a turn answered by a tool.
func RecordToolShortCircuit(tool string) {
	toolShortCircuitsTotal.WithLabelValues(tool).Inc()
}

// RecordGRPCRequest records gRPC request metrics.
// This should be called from gRPC interceptors.
func RecordGRPCRequest(method string, status string, durationMS int) {
	grpcRequestsTotal.WithLabelValues(method, status).Inc()
	grpcRequestDurationSeconds.WithLabelValues(method).Observe(float64(durationMS) / 1000.0)
}
