// Package envelope provides the conversation state enums and the ConversationState record.
//
// Routing is driven by NodeID values; every node reads the state it is given
// and returns an updated copy (see ConversationState.Clone).
package envelope

import "strings"

// Retrieval size bounds and retry policy constants.
const (
	KMin                 = 2
	KMax                 = 8
	DefaultK             = 4
	RetryKStep           = 2
	DefaultMaxIterations = 2
	MaxIterationsLimit   = 10
)

// Intent is the normalized label assigned to a question.
type Intent string

const (
	// IntentLookup locates a specific rule, article or requirement.
	IntentLookup Intent = "lookup"
	// IntentSummary synthesizes normative content.
	IntentSummary Intent = "summary"
	// IntentComparison contrasts rules or conditions.
	IntentComparison Intent = "comparison"
	// IntentGeneral needs no retrieval.
	IntentGeneral Intent = "general"
)

var intentAliases = map[string]Intent{
	"lookup":           IntentLookup,
	"busqueda":         IntentLookup,
	"búsqueda":         IntentLookup,
	"search":           IntentLookup,
	"summary":          IntentSummary,
	"resumen":          IntentSummary,
	"comparison":       IntentComparison,
	"comparacion":      IntentComparison,
	"comparación":      IntentComparison,
	"compare":          IntentComparison,
	"general":          IntentGeneral,
	"consulta_general": IntentGeneral,
	"consulta general": IntentGeneral,
}

// ParseIntent normalizes a raw label. Unknown labels map to IntentGeneral.
func ParseIntent(raw string) Intent {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(raw)), "-", "_")
	if intent, ok := intentAliases[normalized]; ok {
		return intent
	}
	return IntentGeneral
}

// NeedsRetrieval reports whether the intent is answered from the corpus.
func (i Intent) NeedsRetrieval() bool {
	return i == IntentLookup || i == IntentSummary || i == IntentComparison
}

// DefaultKForIntent returns the retrieval size used when no model estimate is available.
func DefaultKForIntent(intent Intent) int {
	switch intent {
	case IntentComparison:
		return 6
	case IntentSummary:
		return 5
	default:
		return DefaultK
	}
}

// ClampIterations bounds a retry budget to [0, MaxIterationsLimit].
func ClampIterations(n int) int {
	return min(max(n, 0), MaxIterationsLimit)
}

// ClampK bounds k to [KMin, KMax].
func ClampK(k int) int {
	if k < KMin {
		return KMin
	}
	if k > KMax {
		return KMax
	}
	return k
}

// Decision is the routing decision taken by the grounding evaluator.
type Decision string

const (
	DecisionNone  Decision = ""
	DecisionRetry Decision = "retry"
	DecisionEnd   Decision = "end"
)

// FailureReason classifies model provider failures.
type FailureReason string

const (
	FailureRateLimited       FailureReason = "rate_limited"
	FailureConnectionFailure FailureReason = "connection_failure"
)

// NodeID names a node of the workflow graph.
type NodeID string

const (
	NodeProfileLoad    NodeID = "profile_load"
	NodeProfileUpdate  NodeID = "profile_update"
	NodeToolsPre       NodeID = "tools_pre"
	NodeIntentClassify NodeID = "intent_classify"
	NodeAdaptiveSize   NodeID = "adaptive_size"
	NodeRetrieve       NodeID = "retrieve"
	NodeToolsPost      NodeID = "tools_post"
	NodeGenerate       NodeID = "generate"
	NodeEvaluate       NodeID = "evaluate"
	NodeDirectAnswer   NodeID = "direct_answer"
	NodeEnd            NodeID = "end"
)

// AllNodes lists every executable node in graph order.
func AllNodes() []NodeID {
	return []NodeID{
		NodeProfileLoad,
		NodeProfileUpdate,
		NodeToolsPre,
		NodeIntentClassify,
		NodeAdaptiveSize,
		NodeRetrieve,
		NodeToolsPost,
		NodeGenerate,
		NodeEvaluate,
		NodeDirectAnswer,
	}
}

// TerminalReason represents why a turn ended - exactly one per turn.
type TerminalReason string

const (
	// TerminalReasonCompleted indicates the graph reached its end node.
	TerminalReasonCompleted TerminalReason = "completed"
	// TerminalReasonToolHandled indicates a deterministic tool answered the turn.
	TerminalReasonToolHandled TerminalReason = "tool_handled"
	// TerminalReasonProviderFailure indicates a model provider was unavailable.
	TerminalReasonProviderFailure TerminalReason = "provider_failure"
	// TerminalReasonMaxLoopExceeded indicates an edge or hop bound was hit.
	TerminalReasonMaxLoopExceeded TerminalReason = "max_loop_exceeded"
	// TerminalReasonStageFailed indicates a stage returned an unexpected error.
	TerminalReasonStageFailed TerminalReason = "stage_failed"
)
