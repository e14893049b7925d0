package runtime

import (
	"github.com/jeeves-cluster-organization/groundedrag/coreengine/envelope"
)

// NextNode returns the node that follows current given the state the
// current node produced. It is pure and never inspects anything but state.
func NextNode(current envelope.NodeID, state *envelope.ConversationState) envelope.NodeID {
	switch current {
	case envelope.NodeProfileLoad:
		return envelope.NodeProfileUpdate
	case envelope.NodeProfileUpdate:
		return envelope.NodeToolsPre
	case envelope.NodeToolsPre:
		if state.ToolHandled {
			return envelope.NodeEnd
		}
		return envelope.NodeIntentClassify
	case envelope.NodeIntentClassify:
		if state.Intent.NeedsRetrieval() && !state.MemoryUpdated {
			return envelope.NodeAdaptiveSize
		}
		return envelope.NodeDirectAnswer
	case envelope.NodeAdaptiveSize:
		return envelope.NodeRetrieve
	case envelope.NodeRetrieve:
		return envelope.NodeToolsPost
	case envelope.NodeToolsPost:
		if state.ToolHandled {
			return envelope.NodeEnd
		}
		return envelope.NodeGenerate
	case envelope.NodeGenerate:
		return envelope.NodeEvaluate
	case envelope.NodeEvaluate:
		if state.Decision == envelope.DecisionRetry {
			return envelope.NodeRetrieve
		}
		return envelope.NodeEnd
	default:
		return envelope.NodeEnd
	}
}

// terminalReason resolves why a turn that reached the end node finished.
// A provider failure outranks a tool answer, which may itself be the
// apology for a failed summary.
func terminalReason(state *envelope.ConversationState) envelope.TerminalReason {
	switch {
	case state.ProviderFailure.Occurred:
		return envelope.TerminalReasonProviderFailure
	case state.ToolHandled:
		return envelope.TerminalReasonToolHandled
	default:
		return envelope.TerminalReasonCompleted
	}
}
