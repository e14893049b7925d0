package stages

import (
	"context"
	"fmt"
	"strings"

	"github.com/jeeves-cluster-organization/groundedrag/coreengine/agents"
	"github.com/jeeves-cluster-organization/groundedrag/coreengine/envelope"
	"github.com/jeeves-cluster-organization/groundedrag/coreengine/llm"
	"github.com/jeeves-cluster-organization/groundedrag/coreengine/observability"
	"github.com/jeeves-cluster-organization/groundedrag/coreengine/prompts"
	"github.com/jeeves-cluster-organization/groundedrag/coreengine/retrieval"
)

// Evaluator reasons recorded in the iteration history.
const (
	ReasonNothingToVerify  = "No hay pregunta o respuesta para verificar."
	ReasonNoPassagesRetry  = "Sin documentos recuperados; se reintenta con k mas alto."
	ReasonNoContext        = "No se recupero contexto suficiente para validar la respuesta."
	ReasonMalformedVerdict = "No fue posible ejecutar verificacion estructurada."
	ReasonNotGrounded      = "No se pudo confirmar grounding completo tras agotar reintentos."
	ReasonClarification    = "Se solicito aclaracion del plan de estudios."
	ReasonProviderFailure  = "Proveedor de modelos no disponible."
)

const (
	emptyQuestionPlaceholder = "consulta vacia"
	maxReportedUnsupported   = 3
)

type verdictOutput struct {
	IsGrounded         bool     `json:"is_grounded"`
	Reason             string   `json:"reason"`
	CitationCompliance bool     `json:"citation_compliance"`
	UnsupportedClaims  []string `json:"unsupported_claims"`
}

// Evaluate judges whether the answer is supported by the passages and
// decides between retrying retrieval with a larger k and ending the turn.
type Evaluate struct {
	modelStage
}

// NewEvaluate creates the stage.
func NewEvaluate(provider llm.Provider, registry *prompts.Registry, logger agents.Logger) *Evaluate {
	return &Evaluate{modelStage{provider: provider, prompts: registry, logger: logger}}
}

// Process implements agents.Processor.
func (s *Evaluate) Process(ctx context.Context, state *envelope.ConversationState) (*envelope.ConversationState, error) {
	out := state.Clone()

	switch {
	case out.ProviderFailure.Occurred:
		s.finish(out, false, ReasonProviderFailure)
		return out, nil

	case out.ClarificationRequested:
		out.CitedSources = []string{}
		s.finish(out, false, ReasonClarification)
		return out, nil

	case out.Question == "" || strings.TrimSpace(out.Answer) == "":
		question := out.Question
		if question == "" {
			question = emptyQuestionPlaceholder
		}
		out.Answer = envelope.InsufficientEvidenceWithReason(question, ReasonNothingToVerify)
		out.CitedSources = []string{}
		s.finish(out, false, ReasonNothingToVerify)
		return out, nil

	case len(out.Passages) == 0:
		if out.CanRetry() {
			s.retry(out, ReasonNoPassagesRetry)
			return out, nil
		}
		out.Answer = envelope.InsufficientEvidenceWithReason(out.Question, ReasonNoContext)
		out.CitedSources = []string{}
		s.finish(out, false, ReasonNoContext)
		return out, nil
	}

	verdict, failed, err := s.judge(ctx, out)
	if err != nil {
		return nil, err
	}
	if failed {
		s.finish(out, false, ReasonProviderFailure)
		return out, nil
	}
	out.Verdict = verdict

	switch {
	case verdict.IsGrounded:
		s.finish(out, true, verdict.Reason)
	case out.CanRetry():
		s.retry(out, verdict.Reason)
	default:
		reason := verdict.Reason
		if reason == "" {
			reason = ReasonNotGrounded
		}
		if len(verdict.UnsupportedClaims) > 0 {
			listed := verdict.UnsupportedClaims
			if len(listed) > maxReportedUnsupported {
				listed = listed[:maxReportedUnsupported]
			}
			reason = fmt.Sprintf("%s | Afirmaciones sin soporte: %s", reason, strings.Join(listed, ", "))
		}
		out.Answer = envelope.InsufficientEvidenceWithReason(out.Question, reason)
		out.CitedSources = []string{}
		out.Claims = nil
		s.finish(out, false, reason)
	}
	return out, nil
}

// judge asks the model for a verdict. failed reports a provider failure,
// already recorded on state.
func (s *Evaluate) judge(ctx context.Context, state *envelope.ConversationState) (envelope.GroundingVerdict, bool, error) {
	prompt, err := s.prompts.Get(prompts.KeyGrounding, map[string]any{
		"question": state.Question,
		"context":  evaluatorContext(state.Passages),
		"answer":   state.Answer,
	})
	if err != nil {
		return envelope.GroundingVerdict{}, false, err
	}

	result, err := llm.GenerateJSON[verdictOutput](ctx, s.provider, prompt)
	if err != nil {
		if isMalformed(err) {
			s.logger.Warn("grounding_output_malformed", "error", err.Error())
			return envelope.GroundingVerdict{Reason: ReasonMalformedVerdict}, false, nil
		}
		s.logger.Warn("grounding_provider_failure", "error", err.Error())
		recordProviderFailure(state, envelope.NodeEvaluate, err)
		return envelope.GroundingVerdict{}, true, nil
	}

	unsupported := make([]string, 0, len(result.UnsupportedClaims))
	for _, c := range result.UnsupportedClaims {
		if c = strings.TrimSpace(c); c != "" {
			unsupported = append(unsupported, c)
		}
	}
	return envelope.GroundingVerdict{
		IsGrounded:         result.IsGrounded && result.CitationCompliance,
		Reason:             strings.TrimSpace(result.Reason),
		CitationCompliance: result.CitationCompliance,
		UnsupportedClaims:  unsupported,
	}, false, nil
}

// retry schedules another retrieval with a larger k.
func (s *Evaluate) retry(state *envelope.ConversationState, reason string) {
	state.IterationCount++
	state.K = envelope.ClampK(state.K + envelope.RetryKStep)
	state.Decision = envelope.DecisionRetry
	state.Verdict.IsGrounded = false
	state.Verdict.Reason = reason
	state.AppendIteration(envelope.IterationRecord{
		Iteration:  state.IterationCount,
		K:          state.K,
		IsGrounded: false,
		Decision:   envelope.DecisionRetry,
		Reason:     reason,
	})
	observability.RecordGroundingVerdict(string(envelope.DecisionRetry), false)
	s.logger.Info("grounding_retry", "iteration", state.IterationCount, "k", state.K, "reason", reason)
}

// finish ends the turn.
func (s *Evaluate) finish(state *envelope.ConversationState, grounded bool, reason string) {
	state.Decision = envelope.DecisionEnd
	state.Verdict.IsGrounded = grounded
	state.Verdict.Reason = reason
	state.AppendIteration(envelope.IterationRecord{
		Iteration:  state.IterationCount,
		K:          state.K,
		IsGrounded: grounded,
		Decision:   envelope.DecisionEnd,
		Reason:     reason,
	})
	observability.RecordGroundingVerdict(string(envelope.DecisionEnd), grounded)
}

func evaluatorContext(passages []envelope.Passage) string {
	blocks := make([]string, len(passages))
	for i, p := range passages {
		blocks[i] = fmt.Sprintf("[DOC %d] Fuente: %s\nContenido: %s",
			i+1, p.SourceName(), retrieval.Snippet(p.Content, EvaluatorContextLimit))
	}
	return strings.Join(blocks, "\n\n")
}
