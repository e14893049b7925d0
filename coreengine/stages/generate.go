package stages

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/jeeves-cluster-organization/groundedrag/coreengine/agents"
	"github.com/jeeves-cluster-organization/groundedrag/coreengine/envelope"
	"github.com/jeeves-cluster-organization/groundedrag/coreengine/llm"
	"github.com/jeeves-cluster-organization/groundedrag/coreengine/prompts"
	"github.com/jeeves-cluster-organization/groundedrag/coreengine/retrieval"
	"github.com/jeeves-cluster-organization/groundedrag/coreengine/tools"
	"github.com/jeeves-cluster-organization/groundedrag/coreengine/typeutil"
)

type generatorClaim struct {
	Claim         string `json:"claim"`
	SupportDocIDs []any  `json:"support_doc_ids"`
}

type generatorOutput struct {
	Answer               string           `json:"answer"`
	InsufficientEvidence bool             `json:"insufficient_evidence"`
	Claims               []generatorClaim `json:"claims"`
}

// Generate drafts an answer strictly from the retrieved passages.
type Generate struct {
	modelStage
}

// NewGenerate creates the stage.
func NewGenerate(provider llm.Provider, registry *prompts.Registry, logger agents.Logger) *Generate {
	return &Generate{modelStage{provider: provider, prompts: registry, logger: logger}}
}

// Process implements agents.Processor.
func (s *Generate) Process(ctx context.Context, state *envelope.ConversationState) (*envelope.ConversationState, error) {
	out := state.Clone()
	out.Claims = nil
	out.ClarificationRequested = false
	out.CitedSources = []string{}

	if out.Question == "" {
		out.Answer = envelope.MsgNoQuestion
		return out, nil
	}
	if len(out.Passages) == 0 {
		out.Answer = envelope.MsgInsufficientEvidence
		out.FinalPrompt = ""
		return out, nil
	}

	hint := out.Question
	if plan := out.Profile.PlanCode(); plan != "" {
		hint += "\nPlan: " + plan
	}
	if needs, codes := tools.NeedsPlanClarification(joinContents(out.Passages), hint); needs {
		out.Answer = planClarification(codes)
		out.ClarificationRequested = true
		s.logger.Info("plan_clarification_requested", "plans", strings.Join(codes, ","))
		return out, nil
	}

	prompt, err := s.prompts.Get(promptForIntent(out.Intent), map[string]any{
		"question": out.Question,
		"context":  generatorContext(out.Passages),
		"glossary": glossaryBlock(out.Profile),
	})
	if err != nil {
		return nil, err
	}
	out.FinalPrompt = prompt

	result, err := llm.GenerateJSON[generatorOutput](ctx, s.provider, prompt)
	if err != nil {
		if isMalformed(err) {
			s.logger.Warn("generator_output_malformed", "error", err.Error())
			out.Answer = envelope.MsgInsufficientEvidence
			return out, nil
		}
		s.logger.Warn("generator_provider_failure", "error", err.Error())
		recordProviderFailure(out, envelope.NodeGenerate, err)
		return out, nil
	}

	claims := validClaims(result.Claims, len(out.Passages))
	answer := strings.TrimSpace(result.Answer)
	if result.InsufficientEvidence || len(claims) == 0 || answer == "" {
		out.Answer = envelope.MsgInsufficientEvidence
		return out, nil
	}

	out.Claims = claims
	used := usedPassageIDs(claims)
	sources := make([]string, 0, len(used))
	for _, id := range used {
		p, _ := out.PassageByID(id)
		sources = append(sources, p.SourceName())
	}
	out.SetCitedSources(sources)
	out.Answer = renderAnswer(answer, claims, used, out.Passages, out.RetrievalTrace)
	return out, nil
}

func promptForIntent(intent envelope.Intent) string {
	switch intent {
	case envelope.IntentSummary:
		return prompts.KeyRAGSummary
	case envelope.IntentComparison:
		return prompts.KeyRAGCompare
	default:
		return prompts.KeyRAGAnswer
	}
}

func planClarification(codes []string) string {
	return "Necesito aclarar el plan de estudios para responder con precisión.\n" +
		"En los documentos aparecen varios planes: " + strings.Join(codes, ", ") + ".\n" +
		"Indica el plan (por ejemplo, 3306 o 3302) y continúo."
}

func joinContents(passages []envelope.Passage) string {
	parts := make([]string, len(passages))
	for i, p := range passages {
		parts[i] = p.Content
	}
	return strings.Join(parts, "\n")
}

func generatorContext(passages []envelope.Passage) string {
	blocks := make([]string, len(passages))
	for i, p := range passages {
		blocks[i] = fmt.Sprintf("[DOC %d] source=%s | doc_id=%s | chunk_id=%s\nContenido:\n%s",
			i+1, p.SourceName(), p.DocIDOrSource(), p.ChunkIDOrDefault(),
			retrieval.Snippet(p.Content, GeneratorContextLimit))
	}
	return strings.Join(blocks, "\n\n")
}

// validClaims keeps claims with text and at least one in-range passage id.
func validClaims(raw []generatorClaim, passages int) []envelope.Claim {
	var out []envelope.Claim
	for _, rc := range raw {
		text := strings.TrimSpace(rc.Claim)
		if text == "" {
			continue
		}
		var ids []int
		for _, v := range rc.SupportDocIDs {
			id, ok := parseDocID(v)
			if !ok || id < 1 || id > passages || slices.Contains(ids, id) {
				continue
			}
			ids = append(ids, id)
		}
		if len(ids) == 0 {
			continue
		}
		out = append(out, envelope.Claim{Text: text, PassageIDs: ids})
	}
	return out
}

// parseDocID accepts 3, "3" and "DOC 3".
func parseDocID(v any) (int, bool) {
	if s, ok := v.(string); ok {
		s = strings.TrimSpace(strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(s)), "DOC"))
		return typeutil.SafeInt(s)
	}
	return typeutil.SafeInt(v)
}

func usedPassageIDs(claims []envelope.Claim) []int {
	var ids []int
	for _, c := range claims {
		ids = append(ids, c.PassageIDs...)
	}
	slices.Sort(ids)
	return slices.Compact(ids)
}

func renderAnswer(answer string, claims []envelope.Claim, used []int, passages []envelope.Passage, trace []envelope.TraceRecord) string {
	var b strings.Builder
	b.WriteString(answer)

	b.WriteString("\n\nAfirmaciones con soporte:")
	for _, c := range claims {
		refs := make([]string, len(c.PassageIDs))
		for i, id := range c.PassageIDs {
			refs[i] = fmt.Sprintf("DOC %d: %s", id, passages[id-1].DisplayTitle())
		}
		fmt.Fprintf(&b, "\n- %s [%s]", c.Text, strings.Join(refs, "; "))
	}

	b.WriteString("\n\nCitas:")
	for _, id := range used {
		p := passages[id-1]
		fmt.Fprintf(&b, "\n> [DOC %d] \"%s\" (source: %s)", id, retrieval.Snippet(p.Content, QuoteLimit), p.SourceName())
	}

	b.WriteString("\n\n")
	b.WriteString(TraceBlock(trace))
	return b.String()
}

// TraceBlock renders the retrieval audit appended to grounded answers.
func TraceBlock(trace []envelope.TraceRecord) string {
	if len(trace) == 0 {
		return "Trazabilidad:\n- No hubo documentos recuperados."
	}
	lines := []string{"Trazabilidad:", "Documentos recuperados:"}
	for _, r := range trace {
		page := r.Page
		if page == "" {
			page = "n/a"
		}
		lines = append(lines,
			fmt.Sprintf("- rank=%d | doc_id=%s | chunk_id=%s | page=%s | source=%s", r.Rank, r.DocID, r.ChunkID, page, r.Source),
			"  fragmento: "+r.Snippet,
		)
	}
	return strings.Join(lines, "\n")
}
