package tools

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/jeeves-cluster-organization/groundedrag/coreengine/envelope"
)

// Tool names, also used as ConversationState.ToolName.
const (
	ToolStudentStatus  = "student_status"
	ToolAverage        = "average"
	ToolCreditGap      = "credit_gap"
	ToolDeadline       = "deadline"
	ToolGlossaryLookup = "glossary_lookup"
	ToolMentionCount   = "mention_count"
	ToolSummary        = "summary"
	ToolRequirements   = "requirements_check"
)

// Clarification and answer texts.
const (
	MsgNeedPAPA         = "Necesito tu PAPA actual para verificar la pérdida de calidad de estudiante."
	MsgNeedCredits      = "Indica creditos requeridos y creditos aprobados para calcular faltantes."
	MsgNeedDeadline     = "Indica fecha de inicio (YYYY-MM-DD) y numero de dias."
	MsgNeedTerm         = `Indica el termino exacto a contar, por ejemplo: "cancelacion".`
	MsgNeedRequirements = "No tengo suficientes datos de requisitos o tu perfil para verificar."
	MsgRequirementsMet  = "Cumples los requisitos con la informacion disponible."
)

// Summarizer condenses retrieved context for summary questions.
type Summarizer interface {
	Summarize(ctx context.Context, question, context string) (string, error)
}

// Options configures the default tool set.
type Options struct {
	// Summarizer enables the summary tool when non-nil.
	Summarizer Summarizer
}

var (
	requiredCreditsPattern = regexp.MustCompile(`requerid[oa]s?\s+([0-9]+)`)
	approvedCreditsPattern = regexp.MustCompile(`aprobad[oa]s?\s+([0-9]+)`)
	daysPattern            = regexp.MustCompile(`([0-9]+)\s*d[ií]as?`)
	definitionPattern      = regexp.MustCompile(`(?i)(?:qu[eé]\s+es|qu[eé]\s+significa|define)\s+(?:el\s+|la\s+)?([A-Za-zÁÉÍÓÚÜÑáéíóúüñ]{2,})`)
	quotedTermPattern      = regexp.MustCompile(`"([^"]{3,})"`)
	mentionsOfPattern      = regexp.MustCompile(`(?i)menciones\s+de\s+([A-Za-zÁÉÍÓÚÜÑáéíóúüñ\s-]{3,})`)
	requirementsPattern    = regexp.MustCompile(`cumpl(?:o|ir)\s+(?:con\s+)?(?:los\s+)?requisitos`)
)

var accentFolder = strings.NewReplacer("á", "a", "é", "e", "í", "i", "ó", "o", "ú", "u", "ü", "u")

// Fold lower-cases text and strips Spanish accents for keyword matching.
func Fold(text string) string {
	return accentFolder.Replace(strings.ToLower(text))
}

func clarification(msg string) Outcome {
	return Outcome{Answer: msg, Result: map[string]any{"error": "faltan datos"}}
}

// RegisterDefaults registers the built-in tools in match order.
func RegisterDefaults(e *ToolExecutor, opts Options) error {
	defs := []*ToolDefinition{
		{
			Name:        ToolStudentStatus,
			Description: "Checks loss of student status from the PAPA",
			Phase:       PhasePre,
			Match: func(inv Invocation) bool {
				lower := Fold(inv.Question)
				return strings.Contains(lower, "calidad") && strings.Contains(lower, "perd")
			},
			Handler: studentStatus,
		},
		{
			Name:        ToolAverage,
			Description: "Arithmetic mean of the grades in the question",
			Phase:       PhasePre,
			Match: func(inv Invocation) bool {
				lower := Fold(inv.Question)
				return (strings.Contains(lower, "calcular promedio") || strings.Contains(lower, "promedio de")) &&
					len(ExtractNumbers(inv.Question)) >= 2
			},
			Handler: average,
		},
		{
			Name:        ToolCreditGap,
			Description: "Credits still missing for a requirement",
			Phase:       PhasePre,
			Match: func(inv Invocation) bool {
				lower := Fold(inv.Question)
				return strings.Contains(lower, "creditos falt") || strings.Contains(lower, "faltan creditos")
			},
			Handler: creditGap,
		},
		{
			Name:        ToolDeadline,
			Description: "Deadline from a start date and a number of days",
			Phase:       PhasePre,
			Match: func(inv Invocation) bool {
				lower := Fold(inv.Question)
				return strings.Contains(lower, "plazo") || strings.Contains(lower, "fecha limite")
			},
			Handler: deadline,
		},
		{
			Name:        ToolGlossaryLookup,
			Description: "Definition of a term from the user glossary",
			Phase:       PhasePre,
			Match: func(inv Invocation) bool {
				_, _, ok := lookupTerm(inv)
				return ok
			},
			Handler: glossaryLookup,
		},
		{
			Name:        ToolMentionCount,
			Description: "Counts a term in the retrieved context",
			Phase:       PhasePost,
			Match: func(inv Invocation) bool {
				return len(inv.Passages) > 0 && strings.Contains(inv.Lower, "menciones")
			},
			Handler: mentionCount,
		},
	}

	if opts.Summarizer != nil {
		summarizer := opts.Summarizer
		defs = append(defs, &ToolDefinition{
			Name:        ToolSummary,
			Description: "Summarizes the retrieved context",
			Phase:       PhasePost,
			Match: func(inv Invocation) bool {
				return len(inv.Passages) > 0 && inv.Intent == envelope.IntentSummary
			},
			Handler: func(ctx context.Context, inv Invocation) (Outcome, error) {
				summary, err := summarizer.Summarize(ctx, inv.Question, inv.Context)
				if err != nil {
					return Outcome{}, err
				}
				return Outcome{Answer: summary, Result: map[string]any{"resumen": summary}}, nil
			},
		})
	}

	defs = append(defs, &ToolDefinition{
		Name:        ToolRequirements,
		Description: "Compares profile facts with thresholds in the retrieved context",
		Phase:       PhasePost,
		Match: func(inv Invocation) bool {
			return len(inv.Passages) > 0 && requirementsPattern.MatchString(Fold(inv.Question))
		},
		Handler: requirementsCheck,
	})

	for _, def := range defs {
		if err := e.Register(def); err != nil {
			return err
		}
	}
	return nil
}

// NewDefaultExecutor returns an executor with the built-in tools.
func NewDefaultExecutor(opts Options) (*ToolExecutor, error) {
	e := NewToolExecutor()
	if err := RegisterDefaults(e, opts); err != nil {
		return nil, err
	}
	return e, nil
}

func studentStatus(_ context.Context, inv Invocation) (Outcome, error) {
	var papa float64
	if nums := ExtractNumbers(inv.Question); len(nums) > 0 {
		papa = nums[0]
	} else if v, ok := inv.Profile.Float(envelope.ProfileKeyPromedio); ok {
		papa = v
	} else {
		return clarification(MsgNeedPAPA), nil
	}

	lost := LostStudentStatus(papa)
	answer := fmt.Sprintf("No. Con PAPA %.2f (≥ 3.0) no has perdido la calidad de estudiante.", papa)
	if lost {
		answer = fmt.Sprintf("Sí. Con PAPA %.2f (< 3.0) has perdido la calidad de estudiante.", papa)
	}
	return Outcome{Answer: answer, Result: map[string]any{"papa": papa, "perdio_calidad": lost}}, nil
}

func average(_ context.Context, inv Invocation) (Outcome, error) {
	value, err := Average(ExtractNumbers(inv.Question))
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{
		Answer: fmt.Sprintf("El promedio es %.2f.", value),
		Result: map[string]any{"promedio": value},
	}, nil
}

func creditGap(_ context.Context, inv Invocation) (Outcome, error) {
	lower := Fold(inv.Question)
	required, hasRequired := firstInt(requiredCreditsPattern, lower)
	approved, hasApproved := firstInt(approvedCreditsPattern, lower)
	if !hasApproved {
		approved, hasApproved = inv.Profile.Int(envelope.ProfileKeyCreditos)
	}
	if !hasRequired || !hasApproved {
		return clarification(MsgNeedCredits), nil
	}

	missing, err := MissingCredits(required, approved)
	if err != nil {
		return clarification(MsgNeedCredits), nil
	}
	return Outcome{
		Answer: fmt.Sprintf("Te faltan %d creditos.", missing),
		Result: map[string]any{"faltan": missing},
	}, nil
}

func deadline(_ context.Context, inv Invocation) (Outcome, error) {
	start, ok := ExtractDate(inv.Question)
	if !ok {
		return clarification(MsgNeedDeadline), nil
	}

	days, ok := firstInt(daysPattern, Fold(inv.Question))
	if !ok {
		rest := isoDatePattern.ReplaceAllString(inv.Question, " ")
		rest = dmyDatePattern.ReplaceAllString(rest, " ")
		nums := ExtractNumbers(rest)
		if len(nums) == 0 {
			return clarification(MsgNeedDeadline), nil
		}
		days = int(nums[len(nums)-1])
	}

	due, err := Deadline(start, days)
	if err != nil {
		return clarification(MsgNeedDeadline), nil
	}
	return Outcome{
		Answer: fmt.Sprintf("La fecha limite es %s.", due),
		Result: map[string]any{"fecha_limite": due},
	}, nil
}

func lookupTerm(inv Invocation) (term, definition string, ok bool) {
	m := definitionPattern.FindStringSubmatch(inv.Question)
	if m == nil {
		return "", "", false
	}
	term = strings.ToUpper(m[1])
	definition, ok = inv.Profile.Glossary()[term]
	return term, definition, ok
}

func glossaryLookup(_ context.Context, inv Invocation) (Outcome, error) {
	term, definition, ok := lookupTerm(inv)
	if !ok {
		return Outcome{}, fmt.Errorf("term not in glossary")
	}
	return Outcome{
		Answer: fmt.Sprintf("Según tu glosario, %s significa: %s.", term, definition),
		Result: map[string]any{"termino": term, "definicion": definition},
	}, nil
}

func mentionCount(_ context.Context, inv Invocation) (Outcome, error) {
	var term string
	if m := quotedTermPattern.FindStringSubmatch(inv.Question); m != nil {
		term = m[1]
	} else if m := mentionsOfPattern.FindStringSubmatch(inv.Question); m != nil {
		term = strings.TrimSpace(m[1])
	}
	if term == "" {
		return clarification(MsgNeedTerm), nil
	}

	count := CountMentions(inv.Context, term)
	return Outcome{
		Answer: fmt.Sprintf(`El termino "%s" aparece %d veces en el contexto recuperado.`, term, count),
		Result: map[string]any{"termino": term, "menciones": count},
	}, nil
}

func requirementsCheck(_ context.Context, inv Invocation) (Outcome, error) {
	req := ParseRequirements(inv.Context)
	record := StudentRecord{}
	if v, ok := inv.Profile.Float(envelope.ProfileKeyPromedio); ok {
		record.Average = &v
	}
	if v, ok := inv.Profile.Int(envelope.ProfileKeyCreditos); ok {
		record.Credits = &v
	}
	if v, ok := inv.Profile.Int(envelope.ProfileKeySemestres); ok {
		record.Semesters = &v
	}
	if req.Empty() || record.Empty() {
		return clarification(MsgNeedRequirements), nil
	}

	check := CheckRequirements(record, req)
	answer := MsgRequirementsMet
	if !check.Met {
		answer = fmt.Sprintf("No cumples los requisitos. Faltantes: %s.", strings.Join(check.Missing, ", "))
	}
	return Outcome{
		Answer: answer,
		Result: map[string]any{"cumple": check.Met, "faltantes": check.Missing},
	}, nil
}

func firstInt(re *regexp.Regexp, text string) (int, bool) {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	return n, err == nil
}
