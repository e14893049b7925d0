package profile

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/jeeves-cluster-organization/groundedrag/coreengine/envelope"
)

// fieldRule extracts one profile fact. The first matching pattern wins.
type fieldRule struct {
	key      string
	patterns []*regexp.Regexp
	parse    func(string) (any, bool)
}

var fieldRules = []fieldRule{
	{
		key: envelope.ProfileKeyPromedio,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)(?:promedio|papa)(?:\s+es(?:\s+de)?|\s*[:=]|\s+de)\s*([0-9]+(?:[.,][0-9]+)?)`),
		},
		parse: parseDecimal,
	},
	{
		key: envelope.ProfileKeyCreditos,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)cr[eé]ditos?(?:\s+aprobados|\s*[:=])\s*([0-9]+)`),
			regexp.MustCompile(`(?i)([0-9]+)\s+cr[eé]ditos?\s+aprobados`),
		},
		parse: parseInt,
	},
	{
		key: envelope.ProfileKeySemestres,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)semestre(?:\s+actual|\s+es|\s*[:=])\s*(?:el\s+)?([0-9]+)`),
		},
		parse: parseInt,
	},
	{
		key: envelope.ProfileKeyPrograma,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)programa(?:\s+es|\s*[:=])\s*([A-Za-zÁÉÍÓÚÜÑáéíóúüñ\s-]{3,})`),
		},
		parse: func(s string) (any, bool) {
			s = strings.TrimSpace(s)
			return s, s != ""
		},
	},
}

var (
	glossaryPattern   = regexp.MustCompile(`(?i)\b([A-ZÁÉÍÓÚÜÑ]{2,})\s+es\s+([^\n.]{4,})`)
	planCodePattern   = regexp.MustCompile(`\b(3[0-9]{3})\b`)
	memoryVerbPattern = regexp.MustCompile(`(?i)\b(recuerda|recordar|guarda|guardar|almacena|almacenar|memoriza|ten en cuenta)\b`)
	myAveragePattern  = regexp.MustCompile(`\bmi\s+(papa|promedio)\b`)
	mySemesterPattern = regexp.MustCompile(`\bmi\s+semestre\b`)
	myProgramPattern  = regexp.MustCompile(`\bmi\s+programa\b`)
	digitPattern      = regexp.MustCompile(`[0-9]`)
	letterPattern     = regexp.MustCompile(`\pL`)
)

// memoryIntentRules decide, in order, whether a message asks to remember
// something. lower is the lower-cased message.
var memoryIntentRules = []struct {
	name  string
	match func(lower string) bool
}{
	{"memory_verb", func(lower string) bool { return memoryVerbPattern.MatchString(lower) }},
	{"my_average", func(lower string) bool {
		return myAveragePattern.MatchString(lower) && digitPattern.MatchString(lower)
	}},
	{"my_semester", func(lower string) bool {
		return mySemesterPattern.MatchString(lower) && digitPattern.MatchString(lower)
	}},
	{"my_program", func(lower string) bool {
		return myProgramPattern.MatchString(lower) && strings.Contains(lower, " es ")
	}},
	{"have_credits", func(lower string) bool {
		return strings.Contains(lower, "tengo") &&
			(strings.Contains(lower, "creditos") || strings.Contains(lower, "créditos") || strings.Contains(lower, "semestre"))
	}},
}

// Extraction is what a single message says about the user.
type Extraction struct {
	Facts        map[string]any
	Glossary     map[string]string
	PlanCode     string
	MemoryIntent bool
}

// Empty reports whether nothing was extracted.
func (e Extraction) Empty() bool {
	return len(e.Facts) == 0 && len(e.Glossary) == 0 && e.PlanCode == ""
}

// Apply returns a copy of p with the extraction merged in.
func (e Extraction) Apply(p envelope.Profile) envelope.Profile {
	out := p.Clone()
	for k, v := range e.Facts {
		out[k] = v
	}
	for term, def := range e.Glossary {
		out.SetGlossaryTerm(term, def)
	}
	if e.PlanCode != "" {
		out[envelope.ProfileKeyPlanCode] = e.PlanCode
	}
	return out
}

// Extract reads profile facts, glossary entries and a plan code from message.
func Extract(message string) Extraction {
	message = strings.TrimSpace(message)
	ex := Extraction{Facts: map[string]any{}, Glossary: map[string]string{}}
	if message == "" {
		return ex
	}

	for _, rule := range fieldRules {
		for _, re := range rule.patterns {
			m := re.FindStringSubmatch(message)
			if m == nil {
				continue
			}
			if v, ok := rule.parse(m[1]); ok {
				ex.Facts[rule.key] = v
				break
			}
		}
	}

	ex.MemoryIntent = HasMemoryIntent(message)

	if term, def, ok := glossaryEntry(message, ex.MemoryIntent); ok {
		ex.Glossary[term] = def
	}

	if m := planCodePattern.FindStringSubmatch(message); m != nil {
		ex.PlanCode = m[1]
	}
	return ex
}

// glossaryWords look like "X es Y" terms but are questions or profile fields.
var glossaryWords = map[string]bool{
	"CUAL": true, "CUÁL": true, "QUE": true, "QUÉ": true, "QUIEN": true, "QUIÉN": true,
	"COMO": true, "CÓMO": true, "DONDE": true, "DÓNDE": true, "CUANDO": true, "CUÁNDO": true,
	"ESTO": true, "ESO": true, "ESTE": true, "ESTA": true, "ESE": true, "ESA": true,
	"EL": true, "LA": true, "LO": true, "MI": true, "TU": true, "SU": true,
	"PROMEDIO": true, "PROGRAMA": true, "SEMESTRE": true, "PLAN": true, "CREDITOS": true, "CRÉDITOS": true,
}

// glossaryEntry finds the first "TERM es definition" pair. A term written in
// lower case only counts when the message asks to remember it.
func glossaryEntry(message string, memoryIntent bool) (term, def string, ok bool) {
	for _, m := range glossaryPattern.FindAllStringSubmatch(message, -1) {
		raw := strings.TrimSpace(m[1])
		term = strings.ToUpper(raw)
		def = strings.TrimSpace(m[2])
		if glossaryWords[term] {
			continue
		}
		if raw != term && !memoryIntent {
			continue
		}
		// Numeric values are profile facts ("PAPA es 4.1"), not definitions.
		if digitPattern.MatchString(def) || !letterPattern.MatchString(def) {
			continue
		}
		return term, def, true
	}
	return "", "", false
}

// HasMemoryIntent reports whether message asks to store something about the
// user, either with an explicit verb or a first-person profile statement.
func HasMemoryIntent(message string) bool {
	lower := strings.ToLower(message)
	for _, rule := range memoryIntentRules {
		if rule.match(lower) {
			return true
		}
	}
	return false
}

func parseDecimal(s string) (any, bool) {
	f, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
	return f, err == nil
}

func parseInt(s string) (any, bool) {
	n, err := strconv.Atoi(s)
	return n, err == nil
}
