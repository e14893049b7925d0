package envelope

import (
	"sort"
	"strconv"

	"github.com/jeeves-cluster-organization/groundedrag/coreengine/typeutil"
)

// Profile document keys.
const (
	ProfileKeyPromedio  = "promedio"
	ProfileKeyCreditos  = "creditos_aprobados"
	ProfileKeySemestres = "semestres"
	ProfileKeyPrograma  = "programa"
	ProfileKeyGlossary  = "glossary"
	ProfileKeyPlanCode  = "plan_code"
)

// Profile is the persisted user profile document.
// Values are loosely typed because the document round-trips through JSON.
type Profile map[string]any

// DefaultProfile returns the document used when no profile exists yet.
func DefaultProfile() Profile {
	return Profile{
		ProfileKeyGlossary: map[string]any{
			"PAPA": "Promedio Aritmético Ponderado Acumulado",
		},
	}
}

// Clone deep-copies the profile, including the glossary.
func (p Profile) Clone() Profile {
	if p == nil {
		return Profile{}
	}
	out := make(Profile, len(p))
	for k, v := range p {
		out[k] = v
	}
	if glossary, ok := typeutil.SafeStringMap(p[ProfileKeyGlossary]); ok {
		copied := make(map[string]any, len(glossary))
		for term, def := range glossary {
			copied[term] = def
		}
		out[ProfileKeyGlossary] = copied
	}
	return out
}

// Float returns a numeric profile fact.
func (p Profile) Float(key string) (float64, bool) {
	v, exists := p[key]
	if !exists {
		return 0, false
	}
	return typeutil.SafeFloat64(v)
}

// Int returns an integer profile fact.
func (p Profile) Int(key string) (int, bool) {
	v, exists := p[key]
	if !exists {
		return 0, false
	}
	return typeutil.SafeInt(v)
}

// String returns a text profile fact.
func (p Profile) String(key string) string {
	return typeutil.SafeStringDefault(p[key], "")
}

// Glossary returns the term definitions. Never nil.
func (p Profile) Glossary() map[string]string {
	if glossary, ok := typeutil.SafeStringMap(p[ProfileKeyGlossary]); ok {
		return glossary
	}
	return map[string]string{}
}

// GlossaryTerms returns the glossary terms sorted.
func (p Profile) GlossaryTerms() []string {
	glossary := p.Glossary()
	terms := make([]string, 0, len(glossary))
	for term := range glossary {
		terms = append(terms, term)
	}
	sort.Strings(terms)
	return terms
}

// SetGlossaryTerm adds or replaces a definition.
func (p Profile) SetGlossaryTerm(term, definition string) {
	glossary := make(map[string]any)
	for k, v := range p.Glossary() {
		glossary[k] = v
	}
	glossary[term] = definition
	p[ProfileKeyGlossary] = glossary
}

// PlanCode returns the remembered study plan code, if any.
func (p Profile) PlanCode() string {
	if code, ok := typeutil.SafeString(p[ProfileKeyPlanCode]); ok {
		return code
	}
	if code, ok := typeutil.SafeInt(p[ProfileKeyPlanCode]); ok {
		return strconv.Itoa(code)
	}
	return ""
}
