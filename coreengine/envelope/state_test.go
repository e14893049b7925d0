package envelope

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// ENUM TESTS
// =============================================================================

func TestParseIntent(t *testing.T) {
	tests := []struct {
		raw  string
		want Intent
	}{
		{"busqueda", IntentLookup},
		{" Search ", IntentLookup},
		{"resumen", IntentSummary},
		{"summary", IntentSummary},
		{"comparacion", IntentComparison},
		{"compare", IntentComparison},
		{"consulta-general", IntentGeneral},
		{"consulta general", IntentGeneral},
		{"chit-chat", IntentGeneral},
		{"", IntentGeneral},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseIntent(tt.raw))
		})
	}
}

func TestIntentNeedsRetrieval(t *testing.T) {
	assert.True(t, IntentLookup.NeedsRetrieval())
	assert.True(t, IntentSummary.NeedsRetrieval())
	assert.True(t, IntentComparison.NeedsRetrieval())
	assert.False(t, IntentGeneral.NeedsRetrieval())
}

func TestDefaultKForIntent(t *testing.T) {
	assert.Equal(t, 6, DefaultKForIntent(IntentComparison))
	assert.Equal(t, 5, DefaultKForIntent(IntentSummary))
	assert.Equal(t, 4, DefaultKForIntent(IntentLookup))
	assert.Equal(t, DefaultK, DefaultKForIntent(IntentGeneral))
}

func TestClampK(t *testing.T) {
	for k := -3; k <= 12; k++ {
		got := ClampK(k)
		assert.GreaterOrEqual(t, got, KMin)
		assert.LessOrEqual(t, got, KMax)
	}
	assert.Equal(t, 5, ClampK(5))
	assert.Equal(t, KMax, ClampK(KMax+RetryKStep))
}

func TestClampIterations(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{-1, 0},
		{0, 0},
		{2, 2},
		{MaxIterationsLimit, MaxIterationsLimit},
		{1_000_000_000_000, MaxIterationsLimit},
		{1 << 62, MaxIterationsLimit},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClampIterations(tt.in), "ClampIterations(%d)", tt.in)
	}
	assert.Equal(t, MaxIterationsLimit, NewConversationState("q", 1_000_000_000_000).MaxIterations)
}

// =============================================================================
// STATE TESTS
// =============================================================================

func TestNewConversationState(t *testing.T) {
	s := NewConversationState("  ¿Qué es el PAPA?  ", -1)

	assert.NotEmpty(t, s.TurnID)
	assert.Equal(t, "¿Qué es el PAPA?", s.Question)
	assert.Equal(t, 0, s.MaxIterations)
	assert.Equal(t, DefaultK, s.K)
	assert.NotNil(t, s.Passages)
	assert.NotNil(t, s.History)
	assert.NotNil(t, s.CitedSources)
}

func TestCloneIsDeep(t *testing.T) {
	score := 0.9
	s := NewConversationState("q", 2)
	s.Profile = DefaultProfile()
	s.Passages = []Passage{{Content: "a", Score: &score}}
	s.Claims = []Claim{{Text: "c", PassageIDs: []int{1}}}
	s.History = []IterationRecord{{Iteration: 0, K: 4, Decision: DecisionRetry}}
	s.ToolResult = map[string]any{"promedio": 4.0}
	s.Verdict.UnsupportedClaims = []string{"x"}

	c := s.Clone()
	require.True(t, cmp.Equal(s, c), cmp.Diff(s, c))

	c.Profile.SetGlossaryTerm("SIA", "Sistema de Informacion Academica")
	c.Passages[0].Content = "changed"
	c.Claims[0].PassageIDs[0] = 9
	c.History = append(c.History, IterationRecord{Iteration: 1})
	c.ToolResult["promedio"] = 1.0
	c.Verdict.UnsupportedClaims[0] = "y"

	assert.NotContains(t, s.Profile.Glossary(), "SIA")
	assert.Equal(t, "a", s.Passages[0].Content)
	assert.Equal(t, 1, s.Claims[0].PassageIDs[0])
	assert.Len(t, s.History, 1)
	assert.Equal(t, 4.0, s.ToolResult["promedio"])
	assert.Equal(t, "x", s.Verdict.UnsupportedClaims[0])
}

func TestSetCitedSourcesDeduplicates(t *testing.T) {
	s := NewConversationState("q", 2)
	s.SetCitedSources([]string{"b.pdf", "a.pdf", "b.pdf", "", "c.pdf", "a.pdf"})
	assert.Equal(t, []string{"b.pdf", "a.pdf", "c.pdf"}, s.CitedSources)
}

func TestRecordProviderFailure(t *testing.T) {
	s := NewConversationState("q", 2)
	s.CitedSources = []string{"a.pdf"}

	s.RecordProviderFailure(FailureRateLimited, "generate")

	assert.True(t, s.ProviderFailure.Occurred)
	assert.Equal(t, FailureRateLimited, s.ProviderFailure.Reason)
	assert.Equal(t, "generate", s.ProviderFailure.Source)
	assert.Equal(t, MsgRateLimited, s.Answer)
	assert.Empty(t, s.CitedSources)
}

func TestPassageByID(t *testing.T) {
	s := NewConversationState("q", 2)
	s.Passages = []Passage{{Content: "uno"}, {Content: "dos"}}

	p, ok := s.PassageByID(2)
	require.True(t, ok)
	assert.Equal(t, "dos", p.Content)

	_, ok = s.PassageByID(0)
	assert.False(t, ok)
	_, ok = s.PassageByID(3)
	assert.False(t, ok)
}

func TestPassageDefaults(t *testing.T) {
	p := Passage{}
	assert.Equal(t, "unknown_source", p.SourceName())
	assert.Equal(t, "unknown_source", p.DocIDOrSource())
	assert.Equal(t, "unknown_chunk", p.ChunkIDOrDefault())
	assert.Equal(t, "unknown_source", p.DisplayTitle())

	p.Metadata = PassageMetadata{Source: "acuerdo.pdf", Title: "Acuerdo 008"}
	assert.Equal(t, "acuerdo.pdf", p.DocIDOrSource())
	assert.Equal(t, "Acuerdo 008", p.DisplayTitle())
}

// =============================================================================
// PROFILE TESTS
// =============================================================================

func TestProfileAccessors(t *testing.T) {
	p := Profile{
		ProfileKeyPromedio: "3,9",
		ProfileKeyCreditos: 120.0,
		ProfileKeyPlanCode: 3306.0,
		ProfileKeyGlossary: map[string]any{"PAPA": "Promedio", "PA": "Promedio Academico"},
	}

	promedio, ok := p.Float(ProfileKeyPromedio)
	require.True(t, ok)
	assert.InDelta(t, 3.9, promedio, 1e-9)

	creditos, ok := p.Int(ProfileKeyCreditos)
	require.True(t, ok)
	assert.Equal(t, 120, creditos)

	_, ok = p.Float(ProfileKeySemestres)
	assert.False(t, ok)

	assert.Equal(t, "3306", p.PlanCode())
	assert.Equal(t, []string{"PA", "PAPA"}, p.GlossaryTerms())
}

func TestDefaultProfileSeedsGlossary(t *testing.T) {
	p := DefaultProfile()
	assert.Equal(t, "Promedio Aritmético Ponderado Acumulado", p.Glossary()["PAPA"])
}

func TestInsufficientEvidenceWithReason(t *testing.T) {
	msg := InsufficientEvidenceWithReason("¿Cuál es el plazo?", "sin contexto")
	assert.Contains(t, msg, "Consulta: ¿Cuál es el plazo?")
	assert.Contains(t, msg, "Motivo: sin contexto")
	assert.Contains(t, msg, "Sugerencia:")
}
