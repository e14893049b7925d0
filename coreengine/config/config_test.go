package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeeves-cluster-organization/groundedrag/coreengine/envelope"
)

// =============================================================================
// SETTINGS TESTS
// =============================================================================

// Test loading settings with nothing but defaults.
func TestLoadSettingsDefaults(t *testing.T) {
	s, err := LoadSettings("")
	require.NoError(t, err)

	assert.Equal(t, "docs", s.DocsPath)
	assert.Equal(t, 50, s.MinDocs)
	assert.Equal(t, 2, s.MaxIterations)
	assert.Equal(t, "chromem", s.VectorStore.Backend)
	assert.Equal(t, "db/chroma_db", s.VectorStore.Path)
	assert.Equal(t, "file", s.Profile.Backend)
	assert.True(t, s.Tools.SummaryTool)

	for _, name := range RequiredRoles() {
		assert.Contains(t, s.Roles, name)
	}
	assert.Equal(t, ProviderGroq, s.Role(RoleRouter).Provider)
	assert.Equal(t, "gemini-2.5-flash", s.Role(RoleGroundingEvaluator).Model)
	assert.InDelta(t, 0.2, s.Role(RoleDirect).Temperature, 1e-9)
}

// Test that historical environment names are honoured.
func TestLoadSettingsLegacyEnv(t *testing.T) {
	t.Setenv("UNAL_RAG_DOCS_PATH", "/srv/normativa")
	t.Setenv("UNAL_RAG_MIN_DOCS", "7")
	t.Setenv("GROQ_API_KEY", "gsk-test")

	s, err := LoadSettings("")
	require.NoError(t, err)

	assert.Equal(t, "/srv/normativa", s.DocsPath)
	assert.Equal(t, 7, s.MinDocs)
	assert.Equal(t, "gsk-test", s.APIKey(ProviderGroq))
	assert.Empty(t, s.APIKey("unknown"))
}

// Test that prefixed environment variables override nested keys.
func TestLoadSettingsPrefixedEnv(t *testing.T) {
	t.Setenv("GROUNDEDRAG_LOGGING_LEVEL", "debug")
	t.Setenv("GROUNDEDRAG_MAX_ITERATIONS", "3")

	s, err := LoadSettings("")
	require.NoError(t, err)

	assert.Equal(t, "debug", s.Logging.Level)
	assert.Equal(t, 3, s.MaxIterations)
}

// Test reading an explicit YAML file.
func TestLoadSettingsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "groundedrag.yaml")
	content := `
docs_path: corpus
vector_store:
  backend: weaviate
  weaviate_host: localhost:8080
roles:
  direct:
    provider: openai
    model: gpt-4o-mini
    temperature: 0.5
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	s, err := LoadSettings(path)
	require.NoError(t, err)

	assert.Equal(t, "corpus", s.DocsPath)
	assert.Equal(t, "weaviate", s.VectorStore.Backend)
	assert.Equal(t, ProviderOpenAI, s.Role(RoleDirect).Provider)
	assert.Equal(t, "gpt-4o-mini", s.Role(RoleDirect).Model)
	// Untouched roles keep their defaults.
	assert.Equal(t, ProviderGemini, s.Role(RoleRAGGeneration).Provider)
}

// Test that a missing explicit file is an error.
func TestLoadSettingsMissingFile(t *testing.T) {
	_, err := LoadSettings(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestSettingsValidate(t *testing.T) {
	valid := func() *Settings {
		return &Settings{
			DocsPath:      "docs",
			MaxIterations: 2,
			VectorStore:   VectorStoreSettings{Backend: "chromem", Collection: "normativa", WeaviateScheme: "http"},
			Embedding:     EmbeddingSettings{Provider: "openai"},
			Profile:       ProfileSettings{Backend: "file", Path: "memory.json"},
			Logging:       LoggingSettings{Level: "info"},
			Server:        ServerSettings{Addr: ":50051"},
			Roles:         DefaultRoles(),
		}
	}

	tests := []struct {
		name   string
		mutate func(s *Settings)
	}{
		{"unknown vector backend", func(s *Settings) { s.VectorStore.Backend = "faiss" }},
		{"weaviate without host", func(s *Settings) { s.VectorStore.Backend = "weaviate" }},
		{"unknown profile backend", func(s *Settings) { s.Profile.Backend = "redis" }},
		{"negative iterations", func(s *Settings) { s.MaxIterations = -1 }},
		{"bad log level", func(s *Settings) { s.Logging.Level = "trace" }},
		{"missing role", func(s *Settings) { delete(s.Roles, RoleKSelector) }},
		{"bad role provider", func(s *Settings) {
			s.Roles[RoleRouter] = RoleConfig{Provider: "anthropic", Model: "x"}
		}},
	}

	require.NoError(t, valid().Validate())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid()
			tt.mutate(s)
			err := s.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidSettings)
		})
	}
}

// =============================================================================
// GRAPH CONFIG TESTS
// =============================================================================

func TestNewGraphConfig(t *testing.T) {
	g := NewGraphConfig("turn", 2)
	require.NoError(t, g.Validate())

	assert.Equal(t, 2, g.MaxIterations)
	assert.Equal(t, 17, g.MaxHops)

	limit, ok := g.GetEdgeLimit("evaluate", "retrieve")
	require.True(t, ok)
	assert.Equal(t, 2, limit)

	_, ok = g.GetEdgeLimit("retrieve", "tools_post")
	assert.False(t, ok)
}

func TestNewGraphConfigClampsNegative(t *testing.T) {
	g := NewGraphConfig("turn", -4)
	require.NoError(t, g.Validate())
	assert.Equal(t, 0, g.MaxIterations)

	limit, ok := g.GetEdgeLimit("evaluate", "retrieve")
	require.True(t, ok)
	assert.Equal(t, 0, limit)
}

func TestNewGraphConfigClampsHuge(t *testing.T) {
	for _, n := range []int{envelope.MaxIterationsLimit + 1, 1_000_000_000_000, 1 << 62} {
		g := NewGraphConfig("turn", n)
		require.NoError(t, g.Validate())
		assert.Equal(t, envelope.MaxIterationsLimit, g.MaxIterations)
		assert.Equal(t, 9+4*envelope.MaxIterationsLimit, g.MaxHops)
	}
}

func TestGraphConfigValidate(t *testing.T) {
	t.Run("missing name", func(t *testing.T) {
		g := NewGraphConfig("", 1)
		assert.Error(t, g.Validate())
	})

	t.Run("zero hops", func(t *testing.T) {
		g := NewGraphConfig("turn", 1)
		g.MaxHops = 0
		assert.Error(t, g.Validate())
	})

	t.Run("edge without endpoint", func(t *testing.T) {
		g := NewGraphConfig("turn", 1)
		g.EdgeLimits = append(g.EdgeLimits, EdgeLimit{From: "evaluate", MaxCount: 1})
		assert.Error(t, g.Validate())
	})
}

// Test edge lookup before Validate has indexed the limits.
func TestGraphConfigGetEdgeLimitUnvalidated(t *testing.T) {
	g := &GraphConfig{EdgeLimits: []EdgeLimit{{From: "a", To: "b", MaxCount: 5}}}

	limit, ok := g.GetEdgeLimit("a", "b")
	require.True(t, ok)
	assert.Equal(t, 5, limit)

	_, ok = (&GraphConfig{}).GetEdgeLimit("a", "b")
	assert.False(t, ok)
}
