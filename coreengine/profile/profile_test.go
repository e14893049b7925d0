package profile

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeeves-cluster-organization/groundedrag/coreengine/config"
	"github.com/jeeves-cluster-organization/groundedrag/coreengine/envelope"
	"github.com/jeeves-cluster-organization/groundedrag/coreengine/logging"
)

// =============================================================================
// STORE TESTS
// =============================================================================

func storesUnderTest(t *testing.T) map[string]Store {
	t.Helper()
	badgerStore, err := OpenBadgerStore("", logging.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = badgerStore.Close() })

	return map[string]Store{
		"file":   NewFileStore(filepath.Join(t.TempDir(), "db", "memory.json")),
		"badger": badgerStore,
	}
}

func TestStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			p, err := store.Load(ctx)
			require.NoError(t, err)
			assert.Empty(t, p)

			doc := envelope.DefaultProfile()
			doc[envelope.ProfileKeyPromedio] = 4.1
			doc[envelope.ProfileKeyCreditos] = 120
			require.NoError(t, store.Save(ctx, doc))

			loaded, err := store.Load(ctx)
			require.NoError(t, err)
			avg, ok := loaded.Float(envelope.ProfileKeyPromedio)
			assert.True(t, ok)
			assert.InDelta(t, 4.1, avg, 1e-9)
			credits, ok := loaded.Int(envelope.ProfileKeyCreditos)
			assert.True(t, ok)
			assert.Equal(t, 120, credits)
			assert.Equal(t, "Promedio Aritmético Ponderado Acumulado", loaded.Glossary()["PAPA"])
		})
	}
}

func TestStore_SaveReplacesWholeDocument(t *testing.T) {
	ctx := context.Background()
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Save(ctx, envelope.Profile{"promedio": 3.5, "semestres": 4}))
			require.NoError(t, store.Save(ctx, envelope.Profile{"promedio": 3.9}))

			loaded, err := store.Load(ctx)
			require.NoError(t, err)
			_, hasSemesters := loaded["semestres"]
			assert.False(t, hasSemesters)
		})
	}
}

func TestStore_Reset(t *testing.T) {
	ctx := context.Background()
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Save(ctx, envelope.Profile{"promedio": 3.5}))
			require.NoError(t, store.Reset(ctx))

			loaded, err := store.Load(ctx)
			require.NoError(t, err)
			assert.Empty(t, loaded)

			require.NoError(t, store.Reset(ctx))
		})
	}
}

func TestFileStore_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	p, err := NewFileStore(path).Load(context.Background())
	assert.ErrorIs(t, err, ErrCorruptProfile)
	assert.NotNil(t, p)
	assert.Empty(t, p)
}

func TestFileStore_EmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.json")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	p, err := NewFileStore(path).Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, p)
}

func TestFileStore_WritesReadableJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.json")
	store := NewFileStore(path)
	require.NoError(t, store.Save(context.Background(), envelope.DefaultProfile()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Aritmético")
	assert.Contains(t, string(data), "\n  ")

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFileStore_ConcurrentSaves(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "memory.json"))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, store.Save(ctx, envelope.Profile{"semestres": i}))
		}(i)
	}
	wg.Wait()

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	_, ok := loaded.Int("semestres")
	assert.True(t, ok)
}

func TestNewStore(t *testing.T) {
	store, closer, err := NewStore(config.ProfileSettings{Backend: "file", Path: filepath.Join(t.TempDir(), "m.json")}, logging.Nop())
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, store)
	assert.NoError(t, closer())

	store, closer, err = NewStore(config.ProfileSettings{Backend: "badger", Path: t.TempDir()}, logging.Nop())
	require.NoError(t, err)
	assert.IsType(t, &BadgerStore{}, store)
	assert.NoError(t, closer())

	_, _, err = NewStore(config.ProfileSettings{Backend: "redis"}, logging.Nop())
	assert.Error(t, err)
}

// =============================================================================
// EXTRACTION TESTS
// =============================================================================

func TestExtract_Facts(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    map[string]any
	}{
		{"average with es", "Mi promedio es 4,2", map[string]any{"promedio": 4.2}},
		{"papa with colon", "PAPA: 3.8", map[string]any{"promedio": 3.8}},
		{"credits with colon", "creditos: 98", map[string]any{"creditos_aprobados": 98}},
		{"credits before noun", "tengo 120 créditos aprobados", map[string]any{"creditos_aprobados": 120}},
		{"semester", "mi semestre actual 6", map[string]any{"semestres": 6}},
		{"program", "mi programa es Ingeniería de Sistemas", map[string]any{"programa": "Ingeniería de Sistemas"}},
		{"combined", "recuerda que mi promedio es 4.0 y creditos aprobados 80", map[string]any{"promedio": 4.0, "creditos_aprobados": 80}},
		{"nothing", "¿Cuál es el reglamento de matrícula?", map[string]any{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Extract(tt.message).Facts)
		})
	}
}

func TestExtract_Glossary(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    map[string]string
	}{
		{"acronym", "Recuerda que SIA es el Sistema de Informacion Academica", map[string]string{"SIA": "el Sistema de Informacion Academica"}},
		{"lowercase term with memory verb", "recuerda que tfg es trabajo final de grado", map[string]string{"TFG": "trabajo final de grado"}},
		{"acronym without memory verb", "SIA es el sistema academico", map[string]string{"SIA": "el sistema academico"}},
		{"lowercase term without memory verb", "tfg es trabajo final de grado", map[string]string{}},
		{"numeric value", "PAPA es 4.1 ahora", map[string]string{}},
		{"numeric value lowercase", "recuerda que papa es 4,1 ahora", map[string]string{}},
		{"question word", "¿Cuál es el reglamento de matrícula?", map[string]string{}},
		{"profile field", "recuerda que mi programa es Medicina", map[string]string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Extract(tt.message).Glossary)
		})
	}
}

func TestExtract_LowercaseGlossaryIsSaved(t *testing.T) {
	ex := Extract("recuerda que tfg es trabajo final de grado")
	assert.True(t, ex.MemoryIntent)
	assert.False(t, ex.Empty())
	assert.Equal(t, "trabajo final de grado", ex.Apply(envelope.DefaultProfile()).Glossary()["TFG"])
}

func TestExtract_PlanCode(t *testing.T) {
	assert.Equal(t, "3534", Extract("estoy en el plan 3534").PlanCode)
	assert.Equal(t, "", Extract("en 2024 cambie de plan").PlanCode)
}

func TestHasMemoryIntent(t *testing.T) {
	tests := []struct {
		message string
		want    bool
	}{
		{"Guarda mi promedio 4.1", true},
		{"ten en cuenta que curso ingenieria", true},
		{"mi papa es 3.9", true},
		{"mi semestre es el 5", true},
		{"mi programa es Medicina", true},
		{"tengo 100 creditos", true},
		{"¿Qué dice el acuerdo sobre el promedio?", false},
		{"mi programa", false},
	}
	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			assert.Equal(t, tt.want, HasMemoryIntent(tt.message))
		})
	}
}

func TestExtraction_Apply(t *testing.T) {
	base := envelope.DefaultProfile()
	ex := Extract("recuerda: mi promedio es 4.5, plan 3534, SIA es el sistema academico")

	updated := ex.Apply(base)

	assert.False(t, ex.Empty())
	assert.Equal(t, 4.5, updated["promedio"])
	assert.Equal(t, "3534", updated.PlanCode())
	assert.Contains(t, updated.Glossary(), "SIA")
	assert.Contains(t, updated.Glossary(), "PAPA")
	_, touched := base["promedio"]
	assert.False(t, touched)
}
