package typeutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// NUMERIC CONVERSION TESTS
// =============================================================================

func TestSafeFloat64(t *testing.T) {
	tests := []struct {
		name   string
		input  any
		want   float64
		wantOK bool
	}{
		{"float64", 3.8, 3.8, true},
		{"int", 4, 4, true},
		{"int64", int64(120), 120, true},
		{"decimal comma string", "3,8", 3.8, true},
		{"decimal point string", " 4.25 ", 4.25, true},
		{"non numeric string", "cuatro", 0, false},
		{"nil", nil, 0, false},
		{"bool", true, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := SafeFloat64(tt.input)
			assert.Equal(t, tt.wantOK, ok)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestSafeInt(t *testing.T) {
	tests := []struct {
		name   string
		input  any
		want   int
		wantOK bool
	}{
		{"int", 7, 7, true},
		{"float64 truncates", 7.9, 7, true},
		{"string", "120", 120, true},
		{"bad string", "12a", 0, false},
		{"nil", nil, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := SafeInt(tt.input)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

// =============================================================================
// STRUCTURED VALUE TESTS
// =============================================================================

func TestSafeMapStringAny(t *testing.T) {
	got, ok := SafeMapStringAny(map[string]any{"k": 1})
	require.True(t, ok)
	assert.Equal(t, 1, got["k"])

	_, ok = SafeMapStringAny(nil)
	assert.False(t, ok)

	_, ok = SafeMapStringAny("not a map")
	assert.False(t, ok)
}

func TestSafeStringMap(t *testing.T) {
	t.Run("typed map", func(t *testing.T) {
		got, ok := SafeStringMap(map[string]string{"PAPA": "Promedio"})
		require.True(t, ok)
		assert.Equal(t, "Promedio", got["PAPA"])
	})

	t.Run("decoded json map skips non strings", func(t *testing.T) {
		got, ok := SafeStringMap(map[string]any{"PAPA": "Promedio", "N": 3.0})
		require.True(t, ok)
		assert.Equal(t, map[string]string{"PAPA": "Promedio"}, got)
	})

	t.Run("wrong type", func(t *testing.T) {
		_, ok := SafeStringMap([]string{"x"})
		assert.False(t, ok)
	})
}

func TestSafeString(t *testing.T) {
	s, ok := SafeString("x")
	assert.True(t, ok)
	assert.Equal(t, "x", s)
	assert.Equal(t, "fallback", SafeStringDefault(3, "fallback"))

	_, ok = SafeString(nil)
	assert.False(t, ok)
}
