package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// Test that key/value pairs and bound fields reach the core.
func TestZapLoggerFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := NewFromZap(zap.New(core))

	bound := logger.Bind("stage", "retrieve")
	bound.Info("retrieve_completed", "k", 4, "passages", 3)
	logger.Debug("debug_event")
	logger.Warn("warn_event", "reason", "empty")
	logger.Error("error_event", "error", "boom")

	require.Equal(t, 4, logs.Len())

	entry := logs.All()[0]
	assert.Equal(t, "retrieve_completed", entry.Message)
	fields := entry.ContextMap()
	assert.Equal(t, "retrieve", fields["stage"])
	assert.EqualValues(t, 4, fields["k"])
	assert.EqualValues(t, 3, fields["passages"])

	assert.Equal(t, zapcore.WarnLevel, logs.All()[2].Level)
	assert.Equal(t, zapcore.ErrorLevel, logs.All()[3].Level)
}

// Test that the file core writes JSON lines.
func TestNewWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "groundedrag.log")

	logger, err := New(Options{Level: "info", File: path, JSON: true})
	require.NoError(t, err)

	logger.Debug("hidden_event")
	logger.Info("turn_completed", "terminal_reason", "completed")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"turn_completed"`)
	assert.Contains(t, string(data), `"terminal_reason":"completed"`)
	assert.NotContains(t, string(data), "hidden_event")
}

// Test that an unknown level falls back to info.
func TestNewUnknownLevel(t *testing.T) {
	logger, err := New(Options{Level: "verbose"})
	require.NoError(t, err)
	assert.NotNil(t, logger)
}

func TestNop(t *testing.T) {
	logger := Nop()
	logger.Info("ignored", "k", 1)
	assert.NotNil(t, logger.Bind("a", "b"))
}
