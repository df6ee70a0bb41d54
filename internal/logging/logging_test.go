package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLevel(in), in)
	}
}

func TestSetupJSONWithScopedLoggers(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	base := SetupWriter(Config{Format: "json", Level: "debug"}, &buf)

	WorkerLogger(RunLogger(base, "run-1"), 3).Debug("seeking", "range_start", 250)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "seeking", rec["msg"])
	assert.Equal(t, "run-1", rec["run_id"])
	assert.Equal(t, float64(3), rec["worker_id"])
	assert.Equal(t, float64(250), rec["range_start"])
}

func TestSetupFiltersBelowLevel(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	SetupWriter(Config{Format: "text", Level: "warn"}, &buf)
	Component("sender").Info("hidden")
	Component("sender").Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "component=sender")
}
