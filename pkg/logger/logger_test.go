package logger

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
	}{
		{"debug", DebugLevel},
		{"info", InfoLevel},
		{"warn", WarnLevel},
		{"warning", WarnLevel},
		{"ERROR", ErrorLevel},
		{" debug ", DebugLevel},
		{"unknown", InfoLevel},
		{"", InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseLevel(tt.input); got != tt.expected {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestLevel_String(t *testing.T) {
	assert.Equal(t, "debug", DebugLevel.String())
	assert.Equal(t, "warn", WarnLevel.String())
	assert.Equal(t, "unknown", Level(99).String())
}

func TestSlogLogger_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	log := New(&Config{Level: InfoLevel, Format: "json", Writer: &buf})

	log.Info("memory promoted", "entity_id", "luna", "id", "abc")
	out := buf.String()
	assert.Contains(t, out, `"message":"memory promoted"`)
	assert.Contains(t, out, `"level":"info"`)
	assert.Contains(t, out, `"entity_id":"luna"`)
}

func TestSlogLogger_SetLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(&Config{Level: InfoLevel, Format: "text", Writer: &buf})

	log.Debug("hidden")
	assert.Empty(t, buf.String())
	assert.Equal(t, InfoLevel, log.GetLevel())

	log.SetLevel(DebugLevel)
	assert.Equal(t, DebugLevel, log.GetLevel())
	log.Debug("visible")
	assert.Contains(t, buf.String(), "visible")
}

func TestSlogLogger_WithSharesLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(&Config{Level: WarnLevel, Format: "text", Writer: &buf})
	child := log.With("component", "tier_manager")

	child.Info("dropped")
	assert.Empty(t, buf.String())

	log.SetLevel(InfoLevel)
	child.Info("kept")
	assert.Contains(t, buf.String(), "component=tier_manager")
	assert.NoError(t, child.Close())
}

func TestSlogLogger_TraceFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(&Config{Level: InfoLevel, Format: "json", Writer: &buf})

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	log.InfoContext(ctx, "retrieve")
	assert.Contains(t, buf.String(), `"trace_id":"4bf92f3577b34da6a3ce929d0e0e4736"`)
	assert.Contains(t, buf.String(), `"span_id":"00f067aa0ba902b7"`)

	buf.Reset()
	log.InfoContext(context.Background(), "no span")
	assert.NotContains(t, buf.String(), "trace_id")
}

func TestFromContext(t *testing.T) {
	log := Nop()
	ctx := log.WithContext(context.Background())
	assert.Same(t, log, FromContext(ctx))
	assert.NotNil(t, FromContext(context.Background()))
}

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memoria.log")
	log := New(&Config{Level: InfoLevel, Format: "text", Output: path})
	log.Warn("cache degraded", "backend", "sqlite")
	require.NoError(t, log.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "cache degraded"))
}

func TestSetGlobal(t *testing.T) {
	prev := Global()
	t.Cleanup(func() { SetGlobal(prev) })

	var buf bytes.Buffer
	SetGlobal(New(&Config{Level: InfoLevel, Format: "text", Writer: &buf}))
	Info("through global")
	assert.Contains(t, buf.String(), "through global")

	SetGlobal(nil)
	assert.NotNil(t, Global())
}
