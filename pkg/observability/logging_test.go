package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// captureExporter keeps every exported log record in memory.
type captureExporter struct {
	records []sdklog.Record
}

func (e *captureExporter) Export(_ context.Context, records []sdklog.Record) error {
	for _, r := range records {
		e.records = append(e.records, r.Clone())
	}
	return nil
}

func (e *captureExporter) Shutdown(context.Context) error   { return nil }
func (e *captureExporter) ForceFlush(context.Context) error { return nil }

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("info"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, slog.LevelError, ParseLevel(" error "))
	assert.Equal(t, slog.LevelInfo, ParseLevel("chatty"))
}

func TestNewLogger_AddsTraceCorrelation(t *testing.T) {
	_, tp := newTestTracer()
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "INFO", Writer: &buf}, nil)

	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	logger.InfoContext(ctx, "Doing work...")
	span.End()

	logger.InfoContext(context.Background(), "outside")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "Doing work...", lines[0]["msg"])
	assert.Equal(t, span.SpanContext().TraceID().String(), lines[0]["trace_id"])
	assert.Equal(t, span.SpanContext().SpanID().String(), lines[0]["span_id"])
	assert.NotContains(t, lines[1], "trace_id")
}

func TestNewLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "WARN", Writer: &buf}, nil)

	logger.Info("dropped")
	logger.Warn("Delaying request...")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "WARN", lines[0]["level"])
}

func TestNewLogger_TextFormatWithAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Format: "text", Writer: &buf}, nil).
		With("component", "pipeline").
		WithGroup("req")

	logger.Info("Done.", "sequence", 7)
	out := buf.String()
	assert.Contains(t, out, "component=pipeline")
	assert.Contains(t, out, "req.sequence=7")
}

func TestNewLogger_BridgesToLoggerProvider(t *testing.T) {
	exp := &captureExporter{}
	lp := sdklog.NewLoggerProvider(sdklog.WithProcessor(sdklog.NewSimpleProcessor(exp)))
	_, tp := newTestTracer()

	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Writer: &buf}, lp)

	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	logger.WarnContext(ctx, "Delaying request...", "sequence", 50)
	span.End()

	require.NoError(t, lp.ForceFlush(context.Background()))
	require.Len(t, exp.records, 1)
	rec := exp.records[0]
	assert.Equal(t, "Delaying request...", rec.Body().AsString())
	assert.Equal(t, span.SpanContext().TraceID(), rec.TraceID())
	assert.Equal(t, span.SpanContext().SpanID(), rec.SpanID())

	// Console output still receives the record.
	assert.Contains(t, buf.String(), "Delaying request...")
}
