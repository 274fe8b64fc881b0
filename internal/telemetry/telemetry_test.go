package telemetry

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestKVToAttrs(t *testing.T) {
	attrs := KVToAttrs([]any{"tool", "read_files", "index", 2, "ok", true, "score", 1.5, 42, "skipped", "odd"})
	assert.Equal(t, []attribute.KeyValue{
		attribute.String("tool", "read_files"),
		attribute.Int("index", 2),
		attribute.Bool("ok", true),
		attribute.Float64("score", 1.5),
		attribute.String("odd", ""),
	}, attrs)
}

func TestClueLoggerWritesFields(t *testing.T) {
	var buf bytes.Buffer
	ctx := NewLogContext(context.Background(), &buf, "json", false)

	logger := NewClueLogger()
	logger.Info(ctx, "tool finished", "tool_name", "find_files", "tool_call_id", "abc")
	logger.Error(ctx, "tool failed", "tool_name", "write_file")

	out := buf.String()
	assert.Contains(t, out, "tool finished")
	assert.Contains(t, out, "find_files")
	assert.Contains(t, out, "abc")
	assert.Contains(t, out, "tool failed")
}

func TestClueLoggerDebugRequiresDebugContext(t *testing.T) {
	var buf bytes.Buffer
	ctx := NewLogContext(context.Background(), &buf, "json", false)
	NewClueLogger().Debug(ctx, "hidden")
	assert.NotContains(t, buf.String(), "hidden")

	buf.Reset()
	ctx = NewLogContext(context.Background(), &buf, "json", true)
	NewClueLogger().Debug(ctx, "shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestTracerWrapsSpans(t *testing.T) {
	tracer := NewTracer(noop.NewTracerProvider().Tracer("test"))
	ctx, span := tracer.Start(context.Background(), "turn", "step", 1)
	require.NotNil(t, ctx)
	span.AddEvent("chunk", "bytes", 10)
	span.SetStatus(codes.Ok, "")
	span.End()

	_, nspan := NewNoopTracer().Start(context.Background(), "x")
	nspan.RecordError(nil)
	nspan.End()
}
