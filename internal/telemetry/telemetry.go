// Package telemetry provides the logging and tracing used across toolstream.
// Loggers take structured key/value pairs (k1, v1, k2, v2, ...).
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type (
	// Logger emits leveled, structured log records.
	Logger interface {
		Debug(ctx context.Context, msg string, keyvals ...any)
		Info(ctx context.Context, msg string, keyvals ...any)
		Warn(ctx context.Context, msg string, keyvals ...any)
		Error(ctx context.Context, msg string, keyvals ...any)
	}

	// Tracer starts spans around turns and tool executions.
	Tracer interface {
		Start(ctx context.Context, name string, keyvals ...any) (context.Context, Span)
	}

	// Span is the subset of an OTEL span toolstream uses.
	Span interface {
		End()
		AddEvent(name string, keyvals ...any)
		SetStatus(code codes.Code, description string)
		RecordError(err error)
	}
)

// KVToAttrs converts variadic key-value pairs (k1, v1, k2, v2, ...) into
// OTEL attributes. Unsupported values are recorded as empty strings.
func KVToAttrs(keyvals []any) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	for i := 0; i < len(keyvals); i += 2 {
		keyStr, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		var v any
		if i+1 < len(keyvals) {
			v = keyvals[i+1]
		}
		switch val := v.(type) {
		case string:
			attrs = append(attrs, attribute.String(keyStr, val))
		case int:
			attrs = append(attrs, attribute.Int(keyStr, val))
		case int64:
			attrs = append(attrs, attribute.Int64(keyStr, val))
		case float64:
			attrs = append(attrs, attribute.Float64(keyStr, val))
		case bool:
			attrs = append(attrs, attribute.Bool(keyStr, val))
		default:
			attrs = append(attrs, attribute.String(keyStr, ""))
		}
	}
	return attrs
}

type otelTracer struct {
	tracer trace.Tracer
}

type otelSpan struct {
	span trace.Span
}

// NewTracer wraps an OTEL tracer.
func NewTracer(t trace.Tracer) Tracer {
	return &otelTracer{tracer: t}
}

func (t *otelTracer) Start(ctx context.Context, name string, keyvals ...any) (context.Context, Span) {
	ctx, span := t.tracer.Start(ctx, name, trace.WithAttributes(KVToAttrs(keyvals)...))
	return ctx, &otelSpan{span: span}
}

func (s *otelSpan) End() { s.span.End() }

func (s *otelSpan) AddEvent(name string, keyvals ...any) {
	s.span.AddEvent(name, trace.WithAttributes(KVToAttrs(keyvals)...))
}

func (s *otelSpan) SetStatus(code codes.Code, description string) {
	s.span.SetStatus(code, description)
}

func (s *otelSpan) RecordError(err error) { s.span.RecordError(err) }
