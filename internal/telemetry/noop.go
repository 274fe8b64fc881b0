package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/codes"
)

type (
	// NoopLogger discards all log records.
	NoopLogger struct{}

	// NoopTracer creates spans that record nothing.
	NoopTracer struct{}

	noopSpan struct{}
)

func NewNoopLogger() Logger { return NoopLogger{} }

func NewNoopTracer() Tracer { return NoopTracer{} }

func (NoopLogger) Debug(context.Context, string, ...any) {}
func (NoopLogger) Info(context.Context, string, ...any)  {}
func (NoopLogger) Warn(context.Context, string, ...any)  {}
func (NoopLogger) Error(context.Context, string, ...any) {}

func (NoopTracer) Start(ctx context.Context, _ string, _ ...any) (context.Context, Span) {
	return ctx, noopSpan{}
}

func (noopSpan) End()                         {}
func (noopSpan) AddEvent(string, ...any)      {}
func (noopSpan) SetStatus(codes.Code, string) {}
func (noopSpan) RecordError(error)            {}
