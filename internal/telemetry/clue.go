package telemetry

import (
	"context"
	"io"

	"go.opentelemetry.io/otel"
	"goa.design/clue/log"
)

// ClueLogger delegates to goa.design/clue/log. Formatting and debug settings
// come from the context (see NewLogContext).
type ClueLogger struct{}

// NewClueLogger constructs a Logger that delegates to goa.design/clue/log.
func NewClueLogger() Logger {
	return ClueLogger{}
}

// NewClueTracer returns a Tracer backed by the global OTEL tracer provider.
// Without a configured provider spans are no-ops.
func NewClueTracer() Tracer {
	return NewTracer(otel.Tracer("github.com/samsaffron/toolstream"))
}

// NewLogContext returns a context carrying a clue logger that writes to w.
// format is "json" or anything else for terminal output.
func NewLogContext(ctx context.Context, w io.Writer, format string, debug bool) context.Context {
	opts := []log.LogOption{log.WithOutput(w)}
	if format == "json" {
		opts = append(opts, log.WithFormat(log.FormatJSON))
	} else {
		opts = append(opts, log.WithFormat(log.FormatTerminal))
	}
	if debug {
		opts = append(opts, log.WithDebug())
	}
	return log.Context(ctx, opts...)
}

func (ClueLogger) Debug(ctx context.Context, msg string, keyvals ...any) {
	log.Debug(ctx, fielders(msg, keyvals)...)
}

func (ClueLogger) Info(ctx context.Context, msg string, keyvals ...any) {
	log.Info(ctx, fielders(msg, keyvals)...)
}

func (ClueLogger) Warn(ctx context.Context, msg string, keyvals ...any) {
	log.Warn(ctx, fielders(msg, keyvals)...)
}

func (ClueLogger) Error(ctx context.Context, msg string, keyvals ...any) {
	log.Error(ctx, nil, fielders(msg, keyvals)...)
}

func fielders(msg string, keyvals []any) []log.Fielder {
	out := []log.Fielder{log.KV{K: "msg", V: msg}}
	for i := 0; i < len(keyvals); i += 2 {
		keyStr, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		var v any
		if i+1 < len(keyvals) {
			v = keyvals[i+1]
		}
		out = append(out, log.KV{K: keyStr, V: v})
	}
	return out
}
