package telemetry

import (
	"context"
	"io"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel/trace"
)

// traceHandler is a slog.Handler that stamps records with the trace and
// span IDs of the active span, so log lines can be joined with traces.
type traceHandler struct {
	inner slog.Handler
}

func (h *traceHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *traceHandler) Handle(ctx context.Context, record slog.Record) error {
	spanCtx := trace.SpanContextFromContext(ctx)
	if spanCtx.IsValid() {
		record.AddAttrs(
			slog.String("trace_id", spanCtx.TraceID().String()),
			slog.String("span_id", spanCtx.SpanID().String()),
		)
	}
	return h.inner.Handle(ctx, record)
}

func (h *traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &traceHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *traceHandler) WithGroup(name string) slog.Handler {
	return &traceHandler{inner: h.inner.WithGroup(name)}
}

// NewLogHandler returns a JSON slog handler with trace-context enrichment.
func NewLogHandler(w io.Writer, level slog.Level) slog.Handler {
	return &traceHandler{
		inner: slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}),
	}
}

// InitLogger installs the service-wide structured logger as the slog
// default, so every package logs JSON with trace context attached.
func InitLogger(serviceName string) {
	logger := slog.New(NewLogHandler(os.Stdout, slog.LevelInfo)).With(
		slog.String("service", serviceName),
	)
	slog.SetDefault(logger)
}
