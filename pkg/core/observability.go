package core

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

/*
AddRequestAttributes sets attributes on the current trace span, and if no active span,
logs the attributes via slog for observability fallback. Also logs trace/span id for correlation.
*/
func AddRequestAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span == nil || !span.IsRecording() {
		// Fallback: log attributes via slog
		logAttrs := make([]slog.Attr, 0, len(attrs)+3)
		for _, attr := range attrs {
			logAttrs = append(logAttrs, slog.Any(string(attr.Key), attr.Value.AsInterface()))
		}
		logAttrs = append(logAttrs, slog.Bool("observability.fallback", true))
		if span != nil {
			sc := span.SpanContext()
			if sc.HasTraceID() {
				logAttrs = append(logAttrs, slog.String("trace_id", sc.TraceID().String()))
			}
			if sc.HasSpanID() {
				logAttrs = append(logAttrs, slog.String("span_id", sc.SpanID().String()))
			}
		}
		slog.LogAttrs(ctx, slog.LevelDebug, "AddRequestAttributes fallback", logAttrs...)
		return
	}
	span.SetAttributes(attrs...)
}
