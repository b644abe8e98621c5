package codecache

// tracing.go wraps the Loader's heaviest operations in optional
// OpenTelemetry spans, grounded on oriys-nova's internal/observability
// tracer helpers (StartSpan/SetSpanError/SetSpanOK), applied to load and
// verify calls instead of HTTP handlers. Tracing is off by default: a
// Config built without WithTracer uses trace.NewNoopTracerProvider's
// tracer, so every call here is a cheap no-op unless a real tracer is
// configured.

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	attrRuntimeID  = attribute.Key("codecache.runtime_id")
	attrScriptHash = attribute.Key("codecache.script_hash")
	attrCacheHit   = attribute.Key("codecache.cache_hit")
)

func (l *Loader) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := l.cfg.tracer
	if tracer == nil {
		tracer = trace.NewNoopTracerProvider().Tracer("codecache")
	}
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...), trace.WithSpanKind(trace.SpanKindInternal))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
