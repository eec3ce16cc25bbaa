package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Span attribute keys.
const (
	AttrChannel     = "cardgen.channel"
	AttrVariable    = "cardgen.variable"
	AttrCard        = "cardgen.card"
	AttrCombination = "cardgen.combination"
	AttrMethod      = "cardgen.fit.method"
	AttrJobID       = "cardgen.job.id"
	AttrProcesses   = "cardgen.processes"
	AttrSystematics = "cardgen.systematics"
	AttrTool        = "cardgen.tool"
)

// Span names.
const (
	SpanGenerate        = "pipeline.generate"
	SpanChannel         = "pipeline.channel"
	SpanHadd            = "pipeline.hadd"
	SpanExtract         = "pipeline.extract"
	SpanWriteCard       = "pipeline.write_card"
	SpanCombine         = "combine.cards"
	SpanDispatch        = "jobs.dispatch"
	SpanJob             = "jobs.job"
	EventWarning        = "warning"
	EventChannelSkipped = "channel.skipped"
)

// Start opens a span on tracer, falling back to a no-op tracer when
// tracer is nil.
func Start(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("noop")
	}
	return tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindInternal), trace.WithAttributes(attrs...))
}

// End records the outcome of the operation on span and ends it.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
