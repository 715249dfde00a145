package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation name for intake spans.
const TracerName = "intake"

// Span attribute keys
const (
	AttrOrgID      = "org_id"
	AttrEntityID   = "entity_id"
	AttrItemType   = "item_type"
	AttrStage      = "stage"
	AttrOutcome    = "outcome"
	AttrReason     = "reason"
	AttrConfidence = "confidence"
	AttrProvider   = "provider"
	AttrJobID      = "job_id"
	AttrJobType    = "job_type"
	AttrErrorCode  = "error_code"
)

// Tracer starts spans for pipeline work.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a tracer from the global provider.
func NewTracer() *Tracer {
	return &Tracer{tracer: otel.Tracer(TracerName)}
}

// StartStageSpan starts a span for a pipeline stage on one entity.
func (t *Tracer) StartStageSpan(ctx context.Context, stage, orgID, entityID string) (context.Context, trace.Span) {
	if t == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return t.tracer.Start(ctx, "intake.stage."+stage,
		trace.WithAttributes(
			attribute.String(AttrStage, stage),
			attribute.String(AttrOrgID, orgID),
			attribute.String(AttrEntityID, entityID),
		),
	)
}

// StartJobSpan starts a root span for a dequeued job.
func (t *Tracer) StartJobSpan(ctx context.Context, jobType, jobID string) (context.Context, trace.Span) {
	if t == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return t.tracer.Start(ctx, "intake.job."+jobType,
		trace.WithAttributes(
			attribute.String(AttrJobType, jobType),
			attribute.String(AttrJobID, jobID),
		),
	)
}

// StartInferenceSpan starts a span around a provider call.
func (t *Tracer) StartInferenceSpan(ctx context.Context, operation, provider string) (context.Context, trace.Span) {
	if t == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return t.tracer.Start(ctx, "intake.inference."+operation,
		trace.WithAttributes(attribute.String(AttrProvider, provider)),
	)
}

// EndSpan records the outcome on span and ends it. A non-nil err marks the span failed.
func EndSpan(span trace.Span, outcome string, err error) {
	if outcome != "" {
		span.SetAttributes(attribute.String(AttrOutcome, outcome))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// TraceID returns the trace id carried by ctx, or "".
func TraceID(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}
