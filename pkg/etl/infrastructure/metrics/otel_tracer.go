package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	model "github.com/tigerroll/etlcore/pkg/etl/core/domain/model"
	metrics "github.com/tigerroll/etlcore/pkg/etl/core/metrics"
	logger "github.com/tigerroll/etlcore/pkg/etl/support/util/logger"
)

// OpenTelemetryTracer is an implementation of metrics.Tracer using OpenTelemetry.
type OpenTelemetryTracer struct {
	tracer trace.Tracer
}

// NewOpenTelemetryTracer creates a tracer from tp.
func NewOpenTelemetryTracer(tp trace.TracerProvider) *OpenTelemetryTracer {
	return &OpenTelemetryTracer{tracer: tp.Tracer(instrumentationName)}
}

// StartJobSpan starts a new span for a JobExecution. The returned function ends
// it with the execution's final status.
func (t *OpenTelemetryTracer) StartJobSpan(ctx context.Context, execution *model.JobExecution) (context.Context, func()) {
	s := execution.Snapshot()
	ctx, span := t.tracer.Start(ctx, "job "+s.JobName, trace.WithAttributes(
		attribute.String("etl.execution_id", s.ID),
		attribute.String("etl.job_id", s.JobID),
		attribute.String("etl.job_name", s.JobName),
		attribute.String("etl.queue", s.Queue),
	))
	logger.Debugf("Tracer: span started for execution %s of job '%s'.", s.ID, s.JobName)
	return ctx, func() {
		end := execution.Snapshot()
		span.SetAttributes(
			attribute.String("etl.status", end.Status.String()),
			attribute.Int64("etl.records.extracted", end.Counters.Extracted),
			attribute.Int64("etl.records.loaded", end.Counters.Loaded),
			attribute.Int64("etl.records.rejected", end.Counters.Rejected),
		)
		if end.Status == model.StatusFailed {
			span.SetStatus(codes.Error, end.FailureReason)
		}
		span.End()
	}
}

// StartPhaseSpan starts a child span for one phase.
func (t *OpenTelemetryTracer) StartPhaseSpan(ctx context.Context, execution *model.JobExecution, phase string) (context.Context, func()) {
	ctx, span := t.tracer.Start(ctx, phase, trace.WithAttributes(
		attribute.String("etl.execution_id", execution.ID),
		attribute.String("etl.phase", phase),
	))
	return ctx, func() { span.End() }
}

// RecordError records an error in the current span.
func (t *OpenTelemetryTracer) RecordError(ctx context.Context, module string, err error) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.RecordError(err, trace.WithAttributes(attribute.String("etl.module", module)))
	span.SetStatus(codes.Error, err.Error())
}

// RecordEvent records an event in the current span.
func (t *OpenTelemetryTracer) RecordEvent(ctx context.Context, name string, attributes map[string]interface{}) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	attrs := make([]attribute.KeyValue, 0, len(attributes))
	for k, v := range attributes {
		switch tv := v.(type) {
		case string:
			attrs = append(attrs, attribute.String(k, tv))
		case int:
			attrs = append(attrs, attribute.Int(k, tv))
		case int64:
			attrs = append(attrs, attribute.Int64(k, tv))
		case float64:
			attrs = append(attrs, attribute.Float64(k, tv))
		case bool:
			attrs = append(attrs, attribute.Bool(k, tv))
		default:
			attrs = append(attrs, attribute.String(k, fmt.Sprint(tv)))
		}
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

var _ metrics.Tracer = (*OpenTelemetryTracer)(nil)
