package metrics

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	model "github.com/tigerroll/etlcore/pkg/etl/core/domain/model"
	metrics "github.com/tigerroll/etlcore/pkg/etl/core/metrics"
)

const instrumentationName = "github.com/tigerroll/etlcore"

// OTelRecorder records through an OpenTelemetry Meter, exported over OTLP.
type OTelRecorder struct {
	jobStarted    otelmetric.Int64Counter
	jobFinished   otelmetric.Int64Counter
	jobDuration   otelmetric.Float64Histogram
	records       otelmetric.Int64Counter
	phaseDuration otelmetric.Float64Histogram
	rejections    otelmetric.Int64Counter
	commits       otelmetric.Int64Counter
	rollbacks     otelmetric.Int64Counter
	matches       otelmetric.Int64Counter
	opDuration    otelmetric.Float64Histogram

	mu       sync.Mutex
	passRate map[string]float64
	depth    map[string]int64
}

// NewOTelRecorder creates the instruments on a meter of mp.
func NewOTelRecorder(mp otelmetric.MeterProvider, namespace string) (*OTelRecorder, error) {
	if namespace == "" {
		namespace = "etl"
	}
	m := mp.Meter(instrumentationName)
	n := func(s string) string { return namespace + "." + s }
	r := &OTelRecorder{passRate: map[string]float64{}, depth: map[string]int64{}}

	var err error
	if r.jobStarted, err = m.Int64Counter(n("job.started"), otelmetric.WithDescription("Job executions started.")); err != nil {
		return nil, err
	}
	if r.jobFinished, err = m.Int64Counter(n("job.finished"), otelmetric.WithDescription("Job executions finished, by status.")); err != nil {
		return nil, err
	}
	if r.jobDuration, err = m.Float64Histogram(n("job.duration"), otelmetric.WithUnit("s")); err != nil {
		return nil, err
	}
	if r.records, err = m.Int64Counter(n("records"), otelmetric.WithDescription("Records handled, by outcome.")); err != nil {
		return nil, err
	}
	if r.phaseDuration, err = m.Float64Histogram(n("phase.duration"), otelmetric.WithUnit("s")); err != nil {
		return nil, err
	}
	if r.rejections, err = m.Int64Counter(n("record.rejections")); err != nil {
		return nil, err
	}
	if r.commits, err = m.Int64Counter(n("load.batch.commits")); err != nil {
		return nil, err
	}
	if r.rollbacks, err = m.Int64Counter(n("load.batch.rollbacks")); err != nil {
		return nil, err
	}
	if r.matches, err = m.Int64Counter(n("entity.matches")); err != nil {
		return nil, err
	}
	if r.opDuration, err = m.Float64Histogram(n("operation.duration"), otelmetric.WithUnit("s")); err != nil {
		return nil, err
	}

	passRate, err := m.Float64ObservableGauge(n("quality.pass_rate"))
	if err != nil {
		return nil, err
	}
	depth, err := m.Int64ObservableGauge(n("queue.depth"))
	if err != nil {
		return nil, err
	}
	_, err = m.RegisterCallback(func(_ context.Context, o otelmetric.Observer) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		for job, v := range r.passRate {
			o.ObserveFloat64(passRate, v, otelmetric.WithAttributes(attribute.String("job_name", job)))
		}
		for q, v := range r.depth {
			o.ObserveInt64(depth, v, otelmetric.WithAttributes(attribute.String("queue", q)))
		}
		return nil
	}, passRate, depth)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (r *OTelRecorder) RecordJobStart(ctx context.Context, execution *model.JobExecution) {
	s := execution.Snapshot()
	r.jobStarted.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("job_name", s.JobName), attribute.String("queue", s.Queue)))
}

func (r *OTelRecorder) RecordJobEnd(ctx context.Context, execution *model.JobExecution) {
	s := execution.Snapshot()
	if s.EndTime == nil {
		return
	}
	attrs := otelmetric.WithAttributes(attribute.String("job_name", s.JobName), attribute.String("status", s.Status.String()))
	r.jobFinished.Add(ctx, 1, attrs)
	r.jobDuration.Record(ctx, s.Duration().Seconds(), attrs)

	for outcome, v := range map[string]int64{
		"extracted": s.Counters.Extracted,
		"loaded":    s.Counters.Loaded,
		"rejected":  s.Counters.Rejected,
		"duplicate": s.Counters.Duplicates,
	} {
		r.records.Add(ctx, v, otelmetric.WithAttributes(
			attribute.String("job_name", s.JobName), attribute.String("outcome", outcome)))
	}
}

func (r *OTelRecorder) RecordPhase(ctx context.Context, jobName, phase string, duration time.Duration) {
	r.phaseDuration.Record(ctx, duration.Seconds(), otelmetric.WithAttributes(
		attribute.String("job_name", jobName), attribute.String("phase", phase)))
}

func (r *OTelRecorder) RecordRejection(ctx context.Context, jobName, stage, reason string) {
	r.rejections.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("job_name", jobName), attribute.String("stage", stage), attribute.String("reason", reason)))
}

func (r *OTelRecorder) RecordBatchCommit(ctx context.Context, jobName string, count int) {
	r.commits.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("job_name", jobName)))
}

func (r *OTelRecorder) RecordBatchRollback(ctx context.Context, jobName string) {
	r.rollbacks.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("job_name", jobName)))
}

func (r *OTelRecorder) RecordMatch(ctx context.Context, entityType, outcome string) {
	r.matches.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("entity_type", entityType), attribute.String("outcome", outcome)))
}

func (r *OTelRecorder) RecordQuality(ctx context.Context, jobName string, passRate float64) {
	r.mu.Lock()
	r.passRate[jobName] = passRate
	r.mu.Unlock()
}

func (r *OTelRecorder) RecordQueueDepth(ctx context.Context, queue string, depth int) {
	r.mu.Lock()
	r.depth[queue] = int64(depth)
	r.mu.Unlock()
}

func (r *OTelRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
	attrs := make([]attribute.KeyValue, 0, len(tags)+1)
	attrs = append(attrs, attribute.String("operation", name))
	for k, v := range tags {
		attrs = append(attrs, attribute.String(k, v))
	}
	r.opDuration.Record(ctx, duration.Seconds(), otelmetric.WithAttributes(attrs...))
}

var _ metrics.MetricRecorder = (*OTelRecorder)(nil)
