package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/tigerroll/etlcore/pkg/etl/core/config"
	model "github.com/tigerroll/etlcore/pkg/etl/core/domain/model"
	metrics "github.com/tigerroll/etlcore/pkg/etl/core/metrics"
	"github.com/tigerroll/etlcore/pkg/etl/support/util/exception"
)

func finishedExecution(t *testing.T) *model.JobExecution {
	t.Helper()
	exec := model.NewJobExecution(&model.Job{ID: "job-1", Name: "customers"}, nil)
	exec.Queue = "default"
	require.NoError(t, exec.MarkRunning())
	exec.AddExtracted(5)
	exec.AddLoaded(4)
	exec.AddRejected(1)
	require.NoError(t, exec.MarkSucceeded())
	return exec
}

func TestPrometheusRecorder(t *testing.T) {
	r := NewPrometheusRecorder("etl")
	ctx := context.Background()
	exec := finishedExecution(t)

	r.RecordJobStart(ctx, exec)
	r.RecordJobEnd(ctx, exec)
	r.RecordRejection(ctx, "customers", "validate", "email-format")
	r.RecordBatchCommit(ctx, "customers", 4)
	r.RecordBatchRollback(ctx, "customers")
	r.RecordMatch(ctx, "customer", metrics.MatchExact)
	r.RecordQuality(ctx, "customers", 0.8)
	r.RecordQueueDepth(ctx, "io", 3)
	r.RecordPhase(ctx, "customers", metrics.PhaseLoad, 20*time.Millisecond)
	r.RecordDuration(ctx, "export", time.Second, map[string]string{"connection": "archive"})

	assert.Equal(t, 1.0, testutil.ToFloat64(r.jobStarted.WithLabelValues("customers", "default")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.jobStatusCounter.WithLabelValues("customers", "SUCCESS")))
	assert.Equal(t, 4.0, testutil.ToFloat64(r.recordsCounter.WithLabelValues("customers", "loaded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.rejectionCounter.WithLabelValues("customers", "validate", "email-format")))
	assert.Equal(t, 4.0, testutil.ToFloat64(r.batchRecordsCounter.WithLabelValues("customers")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.batchRollbackCounter.WithLabelValues("customers")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.matchCounter.WithLabelValues("customer", "exact")))
	assert.Equal(t, 0.8, testutil.ToFloat64(r.qualityPassRate.WithLabelValues("customers")))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.queueDepth.WithLabelValues("io")))

	// An execution that never ended is ignored.
	pending := model.NewJobExecution(&model.Job{ID: "job-2", Name: "orders"}, nil)
	r.RecordJobEnd(ctx, pending)
	assert.Equal(t, 0.0, testutil.ToFloat64(r.jobStatusCounter.WithLabelValues("orders", "PENDING")))

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "etl_job_started_total")
}

func findMetric(rm metricdata.ResourceMetrics, name string) (metricdata.Metrics, bool) {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return m, true
			}
		}
	}
	return metricdata.Metrics{}, false
}

func TestOTelRecorder(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = mp.Shutdown(context.Background()) }()

	r, err := NewOTelRecorder(mp, "etl")
	require.NoError(t, err)
	ctx := context.Background()
	exec := finishedExecution(t)
	r.RecordJobStart(ctx, exec)
	r.RecordJobEnd(ctx, exec)
	r.RecordMatch(ctx, "customer", metrics.MatchNew)
	r.RecordMatch(ctx, "customer", metrics.MatchNew)
	r.RecordQueueDepth(ctx, "default", 2)
	r.RecordQuality(ctx, "customers", 0.75)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	m, ok := findMetric(rm, "etl.entity.matches")
	require.True(t, ok)
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, sum.DataPoints, 1)
	assert.Equal(t, int64(2), sum.DataPoints[0].Value)

	m, ok = findMetric(rm, "etl.queue.depth")
	require.True(t, ok)
	gauge, ok := m.Data.(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Len(t, gauge.DataPoints, 1)
	assert.Equal(t, int64(2), gauge.DataPoints[0].Value)

	_, ok = findMetric(rm, "etl.job.duration")
	assert.True(t, ok)
}

func TestOpenTelemetryTracer(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	tr := NewOpenTelemetryTracer(tp)

	exec := model.NewJobExecution(&model.Job{ID: "job-1", Name: "customers"}, nil)
	require.NoError(t, exec.MarkRunning())

	ctx, endJob := tr.StartJobSpan(context.Background(), exec)
	phaseCtx, endPhase := tr.StartPhaseSpan(ctx, exec, metrics.PhaseLoad)
	tr.RecordEvent(phaseCtx, "batch.committed", map[string]interface{}{"records": 10, "ok": true})
	tr.RecordError(phaseCtx, "load", errors.New("deadlock"))
	endPhase()
	require.NoError(t, exec.MarkFailed("load failed"))
	endJob()

	spans := sr.Ended()
	require.Len(t, spans, 2)
	phase, job := spans[0], spans[1]
	assert.Equal(t, "load", phase.Name())
	assert.Equal(t, job.SpanContext().SpanID(), phase.Parent().SpanID())
	assert.Equal(t, codes.Error, phase.Status().Code)
	require.NotEmpty(t, phase.Events())
	assert.Equal(t, "batch.committed", phase.Events()[0].Name)

	assert.Equal(t, "job customers", job.Name())
	assert.Equal(t, codes.Error, job.Status().Code)
	assert.Equal(t, "load failed", job.Status().Description)
}

type countingRecorder struct {
	metrics.MetricRecorder
	mu      sync.Mutex
	commits int
	ends    []model.ExecutionStatus
}

func (c *countingRecorder) RecordBatchCommit(context.Context, string, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commits++
}

func (c *countingRecorder) RecordJobEnd(_ context.Context, e *model.JobExecution) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ends = append(c.ends, e.Status)
}

func TestAsyncMetricRecorder_ReplaysOnWorker(t *testing.T) {
	inner := &countingRecorder{MetricRecorder: metrics.NewNoOpMetricRecorder()}
	r := NewAsyncMetricRecorder(64, inner)

	exec := model.NewJobExecution(&model.Job{ID: "j", Name: "n"}, nil)
	require.NoError(t, exec.MarkRunning())
	r.RecordJobEnd(context.Background(), exec)
	// The queued snapshot is not affected by later transitions.
	require.NoError(t, exec.MarkSucceeded())
	for i := 0; i < 5; i++ {
		r.RecordBatchCommit(context.Background(), "n", 10)
	}
	r.Close()
	r.Close()
	r.RecordBatchCommit(context.Background(), "n", 10)

	inner.mu.Lock()
	defer inner.mu.Unlock()
	assert.Equal(t, 5, inner.commits)
	assert.Equal(t, []model.ExecutionStatus{model.StatusRunning}, inner.ends)
}

func TestSetup(t *testing.T) {
	ctx := context.Background()

	tel, err := Setup(ctx, config.MetricsConfig{Backend: "none"}, config.TracingConfig{})
	require.NoError(t, err)
	assert.IsType(t, &metrics.NoOpMetricRecorder{}, tel.Recorder)
	assert.IsType(t, &metrics.NoOpTracer{}, tel.Tracer)
	assert.Nil(t, tel.MetricsHandler())
	assert.NoError(t, tel.Shutdown(ctx))

	tel, err = Setup(ctx, config.MetricsConfig{Backend: "prometheus", Namespace: "etl", AsyncBufferSize: 8}, config.TracingConfig{Enabled: true, Exporter: "none"})
	require.NoError(t, err)
	assert.IsType(t, &AsyncMetricRecorder{}, tel.Recorder)
	assert.NotNil(t, tel.MetricsHandler())
	assert.IsType(t, &metrics.NoOpTracer{}, tel.Tracer)
	assert.NoError(t, tel.Shutdown(ctx))

	_, err = Setup(ctx, config.MetricsConfig{Backend: "statsd"}, config.TracingConfig{})
	assert.ErrorIs(t, err, exception.ConfigError)

	_, err = Setup(ctx, config.MetricsConfig{Backend: "none"}, config.TracingConfig{Enabled: true, Exporter: "zipkin"})
	assert.ErrorIs(t, err, exception.ConfigError)
}

func TestMetricsServer(t *testing.T) {
	r := NewPrometheusRecorder("etl")
	s := NewMetricsServer("127.0.0.1:0", r.Handler())
	require.NoError(t, s.Start())
	assert.NoError(t, s.Stop(context.Background()))
}
