// Package metrics provides the Prometheus and OpenTelemetry implementations of
// the engine's metric and tracing ports, and the telemetry providers behind them.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	model "github.com/tigerroll/etlcore/pkg/etl/core/domain/model"
	metrics "github.com/tigerroll/etlcore/pkg/etl/core/metrics"
	logger "github.com/tigerroll/etlcore/pkg/etl/support/util/logger"
)

// PrometheusRecorder is a Prometheus implementation of metrics.MetricRecorder.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	jobStarted         *prometheus.CounterVec
	jobDurationSeconds *prometheus.HistogramVec
	jobStatusCounter   *prometheus.CounterVec
	recordsCounter     *prometheus.CounterVec

	phaseDurationSeconds *prometheus.HistogramVec
	rejectionCounter     *prometheus.CounterVec
	batchCommitCounter   *prometheus.CounterVec
	batchRecordsCounter  *prometheus.CounterVec
	batchRollbackCounter *prometheus.CounterVec
	matchCounter         *prometheus.CounterVec
	qualityPassRate      *prometheus.GaugeVec
	queueDepth           *prometheus.GaugeVec
	operationDuration    *prometheus.HistogramVec
}

// NewPrometheusRecorder creates a recorder with its own registry. namespace
// prefixes every metric name; empty means "etl".
func NewPrometheusRecorder(namespace string) *PrometheusRecorder {
	if namespace == "" {
		namespace = "etl"
	}
	registry := prometheus.NewRegistry()

	// Register Go standard metrics and process/OS metrics.
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &PrometheusRecorder{
		registry: registry,
		jobStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_started_total",
			Help:      "Total number of job executions started.",
		}, []string{"job_name", "queue"}),
		jobDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Duration of job executions.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"job_name", "status"}),
		jobStatusCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_status_total",
			Help:      "Total number of finished job executions by status.",
		}, []string{"job_name", "status"}),
		recordsCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Records handled by finished executions, by outcome.",
		}, []string{"job_name", "outcome"}),
		phaseDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "phase_duration_seconds",
			Help:      "Duration of execution phases.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"job_name", "phase"}),
		rejectionCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "record_rejections_total",
			Help:      "Records excluded from load, by stage and reason.",
		}, []string{"job_name", "stage", "reason"}),
		batchCommitCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "load_batch_commits_total",
			Help:      "Committed load batches.",
		}, []string{"job_name"}),
		batchRecordsCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "load_batch_records_total",
			Help:      "Records written by committed load batches.",
		}, []string{"job_name"}),
		batchRollbackCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "load_batch_rollbacks_total",
			Help:      "Rolled back load batches.",
		}, []string{"job_name"}),
		matchCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entity_matches_total",
			Help:      "Entity resolution outcomes.",
		}, []string{"entity_type", "outcome"}),
		qualityPassRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "quality_pass_rate",
			Help:      "Pass rate of the last finished execution of a job.",
		}, []string{"job_name"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Executions waiting in a queue.",
		}, []string{"queue"}),
		operationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of named operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}

	registry.MustRegister(
		r.jobStarted,
		r.jobDurationSeconds,
		r.jobStatusCounter,
		r.recordsCounter,
		r.phaseDurationSeconds,
		r.rejectionCounter,
		r.batchCommitCounter,
		r.batchRecordsCounter,
		r.batchRollbackCounter,
		r.matchCounter,
		r.qualityPassRate,
		r.queueDepth,
		r.operationDuration,
	)
	return r
}

// GetRegistry returns the Prometheus registry.
func (r *PrometheusRecorder) GetRegistry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// RecordJobStart records the start of a JobExecution.
func (r *PrometheusRecorder) RecordJobStart(ctx context.Context, execution *model.JobExecution) {
	s := execution.Snapshot()
	r.jobStarted.WithLabelValues(s.JobName, s.Queue).Inc()
	logger.Debugf("Metrics: Job '%s' started.", s.JobName)
}

// RecordJobEnd records the end of a JobExecution.
func (r *PrometheusRecorder) RecordJobEnd(ctx context.Context, execution *model.JobExecution) {
	s := execution.Snapshot()
	if s.EndTime == nil {
		return
	}
	status := s.Status.String()
	r.jobStatusCounter.WithLabelValues(s.JobName, status).Inc()
	duration := s.Duration().Seconds()
	r.jobDurationSeconds.WithLabelValues(s.JobName, status).Observe(duration)

	r.recordsCounter.WithLabelValues(s.JobName, "extracted").Add(float64(s.Counters.Extracted))
	r.recordsCounter.WithLabelValues(s.JobName, "loaded").Add(float64(s.Counters.Loaded))
	r.recordsCounter.WithLabelValues(s.JobName, "rejected").Add(float64(s.Counters.Rejected))
	r.recordsCounter.WithLabelValues(s.JobName, "duplicate").Add(float64(s.Counters.Duplicates))

	logger.Debugf("Metrics: Job '%s' ended. Duration: %.3fs", s.JobName, duration)
}

// RecordPhase records the wall time of one phase.
func (r *PrometheusRecorder) RecordPhase(ctx context.Context, jobName, phase string, duration time.Duration) {
	r.phaseDurationSeconds.WithLabelValues(jobName, phase).Observe(duration.Seconds())
}

// RecordRejection records a record excluded from load.
func (r *PrometheusRecorder) RecordRejection(ctx context.Context, jobName, stage, reason string) {
	r.rejectionCounter.WithLabelValues(jobName, stage, reason).Inc()
}

// RecordBatchCommit records a committed load batch.
func (r *PrometheusRecorder) RecordBatchCommit(ctx context.Context, jobName string, count int) {
	r.batchCommitCounter.WithLabelValues(jobName).Inc()
	r.batchRecordsCounter.WithLabelValues(jobName).Add(float64(count))
}

// RecordBatchRollback records a rolled back load batch.
func (r *PrometheusRecorder) RecordBatchRollback(ctx context.Context, jobName string) {
	r.batchRollbackCounter.WithLabelValues(jobName).Inc()
}

// RecordMatch records one entity resolution outcome.
func (r *PrometheusRecorder) RecordMatch(ctx context.Context, entityType, outcome string) {
	r.matchCounter.WithLabelValues(entityType, outcome).Inc()
}

// RecordQuality records the pass rate of a finished execution.
func (r *PrometheusRecorder) RecordQuality(ctx context.Context, jobName string, passRate float64) {
	r.qualityPassRate.WithLabelValues(jobName).Set(passRate)
}

// RecordQueueDepth records the number of waiting executions.
func (r *PrometheusRecorder) RecordQueueDepth(ctx context.Context, queue string, depth int) {
	r.queueDepth.WithLabelValues(queue).Set(float64(depth))
}

// RecordDuration records the execution time of a named operation. Tags are
// not turned into labels to keep cardinality bounded.
func (r *PrometheusRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
	r.operationDuration.WithLabelValues(name).Observe(duration.Seconds())
}

var _ metrics.MetricRecorder = (*PrometheusRecorder)(nil)
