// Package metrics defines the metric and tracing ports of the engine together
// with no-op implementations used when observability is disabled.
package metrics

import (
	"context"
	"time"

	model "github.com/tigerroll/etlcore/pkg/etl/core/domain/model"
)

// Phase names used for phase metrics and spans.
const (
	PhaseExtract   = "extract"
	PhaseTransform = "transform"
	PhaseValidate  = "validate"
	PhaseLoad      = "load"
	PhaseFinalize  = "finalize"
)

// Match outcomes recorded by RecordMatch.
const (
	MatchExact     = "exact"
	MatchDuplicate = "duplicate"
	MatchNew       = "new"
	MatchAmbiguous = "ambiguous"
)

// MetricRecorder is an abstract interface for recording metrics related to job execution.
//
// This facilitates integration with different metrics backends (e.g., Prometheus,
// OpenTelemetry Metrics). Implementations must be safe for concurrent use.
type MetricRecorder interface {
	// RecordJobStart records the start of a JobExecution.
	RecordJobStart(ctx context.Context, execution *model.JobExecution)

	// RecordJobEnd records the terminal status, duration and counters of a JobExecution.
	RecordJobEnd(ctx context.Context, execution *model.JobExecution)

	// RecordPhase records the wall time spent in one phase.
	//
	// jobName: The job the phase belongs to.
	// phase: One of the Phase* constants.
	RecordPhase(ctx context.Context, jobName, phase string, duration time.Duration)

	// RecordRejection records a record excluded from Load.
	//
	// stage: The stage that rejected it (transform, validate...).
	// reason: A short reason label (error kind or rule id).
	RecordRejection(ctx context.Context, jobName, stage, reason string)

	// RecordBatchCommit records a committed Load batch of count records.
	RecordBatchCommit(ctx context.Context, jobName string, count int)

	// RecordBatchRollback records a Load batch that was rolled back.
	RecordBatchRollback(ctx context.Context, jobName string)

	// RecordMatch records one entity resolution outcome (Match* constants).
	RecordMatch(ctx context.Context, entityType, outcome string)

	// RecordQuality records the pass rate of a finished execution.
	RecordQuality(ctx context.Context, jobName string, passRate float64)

	// RecordQueueDepth records the number of waiting executions of a queue.
	RecordQueueDepth(ctx context.Context, queue string, depth int)

	// RecordDuration records the execution time of a specific operation.
	//
	// tags: A map of additional tags or attributes to associate with the duration.
	RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string)
}
