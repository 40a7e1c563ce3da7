package repository

import (
	"context"
	"errors"
	"time"

	model "github.com/tigerroll/etlcore/pkg/etl/core/domain/model"
	"github.com/tigerroll/etlcore/pkg/etl/support/util/exception"
)

// ErrExecutionNotFound is returned when a JobExecution is not found.
var ErrExecutionNotFound = errors.New("job execution not found")

func init() {
	exception.RegisterErrorType("ErrExecutionNotFound", ErrExecutionNotFound)
}

// ExecutionRepository persists JobExecutions and their performance metrics.
// Implementations store snapshots: callers keep mutating their own instance and
// call UpdateExecution to publish the new state.
type ExecutionRepository interface {
	// SaveExecution persists a new JobExecution.
	SaveExecution(ctx context.Context, exec *model.JobExecution) error

	// UpdateExecution stores the current state of an existing JobExecution.
	UpdateExecution(ctx context.Context, exec *model.JobExecution) error

	// FindExecutionByID returns ErrExecutionNotFound for unknown ids.
	FindExecutionByID(ctx context.Context, id string) (*model.JobExecution, error)

	// FindLatestExecution returns the most recently created execution of jobID, or
	// ErrExecutionNotFound when the job never ran.
	FindLatestExecution(ctx context.Context, jobID string) (*model.JobExecution, error)

	// FindActiveExecutions returns the PENDING or RUNNING executions of jobID.
	FindActiveExecutions(ctx context.Context, jobID string) ([]*model.JobExecution, error)

	// FindStaleExecutions returns the PENDING or RUNNING executions of every job
	// created before createdBefore, oldest first.
	FindStaleExecutions(ctx context.Context, createdBefore time.Time) ([]*model.JobExecution, error)

	// SavePerformanceMetrics persists the finalize-phase metrics.
	SavePerformanceMetrics(ctx context.Context, m *model.PerformanceMetrics) error

	// FindPerformanceMetrics returns the metrics stored for executionID.
	FindPerformanceMetrics(ctx context.Context, executionID string) (*model.PerformanceMetrics, error)
}
