package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	model "github.com/tigerroll/etlcore/pkg/etl/core/domain/model"
	"github.com/tigerroll/etlcore/pkg/etl/core/domain/repository"
	"github.com/tigerroll/etlcore/pkg/etl/scheduler"
	"github.com/tigerroll/etlcore/pkg/etl/support/util/exception"
)

var timeNow = time.Now

// SubmitRequest asks for one execution of a job.
type SubmitRequest struct {
	JobID  string       `json:"job_id"`
	Params model.Fields `json:"params,omitempty"`
	// Force submits even when dependencies are unmet.
	Force bool `json:"force,omitempty"`
}

// SubmitJob validates the job, checks its dependencies and queues an execution.
// Nothing is created when validation fails.
func (s *Service) SubmitJob(ctx context.Context, req SubmitRequest) (string, error) {
	job, err := s.job(ctx, req.JobID)
	if err != nil {
		return "", err
	}
	if err := s.ValidateJob(ctx, job); err != nil {
		return "", err
	}
	if !req.Force {
		unmet, err := s.graph.UnmetDependencies(ctx, job.ID)
		if err != nil {
			return "", err
		}
		if len(unmet) > 0 {
			reasons := make([]string, len(unmet))
			for i, u := range unmet {
				reasons[i] = fmt.Sprintf("%s: %s", u.ParentJobID, u.Reason)
			}
			return "", exception.Newf(exception.StateError, moduleName,
				"job '%s' has unmet dependencies (%s)", job.Name, strings.Join(reasons, "; "))
		}
	}
	return s.scheduler.Submit(ctx, job.ID, req.Params)
}

// CancelExecution stops a pending or running execution.
func (s *Service) CancelExecution(ctx context.Context, executionID string) error {
	if err := s.scheduler.Cancel(ctx, executionID); err != nil {
		return err
	}
	if s.cache != nil {
		s.cache.Remove(executionKey(executionID))
	}
	return nil
}

func executionKey(id string) string { return "execution:" + id }

func (s *Service) execution(ctx context.Context, executionID string) (*model.JobExecution, error) {
	if s.cache != nil {
		if v, ok := s.cache.Get(executionKey(executionID)); ok {
			return v.(*model.JobExecution).Snapshot(), nil
		}
	}
	exec, err := s.store.FindExecutionByID(ctx, executionID)
	if errors.Is(err, repository.ErrExecutionNotFound) {
		return nil, exception.New(exception.NotFoundError, moduleName, fmt.Sprintf("execution %s", executionID), err)
	}
	if err != nil {
		return nil, err
	}
	// Only terminal executions are immutable enough to cache.
	if s.cache != nil && exec.Status.IsTerminal() {
		s.cache.Set(executionKey(executionID), exec.Snapshot())
	}
	return exec, nil
}

// ExecutionStatus is the monitoring view of one execution.
type ExecutionStatus struct {
	Execution *model.JobExecution       `json:"execution"`
	Metrics   *model.PerformanceMetrics `json:"metrics,omitempty"`
	Errors    int                       `json:"errors"`
}

// GetExecutionStatus returns the execution with its metrics (once finished) and
// the number of error logs it wrote.
func (s *Service) GetExecutionStatus(ctx context.Context, executionID string) (*ExecutionStatus, error) {
	exec, err := s.execution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	st := &ExecutionStatus{Execution: exec}
	if exec.Status == model.StatusSuccess {
		pm, err := s.store.FindPerformanceMetrics(ctx, executionID)
		if err == nil {
			st.Metrics = pm
		} else if !errors.Is(err, repository.ErrExecutionNotFound) {
			return nil, err
		}
	}
	logs, err := s.store.ListErrorLogs(ctx, model.ErrorFilter{ExecutionID: executionID})
	if err != nil {
		return nil, err
	}
	st.Errors = len(logs)
	return st, nil
}

// ResetStuckExecutions fails PENDING or RUNNING executions older than olderThan
// that no worker of this process owns and returns how many it failed.
func (s *Service) ResetStuckExecutions(ctx context.Context, olderThan time.Duration) (int, error) {
	return s.scheduler.RecoverStale(ctx, olderThan)
}

// QueueStats reports the scheduler's queues.
func (s *Service) QueueStats() []scheduler.QueueStats {
	return s.scheduler.Stats()
}
