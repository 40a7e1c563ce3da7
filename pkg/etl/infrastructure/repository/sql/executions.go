package sql

import (
	"context"
	"time"

	model "github.com/tigerroll/etlcore/pkg/etl/core/domain/model"
	repository "github.com/tigerroll/etlcore/pkg/etl/core/domain/repository"
)

// SaveExecution persists a new JobExecution.
func (s *Store) SaveExecution(ctx context.Context, exec *model.JobExecution) error {
	return wrap("SQLStore.SaveExecution", s.conn(ctx).Create(fromDomainExecution(exec)).Error)
}

// UpdateExecution stores the current state of an existing JobExecution.
func (s *Store) UpdateExecution(ctx context.Context, exec *model.JobExecution) error {
	e := fromDomainExecution(exec)
	err := updateExisting(s.conn(ctx), &JobExecutionEntity{}, e.ID, e, repository.ErrExecutionNotFound)
	if err == repository.ErrExecutionNotFound {
		return err
	}
	return wrap("SQLStore.UpdateExecution", err)
}

// FindExecutionByID returns ErrExecutionNotFound for unknown ids.
func (s *Store) FindExecutionByID(ctx context.Context, id string) (*model.JobExecution, error) {
	var rows []JobExecutionEntity
	if err := s.conn(ctx).Where("id = ?", id).Limit(1).Find(&rows).Error; err != nil {
		return nil, wrap("SQLStore.FindExecutionByID", err)
	}
	if len(rows) == 0 {
		return nil, repository.ErrExecutionNotFound
	}
	return toDomainExecution(&rows[0]), nil
}

// FindLatestExecution returns the most recently created execution of jobID.
func (s *Store) FindLatestExecution(ctx context.Context, jobID string) (*model.JobExecution, error) {
	var rows []JobExecutionEntity
	if err := s.conn(ctx).Where("job_id = ?", jobID).Order("created_at DESC").Limit(1).Find(&rows).Error; err != nil {
		return nil, wrap("SQLStore.FindLatestExecution", err)
	}
	if len(rows) == 0 {
		return nil, repository.ErrExecutionNotFound
	}
	return toDomainExecution(&rows[0]), nil
}

// FindActiveExecutions returns the PENDING or RUNNING executions of jobID.
func (s *Store) FindActiveExecutions(ctx context.Context, jobID string) ([]*model.JobExecution, error) {
	var rows []JobExecutionEntity
	err := s.conn(ctx).
		Where("job_id = ? AND status IN ?", jobID, []string{string(model.StatusPending), string(model.StatusRunning)}).
		Order("created_at").Find(&rows).Error
	if err != nil {
		return nil, wrap("SQLStore.FindActiveExecutions", err)
	}
	out := make([]*model.JobExecution, len(rows))
	for i := range rows {
		out[i] = toDomainExecution(&rows[i])
	}
	return out, nil
}

// FindStaleExecutions returns active executions of any job created before
// createdBefore, oldest first.
func (s *Store) FindStaleExecutions(ctx context.Context, createdBefore time.Time) ([]*model.JobExecution, error) {
	var rows []JobExecutionEntity
	err := s.conn(ctx).
		Where("status IN ? AND created_at < ?", []string{string(model.StatusPending), string(model.StatusRunning)}, createdBefore).
		Order("created_at, id").Find(&rows).Error
	if err != nil {
		return nil, wrap("SQLStore.FindStaleExecutions", err)
	}
	out := make([]*model.JobExecution, len(rows))
	for i := range rows {
		out[i] = toDomainExecution(&rows[i])
	}
	return out, nil
}

// SavePerformanceMetrics persists the finalize-phase metrics, replacing any
// earlier row of the same execution.
func (s *Store) SavePerformanceMetrics(ctx context.Context, m *model.PerformanceMetrics) error {
	return wrap("SQLStore.SavePerformanceMetrics", upsert(s.conn(ctx), fromDomainPerformance(m), "execution_id"))
}

// FindPerformanceMetrics returns the metrics stored for executionID.
func (s *Store) FindPerformanceMetrics(ctx context.Context, executionID string) (*model.PerformanceMetrics, error) {
	var rows []PerformanceMetricsEntity
	if err := s.conn(ctx).Where("execution_id = ?", executionID).Limit(1).Find(&rows).Error; err != nil {
		return nil, wrap("SQLStore.FindPerformanceMetrics", err)
	}
	if len(rows) == 0 {
		return nil, repository.ErrExecutionNotFound
	}
	return toDomainPerformance(&rows[0]), nil
}
