package inmemory

import (
	"context"
	"fmt"
	"sort"
	"time"

	model "github.com/tigerroll/etlcore/pkg/etl/core/domain/model"
	repository "github.com/tigerroll/etlcore/pkg/etl/core/domain/repository"
)

// SaveExecution persists a new JobExecution.
// It returns an error if a JobExecution with the same ID already exists.
func (s *Store) SaveExecution(ctx context.Context, exec *model.JobExecution) error {
	snap := exec.Snapshot()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.executions[snap.ID]; exists {
		return fmt.Errorf("JobExecution %s: %w", snap.ID, repository.ErrAlreadyExists)
	}
	s.executions[snap.ID] = snap
	return nil
}

// UpdateExecution stores the current state of an existing JobExecution.
func (s *Store) UpdateExecution(ctx context.Context, exec *model.JobExecution) error {
	snap := exec.Snapshot()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.executions[snap.ID]; !exists {
		return repository.ErrExecutionNotFound
	}
	s.executions[snap.ID] = snap
	return nil
}

// FindExecutionByID finds a JobExecution by its ID.
func (s *Store) FindExecutionByID(ctx context.Context, id string) (*model.JobExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.executions[id]
	if !ok {
		return nil, repository.ErrExecutionNotFound
	}
	return e.Snapshot(), nil
}

// FindLatestExecution returns the most recently created execution of jobID.
func (s *Store) FindLatestExecution(ctx context.Context, jobID string) (*model.JobExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *model.JobExecution
	for _, e := range s.executions {
		if e.JobID != jobID {
			continue
		}
		if latest == nil || e.CreatedAt.After(latest.CreatedAt) {
			latest = e
		}
	}
	if latest == nil {
		return nil, repository.ErrExecutionNotFound
	}
	return latest.Snapshot(), nil
}

// FindActiveExecutions returns the PENDING or RUNNING executions of jobID.
func (s *Store) FindActiveExecutions(ctx context.Context, jobID string) ([]*model.JobExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.JobExecution
	for _, e := range s.executions {
		if e.JobID == jobID && e.Status.IsActive() {
			out = append(out, e.Snapshot())
		}
	}
	return out, nil
}

// FindStaleExecutions returns active executions created before createdBefore.
func (s *Store) FindStaleExecutions(ctx context.Context, createdBefore time.Time) ([]*model.JobExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.JobExecution
	for _, e := range s.executions {
		if e.Status.IsActive() && e.CreatedAt.Before(createdBefore) {
			out = append(out, e.Snapshot())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// SavePerformanceMetrics persists the finalize-phase metrics.
func (s *Store) SavePerformanceMetrics(ctx context.Context, m *model.PerformanceMetrics) error {
	c := *m
	return s.write(ctx, func() { s.perf[c.ExecutionID] = &c })
}

// FindPerformanceMetrics returns the metrics stored for executionID.
func (s *Store) FindPerformanceMetrics(ctx context.Context, executionID string) (*model.PerformanceMetrics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.perf[executionID]
	if !ok {
		return nil, repository.ErrExecutionNotFound
	}
	c := *m
	return &c, nil
}
