package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	model "github.com/tigerroll/etlcore/pkg/etl/core/domain/model"
	"github.com/tigerroll/etlcore/pkg/etl/core/domain/repository"
	"github.com/tigerroll/etlcore/pkg/etl/support/util/exception"
	"github.com/tigerroll/etlcore/pkg/etl/support/util/logger"
)

const recentErrorCount = 5

// ListErrors returns error logs matching filter, newest first.
func (s *Service) ListErrors(ctx context.Context, filter model.ErrorFilter) ([]*model.ErrorLog, error) {
	return s.store.ListErrorLogs(ctx, filter)
}

// ResolveError marks an error log resolved. Resolving twice is a StateError.
func (s *Service) ResolveError(ctx context.Context, errorID, resolvedBy, notes string) (*model.ErrorLog, error) {
	e, err := s.store.FindErrorLogByID(ctx, errorID)
	if errors.Is(err, repository.ErrErrorLogNotFound) {
		return nil, exception.New(exception.NotFoundError, moduleName, fmt.Sprintf("error log %s", errorID), err)
	}
	if err != nil {
		return nil, err
	}
	if e.Resolved {
		return nil, exception.Newf(exception.StateError, moduleName, "error log %s is already resolved", errorID)
	}
	now := timeNow()
	e.Resolved = true
	e.ResolvedAt = &now
	e.ResolvedBy = resolvedBy
	e.ResolutionNotes = notes
	if err := s.store.UpdateErrorLog(ctx, e); err != nil {
		return nil, err
	}
	logger.Infof("Error log %s resolved by %s.", errorID, resolvedBy)
	return e, nil
}

// ErrorSummary aggregates the error logs of the last days (optionally of one
// execution). ResolutionRate is a percentage.
func (s *Service) ErrorSummary(ctx context.Context, executionID string, days int) (*model.ErrorSummary, error) {
	if days <= 0 {
		days = 7
	}
	logs, err := s.store.ListErrorLogs(ctx, model.ErrorFilter{
		ExecutionID: executionID,
		Since:       timeNow().Add(-time.Duration(days) * 24 * time.Hour),
	})
	if err != nil {
		return nil, err
	}
	sum := &model.ErrorSummary{
		BySeverity: map[model.ErrorSeverity]int{
			model.ErrorSeverityLow:      0,
			model.ErrorSeverityMedium:   0,
			model.ErrorSeverityHigh:     0,
			model.ErrorSeverityCritical: 0,
		},
		ByKind: map[string]int{},
	}
	for _, e := range logs {
		sum.Total++
		if e.Resolved {
			sum.Resolved++
		}
		sum.BySeverity[e.Severity]++
		sum.ByKind[e.Kind]++
	}
	sum.Unresolved = sum.Total - sum.Resolved
	if sum.Total > 0 {
		sum.ResolutionRate = float64(sum.Resolved) / float64(sum.Total) * 100
	}
	sort.SliceStable(logs, func(i, j int) bool { return logs[i].OccurredAt.After(logs[j].OccurredAt) })
	if len(logs) > recentErrorCount {
		logs = logs[:recentErrorCount]
	}
	sum.Recent = logs
	return sum, nil
}
