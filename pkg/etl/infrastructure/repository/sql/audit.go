package sql

import (
	"context"

	model "github.com/tigerroll/etlcore/pkg/etl/core/domain/model"
	repository "github.com/tigerroll/etlcore/pkg/etl/core/domain/repository"
)

// SaveErrorLog appends an error log. It always writes through the pool so the
// entry survives a rollback of the transaction that failed.
func (s *Store) SaveErrorLog(ctx context.Context, e *model.ErrorLog) error {
	return wrap("SQLStore.SaveErrorLog", s.db.WithContext(ctx).Create(fromDomainErrorLog(e)).Error)
}

// UpdateErrorLog stores the resolution fields of an existing entry.
func (s *Store) UpdateErrorLog(ctx context.Context, e *model.ErrorLog) error {
	res := s.conn(ctx).Model(&ErrorLogEntity{}).Where("id = ?", e.ID).Updates(map[string]interface{}{
		"resolved":         e.Resolved,
		"resolved_at":      e.ResolvedAt,
		"resolved_by":      e.ResolvedBy,
		"resolution_notes": e.ResolutionNotes,
	})
	if res.Error != nil {
		return wrap("SQLStore.UpdateErrorLog", res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := s.FindErrorLogByID(ctx, e.ID); err != nil {
			return err
		}
	}
	return nil
}

// FindErrorLogByID returns ErrErrorLogNotFound for unknown ids.
func (s *Store) FindErrorLogByID(ctx context.Context, id string) (*model.ErrorLog, error) {
	var rows []ErrorLogEntity
	if err := s.conn(ctx).Where("id = ?", id).Limit(1).Find(&rows).Error; err != nil {
		return nil, wrap("SQLStore.FindErrorLogByID", err)
	}
	if len(rows) == 0 {
		return nil, repository.ErrErrorLogNotFound
	}
	return toDomainErrorLog(&rows[0]), nil
}

// ListErrorLogs returns the entries matching filter, newest first.
func (s *Store) ListErrorLogs(ctx context.Context, filter model.ErrorFilter) ([]*model.ErrorLog, error) {
	q := s.conn(ctx).Order("occurred_at DESC, id")
	if filter.ExecutionID != "" {
		q = q.Where("execution_id = ?", filter.ExecutionID)
	}
	if filter.Kind != "" {
		q = q.Where("kind = ?", filter.Kind)
	}
	if filter.Severity != "" {
		q = q.Where("severity = ?", string(filter.Severity))
	}
	if filter.Resolved != nil {
		q = q.Where("resolved = ?", *filter.Resolved)
	}
	if !filter.Since.IsZero() {
		q = q.Where("occurred_at >= ?", filter.Since)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	var rows []ErrorLogEntity
	if err := q.Find(&rows).Error; err != nil {
		return nil, wrap("SQLStore.ListErrorLogs", err)
	}
	out := make([]*model.ErrorLog, len(rows))
	for i := range rows {
		out[i] = toDomainErrorLog(&rows[i])
	}
	return out, nil
}
