package sql

import (
	"context"

	model "github.com/tigerroll/etlcore/pkg/etl/core/domain/model"
)

// SaveRawRecords persists extracted rows.
func (s *Store) SaveRawRecords(ctx context.Context, records []*model.RawRecord) error {
	if len(records) == 0 {
		return nil
	}
	rows := make([]RawRecordEntity, len(records))
	for i, r := range records {
		rows[i] = fromDomainRaw(r)
	}
	return wrap("SQLStore.SaveRawRecords", s.conn(ctx).CreateInBatches(rows, insertBatchSize).Error)
}

// IsHashProcessed reports whether a loaded raw record of jobID has this hash.
func (s *Store) IsHashProcessed(ctx context.Context, jobID, contentHash string) (bool, error) {
	var n int64
	err := s.conn(ctx).Model(&RawRecordEntity{}).
		Where("job_id = ? AND content_hash = ? AND processed = ?", jobID, contentHash, true).
		Count(&n).Error
	if err != nil {
		return false, wrap("SQLStore.IsHashProcessed", err)
	}
	return n > 0, nil
}

// MarkRawRecordsProcessed flags raw records as loaded.
func (s *Store) MarkRawRecordsProcessed(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	err := s.conn(ctx).Model(&RawRecordEntity{}).Where("id IN ?", ids).Update("processed", true).Error
	return wrap("SQLStore.MarkRawRecordsProcessed", err)
}

// ListRawRecords returns the raw records of executionID in row order.
func (s *Store) ListRawRecords(ctx context.Context, executionID string) ([]*model.RawRecord, error) {
	var rows []RawRecordEntity
	if err := s.conn(ctx).Where("execution_id = ?", executionID).Order("origin, row_num").Find(&rows).Error; err != nil {
		return nil, wrap("SQLStore.ListRawRecords", err)
	}
	out := make([]*model.RawRecord, len(rows))
	for i := range rows {
		out[i] = toDomainRaw(&rows[i])
	}
	return out, nil
}

// SaveStandardizedRecords persists loaded, standardized rows.
func (s *Store) SaveStandardizedRecords(ctx context.Context, records []*model.StandardizedRecord) error {
	if len(records) == 0 {
		return nil
	}
	rows := make([]StandardizedRecordEntity, len(records))
	for i, r := range records {
		rows[i] = fromDomainStandardized(r)
	}
	return wrap("SQLStore.SaveStandardizedRecords", s.conn(ctx).CreateInBatches(rows, insertBatchSize).Error)
}

// ListStandardizedRecords returns the standardized rows of executionID.
func (s *Store) ListStandardizedRecords(ctx context.Context, executionID string) ([]*model.StandardizedRecord, error) {
	var rows []StandardizedRecordEntity
	if err := s.conn(ctx).Where("execution_id = ?", executionID).Order("created_at, id").Find(&rows).Error; err != nil {
		return nil, wrap("SQLStore.ListStandardizedRecords", err)
	}
	out := make([]*model.StandardizedRecord, len(rows))
	for i := range rows {
		out[i] = toDomainStandardized(&rows[i])
	}
	return out, nil
}

// SaveRejectedRecords appends rejections.
func (s *Store) SaveRejectedRecords(ctx context.Context, records []*model.RejectedRecord) error {
	if len(records) == 0 {
		return nil
	}
	rows := make([]RejectedRecordEntity, len(records))
	for i, r := range records {
		rows[i] = fromDomainRejected(r)
	}
	return wrap("SQLStore.SaveRejectedRecords", s.conn(ctx).CreateInBatches(rows, insertBatchSize).Error)
}

// ListRejectedRecords returns the rejections of executionID.
func (s *Store) ListRejectedRecords(ctx context.Context, executionID string) ([]*model.RejectedRecord, error) {
	var rows []RejectedRecordEntity
	if err := s.conn(ctx).Where("execution_id = ?", executionID).Order("origin, row_num").Find(&rows).Error; err != nil {
		return nil, wrap("SQLStore.ListRejectedRecords", err)
	}
	out := make([]*model.RejectedRecord, len(rows))
	for i := range rows {
		out[i] = toDomainRejected(&rows[i])
	}
	return out, nil
}

// SaveQualityResults appends quality results.
func (s *Store) SaveQualityResults(ctx context.Context, results []*model.QualityResult) error {
	if len(results) == 0 {
		return nil
	}
	rows := make([]QualityResultEntity, len(results))
	for i, r := range results {
		rows[i] = fromDomainQualityResult(r)
	}
	return wrap("SQLStore.SaveQualityResults", s.conn(ctx).CreateInBatches(rows, insertBatchSize).Error)
}

// ListQualityResults returns the quality results of executionID.
func (s *Store) ListQualityResults(ctx context.Context, executionID string) ([]*model.QualityResult, error) {
	var rows []QualityResultEntity
	if err := s.conn(ctx).Where("execution_id = ?", executionID).Order("created_at, id").Find(&rows).Error; err != nil {
		return nil, wrap("SQLStore.ListQualityResults", err)
	}
	out := make([]*model.QualityResult, len(rows))
	for i := range rows {
		out[i] = toDomainQualityResult(&rows[i])
	}
	return out, nil
}
