package repository

import (
	"context"

	model "github.com/tigerroll/etlcore/pkg/etl/core/domain/model"
)

// RecordRepository persists the per-execution record trail: raw rows,
// standardized rows, rejections and quality results.
type RecordRepository interface {
	// SaveRawRecords persists extracted rows.
	SaveRawRecords(ctx context.Context, records []*model.RawRecord) error

	// IsHashProcessed reports whether a raw record of jobID with this content hash
	// has already been loaded by any execution.
	IsHashProcessed(ctx context.Context, jobID, contentHash string) (bool, error)

	// MarkRawRecordsProcessed flags raw records as loaded.
	MarkRawRecordsProcessed(ctx context.Context, ids []string) error

	// ListRawRecords returns the raw records extracted by executionID in row order.
	ListRawRecords(ctx context.Context, executionID string) ([]*model.RawRecord, error)

	// SaveStandardizedRecords persists loaded, standardized rows.
	SaveStandardizedRecords(ctx context.Context, records []*model.StandardizedRecord) error

	// ListStandardizedRecords returns the standardized rows of executionID.
	ListStandardizedRecords(ctx context.Context, executionID string) ([]*model.StandardizedRecord, error)

	// SaveRejectedRecords appends rejections.
	SaveRejectedRecords(ctx context.Context, records []*model.RejectedRecord) error

	// ListRejectedRecords returns the rejections of executionID.
	ListRejectedRecords(ctx context.Context, executionID string) ([]*model.RejectedRecord, error)

	// SaveQualityResults appends quality results.
	SaveQualityResults(ctx context.Context, results []*model.QualityResult) error

	// ListQualityResults returns the quality results of executionID.
	ListQualityResults(ctx context.Context, executionID string) ([]*model.QualityResult, error)
}
