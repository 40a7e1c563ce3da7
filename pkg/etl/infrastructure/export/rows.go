package export

import (
	"encoding/json"

	model "github.com/tigerroll/etlcore/pkg/etl/core/domain/model"
)

// RejectedRow is the parquet layout of a rejected record.
type RejectedRow struct {
	ID          string `parquet:"name=id,type=BYTE_ARRAY,convertedtype=UTF8"`
	ExecutionID string `parquet:"name=execution_id,type=BYTE_ARRAY,convertedtype=UTF8,encoding=PLAIN_DICTIONARY"`
	RawRecordID string `parquet:"name=raw_record_id,type=BYTE_ARRAY,convertedtype=UTF8"`
	Origin      string `parquet:"name=origin,type=BYTE_ARRAY,convertedtype=UTF8,encoding=PLAIN_DICTIONARY"`
	RowNumber   int64  `parquet:"name=row_number,type=INT64"`
	Stage       string `parquet:"name=stage,type=BYTE_ARRAY,convertedtype=UTF8,encoding=PLAIN_DICTIONARY"`
	Reasons     string `parquet:"name=reasons,type=BYTE_ARRAY,convertedtype=UTF8"`
	Payload     string `parquet:"name=payload,type=BYTE_ARRAY,convertedtype=UTF8"`
	CreatedAt   int64  `parquet:"name=created_at,type=INT64,convertedtype=TIMESTAMP_MILLIS"`
}

// LineageRow is the parquet layout of a lineage row.
type LineageRow struct {
	ID                   string `parquet:"name=id,type=BYTE_ARRAY,convertedtype=UTF8"`
	SourceRecordID       string `parquet:"name=source_record_id,type=BYTE_ARRAY,convertedtype=UTF8"`
	TargetEntityID       string `parquet:"name=target_entity_id,type=BYTE_ARRAY,convertedtype=UTF8"`
	TransformationRuleID string `parquet:"name=transformation_rule_id,type=BYTE_ARRAY,convertedtype=UTF8,encoding=PLAIN_DICTIONARY"`
	ExecutionID          string `parquet:"name=execution_id,type=BYTE_ARRAY,convertedtype=UTF8,encoding=PLAIN_DICTIONARY"`
	CreatedAt            int64  `parquet:"name=created_at,type=INT64,convertedtype=TIMESTAMP_MILLIS"`
}

func rejectedRow(r *model.RejectedRecord) (*RejectedRow, error) {
	reasons, err := json.Marshal(r.Reasons)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(r.Payload)
	if err != nil {
		return nil, err
	}
	return &RejectedRow{
		ID:          r.ID,
		ExecutionID: r.ExecutionID,
		RawRecordID: r.RawRecordID,
		Origin:      r.Origin,
		RowNumber:   int64(r.RowNumber),
		Stage:       r.Stage,
		Reasons:     string(reasons),
		Payload:     string(payload),
		CreatedAt:   r.CreatedAt.UnixMilli(),
	}, nil
}

func lineageRow(l *model.DataLineage) *LineageRow {
	return &LineageRow{
		ID:                   l.ID,
		SourceRecordID:       l.SourceRecordID,
		TargetEntityID:       l.TargetEntityID,
		TransformationRuleID: l.TransformationRuleID,
		ExecutionID:          l.ExecutionID,
		CreatedAt:            l.CreatedAt.UnixMilli(),
	}
}
