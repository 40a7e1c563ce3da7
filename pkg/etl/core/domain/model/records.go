package model

import (
	"time"

	"github.com/google/uuid"
)

// Row is one raw row handed over by a source reader.
type Row struct {
	// Origin identifies the file/object (and sheet, table...) the row came from.
	Origin string
	// Number is the 1-based row number within Origin.
	Number int
	Fields Fields
}

// RawRecord is an extracted row, hashed by content for dedup and audit.
type RawRecord struct {
	ID          string    `json:"id"`
	ExecutionID string    `json:"execution_id"`
	JobID       string    `json:"job_id"`
	Origin      string    `json:"origin"`
	RowNumber   int       `json:"row_number"`
	Payload     Fields    `json:"payload"`
	ContentHash string    `json:"content_hash"`
	Processed   bool      `json:"processed"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewRawRecord builds a RawRecord from a row and computes its hash.
func NewRawRecord(executionID, jobID string, row Row) *RawRecord {
	return &RawRecord{
		ID:          uuid.New().String(),
		ExecutionID: executionID,
		JobID:       jobID,
		Origin:      row.Origin,
		RowNumber:   row.Number,
		Payload:     row.Fields,
		ContentHash: row.Fields.ContentHash(),
		CreatedAt:   time.Now(),
	}
}

// ValidationStatus is the outcome of validation for a standardized record.
type ValidationStatus string

const (
	ValidationValid   ValidationStatus = "VALID"
	ValidationWarning ValidationStatus = "WARNING"
	ValidationInvalid ValidationStatus = "INVALID"
)

// StandardizedRecord is the Transformer's output, keyed by origin + content hash.
type StandardizedRecord struct {
	ID               string           `json:"id"`
	RawRecordID      string           `json:"raw_record_id"`
	ExecutionID      string           `json:"execution_id"`
	JobID            string           `json:"job_id"`
	Origin           string           `json:"origin"`
	ContentHash      string           `json:"content_hash"`
	Data             Fields           `json:"data"`
	ValidationStatus ValidationStatus `json:"validation_status"`
	EntityID         string           `json:"entity_id,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
}

// RejectedRecord is an append-only fact: a record excluded from Load and why.
type RejectedRecord struct {
	ID          string     `json:"id"`
	ExecutionID string     `json:"execution_id"`
	RawRecordID string     `json:"raw_record_id"`
	Origin      string     `json:"origin"`
	RowNumber   int        `json:"row_number"`
	Stage       string     `json:"stage"`
	Reasons     StringList `json:"reasons"`
	Payload     Fields     `json:"payload"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Rejection stages.
const (
	StageExtract   = "extract"
	StageTransform = "transform"
	StageValidate  = "validate"
	StageLoad      = "load"
)

// NewRejectedRecord builds a rejection for raw.
func NewRejectedRecord(raw *RawRecord, stage string, reasons []string) *RejectedRecord {
	return &RejectedRecord{
		ID:          uuid.New().String(),
		ExecutionID: raw.ExecutionID,
		RawRecordID: raw.ID,
		Origin:      raw.Origin,
		RowNumber:   raw.RowNumber,
		Stage:       stage,
		Reasons:     reasons,
		Payload:     raw.Payload.Copy(),
		CreatedAt:   time.Now(),
	}
}
