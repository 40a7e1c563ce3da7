package sql

import (
	"time"

	model "github.com/tigerroll/etlcore/pkg/etl/core/domain/model"
)

// JobEntity is a schema model used for persistence. The nested definition
// parts are stored as JSON documents.
type JobEntity struct {
	ID         string                 `gorm:"primaryKey;size:64"`
	Name       string                 `gorm:"size:255;uniqueIndex"`
	Type       string                 `gorm:"size:32"`
	EntityType string                 `gorm:"size:128"`
	Source     model.SourceDescriptor `gorm:"serializer:json;type:text"`
	Cleansing  model.CleansingPolicy  `gorm:"serializer:json;type:text"`
	Mappings   []model.FieldMapping   `gorm:"serializer:json;type:text"`
	Match      model.MatchSpec        `gorm:"column:match_spec;serializer:json;type:text"`
	Schedule   string                 `gorm:"size:128"`
	Queue      string                 `gorm:"size:128"`
	Enabled    bool
	Version    int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (JobEntity) TableName() string { return "etl_jobs" }

// JobDependencyEntity is a schema model used for persistence.
type JobDependencyEntity struct {
	ID          string `gorm:"primaryKey;size:64"`
	ParentJobID string `gorm:"size:64;index"`
	ChildJobID  string `gorm:"size:64;index"`
	Kind        string `gorm:"size:32"`
	Description string
	Active      bool
	CreatedAt   time.Time
}

func (JobDependencyEntity) TableName() string { return "etl_job_dependencies" }

// QualityRuleEntity is a schema model used for persistence.
type QualityRuleEntity struct {
	ID         string                 `gorm:"primaryKey;size:64"`
	Name       string                 `gorm:"size:255"`
	Kind       string                 `gorm:"size:32"`
	EntityType string                 `gorm:"size:128;index"`
	Fields     []string               `gorm:"serializer:json;type:text"`
	Parameters map[string]interface{} `gorm:"serializer:json;type:text"`
	Severity   string                 `gorm:"size:16"`
	Active     bool
	CreatedAt  time.Time
}

func (QualityRuleEntity) TableName() string { return "etl_quality_rules" }

// JobExecutionEntity is a schema model used for persistence.
type JobExecutionEntity struct {
	ID            string       `gorm:"primaryKey;size:64"`
	JobID         string       `gorm:"size:64;index"`
	JobName       string       `gorm:"size:255"`
	Queue         string       `gorm:"size:128"`
	Status        string       `gorm:"size:16;index"`
	Params        model.Fields `gorm:"type:text"`
	Extracted     int64
	Transformed   int64
	Loaded        int64
	Rejected      int64
	Duplicates    int64
	CreatedAt     time.Time `gorm:"index"`
	StartTime     *time.Time
	EndTime       *time.Time
	FailureReason string
	TriggeredBy   string `gorm:"size:64"`
	Version       int
}

func (JobExecutionEntity) TableName() string { return "etl_job_executions" }

// PerformanceMetricsEntity is a schema model used for persistence.
type PerformanceMetricsEntity struct {
	ExecutionID      string `gorm:"primaryKey;size:64"`
	ID               string `gorm:"size:64"`
	JobID            string `gorm:"size:64;index"`
	DurationMillis   int64
	RecordsPerSecond float64
	PhaseDurations   map[string]float64 `gorm:"serializer:json;type:text"`
	Extracted        int64
	Transformed      int64
	Loaded           int64
	Rejected         int64
	Duplicates       int64
	RecordedAt       time.Time
}

func (PerformanceMetricsEntity) TableName() string { return "etl_performance_metrics" }

// RawRecordEntity is a schema model used for persistence.
type RawRecordEntity struct {
	ID          string       `gorm:"primaryKey;size:64"`
	ExecutionID string       `gorm:"size:64;index"`
	JobID       string       `gorm:"size:64;index:idx_raw_job_hash"`
	Origin      string       `gorm:"size:512"`
	RowNumber   int          `gorm:"column:row_num"`
	Payload     model.Fields `gorm:"type:text"`
	ContentHash string       `gorm:"size:64;index:idx_raw_job_hash"`
	Processed   bool
	CreatedAt   time.Time
}

func (RawRecordEntity) TableName() string { return "etl_raw_records" }

// StandardizedRecordEntity is a schema model used for persistence.
type StandardizedRecordEntity struct {
	ID               string       `gorm:"primaryKey;size:64"`
	RawRecordID      string       `gorm:"size:64"`
	ExecutionID      string       `gorm:"size:64;index"`
	JobID            string       `gorm:"size:64"`
	Origin           string       `gorm:"size:512"`
	ContentHash      string       `gorm:"size:64"`
	Data             model.Fields `gorm:"type:text"`
	ValidationStatus string       `gorm:"size:16"`
	EntityID         string       `gorm:"size:64"`
	CreatedAt        time.Time
}

func (StandardizedRecordEntity) TableName() string { return "etl_standardized_records" }

// RejectedRecordEntity is a schema model used for persistence.
type RejectedRecordEntity struct {
	ID          string           `gorm:"primaryKey;size:64"`
	ExecutionID string           `gorm:"size:64;index"`
	RawRecordID string           `gorm:"size:64"`
	Origin      string           `gorm:"size:512"`
	RowNumber   int              `gorm:"column:row_num"`
	Stage       string           `gorm:"size:32"`
	Reasons     model.StringList `gorm:"type:text"`
	Payload     model.Fields     `gorm:"type:text"`
	CreatedAt   time.Time
}

func (RejectedRecordEntity) TableName() string { return "etl_rejected_records" }

// QualityResultEntity is a schema model used for persistence.
type QualityResultEntity struct {
	ID          string `gorm:"primaryKey;size:64"`
	RuleID      string `gorm:"size:64"`
	ExecutionID string `gorm:"size:64;index"`
	RecordRef   string `gorm:"size:64"`
	Field       string `gorm:"size:255"`
	Passed      bool
	Severity    string `gorm:"size:16"`
	Message     string
	CreatedAt   time.Time
}

func (QualityResultEntity) TableName() string { return "etl_quality_results" }

// EntityEntity is a schema model used for persistence.
type EntityEntity struct {
	ID              string       `gorm:"primaryKey;size:64"`
	Type            string       `gorm:"size:128;uniqueIndex:idx_entity_hash;index:idx_entity_block"`
	Data            model.Fields `gorm:"type:text"`
	EntityHash      string       `gorm:"size:64;uniqueIndex:idx_entity_hash"`
	BlockKey        string       `gorm:"size:255;index:idx_entity_block"`
	ConfidenceScore float64
	DuplicateCount  int
	MasterEntityID  string `gorm:"size:64"`
	Version         int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (EntityEntity) TableName() string { return "etl_entities" }

// EntityRelationshipEntity is a schema model used for persistence.
type EntityRelationshipEntity struct {
	ID           string       `gorm:"primaryKey;size:64"`
	FromEntityID string       `gorm:"size:64;index"`
	ToEntityID   string       `gorm:"size:64;index"`
	Kind         string       `gorm:"size:32"`
	Confidence   float64
	ExecutionID  string       `gorm:"size:64"`
	Attributes   model.Fields `gorm:"type:text"`
	CreatedAt    time.Time
}

func (EntityRelationshipEntity) TableName() string { return "etl_entity_relationships" }

// DataLineageEntity is a schema model used for persistence.
type DataLineageEntity struct {
	ID                   string `gorm:"primaryKey;size:64"`
	SourceRecordID       string `gorm:"size:64"`
	TargetEntityID       string `gorm:"size:64;index"`
	TransformationRuleID string `gorm:"size:255"`
	ExecutionID          string `gorm:"size:64;index"`
	CreatedAt            time.Time
}

func (DataLineageEntity) TableName() string { return "etl_data_lineage" }

// ChangeLogEntity is a schema model used for persistence.
type ChangeLogEntity struct {
	ID          string      `gorm:"primaryKey;size:64"`
	EntityID    string      `gorm:"size:64;index"`
	ExecutionID string      `gorm:"size:64"`
	Field       string      `gorm:"size:255"`
	OldValue    interface{} `gorm:"serializer:json;type:text"`
	NewValue    interface{} `gorm:"serializer:json;type:text"`
	Reason      string      `gorm:"size:32"`
	CreatedAt   time.Time
}

func (ChangeLogEntity) TableName() string { return "etl_change_logs" }

// ErrorLogEntity is a schema model used for persistence.
type ErrorLogEntity struct {
	ID              string       `gorm:"primaryKey;size:64"`
	ExecutionID     string       `gorm:"size:64;index"`
	Kind            string       `gorm:"size:64"`
	Severity        string       `gorm:"size:16"`
	Message         string
	Details         model.Fields `gorm:"type:text"`
	RecordRef       string       `gorm:"size:64"`
	OccurredAt      time.Time    `gorm:"index"`
	Resolved        bool
	ResolvedAt      *time.Time
	ResolvedBy      string `gorm:"size:255"`
	ResolutionNotes string
}

func (ErrorLogEntity) TableName() string { return "etl_error_logs" }

// allEntities is the AutoMigrate set.
func allEntities() []interface{} {
	return []interface{}{
		&JobEntity{}, &JobDependencyEntity{}, &QualityRuleEntity{},
		&JobExecutionEntity{}, &PerformanceMetricsEntity{},
		&RawRecordEntity{}, &StandardizedRecordEntity{}, &RejectedRecordEntity{}, &QualityResultEntity{},
		&EntityEntity{}, &EntityRelationshipEntity{}, &DataLineageEntity{}, &ChangeLogEntity{},
		&ErrorLogEntity{},
	}
}
