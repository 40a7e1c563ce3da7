package sql

import (
	"time"

	model "github.com/tigerroll/etlcore/pkg/etl/core/domain/model"
)

// --- Mapper functions ---

func fromDomainJob(j *model.Job) *JobEntity {
	return &JobEntity{
		ID:         j.ID,
		Name:       j.Name,
		Type:       string(j.Type),
		EntityType: j.EntityType,
		Source:     j.Source,
		Cleansing:  j.Cleansing,
		Mappings:   j.Mappings,
		Match:      j.Match,
		Schedule:   j.Schedule,
		Queue:      j.Queue,
		Enabled:    j.Enabled,
		Version:    j.Version,
		CreatedAt:  j.CreatedAt,
		UpdatedAt:  j.UpdatedAt,
	}
}

func toDomainJob(e *JobEntity) *model.Job {
	return &model.Job{
		ID:         e.ID,
		Name:       e.Name,
		Type:       model.JobType(e.Type),
		EntityType: e.EntityType,
		Source:     e.Source,
		Cleansing:  e.Cleansing,
		Mappings:   e.Mappings,
		Match:      e.Match,
		Schedule:   e.Schedule,
		Queue:      e.Queue,
		Enabled:    e.Enabled,
		Version:    e.Version,
		CreatedAt:  e.CreatedAt,
		UpdatedAt:  e.UpdatedAt,
	}
}

func fromDomainDependency(d *model.JobDependency) *JobDependencyEntity {
	return &JobDependencyEntity{
		ID:          d.ID,
		ParentJobID: d.ParentJobID,
		ChildJobID:  d.ChildJobID,
		Kind:        string(d.Kind),
		Description: d.Description,
		Active:      d.Active,
		CreatedAt:   d.CreatedAt,
	}
}

func toDomainDependency(e *JobDependencyEntity) *model.JobDependency {
	return &model.JobDependency{
		ID:          e.ID,
		ParentJobID: e.ParentJobID,
		ChildJobID:  e.ChildJobID,
		Kind:        model.DependencyKind(e.Kind),
		Description: e.Description,
		Active:      e.Active,
		CreatedAt:   e.CreatedAt,
	}
}

func fromDomainRule(r *model.QualityRule) *QualityRuleEntity {
	return &QualityRuleEntity{
		ID:         r.ID,
		Name:       r.Name,
		Kind:       string(r.Kind),
		EntityType: r.EntityType,
		Fields:     r.Fields,
		Parameters: r.Parameters,
		Severity:   string(r.Severity),
		Active:     r.Active,
		CreatedAt:  time.Now(),
	}
}

func toDomainRule(e *QualityRuleEntity) *model.QualityRule {
	return &model.QualityRule{
		ID:         e.ID,
		Name:       e.Name,
		Kind:       model.RuleKind(e.Kind),
		EntityType: e.EntityType,
		Fields:     e.Fields,
		Parameters: e.Parameters,
		Severity:   model.Severity(e.Severity),
		Active:     e.Active,
	}
}

func fromDomainExecution(je *model.JobExecution) *JobExecutionEntity {
	s := je.Snapshot()
	return &JobExecutionEntity{
		ID:            s.ID,
		JobID:         s.JobID,
		JobName:       s.JobName,
		Queue:         s.Queue,
		Status:        string(s.Status),
		Params:        s.Params,
		Extracted:     s.Counters.Extracted,
		Transformed:   s.Counters.Transformed,
		Loaded:        s.Counters.Loaded,
		Rejected:      s.Counters.Rejected,
		Duplicates:    s.Counters.Duplicates,
		CreatedAt:     s.CreatedAt,
		StartTime:     s.StartTime,
		EndTime:       s.EndTime,
		FailureReason: s.FailureReason,
		TriggeredBy:   s.TriggeredBy,
		Version:       s.Version,
	}
}

func toDomainExecution(e *JobExecutionEntity) *model.JobExecution {
	return &model.JobExecution{
		ID:      e.ID,
		JobID:   e.JobID,
		JobName: e.JobName,
		Queue:   e.Queue,
		Status:  model.ExecutionStatus(e.Status),
		Params:  e.Params,
		Counters: model.Counters{
			Extracted:   e.Extracted,
			Transformed: e.Transformed,
			Loaded:      e.Loaded,
			Rejected:    e.Rejected,
			Duplicates:  e.Duplicates,
		},
		CreatedAt:     e.CreatedAt,
		StartTime:     e.StartTime,
		EndTime:       e.EndTime,
		FailureReason: e.FailureReason,
		TriggeredBy:   e.TriggeredBy,
		Version:       e.Version,
	}
}

func fromDomainPerformance(m *model.PerformanceMetrics) *PerformanceMetricsEntity {
	return &PerformanceMetricsEntity{
		ExecutionID:      m.ExecutionID,
		ID:               m.ID,
		JobID:            m.JobID,
		DurationMillis:   m.Duration.Milliseconds(),
		RecordsPerSecond: m.RecordsPerSecond,
		PhaseDurations:   m.PhaseDurations,
		Extracted:        m.Counters.Extracted,
		Transformed:      m.Counters.Transformed,
		Loaded:           m.Counters.Loaded,
		Rejected:         m.Counters.Rejected,
		Duplicates:       m.Counters.Duplicates,
		RecordedAt:       m.RecordedAt,
	}
}

func toDomainPerformance(e *PerformanceMetricsEntity) *model.PerformanceMetrics {
	return &model.PerformanceMetrics{
		ID:               e.ID,
		ExecutionID:      e.ExecutionID,
		JobID:            e.JobID,
		Duration:         time.Duration(e.DurationMillis) * time.Millisecond,
		RecordsPerSecond: e.RecordsPerSecond,
		PhaseDurations:   e.PhaseDurations,
		Counters: model.Counters{
			Extracted:   e.Extracted,
			Transformed: e.Transformed,
			Loaded:      e.Loaded,
			Rejected:    e.Rejected,
			Duplicates:  e.Duplicates,
		},
		RecordedAt: e.RecordedAt,
	}
}

func fromDomainRaw(r *model.RawRecord) RawRecordEntity {
	return RawRecordEntity{
		ID:          r.ID,
		ExecutionID: r.ExecutionID,
		JobID:       r.JobID,
		Origin:      r.Origin,
		RowNumber:   r.RowNumber,
		Payload:     r.Payload,
		ContentHash: r.ContentHash,
		Processed:   r.Processed,
		CreatedAt:   r.CreatedAt,
	}
}

func toDomainRaw(e *RawRecordEntity) *model.RawRecord {
	return &model.RawRecord{
		ID:          e.ID,
		ExecutionID: e.ExecutionID,
		JobID:       e.JobID,
		Origin:      e.Origin,
		RowNumber:   e.RowNumber,
		Payload:     e.Payload,
		ContentHash: e.ContentHash,
		Processed:   e.Processed,
		CreatedAt:   e.CreatedAt,
	}
}

func fromDomainStandardized(r *model.StandardizedRecord) StandardizedRecordEntity {
	return StandardizedRecordEntity{
		ID:               r.ID,
		RawRecordID:      r.RawRecordID,
		ExecutionID:      r.ExecutionID,
		JobID:            r.JobID,
		Origin:           r.Origin,
		ContentHash:      r.ContentHash,
		Data:             r.Data,
		ValidationStatus: string(r.ValidationStatus),
		EntityID:         r.EntityID,
		CreatedAt:        r.CreatedAt,
	}
}

func toDomainStandardized(e *StandardizedRecordEntity) *model.StandardizedRecord {
	return &model.StandardizedRecord{
		ID:               e.ID,
		RawRecordID:      e.RawRecordID,
		ExecutionID:      e.ExecutionID,
		JobID:            e.JobID,
		Origin:           e.Origin,
		ContentHash:      e.ContentHash,
		Data:             e.Data,
		ValidationStatus: model.ValidationStatus(e.ValidationStatus),
		EntityID:         e.EntityID,
		CreatedAt:        e.CreatedAt,
	}
}

func fromDomainRejected(r *model.RejectedRecord) RejectedRecordEntity {
	return RejectedRecordEntity{
		ID:          r.ID,
		ExecutionID: r.ExecutionID,
		RawRecordID: r.RawRecordID,
		Origin:      r.Origin,
		RowNumber:   r.RowNumber,
		Stage:       r.Stage,
		Reasons:     r.Reasons,
		Payload:     r.Payload,
		CreatedAt:   r.CreatedAt,
	}
}

func toDomainRejected(e *RejectedRecordEntity) *model.RejectedRecord {
	return &model.RejectedRecord{
		ID:          e.ID,
		ExecutionID: e.ExecutionID,
		RawRecordID: e.RawRecordID,
		Origin:      e.Origin,
		RowNumber:   e.RowNumber,
		Stage:       e.Stage,
		Reasons:     e.Reasons,
		Payload:     e.Payload,
		CreatedAt:   e.CreatedAt,
	}
}

func fromDomainQualityResult(r *model.QualityResult) QualityResultEntity {
	return QualityResultEntity{
		ID:          r.ID,
		RuleID:      r.RuleID,
		ExecutionID: r.ExecutionID,
		RecordRef:   r.RecordRef,
		Field:       r.Field,
		Passed:      r.Passed,
		Severity:    string(r.Severity),
		Message:     r.Message,
		CreatedAt:   r.CreatedAt,
	}
}

func toDomainQualityResult(e *QualityResultEntity) *model.QualityResult {
	return &model.QualityResult{
		ID:          e.ID,
		RuleID:      e.RuleID,
		ExecutionID: e.ExecutionID,
		RecordRef:   e.RecordRef,
		Field:       e.Field,
		Passed:      e.Passed,
		Severity:    model.Severity(e.Severity),
		Message:     e.Message,
		CreatedAt:   e.CreatedAt,
	}
}

func fromDomainEntity(e *model.Entity) *EntityEntity {
	return &EntityEntity{
		ID:              e.ID,
		Type:            e.Type,
		Data:            e.Data,
		EntityHash:      e.EntityHash,
		BlockKey:        e.BlockKey,
		ConfidenceScore: e.ConfidenceScore,
		DuplicateCount:  e.DuplicateCount,
		MasterEntityID:  e.MasterEntityID,
		Version:         e.Version,
		CreatedAt:       e.CreatedAt,
		UpdatedAt:       e.UpdatedAt,
	}
}

func toDomainEntity(e *EntityEntity) *model.Entity {
	return &model.Entity{
		ID:              e.ID,
		Type:            e.Type,
		Data:            e.Data,
		EntityHash:      e.EntityHash,
		BlockKey:        e.BlockKey,
		ConfidenceScore: e.ConfidenceScore,
		DuplicateCount:  e.DuplicateCount,
		MasterEntityID:  e.MasterEntityID,
		Version:         e.Version,
		CreatedAt:       e.CreatedAt,
		UpdatedAt:       e.UpdatedAt,
	}
}

func fromDomainRelationship(r *model.EntityRelationship) EntityRelationshipEntity {
	return EntityRelationshipEntity{
		ID:           r.ID,
		FromEntityID: r.FromEntityID,
		ToEntityID:   r.ToEntityID,
		Kind:         string(r.Kind),
		Confidence:   r.Confidence,
		ExecutionID:  r.ExecutionID,
		Attributes:   r.Attributes,
		CreatedAt:    r.CreatedAt,
	}
}

func toDomainRelationship(e *EntityRelationshipEntity) *model.EntityRelationship {
	return &model.EntityRelationship{
		ID:           e.ID,
		FromEntityID: e.FromEntityID,
		ToEntityID:   e.ToEntityID,
		Kind:         model.RelationshipKind(e.Kind),
		Confidence:   e.Confidence,
		ExecutionID:  e.ExecutionID,
		Attributes:   e.Attributes,
		CreatedAt:    e.CreatedAt,
	}
}

func fromDomainLineage(l *model.DataLineage) DataLineageEntity {
	return DataLineageEntity{
		ID:                   l.ID,
		SourceRecordID:       l.SourceRecordID,
		TargetEntityID:       l.TargetEntityID,
		TransformationRuleID: l.TransformationRuleID,
		ExecutionID:          l.ExecutionID,
		CreatedAt:            l.CreatedAt,
	}
}

func toDomainLineage(e *DataLineageEntity) *model.DataLineage {
	return &model.DataLineage{
		ID:                   e.ID,
		SourceRecordID:       e.SourceRecordID,
		TargetEntityID:       e.TargetEntityID,
		TransformationRuleID: e.TransformationRuleID,
		ExecutionID:          e.ExecutionID,
		CreatedAt:            e.CreatedAt,
	}
}

func fromDomainChangeLog(c *model.ChangeLog) ChangeLogEntity {
	return ChangeLogEntity{
		ID:          c.ID,
		EntityID:    c.EntityID,
		ExecutionID: c.ExecutionID,
		Field:       c.Field,
		OldValue:    c.OldValue,
		NewValue:    c.NewValue,
		Reason:      c.Reason,
		CreatedAt:   c.CreatedAt,
	}
}

func toDomainChangeLog(e *ChangeLogEntity) *model.ChangeLog {
	return &model.ChangeLog{
		ID:          e.ID,
		EntityID:    e.EntityID,
		ExecutionID: e.ExecutionID,
		Field:       e.Field,
		OldValue:    e.OldValue,
		NewValue:    e.NewValue,
		Reason:      e.Reason,
		CreatedAt:   e.CreatedAt,
	}
}

func fromDomainErrorLog(e *model.ErrorLog) *ErrorLogEntity {
	return &ErrorLogEntity{
		ID:              e.ID,
		ExecutionID:     e.ExecutionID,
		Kind:            e.Kind,
		Severity:        string(e.Severity),
		Message:         e.Message,
		Details:         e.Details,
		RecordRef:       e.RecordRef,
		OccurredAt:      e.OccurredAt,
		Resolved:        e.Resolved,
		ResolvedAt:      e.ResolvedAt,
		ResolvedBy:      e.ResolvedBy,
		ResolutionNotes: e.ResolutionNotes,
	}
}

func toDomainErrorLog(e *ErrorLogEntity) *model.ErrorLog {
	return &model.ErrorLog{
		ID:              e.ID,
		ExecutionID:     e.ExecutionID,
		Kind:            e.Kind,
		Severity:        model.ErrorSeverity(e.Severity),
		Message:         e.Message,
		Details:         e.Details,
		RecordRef:       e.RecordRef,
		OccurredAt:      e.OccurredAt,
		Resolved:        e.Resolved,
		ResolvedAt:      e.ResolvedAt,
		ResolvedBy:      e.ResolvedBy,
		ResolutionNotes: e.ResolutionNotes,
	}
}
