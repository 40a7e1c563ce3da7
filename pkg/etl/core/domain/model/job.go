package model

import (
	"time"

	"github.com/google/uuid"
)

// JobType is the kind of work a job performs.
type JobType string

const (
	JobTypeExtract   JobType = "EXTRACT"
	JobTypeTransform JobType = "TRANSFORM"
	JobTypeLoad      JobType = "LOAD"
	JobTypeFullETL   JobType = "FULL_ETL"
)

// IsValid reports whether t is a known job type.
func (t JobType) IsValid() bool {
	switch t {
	case JobTypeExtract, JobTypeTransform, JobTypeLoad, JobTypeFullETL:
		return true
	}
	return false
}

// MappingKind selects how a FieldMapping produces its target value.
type MappingKind string

const (
	MappingDirect     MappingKind = "direct"
	MappingCalculated MappingKind = "calculated"
	MappingLookup     MappingKind = "lookup"
	MappingConstant   MappingKind = "constant"
)

// CaseMode is a per-field case normalisation applied during cleansing.
type CaseMode string

const (
	CaseNone  CaseMode = ""
	CaseUpper CaseMode = "upper"
	CaseLower CaseMode = "lower"
	CaseTitle CaseMode = "title"
)

// SourceDescriptor tells the source registry where and how to read raw rows.
type SourceDescriptor struct {
	// Type selects the reader ("inline", "csv", "jsonl", "parquet").
	Type string `yaml:"type" json:"type"`
	// Path is a local path, or an object name when StorageRef is set.
	Path string `yaml:"path" json:"path,omitempty"`
	// StorageRef names a storage connection from configuration.
	StorageRef string `yaml:"storageRef" json:"storage_ref,omitempty"`
	// Options carries reader-specific settings, decoded with mapstructure.
	Options map[string]interface{} `yaml:"options" json:"options,omitempty"`
}

// FieldMapping is one transformation rule.
type FieldMapping struct {
	// RuleID identifies the mapping in lineage rows. Defaults to the target name.
	RuleID      string      `yaml:"id" json:"id,omitempty"`
	Target      string      `yaml:"target" json:"target"`
	Kind        MappingKind `yaml:"kind" json:"kind"`
	Source      string      `yaml:"source" json:"source,omitempty"`
	Expression  string      `yaml:"expression" json:"expression,omitempty"`
	LookupTable string      `yaml:"lookupTable" json:"lookup_table,omitempty"`
	Value       interface{} `yaml:"value" json:"value,omitempty"`
}

// ID returns RuleID, or the target field name when unset.
func (m FieldMapping) ID() string {
	if m.RuleID != "" {
		return m.RuleID
	}
	return m.Target
}

// CleansingPolicy runs before any mapping.
type CleansingPolicy struct {
	// Trim strips surrounding whitespace from string values.
	Trim bool `yaml:"trim" json:"trim"`
	// NullTokens are string values mapped to nil (compared case-insensitively after trim).
	NullTokens []string `yaml:"nullTokens" json:"null_tokens,omitempty"`
	// Case holds per-field case normalisation.
	Case map[string]CaseMode `yaml:"case" json:"case,omitempty"`
	// PassThrough copies cleansed fields that no mapping targets.
	PassThrough bool `yaml:"passThrough" json:"pass_through"`
}

// OverridePolicy lets incoming values replace existing non-empty entity values.
type OverridePolicy struct {
	All    bool     `yaml:"all" json:"all"`
	Fields []string `yaml:"fields" json:"fields,omitempty"`
}

// Allows reports whether the policy overrides field.
func (p OverridePolicy) Allows(field string) bool {
	if p.All {
		return true
	}
	for _, f := range p.Fields {
		if f == field {
			return true
		}
	}
	return false
}

// MatchSpec configures entity resolution for a job's records.
type MatchSpec struct {
	// KeyFields feed the exact entity hash.
	KeyFields []string `yaml:"keyFields" json:"key_fields"`
	// MatchFields feed fuzzy similarity. Defaults to KeyFields.
	MatchFields []string `yaml:"matchFields" json:"match_fields,omitempty"`
	// BlockingField buckets fuzzy candidates. Defaults to the first match field.
	BlockingField string `yaml:"blockingField" json:"blocking_field,omitempty"`
	// Weights per match field; missing fields weigh 1.0.
	Weights  map[string]float64 `yaml:"weights" json:"weights,omitempty"`
	Override OverridePolicy     `yaml:"override" json:"override"`
}

// EffectiveMatchFields returns MatchFields or, when empty, KeyFields.
func (s MatchSpec) EffectiveMatchFields() []string {
	if len(s.MatchFields) > 0 {
		return s.MatchFields
	}
	return s.KeyFields
}

// EffectiveBlockingField returns BlockingField or the first match field.
func (s MatchSpec) EffectiveBlockingField() string {
	if s.BlockingField != "" {
		return s.BlockingField
	}
	if f := s.EffectiveMatchFields(); len(f) > 0 {
		return f[0]
	}
	return ""
}

// Job is a configured ETL job. It is immutable while an execution runs and only
// updated between executions.
type Job struct {
	ID         string           `json:"id"`
	Name       string           `json:"name"`
	Type       JobType          `json:"type"`
	EntityType string           `json:"entity_type"`
	Source     SourceDescriptor `json:"source"`
	Cleansing  CleansingPolicy  `json:"cleansing"`
	Mappings   []FieldMapping   `json:"mappings"`
	Match      MatchSpec        `json:"match"`
	Schedule   string           `json:"schedule,omitempty"`
	Queue      string           `json:"queue,omitempty"`
	Enabled    bool             `json:"enabled"`
	Version    int              `json:"version"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// NewJob creates an enabled job with a fresh id.
func NewJob(name string, jobType JobType, entityType string) *Job {
	now := time.Now()
	return &Job{
		ID:         uuid.New().String(),
		Name:       name,
		Type:       jobType,
		EntityType: entityType,
		Cleansing:  CleansingPolicy{Trim: true},
		Enabled:    true,
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Copy returns a deep-enough copy for repositories to hand out.
func (j *Job) Copy() *Job {
	if j == nil {
		return nil
	}
	c := *j
	c.Mappings = append([]FieldMapping(nil), j.Mappings...)
	c.Match.KeyFields = append([]string(nil), j.Match.KeyFields...)
	c.Match.MatchFields = append([]string(nil), j.Match.MatchFields...)
	c.Cleansing.NullTokens = append([]string(nil), j.Cleansing.NullTokens...)
	return &c
}

// DependencyKind is how a child depends on its parent's latest execution.
type DependencyKind string

const (
	// DependencySuccess requires the parent's latest execution to be SUCCESS.
	DependencySuccess DependencyKind = "SUCCESS"
	// DependencyCompletion accepts any terminal status.
	DependencyCompletion DependencyKind = "COMPLETION"
	// DependencyDataAvailability requires at least one loaded record.
	DependencyDataAvailability DependencyKind = "DATA_AVAILABILITY"
)

// IsValid reports whether k is a known dependency kind.
func (k DependencyKind) IsValid() bool {
	switch k {
	case DependencySuccess, DependencyCompletion, DependencyDataAvailability:
		return true
	}
	return false
}

// JobDependency is an edge parent -> child in the job graph.
type JobDependency struct {
	ID          string         `json:"id"`
	ParentJobID string         `json:"parent_job_id"`
	ChildJobID  string         `json:"child_job_id"`
	Kind        DependencyKind `json:"kind"`
	Description string         `json:"description,omitempty"`
	Active      bool           `json:"active"`
	CreatedAt   time.Time      `json:"created_at"`
}

// NewJobDependency creates an active edge.
func NewJobDependency(parentID, childID string, kind DependencyKind) *JobDependency {
	return &JobDependency{
		ID:          uuid.New().String(),
		ParentJobID: parentID,
		ChildJobID:  childID,
		Kind:        kind,
		Active:      true,
		CreatedAt:   time.Now(),
	}
}
