package model

import (
	"time"

	"github.com/google/uuid"
)

// RuleKind is the kind of quality rule.
type RuleKind string

const (
	RuleCompleteness RuleKind = "completeness"
	RuleUniqueness   RuleKind = "uniqueness"
	RuleValidity     RuleKind = "validity"
	RuleRange        RuleKind = "range"
	RuleConsistency  RuleKind = "consistency"
)

// Severity controls whether a violation rejects the record.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	// SeverityInfo is used for low-severity notes such as lookup misses.
	SeverityInfo Severity = "info"
)

// QualityRule is a rule definition. Parameters are kind-specific and decoded
// by the validator.
type QualityRule struct {
	ID         string                 `yaml:"id" json:"id"`
	Name       string                 `yaml:"name" json:"name"`
	Kind       RuleKind               `yaml:"kind" json:"kind"`
	EntityType string                 `yaml:"entityType" json:"entity_type,omitempty"`
	Fields     []string               `yaml:"fields" json:"fields"`
	Parameters map[string]interface{} `yaml:"parameters" json:"parameters,omitempty"`
	Severity   Severity               `yaml:"severity" json:"severity"`
	Active     bool                   `yaml:"active" json:"active"`
}

// AppliesTo reports whether the rule targets entityType. Rules with no entity
// type apply to every job.
func (r *QualityRule) AppliesTo(entityType string) bool {
	return r.Active && (r.EntityType == "" || r.EntityType == entityType)
}

// QualityResult is the per-record outcome of one rule. Append-only.
type QualityResult struct {
	ID          string    `json:"id"`
	RuleID      string    `json:"rule_id"`
	ExecutionID string    `json:"execution_id"`
	RecordRef   string    `json:"record_ref"`
	Field       string    `json:"field,omitempty"`
	Passed      bool      `json:"passed"`
	Severity    Severity  `json:"severity"`
	Message     string    `json:"message"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewQualityResult creates a result row.
func NewQualityResult(ruleID, executionID, recordRef, field string, passed bool, severity Severity, msg string) *QualityResult {
	return &QualityResult{
		ID:          uuid.New().String(),
		RuleID:      ruleID,
		ExecutionID: executionID,
		RecordRef:   recordRef,
		Field:       field,
		Passed:      passed,
		Severity:    severity,
		Message:     msg,
		CreatedAt:   time.Now(),
	}
}

// QualitySummary is computed in the finalize phase.
type QualitySummary struct {
	Total     int64   `json:"total"`
	Passed    int64   `json:"passed"`
	Warned    int64   `json:"warned"`
	Failed    int64   `json:"failed"`
	PassRate  float64 `json:"pass_rate"`
	ErrorRate float64 `json:"error_rate"`
}

// NewQualitySummary derives the rates. An empty run has pass rate 1.
func NewQualitySummary(passed, warned, failed int64) QualitySummary {
	total := passed + failed
	s := QualitySummary{Total: total, Passed: passed, Warned: warned, Failed: failed, PassRate: 1}
	if total > 0 {
		s.PassRate = float64(passed) / float64(total)
		s.ErrorRate = float64(failed) / float64(total)
	}
	return s
}
