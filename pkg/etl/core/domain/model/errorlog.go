package model

import (
	"time"

	"github.com/google/uuid"
)

// ErrorSeverity grades an ErrorLog entry.
type ErrorSeverity string

const (
	ErrorSeverityLow      ErrorSeverity = "low"
	ErrorSeverityMedium   ErrorSeverity = "medium"
	ErrorSeverityHigh     ErrorSeverity = "high"
	ErrorSeverityCritical ErrorSeverity = "critical"
)

// ErrorLog is an append-only failure fact. Only the resolution fields change later.
type ErrorLog struct {
	ID              string        `json:"id"`
	ExecutionID     string        `json:"execution_id,omitempty"`
	Kind            string        `json:"kind"`
	Severity        ErrorSeverity `json:"severity"`
	Message         string        `json:"message"`
	Details         Fields        `json:"details,omitempty"`
	RecordRef       string        `json:"record_ref,omitempty"`
	OccurredAt      time.Time     `json:"occurred_at"`
	Resolved        bool          `json:"resolved"`
	ResolvedAt      *time.Time    `json:"resolved_at,omitempty"`
	ResolvedBy      string        `json:"resolved_by,omitempty"`
	ResolutionNotes string        `json:"resolution_notes,omitempty"`
}

// NewErrorLog creates an unresolved entry.
func NewErrorLog(executionID, kind string, severity ErrorSeverity, message string) *ErrorLog {
	return &ErrorLog{
		ID:          uuid.New().String(),
		ExecutionID: executionID,
		Kind:        kind,
		Severity:    severity,
		Message:     message,
		Details:     Fields{},
		OccurredAt:  time.Now(),
	}
}

// ErrorFilter narrows ListErrorLogs. Zero values match everything.
type ErrorFilter struct {
	ExecutionID string
	Kind        string
	Severity    ErrorSeverity
	Resolved    *bool
	Since       time.Time
	Limit       int
}

// Matches reports whether e passes the filter.
func (f ErrorFilter) Matches(e *ErrorLog) bool {
	if f.ExecutionID != "" && e.ExecutionID != f.ExecutionID {
		return false
	}
	if f.Kind != "" && e.Kind != f.Kind {
		return false
	}
	if f.Severity != "" && e.Severity != f.Severity {
		return false
	}
	if f.Resolved != nil && e.Resolved != *f.Resolved {
		return false
	}
	if !f.Since.IsZero() && e.OccurredAt.Before(f.Since) {
		return false
	}
	return true
}

// ErrorSummary aggregates error logs over a window.
type ErrorSummary struct {
	Total          int                   `json:"total"`
	Resolved       int                   `json:"resolved"`
	Unresolved     int                   `json:"unresolved"`
	ResolutionRate float64               `json:"resolution_rate"`
	BySeverity     map[ErrorSeverity]int `json:"by_severity"`
	ByKind         map[string]int        `json:"by_kind"`
	Recent         []*ErrorLog           `json:"recent"`
}
