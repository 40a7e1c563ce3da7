package model

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tigerroll/etlcore/pkg/etl/support/util/exception"
)

// ExecutionStatus is the state of one JobExecution.
type ExecutionStatus string

const (
	StatusPending   ExecutionStatus = "PENDING"
	StatusRunning   ExecutionStatus = "RUNNING"
	StatusSuccess   ExecutionStatus = "SUCCESS"
	StatusFailed    ExecutionStatus = "FAILED"
	StatusCancelled ExecutionStatus = "CANCELLED"
)

// String returns the string representation of the status.
func (s ExecutionStatus) String() string {
	return string(s)
}

// IsTerminal reports whether no further transition is possible.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// IsActive reports PENDING or RUNNING.
func (s ExecutionStatus) IsActive() bool {
	return s == StatusPending || s == StatusRunning
}

var transitions = map[ExecutionStatus][]ExecutionStatus{
	StatusPending: {StatusRunning, StatusFailed, StatusCancelled},
	StatusRunning: {StatusSuccess, StatusFailed, StatusCancelled},
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to ExecutionStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// FailureTimeLimitExceeded is the failure reason recorded on a hard time limit.
const FailureTimeLimitExceeded = "time_limit_exceeded"

// Counters are the per-execution record counts.
type Counters struct {
	Extracted   int64 `json:"extracted"`
	Transformed int64 `json:"transformed"`
	Loaded      int64 `json:"loaded"`
	// Rejected is records_failed: transform failures plus error-severity violations.
	Rejected int64 `json:"rejected"`
	// Duplicates counts rows skipped because their content hash was already processed.
	Duplicates int64 `json:"duplicates"`
}

// JobExecution is one run of a job. It is mutated only through its methods, which
// serialise the engine (counters, phases) and the scheduler (hard time limit).
type JobExecution struct {
	mu sync.Mutex

	ID            string          `json:"id"`
	JobID         string          `json:"job_id"`
	JobName       string          `json:"job_name"`
	Queue         string          `json:"queue"`
	Status        ExecutionStatus `json:"status"`
	Params        Fields          `json:"params,omitempty"`
	Counters      Counters        `json:"counters"`
	CreatedAt     time.Time       `json:"created_at"`
	StartTime     *time.Time      `json:"start_time,omitempty"`
	EndTime       *time.Time      `json:"end_time,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
	// TriggeredBy is the parent execution whose completion enqueued this one.
	TriggeredBy string `json:"triggered_by,omitempty"`
	Version     int    `json:"version"`
}

// NewJobExecution creates a PENDING execution for job.
func NewJobExecution(job *Job, params Fields) *JobExecution {
	return &JobExecution{
		ID:        uuid.New().String(),
		JobID:     job.ID,
		JobName:   job.Name,
		Status:    StatusPending,
		Params:    params.Copy(),
		CreatedAt: time.Now(),
	}
}

func (e *JobExecution) transition(to ExecutionStatus) error {
	if !CanTransition(e.Status, to) {
		return exception.Newf(exception.StateError, "execution",
			"execution %s cannot move from %s to %s", e.ID, e.Status, to)
	}
	e.Status = to
	e.Version++
	return nil
}

// MarkRunning moves PENDING -> RUNNING and stamps the start time.
func (e *JobExecution) MarkRunning() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.transition(StatusRunning); err != nil {
		return err
	}
	now := time.Now()
	e.StartTime = &now
	return nil
}

// MarkSucceeded moves RUNNING -> SUCCESS.
func (e *JobExecution) MarkSucceeded() error {
	return e.finish(StatusSuccess, "")
}

// MarkFailed moves to FAILED with a reason.
func (e *JobExecution) MarkFailed(reason string) error {
	return e.finish(StatusFailed, reason)
}

// MarkCancelled moves to CANCELLED.
func (e *JobExecution) MarkCancelled(reason string) error {
	return e.finish(StatusCancelled, reason)
}

func (e *JobExecution) finish(to ExecutionStatus, reason string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.transition(to); err != nil {
		return err
	}
	now := time.Now()
	if e.StartTime == nil {
		e.StartTime = &now
	}
	e.EndTime = &now
	e.FailureReason = reason
	return nil
}

// GetStatus returns the current status.
func (e *JobExecution) GetStatus() ExecutionStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Status
}

// AddExtracted adds n to the extracted counter.
func (e *JobExecution) AddExtracted(n int64) { e.add(&e.Counters.Extracted, n) }

// AddTransformed adds n to the transformed counter.
func (e *JobExecution) AddTransformed(n int64) { e.add(&e.Counters.Transformed, n) }

// AddLoaded adds n to the loaded counter.
func (e *JobExecution) AddLoaded(n int64) { e.add(&e.Counters.Loaded, n) }

// AddRejected adds n to the rejected (records_failed) counter.
func (e *JobExecution) AddRejected(n int64) { e.add(&e.Counters.Rejected, n) }

// AddDuplicates adds n to the duplicate-row counter.
func (e *JobExecution) AddDuplicates(n int64) { e.add(&e.Counters.Duplicates, n) }

func (e *JobExecution) add(c *int64, n int64) {
	e.mu.Lock()
	*c += n
	e.mu.Unlock()
}

// GetCounters returns a copy of the counters.
func (e *JobExecution) GetCounters() Counters {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Counters
}

// Duration is end - start, or time since start while running.
func (e *JobExecution) Duration() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.durationLocked()
}

func (e *JobExecution) durationLocked() time.Duration {
	if e.StartTime == nil {
		return 0
	}
	if e.EndTime == nil {
		return time.Since(*e.StartTime)
	}
	return e.EndTime.Sub(*e.StartTime)
}

// Throughput is loaded records per second.
func (e *JobExecution) Throughput() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	d := e.durationLocked().Seconds()
	if d <= 0 {
		return 0
	}
	return float64(e.Counters.Loaded) / d
}

// Snapshot returns an unshared copy, safe to store or hand to other goroutines.
func (e *JobExecution) Snapshot() *JobExecution {
	e.mu.Lock()
	defer e.mu.Unlock()
	c := &JobExecution{
		ID:            e.ID,
		JobID:         e.JobID,
		JobName:       e.JobName,
		Queue:         e.Queue,
		Status:        e.Status,
		Params:        e.Params.Copy(),
		Counters:      e.Counters,
		CreatedAt:     e.CreatedAt,
		FailureReason: e.FailureReason,
		TriggeredBy:   e.TriggeredBy,
		Version:       e.Version,
	}
	if e.StartTime != nil {
		t := *e.StartTime
		c.StartTime = &t
	}
	if e.EndTime != nil {
		t := *e.EndTime
		c.EndTime = &t
	}
	return c
}

// String renders a compact description for logs.
func (e *JobExecution) String() string {
	s := e.Snapshot()
	return fmt.Sprintf("JobExecution{ID:%s Job:%s Status:%s Counters:%+v}", s.ID, s.JobName, s.Status, s.Counters)
}

// PerformanceMetrics is persisted in the finalize phase.
type PerformanceMetrics struct {
	ID               string             `json:"id"`
	ExecutionID      string             `json:"execution_id"`
	JobID            string             `json:"job_id"`
	Duration         time.Duration      `json:"duration"`
	RecordsPerSecond float64            `json:"records_per_second"`
	PhaseDurations   map[string]float64 `json:"phase_durations"`
	Counters         Counters           `json:"counters"`
	RecordedAt       time.Time          `json:"recorded_at"`
}
