package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	model "github.com/tigerroll/etlcore/pkg/etl/core/domain/model"
	"github.com/tigerroll/etlcore/pkg/etl/support/util/logger"
)

// finalize runs on a SUCCESS execution: performance metrics, quality summary and
// alert, events, then the completion listener. Failures here are logged and do
// not change the status.
func (e *Engine) finalize(ctx context.Context, r *run) error {
	exec := r.exec
	counters := exec.GetCounters()

	pm := &model.PerformanceMetrics{
		ID:               uuid.New().String(),
		ExecutionID:      exec.ID,
		JobID:            exec.JobID,
		Duration:         exec.Duration(),
		RecordsPerSecond: exec.Throughput(),
		PhaseDurations:   r.phases,
		Counters:         counters,
		RecordedAt:       time.Now(),
	}
	if err := e.store.SavePerformanceMetrics(ctx, pm); err != nil {
		logger.Errorf("Failed to save performance metrics of execution %s: %v", exec.ID, err)
	}

	summary := model.NewQualitySummary(r.passed, r.warned, counters.Rejected)
	e.recorder.RecordQuality(ctx, r.job.Name, summary.PassRate)
	if summary.PassRate < e.cfg.QualityAlertThreshold {
		alert := model.NewEvent(model.EventQualityAlert, exec,
			fmt.Sprintf("pass rate %.2f is below %.2f", summary.PassRate, e.cfg.QualityAlertThreshold))
		alert.Attributes["pass_rate"] = summary.PassRate
		alert.Attributes["error_rate"] = summary.ErrorRate
		alert.Attributes["failed"] = summary.Failed
		alert.Attributes["total"] = summary.Total
		e.publisher.Publish(ctx, alert)
		e.tracer.RecordEvent(ctx, string(model.EventQualityAlert), map[string]interface{}{"pass_rate": summary.PassRate})
		logger.Warnf("Quality alert for execution %s: pass rate %.2f.", exec.ID, summary.PassRate)
	}

	if err := e.store.UpdateExecution(ctx, exec); err != nil {
		logger.Errorf("Failed to persist final state of execution %s: %v", exec.ID, err)
	}
	e.recorder.RecordJobEnd(ctx, exec)

	done := model.NewEvent(model.EventCompleted, exec, "")
	done.Attributes["pass_rate"] = summary.PassRate
	e.publisher.Publish(ctx, done)
	logger.Infof("Execution %s of job '%s' succeeded: %+v in %s.", exec.ID, r.job.Name, counters, pm.Duration)

	e.notifyCompletion(ctx, exec)
	return nil
}
