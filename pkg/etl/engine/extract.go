package engine

import (
	"context"
	"errors"
	"fmt"
	"io"

	model "github.com/tigerroll/etlcore/pkg/etl/core/domain/model"
	"github.com/tigerroll/etlcore/pkg/etl/engine/skip"
	"github.com/tigerroll/etlcore/pkg/etl/support/util/exception"
	"github.com/tigerroll/etlcore/pkg/etl/support/util/logger"
)

// extract reads the source into RawRecords. Rows whose content hash the job has
// already loaded, or that repeat within this run, are counted as duplicates and
// not processed again.
func (e *Engine) extract(ctx context.Context, r *run) error {
	wrap := phaseError(exception.ExtractionError, "extract", "source %s of job %s failed", r.job.Source.Type, r.job.Name)

	reader, err := e.sources.Reader(r.job.Source.Type)
	if err != nil {
		return exception.NewFatal(exception.ConfigError, moduleName+".extract", fmt.Sprintf("job %s", r.job.Name), err)
	}
	it, err := reader.Open(ctx, r.job.Source)
	if err != nil {
		return wrap(err)
	}
	defer func() {
		if cerr := it.Close(); cerr != nil {
			logger.Warnf("Closing source of execution %s: %v", r.exec.ID, cerr)
		}
	}()

	policy := skip.NewSkipPolicy(e.cfg.ExtractSkipLimit)
	seen := make(map[string]bool)
	var fresh []*model.RawRecord
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		row, err := it.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if !policy.ShouldSkip(err) {
				if exception.KindOf(err) == exception.ExtractionError && !exception.IsFatal(err) {
					return exception.NewFatal(exception.ExtractionError, moduleName+".extract",
						fmt.Sprintf("skip limit %d exceeded", policy.GetSkipLimit()), err)
				}
				return wrap(err)
			}
			policy.IncrementSkipCount()
			e.logSkippedRow(ctx, r, err)
			continue
		}

		raw := model.NewRawRecord(r.exec.ID, r.job.ID, row)
		r.raws = append(r.raws, raw)
		r.exec.AddExtracted(1)

		if seen[raw.ContentHash] {
			r.exec.AddDuplicates(1)
			continue
		}
		seen[raw.ContentHash] = true
		done, err := e.store.IsHashProcessed(ctx, r.job.ID, raw.ContentHash)
		if err != nil {
			return wrap(err)
		}
		if done {
			r.exec.AddDuplicates(1)
			continue
		}
		fresh = append(fresh, raw)
	}

	if len(r.raws) > 0 {
		if err := e.store.SaveRawRecords(ctx, r.raws); err != nil {
			return wrap(err)
		}
	}
	c := r.exec.GetCounters()
	logger.Infof("Execution %s extracted %d rows (%d duplicates, %d skipped).", r.exec.ID, c.Extracted, c.Duplicates, policy.GetSkipCount())
	r.raws = fresh
	return nil
}

func (e *Engine) logSkippedRow(ctx context.Context, r *run, cause error) {
	logger.Warnf("Execution %s skipped an unreadable row: %v", r.exec.ID, cause)
	entry := model.NewErrorLog(r.exec.ID, string(exception.ExtractionError), model.ErrorSeverityLow, exception.ExtractErrorMessage(cause))
	entry.Details["error"] = cause.Error()
	if err := e.store.SaveErrorLog(ctx, entry); err != nil {
		logger.Errorf("Failed to save error log for execution %s: %v", r.exec.ID, err)
	}
	e.recorder.RecordRejection(ctx, r.job.Name, model.StageExtract, string(exception.ExtractionError))
}
