package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	model "github.com/tigerroll/etlcore/pkg/etl/core/domain/model"
	"github.com/tigerroll/etlcore/pkg/etl/core/tx"
	"github.com/tigerroll/etlcore/pkg/etl/support/util/exception"
	"github.com/tigerroll/etlcore/pkg/etl/support/util/logger"
	"github.com/tigerroll/etlcore/pkg/etl/validate"
)

func (e *Engine) referenceChecker() validate.ReferenceChecker {
	return validate.NewReferenceChecker(e.lookups, e.store)
}

// load writes accepted records in chunks of BatchSize, one transaction per
// chunk. A failed chunk is rolled back completely and fails the execution;
// chunks committed before it stay committed.
func (e *Engine) load(ctx context.Context, r *run) error {
	size := e.cfg.BatchSize
	for start := 0; start < len(r.accepted); start += size {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := start + size
		if end > len(r.accepted) {
			end = len(r.accepted)
		}
		chunk := r.accepted[start:end]

		err := tx.RunInTx(ctx, e.store, func(txCtx context.Context) error {
			return e.loadChunk(txCtx, r, chunk)
		})
		if err != nil {
			e.recorder.RecordBatchRollback(ctx, r.job.Name)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return exception.NewFatal(exception.TransactionError, moduleName+".load",
				fmt.Sprintf("load batch %d-%d of execution %s rolled back", start+1, end, r.exec.ID), err)
		}
		r.exec.AddLoaded(int64(len(chunk)))
		e.recorder.RecordBatchCommit(ctx, r.job.Name, len(chunk))
		if err := e.store.UpdateExecution(ctx, r.exec); err != nil {
			return err
		}
		logger.Debugf("Execution %s committed load batch %d-%d.", r.exec.ID, start+1, end)
	}
	return nil
}

func (e *Engine) loadChunk(ctx context.Context, r *run, chunk []*candidate) error {
	std := make([]*model.StandardizedRecord, 0, len(chunk))
	var lineage []*model.DataLineage
	ids := make([]string, 0, len(chunk))
	for _, c := range chunk {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := e.matcher.Resolve(ctx, r.job, r.exec.ID, c.raw.ID, c.result.Data)
		if err != nil {
			return err
		}
		std = append(std, &model.StandardizedRecord{
			ID:               uuid.New().String(),
			RawRecordID:      c.raw.ID,
			ExecutionID:      r.exec.ID,
			JobID:            r.job.ID,
			Origin:           c.raw.Origin,
			ContentHash:      c.raw.ContentHash,
			Data:             c.result.Data,
			ValidationStatus: c.status,
			EntityID:         res.EntityID,
			CreatedAt:        time.Now(),
		})
		for _, rule := range c.result.RuleIDs {
			lineage = append(lineage, model.NewLineage(c.raw.ID, res.EntityID, rule, r.exec.ID))
		}
		ids = append(ids, c.raw.ID)
	}
	if err := e.store.SaveStandardizedRecords(ctx, std); err != nil {
		return err
	}
	if len(lineage) > 0 {
		if err := e.store.SaveLineage(ctx, lineage); err != nil {
			return err
		}
	}
	return e.store.MarkRawRecordsProcessed(ctx, ids)
}
