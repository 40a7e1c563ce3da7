package engine

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	model "github.com/tigerroll/etlcore/pkg/etl/core/domain/model"
	"github.com/tigerroll/etlcore/pkg/etl/support/util/exception"
	"github.com/tigerroll/etlcore/pkg/etl/support/util/logger"
	"github.com/tigerroll/etlcore/pkg/etl/transform"
)

type transformed struct {
	result *transform.Result
	err    error
}

// transformRecords transforms records in parallel, keeping input order.
// TransformErrors stay with their record, as does a panic in the pipeline;
// anything else aborts the phase.
func (e *Engine) transformRecords(ctx context.Context, r *run) error {
	outs := make([]transformed, len(r.raws))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.TransformWorkers)
	for i, raw := range r.raws {
		i, raw := i, raw
		g.Go(func() (err error) {
			defer func() {
				if p := recover(); p != nil {
					outs[i] = transformed{err: exception.New(exception.TransformError, moduleName+".transform",
						fmt.Sprintf("record %s", raw.ID), fmt.Errorf("panic: %v", p))}
					err = nil
				}
			}()
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := r.pipeline.Apply(gctx, raw.Payload)
			if err != nil && exception.KindOf(err) != exception.TransformError {
				return err
			}
			outs[i] = transformed{result: res, err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	r.transformed = outs
	return nil
}

// validateRecords runs sequentially so that uniqueness sees a consistent
// snapshot. Rejections and quality results are persisted here.
func (e *Engine) validateRecords(ctx context.Context, r *run) error {
	outs := r.transformed
	session := r.rules.NewSession(e.referenceChecker())
	var rejected []*model.RejectedRecord
	var results []*model.QualityResult
	for i, raw := range r.raws {
		if err := ctx.Err(); err != nil {
			return err
		}
		out := outs[i]
		if out.err != nil {
			rejected = append(rejected, model.NewRejectedRecord(raw, model.StageTransform, []string{out.err.Error()}))
			e.recorder.RecordRejection(ctx, r.job.Name, model.StageTransform, string(exception.TransformError))
			continue
		}
		r.exec.AddTransformed(1)
		for _, n := range out.result.Notes {
			results = append(results, model.NewQualityResult(n.RuleID, r.exec.ID, raw.ID, n.Field, false, model.SeverityInfo, n.Message))
		}

		verdict, err := session.Evaluate(ctx, raw.ID, out.result.Data)
		if err != nil {
			rejected = append(rejected, model.NewRejectedRecord(raw, model.StageValidate, []string{err.Error()}))
			e.recorder.RecordRejection(ctx, r.job.Name, model.StageValidate, string(exception.ValidationViolation))
			continue
		}
		for _, v := range verdict.Violations {
			results = append(results, model.NewQualityResult(v.RuleID, r.exec.ID, raw.ID, v.Field, false, v.Severity, v.Message))
		}
		if verdict.Rejected() {
			rejected = append(rejected, model.NewRejectedRecord(raw, model.StageValidate, verdict.Reasons()))
			for _, v := range verdict.Violations {
				if v.Severity == model.SeverityError {
					e.recorder.RecordRejection(ctx, r.job.Name, model.StageValidate, v.RuleID)
				}
			}
			continue
		}
		if verdict.Status == model.ValidationWarning {
			r.warned++
		}
		r.passed++
		r.accepted = append(r.accepted, &candidate{raw: raw, result: out.result, status: verdict.Status})
	}

	r.exec.AddRejected(int64(len(rejected)))
	if len(rejected) > 0 {
		if err := e.store.SaveRejectedRecords(ctx, rejected); err != nil {
			return err
		}
	}
	if len(results) > 0 {
		if err := e.store.SaveQualityResults(ctx, results); err != nil {
			return err
		}
	}
	logger.Infof("Execution %s: %d records accepted, %d rejected.", r.exec.ID, len(r.accepted), len(rejected))
	return nil
}
