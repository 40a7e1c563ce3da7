// Package engine runs one JobExecution through Extract, Transform, Validate,
// Load and Finalize.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tigerroll/etlcore/pkg/etl/core/config"
	model "github.com/tigerroll/etlcore/pkg/etl/core/domain/model"
	"github.com/tigerroll/etlcore/pkg/etl/core/domain/repository"
	"github.com/tigerroll/etlcore/pkg/etl/core/metrics"
	"github.com/tigerroll/etlcore/pkg/etl/core/port"
	"github.com/tigerroll/etlcore/pkg/etl/match"
	"github.com/tigerroll/etlcore/pkg/etl/support/util/exception"
	"github.com/tigerroll/etlcore/pkg/etl/support/util/logger"
	"github.com/tigerroll/etlcore/pkg/etl/transform"
	"github.com/tigerroll/etlcore/pkg/etl/validate"
)

const moduleName = "engine"

// Runner runs an execution to a terminal status. The scheduler depends on this.
type Runner interface {
	Run(ctx context.Context, job *model.Job, exec *model.JobExecution) error
}

// Engine is the execution engine. It is safe for concurrent use: all
// per-execution state lives in a run.
type Engine struct {
	store     repository.Store
	sources   port.SourceRegistry
	lookups   port.LookupProvider
	publisher port.EventPublisher
	recorder  metrics.MetricRecorder
	tracer    metrics.Tracer
	matcher   *match.Matcher
	cfg       config.EngineConfig

	mu         sync.RWMutex
	completion port.CompletionListener
}

var _ Runner = (*Engine)(nil)

// Params groups the engine's collaborators.
type Params struct {
	Store     repository.Store
	Sources   port.SourceRegistry
	Lookups   port.LookupProvider
	Publisher port.EventPublisher
	Recorder  metrics.MetricRecorder
	Tracer    metrics.Tracer
	Config    *config.Config
}

// New creates an Engine. Nil recorder, tracer and publisher fall back to no-ops.
func New(p Params) *Engine {
	if p.Recorder == nil {
		p.Recorder = metrics.NewNoOpMetricRecorder()
	}
	if p.Tracer == nil {
		p.Tracer = metrics.NewNoOpTracer()
	}
	if p.Publisher == nil {
		p.Publisher = discardPublisher{}
	}
	cfg := p.Config
	if cfg == nil {
		cfg = config.NewConfig()
	}
	ec := cfg.ETL.Engine
	if ec.BatchSize <= 0 {
		ec.BatchSize = 100
	}
	if ec.TransformWorkers <= 0 {
		ec.TransformWorkers = 1
	}
	return &Engine{
		store:     p.Store,
		sources:   p.Sources,
		lookups:   p.Lookups,
		publisher: p.Publisher,
		recorder:  p.Recorder,
		tracer:    p.Tracer,
		matcher:   match.NewMatcher(p.Store, cfg.ETL.Matcher, p.Recorder),
		cfg:       ec,
	}
}

// SetCompletionListener registers who is told when an execution finishes.
// The dependency graph is set here after construction to break the cycle
// graph -> scheduler -> engine -> graph.
func (e *Engine) SetCompletionListener(l port.CompletionListener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.completion = l
}

// Matcher exposes the matcher, e.g. to report its threshold.
func (e *Engine) Matcher() *match.Matcher { return e.matcher }

type discardPublisher struct{}

func (discardPublisher) Publish(context.Context, model.Event) {}

// run is the state of one execution.
type run struct {
	job      *model.Job
	exec     *model.JobExecution
	pipeline *transform.Pipeline
	rules    *validate.RuleSet
	phases   map[string]float64

	raws        []*model.RawRecord
	transformed []transformed
	accepted    []*candidate
	passed      int64
	warned      int64
}

// candidate is a record that passed transform and validation.
type candidate struct {
	raw    *model.RawRecord
	result *transform.Result
	status model.ValidationStatus
}

// Run executes exec. The returned error is the reason of a FAILED execution;
// CANCELLED and SUCCESS return nil. The execution's final state is always
// persisted, and the completion listener is invoked once.
func (e *Engine) Run(ctx context.Context, job *model.Job, exec *model.JobExecution) error {
	if err := exec.MarkRunning(); err != nil {
		return err
	}
	ctx, endSpan := e.tracer.StartJobSpan(ctx, exec)
	defer endSpan()

	if err := e.store.UpdateExecution(ctx, exec); err != nil {
		return e.fail(ctx, exec, err)
	}
	e.recorder.RecordJobStart(ctx, exec)
	e.publisher.Publish(ctx, model.NewEvent(model.EventStarted, exec, ""))
	logger.Infof("Execution %s of job '%s' started.", exec.ID, job.Name)

	r := &run{job: job, exec: exec, phases: make(map[string]float64)}
	err := e.execute(ctx, r)
	switch {
	case err == nil:
		return e.succeed(ctx, r)
	case ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
		return e.cancel(ctx, exec, err)
	default:
		return e.fail(ctx, exec, err)
	}
}

func (e *Engine) execute(ctx context.Context, r *run) error {
	if err := e.compile(ctx, r); err != nil {
		return err
	}
	steps := []struct {
		phase string
		fn    func(context.Context, *run) error
	}{
		{metrics.PhaseExtract, e.extract},
		{metrics.PhaseTransform, e.transformRecords},
		{metrics.PhaseValidate, e.validateRecords},
		{metrics.PhaseLoad, e.load},
	}
	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.timed(ctx, r, s.phase, s.fn); err != nil {
			return err
		}
		// Flush counters so status queries see progress.
		if err := e.store.UpdateExecution(ctx, r.exec); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) timed(ctx context.Context, r *run, phase string, fn func(context.Context, *run) error) error {
	pctx, end := e.tracer.StartPhaseSpan(ctx, r.exec, phase)
	defer end()
	start := time.Now()
	err := fn(pctx, r)
	d := time.Since(start)
	r.phases[phase] += d.Seconds()
	e.recorder.RecordPhase(ctx, r.job.Name, phase, d)
	if err != nil {
		e.tracer.RecordError(pctx, phase, err)
	}
	return err
}

func (e *Engine) compile(ctx context.Context, r *run) error {
	p, err := transform.Compile(r.job, e.lookups)
	if err != nil {
		return err
	}
	rules, err := e.store.ListQualityRules(ctx, r.job.EntityType)
	if err != nil {
		return err
	}
	rs, err := validate.Compile(rules)
	if err != nil {
		return err
	}
	r.pipeline, r.rules = p, rs
	return nil
}

// detached keeps terminal bookkeeping alive after the run context is cancelled.
func detached(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}

func (e *Engine) succeed(ctx context.Context, r *run) error {
	if err := r.exec.MarkSucceeded(); err != nil {
		// The scheduler already ended this execution (hard time limit).
		logger.Warnf("Execution %s finished after being closed: %v", r.exec.ID, err)
		return nil
	}
	_ = e.timed(detached(ctx), r, metrics.PhaseFinalize, e.finalize)
	return nil
}

func (e *Engine) cancel(ctx context.Context, exec *model.JobExecution, cause error) error {
	dctx := detached(ctx)
	if err := exec.MarkCancelled(cause.Error()); err != nil {
		logger.Warnf("Execution %s was already closed when cancelled: %v", exec.ID, err)
		return nil
	}
	logger.Warnf("Execution %s cancelled: %v", exec.ID, cause)
	e.terminate(dctx, exec, "")
	return nil
}

func (e *Engine) fail(ctx context.Context, exec *model.JobExecution, cause error) error {
	dctx := detached(ctx)
	if err := exec.MarkFailed(exception.ExtractErrorMessage(cause)); err != nil {
		logger.Warnf("Execution %s was already closed when it failed: %v", exec.ID, err)
		return cause
	}
	logger.Errorf("Execution %s failed: %v", exec.ID, cause)
	e.tracer.RecordError(ctx, moduleName, cause)

	kind := string(exception.KindOf(cause))
	if kind == "" {
		kind = "InternalError"
	}
	entry := model.NewErrorLog(exec.ID, kind, failureSeverity(cause), exception.ExtractErrorMessage(cause))
	entry.Details["error"] = cause.Error()
	if err := e.store.SaveErrorLog(dctx, entry); err != nil {
		logger.Errorf("Failed to save error log for execution %s: %v", exec.ID, err)
	}
	e.terminate(dctx, exec, cause.Error())
	return cause
}

// terminate persists a FAILED or CANCELLED execution and notifies.
func (e *Engine) terminate(ctx context.Context, exec *model.JobExecution, msg string) {
	if err := e.store.UpdateExecution(ctx, exec); err != nil {
		logger.Errorf("Failed to persist final state of execution %s: %v", exec.ID, err)
	}
	e.recorder.RecordJobEnd(ctx, exec)
	e.publisher.Publish(ctx, model.NewEvent(model.EventForStatus(exec.GetStatus()), exec, msg))
	e.notifyCompletion(ctx, exec)
}

func (e *Engine) notifyCompletion(ctx context.Context, exec *model.JobExecution) {
	e.mu.RLock()
	l := e.completion
	e.mu.RUnlock()
	if l == nil {
		return
	}
	if err := l.OnJobCompleted(ctx, exec.JobID, exec.ID); err != nil {
		logger.Errorf("Completion handling for execution %s failed: %v", exec.ID, err)
	}
}

func failureSeverity(err error) model.ErrorSeverity {
	switch exception.KindOf(err) {
	case exception.TransactionError, exception.TimeLimitExceeded:
		return model.ErrorSeverityCritical
	case exception.ConfigError, exception.ExtractionError:
		return model.ErrorSeverityHigh
	default:
		return model.ErrorSeverityMedium
	}
}

// phaseError wraps a failure raised inside a phase.
func phaseError(kind exception.Kind, phase, format string, a ...interface{}) func(error) error {
	return func(cause error) error {
		if cause == nil {
			return nil
		}
		var ee *exception.EtlError
		if errors.As(cause, &ee) {
			return cause
		}
		if errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
			return cause
		}
		return exception.NewFatal(kind, moduleName+"."+phase, fmt.Sprintf(format, a...), cause)
	}
}
