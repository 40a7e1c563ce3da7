// Package scheduler queues JobExecutions on named worker queues and runs them
// through the engine under the queue's soft and hard time limits.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tigerroll/etlcore/pkg/etl/core/config"
	model "github.com/tigerroll/etlcore/pkg/etl/core/domain/model"
	"github.com/tigerroll/etlcore/pkg/etl/core/domain/repository"
	"github.com/tigerroll/etlcore/pkg/etl/core/metrics"
	"github.com/tigerroll/etlcore/pkg/etl/core/port"
	"github.com/tigerroll/etlcore/pkg/etl/engine"
	"github.com/tigerroll/etlcore/pkg/etl/support/util/exception"
	"github.com/tigerroll/etlcore/pkg/etl/support/util/logger"
)

const moduleName = "scheduler"

// Repository is the subset of the store the scheduler uses.
type Repository interface {
	repository.JobRepository
	repository.ExecutionRepository
	repository.AuditRepository
}

// QueueStats is a point-in-time view of one queue.
type QueueStats struct {
	Name        string `json:"name"`
	Concurrency int    `json:"concurrency"`
	Pending     int    `json:"pending"`
	Running     int    `json:"running"`
}

// Scheduler routes submitted executions to queues and runs them.
type Scheduler struct {
	cfg       config.SchedulerConfig
	repo      Repository
	runner    engine.Runner
	publisher port.EventPublisher
	recorder  metrics.MetricRecorder
	log       *zap.Logger

	queues map[string]*queue

	mu         sync.Mutex
	active     map[string]context.CancelFunc
	owned      map[string]struct{} // enqueued here and not yet ended
	completion port.CompletionListener
	started    bool
	stopped    bool

	workerCtx  context.Context
	stopWorker context.CancelFunc
	runCtx     context.Context
	abortRuns  context.CancelFunc
	wg         sync.WaitGroup
}

// New creates a scheduler. Workers start with Start.
func New(cfg config.SchedulerConfig, repo Repository, runner engine.Runner, publisher port.EventPublisher, recorder metrics.MetricRecorder) *Scheduler {
	if recorder == nil {
		recorder = metrics.NewNoOpMetricRecorder()
	}
	if len(cfg.Queues) == 0 {
		cfg.Queues = []config.QueueConfig{{Name: "default", Concurrency: 1}}
	}
	if cfg.DefaultQueue == "" {
		cfg.DefaultQueue = cfg.Queues[0].Name
	}
	s := &Scheduler{
		cfg:       cfg,
		repo:      repo,
		runner:    runner,
		publisher: publisher,
		recorder:  recorder,
		log:       logger.Named(moduleName),
		queues:    make(map[string]*queue, len(cfg.Queues)),
		active:    make(map[string]context.CancelFunc),
		owned:     make(map[string]struct{}),
	}
	for _, qc := range cfg.Queues {
		s.queues[qc.Name] = newQueue(qc)
	}
	s.workerCtx, s.stopWorker = context.WithCancel(context.Background())
	s.runCtx, s.abortRuns = context.WithCancel(context.Background())
	return s
}

// SetCompletionListener registers who is told about executions the scheduler
// itself ends (hard time limit, cancelled while pending).
func (s *Scheduler) SetCompletionListener(l port.CompletionListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completion = l
}

// Start launches the workers of every queue. Calling it twice is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.started = true
	for _, q := range s.queues {
		for i := 0; i < q.cfg.Concurrency; i++ {
			s.wg.Add(1)
			go s.worker(q)
		}
		s.log.Info("queue started", zap.String("queue", q.cfg.Name), zap.Int("concurrency", q.cfg.Concurrency),
			zap.Duration("soft_time_limit", q.cfg.SoftTimeLimit), zap.Duration("hard_time_limit", q.cfg.HardTimeLimit))
	}
}

// Route picks the queue of job: its explicit queue, then the route of its type,
// then the default queue. Unknown queue names fall back to the default.
func (s *Scheduler) Route(job *model.Job) string {
	for _, name := range []string{job.Queue, s.cfg.Routes[string(job.Type)]} {
		if name == "" {
			continue
		}
		if _, ok := s.queues[name]; ok {
			return name
		}
		logger.Warnf("Job '%s' routes to unknown queue '%s'; using '%s'.", job.Name, name, s.cfg.DefaultQueue)
		break
	}
	return s.cfg.DefaultQueue
}

// Submit creates a PENDING execution of jobID, enqueues it and returns its id
// without waiting for it to run.
func (s *Scheduler) Submit(ctx context.Context, jobID string, params model.Fields) (string, error) {
	return s.enqueue(ctx, jobID, params, "")
}

// Dispatch submits a child job on behalf of the dependency graph.
func (s *Scheduler) Dispatch(ctx context.Context, jobID, triggeredBy string) (string, error) {
	return s.enqueue(ctx, jobID, nil, triggeredBy)
}

func (s *Scheduler) enqueue(ctx context.Context, jobID string, params model.Fields, triggeredBy string) (string, error) {
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		return "", exception.Newf(exception.StateError, moduleName, "scheduler is stopped")
	}

	job, err := s.repo.FindJobByID(ctx, jobID)
	if errors.Is(err, repository.ErrJobNotFound) {
		return "", exception.New(exception.NotFoundError, moduleName, fmt.Sprintf("job %s", jobID), err)
	}
	if err != nil {
		return "", err
	}
	if !job.Enabled {
		return "", exception.Newf(exception.ConfigError, moduleName, "job '%s' is disabled", job.Name)
	}

	exec := model.NewJobExecution(job, params)
	exec.Queue = s.Route(job)
	exec.TriggeredBy = triggeredBy
	if err := s.repo.SaveExecution(ctx, exec); err != nil {
		return "", err
	}
	s.publisher.Publish(ctx, model.NewEvent(model.EventCreated, exec, ""))

	s.mu.Lock()
	s.owned[exec.ID] = struct{}{}
	s.mu.Unlock()
	q := s.queues[exec.Queue]
	depth := q.push(&task{job: job, exec: exec})
	s.recorder.RecordQueueDepth(ctx, q.cfg.Name, depth)
	s.log.Info("execution queued",
		zap.String("execution_id", exec.ID), zap.String("job", job.Name),
		zap.String("queue", q.cfg.Name), zap.String("triggered_by", triggeredBy))
	return exec.ID, nil
}

func (s *Scheduler) worker(q *queue) {
	defer s.wg.Done()
	for {
		t, ok := q.next(s.workerCtx)
		if !ok {
			return
		}
		s.recorder.RecordQueueDepth(s.workerCtx, q.cfg.Name, q.depth())
		q.running.Add(1)
		s.execute(q, t)
		q.running.Add(-1)
	}
}

// execute runs one task. The soft limit is the deadline of the run context;
// the hard limit stops waiting for the runner and fails the execution.
func (s *Scheduler) execute(q *queue, t *task) {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if q.cfg.SoftTimeLimit > 0 {
		ctx, cancel = context.WithTimeout(s.runCtx, q.cfg.SoftTimeLimit)
	} else {
		ctx, cancel = context.WithCancel(s.runCtx)
	}
	defer cancel()

	s.mu.Lock()
	s.active[t.exec.ID] = cancel
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.active, t.exec.ID)
		delete(s.owned, t.exec.ID)
		s.mu.Unlock()
	}()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("runner panicked: %v", r)
			}
		}()
		done <- s.runner.Run(ctx, t.job, t.exec)
	}()

	var hard <-chan time.Time
	if q.cfg.HardTimeLimit > 0 {
		timer := time.NewTimer(q.cfg.HardTimeLimit)
		defer timer.Stop()
		hard = timer.C
	}

	select {
	case err := <-done:
		if err != nil {
			s.log.Warn("execution failed", zap.String("execution_id", t.exec.ID), zap.Error(err))
		}
		s.settle(t, err)
	case <-hard:
		cancel()
		s.abandon(t, q.cfg.HardTimeLimit)
	}
}

// settle covers runners that returned without reaching a terminal status.
func (s *Scheduler) settle(t *task, runErr error) {
	if t.exec.GetStatus().IsTerminal() {
		return
	}
	reason := "execution ended without a terminal status"
	if runErr != nil {
		reason = exception.ExtractErrorMessage(runErr)
	}
	if err := t.exec.MarkFailed(reason); err != nil {
		return
	}
	ctx := context.Background()
	entry := model.NewErrorLog(t.exec.ID, "InternalError", model.ErrorSeverityHigh, reason)
	if runErr != nil {
		entry.Details["error"] = runErr.Error()
	}
	s.closeExecution(ctx, t.exec, entry)
}

// abandon fails an execution that outlived the hard time limit. The runner
// goroutine keeps its cancelled context and finds the execution already closed.
func (s *Scheduler) abandon(t *task, limit time.Duration) {
	if err := t.exec.MarkFailed(model.FailureTimeLimitExceeded); err != nil {
		// It finished while the timer fired.
		return
	}
	s.log.Error("hard time limit exceeded",
		zap.String("execution_id", t.exec.ID), zap.String("job", t.job.Name), zap.Duration("limit", limit))
	ctx := context.Background()
	entry := model.NewErrorLog(t.exec.ID, string(exception.TimeLimitExceeded), model.ErrorSeverityCritical,
		fmt.Sprintf("execution exceeded the hard time limit of %s on queue %s", limit, t.exec.Queue))
	entry.Details["limit"] = limit.String()
	s.closeExecution(ctx, t.exec, entry)
}

// closeExecution persists an execution the scheduler ended and notifies.
func (s *Scheduler) closeExecution(ctx context.Context, exec *model.JobExecution, entry *model.ErrorLog) {
	if entry != nil {
		if err := s.repo.SaveErrorLog(ctx, entry); err != nil {
			logger.Errorf("Failed to save error log for execution %s: %v", exec.ID, err)
		}
	}
	if err := s.repo.UpdateExecution(ctx, exec); err != nil {
		logger.Errorf("Failed to persist execution %s: %v", exec.ID, err)
	}
	s.recorder.RecordJobEnd(ctx, exec)
	s.publisher.Publish(ctx, model.NewEvent(model.EventForStatus(exec.GetStatus()), exec, exec.Snapshot().FailureReason))

	s.mu.Lock()
	l := s.completion
	s.mu.Unlock()
	if l != nil {
		if err := l.OnJobCompleted(ctx, exec.JobID, exec.ID); err != nil {
			logger.Errorf("Completion handling for execution %s failed: %v", exec.ID, err)
		}
	}
}

// Cancel stops an execution: a pending one is closed as CANCELLED right away, a
// running one has its context cancelled and the engine closes it.
func (s *Scheduler) Cancel(ctx context.Context, executionID string) error {
	for _, q := range s.queues {
		if t, ok := q.remove(executionID); ok {
			if err := t.exec.MarkCancelled("cancelled before start"); err != nil {
				return exception.New(exception.StateError, moduleName, fmt.Sprintf("execution %s", executionID), err)
			}
			s.recorder.RecordQueueDepth(ctx, q.cfg.Name, q.depth())
			s.release(t.exec.ID)
			s.closeExecution(ctx, t.exec, nil)
			return nil
		}
	}

	s.mu.Lock()
	cancel, running := s.active[executionID]
	s.mu.Unlock()
	if running {
		cancel()
		logger.Infof("Cancellation requested for running execution %s.", executionID)
		return nil
	}

	exec, err := s.repo.FindExecutionByID(ctx, executionID)
	if errors.Is(err, repository.ErrExecutionNotFound) {
		return exception.New(exception.NotFoundError, moduleName, fmt.Sprintf("execution %s", executionID), err)
	}
	if err != nil {
		return err
	}
	return exception.Newf(exception.StateError, moduleName, "execution %s is %s and cannot be cancelled", executionID, exec.Status)
}

// FailureOrphaned is the failure reason of executions closed by RecoverStale.
const FailureOrphaned = "orphaned: no worker owns this execution"

// RecoverStale fails PENDING or RUNNING executions created more than olderThan
// ago that this scheduler does not own, as left behind by a process that
// stopped without closing them. Each is failed with an ErrorLog and reported to
// the completion listener.
func (s *Scheduler) RecoverStale(ctx context.Context, olderThan time.Duration) (int, error) {
	stale, err := s.repo.FindStaleExecutions(ctx, time.Now().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	recovered := 0
	for _, exec := range stale {
		if s.owns(exec.ID) {
			continue
		}
		from := exec.GetStatus()
		if err := exec.MarkFailed(FailureOrphaned); err != nil {
			continue
		}
		s.log.Warn("recovering orphaned execution",
			zap.String("execution_id", exec.ID), zap.String("job", exec.JobName), zap.String("status", string(from)))
		entry := model.NewErrorLog(exec.ID, string(exception.StateError), model.ErrorSeverityHigh,
			fmt.Sprintf("execution was left %s without a worker and has been failed", from))
		entry.Details["previous_status"] = string(from)
		entry.Details["created_at"] = exec.CreatedAt.Format(time.RFC3339)
		s.closeExecution(ctx, exec, entry)
		recovered++
	}
	if recovered > 0 {
		logger.Warnf("Recovered %d orphaned execution(s).", recovered)
	}
	return recovered, nil
}

// owns reports whether executionID is queued or running here.
func (s *Scheduler) owns(executionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.owned[executionID]
	return ok
}

func (s *Scheduler) release(executionID string) {
	s.mu.Lock()
	delete(s.owned, executionID)
	s.mu.Unlock()
}

// Stats reports every queue, sorted by name.
func (s *Scheduler) Stats() []QueueStats {
	out := make([]QueueStats, 0, len(s.queues))
	for _, q := range s.queues {
		out = append(out, QueueStats{
			Name:        q.cfg.Name,
			Concurrency: q.cfg.Concurrency,
			Pending:     q.depth(),
			Running:     int(q.running.Load()),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Stop refuses new submissions, cancels pending executions and waits for
// running ones. When ctx ends first the running executions are cancelled too.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	s.stopWorker()
	for _, q := range s.queues {
		for _, t := range q.drain() {
			s.release(t.exec.ID)
			if err := t.exec.MarkCancelled("scheduler stopped"); err == nil {
				s.closeExecution(context.Background(), t.exec, nil)
			}
		}
	}

	idle := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(idle)
	}()
	select {
	case <-idle:
		s.abortRuns()
		logger.Infof("Scheduler stopped.")
		return nil
	case <-ctx.Done():
		s.abortRuns()
		<-idle
		return ctx.Err()
	}
}
