package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/etlcore/pkg/etl/core/config"
	model "github.com/tigerroll/etlcore/pkg/etl/core/domain/model"
	"github.com/tigerroll/etlcore/pkg/etl/core/port"
	"github.com/tigerroll/etlcore/pkg/etl/infrastructure/repository/inmemory"
	"github.com/tigerroll/etlcore/pkg/etl/support/util/exception"
)

type runnerFunc func(ctx context.Context, job *model.Job, exec *model.JobExecution) error

func (f runnerFunc) Run(ctx context.Context, job *model.Job, exec *model.JobExecution) error {
	return f(ctx, job, exec)
}

type eventLog struct {
	mu     sync.Mutex
	events []model.Event
}

func (l *eventLog) Publish(_ context.Context, e model.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) has(t model.EventType, execID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.events {
		if e.Type == t && e.ExecutionID == execID {
			return true
		}
	}
	return false
}

// finishing runs like the engine: RUNNING, then a terminal status persisted.
func finishing(store *inmemory.Store, block func(ctx context.Context)) runnerFunc {
	return func(ctx context.Context, job *model.Job, exec *model.JobExecution) error {
		if err := exec.MarkRunning(); err != nil {
			return err
		}
		_ = store.UpdateExecution(context.Background(), exec)
		if block != nil {
			block(ctx)
		}
		if ctx.Err() != nil {
			if exec.MarkCancelled(ctx.Err().Error()) == nil {
				_ = store.UpdateExecution(context.Background(), exec)
			}
			return nil
		}
		if exec.MarkSucceeded() == nil {
			_ = store.UpdateExecution(context.Background(), exec)
		}
		return nil
	}
}

func saveJob(t *testing.T, store *inmemory.Store, name string, jobType model.JobType, queue string) *model.Job {
	t.Helper()
	j := model.NewJob(name, jobType, "thing")
	j.Queue = queue
	require.NoError(t, store.SaveJob(context.Background(), j))
	return j
}

func waitStatus(t *testing.T, store *inmemory.Store, execID string, want model.ExecutionStatus) *model.JobExecution {
	t.Helper()
	var got *model.JobExecution
	require.Eventually(t, func() bool {
		e, err := store.FindExecutionByID(context.Background(), execID)
		if err != nil {
			return false
		}
		got = e
		return e.Status == want
	}, 5*time.Second, 5*time.Millisecond, "execution %s never reached %s", execID, want)
	return got
}

func schedulerConfig(queues ...config.QueueConfig) config.SchedulerConfig {
	return config.SchedulerConfig{
		Queues:       queues,
		DefaultQueue: "default",
		Routes:       map[string]string{string(model.JobTypeExtract): "io", string(model.JobTypeLoad): "nowhere"},
	}
}

func TestRoute(t *testing.T) {
	s := New(schedulerConfig(
		config.QueueConfig{Name: "default", Concurrency: 1},
		config.QueueConfig{Name: "io", Concurrency: 1},
		config.QueueConfig{Name: "heavy", Concurrency: 1},
	), inmemory.NewStore(), nil, &eventLog{}, nil)

	assert.Equal(t, "heavy", s.Route(&model.Job{Name: "a", Type: model.JobTypeExtract, Queue: "heavy"}))
	assert.Equal(t, "io", s.Route(&model.Job{Name: "b", Type: model.JobTypeExtract}))
	assert.Equal(t, "default", s.Route(&model.Job{Name: "c", Type: model.JobTypeFullETL}))
	assert.Equal(t, "default", s.Route(&model.Job{Name: "d", Type: model.JobTypeLoad}))
	assert.Equal(t, "default", s.Route(&model.Job{Name: "e", Type: model.JobTypeExtract, Queue: "gone"}))
}

func TestSubmit_RunsAndReturnsImmediately(t *testing.T) {
	ctx := context.Background()
	store := inmemory.NewStore()
	events := &eventLog{}
	release := make(chan struct{})
	s := New(schedulerConfig(config.QueueConfig{Name: "default", Concurrency: 1}), store,
		finishing(store, func(context.Context) { <-release }), events, nil)
	s.Start()
	defer s.Stop(ctx)
	job := saveJob(t, store, "daily", model.JobTypeFullETL, "")

	id, err := s.Submit(ctx, job.ID, model.Fields{"date": "2024-01-01"})
	require.NoError(t, err)
	assert.True(t, events.has(model.EventCreated, id))

	running := waitStatus(t, store, id, model.StatusRunning)
	assert.Equal(t, "default", running.Queue)
	assert.Equal(t, "2024-01-01", running.Params["date"])
	close(release)
	waitStatus(t, store, id, model.StatusSuccess)
}

func TestSubmit_Rejections(t *testing.T) {
	ctx := context.Background()
	store := inmemory.NewStore()
	s := New(schedulerConfig(config.QueueConfig{Name: "default", Concurrency: 1}), store, finishing(store, nil), &eventLog{}, nil)

	_, err := s.Submit(ctx, "missing", nil)
	assert.ErrorIs(t, err, exception.NotFoundError)

	job := saveJob(t, store, "off", model.JobTypeFullETL, "")
	job.Enabled = false
	require.NoError(t, store.SaveJob(ctx, job))
	_, err = s.Submit(ctx, job.ID, nil)
	assert.ErrorIs(t, err, exception.ConfigError)

	require.NoError(t, s.Stop(ctx))
	_, err = s.Submit(ctx, job.ID, nil)
	assert.ErrorIs(t, err, exception.StateError)
}

func TestSoftTimeLimitCancelsRun(t *testing.T) {
	ctx := context.Background()
	store := inmemory.NewStore()
	s := New(schedulerConfig(config.QueueConfig{Name: "default", Concurrency: 1, SoftTimeLimit: 20 * time.Millisecond}),
		store, finishing(store, func(ctx context.Context) { <-ctx.Done() }), &eventLog{}, nil)
	s.Start()
	defer s.Stop(ctx)
	job := saveJob(t, store, "slow", model.JobTypeFullETL, "")

	id, err := s.Submit(ctx, job.ID, nil)
	require.NoError(t, err)
	exec := waitStatus(t, store, id, model.StatusCancelled)
	assert.Contains(t, exec.FailureReason, "deadline exceeded")
}

func TestHardTimeLimitFailsAndFreesWorker(t *testing.T) {
	ctx := context.Background()
	store := inmemory.NewStore()
	events := &eventLog{}
	stuck := make(chan struct{})
	defer close(stuck)

	var once sync.Once
	runner := runnerFunc(func(rctx context.Context, job *model.Job, exec *model.JobExecution) error {
		if job.Name == "hung" {
			once.Do(func() { <-stuck })
			return nil
		}
		return finishing(store, nil)(rctx, job, exec)
	})
	s := New(schedulerConfig(config.QueueConfig{Name: "default", Concurrency: 1, HardTimeLimit: 30 * time.Millisecond}),
		store, runner, events, nil)
	var completedMu sync.Mutex
	var completed []string
	s.SetCompletionListener(port.CompletionListenerFunc(func(_ context.Context, _, execID string) error {
		completedMu.Lock()
		defer completedMu.Unlock()
		completed = append(completed, execID)
		return nil
	}))
	s.Start()
	defer s.Stop(ctx)

	hung := saveJob(t, store, "hung", model.JobTypeFullETL, "")
	fine := saveJob(t, store, "fine", model.JobTypeFullETL, "")
	hungID, err := s.Submit(ctx, hung.ID, nil)
	require.NoError(t, err)
	fineID, err := s.Submit(ctx, fine.ID, nil)
	require.NoError(t, err)

	failed := waitStatus(t, store, hungID, model.StatusFailed)
	assert.Equal(t, model.FailureTimeLimitExceeded, failed.FailureReason)
	assert.True(t, events.has(model.EventFailed, hungID))

	logs, err := store.ListErrorLogs(ctx, model.ErrorFilter{ExecutionID: hungID})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, string(exception.TimeLimitExceeded), logs[0].Kind)

	waitStatus(t, store, fineID, model.StatusSuccess)
	completedMu.Lock()
	assert.Contains(t, completed, hungID)
	completedMu.Unlock()
}

func TestCancel(t *testing.T) {
	ctx := context.Background()
	store := inmemory.NewStore()
	events := &eventLog{}
	s := New(schedulerConfig(config.QueueConfig{Name: "default", Concurrency: 1}), store,
		finishing(store, func(ctx context.Context) { <-ctx.Done() }), events, nil)
	s.Start()
	defer s.Stop(ctx)
	job := saveJob(t, store, "blocking", model.JobTypeFullETL, "")

	first, err := s.Submit(ctx, job.ID, nil)
	require.NoError(t, err)
	waitStatus(t, store, first, model.StatusRunning)
	second, err := s.Submit(ctx, job.ID, nil)
	require.NoError(t, err)

	assert.Equal(t, []QueueStats{{Name: "default", Concurrency: 1, Pending: 1, Running: 1}}, s.Stats())

	require.NoError(t, s.Cancel(ctx, second))
	waitStatus(t, store, second, model.StatusCancelled)
	assert.True(t, events.has(model.EventCancelled, second))

	require.NoError(t, s.Cancel(ctx, first))
	waitStatus(t, store, first, model.StatusCancelled)
	require.Eventually(t, func() bool { return s.Stats()[0].Running == 0 }, 5*time.Second, 5*time.Millisecond)

	err = s.Cancel(ctx, first)
	assert.ErrorIs(t, err, exception.StateError)
	err = s.Cancel(ctx, "nope")
	assert.ErrorIs(t, err, exception.NotFoundError)
}

func TestStopCancelsPending(t *testing.T) {
	ctx := context.Background()
	store := inmemory.NewStore()
	s := New(schedulerConfig(config.QueueConfig{Name: "default", Concurrency: 1}), store, finishing(store, nil), &eventLog{}, nil)
	job := saveJob(t, store, "never", model.JobTypeFullETL, "")

	id, err := s.Submit(ctx, job.ID, nil)
	require.NoError(t, err)
	require.NoError(t, s.Stop(ctx))

	exec, err := store.FindExecutionByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, exec.Status)
}

func TestRecoverStale_FailsOnlyUnownedOldExecutions(t *testing.T) {
	ctx := context.Background()
	store := inmemory.NewStore()
	events := &eventLog{}
	s := New(schedulerConfig(config.QueueConfig{Name: "default", Concurrency: 1}), store, finishing(store, nil), events, nil)
	var completed []string
	s.SetCompletionListener(port.CompletionListenerFunc(func(_ context.Context, _, execID string) error {
		completed = append(completed, execID)
		return nil
	}))
	job := saveJob(t, store, "nightly", model.JobTypeFullETL, "")

	leftover := func(age time.Duration, mark func(*model.JobExecution) error) string {
		exec := model.NewJobExecution(job, nil)
		exec.CreatedAt = time.Now().Add(-age)
		if mark != nil {
			require.NoError(t, mark(exec))
		}
		require.NoError(t, store.SaveExecution(ctx, exec))
		return exec.ID
	}
	running := leftover(time.Hour, (*model.JobExecution).MarkRunning)
	pending := leftover(time.Hour, nil)
	recent := leftover(time.Minute, nil)
	finished := leftover(time.Hour, func(e *model.JobExecution) error {
		if err := e.MarkRunning(); err != nil {
			return err
		}
		return e.MarkSucceeded()
	})

	// Workers are not started, so this one stays queued.
	queued, err := s.Submit(ctx, job.ID, nil)
	require.NoError(t, err)
	q, err := store.FindExecutionByID(ctx, queued)
	require.NoError(t, err)
	q.CreatedAt = time.Now().Add(-time.Hour)
	require.NoError(t, store.UpdateExecution(ctx, q))

	n, err := s.RecoverStale(ctx, 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.ElementsMatch(t, []string{running, pending}, completed)

	for id, from := range map[string]model.ExecutionStatus{running: model.StatusRunning, pending: model.StatusPending} {
		got, err := store.FindExecutionByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, model.StatusFailed, got.Status)
		assert.Equal(t, FailureOrphaned, got.FailureReason)
		assert.True(t, events.has(model.EventFailed, id))

		logs, err := store.ListErrorLogs(ctx, model.ErrorFilter{ExecutionID: id})
		require.NoError(t, err)
		require.Len(t, logs, 1)
		assert.Equal(t, string(exception.StateError), logs[0].Kind)
		assert.Equal(t, string(from), logs[0].Details["previous_status"])
	}
	for id, want := range map[string]model.ExecutionStatus{recent: model.StatusPending, finished: model.StatusSuccess, queued: model.StatusPending} {
		got, err := store.FindExecutionByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, got.Status, id)
	}

	n, err = s.RecoverStale(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	waitStatus(t, store, recent, model.StatusFailed)

	require.NoError(t, s.Stop(ctx))
	waitStatus(t, store, queued, model.StatusCancelled)
}

func TestRecoverStale_SkipsRunningExecution(t *testing.T) {
	ctx := context.Background()
	store := inmemory.NewStore()
	release := make(chan struct{})
	s := New(schedulerConfig(config.QueueConfig{Name: "default", Concurrency: 1}), store,
		finishing(store, func(context.Context) { <-release }), &eventLog{}, nil)
	s.Start()
	defer s.Stop(ctx)
	job := saveJob(t, store, "long", model.JobTypeFullETL, "")

	id, err := s.Submit(ctx, job.ID, nil)
	require.NoError(t, err)
	waitStatus(t, store, id, model.StatusRunning)

	n, err := s.RecoverStale(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, n)

	close(release)
	waitStatus(t, store, id, model.StatusSuccess)
}
