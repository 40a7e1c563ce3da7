package graph

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	model "github.com/tigerroll/etlcore/pkg/etl/core/domain/model"
	"github.com/tigerroll/etlcore/pkg/etl/infrastructure/repository/inmemory"
	"github.com/tigerroll/etlcore/pkg/etl/support/util/exception"
)

// recordingDispatcher creates a PENDING execution like the scheduler does.
type recordingDispatcher struct {
	mock.Mock
	store *inmemory.Store
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, jobID, triggeredBy string) (string, error) {
	d.Called(jobID)
	job, err := d.store.FindJobByID(ctx, jobID)
	if err != nil {
		return "", err
	}
	exec := model.NewJobExecution(job, nil)
	exec.TriggeredBy = triggeredBy
	return exec.ID, d.store.SaveExecution(ctx, exec)
}

type fixture struct {
	ctx   context.Context
	store *inmemory.Store
	graph *Graph
	disp  *recordingDispatcher
	clock time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := inmemory.NewStore()
	g := New(s)
	d := &recordingDispatcher{store: s}
	d.On("Dispatch", mock.Anything).Return()
	g.SetDispatcher(d)
	return &fixture{ctx: context.Background(), store: s, graph: g, disp: d, clock: time.Now()}
}

func (f *fixture) job(t *testing.T, name string) *model.Job {
	t.Helper()
	j := model.NewJob(name, model.JobTypeFullETL, "customer")
	require.NoError(t, f.store.SaveJob(f.ctx, j))
	return j
}

// finish stores a terminal execution of job with the given status and loaded count.
func (f *fixture) finish(t *testing.T, job *model.Job, status model.ExecutionStatus, loaded int64) *model.JobExecution {
	t.Helper()
	f.clock = f.clock.Add(time.Second)
	e := model.NewJobExecution(job, nil)
	e.CreatedAt = f.clock
	require.NoError(t, e.MarkRunning())
	e.AddLoaded(loaded)
	switch status {
	case model.StatusSuccess:
		require.NoError(t, e.MarkSucceeded())
	case model.StatusFailed:
		require.NoError(t, e.MarkFailed("boom"))
	case model.StatusCancelled:
		require.NoError(t, e.MarkCancelled("stop"))
	}
	require.NoError(t, f.store.SaveExecution(f.ctx, e))
	return e
}

func TestAddDependency_RejectsCycleAndLeavesGraphUnchanged(t *testing.T) {
	f := newFixture(t)
	a, b, c := f.job(t, "a"), f.job(t, "b"), f.job(t, "c")

	_, err := f.graph.AddDependency(f.ctx, a.ID, b.ID, model.DependencySuccess, "")
	require.NoError(t, err)
	_, err = f.graph.AddDependency(f.ctx, b.ID, c.ID, model.DependencySuccess, "")
	require.NoError(t, err)

	_, err = f.graph.AddDependency(f.ctx, c.ID, a.ID, model.DependencySuccess, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, exception.CycleError))

	deps, _ := f.store.ListDependencies(f.ctx, false)
	assert.Len(t, deps, 2)
	unmet, err := f.graph.UnmetDependencies(f.ctx, a.ID)
	require.NoError(t, err)
	assert.Empty(t, unmet)
}

func TestAddDependency_Validation(t *testing.T) {
	f := newFixture(t)
	a, b := f.job(t, "a"), f.job(t, "b")

	_, err := f.graph.AddDependency(f.ctx, a.ID, a.ID, model.DependencySuccess, "")
	assert.True(t, errors.Is(err, exception.CycleError))

	_, err = f.graph.AddDependency(f.ctx, a.ID, "ghost", model.DependencySuccess, "")
	assert.True(t, errors.Is(err, exception.NotFoundError))

	_, err = f.graph.AddDependency(f.ctx, a.ID, b.ID, "SOMETIMES", "")
	assert.True(t, errors.Is(err, exception.ConfigError))

	_, err = f.graph.AddDependency(f.ctx, a.ID, b.ID, model.DependencySuccess, "")
	require.NoError(t, err)
	_, err = f.graph.AddDependency(f.ctx, a.ID, b.ID, model.DependencyCompletion, "")
	assert.True(t, errors.Is(err, exception.ConfigError))
}

func TestUnmetDependencies_Reasons(t *testing.T) {
	f := newFixture(t)
	p1, p2, p3, p4, child := f.job(t, "p1"), f.job(t, "p2"), f.job(t, "p3"), f.job(t, "p4"), f.job(t, "child")
	for _, e := range []struct {
		p    *model.Job
		kind model.DependencyKind
	}{{p1, model.DependencySuccess}, {p2, model.DependencySuccess}, {p3, model.DependencyDataAvailability}, {p4, model.DependencyCompletion}} {
		_, err := f.graph.AddDependency(f.ctx, e.p.ID, child.ID, e.kind, "")
		require.NoError(t, err)
	}

	f.finish(t, p2, model.StatusFailed, 0)
	f.finish(t, p3, model.StatusSuccess, 0)
	f.finish(t, p4, model.StatusFailed, 0)

	unmet, err := f.graph.UnmetDependencies(f.ctx, child.ID)
	require.NoError(t, err)
	require.Len(t, unmet, 3)
	assert.Equal(t, p1.ID, unmet[0].ParentJobID)
	assert.Equal(t, ReasonNeverExecuted, unmet[0].Reason)
	assert.Equal(t, ReasonLastFailed, unmet[1].Reason)
	assert.Equal(t, ReasonNoData, unmet[2].Reason)

	ok, err := f.graph.IsExecutable(f.ctx, child.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIsExecutable_RunningParentCountsAsNeverExecuted(t *testing.T) {
	f := newFixture(t)
	p, c := f.job(t, "p"), f.job(t, "c")
	_, err := f.graph.AddDependency(f.ctx, p.ID, c.ID, model.DependencyCompletion, "")
	require.NoError(t, err)

	running := model.NewJobExecution(p, nil)
	require.NoError(t, running.MarkRunning())
	require.NoError(t, f.store.SaveExecution(f.ctx, running))

	unmet, err := f.graph.UnmetDependencies(f.ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, unmet, 1)
	assert.Equal(t, ReasonNeverExecuted, unmet[0].Reason)
}

func TestOnJobCompleted_DispatchesOncePerTriggeringExecution(t *testing.T) {
	f := newFixture(t)
	p, c := f.job(t, "p"), f.job(t, "c")
	_, err := f.graph.AddDependency(f.ctx, p.ID, c.ID, model.DependencySuccess, "")
	require.NoError(t, err)
	exec := f.finish(t, p, model.StatusSuccess, 3)

	require.NoError(t, f.graph.OnJobCompleted(f.ctx, p.ID, exec.ID))
	require.NoError(t, f.graph.OnJobCompleted(f.ctx, p.ID, exec.ID))
	f.disp.AssertNumberOfCalls(t, "Dispatch", 1)

	latest, err := f.store.FindLatestExecution(f.ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, exec.ID, latest.TriggeredBy)
}

// flakyDispatcher fails its first call, then behaves like recordingDispatcher.
type flakyDispatcher struct {
	recordingDispatcher
	failed bool
}

func (d *flakyDispatcher) Dispatch(ctx context.Context, jobID, triggeredBy string) (string, error) {
	if !d.failed {
		d.failed = true
		return "", errors.New("queue store unavailable")
	}
	return d.recordingDispatcher.Dispatch(ctx, jobID, triggeredBy)
}

func TestOnJobCompleted_RetriesAfterFailedDispatch(t *testing.T) {
	f := newFixture(t)
	d := &flakyDispatcher{recordingDispatcher: recordingDispatcher{store: f.store}}
	d.On("Dispatch", mock.Anything).Return()
	f.graph.SetDispatcher(d)

	p, c := f.job(t, "p"), f.job(t, "c")
	_, err := f.graph.AddDependency(f.ctx, p.ID, c.ID, model.DependencySuccess, "")
	require.NoError(t, err)
	exec := f.finish(t, p, model.StatusSuccess, 3)

	require.Error(t, f.graph.OnJobCompleted(f.ctx, p.ID, exec.ID))
	_, err = f.store.FindLatestExecution(f.ctx, c.ID)
	require.Error(t, err)

	require.NoError(t, f.graph.OnJobCompleted(f.ctx, p.ID, exec.ID))
	require.NoError(t, f.graph.OnJobCompleted(f.ctx, p.ID, exec.ID))
	d.AssertNumberOfCalls(t, "Dispatch", 1)
	latest, err := f.store.FindLatestExecution(f.ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, exec.ID, latest.TriggeredBy)
}

func TestOnJobCompleted_WaitsForAllParents(t *testing.T) {
	f := newFixture(t)
	a, b, c := f.job(t, "a"), f.job(t, "b"), f.job(t, "c")
	_, err := f.graph.AddDependency(f.ctx, a.ID, c.ID, model.DependencySuccess, "")
	require.NoError(t, err)
	_, err = f.graph.AddDependency(f.ctx, b.ID, c.ID, model.DependencySuccess, "")
	require.NoError(t, err)

	ea := f.finish(t, a, model.StatusSuccess, 1)
	require.NoError(t, f.graph.OnJobCompleted(f.ctx, a.ID, ea.ID))
	f.disp.AssertNumberOfCalls(t, "Dispatch", 0)

	eb := f.finish(t, b, model.StatusSuccess, 1)

	var wg sync.WaitGroup
	for _, pair := range [][2]string{{a.ID, ea.ID}, {b.ID, eb.ID}, {b.ID, eb.ID}} {
		wg.Add(1)
		go func(jobID, execID string) {
			defer wg.Done()
			assert.NoError(t, f.graph.OnJobCompleted(f.ctx, jobID, execID))
		}(pair[0], pair[1])
	}
	wg.Wait()
	f.disp.AssertNumberOfCalls(t, "Dispatch", 1)
}

func TestOnJobCompleted_FailedParentDoesNotTriggerSuccessChild(t *testing.T) {
	f := newFixture(t)
	p, c := f.job(t, "p"), f.job(t, "c")
	_, err := f.graph.AddDependency(f.ctx, p.ID, c.ID, model.DependencySuccess, "")
	require.NoError(t, err)
	exec := f.finish(t, p, model.StatusFailed, 0)

	require.NoError(t, f.graph.OnJobCompleted(f.ctx, p.ID, exec.ID))
	f.disp.AssertNotCalled(t, "Dispatch", c.ID)
}

func TestRemoveDependency(t *testing.T) {
	f := newFixture(t)
	p, c := f.job(t, "p"), f.job(t, "c")
	dep, err := f.graph.AddDependency(f.ctx, p.ID, c.ID, model.DependencySuccess, "")
	require.NoError(t, err)

	ok, _ := f.graph.IsExecutable(f.ctx, c.ID)
	assert.False(t, ok)

	require.NoError(t, f.graph.RemoveDependency(f.ctx, dep.ID))
	ok, _ = f.graph.IsExecutable(f.ctx, c.ID)
	assert.True(t, ok)

	stored, err := f.store.FindDependencyByID(f.ctx, dep.ID)
	require.NoError(t, err)
	assert.False(t, stored.Active)

	err = f.graph.RemoveDependency(f.ctx, dep.ID)
	assert.True(t, errors.Is(err, exception.NotFoundError))

	// The pair can be linked again once the old edge is inactive.
	_, err = f.graph.AddDependency(f.ctx, p.ID, c.ID, model.DependencyCompletion, "")
	assert.NoError(t, err)
}

func TestLoad_RestoresActiveEdges(t *testing.T) {
	f := newFixture(t)
	p, c := f.job(t, "p"), f.job(t, "c")
	_, err := f.graph.AddDependency(f.ctx, p.ID, c.ID, model.DependencySuccess, "")
	require.NoError(t, err)

	fresh := New(f.store)
	require.NoError(t, fresh.Load(f.ctx))
	_, err = fresh.AddDependency(f.ctx, c.ID, p.ID, model.DependencySuccess, "")
	assert.True(t, errors.Is(err, exception.CycleError))
}

func TestDependencyTree_TruncatesRevisitsAndDepth(t *testing.T) {
	f := newFixture(t)
	// root <- left <- top, root <- right <- top (diamond)
	top, left, right, root := f.job(t, "top"), f.job(t, "left"), f.job(t, "right"), f.job(t, "root")
	for _, e := range [][2]*model.Job{{top, left}, {top, right}, {left, root}, {right, root}} {
		_, err := f.graph.AddDependency(f.ctx, e[0].ID, e[1].ID, model.DependencySuccess, "")
		require.NoError(t, err)
	}

	tree, err := f.graph.DependencyTree(f.ctx, root.ID, 10)
	require.NoError(t, err)
	assert.Equal(t, 4, tree.TotalJobs)
	require.Len(t, tree.Root.Parents, 2)
	assert.False(t, tree.Root.Parents[0].Parents[0].Truncated)
	assert.True(t, tree.Root.Parents[1].Parents[0].Truncated)

	shallow, err := f.graph.DependencyTree(f.ctx, root.ID, 1)
	require.NoError(t, err)
	assert.True(t, shallow.Root.Parents[0].Parents[0].Truncated)
	assert.Equal(t, 3, shallow.TotalJobs)
}

func TestExecutableJobs(t *testing.T) {
	f := newFixture(t)
	p, c := f.job(t, "p"), f.job(t, "c")
	off := f.job(t, "off")
	off.Enabled = false
	require.NoError(t, f.store.SaveJob(f.ctx, off))
	_, err := f.graph.AddDependency(f.ctx, p.ID, c.ID, model.DependencySuccess, "")
	require.NoError(t, err)

	jobs, err := f.graph.ExecutableJobs(f.ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, p.ID, jobs[0].ID)
}
