package engine

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/tigerroll/etlcore/pkg/etl/adaptor/source"
	"github.com/tigerroll/etlcore/pkg/etl/core/config"
	model "github.com/tigerroll/etlcore/pkg/etl/core/domain/model"
	"github.com/tigerroll/etlcore/pkg/etl/core/domain/repository"
	"github.com/tigerroll/etlcore/pkg/etl/core/port"
	"github.com/tigerroll/etlcore/pkg/etl/infrastructure/repository/inmemory"
	"github.com/tigerroll/etlcore/pkg/etl/support/util/exception"
)

type noLookups struct{}

func (noLookups) Resolve(context.Context, string, string) (interface{}, error) {
	return nil, port.ErrLookupTableNotFound
}
func (noLookups) HasTable(string) bool { return false }

type recordingPublisher struct {
	mu     sync.Mutex
	events []model.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e model.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) types() []model.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.EventType, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

type fixture struct {
	store      *inmemory.Store
	engine     *Engine
	events     *recordingPublisher
	completed  []string
	completeMu sync.Mutex
}

func newFixture(t *testing.T, store *inmemory.Store, tune func(*config.Config)) *fixture {
	t.Helper()
	return newFixtureOn(t, store, store, tune)
}

// newFixtureOn runs the engine against engineStore while the test inspects store.
func newFixtureOn(t *testing.T, store *inmemory.Store, engineStore repository.Store, tune func(*config.Config)) *fixture {
	t.Helper()
	cfg := config.NewConfig()
	if tune != nil {
		tune(cfg)
	}
	f := &fixture{store: store, events: &recordingPublisher{}}
	f.engine = New(Params{
		Store:     engineStore,
		Sources:   source.NewRegistry(nil),
		Lookups:   noLookups{},
		Publisher: f.events,
		Config:    cfg,
	})
	f.engine.SetCompletionListener(port.CompletionListenerFunc(func(_ context.Context, _, execID string) error {
		f.completeMu.Lock()
		defer f.completeMu.Unlock()
		f.completed = append(f.completed, execID)
		return nil
	}))
	return f
}

func peopleJob(rows ...map[string]interface{}) *model.Job {
	j := model.NewJob("people", model.JobTypeFullETL, "person")
	list := make([]interface{}, len(rows))
	for i, r := range rows {
		list[i] = r
	}
	j.Source = model.SourceDescriptor{Type: source.TypeInline, Options: map[string]interface{}{"rows": list}}
	j.Cleansing = model.CleansingPolicy{Trim: true, Case: map[string]model.CaseMode{"email": model.CaseLower}}
	j.Mappings = []model.FieldMapping{
		{Target: "name", Kind: model.MappingDirect, Source: "name"},
		{Target: "email", Kind: model.MappingDirect, Source: "email"},
		{Target: "city", Kind: model.MappingDirect, Source: "city"},
	}
	j.Match = model.MatchSpec{KeyFields: []string{"name", "email"}, MatchFields: []string{"name", "city"}}
	return j
}

func (f *fixture) run(t *testing.T, ctx context.Context, job *model.Job) (*model.JobExecution, error) {
	t.Helper()
	exec := model.NewJobExecution(job, nil)
	require.NoError(t, f.store.SaveExecution(context.Background(), exec))
	err := f.engine.Run(ctx, job, exec)
	stored, ferr := f.store.FindExecutionByID(context.Background(), exec.ID)
	require.NoError(t, ferr)
	return stored, err
}

func row(name, email, city string) map[string]interface{} {
	return map[string]interface{}{"name": name, "email": email, "city": city}
}

func TestRun_AllValidRowsSucceed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, inmemory.NewStore(), nil)
	job := peopleJob(
		row("Ann Lee", "ann@x.io", "Oslo"),
		row("Bob Stone", "bob@x.io", "Rome"),
		row("Cy Twombly", "cy@x.io", "Lima"),
	)

	exec, err := f.run(t, ctx, job)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSuccess, exec.Status)
	assert.Equal(t, model.Counters{Extracted: 3, Transformed: 3, Loaded: 3}, exec.Counters)
	assert.NotNil(t, exec.EndTime)

	n, err := f.store.CountEntities(ctx, "person")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	std, err := f.store.ListStandardizedRecords(ctx, exec.ID)
	require.NoError(t, err)
	require.Len(t, std, 3)
	for _, s := range std {
		assert.NotEmpty(t, s.EntityID)
		assert.Equal(t, model.ValidationValid, s.ValidationStatus)
	}
	lineage, err := f.store.ListLineage(ctx, exec.ID)
	require.NoError(t, err)
	assert.Len(t, lineage, 9)

	pm, err := f.store.FindPerformanceMetrics(ctx, exec.ID)
	require.NoError(t, err)
	assert.Contains(t, pm.PhaseDurations, "load")
	assert.Equal(t, []model.EventType{model.EventStarted, model.EventCompleted}, f.events.types())
	assert.Equal(t, []string{exec.ID}, f.completed)
}

func TestRun_RerunSkipsProcessedRows(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, inmemory.NewStore(), nil)
	job := peopleJob(row("Ann Lee", "ann@x.io", "Oslo"), row("Bob Stone", "bob@x.io", "Rome"))

	_, err := f.run(t, ctx, job)
	require.NoError(t, err)
	again, err := f.run(t, ctx, job)
	require.NoError(t, err)

	assert.Equal(t, model.StatusSuccess, again.Status)
	assert.Equal(t, model.Counters{Extracted: 2, Duplicates: 2}, again.Counters)
	n, _ := f.store.CountEntities(ctx, "person")
	assert.Equal(t, int64(2), n)
}

func TestRun_ValidityViolationRejectsRecord(t *testing.T) {
	ctx := context.Background()
	store := inmemory.NewStore()
	require.NoError(t, store.SaveQualityRule(ctx, &model.QualityRule{
		ID: "email-format", Name: "email format", Kind: model.RuleValidity, EntityType: "person",
		Fields: []string{"email"}, Parameters: map[string]interface{}{"pattern": `^[^@\s]+@[^@\s]+$`},
		Severity: model.SeverityError, Active: true,
	}))
	f := newFixture(t, store, nil)
	job := peopleJob(
		row("Ann Lee", "ann@x.io", "Oslo"),
		row("Bob Stone", "not-an-email", "Rome"),
		row("Cy Twombly", "cy@x.io", "Lima"),
	)

	exec, err := f.run(t, ctx, job)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSuccess, exec.Status)
	assert.Equal(t, int64(1), exec.Counters.Rejected)
	assert.Equal(t, int64(2), exec.Counters.Loaded)

	rejected, err := store.ListRejectedRecords(ctx, exec.ID)
	require.NoError(t, err)
	require.Len(t, rejected, 1)
	assert.Equal(t, model.StageValidate, rejected[0].Stage)
	assert.Equal(t, 2, rejected[0].RowNumber)
	require.NotEmpty(t, rejected[0].Reasons)
	assert.Contains(t, rejected[0].Reasons[0], "email format")

	std, err := store.ListStandardizedRecords(ctx, exec.ID)
	require.NoError(t, err)
	for _, s := range std {
		assert.NotEqual(t, "not-an-email", s.Data["email"])
	}

	// Pass rate 2/3 is below the default 0.9 alert threshold.
	assert.Contains(t, f.events.types(), model.EventQualityAlert)

	results, err := store.ListQualityResults(ctx, exec.ID)
	require.NoError(t, err)
	var failed int
	for _, r := range results {
		if !r.Passed {
			failed++
		}
	}
	assert.Equal(t, 1, failed)
}

func TestRun_IdenticalKeysMergeIntoOneEntity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, inmemory.NewStore(), nil)
	job := peopleJob(
		map[string]interface{}{"name": "Ann Lee", "email": "ann@x.io"},
		map[string]interface{}{"name": "Ann Lee", "email": "ANN@x.io ", "city": "Oslo"},
	)

	exec, err := f.run(t, ctx, job)
	require.NoError(t, err)
	assert.Equal(t, int64(2), exec.Counters.Loaded)

	n, _ := f.store.CountEntities(ctx, "person")
	assert.Equal(t, int64(1), n)
	std, err := f.store.ListStandardizedRecords(ctx, exec.ID)
	require.NoError(t, err)
	require.Len(t, std, 2)
	assert.Equal(t, std[0].EntityID, std[1].EntityID)

	e, err := f.store.FindEntityByID(ctx, std[0].EntityID)
	require.NoError(t, err)
	assert.Equal(t, 0, e.DuplicateCount)
	assert.Equal(t, 2, e.Version)
	assert.Equal(t, "Oslo", e.Data["city"])
}

func TestRun_SimilarRecordBecomesDuplicate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, inmemory.NewStore(), nil)
	job := peopleJob(
		row("Jonathan Smith", "jon@x.io", "Oslo"),
		row("Jonathon Smith", "jsmith@y.io", "Oslo"),
	)

	exec, err := f.run(t, ctx, job)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSuccess, exec.Status)

	n, _ := f.store.CountEntities(ctx, "person")
	assert.Equal(t, int64(1), n)
	std, err := f.store.ListStandardizedRecords(ctx, exec.ID)
	require.NoError(t, err)
	require.Len(t, std, 2)

	master, err := f.store.FindEntityByID(ctx, std[0].EntityID)
	require.NoError(t, err)
	assert.Equal(t, 1, master.DuplicateCount)
	rels, err := f.store.ListRelationships(ctx, master.ID)
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, model.RelationshipDuplicateOf, rels[0].Kind)
	assert.Equal(t, master.ID, rels[0].ToEntityID)
	assert.GreaterOrEqual(t, rels[0].Confidence, 0.85)
}

func TestRun_TransformFailureRejectsRow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, inmemory.NewStore(), func(c *config.Config) { c.ETL.Engine.QualityAlertThreshold = 0 })
	job := peopleJob(
		map[string]interface{}{"name": "Ann Lee", "email": "ann@x.io", "qty": "2"},
		map[string]interface{}{"name": "Bob Stone", "email": "bob@x.io", "qty": "two"},
	)
	job.Mappings = append(job.Mappings, model.FieldMapping{Target: "double", Kind: model.MappingCalculated, Expression: "qty * 2"})

	exec, err := f.run(t, ctx, job)
	require.NoError(t, err)
	assert.Equal(t, model.Counters{Extracted: 2, Transformed: 1, Loaded: 1, Rejected: 1}, exec.Counters)
	rejected, err := f.store.ListRejectedRecords(ctx, exec.ID)
	require.NoError(t, err)
	require.Len(t, rejected, 1)
	assert.Equal(t, model.StageTransform, rejected[0].Stage)
	assert.NotContains(t, f.events.types(), model.EventQualityAlert)
}

type failingLineageStore struct {
	*inmemory.Store
}

func (failingLineageStore) SaveLineage(context.Context, []*model.DataLineage) error {
	return errors.New("disk full")
}

func TestRun_FailedLoadBatchRollsBack(t *testing.T) {
	ctx := context.Background()
	store := inmemory.NewStore()
	f := newFixtureOn(t, store, failingLineageStore{store}, nil)
	job := peopleJob(row("Ann Lee", "ann@x.io", "Oslo"), row("Bob Stone", "bob@x.io", "Rome"))

	exec, err := f.run(t, ctx, job)
	require.Error(t, err)
	assert.Equal(t, exception.TransactionError, exception.KindOf(err))
	assert.Equal(t, model.StatusFailed, exec.Status)
	assert.Contains(t, exec.FailureReason, "rolled back")
	assert.Equal(t, int64(0), exec.Counters.Loaded)

	n, _ := store.CountEntities(ctx, "person")
	assert.Equal(t, int64(0), n)
	std, _ := store.ListStandardizedRecords(ctx, exec.ID)
	assert.Empty(t, std)

	logs, err := store.ListErrorLogs(ctx, model.ErrorFilter{ExecutionID: exec.ID})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, string(exception.TransactionError), logs[0].Kind)
	assert.Equal(t, model.ErrorSeverityCritical, logs[0].Severity)
	assert.Equal(t, []model.EventType{model.EventStarted, model.EventFailed}, f.events.types())
	assert.Equal(t, []string{exec.ID}, f.completed)
}

func TestRun_CancelledContext(t *testing.T) {
	f := newFixture(t, inmemory.NewStore(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	exec, err := f.run(t, ctx, peopleJob(row("Ann Lee", "ann@x.io", "Oslo")))
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, exec.Status)
	assert.Equal(t, int64(0), exec.Counters.Loaded)
	assert.Contains(t, f.events.types(), model.EventCancelled)
	assert.Len(t, f.completed, 1)
}

func TestRun_UnreadableRowsAndSkipLimit(t *testing.T) {
	ctx := context.Background()
	job := peopleJob(row("Ann Lee", "ann@x.io", "Oslo"))
	job.Source.Options["rows"] = append(job.Source.Options["rows"].([]interface{}), "garbage", 42)

	lenient := newFixture(t, inmemory.NewStore(), nil)
	exec, err := lenient.run(t, ctx, job)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSuccess, exec.Status)
	assert.Equal(t, int64(1), exec.Counters.Loaded)
	logs, _ := lenient.store.ListErrorLogs(ctx, model.ErrorFilter{ExecutionID: exec.ID})
	assert.Len(t, logs, 2)

	strict := newFixture(t, inmemory.NewStore(), func(c *config.Config) { c.ETL.Engine.ExtractSkipLimit = 1 })
	exec, err = strict.run(t, ctx, job)
	require.Error(t, err)
	assert.Equal(t, model.StatusFailed, exec.Status)
	assert.Contains(t, exec.FailureReason, "skip limit 1 exceeded")
}

func TestRun_UnknownSourceTypeFails(t *testing.T) {
	f := newFixture(t, inmemory.NewStore(), nil)
	job := peopleJob()
	job.Source.Type = "xlsx"

	exec, err := f.run(t, context.Background(), job)
	require.Error(t, err)
	assert.Equal(t, exception.ConfigError, exception.KindOf(err))
	assert.Equal(t, model.StatusFailed, exec.Status)
}

func TestRun_NonFiniteValueRejectsOnlyThatRow(t *testing.T) {
	ctx := context.Background()
	var rows []map[string]interface{}
	require.NoError(t, yaml.Unmarshal([]byte(`
- {name: "Ann Lee", email: "ann@x.io", score: 2}
- {name: "Bob Stone", email: "bob@x.io", score: .nan}
`), &rows))
	require.True(t, math.IsNaN(rows[1]["score"].(float64)))

	f := newFixture(t, inmemory.NewStore(), func(c *config.Config) { c.ETL.Engine.QualityAlertThreshold = 0 })
	job := peopleJob(rows...)
	job.Mappings = append(job.Mappings, model.FieldMapping{Target: "double", Kind: model.MappingCalculated, Expression: "score * 2"})

	exec, err := f.run(t, ctx, job)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSuccess, exec.Status)
	assert.Equal(t, model.Counters{Extracted: 2, Transformed: 1, Loaded: 1, Rejected: 1}, exec.Counters)
	rejected, err := f.store.ListRejectedRecords(ctx, exec.ID)
	require.NoError(t, err)
	require.Len(t, rejected, 1)
	assert.Equal(t, model.StageTransform, rejected[0].Stage)
	assert.Contains(t, rejected[0].Reasons[0], "non-finite")
}

type panickingLookups struct{}

func (panickingLookups) Resolve(_ context.Context, _, key string) (interface{}, error) {
	if key == "boom" {
		panic("lookup backend crashed")
	}
	return "ok", nil
}
func (panickingLookups) HasTable(string) bool { return true }

func TestRun_PanicInTransformRejectsThatRow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, inmemory.NewStore(), func(c *config.Config) { c.ETL.Engine.QualityAlertThreshold = 0 })
	f.engine.lookups = panickingLookups{}
	job := peopleJob(
		map[string]interface{}{"name": "Ann Lee", "email": "ann@x.io", "code": "fine"},
		map[string]interface{}{"name": "Bob Stone", "email": "bob@x.io", "code": "boom"},
	)
	job.Mappings = append(job.Mappings, model.FieldMapping{Target: "label", Kind: model.MappingLookup, Source: "code", LookupTable: "codes"})

	exec, err := f.run(t, ctx, job)
	require.NoError(t, err)
	assert.Equal(t, model.Counters{Extracted: 2, Transformed: 1, Loaded: 1, Rejected: 1}, exec.Counters)
	rejected, err := f.store.ListRejectedRecords(ctx, exec.ID)
	require.NoError(t, err)
	require.Len(t, rejected, 1)
	assert.Contains(t, rejected[0].Reasons[0], "lookup backend crashed")
}
