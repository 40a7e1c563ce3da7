package inmemory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "github.com/tigerroll/etlcore/pkg/etl/core/domain/model"
	repository "github.com/tigerroll/etlcore/pkg/etl/core/domain/repository"
	tx "github.com/tigerroll/etlcore/pkg/etl/core/tx"
)

func TestStore_TxStagesUntilCommit(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	txn, err := s.Begin(ctx)
	require.NoError(t, err)
	tctx := tx.WithTx(ctx, txn)

	e := model.NewEntity("customer", model.Fields{"email": "a@x.io"}, "h1", "a@x")
	require.NoError(t, s.SaveEntity(tctx, e))

	// Visible inside the transaction.
	got, err := s.FindEntityByHash(tctx, "customer", "h1")
	require.NoError(t, err)
	assert.Equal(t, e.ID, got.ID)
	n, _ := s.CountEntities(tctx, "customer")
	assert.Equal(t, int64(1), n)

	// Invisible outside it.
	_, err = s.FindEntityByHash(ctx, "customer", "h1")
	assert.ErrorIs(t, err, repository.ErrEntityNotFound)

	require.NoError(t, s.Commit(txn))
	got, err = s.FindEntityByHash(ctx, "customer", "h1")
	require.NoError(t, err)
	assert.Equal(t, "a@x.io", got.Data["email"])
}

func TestStore_RollbackDiscardsEverything(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	raw := model.NewRawRecord("exec-1", "job-1", model.Row{Origin: "inline", Number: 1, Fields: model.Fields{"a": "1"}})
	require.NoError(t, s.SaveRawRecords(ctx, []*model.RawRecord{raw}))

	err := tx.RunInTx(ctx, s, func(tctx context.Context) error {
		e := model.NewEntity("customer", model.Fields{"a": "1"}, "h", "1")
		require.NoError(t, s.SaveEntity(tctx, e))
		require.NoError(t, s.SaveLineage(tctx, []*model.DataLineage{model.NewLineage(raw.ID, e.ID, "a", "exec-1")}))
		require.NoError(t, s.MarkRawRecordsProcessed(tctx, []string{raw.ID}))
		processed, _ := s.IsHashProcessed(tctx, "job-1", raw.ContentHash)
		assert.True(t, processed)
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	n, _ := s.CountEntities(ctx, "")
	assert.Zero(t, n)
	lineage, _ := s.ListLineage(ctx, "exec-1")
	assert.Empty(t, lineage)
	processed, _ := s.IsHashProcessed(ctx, "job-1", raw.ContentHash)
	assert.False(t, processed)
}

func TestStore_FinishedTxRejectsUse(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	txn, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Commit(txn))
	assert.Error(t, s.Commit(txn))
	assert.Error(t, s.Rollback(txn))
}

func TestStore_CandidatesFollowBlockKeyUpdates(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	e := model.NewEntity("customer", model.Fields{"name": ""}, "h", "")
	require.NoError(t, s.SaveEntity(ctx, e))

	e.Data["name"] = "alice"
	e.BlockKey = "ali"
	require.NoError(t, s.UpdateEntity(ctx, e))

	c, err := s.FindCandidates(ctx, "customer", "ali", 10)
	require.NoError(t, err)
	require.Len(t, c, 1)
	old, _ := s.FindCandidates(ctx, "customer", "", 10)
	assert.Empty(t, old)
}

func TestStore_LatestExecutionAndErrorFilter(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	job := model.NewJob("load", model.JobTypeFullETL, "customer")
	require.NoError(t, s.SaveJob(ctx, job))

	_, err := s.FindLatestExecution(ctx, job.ID)
	assert.ErrorIs(t, err, repository.ErrExecutionNotFound)

	first := model.NewJobExecution(job, nil)
	second := model.NewJobExecution(job, nil)
	second.CreatedAt = first.CreatedAt.Add(time.Second)
	require.NoError(t, s.SaveExecution(ctx, first))
	require.NoError(t, s.SaveExecution(ctx, second))
	latest, err := s.FindLatestExecution(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)

	active, _ := s.FindActiveExecutions(ctx, job.ID)
	assert.Len(t, active, 2)

	require.NoError(t, s.SaveErrorLog(ctx, model.NewErrorLog(first.ID, "ExtractionError", model.ErrorSeverityLow, "bad row")))
	require.NoError(t, s.SaveErrorLog(ctx, model.NewErrorLog(second.ID, "TransactionError", model.ErrorSeverityHigh, "boom")))
	unresolved := false
	logs, err := s.ListErrorLogs(ctx, model.ErrorFilter{Severity: model.ErrorSeverityHigh, Resolved: &unresolved})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, second.ID, logs[0].ExecutionID)
}

func TestStore_FindStaleExecutions(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	job := model.NewJob("stale", model.JobTypeFullETL, "thing")
	require.NoError(t, s.SaveJob(ctx, job))

	old := model.NewJobExecution(job, nil)
	old.CreatedAt = time.Now().Add(-time.Hour)
	require.NoError(t, old.MarkRunning())
	fresh := model.NewJobExecution(job, nil)
	done := model.NewJobExecution(job, nil)
	done.CreatedAt = time.Now().Add(-time.Hour)
	require.NoError(t, done.MarkCancelled("stop"))
	for _, e := range []*model.JobExecution{old, fresh, done} {
		require.NoError(t, s.SaveExecution(ctx, e))
	}

	stale, err := s.FindStaleExecutions(ctx, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, old.ID, stale[0].ID)
}

func TestStore_SaveEntityRejectsDuplicateHash(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.SaveEntity(ctx, model.NewEntity("customer", model.Fields{"a": "1"}, "h1", "1")))
	err := s.SaveEntity(ctx, model.NewEntity("customer", model.Fields{"a": "1"}, "h1", "1"))
	assert.ErrorIs(t, err, repository.ErrAlreadyExists)
	require.NoError(t, s.SaveEntity(ctx, model.NewEntity("supplier", model.Fields{"a": "1"}, "h1", "1")))

	err = tx.RunInTx(ctx, s, func(tctx context.Context) error {
		require.NoError(t, s.SaveEntity(tctx, model.NewEntity("customer", model.Fields{"a": "2"}, "h2", "2")))
		err := s.SaveEntity(tctx, model.NewEntity("customer", model.Fields{"a": "2"}, "h2", "2"))
		assert.ErrorIs(t, err, repository.ErrAlreadyExists)
		return nil
	})
	require.NoError(t, err)
	n, _ := s.CountEntities(ctx, "customer")
	assert.EqualValues(t, 2, n)
}

func TestStore_PanicInTxReleasesBatchLock(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	assert.Panics(t, func() {
		_ = tx.RunInTx(ctx, s, func(tctx context.Context) error {
			require.NoError(t, s.SaveEntity(tctx, model.NewEntity("customer", model.Fields{"a": "1"}, "h", "1")))
			panic("load crashed")
		})
	})

	done := make(chan error, 1)
	go func() {
		done <- tx.RunInTx(ctx, s, func(context.Context) error { return nil })
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Begin blocked after a panicking transaction")
	}
	_, err := s.FindEntityByHash(ctx, "customer", "h")
	assert.ErrorIs(t, err, repository.ErrEntityNotFound)
}
