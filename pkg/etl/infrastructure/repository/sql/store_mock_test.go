package sql_test

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	model "github.com/tigerroll/etlcore/pkg/etl/core/domain/model"
	repository "github.com/tigerroll/etlcore/pkg/etl/core/domain/repository"
	tx "github.com/tigerroll/etlcore/pkg/etl/core/tx"
	sqlrepo "github.com/tigerroll/etlcore/pkg/etl/infrastructure/repository/sql"
)

// setupGormMock opens the store on a mocked MySQL connection.
func setupGormMock(t *testing.T) (*sqlrepo.Store, sqlmock.Sqlmock) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)

	t.Cleanup(func() {
		mock.ExpectClose()
		_ = sqlDB.Close()
	})
	return sqlrepo.NewStore(gormDB), mock
}

func TestSQLStore_SaveJobUpserts(t *testing.T) {
	store, mock := setupGormMock(t)

	mock.ExpectExec("INSERT INTO `etl_jobs` .* ON DUPLICATE KEY UPDATE").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := store.SaveJob(context.Background(), model.NewJob("customers", model.JobTypeFullETL, "customer"))
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_FindJobByIDNotFound(t *testing.T) {
	store, mock := setupGormMock(t)

	mock.ExpectQuery("SELECT \\* FROM `etl_jobs` WHERE id = \\?").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}))

	_, err := store.FindJobByID(context.Background(), "missing")
	assert.ErrorIs(t, err, repository.ErrJobNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_EntityReadInTxLocksRow(t *testing.T) {
	store, mock := setupGormMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT \\* FROM `etl_entities` WHERE .* FOR UPDATE").
		WillReturnRows(sqlmock.NewRows([]string{"id", "type", "entity_hash"}).AddRow("e-1", "customer", "h1"))
	mock.ExpectCommit()

	var found *model.Entity
	err := tx.RunInTx(context.Background(), store, func(ctx context.Context) error {
		var err error
		found, err = store.FindEntityByHash(ctx, "customer", "h1")
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, "e-1", found.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_EntityReadOutsideTxDoesNotLock(t *testing.T) {
	store, mock := setupGormMock(t)

	mock.ExpectQuery("SELECT \\* FROM `etl_entities` WHERE type = \\? AND entity_hash = \\? ORDER BY created_at, id LIMIT [^ ]+$").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.FindEntityByHash(context.Background(), "customer", "h1")
	assert.ErrorIs(t, err, repository.ErrEntityNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_RollbackOnError(t *testing.T) {
	store, mock := setupGormMock(t)

	mock.ExpectBegin()
	mock.ExpectExec("SAVEPOINT save_entity").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO `etl_entities`").WillReturnError(assert.AnError)
	mock.ExpectRollback()

	err := tx.RunInTx(context.Background(), store, func(ctx context.Context) error {
		return store.SaveEntity(ctx, model.NewEntity("customer", model.Fields{"name": "Ada"}, "h1", "ada"))
	})
	assert.ErrorIs(t, err, assert.AnError)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_DuplicateEntityRollsBackToSavepoint(t *testing.T) {
	store, mock := setupGormMock(t)

	mock.ExpectBegin()
	mock.ExpectExec("SAVEPOINT save_entity").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO `etl_entities`").
		WillReturnError(&mysqldriver.MySQLError{Number: 1062, Message: "Duplicate entry 'customer-h1' for key 'idx_entity_hash'"})
	mock.ExpectExec("ROLLBACK TO SAVEPOINT save_entity").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	var saveErr error
	err := tx.RunInTx(context.Background(), store, func(ctx context.Context) error {
		saveErr = store.SaveEntity(ctx, model.NewEntity("customer", model.Fields{"name": "Ada"}, "h1", "ada"))
		return nil
	})
	require.NoError(t, err)
	assert.ErrorIs(t, saveErr, repository.ErrAlreadyExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_UpdateExecutionNotFound(t *testing.T) {
	store, mock := setupGormMock(t)

	mock.ExpectExec("UPDATE `etl_job_executions` SET").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT count\\(\\*\\) FROM `etl_job_executions`").
		WillReturnRows(sqlmock.NewRows([]string{"count(*)"}).AddRow(0))

	exec := model.NewJobExecution(model.NewJob("customers", model.JobTypeFullETL, "customer"), nil)
	err := store.UpdateExecution(context.Background(), exec)
	assert.ErrorIs(t, err, repository.ErrExecutionNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_ForeignTransactionRejected(t *testing.T) {
	store, _ := setupGormMock(t)
	assert.Error(t, store.Commit(foreignTx{}))
}

type foreignTx struct{}

func (foreignTx) ID() string { return "foreign" }
