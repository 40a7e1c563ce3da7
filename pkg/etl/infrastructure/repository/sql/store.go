// Package sql implements repository.Store on a relational database through
// gorm. Every repository method routes through the transaction carried by the
// context (see tx.WithTx), so a Load batch commits or rolls back as a unit.
package sql

import (
	"context"
	stdsql "database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	gormadapter "github.com/tigerroll/etlcore/pkg/etl/adaptor/database/gorm"
	repository "github.com/tigerroll/etlcore/pkg/etl/core/domain/repository"
	tx "github.com/tigerroll/etlcore/pkg/etl/core/tx"
	"github.com/tigerroll/etlcore/pkg/etl/support/util/exception"
	"github.com/tigerroll/etlcore/pkg/etl/support/util/logger"
)

var _ repository.Store = (*Store)(nil)

// insertBatchSize bounds the rows per INSERT statement.
const insertBatchSize = 200

// Store is the gorm-backed repository.Store.
type Store struct {
	db *gorm.DB
	// lockRows enables SELECT ... FOR UPDATE on entity reads inside a
	// transaction. SQLite has no row locks; its writer lock serialises batches.
	lockRows bool
}

// NewStore wraps an open connection.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db, lockRows: db.Dialector.Name() != "sqlite"}
}

// DB exposes the underlying connection, for migrations.
func (s *Store) DB() *gorm.DB { return s.db }

// Close releases the connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// gormTx is one database transaction.
type gormTx struct {
	id    string
	db    *gorm.DB
	store *Store
	done  bool
}

func (t *gormTx) ID() string { return t.id }

// Begin starts a new transaction.
func (s *Store) Begin(ctx context.Context, opts ...*stdsql.TxOptions) (tx.Tx, error) {
	db := s.db.WithContext(ctx).Begin(opts...)
	if db.Error != nil {
		return nil, exception.New(exception.TransactionError, "sql", "failed to begin transaction", db.Error)
	}
	t := &gormTx{id: uuid.New().String(), db: db, store: s}
	logger.Debugf("SQLStore: transaction %s started.", t.id)
	return t, nil
}

// Commit commits t.
func (s *Store) Commit(t tx.Tx) error {
	gt, err := s.own(t)
	if err != nil {
		return err
	}
	gt.done = true
	if err := gt.db.Commit().Error; err != nil {
		return exception.New(exception.TransactionError, "sql", "failed to commit transaction "+gt.id, err)
	}
	return nil
}

// Rollback rolls t back.
func (s *Store) Rollback(t tx.Tx) error {
	gt, err := s.own(t)
	if err != nil {
		return err
	}
	gt.done = true
	if err := gt.db.Rollback().Error; err != nil {
		return exception.New(exception.TransactionError, "sql", "failed to roll back transaction "+gt.id, err)
	}
	return nil
}

func (s *Store) own(t tx.Tx) (*gormTx, error) {
	gt, ok := t.(*gormTx)
	if !ok || gt.store != s {
		return nil, exception.New(exception.TransactionError, "sql", fmt.Sprintf("foreign transaction %T", t), nil)
	}
	if gt.done {
		return nil, exception.New(exception.TransactionError, "sql", "transaction "+gt.id+" already finished", nil)
	}
	return gt, nil
}

// conn returns the transaction carried by ctx, or the pool.
func (s *Store) conn(ctx context.Context) *gorm.DB {
	if t, ok := tx.FromContext(ctx); ok {
		if gt, ok := t.(*gormTx); ok && gt.store == s {
			return gt.db.WithContext(ctx)
		}
	}
	return s.db.WithContext(ctx)
}

// inTx reports whether ctx carries a transaction of this store.
func (s *Store) inTx(ctx context.Context) bool {
	t, ok := tx.FromContext(ctx)
	if !ok {
		return false
	}
	gt, ok := t.(*gormTx)
	return ok && gt.store == s
}

// locked adds FOR UPDATE when reading inside a transaction.
func (s *Store) locked(ctx context.Context) *gorm.DB {
	db := s.conn(ctx)
	if s.lockRows && s.inTx(ctx) {
		db = db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return db
}

// upsert inserts value or updates every column on a primary-key conflict.
func upsert(db *gorm.DB, value interface{}, key string) error {
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: key}},
		UpdateAll: true,
	}).Create(value).Error
}

// updateExisting updates the row with this id and reports sentinel when it does
// not exist. MySQL reports zero affected rows for an update that changes
// nothing, so a zero count is confirmed with a lookup.
func updateExisting(db *gorm.DB, model interface{}, id string, value interface{}, sentinel error) error {
	res := db.Model(model).Where("id = ?", id).Select("*").Updates(value)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	var n int64
	if err := db.Model(model).Where("id = ?", id).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return sentinel
	}
	return nil
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	if gormadapter.IsDuplicateKey(err) {
		return fmt.Errorf("%s: %w: %v", op, repository.ErrAlreadyExists, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
