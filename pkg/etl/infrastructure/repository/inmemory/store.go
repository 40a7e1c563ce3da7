// Package inmemory provides an in-memory implementation of the repository.Store
// interface. It holds all data in maps guarded by a RWMutex and is suitable for
// tests and single-process deployments where persistence is not required.
//
// Transactions serialise on a store-wide batch lock. Writes made inside a
// transaction are staged and applied atomically on Commit; entity reads inside
// the transaction observe the staged state.
package inmemory

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/google/uuid"

	model "github.com/tigerroll/etlcore/pkg/etl/core/domain/model"
	repository "github.com/tigerroll/etlcore/pkg/etl/core/domain/repository"
	tx "github.com/tigerroll/etlcore/pkg/etl/core/tx"
	"github.com/tigerroll/etlcore/pkg/etl/support/util/exception"
)

var _ repository.Store = (*Store)(nil)

// Store is the in-memory repository.Store.
type Store struct {
	mu      sync.RWMutex // guards every map and slice below
	batchMu sync.Mutex   // held for the lifetime of a transaction

	jobs     map[string]*model.Job
	jobOrder []string
	deps     map[string]*model.JobDependency
	depOrder []string
	rules    map[string]*model.QualityRule
	ruleSeq  []string

	executions map[string]*model.JobExecution
	perf       map[string]*model.PerformanceMetrics

	raw             map[string]*model.RawRecord
	rawOrder        []string
	processedHashes map[string]bool
	standardized    []*model.StandardizedRecord
	rejected        []*model.RejectedRecord
	results         []*model.QualityResult

	entities      map[string]*model.Entity
	entityOrder   []string
	hashIndex     map[string]string
	blockIndex    map[string][]string
	relationships []*model.EntityRelationship
	lineage       []*model.DataLineage
	changes       []*model.ChangeLog

	errorLogs  map[string]*model.ErrorLog
	errorOrder []string
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		jobs:            make(map[string]*model.Job),
		deps:            make(map[string]*model.JobDependency),
		rules:           make(map[string]*model.QualityRule),
		executions:      make(map[string]*model.JobExecution),
		perf:            make(map[string]*model.PerformanceMetrics),
		raw:             make(map[string]*model.RawRecord),
		processedHashes: make(map[string]bool),
		entities:        make(map[string]*model.Entity),
		hashIndex:       make(map[string]string),
		blockIndex:      make(map[string][]string),
		errorLogs:       make(map[string]*model.ErrorLog),
	}
}

// Close releases resources used by the store.
// As an in-memory store, it holds no external resources, so this method always returns nil.
func (s *Store) Close() error {
	return nil
}

// memTx is a staged transaction. ops run in order under s.mu on Commit.
type memTx struct {
	id    string
	store *Store

	mu        sync.Mutex
	ops       []func()
	staged    map[string]*model.Entity
	newIDs    []string
	isNew     map[string]bool
	processed map[string]bool
	done      bool
}

func (t *memTx) ID() string { return t.id }

// Begin starts a transaction. It blocks until any other transaction of this store ends.
func (s *Store) Begin(ctx context.Context, _ ...*sql.TxOptions) (tx.Tx, error) {
	s.batchMu.Lock()
	if err := ctx.Err(); err != nil {
		s.batchMu.Unlock()
		return nil, exception.New(exception.TransactionError, "inmemory", "begin aborted", err)
	}
	return &memTx{
		id:        uuid.New().String(),
		store:     s,
		staged:    make(map[string]*model.Entity),
		isNew:     make(map[string]bool),
		processed: make(map[string]bool),
	}, nil
}

// Commit applies every staged write atomically.
func (s *Store) Commit(t tx.Tx) error {
	mt, err := s.own(t)
	if err != nil {
		return err
	}
	mt.mu.Lock()
	ops := mt.ops
	mt.done = true
	mt.mu.Unlock()

	s.mu.Lock()
	for _, op := range ops {
		op()
	}
	s.mu.Unlock()
	s.batchMu.Unlock()
	return nil
}

// Rollback discards every staged write.
func (s *Store) Rollback(t tx.Tx) error {
	mt, err := s.own(t)
	if err != nil {
		return err
	}
	mt.mu.Lock()
	mt.ops = nil
	mt.done = true
	mt.mu.Unlock()
	s.batchMu.Unlock()
	return nil
}

func (s *Store) own(t tx.Tx) (*memTx, error) {
	mt, ok := t.(*memTx)
	if !ok || mt.store != s {
		return nil, exception.New(exception.TransactionError, "inmemory", fmt.Sprintf("foreign transaction %T", t), nil)
	}
	mt.mu.Lock()
	done := mt.done
	mt.mu.Unlock()
	if done {
		return nil, exception.New(exception.TransactionError, "inmemory", "transaction "+mt.id+" already finished", nil)
	}
	return mt, nil
}

// txFrom returns the store's active transaction carried by ctx, if any.
func (s *Store) txFrom(ctx context.Context) *memTx {
	t, ok := tx.FromContext(ctx)
	if !ok {
		return nil
	}
	mt, ok := t.(*memTx)
	if !ok || mt.store != s {
		return nil
	}
	return mt
}

// write runs fn under the store lock, or stages it when ctx carries a transaction.
// fn must only touch values it captured by copy.
func (s *Store) write(ctx context.Context, fn func()) error {
	if mt := s.txFrom(ctx); mt != nil {
		mt.mu.Lock()
		defer mt.mu.Unlock()
		if mt.done {
			return exception.New(exception.TransactionError, "inmemory", "write on finished transaction "+mt.id, nil)
		}
		mt.ops = append(mt.ops, fn)
		return nil
	}
	s.mu.Lock()
	fn()
	s.mu.Unlock()
	return nil
}
