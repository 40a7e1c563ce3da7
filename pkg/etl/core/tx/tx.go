// Package tx provides the transaction boundary used by the load phase.
// A Load batch runs inside exactly one Tx: every entity, relationship, lineage
// and standardized-record write of the batch commits together or not at all.
package tx

import (
	"context"
	"database/sql"
)

// Tx represents an ongoing store transaction.
// Implementations are store-specific; repositories recover their concrete type
// from the context with FromContext.
type Tx interface {
	// ID identifies the transaction in logs.
	ID() string
}

// TransactionManager manages the lifecycle of store transactions.
type TransactionManager interface {
	// Begin starts a new transaction.
	// opts: Optional isolation level / read-only settings. Stores that cannot honour
	// them ignore them.
	Begin(ctx context.Context, opts ...*sql.TxOptions) (Tx, error)
	// Commit persists all changes made within t.
	Commit(t Tx) error
	// Rollback undoes all changes made within t.
	Rollback(t Tx) error
}

type txKey struct{}

// WithTx returns a context carrying t. Repositories called with this context route
// their reads and writes through t.
func WithTx(ctx context.Context, t Tx) context.Context {
	return context.WithValue(ctx, txKey{}, t)
}

// FromContext returns the active transaction, if any.
func FromContext(ctx context.Context) (Tx, bool) {
	t, ok := ctx.Value(txKey{}).(Tx)
	return t, ok && t != nil
}

// RunInTx begins a transaction, runs fn with a context carrying it, and commits
// when fn returns nil. Any error from fn rolls the transaction back and is
// returned unchanged. A panic in fn rolls back before it propagates.
func RunInTx(ctx context.Context, m TransactionManager, fn func(ctx context.Context) error) error {
	t, err := m.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			_ = m.Rollback(t)
			panic(r)
		}
	}()
	if err := fn(WithTx(ctx, t)); err != nil {
		_ = m.Rollback(t)
		return err
	}
	return m.Commit(t)
}
