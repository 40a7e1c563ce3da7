package repository

import (
	"errors"

	tx "github.com/tigerroll/etlcore/pkg/etl/core/tx"
)

// ErrAlreadyExists is returned when an insert collides with an existing id.
var ErrAlreadyExists = errors.New("record already exists")

// Store is the persistence port of the engine. It embeds the smaller repository
// interfaces to separate concerns, and the transaction manager that scopes Load
// batches.
//
// Writes made with a context carrying a tx.Tx (see tx.WithTx) belong to that
// transaction; reads made with such a context observe its uncommitted writes.
type Store interface {
	JobRepository
	ExecutionRepository
	RecordRepository
	EntityRepository
	AuditRepository
	tx.TransactionManager

	// Close releases resources (such as database connections) used by the store.
	Close() error
}
