package port

import (
	"context"
	"errors"

	"github.com/tigerroll/etlcore/pkg/etl/support/util/exception"
)

// ErrLookupNotFound is returned when a key is absent from a lookup table.
var ErrLookupNotFound = errors.New("lookup key not found")

// ErrLookupTableNotFound is returned for an unknown lookup table.
var ErrLookupTableNotFound = errors.New("lookup table not found")

func init() {
	exception.RegisterErrorType("ErrLookupNotFound", ErrLookupNotFound)
	exception.RegisterErrorType("ErrLookupTableNotFound", ErrLookupTableNotFound)
}

// LookupProvider resolves reference data for lookup mappings and consistency rules.
type LookupProvider interface {
	Resolve(ctx context.Context, table, key string) (interface{}, error)
	// HasTable reports whether table is known; used to validate jobs up front.
	HasTable(table string) bool
}
