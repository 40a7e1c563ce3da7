// Package port defines the external interfaces of the engine: where rows come
// from, how reference data is resolved, where events go and how reads are cached.
package port

import (
	"context"

	model "github.com/tigerroll/etlcore/pkg/etl/core/domain/model"
)

// RowIterator yields the rows of one source. It is lazy and finite.
//
// Next returns (row, nil) for each row, a recoverable per-row error (an
// ExtractionError that is not fatal) for an unreadable row, and
// (zero, io.EOF) once the source is exhausted. Any other error is fatal for the
// whole source.
type RowIterator interface {
	Next(ctx context.Context) (model.Row, error)
	Close() error
}

// SourceReader opens a fresh iterator over a job's source. Open may be called
// more than once; each call restarts from the first row.
type SourceReader interface {
	Open(ctx context.Context, src model.SourceDescriptor) (RowIterator, error)
}

// SourceRegistry resolves the SourceReader for a descriptor type.
type SourceRegistry interface {
	Reader(sourceType string) (SourceReader, error)
}
