// Package source provides the readers that turn a job's SourceDescriptor into
// raw rows: inline rows from the job definition, CSV, JSON lines and Parquet,
// read from the local file system or a named storage connection.
package source

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	model "github.com/tigerroll/etlcore/pkg/etl/core/domain/model"
	"github.com/tigerroll/etlcore/pkg/etl/core/port"
	"github.com/tigerroll/etlcore/pkg/etl/support/util/exception"
)

const moduleName = "source"

// Registry maps source types to readers.
type Registry struct {
	mu      sync.RWMutex
	readers map[string]port.SourceReader
}

var _ port.SourceRegistry = (*Registry)(nil)

// NewRegistry registers the built-in readers. storage may be nil when no job
// reads through a storage connection.
func NewRegistry(storage port.StorageResolver) *Registry {
	r := &Registry{readers: make(map[string]port.SourceReader)}
	opener := &opener{storage: storage}
	r.Register(TypeInline, InlineReader{})
	r.Register(TypeCSV, &CSVReader{open: opener.open})
	r.Register(TypeJSONL, &JSONLReader{open: opener.open})
	r.Register(TypeParquet, &ParquetReader{opener: opener})
	return r
}

// Register adds or replaces the reader of sourceType.
func (r *Registry) Register(sourceType string, reader port.SourceReader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.readers[sourceType] = reader
}

// Reader implements port.SourceRegistry.
func (r *Registry) Reader(sourceType string) (port.SourceReader, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reader, ok := r.readers[sourceType]
	if !ok {
		return nil, fmt.Errorf("unknown source type '%s'", sourceType)
	}
	return reader, nil
}

// Types lists the registered source types.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.readers))
	for t := range r.readers {
		out = append(out, t)
	}
	return out
}

// opener resolves a descriptor's Path either on disk or in a storage connection.
type opener struct {
	storage port.StorageResolver
}

func (o *opener) open(ctx context.Context, src model.SourceDescriptor) (io.ReadCloser, error) {
	if src.Path == "" {
		return nil, sourceUnavailable(src, fmt.Errorf("path is required"))
	}
	if src.StorageRef == "" {
		f, err := os.Open(src.Path)
		if err != nil {
			return nil, sourceUnavailable(src, err)
		}
		return f, nil
	}
	if o.storage == nil {
		return nil, sourceUnavailable(src, fmt.Errorf("no storage connections configured"))
	}
	s, err := o.storage.Storage(src.StorageRef)
	if err != nil {
		return nil, sourceUnavailable(src, err)
	}
	rc, err := s.Download(ctx, src.Path)
	if err != nil {
		return nil, sourceUnavailable(src, err)
	}
	return rc, nil
}

func origin(src model.SourceDescriptor) string {
	if src.Path == "" {
		return src.Type
	}
	if src.StorageRef != "" {
		return src.StorageRef + ":" + src.Path
	}
	return src.Path
}

// sourceUnavailable is the whole-source failure: fatal for the execution.
func sourceUnavailable(src model.SourceDescriptor, err error) error {
	return exception.NewFatal(exception.ExtractionError, moduleName, fmt.Sprintf("cannot open %s source %s", src.Type, origin(src)), err)
}

// badRow is a per-row failure: skippable.
func badRow(src model.SourceDescriptor, row int, err error) error {
	return exception.New(exception.ExtractionError, moduleName, fmt.Sprintf("%s row %d is unreadable", origin(src), row), err)
}
