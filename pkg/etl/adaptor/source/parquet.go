package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/source"

	"github.com/tigerroll/etlcore/pkg/etl/core/config"
	model "github.com/tigerroll/etlcore/pkg/etl/core/domain/model"
	"github.com/tigerroll/etlcore/pkg/etl/core/port"
	"github.com/tigerroll/etlcore/pkg/etl/support/util/logger"
)

type parquetOptions struct {
	BatchSize   int   `mapstructure:"batchSize"`
	Parallelism int64 `mapstructure:"parallelism"`
}

// ParquetReader reads Parquet files with the schema stored in the file.
// Objects from a storage connection are spooled to a temporary file first.
type ParquetReader struct {
	opener *opener
}

// Open implements port.SourceReader.
func (r *ParquetReader) Open(ctx context.Context, src model.SourceDescriptor) (port.RowIterator, error) {
	opts := parquetOptions{BatchSize: 256, Parallelism: 4}
	if err := config.DecodeOptions(src.Options, &opts); err != nil {
		return nil, sourceUnavailable(src, err)
	}
	if opts.BatchSize <= 0 || opts.Parallelism <= 0 {
		return nil, sourceUnavailable(src, fmt.Errorf("batchSize and parallelism must be positive"))
	}

	path, cleanup, err := r.localPath(ctx, src)
	if err != nil {
		return nil, err
	}
	pf, err := local.NewLocalFileReader(path)
	if err != nil {
		cleanup()
		return nil, sourceUnavailable(src, err)
	}
	pr, err := reader.NewParquetReader(pf, nil, opts.Parallelism)
	if err != nil {
		pf.Close()
		cleanup()
		return nil, sourceUnavailable(src, err)
	}
	return &parquetIterator{
		src:     src,
		file:    pf,
		reader:  pr,
		cleanup: cleanup,
		total:   int(pr.GetNumRows()),
		batch:   opts.BatchSize,
	}, nil
}

func (r *ParquetReader) localPath(ctx context.Context, src model.SourceDescriptor) (string, func(), error) {
	if src.StorageRef == "" {
		if src.Path == "" {
			return "", nil, sourceUnavailable(src, fmt.Errorf("path is required"))
		}
		return src.Path, func() {}, nil
	}
	rc, err := r.opener.open(ctx, src)
	if err != nil {
		return "", nil, err
	}
	defer rc.Close()
	tmp, err := os.CreateTemp("", "etlcore-*.parquet")
	if err != nil {
		return "", nil, sourceUnavailable(src, err)
	}
	cleanup := func() {
		if err := os.Remove(tmp.Name()); err != nil && !os.IsNotExist(err) {
			logger.Warnf("Failed to remove spooled parquet file %s: %v", tmp.Name(), err)
		}
	}
	if _, err := io.Copy(tmp, rc); err != nil {
		tmp.Close()
		cleanup()
		return "", nil, sourceUnavailable(src, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", nil, sourceUnavailable(src, err)
	}
	return tmp.Name(), cleanup, nil
}

type parquetIterator struct {
	src     model.SourceDescriptor
	file    source.ParquetFile
	reader  *reader.ParquetReader
	cleanup func()
	total   int
	batch   int
	read    int
	pending []interface{}
	closed  bool
}

func (it *parquetIterator) Next(ctx context.Context) (model.Row, error) {
	if len(it.pending) == 0 {
		if it.read >= it.total {
			return model.Row{}, io.EOF
		}
		n := it.batch
		if rest := it.total - it.read; rest < n {
			n = rest
		}
		rows, err := it.reader.ReadByNumber(n)
		if err != nil {
			return model.Row{}, sourceUnavailable(it.src, err)
		}
		if len(rows) == 0 {
			return model.Row{}, io.EOF
		}
		it.pending = rows
	}
	raw := it.pending[0]
	it.pending = it.pending[1:]
	it.read++

	fields, err := parquetFields(raw)
	if err != nil {
		return model.Row{}, badRow(it.src, it.read, err)
	}
	return model.Row{Origin: origin(it.src), Number: it.read, Fields: fields}, nil
}

// parquetFields converts a row struct built from the file schema into Fields,
// keyed by the column names in the file.
func parquetFields(row interface{}) (model.Fields, error) {
	b, err := json.Marshal(row)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var m map[string]interface{}
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	return normalizeNumbers(m), nil
}

func (it *parquetIterator) Close() error {
	if it.closed {
		return nil
	}
	it.closed = true
	it.reader.ReadStop()
	err := it.file.Close()
	it.cleanup()
	return err
}
