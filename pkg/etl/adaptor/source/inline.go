package source

import (
	"context"
	"fmt"
	"io"

	"github.com/tigerroll/etlcore/pkg/etl/core/config"
	model "github.com/tigerroll/etlcore/pkg/etl/core/domain/model"
	"github.com/tigerroll/etlcore/pkg/etl/core/port"
)

// Source types.
const (
	TypeInline  = "inline"
	TypeCSV     = "csv"
	TypeJSONL   = "jsonl"
	TypeParquet = "parquet"
)

type inlineOptions struct {
	Rows []interface{} `mapstructure:"rows"`
}

// InlineReader serves rows embedded in the job definition under options.rows.
// Each element that is not an object is a per-row error.
type InlineReader struct{}

// Open implements port.SourceReader.
func (InlineReader) Open(ctx context.Context, src model.SourceDescriptor) (port.RowIterator, error) {
	var opts inlineOptions
	if err := config.DecodeOptions(src.Options, &opts); err != nil {
		return nil, sourceUnavailable(src, err)
	}
	return &inlineIterator{src: src, rows: opts.Rows}, nil
}

type inlineIterator struct {
	src  model.SourceDescriptor
	rows []interface{}
	pos  int
}

func (it *inlineIterator) Next(ctx context.Context) (model.Row, error) {
	if it.pos >= len(it.rows) {
		return model.Row{}, io.EOF
	}
	it.pos++
	raw := it.rows[it.pos-1]
	var fields model.Fields
	switch r := raw.(type) {
	case map[string]interface{}:
		fields = model.Fields(r).Copy()
	case model.Fields:
		fields = r.Copy()
	default:
		return model.Row{}, badRow(it.src, it.pos, fmt.Errorf("expected an object, got %T", raw))
	}
	return model.Row{Origin: TypeInline, Number: it.pos, Fields: fields}, nil
}

func (it *inlineIterator) Close() error { return nil }
