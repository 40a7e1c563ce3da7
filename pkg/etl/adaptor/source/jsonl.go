package source

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/tigerroll/etlcore/pkg/etl/core/config"
	model "github.com/tigerroll/etlcore/pkg/etl/core/domain/model"
	"github.com/tigerroll/etlcore/pkg/etl/core/port"
)

const defaultMaxLineBytes = 1 << 20

type jsonlOptions struct {
	MaxLineBytes int `mapstructure:"maxLineBytes"`
}

// JSONLReader reads one JSON object per line. Blank lines are ignored; a line
// that is not an object is a per-row error.
type JSONLReader struct {
	open func(ctx context.Context, src model.SourceDescriptor) (io.ReadCloser, error)
}

// Open implements port.SourceReader.
func (r *JSONLReader) Open(ctx context.Context, src model.SourceDescriptor) (port.RowIterator, error) {
	opts := jsonlOptions{MaxLineBytes: defaultMaxLineBytes}
	if err := config.DecodeOptions(src.Options, &opts); err != nil {
		return nil, sourceUnavailable(src, err)
	}
	rc, err := r.open(ctx, src)
	if err != nil {
		return nil, err
	}
	sc := bufio.NewScanner(rc)
	sc.Buffer(make([]byte, 0, 64*1024), opts.MaxLineBytes)
	return &jsonlIterator{src: src, scanner: sc, closer: rc}, nil
}

type jsonlIterator struct {
	src     model.SourceDescriptor
	scanner *bufio.Scanner
	closer  io.Closer
	line    int
	row     int
}

func (it *jsonlIterator) Next(ctx context.Context) (model.Row, error) {
	for it.scanner.Scan() {
		it.line++
		line := bytes.TrimSpace(it.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		it.row++
		dec := json.NewDecoder(bytes.NewReader(line))
		dec.UseNumber()
		var fields map[string]interface{}
		if err := dec.Decode(&fields); err != nil {
			return model.Row{}, badRow(it.src, it.row, fmt.Errorf("line %d: %w", it.line, err))
		}
		if fields == nil {
			return model.Row{}, badRow(it.src, it.row, fmt.Errorf("line %d: expected an object", it.line))
		}
		return model.Row{Origin: origin(it.src), Number: it.row, Fields: normalizeNumbers(fields)}, nil
	}
	if err := it.scanner.Err(); err != nil {
		return model.Row{}, sourceUnavailable(it.src, err)
	}
	return model.Row{}, io.EOF
}

func (it *jsonlIterator) Close() error { return it.closer.Close() }

// normalizeNumbers turns json.Number into int64 when integral, else float64.
func normalizeNumbers(in map[string]interface{}) model.Fields {
	out := make(model.Fields, len(in))
	for k, v := range in {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v interface{}) interface{} {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]interface{}:
		return map[string]interface{}(normalizeNumbers(t))
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = normalizeValue(e)
		}
		return out
	default:
		return v
	}
}
