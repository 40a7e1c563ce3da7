package source

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/tigerroll/etlcore/pkg/etl/core/config"
	model "github.com/tigerroll/etlcore/pkg/etl/core/domain/model"
	"github.com/tigerroll/etlcore/pkg/etl/core/port"
)

type csvOptions struct {
	Delimiter  string   `mapstructure:"delimiter"`
	Header     *bool    `mapstructure:"header"`
	Columns    []string `mapstructure:"columns"`
	Comment    string   `mapstructure:"comment"`
	LazyQuotes bool     `mapstructure:"lazyQuotes"`
	TrimSpace  bool     `mapstructure:"trimSpace"`
}

// CSVReader reads delimited text. The first line is the header unless
// options.header is false, in which case options.columns names the fields.
// A row whose width differs from the header is a per-row error.
type CSVReader struct {
	open func(ctx context.Context, src model.SourceDescriptor) (io.ReadCloser, error)
}

// Open implements port.SourceReader.
func (r *CSVReader) Open(ctx context.Context, src model.SourceDescriptor) (port.RowIterator, error) {
	var opts csvOptions
	if err := config.DecodeOptions(src.Options, &opts); err != nil {
		return nil, sourceUnavailable(src, err)
	}
	hasHeader := opts.Header == nil || *opts.Header
	if !hasHeader && len(opts.Columns) == 0 {
		return nil, sourceUnavailable(src, fmt.Errorf("options.columns is required when header is false"))
	}

	rc, err := r.open(ctx, src)
	if err != nil {
		return nil, err
	}
	cr := csv.NewReader(rc)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = opts.LazyQuotes
	cr.TrimLeadingSpace = opts.TrimSpace
	if opts.Delimiter != "" {
		d, size := utf8.DecodeRuneInString(opts.Delimiter)
		if size != len(opts.Delimiter) || d == utf8.RuneError {
			rc.Close()
			return nil, sourceUnavailable(src, fmt.Errorf("delimiter must be a single character, got %q", opts.Delimiter))
		}
		cr.Comma = d
	}
	if opts.Comment != "" {
		cr.Comment, _ = utf8.DecodeRuneInString(opts.Comment)
	}

	columns := opts.Columns
	if hasHeader {
		header, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return &csvIterator{src: src, closer: rc, done: true}, nil
		}
		if err != nil {
			rc.Close()
			return nil, sourceUnavailable(src, fmt.Errorf("read header: %w", err))
		}
		if len(columns) == 0 {
			columns = make([]string, len(header))
			for i, h := range header {
				columns[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
			}
		}
	}
	return &csvIterator{src: src, reader: cr, closer: rc, columns: columns, trim: opts.TrimSpace}, nil
}

type csvIterator struct {
	src     model.SourceDescriptor
	reader  *csv.Reader
	closer  io.Closer
	columns []string
	trim    bool
	row     int
	done    bool
}

func (it *csvIterator) Next(ctx context.Context) (model.Row, error) {
	if it.done {
		return model.Row{}, io.EOF
	}
	rec, err := it.reader.Read()
	if errors.Is(err, io.EOF) {
		it.done = true
		return model.Row{}, io.EOF
	}
	it.row++
	if err != nil {
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			return model.Row{}, badRow(it.src, it.row, err)
		}
		it.done = true
		return model.Row{}, sourceUnavailable(it.src, err)
	}
	if len(rec) != len(it.columns) {
		return model.Row{}, badRow(it.src, it.row, fmt.Errorf("expected %d fields, got %d", len(it.columns), len(rec)))
	}
	fields := make(model.Fields, len(rec))
	for i, v := range rec {
		if it.trim {
			v = strings.TrimSpace(v)
		}
		fields[it.columns[i]] = v
	}
	return model.Row{Origin: origin(it.src), Number: it.row, Fields: fields}, nil
}

func (it *csvIterator) Close() error {
	if it.closer == nil {
		return nil
	}
	return it.closer.Close()
}
