// Package export writes the audit trail of an execution (rejected records and
// lineage) as parquet objects to a storage connection.
package export

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/tigerroll/etlcore/pkg/etl/core/config"
	model "github.com/tigerroll/etlcore/pkg/etl/core/domain/model"
	repository "github.com/tigerroll/etlcore/pkg/etl/core/domain/repository"
	"github.com/tigerroll/etlcore/pkg/etl/core/port"
	"github.com/tigerroll/etlcore/pkg/etl/support/util/exception"
	"github.com/tigerroll/etlcore/pkg/etl/support/util/logger"
)

const (
	moduleName  = "export"
	contentType = "application/vnd.apache.parquet"

	RejectedObject = "rejected_records.parquet"
	LineageObject  = "lineage.parquet"
)

// AuditStore is the slice of the store the exporter reads.
type AuditStore interface {
	ListRejectedRecords(ctx context.Context, executionID string) ([]*model.RejectedRecord, error)
	ListLineage(ctx context.Context, executionID string) ([]*model.DataLineage, error)
}

var _ AuditStore = (repository.Store)(nil)

// AuditExporter writes one parquet object per audit table.
type AuditExporter struct {
	store    AuditStore
	storages port.StorageResolver
	cfg      config.ExportConfig
	codec    parquet.CompressionCodec
}

// NewAuditExporter validates the compression setting.
func NewAuditExporter(cfg config.ExportConfig, store AuditStore, storages port.StorageResolver) (*AuditExporter, error) {
	codec, err := compressionCodec(cfg.Compression)
	if err != nil {
		return nil, exception.New(exception.ConfigError, moduleName, "invalid export compression", err)
	}
	return &AuditExporter{store: store, storages: storages, cfg: cfg, codec: codec}, nil
}

func compressionCodec(name string) (parquet.CompressionCodec, error) {
	switch strings.ToUpper(name) {
	case "SNAPPY":
		return parquet.CompressionCodec_SNAPPY, nil
	case "GZIP":
		return parquet.CompressionCodec_GZIP, nil
	case "NONE", "":
		return parquet.CompressionCodec_UNCOMPRESSED, nil
	default:
		return 0, fmt.Errorf("unsupported compression type: %s", name)
	}
}

// ExportExecution writes the audit objects of executionID under
// <prefix>/<executionID>/ on connection, or on the configured export storage
// when connection is empty. Empty tables produce no object.
func (x *AuditExporter) ExportExecution(ctx context.Context, executionID, connection string) ([]string, error) {
	if connection == "" {
		connection = x.cfg.Storage
	}
	if connection == "" {
		return nil, exception.Newf(exception.ConfigError, moduleName, "no storage connection for audit export")
	}
	storage, err := x.storages.Storage(connection)
	if err != nil {
		return nil, exception.New(exception.ConfigError, moduleName, "storage connection "+connection, err)
	}

	rejected, err := x.store.ListRejectedRecords(ctx, executionID)
	if err != nil {
		return nil, err
	}
	lineage, err := x.store.ListLineage(ctx, executionID)
	if err != nil {
		return nil, err
	}

	rejectedRows := make([]interface{}, 0, len(rejected))
	for _, r := range rejected {
		row, err := rejectedRow(r)
		if err != nil {
			return nil, fmt.Errorf("rejected record %s: %w", r.ID, err)
		}
		rejectedRows = append(rejectedRows, row)
	}
	lineageRows := make([]interface{}, 0, len(lineage))
	for _, l := range lineage {
		lineageRows = append(lineageRows, lineageRow(l))
	}

	var written []string
	var errs error
	for _, t := range []struct {
		object    string
		prototype interface{}
		rows      []interface{}
	}{
		{RejectedObject, new(RejectedRow), rejectedRows},
		{LineageObject, new(LineageRow), lineageRows},
	} {
		if len(t.rows) == 0 {
			continue
		}
		objectName := path.Join(x.cfg.Prefix, executionID, t.object)
		buf, err := x.encode(t.prototype, t.rows)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", objectName, err))
			continue
		}
		logger.Debugf("AuditExporter: uploading %d bytes to %s/%s", buf.Len(), connection, objectName)
		if err := storage.Upload(ctx, objectName, buf, contentType); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("upload %s: %w", objectName, err))
			continue
		}
		written = append(written, objectName)
	}
	if errs != nil {
		return written, errs
	}
	logger.Infof("Exported audit trail of execution %s to '%s' (%d rejected, %d lineage).", executionID, connection, len(rejectedRows), len(lineageRows))
	return written, nil
}

// encode renders rows as one parquet file.
func (x *AuditExporter) encode(prototype interface{}, rows []interface{}) (buf *bytes.Buffer, err error) {
	buf = new(bytes.Buffer)
	pw, err := writer.NewParquetWriterFromWriter(buf, prototype, 1)
	if err != nil {
		return nil, fmt.Errorf("create parquet writer: %w", err)
	}
	pw.CompressionType = x.codec
	for _, row := range rows {
		if err := pw.Write(row); err != nil {
			return nil, fmt.Errorf("write row: %w", err)
		}
	}
	defer func() {
		if r := recover(); r != nil {
			buf, err = nil, fmt.Errorf("parquet writer panicked during WriteStop: %v", r)
		}
	}()
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("finish parquet file: %w", err)
	}
	return buf, nil
}
