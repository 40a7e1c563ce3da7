package repository

import (
	"context"
	"errors"

	model "github.com/tigerroll/etlcore/pkg/etl/core/domain/model"
	"github.com/tigerroll/etlcore/pkg/etl/support/util/exception"
)

// ErrErrorLogNotFound is returned when an ErrorLog is not found.
var ErrErrorLogNotFound = errors.New("error log not found")

func init() {
	exception.RegisterErrorType("ErrErrorLogNotFound", ErrErrorLogNotFound)
}

// AuditRepository persists error logs.
type AuditRepository interface {
	// SaveErrorLog appends an entry.
	SaveErrorLog(ctx context.Context, e *model.ErrorLog) error

	// UpdateErrorLog stores resolution fields of an existing entry.
	UpdateErrorLog(ctx context.Context, e *model.ErrorLog) error

	// FindErrorLogByID returns ErrErrorLogNotFound for unknown ids.
	FindErrorLogByID(ctx context.Context, id string) (*model.ErrorLog, error)

	// ListErrorLogs returns entries matching filter, newest first.
	ListErrorLogs(ctx context.Context, filter model.ErrorFilter) ([]*model.ErrorLog, error)
}
