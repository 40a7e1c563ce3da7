package notification

import (
	"context"
	"fmt"

	model "github.com/tigerroll/etlcore/pkg/etl/core/domain/model"
	"github.com/tigerroll/etlcore/pkg/etl/core/port"
	"github.com/tigerroll/etlcore/pkg/etl/support/util/logger"
)

// LoggingNotifier writes every event to the log. Failures and alerts are
// logged at warning level.
type LoggingNotifier struct{}

// NewLoggingNotifier creates a LoggingNotifier.
func NewLoggingNotifier() *LoggingNotifier {
	logger.Infof("Notification: logging notifier enabled.")
	return &LoggingNotifier{}
}

var _ port.Notifier = (*LoggingNotifier)(nil)

// Notify implements port.Notifier.
func (n *LoggingNotifier) Notify(_ context.Context, e model.Event) error {
	msg := fmt.Sprintf("Event %s: job '%s' execution %s status %s", e.Type, e.JobName, e.ExecutionID, e.Status)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	switch e.Type {
	case model.EventFailed, model.EventQualityAlert, model.EventCancelled:
		logger.Warnf("%s", msg)
	default:
		logger.Infof("%s", msg)
	}
	return nil
}

// NotifierFunc adapts a function to port.Notifier.
type NotifierFunc func(ctx context.Context, e model.Event) error

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, e model.Event) error { return f(ctx, e) }
