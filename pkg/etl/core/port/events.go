package port

import (
	"context"

	model "github.com/tigerroll/etlcore/pkg/etl/core/domain/model"
)

// EventPublisher delivers lifecycle events. Publish never blocks the caller and
// never fails it: delivery is best effort.
type EventPublisher interface {
	Publish(ctx context.Context, event model.Event)
}

// Notifier receives events fanned out by a publisher.
type Notifier interface {
	Notify(ctx context.Context, event model.Event) error
}

// CompletionListener is told when an execution reaches a terminal status.
type CompletionListener interface {
	OnJobCompleted(ctx context.Context, jobID, executionID string) error
}

// CompletionListenerFunc adapts a function to CompletionListener.
type CompletionListenerFunc func(ctx context.Context, jobID, executionID string) error

// OnJobCompleted calls f.
func (f CompletionListenerFunc) OnJobCompleted(ctx context.Context, jobID, executionID string) error {
	return f(ctx, jobID, executionID)
}
