package metrics

import (
	"context"

	model "github.com/tigerroll/etlcore/pkg/etl/core/domain/model"
)

// Tracer is an abstract interface for distributed tracing of executions.
type Tracer interface {
	// StartJobSpan starts a Span for a JobExecution.
	//
	// Returns: A context with the new Span set, and a function to end the Span.
	StartJobSpan(ctx context.Context, execution *model.JobExecution) (context.Context, func())

	// StartPhaseSpan starts a child Span for one phase of an execution.
	StartPhaseSpan(ctx context.Context, execution *model.JobExecution, phase string) (context.Context, func())

	// RecordError records an error in the current Span.
	//
	// module: The component where the error occurred (e.g., "extract", "matcher").
	RecordError(ctx context.Context, module string, err error)

	// RecordEvent records an event in the current Span.
	RecordEvent(ctx context.Context, name string, attributes map[string]interface{})
}
