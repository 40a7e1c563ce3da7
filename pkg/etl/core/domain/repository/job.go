package repository

import (
	"context"
	"errors"

	model "github.com/tigerroll/etlcore/pkg/etl/core/domain/model"
	"github.com/tigerroll/etlcore/pkg/etl/support/util/exception"
)

// ErrJobNotFound is returned when a Job is not found.
var ErrJobNotFound = errors.New("job not found")

// ErrDependencyNotFound is returned when a JobDependency is not found.
var ErrDependencyNotFound = errors.New("job dependency not found")

// ErrQualityRuleNotFound is returned when a QualityRule is not found.
var ErrQualityRuleNotFound = errors.New("quality rule not found")

func init() {
	exception.RegisterErrorType("ErrJobNotFound", ErrJobNotFound)
	exception.RegisterErrorType("ErrDependencyNotFound", ErrDependencyNotFound)
	exception.RegisterErrorType("ErrQualityRuleNotFound", ErrQualityRuleNotFound)
}

// JobRepository persists job definitions, the dependency edges between them, and
// quality rules.
type JobRepository interface {
	// SaveJob inserts or replaces a job definition.
	SaveJob(ctx context.Context, job *model.Job) error

	// FindJobByID returns ErrJobNotFound for unknown ids.
	FindJobByID(ctx context.Context, id string) (*model.Job, error)

	// FindJobByName returns ErrJobNotFound for unknown names.
	FindJobByName(ctx context.Context, name string) (*model.Job, error)

	// ListJobs returns every job ordered by creation time.
	ListJobs(ctx context.Context) ([]*model.Job, error)

	// SaveDependency inserts or replaces an edge.
	SaveDependency(ctx context.Context, dep *model.JobDependency) error

	// FindDependencyByID returns ErrDependencyNotFound for unknown ids.
	FindDependencyByID(ctx context.Context, id string) (*model.JobDependency, error)

	// ListDependencies returns edges in insertion order. activeOnly drops
	// deactivated edges.
	ListDependencies(ctx context.Context, activeOnly bool) ([]*model.JobDependency, error)

	// SaveQualityRule inserts or replaces a rule.
	SaveQualityRule(ctx context.Context, rule *model.QualityRule) error

	// ListQualityRules returns the active rules applying to entityType ("" for all rules).
	ListQualityRules(ctx context.Context, entityType string) ([]*model.QualityRule, error)
}
