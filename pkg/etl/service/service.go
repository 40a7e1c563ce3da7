// Package service implements the operations an outer API layer transports:
// job and rule registration, submission and monitoring, dependency queries,
// error triage, quality checks and audit export.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"

	model "github.com/tigerroll/etlcore/pkg/etl/core/domain/model"
	"github.com/tigerroll/etlcore/pkg/etl/core/domain/repository"
	"github.com/tigerroll/etlcore/pkg/etl/core/port"
	"github.com/tigerroll/etlcore/pkg/etl/graph"
	"github.com/tigerroll/etlcore/pkg/etl/scheduler"
	"github.com/tigerroll/etlcore/pkg/etl/support/util/exception"
	"github.com/tigerroll/etlcore/pkg/etl/support/util/logger"
	"github.com/tigerroll/etlcore/pkg/etl/transform"
	"github.com/tigerroll/etlcore/pkg/etl/validate"
)

const moduleName = "service"

// JobScheduler is the part of the scheduler the service drives.
type JobScheduler interface {
	Submit(ctx context.Context, jobID string, params model.Fields) (string, error)
	Cancel(ctx context.Context, executionID string) error
	RecoverStale(ctx context.Context, olderThan time.Duration) (int, error)
	Stats() []scheduler.QueueStats
}

// AuditExporter writes the audit trail of an execution to a storage connection
// and returns the object names it wrote.
type AuditExporter interface {
	ExportExecution(ctx context.Context, executionID, connection string) ([]string, error)
}

// Service is the operation surface of the engine.
type Service struct {
	store     repository.Store
	graph     *graph.Graph
	scheduler JobScheduler
	sources   port.SourceRegistry
	lookups   port.LookupProvider
	cache     port.Cache
	exporter  AuditExporter
}

// Params groups the collaborators of New. Cache and Exporter are optional.
type Params struct {
	Store     repository.Store
	Graph     *graph.Graph
	Scheduler JobScheduler
	Sources   port.SourceRegistry
	Lookups   port.LookupProvider
	Cache     port.Cache
	Exporter  AuditExporter
}

// New creates a Service.
func New(p Params) *Service {
	return &Service{
		store:     p.Store,
		graph:     p.Graph,
		scheduler: p.Scheduler,
		sources:   p.Sources,
		lookups:   p.Lookups,
		cache:     p.Cache,
		exporter:  p.Exporter,
	}
}

func jobKey(id string) string { return "job:" + id }

// job reads a job definition through the cache.
func (s *Service) job(ctx context.Context, jobID string) (*model.Job, error) {
	if s.cache != nil {
		if v, ok := s.cache.Get(jobKey(jobID)); ok {
			return v.(*model.Job).Copy(), nil
		}
	}
	job, err := s.store.FindJobByID(ctx, jobID)
	if errors.Is(err, repository.ErrJobNotFound) {
		return nil, exception.New(exception.NotFoundError, moduleName, fmt.Sprintf("job %s", jobID), err)
	}
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Set(jobKey(jobID), job.Copy())
	}
	return job, nil
}

// ValidateJob compiles everything an execution of job would need. All problems
// are reported together as one ConfigError.
func (s *Service) ValidateJob(ctx context.Context, job *model.Job) error {
	var result *multierror.Error
	if strings.TrimSpace(job.Name) == "" {
		result = multierror.Append(result, fmt.Errorf("name is required"))
	}
	if !job.Type.IsValid() {
		result = multierror.Append(result, fmt.Errorf("unknown job type %q", job.Type))
	}
	if strings.TrimSpace(job.EntityType) == "" {
		result = multierror.Append(result, fmt.Errorf("entity type is required"))
	}
	if _, err := s.sources.Reader(job.Source.Type); err != nil {
		result = multierror.Append(result, err)
	}
	if _, err := transform.Compile(job, s.lookups); err != nil {
		result = multierror.Append(result, err)
	}
	rules, err := s.store.ListQualityRules(ctx, job.EntityType)
	if err != nil {
		return err
	}
	rs, err := validate.Compile(rules)
	if err != nil {
		result = multierror.Append(result, err)
	} else {
		for _, ref := range rs.References() {
			if ref.Table != "" && !s.lookups.HasTable(ref.Table) {
				result = multierror.Append(result, fmt.Errorf("quality rule references unknown lookup table '%s'", ref.Table))
			}
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return exception.New(exception.ConfigError, moduleName, fmt.Sprintf("job '%s' is invalid", job.Name), err)
	}
	return nil
}

// RegisterJob validates and stores a job definition. A job with the same name is
// replaced: it keeps its id and its version is incremented.
func (s *Service) RegisterJob(ctx context.Context, job *model.Job) (*model.Job, error) {
	if err := s.ValidateJob(ctx, job); err != nil {
		return nil, err
	}
	j := job.Copy()
	existing, err := s.store.FindJobByName(ctx, j.Name)
	switch {
	case err == nil:
		j.ID = existing.ID
		j.CreatedAt = existing.CreatedAt
		j.Version = existing.Version + 1
		j.UpdatedAt = timeNow()
	case errors.Is(err, repository.ErrJobNotFound):
		if j.ID == "" {
			fresh := model.NewJob(j.Name, j.Type, j.EntityType)
			j.ID, j.CreatedAt, j.UpdatedAt = fresh.ID, fresh.CreatedAt, fresh.UpdatedAt
		}
		if j.Version == 0 {
			j.Version = 1
		}
	default:
		return nil, err
	}
	if err := s.store.SaveJob(ctx, j); err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Remove(jobKey(j.ID))
	}
	logger.Infof("Job '%s' registered (id %s, version %d).", j.Name, j.ID, j.Version)
	return j.Copy(), nil
}

// RegisterQualityRule validates and stores a rule. Inactive rules are validated too.
func (s *Service) RegisterQualityRule(ctx context.Context, rule *model.QualityRule) error {
	probe := *rule
	probe.Active = true
	if _, err := validate.Compile([]*model.QualityRule{&probe}); err != nil {
		return err
	}
	if err := s.store.SaveQualityRule(ctx, rule); err != nil {
		return err
	}
	logger.Infof("Quality rule '%s' (%s) registered.", rule.ID, rule.Kind)
	return nil
}

// AddDependency links parent -> child. See graph.Graph.AddDependency.
func (s *Service) AddDependency(ctx context.Context, parentID, childID string, kind model.DependencyKind, description string) (*model.JobDependency, error) {
	return s.graph.AddDependency(ctx, parentID, childID, kind, description)
}

// RemoveDependency deactivates an edge.
func (s *Service) RemoveDependency(ctx context.Context, dependencyID string) error {
	return s.graph.RemoveDependency(ctx, dependencyID)
}

// ListUnmetDependencies explains why jobID cannot run yet.
func (s *Service) ListUnmetDependencies(ctx context.Context, jobID string) ([]graph.UnmetDependency, error) {
	if _, err := s.job(ctx, jobID); err != nil {
		return nil, err
	}
	return s.graph.UnmetDependencies(ctx, jobID)
}

// GetDependencyTree returns the ancestor tree of jobID.
func (s *Service) GetDependencyTree(ctx context.Context, jobID string, maxDepth int) (*graph.Tree, error) {
	return s.graph.DependencyTree(ctx, jobID, maxDepth)
}

// GetExecutableJobs lists the enabled jobs whose dependencies are all met.
func (s *Service) GetExecutableJobs(ctx context.Context) ([]*model.Job, error) {
	return s.graph.ExecutableJobs(ctx)
}

// ExportAudit writes the audit trail of executionID to the storage connection.
func (s *Service) ExportAudit(ctx context.Context, executionID, connection string) ([]string, error) {
	if s.exporter == nil {
		return nil, exception.Newf(exception.ConfigError, moduleName, "audit export is not configured")
	}
	if _, err := s.execution(ctx, executionID); err != nil {
		return nil, err
	}
	return s.exporter.ExportExecution(ctx, executionID, connection)
}
