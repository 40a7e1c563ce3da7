package service

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/tigerroll/etlcore/pkg/etl/core/config"
	model "github.com/tigerroll/etlcore/pkg/etl/core/domain/model"
	"github.com/tigerroll/etlcore/pkg/etl/support/util/exception"
	"github.com/tigerroll/etlcore/pkg/etl/support/util/logger"
)

// ApplyCatalog registers the jobs, rules and dependencies of c. Applying the
// same catalog again bumps job versions but leaves existing edges alone. Jobs
// that fail validation are reported and their edges skipped; the rest is
// still applied.
func (s *Service) ApplyCatalog(ctx context.Context, c *config.Catalog) (map[string]string, error) {
	var result *multierror.Error
	ids := make(map[string]string, len(c.Jobs))
	for _, spec := range c.Jobs {
		job, err := s.RegisterJob(ctx, spec.ToJob())
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("job %q: %w", spec.Name, err))
			continue
		}
		ids[spec.Name] = job.ID
	}
	for i := range c.Rules {
		rule := c.Rules[i]
		if err := s.RegisterQualityRule(ctx, &rule); err != nil {
			result = multierror.Append(result, fmt.Errorf("rule %q: %w", rule.ID, err))
		}
	}

	existing, err := s.store.ListDependencies(ctx, true)
	if err != nil {
		return ids, err
	}
	linked := make(map[string]bool, len(existing))
	for _, d := range existing {
		linked[d.ParentJobID+"/"+d.ChildJobID] = true
	}
	for _, d := range c.Dependencies {
		parent, child := ids[d.Parent], ids[d.Child]
		if parent == "" || child == "" {
			continue
		}
		if linked[parent+"/"+child] {
			logger.Debugf("Dependency %s -> %s already exists; skipping.", d.Parent, d.Child)
			continue
		}
		if _, err := s.AddDependency(ctx, parent, child, d.Kind, d.Description); err != nil {
			result = multierror.Append(result, fmt.Errorf("dependency %s -> %s: %w", d.Parent, d.Child, err))
			continue
		}
		linked[parent+"/"+child] = true
	}

	if err := result.ErrorOrNil(); err != nil {
		return ids, exception.New(exception.ConfigError, moduleName, "job catalog was applied partially", err)
	}
	logger.Infof("Job catalog applied: %d jobs, %d rules, %d dependencies.", len(c.Jobs), len(c.Rules), len(c.Dependencies))
	return ids, nil
}

// ResolveJobRef finds a job by name, then by id.
func (s *Service) ResolveJobRef(ctx context.Context, ref string) (*model.Job, error) {
	if job, err := s.store.FindJobByName(ctx, ref); err == nil {
		return job, nil
	}
	return s.job(ctx, ref)
}
