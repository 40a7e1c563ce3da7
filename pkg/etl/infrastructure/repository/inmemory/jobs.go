package inmemory

import (
	"context"

	model "github.com/tigerroll/etlcore/pkg/etl/core/domain/model"
	repository "github.com/tigerroll/etlcore/pkg/etl/core/domain/repository"
)

// SaveJob inserts or replaces a job definition.
func (s *Store) SaveJob(ctx context.Context, job *model.Job) error {
	c := job.Copy()
	return s.write(ctx, func() {
		if _, exists := s.jobs[c.ID]; !exists {
			s.jobOrder = append(s.jobOrder, c.ID)
		}
		s.jobs[c.ID] = c
	})
}

// FindJobByID finds a job by its ID.
func (s *Store) FindJobByID(ctx context.Context, id string) (*model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, repository.ErrJobNotFound
	}
	return j.Copy(), nil
}

// FindJobByName finds a job by its unique name.
func (s *Store) FindJobByName(ctx context.Context, name string) (*model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range s.jobOrder {
		if j := s.jobs[id]; j.Name == name {
			return j.Copy(), nil
		}
	}
	return nil, repository.ErrJobNotFound
}

// ListJobs returns every job in registration order.
func (s *Store) ListJobs(ctx context.Context) ([]*model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Job, 0, len(s.jobOrder))
	for _, id := range s.jobOrder {
		out = append(out, s.jobs[id].Copy())
	}
	return out, nil
}

// SaveDependency inserts or replaces an edge.
func (s *Store) SaveDependency(ctx context.Context, dep *model.JobDependency) error {
	c := *dep
	return s.write(ctx, func() {
		if _, exists := s.deps[c.ID]; !exists {
			s.depOrder = append(s.depOrder, c.ID)
		}
		s.deps[c.ID] = &c
	})
}

// FindDependencyByID finds an edge by its ID.
func (s *Store) FindDependencyByID(ctx context.Context, id string) (*model.JobDependency, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.deps[id]
	if !ok {
		return nil, repository.ErrDependencyNotFound
	}
	c := *d
	return &c, nil
}

// ListDependencies returns edges in insertion order.
func (s *Store) ListDependencies(ctx context.Context, activeOnly bool) ([]*model.JobDependency, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.JobDependency, 0, len(s.depOrder))
	for _, id := range s.depOrder {
		d := s.deps[id]
		if activeOnly && !d.Active {
			continue
		}
		c := *d
		out = append(out, &c)
	}
	return out, nil
}

// SaveQualityRule inserts or replaces a rule.
func (s *Store) SaveQualityRule(ctx context.Context, rule *model.QualityRule) error {
	c := copyRule(rule)
	return s.write(ctx, func() {
		if _, exists := s.rules[c.ID]; !exists {
			s.ruleSeq = append(s.ruleSeq, c.ID)
		}
		s.rules[c.ID] = c
	})
}

// ListQualityRules returns the active rules applying to entityType.
func (s *Store) ListQualityRules(ctx context.Context, entityType string) ([]*model.QualityRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.QualityRule, 0)
	for _, id := range s.ruleSeq {
		r := s.rules[id]
		if (entityType == "" && r.Active) || r.AppliesTo(entityType) {
			out = append(out, copyRule(r))
		}
	}
	return out, nil
}

func copyRule(r *model.QualityRule) *model.QualityRule {
	c := *r
	c.Fields = append([]string(nil), r.Fields...)
	if r.Parameters != nil {
		c.Parameters = make(map[string]interface{}, len(r.Parameters))
		for k, v := range r.Parameters {
			c.Parameters[k] = v
		}
	}
	return &c
}
