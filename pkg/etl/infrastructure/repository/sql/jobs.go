package sql

import (
	"context"

	"gorm.io/gorm/clause"

	model "github.com/tigerroll/etlcore/pkg/etl/core/domain/model"
	repository "github.com/tigerroll/etlcore/pkg/etl/core/domain/repository"
)

// SaveJob inserts or replaces a job definition.
func (s *Store) SaveJob(ctx context.Context, job *model.Job) error {
	const op = "SQLStore.SaveJob"
	return wrap(op, upsert(s.conn(ctx), fromDomainJob(job), "id"))
}

// FindJobByID returns ErrJobNotFound for unknown ids.
func (s *Store) FindJobByID(ctx context.Context, id string) (*model.Job, error) {
	return s.findJob(ctx, "SQLStore.FindJobByID", "id = ?", id)
}

// FindJobByName returns ErrJobNotFound for unknown names.
func (s *Store) FindJobByName(ctx context.Context, name string) (*model.Job, error) {
	return s.findJob(ctx, "SQLStore.FindJobByName", "name = ?", name)
}

func (s *Store) findJob(ctx context.Context, op, cond string, arg interface{}) (*model.Job, error) {
	var rows []JobEntity
	if err := s.conn(ctx).Where(cond, arg).Limit(1).Find(&rows).Error; err != nil {
		return nil, wrap(op, err)
	}
	if len(rows) == 0 {
		return nil, repository.ErrJobNotFound
	}
	return toDomainJob(&rows[0]), nil
}

// ListJobs returns every job ordered by creation time.
func (s *Store) ListJobs(ctx context.Context) ([]*model.Job, error) {
	var rows []JobEntity
	if err := s.conn(ctx).Order("created_at, id").Find(&rows).Error; err != nil {
		return nil, wrap("SQLStore.ListJobs", err)
	}
	out := make([]*model.Job, len(rows))
	for i := range rows {
		out[i] = toDomainJob(&rows[i])
	}
	return out, nil
}

// SaveDependency inserts or replaces an edge.
func (s *Store) SaveDependency(ctx context.Context, dep *model.JobDependency) error {
	return wrap("SQLStore.SaveDependency", upsert(s.conn(ctx), fromDomainDependency(dep), "id"))
}

// FindDependencyByID returns ErrDependencyNotFound for unknown ids.
func (s *Store) FindDependencyByID(ctx context.Context, id string) (*model.JobDependency, error) {
	var rows []JobDependencyEntity
	if err := s.conn(ctx).Where("id = ?", id).Limit(1).Find(&rows).Error; err != nil {
		return nil, wrap("SQLStore.FindDependencyByID", err)
	}
	if len(rows) == 0 {
		return nil, repository.ErrDependencyNotFound
	}
	return toDomainDependency(&rows[0]), nil
}

// ListDependencies returns edges in insertion order.
func (s *Store) ListDependencies(ctx context.Context, activeOnly bool) ([]*model.JobDependency, error) {
	q := s.conn(ctx).Order("created_at, id")
	if activeOnly {
		q = q.Where("active = ?", true)
	}
	var rows []JobDependencyEntity
	if err := q.Find(&rows).Error; err != nil {
		return nil, wrap("SQLStore.ListDependencies", err)
	}
	out := make([]*model.JobDependency, len(rows))
	for i := range rows {
		out[i] = toDomainDependency(&rows[i])
	}
	return out, nil
}

// SaveQualityRule inserts or replaces a rule. A replaced rule keeps its
// original position in ListQualityRules.
func (s *Store) SaveQualityRule(ctx context.Context, rule *model.QualityRule) error {
	err := s.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "kind", "entity_type", "fields", "parameters", "severity", "active"}),
	}).Create(fromDomainRule(rule)).Error
	return wrap("SQLStore.SaveQualityRule", err)
}

// ListQualityRules returns the active rules applying to entityType.
func (s *Store) ListQualityRules(ctx context.Context, entityType string) ([]*model.QualityRule, error) {
	q := s.conn(ctx).Where("active = ?", true).Order("created_at, id")
	if entityType != "" {
		q = q.Where("(entity_type = ? OR entity_type = ?)", entityType, "")
	}
	var rows []QualityRuleEntity
	if err := q.Find(&rows).Error; err != nil {
		return nil, wrap("SQLStore.ListQualityRules", err)
	}
	out := make([]*model.QualityRule, len(rows))
	for i := range rows {
		out[i] = toDomainRule(&rows[i])
	}
	return out, nil
}
