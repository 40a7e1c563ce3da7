package sql

import (
	"context"

	gormadapter "github.com/tigerroll/etlcore/pkg/etl/adaptor/database/gorm"
	model "github.com/tigerroll/etlcore/pkg/etl/core/domain/model"
	repository "github.com/tigerroll/etlcore/pkg/etl/core/domain/repository"
)

// FindEntityByHash returns the entity of entityType with this hash. Inside a
// transaction the row is locked until commit.
func (s *Store) FindEntityByHash(ctx context.Context, entityType, hash string) (*model.Entity, error) {
	var rows []EntityEntity
	err := s.locked(ctx).Where("type = ? AND entity_hash = ?", entityType, hash).
		Order("created_at, id").Limit(1).Find(&rows).Error
	if err != nil {
		return nil, wrap("SQLStore.FindEntityByHash", err)
	}
	if len(rows) == 0 {
		return nil, repository.ErrEntityNotFound
	}
	return toDomainEntity(&rows[0]), nil
}

// FindEntityByID returns ErrEntityNotFound for unknown ids.
func (s *Store) FindEntityByID(ctx context.Context, id string) (*model.Entity, error) {
	var rows []EntityEntity
	if err := s.locked(ctx).Where("id = ?", id).Limit(1).Find(&rows).Error; err != nil {
		return nil, wrap("SQLStore.FindEntityByID", err)
	}
	if len(rows) == 0 {
		return nil, repository.ErrEntityNotFound
	}
	return toDomainEntity(&rows[0]), nil
}

// FindCandidates returns up to limit entities sharing blockKey, oldest first.
func (s *Store) FindCandidates(ctx context.Context, entityType, blockKey string, limit int) ([]*model.Entity, error) {
	q := s.conn(ctx).Where("type = ? AND block_key = ?", entityType, blockKey).Order("created_at, id")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []EntityEntity
	if err := q.Find(&rows).Error; err != nil {
		return nil, wrap("SQLStore.FindCandidates", err)
	}
	out := make([]*model.Entity, len(rows))
	for i := range rows {
		out[i] = toDomainEntity(&rows[i])
	}
	return out, nil
}

// CountEntities counts the entities of entityType, or all entities when empty.
func (s *Store) CountEntities(ctx context.Context, entityType string) (int64, error) {
	q := s.conn(ctx).Model(&EntityEntity{})
	if entityType != "" {
		q = q.Where("type = ?", entityType)
	}
	var n int64
	if err := q.Count(&n).Error; err != nil {
		return 0, wrap("SQLStore.CountEntities", err)
	}
	return n, nil
}

// saveEntitySavepoint guards entity inserts inside a transaction, so a
// duplicate hash leaves the transaction usable.
const saveEntitySavepoint = "save_entity"

// SaveEntity inserts a new entity. A second entity with the same type and hash
// fails with repository.ErrAlreadyExists.
func (s *Store) SaveEntity(ctx context.Context, e *model.Entity) error {
	db := s.conn(ctx)
	if !s.inTx(ctx) {
		return wrap("SQLStore.SaveEntity", db.Create(fromDomainEntity(e)).Error)
	}
	if err := db.SavePoint(saveEntitySavepoint).Error; err != nil {
		return wrap("SQLStore.SaveEntity", err)
	}
	err := db.Create(fromDomainEntity(e)).Error
	if gormadapter.IsDuplicateKey(err) {
		if rbErr := db.RollbackTo(saveEntitySavepoint).Error; rbErr != nil {
			return wrap("SQLStore.SaveEntity", rbErr)
		}
	}
	return wrap("SQLStore.SaveEntity", err)
}

// UpdateEntity stores a merged entity.
func (s *Store) UpdateEntity(ctx context.Context, e *model.Entity) error {
	row := fromDomainEntity(e)
	err := updateExisting(s.conn(ctx), &EntityEntity{}, row.ID, row, repository.ErrEntityNotFound)
	if err == repository.ErrEntityNotFound {
		return err
	}
	return wrap("SQLStore.UpdateEntity", err)
}

// SaveRelationships appends relationship edges.
func (s *Store) SaveRelationships(ctx context.Context, rels []*model.EntityRelationship) error {
	if len(rels) == 0 {
		return nil
	}
	rows := make([]EntityRelationshipEntity, len(rels))
	for i, r := range rels {
		rows[i] = fromDomainRelationship(r)
	}
	return wrap("SQLStore.SaveRelationships", s.conn(ctx).CreateInBatches(rows, insertBatchSize).Error)
}

// ListRelationships returns the edges touching entityID in either direction.
func (s *Store) ListRelationships(ctx context.Context, entityID string) ([]*model.EntityRelationship, error) {
	var rows []EntityRelationshipEntity
	err := s.conn(ctx).Where("from_entity_id = ? OR to_entity_id = ?", entityID, entityID).
		Order("created_at, id").Find(&rows).Error
	if err != nil {
		return nil, wrap("SQLStore.ListRelationships", err)
	}
	out := make([]*model.EntityRelationship, len(rows))
	for i := range rows {
		out[i] = toDomainRelationship(&rows[i])
	}
	return out, nil
}

// SaveLineage appends lineage rows.
func (s *Store) SaveLineage(ctx context.Context, lineage []*model.DataLineage) error {
	if len(lineage) == 0 {
		return nil
	}
	rows := make([]DataLineageEntity, len(lineage))
	for i, l := range lineage {
		rows[i] = fromDomainLineage(l)
	}
	return wrap("SQLStore.SaveLineage", s.conn(ctx).CreateInBatches(rows, insertBatchSize).Error)
}

// ListLineage returns the lineage rows written by executionID.
func (s *Store) ListLineage(ctx context.Context, executionID string) ([]*model.DataLineage, error) {
	var rows []DataLineageEntity
	if err := s.conn(ctx).Where("execution_id = ?", executionID).Order("created_at, id").Find(&rows).Error; err != nil {
		return nil, wrap("SQLStore.ListLineage", err)
	}
	out := make([]*model.DataLineage, len(rows))
	for i := range rows {
		out[i] = toDomainLineage(&rows[i])
	}
	return out, nil
}

// SaveChangeLogs appends field changes.
func (s *Store) SaveChangeLogs(ctx context.Context, logs []*model.ChangeLog) error {
	if len(logs) == 0 {
		return nil
	}
	rows := make([]ChangeLogEntity, len(logs))
	for i, c := range logs {
		rows[i] = fromDomainChangeLog(c)
	}
	return wrap("SQLStore.SaveChangeLogs", s.conn(ctx).CreateInBatches(rows, insertBatchSize).Error)
}

// ListChangeLogs returns the change history of entityID, oldest first.
func (s *Store) ListChangeLogs(ctx context.Context, entityID string) ([]*model.ChangeLog, error) {
	var rows []ChangeLogEntity
	if err := s.conn(ctx).Where("entity_id = ?", entityID).Order("created_at, id").Find(&rows).Error; err != nil {
		return nil, wrap("SQLStore.ListChangeLogs", err)
	}
	out := make([]*model.ChangeLog, len(rows))
	for i := range rows {
		out[i] = toDomainChangeLog(&rows[i])
	}
	return out, nil
}
