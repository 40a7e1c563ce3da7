package repository

import (
	"context"
	"errors"

	model "github.com/tigerroll/etlcore/pkg/etl/core/domain/model"
	"github.com/tigerroll/etlcore/pkg/etl/support/util/exception"
)

// ErrEntityNotFound is returned when an Entity is not found.
var ErrEntityNotFound = errors.New("entity not found")

func init() {
	exception.RegisterErrorType("ErrEntityNotFound", ErrEntityNotFound)
}

// EntityRepository persists resolved entities and their audit trail.
type EntityRepository interface {
	// FindEntityByHash returns the entity of entityType with this entity hash, or
	// ErrEntityNotFound. Inside a transaction the row is locked for update where
	// the store supports it.
	FindEntityByHash(ctx context.Context, entityType, hash string) (*model.Entity, error)

	// FindEntityByID returns ErrEntityNotFound for unknown ids.
	FindEntityByID(ctx context.Context, id string) (*model.Entity, error)

	// FindCandidates returns at most limit entities of entityType sharing blockKey,
	// oldest first. limit <= 0 means no limit.
	FindCandidates(ctx context.Context, entityType, blockKey string, limit int) ([]*model.Entity, error)

	// CountEntities counts the entities of entityType ("" for all).
	CountEntities(ctx context.Context, entityType string) (int64, error)

	// SaveEntity inserts a new entity.
	SaveEntity(ctx context.Context, e *model.Entity) error

	// UpdateEntity stores the new state of an existing entity.
	UpdateEntity(ctx context.Context, e *model.Entity) error

	// SaveRelationships appends relationship edges.
	SaveRelationships(ctx context.Context, rels []*model.EntityRelationship) error

	// ListRelationships returns the edges touching entityID.
	ListRelationships(ctx context.Context, entityID string) ([]*model.EntityRelationship, error)

	// SaveLineage appends lineage rows.
	SaveLineage(ctx context.Context, rows []*model.DataLineage) error

	// ListLineage returns the lineage rows written by executionID.
	ListLineage(ctx context.Context, executionID string) ([]*model.DataLineage, error)

	// SaveChangeLogs appends change logs.
	SaveChangeLogs(ctx context.Context, logs []*model.ChangeLog) error

	// ListChangeLogs returns the change logs of entityID in write order.
	ListChangeLogs(ctx context.Context, entityID string) ([]*model.ChangeLog, error)
}
