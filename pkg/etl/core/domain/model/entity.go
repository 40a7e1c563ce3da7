package model

import (
	"time"

	"github.com/google/uuid"
)

// Entity is the canonical, deduplicated representation of a real-world object.
// Entities are shared across executions and only written by the matcher inside a
// load transaction.
type Entity struct {
	ID              string    `json:"id"`
	Type            string    `json:"type"`
	Data            Fields    `json:"data"`
	EntityHash      string    `json:"entity_hash"`
	BlockKey        string    `json:"block_key"`
	ConfidenceScore float64   `json:"confidence_score"`
	DuplicateCount  int       `json:"duplicate_count"`
	MasterEntityID  string    `json:"master_entity_id,omitempty"`
	Version         int       `json:"version"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// NewEntity creates a version-1 entity.
func NewEntity(entityType string, data Fields, hash, blockKey string) *Entity {
	now := time.Now()
	return &Entity{
		ID:              uuid.New().String(),
		Type:            entityType,
		Data:            data.Copy(),
		EntityHash:      hash,
		BlockKey:        blockKey,
		ConfidenceScore: 1.0,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Copy returns an unshared copy.
func (e *Entity) Copy() *Entity {
	if e == nil {
		return nil
	}
	c := *e
	c.Data = e.Data.Copy()
	return &c
}

// RelationshipKind labels an EntityRelationship edge.
type RelationshipKind string

const (
	RelationshipDuplicateOf RelationshipKind = "duplicate_of"
	RelationshipRelatedTo   RelationshipKind = "related_to"
)

// EntityRelationship is a non-owning audit edge between entities.
type EntityRelationship struct {
	ID           string           `json:"id"`
	FromEntityID string           `json:"from_entity_id"`
	ToEntityID   string           `json:"to_entity_id"`
	Kind         RelationshipKind `json:"kind"`
	Confidence   float64          `json:"confidence"`
	ExecutionID  string           `json:"execution_id"`
	Attributes   Fields           `json:"attributes,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
}

// NewRelationship creates an edge.
func NewRelationship(from, to string, kind RelationshipKind, confidence float64, executionID string) *EntityRelationship {
	return &EntityRelationship{
		ID:           uuid.New().String(),
		FromEntityID: from,
		ToEntityID:   to,
		Kind:         kind,
		Confidence:   confidence,
		ExecutionID:  executionID,
		Attributes:   Fields{},
		CreatedAt:    time.Now(),
	}
}

// DataLineage links a source record to the entity it produced. Append-only.
type DataLineage struct {
	ID                   string    `json:"id"`
	SourceRecordID       string    `json:"source_record_id"`
	TargetEntityID       string    `json:"target_entity_id"`
	TransformationRuleID string    `json:"transformation_rule_id"`
	ExecutionID          string    `json:"execution_id"`
	CreatedAt            time.Time `json:"created_at"`
}

// NewLineage creates a lineage row.
func NewLineage(sourceRecordID, entityID, ruleID, executionID string) *DataLineage {
	return &DataLineage{
		ID:                   uuid.New().String(),
		SourceRecordID:       sourceRecordID,
		TargetEntityID:       entityID,
		TransformationRuleID: ruleID,
		ExecutionID:          executionID,
		CreatedAt:            time.Now(),
	}
}

// Change reasons.
const (
	ChangeFill     = "fill"
	ChangeOverride = "override"
)

// ChangeLog captures a field-level change made to an entity by a merge.
type ChangeLog struct {
	ID          string      `json:"id"`
	EntityID    string      `json:"entity_id"`
	ExecutionID string      `json:"execution_id"`
	Field       string      `json:"field"`
	OldValue    interface{} `json:"old_value"`
	NewValue    interface{} `json:"new_value"`
	Reason      string      `json:"reason"`
	CreatedAt   time.Time   `json:"created_at"`
}

// NewChangeLog records one field change on entityID.
func NewChangeLog(entityID, executionID, field string, oldValue, newValue interface{}, reason string) *ChangeLog {
	return &ChangeLog{
		ID:          uuid.New().String(),
		EntityID:    entityID,
		ExecutionID: executionID,
		Field:       field,
		OldValue:    oldValue,
		NewValue:    newValue,
		Reason:      reason,
		CreatedAt:   time.Now(),
	}
}
