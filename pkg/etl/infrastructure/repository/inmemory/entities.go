package inmemory

import (
	"context"
	"fmt"

	model "github.com/tigerroll/etlcore/pkg/etl/core/domain/model"
	repository "github.com/tigerroll/etlcore/pkg/etl/core/domain/repository"
)

func typedKey(entityType, key string) string { return entityType + "\x00" + key }

// FindEntityByHash returns the entity of entityType with this entity hash.
func (s *Store) FindEntityByHash(ctx context.Context, entityType, hash string) (*model.Entity, error) {
	mt := s.txFrom(ctx)
	if mt != nil {
		mt.mu.Lock()
		for _, id := range mt.newIDs {
			if e := mt.staged[id]; e.Type == entityType && e.EntityHash == hash {
				mt.mu.Unlock()
				return e.Copy(), nil
			}
		}
		mt.mu.Unlock()
	}
	s.mu.RLock()
	id, ok := s.hashIndex[typedKey(entityType, hash)]
	s.mu.RUnlock()
	if !ok {
		return nil, repository.ErrEntityNotFound
	}
	return s.FindEntityByID(ctx, id)
}

// FindEntityByID returns the entity with this id.
func (s *Store) FindEntityByID(ctx context.Context, id string) (*model.Entity, error) {
	if mt := s.txFrom(ctx); mt != nil {
		mt.mu.Lock()
		e, ok := mt.staged[id]
		mt.mu.Unlock()
		if ok {
			return e.Copy(), nil
		}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[id]
	if !ok {
		return nil, repository.ErrEntityNotFound
	}
	return e.Copy(), nil
}

// FindCandidates returns entities of entityType sharing blockKey, oldest first.
func (s *Store) FindCandidates(ctx context.Context, entityType, blockKey string, limit int) ([]*model.Entity, error) {
	key := typedKey(entityType, blockKey)
	s.mu.RLock()
	var out []*model.Entity
	seen := make(map[string]bool)
	for _, id := range s.blockIndex[key] {
		out = append(out, s.entities[id].Copy())
		seen[id] = true
	}
	s.mu.RUnlock()

	if mt := s.txFrom(ctx); mt != nil {
		mt.mu.Lock()
		for i, e := range out {
			if st, ok := mt.staged[e.ID]; ok {
				out[i] = st.Copy()
			}
		}
		// Staged updates may move an entity into or out of this block.
		filtered := out[:0]
		for _, e := range out {
			if e.BlockKey == blockKey {
				filtered = append(filtered, e)
			}
		}
		out = filtered
		for _, id := range mt.newIDs {
			e := mt.staged[id]
			if !seen[id] && e.Type == entityType && e.BlockKey == blockKey {
				out = append(out, e.Copy())
			}
		}
		mt.mu.Unlock()
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CountEntities counts the entities of entityType ("" for all).
func (s *Store) CountEntities(ctx context.Context, entityType string) (int64, error) {
	s.mu.RLock()
	var n int64
	for _, e := range s.entities {
		if entityType == "" || e.Type == entityType {
			n++
		}
	}
	s.mu.RUnlock()
	if mt := s.txFrom(ctx); mt != nil {
		mt.mu.Lock()
		for _, id := range mt.newIDs {
			if entityType == "" || mt.staged[id].Type == entityType {
				n++
			}
		}
		mt.mu.Unlock()
	}
	return n, nil
}

// SaveEntity inserts a new entity. A second entity with the same type and hash
// is rejected with ErrAlreadyExists.
func (s *Store) SaveEntity(ctx context.Context, e *model.Entity) error {
	c := e.Copy()
	s.mu.RLock()
	owner, taken := s.hashIndex[typedKey(c.Type, c.EntityHash)]
	s.mu.RUnlock()
	if taken && owner != c.ID {
		return fmt.Errorf("entity %s/%s: %w", c.Type, c.EntityHash, repository.ErrAlreadyExists)
	}
	if mt := s.txFrom(ctx); mt != nil {
		mt.mu.Lock()
		for _, id := range mt.newIDs {
			if st := mt.staged[id]; id != c.ID && st.Type == c.Type && st.EntityHash == c.EntityHash {
				mt.mu.Unlock()
				return fmt.Errorf("entity %s/%s: %w", c.Type, c.EntityHash, repository.ErrAlreadyExists)
			}
		}
		mt.staged[c.ID] = c.Copy()
		if !mt.isNew[c.ID] {
			mt.isNew[c.ID] = true
			mt.newIDs = append(mt.newIDs, c.ID)
		}
		mt.mu.Unlock()
	}
	return s.write(ctx, func() { s.putEntity(c) })
}

// UpdateEntity stores the new state of an existing entity.
func (s *Store) UpdateEntity(ctx context.Context, e *model.Entity) error {
	c := e.Copy()
	if mt := s.txFrom(ctx); mt != nil {
		mt.mu.Lock()
		_, staged := mt.staged[c.ID]
		mt.mu.Unlock()
		if !staged {
			if _, err := s.FindEntityByID(context.Background(), c.ID); err != nil {
				return err
			}
		}
		mt.mu.Lock()
		mt.staged[c.ID] = c.Copy()
		mt.mu.Unlock()
	} else {
		s.mu.RLock()
		_, ok := s.entities[c.ID]
		s.mu.RUnlock()
		if !ok {
			return repository.ErrEntityNotFound
		}
	}
	return s.write(ctx, func() { s.putEntity(c) })
}

// putEntity stores e and maintains the hash and block indexes. Caller holds s.mu.
func (s *Store) putEntity(e *model.Entity) {
	if old, ok := s.entities[e.ID]; ok {
		if old.BlockKey != e.BlockKey {
			key := typedKey(old.Type, old.BlockKey)
			ids := s.blockIndex[key]
			for i, id := range ids {
				if id == e.ID {
					s.blockIndex[key] = append(ids[:i:i], ids[i+1:]...)
					break
				}
			}
			s.blockIndex[typedKey(e.Type, e.BlockKey)] = append(s.blockIndex[typedKey(e.Type, e.BlockKey)], e.ID)
		}
		delete(s.hashIndex, typedKey(old.Type, old.EntityHash))
	} else {
		s.entityOrder = append(s.entityOrder, e.ID)
		s.blockIndex[typedKey(e.Type, e.BlockKey)] = append(s.blockIndex[typedKey(e.Type, e.BlockKey)], e.ID)
	}
	s.entities[e.ID] = e
	s.hashIndex[typedKey(e.Type, e.EntityHash)] = e.ID
}

// SaveRelationships appends relationship edges.
func (s *Store) SaveRelationships(ctx context.Context, rels []*model.EntityRelationship) error {
	cs := make([]*model.EntityRelationship, len(rels))
	for i, r := range rels {
		c := *r
		c.Attributes = r.Attributes.Copy()
		cs[i] = &c
	}
	return s.write(ctx, func() { s.relationships = append(s.relationships, cs...) })
}

// ListRelationships returns the edges touching entityID.
func (s *Store) ListRelationships(ctx context.Context, entityID string) ([]*model.EntityRelationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.EntityRelationship
	for _, r := range s.relationships {
		if r.FromEntityID == entityID || r.ToEntityID == entityID {
			c := *r
			out = append(out, &c)
		}
	}
	return out, nil
}

// SaveLineage appends lineage rows.
func (s *Store) SaveLineage(ctx context.Context, rows []*model.DataLineage) error {
	cs := make([]*model.DataLineage, len(rows))
	for i, r := range rows {
		c := *r
		cs[i] = &c
	}
	return s.write(ctx, func() { s.lineage = append(s.lineage, cs...) })
}

// ListLineage returns the lineage rows written by executionID.
func (s *Store) ListLineage(ctx context.Context, executionID string) ([]*model.DataLineage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.DataLineage
	for _, r := range s.lineage {
		if r.ExecutionID == executionID {
			c := *r
			out = append(out, &c)
		}
	}
	return out, nil
}

// SaveChangeLogs appends change logs.
func (s *Store) SaveChangeLogs(ctx context.Context, logs []*model.ChangeLog) error {
	cs := make([]*model.ChangeLog, len(logs))
	for i, l := range logs {
		c := *l
		cs[i] = &c
	}
	return s.write(ctx, func() { s.changes = append(s.changes, cs...) })
}

// ListChangeLogs returns the change logs of entityID in write order.
func (s *Store) ListChangeLogs(ctx context.Context, entityID string) ([]*model.ChangeLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.ChangeLog
	for _, l := range s.changes {
		if l.EntityID == entityID {
			c := *l
			out = append(out, &c)
		}
	}
	return out, nil
}
