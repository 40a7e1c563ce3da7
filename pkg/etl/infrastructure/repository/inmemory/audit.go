package inmemory

import (
	"context"
	"sort"

	model "github.com/tigerroll/etlcore/pkg/etl/core/domain/model"
	repository "github.com/tigerroll/etlcore/pkg/etl/core/domain/repository"
)

func copyErrorLog(e *model.ErrorLog) *model.ErrorLog {
	c := *e
	c.Details = e.Details.Copy()
	if e.ResolvedAt != nil {
		t := *e.ResolvedAt
		c.ResolvedAt = &t
	}
	return &c
}

// SaveErrorLog appends an entry. Error logs are never part of a Load batch, so a
// failed batch still leaves its TransactionError entry behind.
func (s *Store) SaveErrorLog(ctx context.Context, e *model.ErrorLog) error {
	c := copyErrorLog(e)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.errorLogs[c.ID]; !exists {
		s.errorOrder = append(s.errorOrder, c.ID)
	}
	s.errorLogs[c.ID] = c
	return nil
}

// UpdateErrorLog stores resolution fields of an existing entry.
func (s *Store) UpdateErrorLog(ctx context.Context, e *model.ErrorLog) error {
	c := copyErrorLog(e)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.errorLogs[c.ID]; !exists {
		return repository.ErrErrorLogNotFound
	}
	s.errorLogs[c.ID] = c
	return nil
}

// FindErrorLogByID finds an entry by its ID.
func (s *Store) FindErrorLogByID(ctx context.Context, id string) (*model.ErrorLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.errorLogs[id]
	if !ok {
		return nil, repository.ErrErrorLogNotFound
	}
	return copyErrorLog(e), nil
}

// ListErrorLogs returns entries matching filter, newest first.
func (s *Store) ListErrorLogs(ctx context.Context, filter model.ErrorFilter) ([]*model.ErrorLog, error) {
	s.mu.RLock()
	var out []*model.ErrorLog
	for _, id := range s.errorOrder {
		if e := s.errorLogs[id]; filter.Matches(e) {
			out = append(out, copyErrorLog(e))
		}
	}
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].OccurredAt.After(out[j].OccurredAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}
