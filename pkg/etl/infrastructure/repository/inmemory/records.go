package inmemory

import (
	"context"

	model "github.com/tigerroll/etlcore/pkg/etl/core/domain/model"
)

func hashKey(jobID, hash string) string { return jobID + "\x00" + hash }

// SaveRawRecords persists extracted rows.
func (s *Store) SaveRawRecords(ctx context.Context, records []*model.RawRecord) error {
	cs := make([]*model.RawRecord, len(records))
	for i, r := range records {
		c := *r
		c.Payload = r.Payload.Copy()
		cs[i] = &c
	}
	return s.write(ctx, func() {
		for _, c := range cs {
			if _, exists := s.raw[c.ID]; !exists {
				s.rawOrder = append(s.rawOrder, c.ID)
			}
			s.raw[c.ID] = c
			if c.Processed {
				s.processedHashes[hashKey(c.JobID, c.ContentHash)] = true
			}
		}
	})
}

// IsHashProcessed reports whether a loaded raw record of jobID has this hash.
func (s *Store) IsHashProcessed(ctx context.Context, jobID, contentHash string) (bool, error) {
	key := hashKey(jobID, contentHash)
	if mt := s.txFrom(ctx); mt != nil {
		mt.mu.Lock()
		staged := mt.processed[key]
		mt.mu.Unlock()
		if staged {
			return true, nil
		}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.processedHashes[key], nil
}

// MarkRawRecordsProcessed flags raw records as loaded.
func (s *Store) MarkRawRecordsProcessed(ctx context.Context, ids []string) error {
	ids = append([]string(nil), ids...)
	if mt := s.txFrom(ctx); mt != nil {
		s.mu.RLock()
		keys := make([]string, 0, len(ids))
		for _, id := range ids {
			if r, ok := s.raw[id]; ok {
				keys = append(keys, hashKey(r.JobID, r.ContentHash))
			}
		}
		s.mu.RUnlock()
		mt.mu.Lock()
		for _, k := range keys {
			mt.processed[k] = true
		}
		mt.mu.Unlock()
	}
	return s.write(ctx, func() {
		for _, id := range ids {
			r, ok := s.raw[id]
			if !ok {
				continue
			}
			r.Processed = true
			s.processedHashes[hashKey(r.JobID, r.ContentHash)] = true
		}
	})
}

// ListRawRecords returns the raw records of executionID in extraction order.
func (s *Store) ListRawRecords(ctx context.Context, executionID string) ([]*model.RawRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.RawRecord
	for _, id := range s.rawOrder {
		if r := s.raw[id]; r.ExecutionID == executionID {
			c := *r
			c.Payload = r.Payload.Copy()
			out = append(out, &c)
		}
	}
	return out, nil
}

// SaveStandardizedRecords persists standardized rows.
func (s *Store) SaveStandardizedRecords(ctx context.Context, records []*model.StandardizedRecord) error {
	cs := make([]*model.StandardizedRecord, len(records))
	for i, r := range records {
		c := *r
		c.Data = r.Data.Copy()
		cs[i] = &c
	}
	return s.write(ctx, func() { s.standardized = append(s.standardized, cs...) })
}

// ListStandardizedRecords returns the standardized rows of executionID.
func (s *Store) ListStandardizedRecords(ctx context.Context, executionID string) ([]*model.StandardizedRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.StandardizedRecord
	for _, r := range s.standardized {
		if r.ExecutionID == executionID {
			c := *r
			c.Data = r.Data.Copy()
			out = append(out, &c)
		}
	}
	return out, nil
}

// SaveRejectedRecords appends rejections.
func (s *Store) SaveRejectedRecords(ctx context.Context, records []*model.RejectedRecord) error {
	cs := make([]*model.RejectedRecord, len(records))
	for i, r := range records {
		c := *r
		c.Reasons = append(model.StringList(nil), r.Reasons...)
		cs[i] = &c
	}
	return s.write(ctx, func() { s.rejected = append(s.rejected, cs...) })
}

// ListRejectedRecords returns the rejections of executionID.
func (s *Store) ListRejectedRecords(ctx context.Context, executionID string) ([]*model.RejectedRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.RejectedRecord
	for _, r := range s.rejected {
		if r.ExecutionID == executionID {
			c := *r
			out = append(out, &c)
		}
	}
	return out, nil
}

// SaveQualityResults appends quality results.
func (s *Store) SaveQualityResults(ctx context.Context, results []*model.QualityResult) error {
	cs := make([]*model.QualityResult, len(results))
	for i, r := range results {
		c := *r
		cs[i] = &c
	}
	return s.write(ctx, func() { s.results = append(s.results, cs...) })
}

// ListQualityResults returns the quality results of executionID.
func (s *Store) ListQualityResults(ctx context.Context, executionID string) ([]*model.QualityResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.QualityResult
	for _, r := range s.results {
		if r.ExecutionID == executionID {
			c := *r
			out = append(out, &c)
		}
	}
	return out, nil
}
