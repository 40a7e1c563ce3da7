package service

import (
	"context"
	"strconv"

	model "github.com/tigerroll/etlcore/pkg/etl/core/domain/model"
	"github.com/tigerroll/etlcore/pkg/etl/support/util/exception"
	"github.com/tigerroll/etlcore/pkg/etl/validate"
)

// QualityCheckRequest selects the data and rules of a quality check. Records are
// checked when ExecutionID is empty; otherwise the standardized records of that
// execution are.
type QualityCheckRequest struct {
	EntityType  string         `json:"entity_type"`
	RuleIDs     []string       `json:"rule_ids,omitempty"`
	ExecutionID string         `json:"execution_id,omitempty"`
	Records     []model.Fields `json:"records,omitempty"`
}

// RunQualityCheck evaluates the active rules of the entity type (or the named
// subset) and reports per-rule pass rates and an overall PASS/FAIL score.
// Nothing is rejected or written.
func (s *Service) RunQualityCheck(ctx context.Context, req QualityCheckRequest) (*validate.Report, error) {
	rules, err := s.store.ListQualityRules(ctx, req.EntityType)
	if err != nil {
		return nil, err
	}
	if len(req.RuleIDs) > 0 {
		rules, err = selectRules(rules, req.RuleIDs)
		if err != nil {
			return nil, err
		}
	}
	rs, err := validate.Compile(rules)
	if err != nil {
		return nil, err
	}

	var records []*model.StandardizedRecord
	if req.ExecutionID != "" {
		if _, err := s.execution(ctx, req.ExecutionID); err != nil {
			return nil, err
		}
		if records, err = s.store.ListStandardizedRecords(ctx, req.ExecutionID); err != nil {
			return nil, err
		}
	} else {
		records = make([]*model.StandardizedRecord, len(req.Records))
		for i, data := range req.Records {
			records[i] = &model.StandardizedRecord{ID: "record-" + strconv.Itoa(i+1), Data: data}
		}
	}
	return rs.Check(ctx, validate.NewReferenceChecker(s.lookups, s.store), records)
}

func selectRules(rules []*model.QualityRule, ids []string) ([]*model.QualityRule, error) {
	byID := make(map[string]*model.QualityRule, len(rules))
	for _, r := range rules {
		byID[r.ID] = r
	}
	out := make([]*model.QualityRule, 0, len(ids))
	for _, id := range ids {
		r, ok := byID[id]
		if !ok {
			return nil, exception.Newf(exception.NotFoundError, moduleName, "quality rule %s not found for this entity type", id)
		}
		out = append(out, r)
	}
	return out, nil
}
