// Package match resolves standardized records to canonical entities: exact hash
// first, then blocked fuzzy comparison, then a new entity.
package match

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/tigerroll/etlcore/pkg/etl/core/config"
	model "github.com/tigerroll/etlcore/pkg/etl/core/domain/model"
	"github.com/tigerroll/etlcore/pkg/etl/core/domain/repository"
	"github.com/tigerroll/etlcore/pkg/etl/core/metrics"
	"github.com/tigerroll/etlcore/pkg/etl/support/util/exception"
	"github.com/tigerroll/etlcore/pkg/etl/support/util/logger"
)

const moduleName = "match"

// scoreEpsilon is the tolerance under which two similarity scores tie.
const scoreEpsilon = 1e-9

// Resolution describes how one record was resolved.
type Resolution struct {
	// EntityID is the entity the record now belongs to (the master for duplicates).
	EntityID string
	// Outcome is one of the metrics.Match* constants.
	Outcome    string
	Confidence float64
	// ProvisionalID identifies the would-be entity of a fuzzy duplicate.
	ProvisionalID string
	Relationships []*model.EntityRelationship
	Changes       []*model.ChangeLog
}

// Matcher resolves records against the entity repository. Resolve must run
// inside the load transaction so that entity reads and writes serialize there.
type Matcher struct {
	entities       repository.EntityRepository
	threshold      float64
	candidateLimit int
	prefixLen      int
	recorder       metrics.MetricRecorder
}

// NewMatcher creates a Matcher. A zero threshold falls back to 0.85.
func NewMatcher(entities repository.EntityRepository, cfg config.MatcherConfig, recorder metrics.MetricRecorder) *Matcher {
	if cfg.DuplicateThreshold <= 0 {
		cfg.DuplicateThreshold = 0.85
	}
	if recorder == nil {
		recorder = metrics.NewNoOpMetricRecorder()
	}
	return &Matcher{
		entities:       entities,
		threshold:      cfg.DuplicateThreshold,
		candidateLimit: cfg.CandidateLimit,
		prefixLen:      cfg.BlockingPrefixLength,
		recorder:       recorder,
	}
}

// Threshold returns the duplicate threshold in use.
func (m *Matcher) Threshold() float64 { return m.threshold }

// Resolve matches data for job, persisting the entity change, relationships and
// change logs through the repository. sourceRecordID is kept on audit edges.
func (m *Matcher) Resolve(ctx context.Context, job *model.Job, executionID, sourceRecordID string, data model.Fields) (*Resolution, error) {
	spec := job.Match
	hash := EntityHash(data, spec.KeyFields)

	existing, err := m.entities.FindEntityByHash(ctx, job.EntityType, hash)
	switch {
	case err == nil:
		return m.exact(ctx, job, existing, data, executionID)
	case !errors.Is(err, repository.ErrEntityNotFound):
		return nil, err
	}

	matchFields := spec.EffectiveMatchFields()
	if len(matchFields) == 0 {
		matchFields = data.Keys()
	}
	blockKey := BlockKey(data, spec.EffectiveBlockingField(), m.prefixLen)

	candidates, err := m.entities.FindCandidates(ctx, job.EntityType, blockKey, m.candidateLimit)
	if err != nil {
		return nil, err
	}
	best := -1.0
	var tied []*model.Entity
	for _, c := range candidates {
		score := Similarity(data, c.Data, matchFields, spec.Weights)
		switch {
		case score > best+scoreEpsilon:
			best = score
			tied = []*model.Entity{c}
		case math.Abs(score-best) <= scoreEpsilon:
			tied = append(tied, c)
		}
	}

	if len(tied) > 0 && best >= m.threshold {
		return m.markDuplicate(ctx, job, executionID, sourceRecordID, hash, best, tied)
	}

	e := model.NewEntity(job.EntityType, data, hash, blockKey)
	if err := m.entities.SaveEntity(ctx, e); err != nil {
		if !errors.Is(err, repository.ErrAlreadyExists) {
			return nil, err
		}
		// A concurrent load committed the same hash after our lookup.
		existing, ferr := m.entities.FindEntityByHash(ctx, job.EntityType, hash)
		if ferr != nil {
			return nil, fmt.Errorf("re-read entity %s after conflict: %w", hash, ferr)
		}
		return m.exact(ctx, job, existing, data, executionID)
	}
	m.recorder.RecordMatch(ctx, job.EntityType, metrics.MatchNew)
	return &Resolution{EntityID: e.ID, Outcome: metrics.MatchNew, Confidence: e.ConfidenceScore}, nil
}

func (m *Matcher) exact(ctx context.Context, job *model.Job, existing *model.Entity, data model.Fields, executionID string) (*Resolution, error) {
	res, err := m.merge(ctx, existing, data, job.Match.Override, executionID)
	if err != nil {
		return nil, err
	}
	m.recorder.RecordMatch(ctx, job.EntityType, metrics.MatchExact)
	return res, nil
}

// markDuplicate links the record's would-be entity to the oldest best candidate.
// Other candidates at the same score become related_to edges.
func (m *Matcher) markDuplicate(ctx context.Context, job *model.Job, executionID, sourceRecordID, hash string, score float64, tied []*model.Entity) (*Resolution, error) {
	master := tied[0].Copy()
	provisional := uuid.NewSHA1(uuid.NameSpaceOID, []byte(job.EntityType+":"+hash)).String()

	edge := func(to string, kind model.RelationshipKind) *model.EntityRelationship {
		r := model.NewRelationship(provisional, to, kind, score, executionID)
		r.Attributes["entity_hash"] = hash
		r.Attributes["source_record_id"] = sourceRecordID
		return r
	}
	rels := []*model.EntityRelationship{edge(master.ID, model.RelationshipDuplicateOf)}
	outcome := metrics.MatchDuplicate
	if len(tied) > 1 {
		outcome = metrics.MatchAmbiguous
		ids := make([]string, 0, len(tied)-1)
		for _, c := range tied[1:] {
			r := edge(c.ID, model.RelationshipRelatedTo)
			r.Attributes["reason"] = string(exception.MatchAmbiguityError)
			rels = append(rels, r)
			ids = append(ids, c.ID)
		}
		amb := exception.New(exception.MatchAmbiguityError, moduleName,
			fmt.Sprintf("%d %s candidates tie at %.3f; chose %s over %v", len(tied), job.EntityType, score, master.ID, ids), nil)
		logger.Warnf("%v", amb)
	}

	master.DuplicateCount++
	master.Version++
	master.UpdatedAt = time.Now()
	if err := m.entities.UpdateEntity(ctx, master); err != nil {
		return nil, err
	}
	if err := m.entities.SaveRelationships(ctx, rels); err != nil {
		return nil, err
	}
	m.recorder.RecordMatch(ctx, job.EntityType, outcome)
	return &Resolution{
		EntityID:      master.ID,
		Outcome:       outcome,
		Confidence:    score,
		ProvisionalID: provisional,
		Relationships: rels,
	}, nil
}

// merge applies the field policy: incoming fills null or empty values, existing
// wins otherwise unless override names the field.
func (m *Matcher) merge(ctx context.Context, existing *model.Entity, incoming model.Fields, override model.OverridePolicy, executionID string) (*Resolution, error) {
	e := existing.Copy()
	if e.Data == nil {
		e.Data = model.Fields{}
	}
	var changes []*model.ChangeLog
	for _, f := range incoming.Keys() {
		nv := incoming[f]
		if model.IsEmptyValue(nv) {
			continue
		}
		ov, had := e.Data[f]
		switch {
		case !had || model.IsEmptyValue(ov):
			changes = append(changes, model.NewChangeLog(e.ID, executionID, f, ov, nv, model.ChangeFill))
		case override.Allows(f) && model.StringValue(ov) != model.StringValue(nv):
			changes = append(changes, model.NewChangeLog(e.ID, executionID, f, ov, nv, model.ChangeOverride))
		default:
			continue
		}
		e.Data[f] = nv
	}
	e.ConfidenceScore = 1.0

	res := &Resolution{EntityID: e.ID, Outcome: metrics.MatchExact, Confidence: 1.0, Changes: changes}
	if len(changes) == 0 {
		return res, nil
	}
	e.Version++
	e.UpdatedAt = time.Now()
	if err := m.entities.UpdateEntity(ctx, e); err != nil {
		return nil, err
	}
	if err := m.entities.SaveChangeLogs(ctx, changes); err != nil {
		return nil, err
	}
	return res, nil
}
