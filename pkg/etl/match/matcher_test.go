package match

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/etlcore/pkg/etl/core/config"
	model "github.com/tigerroll/etlcore/pkg/etl/core/domain/model"
	"github.com/tigerroll/etlcore/pkg/etl/core/domain/repository"
	"github.com/tigerroll/etlcore/pkg/etl/core/metrics"
	"github.com/tigerroll/etlcore/pkg/etl/infrastructure/repository/inmemory"
)

func personJob() *model.Job {
	j := model.NewJob("people", model.JobTypeFullETL, "person")
	j.Match = model.MatchSpec{KeyFields: []string{"name", "email"}}
	return j
}

func newMatcher(store *inmemory.Store) *Matcher {
	return NewMatcher(store, config.MatcherConfig{DuplicateThreshold: 0.85, CandidateLimit: 50, BlockingPrefixLength: 3}, nil)
}

func TestEntityHash_IsOrderAndCaseInsensitive(t *testing.T) {
	a := EntityHash(model.Fields{"name": "Ann  Lee", "email": "ANN@X.IO", "city": "x"}, []string{"name", "email"})
	b := EntityHash(model.Fields{"email": " ann@x.io", "name": "ann lee", "city": "y"}, []string{"email", "name"})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, EntityHash(model.Fields{"name": "Ann Lea", "email": "ann@x.io"}, []string{"name", "email"}))
}

func TestBlockKey(t *testing.T) {
	assert.Equal(t, "jon", BlockKey(model.Fields{"name": " Jonathan Smith"}, "name", 3))
	assert.Equal(t, "jo", BlockKey(model.Fields{"name": "Jo"}, "name", 3))
	assert.Equal(t, "", BlockKey(model.Fields{"name": "Jo"}, "", 3))
	assert.Equal(t, "éva", BlockKey(model.Fields{"name": "Éva Nagy"}, "name", 3))
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, StringSimilarity("", ""))
	assert.Equal(t, 0.0, StringSimilarity("abc", ""))
	assert.InDelta(t, 0.75, StringSimilarity("abcd", "abce"), 1e-9)

	a := model.Fields{"name": "abcd", "city": "paris"}
	b := model.Fields{"name": "abce", "city": "paris"}
	assert.InDelta(t, 0.875, Similarity(a, b, []string{"name", "city"}, nil), 1e-9)
	assert.InDelta(t, 0.8, Similarity(a, b, []string{"name", "city"}, map[string]float64{"name": 4}), 1e-9)
	assert.InDelta(t, 1.0, Similarity(a, b, []string{"name", "city"}, map[string]float64{"name": 0}), 1e-9)
}

func TestResolve_ExactHashMergesIntoSameEntity(t *testing.T) {
	ctx := context.Background()
	store := inmemory.NewStore()
	m := newMatcher(store)
	job := personJob()

	first, err := m.Resolve(ctx, job, "exec-1", "raw-1", model.Fields{"name": "Ann Lee", "email": "ann@x.io", "phone": nil})
	require.NoError(t, err)
	assert.Equal(t, metrics.MatchNew, first.Outcome)

	second, err := m.Resolve(ctx, job, "exec-1", "raw-2", model.Fields{"name": "ANN LEE", "email": "ann@x.io", "phone": "555", "city": "Oslo"})
	require.NoError(t, err)
	assert.Equal(t, first.EntityID, second.EntityID)
	assert.Equal(t, metrics.MatchExact, second.Outcome)
	assert.Equal(t, 1.0, second.Confidence)

	e, err := store.FindEntityByID(ctx, first.EntityID)
	require.NoError(t, err)
	assert.Equal(t, 0, e.DuplicateCount)
	assert.Equal(t, 2, e.Version)
	assert.Equal(t, "Ann Lee", e.Data["name"], "existing value wins without override")
	assert.Equal(t, "555", e.Data["phone"])
	assert.Equal(t, "Oslo", e.Data["city"])

	logs, err := store.ListChangeLogs(ctx, e.ID)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	for _, l := range logs {
		assert.Equal(t, model.ChangeFill, l.Reason)
	}

	n, err := store.CountEntities(ctx, "person")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestResolve_OverridePolicyIsLogged(t *testing.T) {
	ctx := context.Background()
	store := inmemory.NewStore()
	m := newMatcher(store)
	job := personJob()
	job.Match.KeyFields = []string{"email"}
	job.Match.Override = model.OverridePolicy{Fields: []string{"city"}}

	first, err := m.Resolve(ctx, job, "e", "r1", model.Fields{"email": "a@x.io", "city": "Oslo", "name": "A"})
	require.NoError(t, err)
	_, err = m.Resolve(ctx, job, "e", "r2", model.Fields{"email": "a@x.io", "city": "Bergen", "name": "B"})
	require.NoError(t, err)

	e, err := store.FindEntityByID(ctx, first.EntityID)
	require.NoError(t, err)
	assert.Equal(t, "Bergen", e.Data["city"])
	assert.Equal(t, "A", e.Data["name"])

	logs, err := store.ListChangeLogs(ctx, e.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, model.ChangeOverride, logs[0].Reason)
	assert.Equal(t, "Oslo", logs[0].OldValue)
	assert.Equal(t, "Bergen", logs[0].NewValue)
}

func TestResolve_FuzzyDuplicateIncrementsMaster(t *testing.T) {
	ctx := context.Background()
	store := inmemory.NewStore()
	m := newMatcher(store)
	job := personJob()

	first, err := m.Resolve(ctx, job, "e", "r1", model.Fields{"name": "Jonathan Smith", "email": "jon@x.io"})
	require.NoError(t, err)
	second, err := m.Resolve(ctx, job, "e", "r2", model.Fields{"name": "Jonathon Smith", "email": "jon@x.io"})
	require.NoError(t, err)

	assert.Equal(t, metrics.MatchDuplicate, second.Outcome)
	assert.Equal(t, first.EntityID, second.EntityID)
	assert.Greater(t, second.Confidence, 0.85)
	assert.Less(t, second.Confidence, 1.0)

	master, err := store.FindEntityByID(ctx, first.EntityID)
	require.NoError(t, err)
	assert.Equal(t, 1, master.DuplicateCount)
	assert.Equal(t, "Jonathan Smith", master.Data["name"])

	n, err := store.CountEntities(ctx, "person")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	rels, err := store.ListRelationships(ctx, master.ID)
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, model.RelationshipDuplicateOf, rels[0].Kind)
	assert.Equal(t, second.ProvisionalID, rels[0].FromEntityID)
	assert.Equal(t, "r2", rels[0].Attributes["source_record_id"])
}

func TestResolve_BelowThresholdCreatesNewEntity(t *testing.T) {
	ctx := context.Background()
	store := inmemory.NewStore()
	m := newMatcher(store)
	job := personJob()

	first, err := m.Resolve(ctx, job, "e", "r1", model.Fields{"name": "Jonathan Smith", "email": "jon@x.io"})
	require.NoError(t, err)
	second, err := m.Resolve(ctx, job, "e", "r2", model.Fields{"name": "Jonas Brown", "email": "jb@y.org"})
	require.NoError(t, err)

	assert.Equal(t, metrics.MatchNew, second.Outcome)
	assert.NotEqual(t, first.EntityID, second.EntityID)
	assert.Equal(t, 1.0, second.Confidence)
}

func TestResolve_TiesSurfaceAsRelatedTo(t *testing.T) {
	ctx := context.Background()
	store := inmemory.NewStore()
	m := newMatcher(store)
	job := personJob()
	job.Match.KeyFields = []string{"id"}
	job.Match.MatchFields = []string{"name"}

	// Seed two distinct entities with a strict threshold.
	m.threshold = 0.95
	a, err := m.Resolve(ctx, job, "e", "r1", model.Fields{"id": "1", "name": "annabelle"})
	require.NoError(t, err)
	b, err := m.Resolve(ctx, job, "e", "r2", model.Fields{"id": "2", "name": "annabello"})
	require.NoError(t, err)
	require.NotEqual(t, a.EntityID, b.EntityID)

	m.threshold = 0.85
	res, err := m.Resolve(ctx, job, "e", "r3", model.Fields{"id": "3", "name": "annabellx"})
	require.NoError(t, err)
	assert.Equal(t, metrics.MatchAmbiguous, res.Outcome)
	assert.Equal(t, a.EntityID, res.EntityID, "oldest candidate wins a tie")
	require.Len(t, res.Relationships, 2)
	assert.Equal(t, model.RelationshipDuplicateOf, res.Relationships[0].Kind)
	assert.Equal(t, model.RelationshipRelatedTo, res.Relationships[1].Kind)
	assert.Equal(t, b.EntityID, res.Relationships[1].ToEntityID)

	other, err := store.FindEntityByID(ctx, b.EntityID)
	require.NoError(t, err)
	assert.Equal(t, 0, other.DuplicateCount)
}

// racingEntities lets another writer create the entity right after the
// matcher's first hash lookup misses.
type racingEntities struct {
	*inmemory.Store
	rival *model.Entity
}

func (r *racingEntities) FindEntityByHash(ctx context.Context, entityType, hash string) (*model.Entity, error) {
	if r.rival != nil {
		rival := r.rival
		r.rival = nil
		if err := r.Store.SaveEntity(context.Background(), rival); err != nil {
			return nil, err
		}
		return nil, repository.ErrEntityNotFound
	}
	return r.Store.FindEntityByHash(ctx, entityType, hash)
}

func TestResolve_HashConflictOnInsertMergesIntoWinner(t *testing.T) {
	ctx := context.Background()
	store := inmemory.NewStore()
	job := personJob()
	data := model.Fields{"name": "Ann Lee", "email": "ann@x.io", "phone": "555"}
	rival := model.NewEntity(job.EntityType, model.Fields{"name": "Ann Lee", "email": "ann@x.io"}, EntityHash(data, job.Match.KeyFields), "ann")
	m := NewMatcher(&racingEntities{Store: store, rival: rival}, config.MatcherConfig{DuplicateThreshold: 0.85}, nil)

	res, err := m.Resolve(ctx, job, "exec-1", "raw-1", data)
	require.NoError(t, err)
	assert.Equal(t, rival.ID, res.EntityID)
	assert.Equal(t, metrics.MatchExact, res.Outcome)

	n, err := store.CountEntities(ctx, job.EntityType)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	e, err := store.FindEntityByID(ctx, rival.ID)
	require.NoError(t, err)
	assert.Equal(t, "555", e.Data["phone"])
}
