package validate

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "github.com/tigerroll/etlcore/pkg/etl/core/domain/model"
	"github.com/tigerroll/etlcore/pkg/etl/core/port"
	"github.com/tigerroll/etlcore/pkg/etl/infrastructure/repository/inmemory"
	"github.com/tigerroll/etlcore/pkg/etl/support/util/exception"
)

func rule(id string, kind model.RuleKind, sev model.Severity, params map[string]interface{}, fields ...string) *model.QualityRule {
	return &model.QualityRule{ID: id, Name: id, Kind: kind, Fields: fields, Parameters: params, Severity: sev, Active: true}
}

type staticLookups map[string]map[string]string

func (s staticLookups) Resolve(_ context.Context, table, key string) (interface{}, error) {
	t, ok := s[table]
	if !ok {
		return nil, port.ErrLookupTableNotFound
	}
	v, ok := t[key]
	if !ok {
		return nil, port.ErrLookupNotFound
	}
	return v, nil
}

func (s staticLookups) HasTable(table string) bool { _, ok := s[table]; return ok }

func TestCompile_ReportsEveryBadRule(t *testing.T) {
	_, err := Compile([]*model.QualityRule{
		rule("re", model.RuleValidity, model.SeverityError, map[string]interface{}{"pattern": "("}, "email"),
		rule("rng", model.RuleRange, model.SeverityError, map[string]interface{}{"min": 10, "max": 1}, "age"),
		rule("mixed", model.RuleRange, model.SeverityError, map[string]interface{}{"min": 1, "after": "2020-01-01"}, "age"),
		rule("ref", model.RuleConsistency, model.SeverityError, nil, "country"),
		rule("sev", model.RuleCompleteness, "fatal", nil, "x"),
		rule("odd", "freshness", model.SeverityError, nil, "x"),
		rule("typo", model.RuleValidity, model.SeverityError, map[string]interface{}{"patern": "x"}, "x"),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, exception.ConfigError))
	for _, id := range []string{"rule re", "rule rng", "rule mixed", "rule ref", "rule sev", "rule odd", "rule typo"} {
		assert.Contains(t, err.Error(), id)
	}
}

func TestCompile_SkipsInactiveRules(t *testing.T) {
	r := rule("off", "bogus", model.SeverityError, nil, "x")
	r.Active = false
	rs, err := Compile([]*model.QualityRule{r})
	require.NoError(t, err)
	assert.Equal(t, 0, rs.Len())
}

func TestEvaluate_SeverityGating(t *testing.T) {
	rs, err := Compile([]*model.QualityRule{
		rule("email-required", model.RuleCompleteness, model.SeverityError, nil, "email"),
		rule("email-format", model.RuleValidity, model.SeverityError, map[string]interface{}{"pattern": `^[^@]+@[^@]+$`}, "email"),
		rule("age-range", model.RuleRange, model.SeverityWarning, map[string]interface{}{"min": 0, "max": 120}, "age"),
	})
	require.NoError(t, err)
	s := rs.NewSession(nil)
	ctx := context.Background()

	out, err := s.Evaluate(ctx, "r1", model.Fields{"email": "a@b.io", "age": 30.0})
	require.NoError(t, err)
	assert.Equal(t, model.ValidationValid, out.Status)
	assert.Empty(t, out.Violations)

	out, err = s.Evaluate(ctx, "r2", model.Fields{"email": "a@b.io", "age": "130"})
	require.NoError(t, err)
	assert.Equal(t, model.ValidationWarning, out.Status)
	assert.False(t, out.Rejected())
	require.Len(t, out.Violations, 1)
	assert.Equal(t, "age-range", out.Violations[0].RuleID)

	out, err = s.Evaluate(ctx, "r3", model.Fields{"email": "not-an-email", "age": 500})
	require.NoError(t, err)
	assert.True(t, out.Rejected())
	assert.Len(t, out.Violations, 2)
	require.Len(t, out.Reasons(), 1)
	assert.Contains(t, out.Reasons()[0], "does not match")

	out, err = s.Evaluate(ctx, "r4", model.Fields{"email": "  "})
	require.NoError(t, err)
	assert.True(t, out.Rejected())
	assert.Contains(t, out.Reasons()[0], "required")
}

func TestEvaluate_DateRangeIsInclusive(t *testing.T) {
	rs, err := Compile([]*model.QualityRule{
		rule("dob", model.RuleRange, model.SeverityError, map[string]interface{}{"after": "1900-01-01", "before": "2020-12-31"}, "dob"),
	})
	require.NoError(t, err)
	s := rs.NewSession(nil)
	for value, ok := range map[string]bool{
		"1900-01-01":           true,
		"2020-12-31":           true,
		"1899-12-31":           false,
		"2021-01-01T00:00:00Z": false,
		"yesterday":            false,
	} {
		out, err := s.Evaluate(context.Background(), value, model.Fields{"dob": value})
		require.NoError(t, err)
		assert.Equal(t, ok, !out.Rejected(), value)
	}
}

func TestEvaluate_UniquenessWithinSession(t *testing.T) {
	rs, err := Compile([]*model.QualityRule{
		rule("unique-email", model.RuleUniqueness, model.SeverityError, nil, "email"),
		rule("name-required", model.RuleCompleteness, model.SeverityError, nil, "name"),
	})
	require.NoError(t, err)
	ctx := context.Background()
	s := rs.NewSession(nil)

	// A rejected record does not claim its key.
	out, err := s.Evaluate(ctx, "r1", model.Fields{"email": "a@x.io"})
	require.NoError(t, err)
	assert.True(t, out.Rejected())

	out, err = s.Evaluate(ctx, "r2", model.Fields{"email": "a@x.io", "name": "A"})
	require.NoError(t, err)
	assert.False(t, out.Rejected())

	out, err = s.Evaluate(ctx, "r3", model.Fields{"email": " A@X.IO ", "name": "B"})
	require.NoError(t, err)
	assert.True(t, out.Rejected())
	assert.Contains(t, out.Reasons()[0], "r2")

	// A new session is a new load window.
	out, err = rs.NewSession(nil).Evaluate(ctx, "r4", model.Fields{"email": "a@x.io", "name": "C"})
	require.NoError(t, err)
	assert.False(t, out.Rejected())
}

func TestEvaluate_ConsistencyAgainstTablesAndEntities(t *testing.T) {
	ctx := context.Background()
	store := inmemory.NewStore()
	customer := model.NewEntity("customer", model.Fields{"name": "A"}, "h1", "a")
	require.NoError(t, store.SaveEntity(ctx, customer))

	rs, err := Compile([]*model.QualityRule{
		rule("country", model.RuleConsistency, model.SeverityError, map[string]interface{}{"table": "countries"}, "country"),
		rule("owner", model.RuleConsistency, model.SeverityWarning, map[string]interface{}{"entityType": "customer"}, "owner_id"),
	})
	require.NoError(t, err)
	assert.Equal(t, []Reference{{Table: "countries"}, {EntityType: "customer"}}, rs.References())

	checker := NewReferenceChecker(staticLookups{"countries": {"DE": "Germany"}}, store)
	s := rs.NewSession(checker)

	out, err := s.Evaluate(ctx, "r1", model.Fields{"country": "DE", "owner_id": customer.ID})
	require.NoError(t, err)
	assert.Equal(t, model.ValidationValid, out.Status)

	out, err = s.Evaluate(ctx, "r2", model.Fields{"country": "FR", "owner_id": "missing"})
	require.NoError(t, err)
	assert.True(t, out.Rejected())
	assert.Len(t, out.Violations, 2)
}

func TestEvaluate_ConsistencyWithoutCheckerFails(t *testing.T) {
	rs, err := Compile([]*model.QualityRule{
		rule("country", model.RuleConsistency, model.SeverityError, map[string]interface{}{"table": "countries"}, "country"),
	})
	require.NoError(t, err)
	_, err = rs.NewSession(nil).Evaluate(context.Background(), "r1", model.Fields{"country": "DE"})
	assert.Error(t, err)
}

func TestCheck_Report(t *testing.T) {
	rs, err := Compile([]*model.QualityRule{
		rule("email-required", model.RuleCompleteness, model.SeverityError, nil, "email"),
		rule("age-range", model.RuleRange, model.SeverityWarning, map[string]interface{}{"min": 0, "max": 120}, "age"),
	})
	require.NoError(t, err)

	var records []*model.StandardizedRecord
	for i := 0; i < 10; i++ {
		records = append(records, &model.StandardizedRecord{Data: model.Fields{"email": "x@y.z", "age": 20}})
	}
	records[0].Data["email"] = nil
	records[1].Data["age"] = 200

	rep, err := rs.Check(context.Background(), nil, records)
	require.NoError(t, err)
	assert.Equal(t, 10, rep.Records)
	require.Len(t, rep.Rules, 2)
	assert.Equal(t, 9, rep.Rules[0].Passed)
	assert.Equal(t, 1, rep.Rules[0].Failed)
	assert.InDelta(t, 0.9, rep.Rules[1].PassRate, 1e-9)
	assert.Len(t, rep.Rules[1].Samples, 1)
	assert.InDelta(t, 90.0, rep.OverallScore, 1e-9)
	assert.Equal(t, ReportPass, rep.Status)

	records[2].Data["email"] = ""
	rep, err = rs.Check(context.Background(), nil, records)
	require.NoError(t, err)
	assert.Equal(t, ReportFail, rep.Status)

	empty, err := rs.Check(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 100.0, empty.OverallScore)
}
