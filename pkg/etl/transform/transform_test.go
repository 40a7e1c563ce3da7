package transform

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	model "github.com/tigerroll/etlcore/pkg/etl/core/domain/model"
	"github.com/tigerroll/etlcore/pkg/etl/core/port"
	"github.com/tigerroll/etlcore/pkg/etl/support/util/exception"
)

type mockLookups struct{ mock.Mock }

func (m *mockLookups) Resolve(ctx context.Context, table, key string) (interface{}, error) {
	args := m.Called(table, key)
	return args.Get(0), args.Error(1)
}

func (m *mockLookups) HasTable(table string) bool { return table == "countries" }

func customerJob() *model.Job {
	j := model.NewJob("customers", model.JobTypeFullETL, "customer")
	j.Cleansing = model.CleansingPolicy{
		Trim:       true,
		NullTokens: []string{"N/A", "null"},
		Case:       map[string]model.CaseMode{"email": model.CaseLower, "name": model.CaseTitle},
	}
	j.Mappings = []model.FieldMapping{
		{Target: "email", Kind: model.MappingDirect, Source: "email"},
		{Target: "name", Kind: model.MappingDirect, Source: "name"},
		{Target: "display", Kind: model.MappingCalculated, Expression: `"${upper(name)} <${email}>"`},
		{Target: "total", Kind: model.MappingCalculated, Expression: `qty * price`},
		{Target: "country", Kind: model.MappingLookup, Source: "cc", LookupTable: "countries"},
		{RuleID: "src", Target: "source", Kind: model.MappingConstant, Value: "crm"},
	}
	return j
}

func TestApply_CleansesAndMaps(t *testing.T) {
	lk := &mockLookups{}
	lk.On("Resolve", "countries", "DE").Return("Germany", nil)
	p, err := Compile(customerJob(), lk)
	require.NoError(t, err)

	res, err := p.Apply(context.Background(), model.Fields{
		"email": "  Alice@X.IO ", "name": "alice SMITH", "qty": "3", "price": 2.5, "cc": "DE", "extra": "dropped",
	})
	require.NoError(t, err)
	assert.Equal(t, "alice@x.io", res.Data["email"])
	assert.Equal(t, "Alice Smith", res.Data["name"])
	assert.Equal(t, "ALICE SMITH <alice@x.io>", res.Data["display"])
	assert.Equal(t, 7.5, res.Data["total"])
	assert.Equal(t, "Germany", res.Data["country"])
	assert.Equal(t, "crm", res.Data["source"])
	assert.NotContains(t, res.Data, "extra")
	assert.Empty(t, res.Notes)
	assert.Equal(t, []string{"email", "name", "display", "total", "country", "src"}, res.RuleIDs)
}

func TestApply_NullTokensAndLookupMiss(t *testing.T) {
	lk := &mockLookups{}
	lk.On("Resolve", "countries", "XX").Return(nil, port.ErrLookupNotFound)
	j := customerJob()
	j.Mappings = append(j.Mappings[:2], j.Mappings[4:]...)
	p, err := Compile(j, lk)
	require.NoError(t, err)

	res, err := p.Apply(context.Background(), model.Fields{"email": "N/A", "name": " null ", "qty": 1, "price": 1, "cc": "XX"})
	require.NoError(t, err)
	assert.Nil(t, res.Data["email"])
	assert.Nil(t, res.Data["name"])
	assert.Nil(t, res.Data["country"])
	require.Len(t, res.Notes, 1)
	assert.Equal(t, "country", res.Notes[0].Field)
}

func TestApply_ExpressionFailureIsRecoverable(t *testing.T) {
	j := model.NewJob("calc", model.JobTypeTransform, "order")
	j.Mappings = []model.FieldMapping{{Target: "total", Kind: model.MappingCalculated, Expression: "qty * price"}}
	p, err := Compile(j, nil)
	require.NoError(t, err)

	_, err = p.Apply(context.Background(), model.Fields{"qty": "three", "price": 2})
	require.Error(t, err)
	assert.True(t, errors.Is(err, exception.TransformError))
	assert.False(t, exception.IsFatal(err))
}

func TestApply_NonFiniteNumberIsRecoverable(t *testing.T) {
	j := model.NewJob("calc", model.JobTypeTransform, "score")
	j.Mappings = []model.FieldMapping{{Target: "double", Kind: model.MappingCalculated, Expression: "score * 2"}}
	p, err := Compile(j, nil)
	require.NoError(t, err)

	for _, v := range []interface{}{math.NaN(), math.Inf(1), []interface{}{math.Inf(-1)}} {
		_, err = p.Apply(context.Background(), model.Fields{"score": v})
		require.Error(t, err)
		assert.True(t, errors.Is(err, exception.TransformError))
		assert.Contains(t, err.Error(), "non-finite")
	}

	res, err := p.Apply(context.Background(), model.Fields{"score": 1.5})
	require.NoError(t, err)
	assert.Equal(t, 3.0, res.Data["double"])
}

func TestApply_PassThroughWithoutMappings(t *testing.T) {
	j := model.NewJob("raw", model.JobTypeExtract, "thing")
	p, err := Compile(j, nil)
	require.NoError(t, err)

	res, err := p.Apply(context.Background(), model.Fields{"a": " x ", "b": 2.0})
	require.NoError(t, err)
	assert.Equal(t, model.Fields{"a": "x", "b": 2.0}, res.Data)
	assert.Equal(t, []string{PassThroughRuleID}, res.RuleIDs)
}

func TestCompile_RejectsBadDefinitions(t *testing.T) {
	j := model.NewJob("bad", model.JobTypeTransform, "thing")
	j.Cleansing.Case = map[string]model.CaseMode{"x": "sarcastic"}
	j.Mappings = []model.FieldMapping{
		{Target: "a", Kind: model.MappingDirect},
		{Target: "a", Kind: model.MappingConstant, Value: 1},
		{Target: "b", Kind: model.MappingCalculated, Expression: `file("/etc/passwd")`},
		{Target: "c", Kind: model.MappingCalculated, Expression: `1 +`},
		{Target: "d", Kind: model.MappingLookup, Source: "x", LookupTable: "planets"},
		{Target: "e", Kind: "magic"},
	}
	_, err := Compile(j, &mockLookups{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, exception.ConfigError))
	for _, want := range []string{"sarcastic", "requires a source", "duplicate target", "file", "mapping c", "planets", "magic"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestExpression_RecordVariableAndMissingFields(t *testing.T) {
	e, err := compileExpression(`upper(record["first name"])`)
	require.NoError(t, err)
	v, err := e.eval(model.Fields{"first name": "Bob"})
	require.NoError(t, err)
	assert.Equal(t, "BOB", v)

	missing, err := compileExpression(`nickname`)
	require.NoError(t, err)
	v, err = missing.eval(model.Fields{"first name": "Bob"})
	require.NoError(t, err)
	assert.Nil(t, v)
}
