package transform

import (
	"fmt"
	"math"
	"regexp"
	"sort"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"

	model "github.com/tigerroll/etlcore/pkg/etl/core/domain/model"
)

// recordVariable exposes the whole record, for field names that are not valid identifiers.
const recordVariable = "record"

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*$`)

// functions is the closed set callable from calculated mappings.
var functions = map[string]function.Function{
	"upper":     stdlib.UpperFunc,
	"lower":     stdlib.LowerFunc,
	"title":     stdlib.TitleFunc,
	"trimspace": stdlib.TrimSpaceFunc,
	"format":    stdlib.FormatFunc,
	"substr":    stdlib.SubstrFunc,
	"replace":   stdlib.ReplaceFunc,
	"split":     stdlib.SplitFunc,
	"join":      stdlib.JoinFunc,
	"strlen":    stdlib.StrlenFunc,
	"length":    stdlib.LengthFunc,
	"concat":    stdlib.ConcatFunc,
	"coalesce":  stdlib.CoalesceFunc,
	"abs":       stdlib.AbsoluteFunc,
	"ceil":      stdlib.CeilFunc,
	"floor":     stdlib.FloorFunc,
	"max":       stdlib.MaxFunc,
	"min":       stdlib.MinFunc,
	"parseint":  stdlib.ParseIntFunc,
}

// FunctionNames lists the functions available to calculated mappings.
func FunctionNames() []string {
	names := make([]string, 0, len(functions))
	for n := range functions {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// expression is a parsed calculated mapping. Evaluation walks the AST; no code
// is generated or executed.
type expression struct {
	source string
	expr   hclsyntax.Expression
	roots  []string // root variable names referenced by the expression
}

// compileExpression parses src and rejects calls outside the function set.
func compileExpression(src string) (*expression, error) {
	expr, diags := hclsyntax.ParseExpression([]byte(src), "mapping", hcl.Pos{Line: 1, Column: 1})
	if diags.HasErrors() {
		return nil, fmt.Errorf("invalid expression %q: %s", src, diags.Error())
	}

	var unknown []string
	hclsyntax.VisitAll(expr, func(n hclsyntax.Node) hcl.Diagnostics {
		if call, ok := n.(*hclsyntax.FunctionCallExpr); ok {
			if _, allowed := functions[call.Name]; !allowed {
				unknown = append(unknown, call.Name)
			}
		}
		return nil
	})
	if len(unknown) > 0 {
		return nil, fmt.Errorf("expression %q calls unknown function(s) %v", src, unknown)
	}

	seen := make(map[string]bool)
	var roots []string
	for _, tr := range expr.Variables() {
		name := tr.RootName()
		if !seen[name] {
			seen[name] = true
			roots = append(roots, name)
		}
	}
	return &expression{source: src, expr: expr, roots: roots}, nil
}

// eval evaluates the expression against a record. Fields referenced but absent
// from the record evaluate to null.
func (e *expression) eval(record model.Fields) (interface{}, error) {
	vars := make(map[string]cty.Value, len(record)+1)
	obj := make(map[string]cty.Value, len(record))
	for k, v := range record {
		cv, err := toCty(v)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", k, err)
		}
		obj[k] = cv
		if identifierPattern.MatchString(k) {
			vars[k] = cv
		}
	}
	vars[recordVariable] = cty.ObjectVal(obj)
	for _, r := range e.roots {
		if _, ok := vars[r]; !ok {
			vars[r] = cty.NullVal(cty.DynamicPseudoType)
		}
	}

	val, diags := e.expr.Value(&hcl.EvalContext{Variables: vars, Functions: functions})
	if diags.HasErrors() {
		return nil, fmt.Errorf("expression %q: %s", e.source, diags.Error())
	}
	return fromCty(val)
}

// toCty converts a record value. cty numbers are arbitrary precision and have
// no NaN or infinity, so non-finite floats are an error.
func toCty(v interface{}) (cty.Value, error) {
	switch t := v.(type) {
	case nil:
		return cty.NullVal(cty.DynamicPseudoType), nil
	case string:
		return cty.StringVal(t), nil
	case bool:
		return cty.BoolVal(t), nil
	case float64:
		return floatToCty(t)
	case float32:
		return floatToCty(float64(t))
	case int:
		return cty.NumberIntVal(int64(t)), nil
	case int64:
		return cty.NumberIntVal(t), nil
	case int32:
		return cty.NumberIntVal(int64(t)), nil
	case []interface{}:
		if len(t) == 0 {
			return cty.EmptyTupleVal, nil
		}
		vals := make([]cty.Value, len(t))
		for i, x := range t {
			cv, err := toCty(x)
			if err != nil {
				return cty.NilVal, err
			}
			vals[i] = cv
		}
		return cty.TupleVal(vals), nil
	case map[string]interface{}:
		vals := make(map[string]cty.Value, len(t))
		for k, x := range t {
			cv, err := toCty(x)
			if err != nil {
				return cty.NilVal, err
			}
			vals[k] = cv
		}
		return cty.ObjectVal(vals), nil
	default:
		return cty.StringVal(model.StringValue(t)), nil
	}
}

func floatToCty(f float64) (cty.Value, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return cty.NilVal, fmt.Errorf("non-finite number %v", f)
	}
	return cty.NumberFloatVal(f), nil
}

func fromCty(v cty.Value) (interface{}, error) {
	if v.IsNull() {
		return nil, nil
	}
	if !v.IsWhollyKnown() {
		return nil, fmt.Errorf("expression produced an unknown value")
	}
	ty := v.Type()
	switch {
	case ty == cty.String:
		return v.AsString(), nil
	case ty == cty.Bool:
		return v.True(), nil
	case ty == cty.Number:
		f, _ := v.AsBigFloat().Float64()
		if math.IsInf(f, 0) {
			return nil, fmt.Errorf("expression produced a non-finite number")
		}
		return f, nil
	case ty.IsListType() || ty.IsTupleType() || ty.IsSetType():
		out := make([]interface{}, 0, v.LengthInt())
		for it := v.ElementIterator(); it.Next(); {
			_, ev := it.Element()
			x, err := fromCty(ev)
			if err != nil {
				return nil, err
			}
			out = append(out, x)
		}
		return out, nil
	case ty.IsMapType() || ty.IsObjectType():
		out := make(map[string]interface{})
		for it := v.ElementIterator(); it.Next(); {
			k, ev := it.Element()
			x, err := fromCty(ev)
			if err != nil {
				return nil, err
			}
			out[k.AsString()] = x
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported expression result type %s", ty.FriendlyName())
}
