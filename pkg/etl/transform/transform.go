// Package transform turns raw rows into standardized records: cleansing first,
// then the job's field mappings.
package transform

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	model "github.com/tigerroll/etlcore/pkg/etl/core/domain/model"
	"github.com/tigerroll/etlcore/pkg/etl/core/port"
	"github.com/tigerroll/etlcore/pkg/etl/support/util/exception"
)

const moduleName = "transform"

// PassThroughRuleID is the lineage rule id of records copied without mappings.
const PassThroughRuleID = "passthrough"

// Note is a low-severity observation made while transforming, e.g. a lookup miss.
type Note struct {
	RuleID  string
	Field   string
	Message string
}

// Result is the output of Apply.
type Result struct {
	Data  model.Fields
	Notes []Note
	// RuleIDs are the mapping rules that produced Data, for lineage.
	RuleIDs []string
}

type step struct {
	mapping model.FieldMapping
	expr    *expression
}

// Pipeline is a compiled, reusable and concurrency-safe transformer for one job.
type Pipeline struct {
	cleansing   model.CleansingPolicy
	nullTokens  map[string]bool
	steps       []step
	passThrough bool
	lookups     port.LookupProvider
}

// Compile validates the job's cleansing policy and mappings up front. Every
// problem is reported at once as a ConfigError.
func Compile(job *model.Job, lookups port.LookupProvider) (*Pipeline, error) {
	p := &Pipeline{
		cleansing:   job.Cleansing,
		nullTokens:  make(map[string]bool),
		passThrough: job.Cleansing.PassThrough || len(job.Mappings) == 0,
		lookups:     lookups,
	}
	for _, t := range job.Cleansing.NullTokens {
		p.nullTokens[strings.ToLower(strings.TrimSpace(t))] = true
	}

	var result *multierror.Error
	for field, mode := range job.Cleansing.Case {
		switch mode {
		case model.CaseNone, model.CaseUpper, model.CaseLower, model.CaseTitle:
		default:
			result = multierror.Append(result, fmt.Errorf("cleansing.case[%s]: unknown mode %q", field, mode))
		}
	}

	targets := make(map[string]bool)
	for i, m := range job.Mappings {
		if m.Target == "" {
			result = multierror.Append(result, fmt.Errorf("mappings[%d]: target is required", i))
			continue
		}
		if targets[m.Target] {
			result = multierror.Append(result, fmt.Errorf("mappings[%d]: duplicate target %q", i, m.Target))
		}
		targets[m.Target] = true

		s := step{mapping: m}
		switch m.Kind {
		case model.MappingDirect:
			if m.Source == "" {
				result = multierror.Append(result, fmt.Errorf("mapping %s: direct mapping requires a source", m.Target))
			}
		case model.MappingCalculated:
			expr, err := compileExpression(m.Expression)
			if err != nil {
				result = multierror.Append(result, fmt.Errorf("mapping %s: %w", m.Target, err))
			}
			s.expr = expr
		case model.MappingLookup:
			switch {
			case m.Source == "" || m.LookupTable == "":
				result = multierror.Append(result, fmt.Errorf("mapping %s: lookup mapping requires source and lookupTable", m.Target))
			case lookups == nil || !lookups.HasTable(m.LookupTable):
				result = multierror.Append(result, fmt.Errorf("mapping %s: unknown lookup table %q", m.Target, m.LookupTable))
			}
		case model.MappingConstant:
		default:
			result = multierror.Append(result, fmt.Errorf("mapping %s: unknown kind %q", m.Target, m.Kind))
		}
		p.steps = append(p.steps, s)
	}

	if err := result.ErrorOrNil(); err != nil {
		return nil, exception.New(exception.ConfigError, moduleName, fmt.Sprintf("invalid mappings for job %s", job.Name), err)
	}
	return p, nil
}

// Cleanse applies the cleansing policy and returns a new record.
func (p *Pipeline) Cleanse(raw model.Fields) model.Fields {
	out := make(model.Fields, len(raw))
	for k, v := range raw {
		s, ok := v.(string)
		if !ok {
			out[k] = v
			continue
		}
		if p.cleansing.Trim {
			s = strings.TrimSpace(s)
		}
		if p.nullTokens[strings.ToLower(strings.TrimSpace(s))] {
			out[k] = nil
			continue
		}
		switch p.cleansing.Case[k] {
		case model.CaseUpper:
			s = strings.ToUpper(s)
		case model.CaseLower:
			s = strings.ToLower(s)
		case model.CaseTitle:
			s = cases.Title(language.Und).String(strings.ToLower(s))
		}
		out[k] = s
	}
	return out
}

// Apply cleanses raw and evaluates every mapping. Lookup misses leave the target
// nil and add a Note. Any other failure is a recoverable TransformError.
func (p *Pipeline) Apply(ctx context.Context, raw model.Fields) (*Result, error) {
	cleansed := p.Cleanse(raw)
	res := &Result{Data: make(model.Fields, len(cleansed)+len(p.steps))}
	if p.passThrough {
		for k, v := range cleansed {
			res.Data[k] = v
		}
		if len(p.steps) == 0 {
			res.RuleIDs = []string{PassThroughRuleID}
		}
	}

	for _, s := range p.steps {
		m := s.mapping
		var value interface{}
		switch m.Kind {
		case model.MappingDirect:
			value = cleansed[m.Source]
		case model.MappingConstant:
			value = m.Value
		case model.MappingCalculated:
			v, err := s.expr.eval(cleansed)
			if err != nil {
				return nil, exception.New(exception.TransformError, moduleName, fmt.Sprintf("mapping %s failed", m.Target), err)
			}
			value = v
		case model.MappingLookup:
			key := cleansed[m.Source]
			if model.IsEmptyValue(key) {
				break
			}
			v, err := p.lookups.Resolve(ctx, m.LookupTable, model.StringValue(key))
			switch {
			case err == nil:
				value = v
			case errors.Is(err, port.ErrLookupNotFound):
				res.Notes = append(res.Notes, Note{
					RuleID:  m.ID(),
					Field:   m.Target,
					Message: fmt.Sprintf("lookup %s has no entry for %q", m.LookupTable, model.StringValue(key)),
				})
			default:
				return nil, exception.New(exception.TransformError, moduleName, fmt.Sprintf("lookup %s failed", m.LookupTable), err)
			}
		}
		res.Data[m.Target] = value
		res.RuleIDs = append(res.RuleIDs, m.ID())
	}
	return res, nil
}
