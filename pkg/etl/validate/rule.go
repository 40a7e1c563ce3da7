// Package validate evaluates quality rules against standardized records.
package validate

import (
	"fmt"
	"regexp"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/tigerroll/etlcore/pkg/etl/core/config"
	model "github.com/tigerroll/etlcore/pkg/etl/core/domain/model"
	"github.com/tigerroll/etlcore/pkg/etl/support/util/exception"
)

const moduleName = "validate"

// DefaultDateLayout parses date bounds and values of range rules unless the rule
// sets its own layout.
const DefaultDateLayout = "2006-01-02"

type validityParams struct {
	Pattern string `mapstructure:"pattern"`
}

type rangeParams struct {
	Min    *float64 `mapstructure:"min"`
	Max    *float64 `mapstructure:"max"`
	After  string   `mapstructure:"after"`
	Before string   `mapstructure:"before"`
	Layout string   `mapstructure:"layout"`
}

type consistencyParams struct {
	Table      string `mapstructure:"table"`
	EntityType string `mapstructure:"entityType"`
}

// compiledRule is a QualityRule with its parameters decoded.
type compiledRule struct {
	rule *model.QualityRule

	pattern *regexp.Regexp

	min, max      *float64
	after, before *time.Time
	layout        string

	ref Reference
}

// Reference names what a consistency rule checks values against.
type Reference struct {
	// Table is a lookup table name.
	Table string
	// EntityType restricts matches to entities of this type; values are entity ids.
	EntityType string
}

func (r Reference) String() string {
	if r.Table != "" {
		return "table " + r.Table
	}
	return "entity " + r.EntityType
}

func compileRule(r *model.QualityRule) (*compiledRule, error) {
	c := &compiledRule{rule: r}
	if r.ID == "" {
		return nil, fmt.Errorf("rule %q: id is required", r.Name)
	}
	if len(r.Fields) == 0 {
		return nil, fmt.Errorf("rule %s: at least one field is required", r.ID)
	}
	switch r.Severity {
	case model.SeverityError, model.SeverityWarning:
	default:
		return nil, fmt.Errorf("rule %s: unknown severity %q", r.ID, r.Severity)
	}

	switch r.Kind {
	case model.RuleCompleteness, model.RuleUniqueness:
	case model.RuleValidity:
		var p validityParams
		if err := config.DecodeOptions(r.Parameters, &p); err != nil {
			return nil, fmt.Errorf("rule %s: %w", r.ID, err)
		}
		if p.Pattern == "" {
			return nil, fmt.Errorf("rule %s: validity rule requires a pattern", r.ID)
		}
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %s: bad pattern: %w", r.ID, err)
		}
		c.pattern = re
	case model.RuleRange:
		var p rangeParams
		if err := config.DecodeOptions(r.Parameters, &p); err != nil {
			return nil, fmt.Errorf("rule %s: %w", r.ID, err)
		}
		c.min, c.max = p.Min, p.Max
		c.layout = p.Layout
		if c.layout == "" {
			c.layout = DefaultDateLayout
		}
		for _, b := range []struct {
			raw string
			dst **time.Time
		}{{p.After, &c.after}, {p.Before, &c.before}} {
			if b.raw == "" {
				continue
			}
			t, err := time.Parse(c.layout, b.raw)
			if err != nil {
				return nil, fmt.Errorf("rule %s: bad date bound %q: %w", r.ID, b.raw, err)
			}
			*b.dst = &t
		}
		numeric := c.min != nil || c.max != nil
		dated := c.after != nil || c.before != nil
		switch {
		case numeric && dated:
			return nil, fmt.Errorf("rule %s: range mixes numeric and date bounds", r.ID)
		case !numeric && !dated:
			return nil, fmt.Errorf("rule %s: range rule requires min/max or after/before", r.ID)
		case c.min != nil && c.max != nil && *c.min > *c.max:
			return nil, fmt.Errorf("rule %s: min %v is greater than max %v", r.ID, *c.min, *c.max)
		case c.after != nil && c.before != nil && c.after.After(*c.before):
			return nil, fmt.Errorf("rule %s: after is later than before", r.ID)
		}
	case model.RuleConsistency:
		var p consistencyParams
		if err := config.DecodeOptions(r.Parameters, &p); err != nil {
			return nil, fmt.Errorf("rule %s: %w", r.ID, err)
		}
		if (p.Table == "") == (p.EntityType == "") {
			return nil, fmt.Errorf("rule %s: consistency rule requires exactly one of table or entityType", r.ID)
		}
		c.ref = Reference{Table: p.Table, EntityType: p.EntityType}
	default:
		return nil, fmt.Errorf("rule %s: unknown kind %q", r.ID, r.Kind)
	}
	return c, nil
}

// RuleSet is a compiled, read-only set of active rules.
type RuleSet struct {
	rules []*compiledRule
}

// Compile decodes and checks every active rule. All problems are reported
// together as a ConfigError.
func Compile(rules []*model.QualityRule) (*RuleSet, error) {
	rs := &RuleSet{}
	var result *multierror.Error
	for _, r := range rules {
		if r == nil || !r.Active {
			continue
		}
		c, err := compileRule(r)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		rs.rules = append(rs.rules, c)
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, exception.New(exception.ConfigError, moduleName, "invalid quality rules", err)
	}
	return rs, nil
}

// Len returns the number of active rules.
func (rs *RuleSet) Len() int { return len(rs.rules) }

// References returns the lookup tables referenced by consistency rules.
func (rs *RuleSet) References() []Reference {
	var out []Reference
	for _, c := range rs.rules {
		if c.rule.Kind == model.RuleConsistency {
			out = append(out, c.ref)
		}
	}
	return out
}
