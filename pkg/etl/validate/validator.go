package validate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	model "github.com/tigerroll/etlcore/pkg/etl/core/domain/model"
	"github.com/tigerroll/etlcore/pkg/etl/core/domain/repository"
	"github.com/tigerroll/etlcore/pkg/etl/core/port"
	"github.com/tigerroll/etlcore/pkg/etl/support/util/exception"
)

// ReferenceChecker answers consistency rules.
type ReferenceChecker interface {
	Exists(ctx context.Context, ref Reference, value string) (bool, error)
}

// StoreReferenceChecker checks lookup tables through a LookupProvider and entity
// references through the entity repository.
type StoreReferenceChecker struct {
	lookups  port.LookupProvider
	entities repository.EntityRepository
}

// NewReferenceChecker creates a StoreReferenceChecker. Either argument may be nil,
// in which case rules referring to it fail with a lookup error.
func NewReferenceChecker(lookups port.LookupProvider, entities repository.EntityRepository) *StoreReferenceChecker {
	return &StoreReferenceChecker{lookups: lookups, entities: entities}
}

// Exists implements ReferenceChecker.
func (c *StoreReferenceChecker) Exists(ctx context.Context, ref Reference, value string) (bool, error) {
	if ref.Table != "" {
		if c.lookups == nil {
			return false, port.ErrLookupTableNotFound
		}
		_, err := c.lookups.Resolve(ctx, ref.Table, value)
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, port.ErrLookupNotFound):
			return false, nil
		default:
			return false, err
		}
	}
	if c.entities == nil {
		return false, repository.ErrEntityNotFound
	}
	e, err := c.entities.FindEntityByID(ctx, value)
	switch {
	case err == nil:
		return e.Type == ref.EntityType, nil
	case errors.Is(err, repository.ErrEntityNotFound):
		return false, nil
	default:
		return false, err
	}
}

// Violation is one failed rule on one record.
type Violation struct {
	RuleID   string
	Field    string
	Severity model.Severity
	Message  string
}

// Outcome is the verdict for one record.
type Outcome struct {
	Status     model.ValidationStatus
	Violations []Violation
}

// Rejected reports whether any violation has error severity.
func (o Outcome) Rejected() bool { return o.Status == model.ValidationInvalid }

// Reasons returns the error-severity messages, for RejectedRecord.Reasons.
func (o Outcome) Reasons() []string {
	var out []string
	for _, v := range o.Violations {
		if v.Severity == model.SeverityError {
			out = append(out, v.Message)
		}
	}
	return out
}

// Session evaluates a RuleSet over the records of one execution. It owns the
// uniqueness snapshot: a key is taken by the first accepted record that carries it.
type Session struct {
	rules   *RuleSet
	checker ReferenceChecker

	mu   sync.Mutex
	seen map[string]map[string]string // rule id -> key -> record ref
}

// NewSession starts a validation session. checker may be nil when no consistency
// rule is active.
func (rs *RuleSet) NewSession(checker ReferenceChecker) *Session {
	return &Session{rules: rs, checker: checker, seen: make(map[string]map[string]string)}
}

// Evaluate runs every rule against data. A returned error means a rule could not
// be evaluated (e.g. the reference store failed), not that the record is invalid.
func (s *Session) Evaluate(ctx context.Context, recordRef string, data model.Fields) (Outcome, error) {
	var out Outcome
	pendingKeys := make(map[string]string)

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.rules.rules {
		vs, key, err := s.evaluateRule(ctx, c, data)
		if err != nil {
			return Outcome{}, exception.New(exception.ValidationViolation, moduleName, fmt.Sprintf("rule %s could not be evaluated", c.rule.ID), err)
		}
		out.Violations = append(out.Violations, vs...)
		if key != "" && len(vs) == 0 {
			pendingKeys[c.rule.ID] = key
		}
	}

	out.Status = model.ValidationValid
	for _, v := range out.Violations {
		if v.Severity == model.SeverityError {
			out.Status = model.ValidationInvalid
			break
		}
		out.Status = model.ValidationWarning
	}
	if out.Status != model.ValidationInvalid {
		for ruleID, key := range pendingKeys {
			if s.seen[ruleID] == nil {
				s.seen[ruleID] = make(map[string]string)
			}
			s.seen[ruleID][key] = recordRef
		}
	}
	return out, nil
}

func (s *Session) evaluateRule(ctx context.Context, c *compiledRule, data model.Fields) ([]Violation, string, error) {
	r := c.rule
	violation := func(field, format string, a ...interface{}) Violation {
		return Violation{RuleID: r.ID, Field: field, Severity: r.Severity, Message: fmt.Sprintf("%s: ", r.Name) + fmt.Sprintf(format, a...)}
	}

	var out []Violation
	switch r.Kind {
	case model.RuleCompleteness:
		for _, f := range r.Fields {
			if model.IsEmptyValue(data[f]) {
				out = append(out, violation(f, "field %s is required", f))
			}
		}

	case model.RuleUniqueness:
		parts := make([]string, len(r.Fields))
		for i, f := range r.Fields {
			if model.IsEmptyValue(data[f]) {
				// Empty keys are completeness' concern.
				return nil, "", nil
			}
			parts[i] = strings.ToLower(strings.TrimSpace(model.StringValue(data[f])))
		}
		key := strings.Join(parts, "\x1f")
		if prev, dup := s.seen[r.ID][key]; dup {
			out = append(out, violation(strings.Join(r.Fields, ","), "duplicate key %q already used by record %s", strings.Join(parts, ","), prev))
		}
		return out, key, nil

	case model.RuleValidity:
		for _, f := range r.Fields {
			v := data[f]
			if model.IsEmptyValue(v) {
				continue
			}
			if !c.pattern.MatchString(model.StringValue(v)) {
				out = append(out, violation(f, "field %s value %q does not match %s", f, model.StringValue(v), c.pattern.String()))
			}
		}

	case model.RuleRange:
		for _, f := range r.Fields {
			v := data[f]
			if model.IsEmptyValue(v) {
				continue
			}
			if msg := c.checkRange(v); msg != "" {
				out = append(out, violation(f, "field %s %s", f, msg))
			}
		}

	case model.RuleConsistency:
		if s.checker == nil {
			return nil, "", errors.New("no reference checker configured")
		}
		for _, f := range r.Fields {
			v := data[f]
			if model.IsEmptyValue(v) {
				continue
			}
			ok, err := s.checker.Exists(ctx, c.ref, model.StringValue(v))
			if err != nil {
				return nil, "", err
			}
			if !ok {
				out = append(out, violation(f, "field %s value %q not found in %s", f, model.StringValue(v), c.ref))
			}
		}
	}
	return out, "", nil
}

// checkRange returns a violation message, or "" when v is within bounds.
func (c *compiledRule) checkRange(v interface{}) string {
	if c.min != nil || c.max != nil {
		n, ok := toFloat(v)
		if !ok {
			return fmt.Sprintf("value %q is not numeric", model.StringValue(v))
		}
		if c.min != nil && n < *c.min {
			return fmt.Sprintf("value %v is below minimum %v", n, *c.min)
		}
		if c.max != nil && n > *c.max {
			return fmt.Sprintf("value %v is above maximum %v", n, *c.max)
		}
		return ""
	}
	t, ok := toTime(v, c.layout)
	if !ok {
		return fmt.Sprintf("value %q is not a date (%s)", model.StringValue(v), c.layout)
	}
	if c.after != nil && t.Before(*c.after) {
		return fmt.Sprintf("date %s is before %s", t.Format(c.layout), c.after.Format(c.layout))
	}
	if c.before != nil && t.After(*c.before) {
		return fmt.Sprintf("date %s is after %s", t.Format(c.layout), c.before.Format(c.layout))
	}
	return ""
}

func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case int32:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

func toTime(v interface{}, layout string) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		s := strings.TrimSpace(t)
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, true
		}
		if ts, err := time.Parse(time.RFC3339, s); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}
