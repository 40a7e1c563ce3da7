package validate

import (
	"context"
	"strconv"

	model "github.com/tigerroll/etlcore/pkg/etl/core/domain/model"
)

// PassScore is the minimum overall score, in percent, for a PASS report.
const PassScore = 90.0

// Report statuses.
const (
	ReportPass = "PASS"
	ReportFail = "FAIL"
)

// RuleReport aggregates one rule over a record set.
type RuleReport struct {
	RuleID   string         `json:"rule_id"`
	Name     string         `json:"name"`
	Kind     model.RuleKind `json:"kind"`
	Severity model.Severity `json:"severity"`
	Checked  int            `json:"checked"`
	Passed   int            `json:"passed"`
	Failed   int            `json:"failed"`
	PassRate float64        `json:"pass_rate"`
	Samples  []string       `json:"samples,omitempty"`
}

// Report is the result of an on-demand quality check.
type Report struct {
	Records      int          `json:"records"`
	Rules        []RuleReport `json:"rules"`
	OverallScore float64      `json:"overall_score"`
	Status       string       `json:"status"`
}

const maxSamples = 5

// Check evaluates the rule set over records without persisting anything. Each
// rule is scored independently; the overall score is passed checks over all
// checks, in percent. An empty record set scores 100.
func (rs *RuleSet) Check(ctx context.Context, checker ReferenceChecker, records []*model.StandardizedRecord) (*Report, error) {
	rep := &Report{Records: len(records)}
	index := make(map[string]int, len(rs.rules))
	for i, c := range rs.rules {
		index[c.rule.ID] = i
		rep.Rules = append(rep.Rules, RuleReport{
			RuleID:   c.rule.ID,
			Name:     c.rule.Name,
			Kind:     c.rule.Kind,
			Severity: c.rule.Severity,
		})
	}

	session := rs.NewSession(checker)
	for i, rec := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ref := rec.ID
		if ref == "" {
			ref = "record-" + strconv.Itoa(i+1)
		}
		out, err := session.Evaluate(ctx, ref, rec.Data)
		if err != nil {
			return nil, err
		}
		failed := make(map[string]bool)
		for _, v := range out.Violations {
			if !failed[v.RuleID] {
				failed[v.RuleID] = true
				rr := &rep.Rules[index[v.RuleID]]
				if len(rr.Samples) < maxSamples {
					rr.Samples = append(rr.Samples, v.Message)
				}
			}
		}
		for j := range rep.Rules {
			rep.Rules[j].Checked++
			if failed[rep.Rules[j].RuleID] {
				rep.Rules[j].Failed++
			} else {
				rep.Rules[j].Passed++
			}
		}
	}

	var checked, passed int
	for i := range rep.Rules {
		rr := &rep.Rules[i]
		rr.PassRate = 1
		if rr.Checked > 0 {
			rr.PassRate = float64(rr.Passed) / float64(rr.Checked)
		}
		checked += rr.Checked
		passed += rr.Passed
	}
	rep.OverallScore = 100
	if checked > 0 {
		rep.OverallScore = 100 * float64(passed) / float64(checked)
	}
	rep.Status = ReportFail
	if rep.OverallScore >= PassScore {
		rep.Status = ReportPass
	}
	return rep, nil
}
