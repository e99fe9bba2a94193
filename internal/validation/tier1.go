// Package validation implements the local structural rule engine and the
// contract for mapping regulator issues back onto their questions.
package validation

import (
	"fmt"
	"strconv"
	"time"

	"github.com/agedcare/go-nqip/internal/catalog"
	"github.com/agedcare/go-nqip/internal/domain/submission"
)

// Local rule codes.
const (
	CodeRequiredMissing         = "required-missing"
	CodeInvalidInteger          = "invalid-integer"
	CodeInvalidDate             = "invalid-date"
	CodeInvalidBoolean          = "invalid-boolean"
	CodeSubordinateExceedsTotal = "subordinate-exceeds-total"
	CodeRateExceedsHundred      = "rate-exceeds-100"
)

const dateLayout = "2006-01-02"

// Engine runs the local structural checks. They are advisory, need no
// network access, and are recomputed fresh from current state on every
// run rather than cached.
type Engine struct {
	cat *catalog.Catalog
}

// NewEngine creates a local validation engine over a catalog.
func NewEngine(cat *catalog.Catalog) *Engine {
	return &Engine{cat: cat}
}

// Run recomputes all local issues for a submission, replaces the
// previously attached local issue set, and returns the fresh issues.
// Regulator-origin issues are left untouched.
func (e *Engine) Run(sub *submission.Submission) []submission.Issue {
	issues := e.Evaluate(sub)
	sub.ClearLocalIssues()
	for _, issue := range issues {
		sub.AttachIssue(issue)
	}
	return issues
}

// Evaluate computes local issues without mutating the submission.
func (e *Engine) Evaluate(sub *submission.Submission) []submission.Issue {
	var issues []submission.Issue

	for _, ref := range e.cat.Questions() {
		answer, err := sub.Answer(ref.IndicatorCode, ref.Question.LinkID)
		if err != nil {
			continue
		}

		if ref.Question.Required && !answer.Filled() {
			issues = append(issues, localIssue(ref, submission.SeverityError,
				CodeRequiredMissing, "missing required field"))
			continue
		}

		if !answer.Filled() {
			continue
		}

		if issue, ok := e.checkShape(ref, *answer.FinalValue); !ok {
			issues = append(issues, issue)
			continue
		}

		if issue, ok := e.checkSubordinate(sub, ref, *answer.FinalValue); ok {
			issues = append(issues, issue)
		}

		if issue, ok := e.checkRate(ref, *answer.FinalValue); ok {
			issues = append(issues, issue)
		}
	}

	return issues
}

// checkShape verifies the value parses as the declared response type.
func (e *Engine) checkShape(ref *catalog.Ref, value string) (submission.Issue, bool) {
	switch ref.Question.ResponseType {
	case catalog.ResponseInteger:
		if _, err := strconv.Atoi(value); err != nil {
			return localIssue(ref, submission.SeverityError, CodeInvalidInteger,
				"value must be a whole number"), false
		}
	case catalog.ResponseDate:
		if _, err := time.Parse(dateLayout, value); err != nil {
			return localIssue(ref, submission.SeverityError, CodeInvalidDate,
				"value must be a date in YYYY-MM-DD format"), false
		}
	case catalog.ResponseBoolean:
		if _, err := strconv.ParseBool(value); err != nil {
			return localIssue(ref, submission.SeverityError, CodeInvalidBoolean,
				"value must be true or false"), false
		}
	}
	return submission.Issue{}, true
}

// checkSubordinate enforces that a subordinate count never exceeds the
// total-count value declared in the same sub-section.
func (e *Engine) checkSubordinate(sub *submission.Submission, ref *catalog.Ref, value string) (submission.Issue, bool) {
	if ref.Question.Role != catalog.RoleSubordinateCount {
		return submission.Issue{}, false
	}
	totalRef, ok := e.cat.TotalFor(ref)
	if !ok {
		return submission.Issue{}, false
	}
	totalAnswer, err := sub.Answer(totalRef.IndicatorCode, totalRef.Question.LinkID)
	if err != nil || !totalAnswer.Filled() {
		return submission.Issue{}, false
	}

	count, err := strconv.Atoi(value)
	if err != nil {
		return submission.Issue{}, false
	}
	total, err := strconv.Atoi(*totalAnswer.FinalValue)
	if err != nil {
		return submission.Issue{}, false
	}

	if count > total {
		return localIssue(ref, submission.SeverityError, CodeSubordinateExceedsTotal,
			fmt.Sprintf("count %d exceeds the sub-section total of %d", count, total)), true
	}
	return submission.Issue{}, false
}

// checkRate enforces the percentage sanity bound on rate questions.
func (e *Engine) checkRate(ref *catalog.Ref, value string) (submission.Issue, bool) {
	if ref.Question.Role != catalog.RoleRate {
		return submission.Issue{}, false
	}
	rate, err := strconv.Atoi(value)
	if err != nil {
		return submission.Issue{}, false
	}
	if rate > 100 {
		return localIssue(ref, submission.SeverityError, CodeRateExceedsHundred,
			fmt.Sprintf("rate %d exceeds 100 percent", rate)), true
	}
	return submission.Issue{}, false
}

// Summary aggregates a local validation run for transition guards.
type Summary struct {
	Errors          int
	Warnings        int
	RequiredMissing int
}

// Summarize tallies a local issue set.
func Summarize(issues []submission.Issue) Summary {
	var s Summary
	for _, issue := range issues {
		switch issue.Severity {
		case submission.SeverityError:
			s.Errors++
			if issue.Code == CodeRequiredMissing {
				s.RequiredMissing++
			}
		case submission.SeverityWarning:
			s.Warnings++
		}
	}
	return s
}

// Clean reports whether the summary permits a submission attempt.
func (s Summary) Clean() bool {
	return s.Errors == 0 && s.RequiredMissing == 0
}

func localIssue(ref *catalog.Ref, severity submission.IssueSeverity, code, diagnostics string) submission.Issue {
	return submission.Issue{
		Severity:       severity,
		Code:           code,
		Diagnostics:    diagnostics,
		IndicatorCode:  ref.IndicatorCode,
		QuestionLinkID: ref.Question.LinkID,
		Origin:         submission.OriginLocal,
	}
}
