package validation

import (
	"strings"

	"github.com/agedcare/go-nqip/internal/domain/submission"
	r4 "github.com/agedcare/go-nqip/internal/fhir/r4"
)

// ApplyRegulatorIssues implements the issue mapping contract: it first
// clears every previously attached regulator issue so a fresh result
// replaces rather than accumulates, then routes each issue to the
// question matching (indicatorCode, questionLinkId). Issues that match
// no question are kept at submission level, never silently dropped.
// It returns the unmapped remainder.
func ApplyRegulatorIssues(sub *submission.Submission, issues []submission.Issue) []submission.Issue {
	sub.ClearRegulatorIssues()
	for _, issue := range issues {
		issue.Origin = submission.OriginRegulator
		sub.AttachIssue(issue)
	}
	return sub.UnmappedIssues()
}

// FromOutcome converts a wire OperationOutcome issue into a domain
// issue, splitting the "{indicatorCode}/{questionLinkId}" location.
func FromOutcome(issue r4.OperationOutcomeIssue) submission.Issue {
	out := submission.Issue{
		Severity:    submission.IssueSeverity(issue.Severity),
		Code:        issue.Code,
		Diagnostics: issue.Diagnostics,
		Origin:      submission.OriginRegulator,
	}
	if len(issue.Location) > 0 {
		if indicator, linkID, ok := strings.Cut(issue.Location[0], "/"); ok {
			out.IndicatorCode = indicator
			out.QuestionLinkID = linkID
		} else {
			out.IndicatorCode = issue.Location[0]
		}
	}
	return out
}

// ToOutcome converts a domain issue into its wire representation.
func ToOutcome(issue submission.Issue) r4.OperationOutcomeIssue {
	return r4.OperationOutcomeIssue{
		Severity:    string(issue.Severity),
		Code:        issue.Code,
		Diagnostics: issue.Diagnostics,
		Location:    []string{issue.Location()},
	}
}
