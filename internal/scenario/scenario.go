// Package scenario classifies a final submission attempt by prior
// acceptance history and due-date timing, and carries the static
// configuration each scenario submits under.
package scenario

import (
	"time"

	"github.com/agedcare/go-nqip/internal/domain/submission"
)

// Scenario names a final-submission situation. Classification depends
// only on whether content was accepted before and whether the reporting
// period's due date has passed.
type Scenario string

const (
	FirstSubmission Scenario = "first-submission"
	ReSubmit        Scenario = "re-submit"
	UpdatedAfterDue Scenario = "updated-after-due"
	LateSubmission  Scenario = "late-submission"
)

// Config is the static behaviour bound to a scenario: operator-facing
// copy plus the statuses the submission lands in when the regulator
// accepts it.
type Config struct {
	Label            string
	Description      string
	Warning          string
	TargetFHIRStatus submission.FHIRStatus
	TargetStatus     submission.Status
}

var configs = map[Scenario]Config{
	FirstSubmission: {
		Label:            "First submission",
		Description:      "Submit quality indicator data for this reporting period.",
		TargetFHIRStatus: submission.FHIRCompleted,
		TargetStatus:     submission.StatusSubmitted,
	},
	ReSubmit: {
		Label:            "Re-submit",
		Description:      "Replace previously submitted data for this reporting period.",
		Warning:          "This will replace the data already held by the regulator.",
		TargetFHIRStatus: submission.FHIRAmended,
		TargetStatus:     submission.StatusResubmitted,
	},
	UpdatedAfterDue: {
		Label:            "Update after due date",
		Description:      "Amend submitted data after the reporting deadline.",
		Warning:          "The due date has passed. This update will be recorded as a post-deadline amendment.",
		TargetFHIRStatus: submission.FHIRAmended,
		TargetStatus:     submission.StatusUpdatedAfterDue,
	},
	LateSubmission: {
		Label:            "Late submission",
		Description:      "Submit quality indicator data after the reporting deadline.",
		Warning:          "The due date has passed. This submission will be recorded as late.",
		TargetFHIRStatus: submission.FHIRCompleted,
		TargetStatus:     submission.StatusSubmittedLate,
	},
}

// Classify resolves the scenario for a final submission attempt.
// alreadySubmitted is whether the regulator has accepted content for
// this period before, and must be derived from the FHIR status, not
// from whether an identifier exists.
func Classify(alreadySubmitted bool, now, due time.Time) Scenario {
	overdue := now.After(due)
	switch {
	case alreadySubmitted && !overdue:
		return ReSubmit
	case alreadySubmitted && overdue:
		return UpdatedAfterDue
	case !alreadySubmitted && overdue:
		return LateSubmission
	default:
		return FirstSubmission
	}
}

// ClassifySubmission applies Classify to a submission and its period.
func ClassifySubmission(sub *submission.Submission, now time.Time) Scenario {
	return Classify(sub.FHIRStatus().Accepted(), now, sub.Period().DueDate)
}

// Lookup returns the configuration for a scenario. Unknown scenarios
// fall back to first-submission behaviour.
func Lookup(s Scenario) Config {
	if cfg, ok := configs[s]; ok {
		return cfg
	}
	return configs[FirstSubmission]
}
