package scenario

import (
	"testing"
	"time"

	"github.com/agedcare/go-nqip/internal/catalog"
	"github.com/agedcare/go-nqip/internal/domain/submission"
)

func TestClassify(t *testing.T) {
	due := time.Date(2025, 10, 21, 0, 0, 0, 0, time.UTC)
	before := time.Date(2025, 10, 10, 9, 0, 0, 0, time.UTC)
	after := time.Date(2025, 10, 25, 9, 0, 0, 0, time.UTC)

	cases := []struct {
		name             string
		alreadySubmitted bool
		now              time.Time
		want             Scenario
	}{
		{"not submitted, before due", false, before, FirstSubmission},
		{"submitted, before due", true, before, ReSubmit},
		{"submitted, after due", true, after, UpdatedAfterDue},
		{"not submitted, after due", false, after, LateSubmission},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(tc.alreadySubmitted, tc.now, due)
			if got != tc.want {
				t.Errorf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestClassifyDueDateBoundary(t *testing.T) {
	due := time.Date(2025, 10, 21, 0, 0, 0, 0, time.UTC)

	// Exactly at the due instant is not yet overdue.
	if got := Classify(false, due, due); got != FirstSubmission {
		t.Errorf("at the due instant expected first-submission, got %s", got)
	}
	if got := Classify(false, due.Add(time.Second), due); got != LateSubmission {
		t.Errorf("one second past due expected late-submission, got %s", got)
	}
}

func TestClassifySubmissionUsesAcceptance(t *testing.T) {
	cat, err := catalog.Default()
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	due := time.Date(2025, 10, 21, 0, 0, 0, 0, time.UTC)
	period := submission.ReportingPeriod{Year: 2025, Quarter: 3, DueDate: due}
	now := time.Date(2025, 10, 10, 9, 0, 0, 0, time.UTC)

	sub := submission.New("sub-sc", "RACS-0042", period, cat)
	if got := ClassifySubmission(sub, now); got != FirstSubmission {
		t.Errorf("fresh submission expected first-submission, got %s", got)
	}

	// An accepted initial submission creates an identifier but is not
	// accepted content; classification must not change.
	sub.ApplyInitialAccepted("qr-1", now)
	if got := ClassifySubmission(sub, now); got != FirstSubmission {
		t.Errorf("in-progress submission expected first-submission, got %s", got)
	}

	sub.ApplyFinalAccepted(string(FirstSubmission), submission.StatusSubmitted, submission.FHIRCompleted, now)
	if got := ClassifySubmission(sub, now); got != ReSubmit {
		t.Errorf("accepted submission expected re-submit, got %s", got)
	}
}

func TestLookupTargets(t *testing.T) {
	cases := []struct {
		scenario   Scenario
		fhirStatus submission.FHIRStatus
		status     submission.Status
		hasWarning bool
	}{
		{FirstSubmission, submission.FHIRCompleted, submission.StatusSubmitted, false},
		{ReSubmit, submission.FHIRAmended, submission.StatusResubmitted, true},
		{UpdatedAfterDue, submission.FHIRAmended, submission.StatusUpdatedAfterDue, true},
		{LateSubmission, submission.FHIRCompleted, submission.StatusSubmittedLate, true},
	}

	for _, tc := range cases {
		cfg := Lookup(tc.scenario)
		if cfg.TargetFHIRStatus != tc.fhirStatus {
			t.Errorf("%s: expected fhir status %s, got %s", tc.scenario, tc.fhirStatus, cfg.TargetFHIRStatus)
		}
		if cfg.TargetStatus != tc.status {
			t.Errorf("%s: expected status %s, got %s", tc.scenario, tc.status, cfg.TargetStatus)
		}
		if (cfg.Warning != "") != tc.hasWarning {
			t.Errorf("%s: unexpected warning %q", tc.scenario, cfg.Warning)
		}
		if cfg.Label == "" {
			t.Errorf("%s: missing label", tc.scenario)
		}
	}

	if Lookup(Scenario("unknown")) != Lookup(FirstSubmission) {
		t.Error("unknown scenarios fall back to first-submission")
	}
}
