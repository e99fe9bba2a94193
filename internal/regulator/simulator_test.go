package regulator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/agedcare/go-nqip/internal/catalog"
	"github.com/agedcare/go-nqip/internal/domain/submission"
	r4 "github.com/agedcare/go-nqip/internal/fhir/r4"
)

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.Default()
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	return cat
}

func newFilledSubmission(t *testing.T, cat *catalog.Catalog, overrides map[string]string) *submission.Submission {
	t.Helper()
	period := submission.ReportingPeriod{
		Year:    2025,
		Quarter: 3,
		DueDate: time.Date(2025, 10, 21, 0, 0, 0, 0, time.UTC),
	}
	sub := submission.New("sub-reg", "RACS-0042", period, cat)

	values := map[string]string{
		"PI/pi-total-assessed":       "42",
		"PI/pi-stage-one":            "3",
		"PI/pi-stage-two-plus":       "1",
		"RP/rp-total-assessed":       "42",
		"RP/rp-physical-restraint":   "2",
		"RP/rp-exclusively-chemical": "1",
		"UWL/uwl-total-weighed":      "40",
		"UWL/uwl-significant-loss":   "4",
		"UWL/uwl-consecutive-loss":   "2",
		"FALLS/falls-total-assessed": "42",
		"FALLS/falls-one-or-more":    "6",
		"FALLS/falls-major-injury":   "1",
		"MED/med-total-assessed":     "42",
		"MED/med-polypharmacy":       "12",
		"MED/med-antipsychotics":     "5",
		"QOL/qol-total-surveyed":     "30",
		"QOL/qol-good-rating-rate":   "45",
		"WF/wf-total-staff":          "48",
		"WF/wf-turnover-rate":        "12",
	}
	for key, value := range overrides {
		values[key] = value
	}
	for _, ref := range cat.Questions() {
		value, ok := values[ref.Location()]
		if !ok || value == "" {
			continue
		}
		v := value
		if err := sub.SetUserValue(ref.IndicatorCode, ref.Question.LinkID, &v); err != nil {
			t.Fatalf("fill %s: %v", ref.Location(), err)
		}
	}
	return sub
}

func findOutcome(issues []r4.OperationOutcomeIssue, code, location string) bool {
	for _, issue := range issues {
		if issue.Code == code && len(issue.Location) > 0 && issue.Location[0] == location {
			return true
		}
	}
	return false
}

func TestBuildPayload(t *testing.T) {
	cat := testCatalog(t)
	sub := newFilledSubmission(t, cat, map[string]string{
		"QOL/qol-survey-date": "2025-09-30",
		"WF/wf-agency-used":   "true",
		"PI/pi-comment":       "two admissions with existing injuries",
	})

	payload := BuildPayload(sub, cat)

	if payload.Status != r4.StatusInProgress {
		t.Errorf("unaccepted submission must submit in-progress, got %s", payload.Status)
	}
	if payload.Identifier == nil || payload.Identifier.Value != "RACS-0042" {
		t.Error("payload must carry the facility identifier")
	}
	if len(payload.Item) != 7 {
		t.Fatalf("expected 7 indicator groups, got %d", len(payload.Item))
	}

	answers := payload.AnswerFor("PI", "pi-total-assessed")
	if len(answers) != 1 || answers[0].ValueInteger == nil || *answers[0].ValueInteger != 42 {
		t.Error("integer question must carry valueInteger 42")
	}
	answers = payload.AnswerFor("QOL", "qol-survey-date")
	if len(answers) != 1 || answers[0].ValueDate != "2025-09-30" {
		t.Error("date question must carry valueDate")
	}
	answers = payload.AnswerFor("WF", "wf-agency-used")
	if len(answers) != 1 || answers[0].ValueBoolean == nil || !*answers[0].ValueBoolean {
		t.Error("boolean question must carry valueBoolean")
	}
	answers = payload.AnswerFor("PI", "pi-comment")
	if len(answers) != 1 || answers[0].ValueString == "" {
		t.Error("string question must carry valueString")
	}

	if got := payload.AnswerFor("UWL", "uwl-comment"); len(got) != 0 {
		t.Error("unanswered questions must be omitted from the payload")
	}
}

func TestBuildPayloadStatusFollowsLifecycle(t *testing.T) {
	cat := testCatalog(t)
	sub := newFilledSubmission(t, cat, nil)
	now := time.Now().UTC()

	sub.ApplyInitialAccepted("qr-77", now)
	payload := BuildPayload(sub, cat)
	if payload.ID != "qr-77" {
		t.Errorf("payload must reuse the assigned identifier, got %q", payload.ID)
	}

	sub.ApplyFinalAccepted("first-submission", submission.StatusSubmitted, submission.FHIRCompleted, now)
	if got := BuildPayload(sub, cat).Status; got != r4.StatusCompleted {
		t.Errorf("accepted submission must build completed payloads, got %s", got)
	}
}

func TestValidateCleanPayload(t *testing.T) {
	cat := testCatalog(t)
	sim := NewSimulator(cat, SimulatorConfig{}, nil)
	sub := newFilledSubmission(t, cat, nil)

	result, err := sim.Validate(context.Background(), BuildPayload(sub, cat))
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !result.Success {
		t.Errorf("expected success, got errors %v", result.Errors)
	}
	if len(result.Warnings) != 0 {
		t.Errorf("expected no warnings, got %v", result.Warnings)
	}
}

func TestValidateNegativeValue(t *testing.T) {
	cat := testCatalog(t)
	sim := NewSimulator(cat, SimulatorConfig{}, nil)
	sub := newFilledSubmission(t, cat, map[string]string{"PI/pi-stage-one": "-1"})

	result, err := sim.Validate(context.Background(), BuildPayload(sub, cat))
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if result.Success {
		t.Error("negative counts must be rejected")
	}
	if !findOutcome(result.Errors, CodeNegativeValue, "PI/pi-stage-one") {
		t.Errorf("expected negative-value at PI/pi-stage-one, got %v", result.Errors)
	}
}

func TestValidateTotalCountZero(t *testing.T) {
	cat := testCatalog(t)
	sim := NewSimulator(cat, SimulatorConfig{}, nil)
	sub := newFilledSubmission(t, cat, map[string]string{
		"PI/pi-total-assessed": "0",
		"PI/pi-stage-one":      "0",
		"PI/pi-stage-two-plus": "0",
	})

	result, err := sim.Validate(context.Background(), BuildPayload(sub, cat))
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !findOutcome(result.Errors, CodeTotalCountZero, "PI/pi-total-assessed") {
		t.Errorf("expected total-count-zero at PI/pi-total-assessed, got %v", result.Errors)
	}
}

func TestValidateStageExceedsTotal(t *testing.T) {
	cat := testCatalog(t)
	sim := NewSimulator(cat, SimulatorConfig{}, nil)
	sub := newFilledSubmission(t, cat, map[string]string{
		"PI/pi-total-assessed": "5",
		"PI/pi-stage-one":      "10",
	})

	result, err := sim.Validate(context.Background(), BuildPayload(sub, cat))
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !findOutcome(result.Errors, CodeStageExceedsTotal, "PI/pi-stage-one") {
		t.Errorf("expected stage-exceeds-total at PI/pi-stage-one, got %v", result.Errors)
	}
}

func TestStageCheckIsPressureInjuryOnly(t *testing.T) {
	cat := testCatalog(t)
	sim := NewSimulator(cat, SimulatorConfig{}, nil)
	sub := newFilledSubmission(t, cat, map[string]string{
		"FALLS/falls-total-assessed": "5",
		"FALLS/falls-one-or-more":    "10",
	})

	result, err := sim.Validate(context.Background(), BuildPayload(sub, cat))
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if findOutcome(result.Errors, CodeStageExceedsTotal, "FALLS/falls-one-or-more") {
		t.Error("the stage cross-check applies to pressure injuries only")
	}
}

func TestValidateRateExceedsHundred(t *testing.T) {
	cat := testCatalog(t)
	sim := NewSimulator(cat, SimulatorConfig{}, nil)
	sub := newFilledSubmission(t, cat, map[string]string{"WF/wf-turnover-rate": "120"})

	result, err := sim.Validate(context.Background(), BuildPayload(sub, cat))
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !findOutcome(result.Errors, CodeRateExceedsHundred, "WF/wf-turnover-rate") {
		t.Errorf("expected rate-exceeds-100 at WF/wf-turnover-rate, got %v", result.Errors)
	}
	// A rate over the comment threshold also triggers the comment warning.
	if !findOutcome(result.Warnings, CodeCommentRecommended, "WF/wf-comment") {
		t.Errorf("expected comment-recommended at WF/wf-comment, got %v", result.Warnings)
	}
}

func TestValidateCommentRecommended(t *testing.T) {
	cat := testCatalog(t)
	sim := NewSimulator(cat, SimulatorConfig{}, nil)

	sub := newFilledSubmission(t, cat, map[string]string{"QOL/qol-good-rating-rate": "90"})
	result, err := sim.Validate(context.Background(), BuildPayload(sub, cat))
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !result.Success {
		t.Errorf("warnings alone must not fail validation, got %v", result.Errors)
	}
	if !findOutcome(result.Warnings, CodeCommentRecommended, "QOL/qol-comment") {
		t.Errorf("expected comment-recommended at QOL/qol-comment, got %v", result.Warnings)
	}

	sub = newFilledSubmission(t, cat, map[string]string{
		"QOL/qol-good-rating-rate": "90",
		"QOL/qol-comment":          "high satisfaction this quarter",
	})
	result, err = sim.Validate(context.Background(), BuildPayload(sub, cat))
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if findOutcome(result.Warnings, CodeCommentRecommended, "QOL/qol-comment") {
		t.Error("an answered comment must suppress the recommendation")
	}
}

func TestSubmitAssignsIdentifierOnce(t *testing.T) {
	cat := testCatalog(t)
	sim := NewSimulator(cat, SimulatorConfig{}, nil)
	sub := newFilledSubmission(t, cat, nil)

	payload := BuildPayload(sub, cat)
	result, err := sim.Submit(context.Background(), payload)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if result.QuestionnaireResponseID == "" {
		t.Fatal("first submit must assign an identifier")
	}
	if result.Status != r4.StatusInProgress {
		t.Errorf("submit must echo the payload status, got %s", result.Status)
	}

	payload.ID = result.QuestionnaireResponseID
	again, err := sim.Submit(context.Background(), payload)
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if again.QuestionnaireResponseID != result.QuestionnaireResponseID {
		t.Error("later submits must echo the existing identifier")
	}
}

func TestSimulatorHonorsContext(t *testing.T) {
	cat := testCatalog(t)
	sim := NewSimulator(cat, SimulatorConfig{Latency: time.Second}, nil)
	sub := newFilledSubmission(t, cat, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := sim.Validate(ctx, BuildPayload(sub, cat)); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

// flakyClient fails a fixed number of calls before delegating.
type flakyClient struct {
	inner    Client
	failures int
	calls    int
}

func (f *flakyClient) Validate(ctx context.Context, payload *r4.QuestionnaireResponse) (*ValidationResult, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("connection reset")
	}
	return f.inner.Validate(ctx, payload)
}

func (f *flakyClient) Submit(ctx context.Context, payload *r4.QuestionnaireResponse) (*SubmitResult, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("connection reset")
	}
	return f.inner.Submit(ctx, payload)
}

func TestResilientClientRetries(t *testing.T) {
	cat := testCatalog(t)
	flaky := &flakyClient{inner: NewSimulator(cat, SimulatorConfig{}, nil), failures: 2}

	client, err := NewResilientClient(flaky, RetryConfig{MaxAttempts: 3, Backoff: time.Millisecond}, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	sub := newFilledSubmission(t, cat, nil)
	result, err := client.Validate(context.Background(), BuildPayload(sub, cat))
	if err != nil {
		t.Fatalf("expected retries to recover, got %v", err)
	}
	if !result.Success {
		t.Error("expected successful validation after retries")
	}
	if flaky.calls != 3 {
		t.Errorf("expected 3 attempts, got %d", flaky.calls)
	}
}

func TestResilientClientExhaustsRetries(t *testing.T) {
	cat := testCatalog(t)
	flaky := &flakyClient{inner: NewSimulator(cat, SimulatorConfig{}, nil), failures: 10}

	client, err := NewResilientClient(flaky, RetryConfig{MaxAttempts: 2, Backoff: time.Millisecond}, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	sub := newFilledSubmission(t, cat, nil)
	if _, err := client.Validate(context.Background(), BuildPayload(sub, cat)); err == nil {
		t.Fatal("expected failure once retries are exhausted")
	}
	if flaky.calls != 2 {
		t.Errorf("expected 2 attempts, got %d", flaky.calls)
	}
}
