package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/agedcare/go-nqip/internal/catalog"
	"github.com/agedcare/go-nqip/internal/domain/submission"
	r4 "github.com/agedcare/go-nqip/internal/fhir/r4"
	"github.com/agedcare/go-nqip/internal/observability/metrics"
	"github.com/agedcare/go-nqip/internal/regulator"
	"github.com/agedcare/go-nqip/internal/scenario"
)

var (
	dueDate   = time.Date(2025, 10, 21, 0, 0, 0, 0, time.UTC)
	beforeDue = time.Date(2025, 10, 10, 9, 0, 0, 0, time.UTC)
	afterDue  = time.Date(2025, 10, 25, 9, 0, 0, 0, time.UTC)
)

func newTestEngine(t *testing.T) (*Engine, *submission.MemoryRepository, *submission.Submission) {
	t.Helper()
	cat, err := catalog.Default()
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}

	repo := submission.NewMemoryRepository()
	remote := regulator.NewSimulator(cat, regulator.SimulatorConfig{}, nil)
	engine := NewEngine(cat, repo, remote, nil)
	engine.Clock = func() time.Time { return beforeDue }

	period := submission.ReportingPeriod{Year: 2025, Quarter: 3, DueDate: dueDate}
	sub := submission.New("sub-wf", "RACS-0042", period, cat)
	if err := repo.Save(context.Background(), sub); err != nil {
		t.Fatalf("save: %v", err)
	}
	return engine, repo, sub
}

// fillClean sets every required question to values that pass both rule
// tiers without warnings.
func fillClean(t *testing.T, sub *submission.Submission) {
	t.Helper()
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
	setValues(t, sub, values)
}

func setValues(t *testing.T, sub *submission.Submission, values map[string]string) {
	t.Helper()
	for key, value := range values {
		for i := 0; i < len(key); i++ {
			if key[i] == '/' {
				v := value
				if err := sub.SetUserValue(key[:i], key[i+1:], &v); err != nil {
					t.Fatalf("set %s: %v", key, err)
				}
				break
			}
		}
	}
}

func TestFullSubmissionFlow(t *testing.T) {
	engine, _, sub := newTestEngine(t)
	ctx := context.Background()
	fillClean(t, sub)

	result, err := engine.Validate(ctx, sub)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !result.Success || len(result.Issues) != 0 {
		t.Fatalf("expected clean validation, got %+v", result)
	}

	result, err = engine.SubmitInitial(ctx, sub)
	if err != nil {
		t.Fatalf("submit initial: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected initial acceptance, got %+v", result)
	}
	if sub.QuestionnaireResponseID() == nil {
		t.Fatal("initial acceptance must record the remote identifier")
	}
	if sub.Status() != submission.StatusInProgress || sub.FHIRStatus() != submission.FHIRInProgress {
		t.Errorf("expected In Progress / in-progress, got %s / %s", sub.Status(), sub.FHIRStatus())
	}

	steps := engine.Steps(sub)
	if !steps[0].Completed {
		t.Errorf("data entry should be complete once the identifier is recorded, got %+v", steps[0])
	}
	if steps[1].Locked || steps[1].Completed {
		t.Errorf("validation step should be unlocked but incomplete, got %+v", steps[1])
	}
	if !steps[2].Locked || steps[2].Completed {
		t.Errorf("completion step should stay locked until acceptance, got %+v", steps[2])
	}

	sub.Attest(true)
	result, err = engine.SubmitFinal(ctx, sub)
	if err != nil {
		t.Fatalf("submit final: %v", err)
	}
	if !result.Success || result.Scenario != scenario.FirstSubmission {
		t.Fatalf("expected first-submission acceptance, got %+v", result)
	}
	if sub.Status() != submission.StatusSubmitted || sub.FHIRStatus() != submission.FHIRCompleted {
		t.Errorf("expected Submitted / completed, got %s / %s", sub.Status(), sub.FHIRStatus())
	}
	if sub.VersionNumber() != 1 {
		t.Errorf("expected version 1, got %d", sub.VersionNumber())
	}
	if sub.LastSubmittedAt() == nil || !sub.LastSubmittedAt().Equal(beforeDue) {
		t.Error("submission time must come from the engine clock")
	}

	steps = engine.Steps(sub)
	if !steps[1].Completed || steps[2].Locked || !steps[2].Completed {
		t.Errorf("all steps should be unlocked and complete after final acceptance, got %+v", steps)
	}
}

func TestStepDerivation(t *testing.T) {
	engine, _, sub := newTestEngine(t)
	ctx := context.Background()
	fillClean(t, sub)

	// Clean data alone completes nothing: no identifier exists yet.
	steps := engine.Steps(sub)
	if steps[0].Completed {
		t.Errorf("data entry must not be complete before an identifier is assigned, got %+v", steps[0])
	}
	if !steps[1].Locked || !steps[2].Locked {
		t.Errorf("validation and completion must be locked before an identifier is assigned, got %+v", steps[1:])
	}

	if _, err := engine.SubmitInitial(ctx, sub); err != nil {
		t.Fatalf("submit initial: %v", err)
	}

	// The identifier completes data entry and unlocks validation, but
	// in-progress remote status leaves validation incomplete and
	// completion locked.
	steps = engine.Steps(sub)
	if !steps[0].Completed {
		t.Errorf("data entry should be complete with an identifier, got %+v", steps[0])
	}
	if steps[1].Locked || steps[1].Completed {
		t.Errorf("validation should be unlocked but incomplete while in-progress, got %+v", steps[1])
	}
	if !steps[2].Locked {
		t.Errorf("completion should stay locked while in-progress, got %+v", steps[2])
	}

	sub.Attest(true)
	if _, err := engine.SubmitFinal(ctx, sub); err != nil {
		t.Fatalf("submit final: %v", err)
	}

	steps = engine.Steps(sub)
	for i, step := range steps {
		if step.Locked || !step.Completed {
			t.Errorf("step %d should be unlocked and complete after acceptance, got %+v", i, step)
		}
	}
}

func TestSubmitInitialLocalRulesShortCircuit(t *testing.T) {
	engine, _, sub := newTestEngine(t)

	result, err := engine.SubmitInitial(context.Background(), sub)
	if err != nil {
		t.Fatalf("submit initial: %v", err)
	}
	if result.Success {
		t.Fatal("an empty submission must not reach the regulator")
	}
	if len(result.Issues) != 19 {
		t.Errorf("expected 19 local issues, got %d", len(result.Issues))
	}
	if sub.QuestionnaireResponseID() != nil {
		t.Error("a rejected attempt must not record an identifier")
	}
}

func TestSubmitInitialRejectedByRegulator(t *testing.T) {
	engine, _, sub := newTestEngine(t)
	fillClean(t, sub)
	setValues(t, sub, map[string]string{
		"PI/pi-total-assessed": "0",
		"PI/pi-stage-one":      "0",
		"PI/pi-stage-two-plus": "0",
	})

	result, err := engine.SubmitInitial(context.Background(), sub)
	if err != nil {
		t.Fatalf("submit initial: %v", err)
	}
	if result.Success {
		t.Fatal("zero totals must be rejected by the authoritative rules")
	}
	if sub.QuestionnaireResponseID() != nil {
		t.Error("a rejected attempt must not record an identifier")
	}

	answer, err := sub.Answer("PI", "pi-total-assessed")
	if err != nil {
		t.Fatal(err)
	}
	if len(answer.Issues) != 1 || answer.Issues[0].Origin != submission.OriginRegulator {
		t.Errorf("expected one regulator issue on the total, got %v", answer.Issues)
	}
	if answer.Issues[0].Code != regulator.CodeTotalCountZero {
		t.Errorf("expected total-count-zero, got %s", answer.Issues[0].Code)
	}
}

func TestSubmitInitialIdempotent(t *testing.T) {
	engine, _, sub := newTestEngine(t)
	ctx := context.Background()
	fillClean(t, sub)

	if _, err := engine.SubmitInitial(ctx, sub); err != nil {
		t.Fatalf("submit initial: %v", err)
	}
	id := *sub.QuestionnaireResponseID()

	result, err := engine.SubmitInitial(ctx, sub)
	if err != nil {
		t.Fatalf("second submit initial: %v", err)
	}
	if !result.Success {
		t.Fatal("re-running an accepted initial submission must succeed")
	}
	if *sub.QuestionnaireResponseID() != id {
		t.Error("re-running must not replace the identifier")
	}

	var initials int
	for _, e := range sub.Changes() {
		if e.EventType == submission.EventInitialSubmitted {
			initials++
		}
	}
	if initials != 1 {
		t.Errorf("expected one InitialSubmitted event, got %d", initials)
	}
}

func TestSubmitFinalGuardOrder(t *testing.T) {
	engine, _, sub := newTestEngine(t)
	ctx := context.Background()

	if _, err := engine.SubmitFinal(ctx, sub); err != submission.ErrInitialSubmissionRequired {
		t.Fatalf("expected ErrInitialSubmissionRequired, got %v", err)
	}

	fillClean(t, sub)
	if _, err := engine.SubmitInitial(ctx, sub); err != nil {
		t.Fatalf("submit initial: %v", err)
	}

	if _, err := engine.SubmitFinal(ctx, sub); err != ErrAttestationRequired {
		t.Fatalf("expected ErrAttestationRequired, got %v", err)
	}
}

func TestSubmitFinalRequiresWarningAcknowledgment(t *testing.T) {
	engine, _, sub := newTestEngine(t)
	ctx := context.Background()
	fillClean(t, sub)
	setValues(t, sub, map[string]string{"QOL/qol-good-rating-rate": "90"})

	if _, err := engine.SubmitInitial(ctx, sub); err != nil {
		t.Fatalf("submit initial: %v", err)
	}
	sub.Attest(true)

	if _, err := engine.SubmitFinal(ctx, sub); err != ErrWarningsNotAcknowledged {
		t.Fatalf("expected ErrWarningsNotAcknowledged, got %v", err)
	}

	sub.AcknowledgeWarnings(true)
	result, err := engine.SubmitFinal(ctx, sub)
	if err != nil {
		t.Fatalf("submit final: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected acceptance after acknowledgment, got %+v", result)
	}
}

// countingClient tallies regulator round trips.
type countingClient struct {
	inner     regulator.Client
	validates int
	submits   int
}

func (c *countingClient) Validate(ctx context.Context, payload *r4.QuestionnaireResponse) (*regulator.ValidationResult, error) {
	c.validates++
	return c.inner.Validate(ctx, payload)
}

func (c *countingClient) Submit(ctx context.Context, payload *r4.QuestionnaireResponse) (*regulator.SubmitResult, error) {
	c.submits++
	return c.inner.Submit(ctx, payload)
}

func TestSubmitFinalWarningGuardSkipsRegulator(t *testing.T) {
	cat, err := catalog.Default()
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	repo := submission.NewMemoryRepository()
	remote := &countingClient{inner: regulator.NewSimulator(cat, regulator.SimulatorConfig{}, nil)}
	engine := NewEngine(cat, repo, remote, nil)
	engine.Clock = func() time.Time { return beforeDue }

	period := submission.ReportingPeriod{Year: 2025, Quarter: 3, DueDate: dueDate}
	sub := submission.New("sub-guard", "RACS-0042", period, cat)
	fillClean(t, sub)
	setValues(t, sub, map[string]string{"QOL/qol-good-rating-rate": "90"})

	ctx := context.Background()
	if _, err := engine.SubmitInitial(ctx, sub); err != nil {
		t.Fatalf("submit initial: %v", err)
	}
	if _, warns := sub.IssueCounts(); warns == 0 {
		t.Fatal("expected warnings on record after the initial round trip")
	}
	sub.Attest(true)
	calls := remote.validates

	if _, err := engine.SubmitFinal(ctx, sub); err != ErrWarningsNotAcknowledged {
		t.Fatalf("expected ErrWarningsNotAcknowledged, got %v", err)
	}
	if remote.validates != calls {
		t.Errorf("unacknowledged warnings must fail before the regulator is called, got %d extra calls",
			remote.validates-calls)
	}
}

func TestSubmitFinalScenarios(t *testing.T) {
	engine, _, sub := newTestEngine(t)
	ctx := context.Background()
	fillClean(t, sub)

	if _, err := engine.SubmitInitial(ctx, sub); err != nil {
		t.Fatalf("submit initial: %v", err)
	}
	sub.Attest(true)

	result, err := engine.SubmitFinal(ctx, sub)
	if err != nil {
		t.Fatalf("first final: %v", err)
	}
	if result.Scenario != scenario.FirstSubmission {
		t.Errorf("expected first-submission, got %s", result.Scenario)
	}

	result, err = engine.SubmitFinal(ctx, sub)
	if err != nil {
		t.Fatalf("second final: %v", err)
	}
	if result.Scenario != scenario.ReSubmit {
		t.Errorf("expected re-submit, got %s", result.Scenario)
	}
	if sub.Status() != submission.StatusResubmitted || sub.FHIRStatus() != submission.FHIRAmended {
		t.Errorf("expected Re-submitted / amended, got %s / %s", sub.Status(), sub.FHIRStatus())
	}
	if sub.VersionNumber() != 2 {
		t.Errorf("expected version 2, got %d", sub.VersionNumber())
	}

	engine.Clock = func() time.Time { return afterDue }
	result, err = engine.SubmitFinal(ctx, sub)
	if err != nil {
		t.Fatalf("overdue final: %v", err)
	}
	if result.Scenario != scenario.UpdatedAfterDue {
		t.Errorf("expected updated-after-due, got %s", result.Scenario)
	}
	if sub.Status() != submission.StatusUpdatedAfterDue {
		t.Errorf("expected Updated after due date, got %s", sub.Status())
	}
}

func TestSubmitFinalLateScenario(t *testing.T) {
	engine, _, sub := newTestEngine(t)
	ctx := context.Background()
	engine.Clock = func() time.Time { return afterDue }
	fillClean(t, sub)

	if _, err := engine.SubmitInitial(ctx, sub); err != nil {
		t.Fatalf("submit initial: %v", err)
	}
	sub.Attest(true)

	result, err := engine.SubmitFinal(ctx, sub)
	if err != nil {
		t.Fatalf("submit final: %v", err)
	}
	if result.Scenario != scenario.LateSubmission {
		t.Errorf("expected late-submission, got %s", result.Scenario)
	}
	if sub.Status() != submission.StatusSubmittedLate || sub.FHIRStatus() != submission.FHIRCompleted {
		t.Errorf("expected Submitted late / completed, got %s / %s", sub.Status(), sub.FHIRStatus())
	}
}

// mutatingClient edits the submission while a validation call is in
// flight, simulating a user typing during a slow regulator response.
type mutatingClient struct {
	inner regulator.Client
	sub   *submission.Submission
	edit  func(*submission.Submission)
}

func (m *mutatingClient) Validate(ctx context.Context, payload *r4.QuestionnaireResponse) (*regulator.ValidationResult, error) {
	if m.edit != nil {
		m.edit(m.sub)
		m.edit = nil
	}
	return m.inner.Validate(ctx, payload)
}

func (m *mutatingClient) Submit(ctx context.Context, payload *r4.QuestionnaireResponse) (*regulator.SubmitResult, error) {
	return m.inner.Submit(ctx, payload)
}

func TestStaleValidationResultDiscarded(t *testing.T) {
	cat, err := catalog.Default()
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	repo := submission.NewMemoryRepository()
	period := submission.ReportingPeriod{Year: 2025, Quarter: 3, DueDate: dueDate}
	sub := submission.New("sub-stale", "RACS-0042", period, cat)

	remote := &mutatingClient{
		inner: regulator.NewSimulator(cat, regulator.SimulatorConfig{}, nil),
		sub:   sub,
		edit: func(s *submission.Submission) {
			v := "41"
			s.SetUserValue("PI", "pi-total-assessed", &v)
		},
	}
	engine := NewEngine(cat, repo, remote, nil)
	engine.Clock = func() time.Time { return beforeDue }

	fillClean(t, sub)
	result, err := engine.Validate(context.Background(), sub)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !result.Stale {
		t.Fatal("a result for superseded content must be marked stale")
	}
	if errs, warns := sub.IssueCounts(); errs != 0 || warns != 0 {
		t.Error("stale results must not attach issues")
	}

	// The next run sees stable content and completes normally.
	result, err = engine.Validate(context.Background(), sub)
	if err != nil {
		t.Fatalf("second validate: %v", err)
	}
	if result.Stale || !result.Success {
		t.Fatalf("expected clean result on stable content, got %+v", result)
	}
}

func TestEngineRecordsMetrics(t *testing.T) {
	engine, _, sub := newTestEngine(t)
	engine.Metrics = metrics.New()
	ctx := context.Background()

	// An empty submission is rejected locally, counting a run and its
	// issues but no regulator activity.
	if _, err := engine.SubmitInitial(ctx, sub); err != nil {
		t.Fatalf("submit initial: %v", err)
	}
	if got := testutil.ToFloat64(engine.Metrics.ValidationRuns); got != 1 {
		t.Errorf("expected 1 validation run, got %v", got)
	}
	if got := testutil.ToFloat64(engine.Metrics.ValidationIssues.WithLabelValues("error", "local")); got != 19 {
		t.Errorf("expected 19 local error issues counted, got %v", got)
	}
	if got := testutil.ToFloat64(engine.Metrics.InitialAccepted); got != 0 {
		t.Errorf("a locally rejected attempt must not count as accepted, got %v", got)
	}

	fillClean(t, sub)
	if _, err := engine.SubmitInitial(ctx, sub); err != nil {
		t.Fatalf("submit initial: %v", err)
	}
	sub.Attest(true)
	if _, err := engine.SubmitFinal(ctx, sub); err != nil {
		t.Fatalf("submit final: %v", err)
	}

	if got := testutil.ToFloat64(engine.Metrics.InitialAccepted); got != 1 {
		t.Errorf("expected 1 accepted initial submission, got %v", got)
	}
	finals := engine.Metrics.FinalAccepted.WithLabelValues(string(scenario.FirstSubmission))
	if got := testutil.ToFloat64(finals); got != 1 {
		t.Errorf("expected 1 accepted final submission, got %v", got)
	}
	if got := testutil.ToFloat64(engine.Metrics.StaleResultsDiscarded); got != 0 {
		t.Errorf("no stale results in this flow, got %v", got)
	}
}
