// Package workflow orchestrates the submission lifecycle: it runs the
// local rule engine, calls the regulator, maps results back onto the
// submission, and drives the guarded state transitions. All remote
// effects happen here; the aggregate's transitions stay pure.
package workflow

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/agedcare/go-nqip/internal/catalog"
	"github.com/agedcare/go-nqip/internal/domain/submission"
	r4 "github.com/agedcare/go-nqip/internal/fhir/r4"
	"github.com/agedcare/go-nqip/internal/observability/metrics"
	"github.com/agedcare/go-nqip/internal/regulator"
	"github.com/agedcare/go-nqip/internal/scenario"
	"github.com/agedcare/go-nqip/internal/validation"
)

// Guard violations surfaced by submission attempts.
var (
	ErrAttestationRequired     = errors.New("attestation is required before final submission")
	ErrWarningsNotAcknowledged = errors.New("outstanding warnings must be acknowledged before final submission")
)

// Result is the outcome of a submission attempt. A failed attempt is
// not an error: issues describe what must change, and Stale marks
// results discarded because content changed while the regulator call
// was in flight.
type Result struct {
	Success  bool               `json:"success"`
	Stale    bool               `json:"stale,omitempty"`
	Scenario scenario.Scenario  `json:"scenario,omitempty"`
	Issues   []submission.Issue `json:"issues,omitempty"`
	Unmapped []submission.Issue `json:"unmapped,omitempty"`
}

// Engine drives the submission workflow.
type Engine struct {
	cat    *catalog.Catalog
	repo   submission.Repository
	local  *validation.Engine
	remote regulator.Client
	logger *zap.Logger

	// Clock supplies the current time for scenario classification and
	// transition timestamps. Overridable in tests.
	Clock func() time.Time

	// Metrics records submission and validation counters when set.
	Metrics *metrics.Metrics
}

// NewEngine assembles a workflow engine.
func NewEngine(cat *catalog.Catalog, repo submission.Repository, remote regulator.Client, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cat:    cat,
		repo:   repo,
		local:  validation.NewEngine(cat),
		remote: remote,
		logger: logger,
		Clock:  func() time.Time { return time.Now().UTC() },
	}
}

// Local returns the engine's local rule engine.
func (e *Engine) Local() *validation.Engine { return e.local }

// Steps derives the workflow step states for a submission.
func (e *Engine) Steps(sub *submission.Submission) []StepState {
	return Steps(sub)
}

// Validate runs the local rules and, when they pass, the regulator's
// authoritative rules, mapping every returned issue onto its question.
// The submission is saved with its refreshed issue set either way.
func (e *Engine) Validate(ctx context.Context, sub *submission.Submission) (*Result, error) {
	localIssues := e.runLocal(sub)
	if !validation.Summarize(localIssues).Clean() {
		e.save(ctx, sub)
		return &Result{Issues: localIssues}, nil
	}

	result, err := e.remoteValidate(ctx, sub, payloadFor(sub, e.cat, submission.FHIRInProgress))
	if err != nil {
		return nil, err
	}
	e.save(ctx, sub)
	return result, nil
}

// SubmitInitial performs the initial in-progress submission: local
// rules must pass, the regulator must accept, and on acceptance the
// remote identifier is recorded. Re-running after a prior acceptance
// succeeds without a duplicate submission.
func (e *Engine) SubmitInitial(ctx context.Context, sub *submission.Submission) (*Result, error) {
	localIssues := e.runLocal(sub)
	if !validation.Summarize(localIssues).Clean() {
		e.save(ctx, sub)
		return &Result{Issues: localIssues}, nil
	}

	revision := sub.ContentRevision()
	payload := payloadFor(sub, e.cat, submission.FHIRInProgress)

	result, err := e.remoteValidate(ctx, sub, payload)
	if err != nil {
		return nil, err
	}
	if result.Stale || !result.Success {
		if !result.Stale {
			e.Metrics.SubmissionRejected()
		}
		e.save(ctx, sub)
		return result, nil
	}

	submitted, err := e.remoteSubmit(ctx, payload)
	if err != nil {
		return nil, err
	}
	if sub.ContentRevision() != revision {
		e.Metrics.StaleResultDiscarded()
		return &Result{Stale: true}, nil
	}

	if err := sub.ApplyInitialAccepted(submitted.QuestionnaireResponseID, e.Clock()); err != nil {
		return nil, err
	}
	if err := e.repo.Save(ctx, sub); err != nil {
		return nil, err
	}

	e.Metrics.InitialSubmissionAccepted()
	e.logger.Info("initial submission accepted",
		zap.String("submission_id", sub.ID()),
		zap.String("questionnaire_response_id", submitted.QuestionnaireResponseID))
	return &Result{Success: true}, nil
}

// SubmitFinal performs a final submission. Guards run in order: the
// initial submission must have been accepted, local rules must pass,
// the user must have attested, and warnings currently on record must be
// acknowledged. Only then is the authoritative tier invoked; warnings
// it newly raises re-trip the acknowledgment guard. The scenario is
// classified at the moment of the attempt; on acceptance the scenario's
// target statuses, the submission time and the version number change
// together.
func (e *Engine) SubmitFinal(ctx context.Context, sub *submission.Submission) (*Result, error) {
	if sub.QuestionnaireResponseID() == nil {
		return nil, submission.ErrInitialSubmissionRequired
	}

	localIssues := e.runLocal(sub)
	summary := validation.Summarize(localIssues)
	if !summary.Clean() {
		e.save(ctx, sub)
		return &Result{Issues: localIssues}, nil
	}
	if !sub.Attested() {
		return nil, ErrAttestationRequired
	}
	if _, warns := sub.IssueCounts(); (summary.Warnings > 0 || warns > 0) && !sub.WarningsAcknowledged() {
		return nil, ErrWarningsNotAcknowledged
	}

	now := e.Clock()
	sc := scenario.ClassifySubmission(sub, now)
	cfg := scenario.Lookup(sc)

	revision := sub.ContentRevision()
	payload := payloadFor(sub, e.cat, cfg.TargetFHIRStatus)

	result, err := e.remoteValidate(ctx, sub, payload)
	if err != nil {
		return nil, err
	}
	result.Scenario = sc
	if result.Stale || !result.Success {
		if !result.Stale {
			e.Metrics.SubmissionRejected()
		}
		e.save(ctx, sub)
		return result, nil
	}

	_, warns := sub.IssueCounts()
	if warns > 0 && !sub.WarningsAcknowledged() {
		e.save(ctx, sub)
		return nil, ErrWarningsNotAcknowledged
	}

	submitted, err := e.remoteSubmit(ctx, payload)
	if err != nil {
		return nil, err
	}
	if sub.ContentRevision() != revision {
		e.Metrics.StaleResultDiscarded()
		return &Result{Stale: true, Scenario: sc}, nil
	}

	if err := sub.ApplyFinalAccepted(string(sc), cfg.TargetStatus, cfg.TargetFHIRStatus, now); err != nil {
		return nil, err
	}
	if err := e.repo.Save(ctx, sub); err != nil {
		return nil, err
	}

	e.Metrics.FinalSubmissionAccepted(string(sc))
	e.logger.Info("final submission accepted",
		zap.String("submission_id", sub.ID()),
		zap.String("scenario", string(sc)),
		zap.String("status", submitted.Status),
		zap.Int("version", sub.VersionNumber()))
	return &Result{Success: true, Scenario: sc}, nil
}

// runLocal recomputes the local issue set and records it.
func (e *Engine) runLocal(sub *submission.Submission) []submission.Issue {
	issues := e.local.Run(sub)
	e.Metrics.ValidationRun()
	for _, issue := range issues {
		e.Metrics.IssueRaised(string(issue.Severity), string(issue.Origin))
	}
	return issues
}

// remoteValidate calls the regulator and maps its issues onto the
// submission. Results describing content that changed while the call
// was in flight are discarded without touching attached issues.
func (e *Engine) remoteValidate(ctx context.Context, sub *submission.Submission, payload *r4.QuestionnaireResponse) (*Result, error) {
	revision := sub.ContentRevision()

	start := time.Now()
	vr, err := e.remote.Validate(ctx, payload)
	if err != nil {
		return nil, err
	}
	e.Metrics.RegulatorCall(time.Since(start))

	if sub.ContentRevision() != revision {
		e.Metrics.StaleResultDiscarded()
		e.logger.Debug("discarding stale validation result",
			zap.String("submission_id", sub.ID()),
			zap.Int64("revision", revision),
			zap.Int64("current", sub.ContentRevision()))
		return &Result{Stale: true}, nil
	}

	issues := make([]submission.Issue, 0, len(vr.Errors)+len(vr.Warnings))
	for _, issue := range vr.Errors {
		issues = append(issues, validation.FromOutcome(issue))
	}
	for _, issue := range vr.Warnings {
		issues = append(issues, validation.FromOutcome(issue))
	}
	for _, issue := range issues {
		e.Metrics.IssueRaised(string(issue.Severity), string(issue.Origin))
	}
	unmapped := validation.ApplyRegulatorIssues(sub, issues)

	return &Result{
		Success:  vr.Success,
		Issues:   issues,
		Unmapped: unmapped,
	}, nil
}

// remoteSubmit calls the regulator create/update endpoint, timing it.
func (e *Engine) remoteSubmit(ctx context.Context, payload *r4.QuestionnaireResponse) (*regulator.SubmitResult, error) {
	start := time.Now()
	submitted, err := e.remote.Submit(ctx, payload)
	if err != nil {
		return nil, err
	}
	e.Metrics.RegulatorCall(time.Since(start))
	return submitted, nil
}

// save persists refreshed issue state; failures are logged rather than
// surfaced since the validation outcome itself is still valid.
func (e *Engine) save(ctx context.Context, sub *submission.Submission) {
	if err := e.repo.Save(ctx, sub); err != nil {
		e.logger.Error("failed to save submission state",
			zap.String("submission_id", sub.ID()),
			zap.Error(err))
	}
}

func payloadFor(sub *submission.Submission, cat *catalog.Catalog, target submission.FHIRStatus) *r4.QuestionnaireResponse {
	payload := regulator.BuildPayload(sub, cat)
	switch target {
	case submission.FHIRCompleted:
		payload.Status = r4.StatusCompleted
	case submission.FHIRAmended:
		payload.Status = r4.StatusAmended
	default:
		payload.Status = r4.StatusInProgress
	}
	return payload
}
