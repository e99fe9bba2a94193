package submission

import (
	"errors"
	"fmt"
	"time"

	"github.com/agedcare/go-nqip/internal/catalog"
)

// Status mirrors the external regulatory lifecycle label shown to staff.
type Status string

const (
	StatusNotStarted      Status = "Not Started"
	StatusInProgress      Status = "In Progress"
	StatusSubmitted       Status = "Submitted"
	StatusResubmitted     Status = "Re-submitted"
	StatusUpdatedAfterDue Status = "Updated after due date"
	StatusSubmittedLate   Status = "Submitted late"
)

// FHIRStatus is the status of the remote QuestionnaireResponse record.
// FHIRNone means no remote record has been created yet.
type FHIRStatus string

const (
	FHIRNone           FHIRStatus = ""
	FHIRInProgress     FHIRStatus = "in-progress"
	FHIRCompleted      FHIRStatus = "completed"
	FHIRAmended        FHIRStatus = "amended"
	FHIREnteredInError FHIRStatus = "entered-in-error"
)

// Accepted reports whether the remote record has reached a terminal
// accepted state at least once.
func (s FHIRStatus) Accepted() bool {
	return s == FHIRCompleted || s == FHIRAmended
}

// ValidationState is the worst issue severity across a question set.
type ValidationState string

const (
	ValidationOK       ValidationState = "ok"
	ValidationWarnings ValidationState = "warnings"
	ValidationErrors   ValidationState = "errors"
)

// ResponseState is the derived per-indicator progress label.
type ResponseState string

const (
	ResponseNotStarted     ResponseState = "Not Started"
	ResponseDraft          ResponseState = "Draft"
	ResponseReadyForReview ResponseState = "Ready for Review"
	ResponseReviewed       ResponseState = "Reviewed"
	ResponseSubmitted      ResponseState = "Submitted"
)

// PrefillMode selects which questions a bulk prefill touches.
type PrefillMode string

const (
	PrefillAll         PrefillMode = "all"
	PrefillMissingOnly PrefillMode = "missing-only"
)

// ReportingPeriod identifies one quarterly collection window.
type ReportingPeriod struct {
	Year    int       `json:"year"`
	Quarter int       `json:"quarter"`
	DueDate time.Time `json:"due_date"`
}

// String returns the period label, e.g. "2025-Q3".
func (p ReportingPeriod) String() string {
	return fmt.Sprintf("%d-Q%d", p.Year, p.Quarter)
}

// IndicatorResponse groups the answers for one quality indicator.
type IndicatorResponse struct {
	IndicatorCode string
	Title         string
	Category      catalog.Category
	Answers       []*Answer
	byLink        map[string]*Answer
}

// Answer returns the answer for a linkId within this indicator.
func (r *IndicatorResponse) Answer(linkID string) (*Answer, bool) {
	a, ok := r.byLink[linkID]
	return a, ok
}

// ValidationState returns the worst severity among this indicator's questions.
func (r *IndicatorResponse) ValidationState() ValidationState {
	state := ValidationOK
	for _, a := range r.Answers {
		if a.HasErrors() {
			return ValidationErrors
		}
		if a.HasWarnings() {
			state = ValidationWarnings
		}
	}
	return state
}

// Guard violations surfaced by aggregate transitions.
var (
	ErrInitialSubmissionRequired = errors.New("initial submission has not been accepted yet")
	ErrAlreadyAccepted           = errors.New("submission already accepted for this version")
	ErrUnknownQuestion           = errors.New("question not present in this submission")
)

// Submission aggregates all indicator responses for one facility and
// reporting period. One instance exists per (facility, period) pair; it
// is never deleted, only superseded by new versions.
type Submission struct {
	id                      string
	facilityID              string
	period                  ReportingPeriod
	status                  Status
	fhirStatus              FHIRStatus
	questionnaireResponseID *string
	versionNumber           int
	lastSubmittedAt         *time.Time
	attested                bool
	warningsAcknowledged    bool
	contentRevision         int64
	eventVersion            int
	responses               []*IndicatorResponse
	byCode                  map[string]*IndicatorResponse
	unmapped                []Issue
	createdAt               time.Time
	updatedAt               time.Time
	changes                 []*Event
}

// New creates a submission with one empty answer per catalog question.
func New(id, facilityID string, period ReportingPeriod, cat *catalog.Catalog) *Submission {
	now := time.Now().UTC()
	s := &Submission{
		id:         id,
		facilityID: facilityID,
		period:     period,
		status:     StatusNotStarted,
		fhirStatus: FHIRNone,
		byCode:     make(map[string]*IndicatorResponse),
		createdAt:  now,
		updatedAt:  now,
		changes:    make([]*Event, 0),
	}

	for _, code := range cat.Indicators() {
		refs, _ := cat.Indicator(code)
		resp := &IndicatorResponse{
			IndicatorCode: code,
			byLink:        make(map[string]*Answer),
		}
		for _, ref := range refs {
			resp.Title = ref.Section.Title
			resp.Category = ref.Section.Category
			answer := &Answer{LinkID: ref.Question.LinkID, Required: ref.Question.Required}
			resp.Answers = append(resp.Answers, answer)
			resp.byLink[answer.LinkID] = answer
		}
		s.responses = append(s.responses, resp)
		s.byCode[code] = resp
	}

	event, err := NewEvent(id, EventSubmissionOpened, &SubmissionOpenedData{
		SubmissionID: id,
		FacilityID:   facilityID,
		Period:       period.String(),
		DueDate:      period.DueDate,
		OpenedAt:     now,
	})
	if err == nil {
		event.WithAuditInfo(facilityID, period.String())
		s.record(event)
	}

	return s
}

// record stamps a monotonic per-aggregate version onto an event and
// queues it as an uncommitted change.
func (s *Submission) record(event *Event) {
	s.eventVersion++
	event.Version = s.eventVersion
	s.changes = append(s.changes, event)
}

// ID returns the aggregate ID
func (s *Submission) ID() string { return s.id }

// FacilityID returns the owning facility
func (s *Submission) FacilityID() string { return s.facilityID }

// Period returns the reporting period
func (s *Submission) Period() ReportingPeriod { return s.period }

// Status returns the regulatory lifecycle label
func (s *Submission) Status() Status { return s.status }

// FHIRStatus returns the remote record status
func (s *Submission) FHIRStatus() FHIRStatus { return s.fhirStatus }

// QuestionnaireResponseID returns the remote record id, nil until the
// initial submission has been accepted.
func (s *Submission) QuestionnaireResponseID() *string { return s.questionnaireResponseID }

// VersionNumber returns the count of accepted final submissions.
func (s *Submission) VersionNumber() int { return s.versionNumber }

// LastSubmittedAt returns the time of the last accepted final submission.
func (s *Submission) LastSubmittedAt() *time.Time { return s.lastSubmittedAt }

// Attested reports the user attestation flag.
func (s *Submission) Attested() bool { return s.attested }

// WarningsAcknowledged reports the warning acknowledgment flag.
func (s *Submission) WarningsAcknowledged() bool { return s.warningsAcknowledged }

// ContentRevision increases on every reconciliation edit. Validation
// results tagged with an older revision no longer describe current
// content and must be discarded.
func (s *Submission) ContentRevision() int64 { return s.contentRevision }

// Responses returns all indicator responses in catalog order.
func (s *Submission) Responses() []*IndicatorResponse { return s.responses }

// Response returns the indicator response for a code.
func (s *Submission) Response(code string) (*IndicatorResponse, bool) {
	r, ok := s.byCode[code]
	return r, ok
}

// Changes returns uncommitted events
func (s *Submission) Changes() []*Event { return s.changes }

// ClearChanges clears uncommitted events
func (s *Submission) ClearChanges() { s.changes = make([]*Event, 0) }

// Answer resolves a question's answer by indicator code and linkId.
func (s *Submission) Answer(indicatorCode, linkID string) (*Answer, error) {
	resp, ok := s.byCode[indicatorCode]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnknownQuestion, indicatorCode, linkID)
	}
	answer, ok := resp.Answer(linkID)
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnknownQuestion, indicatorCode, linkID)
	}
	return answer, nil
}

// Attest records the user attestation flag for the final submission.
func (s *Submission) Attest(v bool) {
	s.attested = v
	s.touch()
}

// AcknowledgeWarnings records explicit acknowledgment of outstanding warnings.
func (s *Submission) AcknowledgeWarnings(v bool) {
	s.warningsAcknowledged = v
	s.touch()
}

// SetUserValue records a manual entry for one question. An empty or nil
// value is an explicit blank: it clears the final value but still counts
// as overridden, recording a decision rather than missing data. Any
// regulator issues attached to the question are cleared, since the user
// is presumed to be addressing feedback.
func (s *Submission) SetUserValue(indicatorCode, linkID string, value *string) error {
	answer, err := s.Answer(indicatorCode, linkID)
	if err != nil {
		return err
	}

	answer.UserValue = value
	if value == nil || *value == "" {
		answer.FinalValue = nil
	} else {
		answer.FinalValue = value
	}
	answer.Overridden = true
	answer.clearRegulatorIssues()
	s.bumpRevision()
	return nil
}

// RevertToPipeline restores the pipeline-sourced value for one question.
// Idempotent: reverting twice leaves the same state as once.
func (s *Submission) RevertToPipeline(indicatorCode, linkID string) error {
	answer, err := s.Answer(indicatorCode, linkID)
	if err != nil {
		return err
	}

	answer.UserValue = nil
	answer.FinalValue = answer.AutoValue
	answer.Overridden = false
	answer.clearRegulatorIssues()
	s.bumpRevision()
	return nil
}

// BulkPrefill copies pipeline values into final values. PrefillAll
// touches every question; PrefillMissingOnly only those whose final
// value is currently empty.
func (s *Submission) BulkPrefill(mode PrefillMode) error {
	switch mode {
	case PrefillAll, PrefillMissingOnly:
	default:
		return fmt.Errorf("unknown prefill mode %q", mode)
	}

	for _, resp := range s.responses {
		for _, answer := range resp.Answers {
			if mode == PrefillMissingOnly && answer.Filled() {
				continue
			}
			answer.UserValue = nil
			answer.FinalValue = answer.AutoValue
			answer.Overridden = false
			answer.clearRegulatorIssues()
		}
	}
	s.bumpRevision()
	return nil
}

// BulkClear blanks every question as an explicit user decision.
func (s *Submission) BulkClear() {
	for _, resp := range s.responses {
		for _, answer := range resp.Answers {
			answer.UserValue = nil
			answer.FinalValue = nil
			answer.Overridden = true
			answer.clearRegulatorIssues()
		}
	}
	s.bumpRevision()
}

// ImportPipeline ingests externally-sourced values, keyed by
// "{indicatorCode}/{linkId}". Auto values are immutable between import
// jobs; this is the only operation allowed to replace them. Values that
// do not match a question are ignored and reported in the count only if
// matched.
func (s *Submission) ImportPipeline(values map[string]string) int {
	imported := 0
	for _, resp := range s.responses {
		for _, answer := range resp.Answers {
			if v, ok := values[resp.IndicatorCode+"/"+answer.LinkID]; ok {
				value := v
				answer.AutoValue = &value
				imported++
			}
		}
	}

	if imported > 0 {
		s.bumpRevision()
		if event, err := NewEvent(s.id, EventPipelineImported, &PipelineImportedData{
			SubmissionID: s.id,
			ValueCount:   imported,
			ImportedAt:   time.Now().UTC(),
		}); err == nil {
			event.WithAuditInfo(s.facilityID, s.period.String())
			s.record(event)
		}
	}
	return imported
}

// ClearRegulatorIssues removes remote-origin issues from every question
// and the submission-level unmapped list. Called before re-applying a
// fresh regulator result so issue sets replace rather than accumulate.
func (s *Submission) ClearRegulatorIssues() {
	for _, resp := range s.responses {
		for _, answer := range resp.Answers {
			answer.clearRegulatorIssues()
		}
	}
	s.unmapped = nil
}

// ClearLocalIssues removes local-origin issues from every question.
// Local rules are recomputed fresh on every run, never cached.
func (s *Submission) ClearLocalIssues() {
	for _, resp := range s.responses {
		for _, answer := range resp.Answers {
			answer.clearLocalIssues()
		}
	}
}

// AttachIssue appends an issue to the question it addresses. Issues
// referencing an unknown question are kept at submission level rather
// than silently dropped.
func (s *Submission) AttachIssue(issue Issue) {
	answer, err := s.Answer(issue.IndicatorCode, issue.QuestionLinkID)
	if err != nil {
		s.unmapped = append(s.unmapped, issue)
		return
	}
	answer.Issues = append(answer.Issues, issue)
}

// UnmappedIssues returns submission-level issues that matched no question.
func (s *Submission) UnmappedIssues() []Issue { return s.unmapped }

// IssueCounts returns the number of error and warning issues attached
// across all questions and the unmapped list.
func (s *Submission) IssueCounts() (errs, warns int) {
	count := func(issues []Issue) {
		for _, issue := range issues {
			switch issue.Severity {
			case SeverityError:
				errs++
			case SeverityWarning:
				warns++
			}
		}
	}
	for _, resp := range s.responses {
		for _, answer := range resp.Answers {
			count(answer.Issues)
		}
	}
	count(s.unmapped)
	return errs, warns
}

// ResponseState derives the progress label for one indicator.
func (s *Submission) ResponseState(code string) (ResponseState, error) {
	resp, ok := s.byCode[code]
	if !ok {
		return "", fmt.Errorf("unknown indicator %q", code)
	}

	if s.fhirStatus.Accepted() {
		return ResponseSubmitted, nil
	}

	touched := false
	requiredMissing := false
	hasErrors := false
	hasWarnings := false
	for _, answer := range resp.Answers {
		if answer.Filled() || answer.Overridden {
			touched = true
		}
		if answer.Required && !answer.Filled() {
			requiredMissing = true
		}
		if answer.HasErrors() {
			hasErrors = true
		}
		if answer.HasWarnings() {
			hasWarnings = true
		}
	}

	switch {
	case !touched:
		return ResponseNotStarted, nil
	case hasErrors || requiredMissing:
		return ResponseDraft, nil
	case hasWarnings:
		return ResponseReadyForReview, nil
	default:
		return ResponseReviewed, nil
	}
}

// ApplyInitialAccepted records acceptance of the initial in-progress
// submission. Re-running after a prior acceptance is a no-op success,
// not a duplicate submission; no event is emitted on re-entry.
func (s *Submission) ApplyInitialAccepted(questionnaireResponseID string, now time.Time) error {
	if s.questionnaireResponseID != nil {
		return nil
	}

	errCount, warnCount := s.IssueCounts()
	event, err := NewEvent(s.id, EventInitialSubmitted, &InitialSubmittedData{
		SubmissionID:            s.id,
		QuestionnaireResponseID: questionnaireResponseID,
		Status:                  string(StatusInProgress),
		FHIRStatus:              string(FHIRInProgress),
		ErrorCount:              errCount,
		WarningCount:            warnCount,
		SubmittedAt:             now,
	})
	if err != nil {
		return err
	}
	event.WithAuditInfo(s.facilityID, s.period.String())

	s.questionnaireResponseID = &questionnaireResponseID
	s.fhirStatus = FHIRInProgress
	s.status = StatusInProgress
	s.touch()
	s.record(event)
	return nil
}

// ApplyFinalAccepted records acceptance of a final submission: the
// scenario-selected statuses, submission time and version number change
// together, atomically, only here.
func (s *Submission) ApplyFinalAccepted(scenarioName string, status Status, fhirStatus FHIRStatus, now time.Time) error {
	if s.questionnaireResponseID == nil {
		return ErrInitialSubmissionRequired
	}

	errCount, warnCount := s.IssueCounts()
	event, err := NewEvent(s.id, EventFinalSubmitted, &FinalSubmittedData{
		SubmissionID:            s.id,
		QuestionnaireResponseID: *s.questionnaireResponseID,
		Scenario:                scenarioName,
		Status:                  string(status),
		FHIRStatus:              string(fhirStatus),
		VersionNumber:           s.versionNumber + 1,
		ErrorCount:              errCount,
		WarningCount:            warnCount,
		SubmittedAt:             now,
	})
	if err != nil {
		return err
	}
	event.WithAuditInfo(s.facilityID, s.period.String())

	submitted := now
	s.status = status
	s.fhirStatus = fhirStatus
	s.lastSubmittedAt = &submitted
	s.versionNumber++
	s.touch()
	s.record(event)
	return nil
}

func (s *Submission) bumpRevision() {
	s.contentRevision++
	s.touch()
}

func (s *Submission) touch() {
	s.updatedAt = time.Now().UTC()
}

// CreatedAt returns the aggregate creation time.
func (s *Submission) CreatedAt() time.Time { return s.createdAt }

// UpdatedAt returns the last mutation time.
func (s *Submission) UpdatedAt() time.Time { return s.updatedAt }
