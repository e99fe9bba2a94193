// Package handlers provides HTTP handlers for the submission API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/agedcare/go-nqip/internal/api/middleware"
	"github.com/agedcare/go-nqip/internal/catalog"
	"github.com/agedcare/go-nqip/internal/domain/submission"
	"github.com/agedcare/go-nqip/internal/scenario"
	"github.com/agedcare/go-nqip/internal/workflow"
)

// EventSource reads a submission's audit trail.
type EventSource interface {
	GetEvents(ctx context.Context, aggregateID string) ([]*submission.Event, error)
}

// SubmissionHandler handles submission endpoints
type SubmissionHandler struct {
	repo   submission.Repository
	cat    *catalog.Catalog
	engine *workflow.Engine
	events EventSource
	logger *zap.Logger
}

// NewSubmissionHandler creates a new handler. events may be nil when no
// audit store is configured.
func NewSubmissionHandler(repo submission.Repository, cat *catalog.Catalog, engine *workflow.Engine, events EventSource, logger *zap.Logger) *SubmissionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SubmissionHandler{
		repo:   repo,
		cat:    cat,
		engine: engine,
		events: events,
		logger: logger,
	}
}

// Routes returns the handler routes
func (h *SubmissionHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Open)
	r.Get("/{id}", h.Get)
	r.Get("/{id}/issues", h.Issues)
	r.Get("/{id}/steps", h.Steps)
	r.Get("/{id}/scenario", h.Scenario)
	r.Get("/{id}/events", h.Events)
	r.Put("/{id}/answers/{indicator}/{linkID}", h.SetAnswer)
	r.Post("/{id}/answers/{indicator}/{linkID}/revert", h.Revert)
	r.Post("/{id}/prefill", h.Prefill)
	r.Post("/{id}/clear", h.Clear)
	r.Post("/{id}/import", h.Import)
	r.Post("/{id}/attest", h.Attest)
	r.Post("/{id}/acknowledge-warnings", h.AcknowledgeWarnings)
	r.Post("/{id}/validate", h.Validate)
	r.Post("/{id}/submit/initial", h.SubmitInitial)
	r.Post("/{id}/submit/final", h.SubmitFinal)
	return r
}

// OpenRequest is the request body for opening a submission
type OpenRequest struct {
	FacilityID string    `json:"facility_id"`
	Year       int       `json:"year"`
	Quarter    int       `json:"quarter"`
	DueDate    time.Time `json:"due_date"`
}

// Open handles POST /submissions. Opening is idempotent per facility
// and period: a second open returns the existing submission.
func (h *SubmissionHandler) Open(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("submission-handler")
	ctx, span := tracer.Start(ctx, "open_submission")
	defer span.End()

	var req OpenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.FacilityID == "" {
		req.FacilityID = middleware.GetFacilityID(ctx)
	}
	if req.FacilityID == "" {
		h.jsonError(w, "facility_id is required", http.StatusBadRequest)
		return
	}
	if req.Quarter < 1 || req.Quarter > 4 {
		h.jsonError(w, "quarter must be between 1 and 4", http.StatusBadRequest)
		return
	}

	period := submission.ReportingPeriod{Year: req.Year, Quarter: req.Quarter, DueDate: req.DueDate}

	if existing, err := h.repo.GetByPeriod(ctx, req.FacilityID, period.String()); err == nil {
		h.writeJSON(w, http.StatusOK, h.view(existing))
		return
	}

	sub := submission.New(uuid.New().String(), req.FacilityID, period, h.cat)
	span.SetAttributes(attribute.String("submission_id", sub.ID()))

	if err := h.repo.Save(ctx, sub); err != nil {
		h.logger.Error("save failed", zap.Error(err))
		h.jsonError(w, "failed to save submission", http.StatusInternalServerError)
		return
	}

	h.engine.Metrics.SubmissionOpened()
	h.logger.Info("submission opened",
		zap.String("id", sub.ID()),
		zap.String("facility_id", req.FacilityID),
		zap.String("period", period.String()),
		zap.String("request_id", middleware.GetRequestID(ctx)),
	)

	h.writeJSON(w, http.StatusCreated, h.view(sub))
}

// Get handles GET /submissions/{id}
func (h *SubmissionHandler) Get(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.load(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, h.view(sub))
}

// AnswerRequest is the request body for setting an answer
type AnswerRequest struct {
	Value *string `json:"value"`
}

// SetAnswer handles PUT /submissions/{id}/answers/{indicator}/{linkID}.
// A null or empty value is an explicit blank, not an absence of input.
func (h *SubmissionHandler) SetAnswer(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.load(w, r)
	if !ok {
		return
	}

	var req AnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	indicator := chi.URLParam(r, "indicator")
	linkID := chi.URLParam(r, "linkID")
	if err := sub.SetUserValue(indicator, linkID, req.Value); err != nil {
		h.jsonError(w, err.Error(), http.StatusNotFound)
		return
	}

	h.saveAndRespond(w, r, sub)
}

// Revert handles POST /submissions/{id}/answers/{indicator}/{linkID}/revert
func (h *SubmissionHandler) Revert(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.load(w, r)
	if !ok {
		return
	}

	indicator := chi.URLParam(r, "indicator")
	linkID := chi.URLParam(r, "linkID")
	if err := sub.RevertToPipeline(indicator, linkID); err != nil {
		h.jsonError(w, err.Error(), http.StatusNotFound)
		return
	}

	h.saveAndRespond(w, r, sub)
}

// PrefillRequest is the request body for a bulk prefill
type PrefillRequest struct {
	Mode submission.PrefillMode `json:"mode"`
}

// Prefill handles POST /submissions/{id}/prefill
func (h *SubmissionHandler) Prefill(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.load(w, r)
	if !ok {
		return
	}

	req := PrefillRequest{Mode: submission.PrefillAll}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.jsonError(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}

	if err := sub.BulkPrefill(req.Mode); err != nil {
		h.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	h.saveAndRespond(w, r, sub)
}

// Clear handles POST /submissions/{id}/clear
func (h *SubmissionHandler) Clear(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.load(w, r)
	if !ok {
		return
	}

	sub.BulkClear()
	h.saveAndRespond(w, r, sub)
}

// ImportRequest is the request body for a pipeline import
type ImportRequest struct {
	Values map[string]string `json:"values"`
}

// Import handles POST /submissions/{id}/import. Values are keyed by
// "{indicatorCode}/{linkId}"; unmatched keys are ignored.
func (h *SubmissionHandler) Import(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.load(w, r)
	if !ok {
		return
	}

	var req ImportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	imported := sub.ImportPipeline(req.Values)
	if err := h.repo.Save(r.Context(), sub); err != nil {
		h.logger.Error("save failed", zap.Error(err))
		h.jsonError(w, "failed to save submission", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"imported": imported,
	})
}

// AttestRequest is the request body for attestation
type AttestRequest struct {
	Attested bool `json:"attested"`
}

// Attest handles POST /submissions/{id}/attest
func (h *SubmissionHandler) Attest(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.load(w, r)
	if !ok {
		return
	}

	var req AttestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	sub.Attest(req.Attested)
	h.saveAndRespond(w, r, sub)
}

// AcknowledgeRequest is the request body for warning acknowledgment
type AcknowledgeRequest struct {
	Acknowledged bool `json:"acknowledged"`
}

// AcknowledgeWarnings handles POST /submissions/{id}/acknowledge-warnings
func (h *SubmissionHandler) AcknowledgeWarnings(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.load(w, r)
	if !ok {
		return
	}

	var req AcknowledgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	sub.AcknowledgeWarnings(req.Acknowledged)
	h.saveAndRespond(w, r, sub)
}

// Validate handles POST /submissions/{id}/validate
func (h *SubmissionHandler) Validate(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.load(w, r)
	if !ok {
		return
	}

	result, err := h.engine.Validate(r.Context(), sub)
	if err != nil {
		h.logger.Error("validation failed", zap.Error(err))
		h.jsonError(w, "regulator validation unavailable", http.StatusBadGateway)
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// SubmitInitial handles POST /submissions/{id}/submit/initial
func (h *SubmissionHandler) SubmitInitial(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.load(w, r)
	if !ok {
		return
	}

	result, err := h.engine.SubmitInitial(r.Context(), sub)
	if err != nil {
		h.logger.Error("initial submission failed", zap.Error(err))
		h.jsonError(w, "regulator unavailable", http.StatusBadGateway)
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// SubmitFinal handles POST /submissions/{id}/submit/final
func (h *SubmissionHandler) SubmitFinal(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.load(w, r)
	if !ok {
		return
	}

	result, err := h.engine.SubmitFinal(r.Context(), sub)
	if err != nil {
		switch {
		case errors.Is(err, submission.ErrInitialSubmissionRequired),
			errors.Is(err, workflow.ErrAttestationRequired),
			errors.Is(err, workflow.ErrWarningsNotAcknowledged):
			h.jsonError(w, err.Error(), http.StatusConflict)
		default:
			h.logger.Error("final submission failed", zap.Error(err))
			h.jsonError(w, "regulator unavailable", http.StatusBadGateway)
		}
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// Issues handles GET /submissions/{id}/issues
func (h *SubmissionHandler) Issues(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.load(w, r)
	if !ok {
		return
	}

	var issues []issueView
	for _, resp := range sub.Responses() {
		for _, answer := range resp.Answers {
			for _, issue := range answer.Issues {
				issues = append(issues, newIssueView(issue))
			}
		}
	}
	for _, issue := range sub.UnmappedIssues() {
		issues = append(issues, newIssueView(issue))
	}

	errs, warns := sub.IssueCounts()
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"errors":   errs,
		"warnings": warns,
		"issues":   issues,
	})
}

// Steps handles GET /submissions/{id}/steps
func (h *SubmissionHandler) Steps(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.load(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, h.engine.Steps(sub))
}

// Scenario handles GET /submissions/{id}/scenario. It previews the
// classification a final submission would get right now.
func (h *SubmissionHandler) Scenario(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.load(w, r)
	if !ok {
		return
	}

	sc := scenario.ClassifySubmission(sub, h.engine.Clock())
	cfg := scenario.Lookup(sc)
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"scenario":    sc,
		"label":       cfg.Label,
		"description": cfg.Description,
		"warning":     cfg.Warning,
	})
}

// Events handles GET /submissions/{id}/events
func (h *SubmissionHandler) Events(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		h.jsonError(w, "audit trail not configured", http.StatusNotFound)
		return
	}

	sub, ok := h.load(w, r)
	if !ok {
		return
	}

	events, err := h.events.GetEvents(r.Context(), sub.ID())
	if err != nil {
		h.jsonError(w, "failed to get events", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, events)
}

func (h *SubmissionHandler) load(w http.ResponseWriter, r *http.Request) (*submission.Submission, bool) {
	id := chi.URLParam(r, "id")
	sub, err := h.repo.Get(r.Context(), id)
	if err != nil {
		h.jsonError(w, "submission not found", http.StatusNotFound)
		return nil, false
	}
	return sub, true
}

func (h *SubmissionHandler) saveAndRespond(w http.ResponseWriter, r *http.Request, sub *submission.Submission) {
	if err := h.repo.Save(r.Context(), sub); err != nil {
		h.logger.Error("save failed", zap.Error(err))
		h.jsonError(w, "failed to save submission", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, h.view(sub))
}

func (h *SubmissionHandler) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (h *SubmissionHandler) jsonError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
