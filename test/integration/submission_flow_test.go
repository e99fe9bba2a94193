// Package integration exercises the submission API end to end: chi
// router, API-key auth, workflow engine and the simulated regulator.
package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/agedcare/go-nqip/internal/api/handlers"
	"github.com/agedcare/go-nqip/internal/api/middleware"
	"github.com/agedcare/go-nqip/internal/catalog"
	"github.com/agedcare/go-nqip/internal/domain/submission"
	"github.com/agedcare/go-nqip/internal/regulator"
	"github.com/agedcare/go-nqip/internal/workflow"
)

const testAPIKey = "integration-test-key"

func newTestRouter(t *testing.T) (chi.Router, *workflow.Engine) {
	t.Helper()

	cat, err := catalog.Default()
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	repo := submission.NewMemoryRepository()
	remote := regulator.NewSimulator(cat, regulator.SimulatorConfig{}, nil)
	engine := workflow.NewEngine(cat, repo, remote, nil)

	handler := handlers.NewSubmissionHandler(repo, cat, engine, nil, nil)

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(map[string]string{testAPIKey: "RACS-0042"}))
		r.Mount("/submissions", handler.Routes())
	})
	return r, engine
}

func doJSON(t *testing.T, router chi.Router, method, path string, body interface{}, out interface{}) int {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("X-API-Key", testAPIKey)
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if out != nil && rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("%s %s: decode response %q: %v", method, path, rec.Body.String(), err)
		}
	}
	return rec.Code
}

type submissionBody struct {
	ID                      string  `json:"id"`
	FacilityID              string  `json:"facility_id"`
	Period                  string  `json:"period"`
	Status                  string  `json:"status"`
	FHIRStatus              string  `json:"fhir_status"`
	QuestionnaireResponseID *string `json:"questionnaire_response_id"`
	VersionNumber           int     `json:"version_number"`
	Errors                  int     `json:"errors"`
	Warnings                int     `json:"warnings"`
}

type resultBody struct {
	Success  bool   `json:"success"`
	Stale    bool   `json:"stale"`
	Scenario string `json:"scenario"`
}

func cleanValues() map[string]string {
	return map[string]string{
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
}

func TestSubmissionLifecycleOverHTTP(t *testing.T) {
	router, _ := newTestRouter(t)

	open := map[string]interface{}{
		"year":     2025,
		"quarter":  3,
		"due_date": time.Now().UTC().Add(30 * 24 * time.Hour),
	}

	var sub submissionBody
	if code := doJSON(t, router, http.MethodPost, "/api/v1/submissions", open, &sub); code != http.StatusCreated {
		t.Fatalf("open: expected 201, got %d", code)
	}
	if sub.FacilityID != "RACS-0042" {
		t.Errorf("facility must come from the API key, got %s", sub.FacilityID)
	}
	if sub.Status != "Not Started" {
		t.Errorf("expected Not Started, got %s", sub.Status)
	}
	base := "/api/v1/submissions/" + sub.ID

	// Opening the same period again returns the existing submission.
	var again submissionBody
	if code := doJSON(t, router, http.MethodPost, "/api/v1/submissions", open, &again); code != http.StatusOK {
		t.Fatalf("re-open: expected 200, got %d", code)
	}
	if again.ID != sub.ID {
		t.Error("re-opening a period must not create a second submission")
	}

	// Pipeline import then bulk prefill.
	var imported struct {
		Imported int `json:"imported"`
	}
	if code := doJSON(t, router, http.MethodPost, base+"/import",
		map[string]interface{}{"values": cleanValues()}, &imported); code != http.StatusOK {
		t.Fatalf("import: expected 200, got %d", code)
	}
	if imported.Imported != 19 {
		t.Errorf("expected 19 imported values, got %d", imported.Imported)
	}
	if code := doJSON(t, router, http.MethodPost, base+"/prefill",
		map[string]string{"mode": "all"}, &sub); code != http.StatusOK {
		t.Fatalf("prefill: expected 200, got %d", code)
	}

	// A manual correction over the prefilled value.
	if code := doJSON(t, router, http.MethodPut, base+"/answers/PI/pi-stage-one",
		map[string]interface{}{"value": "4"}, &sub); code != http.StatusOK {
		t.Fatalf("set answer: expected 200, got %d", code)
	}

	var result resultBody
	if code := doJSON(t, router, http.MethodPost, base+"/validate", nil, &result); code != http.StatusOK {
		t.Fatalf("validate: expected 200, got %d", code)
	}
	if !result.Success {
		t.Fatalf("expected clean validation, got %+v", result)
	}

	// Final before initial is a lifecycle conflict.
	if code := doJSON(t, router, http.MethodPost, base+"/submit/final", nil, nil); code != http.StatusConflict {
		t.Fatalf("premature final: expected 409, got %d", code)
	}

	if code := doJSON(t, router, http.MethodPost, base+"/submit/initial", nil, &result); code != http.StatusOK {
		t.Fatalf("submit initial: expected 200, got %d", code)
	}
	if !result.Success {
		t.Fatalf("expected initial acceptance, got %+v", result)
	}

	if code := doJSON(t, router, http.MethodGet, base, nil, &sub); code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", code)
	}
	if sub.QuestionnaireResponseID == nil || sub.Status != "In Progress" {
		t.Fatalf("expected identifier and In Progress, got %+v", sub)
	}

	// Final without attestation is still a conflict.
	if code := doJSON(t, router, http.MethodPost, base+"/submit/final", nil, nil); code != http.StatusConflict {
		t.Fatalf("unattested final: expected 409, got %d", code)
	}

	if code := doJSON(t, router, http.MethodPost, base+"/attest",
		map[string]bool{"attested": true}, nil); code != http.StatusOK {
		t.Fatalf("attest: expected 200, got %d", code)
	}

	if code := doJSON(t, router, http.MethodPost, base+"/submit/final", nil, &result); code != http.StatusOK {
		t.Fatalf("submit final: expected 200, got %d", code)
	}
	if !result.Success || result.Scenario != "first-submission" {
		t.Fatalf("expected first-submission acceptance, got %+v", result)
	}

	if code := doJSON(t, router, http.MethodGet, base, nil, &sub); code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", code)
	}
	if sub.Status != "Submitted" || sub.FHIRStatus != "completed" || sub.VersionNumber != 1 {
		t.Fatalf("expected Submitted/completed/v1, got %+v", sub)
	}

	var steps []struct {
		Step      string `json:"step"`
		Locked    bool   `json:"locked"`
		Completed bool   `json:"completed"`
	}
	if code := doJSON(t, router, http.MethodGet, base+"/steps", nil, &steps); code != http.StatusOK {
		t.Fatalf("steps: expected 200, got %d", code)
	}
	if len(steps) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(steps))
	}
	for _, step := range steps {
		if step.Locked || !step.Completed {
			t.Errorf("step %s should be unlocked and complete after acceptance", step.Step)
		}
	}

	var preview struct {
		Scenario string `json:"scenario"`
		Warning  string `json:"warning"`
	}
	if code := doJSON(t, router, http.MethodGet, base+"/scenario", nil, &preview); code != http.StatusOK {
		t.Fatalf("scenario: expected 200, got %d", code)
	}
	if preview.Scenario != "re-submit" || preview.Warning == "" {
		t.Errorf("expected re-submit preview with warning, got %+v", preview)
	}
}

func TestRejectedSubmissionSurfacesIssues(t *testing.T) {
	router, _ := newTestRouter(t)

	open := map[string]interface{}{
		"year":     2025,
		"quarter":  4,
		"due_date": time.Now().UTC().Add(30 * 24 * time.Hour),
	}
	var sub submissionBody
	if code := doJSON(t, router, http.MethodPost, "/api/v1/submissions", open, &sub); code != http.StatusCreated {
		t.Fatalf("open: expected 201, got %d", code)
	}
	base := "/api/v1/submissions/" + sub.ID

	values := cleanValues()
	values["PI/pi-total-assessed"] = "0"
	values["PI/pi-stage-one"] = "0"
	values["PI/pi-stage-two-plus"] = "0"
	doJSON(t, router, http.MethodPost, base+"/import", map[string]interface{}{"values": values}, nil)
	doJSON(t, router, http.MethodPost, base+"/prefill", map[string]string{"mode": "all"}, nil)

	var result resultBody
	if code := doJSON(t, router, http.MethodPost, base+"/submit/initial", nil, &result); code != http.StatusOK {
		t.Fatalf("submit initial: expected 200, got %d", code)
	}
	if result.Success {
		t.Fatal("zero totals must be rejected")
	}

	var issues struct {
		Errors int `json:"errors"`
		Issues []struct {
			Code     string `json:"code"`
			Location string `json:"location"`
			Origin   string `json:"origin"`
		} `json:"issues"`
	}
	if code := doJSON(t, router, http.MethodGet, base+"/issues", nil, &issues); code != http.StatusOK {
		t.Fatalf("issues: expected 200, got %d", code)
	}
	if issues.Errors != 1 {
		t.Fatalf("expected 1 error, got %d", issues.Errors)
	}
	issue := issues.Issues[0]
	if issue.Code != "total-count-zero" || issue.Location != "PI/pi-total-assessed" || issue.Origin != "regulator" {
		t.Errorf("unexpected issue %+v", issue)
	}

	// Correcting the value clears the regulator issue.
	doJSON(t, router, http.MethodPut, base+"/answers/PI/pi-total-assessed",
		map[string]interface{}{"value": "42"}, nil)
	if code := doJSON(t, router, http.MethodGet, base+"/issues", nil, &issues); code != http.StatusOK {
		t.Fatalf("issues: expected 200, got %d", code)
	}
	if issues.Errors != 0 {
		t.Errorf("expected issue cleared after correction, got %d errors", issues.Errors)
	}
}

func TestAuthRequired(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/submissions/some-id", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without a key, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/submissions/some-id", nil)
	req.Header.Set("Authorization", "Bearer wrong-key")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 with a bad key, got %d", rec.Code)
	}
}

func TestWarningAcknowledgmentOverHTTP(t *testing.T) {
	router, _ := newTestRouter(t)

	open := map[string]interface{}{
		"year":     2026,
		"quarter":  1,
		"due_date": time.Now().UTC().Add(30 * 24 * time.Hour),
	}
	var sub submissionBody
	doJSON(t, router, http.MethodPost, "/api/v1/submissions", open, &sub)
	base := fmt.Sprintf("/api/v1/submissions/%s", sub.ID)

	values := cleanValues()
	values["QOL/qol-good-rating-rate"] = "90"
	doJSON(t, router, http.MethodPost, base+"/import", map[string]interface{}{"values": values}, nil)
	doJSON(t, router, http.MethodPost, base+"/prefill", map[string]string{"mode": "all"}, nil)

	var result resultBody
	if code := doJSON(t, router, http.MethodPost, base+"/submit/initial", nil, &result); code != http.StatusOK || !result.Success {
		t.Fatalf("submit initial: code %d result %+v", code, result)
	}
	doJSON(t, router, http.MethodPost, base+"/attest", map[string]bool{"attested": true}, nil)

	if code := doJSON(t, router, http.MethodPost, base+"/submit/final", nil, nil); code != http.StatusConflict {
		t.Fatalf("unacknowledged warnings: expected 409, got %d", code)
	}

	doJSON(t, router, http.MethodPost, base+"/acknowledge-warnings", map[string]bool{"acknowledged": true}, nil)
	if code := doJSON(t, router, http.MethodPost, base+"/submit/final", nil, &result); code != http.StatusOK || !result.Success {
		t.Fatalf("submit final after acknowledgment: code %d result %+v", code, result)
	}
}
