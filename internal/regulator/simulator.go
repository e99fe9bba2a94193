package regulator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agedcare/go-nqip/internal/catalog"
	r4 "github.com/agedcare/go-nqip/internal/fhir/r4"
)

// Authoritative rule codes returned by the regulator.
const (
	CodeNegativeValue      = "negative-value"
	CodeTotalCountZero     = "total-count-zero"
	CodeStageExceedsTotal  = "stage-exceeds-total"
	CodeRateExceedsHundred = "rate-exceeds-100"
	CodeCommentRecommended = "comment-recommended"
)

// commentThreshold is the numeric value above which the regulator
// recommends commentary for the sub-section.
const commentThreshold = 50

// pressureInjuryIndicator is the indicator the stage/total cross-check
// applies to.
const pressureInjuryIndicator = "PI"

// SimulatorConfig tunes the in-process regulator.
type SimulatorConfig struct {
	// Latency is injected before every call to exercise the caller's
	// slow-endpoint handling. Zero disables it.
	Latency time.Duration
}

// Simulator is an in-process stand-in for the government endpoint. It
// applies the authoritative business rule set to submitted payloads and
// issues QuestionnaireResponse identifiers on first acceptance.
type Simulator struct {
	cat    *catalog.Catalog
	config SimulatorConfig
	logger *zap.Logger
}

// NewSimulator creates a simulated regulator over a catalog.
func NewSimulator(cat *catalog.Catalog, cfg SimulatorConfig, logger *zap.Logger) *Simulator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Simulator{cat: cat, config: cfg, logger: logger}
}

// Validate applies the authoritative rule set to the payload.
func (s *Simulator) Validate(ctx context.Context, payload *r4.QuestionnaireResponse) (*ValidationResult, error) {
	if err := s.sleep(ctx); err != nil {
		return nil, err
	}

	result := &ValidationResult{}
	for _, ref := range s.cat.Questions() {
		s.checkQuestion(payload, ref, result)
	}
	result.Success = len(result.Errors) == 0

	s.logger.Debug("regulator validation",
		zap.Bool("success", result.Success),
		zap.Int("errors", len(result.Errors)),
		zap.Int("warnings", len(result.Warnings)))
	return result, nil
}

// Submit accepts a payload, assigning an identifier on the first call
// and echoing the submitted status on later calls.
func (s *Simulator) Submit(ctx context.Context, payload *r4.QuestionnaireResponse) (*SubmitResult, error) {
	if err := s.sleep(ctx); err != nil {
		return nil, err
	}

	id := payload.ID
	if id == "" {
		id = uuid.New().String()
	}
	return &SubmitResult{
		QuestionnaireResponseID: id,
		Status:                  payload.Status,
	}, nil
}

func (s *Simulator) checkQuestion(payload *r4.QuestionnaireResponse, ref *catalog.Ref, result *ValidationResult) {
	question := ref.Question

	if question.Role == catalog.RoleComment {
		s.checkCommentRecommended(payload, ref, result)
		return
	}

	value, ok := intValue(payload, ref.IndicatorCode, question.LinkID)
	if !ok {
		return
	}

	if value < 0 {
		result.Errors = append(result.Errors, outcomeIssue(ref, r4.SeverityError,
			CodeNegativeValue, "value must be non-negative"))
		return
	}

	switch question.Role {
	case catalog.RoleTotalCount:
		if value == 0 {
			result.Errors = append(result.Errors, outcomeIssue(ref, r4.SeverityError,
				CodeTotalCountZero, "total count cannot be zero"))
		}
	case catalog.RoleSubordinateCount:
		if ref.IndicatorCode == pressureInjuryIndicator {
			s.checkStageAgainstTotal(payload, ref, value, result)
		}
	case catalog.RoleRate:
		if value > 100 {
			result.Errors = append(result.Errors, outcomeIssue(ref, r4.SeverityError,
				CodeRateExceedsHundred, "percentage exceeds 100"))
		}
	}
}

func (s *Simulator) checkStageAgainstTotal(payload *r4.QuestionnaireResponse, ref *catalog.Ref, value int, result *ValidationResult) {
	totalRef, ok := s.cat.TotalFor(ref)
	if !ok {
		return
	}
	total, ok := intValue(payload, totalRef.IndicatorCode, totalRef.Question.LinkID)
	if !ok {
		return
	}
	if value > total {
		result.Errors = append(result.Errors, outcomeIssue(ref, r4.SeverityError,
			CodeStageExceedsTotal, fmt.Sprintf("stage count %d exceeds total assessed %d", value, total)))
	}
}

func (s *Simulator) checkCommentRecommended(payload *r4.QuestionnaireResponse, ref *catalog.Ref, result *ValidationResult) {
	if answered(payload, ref.IndicatorCode, ref.Question.LinkID) {
		return
	}

	refs, _ := s.cat.Indicator(ref.IndicatorCode)
	for _, sibling := range refs {
		if sibling.SubSection != ref.SubSection || sibling.Question.ResponseType != catalog.ResponseInteger {
			continue
		}
		if value, ok := intValue(payload, sibling.IndicatorCode, sibling.Question.LinkID); ok && value > commentThreshold {
			result.Warnings = append(result.Warnings, outcomeIssue(ref, r4.SeverityWarning,
				CodeCommentRecommended, "comment recommended for high values"))
			return
		}
	}
}

func (s *Simulator) sleep(ctx context.Context) error {
	if s.config.Latency <= 0 {
		return nil
	}
	timer := time.NewTimer(s.config.Latency)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func intValue(payload *r4.QuestionnaireResponse, indicatorCode, linkID string) (int, bool) {
	answers := payload.AnswerFor(indicatorCode, linkID)
	for _, a := range answers {
		if a.ValueInteger != nil {
			return *a.ValueInteger, true
		}
	}
	return 0, false
}

func answered(payload *r4.QuestionnaireResponse, indicatorCode, linkID string) bool {
	for _, a := range payload.AnswerFor(indicatorCode, linkID) {
		if a.ValueInteger != nil || a.ValueBoolean != nil || a.ValueString != "" || a.ValueDate != "" {
			return true
		}
	}
	return false
}

func outcomeIssue(ref *catalog.Ref, severity, code, diagnostics string) r4.OperationOutcomeIssue {
	return r4.OperationOutcomeIssue{
		Severity:    severity,
		Code:        code,
		Diagnostics: diagnostics,
		Location:    []string{ref.Location()},
	}
}
