// Package regulator provides the boundary to the government quality
// indicator endpoint: the authoritative rule set, the client contract,
// and resilience wrappers for the real network edge.
package regulator

import (
	"context"

	r4 "github.com/agedcare/go-nqip/internal/fhir/r4"
)

// ValidationResult is the outcome of an authoritative validation call.
type ValidationResult struct {
	Success  bool                       `json:"success"`
	Errors   []r4.OperationOutcomeIssue `json:"errors"`
	Warnings []r4.OperationOutcomeIssue `json:"warnings"`
}

// SubmitResult is the outcome of a create/update call. The identifier is
// assigned on first acceptance and echoed on later calls.
type SubmitResult struct {
	QuestionnaireResponseID string `json:"questionnaire_response_id"`
	Status                  string `json:"status"`
}

// Client is the remote regulator contract. Implementations may be slow
// or unavailable; callers must bound calls with a context deadline and
// treat results that no longer describe current content as stale.
type Client interface {
	Validate(ctx context.Context, payload *r4.QuestionnaireResponse) (*ValidationResult, error)
	Submit(ctx context.Context, payload *r4.QuestionnaireResponse) (*SubmitResult, error)
}
