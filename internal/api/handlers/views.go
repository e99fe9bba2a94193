package handlers

import (
	"time"

	"github.com/agedcare/go-nqip/internal/domain/submission"
)

// submissionView is the wire representation of a submission.
type submissionView struct {
	ID                      string          `json:"id"`
	FacilityID              string          `json:"facility_id"`
	Period                  string          `json:"period"`
	DueDate                 time.Time       `json:"due_date"`
	Status                  string          `json:"status"`
	FHIRStatus              string          `json:"fhir_status,omitempty"`
	QuestionnaireResponseID *string         `json:"questionnaire_response_id,omitempty"`
	VersionNumber           int             `json:"version_number"`
	LastSubmittedAt         *time.Time      `json:"last_submitted_at,omitempty"`
	Attested                bool            `json:"attested"`
	WarningsAcknowledged    bool            `json:"warnings_acknowledged"`
	ContentRevision         int64           `json:"content_revision"`
	Errors                  int             `json:"errors"`
	Warnings                int             `json:"warnings"`
	Responses               []indicatorView `json:"responses"`
	UpdatedAt               time.Time       `json:"updated_at"`
}

// indicatorView is the wire representation of one indicator's answers.
type indicatorView struct {
	IndicatorCode   string       `json:"indicator_code"`
	Title           string       `json:"title"`
	Category        string       `json:"category"`
	State           string       `json:"state"`
	ValidationState string       `json:"validation_state"`
	Answers         []answerView `json:"answers"`
}

type answerView struct {
	LinkID     string      `json:"link_id"`
	Required   bool        `json:"required"`
	AutoValue  *string     `json:"auto_value,omitempty"`
	UserValue  *string     `json:"user_value,omitempty"`
	FinalValue *string     `json:"final_value,omitempty"`
	Overridden bool        `json:"overridden"`
	Issues     []issueView `json:"issues,omitempty"`
}

type issueView struct {
	Severity    string `json:"severity"`
	Code        string `json:"code"`
	Diagnostics string `json:"diagnostics"`
	Location    string `json:"location"`
	Origin      string `json:"origin"`
}

func newIssueView(issue submission.Issue) issueView {
	return issueView{
		Severity:    string(issue.Severity),
		Code:        issue.Code,
		Diagnostics: issue.Diagnostics,
		Location:    issue.Location(),
		Origin:      string(issue.Origin),
	}
}

func (h *SubmissionHandler) view(sub *submission.Submission) submissionView {
	errs, warns := sub.IssueCounts()
	v := submissionView{
		ID:                      sub.ID(),
		FacilityID:              sub.FacilityID(),
		Period:                  sub.Period().String(),
		DueDate:                 sub.Period().DueDate,
		Status:                  string(sub.Status()),
		FHIRStatus:              string(sub.FHIRStatus()),
		QuestionnaireResponseID: sub.QuestionnaireResponseID(),
		VersionNumber:           sub.VersionNumber(),
		LastSubmittedAt:         sub.LastSubmittedAt(),
		Attested:                sub.Attested(),
		WarningsAcknowledged:    sub.WarningsAcknowledged(),
		ContentRevision:         sub.ContentRevision(),
		Errors:                  errs,
		Warnings:                warns,
		UpdatedAt:               sub.UpdatedAt(),
	}

	for _, resp := range sub.Responses() {
		state, _ := sub.ResponseState(resp.IndicatorCode)
		iv := indicatorView{
			IndicatorCode:   resp.IndicatorCode,
			Title:           resp.Title,
			Category:        string(resp.Category),
			State:           string(state),
			ValidationState: string(resp.ValidationState()),
		}
		for _, answer := range resp.Answers {
			av := answerView{
				LinkID:     answer.LinkID,
				Required:   answer.Required,
				AutoValue:  answer.AutoValue,
				UserValue:  answer.UserValue,
				FinalValue: answer.FinalValue,
				Overridden: answer.Overridden,
			}
			for _, issue := range answer.Issues {
				av.Issues = append(av.Issues, newIssueView(issue))
			}
			iv.Answers = append(iv.Answers, av)
		}
		v.Responses = append(v.Responses, iv)
	}

	return v
}
