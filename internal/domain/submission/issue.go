package submission

// IssueSeverity classifies a validation issue.
type IssueSeverity string

const (
	SeverityError       IssueSeverity = "error"
	SeverityWarning     IssueSeverity = "warning"
	SeverityInformation IssueSeverity = "information"
)

// IssueOrigin records which validation tier produced an issue. Local
// issues are recomputed continuously from current state; regulator
// issues are attached by a submit attempt and cleared by the next edit
// to the question or the next regulator run.
type IssueOrigin string

const (
	OriginLocal     IssueOrigin = "local"
	OriginRegulator IssueOrigin = "regulator"
)

// Issue is a validation finding addressed to a specific question.
type Issue struct {
	Severity       IssueSeverity `json:"severity"`
	Code           string        `json:"code"`
	Diagnostics    string        `json:"diagnostics"`
	IndicatorCode  string        `json:"indicator_code"`
	QuestionLinkID string        `json:"question_link_id"`
	Origin         IssueOrigin   `json:"origin"`
}

// Location returns the canonical "{indicatorCode}/{questionLinkId}" address.
func (i Issue) Location() string {
	return i.IndicatorCode + "/" + i.QuestionLinkID
}
