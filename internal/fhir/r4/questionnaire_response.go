package r4

import "encoding/json"

// QuestionnaireResponse is the payload sent to the regulator on
// validation and create/update calls. Top-level items are indicator
// groups; nested items carry the typed answers keyed by linkId.
type QuestionnaireResponse struct {
	ResourceType  string                      `json:"resourceType"`
	ID            string                      `json:"id,omitempty"`
	Meta          *Meta                       `json:"meta,omitempty"`
	Identifier    *Identifier                 `json:"identifier,omitempty"`
	Questionnaire string                      `json:"questionnaire,omitempty"`
	Status        string                      `json:"status"`
	Subject       *Reference                  `json:"subject,omitempty"`
	Authored      string                      `json:"authored,omitempty"`
	Item          []QuestionnaireResponseItem `json:"item,omitempty"`
}

// QuestionnaireResponseItem is a group or question entry.
type QuestionnaireResponseItem struct {
	LinkID string                        `json:"linkId"`
	Text   string                        `json:"text,omitempty"`
	Item   []QuestionnaireResponseItem   `json:"item,omitempty"`
	Answer []QuestionnaireResponseAnswer `json:"answer,omitempty"`
}

// QuestionnaireResponseAnswer is a typed answer value.
type QuestionnaireResponseAnswer struct {
	ValueInteger *int    `json:"valueInteger,omitempty"`
	ValueString  string  `json:"valueString,omitempty"`
	ValueDate    string  `json:"valueDate,omitempty"`
	ValueBoolean *bool   `json:"valueBoolean,omitempty"`
	ValueCoding  *Coding `json:"valueCoding,omitempty"`
}

// NewQuestionnaireResponse creates an empty response shell.
func NewQuestionnaireResponse(questionnaire, status string) *QuestionnaireResponse {
	return &QuestionnaireResponse{
		ResourceType:  "QuestionnaireResponse",
		Questionnaire: questionnaire,
		Status:        status,
	}
}

// IndicatorGroup finds the top-level item for an indicator code.
func (q *QuestionnaireResponse) IndicatorGroup(code string) *QuestionnaireResponseItem {
	for i := range q.Item {
		if q.Item[i].LinkID == code {
			return &q.Item[i]
		}
	}
	return nil
}

// AnswerFor finds the answer slice for a question within an indicator
// group, descending one level of nesting.
func (q *QuestionnaireResponse) AnswerFor(indicatorCode, linkID string) []QuestionnaireResponseAnswer {
	group := q.IndicatorGroup(indicatorCode)
	if group == nil {
		return nil
	}
	return findAnswer(group.Item, linkID)
}

func findAnswer(items []QuestionnaireResponseItem, linkID string) []QuestionnaireResponseAnswer {
	for i := range items {
		if items[i].LinkID == linkID {
			return items[i].Answer
		}
		if found := findAnswer(items[i].Item, linkID); found != nil {
			return found
		}
	}
	return nil
}

// ToJSON serializes the response.
func (q *QuestionnaireResponse) ToJSON() ([]byte, error) {
	return json.Marshal(q)
}

// FromJSON deserializes a response.
func (q *QuestionnaireResponse) FromJSON(data []byte) error {
	return json.Unmarshal(data, q)
}
