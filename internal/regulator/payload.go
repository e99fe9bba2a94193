package regulator

import (
	"strconv"
	"time"

	"github.com/agedcare/go-nqip/internal/catalog"
	"github.com/agedcare/go-nqip/internal/domain/submission"
	r4 "github.com/agedcare/go-nqip/internal/fhir/r4"
)

// BuildPayload assembles the wire QuestionnaireResponse from a
// submission's final values: one top-level item per indicator, one
// nested item per answered question, values typed per the catalog.
// Questions without a final value are omitted from the payload.
func BuildPayload(sub *submission.Submission, cat *catalog.Catalog) *r4.QuestionnaireResponse {
	payload := r4.NewQuestionnaireResponse(cat.Questionnaire().ID, payloadStatus(sub))
	if id := sub.QuestionnaireResponseID(); id != nil {
		payload.ID = *id
	}
	payload.Identifier = &r4.Identifier{
		System: r4.SystemServiceID,
		Value:  sub.FacilityID(),
	}
	payload.Authored = time.Now().UTC().Format(time.RFC3339)
	payload.Subject = &r4.Reference{
		Type:    "Organization",
		Display: sub.FacilityID(),
	}

	for _, resp := range sub.Responses() {
		group := r4.QuestionnaireResponseItem{
			LinkID: resp.IndicatorCode,
			Text:   resp.Title,
		}
		for _, answer := range resp.Answers {
			if !answer.Filled() {
				continue
			}
			ref, ok := cat.Lookup(resp.IndicatorCode, answer.LinkID)
			if !ok {
				continue
			}
			group.Item = append(group.Item, r4.QuestionnaireResponseItem{
				LinkID: answer.LinkID,
				Text:   ref.Question.Text,
				Answer: []r4.QuestionnaireResponseAnswer{typedAnswer(ref.Question.ResponseType, *answer.FinalValue)},
			})
		}
		if len(group.Item) > 0 {
			payload.Item = append(payload.Item, group)
		}
	}

	return payload
}

func payloadStatus(sub *submission.Submission) string {
	switch sub.FHIRStatus() {
	case submission.FHIRCompleted:
		return r4.StatusCompleted
	case submission.FHIRAmended:
		return r4.StatusAmended
	case submission.FHIREnteredInError:
		return r4.StatusEnteredInError
	default:
		return r4.StatusInProgress
	}
}

func typedAnswer(rt catalog.ResponseType, value string) r4.QuestionnaireResponseAnswer {
	switch rt {
	case catalog.ResponseInteger:
		if n, err := strconv.Atoi(value); err == nil {
			return r4.QuestionnaireResponseAnswer{ValueInteger: &n}
		}
	case catalog.ResponseBoolean:
		if b, err := strconv.ParseBool(value); err == nil {
			return r4.QuestionnaireResponseAnswer{ValueBoolean: &b}
		}
	case catalog.ResponseDate:
		return r4.QuestionnaireResponseAnswer{ValueDate: value}
	}
	return r4.QuestionnaireResponseAnswer{ValueString: value}
}
