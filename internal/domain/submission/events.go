// Package submission implements the quality-indicator submission
// aggregate and its domain events.
package submission

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of domain event
type EventType string

const (
	EventSubmissionOpened EventType = "SubmissionOpened"
	EventPipelineImported EventType = "PipelineImported"
	EventInitialSubmitted EventType = "InitialSubmitted"
	EventFinalSubmitted   EventType = "FinalSubmitted"
)

// Event represents a domain event
type Event struct {
	ID            string          `json:"id"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	EventType     EventType       `json:"event_type"`
	EventData     json.RawMessage `json:"event_data"`
	Version       int             `json:"version"`
	Timestamp     time.Time       `json:"timestamp"`
	FacilityID    string          `json:"facility_id,omitempty"`
	Period        string          `json:"period,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
}

// NewEvent creates a new event
func NewEvent(aggregateID string, eventType EventType, data interface{}) (*Event, error) {
	eventData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Event{
		ID:            uuid.New().String(),
		AggregateID:   aggregateID,
		AggregateType: "Submission",
		EventType:     eventType,
		EventData:     eventData,
		Timestamp:     time.Now().UTC(),
	}, nil
}

// WithAuditInfo sets audit fields
func (e *Event) WithAuditInfo(facilityID, period string) *Event {
	e.FacilityID = facilityID
	e.Period = period
	return e
}

// SubmissionOpenedData records the creation of a facility/period submission.
type SubmissionOpenedData struct {
	SubmissionID string    `json:"submission_id"`
	FacilityID   string    `json:"facility_id"`
	Period       string    `json:"period"`
	DueDate      time.Time `json:"due_date"`
	OpenedAt     time.Time `json:"opened_at"`
}

// PipelineImportedData records an ingest of pipeline-sourced values.
type PipelineImportedData struct {
	SubmissionID string    `json:"submission_id"`
	ValueCount   int       `json:"value_count"`
	ImportedAt   time.Time `json:"imported_at"`
}

// InitialSubmittedData records a successful initial in-progress submission.
type InitialSubmittedData struct {
	SubmissionID            string    `json:"submission_id"`
	QuestionnaireResponseID string    `json:"questionnaire_response_id"`
	Status                  string    `json:"status"`
	FHIRStatus              string    `json:"fhir_status"`
	ErrorCount              int       `json:"error_count"`
	WarningCount            int       `json:"warning_count"`
	SubmittedAt             time.Time `json:"submitted_at"`
}

// FinalSubmittedData records a successful final submission.
type FinalSubmittedData struct {
	SubmissionID            string    `json:"submission_id"`
	QuestionnaireResponseID string    `json:"questionnaire_response_id"`
	Scenario                string    `json:"scenario"`
	Status                  string    `json:"status"`
	FHIRStatus              string    `json:"fhir_status"`
	VersionNumber           int       `json:"version_number"`
	ErrorCount              int       `json:"error_count"`
	WarningCount            int       `json:"warning_count"`
	SubmittedAt             time.Time `json:"submitted_at"`
}
