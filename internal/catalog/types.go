// Package catalog provides the immutable quality-indicator questionnaire
// catalog consumed by reconciliation, validation and the submission workflow.
package catalog

// ResponseType is the expected answer type for a question.
type ResponseType string

const (
	ResponseInteger ResponseType = "integer"
	ResponseString  ResponseType = "string"
	ResponseDate    ResponseType = "date"
	ResponseBoolean ResponseType = "boolean"
)

// Role is the structural role a question plays within its sub-section.
// Roles are declared in the catalog rather than guessed from linkId
// naming conventions, so validation rules consume structured data.
type Role string

const (
	RoleNone             Role = "none"
	RoleTotalCount       Role = "total-count"
	RoleSubordinateCount Role = "subordinate-count"
	RoleComment          Role = "comment"
	RoleRate             Role = "rate"
)

// Category groups indicators by regulatory reporting domain.
type Category string

const (
	CategoryClinical   Category = "Clinical"
	CategoryExperience Category = "Experience"
	CategoryWorkforce  Category = "Workforce"
)

// Question is a single catalog question definition.
type Question struct {
	LinkID       string       `json:"linkId"`
	Text         string       `json:"text"`
	ResponseType ResponseType `json:"responseType"`
	Required     bool         `json:"required"`
	Role         Role         `json:"role,omitempty"`
}

// SubSection groups related questions within an indicator.
type SubSection struct {
	Code      string     `json:"code"`
	Title     string     `json:"title"`
	Questions []Question `json:"questions"`
}

// Section is one quality indicator, identified by a short stable code
// such as "PI" for pressure injuries.
type Section struct {
	Code        string       `json:"code"`
	Title       string       `json:"title"`
	Category    Category     `json:"category"`
	SubSections []SubSection `json:"subSections"`
}

// Questionnaire is the root of the catalog tree.
type Questionnaire struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Version  string    `json:"version"`
	Sections []Section `json:"sections"`
}
