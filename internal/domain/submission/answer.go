package submission

// Answer holds the reconciled value for one question in one submission.
// AutoValue is the pipeline-sourced value ingested from the clinical
// system; UserValue is a manual entry. FinalValue is the authoritative
// merge of the two. Overridden is true iff the final value's provenance
// is user-entered, including an explicit user-initiated blank.
type Answer struct {
	LinkID     string  `json:"link_id"`
	Required   bool    `json:"required"`
	AutoValue  *string `json:"auto_value,omitempty"`
	UserValue  *string `json:"user_value,omitempty"`
	FinalValue *string `json:"final_value,omitempty"`
	Overridden bool    `json:"overridden"`
	Issues     []Issue `json:"issues,omitempty"`
}

// Filled reports whether the answer carries a non-empty final value.
func (a *Answer) Filled() bool {
	return a.FinalValue != nil && *a.FinalValue != ""
}

// Errors returns the diagnostics of attached error issues.
func (a *Answer) Errors() []string {
	return a.diagnostics(SeverityError)
}

// Warnings returns the diagnostics of attached warning issues.
func (a *Answer) Warnings() []string {
	return a.diagnostics(SeverityWarning)
}

func (a *Answer) diagnostics(severity IssueSeverity) []string {
	var out []string
	for _, issue := range a.Issues {
		if issue.Severity == severity {
			out = append(out, issue.Diagnostics)
		}
	}
	return out
}

// HasErrors reports whether any error issue is attached.
func (a *Answer) HasErrors() bool {
	for _, issue := range a.Issues {
		if issue.Severity == SeverityError {
			return true
		}
	}
	return false
}

// HasWarnings reports whether any warning issue is attached.
func (a *Answer) HasWarnings() bool {
	for _, issue := range a.Issues {
		if issue.Severity == SeverityWarning {
			return true
		}
	}
	return false
}

// clearRegulatorIssues drops remote-origin issues, keeping local ones.
func (a *Answer) clearRegulatorIssues() {
	kept := a.Issues[:0]
	for _, issue := range a.Issues {
		if issue.Origin != OriginRegulator {
			kept = append(kept, issue)
		}
	}
	a.Issues = kept
}

// clearLocalIssues drops local-origin issues, keeping regulator ones.
func (a *Answer) clearLocalIssues() {
	kept := a.Issues[:0]
	for _, issue := range a.Issues {
		if issue.Origin != OriginLocal {
			kept = append(kept, issue)
		}
	}
	a.Issues = kept
}
