package workflow

import (
	"github.com/agedcare/go-nqip/internal/domain/submission"
)

// Step names one stage of the submission workflow.
type Step string

const (
	StepDataEntry  Step = "data-entry"
	StepValidation Step = "validation"
	StepCompletion Step = "completion"
)

// StepState is the derived presentation state of one workflow step.
// Locking and completion are never stored; they are recomputed from the
// submission every time.
type StepState struct {
	Step      Step   `json:"step"`
	Label     string `json:"label"`
	Locked    bool   `json:"locked"`
	Completed bool   `json:"completed"`
}

// Steps derives the full step list for a submission. Data entry is
// always open and is complete once the initial submission has been
// accepted and a remote identifier exists. Validation unlocks with the
// identifier; it and completion are complete once the remote record has
// reached an accepted status, which is also what unlocks completion.
// Locking governs navigation only; the transition guards re-check their
// own conditions regardless.
func Steps(sub *submission.Submission) []StepState {
	hasID := sub.QuestionnaireResponseID() != nil
	accepted := sub.FHIRStatus().Accepted()

	return []StepState{
		{
			Step:      StepDataEntry,
			Label:     "Enter and review data",
			Locked:    false,
			Completed: hasID,
		},
		{
			Step:      StepValidation,
			Label:     "Validate with the regulator",
			Locked:    !hasID,
			Completed: accepted,
		},
		{
			Step:      StepCompletion,
			Label:     "Attest and submit",
			Locked:    !accepted,
			Completed: accepted,
		},
	}
}
