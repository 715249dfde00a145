package pipeline

import (
	"github.com/otherjamesbrown/intake/pkg/review"
)

// OutcomeKind tags the result of a stage.
type OutcomeKind string

const (
	// OutcomeProcessed means the stage ran and advanced the entity.
	OutcomeProcessed OutcomeKind = "PROCESSED"
	// OutcomeReviewRequired means the entity was escalated; Reason says why.
	OutcomeReviewRequired OutcomeKind = "REVIEW_REQUIRED"
	// OutcomeFailed means a provider or store call failed; status is unchanged.
	OutcomeFailed OutcomeKind = "FAILED"
	// OutcomeSkipped means the entity is already past this stage, held for
	// review, or terminal. Nothing was written.
	OutcomeSkipped OutcomeKind = "SKIPPED"
	// OutcomeNotReady means an earlier stage has not run yet. Nothing was written.
	OutcomeNotReady OutcomeKind = "NOT_READY"
	// OutcomeNotApplicable means the stage does not apply to this entity.
	OutcomeNotApplicable OutcomeKind = "NOT_APPLICABLE"
	// OutcomeUpdated means a side effect (property details merge) was applied.
	OutcomeUpdated OutcomeKind = "UPDATED"
)

// Outcome is the tagged result of a pipeline stage. Business results such as
// an escalation are never reported as errors; Err is set only for FAILED.
type Outcome struct {
	Kind    OutcomeKind
	Status  string
	Reason  review.Reason
	Attempt int
	Err     error
}

// Failed reports whether the stage failed and should be retried or parked.
func (o Outcome) Failed() bool {
	return o.Kind == OutcomeFailed
}

func failed(status string, attempt int, err error) Outcome {
	return Outcome{Kind: OutcomeFailed, Status: status, Attempt: attempt, Err: err}
}

func skipped(status string) Outcome {
	return Outcome{Kind: OutcomeSkipped, Status: status}
}
