// Package admission holds the admission state machine: the legal transitions
// of a registration and their classification. This is pure domain logic - no
// I/O, no side effects - so every rule is directly testable.
package admission

import (
	"turnstile/internal/admission/models"
	dErrors "turnstile/pkg/domain-errors"
)

// Evaluate decides whether action is legal from current and classifies the
// result. The legal lifecycle is:
//
//	registered -> checked_in -> checked_out
//	registered -> cancelled
//	registered -> no_show
//
// No transition leaves checked_out, cancelled, or no_show. Evaluate never
// produces cancelled or no_show; those are administrative facts it respects.
func Evaluate(current models.Status, action models.Action) models.TransitionResult {
	if action != models.ActionCheckIn {
		return models.TransitionResult{
			Outcome:   models.OutcomeRejected,
			NewStatus: current,
			Reason:    dErrors.CodeInvalidState,
		}
	}

	switch current {
	case models.StatusRegistered:
		return models.TransitionResult{
			Outcome:   models.OutcomeAccepted,
			NewStatus: models.StatusCheckedIn,
		}
	case models.StatusCheckedIn:
		// Re-scan of an already admitted badge. Same final state, no change.
		return models.TransitionResult{
			Outcome:   models.OutcomeIdempotent,
			NewStatus: models.StatusCheckedIn,
		}
	default:
		return models.TransitionResult{
			Outcome:   models.OutcomeRejected,
			NewStatus: current,
			Reason:    dErrors.CodeInvalidState,
		}
	}
}
