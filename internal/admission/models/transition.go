package models

import dErrors "turnstile/pkg/domain-errors"

// Action is a requested transition. Check-in is the only action stations
// request; administrative transitions happen outside this service.
type Action string

const ActionCheckIn Action = "check_in"

// Outcome classifies the result of an admission attempt.
type Outcome string

const (
	// OutcomeAccepted means this attempt won the transition.
	OutcomeAccepted Outcome = "accepted"

	// OutcomeIdempotent means the record was already in the state this
	// attempt would have produced. A station re-scanning a badge gets this,
	// not an error.
	OutcomeIdempotent Outcome = "idempotent"

	// OutcomeRejected means the transition is illegal from the current state.
	OutcomeRejected Outcome = "rejected"
)

// TransitionResult is the state machine's verdict on one attempt.
type TransitionResult struct {
	Outcome   Outcome
	NewStatus Status
	Reason    dErrors.Code
}
