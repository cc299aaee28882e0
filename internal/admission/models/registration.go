package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an admission record. Cancelled and no-show
// are set by administrative action outside this service; the state machine
// respects them but never produces them.
type Status string

const (
	StatusRegistered Status = "registered"
	StatusCheckedIn  Status = "checked_in"
	StatusCheckedOut Status = "checked_out"
	StatusCancelled  Status = "cancelled"
	StatusNoShow     Status = "no_show"
)

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusRegistered, StatusCheckedIn, StatusCheckedOut, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

// IsTerminal reports whether no check-in transition is legal out of s.
// checked_in is not terminal in this sense: re-scans converge on it.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCheckedOut, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

// RegistrationKey identifies one admission record. A session-scoped record
// (SessionID set) is independent of the conference-level record for the same
// attendee; both can exist and transition separately.
type RegistrationKey struct {
	AttendeeID   int64
	ConferenceID int64
	SessionID    *int64
}

// String renders a stable key for maps and lock tables.
func (k RegistrationKey) String() string {
	if k.SessionID != nil {
		return fmt.Sprintf("%d:%d:%d", k.AttendeeID, k.ConferenceID, *k.SessionID)
	}
	return fmt.Sprintf("%d:%d:-", k.AttendeeID, k.ConferenceID)
}

// Registration is the persisted admission record for one attendee at one
// conference, optionally scoped to a session. Records are never deleted;
// terminal statuses are data, not tombstones.
type Registration struct {
	ID               uuid.UUID
	AttendeeID       int64
	ConferenceID     int64
	SessionID        *int64
	Status           Status
	LastTransitionAt time.Time
	LastTransitionBy string

	// Version increments on every committed transition. Guards capture it at
	// load and commits compare it, which is what makes concurrent check-ins
	// converge instead of double-counting.
	Version int64
}

// Key returns the admission record key for this registration.
func (r *Registration) Key() RegistrationKey {
	return RegistrationKey{
		AttendeeID:   r.AttendeeID,
		ConferenceID: r.ConferenceID,
		SessionID:    r.SessionID,
	}
}

// Clone returns a copy safe to hand across goroutines.
func (r *Registration) Clone() *Registration {
	cp := *r
	if r.SessionID != nil {
		sid := *r.SessionID
		cp.SessionID = &sid
	}
	return &cp
}
