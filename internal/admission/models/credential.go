package models

import "time"

// Kind tags what a credential admits. Only attendee registrations today; the
// tag is part of the signed payload so it cannot be repurposed.
type Kind string

const KindAttendeeRegistration Kind = "attendee_registration"

// Credential is a decoded QR payload. It is reconstructed per attempt and
// never persisted; the audit trail stores a digest of the raw payload instead.
type Credential struct {
	AttendeeID    int64
	ConferenceID  int64
	SessionID     *int64
	IssuedAt      time.Time
	Kind          Kind
	IntegrityTag  string
	FormatVersion string
}

// Clone returns a copy whose optional fields do not alias the original.
func (c *Credential) Clone() *Credential {
	cp := *c
	if c.SessionID != nil {
		sid := *c.SessionID
		cp.SessionID = &sid
	}
	return &cp
}

// Key returns the admission record this credential targets. A credential
// carrying a session id resolves the session-scoped record; one without
// resolves the conference-level record.
func (c *Credential) Key() RegistrationKey {
	return RegistrationKey{
		AttendeeID:   c.AttendeeID,
		ConferenceID: c.ConferenceID,
		SessionID:    c.SessionID,
	}
}
