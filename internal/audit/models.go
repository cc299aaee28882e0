package audit

import (
	"time"

	"github.com/google/uuid"
)

// Method records how an attempt reached the coordinator.
type Method string

const (
	MethodQR     Method = "qr"
	MethodManual Method = "manual"
)

// Outcome classifies an attempt for the audit trail. Duplicate covers
// idempotent re-scans: harmless, but worth a trace.
type Outcome string

const (
	OutcomeAccepted  Outcome = "accepted"
	OutcomeRejected  Outcome = "rejected"
	OutcomeDuplicate Outcome = "duplicate"
)

// Attempt is one admission attempt, successful or not. Attempts are immutable
// and append-only: exactly one is recorded per call into the coordinator, and
// none is ever updated or deleted.
type Attempt struct {
	ID             uuid.UUID
	RegistrationID *uuid.UUID // nil when resolution failed
	Method         Method
	Outcome        Outcome
	Reason         string
	Station        string
	Timestamp      time.Time

	// CredentialDigest is the SHA-256 of the raw scanned payload. The payload
	// itself carries the integrity tag and is never persisted.
	CredentialDigest string

	// Security marks attempts that indicate possible credential forgery
	// rather than user error, for downstream monitoring.
	Security bool
}
