// Package ports defines the interfaces the check-in coordinator consumes.
// The coordinator never reaches persistence except through these; swapping
// memory, PostgreSQL, or Redis behind them requires no service changes.
package ports

import (
	"context"

	"turnstile/internal/admission/models"
	"turnstile/internal/audit"
)

// Guard is a claim on one registration between load and commit. Guards are
// optimistic: they hold no server-side lock, and Commit fails with
// sentinel.ErrConflict when another writer committed first. Every guard must
// end in exactly one Commit or Abort; Abort on an already released guard is a
// no-op so callers can release defensively.
type Guard interface {
	// Registration returns the record as of load. Callers must not rely on
	// it staying current; Commit re-checks.
	Registration() *models.Registration

	// Commit writes newStatus, conditioned on the record not having changed
	// since load. Returns the committed record, or sentinel.ErrConflict.
	Commit(ctx context.Context, newStatus models.Status, actor string) (*models.Registration, error)

	// Abort releases the claim without writing.
	Abort(ctx context.Context) error
}

// RegistrationStore is the only path from the coordinator to persisted
// registration state.
type RegistrationStore interface {
	// LoadForUpdate claims the registration for one attempt. Returns
	// sentinel.ErrNotFound when no record matches the key.
	LoadForUpdate(ctx context.Context, key models.RegistrationKey) (Guard, error)

	// Create inserts a fresh record. Returns sentinel.ErrConflict when a
	// record already exists for the key.
	Create(ctx context.Context, registration *models.Registration) error

	// Find reads a record without claiming it.
	Find(ctx context.Context, key models.RegistrationKey) (*models.Registration, error)
}

// AuditPublisher records admission attempts. Exactly one attempt is recorded
// per coordinator invocation.
type AuditPublisher interface {
	Record(ctx context.Context, attempt audit.Attempt) error
}
