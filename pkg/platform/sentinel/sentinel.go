package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) so services can translate them into domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: registration does not exist in the store
// - ErrConflict: another writer committed first (optimistic check failed)
// - ErrGuardReleased: the guard was already committed or aborted
//
// For validation errors (bad input, missing fields), use pkg/domain-errors.
var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrGuardReleased = errors.New("guard released")
)
