package audit

import (
	"context"

	"github.com/google/uuid"
)

// Store persists admission attempts. Append-only: implementations must not
// expose mutation or deletion.
type Store interface {
	Append(ctx context.Context, attempt Attempt) error
	ListByRegistration(ctx context.Context, registrationID uuid.UUID) ([]Attempt, error)
	ListRecent(ctx context.Context, limit int) ([]Attempt, error)
}
