package registration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"turnstile/internal/admission/models"
	"turnstile/internal/admission/ports"
	"turnstile/pkg/platform/sentinel"
	"turnstile/pkg/requestcontext"
)

// PostgresStore persists registrations with a version column. Commits are a
// conditional UPDATE on that version, so a lost race surfaces as zero rows
// updated rather than a held row lock.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Schema for reference; migrations live in deploy tooling.
//
//	CREATE TABLE registrations (
//	    id                 UUID PRIMARY KEY,
//	    attendee_id        BIGINT NOT NULL,
//	    conference_id      BIGINT NOT NULL,
//	    session_id         BIGINT,
//	    status             TEXT NOT NULL,
//	    last_transition_at TIMESTAMPTZ,
//	    last_transition_by TEXT NOT NULL DEFAULT '',
//	    version            BIGINT NOT NULL DEFAULT 0,
//	    UNIQUE NULLS NOT DISTINCT (attendee_id, conference_id, session_id)
//	);

const selectRegistration = `
	SELECT id, attendee_id, conference_id, session_id, status,
	       last_transition_at, last_transition_by, version
	FROM registrations
	WHERE attendee_id = $1 AND conference_id = $2 AND session_id IS NOT DISTINCT FROM $3
`

func (s *PostgresStore) Create(ctx context.Context, registration *models.Registration) error {
	query := `
		INSERT INTO registrations (
			id, attendee_id, conference_id, session_id, status,
			last_transition_at, last_transition_by, version
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (attendee_id, conference_id, session_id) DO NOTHING
	`
	res, err := s.db.ExecContext(ctx, query,
		registration.ID,
		registration.AttendeeID,
		registration.ConferenceID,
		sessionArg(registration.SessionID),
		string(registration.Status),
		nullableTime(registration.LastTransitionAt),
		registration.LastTransitionBy,
		registration.Version,
	)
	if err != nil {
		return fmt.Errorf("insert registration: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert registration: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrConflict
	}
	return nil
}

func (s *PostgresStore) Find(ctx context.Context, key models.RegistrationKey) (*models.Registration, error) {
	row := s.db.QueryRowContext(ctx, selectRegistration,
		key.AttendeeID, key.ConferenceID, sessionArg(key.SessionID))
	reg, err := scanRegistration(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find registration: %w", err)
	}
	return reg, nil
}

func (s *PostgresStore) LoadForUpdate(ctx context.Context, key models.RegistrationKey) (ports.Guard, error) {
	reg, err := s.Find(ctx, key)
	if err != nil {
		return nil, err
	}
	return &postgresGuard{store: s, snapshot: reg, version: reg.Version}, nil
}

type postgresGuard struct {
	store    *PostgresStore
	snapshot *models.Registration
	version  int64
	released bool
}

func (g *postgresGuard) Registration() *models.Registration {
	return g.snapshot
}

func (g *postgresGuard) Commit(ctx context.Context, newStatus models.Status, actor string) (*models.Registration, error) {
	if g.released {
		return nil, sentinel.ErrGuardReleased
	}
	g.released = true

	query := `
		UPDATE registrations
		SET status = $1, last_transition_at = $2, last_transition_by = $3, version = version + 1
		WHERE id = $4 AND version = $5
		RETURNING id, attendee_id, conference_id, session_id, status,
		          last_transition_at, last_transition_by, version
	`
	row := g.store.db.QueryRowContext(ctx, query,
		string(newStatus),
		requestcontext.Now(ctx),
		actor,
		g.snapshot.ID,
		g.version,
	)
	reg, err := scanRegistration(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Row moved on (or vanished) since load; the version check failed.
			return nil, sentinel.ErrConflict
		}
		return nil, fmt.Errorf("commit registration: %w", err)
	}
	return reg, nil
}

func (g *postgresGuard) Abort(_ context.Context) error {
	// Optimistic guards hold no server-side state; releasing is local.
	g.released = true
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRegistration(row rowScanner) (*models.Registration, error) {
	var (
		reg              models.Registration
		id               uuid.UUID
		sessionID        sql.NullInt64
		status           string
		lastTransitionAt sql.NullTime
	)
	err := row.Scan(
		&id,
		&reg.AttendeeID,
		&reg.ConferenceID,
		&sessionID,
		&status,
		&lastTransitionAt,
		&reg.LastTransitionBy,
		&reg.Version,
	)
	if err != nil {
		return nil, err
	}
	reg.ID = id
	reg.Status = models.Status(status)
	if sessionID.Valid {
		reg.SessionID = &sessionID.Int64
	}
	if lastTransitionAt.Valid {
		reg.LastTransitionAt = lastTransitionAt.Time
	}
	return &reg, nil
}

func sessionArg(sessionID *int64) sql.NullInt64 {
	if sessionID == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *sessionID, Valid: true}
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
