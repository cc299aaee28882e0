package audit

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// PostgresStore persists attempts in the admission_attempts table. Inserts
// are idempotent on the attempt id so a retried append never duplicates the
// fact; there is no update or delete path.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Schema for reference; migrations live in deploy tooling.
//
//	CREATE TABLE admission_attempts (
//	    id                UUID PRIMARY KEY,
//	    registration_id   UUID,
//	    method            TEXT NOT NULL,
//	    outcome           TEXT NOT NULL,
//	    reason            TEXT NOT NULL DEFAULT '',
//	    station           TEXT NOT NULL,
//	    ts                TIMESTAMPTZ NOT NULL,
//	    credential_digest TEXT NOT NULL DEFAULT '',
//	    security          BOOLEAN NOT NULL DEFAULT FALSE
//	);

func (s *PostgresStore) Append(ctx context.Context, attempt Attempt) error {
	query := `
		INSERT INTO admission_attempts (
			id, registration_id, method, outcome, reason,
			station, ts, credential_digest, security
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, query,
		attempt.ID,
		attempt.RegistrationID,
		string(attempt.Method),
		string(attempt.Outcome),
		attempt.Reason,
		attempt.Station,
		attempt.Timestamp,
		attempt.CredentialDigest,
		attempt.Security,
	)
	if err != nil {
		return fmt.Errorf("insert admission attempt: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByRegistration(ctx context.Context, registrationID uuid.UUID) ([]Attempt, error) {
	query := `
		SELECT id, registration_id, method, outcome, reason,
		       station, ts, credential_digest, security
		FROM admission_attempts
		WHERE registration_id = $1
		ORDER BY ts ASC
	`
	rows, err := s.db.QueryContext(ctx, query, registrationID)
	if err != nil {
		return nil, fmt.Errorf("query admission attempts: %w", err)
	}
	defer rows.Close()

	return scanAttempts(rows)
}

func (s *PostgresStore) ListRecent(ctx context.Context, limit int) ([]Attempt, error) {
	query := `
		SELECT id, registration_id, method, outcome, reason,
		       station, ts, credential_digest, security
		FROM admission_attempts
		ORDER BY ts DESC
		LIMIT $1
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query admission attempts: %w", err)
	}
	defer rows.Close()

	return scanAttempts(rows)
}

func scanAttempts(rows *sql.Rows) ([]Attempt, error) {
	var attempts []Attempt
	for rows.Next() {
		var (
			a              Attempt
			method         string
			outcome        string
			registrationID *uuid.UUID
		)
		err := rows.Scan(
			&a.ID,
			&registrationID,
			&method,
			&outcome,
			&a.Reason,
			&a.Station,
			&a.Timestamp,
			&a.CredentialDigest,
			&a.Security,
		)
		if err != nil {
			return nil, fmt.Errorf("scan admission attempt: %w", err)
		}
		a.RegistrationID = registrationID
		a.Method = Method(method)
		a.Outcome = Outcome(outcome)
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate admission attempts: %w", err)
	}
	return attempts, nil
}
