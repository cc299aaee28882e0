//go:build integration

package audit_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"turnstile/internal/audit"
	"turnstile/pkg/testutil/containers"
)

const attemptsSchema = `
	CREATE TABLE IF NOT EXISTS admission_attempts (
		id                UUID PRIMARY KEY,
		registration_id   UUID,
		method            TEXT NOT NULL,
		outcome           TEXT NOT NULL,
		reason            TEXT NOT NULL DEFAULT '',
		station           TEXT NOT NULL,
		ts                TIMESTAMPTZ NOT NULL,
		credential_digest TEXT NOT NULL DEFAULT '',
		security          BOOLEAN NOT NULL DEFAULT FALSE
	)
`

type PostgresAuditStoreSuite struct {
	suite.Suite
	pg    *containers.PostgresContainer
	store *audit.PostgresStore
}

func TestPostgresAuditStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresAuditStoreSuite))
}

func (s *PostgresAuditStoreSuite) SetupSuite() {
	s.pg = containers.GetManager().GetPostgres(s.T())
	_, err := s.pg.DB.Exec(attemptsSchema)
	s.Require().NoError(err)
	s.store = audit.NewPostgresStore(s.pg.DB)
}

func (s *PostgresAuditStoreSuite) SetupTest() {
	_, err := s.pg.DB.Exec(`TRUNCATE admission_attempts`)
	s.Require().NoError(err)
}

func (s *PostgresAuditStoreSuite) TestAppendAndList() {
	ctx := context.Background()
	regID := uuid.New()

	base := time.Now().UTC().Truncate(time.Millisecond)
	for i, outcome := range []audit.Outcome{audit.OutcomeAccepted, audit.OutcomeDuplicate} {
		err := s.store.Append(ctx, audit.Attempt{
			ID:             uuid.New(),
			RegistrationID: &regID,
			Method:         audit.MethodQR,
			Outcome:        outcome,
			Station:        "gate-a",
			Timestamp:      base.Add(time.Duration(i) * time.Second),
		})
		s.Require().NoError(err)
	}
	err := s.store.Append(ctx, audit.Attempt{
		ID:        uuid.New(),
		Method:    audit.MethodQR,
		Outcome:   audit.OutcomeRejected,
		Reason:    "integrity_failure",
		Station:   "gate-b",
		Timestamp: base.Add(2 * time.Second),
		Security:  true,
	})
	s.Require().NoError(err)

	byReg, err := s.store.ListByRegistration(ctx, regID)
	s.Require().NoError(err)
	s.Require().Len(byReg, 2)
	s.Equal(audit.OutcomeAccepted, byReg[0].Outcome)
	s.Equal(audit.OutcomeDuplicate, byReg[1].Outcome)

	recent, err := s.store.ListRecent(ctx, 2)
	s.Require().NoError(err)
	s.Require().Len(recent, 2)
	s.Equal(audit.OutcomeRejected, recent[0].Outcome)
	s.True(recent[0].Security)
	s.Nil(recent[0].RegistrationID)
}

func (s *PostgresAuditStoreSuite) TestAppendIsIdempotentOnID() {
	ctx := context.Background()
	attempt := audit.Attempt{
		ID:        uuid.New(),
		Method:    audit.MethodManual,
		Outcome:   audit.OutcomeAccepted,
		Station:   "gate-a",
		Timestamp: time.Now(),
	}

	s.Require().NoError(s.store.Append(ctx, attempt))
	s.Require().NoError(s.store.Append(ctx, attempt))

	recent, err := s.store.ListRecent(ctx, 10)
	s.Require().NoError(err)
	s.Len(recent, 1)
}
