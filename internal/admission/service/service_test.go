package service

//go:generate mockgen -source=../ports/ports.go -destination=mocks/mocks.go -package=mocks Guard,RegistrationStore,AuditPublisher

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"turnstile/internal/admission/credential"
	"turnstile/internal/admission/models"
	"turnstile/internal/admission/service/mocks"
	"turnstile/internal/audit"
	dErrors "turnstile/pkg/domain-errors"
	"turnstile/pkg/platform/sentinel"
	"turnstile/pkg/requestcontext"
)

const testSecret = "checkin-test-secret"

// testNow pins the clock for every attempt so freshness checks and transition
// timestamps are deterministic.
var testNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

type CheckInServiceSuite struct {
	suite.Suite
	ctrl      *gomock.Controller
	mockStore *mocks.MockRegistrationStore
	mockGuard *mocks.MockGuard
	mockAudit *mocks.MockAuditPublisher
	codec     *credential.Codec
	service   *Service

	recorded []audit.Attempt
}

func TestCheckInServiceSuite(t *testing.T) {
	suite.Run(t, new(CheckInServiceSuite))
}

func (s *CheckInServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.mockStore = mocks.NewMockRegistrationStore(s.ctrl)
	s.mockGuard = mocks.NewMockGuard(s.ctrl)
	s.mockAudit = mocks.NewMockAuditPublisher(s.ctrl)
	s.codec = credential.NewCodec(testSecret, 24*time.Hour)
	s.recorded = nil

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.service = NewService(s.codec, s.mockStore, s.mockAudit, WithLogger(logger))
}

func (s *CheckInServiceSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *CheckInServiceSuite) ctx() context.Context {
	return requestcontext.WithTime(context.Background(), testNow)
}

// expectAudit wires the audit mock to capture every recorded attempt.
func (s *CheckInServiceSuite) expectAudit(times int) {
	s.mockAudit.EXPECT().
		Record(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, attempt audit.Attempt) error {
			s.recorded = append(s.recorded, attempt)
			return nil
		}).
		Times(times)
}

// signedPayload builds a valid QR payload for the given registration key,
// issued at testNow.
func (s *CheckInServiceSuite) signedPayload(attendeeID, conferenceID int64, sessionID *int64) string {
	cred := &models.Credential{
		AttendeeID:   attendeeID,
		ConferenceID: conferenceID,
		SessionID:    sessionID,
		IssuedAt:     testNow,
		Kind:         models.KindAttendeeRegistration,
	}
	fields := map[string]any{
		"id":   attendeeID,
		"conf": conferenceID,
		"t":    testNow.Unix(),
		"type": string(models.KindAttendeeRegistration),
		"cs":   s.codec.Tag(cred),
		"v":    credential.FormatV2,
	}
	if sessionID != nil {
		fields["session"] = *sessionID
	}
	raw, err := json.Marshal(fields)
	s.Require().NoError(err)
	return string(raw)
}

func (s *CheckInServiceSuite) registration(status models.Status, sessionID *int64) *models.Registration {
	return &models.Registration{
		ID:               uuid.New(),
		AttendeeID:       68,
		ConferenceID:     12,
		SessionID:        sessionID,
		Status:           status,
		LastTransitionAt: testNow.Add(-48 * time.Hour),
		LastTransitionBy: "registration-desk",
		Version:          3,
	}
}

func (s *CheckInServiceSuite) TestAcceptedCheckIn() {
	sessionID := int64(10)
	reg := s.registration(models.StatusRegistered, &sessionID)
	committed := reg.Clone()
	committed.Status = models.StatusCheckedIn
	committed.LastTransitionAt = testNow
	committed.LastTransitionBy = "gate-a"
	committed.Version = reg.Version + 1

	s.mockStore.EXPECT().LoadForUpdate(gomock.Any(), reg.Key()).Return(s.mockGuard, nil)
	s.mockGuard.EXPECT().Registration().Return(reg)
	s.mockGuard.EXPECT().Commit(gomock.Any(), models.StatusCheckedIn, "gate-a").Return(committed, nil)
	s.expectAudit(1)

	result, err := s.service.CheckIn(s.ctx(), Request{
		CredentialRaw: s.signedPayload(68, 12, &sessionID),
		Method:        audit.MethodQR,
		Station:       "gate-a",
	})
	s.Require().NoError(err)
	s.Equal(OutcomeAccepted, result.Outcome)
	s.Equal(models.StatusCheckedIn, result.Status)
	s.Equal(committed.ID, *result.RegistrationID)
	s.Empty(result.Reason)

	s.Require().Len(s.recorded, 1)
	attempt := s.recorded[0]
	s.Equal(audit.OutcomeAccepted, attempt.Outcome)
	s.Equal(audit.MethodQR, attempt.Method)
	s.Equal("gate-a", attempt.Station)
	s.Equal(testNow, attempt.Timestamp)
	s.NotEmpty(attempt.CredentialDigest)
	s.False(attempt.Security)
}

func (s *CheckInServiceSuite) TestRescanIsDuplicate() {
	reg := s.registration(models.StatusCheckedIn, nil)

	s.mockStore.EXPECT().LoadForUpdate(gomock.Any(), reg.Key()).Return(s.mockGuard, nil)
	s.mockGuard.EXPECT().Registration().Return(reg)
	s.mockGuard.EXPECT().Abort(gomock.Any()).Return(nil)
	s.expectAudit(1)

	result, err := s.service.CheckIn(s.ctx(), Request{
		CredentialRaw: s.signedPayload(68, 12, nil),
		Method:        audit.MethodQR,
		Station:       "gate-b",
	})
	s.Require().NoError(err)
	s.Equal(OutcomeDuplicate, result.Outcome)
	s.Equal(models.StatusCheckedIn, result.Status)
	s.Empty(result.Reason)

	s.Require().Len(s.recorded, 1)
	s.Equal(audit.OutcomeDuplicate, s.recorded[0].Outcome)
	s.Empty(s.recorded[0].Reason)
}

func (s *CheckInServiceSuite) TestTerminalStatusRejected() {
	for _, status := range []models.Status{models.StatusCheckedOut, models.StatusCancelled, models.StatusNoShow} {
		s.Run(string(status), func() {
			s.recorded = nil
			reg := s.registration(status, nil)

			s.mockStore.EXPECT().LoadForUpdate(gomock.Any(), reg.Key()).Return(s.mockGuard, nil)
			s.mockGuard.EXPECT().Registration().Return(reg)
			s.mockGuard.EXPECT().Abort(gomock.Any()).Return(nil)
			s.expectAudit(1)

			result, err := s.service.CheckIn(s.ctx(), Request{
				CredentialRaw: s.signedPayload(68, 12, nil),
				Method:        audit.MethodQR,
				Station:       "gate-a",
			})
			s.Require().NoError(err)
			s.Equal(OutcomeRejected, result.Outcome)
			s.Equal(status, result.Status)
			s.Equal(dErrors.CodeInvalidState, result.Reason)

			s.Require().Len(s.recorded, 1)
			s.Equal(audit.OutcomeRejected, s.recorded[0].Outcome)
			s.Equal(string(dErrors.CodeInvalidState), s.recorded[0].Reason)
		})
	}
}

func (s *CheckInServiceSuite) TestTamperedCredentialNeverTouchesStore() {
	raw := s.signedPayload(68, 12, nil)
	tampered := make(map[string]any)
	s.Require().NoError(json.Unmarshal([]byte(raw), &tampered))
	tampered["id"] = 69
	rawBytes, err := json.Marshal(tampered)
	s.Require().NoError(err)

	// No store expectations: a failed integrity check must not reach it.
	s.expectAudit(1)

	result, err := s.service.CheckIn(s.ctx(), Request{
		CredentialRaw: string(rawBytes),
		Method:        audit.MethodQR,
		Station:       "gate-a",
	})
	s.Require().NoError(err)
	s.Equal(OutcomeRejected, result.Outcome)
	s.Equal(dErrors.CodeIntegrityFailure, result.Reason)
	s.Nil(result.RegistrationID)

	s.Require().Len(s.recorded, 1)
	s.Equal(audit.OutcomeRejected, s.recorded[0].Outcome)
	s.True(s.recorded[0].Security, "integrity failures are security-relevant")
	s.Nil(s.recorded[0].RegistrationID)
	s.NotEmpty(s.recorded[0].CredentialDigest)
}

func (s *CheckInServiceSuite) TestMalformedCredential() {
	s.expectAudit(1)

	result, err := s.service.CheckIn(s.ctx(), Request{
		CredentialRaw: "not json at all",
		Method:        audit.MethodQR,
		Station:       "gate-a",
	})
	s.Require().NoError(err)
	s.Equal(OutcomeRejected, result.Outcome)
	s.Equal(dErrors.CodeInvalidCredential, result.Reason)
	s.False(s.recorded[0].Security)
}

func (s *CheckInServiceSuite) TestExpiredCredential() {
	shortLived := NewService(credential.NewCodec(testSecret, time.Hour), s.mockStore, s.mockAudit,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	s.expectAudit(1)

	ctx := requestcontext.WithTime(context.Background(), testNow.Add(2*time.Hour))
	result, err := shortLived.CheckIn(ctx, Request{
		CredentialRaw: s.signedPayload(68, 12, nil),
		Method:        audit.MethodQR,
		Station:       "gate-a",
	})
	s.Require().NoError(err)
	s.Equal(OutcomeRejected, result.Outcome)
	s.Equal(dErrors.CodeExpiredCredential, result.Reason)
}

func (s *CheckInServiceSuite) TestUnknownRegistration() {
	s.mockStore.EXPECT().LoadForUpdate(gomock.Any(), gomock.Any()).Return(nil, sentinel.ErrNotFound)
	s.expectAudit(1)

	result, err := s.service.CheckIn(s.ctx(), Request{
		CredentialRaw: s.signedPayload(68, 12, nil),
		Method:        audit.MethodQR,
		Station:       "gate-a",
	})
	s.Require().NoError(err)
	s.Equal(OutcomeRejected, result.Outcome)
	s.Equal(dErrors.CodeUnknownRegistration, result.Reason)

	s.Require().Len(s.recorded, 1)
	s.Equal(string(dErrors.CodeUnknownRegistration), s.recorded[0].Reason)
	s.Nil(s.recorded[0].RegistrationID)
}

func (s *CheckInServiceSuite) TestLostRaceConvergesToDuplicate() {
	reg := s.registration(models.StatusRegistered, nil)
	winner := reg.Clone()
	winner.Status = models.StatusCheckedIn
	winner.Version = reg.Version + 1

	s.mockStore.EXPECT().LoadForUpdate(gomock.Any(), reg.Key()).Return(s.mockGuard, nil)
	s.mockGuard.EXPECT().Registration().Return(reg)
	s.mockGuard.EXPECT().Commit(gomock.Any(), models.StatusCheckedIn, "gate-a").Return(nil, sentinel.ErrConflict)
	s.mockStore.EXPECT().Find(gomock.Any(), reg.Key()).Return(winner, nil)
	s.expectAudit(1)

	result, err := s.service.CheckIn(s.ctx(), Request{
		CredentialRaw: s.signedPayload(68, 12, nil),
		Method:        audit.MethodQR,
		Station:       "gate-a",
	})
	s.Require().NoError(err)
	s.Equal(OutcomeDuplicate, result.Outcome)
	s.Equal(models.StatusCheckedIn, result.Status)
	s.Equal(audit.OutcomeDuplicate, s.recorded[0].Outcome)
}

func (s *CheckInServiceSuite) TestLostRaceToDifferentStateRejects() {
	reg := s.registration(models.StatusRegistered, nil)
	winner := reg.Clone()
	winner.Status = models.StatusCancelled
	winner.Version = reg.Version + 1

	s.mockStore.EXPECT().LoadForUpdate(gomock.Any(), reg.Key()).Return(s.mockGuard, nil)
	s.mockGuard.EXPECT().Registration().Return(reg)
	s.mockGuard.EXPECT().Commit(gomock.Any(), models.StatusCheckedIn, "gate-a").Return(nil, sentinel.ErrConflict)
	s.mockStore.EXPECT().Find(gomock.Any(), reg.Key()).Return(winner, nil)
	s.expectAudit(1)

	result, err := s.service.CheckIn(s.ctx(), Request{
		CredentialRaw: s.signedPayload(68, 12, nil),
		Method:        audit.MethodQR,
		Station:       "gate-a",
	})
	s.Require().NoError(err)
	s.Equal(OutcomeRejected, result.Outcome)
	s.Equal(dErrors.CodeConflict, result.Reason)
	s.Equal(models.StatusCancelled, result.Status)
}

func (s *CheckInServiceSuite) TestManualCheckIn() {
	sessionID := int64(10)
	reg := s.registration(models.StatusRegistered, &sessionID)
	committed := reg.Clone()
	committed.Status = models.StatusCheckedIn

	s.mockStore.EXPECT().LoadForUpdate(gomock.Any(), reg.Key()).Return(s.mockGuard, nil)
	s.mockGuard.EXPECT().Registration().Return(reg)
	s.mockGuard.EXPECT().Commit(gomock.Any(), models.StatusCheckedIn, "front-desk").Return(committed, nil)
	s.expectAudit(1)

	result, err := s.service.CheckIn(s.ctx(), Request{
		AttendeeID:   68,
		ConferenceID: 12,
		SessionID:    &sessionID,
		Method:       audit.MethodManual,
		Station:      "front-desk",
	})
	s.Require().NoError(err)
	s.Equal(OutcomeAccepted, result.Outcome)

	s.Equal(audit.MethodManual, s.recorded[0].Method)
	s.Empty(s.recorded[0].CredentialDigest)
}

func (s *CheckInServiceSuite) TestManualCheckInRequiresKey() {
	result, err := s.service.CheckIn(s.ctx(), Request{
		Method:  audit.MethodManual,
		Station: "front-desk",
	})
	s.Require().Error(err)
	s.Nil(result)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func (s *CheckInServiceSuite) TestAuditFailureSurfaces() {
	reg := s.registration(models.StatusCheckedIn, nil)

	s.mockStore.EXPECT().LoadForUpdate(gomock.Any(), reg.Key()).Return(s.mockGuard, nil)
	s.mockGuard.EXPECT().Registration().Return(reg)
	s.mockGuard.EXPECT().Abort(gomock.Any()).Return(nil)
	s.mockAudit.EXPECT().Record(gomock.Any(), gomock.Any()).Return(sentinel.ErrConflict)

	result, err := s.service.CheckIn(s.ctx(), Request{
		CredentialRaw: s.signedPayload(68, 12, nil),
		Method:        audit.MethodQR,
		Station:       "gate-a",
	})
	s.Require().Error(err)
	s.Nil(result)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
}

func (s *CheckInServiceSuite) TestRegister() {
	s.Run("creates registered record", func() {
		var created *models.Registration
		s.mockStore.EXPECT().
			Create(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, reg *models.Registration) error {
				created = reg
				return nil
			})

		reg, err := s.service.Register(s.ctx(), 68, 12, nil)
		s.Require().NoError(err)
		s.Equal(models.StatusRegistered, reg.Status)
		s.Equal(int64(1), reg.Version)
		s.Equal(testNow, reg.LastTransitionAt)
		s.NotEqual(uuid.Nil, reg.ID)
		s.Same(reg, created)
	})

	s.Run("existing key conflicts", func() {
		s.mockStore.EXPECT().Create(gomock.Any(), gomock.Any()).Return(sentinel.ErrConflict)

		_, err := s.service.Register(s.ctx(), 68, 12, nil)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("ids are required", func() {
		_, err := s.service.Register(s.ctx(), 0, 12, nil)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

func (s *CheckInServiceSuite) TestLookup() {
	reg := s.registration(models.StatusRegistered, nil)

	s.Run("found", func() {
		s.mockStore.EXPECT().Find(gomock.Any(), reg.Key()).Return(reg, nil)
		got, err := s.service.Lookup(s.ctx(), reg.Key())
		s.Require().NoError(err)
		s.Equal(reg.ID, got.ID)
	})

	s.Run("missing", func() {
		s.mockStore.EXPECT().Find(gomock.Any(), reg.Key()).Return(nil, sentinel.ErrNotFound)
		_, err := s.service.Lookup(s.ctx(), reg.Key())
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeUnknownRegistration))
	})
}
