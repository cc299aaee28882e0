// Package service holds the check-in coordinator. It is the only code that
// orchestrates credential validation, the registration store, and the audit
// trail; handlers stay thin and stores stay dumb.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"turnstile/internal/admission"
	"turnstile/internal/admission/credential"
	"turnstile/internal/admission/metrics"
	"turnstile/internal/admission/models"
	"turnstile/internal/admission/ports"
	"turnstile/internal/audit"
	dErrors "turnstile/pkg/domain-errors"
	"turnstile/pkg/platform/sentinel"
	"turnstile/pkg/requestcontext"
)

// Outcome is the coordinator's verdict on one attempt as reported to stations.
// Unlike the state machine's classification, a lost commit race surfaces here
// as duplicate when the winner reached the same state.
type Outcome string

const (
	OutcomeAccepted  Outcome = "accepted"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeRejected  Outcome = "rejected"
)

// Request is one admission attempt as received from a station. For QR
// attempts only CredentialRaw is consulted; manual attempts carry the
// registration key directly.
type Request struct {
	CredentialRaw string
	AttendeeID    int64
	ConferenceID  int64
	SessionID     *int64
	Method        audit.Method
	Station       string
}

// Result is the coordinator's answer for one attempt. Reason is set only for
// rejections.
type Result struct {
	Outcome        Outcome
	RegistrationID *uuid.UUID
	Status         models.Status
	Reason         dErrors.Code
}

// Service coordinates admission attempts. Every attempt records exactly one
// audit fact and performs at most one registration write.
type Service struct {
	codec   *credential.Codec
	store   ports.RegistrationStore
	auditor ports.AuditPublisher
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func NewService(codec *credential.Codec, store ports.RegistrationStore, auditor ports.AuditPublisher, opts ...Option) *Service {
	s := &Service{
		codec:   codec,
		store:   store,
		auditor: auditor,
		logger:  slog.Default(),
		tracer:  otel.Tracer("turnstile/internal/admission/service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CheckIn processes one admission attempt end to end: credential validation,
// state machine evaluation, the guarded store write, and the audit record.
// Rejections come back as a Result, not an error; the error return is for
// infrastructure failures only.
func (s *Service) CheckIn(ctx context.Context, req Request) (*Result, error) {
	ctx, span := s.tracer.Start(ctx, "admission.CheckIn",
		trace.WithAttributes(
			attribute.String("admission.method", string(req.Method)),
			attribute.String("admission.station", req.Station),
		))
	defer span.End()

	started := time.Now()
	defer func() {
		s.metrics.ObserveCheckInLatency(time.Since(started))
	}()

	key, digest, reject, err := s.resolveKey(ctx, req)
	if err != nil {
		return nil, err
	}
	if reject != nil {
		s.finish(span, *reject)
		return reject, nil
	}

	span.SetAttributes(attribute.String("admission.registration_key", key.String()))

	guard, err := s.store.LoadForUpdate(ctx, key)
	if errors.Is(err, sentinel.ErrNotFound) {
		s.logger.InfoContext(ctx, "check-in for unknown registration",
			"registration_key", key.String(),
			"station", req.Station,
		)
		result := &Result{Outcome: OutcomeRejected, Reason: dErrors.CodeUnknownRegistration}
		if err := s.record(ctx, req, nil, audit.OutcomeRejected, result.Reason, digest, false); err != nil {
			return nil, err
		}
		s.finish(span, *result)
		return result, nil
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load registration")
	}

	reg := guard.Registration()
	verdict := admission.Evaluate(reg.Status, models.ActionCheckIn)

	switch verdict.Outcome {
	case models.OutcomeRejected:
		_ = guard.Abort(ctx)
		result := &Result{
			Outcome:        OutcomeRejected,
			RegistrationID: &reg.ID,
			Status:         reg.Status,
			Reason:         verdict.Reason,
		}
		if err := s.record(ctx, req, &reg.ID, audit.OutcomeRejected, verdict.Reason, digest, false); err != nil {
			return nil, err
		}
		s.finish(span, *result)
		return result, nil

	case models.OutcomeIdempotent:
		_ = guard.Abort(ctx)
		result := &Result{
			Outcome:        OutcomeDuplicate,
			RegistrationID: &reg.ID,
			Status:         reg.Status,
		}
		if err := s.record(ctx, req, &reg.ID, audit.OutcomeDuplicate, "", digest, false); err != nil {
			return nil, err
		}
		s.finish(span, *result)
		return result, nil
	}

	committed, err := guard.Commit(ctx, verdict.NewStatus, req.Station)
	if errors.Is(err, sentinel.ErrConflict) {
		return s.resolveLostRace(ctx, span, req, key, verdict.NewStatus, digest)
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "commit transition")
	}

	result := &Result{
		Outcome:        OutcomeAccepted,
		RegistrationID: &committed.ID,
		Status:         committed.Status,
	}
	if err := s.record(ctx, req, &committed.ID, audit.OutcomeAccepted, "", digest, false); err != nil {
		return nil, err
	}
	s.finish(span, *result)
	return result, nil
}

// resolveKey determines which registration the attempt targets. For QR
// attempts this decodes and validates the credential; a validation failure is
// audited and returned as a rejection before any store access.
func (s *Service) resolveKey(ctx context.Context, req Request) (models.RegistrationKey, string, *Result, error) {
	if req.Method != audit.MethodQR {
		if req.AttendeeID == 0 || req.ConferenceID == 0 {
			return models.RegistrationKey{}, "", nil,
				dErrors.New(dErrors.CodeInvalidInput, "manual check-in requires attendee and conference ids")
		}
		key := models.RegistrationKey{
			AttendeeID:   req.AttendeeID,
			ConferenceID: req.ConferenceID,
			SessionID:    req.SessionID,
		}
		return key, "", nil, nil
	}

	digest := credential.Digest(req.CredentialRaw)

	cred, err := s.codec.Decode(req.CredentialRaw, requestcontext.Now(ctx))
	if err != nil {
		reason := dErrors.CodeOf(err)
		security := reason == dErrors.CodeIntegrityFailure
		s.metrics.IncrementCredentialFailure(string(reason))
		s.logger.WarnContext(ctx, "credential rejected",
			"reason", string(reason),
			"station", req.Station,
			"credential_digest", digest,
		)
		result := &Result{Outcome: OutcomeRejected, Reason: reason}
		if err := s.record(ctx, req, nil, audit.OutcomeRejected, reason, digest, security); err != nil {
			return models.RegistrationKey{}, "", nil, err
		}
		return models.RegistrationKey{}, "", result, nil
	}

	if cred.Kind != models.KindAttendeeRegistration {
		result := &Result{Outcome: OutcomeRejected, Reason: dErrors.CodeInvalidCredential}
		if err := s.record(ctx, req, nil, audit.OutcomeRejected, result.Reason, digest, false); err != nil {
			return models.RegistrationKey{}, "", nil, err
		}
		return models.RegistrationKey{}, "", result, nil
	}

	return cred.Key(), digest, nil, nil
}

// resolveLostRace handles a commit that lost to a concurrent writer. When the
// winner left the record in the state this attempt was about to produce, the
// attempt converged and reports duplicate; any other interleaving is a
// rejection.
func (s *Service) resolveLostRace(ctx context.Context, span trace.Span, req Request, key models.RegistrationKey, intended models.Status, digest string) (*Result, error) {
	current, err := s.store.Find(ctx, key)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "re-read after commit conflict")
	}

	if current.Status == intended {
		result := &Result{
			Outcome:        OutcomeDuplicate,
			RegistrationID: &current.ID,
			Status:         current.Status,
		}
		if err := s.record(ctx, req, &current.ID, audit.OutcomeDuplicate, "", digest, false); err != nil {
			return nil, err
		}
		s.finish(span, *result)
		return result, nil
	}

	result := &Result{
		Outcome:        OutcomeRejected,
		RegistrationID: &current.ID,
		Status:         current.Status,
		Reason:         dErrors.CodeConflict,
	}
	if err := s.record(ctx, req, &current.ID, audit.OutcomeRejected, result.Reason, digest, false); err != nil {
		return nil, err
	}
	s.finish(span, *result)
	return result, nil
}

func (s *Service) record(ctx context.Context, req Request, registrationID *uuid.UUID, outcome audit.Outcome, reason dErrors.Code, digest string, security bool) error {
	attempt := audit.Attempt{
		RegistrationID:   registrationID,
		Method:           req.Method,
		Outcome:          outcome,
		Reason:           string(reason),
		Station:          req.Station,
		Timestamp:        requestcontext.Now(ctx),
		CredentialDigest: digest,
		Security:         security,
	}
	if err := s.auditor.Record(ctx, attempt); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "record admission attempt")
	}
	s.metrics.IncrementAttempt(string(outcome), string(reason), string(req.Method))
	return nil
}

func (s *Service) finish(span trace.Span, result Result) {
	span.SetAttributes(attribute.String("admission.outcome", string(result.Outcome)))
	if result.Reason != "" {
		span.SetAttributes(attribute.String("admission.reason", string(result.Reason)))
	}
}

// Register creates a fresh admission record in the registered state.
func (s *Service) Register(ctx context.Context, attendeeID, conferenceID int64, sessionID *int64) (*models.Registration, error) {
	if attendeeID == 0 || conferenceID == 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "attendee and conference ids are required")
	}

	reg := &models.Registration{
		ID:               uuid.New(),
		AttendeeID:       attendeeID,
		ConferenceID:     conferenceID,
		SessionID:        sessionID,
		Status:           models.StatusRegistered,
		LastTransitionAt: requestcontext.Now(ctx),
		LastTransitionBy: requestcontext.StationID(ctx),
		Version:          1,
	}
	if err := s.store.Create(ctx, reg); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "registration already exists for this key")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "create registration")
	}
	return reg, nil
}

// Lookup reads one admission record without claiming it.
func (s *Service) Lookup(ctx context.Context, key models.RegistrationKey) (*models.Registration, error) {
	reg, err := s.store.Find(ctx, key)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeUnknownRegistration, "registration not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "find registration")
	}
	return reg, nil
}
