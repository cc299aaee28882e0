// Package handler exposes the admission HTTP surface. Handlers decode, call
// the coordinator, and translate; every decision lives in the service layer.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"turnstile/internal/admission/models"
	"turnstile/internal/admission/service"
	"turnstile/internal/audit"
	dErrors "turnstile/pkg/domain-errors"
	"turnstile/pkg/platform/httputil"
	"turnstile/pkg/platform/middleware/requestid"
	"turnstile/pkg/platform/middleware/requesttime"
	"turnstile/pkg/platform/middleware/station"
	"turnstile/pkg/requestcontext"
)

// CheckInService is the coordinator surface the handler consumes.
type CheckInService interface {
	CheckIn(ctx context.Context, req service.Request) (*service.Result, error)
	Register(ctx context.Context, attendeeID, conferenceID int64, sessionID *int64) (*models.Registration, error)
	Lookup(ctx context.Context, key models.RegistrationKey) (*models.Registration, error)
}

// AuditReader serves the audit trail endpoints.
type AuditReader interface {
	List(ctx context.Context, registrationID uuid.UUID) ([]audit.Attempt, error)
	Recent(ctx context.Context, limit int) ([]audit.Attempt, error)
}

// Handler handles admission endpoints.
type Handler struct {
	logger    *slog.Logger
	service   CheckInService
	auditor   AuditReader
	validator *station.Validator
}

func New(service CheckInService, auditor AuditReader, validator *station.Validator, logger *slog.Logger) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		auditor:   auditor,
		validator: validator,
	}
}

// Register registers the admission routes with the chi router. Everything a
// station calls sits behind station token auth; registration management and
// the audit trail are for back-office tooling on the same gateway.
func (h *Handler) Register(r chi.Router) {
	router := chi.NewRouter()
	router.Use(chimiddleware.Recoverer)
	router.Use(requestid.Middleware)
	router.Use(requesttime.Middleware)
	router.Use(station.Require(h.validator, h.logger))

	router.Post("/checkin", h.handleCheckIn)
	router.Post("/registrations", h.handleCreateRegistration)
	router.Get("/registrations", h.handleGetRegistration)
	router.Get("/audit/attempts", h.handleListAttempts)

	r.Mount("/", router)
}

type checkInRequest struct {
	Credential   string `json:"credential,omitempty"`
	AttendeeID   int64  `json:"attendee_id,omitempty"`
	ConferenceID int64  `json:"conference_id,omitempty"`
	SessionID    *int64 `json:"session_id,omitempty"`
}

type checkInResponse struct {
	Outcome        string     `json:"outcome"`
	RegistrationID *uuid.UUID `json:"registration_id,omitempty"`
	Status         string     `json:"status,omitempty"`
	Reason         string     `json:"reason,omitempty"`
}

func (h *Handler) handleCheckIn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, err := httputil.Decode[checkInRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	method := audit.MethodQR
	if req.Credential == "" {
		method = audit.MethodManual
	}

	result, err := h.service.CheckIn(ctx, service.Request{
		CredentialRaw: req.Credential,
		AttendeeID:    req.AttendeeID,
		ConferenceID:  req.ConferenceID,
		SessionID:     req.SessionID,
		Method:        method,
		Station:       requestcontext.StationID(ctx),
	})
	if err != nil {
		h.logger.ErrorContext(ctx, "check-in failed",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(w, err)
		return
	}

	status := http.StatusOK
	if result.Outcome == service.OutcomeRejected {
		status = dErrors.ToHTTPStatus(result.Reason)
	}
	httputil.WriteJSON(w, status, checkInResponse{
		Outcome:        string(result.Outcome),
		RegistrationID: result.RegistrationID,
		Status:         string(result.Status),
		Reason:         string(result.Reason),
	})
}

type createRegistrationRequest struct {
	AttendeeID   int64  `json:"attendee_id"`
	ConferenceID int64  `json:"conference_id"`
	SessionID    *int64 `json:"session_id,omitempty"`
}

type registrationResponse struct {
	ID               string `json:"id"`
	AttendeeID       int64  `json:"attendee_id"`
	ConferenceID     int64  `json:"conference_id"`
	SessionID        *int64 `json:"session_id,omitempty"`
	Status           string `json:"status"`
	LastTransitionAt string `json:"last_transition_at"`
	LastTransitionBy string `json:"last_transition_by,omitempty"`
}

func toRegistrationResponse(reg *models.Registration) registrationResponse {
	return registrationResponse{
		ID:               reg.ID.String(),
		AttendeeID:       reg.AttendeeID,
		ConferenceID:     reg.ConferenceID,
		SessionID:        reg.SessionID,
		Status:           string(reg.Status),
		LastTransitionAt: reg.LastTransitionAt.UTC().Format(timeFormat),
		LastTransitionBy: reg.LastTransitionBy,
	}
}

const timeFormat = "2006-01-02T15:04:05.000Z07:00"

func (h *Handler) handleCreateRegistration(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, err := httputil.Decode[createRegistrationRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	reg, err := h.service.Register(ctx, req.AttendeeID, req.ConferenceID, req.SessionID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toRegistrationResponse(reg))
}

func (h *Handler) handleGetRegistration(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	key, err := keyFromQuery(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	reg, err := h.service.Lookup(ctx, key)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toRegistrationResponse(reg))
}

func keyFromQuery(r *http.Request) (models.RegistrationKey, error) {
	attendeeID, err := strconv.ParseInt(r.URL.Query().Get("attendee_id"), 10, 64)
	if err != nil {
		return models.RegistrationKey{}, dErrors.New(dErrors.CodeInvalidInput, "attendee_id is required")
	}
	conferenceID, err := strconv.ParseInt(r.URL.Query().Get("conference_id"), 10, 64)
	if err != nil {
		return models.RegistrationKey{}, dErrors.New(dErrors.CodeInvalidInput, "conference_id is required")
	}

	key := models.RegistrationKey{AttendeeID: attendeeID, ConferenceID: conferenceID}
	if raw := r.URL.Query().Get("session_id"); raw != "" {
		sessionID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return models.RegistrationKey{}, dErrors.New(dErrors.CodeInvalidInput, "session_id must be an integer")
		}
		key.SessionID = &sessionID
	}
	return key, nil
}

type attemptResponse struct {
	ID               string `json:"id"`
	RegistrationID   string `json:"registration_id,omitempty"`
	Method           string `json:"method"`
	Outcome          string `json:"outcome"`
	Reason           string `json:"reason,omitempty"`
	Station          string `json:"station"`
	Timestamp        string `json:"timestamp"`
	CredentialDigest string `json:"credential_digest,omitempty"`
	Security         bool   `json:"security,omitempty"`
}

const defaultAttemptLimit = 50

func (h *Handler) handleListAttempts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var (
		attempts []audit.Attempt
		err      error
	)
	if raw := r.URL.Query().Get("registration_id"); raw != "" {
		registrationID, parseErr := uuid.Parse(raw)
		if parseErr != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "registration_id must be a UUID"))
			return
		}
		attempts, err = h.auditor.List(ctx, registrationID)
	} else {
		limit := defaultAttemptLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			limit, err = strconv.Atoi(raw)
			if err != nil || limit < 1 {
				httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "limit must be a positive integer"))
				return
			}
		}
		attempts, err = h.auditor.Recent(ctx, limit)
	}
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "list admission attempts"))
		return
	}

	responses := make([]attemptResponse, 0, len(attempts))
	for _, attempt := range attempts {
		item := attemptResponse{
			ID:               attempt.ID.String(),
			Method:           string(attempt.Method),
			Outcome:          string(attempt.Outcome),
			Reason:           attempt.Reason,
			Station:          attempt.Station,
			Timestamp:        attempt.Timestamp.UTC().Format(timeFormat),
			CredentialDigest: attempt.CredentialDigest,
			Security:         attempt.Security,
		}
		if attempt.RegistrationID != nil {
			item.RegistrationID = attempt.RegistrationID.String()
		}
		responses = append(responses, item)
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"attempts": responses})
}
