package service

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"turnstile/internal/admission/credential"
	"turnstile/internal/admission/models"
	"turnstile/internal/admission/store/registration"
	"turnstile/internal/audit"
	dErrors "turnstile/pkg/domain-errors"
	"turnstile/pkg/requestcontext"
)

// newFlowService wires a coordinator against the real in-memory stores so the
// whole attempt path runs: codec, state machine, guarded commit, audit.
func newFlowService(t *testing.T) (*Service, *registration.InMemoryStore, *audit.InMemoryStore) {
	t.Helper()

	regStore := registration.NewInMemoryStore()
	auditStore := audit.NewInMemoryStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	publisher := audit.NewPublisher(auditStore, audit.WithLogger(logger))
	svc := NewService(credential.NewCodec(testSecret, 24*time.Hour), regStore, publisher, WithLogger(logger))
	return svc, regStore, auditStore
}

func signedPayload(t *testing.T, codec *credential.Codec, attendeeID, conferenceID int64, sessionID *int64, issued time.Time) string {
	t.Helper()

	cred := &models.Credential{
		AttendeeID:   attendeeID,
		ConferenceID: conferenceID,
		SessionID:    sessionID,
		IssuedAt:     issued,
		Kind:         models.KindAttendeeRegistration,
	}
	fields := map[string]any{
		"id":   attendeeID,
		"conf": conferenceID,
		"t":    issued.Unix(),
		"type": string(models.KindAttendeeRegistration),
		"cs":   codec.Tag(cred),
		"v":    credential.FormatV2,
	}
	if sessionID != nil {
		fields["session"] = *sessionID
	}
	raw, err := json.Marshal(fields)
	require.NoError(t, err)
	return string(raw)
}

func TestCheckInFlow(t *testing.T) {
	svc, regStore, auditStore := newFlowService(t)
	codec := credential.NewCodec(testSecret, 24*time.Hour)
	ctx := requestcontext.WithTime(context.Background(), testNow)

	sessionID := int64(10)
	_, err := svc.Register(ctx, 68, 12, &sessionID)
	require.NoError(t, err)
	_, err = svc.Register(ctx, 68, 12, nil)
	require.NoError(t, err)

	raw := signedPayload(t, codec, 68, 12, &sessionID, testNow)

	// First scan wins the transition.
	result, err := svc.CheckIn(ctx, Request{CredentialRaw: raw, Method: audit.MethodQR, Station: "gate-a"})
	require.NoError(t, err)
	require.Equal(t, OutcomeAccepted, result.Outcome)
	require.Equal(t, models.StatusCheckedIn, result.Status)

	// Re-scan converges without a second write: the transition timestamp and
	// version are untouched.
	later := requestcontext.WithTime(context.Background(), testNow.Add(10*time.Minute))
	result, err = svc.CheckIn(later, Request{CredentialRaw: raw, Method: audit.MethodQR, Station: "gate-b"})
	require.NoError(t, err)
	require.Equal(t, OutcomeDuplicate, result.Outcome)

	stored, err := regStore.Find(ctx, models.RegistrationKey{AttendeeID: 68, ConferenceID: 12, SessionID: &sessionID})
	require.NoError(t, err)
	require.Equal(t, models.StatusCheckedIn, stored.Status)
	require.Equal(t, testNow, stored.LastTransitionAt)
	require.Equal(t, "gate-a", stored.LastTransitionBy)
	require.Equal(t, int64(2), stored.Version)

	// The session-scoped check-in left the conference-level record alone.
	confLevel, err := regStore.Find(ctx, models.RegistrationKey{AttendeeID: 68, ConferenceID: 12})
	require.NoError(t, err)
	require.Equal(t, models.StatusRegistered, confLevel.Status)

	// One audit fact per attempt.
	attempts := auditStore.All()
	require.Len(t, attempts, 2)
	require.Equal(t, audit.OutcomeAccepted, attempts[0].Outcome)
	require.Equal(t, audit.OutcomeDuplicate, attempts[1].Outcome)
	require.Equal(t, *attempts[0].RegistrationID, *attempts[1].RegistrationID)
}

func TestCheckInFlowTamperedCredentialLeavesStoreUntouched(t *testing.T) {
	svc, regStore, auditStore := newFlowService(t)
	codec := credential.NewCodec(testSecret, 24*time.Hour)
	ctx := requestcontext.WithTime(context.Background(), testNow)

	_, err := svc.Register(ctx, 68, 12, nil)
	require.NoError(t, err)

	raw := signedPayload(t, codec, 68, 12, nil, testNow)
	var fields map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &fields))
	fields["conf"] = 13
	tampered, err := json.Marshal(fields)
	require.NoError(t, err)

	result, err := svc.CheckIn(ctx, Request{CredentialRaw: string(tampered), Method: audit.MethodQR, Station: "gate-a"})
	require.NoError(t, err)
	require.Equal(t, OutcomeRejected, result.Outcome)
	require.Equal(t, dErrors.CodeIntegrityFailure, result.Reason)

	stored, err := regStore.Find(ctx, models.RegistrationKey{AttendeeID: 68, ConferenceID: 12})
	require.NoError(t, err)
	require.Equal(t, models.StatusRegistered, stored.Status)
	require.Equal(t, int64(1), stored.Version)

	attempts := auditStore.All()
	require.Len(t, attempts, 1)
	require.True(t, attempts[0].Security)
	require.Nil(t, attempts[0].RegistrationID)
}

func TestConcurrentCheckInsSingleWinner(t *testing.T) {
	const stations = 16

	svc, _, auditStore := newFlowService(t)
	codec := credential.NewCodec(testSecret, 24*time.Hour)
	ctx := requestcontext.WithTime(context.Background(), testNow)

	_, err := svc.Register(ctx, 68, 12, nil)
	require.NoError(t, err)

	raw := signedPayload(t, codec, 68, 12, nil, testNow)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []Outcome
		errs    []error
	)
	start := make(chan struct{})
	for i := 0; i < stations; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			result, err := svc.CheckIn(ctx, Request{CredentialRaw: raw, Method: audit.MethodQR, Station: "gate-a"})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			results = append(results, result.Outcome)
		}()
	}
	close(start)
	wg.Wait()

	require.Empty(t, errs)

	var accepted, duplicate int
	for _, outcome := range results {
		switch outcome {
		case OutcomeAccepted:
			accepted++
		case OutcomeDuplicate:
			duplicate++
		default:
			t.Fatalf("unexpected outcome %q", outcome)
		}
	}
	require.Equal(t, 1, accepted, "exactly one attempt should win the transition")
	require.Equal(t, stations-1, duplicate)

	require.Len(t, auditStore.All(), stations)
}
