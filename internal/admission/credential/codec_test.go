package credential

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"turnstile/internal/admission/models"
	dErrors "turnstile/pkg/domain-errors"
)

const testSecret = "unit-test-secret"

var testNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func testCodec() *Codec {
	return NewCodec(testSecret, 15*time.Minute)
}

// rawPayload builds a signed v2.0 payload, applying overrides after signing
// so tests can tamper with individual fields.
func rawPayload(t *testing.T, c *Codec, cred *models.Credential, overrides map[string]any) string {
	t.Helper()

	payload := map[string]any{
		"id":   cred.AttendeeID,
		"conf": cred.ConferenceID,
		"t":    cred.IssuedAt.Unix(),
		"type": string(cred.Kind),
		"cs":   c.Tag(cred),
		"v":    FormatV2,
	}
	if cred.SessionID != nil {
		payload["session"] = *cred.SessionID
	}
	for k, v := range overrides {
		payload[k] = v
	}

	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return string(raw)
}

func sessionCredential(issuedAt time.Time) *models.Credential {
	session := int64(10)
	return &models.Credential{
		AttendeeID:   68,
		ConferenceID: 12,
		SessionID:    &session,
		IssuedAt:     issuedAt,
		Kind:         models.KindAttendeeRegistration,
	}
}

func TestDecodeValidCredential(t *testing.T) {
	c := testCodec()
	cred := sessionCredential(testNow.Add(-time.Minute))
	raw := rawPayload(t, c, cred, nil)

	got, err := c.Decode(raw, testNow)
	require.NoError(t, err)
	assert.Equal(t, int64(68), got.AttendeeID)
	assert.Equal(t, int64(12), got.ConferenceID)
	require.NotNil(t, got.SessionID)
	assert.Equal(t, int64(10), *got.SessionID)
	assert.Equal(t, models.KindAttendeeRegistration, got.Kind)
	assert.Equal(t, FormatV2, got.FormatVersion)
	assert.Equal(t, cred.IssuedAt.Unix(), got.IssuedAt.Unix())
}

func TestDecodeConferenceLevelCredential(t *testing.T) {
	c := testCodec()
	cred := &models.Credential{
		AttendeeID:   68,
		ConferenceID: 12,
		IssuedAt:     testNow.Add(-time.Minute),
		Kind:         models.KindAttendeeRegistration,
	}
	raw := rawPayload(t, c, cred, nil)

	got, err := c.Decode(raw, testNow)
	require.NoError(t, err)
	assert.Nil(t, got.SessionID)
}

func TestDecodeIgnoresUnknownFields(t *testing.T) {
	c := testCodec()
	cred := sessionCredential(testNow.Add(-time.Minute))
	raw := rawPayload(t, c, cred, map[string]any{"future_field": "ignored", "n": 42})

	_, err := c.Decode(raw, testNow)
	assert.NoError(t, err)
}

func TestDecodeTamperedTag(t *testing.T) {
	c := testCodec()
	cred := sessionCredential(testNow.Add(-time.Minute))

	tag := c.Tag(cred)
	// Flip one character of the tag.
	altered := "0" + tag[1:]
	if altered == tag {
		altered = "1" + tag[1:]
	}
	raw := rawPayload(t, c, cred, map[string]any{"cs": altered})

	_, err := c.Decode(raw, testNow)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeIntegrityFailure))
}

func TestDecodeTamperedField(t *testing.T) {
	c := testCodec()
	cred := sessionCredential(testNow.Add(-time.Minute))

	// Change the attendee id after signing; the tag no longer matches.
	raw := rawPayload(t, c, cred, map[string]any{"id": 69})

	_, err := c.Decode(raw, testNow)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeIntegrityFailure))
}

func TestDecodeWrongSecret(t *testing.T) {
	signer := NewCodec("other-secret", 15*time.Minute)
	cred := sessionCredential(testNow.Add(-time.Minute))
	raw := rawPayload(t, signer, cred, nil)

	_, err := testCodec().Decode(raw, testNow)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeIntegrityFailure))
}

func TestDecodeExpired(t *testing.T) {
	c := testCodec()
	cred := sessionCredential(testNow.Add(-16 * time.Minute))
	raw := rawPayload(t, c, cred, nil)

	_, err := c.Decode(raw, testNow)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeExpiredCredential))
}

func TestDecodeUnsupportedVersion(t *testing.T) {
	c := testCodec()
	cred := sessionCredential(testNow.Add(-time.Minute))
	raw := rawPayload(t, c, cred, map[string]any{"v": "3.1"})

	_, err := c.Decode(raw, testNow)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnsupportedVersion))
}

func TestDecodeMalformed(t *testing.T) {
	c := testCodec()

	for name, raw := range map[string]string{
		"not json":       "not-a-credential",
		"empty":          "",
		"missing fields": `{"id":68,"v":"2.0"}`,
		"wrong types":    `{"id":"sixty-eight","conf":12,"t":1,"type":"attendee_registration","cs":"abc1234","v":"2.0"}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := c.Decode(raw, testNow)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidCredential))
		})
	}
}

func TestTagLength(t *testing.T) {
	c := testCodec()
	tag := c.Tag(sessionCredential(testNow))
	assert.Len(t, tag, TagLength)
}

func TestTagDependsOnEveryField(t *testing.T) {
	c := testCodec()
	base := sessionCredential(testNow)
	baseTag := c.Tag(base)

	mutations := map[string]func(*models.Credential){
		"attendee":   func(m *models.Credential) { m.AttendeeID++ },
		"conference": func(m *models.Credential) { m.ConferenceID++ },
		"session":    func(m *models.Credential) { m.SessionID = nil },
		"issued at":  func(m *models.Credential) { m.IssuedAt = m.IssuedAt.Add(time.Second) },
		"kind":       func(m *models.Credential) { m.Kind = "speaker_pass" },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			cred := base.Clone()
			mutate(cred)
			assert.NotEqual(t, baseTag, c.Tag(cred))
		})
	}
}

func TestDigestIsStable(t *testing.T) {
	assert.Equal(t, Digest("payload"), Digest("payload"))
	assert.NotEqual(t, Digest("payload"), Digest("payload2"))
	assert.Len(t, Digest("payload"), 64)
}
