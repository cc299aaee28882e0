// Package credential parses and validates scanned QR payloads. Decoding is
// pure over the raw payload, the injected secret, and the supplied clock, so
// the codec is fully testable with fake secrets and pinned times.
package credential

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"turnstile/internal/admission/models"
	dErrors "turnstile/pkg/domain-errors"
)

// TagLength is the truncated length of the hex-encoded integrity tag carried
// in the payload. Part of the v2.0 format; changing it means a new version.
const TagLength = 7

// FormatV2 is the only payload version this codec accepts.
const FormatV2 = "2.0"

// wirePayload is the compact structure carried by the QR code. Unknown extra
// fields are ignored for forward compatibility.
type wirePayload struct {
	AttendeeID   int64  `json:"id"`
	ConferenceID int64  `json:"conf"`
	SessionID    *int64 `json:"session,omitempty"`
	IssuedAt     int64  `json:"t"`
	Kind         string `json:"type"`
	Tag          string `json:"cs"`
	Version      string `json:"v"`
}

// Codec validates credential payloads against a server-held secret.
type Codec struct {
	secret []byte
	maxAge time.Duration
}

// NewCodec builds a codec. The secret is loaded once at startup and injected
// here; maxAge bounds credential freshness.
func NewCodec(secret string, maxAge time.Duration) *Codec {
	return &Codec{secret: []byte(secret), maxAge: maxAge}
}

// Decode parses and validates raw, returning the credential or a coded domain
// error. Validation is fail-closed: structure, version, integrity, freshness,
// in that order. No side effects.
func (c *Codec) Decode(raw string, now time.Time) (*models.Credential, error) {
	var p wirePayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidCredential, "malformed credential payload")
	}
	if p.AttendeeID == 0 || p.ConferenceID == 0 || p.IssuedAt == 0 || p.Kind == "" || p.Tag == "" || p.Version == "" {
		return nil, dErrors.New(dErrors.CodeInvalidCredential, "credential payload missing required fields")
	}
	if p.Version != FormatV2 {
		return nil, dErrors.New(dErrors.CodeUnsupportedVersion,
			fmt.Sprintf("unsupported credential format version %q", p.Version))
	}

	cred := &models.Credential{
		AttendeeID:    p.AttendeeID,
		ConferenceID:  p.ConferenceID,
		SessionID:     p.SessionID,
		IssuedAt:      time.Unix(p.IssuedAt, 0).UTC(),
		Kind:          models.Kind(p.Kind),
		IntegrityTag:  p.Tag,
		FormatVersion: p.Version,
	}

	want := c.Tag(cred)
	if !hmac.Equal([]byte(want), []byte(p.Tag)) {
		return nil, dErrors.New(dErrors.CodeIntegrityFailure, "credential integrity check failed")
	}

	if now.Sub(cred.IssuedAt) > c.maxAge {
		return nil, dErrors.New(dErrors.CodeExpiredCredential, "credential is too old")
	}

	return cred, nil
}

// Tag computes the integrity tag for a credential: HMAC-SHA256 over the
// canonical field encoding, hex, truncated to TagLength. The canonical form
// is `id|conf|session|t|type` with "-" for an absent session, tied to format
// version 2.0.
func (c *Codec) Tag(cred *models.Credential) string {
	session := "-"
	if cred.SessionID != nil {
		session = strconv.FormatInt(*cred.SessionID, 10)
	}
	canonical := strings.Join([]string{
		strconv.FormatInt(cred.AttendeeID, 10),
		strconv.FormatInt(cred.ConferenceID, 10),
		session,
		strconv.FormatInt(cred.IssuedAt.Unix(), 10),
		string(cred.Kind),
	}, "|")

	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(canonical))
	return hex.EncodeToString(mac.Sum(nil))[:TagLength]
}

// Digest returns the SHA-256 hex digest of a raw payload. The audit trail
// stores this instead of the secret-bearing payload itself.
func Digest(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
