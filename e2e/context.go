// Package e2e drives a running turnstile server over HTTP. The suite is black
// box: it only knows the base URL, the credential secret badges are signed
// with, and the station signing key.
package e2e

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TestContext holds the state shared by all step definitions in one scenario.
type TestContext struct {
	baseURL          string
	credentialSecret string
	stationToken     string
	client           *http.Client

	lastStatus     int
	lastBody       map[string]any
	lastCredential string
}

// NewTestContext builds a context from the environment. The defaults line up
// with a locally started server with no configuration.
func NewTestContext() (*TestContext, error) {
	baseURL := os.Getenv("TURNSTILE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	secret := os.Getenv("CREDENTIAL_SECRET")
	if secret == "" {
		secret = "dev-secret-change-in-production"
	}
	stationKey := os.Getenv("STATION_JWT_KEY")
	if stationKey == "" {
		stationKey = "dev-station-key"
	}

	token, err := mintStationToken(stationKey, "e2e-gate")
	if err != nil {
		return nil, fmt.Errorf("mint station token: %w", err)
	}

	return &TestContext{
		baseURL:          strings.TrimRight(baseURL, "/"),
		credentialSecret: secret,
		stationToken:     token,
		client:           &http.Client{Timeout: 10 * time.Second},
	}, nil
}

func mintStationToken(key, stationID string) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"station_id": stationID,
		"sub":        stationID,
		"iat":        now.Unix(),
		"exp":        now.Add(time.Hour).Unix(),
	})
	return token.SignedString([]byte(key))
}

// Reset clears per-scenario state.
func (tc *TestContext) Reset() {
	tc.lastStatus = 0
	tc.lastBody = nil
	tc.lastCredential = ""
}

// POST sends a JSON body with the station token attached.
func (tc *TestContext) POST(path string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, tc.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+tc.stationToken)
	return tc.do(req)
}

// GET fetches a path with the station token attached.
func (tc *TestContext) GET(path string) error {
	req, err := http.NewRequest(http.MethodGet, tc.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+tc.stationToken)
	return tc.do(req)
}

func (tc *TestContext) do(req *http.Request) error {
	resp, err := tc.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	tc.lastStatus = resp.StatusCode
	tc.lastBody = nil
	if err := json.NewDecoder(resp.Body).Decode(&tc.lastBody); err != nil {
		// Non-JSON bodies are fine for status-only assertions.
		tc.lastBody = map[string]any{}
	}
	return nil
}

// LastStatus returns the HTTP status of the most recent response.
func (tc *TestContext) LastStatus() int { return tc.lastStatus }

// GetResponseField returns a top-level field of the last JSON response.
func (tc *TestContext) GetResponseField(field string) (any, error) {
	v, ok := tc.lastBody[field]
	if !ok {
		return nil, fmt.Errorf("response has no field %q (body: %v)", field, tc.lastBody)
	}
	return v, nil
}

// SignedBadge builds a valid credential payload the way badge generation
// does: HMAC-SHA256 over the canonical fields, hex, truncated to seven.
func (tc *TestContext) SignedBadge(attendeeID, conferenceID int64, sessionID *int64) string {
	issued := time.Now().Unix()

	session := "-"
	if sessionID != nil {
		session = strconv.FormatInt(*sessionID, 10)
	}
	canonical := strings.Join([]string{
		strconv.FormatInt(attendeeID, 10),
		strconv.FormatInt(conferenceID, 10),
		session,
		strconv.FormatInt(issued, 10),
		"attendee_registration",
	}, "|")
	mac := hmac.New(sha256.New, []byte(tc.credentialSecret))
	mac.Write([]byte(canonical))
	tag := hex.EncodeToString(mac.Sum(nil))[:7]

	fields := map[string]any{
		"id":   attendeeID,
		"conf": conferenceID,
		"t":    issued,
		"type": "attendee_registration",
		"cs":   tag,
		"v":    "2.0",
	}
	if sessionID != nil {
		fields["session"] = *sessionID
	}
	payload, _ := json.Marshal(fields)
	return string(payload)
}

// SetLastCredential remembers the credential used by the previous scan so
// re-scan steps can replay it byte for byte.
func (tc *TestContext) SetLastCredential(raw string) { tc.lastCredential = raw }

// LastCredential returns the credential from the previous scan.
func (tc *TestContext) LastCredential() string { return tc.lastCredential }
