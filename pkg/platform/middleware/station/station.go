// Package station authenticates check-in stations. Stations present an HS256
// JWT issued at provisioning time; the station_id claim identifies the scanner
// and becomes the actor on every transition it commits.
package station

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"turnstile/pkg/requestcontext"
)

// Claims are the validated claims from a station token.
type Claims struct {
	StationID string
}

// Validator validates station tokens against the shared signing key.
type Validator struct {
	key []byte
}

func NewValidator(key string) *Validator {
	return &Validator{key: []byte(key)}
}

type stationClaims struct {
	StationID string `json:"station_id"`
	jwt.RegisteredClaims
}

// ValidateToken parses and verifies a station token. Only HS256 is accepted.
func (v *Validator) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &stationClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return v.key, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, fmt.Errorf("parse station token: %w", err)
	}

	claims, ok := token.Claims.(*stationClaims)
	if !ok || claims.StationID == "" {
		return nil, fmt.Errorf("station token missing station_id claim")
	}
	return &Claims{StationID: claims.StationID}, nil
}

// IssueToken mints a station token. Used by provisioning tooling and tests.
func (v *Validator) IssueToken(stationID string, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, stationClaims{
		StationID: stationID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   stationID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	return token.SignedString(v.key)
}

// Require rejects requests without a valid station token and records the
// station identity in the request context.
func Require(validator *Validator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				logger.WarnContext(ctx, "station request without bearer token",
					"request_id", requestcontext.RequestID(ctx),
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "station token required")
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(ctx, "station token rejected",
					"error", err,
					"request_id", requestcontext.RequestID(ctx),
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "invalid or expired station token")
				return
			}

			next.ServeHTTP(w, r.WithContext(requestcontext.WithStationID(ctx, claims.StationID)))
		})
	}
}

func writeJSONError(w http.ResponseWriter, status int, errCode, errDesc string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(fmt.Appendf(nil, `{"error":"%s","error_description":"%s"}`, errCode, errDesc))
}
