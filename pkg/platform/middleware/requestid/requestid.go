// Package requestid assigns a correlation ID to every request. An inbound
// X-Request-ID is honored so gateway-assigned IDs survive; otherwise a fresh
// UUID is generated. The ID is echoed on the response.
package requestid

import (
	"net/http"

	"github.com/google/uuid"

	"turnstile/pkg/requestcontext"
)

const Header = "X-Request-ID"

func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(Header)
		if id == "" {
			id = uuid.NewString()
		}
		ctx := requestcontext.WithRequestID(r.Context(), id)
		w.Header().Set(Header, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
