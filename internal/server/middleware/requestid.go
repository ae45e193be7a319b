package middleware

import (
	"net/http"

	"github.com/pysugar/session-nexus/internal/logging"
)

// RequestID reuses the caller's X-Request-ID or generates one, stores it in the
// request context and echoes it on the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(logging.RequestIDHeader)
		if id == "" || len(id) > 64 {
			id = logging.GenerateRequestID()
		}
		w.Header().Set(logging.RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(logging.WithRequestID(r.Context(), id)))
	})
}
