// Package middleware holds the HTTP middleware of the nexus API.
package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/pysugar/session-nexus/internal/db"
	"gorm.io/gorm"
)

// APIKeyAuth validates the API key from the Authorization or x-api-key header.
func APIKeyAuth(database *gorm.DB) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			expectedKey := db.GetAPIKey(database)
			if expectedKey == "" {
				// No API key configured, allow all requests (first-run scenario)
				next.ServeHTTP(w, r)
				return
			}

			if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
				if keysEqual(strings.TrimPrefix(authHeader, "Bearer "), expectedKey) {
					next.ServeHTTP(w, r)
					return
				}
			}
			if keysEqual(r.Header.Get("x-api-key"), expectedKey) {
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error": {"message": "Invalid API key", "type": "authentication_error"}}`))
		})
	}
}

// AdminAuth requires HTTP basic auth with password. An empty password disables the check.
func AdminAuth(password string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if password == "" {
				next.ServeHTTP(w, r)
				return
			}
			_, pass, ok := r.BasicAuth()
			if !ok || !keysEqual(pass, password) {
				w.Header().Set("WWW-Authenticate", `Basic realm="Nexus Admin"`)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func keysEqual(got, want string) bool {
	return got != "" && subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
