// Package handlers serves the nexus HTTP API over the session manager.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/pysugar/session-nexus/internal/auth/oauth"
	"github.com/pysugar/session-nexus/internal/auth/session"
	"github.com/pysugar/session-nexus/internal/backend"
	"github.com/pysugar/session-nexus/internal/logging"
)

// maxBodyBytes limits request bodies (login payloads are small)
const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= 500 {
		log.Printf("%s❌ %s %s failed: %v", logging.Prefix(r.Context()), r.Method, r.URL.Path, err)
	}
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"message": err.Error(),
			"type":    errorType(status),
		},
	})
}

// decodeBody decodes a JSON request body into v.
func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v); err != nil {
		return &badRequest{msg: "Invalid request body: " + err.Error()}
	}
	return nil
}

type badRequest struct{ msg string }

func (e *badRequest) Error() string { return e.msg }

// statusFor maps errors to HTTP statuses.
func statusFor(err error) int {
	var br *badRequest
	var se *backend.StatusError
	switch {
	case errors.As(err, &br):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrInvalidAccount):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrTokenExpired), errors.Is(err, backend.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, backend.ErrNoSession):
		return http.StatusConflict
	case errors.As(err, &se):
		if se.StatusCode == http.StatusUnauthorized || se.StatusCode == http.StatusForbidden {
			return http.StatusUnauthorized
		}
		return http.StatusBadGateway
	}
	return oauth.StatusFor(err)
}

func errorType(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "invalid_request_error"
	case http.StatusUnauthorized:
		return "authentication_error"
	case http.StatusConflict:
		return "session_error"
	case http.StatusBadGateway:
		return "backend_error"
	}
	return "server_error"
}
