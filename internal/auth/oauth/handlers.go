package oauth

import (
	"errors"
	"fmt"
	"html"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/pysugar/session-nexus/internal/auth/session"
	"github.com/pysugar/session-nexus/internal/logging"
)

// HandleLogin redirects to the consent page of the {provider} URL parameter.
func HandleLogin(states *States) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providerID := chi.URLParam(r, "provider")
		p, err := ResolveProvider(providerID, requestRedirectURL(r, providerID))
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		state := states.Issue(p.Info.ID)
		http.Redirect(w, r, p.AuthCodeURL(state), http.StatusTemporaryRedirect)
	}
}

// HandleCallback finishes the login started by HandleLogin.
func HandleCallback(states *States, backend Exchanger, sessions Sessions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providerID := chi.URLParam(r, "provider")
		q := r.URL.Query()

		if errParam := q.Get("error"); errParam != "" {
			http.Error(w, fmt.Sprintf("Sign-in cancelled: %s", errParam), http.StatusBadRequest)
			return
		}

		p, err := ResolveProvider(providerID, requestRedirectURL(r, providerID))
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		if err := states.Consume(p.Info.ID, q.Get("state")); err != nil {
			http.Error(w, "Invalid state token", http.StatusBadRequest)
			return
		}

		if err := p.Complete(r.Context(), q.Get("code"), backend, sessions); err != nil {
			log.Printf("%s❌ [OAuth] %s sign-in failed: %v", logging.Prefix(r.Context()), p.Info.ID, err)
			http.Error(w, err.Error(), StatusFor(err))
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, successPage, html.EscapeString(p.Info.AuthProvider))
	}
}

// StatusFor maps a sign-in error to an HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrInvalidAccount):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrTokenExpired):
		return http.StatusUnauthorized
	case errors.Is(err, ErrBackend):
		return http.StatusBadGateway
	case errors.Is(err, ErrInvalidState):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

const successPage = `<!DOCTYPE html>
<html lang="en">
<head>
	<meta charset="UTF-8">
	<title>Login Successful</title>
	<style>
		body { font-family: -apple-system, BlinkMacSystemFont, sans-serif; max-width: 600px; margin: 50px auto; padding: 20px; background: #1a1a2e; color: #eee; text-align: center; }
		.success { color: #4ade80; font-size: 24px; margin-bottom: 10px; }
	</style>
</head>
<body>
	<div class="success">✅ Login Successful</div>
	<p>Signed in with <strong>%s</strong>. You can close this window.</p>
</body>
</html>`
