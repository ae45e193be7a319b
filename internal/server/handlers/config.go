package handlers

import (
	"net/http"
	"strings"

	"github.com/pysugar/session-nexus/internal/auth/oauth"
	"github.com/pysugar/session-nexus/internal/db"
	"github.com/pysugar/session-nexus/internal/providers/catalog"
	"github.com/pysugar/session-nexus/internal/version"
	"gorm.io/gorm"
)

// GetAPIKeyHandler returns the current API key
func GetAPIKeyHandler(database *gorm.DB, mask bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		apiKey := db.GetAPIKey(database)
		if mask {
			apiKey = maskAPIKey(apiKey)
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"api_key": apiKey,
			"masked":  mask,
		})
	}
}

// RegenerateAPIKeyHandler generates a new API key
func RegenerateAPIKeyHandler(database *gorm.DB, mask bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		apiKey := db.RegenerateAPIKey(database)
		if mask {
			apiKey = maskAPIKey(apiKey)
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"api_key": apiKey,
			"masked":  mask,
		})
	}
}

// ProvidersHandler lists the identity providers and whether they can be used.
func ProvidersHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providers := catalog.GetProviders()
		type entry struct {
			catalog.ProviderInfo
			LoginURL string `json:"login_url,omitempty"`
		}
		out := make([]entry, 0, len(providers))
		for _, p := range providers {
			e := entry{ProviderInfo: p}
			if p.RuntimeEnabled {
				e.LoginURL = "/auth/" + p.ID + "/login"
			}
			out = append(out, e)
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"providers":   out,
			"state_ttl_s": int(oauth.StateTTL.Seconds()),
		})
	}
}

// VersionHandler returns build information
func VersionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, version.Get())
	}
}

// HealthHandler reports liveness and whether an account is signed in.
func HealthHandler(signedIn func() bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":    "ok",
			"signed_in": signedIn(),
		})
	}
}

func maskAPIKey(apiKey string) string {
	if len(apiKey) <= 10 {
		return "***"
	}
	return apiKey[:6] + strings.Repeat("*", len(apiKey)-10) + apiKey[len(apiKey)-4:]
}
