// Package server assembles the nexus HTTP API.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/pysugar/session-nexus/internal/auth/oauth"
	"github.com/pysugar/session-nexus/internal/auth/session"
	"github.com/pysugar/session-nexus/internal/backend"
	"github.com/pysugar/session-nexus/internal/monitor"
	"github.com/pysugar/session-nexus/internal/server/handlers"
	"github.com/pysugar/session-nexus/internal/server/middleware"
	"gorm.io/gorm"
)

// Options carries everything the routes are built from.
type Options struct {
	Manager *session.Manager
	Backend *backend.Client
	Monitor *monitor.SessionMonitor // nil disables the /api/events routes
	DB      *gorm.DB                // nil disables API key routes and API key auth
	States  *oauth.States

	AdminPassword string
	APIKeyAuth    bool
	MaskSensitive bool
}

// NewRouter builds the HTTP handler.
func NewRouter(o Options) http.Handler {
	if o.States == nil {
		o.States = oauth.NewStates()
	}
	m, mask := o.Manager, o.MaskSensitive

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	// ============================================
	// Public Routes (No Auth Required)
	// ============================================

	r.Get("/healthz", handlers.HealthHandler(func() bool { return !m.User().IsEmpty() }))
	r.Get("/version", handlers.VersionHandler())

	// OAuth flow
	r.Get("/auth/{provider}/login", oauth.HandleLogin(o.States))
	r.Get("/auth/{provider}/callback", oauth.HandleCallback(o.States, o.Backend, m))

	// ============================================
	// Session API (admin password, optionally API key)
	// ============================================

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.AdminAuth(o.AdminPassword))
		if o.APIKeyAuth && o.DB != nil {
			r.Use(middleware.APIKeyAuth(o.DB))
		}

		r.Get("/providers", handlers.ProvidersHandler())

		r.Route("/session", func(r chi.Router) {
			r.Get("/", handlers.SessionHandler(m, mask))
			r.Post("/login", handlers.LoginHandler(m, mask))
			r.Post("/login/password", handlers.PasswordLoginHandler(m, o.Backend, mask))
			r.Post("/switch", handlers.SwitchHandler(m, mask))
			r.Delete("/accounts/{email}", handlers.RemoveAccountHandler(m, mask))
			r.Delete("/selected", handlers.RemoveSelectedHandler(m, mask))
			r.Post("/logout", handlers.LogoutHandler(m, mask))
			r.Put("/storage", handlers.UpdateStorageHandler(m, mask))
			r.Post("/storage/sync", handlers.SyncStorageHandler(m, o.Backend, mask))
			r.Post("/invalidate", handlers.InvalidateHandler(m, mask))
			r.Get("/expired", handlers.ExpiredHandler(m))
		})

		if o.Monitor != nil {
			r.Get("/events", handlers.GetEventsHandler(o.Monitor))
			r.Get("/events/history", handlers.GetEventHistoryHandler(o.Monitor))
			r.Get("/events/stats", handlers.GetEventStatsHandler(o.Monitor))
			r.Delete("/events", handlers.ClearEventsHandler(o.Monitor))
			r.Get("/events/status", handlers.GetEventLogStatusHandler(o.Monitor))
			r.Post("/events/toggle", handlers.ToggleEventLogHandler(o.Monitor))
		}

		if o.DB != nil {
			r.Get("/config/apikey", handlers.GetAPIKeyHandler(o.DB, mask))
			r.Post("/config/apikey/regenerate", handlers.RegenerateAPIKeyHandler(o.DB, mask))
		}
	})

	return r
}
