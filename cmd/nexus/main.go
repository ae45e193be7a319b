package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pysugar/session-nexus/internal/auth/oauth"
	"github.com/pysugar/session-nexus/internal/auth/session"
	"github.com/pysugar/session-nexus/internal/backend"
	"github.com/pysugar/session-nexus/internal/config"
	"github.com/pysugar/session-nexus/internal/db"
	"github.com/pysugar/session-nexus/internal/monitor"
	"github.com/pysugar/session-nexus/internal/providers/catalog"
	"github.com/pysugar/session-nexus/internal/server"
	"github.com/pysugar/session-nexus/internal/storage"
	"github.com/pysugar/session-nexus/internal/version"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database
	database, err := db.InitDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	// Session store (the db backend shares the connection above)
	storageCfg := cfg.Storage()
	storageCfg.DB = database
	sessionBackend, err := storage.Open(ctx, storageCfg)
	if err != nil {
		log.Fatalf("Failed to open session backend: %v", err)
	}
	defer sessionBackend.Close()

	store, err := session.NewStore(sessionBackend, session.WithKey(cfg.SessionKey))
	if err != nil {
		log.Fatalf("Failed to load session: %v", err)
	}
	defer store.Close()

	// Session manager with activity log
	sessionMonitor := monitor.NewSessionMonitor(database)
	sessionMonitor.SetEnabled(cfg.EventLog)
	manager := session.NewManager(store, session.WithRecorder(sessionMonitor))
	defer manager.Close()

	// Expiry is evaluated on demand; the sweep only runs when configured.
	if cfg.PruneInterval > 0 {
		manager.StartPruneLoop(ctx, cfg.PruneInterval)
	}

	if err := catalog.InitFromEnvAndConfig(); err != nil {
		log.Printf("⚠️ Identity providers: %v (using defaults)", err)
	}

	backendClient := backend.NewClient(manager, cfg.BackendURLs...)

	handler := server.NewRouter(server.Options{
		Manager:       manager,
		Backend:       backendClient,
		Monitor:       sessionMonitor,
		DB:            database,
		States:        oauth.NewStates(),
		AdminPassword: cfg.AdminPassword,
		APIKeyAuth:    cfg.APIKeyAuth,
		MaskSensitive: cfg.MaskSensitive,
	})

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Printf("🚀 Session-Nexus %s starting on http://%s", version.Version, cfg.Addr())
	log.Printf("💾 Session backend: %s (key %q)", storageCfg.Kind, store.Key())
	log.Printf("🔌 Session API: http://%s/api/session", cfg.DisplayURL())
	for _, id := range catalog.EnabledProviderIDs() {
		log.Printf("🔐 Sign in with %s: http://%s/auth/%s/login", id, cfg.DisplayURL(), id)
	}
	if user := manager.User(); !user.IsEmpty() {
		log.Printf("👤 Restored %d account(s), selected %s", len(user.Accounts), user.SelectedEmail())
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Printf("🛑 Shutting down...")
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
