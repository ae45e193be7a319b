// Package cli implements nexusctl, a terminal client that works on the same
// persisted session as the nexus daemon.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/pysugar/session-nexus/internal/auth/session"
	"github.com/pysugar/session-nexus/internal/backend"
	"github.com/pysugar/session-nexus/internal/config"
	"github.com/pysugar/session-nexus/internal/storage"
	"github.com/spf13/cobra"
)

// app holds the global flags and the session opened for a command.
type app struct {
	in  io.Reader
	out io.Writer

	envFile    string
	kind       string
	sessionDir string
	dbPath     string
	jsonOutput bool

	cfg     *config.Config
	backend storage.Backend
	store   *session.Store
	manager *session.Manager
}

// Execute runs nexusctl with os.Args.
func Execute() error {
	return NewRootCmd(os.Stdin, os.Stdout).Execute()
}

// NewRootCmd builds the command tree reading from in and printing to out.
func NewRootCmd(in io.Reader, out io.Writer) *cobra.Command {
	a := &app{in: in, out: out}

	root := &cobra.Command{
		Use:   "nexusctl",
		Short: "Manage signed-in accounts",
		Long: `nexusctl manages the multi-account session shared with the nexus daemon.

Every command loads the persisted session, applies one change and saves it;
a running daemon picks the change up through its storage backend.

Environment Variables:
  NEXUS_SESSION_BACKEND  memory, file, db or redis (default: db)
  NEXUS_SESSION_DIR      Directory of the file backend (default: ~/.nexus/sessions)
  NEXUS_DB_PATH          SQLite database of the db backend (default: nexus.db)
  NEXUS_REDIS_URL        Redis URL of the redis backend
  NEXUS_BACKEND_URLS     Comma-separated backend base URLs`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(out)

	flags := root.PersistentFlags()
	flags.StringVar(&a.envFile, "env-file", ".env", "Environment file to load (missing file is ignored)")
	flags.StringVar(&a.kind, "backend", "", "Session backend (overrides NEXUS_SESSION_BACKEND)")
	flags.StringVar(&a.sessionDir, "session-dir", "", "File backend directory (overrides NEXUS_SESSION_DIR)")
	flags.StringVar(&a.dbPath, "db", "", "SQLite database path (overrides NEXUS_DB_PATH)")
	flags.BoolVar(&a.jsonOutput, "json", false, "Output JSON instead of human-readable text")

	root.AddCommand(
		newStatusCmd(a),
		newLoginCmd(a),
		newSwitchCmd(a),
		newRemoveCmd(a),
		newLogoutCmd(a),
		newStorageCmd(a),
		newSyncCmd(a),
		newInvalidateCmd(a),
		newExpiredCmd(a),
		newPruneCmd(a),
		newWatchCmd(a),
		newVersionCmd(a),
	)
	return root
}

// withSession opens the session for the duration of fn.
func (a *app) withSession(fn func(cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if err := a.open(cmd.Context()); err != nil {
			return err
		}
		defer a.close()
		return fn(cmd, args)
	}
}

func (a *app) open(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(a.envFile)
	if err != nil {
		return err
	}
	if a.kind != "" {
		cfg.SessionBackend = a.kind
	}
	if a.sessionDir != "" {
		cfg.SessionDir = a.sessionDir
	}
	if a.dbPath != "" {
		cfg.DBPath = a.dbPath
	}
	a.cfg = cfg

	a.backend, err = storage.Open(ctx, cfg.Storage())
	if err != nil {
		return fmt.Errorf("failed to open session backend: %w", err)
	}
	a.store, err = session.NewStore(a.backend, session.WithKey(cfg.SessionKey))
	if err != nil {
		a.backend.Close()
		return err
	}
	a.manager = session.NewManager(a.store)
	return nil
}

func (a *app) close() {
	if a.manager != nil {
		a.manager.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
	if a.backend != nil {
		a.backend.Close()
	}
	a.manager, a.store, a.backend = nil, nil, nil
}

func (a *app) client() *backend.Client {
	return backend.NewClient(a.manager, a.cfg.BackendURLs...)
}
