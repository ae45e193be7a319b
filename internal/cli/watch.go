package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pysugar/session-nexus/internal/auth/session"
	"github.com/pysugar/session-nexus/internal/version"
	"github.com/spf13/cobra"
)

func newWatchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print the session every time it changes",
		Long: `Print the session, then again after every change made by any process sharing
the session backend. Stops on Ctrl-C.`,
		Args: cobra.NoArgs,
		RunE: a.withSession(func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.watch(ctx)
		}),
	}
}

func (a *app) watch(ctx context.Context) error {
	changes := make(chan session.Change, 16)
	cancel := a.manager.Subscribe(func(c session.Change) {
		select {
		case changes <- c:
		default:
			// the latest state is re-read below, dropping is safe
		}
	})
	defer cancel()

	if err := a.printSession(); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case c := <-changes:
			if !a.jsonOutput {
				source := "local"
				if c.External {
					source = "external"
				}
				fmt.Fprintf(a.out, "\n🔄 %s change at %s\n", source, nowFunc().Format(time.TimeOnly))
			}
			if err := a.printSession(); err != nil {
				return err
			}
		}
	}
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.print(version.Get(), func(any) string {
				return "nexusctl " + version.String()
			})
		},
	}
}
