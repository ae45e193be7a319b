package cli

import (
	"fmt"
	"strconv"

	"github.com/pysugar/session-nexus/internal/auth/token"
	"github.com/spf13/cobra"
)

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		Aliases: []string{"ls"},
		Short:   "Show signed-in accounts",
		Long:    `List every signed-in account. The selected account is marked with "*".`,
		Args:    cobra.NoArgs,
		RunE: a.withSession(func(cmd *cobra.Command, args []string) error {
			return a.printSession()
		}),
	}
}

func newSwitchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "switch EMAIL",
		Short: "Select another signed-in account",
		Long: `Select a signed-in account. An account whose token has expired is signed
out instead of selected.`,
		Args: cobra.ExactArgs(1),
		RunE: a.withSession(func(cmd *cobra.Command, args []string) error {
			if _, ok := a.manager.User().Lookup(args[0]); !ok {
				return fmt.Errorf("%s is not signed in", args[0])
			}
			a.manager.SwitchAccount(args[0])
			if a.manager.User().SelectedEmail() != args[0] {
				return fmt.Errorf("session for %s has expired, sign in again", args[0])
			}
			return a.printSession()
		}),
	}
}

func newRemoveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "remove [EMAIL]",
		Short: "Sign out one account (the selected one by default)",
		Args:  cobra.MaximumNArgs(1),
		RunE: a.withSession(func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				if a.manager.User().IsEmpty() {
					return fmt.Errorf("not signed in")
				}
				a.manager.RemoveSelectedAccount()
				return a.printSession()
			}
			if _, ok := a.manager.User().Lookup(args[0]); !ok {
				return fmt.Errorf("%s is not signed in", args[0])
			}
			a.manager.RemoveAccountByEmail(args[0])
			return a.printSession()
		}),
	}
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out every account",
		Args:  cobra.NoArgs,
		RunE: a.withSession(func(cmd *cobra.Command, args []string) error {
			a.manager.LogoutAll()
			return a.printSession()
		}),
	}
}

func newStorageCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "storage CURRENT_MB MAX_MB",
		Short: "Set the storage counters of the selected account",
		Args:  cobra.ExactArgs(2),
		RunE: a.withSession(func(cmd *cobra.Command, args []string) error {
			current, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				return fmt.Errorf("invalid CURRENT_MB %q: %w", args[0], err)
			}
			maxMb, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("invalid MAX_MB %q: %w", args[1], err)
			}
			if a.manager.User().IsEmpty() {
				return fmt.Errorf("not signed in")
			}
			a.manager.UpdateStorage(current, maxMb)
			return a.printSession()
		}),
	}
}

func newSyncCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Fetch the selected account's storage counters from the backend",
		Long: `Fetch the selected account's storage counters from the backend. If the
backend rejects the account's credentials the account is signed out.`,
		Args: cobra.NoArgs,
		RunE: a.withSession(func(cmd *cobra.Command, args []string) error {
			if err := a.client().SyncStorage(cmd.Context()); err != nil {
				return err
			}
			return a.printSession()
		}),
	}
}

func newInvalidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "invalidate [EMAIL]",
		Short: "Handle a credential the backend rejected",
		Long: `Sign out the account whose credential the backend rejected (the selected
account by default). With nobody selected every account is signed out.`,
		Args: cobra.MaximumNArgs(1),
		RunE: a.withSession(func(cmd *cobra.Command, args []string) error {
			email := ""
			if len(args) == 1 {
				email = args[0]
			}
			a.manager.HandleTokenInvalidation(email)
			return a.printSession()
		}),
	}
}

func newExpiredCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "expired EPOCH_MILLIS",
		Short: "Check whether an expiry timestamp counts as expired",
		Long: `Report whether a token expiring at EPOCH_MILLIS is treated as expired now.
Tokens within one minute of their expiry already count as expired.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			millis, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid EPOCH_MILLIS %q: %w", args[0], err)
			}
			expired := token.IsExpired(millis, nowFunc())
			return a.print(map[string]any{"expirationTimeMillis": millis, "expired": expired}, func(any) string {
				if expired {
					return "expired"
				}
				return "valid"
			})
		},
	}
}

func newPruneCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Sign out every account whose token has expired",
		Args:  cobra.NoArgs,
		RunE: a.withSession(func(cmd *cobra.Command, args []string) error {
			removed := a.manager.PruneExpired()
			if !a.jsonOutput {
				fmt.Fprintf(a.out, "Pruned %d account(s)\n", len(removed))
			}
			return a.printSession()
		}),
	}
}
