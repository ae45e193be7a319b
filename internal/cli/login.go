package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/pysugar/session-nexus/internal/auth/oauth"
	"github.com/spf13/cobra"
)

// nowFunc is replaced in tests.
var nowFunc = time.Now

func newLoginCmd(a *app) *cobra.Command {
	var (
		provider string
		email    string
		password string
	)
	cmd := &cobra.Command{
		Use:   "login [PAYLOAD_FILE|-]",
		Short: "Sign in and select the account",
		Long: `Sign in and select the account. Exactly one source is used:

  nexusctl login payload.json       backend login payload from a file ("-" reads stdin)
  nexusctl login --email E          email and password against the backend
  nexusctl login --provider google  identity provider sign-in in the browser

Signing in again with an email that is already signed in replaces that account.`,
		Args: cobra.MaximumNArgs(1),
		RunE: a.withSession(func(cmd *cobra.Command, args []string) error {
			sources := 0
			for _, set := range []bool{len(args) == 1, email != "", provider != ""} {
				if set {
					sources++
				}
			}
			if sources != 1 {
				return errors.New("use exactly one of PAYLOAD_FILE, --email or --provider")
			}

			switch {
			case len(args) == 1:
				data, err := a.readPayload(args[0])
				if err != nil {
					return err
				}
				if err := a.manager.LoginJSON(data); err != nil {
					return err
				}
			case email != "":
				if password == "" {
					p, err := a.readLine("Password: ")
					if err != nil {
						return err
					}
					password = p
				}
				payload, err := a.client().Login(cmd.Context(), email, password)
				if err != nil {
					return err
				}
				if err := a.manager.Login(payload); err != nil {
					return err
				}
			default:
				if err := a.loginWithProvider(cmd, provider); err != nil {
					return err
				}
			}
			return a.printSession()
		}),
	}
	cmd.Flags().StringVar(&provider, "provider", "", "Identity provider to sign in with (e.g. google, github)")
	cmd.Flags().StringVar(&email, "email", "", "Email for password sign-in")
	cmd.Flags().StringVar(&password, "password", "", "Password for password sign-in (prompted when empty)")
	return cmd
}

func (a *app) readPayload(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(a.in)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read payload: %w", err)
	}
	return data, nil
}

func (a *app) readLine(prompt string) (string, error) {
	fmt.Fprint(a.out, prompt)
	line, err := bufio.NewReader(a.in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", errors.New("password is required")
	}
	return line, nil
}

// loginWithProvider runs the browser sign-in against a temporary callback
// server on 127.0.0.1 and waits for it to finish.
func (a *app) loginWithProvider(cmd *cobra.Command, provider string) error {
	login, err := oauth.StartLoopbackLogin(provider, a.client(), a.manager)
	if err != nil {
		return err
	}
	defer login.Close()

	fmt.Fprintf(a.out, "🔐 Open this URL to sign in with %s:\n\n  %s\n\n", provider, login.AuthURL)

	timer := time.NewTimer(oauth.CallbackTimeout)
	defer timer.Stop()
	select {
	case err := <-login.Result:
		return err
	case <-cmd.Context().Done():
		return cmd.Context().Err()
	case <-timer.C:
		return fmt.Errorf("sign-in timed out after %s", oauth.CallbackTimeout)
	}
}
