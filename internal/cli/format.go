package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pysugar/session-nexus/internal/auth/session"
	"github.com/pysugar/session-nexus/internal/auth/token"
)

type accountOutput struct {
	Email                 string  `json:"email"`
	Username              string  `json:"username"`
	AuthProvider          string  `json:"authProvider"`
	Token                 string  `json:"token"`
	CurrentStorageUsageMb float64 `json:"currentStorageUsageMb"`
	MaxStorageQuotaMb     float64 `json:"maxStorageQuotaMb"`
	ExpiresAt             string  `json:"expiresAt"`
	Expired               bool    `json:"expired"`
	Selected              bool    `json:"selected"`
}

type sessionOutput struct {
	Selected string          `json:"selected,omitempty"`
	Accounts []accountOutput `json:"accounts"`
}

func newSessionOutput(m *session.Manager, s session.Session) sessionOutput {
	out := sessionOutput{Selected: s.SelectedEmail(), Accounts: make([]accountOutput, 0, len(s.Accounts))}
	for _, acc := range s.Accounts {
		out.Accounts = append(out.Accounts, accountOutput{
			Email:                 acc.Email,
			Username:              acc.Username,
			AuthProvider:          string(acc.AuthProvider),
			Token:                 token.Mask(acc.Token),
			CurrentStorageUsageMb: acc.CurrentStorageUsageMb,
			MaxStorageQuotaMb:     acc.MaxStorageQuotaMb,
			ExpiresAt:             time.UnixMilli(acc.ExpirationTimeMillis).UTC().Format(time.RFC3339),
			Expired:               m.IsTokenExpired(acc.ExpirationTimeMillis),
			Selected:              acc.Email == out.Selected,
		})
	}
	return out
}

// formatSessionHuman renders the session as one line per account, the
// selected one marked with "*".
func formatSessionHuman(s sessionOutput) string {
	if len(s.Accounts) == 0 {
		return "Not signed in."
	}
	var b strings.Builder
	for _, acc := range s.Accounts {
		marker := " "
		if acc.Selected {
			marker = "*"
		}
		status := "expires " + acc.ExpiresAt
		if acc.Expired {
			status = "EXPIRED " + acc.ExpiresAt
		}
		fmt.Fprintf(&b, "%s %-32s %-16s %-8s %.1f/%.0f MB  %s\n",
			marker, acc.Email, acc.Username, strings.ToLower(acc.AuthProvider),
			acc.CurrentStorageUsageMb, acc.MaxStorageQuotaMb, status)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (a *app) printSession() error {
	return a.print(newSessionOutput(a.manager, a.manager.User()), func(v any) string {
		return formatSessionHuman(v.(sessionOutput))
	})
}

// print writes v as JSON with --json, or human(v) otherwise.
func (a *app) print(v any, human func(any) string) error {
	return writeOutput(a.out, a.jsonOutput, v, human)
}

func writeOutput(w io.Writer, asJSON bool, v any, human func(any) string) error {
	if !asJSON {
		_, err := fmt.Fprintln(w, human(v))
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
