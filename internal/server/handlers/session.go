package handlers

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pysugar/session-nexus/internal/auth/session"
	"github.com/pysugar/session-nexus/internal/auth/token"
)

// Backend is the subset of the backend client the session API uses.
type Backend interface {
	Login(ctx context.Context, email, password string) (map[string]any, error)
	SyncStorage(ctx context.Context) error
}

// AccountView is the API representation of an account.
type AccountView struct {
	Token                 string  `json:"token"`
	Email                 string  `json:"email"`
	Username              string  `json:"username"`
	ImageURL              string  `json:"imageUrl,omitempty"`
	AuthProvider          string  `json:"authProvider"`
	LoginMethod           string  `json:"loginMethod"`
	CurrentStorageUsageMb float64 `json:"currentStorageUsageMb"`
	MaxStorageQuotaMb     float64 `json:"maxStorageQuotaMb"`
	DriveFolderID         string  `json:"driveFolderId,omitempty"`
	ExpirationTimeMillis  int64   `json:"expirationTimeMillis"`
	ExpiresAt             string  `json:"expiresAt"`
	Expired               bool    `json:"expired"`
}

// SessionView is the API representation of the session.
type SessionView struct {
	Selected *AccountView  `json:"selected"`
	Accounts []AccountView `json:"accounts"`
	Count    int           `json:"count"`
	Masked   bool          `json:"masked"`
}

func newSessionView(m *session.Manager, s session.Session, mask bool) SessionView {
	view := SessionView{Accounts: make([]AccountView, 0, len(s.Accounts)), Count: len(s.Accounts), Masked: mask}
	for _, acc := range s.Accounts {
		view.Accounts = append(view.Accounts, newAccountView(m, acc, mask))
	}
	if s.Selected != nil {
		sel := newAccountView(m, *s.Selected, mask)
		view.Selected = &sel
	}
	return view
}

func newAccountView(m *session.Manager, acc session.Account, mask bool) AccountView {
	tok := acc.Token
	if mask {
		tok = token.Mask(tok)
	}
	return AccountView{
		Token:                 tok,
		Email:                 acc.Email,
		Username:              acc.Username,
		ImageURL:              acc.ImageURL,
		AuthProvider:          string(acc.AuthProvider),
		LoginMethod:           acc.LoginMethod,
		CurrentStorageUsageMb: acc.CurrentStorageUsageMb,
		MaxStorageQuotaMb:     acc.MaxStorageQuotaMb,
		DriveFolderID:         acc.DriveFolderID,
		ExpirationTimeMillis:  acc.ExpirationTimeMillis,
		ExpiresAt:             time.UnixMilli(acc.ExpirationTimeMillis).UTC().Format(time.RFC3339),
		Expired:               m.IsTokenExpired(acc.ExpirationTimeMillis),
	}
}

func writeSession(w http.ResponseWriter, m *session.Manager, mask bool) {
	writeJSON(w, http.StatusOK, newSessionView(m, m.User(), mask))
}

// SessionHandler handles GET /api/session
func SessionHandler(m *session.Manager, mask bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeSession(w, m, mask)
	}
}

// LoginHandler handles POST /api/session/login with a raw backend login payload.
func LoginHandler(m *session.Manager, mask bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			writeError(w, r, &badRequest{msg: "Failed to read request body"})
			return
		}
		if err := m.LoginJSON(data); err != nil {
			writeError(w, r, err)
			return
		}
		writeSession(w, m, mask)
	}
}

// PasswordLoginHandler handles POST /api/session/login/password
func PasswordLoginHandler(m *session.Manager, client Backend, mask bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		if req.Email == "" || req.Password == "" {
			writeError(w, r, &badRequest{msg: "email and password are required"})
			return
		}

		payload, err := client.Login(r.Context(), req.Email, req.Password)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if err := m.Login(payload); err != nil {
			writeError(w, r, err)
			return
		}
		writeSession(w, m, mask)
	}
}

// SwitchHandler handles POST /api/session/switch
func SwitchHandler(m *session.Manager, mask bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Email string `json:"email"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		m.SwitchAccount(strings.TrimSpace(req.Email))
		writeSession(w, m, mask)
	}
}

// RemoveAccountHandler handles DELETE /api/session/accounts/{email}
func RemoveAccountHandler(m *session.Manager, mask bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		email, err := url.PathUnescape(chi.URLParam(r, "email"))
		if err != nil || email == "" {
			writeError(w, r, &badRequest{msg: "invalid email"})
			return
		}
		m.RemoveAccountByEmail(email)
		writeSession(w, m, mask)
	}
}

// RemoveSelectedHandler handles DELETE /api/session/selected
func RemoveSelectedHandler(m *session.Manager, mask bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m.RemoveSelectedAccount()
		writeSession(w, m, mask)
	}
}

// LogoutHandler handles POST /api/session/logout
func LogoutHandler(m *session.Manager, mask bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m.LogoutAll()
		writeSession(w, m, mask)
	}
}

// UpdateStorageHandler handles PUT /api/session/storage
func UpdateStorageHandler(m *session.Manager, mask bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			CurrentStorageUsageMb *float64 `json:"currentStorageUsageMb"`
			MaxStorageQuotaMb     *float64 `json:"maxStorageQuotaMb"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		if req.CurrentStorageUsageMb == nil || req.MaxStorageQuotaMb == nil {
			writeError(w, r, &badRequest{msg: "currentStorageUsageMb and maxStorageQuotaMb are required"})
			return
		}
		m.UpdateStorage(*req.CurrentStorageUsageMb, *req.MaxStorageQuotaMb)
		writeSession(w, m, mask)
	}
}

// SyncStorageHandler handles POST /api/session/storage/sync
func SyncStorageHandler(m *session.Manager, client Backend, mask bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := client.SyncStorage(r.Context()); err != nil {
			writeError(w, r, err)
			return
		}
		writeSession(w, m, mask)
	}
}

// InvalidateHandler handles POST /api/session/invalidate. It is the hook for
// clients that saw the backend reject a credential; an empty email targets the
// selected account.
func InvalidateHandler(m *session.Manager, mask bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Email string `json:"email"`
		}
		if r.ContentLength != 0 {
			if err := decodeBody(r, &req); err != nil {
				writeError(w, r, err)
				return
			}
		}
		m.HandleTokenInvalidation(strings.TrimSpace(req.Email))
		writeSession(w, m, mask)
	}
}

// ExpiredHandler handles GET /api/session/expired?t=<epoch millis>
func ExpiredHandler(m *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := r.URL.Query().Get("t")
		// missing or unparsable values count as expired
		t, _ := strconv.ParseInt(raw, 10, 64)
		writeJSON(w, http.StatusOK, map[string]any{
			"expirationTimeMillis": t,
			"expired":              m.IsTokenExpired(t),
		})
	}
}
