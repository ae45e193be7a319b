package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pysugar/session-nexus/internal/auth/session"
	"github.com/pysugar/session-nexus/internal/providers/catalog"
	"github.com/pysugar/session-nexus/internal/storage"
)

type fakeExchanger struct {
	provider, credential string
	payload              map[string]any
	err                  error
}

func (f *fakeExchanger) ExchangeToken(_ context.Context, provider, credential string) (map[string]any, error) {
	f.provider, f.credential = provider, credential
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]any, len(f.payload))
	for k, v := range f.payload {
		out[k] = v
	}
	return out, nil
}

// setupProvider registers a "corp" provider whose token endpoint is a fake server.
func setupProvider(t *testing.T, credential string) {
	t.Helper()
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if r.Form.Get("code") != "good-code" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"provider-access","token_type":"bearer","expires_in":3600,"id_token":"provider-id-token"}`))
	}))
	t.Cleanup(tokenServer.Close)

	cfgPath := filepath.Join(t.TempDir(), "identity_providers.yaml")
	cfg := fmt.Sprintf(`providers:
  - id: corp
    auth_provider: website
    auth_url: https://sso.example.com/authorize
    token_url: %s/token
    scopes: [openid, email]
    credential: %s
`, tokenServer.URL, credential)
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("NEXUS_IDENTITY_PROVIDERS_FILE", cfgPath)
	t.Setenv("NEXUS_CORP_CLIENT_ID", "client")
	t.Setenv("NEXUS_CORP_CLIENT_SECRET", "secret")

	catalog.ResetForTest()
	t.Cleanup(catalog.ResetForTest)
	if err := catalog.InitFromEnvAndConfig(); err != nil {
		t.Fatalf("init catalog: %v", err)
	}
}

func newManager(t *testing.T) *session.Manager {
	t.Helper()
	store, err := session.NewStore(storage.NewMemoryBackend())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return session.NewManager(store)
}

func validPayload() map[string]any {
	return map[string]any{
		"jwtToken":       "backend-jwt",
		"email":          "a@x.com",
		"username":       "a",
		"expirationTime": float64(time.Now().Add(time.Hour).Unix()),
	}
}

func newRouter(states *States, ex Exchanger, sessions Sessions) http.Handler {
	r := chi.NewRouter()
	r.Get("/auth/{provider}/login", HandleLogin(states))
	r.Get("/auth/{provider}/callback", HandleCallback(states, ex, sessions))
	return r
}

func startLogin(t *testing.T, router http.Handler) string {
	t.Helper()
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://nexus.local/auth/corp/login", nil))
	if rec.Code != http.StatusTemporaryRedirect {
		t.Fatalf("expected redirect, got %d: %s", rec.Code, rec.Body.String())
	}
	loc, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatalf("bad redirect: %v", err)
	}
	if loc.Host != "sso.example.com" {
		t.Fatalf("unexpected redirect host %s", loc.Host)
	}
	if got := loc.Query().Get("redirect_uri"); got != "http://nexus.local/auth/corp/callback" {
		t.Fatalf("unexpected redirect_uri %s", got)
	}
	return loc.Query().Get("state")
}

func TestOAuthFlow_LogsIn(t *testing.T) {
	setupProvider(t, catalog.CredentialIDToken)
	m := newManager(t)
	ex := &fakeExchanger{payload: validPayload()}
	router := newRouter(NewStates(), ex, m)

	state := startLogin(t, router)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"http://nexus.local/auth/corp/callback?code=good-code&state="+state, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("callback failed: %d %s", rec.Code, rec.Body.String())
	}

	if ex.provider != "corp" || ex.credential != "provider-id-token" {
		t.Fatalf("backend got %s/%s", ex.provider, ex.credential)
	}
	sel := m.User().Selected
	if sel == nil || sel.Email != "a@x.com" || sel.AuthProvider != "WEBSITE" || sel.Token != "backend-jwt" {
		t.Fatalf("unexpected session: %+v", sel)
	}

	// state is single use
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"http://nexus.local/auth/corp/callback?code=good-code&state="+state, nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("replayed state should fail, got %d", rec.Code)
	}
}

func TestOAuthFlow_AccessTokenCredential(t *testing.T) {
	setupProvider(t, catalog.CredentialAccessToken)
	ex := &fakeExchanger{payload: validPayload()}
	router := newRouter(NewStates(), ex, newManager(t))

	state := startLogin(t, router)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"http://nexus.local/auth/corp/callback?code=good-code&state="+state, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("callback failed: %d %s", rec.Code, rec.Body.String())
	}
	if ex.credential != "provider-access" {
		t.Fatalf("expected access token to be exchanged, got %s", ex.credential)
	}
}

func TestOAuthFlow_Errors(t *testing.T) {
	setupProvider(t, catalog.CredentialIDToken)

	tests := []struct {
		name    string
		code    string
		ex      *fakeExchanger
		want    int
		session bool
	}{
		{"bad code", "bad-code", &fakeExchanger{payload: validPayload()}, http.StatusInternalServerError, false},
		{"backend down", "good-code", &fakeExchanger{err: errors.New("502")}, http.StatusBadGateway, false},
		{"incomplete payload", "good-code", &fakeExchanger{payload: map[string]any{"email": "a@x.com"}}, http.StatusBadRequest, false},
		{"expired payload", "good-code", &fakeExchanger{payload: map[string]any{
			"token": "t", "email": "a@x.com", "username": "a",
			"expirationTime": float64(time.Now().Add(-time.Second).Unix()),
		}}, http.StatusUnauthorized, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newManager(t)
			router := newRouter(NewStates(), tt.ex, m)
			state := startLogin(t, router)

			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
				"http://nexus.local/auth/corp/callback?code="+tt.code+"&state="+state, nil))
			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
			if !m.User().IsEmpty() {
				t.Fatal("failed sign-in must not change the session")
			}
		})
	}
}

func TestHandleLogin_UnknownProvider(t *testing.T) {
	setupProvider(t, catalog.CredentialIDToken)
	router := newRouter(NewStates(), &fakeExchanger{}, newManager(t))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/nope/login", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestStates(t *testing.T) {
	s := NewStates()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	st := s.Issue("google")
	if err := s.Consume("github", st); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("state bound to another provider must fail, got %v", err)
	}

	st = s.Issue("google")
	now = now.Add(StateTTL + time.Second)
	if err := s.Consume("google", st); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expired state must fail, got %v", err)
	}

	st = s.Issue("google")
	if err := s.Consume("google", st); err != nil {
		t.Fatalf("fresh state should pass: %v", err)
	}
	if err := s.Consume("google", "unknown"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("unknown state must fail, got %v", err)
	}
}

func TestIsPrivateIP(t *testing.T) {
	tests := map[string]bool{
		"localhost:8080":    false,
		"127.0.0.1:8080":    false,
		"192.168.1.10:80":   true,
		"10.0.0.1":          true,
		"nexus.example.com": false,
		"8.8.8.8:443":       false,
	}
	for host, want := range tests {
		if got := isPrivateIP(host); got != want {
			t.Errorf("isPrivateIP(%q) = %v, want %v", host, got, want)
		}
	}
}

func TestRedirectHost(t *testing.T) {
	tests := map[string]string{
		"http://192.168.1.5:8080/auth/corp/callback": "192.168.1.5",
		"https://nexus.example.com/cb":               "nexus.example.com",
		"http://localhost:51121/oauth-callback":      "localhost",
		"http://[::1]:9000/cb":                       "::1",
		"http://user@10.0.0.1/cb":                    "10.0.0.1",
		"://broken":                                  "",
	}
	for in, want := range tests {
		if got := redirectHost(in); got != want {
			t.Errorf("redirectHost(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLoopbackLogin_IgnoresForeignCallback(t *testing.T) {
	setupProvider(t, catalog.CredentialIDToken)
	m := newManager(t)

	login, err := StartLoopbackLogin("corp", &fakeExchanger{payload: validPayload()}, m)
	if err != nil {
		t.Fatalf("StartLoopbackLogin: %v", err)
	}
	defer login.Close()

	authURL, err := url.Parse(login.AuthURL)
	if err != nil {
		t.Fatalf("bad auth url: %v", err)
	}
	callback := authURL.Query().Get("redirect_uri")
	state := authURL.Query().Get("state")

	get := func(query string) int {
		t.Helper()
		resp, err := http.Get(callback + "?" + query)
		if err != nil {
			t.Fatalf("callback request: %v", err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	for _, query := range []string{"code=good-code&state=wrong", "code=good-code", "error=access_denied"} {
		if code := get(query); code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", query, code)
		}
	}
	select {
	case err := <-login.Result:
		t.Fatalf("sign-in ended early: %v", err)
	default:
	}

	if code := get("code=good-code&state=" + url.QueryEscape(state)); code != http.StatusOK {
		t.Fatalf("expected 200 for the real callback, got %d", code)
	}
	select {
	case err := <-login.Result:
		if err != nil {
			t.Fatalf("sign-in failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("sign-in did not finish")
	}
	if m.User().SelectedEmail() != "a@x.com" {
		t.Fatalf("unexpected session: %+v", m.User())
	}
}

func TestStatusFor(t *testing.T) {
	if got := StatusFor(fmt.Errorf("x: %w", session.ErrInvalidAccount)); got != http.StatusBadRequest {
		t.Errorf("ErrInvalidAccount -> %d", got)
	}
	if got := StatusFor(fmt.Errorf("x: %w", session.ErrTokenExpired)); got != http.StatusUnauthorized {
		t.Errorf("ErrTokenExpired -> %d", got)
	}
	if got := StatusFor(fmt.Errorf("%w: boom", ErrBackend)); got != http.StatusBadGateway {
		t.Errorf("ErrBackend -> %d", got)
	}
}
