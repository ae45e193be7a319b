// Package oauth runs identity provider sign-in: redirect to the provider,
// receive the authorization code, exchange the provider credential with the
// backend and start a session with the resulting payload.
package oauth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/pysugar/session-nexus/internal/auth/token"
	"github.com/pysugar/session-nexus/internal/providers/catalog"
	"golang.org/x/oauth2"
	githubOAuth "golang.org/x/oauth2/github"
	googleOAuth "golang.org/x/oauth2/google"
)

// StateTTL bounds how long a login redirect stays valid.
const StateTTL = 10 * time.Minute

var (
	// ErrUnknownProvider is returned for providers missing from the catalog or
	// lacking client credentials.
	ErrUnknownProvider = errors.New("identity provider not available")

	// ErrInvalidState is returned when a callback does not match a pending login.
	ErrInvalidState = errors.New("invalid state token")

	// ErrBackend wraps failures of the backend credential exchange.
	ErrBackend = errors.New("backend exchange failed")
)

// Exchanger trades a provider credential for a backend login payload.
type Exchanger interface {
	ExchangeToken(ctx context.Context, provider, credential string) (map[string]any, error)
}

// Sessions starts a session from a backend login payload.
type Sessions interface {
	Login(raw map[string]any) error
}

var knownEndpoints = map[string]oauth2.Endpoint{
	"google": googleOAuth.Endpoint,
	"github": githubOAuth.Endpoint,
}

// Provider is a catalog entry resolved into an OAuth client.
type Provider struct {
	Info   catalog.ProviderInfo
	Config *oauth2.Config
}

// ResolveProvider builds the OAuth client for id. redirectURL is used when the
// catalog entry does not pin one.
func ResolveProvider(id, redirectURL string) (*Provider, error) {
	info, clientID, clientSecret, ok := catalog.GetRuntimeProvider(id)
	if !ok || !info.RuntimeEnabled {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, id)
	}

	endpoint, known := knownEndpoints[info.ID]
	if info.AuthURL != "" {
		endpoint.AuthURL = info.AuthURL
	}
	if info.TokenURL != "" {
		endpoint.TokenURL = info.TokenURL
	}
	if !known && (endpoint.AuthURL == "" || endpoint.TokenURL == "") {
		return nil, fmt.Errorf("%w: %s has no OAuth endpoints", ErrUnknownProvider, id)
	}

	if info.RedirectURL != "" {
		redirectURL = info.RedirectURL
	}
	return &Provider{
		Info: info,
		Config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       info.Scopes,
			Endpoint:     endpoint,
		},
	}, nil
}

// AuthCodeURL returns the consent page URL for state.
func (p *Provider) AuthCodeURL(state string) string {
	var opts []oauth2.AuthCodeOption
	if p.Info.ID == "google" {
		opts = append(opts, oauth2.SetAuthURLParam("prompt", "select_account"))
		// Google requires device_id and device_name for private IP redirect hosts
		if host := redirectHost(p.Config.RedirectURL); isPrivateIP(host) {
			opts = append(opts,
				oauth2.SetAuthURLParam("device_id", randomHex(16)),
				oauth2.SetAuthURLParam("device_name", "Session-Nexus"),
			)
		}
	}
	return p.Config.AuthCodeURL(state, opts...)
}

// Complete exchanges code with the provider, hands the configured credential to
// the backend and logs the resulting account in. Login errors are returned
// unchanged so callers can match session.ErrInvalidAccount and
// session.ErrTokenExpired.
func (p *Provider) Complete(ctx context.Context, code string, backend Exchanger, sessions Sessions) error {
	tok, err := p.Config.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("token exchange failed: %w", err)
	}

	credential := tok.AccessToken
	if p.Info.Credential == catalog.CredentialIDToken {
		idToken, _ := tok.Extra("id_token").(string)
		if idToken == "" {
			return fmt.Errorf("%s did not return an ID token", p.Info.ID)
		}
		credential = idToken
	}
	log.Printf("🔑 [OAuth] %s credential received (%s)", p.Info.ID, token.Mask(credential))

	payload, err := backend.ExchangeToken(ctx, p.Info.ID, credential)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	if _, ok := payload["authProvider"]; !ok {
		payload["authProvider"] = p.Info.AuthProvider
	}
	return sessions.Login(payload)
}

// States issues single-use CSRF state tokens bound to a provider.
type States struct {
	mu      sync.Mutex
	pending map[string]pendingState
	now     func() time.Time
}

type pendingState struct {
	provider string
	expires  time.Time
}

// NewStates creates an empty state registry.
func NewStates() *States {
	return &States{pending: make(map[string]pendingState), now: time.Now}
}

// Issue returns a new state for provider.
func (s *States) Issue(provider string) string {
	state := randomHex(16)

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, v := range s.pending {
		if now.After(v.expires) {
			delete(s.pending, k)
		}
	}
	s.pending[state] = pendingState{provider: provider, expires: now.Add(StateTTL)}
	return state
}

// Consume validates and forgets state.
func (s *States) Consume(provider, state string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pending[state]
	if !ok {
		return ErrInvalidState
	}
	delete(s.pending, state)
	if p.provider != provider || s.now().After(p.expires) {
		return ErrInvalidState
	}
	return nil
}

// requestRedirectURL derives the callback URL from the incoming request.
func requestRedirectURL(r *http.Request, provider string) string {
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/auth/%s/callback", scheme, r.Host, provider)
}

func redirectHost(redirectURL string) string {
	u, err := url.Parse(redirectURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// isPrivateIP checks if the host is a private (non-loopback) IP address
func isPrivateIP(host string) bool {
	hostOnly := host
	if h, _, err := net.SplitHostPort(host); err == nil {
		hostOnly = h
	}
	if hostOnly == "localhost" {
		return false
	}
	ip := net.ParseIP(hostOnly)
	return ip != nil && ip.IsPrivate()
}

func randomHex(n int) string {
	b := make([]byte, n)
	rand.Read(b)
	return hex.EncodeToString(b)
}
