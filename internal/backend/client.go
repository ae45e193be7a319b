// Package backend talks to the remote authentication backend: password and
// identity-provider logins, and authenticated calls on behalf of the selected
// account.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pysugar/session-nexus/internal/auth/session"
	"github.com/pysugar/session-nexus/internal/auth/token"
	"github.com/pysugar/session-nexus/internal/logging"
	"github.com/pysugar/session-nexus/internal/util"
	"github.com/pysugar/session-nexus/internal/version"
)

// DefaultBaseURL is the production backend.
const DefaultBaseURL = "https://api.techquanta.tech"

const defaultTimeout = 30 * time.Second

var (
	// ErrUnauthorized is returned when the backend rejects the credential of the
	// account a request was sent for. That account has already been removed.
	ErrUnauthorized = errors.New("backend rejected credentials")

	// ErrNoSession is returned by authenticated calls while nobody is logged in.
	ErrNoSession = errors.New("no account selected")
)

// StatusError is a non-2xx backend response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.StatusCode, e.Body)
}

// Sessions is the part of the session manager the client needs.
type Sessions interface {
	User() session.Session
	HandleTokenInvalidation(email string)
	UpdateStorage(currentUsageMb, maxQuotaMb float64)
}

// Client handles communication with the backend. Requests are tried against
// each base URL in order, moving on after network errors, 429 and 5xx.
type Client struct {
	baseURLs   []string
	httpClient *http.Client
	sessions   Sessions
}

// NewClient creates a client for baseURLs (DefaultBaseURL when empty).
func NewClient(sessions Sessions, baseURLs ...string) *Client {
	urls := make([]string, 0, len(baseURLs))
	for _, u := range baseURLs {
		if u = strings.TrimRight(strings.TrimSpace(u), "/"); u != "" {
			urls = append(urls, u)
		}
	}
	if len(urls) == 0 {
		urls = []string{DefaultBaseURL}
	}
	return &Client{
		baseURLs:   urls,
		httpClient: &http.Client{Timeout: defaultTimeout},
		sessions:   sessions,
	}
}

// Login exchanges an email and password for a login payload.
func (c *Client) Login(ctx context.Context, email, password string) (map[string]any, error) {
	return c.postForPayload(ctx, "/api/auth/login", map[string]string{
		"email":    email,
		"password": password,
	})
}

// ExchangeToken exchanges an identity provider credential (ID token or access
// token) for a login payload.
func (c *Client) ExchangeToken(ctx context.Context, provider, credential string) (map[string]any, error) {
	path := "/api/auth/" + url.PathEscape(strings.ToLower(provider))
	return c.postForPayload(ctx, path, map[string]string{"token": credential})
}

// Do sends an authenticated request as the selected account. A 401 or 403
// response removes that account from the session and returns ErrUnauthorized.
func (c *Client) Do(ctx context.Context, method, path string, payload any) (*http.Response, error) {
	acc := c.sessions.User().Selected
	if acc == nil {
		return nil, ErrNoSession
	}

	resp, err := c.doWithFallback(ctx, method, path, acc.Token, payload)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		resp.Body.Close()
		log.Printf("%s🔒 Backend returned %d for %s %s as %s", logging.Prefix(ctx), resp.StatusCode, method, path, acc.Email)
		c.sessions.HandleTokenInvalidation(acc.Email)
		return nil, fmt.Errorf("%w: %s", ErrUnauthorized, acc.Email)
	}
	return resp, nil
}

// SyncStorage fetches the selected account's quota and stores it in the session.
func (c *Client) SyncStorage(ctx context.Context) error {
	resp, err := c.Do(ctx, http.MethodGet, "/api/users/storage", nil)
	if err != nil {
		return err
	}
	body, err := readBody(resp)
	if err != nil {
		return err
	}

	raw, err := session.DecodePayload(body)
	if err != nil {
		return fmt.Errorf("invalid storage response: %s", util.TruncateBytes(body))
	}
	usage, ok := number(raw, "currentStorageUsageMb")
	if !ok {
		return fmt.Errorf("storage response missing currentStorageUsageMb")
	}
	quota, ok := number(raw, "userDriveQuotaMb", "maxStorageQuotaMb")
	if !ok {
		quota = session.DefaultStorageQuotaMb
	}

	c.sessions.UpdateStorage(usage, quota)
	return nil
}

func (c *Client) postForPayload(ctx context.Context, path string, payload any) (map[string]any, error) {
	resp, err := c.doWithFallback(ctx, http.MethodPost, path, "", payload)
	if err != nil {
		return nil, err
	}
	body, err := readBody(resp)
	if err != nil {
		return nil, err
	}
	return session.DecodePayload(body)
}

// doWithFallback tries every base URL, falling back on transport errors, 429 and 5xx.
func (c *Client) doWithFallback(ctx context.Context, method, path, bearer string, payload any) (*http.Response, error) {
	var data []byte
	if payload != nil {
		var err error
		data, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload: %w", err)
		}
		if util.IsVerbose() {
			log.Printf("%s🔄 [VERBOSE] %s %s payload: %s", logging.Prefix(ctx), method, path, maskPayload(data))
		}
	}

	var lastErr error
	var lastResp *http.Response
	for i, base := range c.baseURLs {
		resp, err := c.doRequest(ctx, method, base+path, bearer, data)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			lastErr = err
			log.Printf("%s⚠️ Backend %d (%s) failed: %v", logging.Prefix(ctx), i+1, base, err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			log.Printf("%s⚠️ Backend %d returned %d, trying next...", logging.Prefix(ctx), i+1, resp.StatusCode)
			if lastResp != nil {
				lastResp.Body.Close()
			}
			lastResp = resp
			lastErr = fmt.Errorf("backend %d returned %d", i+1, resp.StatusCode)
			continue
		}

		if i > 0 {
			log.Printf("%s✅ Fallback to backend %d succeeded", logging.Prefix(ctx), i+1)
		}
		if lastResp != nil {
			lastResp.Body.Close()
		}
		return resp, nil
	}

	if lastResp != nil {
		return lastResp, nil
	}
	return nil, lastErr
}

func (c *Client) doRequest(ctx context.Context, method, target, bearer string, data []byte) (*http.Response, error) {
	var body io.Reader
	if data != nil {
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if data != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	if id := logging.GetRequestID(ctx); id != "" {
		req.Header.Set(logging.RequestIDHeader, id)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

// readBody drains and closes resp, turning non-2xx into *StatusError.
func readBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: util.TruncateBytes(body)}
	}
	return body, nil
}

func number(raw map[string]any, keys ...string) (float64, bool) {
	for _, key := range keys {
		if n, ok := raw[key].(json.Number); ok {
			if f, err := n.Float64(); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

// maskPayload hides secrets before a payload is logged.
func maskPayload(data []byte) string {
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return util.TruncateBytes(data)
	}
	for _, key := range []string{"password", "token", "jwtToken"} {
		if s, ok := fields[key].(string); ok {
			fields[key] = token.Mask(s)
		}
	}
	masked, _ := json.Marshal(fields)
	return util.TruncateBytes(masked)
}
