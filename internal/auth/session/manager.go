package session

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/pysugar/session-nexus/internal/auth/token"
)

// EventKind names a session transition for the activity log.
type EventKind string

const (
	EventLogin      EventKind = "login"
	EventSwitch     EventKind = "switch"
	EventRemove     EventKind = "remove"
	EventLogout     EventKind = "logout"
	EventInvalidate EventKind = "invalidate"
	EventStorage    EventKind = "storage"
	EventPrune      EventKind = "prune"
	EventExternal   EventKind = "external"
)

// Recorder receives session transitions. It is optional.
type Recorder interface {
	RecordSessionEvent(kind EventKind, email string)
}

// Manager exposes the session operations used by login forms, OAuth callbacks,
// the account switcher and API clients reacting to rejected credentials.
type Manager struct {
	store    *Store
	now      func() time.Time
	recorder Recorder
	unsub    func()
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// WithRecorder reports every transition, including external ones, to r.
func WithRecorder(r Recorder) ManagerOption {
	return func(m *Manager) { m.recorder = r }
}

// NewManager creates a manager over store.
func NewManager(store *Store, opts ...ManagerOption) *Manager {
	m := &Manager{store: store, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	if m.recorder != nil {
		m.unsub = store.Subscribe(func(c Change) {
			if c.External {
				m.recorder.RecordSessionEvent(EventExternal, c.Session.SelectedEmail())
			}
		})
	}
	return m
}

// Close detaches the manager from its store.
func (m *Manager) Close() {
	if m.unsub != nil {
		m.unsub()
	}
}

// User returns the current session.
func (m *Manager) User() Session {
	return m.store.Get()
}

// Subscribe forwards to the underlying store.
func (m *Manager) Subscribe(fn func(Change)) func() {
	return m.store.Subscribe(fn)
}

// IsTokenExpired reports whether a token expiring at expirationTimeMillis is
// no longer usable, allowing for token.ExpiryBuffer.
func (m *Manager) IsTokenExpired(expirationTimeMillis int64) bool {
	return token.IsExpired(expirationTimeMillis, m.now())
}

// Login validates a backend login payload and makes it the selected account,
// replacing any earlier login of the same email. Returns ErrInvalidAccount or
// ErrTokenExpired without touching the session.
func (m *Manager) Login(raw map[string]any) error {
	acc, err := ParseAccount(raw)
	if err != nil {
		return err
	}
	if m.IsTokenExpired(acc.ExpirationTimeMillis) {
		return fmt.Errorf("%w: session for %s expired at %s, please sign in again",
			ErrTokenExpired, acc.Email, time.UnixMilli(acc.ExpirationTimeMillis).UTC().Format(time.RFC3339))
	}

	m.store.Update(func(s Session) Session {
		return withLogin(s, acc)
	})
	log.Printf("✅ Logged in %s via %s (token: %s)", acc.Email, acc.LoginMethod, token.Mask(acc.Token))
	m.record(EventLogin, acc.Email)
	return nil
}

// LoginJSON decodes a JSON login payload and calls Login.
func (m *Manager) LoginJSON(data []byte) error {
	raw, err := DecodePayload(data)
	if err != nil {
		return err
	}
	return m.Login(raw)
}

// UpdateStorage sets the quota counters of the selected account.
func (m *Manager) UpdateStorage(currentUsageMb, maxQuotaMb float64) {
	var email string
	m.store.Update(func(s Session) Session {
		email = s.SelectedEmail()
		return withStorage(s, currentUsageMb, maxQuotaMb)
	})
	if email == "" {
		log.Printf("⚠️ Storage update ignored: no account selected")
		return
	}
	m.record(EventStorage, email)
}

// SwitchAccount selects a logged-in account. An unknown email is ignored; an
// account whose token has expired is removed instead of selected.
func (m *Manager) SwitchAccount(email string) {
	var (
		found   bool
		expired bool
	)
	m.store.Update(func(s Session) Session {
		acc, ok := s.Lookup(email)
		if !ok {
			return s
		}
		found = true
		if m.IsTokenExpired(acc.ExpirationTimeMillis) {
			expired = true
			return withoutAccount(s, email)
		}
		return withSelected(s, email)
	})

	switch {
	case !found:
		log.Printf("⚠️ Cannot switch to %s: account not logged in", email)
	case expired:
		log.Printf("🔒 Session for %s expired, removed instead of switching", email)
		m.record(EventInvalidate, email)
	default:
		log.Printf("🔀 Switched to %s", email)
		m.record(EventSwitch, email)
	}
}

// RemoveAccountByEmail logs one account out. If it was selected the first
// remaining account takes over, or the session empties when none remain.
func (m *Manager) RemoveAccountByEmail(email string) {
	if m.removeAccount(email) {
		m.record(EventRemove, email)
	}
}

// RemoveSelectedAccount logs the selected account out.
func (m *Manager) RemoveSelectedAccount() {
	email := m.User().SelectedEmail()
	if email == "" {
		log.Printf("⚠️ Nothing to remove: no account selected")
		return
	}
	m.RemoveAccountByEmail(email)
}

// LogoutAll clears every account.
func (m *Manager) LogoutAll() {
	m.store.Update(func(Session) Session {
		return Empty()
	})
	log.Printf("👋 Logged out of all accounts")
	m.record(EventLogout, "")
}

// HandleTokenInvalidation reacts to the backend rejecting a credential (401/403).
// Callers pass the email whose request failed; with "" the selected account is
// used, and with nothing selected every account is logged out.
func (m *Manager) HandleTokenInvalidation(email string) {
	target := email
	if target == "" {
		target = m.User().SelectedEmail()
	}
	if target == "" {
		m.LogoutAll()
		return
	}

	log.Printf("🔒 Credentials for %s rejected, removing session", target)
	if m.removeAccount(target) {
		m.record(EventInvalidate, target)
	}
}

// PruneExpired removes every account whose token has expired and returns the
// removed emails.
func (m *Manager) PruneExpired() []string {
	var removed []string
	m.store.Update(func(s Session) Session {
		removed = removed[:0]
		out := s
		for _, acc := range s.Accounts {
			if m.IsTokenExpired(acc.ExpirationTimeMillis) {
				removed = append(removed, acc.Email)
				out = withoutAccount(out, acc.Email)
			}
		}
		return out
	})
	for _, email := range removed {
		log.Printf("🧹 Pruned expired session for %s", email)
		m.record(EventPrune, email)
	}
	return removed
}

// StartPruneLoop prunes expired accounts every interval until ctx is done.
func (m *Manager) StartPruneLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.PruneExpired()
			}
		}
	}()
	log.Printf("🔄 Session prune loop started (interval: %s)", interval)
}

// removeAccount reports whether email was logged in (or selected) and removed.
func (m *Manager) removeAccount(email string) bool {
	var removed bool
	m.store.Update(func(s Session) Session {
		_, listed := s.Lookup(email)
		if !listed && s.SelectedEmail() != email {
			return s
		}
		removed = true
		return withoutAccount(s, email)
	})
	if !removed {
		log.Printf("⚠️ Cannot remove %s: account not logged in", email)
	}
	return removed
}

func (m *Manager) record(kind EventKind, email string) {
	if m.recorder != nil {
		m.recorder.RecordSessionEvent(kind, email)
	}
}
