package session

import (
	"testing"
	"time"

	"github.com/pysugar/session-nexus/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

func newTestManager(t *testing.T, backend storage.Backend) (*Manager, *Store) {
	t.Helper()
	store, err := NewStore(backend)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return NewManager(store, WithClock(fixedClock)), store
}

// payload builds a backend login payload valid for an hour after testNow.
func payload(email string) map[string]any {
	return map[string]any{
		"token":          "tok-" + email,
		"email":          email,
		"username":       "A User",
		"authProvider":   "google",
		"expirationTime": float64(testNow.Unix() + 3600),
	}
}

func assertInvariants(t *testing.T, s Session) {
	t.Helper()
	assert.True(t, s.Valid(), "session violates invariants: %+v", s)
	assert.Equal(t, s.Selected == nil, len(s.Accounts) == 0)
}

func emails(s Session) []string {
	out := make([]string, 0, len(s.Accounts))
	for _, a := range s.Accounts {
		out = append(out, a.Email)
	}
	return out
}
