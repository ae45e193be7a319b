package session

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pysugar/session-nexus/internal/db"
	"github.com/pysugar/session-nexus/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func account(email string) Account {
	return Account{
		Token:                "tok-" + email,
		Email:                email,
		Username:             "user",
		AuthProvider:         ProviderGitHub,
		LoginMethod:          "github",
		MaxStorageQuotaMb:    DefaultStorageQuotaMb,
		ExpirationTimeMillis: testNow.Add(time.Hour).UnixMilli(),
	}
}

func TestStore_FreshIsEmpty(t *testing.T) {
	store, err := NewStore(storage.NewMemoryBackend())
	require.NoError(t, err)
	defer store.Close()

	s := store.Get()
	assert.Nil(t, s.Selected)
	assert.NotNil(t, s.Accounts)
	assert.Empty(t, s.Accounts)
	assert.Equal(t, DefaultKey, store.Key())
}

func TestStore_RoundTrip(t *testing.T) {
	backend := storage.NewMemoryBackend()
	store, err := NewStore(backend)
	require.NoError(t, err)

	store.Update(func(s Session) Session {
		s = withLogin(s, account("a@x.com"))
		return withLogin(s, account("b@x.com"))
	})
	store.Update(func(s Session) Session { return withStorage(s, 2, 40) })
	want := store.Get()
	require.NoError(t, store.Close())

	reloaded, err := NewStore(backend)
	require.NoError(t, err)
	defer reloaded.Close()
	assert.Equal(t, want, reloaded.Get())
}

func TestStore_ClearedSessionIsAbsent(t *testing.T) {
	backend := storage.NewMemoryBackend()
	store, err := NewStore(backend)
	require.NoError(t, err)
	defer store.Close()

	store.Update(func(s Session) Session { return withLogin(s, account("a@x.com")) })
	store.Update(func(Session) Session {
		// a selection-less session with leftovers collapses to empty
		return Session{Accounts: []Account{account("a@x.com")}}
	})

	assert.Equal(t, Empty(), store.Get())
	_, err = backend.Load(context.Background(), DefaultKey)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStore_MalformedStorageDegradesToEmpty(t *testing.T) {
	cases := map[string]string{
		"not json":          `{{{`,
		"array":             `[]`,
		"no accounts":       `{"selected":null}`,
		"accounts not list": `{"selected":null,"accounts":{}}`,
		"no selected":       `{"accounts":[]}`,
		"null selected":     `{"selected":null,"accounts":[{"email":"a@x.com"}]}`,
		"dangling selected": `{"selected":{"email":"z@x.com"},"accounts":[{"email":"a@x.com"}]}`,
		"bad account":       `{"selected":null,"accounts":[1]}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			backend := storage.NewMemoryBackend()
			require.NoError(t, backend.Save(context.Background(), DefaultKey, []byte(raw)))

			store, err := NewStore(backend)
			require.NoError(t, err)
			defer store.Close()
			assert.Equal(t, Empty(), store.Get())
		})
	}
}

func TestStore_LoadNormalizesDuplicates(t *testing.T) {
	older := account("a@x.com")
	older.Token = "old"
	newer := account("a@x.com")
	newer.Token = "new"
	raw, err := json.Marshal(Session{Selected: &newer, Accounts: []Account{older, account("b@x.com"), newer}})
	require.NoError(t, err)

	backend := storage.NewMemoryBackend()
	require.NoError(t, backend.Save(context.Background(), DefaultKey, raw))
	store, err := NewStore(backend)
	require.NoError(t, err)
	defer store.Close()

	s := store.Get()
	assert.Equal(t, []string{"b@x.com", "a@x.com"}, emails(s))
	assert.Equal(t, "new", s.Selected.Token)
	assertInvariants(t, s)
}

func TestStore_GetReturnsCopy(t *testing.T) {
	store, err := NewStore(storage.NewMemoryBackend())
	require.NoError(t, err)
	defer store.Close()
	store.Update(func(s Session) Session { return withLogin(s, account("a@x.com")) })

	s := store.Get()
	s.Selected.Token = "mutated"
	s.Accounts[0].Token = "mutated"

	again := store.Get()
	assert.Equal(t, "tok-a@x.com", again.Selected.Token)
	assert.Equal(t, "tok-a@x.com", again.Accounts[0].Token)
}

func TestStore_SubscribeLocalChanges(t *testing.T) {
	store, err := NewStore(storage.NewMemoryBackend())
	require.NoError(t, err)
	defer store.Close()

	var got []Change
	cancel := store.Subscribe(func(c Change) { got = append(got, c) })

	store.Update(func(s Session) Session { return withLogin(s, account("a@x.com")) })
	// no-op updates are not delivered
	store.Update(func(s Session) Session { return s })
	cancel()
	store.Update(func(Session) Session { return Empty() })

	require.Len(t, got, 1)
	assert.False(t, got[0].External)
	assert.Equal(t, "a@x.com", got[0].Session.SelectedEmail())
}

func TestStore_CrossStoreSync(t *testing.T) {
	backend := storage.NewMemoryBackend()
	a, err := NewStore(backend)
	require.NoError(t, err)
	defer a.Close()
	b, err := NewStore(backend)
	require.NoError(t, err)
	defer b.Close()

	var (
		mu       sync.Mutex
		external []Change
	)
	b.Subscribe(func(c Change) {
		mu.Lock()
		external = append(external, c)
		mu.Unlock()
	})

	a.Update(func(s Session) Session { return withLogin(s, account("a@x.com")) })
	assert.Equal(t, a.Get(), b.Get())

	a.Update(func(Session) Session { return Empty() })
	assert.Equal(t, Empty(), b.Get())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, external, 2)
	for _, c := range external {
		assert.True(t, c.External)
	}
}

func TestStore_ExternalMalformedWriteEmpties(t *testing.T) {
	backend := storage.NewMemoryBackend()
	store, err := NewStore(backend)
	require.NoError(t, err)
	defer store.Close()
	store.Update(func(s Session) Session { return withLogin(s, account("a@x.com")) })

	require.NoError(t, backend.Save(context.Background(), DefaultKey, []byte(`garbage`)))
	assert.Equal(t, Empty(), store.Get())
}

func TestStore_ClosedStoreIgnoresExternalChanges(t *testing.T) {
	backend := storage.NewMemoryBackend()
	a, err := NewStore(backend)
	require.NoError(t, err)
	defer a.Close()
	b, err := NewStore(backend)
	require.NoError(t, err)
	require.NoError(t, b.Close())

	a.Update(func(s Session) Session { return withLogin(s, account("a@x.com")) })
	assert.True(t, b.Get().IsEmpty())
}

func TestStore_FileBackendSync(t *testing.T) {
	dir := t.TempDir()
	writerBackend, err := storage.NewFileBackend(dir)
	require.NoError(t, err)
	readerBackend, err := storage.NewFileBackend(dir)
	require.NoError(t, err)

	writer, err := NewStore(writerBackend)
	require.NoError(t, err)
	defer writer.Close()
	reader, err := NewStore(readerBackend)
	require.NoError(t, err)
	defer reader.Close()

	writer.Update(func(s Session) Session { return withLogin(s, account("a@x.com")) })
	require.Eventually(t, func() bool {
		return reader.Get().SelectedEmail() == "a@x.com"
	}, 3*time.Second, 10*time.Millisecond)

	writer.Update(func(Session) Session { return Empty() })
	require.Eventually(t, func() bool {
		return reader.Get().IsEmpty()
	}, 3*time.Second, 10*time.Millisecond)
}

// Watchers can report a store's own older write after a newer one is already
// in memory; none of those reports may roll the session back.
func TestStore_SequentialLoginsSurviveOwnWatcher(t *testing.T) {
	backends := map[string]func(t *testing.T) storage.Backend{
		"file": func(t *testing.T) storage.Backend {
			b, err := storage.NewFileBackend(t.TempDir())
			require.NoError(t, err)
			return b
		},
		"db": func(t *testing.T) storage.Backend {
			database, err := db.InitDB(filepath.Join(t.TempDir(), "nexus.db"))
			require.NoError(t, err)
			return storage.NewDBBackend(database, time.Millisecond)
		},
	}
	const logins = 200

	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			backend := open(t)
			store, err := NewStore(backend)
			require.NoError(t, err)

			for i := 0; i < logins; i++ {
				store.Update(func(s Session) Session {
					return withLogin(s, account(fmt.Sprintf("user%d@x.com", i)))
				})
			}
			// let trailing watcher reports land before checking
			time.Sleep(50 * time.Millisecond)

			s := store.Get()
			require.Len(t, s.Accounts, logins)
			assert.Equal(t, fmt.Sprintf("user%d@x.com", logins-1), s.SelectedEmail())
			require.NoError(t, store.Close())

			reloaded, err := NewStore(backend)
			require.NoError(t, err)
			defer reloaded.Close()
			assert.Len(t, reloaded.Get().Accounts, logins)
		})
	}
}

func TestStore_WithKey(t *testing.T) {
	backend := storage.NewMemoryBackend()
	store, err := NewStore(backend, WithKey("other"))
	require.NoError(t, err)
	defer store.Close()
	store.Update(func(s Session) Session { return withLogin(s, account("a@x.com")) })

	_, err = backend.Load(context.Background(), "other")
	assert.NoError(t, err)
	_, err = backend.Load(context.Background(), DefaultKey)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
