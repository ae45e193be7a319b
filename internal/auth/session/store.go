package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pysugar/session-nexus/internal/storage"
)

// DefaultKey is the storage key the session lives under.
const DefaultKey = "userSession"

const persistTimeout = 5 * time.Second

// Change is delivered to subscribers after every session change.
type Change struct {
	Session  Session
	External bool // the change came from another writer through the backend
}

// Store holds the in-memory session, persists every change to a storage
// backend and adopts changes other writers make to the same key.
//
// Cross-writer consistency is last-write-wins: two processes changing the
// session concurrently both persist, and whichever write lands last is what
// every store converges to.
type Store struct {
	backend storage.Backend
	key     string

	writeMu sync.Mutex  // serializes Update, persistence and resync
	pending atomic.Bool // an external change arrived and has not been resynced

	mu      sync.RWMutex
	session Session
	raw     []byte // persisted form of session; nil when the key is absent

	subMu       sync.RWMutex
	subscribers map[int]func(Change)
	nextSubID   int

	stopWatch func()
	closeOnce sync.Once
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithKey overrides the storage key.
func WithKey(key string) StoreOption {
	return func(s *Store) {
		if key != "" {
			s.key = key
		}
	}
}

// NewStore loads the session from backend and starts following external changes.
// Missing or malformed persisted data yields the empty session; only a failure
// to register the watch is returned as an error.
func NewStore(backend storage.Backend, opts ...StoreOption) (*Store, error) {
	s := &Store{
		backend:     backend,
		key:         DefaultKey,
		session:     Empty(),
		subscribers: make(map[int]func(Change)),
	}
	for _, opt := range opts {
		opt(s)
	}

	// Watch before loading so a write between the two is not lost.
	stop, err := backend.Watch(s.key, s.onExternalChange)
	if err != nil {
		return nil, fmt.Errorf("failed to watch %s: %w", s.key, err)
	}
	s.stopWatch = stop

	s.writeMu.Lock()
	s.mu.Lock()
	s.session, s.raw = s.load()
	s.mu.Unlock()
	s.unlockWrite()

	return s, nil
}

// Key returns the storage key.
func (s *Store) Key() string {
	return s.key
}

// Get returns a copy of the current session.
func (s *Store) Get() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session.Clone()
}

// Update applies fn to a copy of the current session, stores the result,
// persists it and notifies subscribers. fn must be pure: it may run while
// other goroutines wait.
func (s *Store) Update(fn func(Session) Session) Session {
	s.writeMu.Lock()
	defer s.unlockWrite()

	s.mu.Lock()
	next := normalize(fn(s.session.Clone()))
	raw, err := encodeSession(next)
	if err != nil {
		s.mu.Unlock()
		log.Printf("❌ Failed to encode session, keeping previous state: %v", err)
		return s.Get()
	}
	changed := !bytes.Equal(raw, s.raw) || (raw == nil) != (s.raw == nil)
	s.session = next
	s.raw = raw
	s.mu.Unlock()

	if !changed {
		return next.Clone()
	}

	s.persist(raw)
	s.notify(Change{Session: next.Clone()})
	return next.Clone()
}

// Subscribe registers fn for every later change. fn runs on the goroutine that
// made the change and must not call Update synchronously.
func (s *Store) Subscribe(fn func(Change)) (cancel func()) {
	s.subMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subscribers, id)
		s.subMu.Unlock()
	}
}

// Close stops following external changes. The backend is not closed.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		if s.stopWatch != nil {
			s.stopWatch()
		}
	})
	return nil
}

// load reads the persisted session, degrading to empty on any problem.
func (s *Store) load() (Session, []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	data, err := s.backend.Load(ctx, s.key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			log.Printf("⚠️ Failed to read session %s, starting empty: %v", s.key, err)
		}
		return Empty(), nil
	}

	session, err := decodeSession(data)
	if err != nil {
		log.Printf("⚠️ Ignoring malformed session %s: %v", s.key, err)
		return Empty(), nil
	}
	raw, _ := encodeSession(session)
	return session, raw
}

// persist writes raw, or removes the key when raw is nil (logged out).
// Failures are logged: memory stays authoritative for this process.
func (s *Store) persist(raw []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	var err error
	if raw == nil {
		err = s.backend.Delete(ctx, s.key)
	} else {
		err = s.backend.Save(ctx, s.key, raw)
	}
	if err != nil {
		log.Printf("⚠️ Failed to persist session %s: %v", s.key, err)
	}
}

// onExternalChange only flags the key as dirty. Watchers may hand back a
// value this store wrote earlier (a poll or fsnotify read racing a newer
// Save), so the value itself is not trusted: resync re-reads the key once no
// Update is in flight.
func (s *Store) onExternalChange(_ []byte, _ bool) {
	s.pending.Store(true)
	s.drain()
}

// unlockWrite releases writeMu and handles changes flagged while it was held.
func (s *Store) unlockWrite() {
	s.writeMu.Unlock()
	s.drain()
}

// drain resyncs while changes are pending. When writeMu is busy the holder
// drains on its way out; this also covers the memory backend, which notifies
// from inside Save while persist holds writeMu.
func (s *Store) drain() {
	for s.pending.Load() {
		if !s.writeMu.TryLock() {
			return
		}
		if s.pending.Swap(false) {
			s.resync()
		}
		s.writeMu.Unlock()
	}
}

// resync adopts the persisted value when it differs from memory. Caller must
// hold writeMu.
func (s *Store) resync() {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	value, err := s.backend.Load(ctx, s.key)
	present := err == nil
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		log.Printf("⚠️ Failed to re-read session %s after external change: %v", s.key, err)
		return
	}

	var next Session
	var raw []byte

	s.mu.Lock()
	if !present {
		if s.raw == nil {
			s.mu.Unlock()
			return
		}
		next = Empty()
	} else {
		if bytes.Equal(value, s.raw) {
			s.mu.Unlock()
			return
		}
		decoded, err := decodeSession(value)
		if err != nil {
			log.Printf("⚠️ Ignoring malformed external session %s: %v", s.key, err)
			decoded = Empty()
		}
		next = decoded
		raw, _ = encodeSession(next)
		if bytes.Equal(raw, s.raw) && (raw == nil) == (s.raw == nil) {
			// same session in a different encoding, or malformed while logged out
			s.mu.Unlock()
			return
		}
	}
	s.session = next
	s.raw = raw
	s.mu.Unlock()

	s.notify(Change{Session: next.Clone(), External: true})
}

func (s *Store) notify(c Change) {
	s.subMu.RLock()
	fns := make([]func(Change), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		fns = append(fns, fn)
	}
	s.subMu.RUnlock()

	for _, fn := range fns {
		fn(Change{Session: c.Session.Clone(), External: c.External})
	}
}

// encodeSession returns nil for a logged-out session: absence of the key is
// the canonical logged-out representation.
func encodeSession(s Session) ([]byte, error) {
	if s.Selected == nil {
		return nil, nil
	}
	return json.Marshal(s)
}

// decodeSession parses a persisted session. The value must be an object with an
// "accounts" array and a "selected" field (null allowed).
func decodeSession(data []byte) (Session, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return Empty(), fmt.Errorf("not a JSON object: %w", err)
	}

	rawSelected, ok := fields["selected"]
	if !ok {
		return Empty(), errors.New(`missing "selected" field`)
	}
	rawAccounts, ok := fields["accounts"]
	if !ok {
		return Empty(), errors.New(`missing "accounts" field`)
	}
	if trimmed := bytes.TrimSpace(rawAccounts); len(trimmed) == 0 || trimmed[0] != '[' {
		return Empty(), errors.New(`"accounts" is not an array`)
	}

	var accounts []Account
	if err := json.Unmarshal(rawAccounts, &accounts); err != nil {
		return Empty(), fmt.Errorf("invalid accounts: %w", err)
	}
	var selected *Account
	if err := json.Unmarshal(rawSelected, &selected); err != nil {
		return Empty(), fmt.Errorf("invalid selected account: %w", err)
	}

	return normalize(Session{Selected: selected, Accounts: accounts}), nil
}
