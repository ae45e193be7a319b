package storage

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pysugar/session-nexus/internal/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// changeLog collects watch notifications across goroutines.
type changeLog struct {
	mu      sync.Mutex
	changes []change
}

type change struct {
	value   string
	present bool
}

func (c *changeLog) record(value []byte, present bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.changes = append(c.changes, change{value: string(value), present: present})
}

func (c *changeLog) last() (change, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.changes) == 0 {
		return change{}, false
	}
	return c.changes[len(c.changes)-1], true
}

// exerciseBackend runs the shared contract: load/save/delete and watch delivery.
func exerciseBackend(t *testing.T, b Backend) {
	t.Helper()
	ctx := context.Background()

	_, err := b.Load(ctx, "userSession")
	require.ErrorIs(t, err, ErrNotFound)

	log := &changeLog{}
	stop, err := b.Watch("userSession", log.record)
	require.NoError(t, err)
	defer stop()

	require.NoError(t, b.Save(ctx, "userSession", []byte(`{"v":1}`)))
	got, err := b.Load(ctx, "userSession")
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":1}`, string(got))

	require.Eventually(t, func() bool {
		c, ok := log.last()
		return ok && c.present && c.value == `{"v":1}`
	}, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, b.Delete(ctx, "userSession"))
	_, err = b.Load(ctx, "userSession")
	require.ErrorIs(t, err, ErrNotFound)

	require.Eventually(t, func() bool {
		c, ok := log.last()
		return ok && !c.present
	}, 3*time.Second, 10*time.Millisecond)

	// Deleting an absent key is not an error.
	require.NoError(t, b.Delete(ctx, "userSession"))
}

func TestMemoryBackend(t *testing.T) {
	exerciseBackend(t, NewMemoryBackend())
}

func TestMemoryBackend_StopWatch(t *testing.T) {
	b := NewMemoryBackend()
	log := &changeLog{}
	stop, err := b.Watch("k", log.record)
	require.NoError(t, err)
	stop()

	require.NoError(t, b.Save(context.Background(), "k", []byte("x")))
	_, ok := log.last()
	assert.False(t, ok, "stopped watcher must not be called")
}

func TestMemoryBackend_LoadReturnsCopy(t *testing.T) {
	b := NewMemoryBackend()
	require.NoError(t, b.Save(context.Background(), "k", []byte("abc")))
	v, err := b.Load(context.Background(), "k")
	require.NoError(t, err)
	v[0] = 'z'

	again, err := b.Load(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(again))
}

func TestFileBackend(t *testing.T) {
	b, err := NewFileBackend(filepath.Join(t.TempDir(), "sessions"))
	require.NoError(t, err)
	exerciseBackend(t, b)
}

func TestFileBackend_PermissionsAndLayout(t *testing.T) {
	dir := t.TempDir()
	b, err := NewFileBackend(dir)
	require.NoError(t, err)
	require.NoError(t, b.Save(context.Background(), "userSession", []byte(`{}`)))

	info, err := os.Stat(filepath.Join(dir, "userSession.json"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestFileBackend_WatchSeesOtherWriter(t *testing.T) {
	dir := t.TempDir()
	reader, err := NewFileBackend(dir)
	require.NoError(t, err)
	writer, err := NewFileBackend(dir)
	require.NoError(t, err)

	log := &changeLog{}
	stop, err := reader.Watch("userSession", log.record)
	require.NoError(t, err)
	defer stop()

	require.NoError(t, writer.Save(context.Background(), "userSession", []byte(`{"from":"writer"}`)))
	require.Eventually(t, func() bool {
		c, ok := log.last()
		return ok && c.value == `{"from":"writer"}`
	}, 3*time.Second, 10*time.Millisecond)
}

func TestDBBackend(t *testing.T) {
	database, err := db.InitDB(filepath.Join(t.TempDir(), "nexus.db"))
	require.NoError(t, err)
	exerciseBackend(t, NewDBBackend(database, 20*time.Millisecond))
}

func TestDBBackend_SaveOverwrites(t *testing.T) {
	database, err := db.InitDB(filepath.Join(t.TempDir(), "nexus.db"))
	require.NoError(t, err)
	b := NewDBBackend(database, time.Second)
	ctx := context.Background()

	require.NoError(t, b.Save(ctx, "k", []byte("one")))
	require.NoError(t, b.Save(ctx, "k", []byte("two")))
	v, err := b.Load(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "two", string(v))
}

func TestRedisBackend(t *testing.T) {
	url := os.Getenv("NEXUS_TEST_REDIS_URL")
	if url == "" {
		t.Skip("NEXUS_TEST_REDIS_URL not set")
	}
	client, err := NewRedisClient(context.Background(), url)
	require.NoError(t, err)
	b := NewRedisBackend(client)
	defer b.Close()
	exerciseBackend(t, b)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	b, err := Open(ctx, Config{Kind: KindMemory})
	require.NoError(t, err)
	assert.IsType(t, &MemoryBackend{}, b)

	b, err = Open(ctx, Config{Kind: KindFile, Dir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &FileBackend{}, b)

	b, err = Open(ctx, Config{Kind: KindDB, DBPath: filepath.Join(t.TempDir(), "nexus.db")})
	require.NoError(t, err)
	assert.IsType(t, &DBBackend{}, b)

	_, err = Open(ctx, Config{Kind: KindFile})
	assert.Error(t, err)

	_, err = Open(ctx, Config{Kind: KindRedis})
	assert.Error(t, err)

	_, err = Open(ctx, Config{Kind: "etcd"})
	assert.Error(t, err)
}
