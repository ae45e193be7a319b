package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// FileBackend stores each key as <dir>/<key>.json and watches the directory
// with fsnotify, so every process pointed at the same directory sees the
// others' writes.
type FileBackend struct {
	dir string
	mu  sync.Mutex
}

// NewFileBackend creates the directory (0700) if needed.
func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}
	return &FileBackend{dir: dir}, nil
}

// Dir returns the directory holding the key files.
func (f *FileBackend) Dir() string {
	return f.dir
}

func (f *FileBackend) path(key string) string {
	return filepath.Join(f.dir, key+".json")
}

func (f *FileBackend) Load(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(f.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return data, nil
}

// Save writes through a temp file and rename so readers never see a partial value.
func (f *FileBackend) Save(_ context.Context, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	tmp, err := os.CreateTemp(f.dir, "."+key+"-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to chmod %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", key, err)
	}
	return os.Rename(tmpName, f.path(key))
}

func (f *FileBackend) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Watch re-reads the key file on every fsnotify event touching it and reports
// the value when it differs from the last one seen.
func (f *FileBackend) Watch(key string, fn ChangeFunc) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	// Watch the directory: atomic renames replace the file's inode.
	if err := watcher.Add(f.dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", f.dir, err)
	}

	target := filepath.Base(f.path(key))
	last, lastPresent := f.snapshot(key)
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != target {
					continue
				}
				value, present := f.snapshot(key)
				if present == lastPresent && bytes.Equal(value, last) {
					continue
				}
				last, lastPresent = value, present
				fn(value, present)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("⚠️ Session file watcher error: %v", err)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			watcher.Close()
			wg.Wait()
		})
	}, nil
}

func (f *FileBackend) Close() error {
	return nil
}

func (f *FileBackend) snapshot(key string) ([]byte, bool) {
	data, err := f.Load(context.Background(), key)
	if err != nil {
		return nil, false
	}
	return data, true
}
