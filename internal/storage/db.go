package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/pysugar/session-nexus/internal/db"
	"gorm.io/gorm"
)

// DefaultPollInterval is how often DBBackend checks a watched key for changes.
const DefaultPollInterval = 2 * time.Second

// DBBackend stores values in the config key/value table. SQLite has no change
// feed, so Watch polls the row.
type DBBackend struct {
	db       *gorm.DB
	interval time.Duration
}

// NewDBBackend wraps an initialized database (see db.InitDB).
func NewDBBackend(database *gorm.DB, interval time.Duration) *DBBackend {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &DBBackend{db: database, interval: interval}
}

func (d *DBBackend) Load(ctx context.Context, key string) ([]byte, error) {
	value, ok, err := db.GetConfigValue(ctx, d.db, key)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", key, err)
	}
	if !ok {
		return nil, ErrNotFound
	}
	return []byte(value), nil
}

func (d *DBBackend) Save(ctx context.Context, key string, value []byte) error {
	if err := db.SetConfigValue(ctx, d.db, key, string(value)); err != nil {
		return fmt.Errorf("failed to save %s: %w", key, err)
	}
	return nil
}

func (d *DBBackend) Delete(ctx context.Context, key string) error {
	if err := db.DeleteConfigValue(ctx, d.db, key); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Watch polls key every interval and reports values that differ from the last poll.
func (d *DBBackend) Watch(key string, fn ChangeFunc) (func(), error) {
	ctx, cancel := context.WithCancel(context.Background())
	last, lastPresent, err := d.snapshot(ctx, key)
	if err != nil {
		cancel()
		return nil, err
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				value, present, err := d.snapshot(ctx, key)
				if err != nil {
					if ctx.Err() == nil {
						log.Printf("⚠️ Session poll for %s failed: %v", key, err)
					}
					continue
				}
				if present == lastPresent && bytes.Equal(value, last) {
					continue
				}
				last, lastPresent = value, present
				fn(value, present)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			wg.Wait()
		})
	}, nil
}

// Close is a no-op: the *gorm.DB is owned by the caller.
func (d *DBBackend) Close() error {
	return nil
}

func (d *DBBackend) snapshot(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := d.Load(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}
