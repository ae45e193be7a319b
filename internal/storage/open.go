package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/pysugar/session-nexus/internal/db"
	"gorm.io/gorm"
)

// Backend kinds accepted by Open.
const (
	KindMemory = "memory"
	KindFile   = "file"
	KindDB     = "db"
	KindRedis  = "redis"
)

// Config selects and parameterizes a backend.
type Config struct {
	Kind         string
	Dir          string        // file
	DBPath       string        // db, used when DB is nil
	DB           *gorm.DB      // db, shared with the caller
	PollInterval time.Duration // db
	RedisURL     string        // redis
}

// Open builds the backend described by cfg.
func Open(ctx context.Context, cfg Config) (Backend, error) {
	switch cfg.Kind {
	case KindMemory:
		return NewMemoryBackend(), nil
	case KindFile:
		if cfg.Dir == "" {
			return nil, fmt.Errorf("file backend requires a directory")
		}
		return NewFileBackend(cfg.Dir)
	case KindDB, "":
		database := cfg.DB
		if database == nil {
			if cfg.DBPath == "" {
				return nil, fmt.Errorf("db backend requires a database path")
			}
			var err error
			database, err = db.InitDB(cfg.DBPath)
			if err != nil {
				return nil, fmt.Errorf("failed to open database: %w", err)
			}
		}
		return NewDBBackend(database, cfg.PollInterval), nil
	case KindRedis:
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("redis backend requires a URL")
		}
		client, err := NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		return NewRedisBackend(client), nil
	}
	return nil, fmt.Errorf("unknown session backend %q", cfg.Kind)
}
