package storage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	dialTimeout  = 3 * time.Second
	readTimeout  = 2 * time.Second
	writeTimeout = 2 * time.Second
	pingTimeout  = 2 * time.Second

	channelPrefix = "session-nexus:"
)

// NewRedisClient parses a Redis URL, applies timeouts and verifies connectivity.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis: invalid URL: %w", err)
	}
	options.DialTimeout = dialTimeout
	options.ReadTimeout = readTimeout
	options.WriteTimeout = writeTimeout

	client := redis.NewClient(options)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis: ping failed: %w", err)
	}
	return client, nil
}

// RedisBackend stores values as plain keys and announces every write on a
// pub/sub channel per key so that watchers in other processes re-read it.
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend wraps a connected client. The backend owns it after this call.
func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

func channelFor(key string) string {
	return channelPrefix + key
}

func (r *RedisBackend) Load(ctx context.Context, key string) ([]byte, error) {
	value, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis: get %s: %w", key, err)
	}
	return value, nil
}

func (r *RedisBackend) Save(ctx context.Context, key string, value []byte) error {
	if err := r.client.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis: set %s: %w", key, err)
	}
	return r.client.Publish(ctx, channelFor(key), "set").Err()
}

func (r *RedisBackend) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis: del %s: %w", key, err)
	}
	return r.client.Publish(ctx, channelFor(key), "del").Err()
}

// Watch subscribes to the key's channel and reloads the key on each message.
func (r *RedisBackend) Watch(key string, fn ChangeFunc) (func(), error) {
	ctx, cancel := context.WithCancel(context.Background())
	sub := r.client.Subscribe(ctx, channelFor(key))
	// Wait for the subscription to be confirmed so no write is missed afterwards.
	if _, err := sub.Receive(ctx); err != nil {
		cancel()
		sub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", key, err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for range sub.Channel() {
			value, err := r.Load(ctx, key)
			switch {
			case errors.Is(err, ErrNotFound):
				fn(nil, false)
			case err != nil:
				if ctx.Err() == nil {
					log.Printf("⚠️ Redis reload of %s failed: %v", key, err)
				}
			default:
				fn(value, true)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			sub.Close()
			wg.Wait()
		})
	}, nil
}

func (r *RedisBackend) Close() error {
	return r.client.Close()
}
