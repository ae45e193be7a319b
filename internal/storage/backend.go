// Package storage provides the durable key/value backends a session store persists to.
//
// Every backend also reports changes made to a key by other writers (other
// processes, other Store instances) so that independent copies of the same
// session converge. Delivery is last-write-wins; there is no conflict resolution.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Load when the key is absent.
var ErrNotFound = errors.New("storage: key not found")

// ChangeFunc receives the value of a watched key after a change.
// present is false when the key was removed.
type ChangeFunc func(value []byte, present bool)

// Backend is a durable key/value store with change notification.
type Backend interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error

	// Watch calls fn whenever key changes. Implementations may call fn from
	// their own goroutine and may report a writer's own changes back to it.
	Watch(key string, fn ChangeFunc) (stop func(), err error)

	Close() error
}
