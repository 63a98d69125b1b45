// Package blob stores uploaded file bytes under opaque keys and hands out public references.
package blob

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a key has no stored object.
var ErrNotFound = errors.New("blob not found")

// Store is an opaque object store.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	// URL returns a public reference for key. An empty string means the object is not
	// reachable from outside the process.
	URL(ctx context.Context, key string) (string, error)
	// Ping checks that the store is reachable.
	Ping(ctx context.Context) error
}
