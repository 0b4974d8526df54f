// Package backend provides key/value storage backends for the companion cache.
//
// A backend is the raw persistence under one storage scope. It knows nothing
// about expiry or record encoding; that is the job of the store package.
package backend

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a key does not exist in the backend.
	ErrNotFound = errors.New("not found")

	// ErrQuotaExceeded is returned when a write would exceed a backend's capacity.
	ErrQuotaExceeded = errors.New("quota exceeded")
)

// Backend defines the interface for storage backends.
// Implementations must be safe for concurrent use and atomic per key.
type Backend interface {
	// Get returns the value stored at key.
	// Returns ErrNotFound if the key does not exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// List returns every key and value held by the backend.
	List(ctx context.Context) (map[string][]byte, error)

	// Set stores value at key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key.
	// Returns nil if the key does not exist (idempotent).
	Delete(ctx context.Context, key string) error

	// DeleteIf removes key only while it still holds exactly expected, as
	// one atomic step. deleted is false when the key is absent or changed.
	DeleteIf(ctx context.Context, key string, expected []byte) (deleted bool, err error)

	// Close releases resources held by the backend.
	Close() error
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
