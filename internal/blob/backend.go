package blob

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when the object or its bucket does not exist.
	ErrNotFound = errors.New("object not found")
	// ErrNotReady is returned when the backend cannot be reached yet.
	ErrNotReady = errors.New("backend not ready")
	// ErrUnavailable is returned when the retry budget is exhausted.
	ErrUnavailable = errors.New("backend unavailable")
)

// Backend is a durable whole-object store.
type Backend interface {
	// EnsureBucket creates the bucket holding the objects. Idempotent.
	EnsureBucket(ctx context.Context) error
	// Get returns the full object. Returns ErrNotFound if absent.
	Get(ctx context.Context, key string) ([]byte, error)
	// Put replaces the full object.
	Put(ctx context.Context, key string, data []byte) error
}
