package blob

import (
	"context"
	"fmt"
	"sync"
)

// MemoryBackend is an in-memory Backend.
// It can be told to fail the next N calls with ErrNotReady.
type MemoryBackend struct {
	mu       sync.Mutex
	objects  map[string][]byte
	bucket   bool
	notReady int
	puts     int
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		objects: make(map[string][]byte),
	}
}

// FailNext makes the next n calls return ErrNotReady.
func (m *MemoryBackend) FailNext(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notReady = n
}

// Puts returns how many successful Put calls were made.
func (m *MemoryBackend) Puts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.puts
}

func (m *MemoryBackend) checkReady() error {
	if m.notReady > 0 {
		m.notReady--
		return fmt.Errorf("memory backend: %w", ErrNotReady)
	}
	return nil
}

// EnsureBucket creates the bucket.
func (m *MemoryBackend) EnsureBucket(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkReady(); err != nil {
		return err
	}
	m.bucket = true
	return nil
}

// Get returns a copy of the object.
func (m *MemoryBackend) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkReady(); err != nil {
		return nil, err
	}
	data, exists := m.objects[key]
	if !m.bucket || !exists {
		return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	return append([]byte(nil), data...), nil
}

// Put stores a copy of data.
func (m *MemoryBackend) Put(ctx context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkReady(); err != nil {
		return err
	}
	if !m.bucket {
		return fmt.Errorf("bucket for %s: %w", key, ErrNotFound)
	}
	m.objects[key] = append([]byte(nil), data...)
	m.puts++
	return nil
}
