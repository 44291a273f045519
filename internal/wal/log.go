package wal

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"tablestore/internal/blob"
)

// ErrStaleOffset is returned by Append when the log already holds a record
// at or past the appended offset.
var ErrStaleOffset = errors.New("offset already in log")

// Log is a shard's durable, offset-ordered record log.
type Log interface {
	// Open makes sure the log exists and returns every record in it.
	Open(ctx context.Context) ([]Record, error)
	// Append durably adds one record at the end of the log. The record
	// offset must be greater than every offset already stored.
	Append(ctx context.Context, rec Record) error
	// Fetch returns the records with offset >= from, read from durable
	// storage. Returns nil if the log does not exist yet.
	Fetch(ctx context.Context, from uint64) ([]Record, error)
}

// ObjectKey returns the well-known object key of a shard's WAL.
func ObjectKey(shardID int) string {
	return fmt.Sprintf("shard_%d/wal.jsonl", shardID)
}

// BlobLog keeps the whole WAL in one backend object.
// Append is a read-modify-write of that object, which is only safe
// because each shard has a single writer.
type BlobLog struct {
	backend blob.Backend
	key     string
	policy  blob.Policy

	mu sync.Mutex // serializes appends from this process
}

// NewBlobLog creates a log stored at key.
func NewBlobLog(backend blob.Backend, key string, policy blob.Policy) *BlobLog {
	return &BlobLog{
		backend: backend,
		key:     key,
		policy:  policy,
	}
}

// Open creates the bucket if needed and loads the log.
// A missing object is an empty log.
func (l *BlobLog) Open(ctx context.Context) ([]Record, error) {
	if err := blob.Retry(ctx, l.policy, false, l.backend.EnsureBucket); err != nil {
		return nil, fmt.Errorf("failed to ensure bucket: %w", err)
	}

	records, err := l.load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", l.key, err)
	}
	return records, nil
}

// Append rewrites the object with rec added at the end.
func (l *BlobLog) Append(ctx context.Context, rec Record) error {
	line, err := Encode(rec)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	current, err := l.read(ctx)
	if err != nil {
		return fmt.Errorf("failed to read %s for append: %w", l.key, err)
	}
	last, err := LastOffset(current)
	if err != nil {
		return fmt.Errorf("failed to read %s for append: %w", l.key, err)
	}
	if rec.Offset <= last {
		return fmt.Errorf("append %d to %s ending at %d: %w", rec.Offset, l.key, last, ErrStaleOffset)
	}

	next := make([]byte, 0, len(current)+len(line))
	next = append(next, current...)
	if len(next) > 0 && next[len(next)-1] != '\n' {
		next = append(next, '\n')
	}
	next = append(next, line...)

	err = blob.Retry(ctx, l.policy, false, func(ctx context.Context) error {
		return l.backend.Put(ctx, l.key, next)
	})
	if err != nil {
		return fmt.Errorf("failed to append record %d to %s: %w", rec.Offset, l.key, err)
	}
	return nil
}

// Fetch reads the object and filters it by offset.
func (l *BlobLog) Fetch(ctx context.Context, from uint64) ([]Record, error) {
	records, err := l.load(ctx)
	if err != nil {
		return nil, err
	}
	if records == nil {
		return nil, nil
	}
	return From(records, from), nil
}

func (l *BlobLog) load(ctx context.Context) ([]Record, error) {
	data, err := l.read(ctx)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	return Decode(data)
}

// read returns the raw object, or nil if it does not exist.
func (l *BlobLog) read(ctx context.Context) ([]byte, error) {
	var data []byte
	err := blob.Retry(ctx, l.policy, true, func(ctx context.Context) error {
		var err error
		data, err = l.backend.Get(ctx, l.key)
		return err
	})
	if errors.Is(err, blob.ErrNotFound) {
		return nil, nil
	}
	return data, err
}
