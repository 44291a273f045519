package wal

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// SegmentLog is a WAL kept in one local append-only file.
// Each Append writes a single line and syncs it before returning.
type SegmentLog struct {
	path string

	mu   sync.Mutex
	file *os.File
	last uint64 // offset of the last stored record
}

// NewSegmentLog creates a log backed by the file at path.
func NewSegmentLog(path string) *SegmentLog {
	return &SegmentLog{path: path}
}

// Open creates the file if needed and returns its records.
func (l *SegmentLog) Open(ctx context.Context) ([]Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create wal dir: %w", err)
	}

	if l.file == nil {
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", l.path, err)
		}
		l.file = f
	}

	records, err := l.readAll()
	if err != nil {
		return nil, err
	}
	l.last = 0
	for _, rec := range records {
		l.last = max(l.last, rec.Offset)
	}
	return records, nil
}

// Append writes and syncs one record. A failed write or sync is rolled
// back by truncating the file to its previous size.
func (l *SegmentLog) Append(ctx context.Context, rec Record) error {
	line, err := Encode(rec)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return fmt.Errorf("segment log %s is not open", l.path)
	}
	if rec.Offset <= l.last {
		return fmt.Errorf("append %d to %s ending at %d: %w", rec.Offset, l.path, l.last, ErrStaleOffset)
	}

	info, err := l.file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", l.path, err)
	}
	size := info.Size()

	if _, err := l.file.Write(line); err != nil {
		return l.rollback(size, fmt.Errorf("failed to append record %d: %w", rec.Offset, err))
	}
	if err := l.file.Sync(); err != nil {
		return l.rollback(size, fmt.Errorf("failed to sync record %d: %w", rec.Offset, err))
	}
	l.last = rec.Offset
	return nil
}

// rollback cuts the file back to size after a failed append. If that fails
// too the record may still be in the file; callers re-read the log to find out.
func (l *SegmentLog) rollback(size int64, cause error) error {
	if err := l.file.Truncate(size); err != nil {
		return errors.Join(cause, fmt.Errorf("failed to truncate %s: %w", l.path, err))
	}
	return cause
}

// Fetch reads the file and filters it by offset.
func (l *SegmentLog) Fetch(ctx context.Context, from uint64) ([]Record, error) {
	l.mu.Lock()
	records, err := l.readAll()
	l.mu.Unlock()
	if err != nil || records == nil {
		return nil, err
	}
	return From(records, from), nil
}

// Close closes the underlying file.
func (l *SegmentLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

func (l *SegmentLog) readAll() ([]Record, error) {
	data, err := os.ReadFile(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", l.path, err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	return Decode(data)
}
