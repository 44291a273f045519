package replication

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"tablestore/internal/storage"
	"tablestore/internal/wal"
)

// DefaultPollInterval is how often a follower asks its leader for new records.
const DefaultPollInterval = 500 * time.Millisecond

// Source is where a follower pulls WAL records from.
type Source interface {
	Fetch(ctx context.Context, from uint64) (wal.Batch, error)
}

// Status describes how far a follower is behind its leader.
type Status struct {
	LastOffset  uint64    // highest offset applied
	HeadOffset  uint64    // leader head reported by the last successful fetch
	LastSync    time.Time // zero until the first successful fetch
	LastError   string    // error of the last failed cycle, empty after a success
	FailedPolls int       // consecutive failed cycles
}

// Gap returns the number of records known to be missing.
func (s Status) Gap() uint64 {
	if s.HeadOffset <= s.LastOffset {
		return 0
	}
	return s.HeadOffset - s.LastOffset
}

// Follower is a read-only replica of one shard.
type Follower struct {
	source   Source
	state    *storage.State
	interval time.Duration
	logger   *log.Logger

	syncMu sync.Mutex // one replication cycle at a time

	mu     sync.RWMutex
	status Status
}

// NewFollower creates a follower that starts empty at offset 0.
func NewFollower(source Source, interval time.Duration, logger *log.Logger) *Follower {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[follower] ", log.LstdFlags)
	}
	return &Follower{
		source:   source,
		state:    storage.NewState(),
		interval: interval,
		logger:   logger,
	}
}

// Run polls the leader until ctx is done.
func (f *Follower) Run(ctx context.Context) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.SyncOnce(ctx); err != nil && ctx.Err() == nil {
				f.logger.Printf("sync failed: %v", err)
			}
		}
	}
}

// SyncOnce runs one replication cycle: fetch everything past the last
// applied offset and replay it in order. The error is returned for logging
// only; the follower state stays usable either way.
func (f *Follower) SyncOnce(ctx context.Context) error {
	f.syncMu.Lock()
	defer f.syncMu.Unlock()

	from := f.LastOffset() + 1
	batch, err := f.source.Fetch(ctx, from)
	if err != nil {
		f.recordFailure(err)
		return fmt.Errorf("fetch from %d: %w", from, err)
	}

	for _, rec := range batch.Records {
		if err := f.state.Apply(rec); err != nil {
			// Stop here; the next cycle resumes from the last applied offset.
			f.recordFailure(err)
			return fmt.Errorf("apply offset %d: %w", rec.Offset, err)
		}
		f.advance(rec.Offset)
	}

	f.mu.Lock()
	f.status.HeadOffset = max(f.status.HeadOffset, batch.Head)
	f.status.LastSync = time.Now()
	f.status.LastError = ""
	f.status.FailedPolls = 0
	f.mu.Unlock()
	return nil
}

// advance moves the applied offset forward. It never goes back.
func (f *Follower) advance(offset uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status.LastOffset = max(f.status.LastOffset, offset)
}

func (f *Follower) recordFailure(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status.LastError = err.Error()
	f.status.FailedPolls++
}

// LastOffset returns the highest applied offset.
func (f *Follower) LastOffset() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.status.LastOffset
}

// Status returns the replication status.
func (f *Follower) Status() Status {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.status
}

// Read returns the item value from local state.
func (f *Follower) Read(table string, key storage.CompoundKey) (*structpb.Value, error) {
	return f.state.Get(table, key)
}

// Exists reports whether the item is in local state.
func (f *Follower) Exists(table string, key storage.CompoundKey) bool {
	return f.state.Exists(table, key)
}

// Snapshot returns a copy of the local state.
func (f *Follower) Snapshot() storage.Snapshot {
	return f.state.Snapshot()
}
