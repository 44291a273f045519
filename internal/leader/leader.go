package leader

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"

	"google.golang.org/protobuf/types/known/structpb"

	"tablestore/internal/storage"
	"tablestore/internal/wal"
)

// ErrWALUnknown is returned by mutations while the leader cannot tell which
// records its WAL holds, after an append failed and the WAL could not be
// re-read. Every mutation retries the re-read first.
var ErrWALUnknown = errors.New("wal state unknown")

// Leader owns one shard's state and WAL.
type Leader struct {
	shardID int
	log     wal.Log
	state   *storage.State
	logger  *log.Logger

	mu         sync.Mutex // serializes offset allocation, append and apply
	lastOffset uint64
	unsynced   error // set while local state may be behind the WAL
}

// Open replays the shard WAL and returns a leader ready to serve.
// It fails if the WAL cannot be loaded; a leader never serves with unknown
// WAL state.
func Open(ctx context.Context, shardID int, l wal.Log, logger *log.Logger) (*Leader, error) {
	if logger == nil {
		logger = log.New(os.Stderr, fmt.Sprintf("[shard-%d leader] ", shardID), log.LstdFlags)
	}

	records, err := l.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("shard %d: failed to open wal: %w", shardID, err)
	}

	state := storage.NewState()
	var lastOffset uint64
	for _, rec := range records {
		if err := state.Apply(rec); err != nil {
			return nil, fmt.Errorf("shard %d: failed to replay record %d: %w", shardID, rec.Offset, err)
		}
		lastOffset = max(lastOffset, rec.Offset)
	}

	if len(records) == 0 {
		logger.Printf("WAL empty, starting fresh")
	} else {
		logger.Printf("WAL loaded, %d records, last_offset=%d", len(records), lastOffset)
	}

	return &Leader{
		shardID:    shardID,
		log:        l,
		state:      state,
		logger:     logger,
		lastOffset: lastOffset,
	}, nil
}

// ShardID returns the shard this leader owns.
func (l *Leader) ShardID() int {
	return l.shardID
}

// Offset returns the last assigned offset.
func (l *Leader) Offset() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastOffset
}

// RegisterTable creates the table if it is new and returns the current offset.
// Registering an existing table writes nothing.
func (l *Leader) RegisterTable(ctx context.Context, table string) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.syncLocked(ctx); err != nil {
		return 0, err
	}
	if l.state.HasTable(table) {
		return l.lastOffset, nil
	}

	rec := wal.Record{Op: wal.OpCreateTable, Table: table}
	if err := l.commitLocked(ctx, &rec); err != nil {
		return 0, err
	}
	l.logger.Printf("table %s registered at offset %d", table, rec.Offset)
	return rec.Offset, nil
}

// Create inserts a new item and returns its offset.
// A rejected create consumes no offset and writes no record.
func (l *Leader) Create(ctx context.Context, table string, key storage.CompoundKey, value *structpb.Value) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.syncLocked(ctx); err != nil {
		return 0, err
	}
	if err := l.state.CheckInsert(table, key); err != nil {
		return 0, err
	}

	rec := wal.Record{
		Op:           wal.OpCreate,
		Table:        table,
		PartitionKey: key.PartitionKey,
		SortKey:      key.SortKey,
		Value:        value,
	}
	if err := l.commitLocked(ctx, &rec); err != nil {
		return 0, err
	}
	return rec.Offset, nil
}

// Delete removes an item and returns the offset of the delete record.
func (l *Leader) Delete(ctx context.Context, table string, key storage.CompoundKey) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.syncLocked(ctx); err != nil {
		return 0, err
	}
	if err := l.state.CheckRemove(table, key); err != nil {
		return 0, err
	}

	rec := wal.Record{
		Op:           wal.OpDelete,
		Table:        table,
		PartitionKey: key.PartitionKey,
		SortKey:      key.SortKey,
	}
	if err := l.commitLocked(ctx, &rec); err != nil {
		return 0, err
	}
	return rec.Offset, nil
}

// Read returns the item value from local state.
func (l *Leader) Read(table string, key storage.CompoundKey) (*structpb.Value, error) {
	return l.state.Get(table, key)
}

// Exists reports whether the item is in local state.
func (l *Leader) Exists(table string, key storage.CompoundKey) bool {
	return l.state.Exists(table, key)
}

// Fetch returns WAL records with offset >= from, read from durable storage
// on every call, along with the current head offset.
func (l *Leader) Fetch(ctx context.Context, from uint64) (wal.Batch, error) {
	head := l.Offset()
	records, err := l.log.Fetch(ctx, from)
	if err != nil {
		return wal.Batch{}, fmt.Errorf("shard %d: fetch from %d: %w", l.shardID, from, err)
	}
	return wal.Batch{Records: records, Head: head}, nil
}

// Snapshot returns a copy of the local state.
func (l *Leader) Snapshot() storage.Snapshot {
	return l.state.Snapshot()
}

// commitLocked assigns the next offset to rec, appends it and applies it.
// The append runs detached from ctx cancellation so a client giving up
// cannot leave the WAL and local state disagreeing.
//
// A failed append may still have reached storage, so the WAL is re-read
// and whatever it holds past lastOffset is replayed. If rec turns out to be
// committed the call succeeds. If the re-read fails the leader refuses
// mutations until a later re-read succeeds.
func (l *Leader) commitLocked(ctx context.Context, rec *wal.Record) error {
	rec.Offset = l.lastOffset + 1
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("shard %d: %w", l.shardID, err)
	}

	bg := context.WithoutCancel(ctx)
	if err := l.log.Append(bg, *rec); err != nil {
		l.logger.Printf("append of offset %d failed: %v", rec.Offset, err)

		if rerr := l.resyncLocked(bg); rerr != nil {
			l.unsynced = rerr
			l.logger.Printf("wal re-read failed, refusing writes: %v", rerr)
			return fmt.Errorf("shard %d: %w", l.shardID, err)
		}
		// A stale offset means the stored record at rec.Offset is not rec.
		if l.lastOffset >= rec.Offset && !errors.Is(err, wal.ErrStaleOffset) {
			l.logger.Printf("offset %d was committed despite the error", rec.Offset)
			return nil
		}
		return fmt.Errorf("shard %d: %w", l.shardID, err)
	}
	l.lastOffset = rec.Offset

	// Validated above, so Apply cannot reject it.
	return l.state.Apply(*rec)
}

// syncLocked re-reads the WAL if an earlier failure left it unknown.
func (l *Leader) syncLocked(ctx context.Context) error {
	if l.unsynced == nil {
		return nil
	}
	if err := l.resyncLocked(context.WithoutCancel(ctx)); err != nil {
		l.unsynced = err
		return fmt.Errorf("shard %d: %w: %v", l.shardID, ErrWALUnknown, err)
	}
	l.logger.Printf("wal re-read, resuming at offset %d", l.lastOffset)
	return nil
}

// resyncLocked replays WAL records past lastOffset into local state.
func (l *Leader) resyncLocked(ctx context.Context) error {
	records, err := l.log.Fetch(ctx, l.lastOffset+1)
	if err != nil {
		return err
	}
	for _, rec := range records {
		if err := l.state.Apply(rec); err != nil {
			return fmt.Errorf("replay record %d: %w", rec.Offset, err)
		}
		l.lastOffset = max(l.lastOffset, rec.Offset)
	}
	l.unsynced = nil
	return nil
}
