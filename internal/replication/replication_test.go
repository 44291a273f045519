package replication

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"

	"tablestore/internal/blob"
	"tablestore/internal/leader"
	"tablestore/internal/storage"
	"tablestore/internal/wal"
)

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func newLeader(t *testing.T) *leader.Leader {
	t.Helper()
	l := wal.NewBlobLog(blob.NewMemoryBackend(), wal.ObjectKey(0), blob.Policy{Attempts: 3, Delay: time.Millisecond})
	ld, err := leader.Open(context.Background(), 0, l, quietLogger())
	require.NoError(t, err)
	return ld
}

// scriptedSource returns queued results in order, then empty batches.
type scriptedSource struct {
	mu      sync.Mutex
	results []scriptedResult
	calls   []uint64
}

type scriptedResult struct {
	batch wal.Batch
	err   error
}

func (s *scriptedSource) Fetch(ctx context.Context, from uint64) (wal.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, from)
	if len(s.results) == 0 {
		return wal.Batch{}, nil
	}
	r := s.results[0]
	s.results = s.results[1:]
	return r.batch, r.err
}

func TestFollower_ReflectsPriorRecordsAfterOnePoll(t *testing.T) {
	ctx := context.Background()
	ld := newLeader(t)

	_, err := ld.RegisterTable(ctx, "Orders")
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		key := storage.CompoundKey{PartitionKey: "US", SortKey: fmt.Sprintf("order%d", i)}
		_, err := ld.Create(ctx, "Orders", key, structpb.NewNumberValue(float64(i)))
		require.NoError(t, err)
	}
	require.Equal(t, uint64(5), ld.Offset())

	interval := 20 * time.Millisecond
	f := NewFollower(ld, interval, quietLogger())
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go f.Run(runCtx)

	require.Eventually(t, func() bool {
		return f.LastOffset() == 5
	}, 10*interval, interval/4)

	assert.True(t, storage.Equal(ld.Snapshot(), f.Snapshot()))
	assert.Equal(t, uint64(0), f.Status().Gap())
}

func TestFollower_ConvergesAfterCreatesAndDeletes(t *testing.T) {
	ctx := context.Background()
	ld := newLeader(t)
	f := NewFollower(ld, time.Hour, quietLogger())

	_, err := ld.RegisterTable(ctx, "Orders")
	require.NoError(t, err)
	require.NoError(t, f.SyncOnce(ctx))
	assert.True(t, storage.Equal(ld.Snapshot(), f.Snapshot()))

	for i := 0; i < 10; i++ {
		key := storage.CompoundKey{PartitionKey: "p", SortKey: fmt.Sprintf("s%d", i)}
		_, err := ld.Create(ctx, "Orders", key, structpb.NewStringValue("v"))
		require.NoError(t, err)
		if i%3 == 0 {
			_, err := ld.Delete(ctx, "Orders", key)
			require.NoError(t, err)
		}
	}

	require.NoError(t, f.SyncOnce(ctx))
	assert.Equal(t, ld.Offset(), f.LastOffset())
	assert.True(t, storage.Equal(ld.Snapshot(), f.Snapshot()))

	key := storage.CompoundKey{PartitionKey: "p", SortKey: "s1"}
	assert.True(t, f.Exists("Orders", key))
	v, err := f.Read("Orders", key)
	require.NoError(t, err)
	assert.Equal(t, "v", v.GetStringValue())

	_, err = f.Read("Orders", storage.CompoundKey{PartitionKey: "p", SortKey: "s0"})
	assert.ErrorIs(t, err, storage.ErrItemNotFound)
}

func TestFollower_FetchesFromNextOffset(t *testing.T) {
	src := &scriptedSource{results: []scriptedResult{
		{batch: wal.Batch{Head: 2, Records: []wal.Record{
			{Offset: 1, Op: wal.OpCreateTable, Table: "T"},
			{Offset: 2, Op: wal.OpCreate, Table: "T", PartitionKey: "a", SortKey: "b", Value: structpb.NewBoolValue(true)},
		}}},
	}}
	f := NewFollower(src, time.Hour, quietLogger())

	require.NoError(t, f.SyncOnce(context.Background()))
	require.NoError(t, f.SyncOnce(context.Background()))

	assert.Equal(t, []uint64{1, 3}, src.calls)
}

func TestFollower_ErrorsAreSwallowed(t *testing.T) {
	src := &scriptedSource{results: []scriptedResult{
		{err: errors.New("connection refused")},
		{err: errors.New("connection refused")},
		{batch: wal.Batch{Head: 1, Records: []wal.Record{{Offset: 1, Op: wal.OpCreateTable, Table: "T"}}}},
	}}
	f := NewFollower(src, 5*time.Millisecond, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.Run(ctx)

	require.Eventually(t, func() bool {
		s := f.Status()
		return s.LastOffset == 1 && !s.LastSync.IsZero()
	}, time.Second, 5*time.Millisecond)

	status := f.Status()
	assert.Empty(t, status.LastError)
	assert.Equal(t, 0, status.FailedPolls)
	assert.False(t, status.LastSync.IsZero())
}

func TestFollower_StatusReportsFailures(t *testing.T) {
	src := &scriptedSource{results: []scriptedResult{
		{batch: wal.Batch{Head: 4, Records: []wal.Record{{Offset: 1, Op: wal.OpCreateTable, Table: "T"}}}},
		{err: errors.New("leader down")},
	}}
	f := NewFollower(src, time.Hour, quietLogger())

	require.NoError(t, f.SyncOnce(context.Background()))
	require.Error(t, f.SyncOnce(context.Background()))

	status := f.Status()
	assert.Equal(t, uint64(1), status.LastOffset)
	assert.Equal(t, uint64(4), status.HeadOffset)
	assert.Equal(t, uint64(3), status.Gap())
	assert.Equal(t, "leader down", status.LastError)
	assert.Equal(t, 1, status.FailedPolls)
}

func TestFollower_LastOffsetNeverRegresses(t *testing.T) {
	src := &scriptedSource{results: []scriptedResult{
		{batch: wal.Batch{Records: []wal.Record{
			{Offset: 1, Op: wal.OpCreateTable, Table: "T"},
			{Offset: 2, Op: wal.OpCreate, Table: "T", PartitionKey: "a", SortKey: "b", Value: structpb.NewNumberValue(1)},
		}}},
		// A stale batch re-delivering older records
		{batch: wal.Batch{Records: []wal.Record{
			{Offset: 1, Op: wal.OpCreateTable, Table: "T"},
		}}},
	}}
	f := NewFollower(src, time.Hour, quietLogger())

	require.NoError(t, f.SyncOnce(context.Background()))
	require.NoError(t, f.SyncOnce(context.Background()))

	assert.Equal(t, uint64(2), f.LastOffset())
	assert.True(t, f.Exists("T", storage.CompoundKey{PartitionKey: "a", SortKey: "b"}))
}

func TestFollower_StopsAtUnappliableRecord(t *testing.T) {
	src := &scriptedSource{results: []scriptedResult{
		{batch: wal.Batch{Records: []wal.Record{
			{Offset: 1, Op: wal.OpCreateTable, Table: "T"},
			{Offset: 2, Op: "bogus", Table: "T"},
			{Offset: 3, Op: wal.OpCreateTable, Table: "U"},
		}}},
	}}
	f := NewFollower(src, time.Hour, quietLogger())

	require.Error(t, f.SyncOnce(context.Background()))
	assert.Equal(t, uint64(1), f.LastOffset())
	assert.Len(t, f.Snapshot(), 1)
}

func TestFollower_RunStopsOnCancel(t *testing.T) {
	f := NewFollower(&scriptedSource{}, time.Millisecond, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		f.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
