package coordinator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"tablestore/internal/api"
	"tablestore/internal/config"
)

// fakeReplica records the calls it receives. Unset hooks succeed.
type fakeReplica struct {
	api.TableStoreClient

	addr string
	fail error

	mu    sync.Mutex
	calls []string
	ids   []string
}

func (f *fakeReplica) record(ctx context.Context, method string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, method)
	if md, ok := metadata.FromOutgoingContext(ctx); ok {
		f.ids = append(f.ids, md.Get(api.RequestIDKey)...)
	}
	return f.fail
}

func (f *fakeReplica) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeReplica) RegisterTable(ctx context.Context, in *api.RegisterTableRequest, _ ...grpc.CallOption) (*api.RegisterTableResponse, error) {
	if err := f.record(ctx, "RegisterTable"); err != nil {
		return nil, err
	}
	return &api.RegisterTableResponse{Status: "table " + in.TableName + " registered", Offset: 1}, nil
}

func (f *fakeReplica) Create(ctx context.Context, in *api.CreateRequest, _ ...grpc.CallOption) (*api.CreateResponse, error) {
	if err := f.record(ctx, "Create"); err != nil {
		return nil, err
	}
	return &api.CreateResponse{Status: "created", Offset: 2}, nil
}

func (f *fakeReplica) Read(ctx context.Context, in *api.ItemRequest, _ ...grpc.CallOption) (*api.ReadResponse, error) {
	if err := f.record(ctx, "Read"); err != nil {
		return nil, err
	}
	return &api.ReadResponse{Value: structpb.NewStringValue(f.addr)}, nil
}

func (f *fakeReplica) Exists(ctx context.Context, in *api.ItemRequest, _ ...grpc.CallOption) (*api.ExistsResponse, error) {
	if err := f.record(ctx, "Exists"); err != nil {
		return nil, err
	}
	return &api.ExistsResponse{Exists: true}, nil
}

func (f *fakeReplica) Delete(ctx context.Context, in *api.ItemRequest, _ ...grpc.CallOption) (*api.DeleteResponse, error) {
	if err := f.record(ctx, "Delete"); err != nil {
		return nil, err
	}
	return &api.DeleteResponse{Status: "deleted", Offset: 3}, nil
}

type fakeCluster struct {
	replicas map[string]*fakeReplica
}

func newFakeCluster(topo config.Topology) *fakeCluster {
	fc := &fakeCluster{replicas: make(map[string]*fakeReplica)}
	for _, s := range topo.Shards {
		for _, addr := range s.Endpoints() {
			fc.replicas[addr] = &fakeReplica{addr: addr}
		}
	}
	return fc
}

func (fc *fakeCluster) provider(addr string) (api.TableStoreClient, error) {
	r, ok := fc.replicas[addr]
	if !ok {
		return nil, fmt.Errorf("unknown address %s", addr)
	}
	return r, nil
}

func newTestCoordinator(t *testing.T) (*Coordinator, *fakeCluster) {
	t.Helper()
	topo, err := config.ParseTopology("0=l0|f0a|f0b,1=l1|f1a|f1b")
	require.NoError(t, err)
	fc := newFakeCluster(topo)
	c, err := New(topo, 3, fc.provider, log.New(io.Discard, "", 0))
	require.NoError(t, err)
	return c, fc
}

func TestNew_RequiresShards(t *testing.T) {
	_, err := New(config.Topology{}, 3, nil, nil)
	require.Error(t, err)
}

func TestBalancer_RoundRobinPerShard(t *testing.T) {
	b := NewBalancer()
	eps := []string{"l", "f1", "f2"}

	var got []string
	for i := 0; i < 6; i++ {
		got = append(got, b.Next(0, eps))
	}
	assert.Equal(t, []string{"l", "f1", "f2", "l", "f1", "f2"}, got)

	// A fresh shard starts at its leader.
	assert.Equal(t, "x", b.Next(1, []string{"x", "y"}))
	assert.Equal(t, "l", b.Next(0, eps))
	assert.Equal(t, "", b.Next(2, nil))
}

func TestBalancer_ConcurrentUseIsEven(t *testing.T) {
	b := NewBalancer()
	eps := []string{"a", "b", "c"}

	var (
		mu     sync.Mutex
		counts = map[string]int{}
		wg     sync.WaitGroup
	)
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 30; i++ {
				ep := b.Next(0, eps)
				mu.Lock()
				counts[ep]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, map[string]int{"a": 100, "b": 100, "c": 100}, counts)
}

func TestCoordinator_ShardForIsStable(t *testing.T) {
	c, _ := newTestCoordinator(t)

	first, err := c.ShardFor("Orders", "US", "order1")
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := c.ShardFor("Orders", "US", "order1")
		require.NoError(t, err)
		assert.Equal(t, first.ID, again.ID)
	}
}

func TestCoordinator_RegisterTableBroadcast(t *testing.T) {
	c, fc := newTestCoordinator(t)

	resp, err := c.RegisterTable(context.Background(), &api.RegisterTableRequest{TableName: "Orders"})
	require.NoError(t, err)
	assert.Equal(t, "Table Orders registered on all shards", resp.Status)

	assert.Equal(t, 1, fc.replicas["l0"].callCount())
	assert.Equal(t, 1, fc.replicas["l1"].callCount())
	assert.Zero(t, fc.replicas["f0a"].callCount())
}

func TestCoordinator_RegisterTablePartialFailure(t *testing.T) {
	c, fc := newTestCoordinator(t)
	fc.replicas["l1"].fail = status.Error(codes.Unavailable, "down")

	resp, err := c.RegisterTable(context.Background(), &api.RegisterTableRequest{TableName: "Orders"})
	require.NoError(t, err)
	assert.Equal(t, "Table Orders registered on 1 of 2 shards", resp.Status)
	assert.Equal(t, 1, fc.replicas["l0"].callCount())
}

func TestCoordinator_WritesGoToLeader(t *testing.T) {
	c, fc := newTestCoordinator(t)
	ctx := context.Background()

	shard, err := c.ShardFor("Orders", "US", "order1")
	require.NoError(t, err)

	created, err := c.Create(ctx, &api.CreateRequest{
		TableName: "Orders", PartitionKey: "US", SortKey: "order1", Value: structpb.NewNumberValue(10),
	})
	require.NoError(t, err)
	assert.Equal(t, "created", created.Status)

	deleted, err := c.Delete(ctx, &api.ItemRequest{TableName: "Orders", PartitionKey: "US", SortKey: "order1"})
	require.NoError(t, err)
	assert.Equal(t, "deleted", deleted.Status)

	leader := fc.replicas[shard.Leader]
	assert.Equal(t, []string{"Create", "Delete"}, leader.calls)
	for _, f := range shard.Followers {
		assert.Zero(t, fc.replicas[f].callCount())
	}
}

func TestCoordinator_ReadsRotateOverReplicas(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()
	item := &api.ItemRequest{TableName: "Orders", PartitionKey: "US", SortKey: "order1"}

	shard, err := c.ShardFor(item.TableName, item.PartitionKey, item.SortKey)
	require.NoError(t, err)

	var served []string
	for i := 0; i < 6; i++ {
		resp, err := c.Read(ctx, item)
		require.NoError(t, err)
		served = append(served, resp.Value.GetStringValue())
	}
	eps := shard.Endpoints()
	assert.Equal(t, append(append([]string{}, eps...), eps...), served)

	exists, err := c.Exists(ctx, item)
	require.NoError(t, err)
	assert.True(t, exists.Exists)
}

func TestCoordinator_ErrorsPassThrough(t *testing.T) {
	c, fc := newTestCoordinator(t)
	shard, err := c.ShardFor("Orders", "US", "order1")
	require.NoError(t, err)
	fc.replicas[shard.Leader].fail = status.Error(codes.AlreadyExists, "Item already exists")

	_, err = c.Create(context.Background(), &api.CreateRequest{
		TableName: "Orders", PartitionKey: "US", SortKey: "order1", Value: structpb.NewNumberValue(1),
	})
	st, _ := status.FromError(err)
	assert.Equal(t, codes.AlreadyExists, st.Code())
	assert.Equal(t, "Item already exists", st.Message())
}

func TestCoordinator_NoRetryOnTransportFailure(t *testing.T) {
	c, fc := newTestCoordinator(t)
	item := &api.ItemRequest{TableName: "Orders", PartitionKey: "US", SortKey: "order1"}
	shard, err := c.ShardFor(item.TableName, item.PartitionKey, item.SortKey)
	require.NoError(t, err)

	fc.replicas[shard.Leader].fail = status.Error(codes.Unavailable, "connection refused")

	_, err = c.Read(context.Background(), item)
	assert.Equal(t, codes.Unavailable, status.Code(err))
	for _, f := range shard.Followers {
		assert.Zero(t, fc.replicas[f].callCount())
	}

	// The cursor still advanced; the next read goes to the first follower.
	resp, err := c.Read(context.Background(), item)
	require.NoError(t, err)
	assert.Equal(t, shard.Followers[0], resp.Value.GetStringValue())
}

func TestCoordinator_UnreachableAddress(t *testing.T) {
	topo, err := config.ParseTopology("0=l0")
	require.NoError(t, err)
	c, err := New(topo, 3, func(string) (api.TableStoreClient, error) {
		return nil, errors.New("dial failed")
	}, log.New(io.Discard, "", 0))
	require.NoError(t, err)

	_, err = c.Read(context.Background(), &api.ItemRequest{TableName: "t", PartitionKey: "p", SortKey: "s"})
	assert.Equal(t, codes.Unavailable, status.Code(err))
}

func TestCoordinator_Validation(t *testing.T) {
	c, fc := newTestCoordinator(t)
	ctx := context.Background()

	_, err := c.RegisterTable(ctx, &api.RegisterTableRequest{})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = c.Create(ctx, &api.CreateRequest{TableName: "Orders", PartitionKey: "US"})
	st, _ := status.FromError(err)
	assert.Equal(t, codes.InvalidArgument, st.Code())
	assert.Equal(t, "Missing sort_key, value", st.Message())

	_, err = c.Read(ctx, &api.ItemRequest{TableName: "Orders"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	for _, r := range fc.replicas {
		assert.Zero(t, r.callCount())
	}
}

func TestCoordinator_FetchUnimplemented(t *testing.T) {
	c, _ := newTestCoordinator(t)
	_, err := c.Fetch(context.Background(), &api.FetchRequest{FromOffset: 1})
	assert.Equal(t, codes.Unimplemented, status.Code(err))

	st, err := c.Status(context.Background(), &api.StatusRequest{})
	require.NoError(t, err)
	assert.Equal(t, "coordinator", st.Role)
}

func TestCoordinator_PropagatesRequestID(t *testing.T) {
	c, fc := newTestCoordinator(t)
	ctx := api.WithRequestID(context.Background(), "req-42")

	_, err := c.RegisterTable(ctx, &api.RegisterTableRequest{TableName: "Orders"})
	require.NoError(t, err)

	assert.Equal(t, []string{"req-42"}, fc.replicas["l0"].ids)
	assert.Equal(t, []string{"req-42"}, fc.replicas["l1"].ids)
}
