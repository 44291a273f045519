package node

import (
	"context"
	"fmt"
	"time"

	"tablestore/internal/api"
	"tablestore/internal/leader"
	"tablestore/internal/replication"
	"tablestore/internal/storage"
)

// LeaderServer serves the full TableStore contract for one shard leader.
type LeaderServer struct {
	api.UnimplementedTableStoreServer
	leader *leader.Leader
}

// NewLeaderServer creates a server backed by l.
func NewLeaderServer(l *leader.Leader) *LeaderServer {
	return &LeaderServer{leader: l}
}

// RegisterTable handles table registration.
func (s *LeaderServer) RegisterTable(ctx context.Context, req *api.RegisterTableRequest) (*api.RegisterTableResponse, error) {
	if err := api.ValidateRegister(req); err != nil {
		return nil, err
	}
	offset, err := s.leader.RegisterTable(ctx, req.TableName)
	if err != nil {
		return nil, toStatus(err)
	}
	return &api.RegisterTableResponse{
		Status: fmt.Sprintf("table %s registered", req.TableName),
		Offset: offset,
	}, nil
}

// Create handles item creation.
func (s *LeaderServer) Create(ctx context.Context, req *api.CreateRequest) (*api.CreateResponse, error) {
	if err := api.ValidateCreate(req); err != nil {
		return nil, err
	}
	key := storage.CompoundKey{PartitionKey: req.PartitionKey, SortKey: req.SortKey}
	offset, err := s.leader.Create(ctx, req.TableName, key, req.Value)
	if err != nil {
		return nil, toStatus(err)
	}
	return &api.CreateResponse{Status: "created", Offset: offset}, nil
}

// Read handles item reads.
func (s *LeaderServer) Read(ctx context.Context, req *api.ItemRequest) (*api.ReadResponse, error) {
	key, err := itemKey(req)
	if err != nil {
		return nil, err
	}
	value, err := s.leader.Read(req.TableName, key)
	if err != nil {
		return nil, itemStatus(err)
	}
	return &api.ReadResponse{Value: value}, nil
}

// Exists handles existence checks.
func (s *LeaderServer) Exists(ctx context.Context, req *api.ItemRequest) (*api.ExistsResponse, error) {
	key, err := itemKey(req)
	if err != nil {
		return nil, err
	}
	return &api.ExistsResponse{Exists: s.leader.Exists(req.TableName, key)}, nil
}

// Delete handles item deletion.
func (s *LeaderServer) Delete(ctx context.Context, req *api.ItemRequest) (*api.DeleteResponse, error) {
	key, err := itemKey(req)
	if err != nil {
		return nil, err
	}
	offset, err := s.leader.Delete(ctx, req.TableName, key)
	if err != nil {
		return nil, itemStatus(err)
	}
	return &api.DeleteResponse{Status: "deleted", Offset: offset}, nil
}

// Fetch returns WAL records for followers.
func (s *LeaderServer) Fetch(ctx context.Context, req *api.FetchRequest) (*api.FetchResponse, error) {
	from := req.FromOffset
	if from == 0 {
		from = 1
	}
	batch, err := s.leader.Fetch(ctx, from)
	if err != nil {
		return nil, toStatus(err)
	}
	return &api.FetchResponse{Records: batch.Records, Head: batch.Head}, nil
}

// Status reports the leader's offset.
func (s *LeaderServer) Status(ctx context.Context, req *api.StatusRequest) (*api.StatusResponse, error) {
	offset := s.leader.Offset()
	return &api.StatusResponse{
		Role:       "leader",
		ShardID:    s.leader.ShardID(),
		LastOffset: offset,
		HeadOffset: offset,
	}, nil
}

// FollowerServer serves reads from a follower replica. Writes and fetch
// are answered with Unimplemented.
type FollowerServer struct {
	api.UnimplementedTableStoreServer
	follower *replication.Follower
	shardID  int
}

// NewFollowerServer creates a server backed by f.
func NewFollowerServer(f *replication.Follower, shardID int) *FollowerServer {
	return &FollowerServer{follower: f, shardID: shardID}
}

// Read handles item reads from local state.
func (s *FollowerServer) Read(ctx context.Context, req *api.ItemRequest) (*api.ReadResponse, error) {
	key, err := itemKey(req)
	if err != nil {
		return nil, err
	}
	value, err := s.follower.Read(req.TableName, key)
	if err != nil {
		return nil, itemStatus(err)
	}
	return &api.ReadResponse{Value: value}, nil
}

// Exists handles existence checks from local state.
func (s *FollowerServer) Exists(ctx context.Context, req *api.ItemRequest) (*api.ExistsResponse, error) {
	key, err := itemKey(req)
	if err != nil {
		return nil, err
	}
	return &api.ExistsResponse{Exists: s.follower.Exists(req.TableName, key)}, nil
}

// Status reports replication lag.
func (s *FollowerServer) Status(ctx context.Context, req *api.StatusRequest) (*api.StatusResponse, error) {
	st := s.follower.Status()
	resp := &api.StatusResponse{
		Role:       "follower",
		ShardID:    s.shardID,
		LastOffset: st.LastOffset,
		HeadOffset: st.HeadOffset,
		OffsetGap:  st.Gap(),
		LastError:  st.LastError,
	}
	if !st.LastSync.IsZero() {
		resp.LastSyncUnixMs = st.LastSync.UnixMilli()
		resp.LagMs = time.Since(st.LastSync).Milliseconds()
	}
	return resp, nil
}
