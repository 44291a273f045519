package coordinator

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"sync"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"tablestore/internal/api"
	"tablestore/internal/config"
	"tablestore/internal/ring"
)

// ClientProvider returns a client for a replica address.
// node.ClientManager.GetClient satisfies it.
type ClientProvider func(addr string) (api.TableStoreClient, error)

// Coordinator routes requests to shards. Its topology and ring are fixed
// at construction.
type Coordinator struct {
	api.UnimplementedTableStoreServer

	topology config.Topology
	ring     *ring.Ring
	clients  ClientProvider
	balancer *Balancer
	logger   *log.Logger
}

// New creates a coordinator over the given topology.
func New(topology config.Topology, replicas int, clients ClientProvider, logger *log.Logger) (*Coordinator, error) {
	if len(topology.Shards) == 0 {
		return nil, fmt.Errorf("coordinator needs at least one shard")
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[coordinator] ", log.LstdFlags)
	}

	r := ring.NewRing(replicas)
	r.SetNodes(topology.RingIDs())

	return &Coordinator{
		topology: topology,
		ring:     r,
		clients:  clients,
		balancer: NewBalancer(),
		logger:   logger,
	}, nil
}

// ShardFor returns the shard owning the item key.
func (c *Coordinator) ShardFor(table, partitionKey, sortKey string) (config.Shard, error) {
	id, ok := c.ring.GetNode(api.ShardKey(table, partitionKey, sortKey))
	if !ok {
		return config.Shard{}, status.Error(codes.Unavailable, "no shards configured")
	}
	shardID, err := strconv.Atoi(id)
	if err != nil {
		return config.Shard{}, status.Errorf(codes.Internal, "bad shard id on ring: %q", id)
	}
	shard, ok := c.topology.Shard(shardID)
	if !ok {
		return config.Shard{}, status.Errorf(codes.Internal, "shard %d missing from topology", shardID)
	}
	return shard, nil
}

func (c *Coordinator) client(addr string) (api.TableStoreClient, error) {
	client, err := c.clients(addr)
	if err != nil {
		return nil, status.Errorf(codes.Unavailable, "connect %s: %v", addr, err)
	}
	return client, nil
}

// leaderFor returns a client for the leader of the shard owning the key.
func (c *Coordinator) leaderFor(table, partitionKey, sortKey string) (api.TableStoreClient, error) {
	shard, err := c.ShardFor(table, partitionKey, sortKey)
	if err != nil {
		return nil, err
	}
	return c.client(shard.Leader)
}

// replicaFor returns a client for the next replica, in rotation, of the
// shard owning the key.
func (c *Coordinator) replicaFor(table, partitionKey, sortKey string) (api.TableStoreClient, error) {
	shard, err := c.ShardFor(table, partitionKey, sortKey)
	if err != nil {
		return nil, err
	}
	return c.client(c.balancer.Next(shard.ID, shard.Endpoints()))
}

// RegisterTable registers the table on every shard leader in parallel.
// Failures are logged and counted; shards that succeeded keep the table.
func (c *Coordinator) RegisterTable(ctx context.Context, req *api.RegisterTableRequest) (*api.RegisterTableResponse, error) {
	if err := api.ValidateRegister(req); err != nil {
		return nil, err
	}
	ctx = api.Outgoing(ctx)

	var (
		mu     sync.Mutex
		failed []int
		wg     sync.WaitGroup
	)

	for _, shard := range c.topology.Shards {
		wg.Add(1)
		go func(shard config.Shard) {
			defer wg.Done()

			err := c.registerOn(ctx, shard, req)
			if err == nil {
				return
			}
			c.logger.Printf("register table %s on shard %d (%s) failed: %v", req.TableName, shard.ID, shard.Leader, err)

			mu.Lock()
			failed = append(failed, shard.ID)
			mu.Unlock()
		}(shard)
	}
	wg.Wait()

	total := len(c.topology.Shards)
	if len(failed) == 0 {
		return &api.RegisterTableResponse{
			Status: fmt.Sprintf("Table %s registered on all shards", req.TableName),
		}, nil
	}
	return &api.RegisterTableResponse{
		Status: fmt.Sprintf("Table %s registered on %d of %d shards", req.TableName, total-len(failed), total),
	}, nil
}

func (c *Coordinator) registerOn(ctx context.Context, shard config.Shard, req *api.RegisterTableRequest) error {
	client, err := c.client(shard.Leader)
	if err != nil {
		return err
	}
	_, err = client.RegisterTable(ctx, req)
	return err
}

// Create forwards to the owning shard's leader.
func (c *Coordinator) Create(ctx context.Context, req *api.CreateRequest) (*api.CreateResponse, error) {
	if err := api.ValidateCreate(req); err != nil {
		return nil, err
	}
	client, err := c.leaderFor(req.TableName, req.PartitionKey, req.SortKey)
	if err != nil {
		return nil, err
	}
	return client.Create(api.Outgoing(ctx), req)
}

// Delete forwards to the owning shard's leader.
func (c *Coordinator) Delete(ctx context.Context, req *api.ItemRequest) (*api.DeleteResponse, error) {
	if err := api.ValidateItem(req); err != nil {
		return nil, err
	}
	client, err := c.leaderFor(req.TableName, req.PartitionKey, req.SortKey)
	if err != nil {
		return nil, err
	}
	return client.Delete(api.Outgoing(ctx), req)
}

// Read forwards to the next replica of the owning shard.
func (c *Coordinator) Read(ctx context.Context, req *api.ItemRequest) (*api.ReadResponse, error) {
	if err := api.ValidateItem(req); err != nil {
		return nil, err
	}
	client, err := c.replicaFor(req.TableName, req.PartitionKey, req.SortKey)
	if err != nil {
		return nil, err
	}
	return client.Read(api.Outgoing(ctx), req)
}

// Exists forwards to the next replica of the owning shard.
func (c *Coordinator) Exists(ctx context.Context, req *api.ItemRequest) (*api.ExistsResponse, error) {
	if err := api.ValidateItem(req); err != nil {
		return nil, err
	}
	client, err := c.replicaFor(req.TableName, req.PartitionKey, req.SortKey)
	if err != nil {
		return nil, err
	}
	return client.Exists(api.Outgoing(ctx), req)
}

// Status reports the coordinator role.
func (c *Coordinator) Status(ctx context.Context, req *api.StatusRequest) (*api.StatusResponse, error) {
	return &api.StatusResponse{Role: "coordinator", ShardID: -1}, nil
}
