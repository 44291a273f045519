package it

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"tablestore/internal/api"
	"tablestore/internal/config"
	"tablestore/internal/process"
)

// Cluster is an in-process test cluster: per shard one leader and its
// followers, plus a coordinator in front of them. Every process listens
// on its own loopback port.
type Cluster struct {
	dataDir      string
	pollInterval time.Duration
	logOut       io.Writer

	mu          sync.Mutex
	nodes       []*Node
	coordinator *Node
}

// Node is one process of the test cluster.
type Node struct {
	ID       string
	Addr     string
	HTTPAddr string

	cfg    *config.Config
	proc   *process.Process
	conn   *grpc.ClientConn
	client api.TableStoreClient
	health healthpb.HealthClient
}

// NewCluster creates a cluster harness. Leader WALs are kept under dataDir
// so a restarted leader replays them.
func NewCluster(dataDir string, pollInterval time.Duration, logOut io.Writer) *Cluster {
	if logOut == nil {
		logOut = io.Discard
	}
	return &Cluster{
		dataDir:      dataDir,
		pollInterval: pollInterval,
		logOut:       logOut,
	}
}

// StartCluster starts the given number of shards with followersPerShard
// followers each, then the coordinator.
func (c *Cluster) StartCluster(ctx context.Context, shards, followersPerShard int) error {
	var topo []string
	for s := 0; s < shards; s++ {
		l, err := c.StartLeader(ctx, s)
		if err != nil {
			c.Stop()
			return err
		}
		endpoints := []string{l.Addr}

		for f := 0; f < followersPerShard; f++ {
			fn, err := c.StartFollower(ctx, s)
			if err != nil {
				c.Stop()
				return err
			}
			endpoints = append(endpoints, fn.Addr)
		}
		topo = append(topo, fmt.Sprintf("%d=%s", s, strings.Join(endpoints, "|")))
	}

	if _, err := c.StartCoordinator(ctx, strings.Join(topo, ",")); err != nil {
		c.Stop()
		return err
	}
	return nil
}

// StartLeader starts the leader of a shard.
func (c *Cluster) StartLeader(ctx context.Context, shardID int) (*Node, error) {
	cfg := &config.Config{
		Role:          config.RoleLeader,
		ShardID:       shardID,
		Storage:       config.StorageDir,
		DataDir:       c.dataDir,
		RetryAttempts: 3,
		RetryDelay:    10 * time.Millisecond,
	}
	return c.startNode(ctx, fmt.Sprintf("leader%d", shardID), cfg, "")
}

// StartFollower starts a follower replicating from the shard's leader.
func (c *Cluster) StartFollower(ctx context.Context, shardID int) (*Node, error) {
	leader := c.Leader(shardID)
	if leader == nil {
		return nil, fmt.Errorf("shard %d has no leader", shardID)
	}
	cfg := &config.Config{
		Role:         config.RoleFollower,
		ShardID:      shardID,
		LeaderAddr:   leader.Addr,
		PollInterval: c.pollInterval,
	}
	id := fmt.Sprintf("follower%d%c", shardID, 'a'+len(c.Followers(shardID)))
	return c.startNode(ctx, id, cfg, "")
}

// StartCoordinator starts the coordinator over the given topology.
func (c *Cluster) StartCoordinator(ctx context.Context, shards string) (*Node, error) {
	topo, err := config.ParseTopology(shards)
	if err != nil {
		return nil, err
	}
	cfg := &config.Config{
		Role:         config.RoleCoordinator,
		Topology:     topo,
		RingReplicas: 3,
	}
	n, err := c.startNode(ctx, "coordinator", cfg, "")
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.coordinator = n
	c.mu.Unlock()
	return n, nil
}

// startNode listens on loopback ports (or on addr when restarting), starts
// the process and waits until it reports healthy.
func (c *Cluster) startNode(ctx context.Context, id string, cfg *config.Config, addr string) (*Node, error) {
	if addr == "" {
		addr = "127.0.0.1:0"
	}
	grpcLis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen for %s: %w", id, err)
	}
	httpLis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		grpcLis.Close()
		return nil, fmt.Errorf("failed to listen for %s: %w", id, err)
	}

	cfg.ListenAddr = grpcLis.Addr().String()
	cfg.HTTPAddr = httpLis.Addr().String()

	proc, err := process.Start(ctx, cfg, grpcLis, httpLis, process.WithLogOutput(c.logOut))
	if err != nil {
		grpcLis.Close()
		httpLis.Close()
		return nil, fmt.Errorf("failed to start %s: %w", id, err)
	}

	conn, err := grpc.NewClient(cfg.ListenAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		proc.Stop(ctx)
		return nil, fmt.Errorf("failed to dial %s: %w", id, err)
	}

	n := &Node{
		ID:       id,
		Addr:     cfg.ListenAddr,
		HTTPAddr: cfg.HTTPAddr,
		cfg:      cfg,
		proc:     proc,
		conn:     conn,
		client:   api.NewTableStoreClient(conn),
		health:   healthpb.NewHealthClient(conn),
	}

	if err := c.waitForReady(ctx, n, 10*time.Second); err != nil {
		n.Stop()
		return nil, fmt.Errorf("node %s failed to become ready: %w", id, err)
	}

	c.mu.Lock()
	c.nodes = append(c.nodes, n)
	c.mu.Unlock()
	return n, nil
}

// waitForReady polls the gRPC health service until the node is SERVING.
func (c *Cluster) waitForReady(ctx context.Context, n *Node, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if time.Now().After(deadline) {
				return fmt.Errorf("timeout waiting for node %s to be ready", n.ID)
			}

			healthCtx, cancel := context.WithTimeout(ctx, time.Second)
			resp, err := n.health.Check(healthCtx, &healthpb.HealthCheckRequest{Service: api.ServiceName})
			cancel()

			if err == nil && resp.Status == healthpb.HealthCheckResponse_SERVING {
				return nil
			}
		}
	}
}

// RestartNode stops a node and starts it again on the same gRPC address.
// A restarted leader replays its WAL; a restarted follower starts empty.
func (c *Cluster) RestartNode(ctx context.Context, id string) (*Node, error) {
	c.mu.Lock()
	idx := -1
	for i, n := range c.nodes {
		if n.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		c.mu.Unlock()
		return nil, fmt.Errorf("node %s not found", id)
	}
	old := c.nodes[idx]
	c.nodes = append(c.nodes[:idx], c.nodes[idx+1:]...)
	c.mu.Unlock()

	old.Stop()
	n, err := c.startNode(ctx, id, old.cfg, old.Addr)
	if err != nil {
		return nil, err
	}
	if old.cfg.Role == config.RoleCoordinator {
		c.mu.Lock()
		c.coordinator = n
		c.mu.Unlock()
	}
	return n, nil
}

// Stop stops every node in the cluster.
func (c *Cluster) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := len(c.nodes) - 1; i >= 0; i-- {
		c.nodes[i].Stop()
	}
	c.nodes = nil
	c.coordinator = nil
}

// Stop stops a single node.
func (n *Node) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if n.conn != nil {
		n.conn.Close()
	}
	if n.proc != nil {
		n.proc.Stop(ctx)
	}
}

// Client returns the TableStore client for the node.
func (n *Node) Client() api.TableStoreClient {
	return n.client
}

// URL returns the base URL of the node's HTTP gateway.
func (n *Node) URL() string {
	return "http://" + n.HTTPAddr
}

// GetNode returns a node by ID.
func (c *Cluster) GetNode(id string) *Node {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, n := range c.nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}

// Leader returns the leader of a shard.
func (c *Cluster) Leader(shardID int) *Node {
	return c.GetNode(fmt.Sprintf("leader%d", shardID))
}

// Followers returns the followers of a shard in start order.
func (c *Cluster) Followers(shardID int) []*Node {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []*Node
	for _, n := range c.nodes {
		if n.cfg.Role == config.RoleFollower && n.cfg.ShardID == shardID {
			out = append(out, n)
		}
	}
	return out
}

// Coordinator returns the coordinator node.
func (c *Cluster) Coordinator() *Node {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.coordinator
}
