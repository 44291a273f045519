package node

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"tablestore/internal/api"
)

// Node is one serving process: a leader, a follower or the coordinator.
// It owns the gRPC server exposing the TableStore service and the
// standard gRPC health service.
type Node struct {
	id         string
	service    api.TableStoreServer
	grpcServer *grpc.Server
	health     *health.Server
	logger     *log.Logger
}

// NewNode creates a node serving service once Serve is called.
// The node reports NOT_SERVING until SetServing(true) is called.
func NewNode(id string, service api.TableStoreServer, logger *log.Logger) *Node {
	if logger == nil {
		logger = log.New(os.Stderr, fmt.Sprintf("[%s] ", id), log.LstdFlags)
	}

	n := &Node{
		id:      id,
		service: service,
		health:  health.NewServer(),
		logger:  logger,
	}
	n.grpcServer = grpc.NewServer(grpc.ChainUnaryInterceptor(n.logCalls))
	api.RegisterTableStoreServer(n.grpcServer, service)
	healthpb.RegisterHealthServer(n.grpcServer, n.health)
	n.SetServing(false)
	return n
}

// Serve serves on lis until Stop.
func (n *Node) Serve(lis net.Listener) error {
	n.logger.Printf("Starting node on %s", lis.Addr())
	if err := n.grpcServer.Serve(lis); err != nil {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}

// SetServing flips the health status reported to clients.
func (n *Node) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	n.health.SetServingStatus("", st)
	n.health.SetServingStatus(api.ServiceName, st)
}

// Stop gracefully stops the node.
func (n *Node) Stop() {
	n.logger.Printf("Stopping node")
	n.health.Shutdown()
	n.grpcServer.GracefulStop()
}

// logCalls logs every TableStore call with its request id and outcome.
func (n *Node) logCalls(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	if info.FullMethod == "/"+api.ServiceName+"/Fetch" || info.FullMethod == "/"+api.ServiceName+"/Status" {
		// Polled continuously by followers and health checks.
		return handler(ctx, req)
	}

	start := time.Now()
	resp, err := handler(ctx, req)
	n.logger.Printf("%s request_id=%s code=%s took=%s",
		info.FullMethod, api.RequestID(ctx), status.Code(err), time.Since(start).Round(time.Microsecond))
	return resp, err
}
