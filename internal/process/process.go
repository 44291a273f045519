package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"

	"tablestore/internal/api"
	"tablestore/internal/blob"
	"tablestore/internal/config"
	"tablestore/internal/coordinator"
	"tablestore/internal/gateway"
	"tablestore/internal/leader"
	"tablestore/internal/node"
	"tablestore/internal/replication"
	"tablestore/internal/wal"
)

// Process is one running leader, follower or coordinator.
type Process struct {
	cfg     *config.Config
	name    string
	logOut  io.Writer
	logger  *log.Logger
	node    *node.Node
	httpSrv *http.Server
	clients *node.ClientManager
	closers []func() error
	ready   atomic.Bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Process.
type Option func(*Process)

// WithLogOutput sends the process log to w instead of stderr.
func WithLogOutput(w io.Writer) Option {
	return func(p *Process) { p.logOut = w }
}

// WithDialOptions adds dial options to every outgoing connection.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(p *Process) { p.clients = node.NewClientManager(opts...) }
}

// Name returns the log prefix of the process, such as "shard-0 leader".
func (p *Process) Name() string {
	return p.name
}

// Start builds the process for cfg and serves gRPC on grpcLis and, when
// httpLis is not nil, HTTP on httpLis. A leader returns only after its WAL
// has been replayed; an error means the shard must not serve.
func Start(ctx context.Context, cfg *config.Config, grpcLis, httpLis net.Listener, opts ...Option) (*Process, error) {
	p := &Process{cfg: cfg, logOut: os.Stderr}
	for _, opt := range opts {
		opt(p)
	}
	if p.clients == nil {
		p.clients = node.NewClientManager()
	}

	runCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	service, err := p.build(ctx, runCtx)
	if err != nil {
		cancel()
		p.clients.Close()
		p.runClosers()
		return nil, err
	}

	p.node = node.NewNode(p.name, service, p.logger)
	p.serve(func() error { return p.node.Serve(grpcLis) })

	if httpLis != nil {
		gw := gateway.New(service, gateway.WithReadiness(p.ready.Load), gateway.WithLogger(p.logger))
		p.httpSrv = &http.Server{
			Handler:           gw.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		p.serve(func() error {
			p.logger.Printf("HTTP listening on %s", httpLis.Addr())
			if err := p.httpSrv.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	p.node.SetServing(true)
	p.ready.Store(true)
	return p, nil
}

func (p *Process) serve(fn func() error) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := fn(); err != nil {
			p.logger.Printf("serve: %v", err)
		}
	}()
}

func (p *Process) build(ctx, runCtx context.Context) (api.TableStoreServer, error) {
	cfg := p.cfg
	switch cfg.Role {
	case config.RoleLeader:
		p.name = fmt.Sprintf("shard-%d leader", cfg.ShardID)
		p.logger = p.newLogger()

		walLog, err := p.openLog(ctx)
		if err != nil {
			return nil, err
		}
		l, err := leader.Open(ctx, cfg.ShardID, walLog, p.logger)
		if err != nil {
			return nil, err
		}
		return node.NewLeaderServer(l), nil

	case config.RoleFollower:
		p.name = fmt.Sprintf("shard-%d follower", cfg.ShardID)
		p.logger = p.newLogger()

		source := node.NewLeaderSource(cfg.LeaderAddr, p.clients, 0)
		f := replication.NewFollower(source, cfg.PollInterval, p.logger)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			f.Run(runCtx)
		}()
		return node.NewFollowerServer(f, cfg.ShardID), nil

	case config.RoleCoordinator:
		p.name = "coordinator"
		p.logger = p.newLogger()
		return coordinator.New(cfg.Topology, cfg.RingReplicas, p.clients.GetClient, p.logger)
	}
	return nil, fmt.Errorf("unknown role %q", cfg.Role)
}

// openLog returns the shard WAL for the configured storage.
func (p *Process) openLog(ctx context.Context) (wal.Log, error) {
	cfg := p.cfg
	policy := cfg.RetryPolicy()
	policy.Logger = p.logger
	key := wal.ObjectKey(cfg.ShardID)

	switch cfg.Storage {
	case config.StorageMemory:
		p.logger.Printf("WARNING: memory storage, the WAL is lost when the process exits")
		return wal.NewBlobLog(blob.NewMemoryBackend(), key, policy), nil
	case config.StorageDir:
		return wal.NewBlobLog(blob.NewDirBackend(cfg.DataDir), key, policy), nil
	case config.StorageS3:
		backend, err := blob.NewMinioBackend(blob.MinioOptions{
			Endpoint:  cfg.S3Endpoint,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Secure:    cfg.S3Secure,
		})
		if err != nil {
			return nil, err
		}
		return wal.NewBlobLog(backend, key, policy), nil
	case config.StorageSegment:
		seg := wal.NewSegmentLog(filepath.Join(cfg.DataDir, key))
		p.closers = append(p.closers, seg.Close)
		return seg, nil
	}
	return nil, fmt.Errorf("unknown storage %q", cfg.Storage)
}

// Stop shuts the process down and waits for its goroutines.
func (p *Process) Stop(ctx context.Context) {
	p.ready.Store(false)
	p.node.SetServing(false)
	if p.httpSrv != nil {
		_ = p.httpSrv.Shutdown(ctx)
	}
	p.cancel()
	p.node.Stop()
	p.wg.Wait()
	p.clients.Close()
	p.runClosers()
}

func (p *Process) runClosers() {
	for _, closeFn := range p.closers {
		if err := closeFn(); err != nil && p.logger != nil {
			p.logger.Printf("close: %v", err)
		}
	}
	p.closers = nil
}

func (p *Process) newLogger() *log.Logger {
	return log.New(p.logOut, "["+p.name+"] ", log.LstdFlags)
}
