// Command tablestore runs one process of a sharded, replicated table store:
// a shard leader, a follower replica or the request coordinator.
//
//	tablestore --role leader --shard-id 0 --listen :5001 --http :8001
//	tablestore --role follower --shard-id 0 --leader leader0:5001 --listen :5000
//	tablestore --role coordinator --shards "0=leader0:5001|follower0:5000" --http :8000
//
// Every flag can also be set through the environment; see internal/config.
package main

import (
	"context"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tablestore/internal/config"
	"tablestore/internal/process"
)

func main() {
	cfg, err := config.Load(os.Args[1:], os.Getenv)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	grpcLis, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		log.Fatalf("listen %s: %v", cfg.ListenAddr, err)
	}

	var httpLis net.Listener
	if cfg.HTTPAddr != "" {
		httpLis, err = net.Listen("tcp", cfg.HTTPAddr)
		if err != nil {
			log.Fatalf("listen %s: %v", cfg.HTTPAddr, err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := process.Start(ctx, cfg, grpcLis, httpLis)
	if err != nil {
		log.Fatalf("start %s: %v", cfg.Role, err)
	}
	log.Printf("%s serving gRPC on %s", p.Name(), grpcLis.Addr())

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p.Stop(shutdownCtx)
	log.Printf("%s stopped", p.Name())
}
