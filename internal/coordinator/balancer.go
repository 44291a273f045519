package coordinator

import (
	"sync"
	"sync/atomic"
)

// Balancer hands out replica endpoints round-robin, one cursor per shard.
// Cursors are created on first use and never reset.
type Balancer struct {
	mu      sync.Mutex
	cursors map[int]*atomic.Uint64
}

// NewBalancer creates an empty balancer.
func NewBalancer() *Balancer {
	return &Balancer{cursors: make(map[int]*atomic.Uint64)}
}

// Next returns the next endpoint for the shard. Returns "" when endpoints
// is empty.
func (b *Balancer) Next(shardID int, endpoints []string) string {
	if len(endpoints) == 0 {
		return ""
	}
	n := b.cursor(shardID).Add(1) - 1
	return endpoints[n%uint64(len(endpoints))]
}

func (b *Balancer) cursor(shardID int) *atomic.Uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.cursors[shardID]
	if !ok {
		c = new(atomic.Uint64)
		b.cursors[shardID] = c
	}
	return c
}
