package ring

import (
	"bytes"
	"crypto/md5"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/exp/slices"
)

// DefaultReplicas is the number of virtual positions per node.
const DefaultReplicas = 3

// ErrNodeNotFound is returned when removing a node whose positions are not on the ring.
var ErrNodeNotFound = errors.New("node not on ring")

// position is one virtual point on the 128-bit ring.
type position struct {
	hash   [md5.Size]byte
	nodeID string
}

// Ring implements consistent hashing with virtual positions.
type Ring struct {
	mu        sync.RWMutex
	replicas  int
	positions []position
	nodes     map[string]struct{}
}

// NewRing creates a new consistent hashing ring.
func NewRing(replicas int) *Ring {
	if replicas <= 0 {
		replicas = DefaultReplicas
	}
	return &Ring{
		replicas:  replicas,
		positions: make([]position, 0),
		nodes:     make(map[string]struct{}),
	}
}

// SetNodes rebuilds the ring with the given nodes.
// Same node set always produces the same ring, regardless of order.
func (r *Ring) SetNodes(ids []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nodes = make(map[string]struct{}, len(ids))
	r.positions = make([]position, 0, len(ids)*r.replicas)

	for _, id := range ids {
		if _, exists := r.nodes[id]; exists {
			continue
		}
		r.nodes[id] = struct{}{}
		for i := 0; i < r.replicas; i++ {
			r.positions = append(r.positions, position{hash: hashString(vnodeKey(id, i)), nodeID: id})
		}
	}

	slices.SortFunc(r.positions, comparePositions)
}

// AddNode adds a node to the ring. Adding a present node is a no-op.
func (r *Ring) AddNode(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.nodes[id]; exists {
		return
	}

	r.nodes[id] = struct{}{}
	for i := 0; i < r.replicas; i++ {
		p := position{hash: hashString(vnodeKey(id, i)), nodeID: id}
		idx, _ := slices.BinarySearchFunc(r.positions, p, comparePositions)
		r.positions = slices.Insert(r.positions, idx, p)
	}
}

// RemoveNode removes every virtual position of a node.
// All positions disappear under one lock, so lookups never see a partial removal.
func (r *Ring) RemoveNode(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.nodes[id]; !exists {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}

	kept := make([]position, 0, len(r.positions))
	removed := 0
	for _, p := range r.positions {
		if p.nodeID == id {
			removed++
			continue
		}
		kept = append(kept, p)
	}
	if removed != r.replicas {
		return fmt.Errorf("%w: %s has %d of %d positions", ErrNodeNotFound, id, removed, r.replicas)
	}

	delete(r.nodes, id)
	r.positions = kept
	return nil
}

// GetNode returns the node owning the key.
// Returns ("", false) if the ring is empty.
func (r *Ring) GetNode(key string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.positions) == 0 {
		return "", false
	}

	keyHash := hashString(key)

	// First position with hash >= keyHash
	idx, _ := slices.BinarySearchFunc(r.positions, keyHash, func(p position, h [md5.Size]byte) int {
		return bytes.Compare(p.hash[:], h[:])
	})

	// Wrap around if keyHash is greater than all positions
	if idx >= len(r.positions) {
		idx = 0
	}

	return r.positions[idx].nodeID, true
}

// Nodes returns the ring members in sorted order.
func (r *Ring) Nodes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.nodes))
	for id := range r.nodes {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Len returns the number of virtual positions on the ring.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.positions)
}

// Replicas returns the number of virtual positions per node.
func (r *Ring) Replicas() int {
	return r.replicas
}

func vnodeKey(id string, i int) string {
	return fmt.Sprintf("%s:%d", id, i)
}

// hashString computes the MD5 digest of s. Compared byte-wise, the digest
// orders exactly like the big-endian 128-bit integer it encodes.
func hashString(s string) [md5.Size]byte {
	return md5.Sum([]byte(s))
}

func comparePositions(a, b position) int {
	if c := bytes.Compare(a.hash[:], b.hash[:]); c != 0 {
		return c
	}
	switch {
	case a.nodeID < b.nodeID:
		return -1
	case a.nodeID > b.nodeID:
		return 1
	}
	return 0
}
