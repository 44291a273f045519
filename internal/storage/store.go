package storage

import (
	"errors"
	"fmt"
	"sync"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"tablestore/internal/wal"
)

var (
	// ErrTableNotFound is returned when the table is not registered.
	ErrTableNotFound = errors.New("table not found")
	// ErrItemNotFound is returned when the compound key is absent.
	ErrItemNotFound = errors.New("item not found")
	// ErrItemExists is returned when inserting a compound key that is present.
	ErrItemExists = errors.New("item already exists")
)

// CompoundKey identifies an item within a table.
type CompoundKey struct {
	PartitionKey string
	SortKey      string
}

// String returns "pkey:skey".
func (k CompoundKey) String() string {
	return k.PartitionKey + ":" + k.SortKey
}

// Snapshot is a point-in-time copy of every table.
type Snapshot map[string]map[CompoundKey]*structpb.Value

// State is the in-memory table store of one shard process.
type State struct {
	mu     sync.RWMutex
	tables map[string]map[CompoundKey]*structpb.Value
}

// NewState creates an empty state.
func NewState() *State {
	return &State{
		tables: make(map[string]map[CompoundKey]*structpb.Value),
	}
}

// CreateTable registers a table. Returns false if it already existed.
func (s *State) CreateTable(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createTableLocked(name)
}

func (s *State) createTableLocked(name string) bool {
	if _, exists := s.tables[name]; exists {
		return false
	}
	s.tables[name] = make(map[CompoundKey]*structpb.Value)
	return true
}

// HasTable reports whether the table is registered.
func (s *State) HasTable(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.tables[name]
	return exists
}

// CheckInsert reports whether a create of key would succeed, without changing anything.
func (s *State) CheckInsert(table string, key CompoundKey) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items, exists := s.tables[table]
	if !exists {
		return fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	if _, exists := items[key]; exists {
		return fmt.Errorf("%w: %s/%s", ErrItemExists, table, key)
	}
	return nil
}

// CheckRemove reports whether a delete of key would succeed, without changing anything.
func (s *State) CheckRemove(table string, key CompoundKey) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items, exists := s.tables[table]
	if !exists {
		return fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	if _, exists := items[key]; !exists {
		return fmt.Errorf("%w: %s/%s", ErrItemNotFound, table, key)
	}
	return nil
}

// Get returns a copy of the item value.
func (s *State) Get(table string, key CompoundKey) (*structpb.Value, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items, exists := s.tables[table]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	value, exists := items[key]
	if !exists {
		return nil, fmt.Errorf("%w: %s/%s", ErrItemNotFound, table, key)
	}
	return cloneValue(value), nil
}

// Exists reports whether the item is present.
func (s *State) Exists(table string, key CompoundKey) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, exists := s.tables[table][key]
	return exists
}

// Apply replays one WAL record. Re-applying a record whose effect is
// already present is a no-op, so replay can safely overlap.
func (s *State) Apply(rec wal.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := CompoundKey{PartitionKey: rec.PartitionKey, SortKey: rec.SortKey}
	switch rec.Op {
	case wal.OpCreateTable:
		s.createTableLocked(rec.Table)
	case wal.OpCreate:
		s.createTableLocked(rec.Table)
		s.tables[rec.Table][key] = cloneValue(rec.Value)
	case wal.OpDelete:
		if items, exists := s.tables[rec.Table]; exists {
			delete(items, key)
		}
	}
	return nil
}

// Snapshot returns a deep copy of every table.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := make(Snapshot, len(s.tables))
	for name, items := range s.tables {
		copied := make(map[CompoundKey]*structpb.Value, len(items))
		for k, v := range items {
			copied[k] = cloneValue(v)
		}
		snap[name] = copied
	}
	return snap
}

// Equal reports whether two snapshots hold the same tables and items.
func Equal(a, b Snapshot) bool {
	if len(a) != len(b) {
		return false
	}
	for name, itemsA := range a {
		itemsB, exists := b[name]
		if !exists || len(itemsA) != len(itemsB) {
			return false
		}
		for k, va := range itemsA {
			vb, exists := itemsB[k]
			if !exists || !proto.Equal(va, vb) {
				return false
			}
		}
	}
	return true
}

func cloneValue(v *structpb.Value) *structpb.Value {
	if v == nil {
		return nil
	}
	return proto.Clone(v).(*structpb.Value)
}
