package api

import (
	"google.golang.org/protobuf/types/known/structpb"

	"tablestore/internal/wal"
)

// RegisterTableRequest registers a table on every shard.
type RegisterTableRequest struct {
	TableName string `json:"table_name"`
}

// RegisterTableResponse reports the registration. Offset is set by leaders.
type RegisterTableResponse struct {
	Status string `json:"status"`
	Offset uint64 `json:"offset,omitempty"`
}

// CreateRequest inserts a new item.
type CreateRequest struct {
	TableName    string          `json:"table_name"`
	PartitionKey string          `json:"partition_key"`
	SortKey      string          `json:"sort_key"`
	Value        *structpb.Value `json:"value"`
}

// CreateResponse carries the offset assigned to the create.
type CreateResponse struct {
	Status string `json:"status"`
	Offset uint64 `json:"offset"`
}

// ItemRequest addresses one item, for read, exists and delete.
type ItemRequest struct {
	TableName    string `json:"table_name"`
	PartitionKey string `json:"partition_key"`
	SortKey      string `json:"sort_key"`
}

// ReadResponse carries the item value.
type ReadResponse struct {
	Value *structpb.Value `json:"value"`
}

// ExistsResponse reports whether the item is present.
type ExistsResponse struct {
	Exists bool `json:"exists"`
}

// DeleteResponse carries the offset assigned to the delete.
type DeleteResponse struct {
	Status string `json:"status"`
	Offset uint64 `json:"offset"`
}

// FetchRequest asks a leader for WAL records with offset >= FromOffset.
type FetchRequest struct {
	FromOffset uint64 `json:"from_offset"`
}

// FetchResponse carries WAL records in offset order and the leader head.
type FetchResponse struct {
	Records []wal.Record `json:"records"`
	Head    uint64       `json:"head"`
}

// StatusRequest asks a process for its replication status.
type StatusRequest struct{}

// StatusResponse describes a leader's or follower's position in the WAL.
type StatusResponse struct {
	Role           string `json:"role"`
	ShardID        int    `json:"shard_id"`
	LastOffset     uint64 `json:"last_offset"`
	HeadOffset     uint64 `json:"head_offset"`
	OffsetGap      uint64 `json:"offset_gap"`
	LastSyncUnixMs int64  `json:"last_sync_unix_ms,omitempty"`
	LagMs          int64  `json:"lag_ms,omitempty"`
	LastError      string `json:"last_error,omitempty"`
}
