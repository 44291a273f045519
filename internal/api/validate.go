package api

import (
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"tablestore/internal/wal"
)

// ShardKey returns the key the ring places an item by: "table:pkey:skey".
func ShardKey(table, partitionKey, sortKey string) string {
	return table + ":" + partitionKey + ":" + sortKey
}

func missing(fields ...string) error {
	return status.Errorf(codes.InvalidArgument, "Missing %s", strings.Join(fields, ", "))
}

// ValidateRegister checks a register request has a table name.
func ValidateRegister(req *RegisterTableRequest) error {
	if req == nil || req.TableName == "" {
		return missing("table_name")
	}
	return nil
}

// ValidateCreate checks a create request carries every field.
func ValidateCreate(req *CreateRequest) error {
	if req == nil {
		return missing("table_name", "partition_key", "sort_key", "value")
	}
	var fields []string
	if req.TableName == "" {
		fields = append(fields, "table_name")
	}
	if req.PartitionKey == "" {
		fields = append(fields, "partition_key")
	}
	if req.SortKey == "" {
		fields = append(fields, "sort_key")
	}
	if wal.IsNull(req.Value) {
		fields = append(fields, "value")
	}
	if len(fields) > 0 {
		return missing(fields...)
	}
	return nil
}

// ValidateItem checks an item request addresses exactly one item.
func ValidateItem(req *ItemRequest) error {
	if req == nil {
		return missing("table_name", "partition_key", "sort_key")
	}
	var fields []string
	if req.TableName == "" {
		fields = append(fields, "table_name")
	}
	if req.PartitionKey == "" {
		fields = append(fields, "partition_key")
	}
	if req.SortKey == "" {
		fields = append(fields, "sort_key")
	}
	if len(fields) > 0 {
		return missing(fields...)
	}
	return nil
}
