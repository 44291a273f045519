package node

import (
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"tablestore/internal/api"
	"tablestore/internal/blob"
	"tablestore/internal/leader"
	"tablestore/internal/storage"
)

// Error messages returned to clients.
const (
	msgTableNotFound = "Table not found"
	msgNotFound      = "Not found"
	msgItemExists    = "Item already exists"
)

// toStatus maps engine errors to gRPC status errors.
func toStatus(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrTableNotFound):
		return status.Error(codes.NotFound, msgTableNotFound)
	case errors.Is(err, storage.ErrItemNotFound):
		return status.Error(codes.NotFound, msgNotFound)
	case errors.Is(err, storage.ErrItemExists):
		return status.Error(codes.AlreadyExists, msgItemExists)
	case errors.Is(err, blob.ErrUnavailable), errors.Is(err, blob.ErrNotReady), errors.Is(err, leader.ErrWALUnknown):
		return status.Error(codes.Unavailable, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

// itemStatus maps errors of item lookups, where a missing table and a
// missing key look the same to the caller.
func itemStatus(err error) error {
	if errors.Is(err, storage.ErrTableNotFound) || errors.Is(err, storage.ErrItemNotFound) {
		return status.Error(codes.NotFound, msgNotFound)
	}
	return toStatus(err)
}

// itemKey validates an item request and returns its compound key.
func itemKey(req *api.ItemRequest) (storage.CompoundKey, error) {
	if err := api.ValidateItem(req); err != nil {
		return storage.CompoundKey{}, err
	}
	return storage.CompoundKey{PartitionKey: req.PartitionKey, SortKey: req.SortKey}, nil
}
