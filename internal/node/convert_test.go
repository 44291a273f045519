package node

import (
	"errors"
	"fmt"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"tablestore/internal/blob"
	"tablestore/internal/leader"
	"tablestore/internal/storage"
)

func insecureCreds() credentials.TransportCredentials {
	return insecure.NewCredentials()
}

func TestToStatus(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode codes.Code
		wantMsg  string
	}{
		{name: "table", err: fmt.Errorf("%w: T", storage.ErrTableNotFound), wantCode: codes.NotFound, wantMsg: "Table not found"},
		{name: "item", err: storage.ErrItemNotFound, wantCode: codes.NotFound, wantMsg: "Not found"},
		{name: "exists", err: storage.ErrItemExists, wantCode: codes.AlreadyExists, wantMsg: "Item already exists"},
		{name: "backend", err: fmt.Errorf("shard 0: %w", blob.ErrUnavailable), wantCode: codes.Unavailable},
		{name: "wal unknown", err: fmt.Errorf("shard 0: %w: reset", leader.ErrWALUnknown), wantCode: codes.Unavailable},
		{name: "other", err: errors.New("boom"), wantCode: codes.Internal, wantMsg: "boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, ok := status.FromError(toStatus(tt.err))
			if !ok {
				t.Fatal("Expected a status error")
			}
			if st.Code() != tt.wantCode {
				t.Errorf("code = %s, want %s", st.Code(), tt.wantCode)
			}
			if tt.wantMsg != "" && st.Message() != tt.wantMsg {
				t.Errorf("message = %q, want %q", st.Message(), tt.wantMsg)
			}
		})
	}

	if toStatus(nil) != nil {
		t.Error("Expected nil for nil error")
	}
}

func TestItemStatus(t *testing.T) {
	st, _ := status.FromError(itemStatus(storage.ErrTableNotFound))
	if st.Code() != codes.NotFound || st.Message() != "Not found" {
		t.Errorf("itemStatus(table missing) = %s %q", st.Code(), st.Message())
	}
}
