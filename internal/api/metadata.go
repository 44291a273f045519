package api

import (
	"context"

	"github.com/google/uuid"
	"google.golang.org/grpc/metadata"
)

// RequestIDKey is the metadata key carrying the request id.
const RequestIDKey = "x-request-id"

type requestIDCtxKey struct{}

// WithRequestID returns ctx carrying id, or a new id when id is empty.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		id = uuid.NewString()
	}
	return context.WithValue(ctx, requestIDCtxKey{}, id)
}

// RequestID returns the id of the request ctx belongs to, looking at the
// context value first and incoming gRPC metadata second.
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDCtxKey{}).(string); ok {
		return id
	}
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if ids := md.Get(RequestIDKey); len(ids) > 0 {
			return ids[0]
		}
	}
	return ""
}

// Outgoing returns ctx with the request id attached to outgoing metadata,
// minting one if the request has none yet.
func Outgoing(ctx context.Context) context.Context {
	id := RequestID(ctx)
	if id == "" {
		id = uuid.NewString()
	}
	return metadata.AppendToOutgoingContext(ctx, RequestIDKey, id)
}
