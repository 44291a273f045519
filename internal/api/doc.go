// Package api defines the request/response contract shared by the
// coordinator, leaders and followers, and the gRPC service that carries it.
//
// Messages are plain Go structs encoded as JSON through a gRPC codec
// registered under the "json" content subtype, so the same types serve the
// gRPC transport and the HTTP gateway. Errors travel as gRPC status codes:
// InvalidArgument for missing fields, NotFound, AlreadyExists for conflicts,
// Unimplemented for calls a role does not serve, Unavailable for transport
// and storage failures.
package api
