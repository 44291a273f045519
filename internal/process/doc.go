// Package process assembles one tablestore process from its configuration.
//
// A leader opens its shard WAL, replays it and only then reports healthy.
// A follower starts empty and tails its leader in the background. A
// coordinator routes to the configured shards. Every role serves the
// TableStore gRPC service and, when an HTTP listener is given, the JSON
// gateway.
package process
