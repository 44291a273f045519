// Package coordinator routes client requests to shard replica groups.
//
// Items are placed on shards with a consistent-hash ring keyed by
// "table:partition_key:sort_key". Writes go to the shard leader only.
// Reads rotate over the leader and its followers, so a read may observe a
// follower that has not yet replicated a recent write. Table registration
// is broadcast to every leader without rollback.
//
// The Coordinator implements api.TableStoreServer and is exposed both over
// gRPC (internal/node) and over HTTP (internal/gateway).
package coordinator
