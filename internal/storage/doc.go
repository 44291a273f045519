// Package storage holds a shard's local state: tables mapping compound
// keys to values. The state is rebuilt by replaying WAL records and is
// shared between request handlers and the replication loop, so every
// method is safe for concurrent use.
package storage
