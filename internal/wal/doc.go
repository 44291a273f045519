// Package wal defines the shard write-ahead log: the record format and the
// logs that persist it.
//
// Records are newline-delimited JSON, ordered by offset. A shard's log has
// exactly one writer, its leader. BlobLog keeps the whole log in a single
// object and rewrites it on every append; SegmentLog appends to a local
// file and syncs each record. Both serve Fetch, the only replication
// primitive followers use.
package wal
