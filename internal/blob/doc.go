// Package blob is the durable object storage the shard WALs live in.
//
// A Backend stores whole objects by key. Errors are classified into
// ErrNotFound (object or bucket absent) and ErrNotReady (backend not
// reachable yet); Retry applies the bounded retry policy every WAL call
// goes through. MemoryBackend serves tests, DirBackend a single host, and
// MinioBackend any S3-compatible object store.
package blob
