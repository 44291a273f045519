// Package ring implements a consistent hashing ring with virtual positions.
// It maps shard keys to shard ids. Positions are MD5 digests of "id:i", so
// any process holding the same membership computes the same placement
// without sharing runtime state.
package ring
