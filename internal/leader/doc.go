// Package leader implements the single write authority of a shard.
//
// A Leader rebuilds its state by replaying the shard WAL at startup, then
// serves writes by assigning the next offset, appending the record to the
// WAL and applying it locally, all under one lock. Followers replicate by
// pulling records with Fetch.
package leader
