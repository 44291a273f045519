// Package replication implements read-only follower replicas.
//
// A Follower tails its leader's WAL by polling Fetch on a fixed interval
// and replaying the returned records, in order, into local state. Fetch
// and decode errors never stop the loop and are never shown to readers;
// the follower just serves staler data until the next successful cycle.
// Status exposes how far behind it is.
package replication
