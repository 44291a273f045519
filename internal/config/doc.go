// Package config loads process settings and the static shard topology.
package config
