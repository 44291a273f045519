package it

import (
	"tablestore/internal/coordinator"
)

// newRouter builds a coordinator over the cluster's topology. Placement is
// a pure function of the topology, so it agrees with the running one.
func newRouter(cluster *Cluster) (*coordinator.Coordinator, error) {
	coord := cluster.Coordinator()
	return coordinator.New(coord.cfg.Topology, coord.cfg.RingReplicas, nil, nil)
}
