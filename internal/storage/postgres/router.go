package postgres

import "sync/atomic"

// router decides which physical store serves a unit of work. The decision is
// made exactly once, at unit-of-work start, and the chosen connection is then
// pinned for the transaction's lifetime by the Cluster.
type router struct {
	replicas int
	next     atomic.Uint64
}

// primaryIndex is the pick result meaning "route to the primary".
const primaryIndex = -1

// pick returns the replica index to use, or primaryIndex.
//
// A unit of work goes to the primary when primary reads are forced for the
// call, when it is not read-only, or when no replicas are configured.
// Otherwise it is assigned a replica round-robin via a shared counter,
// accepting that replicas may serve slightly stale data.
func (r *router) pick(forcePrimary, readOnly bool) int {
	if forcePrimary || !readOnly || r.replicas == 0 {
		return primaryIndex
	}
	n := r.next.Add(1) - 1
	return int(n % uint64(r.replicas))
}
