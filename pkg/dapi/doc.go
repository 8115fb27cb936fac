// Package dapi implements the distributed API dispatch core: given a
// registered operation, its arguments, an execution policy and the
// cluster topology at call time, it decides where the call must run,
// executes it (locally, forwarded to the master, or fanned out across
// nodes), and folds the heterogeneous per-node outcomes into a single
// response or a single taxonomy error that keeps per-node attribution.
//
// Execution policies:
//
//   - local_any: run on the node that received the call. Any node can
//     answer; no topology lookup happens beyond the local identity.
//   - local_master: run on the master. Workers forward the call and
//     relay the single result unchanged.
//   - distributed_master: the master resolves the effective target set
//     (an explicit node list, or every live node when broadcasting) and
//     issues the call to each target concurrently. Workers forward the
//     whole request to the master first.
//
// Per-node failures never abort sibling executions. They are captured,
// attributed to their node, and deferred to the final fold: all targets
// succeeded yields the success payload, all failed yields one merged
// taxonomy error carrying every node's detail, and a mixed outcome
// yields a partial envelope exposing both maps.
package dapi
